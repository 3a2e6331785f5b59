package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/Leganyst/appointment-lifecycle/internal/apperr"
)

const (
	webhookSecretHeader = "X-Webhook-Secret"
	adminRole           = "admin"
)

var (
	errSecretNotConfigured = errors.New("server secret is not configured")
	errUnauthorized        = apperr.New(apperr.KindAuthorization, "unauthorized")
)

func secretsEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// bearerSecret: Authorization: Bearer <secret>. Пустой секрет на сервере, 500,
// чтобы незаданная переменная не открывала ручки.
func bearerSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: errSecretNotConfigured.Error(), Kind: apperr.KindInternal.String()})
				return
			}
			token, ok := bearerToken(r)
			if !ok || !secretsEqual(token, secret) {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: errUnauthorized.Error(), Kind: apperr.KindAuthorization.String()})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func headerSecret(header, secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: errSecretNotConfigured.Error(), Kind: apperr.KindInternal.String()})
				return
			}
			if !secretsEqual(r.Header.Get(header), secret) {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: errUnauthorized.Error(), Kind: apperr.KindAuthorization.String()})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Claims: токен администратора (role=admin) или пользователя (sub = id профиля).
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func parseToken(raw, secret string) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	c, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, errUnauthorized
	}
	return c, nil
}

func adminJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: errSecretNotConfigured.Error(), Kind: apperr.KindInternal.String()})
				return
			}
			raw, ok := bearerToken(r)
			if !ok {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: errUnauthorized.Error(), Kind: apperr.KindAuthorization.String()})
				return
			}
			claims, err := parseToken(raw, secret)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: errUnauthorized.Error(), Kind: apperr.KindAuthorization.String()})
				return
			}
			if claims.Role != adminRole {
				writeJSON(w, http.StatusForbidden, errorBody{Error: "admin role required", Kind: apperr.KindForbidden.String()})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// caller: кто вызывает пользовательскую ручку.
type caller struct {
	UserID uuid.UUID
	Admin  bool
}

type callerKey struct{}

func callerFrom(r *http.Request) caller {
	c, _ := r.Context().Value(callerKey{}).(caller)
	return c
}

// actsFor: пользователь работает только со своими данными, администратор со всеми.
func (c caller) actsFor(userID uuid.UUID) error {
	if c.Admin || (c.UserID != uuid.Nil && c.UserID == userID) {
		return nil
	}
	return apperr.Forbidden("token does not grant access to this user")
}

func authenticate(raw, userSecret, adminSecret string) (caller, bool) {
	if adminSecret != "" {
		if claims, err := parseToken(raw, adminSecret); err == nil && claims.Role == adminRole {
			return caller{Admin: true}, true
		}
	}
	if userSecret == "" {
		return caller{}, false
	}
	claims, err := parseToken(raw, userSecret)
	if err != nil {
		return caller{}, false
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil || id == uuid.Nil {
		return caller{}, false
	}
	return caller{UserID: id}, true
}

// userJWT: Bearer-токен пользователя (USER_JWT_SECRET, sub = id) или администратора.
// Вызывающий кладётся в контекст; права на конкретный ресурс проверяет хендлер.
func userJWT(userSecret, adminSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userSecret == "" && adminSecret == "" {
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: errSecretNotConfigured.Error(), Kind: apperr.KindInternal.String()})
				return
			}
			raw, ok := bearerToken(r)
			if !ok {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: errUnauthorized.Error(), Kind: apperr.KindAuthorization.String()})
				return
			}
			c, ok := authenticate(raw, userSecret, adminSecret)
			if !ok {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: errUnauthorized.Error(), Kind: apperr.KindAuthorization.String()})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, c)))
		})
	}
}

// ipLimiter: лимит запросов на IP для публичного триггера.
type ipLimiter struct {
	mu      sync.Mutex
	clients map[string]*limitedClient
	r       rate.Limit
	burst   int
	stop    chan struct{}
	once    sync.Once
}

type limitedClient struct {
	lim  *rate.Limiter
	seen time.Time
}

func newIPLimiter(rps float64, burst int) *ipLimiter {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 1
	}
	l := &ipLimiter{
		clients: make(map[string]*limitedClient),
		r:       rate.Limit(rps),
		burst:   burst,
		stop:    make(chan struct{}),
	}
	go l.cleanup(time.Minute, 3*time.Minute)
	return l
}

func (l *ipLimiter) cleanup(every, idle time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-t.C:
			l.mu.Lock()
			for ip, c := range l.clients {
				if time.Since(c.seen) > idle {
					delete(l.clients, ip)
				}
			}
			l.mu.Unlock()
		}
	}
}

func (l *ipLimiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

func (l *ipLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.clients[ip]; ok {
		c.seen = time.Now()
		return c.lim
	}
	lim := rate.NewLimiter(l.r, l.burst)
	l.clients[ip] = &limitedClient{lim: lim, seen: time.Now()}
	return lim
}

func (l *ipLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.get(clientIP(r)).Allow() {
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many requests", Kind: "rate_limited"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr == "" {
		return "unknown"
	}
	return r.RemoteAddr
}

func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			entry := log.WithFields(logrus.Fields{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"duration":   time.Since(started).String(),
				"remote":     clientIP(r),
			})
			if ww.Status() >= http.StatusInternalServerError {
				entry.Warn("request")
				return
			}
			entry.Debug("request")
		})
	}
}
