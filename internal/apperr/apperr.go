// Package apperr классифицирует ошибки движка: вызывающий код по Kind решает,
// какой HTTP-статус отдать и стоит ли повторять.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthorization
	KindNotFound
	KindConflict
	KindUpstream
	KindConsistency
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUpstream:
		return "upstream"
	case KindConsistency:
		return "consistency"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

// HTTPStatus: статус ответа для класса ошибки.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	if e.Msg == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Msg, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func Validation(msg string) error { return New(KindValidation, msg) }

func NotFound(msg string, err error) error { return Wrap(KindNotFound, msg, err) }

func Internal(msg string, err error) error { return Wrap(KindInternal, msg, err) }

func Forbidden(msg string) error { return New(KindForbidden, msg) }

// PublicMessage: текст для ответа клиенту. У серверных классов причина
// из цепочки наружу не отдаётся, только Msg верхнего уровня.
func PublicMessage(err error) string {
	kind := KindOf(err)
	if kind.HTTPStatus() < http.StatusInternalServerError {
		return err.Error()
	}
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return http.StatusText(kind.HTTPStatus())
}

// KindOf достаёт класс из цепочки; неизвестные ошибки считаются internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus: короткий путь для хендлеров.
func HTTPStatus(err error) int {
	return KindOf(err).HTTPStatus()
}
