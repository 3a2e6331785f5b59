package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/Leganyst/appointment-lifecycle/internal/app"
	"github.com/Leganyst/appointment-lifecycle/internal/scheduler"
)

const (
	shutdownTimeout = 30 * time.Second
	healthInterval  = 15 * time.Second
)

type ServeOptions struct {
	*RootOptions
	Migrate bool
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve HTTP triggers, gRPC health and the cron scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, opts.RootOptions, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			if opts.Migrate {
				if err := a.Migrate(ctx); err != nil {
					return err
				}
			}
			return serve(ctx, a)
		},
	}

	cmd.Flags().BoolVar(&opts.Migrate, "migrate", true, "apply migrations on start")
	return cmd
}

func serve(ctx context.Context, a *app.App) error {
	cfg := a.Config
	log := a.Log

	api := a.HTTPServer()
	defer api.Close()
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	reflection.Register(grpcServer)

	var sched *scheduler.Scheduler
	if cfg.Cron.Enabled {
		var err error
		if sched, err = a.Scheduler(); err != nil {
			return err
		}
	}

	grpcLis, err := net.Listen("tcp", cfg.HTTP.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.HTTP.GRPCAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if sched != nil {
		sched.Start()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := sched.Stop(sctx); err != nil {
				log.WithError(err).Warn("scheduler stop")
			}
		}()
	}

	g.Go(func() error {
		log.WithField("addr", cfg.HTTP.Addr).Info("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		log.WithField("addr", cfg.HTTP.GRPCAddr).Info("grpc health server listening")
		if err := grpcServer.Serve(grpcLis); err != nil {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		reportHealth(gctx, a, hs)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		hs.Shutdown()

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(sctx); err != nil {
			log.WithError(err).Warn("http shutdown")
		}
		grpcServer.GracefulStop()
		return nil
	})

	return g.Wait()
}

// reportHealth переводит gRPC health в NOT_SERVING, пока БД недоступна.
func reportHealth(ctx context.Context, a *app.App, hs *health.Server) {
	check := func() {
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		status := healthpb.HealthCheckResponse_SERVING
		if err := a.Ping(pctx); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			a.Log.WithError(err).Warn("database unreachable")
		}
		hs.SetServingStatus("", status)
	}

	check()
	t := time.NewTicker(healthInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			check()
		}
	}
}
