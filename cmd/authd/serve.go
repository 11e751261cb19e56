package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"google.golang.org/grpc"

	"qazna.org/authcore/internal/audit"
	"qazna.org/authcore/internal/auth"
	"qazna.org/authcore/internal/config"
	"qazna.org/authcore/internal/httpapi"
	"qazna.org/authcore/internal/obs"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API (and the gRPC health endpoint when configured)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return oops.Code("CONFIG_INVALID").Wrap(err)
			}
			if err := cfg.Validate(); err != nil {
				return oops.Code("CONFIG_INVALID").Wrap(err)
			}
			logger := obs.NewLogger(cmd.ErrOrStderr(), cfg.Log.Level)
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := runServe(ctx, cfg, logger); err != nil {
				obs.LogError(logger, "serve failed", err)
				return err
			}
			return nil
		},
	}
}

func runServe(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	obs.SetBuildInfo(version, commit)

	store, ready, cleanup, err := serviceStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	codecCfg, err := cfg.CodecConfig()
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}
	codec, err := auth.NewCodec(codecCfg)
	if err != nil {
		return oops.Code("CONFIG_INVALID").With("operation", "build token codec").Wrap(err)
	}
	svc, err := auth.NewService(store, codec, auth.WithTracer(otel.Tracer("qazna.org/authcore")))
	if err != nil {
		return oops.Code("SERVICE_INIT_FAILED").Wrap(err)
	}

	sameSite, _ := cfg.Cookies.Mode()
	api, err := httpapi.New(svc, httpapi.Options{
		Logger:  logger,
		Audit:   audit.New(logger),
		Ready:   ready,
		Version: version,
		Cookies: httpapi.CookieConfig{
			Domain:   cfg.Cookies.Domain,
			Secure:   cfg.Cookies.Secure,
			SameSite: sameSite,
		},
		CORSOrigins:  cfg.HTTP.CORSOrigins,
		RateBurst:    cfg.HTTP.RateBurst,
		RatePerSec:   cfg.HTTP.RatePerSec,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
	})
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	errChan := make(chan error, 2)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr, "version", version, "alg", codec.Algorithm())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	var (
		grpcServer *grpc.Server
		health     *httpapi.HealthServer
	)
	if cfg.GRPC.Addr != "" {
		listener, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			_ = srv.Close()
			return oops.Code("LISTEN_FAILED").With("addr", cfg.GRPC.Addr).Wrap(err)
		}
		health = httpapi.NewHealthServer(ready, logger)
		grpcServer = httpapi.NewGRPCServer(health)
		go health.Run(ctx, cfg.GRPC.ProbeInterval)
		go func() {
			logger.Info("grpc health server listening", "addr", cfg.GRPC.Addr)
			if err := grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errChan <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errChan:
		logger.Error("server failed, shutting down", "error", err)
		shutdown(srv, grpcServer, health, cfg, logger)
		return err
	}
	shutdown(srv, grpcServer, health, cfg, logger)
	return nil
}

func shutdown(srv *http.Server, grpcServer *grpc.Server, health *httpapi.HealthServer, cfg config.Config, logger *slog.Logger) {
	if health != nil {
		health.Shutdown()
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("error stopping http server", "error", err)
	}
	logger.Info("shutdown complete")
}
