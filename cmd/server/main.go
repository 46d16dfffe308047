package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	apikeyhandler "dataplane/internal/apikey/handler"
	datasethandler "dataplane/internal/dataset/handler"
	jwttoken "dataplane/internal/jwt_token"
	"dataplane/internal/platform/config"
	"dataplane/internal/platform/httpserver"
	"dataplane/internal/platform/logger"
	"dataplane/internal/platform/metrics"
	"dataplane/internal/platform/middleware"
	"dataplane/pkg/platform/httputil"
	"dataplane/pkg/platform/middleware/metadata"
	"dataplane/pkg/platform/middleware/requesttime"
)

const shutdownGrace = 10 * time.Second

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	if err := run(); err != nil {
		slog.Error("dataplane exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildDeps(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	srv := httpserver.New(cfg.Addr, newRouter(cfg, app, log))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.InfoContext(gctx, "starting dataplane", "addr", cfg.Addr)
		return httpserver.Run(gctx, srv, shutdownGrace)
	})
	if app.relay != nil {
		g.Go(func() error {
			log.InfoContext(gctx, "starting audit outbox relay", "topic", cfg.Kafka.AuditTopic)
			if err := app.relay.Run(gctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func newRouter(cfg config.Server, app *deps, log *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer(log))
	r.Use(middleware.Logger(log, metrics.New()))
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)

	r.Get("/healthz", healthHandler(app.health))
	r.Handle("/metrics", promhttp.Handler())

	tokens := jwttoken.NewJWTService(cfg.JWT.SigningKey, cfg.JWT.Issuer)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireActor(tokens, app.apiKeys, log))
		datasethandler.New(app.datasets, app.exporter, log).Register(r)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser)
			apikeyhandler.New(app.apiKeys, log).Register(r)
		})
	})
	return r
}

// healthHandler runs every check and reports 503 if any fails.
func healthHandler(checks map[string]func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := map[string]string{}
		healthy := true
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status[name] = err.Error()
				healthy = false
				continue
			}
			status[name] = "ok"
		}
		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, code, map[string]any{"healthy": healthy, "checks": status})
	}
}
