package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tendant/simple-vstore/pkg/vstore/api"
	"github.com/tendant/simple-vstore/pkg/vstore/config"
	"github.com/tendant/simple-vstore/pkg/vstore/reaper"
)

func main() {
	configFile := flag.String("config", os.Getenv("VSTORE_CONFIG_FILE"), "optional YAML config file")
	sweep := flag.Bool("sweep", true, "sweep expired sessions in-process (disable when cmd/worker runs the schedule)")
	flag.Parse()

	_ = godotenv.Load()

	var opts []config.Option
	if *configFile != "" {
		opts = append(opts, config.WithConfigFile(*configFile))
	}
	cfg, err := config.Load(append(opts, config.WithEnv())...)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := newLogger(cfg.Environment)
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stack, err := cfg.Build(ctx, config.WithLogger(logger), config.WithRegistry(reg))
	if err != nil {
		log.Fatalf("Failed to build service: %v", err)
	}
	defer stack.Close()

	if *sweep && cfg.SweepInterval > 0 {
		r := reaper.New(stack.Repository, reaper.WithMetrics(stack.Metrics), reaper.WithLogger(logger))
		go r.Run(ctx, cfg.SweepInterval)
	}

	handler := api.NewHandler(stack.Service,
		api.WithLogger(logger),
		api.WithRetryAfter(cfg.RetryAfter),
		api.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})),
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(httplog.NewLogger("vstore", httplog.Options{
		JSON:            cfg.Environment != "development",
		LogLevel:        slog.LevelInfo,
		Concise:         true,
		QuietDownRoutes: []string{"/health", "/metrics"},
		QuietDownPeriod: time.Minute,
	})))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "If-Match", api.HeaderFileType, api.HeaderImageSize},
		ExposedHeaders: []string{"ETag", "Location", "Retry-After"},
		MaxAge:         300,
	}))
	r.Mount("/", handler.Routes())

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting server", "addr", server.Addr, "environment", cfg.Environment,
			"database", cfg.DatabaseType, "storage", cfg.StorageBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	logger.Info("server exited")
}

func newLogger(environment string) *slog.Logger {
	if environment == "development" {
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.Kitchen,
		}))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
