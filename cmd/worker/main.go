package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/tendant/simple-vstore/pkg/vstore/config"
	"github.com/tendant/simple-vstore/pkg/vstore/reaper"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cfg, err := config.Load(config.WithEnv())
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelInfo, TimeFormat: time.DateTime, NoColor: cfg.Environment != "development"}))

	repo, closeRepo, err := cfg.BuildRepository(ctx)
	if err != nil {
		log.Fatalf("open repository: %v", err)
	}
	defer closeRepo()

	redis := asynq.RedisClientOpt{Addr: cfg.RedisAddr}

	if cfg.SweepInterval > 0 {
		scheduler := asynq.NewScheduler(redis, &asynq.SchedulerOpts{Location: time.UTC})
		id, err := reaper.RegisterSchedule(scheduler, cfg.SweepInterval)
		if err != nil {
			log.Fatalf("schedule sweep: %v", err)
		}
		if err := scheduler.Start(); err != nil {
			log.Fatalf("start scheduler: %v", err)
		}
		defer scheduler.Shutdown()
		logger.Info("sweep scheduled", "entry_id", id, "interval", cfg.SweepInterval)
	}

	server := asynq.NewServer(redis, asynq.Config{
		Concurrency: 1,
		Logger:      newAsynqLogger(logger),
	})
	mux := reaper.New(repo, reaper.WithLogger(logger)).Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	if err := server.Run(mux); err != nil {
		logger.Error("worker stopped", "err", err)
		os.Exit(1)
	}
}

// asynqLogger adapts slog to asynq.Logger.
type asynqLogger struct {
	l *slog.Logger
}

func newAsynqLogger(l *slog.Logger) asynq.Logger {
	return asynqLogger{l: l.With("component", "asynq")}
}

func (a asynqLogger) Debug(args ...any) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...any)  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...any)  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...any) { a.l.Error(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...any) {
	a.l.Error(fmt.Sprint(args...))
	os.Exit(1)
}
