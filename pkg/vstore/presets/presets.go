// Package presets provides ready-made service set-ups for common use cases.
package presets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/tendant/simple-vstore/pkg/vstore"
	"github.com/tendant/simple-vstore/pkg/vstore/config"
	memoryrepo "github.com/tendant/simple-vstore/pkg/vstore/repo/memory"
	fsstorage "github.com/tendant/simple-vstore/pkg/vstore/storage/fs"
	memorystorage "github.com/tendant/simple-vstore/pkg/vstore/storage/memory"
)

// NewDevelopment creates a service for local development: an in-memory repository,
// blobs on disk under ./dev-data and lifecycle events logged.
//
// The returned cleanup removes the storage directory.
//
//	svc, cleanup, err := presets.NewDevelopment()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cleanup()
func NewDevelopment(opts ...DevelopmentOption) (vstore.Service, func(), error) {
	cfg := &devConfig{
		storageDir: "./dev-data",
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	fsBackend, err := fsstorage.New(fsstorage.Config{BaseDir: cfg.storageDir})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create filesystem storage: %w", err)
	}

	svc, err := vstore.New(
		vstore.WithRepository(memoryrepo.New()),
		vstore.WithBlobStore(fsBackend),
		vstore.WithLogger(cfg.logger),
		vstore.WithEventSink(vstore.NewLoggingEventSink(cfg.logger)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create service: %w", err)
	}

	cleanup := func() {
		os.RemoveAll(cfg.storageDir)
	}
	return svc, cleanup, nil
}

// NewTesting creates an isolated in-memory service for a test. Options are
// appended after the defaults, so they can replace the clock, TTL or budget.
//
//	func TestMyFeature(t *testing.T) {
//	    svc := presets.NewTesting(t)
//	    ...
//	}
func NewTesting(t testing.TB, opts ...vstore.Option) vstore.Service {
	t.Helper()
	base := []vstore.Option{
		vstore.WithRepository(memoryrepo.New()),
		vstore.WithBlobStore(memorystorage.New()),
		vstore.WithEventSink(vstore.NewNoopEventSink()),
		vstore.WithTemplateCache(0, 0),
	}
	svc, err := vstore.New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("failed to create test service: %v", err)
	}
	return svc
}

// NewProduction builds a service from VSTORE_* environment variables and refuses
// in-memory persistence.
func NewProduction(ctx context.Context, opts ...config.Option) (*config.Stack, error) {
	all := append([]config.Option{config.WithEnvironment("production"), config.WithEventLogging(true), config.WithEnv()}, opts...)
	cfg, err := config.Load(all...)
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseType == "memory" {
		return nil, fmt.Errorf("production preset requires a persistent database (memory not allowed in production)")
	}
	if cfg.StorageBackend == "memory" {
		return nil, fmt.Errorf("production preset requires persistent storage (fs, s3 or minio, not memory)")
	}
	return cfg.Build(ctx)
}

type devConfig struct {
	storageDir string
	logger     *slog.Logger
}

// DevelopmentOption is a functional option for NewDevelopment
type DevelopmentOption func(*devConfig)

// WithDevStorage sets the development storage directory
func WithDevStorage(dir string) DevelopmentOption {
	return func(cfg *devConfig) {
		cfg.storageDir = dir
	}
}

// WithDevLogger sets the logger for the service and its events
func WithDevLogger(logger *slog.Logger) DevelopmentOption {
	return func(cfg *devConfig) {
		cfg.logger = logger
	}
}
