// Package config loads server settings from defaults, options, environment and YAML,
// and wires a vstore.Service from them.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tendant/simple-vstore/pkg/vstore"
	"github.com/tendant/simple-vstore/pkg/vstore/admission"
	"github.com/tendant/simple-vstore/pkg/vstore/metrics"
	"github.com/tendant/simple-vstore/pkg/vstore/objectkey"
	memoryrepo "github.com/tendant/simple-vstore/pkg/vstore/repo/memory"
	repopg "github.com/tendant/simple-vstore/pkg/vstore/repo/postgres"
	"github.com/tendant/simple-vstore/pkg/vstore/repo/sqlite"
	fsstorage "github.com/tendant/simple-vstore/pkg/vstore/storage/fs"
	memorystorage "github.com/tendant/simple-vstore/pkg/vstore/storage/memory"
	miniostorage "github.com/tendant/simple-vstore/pkg/vstore/storage/minio"
	s3storage "github.com/tendant/simple-vstore/pkg/vstore/storage/s3"
	"github.com/tendant/simple-vstore/pkg/vstore/urlstrategy"
	"github.com/tendant/simple-vstore/pkg/vstore/validation"
)

// ServerConfig represents server-level configuration for a vstore deployment.
type ServerConfig struct {
	Port        string `yaml:"port" env:"VSTORE_PORT" env-description:"HTTP listen port" validate:"required,numeric"`
	Environment string `yaml:"environment" env:"VSTORE_ENVIRONMENT" env-description:"development, testing or production" validate:"oneof=development testing production"`
	BaseURL     string `yaml:"base_url" env:"VSTORE_BASE_URL" env-description:"public base URL used in upload and file links"`

	DatabaseType string `yaml:"database_type" env:"VSTORE_DATABASE_TYPE" env-description:"memory, postgres or sqlite" validate:"oneof=memory postgres sqlite"`
	DatabaseURL  string `yaml:"database_url" env:"VSTORE_DATABASE_URL" env-description:"postgres URL or sqlite file path"`
	DBSchema     string `yaml:"db_schema" env:"VSTORE_DB_SCHEMA" env-description:"postgres search_path"`
	AutoMigrate  bool   `yaml:"auto_migrate" env:"VSTORE_AUTO_MIGRATE" env-description:"apply migrations on startup"`

	StorageBackend string        `yaml:"storage_backend" env:"VSTORE_STORAGE_BACKEND" env-description:"memory, fs, s3 or minio" validate:"oneof=memory fs s3 minio"`
	Filesystem     FSConfig      `yaml:"fs"`
	S3             S3Config      `yaml:"s3"`
	Minio          MinioConfig   `yaml:"minio"`
	URLStrategy    string        `yaml:"url_strategy" env:"VSTORE_URL_STRATEGY" env-description:"content-based, cdn or storage-delegated" validate:"oneof=content-based cdn storage-delegated"`
	CDNBaseURL     string        `yaml:"cdn_base_url" env:"VSTORE_CDN_BASE_URL"`
	KeyGenerator   string        `yaml:"key_generator" env:"VSTORE_KEY_GENERATOR" env-description:"session or git-like" validate:"oneof=session git-like"`
	SessionTTL     time.Duration `yaml:"session_ttl" env:"VSTORE_SESSION_TTL" validate:"gt=0"`
	PartSize       int64         `yaml:"part_size" env:"VSTORE_PART_SIZE" env-description:"bytes per multipart part" validate:"gt=0"`
	MemoryBudget   int64         `yaml:"memory_budget" env:"VSTORE_MEMORY_BUDGET" env-description:"bytes available to concurrent previews" validate:"gt=0"`
	RetryAfter     time.Duration `yaml:"retry_after" env:"VSTORE_RETRY_AFTER" env-description:"Retry-After sent when previews are throttled" validate:"gte=0"`

	ValidationPolicy  string        `yaml:"validation_policy" env:"VSTORE_VALIDATION_POLICY" validate:"oneof=aggregate failfast fail-fast"`
	TemplateCacheSize int           `yaml:"template_cache_size" env:"VSTORE_TEMPLATE_CACHE_SIZE" validate:"gte=0"`
	TemplateCacheTTL  time.Duration `yaml:"template_cache_ttl" env:"VSTORE_TEMPLATE_CACHE_TTL" validate:"gte=0"`

	SweepInterval      time.Duration `yaml:"sweep_interval" env:"VSTORE_SWEEP_INTERVAL" env-description:"expired session sweep period, 0 disables" validate:"gte=0"`
	RedisAddr          string        `yaml:"redis_addr" env:"VSTORE_REDIS_ADDR" env-description:"redis address for the sweep queue"`
	EnableEventLogging bool          `yaml:"enable_event_logging" env:"VSTORE_ENABLE_EVENT_LOGGING"`
}

// FSConfig configures the filesystem blob store.
type FSConfig struct {
	BaseDir   string `yaml:"base_dir" env:"VSTORE_FS_BASE_DIR"`
	URLPrefix string `yaml:"url_prefix" env:"VSTORE_FS_URL_PREFIX"`
}

// S3Config configures the S3 blob store.
type S3Config struct {
	Region          string `yaml:"region" env:"VSTORE_S3_REGION"`
	Bucket          string `yaml:"bucket" env:"VSTORE_S3_BUCKET"`
	AccessKeyID     string `yaml:"access_key_id" env:"VSTORE_S3_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"VSTORE_S3_SECRET_ACCESS_KEY"`
	Endpoint        string `yaml:"endpoint" env:"VSTORE_S3_ENDPOINT"`
	UsePathStyle    bool   `yaml:"use_path_style" env:"VSTORE_S3_USE_PATH_STYLE"`
	CreateBucket    bool   `yaml:"create_bucket" env:"VSTORE_S3_CREATE_BUCKET"`
}

// MinioConfig configures the MinIO blob store.
type MinioConfig struct {
	Endpoint        string `yaml:"endpoint" env:"VSTORE_MINIO_ENDPOINT"`
	Bucket          string `yaml:"bucket" env:"VSTORE_MINIO_BUCKET"`
	AccessKeyID     string `yaml:"access_key_id" env:"VSTORE_MINIO_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"VSTORE_MINIO_SECRET_ACCESS_KEY"`
	Region          string `yaml:"region" env:"VSTORE_MINIO_REGION"`
	UseSSL          bool   `yaml:"use_ssl" env:"VSTORE_MINIO_USE_SSL"`
	CreateBucket    bool   `yaml:"create_bucket" env:"VSTORE_MINIO_CREATE_BUCKET"`
}

// Option configures a ServerConfig.
type Option func(*ServerConfig) error

var validate = validator.New()

func defaults() *ServerConfig {
	return &ServerConfig{
		Port:              "8080",
		Environment:       "development",
		DatabaseType:      "memory",
		AutoMigrate:       true,
		StorageBackend:    "memory",
		URLStrategy:       string(urlstrategy.StrategyTypeContentBased),
		KeyGenerator:      "session",
		SessionTTL:        vstore.DefaultSessionTTL,
		PartSize:          vstore.DefaultPartSize,
		MemoryBudget:      vstore.DefaultMemoryBudget,
		RetryAfter:        5 * time.Second,
		ValidationPolicy:  "aggregate",
		TemplateCacheSize: vstore.DefaultTemplateCacheSize,
		TemplateCacheTTL:  vstore.DefaultTemplateCacheTTL,
		SweepInterval:     10 * time.Minute,
		RedisAddr:         "localhost:6379",
	}
}

// Load builds a ServerConfig from defaults, then applies options in order and validates.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field ranges and the settings each backend requires.
func (c *ServerConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("invalid %s: failed %q check", f.Namespace(), f.Tag())
		}
		return err
	}
	switch c.DatabaseType {
	case "postgres", "sqlite":
		if c.DatabaseURL == "" {
			return fmt.Errorf("database_url is required for %s", c.DatabaseType)
		}
	}
	switch c.StorageBackend {
	case "fs":
		if c.Filesystem.BaseDir == "" {
			return errors.New("fs.base_dir is required for the fs storage backend")
		}
	case "s3":
		if c.S3.Bucket == "" {
			return errors.New("s3.bucket is required for the s3 storage backend")
		}
	case "minio":
		if c.Minio.Endpoint == "" || c.Minio.Bucket == "" {
			return errors.New("minio.endpoint and minio.bucket are required for the minio storage backend")
		}
	}
	if c.URLStrategy == string(urlstrategy.StrategyTypeCDN) && c.CDNBaseURL == "" {
		return errors.New("cdn_base_url is required for the cdn url strategy")
	}
	return nil
}

// Stack is a wired service together with the resources it holds.
type Stack struct {
	Service    vstore.Service
	Repository vstore.Repository
	BlobStore  vstore.BlobStore
	Budget     *admission.MemoryBudget
	Metrics    *metrics.Metrics

	closers []func()
}

// Close releases database pools and files opened by Build.
func (s *Stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// BuildOption adjusts what Build wires beyond the configuration.
type BuildOption func(*buildOptions)

type buildOptions struct {
	logger   *slog.Logger
	registry prometheus.Registerer
	extra    []vstore.Option
}

// WithLogger sets the logger handed to the service and its event sink.
func WithLogger(logger *slog.Logger) BuildOption {
	return func(o *buildOptions) { o.logger = logger }
}

// WithRegistry registers service metrics with reg.
func WithRegistry(reg prometheus.Registerer) BuildOption {
	return func(o *buildOptions) { o.registry = reg }
}

// WithServiceOptions appends raw service options after the configured ones.
func WithServiceOptions(opts ...vstore.Option) BuildOption {
	return func(o *buildOptions) { o.extra = append(o.extra, opts...) }
}

// Build constructs the repository, blob store and service described by the config.
func (c *ServerConfig) Build(ctx context.Context, opts ...BuildOption) (*Stack, error) {
	bo := buildOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&bo)
	}

	stack := &Stack{}
	repo, closeRepo, err := c.BuildRepository(ctx)
	if err != nil {
		return nil, err
	}
	stack.Repository = repo
	stack.closers = append(stack.closers, closeRepo)

	blobs, err := c.BuildBlobStore(ctx)
	if err != nil {
		stack.Close()
		return nil, err
	}
	stack.BlobStore = blobs

	urls, err := c.buildURLStrategy(blobs)
	if err != nil {
		stack.Close()
		return nil, err
	}
	keys, err := objectkey.New(c.KeyGenerator)
	if err != nil {
		stack.Close()
		return nil, err
	}
	policy, err := validation.ParsePolicy(c.ValidationPolicy)
	if err != nil {
		stack.Close()
		return nil, err
	}

	stack.Budget = admission.NewMemoryBudget(c.MemoryBudget)
	if bo.registry != nil {
		stack.Metrics = metrics.New(bo.registry)
		stack.Metrics.RegisterBudget(stack.Budget)
	}

	sink := vstore.NewNoopEventSink()
	if c.EnableEventLogging {
		sink = vstore.NewLoggingEventSink(bo.logger)
	}

	baseURL := strings.TrimRight(c.BaseURL, "/")
	svcOpts := []vstore.Option{
		vstore.WithRepository(repo),
		vstore.WithBlobStore(blobs),
		vstore.WithURLStrategy(urls),
		vstore.WithKeyGenerator(keys),
		vstore.WithValidationPolicy(policy),
		vstore.WithMemoryBudget(stack.Budget),
		vstore.WithMetrics(stack.Metrics),
		vstore.WithEventSink(sink),
		vstore.WithLogger(bo.logger),
		vstore.WithSessionTTL(c.SessionTTL),
		vstore.WithPartSize(c.PartSize),
		vstore.WithTemplateCache(c.TemplateCacheSize, c.TemplateCacheTTL),
		vstore.WithUploadURLBuilder(func(sessionID uuid.UUID, templateCode int) string {
			return fmt.Sprintf("%s/session/%s/upload/%d", baseURL, sessionID, templateCode)
		}),
	}
	svc, err := vstore.New(append(svcOpts, bo.extra...)...)
	if err != nil {
		stack.Close()
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	stack.Service = svc
	return stack, nil
}

// BuildService is Build for callers that only need the service.
func (c *ServerConfig) BuildService(ctx context.Context, opts ...BuildOption) (vstore.Service, error) {
	stack, err := c.Build(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return stack.Service, nil
}

// BuildRepository opens the configured repository, migrating it when AutoMigrate is set.
// The returned func releases it.
func (c *ServerConfig) BuildRepository(ctx context.Context) (vstore.Repository, func(), error) {
	switch c.DatabaseType {
	case "memory":
		return memoryrepo.New(), func() {}, nil
	case "sqlite":
		repo, err := sqlite.Open(ctx, c.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { _ = repo.Close() }, nil
	case "postgres":
		pool, err := c.OpenPostgres(ctx)
		if err != nil {
			return nil, nil, err
		}
		if c.AutoMigrate {
			if err := repopg.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		return repopg.NewWithPool(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

// OpenPostgres creates a pool that sets search_path on each connection when DBSchema is set.
func (c *ServerConfig) OpenPostgres(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(c.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if schema := c.DBSchema; schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	return pool, nil
}

// BuildBlobStore creates the configured blob store.
func (c *ServerConfig) BuildBlobStore(ctx context.Context) (vstore.BlobStore, error) {
	switch c.StorageBackend {
	case "memory":
		return memorystorage.New(), nil
	case "fs":
		return fsstorage.New(fsstorage.Config{
			BaseDir:   c.Filesystem.BaseDir,
			URLPrefix: c.Filesystem.URLPrefix,
		})
	case "s3":
		return s3storage.New(s3storage.Config{
			Region:                 c.S3.Region,
			Bucket:                 c.S3.Bucket,
			AccessKeyID:            c.S3.AccessKeyID,
			SecretAccessKey:        c.S3.SecretAccessKey,
			Endpoint:               c.S3.Endpoint,
			UsePathStyle:           c.S3.UsePathStyle,
			CreateBucketIfNotExist: c.S3.CreateBucket,
		})
	case "minio":
		return miniostorage.New(ctx, miniostorage.Config{
			Endpoint:               c.Minio.Endpoint,
			Bucket:                 c.Minio.Bucket,
			AccessKeyID:            c.Minio.AccessKeyID,
			SecretAccessKey:        c.Minio.SecretAccessKey,
			Region:                 c.Minio.Region,
			UseSSL:                 c.Minio.UseSSL,
			CreateBucketIfNotExist: c.Minio.CreateBucket,
		})
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", c.StorageBackend)
	}
}

func (c *ServerConfig) buildURLStrategy(blobs vstore.BlobStore) (urlstrategy.URLStrategy, error) {
	cfg := urlstrategy.Config{
		Type:       urlstrategy.URLStrategyType(c.URLStrategy),
		CDNBaseURL: c.CDNBaseURL,
		APIBaseURL: c.BaseURL,
	}
	if p, ok := blobs.(urlstrategy.DownloadURLProvider); ok {
		cfg.BlobStore = p
	}
	return urlstrategy.NewURLStrategy(cfg)
}
