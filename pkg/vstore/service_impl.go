package vstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/tendant/simple-vstore/pkg/vstore/admission"
	"github.com/tendant/simple-vstore/pkg/vstore/descriptors"
	"github.com/tendant/simple-vstore/pkg/vstore/metrics"
	"github.com/tendant/simple-vstore/pkg/vstore/objectkey"
	"github.com/tendant/simple-vstore/pkg/vstore/urlstrategy"
	"github.com/tendant/simple-vstore/pkg/vstore/validation"
)

// Defaults used when the corresponding option is not given.
const (
	DefaultSessionTTL        = 24 * time.Hour
	DefaultPartSize          = 5 << 20
	DefaultMemoryBudget      = 256 << 20
	DefaultTemplateCacheSize = 1024
	DefaultTemplateCacheTTL  = 10 * time.Minute
	defaultCleanupTimeout    = 30 * time.Second
)

// service implements the Service interface
type service struct {
	repository Repository
	blobStore  BlobStore
	eventSink  EventSink
	logger     *slog.Logger
	metrics    *metrics.Metrics

	now            func() time.Time
	sessionTTL     time.Duration
	partSize       int64
	cleanupTimeout time.Duration
	policy         validation.Policy

	budget    *admission.MemoryBudget
	keys      objectkey.Generator
	urls      urlstrategy.URLStrategy
	uploadURL func(sessionID uuid.UUID, templateCode int) string

	templateCacheSize int
	templateCacheTTL  time.Duration
	templates         *expirable.LRU[string, *descriptors.TemplateDescriptor]
	validate          *validator.Validate
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the repository for the service
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithBlobStore sets the blob store uploads are streamed into
func WithBlobStore(store BlobStore) Option {
	return func(s *service) {
		s.blobStore = store
	}
}

// WithEventSink sets the event sink for the service
func WithEventSink(sink EventSink) Option {
	return func(s *service) {
		s.eventSink = sink
	}
}

// WithLogger sets the logger for the service
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithMetrics records service activity in m
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *service) {
		s.metrics = m
	}
}

// WithClock replaces time.Now, mostly for tests
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// WithSessionTTL sets how long a session accepts uploads
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *service) {
		s.sessionTTL = ttl
	}
}

// WithPartSize sets the size of blob store parts. S3 requires at least 5 MiB for all
// but the last part.
func WithPartSize(size int64) Option {
	return func(s *service) {
		s.partSize = size
	}
}

// WithMemoryBudget injects the budget previews reserve memory from
func WithMemoryBudget(budget *admission.MemoryBudget) Option {
	return func(s *service) {
		s.budget = budget
	}
}

// WithValidationPolicy sets how commit-time validation reports violations
func WithValidationPolicy(policy validation.Policy) Option {
	return func(s *service) {
		s.policy = policy
	}
}

// WithKeyGenerator sets the blob key generator
func WithKeyGenerator(gen objectkey.Generator) Option {
	return func(s *service) {
		s.keys = gen
	}
}

// WithURLStrategy sets how file and variant URLs are built
func WithURLStrategy(strategy urlstrategy.URLStrategy) Option {
	return func(s *service) {
		s.urls = strategy
	}
}

// WithUploadURLBuilder sets how Setup advertises upload URLs
func WithUploadURLBuilder(fn func(sessionID uuid.UUID, templateCode int) string) Option {
	return func(s *service) {
		s.uploadURL = fn
	}
}

// WithTemplateCache sets the size and ttl of the pinned template version cache
func WithTemplateCache(size int, ttl time.Duration) Option {
	return func(s *service) {
		s.templateCacheSize = size
		s.templateCacheTTL = ttl
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		now:               time.Now,
		sessionTTL:        DefaultSessionTTL,
		partSize:          DefaultPartSize,
		cleanupTimeout:    defaultCleanupTimeout,
		templateCacheSize: DefaultTemplateCacheSize,
		templateCacheTTL:  DefaultTemplateCacheTTL,
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.blobStore == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if s.partSize <= 0 {
		return nil, fmt.Errorf("part size must be positive")
	}
	if s.sessionTTL <= 0 {
		return nil, fmt.Errorf("session ttl must be positive")
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.eventSink == nil {
		s.eventSink = NewNoopEventSink()
	}
	if s.budget == nil {
		s.budget = admission.NewMemoryBudget(DefaultMemoryBudget)
	}
	if s.keys == nil {
		s.keys = objectkey.NewRecommendedGenerator()
	}
	if s.urls == nil {
		s.urls = urlstrategy.NewContentBasedStrategy("")
	}
	if s.uploadURL == nil {
		s.uploadURL = func(sessionID uuid.UUID, templateCode int) string {
			return fmt.Sprintf("/session/%s/upload/%d", sessionID, templateCode)
		}
	}
	if s.templateCacheSize > 0 {
		s.templates = expirable.NewLRU[string, *descriptors.TemplateDescriptor](s.templateCacheSize, nil, s.templateCacheTTL)
	}
	s.validate = validator.New()

	return s, nil
}

// cleanupContext detaches cleanup work from a canceled request.
func (s *service) cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cleanupTimeout)
}
