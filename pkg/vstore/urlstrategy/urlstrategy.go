package urlstrategy

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// URLStrategy defines how clients reach uploaded files
type URLStrategy interface {
	// GenerateFileURL creates a URL for reading the blob stored under objectKey
	GenerateFileURL(ctx context.Context, objectKey string) (string, error)
}

// DownloadURLProvider is the part of a blob store the storage-delegated strategy needs
type DownloadURLProvider interface {
	GetDownloadURL(ctx context.Context, objectKey string, downloadFilename string) (string, error)
}

// URLStrategyType represents the type of URL strategy
type URLStrategyType string

const (
	// CDN strategy for direct CDN URLs
	StrategyTypeCDN URLStrategyType = "cdn"

	// Content-based strategy for application-routed URLs
	StrategyTypeContentBased URLStrategyType = "content-based"

	// Storage-delegated strategy, e.g. presigned S3 URLs
	StrategyTypeStorageDelegated URLStrategyType = "storage-delegated"
)

// Config holds configuration for URL strategy creation
type Config struct {
	Type       URLStrategyType
	CDNBaseURL string
	APIBaseURL string
	BlobStore  DownloadURLProvider
}

// NewURLStrategy creates a URL strategy based on the configuration
func NewURLStrategy(config Config) (URLStrategy, error) {
	switch config.Type {
	case StrategyTypeCDN:
		if config.CDNBaseURL == "" {
			return nil, fmt.Errorf("CDN base URL is required for CDN strategy")
		}
		return NewCDNStrategy(config.CDNBaseURL), nil
	case StrategyTypeContentBased, "":
		return NewContentBasedStrategy(config.APIBaseURL), nil
	case StrategyTypeStorageDelegated:
		if config.BlobStore == nil {
			return nil, fmt.Errorf("blob store is required for storage-delegated strategy")
		}
		return NewStorageDelegatedStrategy(config.BlobStore), nil
	default:
		return nil, fmt.Errorf("unknown URL strategy type: %s", config.Type)
	}
}

// CDNStrategy generates URLs that point directly to a CDN in front of the bucket
type CDNStrategy struct {
	CDNBaseURL string
}

func NewCDNStrategy(cdnBaseURL string) *CDNStrategy {
	return &CDNStrategy{CDNBaseURL: strings.TrimSuffix(cdnBaseURL, "/")}
}

func (s *CDNStrategy) GenerateFileURL(ctx context.Context, objectKey string) (string, error) {
	if s.CDNBaseURL == "" {
		return "", fmt.Errorf("CDN base URL not configured")
	}
	return fmt.Sprintf("%s/%s", s.CDNBaseURL, escapeKey(objectKey)), nil
}

// ContentBasedStrategy routes file reads through the application's /files endpoint
type ContentBasedStrategy struct {
	APIBaseURL string
}

func NewContentBasedStrategy(apiBaseURL string) *ContentBasedStrategy {
	return &ContentBasedStrategy{APIBaseURL: strings.TrimSuffix(apiBaseURL, "/")}
}

func (s *ContentBasedStrategy) GenerateFileURL(ctx context.Context, objectKey string) (string, error) {
	return fmt.Sprintf("%s/files/%s", s.APIBaseURL, escapeKey(objectKey)), nil
}

// StorageDelegatedStrategy asks the blob store for a download URL
type StorageDelegatedStrategy struct {
	BlobStore DownloadURLProvider
}

func NewStorageDelegatedStrategy(store DownloadURLProvider) *StorageDelegatedStrategy {
	return &StorageDelegatedStrategy{BlobStore: store}
}

func (s *StorageDelegatedStrategy) GenerateFileURL(ctx context.Context, objectKey string) (string, error) {
	return s.BlobStore.GetDownloadURL(ctx, objectKey, "")
}

func escapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}
