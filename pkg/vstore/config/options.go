package config

import (
	"fmt"
	"time"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithBaseURL sets the public URL prefix of upload and file links.
func WithBaseURL(baseURL string) Option {
	return func(c *ServerConfig) error {
		c.BaseURL = baseURL
		return nil
	}
}

// WithDatabase configures the database backend. url is a postgres connection
// string or, for sqlite, a file path.
func WithDatabase(dbType, url string) Option {
	return func(c *ServerConfig) error {
		switch dbType {
		case "memory":
		case "postgres", "sqlite":
			if url == "" {
				return fmt.Errorf("database URL is required for %s", dbType)
			}
		default:
			return fmt.Errorf("database type must be 'memory', 'postgres' or 'sqlite', got: %s", dbType)
		}
		c.DatabaseType = dbType
		c.DatabaseURL = url
		return nil
	}
}

// WithDatabaseSchema sets the database schema (for Postgres)
func WithDatabaseSchema(schema string) Option {
	return func(c *ServerConfig) error {
		c.DBSchema = schema
		return nil
	}
}

// WithAutoMigrate toggles applying migrations when the repository is opened.
func WithAutoMigrate(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.AutoMigrate = enabled
		return nil
	}
}

// WithStorageBackend selects the blob store by type: memory, fs, s3 or minio.
// The backend's own settings come from WithFilesystemStorage, WithS3Storage,
// WithMinioStorage or the environment.
func WithStorageBackend(backend string) Option {
	return func(c *ServerConfig) error {
		switch backend {
		case "memory", "fs", "s3", "minio":
		default:
			return fmt.Errorf("unsupported storage backend: %s", backend)
		}
		c.StorageBackend = backend
		return nil
	}
}

// WithFilesystemStorage stores blobs under baseDir.
func WithFilesystemStorage(baseDir, urlPrefix string) Option {
	return func(c *ServerConfig) error {
		if baseDir == "" {
			return fmt.Errorf("filesystem base directory cannot be empty")
		}
		c.StorageBackend = "fs"
		c.Filesystem = FSConfig{BaseDir: baseDir, URLPrefix: urlPrefix}
		return nil
	}
}

// WithS3Storage stores blobs in an S3 bucket.
func WithS3Storage(cfg S3Config) Option {
	return func(c *ServerConfig) error {
		if cfg.Bucket == "" {
			return fmt.Errorf("s3 bucket cannot be empty")
		}
		c.StorageBackend = "s3"
		c.S3 = cfg
		return nil
	}
}

// WithMinioStorage stores blobs in a MinIO bucket.
func WithMinioStorage(cfg MinioConfig) Option {
	return func(c *ServerConfig) error {
		if cfg.Endpoint == "" || cfg.Bucket == "" {
			return fmt.Errorf("minio endpoint and bucket cannot be empty")
		}
		c.StorageBackend = "minio"
		c.Minio = cfg
		return nil
	}
}

// WithURLStrategy selects how file links are built. cdnBaseURL is only read by "cdn".
func WithURLStrategy(strategy, cdnBaseURL string) Option {
	return func(c *ServerConfig) error {
		c.URLStrategy = strategy
		c.CDNBaseURL = cdnBaseURL
		return nil
	}
}

func WithKeyGenerator(name string) Option {
	return func(c *ServerConfig) error {
		c.KeyGenerator = name
		return nil
	}
}

// WithSessionTTL sets how long upload sessions stay usable.
func WithSessionTTL(ttl time.Duration) Option {
	return func(c *ServerConfig) error {
		if ttl <= 0 {
			return fmt.Errorf("session ttl must be positive, got %s", ttl)
		}
		c.SessionTTL = ttl
		return nil
	}
}

func WithPartSize(size int64) Option {
	return func(c *ServerConfig) error {
		if size <= 0 {
			return fmt.Errorf("part size must be positive, got %d", size)
		}
		c.PartSize = size
		return nil
	}
}

// WithMemoryBudget sets the bytes shared by concurrent preview renders.
func WithMemoryBudget(bytes int64) Option {
	return func(c *ServerConfig) error {
		if bytes <= 0 {
			return fmt.Errorf("memory budget must be positive, got %d", bytes)
		}
		c.MemoryBudget = bytes
		return nil
	}
}

// WithValidationPolicy sets "aggregate" or "failfast" reporting for object validation.
func WithValidationPolicy(policy string) Option {
	return func(c *ServerConfig) error {
		c.ValidationPolicy = policy
		return nil
	}
}

func WithTemplateCache(size int, ttl time.Duration) Option {
	return func(c *ServerConfig) error {
		c.TemplateCacheSize = size
		c.TemplateCacheTTL = ttl
		return nil
	}
}

// WithSweep configures the expired session sweep and the redis queue it can run on.
func WithSweep(interval time.Duration, redisAddr string) Option {
	return func(c *ServerConfig) error {
		c.SweepInterval = interval
		if redisAddr != "" {
			c.RedisAddr = redisAddr
		}
		return nil
	}
}

// WithEventLogging toggles logging of lifecycle events
func WithEventLogging(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.EnableEventLogging = enabled
		return nil
	}
}
