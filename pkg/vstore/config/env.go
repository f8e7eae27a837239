package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// WithEnv overrides fields from VSTORE_* environment variables. Unset variables
// leave the current value alone.
//
// Two shorthand variables are understood on top of the per-field ones:
//
//	VSTORE_DATABASE_URL  - a postgres:// URL selects postgres, a sqlite:// URL or
//	                       a *.db path selects sqlite, "memory" selects memory,
//	                       unless VSTORE_DATABASE_TYPE is set explicitly
//	VSTORE_STORAGE_URL   - memory://, file:///path, s3://bucket?region=...,
//	                       minio://host:port/bucket
func WithEnv() Option {
	return func(c *ServerConfig) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		if _, explicit := os.LookupEnv("VSTORE_DATABASE_TYPE"); !explicit {
			if v, ok := os.LookupEnv("VSTORE_DATABASE_URL"); ok {
				if err := applyDatabaseURL(c, v); err != nil {
					return err
				}
			}
		}
		if v, ok := os.LookupEnv("VSTORE_STORAGE_URL"); ok && v != "" {
			return applyStorageURL(c, v)
		}
		return nil
	}
}

// WithConfigFile reads a YAML file and then applies VSTORE_* overrides on top.
func WithConfigFile(path string) Option {
	return func(c *ServerConfig) error {
		if err := cleanenv.ReadConfig(path, c); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		return nil
	}
}

// EnvUsage describes every environment variable ServerConfig reads.
func EnvUsage() (string, error) {
	return cleanenv.GetDescription(&ServerConfig{}, nil)
}

func applyDatabaseURL(c *ServerConfig, raw string) error {
	switch {
	case raw == "" || raw == "memory":
		c.DatabaseType = "memory"
		c.DatabaseURL = ""
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		c.DatabaseType = "postgres"
		c.DatabaseURL = raw
	case strings.HasPrefix(raw, "sqlite://"):
		c.DatabaseType = "sqlite"
		c.DatabaseURL = strings.TrimPrefix(raw, "sqlite://")
	case strings.HasSuffix(raw, ".db"), strings.HasSuffix(raw, ".sqlite"):
		c.DatabaseType = "sqlite"
		c.DatabaseURL = raw
	default:
		return fmt.Errorf("unsupported VSTORE_DATABASE_URL %q", raw)
	}
	return nil
}

func applyStorageURL(c *ServerConfig, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid VSTORE_STORAGE_URL: %w", err)
	}
	switch u.Scheme {
	case "memory":
		c.StorageBackend = "memory"
	case "file":
		path := u.Path
		if u.Host != "" {
			path = u.Host + path
		}
		if path == "" {
			return fmt.Errorf("VSTORE_STORAGE_URL %q has no path", raw)
		}
		c.StorageBackend = "fs"
		c.Filesystem.BaseDir = path
	case "s3":
		if u.Host == "" {
			return fmt.Errorf("VSTORE_STORAGE_URL %q has no bucket", raw)
		}
		c.StorageBackend = "s3"
		c.S3.Bucket = u.Host
		q := u.Query()
		if v := q.Get("region"); v != "" {
			c.S3.Region = v
		}
		if v := q.Get("endpoint"); v != "" {
			c.S3.Endpoint = v
			c.S3.UsePathStyle = true
		}
	case "minio":
		bucket := strings.Trim(u.Path, "/")
		if u.Host == "" || bucket == "" {
			return fmt.Errorf("VSTORE_STORAGE_URL %q needs host and bucket", raw)
		}
		c.StorageBackend = "minio"
		c.Minio.Endpoint = u.Host
		c.Minio.Bucket = bucket
		c.Minio.UseSSL = u.Query().Get("ssl") == "true"
		if u.User != nil {
			c.Minio.AccessKeyID = u.User.Username()
			c.Minio.SecretAccessKey, _ = u.User.Password()
		}
	default:
		return fmt.Errorf("unsupported storage scheme %q", u.Scheme)
	}
	return nil
}
