package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"MoverPull/internal/domain/repository"
	"MoverPull/pkg/config"
)

// ErrNotConfigured means a source has nothing to offer and the next one should be tried.
var ErrNotConfigured = errors.New("credential source not configured")

// Source resolves the upstream API key.
type Source interface {
	Name() string
	Resolve(ctx context.Context) (string, error)
}

// Cache resolves the API key once per process and then serves it from memory.
// A failed resolution is not cached, so the next call tries again.
type Cache struct {
	mu      sync.Mutex
	sources []Source
	key     string
}

var _ repository.CredentialProvider = (*Cache)(nil)

func NewCache(sources ...Source) *Cache {
	return &Cache{sources: sources}
}

// NewCacheFromConfig prefers the mounted secret named by credential.param and
// falls back to credential.api_key (MASSIVE_API_KEY).
func NewCacheFromConfig(cfg *config.Config) *Cache {
	return NewCache(
		FileSource{Dir: cfg.Credential.SecretsDir, Param: cfg.Credential.Param},
		StaticSource{Key: cfg.Credential.APIKey},
	)
}

// APIKey returns the cached key, resolving it from the sources in order on first use.
func (c *Cache) APIKey(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.key != "" {
		return c.key, nil
	}

	tried := make([]string, 0, len(c.sources))
	for _, src := range c.sources {
		key, err := src.Resolve(ctx)
		if errors.Is(err, ErrNotConfigured) {
			tried = append(tried, src.Name())
			continue
		}
		if err != nil {
			return "", &config.ConfigError{Field: src.Name(), Reason: err.Error()}
		}
		c.key = key
		return key, nil
	}
	return "", &config.ConfigError{
		Field:  "credential",
		Reason: fmt.Sprintf("no API key available (tried %s)", strings.Join(tried, ", ")),
	}
}

// FileSource reads a decrypted secret mounted at {dir}/{param}.
type FileSource struct {
	Dir   string
	Param string
}

func (s FileSource) Name() string { return "credential.param" }

func (s FileSource) Resolve(context.Context) (string, error) {
	if s.Param == "" {
		return "", ErrNotConfigured
	}
	// Parameter names may look like paths (/prod/massive/key); only the base is used.
	path := filepath.Join(s.Dir, filepath.Base(s.Param))
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read secret %s: %w", path, err)
	}
	key := strings.TrimSpace(string(b))
	if key == "" {
		return "", fmt.Errorf("secret %s is empty", path)
	}
	return key, nil
}

// StaticSource returns a key supplied directly, usually from MASSIVE_API_KEY.
type StaticSource struct {
	Key string
}

func (s StaticSource) Name() string { return "credential.api_key" }

func (s StaticSource) Resolve(context.Context) (string, error) {
	if s.Key == "" {
		return "", ErrNotConfigured
	}
	return s.Key, nil
}
