package credential

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"MoverPull/pkg/config"
)

type countingSource struct {
	calls int
	key   string
	err   error
}

func (s *countingSource) Name() string { return "counting" }

func (s *countingSource) Resolve(context.Context) (string, error) {
	s.calls++
	return s.key, s.err
}

func TestCacheResolvesOnce(t *testing.T) {
	src := &countingSource{key: "k1"}
	c := NewCache(src)

	for i := 0; i < 3; i++ {
		key, err := c.APIKey(context.Background())
		if err != nil || key != "k1" {
			t.Fatalf("unexpected result %q %v", key, err)
		}
	}
	if src.calls != 1 {
		t.Fatalf("expected one resolution, got %d", src.calls)
	}
}

func TestCacheDoesNotCacheFailure(t *testing.T) {
	src := &countingSource{err: errors.New("boom")}
	c := NewCache(src)

	_, err := c.APIKey(context.Background())
	var ce *config.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigError, got %v", err)
	}

	src.err, src.key = nil, "k2"
	key, err := c.APIKey(context.Background())
	if err != nil || key != "k2" {
		t.Fatalf("expected recovery, got %q %v", key, err)
	}
}

func TestFileSourceThenStaticFallback(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "massive-key"), []byte("from-file\n"), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}

	c := NewCache(FileSource{Dir: dir, Param: "/prod/massive-key"}, StaticSource{Key: "from-env"})
	key, err := c.APIKey(context.Background())
	if err != nil || key != "from-file" {
		t.Fatalf("expected file key, got %q %v", key, err)
	}

	c = NewCache(FileSource{Dir: dir}, StaticSource{Key: "from-env"})
	key, err = c.APIKey(context.Background())
	if err != nil || key != "from-env" {
		t.Fatalf("expected env fallback, got %q %v", key, err)
	}
}

func TestCacheFromConfigPrefersSecretParam(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "massive-key"), []byte("from-param"), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}
	cfg := &config.Config{}
	cfg.Credential.SecretsDir = dir
	cfg.Credential.Param = "massive-key"
	cfg.Credential.APIKey = "from-env"

	key, err := NewCacheFromConfig(cfg).APIKey(context.Background())
	if err != nil || key != "from-param" {
		t.Fatalf("expected param key, got %q %v", key, err)
	}

	cfg.Credential.Param = ""
	key, err = NewCacheFromConfig(cfg).APIKey(context.Background())
	if err != nil || key != "from-env" {
		t.Fatalf("expected env fallback, got %q %v", key, err)
	}
}

func TestNoSourceIsConfigError(t *testing.T) {
	c := NewCache(FileSource{}, StaticSource{})
	_, err := c.APIKey(context.Background())
	var ce *config.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}
