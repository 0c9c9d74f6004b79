// Package secrets resolves named secrets from an env file, the process
// environment, the macOS keychain or Bitwarden Secrets Manager.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/hochfrequenz/auto-claude/internal/runner"
	"github.com/joho/godotenv"
)

// Reason classifies a failed lookup
type Reason string

const (
	// ReasonNotConfigured means the provider has no configuration to look in
	ReasonNotConfigured Reason = "not_configured"
	// ReasonNotFound means the provider is configured but has no such key
	ReasonNotFound Reason = "not_found"
	// ReasonBackendFailed means the backing store could not be queried
	ReasonBackendFailed Reason = "backend_failed"
)

// Error is a failed secret lookup
type Error struct {
	Key    string
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("secret %s: %s: %v", e.Key, e.Reason, e.Err)
	}
	return fmt.Sprintf("secret %s: %s", e.Key, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// ReasonOf returns the Reason of a lookup error, or "" when err is not one
func ReasonOf(err error) Reason {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Reason
	}
	return ""
}

// Provider looks up secrets by key
type Provider interface {
	GetSecret(ctx context.Context, key string) (string, error)
}

// EnvFile reads KEY=value pairs from a dotenv file. The file is read once.
type EnvFile struct {
	Path string

	once   sync.Once
	values map[string]string
	err    error
}

// NewEnvFile creates an EnvFile provider for path
func NewEnvFile(path string) *EnvFile {
	return &EnvFile{Path: path}
}

func (f *EnvFile) load() (map[string]string, error) {
	f.once.Do(func() {
		if _, err := os.Stat(f.Path); err != nil {
			f.err = err
			return
		}
		f.values, f.err = godotenv.Read(f.Path)
	})
	return f.values, f.err
}

// Lookup returns a value from the file; ok is false when the file or key is missing
func (f *EnvFile) Lookup(key string) (string, bool) {
	values, err := f.load()
	if err != nil {
		return "", false
	}
	v, ok := values[key]
	return v, ok && v != ""
}

// GetSecret implements Provider
func (f *EnvFile) GetSecret(_ context.Context, key string) (string, error) {
	values, err := f.load()
	if err != nil {
		if os.IsNotExist(err) {
			return "", &Error{Key: key, Reason: ReasonNotConfigured, Err: err}
		}
		return "", &Error{Key: key, Reason: ReasonBackendFailed, Err: err}
	}
	if v := values[key]; v != "" {
		return v, nil
	}
	return "", &Error{Key: key, Reason: ReasonNotFound}
}

// Env reads secrets from the process environment
type Env struct{}

// GetSecret implements Provider
func (Env) GetSecret(_ context.Context, key string) (string, error) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v, nil
	}
	return "", &Error{Key: key, Reason: ReasonNotFound}
}

// NewDefault returns the lookup order used by the CLI: process environment,
// env file, keychain, then bws.
func NewDefault(envFile *EnvFile, bwsBinary string, r runner.Runner) Chain {
	return Chain{
		Env{},
		envFile,
		&Keychain{Config: envFile, Runner: r},
		&BWS{Binary: bwsBinary, Config: envFile, Runner: r},
	}
}

// Chain tries providers in order and returns the first value found
type Chain []Provider

// GetSecret implements Provider. When every provider fails, a backend
// failure is reported in preference to a plain miss.
func (c Chain) GetSecret(ctx context.Context, key string) (string, error) {
	var failed error
	for _, p := range c {
		v, err := p.GetSecret(ctx, key)
		if err == nil {
			return v, nil
		}
		if ReasonOf(err) == ReasonBackendFailed && failed == nil {
			failed = err
		}
		if ctx.Err() != nil {
			break
		}
	}
	if failed != nil {
		return "", failed
	}
	if len(c) == 0 {
		return "", &Error{Key: key, Reason: ReasonNotConfigured}
	}
	return "", &Error{Key: key, Reason: ReasonNotFound}
}
