package secrets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Backend stores opaque secret values by name. Implementations must be
// safe for concurrent use. Values passed in are already encrypted; the
// backend never sees plaintext.
type Backend interface {
	Get(ctx context.Context, name string) (string, error)
	Set(ctx context.Context, name, value string) error
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]string, error)
}

// EnvBackend reads and writes secrets as process environment variables
// under a fixed prefix. Intended for development and tests; writes are
// visible only to the current process.
type EnvBackend struct {
	prefix string
	mu     sync.Mutex
}

// NewEnvBackend creates an EnvBackend. An empty prefix defaults to
// "CONFGATE_SECRET_".
func NewEnvBackend(prefix string) *EnvBackend {
	if prefix == "" {
		prefix = "CONFGATE_SECRET_"
	}
	return &EnvBackend{prefix: prefix}
}

func (b *EnvBackend) envKey(name string) string {
	upper := strings.ToUpper(name)
	var sb strings.Builder
	for _, r := range upper {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
	}
	return b.prefix + sb.String()
}

func (b *EnvBackend) Get(_ context.Context, name string) (string, error) {
	value, ok := os.LookupEnv(b.envKey(name))
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return value, nil
}

func (b *EnvBackend) Set(_ context.Context, name, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return os.Setenv(b.envKey(name), value)
}

func (b *EnvBackend) Delete(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := os.LookupEnv(b.envKey(name)); !ok {
		return fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return os.Unsetenv(b.envKey(name))
}

func (b *EnvBackend) List(_ context.Context) ([]string, error) {
	var names []string
	for _, kv := range os.Environ() {
		key, _, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, b.prefix) {
			continue
		}
		names = append(names, strings.ToLower(strings.TrimPrefix(key, b.prefix)))
	}
	sort.Strings(names)
	return names, nil
}

// FileBackend stores each secret as a mode 0600 file named
// "<name>.secret" under a single directory.
type FileBackend struct {
	dir string
	mu  sync.Mutex
}

const secretFileExt = ".secret"

// NewFileBackend creates the directory if needed with mode 0700.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create secrets directory: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return "", fmt.Errorf("invalid secret name %q", name)
	}
	return filepath.Join(b.dir, name+secretFileExt), nil
}

func (b *FileBackend) Get(_ context.Context, name string) (string, error) {
	p, err := b.path(name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
		}
		return "", fmt.Errorf("failed to read secret %s: %w", name, err)
	}
	return string(data), nil
}

func (b *FileBackend) Set(_ context.Context, name, value string) error {
	p, err := b.path(name)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, []byte(value), 0o600); err != nil {
		return fmt.Errorf("failed to write secret %s: %w", name, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return fmt.Errorf("failed to replace secret %s: %w", name, err)
	}
	return nil
}

func (b *FileBackend) Delete(_ context.Context, name string) error {
	p, err := b.path(name)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrSecretNotFound, name)
		}
		return fmt.Errorf("failed to delete secret %s: %w", name, err)
	}
	return nil
}

func (b *FileBackend) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list secrets: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), secretFileExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), secretFileExt))
	}
	sort.Strings(names)
	return names, nil
}
