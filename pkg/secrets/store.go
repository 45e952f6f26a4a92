package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/confgate/pkg/observability"
)

const keyPurposeSecret = "secret"

// Metadata describes one named secret. Version counts stored writes;
// the value for version N lives at backend key "<name>_v<N>".
type Metadata struct {
	Name        string            `json:"name"`
	Version     int               `json:"version"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	Description string            `json:"description,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// Store is the versioned secret store. Every value is sealed with a
// key derived for the secret's own context, so a value copied to a
// different secret name will not decrypt.
type Store struct {
	mu       sync.Mutex
	cipher   *Cipher
	keys     *KeyManager
	backend  Backend
	metaPath string
	meta     map[string]*Metadata
	metrics  *observability.Metrics
}

// StoreConfig wires a Store. Metrics may be nil.
type StoreConfig struct {
	MasterKey    []byte
	Backend      Backend
	MetadataPath string
	KeyMetadata  string
	KeyConfig    KeyManagerConfig
	Metrics      *observability.Metrics
}

// NewStore loads secret metadata from MetadataPath if it exists.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("store requires a backend")
	}
	cipher, err := NewCipher(cfg.MasterKey)
	if err != nil {
		return nil, err
	}
	keys, err := NewKeyManager(cfg.MasterKey, cfg.KeyMetadata, cfg.KeyConfig)
	if err != nil {
		return nil, err
	}

	s := &Store{
		cipher:   cipher,
		keys:     keys,
		backend:  cfg.Backend,
		metaPath: cfg.MetadataPath,
		meta:     make(map[string]*Metadata),
		metrics:  cfg.Metrics,
	}

	data, err := os.ReadFile(cfg.MetadataPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read secret metadata: %w", err)
		}
		return s, nil
	}
	if err := json.Unmarshal(data, &s.meta); err != nil {
		return nil, fmt.Errorf("failed to parse secret metadata: %w", err)
	}
	return s, nil
}

// Keys exposes the key manager for rotation and pruning.
func (s *Store) Keys() *KeyManager {
	return s.keys
}

func secretContext(name string) string {
	return "secret:" + name
}

func versionKey(name string, version int) string {
	return fmt.Sprintf("%s_v%d", name, version)
}

// StoreSecret encrypts and writes the next version of a secret,
// returning its updated metadata.
func (s *Store) StoreSecret(ctx context.Context, name, plaintext string, opts ...MetadataOption) (*Metadata, error) {
	if name == "" {
		return nil, fmt.Errorf("secret name must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	m := s.meta[name]
	if m == nil {
		m = &Metadata{Name: name, CreatedAt: now}
	}
	for _, opt := range opts {
		opt(m)
	}

	_, material, err := s.keys.ActiveKey(keyPurposeSecret, secretContext(name))
	if err != nil {
		return nil, err
	}

	c, err := NewCipher(material)
	if err != nil {
		return nil, err
	}
	sealed, err := c.Encrypt([]byte(plaintext), secretContext(name))
	if err != nil {
		s.countCipher("encrypt", "error")
		return nil, err
	}
	s.countCipher("encrypt", "ok")

	next := m.Version + 1
	if err := s.backend.Set(ctx, versionKey(name, next), sealed); err != nil {
		s.countBackendError("set")
		return nil, err
	}

	m.Version = next
	m.UpdatedAt = now
	s.meta[name] = m
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	cp := *m
	return &cp, nil
}

// MetadataOption mutates metadata during StoreSecret.
type MetadataOption func(*Metadata)

func WithDescription(desc string) MetadataOption {
	return func(m *Metadata) { m.Description = desc }
}

func WithTags(tags map[string]string) MetadataOption {
	return func(m *Metadata) {
		if m.Tags == nil {
			m.Tags = make(map[string]string, len(tags))
		}
		for k, v := range tags {
			m.Tags[k] = v
		}
	}
}

// RetrieveSecret returns the plaintext of the latest version.
func (s *Store) RetrieveSecret(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	m := s.meta[name]
	var version int
	if m != nil {
		version = m.Version
	}
	s.mu.Unlock()

	if version == 0 {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return s.RetrieveVersion(ctx, name, version)
}

// RetrieveVersion returns the plaintext of a specific version. Values
// that predate encryption are returned as-is.
func (s *Store) RetrieveVersion(ctx context.Context, name string, version int) (string, error) {
	value, err := s.backend.Get(ctx, versionKey(name, version))
	if err != nil {
		if !errors.Is(err, ErrSecretNotFound) {
			s.countBackendError("get")
		}
		return "", err
	}
	if !IsEncrypted(value) {
		return value, nil
	}
	return s.decrypt(name, value)
}

// decrypt walks key versions newest-first. A tag failure under one key
// version may just mean the value was sealed under an older key, so
// only a context mismatch short-circuits.
func (s *Store) decrypt(name, sealed string) (string, error) {
	kctx := secretContext(name)
	max := s.keys.MaxVersion(keyPurposeSecret, kctx)
	if max == 0 {
		max = 1
	}
	for v := max; v >= 1; v-- {
		material, err := s.keys.KeyVersion(keyPurposeSecret, kctx, v)
		if err != nil {
			return "", err
		}
		c, err := NewCipher(material)
		if err != nil {
			return "", err
		}
		plaintext, err := c.Decrypt(sealed, kctx)
		if err == nil {
			s.countCipher("decrypt", "ok")
			return string(plaintext), nil
		}
		if errors.Is(err, ErrContextMismatch) || errors.Is(err, ErrInvalidEnvelope) {
			s.countCipher("decrypt", "error")
			return "", err
		}
	}
	s.countCipher("decrypt", "error")
	return "", ErrTamperedData
}

// DeleteVersion removes one stored version. Metadata is untouched.
func (s *Store) DeleteVersion(ctx context.Context, name string, version int) error {
	if err := s.backend.Delete(ctx, versionKey(name, version)); err != nil {
		if !errors.Is(err, ErrSecretNotFound) {
			s.countBackendError("delete")
		}
		return err
	}
	return nil
}

// DeleteSecret removes all versions and the metadata entry.
func (s *Store) DeleteSecret(ctx context.Context, name string) error {
	s.mu.Lock()
	m := s.meta[name]
	s.mu.Unlock()
	if m == nil {
		return fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}

	for v := 1; v <= m.Version; v++ {
		if err := s.backend.Delete(ctx, versionKey(name, v)); err != nil && !errors.Is(err, ErrSecretNotFound) {
			s.countBackendError("delete")
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.meta, name)
	return s.saveLocked()
}

// RevertVersion points a secret's latest version back to an earlier
// one after a staged write was withdrawn.
func (s *Store) RevertVersion(name string, to int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.meta[name]
	if m == nil {
		return fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	if to < 0 || to > m.Version {
		return fmt.Errorf("cannot revert %s to version %d from %d", name, to, m.Version)
	}
	if to == 0 {
		delete(s.meta, name)
	} else {
		m.Version = to
		m.UpdatedAt = time.Now().UTC()
	}
	return s.saveLocked()
}

// GetMetadata returns a copy of the metadata for one secret.
func (s *Store) GetMetadata(name string) (*Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.meta[name]
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	cp := *m
	return &cp, nil
}

// ListSecrets returns metadata for all secrets sorted by name.
func (s *Store) ListSecrets() []*Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Metadata, 0, len(s.meta))
	for _, m := range s.meta {
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal secret metadata: %w", err)
	}
	tmp := s.metaPath + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.metaPath), 0o700); err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write secret metadata: %w", err)
	}
	if err := os.Rename(tmp, s.metaPath); err != nil {
		return fmt.Errorf("failed to replace secret metadata: %w", err)
	}
	return nil
}

func (s *Store) countCipher(op, outcome string) {
	if s.metrics != nil {
		s.metrics.CipherOperationsTotal.WithLabelValues(op, outcome).Inc()
	}
}

func (s *Store) countBackendError(op string) {
	if s.metrics != nil {
		s.metrics.SecretsBackendErrors.WithLabelValues(backendName(s.backend), op).Inc()
	}
}

func backendName(b Backend) string {
	switch b.(type) {
	case *EnvBackend:
		return "env"
	case *FileBackend:
		return "file"
	case *S3Backend:
		return "s3"
	default:
		return "custom"
	}
}
