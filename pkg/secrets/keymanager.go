package secrets

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"
)

const (
	defaultKeyTTL   = 90 * 24 * time.Hour
	defaultKeyGrace = 7 * 24 * time.Hour
)

// KeyInfo is the persisted metadata for one derived key version. The
// key material itself is never persisted; it is re-derived from the
// master key on demand.
type KeyInfo struct {
	KeyID       string    `json:"key_id"`
	Purpose     string    `json:"purpose"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	RotatedFrom string    `json:"rotated_from,omitempty"`
	IsActive    bool      `json:"is_active"`
}

// KeyManager derives versioned data keys from a single master key and
// tracks their lifecycle in a JSON metadata file. Derivation is
// deterministic: the same master key, purpose, context and version
// always yield the same 32-byte key, so metadata loss is recoverable.
type KeyManager struct {
	mu     sync.Mutex
	master []byte
	path   string
	keys   map[string]*KeyInfo
	ttl    time.Duration
	grace  time.Duration
}

// KeyManagerConfig controls key lifetime. Zero values use defaults of
// 90 days TTL and 7 days post-expiry grace.
type KeyManagerConfig struct {
	TTL   time.Duration
	Grace time.Duration
}

// NewKeyManager loads existing key metadata from path, or starts empty
// if the file does not exist yet.
func NewKeyManager(master []byte, path string, cfg KeyManagerConfig) (*KeyManager, error) {
	if len(master) < 16 {
		return nil, fmt.Errorf("master key too short: need at least 16 bytes, got %d", len(master))
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultKeyTTL
	}
	if cfg.Grace <= 0 {
		cfg.Grace = defaultKeyGrace
	}

	km := &KeyManager{
		master: append([]byte(nil), master...),
		path:   path,
		keys:   make(map[string]*KeyInfo),
		ttl:    cfg.TTL,
		grace:  cfg.Grace,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read key metadata: %w", err)
		}
		return km, nil
	}
	if err := json.Unmarshal(data, &km.keys); err != nil {
		return nil, fmt.Errorf("failed to parse key metadata: %w", err)
	}
	return km, nil
}

// contextHash gives a short stable identifier for an encryption context.
func contextHash(context string) string {
	sum := sha256.Sum256([]byte(context))
	return hex.EncodeToString(sum[:])[:16]
}

func keyID(purpose, context string, version int) string {
	return fmt.Sprintf("%s_%s_v%d", purpose, contextHash(context), version)
}

// derive produces the 32-byte key for a purpose, context and version.
// Extract: SHA-256 over master || purpose || context || version.
// Expand: HKDF-Expand with the purpose as info.
func (km *KeyManager) derive(purpose, context string, version int) ([]byte, error) {
	h := sha256.New()
	h.Write(km.master)
	h.Write([]byte(purpose))
	h.Write([]byte(context))
	h.Write([]byte(strconv.Itoa(version)))
	prk := h.Sum(nil)

	r := hkdf.Expand(sha256.New, prk, []byte("confgate:"+purpose))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("key expansion failed: %w", err)
	}
	return key, nil
}

// ActiveKey returns the metadata and material for the highest active
// key version for the purpose and context. If no key exists yet,
// version 1 is created and persisted.
func (km *KeyManager) ActiveKey(purpose, context string) (*KeyInfo, []byte, error) {
	km.mu.Lock()
	defer km.mu.Unlock()

	info := km.activeLocked(purpose, context)
	if info == nil {
		now := time.Now().UTC()
		info = &KeyInfo{
			KeyID:     keyID(purpose, context, 1),
			Purpose:   purpose,
			Version:   1,
			CreatedAt: now,
			ExpiresAt: now.Add(km.ttl),
			IsActive:  true,
		}
		km.keys[info.KeyID] = info
		if err := km.saveLocked(); err != nil {
			delete(km.keys, info.KeyID)
			return nil, nil, err
		}
	}

	material, err := km.derive(purpose, context, info.Version)
	if err != nil {
		return nil, nil, err
	}
	cp := *info
	return &cp, material, nil
}

// KeyVersion returns the material for a specific version regardless of
// its active flag. Decryption of values sealed under older versions
// goes through here.
func (km *KeyManager) KeyVersion(purpose, context string, version int) ([]byte, error) {
	if version < 1 {
		return nil, fmt.Errorf("invalid key version %d", version)
	}
	km.mu.Lock()
	defer km.mu.Unlock()
	return km.derive(purpose, context, version)
}

// MaxVersion returns the highest known version for a purpose and
// context, or 0 if none exists.
func (km *KeyManager) MaxVersion(purpose, context string) int {
	km.mu.Lock()
	defer km.mu.Unlock()

	max := 0
	for _, info := range km.keys {
		if info.KeyID == keyID(purpose, context, info.Version) && info.Version > max {
			max = info.Version
		}
	}
	return max
}

// RotateKey deactivates the current active key and creates the next
// version linked to it via RotatedFrom.
func (km *KeyManager) RotateKey(purpose, context string) (*KeyInfo, error) {
	km.mu.Lock()
	defer km.mu.Unlock()

	now := time.Now().UTC()
	current := km.activeLocked(purpose, context)

	next := 1
	rotatedFrom := ""
	if current != nil {
		next = current.Version + 1
		rotatedFrom = current.KeyID
		current.IsActive = false
	}

	info := &KeyInfo{
		KeyID:       keyID(purpose, context, next),
		Purpose:     purpose,
		Version:     next,
		CreatedAt:   now,
		ExpiresAt:   now.Add(km.ttl),
		RotatedFrom: rotatedFrom,
		IsActive:    true,
	}
	km.keys[info.KeyID] = info

	if err := km.saveLocked(); err != nil {
		delete(km.keys, info.KeyID)
		if current != nil {
			current.IsActive = true
		}
		return nil, err
	}
	cp := *info
	return &cp, nil
}

// ListKeys returns all key metadata sorted by purpose then version.
func (km *KeyManager) ListKeys() []*KeyInfo {
	km.mu.Lock()
	defer km.mu.Unlock()

	out := make([]*KeyInfo, 0, len(km.keys))
	for _, info := range km.keys {
		cp := *info
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Purpose != out[j].Purpose {
			return out[i].Purpose < out[j].Purpose
		}
		return out[i].Version < out[j].Version
	})
	return out
}

// PruneExpired removes metadata for inactive keys whose expiry plus the
// grace window has passed. Returns the number of keys removed.
func (km *KeyManager) PruneExpired(now time.Time) (int, error) {
	km.mu.Lock()
	defer km.mu.Unlock()

	removed := 0
	for id, info := range km.keys {
		if !info.IsActive && now.After(info.ExpiresAt.Add(km.grace)) {
			delete(km.keys, id)
			removed++
		}
	}
	if removed > 0 {
		if err := km.saveLocked(); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (km *KeyManager) activeLocked(purpose, context string) *KeyInfo {
	var best *KeyInfo
	for v := 1; ; v++ {
		info, ok := km.keys[keyID(purpose, context, v)]
		if !ok {
			break
		}
		if info.IsActive && (best == nil || info.Version > best.Version) {
			best = info
		}
	}
	return best
}

func (km *KeyManager) saveLocked() error {
	data, err := json.MarshalIndent(km.keys, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal key metadata: %w", err)
	}
	tmp := km.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(km.path), 0o700); err != nil {
		return fmt.Errorf("failed to create key metadata directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write key metadata: %w", err)
	}
	if err := os.Rename(tmp, km.path); err != nil {
		return fmt.Errorf("failed to replace key metadata: %w", err)
	}
	return nil
}
