package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	envelopeVersion  = 1
	keySize          = 32 // AES-256
	nonceSize        = 12 // 96-bit GCM nonce
	tagSize          = 16 // 128-bit GCM tag
	saltSize         = 32
	pbkdf2Iterations = 100000
)

// envelope is the JSON structure wrapped around every encrypted value.
// All binary fields are base64 encoded, and the marshaled envelope is
// itself base64 encoded so the result is a single opaque string.
type envelope struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
	Tag        string `json:"tag"`
	Context    string `json:"context"`
}

// Cipher encrypts and decrypts secret values with AES-256-GCM.
// Each Encrypt call derives a fresh data key from the master key with
// PBKDF2-HMAC-SHA256 and a random salt, so identical plaintexts never
// produce identical envelopes.
type Cipher struct {
	master []byte
}

// NewCipher creates a Cipher from a master key. The master key must be
// at least 16 bytes of high-entropy material.
func NewCipher(master []byte) (*Cipher, error) {
	if len(master) < 16 {
		return nil, fmt.Errorf("master key too short: need at least 16 bytes, got %d", len(master))
	}
	m := make([]byte, len(master))
	copy(m, master)
	return &Cipher{master: m}, nil
}

func (c *Cipher) deriveKey(salt []byte) []byte {
	return pbkdf2.Key(c.master, salt, pbkdf2Iterations, keySize, sha256.New)
}

// Encrypt seals plaintext into an envelope bound to the given context.
// The context is authenticated as GCM additional data and stored in the
// envelope, so decryption requires presenting the same context.
func (c *Cipher) Encrypt(plaintext []byte, context string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	key := c.deriveKey(salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, []byte(context))
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	env := envelope{
		Version:    envelopeVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
		Tag:        base64.StdEncoding.EncodeToString(tag),
		Context:    base64.StdEncoding.EncodeToString([]byte(context)),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Decrypt opens an envelope produced by Encrypt. The supplied context
// must match the one stored in the envelope; a mismatch is reported as
// ErrContextMismatch before any cryptographic work. Tag verification
// failure is reported as ErrTamperedData.
func (c *Cipher) Decrypt(encoded, context string) ([]byte, error) {
	env, err := parseEnvelope(encoded)
	if err != nil {
		return nil, err
	}

	storedCtx, err := base64.StdEncoding.DecodeString(env.Context)
	if err != nil {
		return nil, fmt.Errorf("%w: bad context encoding", ErrInvalidEnvelope)
	}
	if string(storedCtx) != context {
		return nil, ErrContextMismatch
	}

	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return nil, fmt.Errorf("%w: bad salt encoding", ErrInvalidEnvelope)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: bad nonce encoding", ErrInvalidEnvelope)
	}
	ct, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: bad ciphertext encoding", ErrInvalidEnvelope)
	}
	tag, err := base64.StdEncoding.DecodeString(env.Tag)
	if err != nil {
		return nil, fmt.Errorf("%w: bad tag encoding", ErrInvalidEnvelope)
	}
	if len(nonce) != nonceSize || len(tag) != tagSize {
		return nil, fmt.Errorf("%w: wrong nonce or tag length", ErrInvalidEnvelope)
	}

	key := c.deriveKey(salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, append(ct, tag...), []byte(context))
	if err != nil {
		return nil, ErrTamperedData
	}
	return plaintext, nil
}

// IsEncrypted reports whether the value looks like an envelope produced
// by Encrypt. Used to distinguish stored ciphertext from legacy
// plaintext values.
func IsEncrypted(value string) bool {
	env, err := parseEnvelope(value)
	if err != nil {
		return false
	}
	return env.Version >= 1 && env.Salt != "" && env.Nonce != "" && env.Tag != ""
}

func parseEnvelope(encoded string) (*envelope, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: not base64", ErrInvalidEnvelope)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: not a JSON envelope", ErrInvalidEnvelope)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidEnvelope, env.Version)
	}
	return &env, nil
}
