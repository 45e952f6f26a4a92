package secrets

import "errors"

var (
	// ErrTamperedData indicates the authentication tag did not verify.
	// The ciphertext or envelope was modified after encryption.
	ErrTamperedData = errors.New("decryption failed: authentication tag mismatch")

	// ErrContextMismatch indicates the caller supplied a different
	// encryption context than the one the envelope was sealed with.
	ErrContextMismatch = errors.New("decryption failed: encryption context mismatch")

	// ErrSecretNotFound indicates the backend has no value for the key.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrBackendUnavailable indicates a transient backend failure.
	ErrBackendUnavailable = errors.New("secrets backend unavailable")

	// ErrRotationConflict indicates a rotation is already in flight for
	// the secret. Only one non-terminal rotation may exist per secret.
	ErrRotationConflict = errors.New("rotation already in progress for this secret")

	// ErrRotationNotFound indicates no rotation record exists for the secret.
	ErrRotationNotFound = errors.New("no rotation found for this secret")

	// ErrInvalidEnvelope indicates the value is not a valid encrypted envelope.
	ErrInvalidEnvelope = errors.New("invalid encrypted envelope")
)
