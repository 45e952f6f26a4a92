// Package secrets provides encrypted, versioned secret storage with
// managed rotation.
//
// Values are sealed with AES-256-GCM inside a self-describing JSON
// envelope. Data keys are derived per secret from a single master key,
// with the secret's own context authenticated as additional data, so a
// ciphertext moved between secret names will not decrypt. The Store
// writes each update as a new version against a pluggable Backend
// (environment, local files, or S3).
//
// RotationManager moves a secret from its old value to a new one
// through a persisted state machine: pending, in_progress,
// grace_period, then completed (or failed / rolled_back). During the
// grace period GetActiveSecret returns both values so consumers that
// have not yet picked up the new value keep working. First-time
// secrets skip the grace period entirely.
package secrets
