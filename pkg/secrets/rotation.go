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

// RotationState is the lifecycle state of one secret rotation.
type RotationState string

const (
	RotationPending     RotationState = "pending"
	RotationInProgress  RotationState = "in_progress"
	RotationGracePeriod RotationState = "grace_period"
	RotationCompleted   RotationState = "completed"
	RotationFailed      RotationState = "failed"
	RotationRolledBack  RotationState = "rolled_back"
)

// terminal reports whether no further transitions are allowed.
func (s RotationState) terminal() bool {
	switch s {
	case RotationCompleted, RotationFailed, RotationRolledBack:
		return true
	}
	return false
}

// RotationStatus is the persisted record of one rotation attempt.
type RotationStatus struct {
	SecretName      string        `json:"secret_name"`
	State           RotationState `json:"state"`
	OldVersion      int           `json:"old_version"`
	NewVersion      int           `json:"new_version,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	GracePeriodEnds time.Time     `json:"grace_period_ends,omitempty"`
	CompletedAt     time.Time     `json:"completed_at,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// ActiveSecret carries the value a consumer should use. During a grace
// period both the new and old values are valid; Secondary holds the old
// one so callers can accept either while downstream systems converge.
type ActiveSecret struct {
	Primary   string
	Secondary string
}

// ValidatorFunc checks a candidate secret value before the rotation
// proceeds. oldValue is empty for first-time secrets.
type ValidatorFunc func(ctx context.Context, name, oldValue, newValue string) error

// RotationManager drives secret rotations through a persisted state
// machine. State is rewritten to disk on every transition so an
// interrupted rotation resumes where it left off after restart.
type RotationManager struct {
	mu         sync.Mutex
	store      *Store
	statePath  string
	rotations  map[string]*RotationStatus
	grace      time.Duration
	validators map[string]ValidatorFunc
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// RotationConfig wires a RotationManager. Grace defaults to 24h.
type RotationConfig struct {
	StatePath string
	Grace     time.Duration
	Logger    *observability.Logger
	Metrics   *observability.Metrics
}

// NewRotationManager loads any persisted rotation state from StatePath.
func NewRotationManager(store *Store, cfg RotationConfig) (*RotationManager, error) {
	if store == nil {
		return nil, fmt.Errorf("rotation manager requires a store")
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger(observability.InfoLevel, os.Stderr)
	}

	rm := &RotationManager{
		store:      store,
		statePath:  cfg.StatePath,
		rotations:  make(map[string]*RotationStatus),
		grace:      cfg.Grace,
		validators: make(map[string]ValidatorFunc),
		logger:     cfg.Logger.WithComponent("rotation"),
		metrics:    cfg.Metrics,
	}

	data, err := os.ReadFile(cfg.StatePath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read rotation state: %w", err)
		}
		return rm, nil
	}
	if err := json.Unmarshal(data, &rm.rotations); err != nil {
		return nil, fmt.Errorf("failed to parse rotation state: %w", err)
	}
	return rm, nil
}

// RegisterValidator installs a validator invoked during rotations of
// the named secret. A failing validator aborts the rotation before the
// new value is activated.
func (rm *RotationManager) RegisterValidator(name string, fn ValidatorFunc) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.validators[name] = fn
}

// RotateSecret starts a rotation to newValue. A first-time secret is
// stored and completed immediately with no grace period. Returns the
// final status of the attempt.
func (rm *RotationManager) RotateSecret(ctx context.Context, name, newValue string) (*RotationStatus, error) {
	rm.mu.Lock()
	if existing, ok := rm.rotations[name]; ok && !existing.State.terminal() {
		rm.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s", ErrRotationConflict, name, existing.State)
	}
	validator := rm.validators[name]

	now := time.Now().UTC()
	status := &RotationStatus{
		SecretName: name,
		State:      RotationPending,
		StartedAt:  now,
	}

	meta, err := rm.store.GetMetadata(name)
	firstTime := errors.Is(err, ErrSecretNotFound)
	if err != nil && !firstTime {
		rm.mu.Unlock()
		return nil, err
	}
	if meta != nil {
		status.OldVersion = meta.Version
	}

	rm.rotations[name] = status
	if err := rm.transitionLocked(status, RotationPending); err != nil {
		rm.mu.Unlock()
		return nil, err
	}
	rm.mu.Unlock()

	var oldValue string
	if !firstTime {
		oldValue, err = rm.store.RetrieveVersion(ctx, name, status.OldVersion)
		if err != nil {
			return rm.fail(status, fmt.Errorf("failed to read current value: %w", err))
		}
	}

	rm.mu.Lock()
	if err := rm.transitionLocked(status, RotationInProgress); err != nil {
		rm.mu.Unlock()
		return nil, err
	}
	rm.mu.Unlock()

	if validator != nil {
		if err := validator(ctx, name, oldValue, newValue); err != nil {
			return rm.fail(status, fmt.Errorf("validation failed: %w", err))
		}
	}

	newMeta, err := rm.store.StoreSecret(ctx, name, newValue)
	if err != nil {
		return rm.fail(status, fmt.Errorf("failed to store new value: %w", err))
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	status.NewVersion = newMeta.Version

	if firstTime {
		status.CompletedAt = time.Now().UTC()
		if err := rm.transitionLocked(status, RotationCompleted); err != nil {
			return nil, err
		}
		rm.logger.WithField("secret", name).Info("first-time secret stored, rotation completed immediately")
		cp := *status
		return &cp, nil
	}

	status.GracePeriodEnds = time.Now().UTC().Add(rm.grace)
	if err := rm.transitionLocked(status, RotationGracePeriod); err != nil {
		return nil, err
	}
	if rm.metrics != nil {
		rm.metrics.RotationsActive.Inc()
	}
	rm.logger.WithFields(map[string]any{
		"secret":            name,
		"old_version":       status.OldVersion,
		"new_version":       status.NewVersion,
		"grace_period_ends": status.GracePeriodEnds,
	}).Info("rotation entered grace period")

	cp := *status
	return &cp, nil
}

// CompleteRotation finalizes a rotation in its grace period: the old
// version is deleted and only the new value remains valid.
func (rm *RotationManager) CompleteRotation(ctx context.Context, name string) (*RotationStatus, error) {
	rm.mu.Lock()
	status, ok := rm.rotations[name]
	if !ok {
		rm.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrRotationNotFound, name)
	}
	if status.State != RotationGracePeriod {
		rm.mu.Unlock()
		return nil, fmt.Errorf("cannot complete rotation of %s in state %s", name, status.State)
	}
	rm.mu.Unlock()

	if err := rm.store.DeleteVersion(ctx, name, status.OldVersion); err != nil && !errors.Is(err, ErrSecretNotFound) {
		return rm.fail(status, fmt.Errorf("failed to delete old version: %w", err))
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	status.CompletedAt = time.Now().UTC()
	if err := rm.transitionLocked(status, RotationCompleted); err != nil {
		return nil, err
	}
	if rm.metrics != nil {
		rm.metrics.RotationsActive.Dec()
	}
	rm.logger.WithField("secret", name).Info("rotation completed")
	cp := *status
	return &cp, nil
}

// CancelRotation rolls back a non-terminal rotation. Any staged new
// version is deleted and the secret's latest version reverts to the
// pre-rotation one.
func (rm *RotationManager) CancelRotation(ctx context.Context, name string) (*RotationStatus, error) {
	rm.mu.Lock()
	status, ok := rm.rotations[name]
	if !ok {
		rm.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrRotationNotFound, name)
	}
	if status.State.terminal() {
		rm.mu.Unlock()
		return nil, fmt.Errorf("cannot cancel rotation of %s in state %s", name, status.State)
	}
	wasGrace := status.State == RotationGracePeriod
	rm.mu.Unlock()

	if status.NewVersion > 0 {
		if err := rm.store.DeleteVersion(ctx, name, status.NewVersion); err != nil && !errors.Is(err, ErrSecretNotFound) {
			return rm.fail(status, fmt.Errorf("failed to delete staged version: %w", err))
		}
		if err := rm.store.RevertVersion(name, status.OldVersion); err != nil {
			return rm.fail(status, err)
		}
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	status.CompletedAt = time.Now().UTC()
	if err := rm.transitionLocked(status, RotationRolledBack); err != nil {
		return nil, err
	}
	if wasGrace && rm.metrics != nil {
		rm.metrics.RotationsActive.Dec()
	}
	rm.logger.WithField("secret", name).Warn("rotation rolled back")
	cp := *status
	return &cp, nil
}

// CheckGracePeriods completes every rotation whose grace period has
// elapsed. Intended to run on a schedule. Returns the names completed.
func (rm *RotationManager) CheckGracePeriods(ctx context.Context) ([]string, error) {
	rm.mu.Lock()
	now := time.Now().UTC()
	var due []string
	for name, status := range rm.rotations {
		if status.State == RotationGracePeriod && now.After(status.GracePeriodEnds) {
			due = append(due, name)
		}
	}
	rm.mu.Unlock()
	sort.Strings(due)

	var completed []string
	var firstErr error
	for _, name := range due {
		if _, err := rm.CompleteRotation(ctx, name); err != nil {
			rm.logger.WithError(err).WithField("secret", name).Error("grace period completion failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		completed = append(completed, name)
	}
	return completed, firstErr
}

// GetActiveSecret returns the current value of a secret. During a
// grace period both the new (Primary) and old (Secondary) values are
// returned so consumers can accept either.
func (rm *RotationManager) GetActiveSecret(ctx context.Context, name string) (*ActiveSecret, error) {
	rm.mu.Lock()
	status := rm.rotations[name]
	var inGrace bool
	var oldV, newV int
	if status != nil && status.State == RotationGracePeriod {
		inGrace = true
		oldV = status.OldVersion
		newV = status.NewVersion
	}
	rm.mu.Unlock()

	if !inGrace {
		value, err := rm.store.RetrieveSecret(ctx, name)
		if err != nil {
			return nil, err
		}
		return &ActiveSecret{Primary: value}, nil
	}

	primary, err := rm.store.RetrieveVersion(ctx, name, newV)
	if err != nil {
		return nil, err
	}
	secondary, err := rm.store.RetrieveVersion(ctx, name, oldV)
	if err != nil {
		return nil, err
	}
	return &ActiveSecret{Primary: primary, Secondary: secondary}, nil
}

// GetRotationStatus returns a copy of the rotation record for a secret.
func (rm *RotationManager) GetRotationStatus(name string) (*RotationStatus, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	status, ok := rm.rotations[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRotationNotFound, name)
	}
	cp := *status
	return &cp, nil
}

// ListRotations returns all rotation records sorted by secret name.
func (rm *RotationManager) ListRotations() []*RotationStatus {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	out := make([]*RotationStatus, 0, len(rm.rotations))
	for _, status := range rm.rotations {
		cp := *status
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SecretName < out[j].SecretName })
	return out
}

// fail ends a rotation after an error, best-effort deleting any staged
// version. When the staged version is cleaned up and the metadata
// reverts to the old version the rotation ends rolled back; otherwise
// it ends failed. Error carries the cause either way.
func (rm *RotationManager) fail(status *RotationStatus, cause error) (*RotationStatus, error) {
	rm.mu.Lock()
	staged := status.NewVersion
	oldVersion := status.OldVersion
	rm.mu.Unlock()

	final := RotationFailed
	if staged > 0 {
		if err := rm.store.DeleteVersion(context.Background(), status.SecretName, staged); err == nil || errors.Is(err, ErrSecretNotFound) {
			if rm.store.RevertVersion(status.SecretName, oldVersion) == nil {
				final = RotationRolledBack
			}
		}
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	wasGrace := status.State == RotationGracePeriod
	status.Error = cause.Error()
	status.CompletedAt = time.Now().UTC()
	if err := rm.transitionLocked(status, final); err != nil {
		return nil, err
	}
	if wasGrace && rm.metrics != nil {
		rm.metrics.RotationsActive.Dec()
	}
	rm.logger.WithError(cause).WithFields(map[string]any{
		"secret": status.SecretName,
		"state":  string(final),
	}).Error("rotation aborted")
	cp := *status
	return &cp, cause
}

// transitionLocked sets the state, counts it, and persists the whole
// state file. Callers hold rm.mu.
func (rm *RotationManager) transitionLocked(status *RotationStatus, to RotationState) error {
	status.State = to
	if rm.metrics != nil {
		rm.metrics.RotationTransitionsTotal.WithLabelValues(string(to)).Inc()
	}
	return rm.saveLocked()
}

func (rm *RotationManager) saveLocked() error {
	data, err := json.MarshalIndent(rm.rotations, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal rotation state: %w", err)
	}
	tmp := rm.statePath + ".tmp"
	if err := os.MkdirAll(filepath.Dir(rm.statePath), 0o700); err != nil {
		return fmt.Errorf("failed to create rotation state directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write rotation state: %w", err)
	}
	if err := os.Rename(tmp, rm.statePath); err != nil {
		return fmt.Errorf("failed to replace rotation state: %w", err)
	}
	return nil
}
