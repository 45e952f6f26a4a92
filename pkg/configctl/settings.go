package configctl

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrFieldNotFound is returned for operations on undeclared fields.
	ErrFieldNotFound = errors.New("configuration field not found")

	// ErrValidationFailed wraps validator rejections.
	ErrValidationFailed = errors.New("validation failed")
)

// FieldValidator checks a candidate value before it is applied.
type FieldValidator func(name string, value interface{}) error

// Settings is the configuration storage the service guards. Fields
// returns names in declaration order; reads and filtered views follow
// that order.
type Settings interface {
	Get(name string) (interface{}, error)
	Set(name string, value interface{}) error
	Validate(name string, value interface{}) error
	Fields() []string
}

// MapSettings is an in-memory Settings backed by a map with a separate
// order slice so iteration is stable.
type MapSettings struct {
	mu         sync.RWMutex
	order      []string
	values     map[string]interface{}
	validators map[string]FieldValidator
}

func NewMapSettings() *MapSettings {
	return &MapSettings{
		values:     make(map[string]interface{}),
		validators: make(map[string]FieldValidator),
	}
}

// Declare registers a field with its initial value. Declaring an
// existing field overwrites its value but keeps its position.
func (s *MapSettings) Declare(name string, initial interface{}) *MapSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[name]; !ok {
		s.order = append(s.order, name)
	}
	s.values[name] = initial
	return s
}

// DeclareValidated registers a field with a validator applied on Set.
func (s *MapSettings) DeclareValidated(name string, initial interface{}, v FieldValidator) *MapSettings {
	s.Declare(name, initial)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validators[name] = v
	return s
}

func (s *MapSettings) Get(name string) (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFieldNotFound, name)
	}
	return value, nil
}

func (s *MapSettings) Set(name string, value interface{}) error {
	if err := s.Validate(name, value); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[name]; !ok {
		return fmt.Errorf("%w: %s", ErrFieldNotFound, name)
	}
	s.values[name] = value
	return nil
}

func (s *MapSettings) Validate(name string, value interface{}) error {
	s.mu.RLock()
	_, declared := s.values[name]
	v := s.validators[name]
	s.mu.RUnlock()

	if !declared {
		return fmt.Errorf("%w: %s", ErrFieldNotFound, name)
	}
	if v == nil {
		return nil
	}
	if err := v(name, value); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrValidationFailed, name, err)
	}
	return nil
}

func (s *MapSettings) Fields() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}
