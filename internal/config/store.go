package config

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// ErrInvalidKey is returned when a config key contains invalid characters.
var ErrInvalidKey = errors.New("invalid config key")

// ErrUnknownKey is returned for well-formed keys folio does not define.
var ErrUnknownKey = errors.New("unknown config key")

// ValidateKey checks if a config key contains only allowed characters.
// Valid keys contain: letters, digits, dots, underscores, and hyphens.
// This protects against typos and malformed keys.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key cannot be empty", ErrInvalidKey)
	}
	for i, r := range key {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '_' && r != '-' {
			return fmt.Errorf("%w: invalid character %q at position %d", ErrInvalidKey, r, i)
		}
	}
	// Don't allow keys starting or ending with dots
	if key[0] == '.' || key[len(key)-1] == '.' {
		return fmt.Errorf("%w: key cannot start or end with a dot", ErrInvalidKey)
	}
	return nil
}

// Store provides keyed access to the live configuration.
type Store interface {
	// Get returns a single config entry by key, or nil if the key is not
	// defined.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set updates a config entry.
	Set(ctx context.Context, key string, value any, description string) error

	// GetAll returns all config entries.
	GetAll(ctx context.Context) (map[string]Entry, error)

	// GetByPrefix returns config entries matching the prefix.
	GetByPrefix(ctx context.Context, prefix string) (map[string]Entry, error)

	// Delete drops a runtime override so the key falls back to the file,
	// environment or default value.
	Delete(ctx context.Context, key string) error
}

// Entry represents a single configuration entry.
type Entry struct {
	Key         string `json:"key" yaml:"key"`
	Value       any    `json:"value" yaml:"value"`
	Description string `json:"description" yaml:"description"`
}

// ManagerStore implements Store as runtime overrides on a Manager. Overrides
// take precedence over the config file and are not persisted.
type ManagerStore struct {
	mgr *Manager
}

var _ Store = (*ManagerStore)(nil)

// NewStore creates a store over mgr.
func NewStore(mgr *Manager) *ManagerStore {
	return &ManagerStore{mgr: mgr}
}

// Get returns a single config entry by key.
func (s *ManagerStore) Get(ctx context.Context, key string) (*Entry, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	def := GetDefault(key)
	if def == nil {
		return nil, nil
	}
	return &Entry{Key: key, Value: s.mgr.value(key), Description: def.Description}, nil
}

// Set updates a config entry. The value is converted to the key's type and
// rejected if the resulting config is invalid. The description is ignored;
// keys keep their built-in description.
func (s *ManagerStore) Set(ctx context.Context, key string, value any, description string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	def := GetDefault(key)
	if def == nil {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	coerced, err := coerce(def.Value, value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return s.mgr.setOverride(key, coerced)
}

// GetAll returns all config entries.
func (s *ManagerStore) GetAll(ctx context.Context) (map[string]Entry, error) {
	return s.GetByPrefix(ctx, "")
}

// GetByPrefix returns config entries matching the prefix.
func (s *ManagerStore) GetByPrefix(ctx context.Context, prefix string) (map[string]Entry, error) {
	result := make(map[string]Entry)
	for _, def := range DefaultEntries() {
		if !strings.HasPrefix(def.Key, prefix) {
			continue
		}
		result[def.Key] = Entry{Key: def.Key, Value: s.mgr.value(def.Key), Description: def.Description}
	}
	return result, nil
}

// Delete removes a runtime override.
func (s *ManagerStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if GetDefault(key) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return s.mgr.setOverride(key, nil)
}

// coerce converts value to the type of def. JSON numbers arrive as float64
// and CLI values as strings.
func coerce(def, value any) (any, error) {
	switch def.(type) {
	case int:
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("%v is not an integer", v)
			}
			return int(v), nil
		case string:
			return strconv.Atoi(v)
		}
	case float64:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			return strconv.ParseFloat(v, 64)
		}
	case bool:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			return strconv.ParseBool(v)
		}
	case string:
		if v, ok := value.(string); ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("unsupported value %v (%T)", value, value)
}
