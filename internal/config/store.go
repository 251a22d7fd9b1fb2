package config

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Runtime settings keys
const (
	KeySTTBackend      = "stt_backend"
	KeyTTSMuted        = "tts_muted"
	KeyAutosendFromMic = "autosend_from_mic"
	KeySTTPrompt       = "stt_prompt"
)

// ErrUnknownKey is returned for settings keys the service does not define
var ErrUnknownKey = errors.New("unknown settings key")

// Store holds runtime settings as string key/value pairs
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

var knownKeys = map[string]string{
	KeySTTBackend:      "whisper_browser",
	KeyTTSMuted:        "false",
	KeyAutosendFromMic: "true",
	KeySTTPrompt:       "",
}

// IsKnownKey reports whether key is a defined settings key
func IsKnownKey(key string) bool {
	_, ok := knownKeys[key]
	return ok
}

// Keys returns the defined settings keys in sorted order
func Keys() []string {
	keys := make([]string, 0, len(knownKeys))
	for key := range knownKeys {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// DefaultSettings returns the built-in defaults merged with overrides.
// Unknown override keys are ignored; Validate rejects them earlier.
func DefaultSettings(overrides map[string]string) map[string]string {
	values := make(map[string]string, len(knownKeys))
	for key, value := range knownKeys {
		values[key] = value
	}
	for key, value := range overrides {
		if IsKnownKey(key) {
			values[key] = value
		}
	}
	return values
}

// Bool reads a boolean setting; anything other than "true" is false
func Bool(ctx context.Context, store Store, key string) (bool, error) {
	value, err := store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return value == "true", nil
}

// MemoryStore is a process-local settings store
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates a store seeded with the defaults and the given overrides
func NewMemoryStore(overrides map[string]string) *MemoryStore {
	return &MemoryStore{values: DefaultSettings(overrides)}
}

// Get returns the current value for key
func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	if !IsKnownKey(key) {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key], nil
}

// Set stores value under key
func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	if !IsKnownKey(key) {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}
