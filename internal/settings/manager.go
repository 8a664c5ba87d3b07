// Package settings manages the transmitter's key/value settings.
package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/vastfmt/internal/storage"
)

// Store defines the storage operations the Manager needs.
// Implemented by storage.Store.
type Store interface {
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
	AllSettings() (map[string]string, error)
	DeleteSetting(key string) error
	RecordChange(c storage.Change) error
	ListChanges(limit int) ([]storage.Change, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager provides cached, validated access to the settings in the store.
type Manager struct {
	store    Store
	keys     []Key
	defaults map[string]string
	clock    Clock
	ttl      time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	cached   map[string]string
	cachedAt time.Time
}

// NewManager creates a Manager with a 30-second cache TTL. Keys missing
// from defaults fall back to the catalog default.
func NewManager(store Store, defaults map[string]string) *Manager {
	return NewManagerWithClock(store, defaults, realClock{}, 30*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store Store, defaults map[string]string, clock Clock, ttl time.Duration) *Manager {
	d := make(map[string]string, len(Keys))
	for _, k := range Keys {
		d[k.Name] = k.Default
		if v, ok := defaults[k.Name]; ok {
			d[k.Name] = v
		}
	}
	return &Manager{
		store:    store,
		keys:     Keys,
		defaults: d,
		clock:    clock,
		ttl:      ttl,
		logger:   slog.Default(),
	}
}

// WithKeys replaces the catalog the Manager validates against, e.g. with
// KeysFor(profile). Defaults the new catalog rejects fall back to the
// key's own default. Call before the Manager is shared.
func (m *Manager) WithKeys(keys []Key) *Manager {
	m.keys = keys
	for _, k := range keys {
		v, ok := m.defaults[k.Name]
		if !ok {
			m.defaults[k.Name] = k.Default
			continue
		}
		if _, err := k.Normalize(v); err != nil {
			m.defaults[k.Name] = k.Default
		}
	}
	m.cached = nil
	return m
}

// Keys returns the catalog the Manager validates against.
func (m *Manager) Keys() []Key {
	return m.keys
}

func (m *Manager) lookup(name string) (Key, bool) {
	for _, k := range m.keys {
		if k.Name == name {
			return k, true
		}
	}
	return Key{}, false
}

// Default returns the default value of key.
func (m *Manager) Default(key string) string {
	return m.defaults[key]
}

// EnsureDefaults stores the default of every key that is missing, and of
// every key stored empty unless the key allows empty values.
func (m *Manager) EnsureDefaults() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, err := m.store.AllSettings()
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}

	for _, k := range m.keys {
		v, ok := stored[k.Name]
		if ok && (v != "" || k.EmptyAllowed) {
			m.logger.Debug("setting", "key", k.Name, "value", v)
			continue
		}
		def := m.defaults[k.Name]
		if err := m.store.SetSetting(k.Name, def); err != nil {
			return fmt.Errorf("storing default for %s: %w", k.Name, err)
		}
		m.logger.Debug("setting defaulted", "key", k.Name, "value", def)
	}

	m.cached = nil
	return nil
}

// All returns every setting, with defaults filled in for missing keys.
func (m *Manager) All() (map[string]string, error) {
	m.mu.RLock()
	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		cp := copyMap(m.cached)
		m.mu.RUnlock()
		return cp, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		return copyMap(m.cached), nil
	}

	stored, err := m.store.AllSettings()
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}

	merged := make(map[string]string, len(m.keys))
	for _, k := range m.keys {
		if v, ok := stored[k.Name]; ok {
			merged[k.Name] = v
		} else {
			merged[k.Name] = m.defaults[k.Name]
		}
	}
	m.cached = merged
	m.cachedAt = m.clock.Now()
	return copyMap(merged), nil
}

// Get returns one setting.
func (m *Manager) Get(key string) (string, error) {
	if _, ok := m.lookup(key); !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	all, err := m.All()
	if err != nil {
		return "", err
	}
	return all[key], nil
}

// Set validates and stores one setting, returning the stored form.
func (m *Manager) Set(key, value string) (string, error) {
	k, ok := m.lookup(key)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	norm, err := k.Normalize(value)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.apply(key, norm); err != nil {
		return "", err
	}
	m.cached = nil
	return norm, nil
}

// SetMany validates every value before storing any of them. All
// validation failures are reported together.
func (m *Manager) SetMany(values map[string]string) (map[string]string, error) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	norm := make(map[string]string, len(values))
	var errs []error
	for _, name := range names {
		k, ok := m.lookup(name)
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownKey, name))
			continue
		}
		v, err := k.Normalize(values[name])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		norm[name] = v
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	defer func() { m.cached = nil }()

	for _, name := range names {
		if err := m.apply(name, norm[name]); err != nil {
			return nil, err
		}
	}
	return norm, nil
}

// apply stores value and records the change. Callers hold m.mu.
func (m *Manager) apply(key, value string) error {
	var old *string
	prev, err := m.store.GetSetting(key)
	switch {
	case err == nil:
		if prev == value {
			return nil
		}
		old = &prev
	case !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("reading setting %s: %w", key, err)
	}

	if err := m.store.SetSetting(key, value); err != nil {
		return fmt.Errorf("storing setting %s: %w", key, err)
	}

	change := storage.Change{
		ID:        uuid.New().String(),
		Key:       key,
		OldValue:  old,
		NewValue:  value,
		ChangedAt: m.clock.Now(),
	}
	if err := m.store.RecordChange(change); err != nil {
		// The setting itself is stored; only its history entry is lost.
		m.logger.Warn("recording settings change failed", "key", key, "error", err)
	}
	m.logger.Info("setting updated", "key", key, "value", value)
	return nil
}

// Reset removes the stored value of key so its default applies again,
// and returns that default.
func (m *Manager) Reset(key string) (string, error) {
	if _, ok := m.lookup(key); !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	def := m.defaults[key]

	m.mu.Lock()
	defer m.mu.Unlock()

	prev, err := m.store.GetSetting(key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return def, nil
	case err != nil:
		return "", fmt.Errorf("reading setting %s: %w", key, err)
	}

	if err := m.store.DeleteSetting(key); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("deleting setting %s: %w", key, err)
	}
	m.cached = nil

	if prev != def {
		change := storage.Change{
			ID:        uuid.New().String(),
			Key:       key,
			OldValue:  &prev,
			NewValue:  def,
			ChangedAt: m.clock.Now(),
		}
		if err := m.store.RecordChange(change); err != nil {
			m.logger.Warn("recording settings change failed", "key", key, "error", err)
		}
	}
	m.logger.Info("setting reset", "key", key, "value", def)
	return def, nil
}

// History returns the most recent changes, newest first.
func (m *Manager) History(limit int) ([]storage.Change, error) {
	if limit <= 0 {
		limit = 20
	}
	changes, err := m.store.ListChanges(limit)
	if err != nil {
		return nil, fmt.Errorf("listing settings history: %w", err)
	}
	return changes, nil
}

func copyMap(src map[string]string) map[string]string {
	cp := make(map[string]string, len(src))
	for k, v := range src {
		cp[k] = v
	}
	return cp
}
