package settings

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/vastfmt/internal/hardware"
	"github.com/kalambet/vastfmt/internal/storage"
)

// --- Mock store ---

type mockStore struct {
	mu      sync.Mutex
	data    map[string]string
	changes []storage.Change

	allCalls int
}

func newMockStore() *mockStore {
	return &mockStore{data: make(map[string]string)}
}

func (m *mockStore) GetSetting(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

func (m *mockStore) SetSetting(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mockStore) AllSettings() (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allCalls++
	cp := make(map[string]string, len(m.data))
	for k, v := range m.data {
		cp[k] = v
	}
	return cp, nil
}

func (m *mockStore) DeleteSetting(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		return storage.ErrNotFound
	}
	delete(m.data, key)
	return nil
}

func (m *mockStore) RecordChange(c storage.Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changes = append(m.changes, c)
	return nil
}

func (m *mockStore) ListChanges(limit int) ([]storage.Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Change
	for i := len(m.changes) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.changes[i])
	}
	return out, nil
}

// --- Mock clock ---

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(store Store) (*Manager, *mockClock) {
	clock := &mockClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewManagerWithClock(store, nil, clock, time.Minute), clock
}

func TestEnsureDefaults_FillsMissing(t *testing.T) {
	store := newMockStore()
	m, _ := newTestManager(store)

	if err := m.EnsureDefaults(); err != nil {
		t.Fatalf("EnsureDefaults: %v", err)
	}
	for _, k := range Keys {
		if got := store.data[k.Name]; got != k.Default {
			t.Errorf("%s = %q, want %q", k.Name, got, k.Default)
		}
	}
}

func TestEnsureDefaults_EmptyValues(t *testing.T) {
	store := newMockStore()
	store.data[Frequency] = ""
	store.data[StationText] = ""
	store.data[Power] = "95"
	m, _ := newTestManager(store)

	if err := m.EnsureDefaults(); err != nil {
		t.Fatalf("EnsureDefaults: %v", err)
	}
	if store.data[Frequency] != "100.10" {
		t.Errorf("empty Frequency = %q, want default", store.data[Frequency])
	}
	if store.data[StationText] != "" {
		t.Errorf("empty StationText = %q, want it kept empty", store.data[StationText])
	}
	if store.data[Power] != "95" {
		t.Errorf("Power = %q, want existing 95", store.data[Power])
	}
}

func TestEnsureDefaults_ProfileDefaults(t *testing.T) {
	store := newMockStore()
	m := NewManager(store, map[string]string{ResetPin: "14"})

	if err := m.EnsureDefaults(); err != nil {
		t.Fatal(err)
	}
	if store.data[ResetPin] != "14" {
		t.Errorf("ResetPin = %q, want 14", store.data[ResetPin])
	}
	if m.Default(ResetPin) != "14" {
		t.Errorf("Default(ResetPin) = %q", m.Default(ResetPin))
	}
}

func TestAll_MergesDefaults(t *testing.T) {
	store := newMockStore()
	store.data[Power] = "100"
	m, _ := newTestManager(store)

	all, err := m.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != len(Keys) {
		t.Errorf("got %d settings, want %d", len(all), len(Keys))
	}
	if all[Power] != "100" {
		t.Errorf("Power = %q, want 100", all[Power])
	}
	if all[Pty] != "2" {
		t.Errorf("Pty = %q, want default 2", all[Pty])
	}
}

func TestAll_Cache(t *testing.T) {
	store := newMockStore()
	m, clock := newTestManager(store)

	for i := 0; i < 3; i++ {
		if _, err := m.All(); err != nil {
			t.Fatal(err)
		}
	}
	if store.allCalls != 1 {
		t.Errorf("store hit %d times, want 1", store.allCalls)
	}

	clock.Advance(2 * time.Minute)
	if _, err := m.All(); err != nil {
		t.Fatal(err)
	}
	if store.allCalls != 2 {
		t.Errorf("store hit %d times after TTL, want 2", store.allCalls)
	}
}

func TestAll_ReturnsCopy(t *testing.T) {
	m, _ := newTestManager(newMockStore())

	all, _ := m.All()
	all[Power] = "mutated"

	again, _ := m.All()
	if again[Power] == "mutated" {
		t.Error("All returned the cached map itself")
	}
}

func TestSet_ValidatesAndInvalidates(t *testing.T) {
	store := newMockStore()
	m, _ := newTestManager(store)

	if _, err := m.All(); err != nil {
		t.Fatal(err)
	}

	got, err := m.Set(Frequency, "88.1")
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got != "88.10" {
		t.Errorf("Set returned %q, want 88.10", got)
	}

	v, err := m.Get(Frequency)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "88.10" {
		t.Errorf("Get after Set = %q, want 88.10 (stale cache?)", v)
	}
}

func TestSet_RecordsHistory(t *testing.T) {
	store := newMockStore()
	m, _ := newTestManager(store)

	if _, err := m.Set(Power, "100"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Set(Power, "105"); err != nil {
		t.Fatal(err)
	}
	// Same value again records nothing.
	if _, err := m.Set(Power, "105"); err != nil {
		t.Fatal(err)
	}

	hist, err := m.History(10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("got %d changes, want 2", len(hist))
	}
	if hist[0].NewValue != "105" || hist[0].OldValue == nil || *hist[0].OldValue != "100" {
		t.Errorf("latest change = %+v", hist[0])
	}
	if hist[1].OldValue != nil {
		t.Errorf("first change OldValue = %q, want nil", *hist[1].OldValue)
	}
	if hist[0].ID == "" || hist[0].ID == hist[1].ID {
		t.Errorf("change IDs not unique: %q, %q", hist[0].ID, hist[1].ID)
	}
}

func TestSet_Errors(t *testing.T) {
	m, _ := newTestManager(newMockStore())

	if _, err := m.Set("Volume", "5"); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("unknown key err = %v, want ErrUnknownKey", err)
	}
	var ve *ValidationError
	if _, err := m.Set(Pty, "99"); !errors.As(err, &ve) {
		t.Errorf("invalid value err = %v, want ValidationError", err)
	}
	if _, err := m.Get("Volume"); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("Get unknown key err = %v, want ErrUnknownKey", err)
	}
}

func TestSetMany_AllOrNothing(t *testing.T) {
	store := newMockStore()
	m, _ := newTestManager(store)

	_, err := m.SetMany(map[string]string{
		Frequency: "90.5",
		Power:     "999",
		Pty:       "40",
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("err = %v, want ValidationError", err)
	}
	if _, ok := store.data[Frequency]; ok {
		t.Error("valid value stored despite sibling validation failure")
	}

	got, err := m.SetMany(map[string]string{Frequency: "90.5", EnableRDS: "true"})
	if err != nil {
		t.Fatalf("SetMany: %v", err)
	}
	if got[Frequency] != "90.50" || got[EnableRDS] != "True" {
		t.Errorf("SetMany returned %v", got)
	}
	if store.data[EnableRDS] != "True" {
		t.Errorf("EnableRDS stored as %q", store.data[EnableRDS])
	}
}

func TestReset(t *testing.T) {
	store := newMockStore()
	m, _ := newTestManager(store)

	if _, err := m.Set(Power, "100"); err != nil {
		t.Fatal(err)
	}
	def, err := m.Reset(Power)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if def != "110" {
		t.Errorf("Reset returned %q, want 110", def)
	}
	if _, ok := store.data[Power]; ok {
		t.Error("Power still stored after Reset")
	}
	if got, _ := m.Get(Power); got != "110" {
		t.Errorf("Get after Reset = %q, want 110", got)
	}

	hist, _ := m.History(10)
	if len(hist) != 2 {
		t.Fatalf("got %d changes, want 2", len(hist))
	}
	if hist[0].NewValue != "110" || hist[0].OldValue == nil || *hist[0].OldValue != "100" {
		t.Errorf("reset change = %+v", hist[0])
	}

	// Resetting a key with nothing stored is a no-op.
	if _, err := m.Reset(Power); err != nil {
		t.Errorf("second Reset: %v", err)
	}
	if hist, _ := m.History(10); len(hist) != 2 {
		t.Errorf("second Reset recorded a change: %d entries", len(hist))
	}

	if _, err := m.Reset("Volume"); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("Reset unknown key err = %v, want ErrUnknownKey", err)
	}
}

func TestWithKeys_RestrictsConnection(t *testing.T) {
	p := hardware.Profile{Name: "Si4713", Connections: []string{"I2C"}}
	store := newMockStore()
	m, _ := newTestManager(store)
	m = m.WithKeys(KeysFor(p))

	var ve *ValidationError
	if _, err := m.Set(Connection, "USB"); !errors.As(err, &ve) {
		t.Errorf("Set Connection=USB err = %v, want ValidationError", err)
	}
	if got, err := m.Set(Connection, "i2c"); err != nil || got != "I2C" {
		t.Errorf("Set Connection=i2c = %q, %v", got, err)
	}
	if d := m.Default(Connection); d != "I2C" {
		t.Errorf("Default(Connection) = %q, want I2C", d)
	}
}

func TestManager_WithSQLiteStore(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	m := NewManager(store, nil)
	if err := m.EnsureDefaults(); err != nil {
		t.Fatalf("EnsureDefaults: %v", err)
	}
	if _, err := m.Set(StationText, "VAST FM"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v, err := store.GetSetting(StationText)
	if err != nil {
		t.Fatal(err)
	}
	if v != "VAST FM" {
		t.Errorf("StationText = %q", v)
	}

	hist, err := m.History(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || hist[0].Key != StationText {
		t.Errorf("history = %+v", hist)
	}
}

func TestReset_WithSQLiteStore(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	m := NewManager(store, nil)
	if _, err := m.Set(Frequency, "90.5"); err != nil {
		t.Fatal(err)
	}
	def, err := m.Reset(Frequency)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if def != "100.10" {
		t.Errorf("Reset returned %q, want 100.10", def)
	}
	if _, err := store.GetSetting(Frequency); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetSetting after Reset err = %v, want ErrNotFound", err)
	}
}
