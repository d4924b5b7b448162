// Package repro manages run reproducibility: a pinned configuration (random
// seed, model pins, environment snapshot) and immutable, content-hashed
// state snapshots persisted as JSON files.
package repro

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Mindburn-Labs/conductor/core/pkg/canonicalize"
)

const configFileName = "reproducibility_config.json"

// Config pins everything a rerun needs to reproduce an execution.
type Config struct {
	RandomSeed          int64             `json:"random_seed"`
	ModelPins           map[string]string `json:"model_pins"`
	EnvironmentSnapshot map[string]any    `json:"environment_snapshot"`
	Timestamp           time.Time         `json:"timestamp"`
}

// Snapshot is an immutable, hashed capture of phase state. StateHash covers
// every field except itself, so any post-hoc edit is detectable.
type Snapshot struct {
	ID         string         `json:"state_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Phase      string         `json:"phase"`
	Data       map[string]any `json:"data"`
	ConfigHash string         `json:"config_hash"`
	StateHash  string         `json:"state_hash"`
}

func (s *Snapshot) computeHash() (string, error) {
	return canonicalize.CanonicalHash(map[string]any{
		"state_id":    s.ID,
		"timestamp":   s.Timestamp,
		"phase":       s.Phase,
		"data":        s.Data,
		"config_hash": s.ConfigHash,
	})
}

// Info reports the active reproducibility configuration.
type Info struct {
	ConfigHash          string            `json:"config_hash"`
	RandomSeed          int64             `json:"random_seed"`
	ModelPins           map[string]string `json:"model_pins"`
	EnvironmentSnapshot map[string]any    `json:"environment_snapshot"`
	Timestamp           time.Time         `json:"timestamp"`
	SnapshotCount       int               `json:"snapshots_count"`
}

// Manager owns the reproducibility config and the snapshot store.
type Manager struct {
	mu         sync.Mutex
	dir        string
	config     Config
	configHash string
	states     map[string]Snapshot
	clock      func() time.Time
}

// NewManager creates a manager with a seed derived from the current time.
func NewManager(dir string) (*Manager, error) {
	seed := time.Now().UTC().UnixMicro() % (1 << 32)
	return NewManagerWithSeed(dir, seed)
}

// NewManagerWithSeed creates a manager with an explicit seed, persisting the
// configuration immediately.
func NewManagerWithSeed(dir string, seed int64) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("repro: create state dir: %w", err)
	}

	m := &Manager{
		dir:    dir,
		states: make(map[string]Snapshot),
		clock:  time.Now,
		config: Config{
			RandomSeed:          seed,
			ModelPins:           map[string]string{},
			EnvironmentSnapshot: map[string]any{},
			Timestamp:           time.Now().UTC(),
		},
	}
	if err := m.rehashAndSave(); err != nil {
		return nil, err
	}
	return m, nil
}

// WithClock overrides the clock for deterministic testing.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// Rand returns a fresh deterministic source seeded from the pinned seed.
func (m *Manager) Rand() *rand.Rand {
	m.mu.Lock()
	defer m.mu.Unlock()
	return rand.New(rand.NewSource(m.config.RandomSeed))
}

// Seed returns the pinned random seed.
func (m *Manager) Seed() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config.RandomSeed
}

// ConfigHash returns the canonical hash of the active configuration.
func (m *Manager) ConfigHash() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configHash
}

func (m *Manager) rehashAndSave() error {
	hash, err := canonicalize.CanonicalHash(m.config)
	if err != nil {
		return fmt.Errorf("repro: hash config: %w", err)
	}
	m.configHash = hash

	persisted := struct {
		Config
		ConfigHash string `json:"config_hash"`
	}{Config: m.config, ConfigHash: hash}

	data, err := json.MarshalIndent(persisted, "", "  ")
	if err != nil {
		return fmt.Errorf("repro: marshal config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(m.dir, configFileName), data, 0o644); err != nil {
		return fmt.Errorf("repro: write config: %w", err)
	}
	return nil
}

// PinModel pins a model to a version and persists the updated config.
func (m *Manager) PinModel(name, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.ModelPins[name] = version
	return m.rehashAndSave()
}

// SetEnvironmentVar records an environment value in the config.
func (m *Manager) SetEnvironmentVar(key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.EnvironmentSnapshot[key] = value
	return m.rehashAndSave()
}

// CreateSnapshot captures phase state as an immutable, hashed record and
// persists it to disk.
func (m *Manager) CreateSnapshot(stateID, phase string, data map[string]any) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		ID:         stateID,
		Timestamp:  m.clock().UTC(),
		Phase:      phase,
		Data:       data,
		ConfigHash: m.configHash,
	}
	hash, err := snap.computeHash()
	if err != nil {
		return Snapshot{}, fmt.Errorf("repro: hash snapshot: %w", err)
	}
	snap.StateHash = hash

	encoded, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return Snapshot{}, fmt.Errorf("repro: marshal snapshot: %w", err)
	}
	if err := os.WriteFile(m.snapshotPath(stateID), encoded, 0o644); err != nil {
		return Snapshot{}, fmt.Errorf("repro: write snapshot: %w", err)
	}

	m.states[stateID] = snap
	return snap, nil
}

func (m *Manager) snapshotPath(stateID string) string {
	return filepath.Join(m.dir, fmt.Sprintf("state_%s.json", stateID))
}

// Snapshot returns a snapshot by ID, falling back to disk when it is not in
// memory.
func (m *Manager) Snapshot(stateID string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(stateID)
}

func (m *Manager) snapshotLocked(stateID string) (Snapshot, bool) {
	if snap, ok := m.states[stateID]; ok {
		return snap, true
	}

	data, err := os.ReadFile(m.snapshotPath(stateID))
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, false
	}
	if err != nil {
		return Snapshot{}, false
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false
	}
	m.states[stateID] = snap
	return snap, true
}

// VerifySnapshot recomputes a snapshot's hash and reports whether it still
// matches the stored one.
func (m *Manager) VerifySnapshot(stateID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, ok := m.snapshotLocked(stateID)
	if !ok {
		return false
	}
	computed, err := snap.computeHash()
	if err != nil {
		return false
	}
	return computed == snap.StateHash
}

// Snapshots returns every stored snapshot, loading any that exist only on
// disk.
func (m *Manager) Snapshots() map[string]Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	matches, _ := filepath.Glob(filepath.Join(m.dir, "state_*.json"))
	for _, path := range matches {
		base := filepath.Base(path)
		stateID := strings.TrimSuffix(strings.TrimPrefix(base, "state_"), ".json")
		if _, ok := m.states[stateID]; !ok {
			m.snapshotLocked(stateID)
		}
	}

	out := make(map[string]Snapshot, len(m.states))
	for id, snap := range m.states {
		out[id] = snap
	}
	return out
}

// ReproducibilityInfo summarizes the active configuration.
func (m *Manager) ReproducibilityInfo() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Info{
		ConfigHash:          m.configHash,
		RandomSeed:          m.config.RandomSeed,
		ModelPins:           m.config.ModelPins,
		EnvironmentSnapshot: m.config.EnvironmentSnapshot,
		Timestamp:           m.config.Timestamp,
		SnapshotCount:       len(m.states),
	}
}

// LoadConfig replaces the active configuration with one read from path,
// recomputing the config hash.
func (m *Manager) LoadConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("repro: read config: %w", err)
	}

	var loaded struct {
		Config
		ConfigHash string `json:"config_hash"`
	}
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("repro: parse config: %w", err)
	}
	if loaded.ModelPins == nil {
		loaded.ModelPins = map[string]string{}
	}
	if loaded.EnvironmentSnapshot == nil {
		loaded.EnvironmentSnapshot = map[string]any{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = loaded.Config
	return m.rehashAndSave()
}
