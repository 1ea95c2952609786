// Package state persists per-device light and mic state for dmxd.
// The stored record is what lets a controller restore the last-used pattern
// and brightness after a daemon restart.
package state

import (
	"database/sql"
	"sync"
	"time"
)

// DeviceState is the persisted snapshot for one device address.
type DeviceState struct {
	Address        string
	LightPower     bool
	ColorR         uint8
	ColorG         uint8
	ColorB         uint8
	Brightness     uint8
	ActivePattern  int
	LastPattern    int
	Effect         string
	MicPower       bool
	MicSensitivity uint8
	UpdatedAt      time.Time
}

// Store provides device state storage backed by SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore creates a new Store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get retrieves the stored state for an address. Returns nil without error
// when no snapshot exists yet.
func (s *Store) Get(address string) (*DeviceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st DeviceState
	var lightPower, micPower int
	var updatedAt int64

	err := s.db.QueryRow(`
		SELECT address, light_power, color_r, color_g, color_b, brightness,
		       active_pattern, last_pattern, effect, mic_power, mic_sensitivity, updated_at
		FROM device_state
		WHERE address = ?
	`, address).Scan(
		&st.Address, &lightPower, &st.ColorR, &st.ColorG, &st.ColorB, &st.Brightness,
		&st.ActivePattern, &st.LastPattern, &st.Effect, &micPower, &st.MicSensitivity, &updatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	st.LightPower = lightPower == 1
	st.MicPower = micPower == 1
	st.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &st, nil
}

// Save upserts the state snapshot for an address.
func (s *Store) Save(st *DeviceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Unix()

	_, err := s.db.Exec(`
		INSERT INTO device_state (
			address, light_power, color_r, color_g, color_b, brightness,
			active_pattern, last_pattern, effect, mic_power, mic_sensitivity, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			light_power = excluded.light_power,
			color_r = excluded.color_r,
			color_g = excluded.color_g,
			color_b = excluded.color_b,
			brightness = excluded.brightness,
			active_pattern = excluded.active_pattern,
			last_pattern = excluded.last_pattern,
			effect = excluded.effect,
			mic_power = excluded.mic_power,
			mic_sensitivity = excluded.mic_sensitivity,
			updated_at = excluded.updated_at
	`, st.Address, boolToInt(st.LightPower), st.ColorR, st.ColorG, st.ColorB, st.Brightness,
		st.ActivePattern, st.LastPattern, st.Effect, boolToInt(st.MicPower), st.MicSensitivity, now)

	return err
}

// Delete removes the snapshot for an address. Deleting a missing row is not
// an error.
func (s *Store) Delete(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM device_state WHERE address = ?`, address)
	return err
}

// Clear removes all stored device state.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM device_state`)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
