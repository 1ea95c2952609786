package device

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/dmxd/internal/ble"
	"github.com/dokzlo13/dmxd/internal/config"
	"github.com/dokzlo13/dmxd/internal/eventbus"
	"github.com/dokzlo13/dmxd/internal/patterns"
	"github.com/dokzlo13/dmxd/internal/state"
)

// Device bundles the controllers and the transport session for one
// configured LEDDMX controller.
type Device struct {
	Name    string
	Address string
	Light   *Light
	Mic     *Mic

	arbiter *Arbiter
	session frameWriter
}

// Close releases the device's transport session. Idempotent.
func (d *Device) Close() error {
	return d.session.Close()
}

// Manager owns all configured devices: it builds the controller pair plus
// link session per device, seeds them from persisted state, and tears the
// sessions down on shutdown or removal.
type Manager struct {
	mu        sync.RWMutex
	devices   map[string]*Device
	byAddress map[string]*Device
	store     *state.Store
}

// NewManager builds a device for every config entry. State snapshots from a
// previous run are loaded so restore-on-power-on survives restarts.
func NewManager(cfg *config.Config, link ble.Link, store *state.Store, bus *eventbus.Bus) (*Manager, error) {
	m := &Manager{
		devices:   make(map[string]*Device),
		byAddress: make(map[string]*Device),
		store:     store,
	}

	for _, devCfg := range cfg.Devices {
		if devCfg.Name == "" || devCfg.Address == "" {
			return nil, fmt.Errorf("device entry needs both name and address (name=%q address=%q)", devCfg.Name, devCfg.Address)
		}
		if _, exists := m.devices[devCfg.Name]; exists {
			return nil, fmt.Errorf("duplicate device name %q", devCfg.Name)
		}
		if _, exists := m.byAddress[devCfg.Address]; exists {
			return nil, fmt.Errorf("duplicate device address %q", devCfg.Address)
		}

		dev, err := newDevice(cfg, devCfg, link, store, bus)
		if err != nil {
			return nil, err
		}
		m.devices[dev.Name] = dev
		m.byAddress[dev.Address] = dev

		log.Info().Str("device", dev.Name).Str("address", dev.Address).Msg("Device configured")
	}

	return m, nil
}

func newDevice(cfg *config.Config, devCfg config.DeviceConfig, link ble.Link, store *state.Store, bus *eventbus.Bus) (*Device, error) {
	policy := Policy{
		SettleDelay:    cfg.BLE.SettleDelay.Duration(),
		ResetDelay:     cfg.BLE.ResetDelay.Duration(),
		FrameGap:       cfg.BLE.FrameGap.Duration(),
		RedundantSends: cfg.BLE.RedundantSends,
		Optimistic:     cfg.BLE.IsOptimistic(),
	}

	session := ble.NewSession(link, devCfg.Address, cfg.BLE.ConnectAttempts, cfg.BLE.WriteRate)
	arbiter := newArbiter(policy.SettleDelay)

	dev := &Device{
		Name:    devCfg.Name,
		Address: devCfg.Address,
		arbiter: arbiter,
		session: session,
	}

	light := &Light{
		name:        devCfg.Name,
		writer:      session,
		arbiter:     arbiter,
		policy:      policy,
		color:       [3]uint8{255, 255, 255},
		brightness:  255,
		lastPattern: patterns.MinIndex,
		effect:      patterns.Name(patterns.MinIndex),
	}
	mic := &Mic{
		name:        devCfg.Name,
		writer:      session,
		arbiter:     arbiter,
		policy:      policy,
		sensitivity: 1,
	}

	// Seed from the previous run's snapshot. Power always starts false: the
	// daemon cannot know what happened to the device while it was down.
	if store != nil {
		snap, err := store.Get(devCfg.Address)
		if err != nil {
			return nil, fmt.Errorf("failed to load state for %s: %w", devCfg.Address, err)
		}
		if snap != nil {
			light.color = [3]uint8{snap.ColorR, snap.ColorG, snap.ColorB}
			light.brightness = snap.Brightness
			light.lastPattern = snap.LastPattern
			if snap.Effect != "" {
				light.effect = snap.Effect
			}
			if snap.MicSensitivity > 0 {
				mic.sensitivity = snap.MicSensitivity
			}
		}
	}

	// Persistence and event publication run on every state change, with the
	// arbiter mutex held, so the snapshot is always consistent.
	persist := func() {
		if store == nil {
			return
		}
		err := store.Save(&state.DeviceState{
			Address:        dev.Address,
			LightPower:     light.power,
			ColorR:         light.color[0],
			ColorG:         light.color[1],
			ColorB:         light.color[2],
			Brightness:     light.brightness,
			ActivePattern:  light.activePattern,
			LastPattern:    light.lastPattern,
			Effect:         light.effect,
			MicPower:       mic.power,
			MicSensitivity: mic.sensitivity,
		})
		if err != nil {
			log.Error().Err(err).Str("device", dev.Name).Msg("Failed to persist device state")
		}
	}

	light.notify = func() {
		persist()
		if bus != nil {
			bus.Publish(eventbus.EventTypeLightState, dev.Name, map[string]interface{}{
				"power":      light.power,
				"color":      []int{int(light.color[0]), int(light.color[1]), int(light.color[2])},
				"brightness": int(light.brightness),
				"effect":     light.effect,
				"pattern":    light.activePattern,
			})
		}
	}
	mic.notify = func() {
		persist()
		if bus != nil {
			bus.Publish(eventbus.EventTypeMicState, dev.Name, map[string]interface{}{
				"power":       mic.power,
				"sensitivity": int(mic.sensitivity),
			})
		}
	}

	arbiter.bind(light, mic)
	dev.Light = light
	dev.Mic = mic
	return dev, nil
}

// Device looks a device up by name.
func (m *Manager) Device(name string) (*Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dev, ok := m.devices[name]
	return dev, ok
}

// ByAddress looks a device up by hardware address.
func (m *Manager) ByAddress(address string) (*Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dev, ok := m.byAddress[address]
	return dev, ok
}

// Devices returns all devices sorted by name.
func (m *Manager) Devices() []*Device {
	m.mu.RLock()
	defer m.mu.RUnlock()

	devices := make([]*Device, 0, len(m.devices))
	for _, dev := range m.devices {
		devices = append(devices, dev)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })
	return devices
}

// Remove unregisters a device, closes its session and discards its
// persisted state. In-flight writes finish or fail on their own.
func (m *Manager) Remove(name string) error {
	m.mu.Lock()
	dev, ok := m.devices[name]
	if ok {
		delete(m.devices, name)
		delete(m.byAddress, dev.Address)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown device %q", name)
	}

	if err := dev.Close(); err != nil {
		log.Warn().Err(err).Str("device", name).Msg("Error closing device session")
	}
	if m.store != nil {
		if err := m.store.Delete(dev.Address); err != nil {
			log.Warn().Err(err).Str("device", name).Msg("Failed to delete persisted state")
		}
	}

	log.Info().Str("device", name).Msg("Device removed")
	return nil
}

// Close tears down all device sessions. Idempotent.
func (m *Manager) Close() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, dev := range m.devices {
		if err := dev.Close(); err != nil {
			log.Warn().Err(err).Str("device", dev.Name).Msg("Error closing device session")
		}
	}
}
