package device

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/dmxd/internal/protocol"
)

// MicState is a snapshot of the sound-reactive mode controller.
type MicState struct {
	Power       bool
	Sensitivity uint8 // last used EQ/sensitivity value, never 0
}

// Mic is the stateful controller for the sound-reactive microphone mode.
// Sensitivity 0 is the wire encoding for "mic off" and is never sent while
// turning the mode on.
type Mic struct {
	name    string
	writer  frameWriter
	arbiter *Arbiter
	policy  Policy
	notify  func()

	// Guarded by the arbiter mutex.
	power       bool
	sensitivity uint8
}

// State returns a snapshot of the controller state.
func (m *Mic) State() MicState {
	m.arbiter.mu.Lock()
	defer m.arbiter.mu.Unlock()
	return MicState{Power: m.power, Sensitivity: m.sensitivity}
}

// TurnOn activates the microphone mode. sensitivity 0 reuses the previous
// value. The device does not reliably switch modes without a full power
// cycle, so power-off and power-on frames precede the mic frame.
func (m *Mic) TurnOn(ctx context.Context, sensitivity uint8) error {
	m.arbiter.mu.Lock()
	defer m.arbiter.mu.Unlock()

	if err := m.arbiter.ensureLightOff(ctx); err != nil {
		return err
	}

	// Firmware mode reset: full power cycle before entering mic mode.
	if err := writeFrame(ctx, m.writer, m.name, protocol.Power(false), m.policy.Optimistic); err != nil {
		return err
	}
	if err := sleepCtx(ctx, m.policy.ResetDelay); err != nil {
		return err
	}
	if err := writeFrame(ctx, m.writer, m.name, protocol.Power(true), m.policy.Optimistic); err != nil {
		return err
	}
	if err := sleepCtx(ctx, m.policy.ResetDelay); err != nil {
		return err
	}

	if sensitivity == protocol.MicOff {
		sensitivity = m.sensitivity
	}
	if sensitivity == protocol.MicOff {
		sensitivity = 1
	}

	log.Debug().Str("device", m.name).Uint8("sensitivity", sensitivity).Msg("Enabling microphone mode")
	if err := m.sendRepeatedLocked(ctx, protocol.Mic(sensitivity)); err != nil {
		return err
	}

	m.power = true
	m.sensitivity = sensitivity
	m.notifyLocked()
	return nil
}

// TurnOff disables the microphone mode and powers the device off for a full
// reset.
func (m *Mic) TurnOff(ctx context.Context) error {
	m.arbiter.mu.Lock()
	defer m.arbiter.mu.Unlock()

	if err := m.forceOffLocked(ctx); err != nil {
		return err
	}
	return writeFrame(ctx, m.writer, m.name, protocol.Power(false), m.policy.Optimistic)
}

// forceOffLocked sends the mic-disable frames and updates local state. Also
// used by the arbiter when the light controller takes over; that path skips
// the trailing power-off since the light is about to power the device on.
// Caller holds the arbiter mutex.
func (m *Mic) forceOffLocked(ctx context.Context) error {
	if err := m.sendRepeatedLocked(ctx, protocol.Mic(protocol.MicOff)); err != nil {
		return err
	}
	m.power = false
	m.notifyLocked()
	return nil
}

// sendRepeatedLocked writes the same frame RedundantSends times with a short
// gap. The payload is identical, so repeats carry no idempotence risk.
func (m *Mic) sendRepeatedLocked(ctx context.Context, frame []byte) error {
	sends := m.policy.RedundantSends
	if sends < 1 {
		sends = 1
	}
	for i := 0; i < sends; i++ {
		if i > 0 {
			if err := sleepCtx(ctx, m.policy.FrameGap); err != nil {
				return err
			}
		}
		if err := writeFrame(ctx, m.writer, m.name, frame, m.policy.Optimistic); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mic) notifyLocked() {
	if m.notify != nil {
		m.notify()
	}
}
