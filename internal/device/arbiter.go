// Package device implements the stateful controllers for LEDDMX devices:
// the manual light controller, the sound-reactive mic controller, and the
// arbiter that keeps the two mutually exclusive.
package device

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/dmxd/internal/ble"
)

// Policy collects the timing and reliability knobs for one device. The
// firmware needs settle time between mode switches and tolerates frame loss,
// so mic frames are repeated.
type Policy struct {
	// SettleDelay is the wait after forcing the opposite mode off before
	// the new mode's frames are sent.
	SettleDelay time.Duration

	// ResetDelay is the wait between the power-off and power-on frames of
	// the mic-mode firmware reset cycle.
	ResetDelay time.Duration

	// FrameGap is the wait between redundant sends of the same frame.
	FrameGap time.Duration

	// RedundantSends is how many times mic frames are repeated. The device
	// occasionally drops a frame; repeats are safe since the payload is
	// unchanged.
	RedundantSends int

	// Optimistic keeps local state updates even when a write fails, so the
	// presentation layer stays responsive and the device is treated as
	// eventually consistent. When false, failed intents leave state
	// untouched and surface the error.
	Optimistic bool
}

// DefaultPolicy returns the timings observed to work with LEDDMX firmware.
func DefaultPolicy() Policy {
	return Policy{
		SettleDelay:    200 * time.Millisecond,
		ResetDelay:     100 * time.Millisecond,
		FrameGap:       50 * time.Millisecond,
		RedundantSends: 2,
		Optimistic:     true,
	}
}

// frameWriter is the transport surface the controllers need. Satisfied by
// *ble.Session.
type frameWriter interface {
	Write(ctx context.Context, frame []byte) error
	Close() error
}

// Arbiter owns the per-device intent lock and the mutual exclusion between
// the light and mic controllers. Both controllers run every intent under the
// arbiter's mutex, so multi-frame sequences never interleave, and force the
// opposite mode off through the arbiter rather than through sibling
// references.
type Arbiter struct {
	mu     sync.Mutex
	light  *Light
	mic    *Mic
	settle time.Duration
}

func newArbiter(settle time.Duration) *Arbiter {
	return &Arbiter{settle: settle}
}

// bind wires the two controllers in. Called once during device setup.
func (a *Arbiter) bind(light *Light, mic *Mic) {
	a.light = light
	a.mic = mic
}

// ensureMicOff forces the mic controller off before a light intent runs.
// Caller holds the arbiter mutex.
func (a *Arbiter) ensureMicOff(ctx context.Context) error {
	if a.mic == nil || !a.mic.power {
		return nil
	}
	log.Debug().Str("device", a.mic.name).Msg("Microphone active, forcing it off")
	if err := a.mic.forceOffLocked(ctx); err != nil {
		return err
	}
	return sleepCtx(ctx, a.settle)
}

// ensureLightOff forces the light controller off before a mic intent runs.
// Caller holds the arbiter mutex.
func (a *Arbiter) ensureLightOff(ctx context.Context) error {
	if a.light == nil || !a.light.power {
		return nil
	}
	log.Debug().Str("device", a.light.name).Msg("Main light active, forcing it off")
	if err := a.light.forceOffLocked(ctx); err != nil {
		return err
	}
	return sleepCtx(ctx, a.settle)
}

// sleepCtx waits for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// writeFrame applies the optimistic-update policy to a single frame write.
// An unreachable device always aborts the intent; connect and write failures
// are swallowed (logged) when the policy is optimistic, since the session
// already dropped its connection and the next write reconnects.
func writeFrame(ctx context.Context, w frameWriter, name string, frame []byte, optimistic bool) error {
	err := w.Write(ctx, frame)
	if err == nil {
		return nil
	}
	if errors.Is(err, ble.ErrDeviceUnreachable) {
		return err
	}
	if optimistic {
		log.Warn().Err(err).Str("device", name).Msg("Frame write failed, keeping optimistic state")
		return nil
	}
	return err
}
