package device

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/dmxd/internal/patterns"
	"github.com/dokzlo13/dmxd/internal/protocol"
)

// LightState is a snapshot of the manual light controller.
type LightState struct {
	Power         bool
	Color         [3]uint8
	Brightness    uint8
	ActivePattern int // 0 while off or showing a solid color
	LastPattern   int // restored on bare power-on; 0 after a solid color
	Effect        string
}

// TurnOnRequest carries the optional parameters of a turn-on intent. Nil
// fields keep the current value; an empty request is a bare power-on that
// restores the last pattern.
type TurnOnRequest struct {
	Color      *[3]uint8
	Effect     *string
	Brightness *uint8
}

// Light is the stateful controller for the manual RGB/pattern mode.
//
// The device firmware requires a strict frame order: power-on before any
// data frame, and pattern/color frames never interleaved with brightness
// frames. Ordering is enforced here; the suppression flag prevents a
// brightness write from sneaking between a pattern write and its follow-up.
type Light struct {
	name    string
	writer  frameWriter
	arbiter *Arbiter
	policy  Policy

	// notify is called after every state change with the arbiter mutex
	// held. The manager uses it for persistence and event publishing.
	notify func()

	// All fields below are guarded by the arbiter mutex.
	power              bool
	color              [3]uint8
	brightness         uint8
	activePattern      int
	lastPattern        int
	effect             string
	suppressBrightness bool
}

// State returns a snapshot of the controller state.
func (l *Light) State() LightState {
	l.arbiter.mu.Lock()
	defer l.arbiter.mu.Unlock()
	return l.stateLocked()
}

func (l *Light) stateLocked() LightState {
	return LightState{
		Power:         l.power,
		Color:         l.color,
		Brightness:    l.brightness,
		ActivePattern: l.activePattern,
		LastPattern:   l.lastPattern,
		Effect:        l.effect,
	}
}

// TurnOn handles a turn-on intent. The whole multi-frame sequence runs under
// the device intent lock so concurrent intents cannot interleave frames.
func (l *Light) TurnOn(ctx context.Context, req TurnOnRequest) error {
	l.arbiter.mu.Lock()
	defer l.arbiter.mu.Unlock()

	if err := l.arbiter.ensureMicOff(ctx); err != nil {
		return err
	}

	wasOff := !l.power

	switch {
	case req.Effect != nil:
		index, ok := patterns.Index(*req.Effect)
		if !ok {
			index = patterns.ExtractIndex(*req.Effect)
		}
		if index == patterns.SolidColor {
			// "Solid Color" is not a pattern; re-issue the stored color.
			return l.turnOnColorLocked(ctx, l.color, req.Brightness, wasOff)
		}
		if wasOff {
			if err := writeFrame(ctx, l.writer, l.name, protocol.Power(true), l.policy.Optimistic); err != nil {
				return err
			}
		}
		if err := l.sendPatternSequenceLocked(ctx, index, req.Brightness, wasOff); err != nil {
			return err
		}

	case req.Color != nil:
		return l.turnOnColorLocked(ctx, *req.Color, req.Brightness, wasOff)

	case req.Brightness != nil:
		if wasOff {
			if err := writeFrame(ctx, l.writer, l.name, protocol.Power(true), l.policy.Optimistic); err != nil {
				return err
			}
			if err := l.restorePatternLocked(ctx); err != nil {
				return err
			}
		}
		if err := l.setBrightnessLocked(ctx, *req.Brightness, false); err != nil {
			return err
		}

	default:
		if wasOff {
			if err := writeFrame(ctx, l.writer, l.name, protocol.Power(true), l.policy.Optimistic); err != nil {
				return err
			}
			if err := l.restorePatternLocked(ctx); err != nil {
				return err
			}
		}
	}

	l.power = true
	l.notifyLocked()
	return nil
}

// turnOnColorLocked is the solid-color branch of a turn-on intent.
func (l *Light) turnOnColorLocked(ctx context.Context, color [3]uint8, brightness *uint8, wasOff bool) error {
	if wasOff {
		if err := writeFrame(ctx, l.writer, l.name, protocol.Power(true), l.policy.Optimistic); err != nil {
			return err
		}
	}

	l.suppressBrightness = true
	err := l.setColorLocked(ctx, color)
	if err == nil {
		err = l.applyBrightnessLocked(ctx, brightness, wasOff)
	}
	l.suppressBrightness = false
	if err != nil {
		return err
	}

	l.power = true
	l.notifyLocked()
	return nil
}

// sendPatternSequenceLocked writes a pattern frame and its brightness
// follow-up as one unit. The suppression flag is held for the whole sequence;
// the firmware needs the two frames sequential, never interleaved with other
// brightness writes.
func (l *Light) sendPatternSequenceLocked(ctx context.Context, index int, brightness *uint8, wasOff bool) error {
	l.suppressBrightness = true
	err := l.setPatternLocked(ctx, index, true)
	if err == nil {
		err = l.applyBrightnessLocked(ctx, brightness, wasOff)
	}
	l.suppressBrightness = false
	return err
}

// applyBrightnessLocked sends the brightness follow-up of a pattern or color
// write: the requested level if one was supplied, otherwise the stored level
// when powering on with non-max brightness (the device resets itself to full
// brightness on power-on).
func (l *Light) applyBrightnessLocked(ctx context.Context, requested *uint8, wasOff bool) error {
	if requested != nil {
		return l.setBrightnessLocked(ctx, *requested, true)
	}
	if wasOff && l.brightness != 255 {
		return l.setBrightnessLocked(ctx, l.brightness, true)
	}
	return nil
}

// TurnOff sends the power-off frame. The last pattern index survives for
// restore-on-power-on.
func (l *Light) TurnOff(ctx context.Context) error {
	l.arbiter.mu.Lock()
	defer l.arbiter.mu.Unlock()
	return l.forceOffLocked(ctx)
}

// forceOffLocked powers the light off. Also used by the arbiter when the mic
// controller takes over. Caller holds the arbiter mutex.
func (l *Light) forceOffLocked(ctx context.Context) error {
	if err := writeFrame(ctx, l.writer, l.name, protocol.Power(false), l.policy.Optimistic); err != nil {
		return err
	}
	l.power = false
	l.activePattern = 0
	l.notifyLocked()
	return nil
}

// setPatternLocked sends a pattern frame and records it as the last pattern.
func (l *Light) setPatternLocked(ctx context.Context, index int, updateEffect bool) error {
	index = patterns.Clamp(index)
	l.lastPattern = index

	if err := writeFrame(ctx, l.writer, l.name, protocol.Pattern(uint8(index)), l.policy.Optimistic); err != nil {
		return err
	}

	l.activePattern = index
	if updateEffect {
		l.effect = patterns.Name(index)
	}
	return nil
}

// restorePatternLocked re-issues the last pattern after a bare power-on.
// Metadata only: the effect name and brightness are left untouched.
func (l *Light) restorePatternLocked(ctx context.Context) error {
	if l.lastPattern <= patterns.SolidColor {
		return nil
	}
	return l.setPatternLocked(ctx, l.lastPattern, false)
}

// setColorLocked sends a solid-color frame and resets the pattern history to
// the solid-color sentinel.
func (l *Light) setColorLocked(ctx context.Context, color [3]uint8) error {
	if err := writeFrame(ctx, l.writer, l.name, protocol.Color(color[0], color[1], color[2]), l.policy.Optimistic); err != nil {
		return err
	}
	l.color = color
	l.effect = patterns.Name(patterns.SolidColor)
	l.activePattern = patterns.SolidColor
	l.lastPattern = patterns.SolidColor
	return nil
}

// setBrightnessLocked sends a brightness frame unless suppressed.
func (l *Light) setBrightnessLocked(ctx context.Context, level uint8, force bool) error {
	if l.suppressBrightness && !force {
		log.Debug().Str("device", l.name).Msg("Skipping brightness write (suppressed)")
		return nil
	}
	if err := writeFrame(ctx, l.writer, l.name, protocol.Brightness(level), l.policy.Optimistic); err != nil {
		return err
	}
	l.brightness = level
	return nil
}

func (l *Light) notifyLocked() {
	if l.notify != nil {
		l.notify()
	}
}
