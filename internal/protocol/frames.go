// Package protocol builds the fixed-format command frames understood by
// LEDDMX BLE controllers.
//
// Every frame starts with the two-byte preamble 0x7B 0xFF, carries a one-byte
// opcode plus opcode-specific payload, and ends with the trailer byte 0xBF.
// The device never acknowledges a frame; ordering relies entirely on
// send-order serialization upstream.
package protocol

// Frame layout constants.
const (
	PreambleHigh = 0x7B
	PreambleLow  = 0xFF
	Trailer      = 0xBF

	OpBrightness = 0x01
	OpPattern    = 0x03
	OpPower      = 0x04
	OpColor      = 0x07
	OpMic        = 0x0B

	powerOnArg  = 0x03
	powerOffArg = 0x02

	// MicOff is the sensitivity value that disables the microphone mode.
	MicOff = 0x00

	// FrameSize is the wire size of every command frame.
	FrameSize = 9
)

// Power builds the power-on or power-off frame.
func Power(on bool) []byte {
	arg := byte(powerOffArg)
	if on {
		arg = powerOnArg
	}
	return []byte{PreambleHigh, PreambleLow, OpPower, arg, 0xFF, 0xFF, 0xFF, 0xFF, Trailer}
}

// Brightness builds the brightness frame for a level in [0,255].
// The device expects two derived values: a percentage in [0,100] and a
// scaled value in [0,32], both integer-truncating.
func Brightness(level uint8) []byte {
	percent := byte(int(level) * 100 / 255)
	scaled := byte(int(percent) * 32 / 100)
	return []byte{PreambleHigh, PreambleLow, OpBrightness, scaled, percent, 0x00, 0xFF, 0xFF, Trailer}
}

// Pattern builds the pattern-select frame for a raw catalog index.
// Callers clamp the index to the catalog range before encoding.
func Pattern(index uint8) []byte {
	return []byte{PreambleHigh, PreambleLow, OpPattern, index, 0xFF, 0xFF, 0xFF, 0xFF, Trailer}
}

// Color builds the solid-color frame. The wire order is G, B, R - not RGB.
func Color(r, g, b uint8) []byte {
	return []byte{PreambleHigh, PreambleLow, OpColor, g, b, r, 0x00, 0xFF, Trailer}
}

// Mic builds the microphone sensitivity frame. Sensitivity 0 disables the
// sound-reactive mode; callers must not send 0 while intending the mic on.
func Mic(sensitivity uint8) []byte {
	return []byte{PreambleHigh, PreambleLow, OpMic, sensitivity, 0x00, 0xFF, 0xFF, 0xFF, Trailer}
}
