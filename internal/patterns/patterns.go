// Package patterns holds the built-in effect catalog of LEDDMX controllers.
//
// Patterns are addressed by a one-byte index. Index 0 is the solid-color
// sentinel and never sent as a pattern; the device accepts 1 through 210.
// The catalog names the documented low indices, everything above falls back
// to a synthetic "Pattern N" name.
package patterns

import (
	"fmt"
	"regexp"
	"strconv"
)

const (
	// SolidColor is the reserved index meaning "no pattern, solid color".
	SolidColor = 0

	// MinIndex and MaxIndex bound the pattern range the device accepts.
	MinIndex = 1
	MaxIndex = 210
)

// catalog maps the documented pattern indices to their names. The slice is
// positional: catalog[i] names index i. Index 0 is the solid-color sentinel.
var catalog = []string{
	"Solid Color",
	"Forward Dreaming",
	"Backward Dreaming",
	"Seven Color Gradient",
	"Red Gradient",
	"Green Gradient",
	"Blue Gradient",
	"Yellow Gradient",
	"Cyan Gradient",
	"Purple Gradient",
	"White Gradient",
	"Red Green Crossfade",
	"Red Blue Crossfade",
	"Green Blue Crossfade",
	"Seven Color Strobe",
	"Red Strobe",
	"Green Strobe",
	"Blue Strobe",
	"Yellow Strobe",
	"Cyan Strobe",
	"Purple Strobe",
	"White Strobe",
	"Seven Color Jump",
	"Forward Meteor",
	"Backward Meteor",
	"Seven Color Chase",
	"Red Chase",
	"Green Chase",
	"Blue Chase",
	"Rainbow Wave",
	"Red Wave",
	"Green Wave",
	"Blue Wave",
	"Forward Stacking",
	"Backward Stacking",
	"Seven Color Flow",
	"Red Yellow Flow",
	"Green Cyan Flow",
	"Blue Purple Flow",
	"Twinkle White",
	"Twinkle Rainbow",
	"Breathing Red",
	"Breathing Green",
	"Breathing Blue",
	"Breathing Rainbow",
}

var digits = regexp.MustCompile(`\d+`)

// Name returns the catalog name for an index, or a synthetic "Pattern N"
// name when the index lies beyond the named catalog.
func Name(index int) string {
	if index >= 0 && index < len(catalog) {
		return catalog[index]
	}
	return fmt.Sprintf("Pattern %d", index)
}

// Index looks up a pattern by exact name. The boolean reports whether the
// name exists in the catalog (synthetic "Pattern N" names included).
func Index(name string) (int, bool) {
	for i, n := range catalog {
		if n == name {
			return i, true
		}
	}
	var index int
	if _, err := fmt.Sscanf(name, "Pattern %d", &index); err == nil {
		if index >= MinIndex && index <= MaxIndex {
			return index, true
		}
	}
	return 0, false
}

// ExtractIndex parses the first decimal number embedded in free text and
// clamps it into the valid pattern range. Text without a number maps to the
// lowest valid index.
func ExtractIndex(text string) int {
	m := digits.FindString(text)
	if m == "" {
		return MinIndex
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return MinIndex
	}
	return Clamp(n)
}

// Clamp forces an index into [MinIndex, MaxIndex].
func Clamp(index int) int {
	if index < MinIndex {
		return MinIndex
	}
	if index > MaxIndex {
		return MaxIndex
	}
	return index
}

// Names returns the selectable effect names in catalog order, excluding the
// solid-color sentinel. Used by the presentation layer as the effect list.
func Names() []string {
	names := make([]string, 0, len(catalog)-1)
	for i := MinIndex; i < len(catalog); i++ {
		names = append(names, catalog[i])
	}
	return names
}
