package clock

import "github.com/mklimuk/deskclock/rtc"

const (
	fieldWidth = 4
	fieldGap   = 3
)

// Readout renders each value as a binary-coded-decimal column group: every
// field is drawn fieldWidth columns wide, tens digit in the upper nibble
// and units in the lower one, so the panel shows the register contents
// without any font.
func Readout(values ...uint8) []byte {
	out := make([]byte, 0, len(values)*(fieldWidth+fieldGap))
	for i, v := range values {
		if i > 0 {
			out = append(out, make([]byte, fieldGap)...)
		}
		b, _ := rtc.EncodeBCD(v % 100)
		for j := 0; j < fieldWidth; j++ {
			out = append(out, b)
		}
	}
	return out
}

// DayMarker draws a bar in the slot of day: seven slots, Sunday first.
// An unknown day leaves the page blank.
func DayMarker(day rtc.DayOfWeek) []byte {
	out := make([]byte, 7*(fieldWidth+fieldGap)-fieldGap)
	if !day.Valid() {
		return out
	}
	start := int(day) * (fieldWidth + fieldGap)
	for i := start; i < start+fieldWidth; i++ {
		out[i] = 0xFF
	}
	return out
}
