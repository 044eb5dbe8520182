package eventlog

import (
	"fmt"
	"strconv"
)

// encodeOffset zero-pads n to offsetWidth digits so that lexicographic
// string comparison agrees with numeric order (spec §3, Offset).
func encodeOffset(n uint64) Offset {
	return Offset(fmt.Sprintf("%0*d", offsetWidth, n))
}

// decodeOffset parses an encoded Offset back into its numeric value. It
// returns false for NoOffset or any malformed value.
func decodeOffset(o Offset) (uint64, bool) {
	if o == NoOffset || o == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(string(o), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// After reports whether a is strictly greater than b, per the lexicographic
// (equivalently numeric, by construction) ordering defined in spec §3.
// NoOffset sorts before every real offset.
func After(a, b Offset) bool {
	if b == NoOffset {
		return a != NoOffset
	}
	if a == NoOffset {
		return false
	}
	return a > b
}
