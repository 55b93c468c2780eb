package coap

// Variable-length integer codec (spec.md section 4.1). A non-negative
// integer is packed into the minimum number of big-endian octets; zero
// packs as a single zero octet.

// vlintLen returns the number of octets packVlint would produce for value.
func vlintLen(value uint64) int {
	octets := 1
	for (uint64(1) << uint(8*octets)) <= value {
		octets++
		if octets == 8 {
			break
		}
	}
	return octets
}

// packVlint encodes value as the minimum-width big-endian octet sequence.
func packVlint(value uint64) []byte {
	if value == 0 {
		return []byte{0}
	}
	n := vlintLen(value)
	out := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = byte(value & 0xFF)
		value >>= 8
	}
	return out
}

// unpackVlint decodes a big-endian octet sequence produced by packVlint.
// It accumulates every supplied octet, so a caller that slices out exactly
// the option's value bytes gets the original integer back.
func unpackVlint(packed []byte) uint64 {
	var value uint64
	for _, b := range packed {
		value = (value << 8) | uint64(b)
	}
	return value
}
