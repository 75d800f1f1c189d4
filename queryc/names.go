package queryc

import "math/rand/v2"

// tempNameLen is the length of generated accumulator field names.
const tempNameLen = 8

// tempName returns a lowercase identifier for an aggregate's accumulator
// field. Names are sampled uniformly with no collision check; 26^8 values
// keep a clash within one compile pass unlikely, not impossible.
func tempName() string {
	b := make([]byte, tempNameLen)
	for i := range b {
		b[i] = byte('a' + rand.IntN(26))
	}
	return string(b)
}
