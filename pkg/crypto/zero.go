package crypto

import "crypto/subtle"

// Zeroize overwrites b with zeros in a way the compiler will not elide.
func Zeroize(b []byte) {
	if len(b) == 0 {
		return
	}
	subtle.ConstantTimeCopy(1, b, make([]byte, len(b)))
}
