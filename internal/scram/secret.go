package scram

import "unsafe"

// secret is a byte slice holding sensitive material (a password, a derived
// key, a presecret). Zero must be called before the slice is dropped so the
// bytes do not linger in heap memory or in a later allocation reusing the
// same backing array.
type secret []byte

// zero overwrites every byte of s with 0. Safe to call on a nil or
// already-zeroed secret.
func (s secret) zero() {
	for i := range s {
		s[i] = 0
	}
}

// zeroString overwrites the backing array of a string holding sensitive
// material (e.g. a cache entry's hashedPassword) and clears *s. Go strings
// are normally immutable; this reaches through that guarantee on purpose,
// the same way a "secure string" type in a systems-level SCRAM client
// would, because the alternative is leaving password-equivalent bytes
// live in the heap until the GC happens to reclaim them.
func zeroString(s *string) {
	if s == nil || *s == "" {
		return
	}
	b := unsafe.Slice(unsafe.StringData(*s), len(*s))
	for i := range b {
		b[i] = 0
	}
	*s = ""
}
