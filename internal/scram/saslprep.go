package scram

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// IsASCIIPrintable reports whether s contains only codepoints in the ASCII
// printable range 32..=126. It is used as the "preparation not required"
// predicate: when the full SASLprep pipeline is unavailable, a password
// that passes this check may be used unprepared.
func IsASCIIPrintable(s string) bool {
	for _, r := range s {
		if r < 0x20 || r > 0x7E {
			return false
		}
	}
	return true
}

// Preparer applies the RFC 4013 SASLprep profile to a password.
type Preparer struct {
	// Unavailable, when true, disables the Map/Normalize/Prohibit/Bidi
	// pipeline. Prepare then only accepts ASCII-printable input
	// unchanged, and fails everything else with a KindEncoding error.
	// Tests use this to exercise the degraded path described in
	// DESIGN NOTES without actually removing the Unicode tables.
	Unavailable bool
}

// Prepare runs the SASLprep profile over password and returns the
// resulting UTF-8 string, or an error if the password is not valid UTF-8,
// contains a prohibited or unassigned codepoint after normalization, or
// fails the bidirectional check.
func (p Preparer) Prepare(password string) (string, error) {
	if p.Unavailable {
		if IsASCIIPrintable(password) {
			return password, nil
		}
		return "", newErr(KindEncoding, "SASLprep required but unavailable")
	}
	return prepareFull(password)
}

func prepareFull(password string) (string, error) {
	raw := []byte(password)
	if StringLength(raw) < 0 {
		return "", newErr(KindEncoding, "invalid UTF-8 in password")
	}

	// Map: delete "commonly mapped to nothing" codepoints, fold
	// non-ASCII space to U+0020.
	mapped := make([]rune, 0, len(raw))
	for i := 0; i < len(raw); {
		n := CharLen(raw[i])
		cp := ToCodepoint(raw[i:], n)
		i += n
		switch {
		case isInTable(cp, mappedToNothing):
			continue
		case isInTable(cp, nonASCIISpace):
			mapped = append(mapped, ' ')
		default:
			mapped = append(mapped, rune(cp))
		}
	}

	// Normalize to NFKC.
	normalized := norm.NFKC.String(string(mapped))

	// Prohibit: no prohibited-output or unassigned codepoint may survive.
	var hasRandALCat, hasLCat bool
	var first, last rune
	haveFirst := false
	for _, r := range normalized {
		cp := uint32(r)
		if isInTable(cp, prohibitedOutput) || isInTable(cp, unassignedCodePoints) {
			return "", newErr(KindEncoding, "password contains a prohibited codepoint")
		}
		if isInTable(cp, randALCat) {
			hasRandALCat = true
		}
		if isInTable(cp, lCat) {
			hasLCat = true
		}
		if !haveFirst {
			first = r
			haveFirst = true
		}
		last = r
	}

	// Bidi: a RandALCat string may contain no LCat character, and must
	// both start and end with a RandALCat character.
	if hasRandALCat {
		if hasLCat {
			return "", newErr(KindEncoding, "password mixes RandALCat and LCat codepoints")
		}
		if !isInTable(uint32(first), randALCat) || !isInTable(uint32(last), randALCat) {
			return "", newErr(KindEncoding, "RandALCat password must start and end with a RandALCat codepoint")
		}
	}

	return normalized, nil
}

// escapeUsername replaces "," with "=2C" and "=" with "=3D", the only two
// characters RFC 5802 requires escaping in the SCRAM username attribute.
func escapeUsername(user string) string {
	if !strings.ContainsAny(user, ",=") {
		return user
	}
	var b strings.Builder
	b.Grow(len(user) + 8)
	for _, r := range user {
		switch r {
		case ',':
			b.WriteString("=2C")
		case '=':
			b.WriteString("=3D")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
