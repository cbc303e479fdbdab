package scram

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"hash"

	"golang.org/x/crypto/pbkdf2"
)

// Mechanism identifies a SCRAM hash variant.
type Mechanism int

const (
	SHA1 Mechanism = iota
	SHA256
)

// Name returns the SASL mechanism name, e.g. "SCRAM-SHA-256".
func (m Mechanism) Name() string {
	switch m {
	case SHA1:
		return "SCRAM-SHA-1"
	case SHA256:
		return "SCRAM-SHA-256"
	default:
		return "SCRAM-UNKNOWN"
	}
}

// algo is the hash-dependent part of the crypto capability set (§4.3) for
// one Mechanism: hash, HMAC, Hi, and constant-time comparison, polymorphic
// over the digest length H. Base64 encode/decode (b64Encode, b64Decode) and
// random bytes (randomBytes in session.go) are package-level helpers. Every
// derivation in session.go goes through this façade rather than calling
// crypto/sha1 or crypto/sha256 directly, so the state machine never hard
// codes 20 or 32.
type algo struct {
	mechanism Mechanism
	h         int
	newHash   func() hash.Hash
}

func algoFor(m Mechanism) (*algo, error) {
	switch m {
	case SHA1:
		return &algo{mechanism: m, h: sha1.Size, newHash: sha1.New}, nil
	case SHA256:
		return &algo{mechanism: m, h: sha256.Size, newHash: sha256.New}, nil
	default:
		return nil, newErr(KindConfiguration, "unknown SCRAM mechanism")
	}
}

// hashSum returns H(data).
func (a *algo) hashSum(data []byte) []byte {
	h := a.newHash()
	h.Write(data)
	return h.Sum(nil)
}

// hmacSum returns HMAC(key, data) keyed with the algorithm's hash.
func (a *algo) hmacSum(key, data []byte) []byte {
	mac := hmac.New(a.newHash, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// ctEqual reports whether a and b are equal, in constant time with respect
// to their contents (not their lengths).
func (a *algo) ctEqual(x, y []byte) bool {
	if len(x) != len(y) {
		return false
	}
	return subtle.ConstantTimeCompare(x, y) == 1
}

func b64Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func b64Decode(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, wrapErr(KindEncoding, "base64 decode failed", err)
	}
	return b, nil
}

// hi computes the SCRAM Hi(password, salt, iterations) key-stretching
// function: U1 = HMAC(password, salt || 0x00000001), Uk = HMAC(password,
// U(k-1)) for k = 2..iterations, output = U1 XOR U2 XOR ... XOR Ui. This is
// exactly PBKDF2-HMAC-<hash> with a single H-byte output block, so it is
// implemented as a thin wrapper over golang.org/x/crypto/pbkdf2 rather than
// a second, hand-rolled iteration loop.
func (a *algo) hi(password []byte, salt []byte, iterations int) []byte {
	return pbkdf2.Key(password, salt, iterations, a.h, a.newHash)
}
