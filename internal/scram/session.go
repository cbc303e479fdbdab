package scram

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"io"
)

const (
	gs2Header       = "n,,"
	gs2HeaderBase64 = "biws" // base64("n,,")

	defaultMinIterations  = 4096
	defaultMaxAuthMessage = 4096
	nonceBytesLen         = 24 // -> 32 base64 characters
)

// Option configures a Session at construction time.
type Option func(*Session)

// WithMinIterations overrides the iteration-count floor (default 4096).
// Only tests that need to exercise the downgrade-rejection path at a
// different boundary should ever lower this.
func WithMinIterations(n int) Option {
	return func(s *Session) { s.minIterations = n }
}

// WithMaxAuthMessage sets the fixed capacity of the AuthMessage buffer,
// chosen once at construction like the caller-provided output maximum the
// spec describes. Appends beyond this capacity fail the step instead of
// growing the buffer.
func WithMaxAuthMessage(n int) Option {
	return func(s *Session) { s.maxAuthMessage = n }
}

// WithRandomSource overrides the cryptographic random source used to
// generate the client nonce. Production code never needs this; tests use
// it to make a conversation (and thus AuthMessage, ClientProof,
// ServerSignature) fully deterministic.
func WithRandomSource(r io.Reader) Option {
	return func(s *Session) { s.rand = r }
}

// WithSASLprepUnavailable exercises the degraded SASLprep path described
// in DESIGN NOTES, where only ASCII-printable passwords are accepted
// unprepared.
func WithSASLprepUnavailable() Option {
	return func(s *Session) { s.prep.Unavailable = true }
}

// Session is the client-side SCRAM state machine (§4.4). It is
// single-owner and single-threaded: all Step calls on one Session must
// happen sequentially from one goroutine. Destroy must be called,
// regardless of which step was reached, to zeroize every secret the
// session holds.
type Session struct {
	mechanism Mechanism
	a         *algo
	prep      Preparer
	rand      io.Reader

	minIterations  int
	maxAuthMessage int

	step int

	user     string
	password secret

	clientNonce   string
	combinedNonce string

	authMessage []byte

	hashedPassword string
	salt           []byte
	iterations     int

	saltedPassword secret
	clientKey      secret
	serverKey      secret

	cache *CacheEntry
}

// NewSession constructs a Session for the given mechanism. The session
// advances from step 0 only once SetUser has been called with a non-empty
// name; no password check is made at that point.
func NewSession(mechanism Mechanism, opts ...Option) (*Session, error) {
	a, err := algoFor(mechanism)
	if err != nil {
		return nil, err
	}
	s := &Session{
		mechanism:      mechanism,
		a:              a,
		rand:           rand.Reader,
		minIterations:  defaultMinIterations,
		maxAuthMessage: defaultMaxAuthMessage,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SetUser sets the SASL user name. Required before Step 0→1.
func (s *Session) SetUser(user string) {
	s.user = user
}

// SetPassword sets the plaintext password. Stored as a zeroizable secret;
// Destroy overwrites it.
func (s *Session) SetPassword(password string) {
	s.password.zero()
	s.password = secret(append([]byte(nil), password...))
}

// AttachCache deep-copies entry as the session's cache, replacing (and
// destroying) any entry already attached.
func (s *Session) AttachCache(entry *CacheEntry) {
	if s.cache != nil {
		s.cache.Destroy()
	}
	s.cache = entry.Clone()
}

// Cache returns a deep copy of the session's current cache entry, or nil
// if none is attached or none has been derived yet.
func (s *Session) Cache() *CacheEntry {
	return s.cache.Clone()
}

// Step advances the conversation by one message: step 0→1 ignores in and
// returns client-first-message; step 1→2 consumes server-first-message and
// returns client-final-message; step 2→3 consumes server-final-message and
// returns nil on success. Any error is terminal: the caller should Destroy
// the session rather than call Step again.
func (s *Session) Step(in []byte) ([]byte, error) {
	switch s.step {
	case 0:
		return s.step1()
	case 1:
		return s.step2(in)
	case 2:
		return s.step3(in)
	default:
		return nil, newErr(KindProtocol, "step invoked beyond maximum (already authenticated or failed)")
	}
}

// Done reports whether the conversation completed successfully.
func (s *Session) Done() bool { return s.step >= 3 }

func (s *Session) step1() ([]byte, error) {
	if s.user == "" {
		return nil, newErr(KindConfiguration, "user not set")
	}

	nonceBytes, err := randomBytes(s.rand, nonceBytesLen)
	if err != nil {
		return nil, err
	}
	s.clientNonce = b64Encode(nonceBytes)

	bare := "n=" + escapeUsername(s.user) + ",r=" + s.clientNonce

	s.authMessage = make([]byte, 0, s.maxAuthMessage)
	if err := s.appendAuthMessage([]byte(bare)); err != nil {
		return nil, err
	}
	if err := s.appendAuthMessage([]byte(",")); err != nil {
		return nil, err
	}

	s.step = 1
	return []byte(gs2Header + bare), nil
}

func (s *Session) step2(in []byte) ([]byte, error) {
	attrs, err := parseAttributes(string(in))
	if err != nil {
		return nil, err
	}
	for k := range attrs {
		if k != "r" && k != "s" && k != "i" {
			return nil, newErr(KindProtocol, "unknown attribute in server-first-message: "+k)
		}
	}
	r, ok := attrs["r"]
	if !ok {
		return nil, newErr(KindProtocol, "server-first-message missing r=")
	}
	sAttr, ok := attrs["s"]
	if !ok {
		return nil, newErr(KindProtocol, "server-first-message missing s=")
	}
	iAttr, ok := attrs["i"]
	if !ok {
		return nil, newErr(KindProtocol, "server-first-message missing i=")
	}

	if len(r) <= len(s.clientNonce) || !s.a.ctEqual([]byte(r[:len(s.clientNonce)]), []byte(s.clientNonce)) {
		return nil, newErr(KindProtocol, "server nonce does not extend client nonce")
	}

	salt, err := b64Decode(sAttr)
	if err != nil {
		return nil, err
	}
	if len(salt) != s.a.h-4 {
		return nil, newErr(KindProtocol, "salt length does not match hash digest length")
	}

	iterations, err := parseIterations(iAttr, s.minIterations)
	if err != nil {
		return nil, err
	}

	if err := s.appendAuthMessage(in); err != nil {
		return nil, err
	}
	if err := s.appendAuthMessage([]byte(",")); err != nil {
		return nil, err
	}

	s.combinedNonce = r
	s.salt = salt
	s.iterations = iterations

	hashedPassword, err := s.computeHashedPassword()
	if err != nil {
		return nil, err
	}
	s.hashedPassword = hashedPassword

	if s.cache.matches(s.a, hashedPassword, salt, iterations) {
		s.saltedPassword = secret(append([]byte(nil), s.cache.saltedPassword...))
		s.clientKey = secret(append([]byte(nil), s.cache.clientKey...))
		s.serverKey = secret(append([]byte(nil), s.cache.serverKey...))
	}

	if s.saltedPassword == nil {
		s.saltedPassword = secret(s.a.hi([]byte(hashedPassword), salt, iterations))
	}

	cfmWithoutProof := "c=" + gs2HeaderBase64 + ",r=" + s.combinedNonce
	if err := s.appendAuthMessage([]byte(cfmWithoutProof)); err != nil {
		return nil, err
	}

	if s.clientKey == nil {
		s.clientKey = secret(s.a.hmacSum(s.saltedPassword, []byte("Client Key")))
	}

	storedKey := s.a.hashSum(s.clientKey)
	clientSignature := s.a.hmacSum(storedKey, s.authMessage)
	proof := xorBytes(s.clientKey, clientSignature)
	secret(storedKey).zero()
	secret(clientSignature).zero()

	out := []byte(cfmWithoutProof + ",p=" + b64Encode(proof))
	secret(proof).zero()

	s.step = 2
	return out, nil
}

func (s *Session) step3(in []byte) ([]byte, error) {
	attrs, err := parseAttributes(string(in))
	if err != nil {
		return nil, err
	}
	for k := range attrs {
		if k != "e" && k != "v" {
			return nil, newErr(KindProtocol, "unknown attribute in server-final-message: "+k)
		}
	}
	if e, ok := attrs["e"]; ok {
		return nil, newErr(KindVerification, "server reported error: "+e)
	}
	v, ok := attrs["v"]
	if !ok {
		return nil, newErr(KindVerification, "server-final-message missing v=")
	}
	receivedSig, err := b64Decode(v)
	if err != nil {
		return nil, err
	}

	if s.serverKey == nil {
		s.serverKey = secret(s.a.hmacSum(s.saltedPassword, []byte("Server Key")))
	}
	serverSignature := s.a.hmacSum(s.serverKey, s.authMessage)
	ok = s.a.ctEqual(serverSignature, receivedSig)
	secret(serverSignature).zero()
	if !ok {
		return nil, newErr(KindVerification, "ServerSignature mismatch")
	}

	s.updateCache()
	s.step = 3
	return nil, nil
}

// updateCache replaces the session's attached cache entry with one built
// from the current presecrets and derived secrets, per "update_cache() (on
// successful step 3)".
func (s *Session) updateCache() {
	if s.cache != nil {
		s.cache.Destroy()
	}
	s.cache = newCacheEntry(s.hashedPassword, s.salt, s.iterations, s.saltedPassword, s.clientKey, s.serverKey)
}

// computeHashedPassword derives the presecret: for SHA-1, the legacy
// lowercase-hex MD5 of "user:mongo:password"; for SHA-256, the SASLprep of
// the password.
func (s *Session) computeHashedPassword() (string, error) {
	switch s.mechanism {
	case SHA1:
		sum := md5.Sum([]byte(s.user + ":mongo:" + string(s.password)))
		return hex.EncodeToString(sum[:]), nil
	case SHA256:
		return s.prep.Prepare(string(s.password))
	default:
		return "", newErr(KindConfiguration, "unknown SCRAM mechanism")
	}
}

// appendAuthMessage appends b to the AuthMessage buffer, failing rather
// than reallocating if doing so would exceed the fixed capacity chosen at
// step 1.
func (s *Session) appendAuthMessage(b []byte) error {
	if len(s.authMessage)+len(b) > cap(s.authMessage) {
		return newErr(KindBuffer, "AuthMessage buffer would overflow")
	}
	s.authMessage = append(s.authMessage, b...)
	return nil
}

// Destroy zeroizes every secret the session holds: the password, the
// hashed-password presecret, the derived keys, and the attached cache
// entry's own copy. Safe to call more than once and from any step.
func (s *Session) Destroy() {
	s.password.zero()
	zeroString(&s.hashedPassword)
	s.saltedPassword.zero()
	s.clientKey.zero()
	s.serverKey.zero()
	secret(s.authMessage).zero()
	if s.cache != nil {
		s.cache.Destroy()
		s.cache = nil
	}
}

func randomBytes(r io.Reader, n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, wrapErr(KindEntropy, "reading random bytes", err)
	}
	return b, nil
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}
