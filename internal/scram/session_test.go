package scram

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strconv"
	"strings"
	"testing"

	"golang.org/x/crypto/pbkdf2"
)

// fixedReader is a deterministic io.Reader used in place of crypto/rand so
// the client nonce (and therefore AuthMessage, ClientProof, and
// ServerSignature) is reproducible across a test.
func fixedReader(b byte) *bytes.Reader {
	buf := make([]byte, nonceBytesLen)
	for i := range buf {
		buf[i] = b + byte(i)
	}
	return bytes.NewReader(buf)
}

// serverFirstFor builds a server-first-message for the given client-first
// output, with a fixed server-nonce suffix and salt/iterations.
func serverFirstFor(clientFirst []byte, salt []byte, iterations int, serverSuffix string) string {
	bare := strings.TrimPrefix(string(clientFirst), gs2Header)
	idx := strings.Index(bare, "r=")
	clientNonce := bare[idx+2:]
	return "r=" + clientNonce + serverSuffix + ",s=" + b64Encode(salt) + ",i=" + strconv.Itoa(iterations)
}

// TestSessionSHA256FullHandshake drives a complete, successful SCRAM-SHA-256
// conversation against an independently computed "server" side, verifying
// both that the client accepts a correct ServerSignature and that the
// ClientProof it sends matches what the RFC 5802 algorithm predicts.
func TestSessionSHA256FullHandshake(t *testing.T) {
	const user = "user"
	const password = "pencil"
	salt := []byte("0123456789abcdefghijklmnop12") // 28 bytes = sha256.Size - 4
	const iterations = 4096

	sess, err := NewSession(SHA256, WithRandomSource(fixedReader(0x10)))
	if err != nil {
		t.Fatal(err)
	}
	sess.SetUser(user)
	sess.SetPassword(password)
	defer sess.Destroy()

	clientFirst, err := sess.Step(nil)
	if err != nil {
		t.Fatalf("step 0->1: %v", err)
	}

	serverFirst := serverFirstFor(clientFirst, salt, iterations, "server-extra-nonce")
	clientFinal, err := sess.Step([]byte(serverFirst))
	if err != nil {
		t.Fatalf("step 1->2: %v", err)
	}

	bare := strings.TrimPrefix(string(clientFirst), gs2Header)
	cfmWithoutProof := string(clientFinal[:strings.Index(string(clientFinal), ",p=")])
	authMessage := bare + "," + serverFirst + "," + cfmWithoutProof

	saltedPassword := pbkdf2.Key([]byte(password), salt, iterations, sha256.Size, sha256.New)
	clientKey := hmacBytes(sha256.New, saltedPassword, []byte("Client Key"))
	storedKey := sha256Sum(clientKey)
	clientSignature := hmacBytes(sha256.New, storedKey, []byte(authMessage))
	wantProof := xorBytes(clientKey, clientSignature)

	wantClientFinal := cfmWithoutProof + ",p=" + b64Encode(wantProof)
	if string(clientFinal) != wantClientFinal {
		t.Fatalf("client-final-message = %q, want %q", clientFinal, wantClientFinal)
	}

	serverKey := hmacBytes(sha256.New, saltedPassword, []byte("Server Key"))
	serverSignature := hmacBytes(sha256.New, serverKey, []byte(authMessage))
	serverFinal := "v=" + b64Encode(serverSignature)

	out, err := sess.Step([]byte(serverFinal))
	if err != nil {
		t.Fatalf("step 2->3: %v", err)
	}
	if out != nil {
		t.Errorf("final step should produce no output, got %q", out)
	}
	if !sess.Done() {
		t.Error("session should report Done() after a successful handshake")
	}

	cache := sess.Cache()
	if cache == nil {
		t.Fatal("a successful handshake should populate the session's cache")
	}
}

// TestSessionSHA1MongoHashVector exercises the legacy MongoDB-CR presecret
// path: the SHA-1 hashed_password is the lowercase-hex MD5 of
// "<user>:mongo:<password>", not the raw password.
func TestSessionSHA1MongoHashVector(t *testing.T) {
	const user = "user"
	const password = "pencil"
	salt := []byte("0123456789abcdef") // 16 bytes = sha1.Size - 4
	const iterations = 4096

	sess, err := NewSession(SHA1, WithRandomSource(fixedReader(0x20)))
	if err != nil {
		t.Fatal(err)
	}
	sess.SetUser(user)
	sess.SetPassword(password)
	defer sess.Destroy()

	clientFirst, err := sess.Step(nil)
	if err != nil {
		t.Fatalf("step 0->1: %v", err)
	}
	serverFirst := serverFirstFor(clientFirst, salt, iterations, "more-server-nonce")
	clientFinal, err := sess.Step([]byte(serverFirst))
	if err != nil {
		t.Fatalf("step 1->2: %v", err)
	}

	bare := strings.TrimPrefix(string(clientFirst), gs2Header)
	cfmWithoutProof := string(clientFinal[:strings.Index(string(clientFinal), ",p=")])
	authMessage := bare + "," + serverFirst + "," + cfmWithoutProof

	sum := md5.Sum([]byte(user + ":mongo:" + password))
	hashedPassword := hex.EncodeToString(sum[:])

	saltedPassword := pbkdf2.Key([]byte(hashedPassword), salt, iterations, sha1.Size, sha1.New)
	clientKey := hmacBytes(sha1.New, saltedPassword, []byte("Client Key"))
	storedKey := sha1Sum(clientKey)
	clientSignature := hmacBytes(sha1.New, storedKey, []byte(authMessage))
	wantProof := xorBytes(clientKey, clientSignature)

	wantClientFinal := cfmWithoutProof + ",p=" + b64Encode(wantProof)
	if string(clientFinal) != wantClientFinal {
		t.Fatalf("client-final-message = %q, want %q", clientFinal, wantClientFinal)
	}
}

func TestSessionRejectsIterationDowngrade(t *testing.T) {
	sess, _ := NewSession(SHA256, WithRandomSource(fixedReader(0x30)))
	sess.SetUser("user")
	sess.SetPassword("pencil")
	defer sess.Destroy()

	clientFirst, _ := sess.Step(nil)
	serverFirst := serverFirstFor(clientFirst, make([]byte, 28), 1024, "x")
	if _, err := sess.Step([]byte(serverFirst)); err == nil {
		t.Error("expected error for iteration count below minimum")
	}
}

func TestSessionRejectsSaltLengthMismatch(t *testing.T) {
	sess, _ := NewSession(SHA1, WithRandomSource(fixedReader(0x40)))
	sess.SetUser("user")
	sess.SetPassword("pencil")
	defer sess.Destroy()

	clientFirst, _ := sess.Step(nil)
	// SHA-1 expects a 16-byte salt; supply 10.
	serverFirst := serverFirstFor(clientFirst, make([]byte, 10), 4096, "x")
	if _, err := sess.Step([]byte(serverFirst)); err == nil {
		t.Error("expected error for salt length mismatch")
	}
}

func TestSessionRejectsServerNonceTampering(t *testing.T) {
	sess, _ := NewSession(SHA256, WithRandomSource(fixedReader(0x50)))
	sess.SetUser("user")
	sess.SetPassword("pencil")
	defer sess.Destroy()

	sess.Step(nil)
	// A server-first-message whose r= does not extend the client nonce at
	// all must be rejected outright.
	tampered := "r=completely-different-nonce,s=" + b64Encode(make([]byte, 28)) + ",i=4096"
	if _, err := sess.Step([]byte(tampered)); err == nil {
		t.Error("expected error for server nonce that does not extend the client nonce")
	}
}

func TestSessionRejectsUnknownAttributeInServerFirst(t *testing.T) {
	sess, _ := NewSession(SHA256, WithRandomSource(fixedReader(0x55)))
	sess.SetUser("user")
	sess.SetPassword("pencil")
	defer sess.Destroy()

	clientFirst, _ := sess.Step(nil)
	bare := strings.TrimPrefix(string(clientFirst), gs2Header)
	nonce := bare[strings.Index(bare, "r=")+2:]
	msg := "r=" + nonce + "x,s=" + b64Encode(make([]byte, 28)) + ",i=4096,z=unexpected"
	if _, err := sess.Step([]byte(msg)); err == nil {
		t.Error("expected error for unrecognized attribute key")
	}
}

func TestSessionServerFinalErrorAttribute(t *testing.T) {
	sess, _ := NewSession(SHA256, WithRandomSource(fixedReader(0x60)))
	sess.SetUser("user")
	sess.SetPassword("pencil")
	defer sess.Destroy()

	clientFirst, _ := sess.Step(nil)
	salt := make([]byte, 28)
	serverFirst := serverFirstFor(clientFirst, salt, 4096, "suffix")
	if _, err := sess.Step([]byte(serverFirst)); err != nil {
		t.Fatalf("step 1->2: %v", err)
	}
	_, err := sess.Step([]byte("e=other-error"))
	if err == nil {
		t.Fatal("expected error when server reports e=")
	}
	scramErr, ok := err.(*Error)
	if !ok || scramErr.Kind != KindVerification {
		t.Errorf("expected KindVerification error, got %v", err)
	}
}

func TestSessionRejectsServerSignatureMismatch(t *testing.T) {
	sess, _ := NewSession(SHA256, WithRandomSource(fixedReader(0x70)))
	sess.SetUser("user")
	sess.SetPassword("pencil")
	defer sess.Destroy()

	clientFirst, _ := sess.Step(nil)
	salt := make([]byte, 28)
	serverFirst := serverFirstFor(clientFirst, salt, 4096, "suffix")
	if _, err := sess.Step([]byte(serverFirst)); err != nil {
		t.Fatalf("step 1->2: %v", err)
	}
	wrongSig := bytes.Repeat([]byte{0xFF}, sha256.Size)
	_, err := sess.Step([]byte("v=" + b64Encode(wrongSig)))
	if err == nil {
		t.Fatal("expected error for a forged server signature")
	}
}

func TestSessionUsernameEscaping(t *testing.T) {
	sess, _ := NewSession(SHA256, WithRandomSource(fixedReader(0x80)))
	sess.SetUser("a,b=c")
	sess.SetPassword("pencil")
	defer sess.Destroy()

	clientFirst, err := sess.Step(nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(clientFirst), "n=a=2Cb=3Dc") {
		t.Errorf("client-first-message = %q, want it to contain escaped username n=a=2Cb=3Dc", clientFirst)
	}
}

func TestSessionStepBeyondMaximum(t *testing.T) {
	sess, _ := NewSession(SHA256, WithRandomSource(fixedReader(0x90)))
	sess.SetUser("user")
	sess.SetPassword("pencil")
	defer sess.Destroy()

	clientFirst, _ := sess.Step(nil)
	salt := make([]byte, 28)
	serverFirst := serverFirstFor(clientFirst, salt, 4096, "suffix")
	clientFinal, err := sess.Step([]byte(serverFirst))
	if err != nil {
		t.Fatal(err)
	}
	_ = clientFinal

	saltedPassword := pbkdf2.Key([]byte("pencil"), salt, 4096, sha256.Size, sha256.New)
	serverKey := hmacBytes(sha256.New, saltedPassword, []byte("Server Key"))
	bare := strings.TrimPrefix(string(clientFirst), gs2Header)
	cfmWithoutProof := string(clientFinal[:strings.Index(string(clientFinal), ",p=")])
	authMessage := bare + "," + serverFirst + "," + cfmWithoutProof
	serverSignature := hmacBytes(sha256.New, serverKey, []byte(authMessage))

	if _, err := sess.Step([]byte("v=" + b64Encode(serverSignature))); err != nil {
		t.Fatalf("step 2->3: %v", err)
	}
	if _, err := sess.Step(nil); err == nil {
		t.Error("expected error invoking Step past the final step")
	}
}

// TestSessionCacheHitSkipsDerivation proves that an attached cache entry's
// SaltedPassword is used as-is rather than recomputed via Hi: the forged
// entry below carries a SaltedPassword that does not correspond to the real
// password at all, and the session must still produce a ClientProof
// consistent with the forged value rather than the correct one.
func TestSessionCacheHitSkipsDerivation(t *testing.T) {
	const user = "user"
	const password = "pencil"
	salt := bytes.Repeat([]byte{0x01}, 28)
	const iterations = 4096

	reader := fixedReader(0xA0)
	nonceBytes := make([]byte, nonceBytesLen)
	reader2 := fixedReader(0xA0)
	reader2.Read(nonceBytes)
	clientNonce := b64Encode(nonceBytes)

	sess, _ := NewSession(SHA256, WithRandomSource(reader))
	sess.SetUser(user)
	sess.SetPassword(password)
	defer sess.Destroy()

	forgedSaltedPassword := bytes.Repeat([]byte{0xAA}, sha256.Size)
	forged := newCacheEntry(password, salt, iterations, forgedSaltedPassword, nil, nil)
	sess.AttachCache(forged)

	clientFirst, err := sess.Step(nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(clientFirst), clientNonce) {
		t.Fatalf("client nonce mismatch: %q does not contain %q", clientFirst, clientNonce)
	}

	serverFirst := serverFirstFor(clientFirst, salt, iterations, "server-suffix")
	clientFinal, err := sess.Step([]byte(serverFirst))
	if err != nil {
		t.Fatalf("step 1->2: %v", err)
	}

	bare := strings.TrimPrefix(string(clientFirst), gs2Header)
	cfmWithoutProof := string(clientFinal[:strings.Index(string(clientFinal), ",p=")])
	authMessage := bare + "," + serverFirst + "," + cfmWithoutProof

	clientKey := hmacBytes(sha256.New, forgedSaltedPassword, []byte("Client Key"))
	storedKey := sha256Sum(clientKey)
	clientSignature := hmacBytes(sha256.New, storedKey, []byte(authMessage))
	wantProof := xorBytes(clientKey, clientSignature)
	wantClientFinal := cfmWithoutProof + ",p=" + b64Encode(wantProof)

	if string(clientFinal) != wantClientFinal {
		t.Errorf("cache hit did not use the forged SaltedPassword verbatim: got %q, want %q", clientFinal, wantClientFinal)
	}
}

func hmacBytes(newHash func() hash.Hash, key, data []byte) []byte {
	mac := hmac.New(newHash, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func sha256Sum(b []byte) []byte {
	h := sha256.Sum256(b)
	return h[:]
}

func sha1Sum(b []byte) []byte {
	h := sha1.Sum(b)
	return h[:]
}
