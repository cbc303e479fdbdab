// Package authenticator drives a scram.Session over a PostgreSQL-style
// frontend/backend connection. It implements only enough of the wire
// protocol to get from StartupMessage through ReadyForQuery when the
// server asks for SASL/SCRAM; it is not a general-purpose PostgreSQL
// client.
package authenticator

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/dbbouncer/scramclient/internal/metrics"
	"github.com/dbbouncer/scramclient/internal/scram"
)

const (
	authOK                = 0
	authCleartextPassword = 3
	authMD5Password       = 5
	authSASL              = 10
	authSASLContinue      = 11
	authSASLFinal         = 12

	protocolVersion3 = 0x00030000
)

// Config configures one authentication attempt.
type Config struct {
	User     string
	Password string
	Database string

	// Store, if non-nil, is consulted for a cached secret keyed by
	// CacheKey before deriving SaltedPassword, and updated with the fresh
	// entry after a successful handshake.
	Store    *scram.Store
	CacheKey string

	// Metrics, if non-nil, records derivation latency/cache effectiveness
	// (DerivationCompleted) for the SaltedPassword derivation step.
	Metrics *metrics.Collector

	// Timeout bounds the whole exchange, startup message through
	// ReadyForQuery. Zero means no deadline is set on conn.
	Timeout time.Duration
}

// Result carries what the backend told us once authentication completed.
type Result struct {
	Params      map[string]string
	BackendPID  int32
	BackendKey  int32
	Mechanism   scram.Mechanism
}

// Authenticate runs the startup/authentication phase of the protocol over
// conn and returns once ReadyForQuery arrives.
func Authenticate(conn net.Conn, cfg Config) (*Result, error) {
	if cfg.Timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(cfg.Timeout)); err != nil {
			return nil, fmt.Errorf("setting deadline: %w", err)
		}
		defer conn.SetDeadline(time.Time{})
	}

	if err := writeStartupMessage(conn, cfg.User, cfg.Database); err != nil {
		return nil, fmt.Errorf("sending startup message: %w", err)
	}

	res := &Result{Params: make(map[string]string)}
	var sess *scram.Session
	var cacheAttached bool

	for {
		msgType, payload, err := readMessage(conn)
		if err != nil {
			return nil, err
		}

		switch msgType {
		case 'R':
			if len(payload) < 4 {
				return nil, fmt.Errorf("authentication message too short")
			}
			authType := binary.BigEndian.Uint32(payload[:4])
			body := payload[4:]

			switch authType {
			case authOK:
				// Nothing further to do; ReadyForQuery follows.
			case authSASL:
				mechanism, mechanismName, err := chooseMechanism(body)
				if err != nil {
					return nil, err
				}
				res.Mechanism = mechanism
				sess, cacheAttached, err = startSASL(conn, cfg, mechanism, mechanismName)
				if err != nil {
					return nil, err
				}
			case authSASLContinue:
				if sess == nil {
					return nil, fmt.Errorf("AuthenticationSASLContinue without a prior AuthenticationSASL")
				}
				derivationStart := time.Now()
				clientFinal, err := sess.Step(body)
				if err != nil {
					logSCRAMErr("client-final-message", err)
					return nil, fmt.Errorf("SCRAM step 1->2: %w", err)
				}
				if cfg.Metrics != nil {
					cfg.Metrics.DerivationCompleted(res.Mechanism.Name(), time.Since(derivationStart), cacheAttached)
				}
				if err := writePasswordMessage(conn, clientFinal); err != nil {
					return nil, fmt.Errorf("sending client-final-message: %w", err)
				}
			case authSASLFinal:
				if sess == nil {
					return nil, fmt.Errorf("AuthenticationSASLFinal without a prior AuthenticationSASL")
				}
				if _, err := sess.Step(body); err != nil {
					logSCRAMErr("server-signature verification", err)
					return nil, fmt.Errorf("SCRAM step 2->3: %w", err)
				}
				if cfg.Store != nil && cfg.CacheKey != "" {
					if entry := sess.Cache(); entry != nil {
						cfg.Store.Put(cfg.CacheKey, entry)
					}
				}
				sess.Destroy()
				sess = nil
			case authCleartextPassword, authMD5Password:
				return nil, fmt.Errorf("server requested non-SCRAM authentication (type %d), which this client does not support", authType)
			default:
				return nil, fmt.Errorf("unsupported authentication type %d", authType)
			}

		case 'S':
			k, v, ok := parseParameterStatus(payload)
			if ok {
				res.Params[k] = v
			}

		case 'K':
			if len(payload) < 8 {
				return nil, fmt.Errorf("BackendKeyData too short")
			}
			res.BackendPID = int32(binary.BigEndian.Uint32(payload[0:4]))
			res.BackendKey = int32(binary.BigEndian.Uint32(payload[4:8]))

		case 'Z':
			return res, nil

		case 'E':
			return nil, fmt.Errorf("backend error: %s", parseErrorResponse(payload))

		default:
			return nil, fmt.Errorf("unexpected message type %q during authentication", msgType)
		}
	}
}

// startSASL runs client-first-message: it builds the session (attaching any
// cached secret), emits the SASLInitialResponse, and returns the session for
// the caller to drive through the remaining two steps, along with whether a
// cache entry was attached (so the caller can label the upcoming derivation
// a cache hit or miss for metrics).
func startSASL(conn net.Conn, cfg Config, mechanism scram.Mechanism, mechanismName string) (*scram.Session, bool, error) {
	sess, err := scram.NewSession(mechanism)
	if err != nil {
		return nil, false, err
	}
	sess.SetUser(cfg.User)
	sess.SetPassword(cfg.Password)

	var cacheAttached bool
	if cfg.Store != nil && cfg.CacheKey != "" {
		if entry, ok := cfg.Store.Get(cfg.CacheKey); ok {
			sess.AttachCache(entry)
			cacheAttached = true
		}
	}

	clientFirst, err := sess.Step(nil)
	if err != nil {
		logSCRAMErr("client-first-message", err)
		return nil, false, fmt.Errorf("SCRAM step 0->1: %w", err)
	}
	if err := writeSASLInitialResponse(conn, mechanismName, clientFirst); err != nil {
		return nil, false, fmt.Errorf("sending SASLInitialResponse: %w", err)
	}
	return sess, cacheAttached, nil
}

// chooseMechanism picks SCRAM-SHA-256 when offered, falling back to
// SCRAM-SHA-1 only for servers that don't support the stronger mechanism.
// This is a deployment compatibility fallback, not RFC 5802 mechanism
// negotiation: the client never downgrades when SHA-256 is available.
func chooseMechanism(mechanismListPayload []byte) (scram.Mechanism, string, error) {
	mechs := parseSASLMechanisms(mechanismListPayload)
	for _, m := range mechs {
		if m == "SCRAM-SHA-256" {
			return scram.SHA256, m, nil
		}
	}
	for _, m := range mechs {
		if m == "SCRAM-SHA-1" {
			return scram.SHA1, m, nil
		}
	}
	return 0, "", fmt.Errorf("server offered no supported SCRAM mechanism: %v", mechs)
}

// logSCRAMErr logs a failed step without retrying: the authenticator treats
// every scram.Error as terminal for the current attempt, surfacing its Kind
// alongside whatever it wraps so an operator can tell a malformed-server-
// message failure from a signature-verification failure at a glance.
func logSCRAMErr(step string, err error) {
	var scramErr *scram.Error
	if errors.As(err, &scramErr) {
		slog.Error("SCRAM authentication failed", "step", step, "kind", scramErr.Kind, "err", scramErr.Err)
		return
	}
	slog.Error("SCRAM authentication failed", "step", step, "err", err)
}

func parseSASLMechanisms(data []byte) []string {
	var mechs []string
	for len(data) > 0 {
		idx := 0
		for idx < len(data) && data[idx] != 0 {
			idx++
		}
		if idx > 0 {
			mechs = append(mechs, string(data[:idx]))
		}
		if idx >= len(data) {
			break
		}
		data = data[idx+1:]
	}
	return mechs
}

func parseParameterStatus(payload []byte) (key, value string, ok bool) {
	parts := strings.SplitN(string(payload), "\x00", 3)
	if len(parts) < 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func parseErrorResponse(payload []byte) string {
	var messages []string
	for _, field := range strings.Split(string(payload), "\x00") {
		if len(field) > 1 && field[0] == 'M' {
			messages = append(messages, field[1:])
		}
	}
	if len(messages) == 0 {
		return "unknown error"
	}
	return strings.Join(messages, "; ")
}

// writeStartupMessage sends the PostgreSQL StartupMessage: protocol
// version, then null-terminated "user"/database key-value pairs, then a
// final empty string.
func writeStartupMessage(conn net.Conn, user, database string) error {
	var body []byte
	body = appendUint32(body, protocolVersion3)
	body = appendParam(body, "user", user)
	if database != "" {
		body = appendParam(body, "database", database)
	}
	body = append(body, 0)

	var buf []byte
	buf = appendUint32(buf, uint32(len(body)+4))
	buf = append(buf, body...)
	_, err := conn.Write(buf)
	return err
}

func appendParam(buf []byte, key, value string) []byte {
	buf = append(buf, key...)
	buf = append(buf, 0)
	buf = append(buf, value...)
	buf = append(buf, 0)
	return buf
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

// writeSASLInitialResponse sends a PasswordMessage ('p') carrying the
// chosen mechanism name (NUL-terminated) and the client-first-message
// (prefixed with its 4-byte length), per the SASL frontend/backend message
// format.
func writeSASLInitialResponse(conn net.Conn, mechanism string, clientFirst []byte) error {
	var payload []byte
	payload = append(payload, mechanism...)
	payload = append(payload, 0)
	payload = appendUint32(payload, uint32(len(clientFirst)))
	payload = append(payload, clientFirst...)
	return writeTypedMessage(conn, 'p', payload)
}

// writePasswordMessage sends a bare PasswordMessage ('p') carrying a raw
// SASL response (client-final-message), with no mechanism prefix.
func writePasswordMessage(conn net.Conn, data []byte) error {
	return writeTypedMessage(conn, 'p', data)
}

func writeTypedMessage(conn net.Conn, msgType byte, payload []byte) error {
	buf := make([]byte, 1+4+len(payload))
	buf[0] = msgType
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(payload)+4))
	copy(buf[5:], payload)
	_, err := conn.Write(buf)
	return err
}

// readMessage reads one backend message: a 1-byte type followed by a
// 4-byte big-endian length (inclusive of itself) and that many bytes of
// payload.
func readMessage(conn net.Conn) (byte, []byte, error) {
	var typeBuf [1]byte
	if _, err := io.ReadFull(conn, typeBuf[:]); err != nil {
		return 0, nil, fmt.Errorf("reading message type: %w", err)
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return 0, nil, fmt.Errorf("reading message length: %w", err)
	}
	payloadLen := int(binary.BigEndian.Uint32(lenBuf[:])) - 4
	if payloadLen < 0 {
		return 0, nil, fmt.Errorf("negative message length")
	}
	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(conn, payload); err != nil {
			return 0, nil, fmt.Errorf("reading message payload: %w", err)
		}
	}
	return typeBuf[0], payload, nil
}
