// Package health runs a periodic self-check of the SCRAM client engine: a
// full loopback handshake against hand-computed server-side SCRAM math for
// each configured mechanism, so that a corrupted build or broken dependency
// is caught before it affects a real authentication attempt.
package health

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/dbbouncer/scramclient/internal/metrics"
	"github.com/dbbouncer/scramclient/internal/scram"
)

// Status represents the health status of a mechanism's self-check.
type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MechanismHealth holds self-check state for one SCRAM mechanism.
type MechanismHealth struct {
	Status              Status    `json:"status"`
	LastCheck           time.Time `json:"last_check"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

// Checker performs periodic loopback self-checks.
type Checker struct {
	mu         sync.RWMutex
	mechanisms map[string]*MechanismHealth
	metrics    *metrics.Collector

	checked []scram.Mechanism

	interval         time.Duration
	failureThreshold int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewChecker creates a self-checker that exercises each of mechanisms on
// every tick.
func NewChecker(mechanisms []scram.Mechanism, m *metrics.Collector, interval time.Duration, failureThreshold int) *Checker {
	if len(mechanisms) == 0 {
		mechanisms = []scram.Mechanism{scram.SHA256}
	}
	return &Checker{
		mechanisms:       make(map[string]*MechanismHealth),
		metrics:          m,
		checked:          mechanisms,
		interval:         interval,
		failureThreshold: failureThreshold,
		stopCh:           make(chan struct{}),
	}
}

// Start begins periodic self-checking.
func (c *Checker) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run()
	}()
	slog.Info("self-check started", "interval", c.interval, "threshold", c.failureThreshold)
}

// Stop stops the self-checker. Safe to call multiple times.
func (c *Checker) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
	slog.Info("self-check stopped")
}

func (c *Checker) run() {
	c.checkAll()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.checkAll()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Checker) checkAll() {
	var wg sync.WaitGroup
	for _, mech := range c.checked {
		mech := mech
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			err := loopbackHandshake(mech)
			elapsed := time.Since(start)
			healthy := err == nil
			if c.metrics != nil {
				c.metrics.SelfCheckCompleted(mech.Name(), elapsed, healthy)
			}
			c.updateStatus(mech.Name(), healthy, err)
		}()
	}
	wg.Wait()
}

func (c *Checker) updateStatus(mechanism string, healthy bool, checkErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	mh := c.getOrCreate(mechanism)
	mh.LastCheck = time.Now()

	if healthy {
		if mh.ConsecutiveFailures > 0 {
			slog.Info("self-check recovered", "mechanism", mechanism, "failures", mh.ConsecutiveFailures)
		}
		mh.Status = StatusHealthy
		mh.ConsecutiveFailures = 0
		mh.LastError = ""
		return
	}

	mh.ConsecutiveFailures++
	mh.LastError = checkErr.Error()

	var scramErr *scram.Error
	if errors.As(checkErr, &scramErr) {
		slog.Warn("self-check handshake failed", "mechanism", mechanism, "kind", scramErr.Kind, "err", scramErr.Err)
	} else {
		slog.Warn("self-check handshake failed", "mechanism", mechanism, "err", checkErr)
	}

	if mh.ConsecutiveFailures >= c.failureThreshold {
		if mh.Status != StatusUnhealthy {
			slog.Warn("self-check marked unhealthy", "mechanism", mechanism, "failures", mh.ConsecutiveFailures, "error", mh.LastError)
		}
		mh.Status = StatusUnhealthy
	}
}

func (c *Checker) getOrCreate(mechanism string) *MechanismHealth {
	mh, ok := c.mechanisms[mechanism]
	if !ok {
		mh = &MechanismHealth{Status: StatusUnknown}
		c.mechanisms[mechanism] = mh
	}
	return mh
}

// GetStatus returns the self-check status for a mechanism.
func (c *Checker) GetStatus(mechanism string) MechanismHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()

	mh, ok := c.mechanisms[mechanism]
	if !ok {
		return MechanismHealth{Status: StatusUnknown}
	}
	return *mh
}

// GetAllStatuses returns self-check statuses for all checked mechanisms.
func (c *Checker) GetAllStatuses() map[string]MechanismHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]MechanismHealth, len(c.mechanisms))
	for id, mh := range c.mechanisms {
		result[id] = *mh
	}
	return result
}

// OverallHealthy returns true if every checked mechanism is healthy (or has
// never been checked yet).
func (c *Checker) OverallHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, mh := range c.mechanisms {
		if mh.Status == StatusUnhealthy {
			return false
		}
	}
	return true
}

const (
	loopbackUser       = "selfcheck"
	loopbackPassword   = "loopback-self-check-password"
	loopbackIterations = 4096
)

// loopbackSaltMaterial backs loopbackSaltFor, which trims it down to
// whatever length the chosen mechanism's hash needs (§4.2: decoded salt must
// be exactly H-4 bytes). It's long enough for SHA-256's 28-byte requirement.
var loopbackSaltMaterial = []byte("loopback-self-check-salt-material")

// loopbackSaltFor returns a deterministic salt of exactly newHash().Size()-4
// bytes, the length session.go's server-first-message parsing requires.
func loopbackSaltFor(newHash func() hash.Hash) []byte {
	return loopbackSaltMaterial[:newHash().Size()-4]
}

// loopbackHandshake drives a real scram.Session through a full three-step
// conversation against hand-computed server-side SCRAM math, using a fixed
// synthetic credential. It proves the engine itself (SASLprep, Hi/PBKDF2,
// HMAC derivations, message framing) still produces a conversation a
// correct server would accept; it says nothing about any real backend.
func loopbackHandshake(mechanism scram.Mechanism) error {
	newHash, hashedPassword := newHashFor(mechanism)

	sess, err := scram.NewSession(mechanism)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	defer sess.Destroy()
	sess.SetUser(loopbackUser)
	sess.SetPassword(loopbackPassword)

	clientFirst, err := sess.Step(nil)
	if err != nil {
		return fmt.Errorf("step 0->1: %w", err)
	}

	// The client-first-message is the 3-byte GS2 header "n,," followed by
	// the bare message; strip it to get what goes into AuthMessage.
	if len(clientFirst) < 3 {
		return fmt.Errorf("client-first-message too short")
	}
	clientFirstBare := string(clientFirst[3:])

	clientNonce, ok := extractAttr(clientFirstBare, "r=")
	if !ok {
		return fmt.Errorf("client-first-message missing nonce")
	}

	salt := loopbackSaltFor(newHash)
	serverNonce := clientNonce + "server-ext"
	serverFirst := fmt.Sprintf("r=%s,s=%s,i=%d", serverNonce, base64.StdEncoding.EncodeToString(salt), loopbackIterations)

	clientFinal, err := sess.Step([]byte(serverFirst))
	if err != nil {
		return fmt.Errorf("step 1->2: %w", err)
	}

	pidx := strings.Index(string(clientFinal), ",p=")
	if pidx < 0 {
		return fmt.Errorf("client-final-message missing proof")
	}
	clientFinalWithoutProof := string(clientFinal[:pidx])
	authMessage := clientFirstBare + "," + serverFirst + "," + clientFinalWithoutProof

	saltedPassword := pbkdf2.Key([]byte(hashedPassword), salt, loopbackIterations, newHash().Size(), newHash)
	serverKey := hmacSum(newHash, saltedPassword, []byte("Server Key"))
	serverSignature := hmacSum(newHash, serverKey, []byte(authMessage))

	serverFinal := "v=" + base64.StdEncoding.EncodeToString(serverSignature)
	if _, err := sess.Step([]byte(serverFinal)); err != nil {
		return fmt.Errorf("step 2->3: %w", err)
	}
	if !sess.Done() {
		return fmt.Errorf("session did not reach completion")
	}
	return nil
}

func newHashFor(mechanism scram.Mechanism) (func() hash.Hash, string) {
	if mechanism == scram.SHA1 {
		return sha1.New, mongoPresecret(loopbackUser, loopbackPassword)
	}
	return sha256.New, loopbackPassword
}

func hmacSum(newHash func() hash.Hash, key, data []byte) []byte {
	mac := hmac.New(newHash, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func mongoPresecret(user, password string) string {
	sum := md5.Sum([]byte(user + ":mongo:" + password))
	return hex.EncodeToString(sum[:])
}

func extractAttr(msg, prefix string) (string, bool) {
	for _, part := range strings.Split(msg, ",") {
		if strings.HasPrefix(part, prefix) {
			return part[len(prefix):], true
		}
	}
	return "", false
}
