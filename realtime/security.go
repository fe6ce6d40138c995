package realtime

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulsehq/pulse/internal/slogging"
)

// Envelope wraps a secured message. The signature covers the envelope id,
// timestamp, nonce, payload and sender, so none of them can be altered in
// transit without detection.
type Envelope struct {
	EnvelopeID string          `json:"envelope_id"`
	Timestamp  int64           `json:"timestamp"`
	Nonce      string          `json:"nonce"`
	Signature  string          `json:"signature"`
	Payload    json.RawMessage `json:"payload"`
	UserID     string          `json:"user_id"`
}

// SignerConfig holds message authenticator configuration
type SignerConfig struct {
	// Secret is the shared HMAC key
	Secret string
	// TimeWindow is the allowed clock skew in either direction
	TimeWindow time.Duration
	// CacheTTL is how long processed envelope ids are remembered
	CacheTTL time.Duration
}

// Signer signs and verifies message envelopes. Verification rejects stale
// timestamps, replayed envelope ids and forged signatures, in that order.
// All failures are per-message; the connection is never closed for them.
type Signer struct {
	secret     []byte
	timeWindow time.Duration
	cacheTTL   time.Duration

	mu   sync.Mutex
	seen map[string]time.Time // envelope id -> time of acceptance

	now func() time.Time
}

// NewSigner creates a message authenticator
func NewSigner(cfg SignerConfig) *Signer {
	if cfg.TimeWindow <= 0 {
		cfg.TimeWindow = 5 * time.Minute
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	return &Signer{
		secret:     []byte(cfg.Secret),
		timeWindow: cfg.TimeWindow,
		cacheTTL:   cfg.CacheTTL,
		seen:       make(map[string]time.Time),
		now:        time.Now,
	}
}

// Sign wraps the payload in a signed envelope on behalf of the given user
func (s *Signer) Sign(payload json.RawMessage, userID string) Envelope {
	e := Envelope{
		EnvelopeID: uuid.New().String(),
		Timestamp:  s.now().Unix(),
		Nonce:      uuid.New().String(),
		Payload:    payload,
		UserID:     userID,
	}
	e.Signature = s.computeTag(&e)
	return e
}

// Verify checks the envelope's timestamp, replay status and signature. On
// success the envelope id is recorded so a second submission is rejected.
func (s *Signer) Verify(_ context.Context, e *Envelope) error {
	now := s.now()

	sent := time.Unix(e.Timestamp, 0)
	skew := now.Sub(sent)
	if skew < 0 {
		skew = -skew
	}
	if skew > s.timeWindow {
		return ErrMessageExpired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[e.EnvelopeID]; ok {
		metricReplayRejectedTotal.Inc()
		return ErrReplayAttack
	}

	expected := s.computeTag(e)
	if !hmac.Equal([]byte(expected), []byte(e.Signature)) {
		return ErrInvalidSignature
	}

	s.seen[e.EnvelopeID] = now
	return nil
}

// computeTag derives the hex HMAC-SHA256 tag for the envelope
func (s *Signer) computeTag(e *Envelope) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%d:%s:%s:%s:%s", e.EnvelopeID, e.Timestamp, e.Nonce, e.Payload, e.UserID, s.secret)
	return hex.EncodeToString(mac.Sum(nil))
}

// SweepExpired evicts replay-cache entries older than the cache TTL and
// returns how many were removed.
func (s *Signer) SweepExpired() int {
	cutoff := s.now().Add(-s.cacheTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, accepted := range s.seen {
		if accepted.Before(cutoff) {
			delete(s.seen, id)
			removed++
		}
	}
	return removed
}

// RunSweeper periodically evicts expired replay-cache entries until the
// context is cancelled.
func (s *Signer) RunSweeper(ctx context.Context, interval time.Duration) {
	logger := slogging.Get()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.SweepExpired(); n > 0 {
				logger.Debug("Replay cache sweep removed=%d", n)
			}
		case <-ctx.Done():
			return
		}
	}
}
