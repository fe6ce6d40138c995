package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	return NewSigner(SignerConfig{
		Secret:     "test-secret",
		TimeWindow: 5 * time.Minute,
		CacheTTL:   time.Hour,
	})
}

func TestSignVerifyRoundTrip(t *testing.T) {
	signer := newTestSigner(t)

	payload := json.RawMessage(`{"type":"ping"}`)
	envelope := signer.Sign(payload, "user-1")

	require.NotEmpty(t, envelope.EnvelopeID)
	require.NotEmpty(t, envelope.Nonce)
	require.NotEmpty(t, envelope.Signature)

	err := signer.Verify(context.Background(), &envelope)
	assert.NoError(t, err)
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	signer := newTestSigner(t)

	envelope := signer.Sign(json.RawMessage(`{"type":"ping"}`), "user-1")
	envelope.Payload = json.RawMessage(`{"type":"delete_project"}`)

	err := signer.Verify(context.Background(), &envelope)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyRejectsTamperedSender(t *testing.T) {
	signer := newTestSigner(t)

	envelope := signer.Sign(json.RawMessage(`{"type":"ping"}`), "user-1")
	envelope.UserID = "user-2"

	err := signer.Verify(context.Background(), &envelope)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyRejectsReplay(t *testing.T) {
	signer := newTestSigner(t)

	envelope := signer.Sign(json.RawMessage(`{"type":"ping"}`), "user-1")
	require.NoError(t, signer.Verify(context.Background(), &envelope))

	err := signer.Verify(context.Background(), &envelope)
	assert.ErrorIs(t, err, ErrReplayAttack)
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	signer := newTestSigner(t)

	envelope := signer.Sign(json.RawMessage(`{"type":"ping"}`), "user-1")

	// Move the clock past the window; the signature is still valid but the
	// timestamp check fires first.
	signer.now = func() time.Time { return time.Now().Add(6 * time.Minute) }

	err := signer.Verify(context.Background(), &envelope)
	assert.ErrorIs(t, err, ErrMessageExpired)
}

func TestVerifyRejectsFutureTimestamp(t *testing.T) {
	signer := newTestSigner(t)

	envelope := signer.Sign(json.RawMessage(`{"type":"ping"}`), "user-1")
	envelope.Timestamp = time.Now().Add(10 * time.Minute).Unix()

	err := signer.Verify(context.Background(), &envelope)
	assert.ErrorIs(t, err, ErrMessageExpired)
}

func TestSweepExpiredEvictsOldEntries(t *testing.T) {
	signer := newTestSigner(t)

	envelope := signer.Sign(json.RawMessage(`{"type":"ping"}`), "user-1")
	require.NoError(t, signer.Verify(context.Background(), &envelope))
	assert.Equal(t, 0, signer.SweepExpired())

	signer.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.Equal(t, 1, signer.SweepExpired())
	assert.Equal(t, 0, signer.SweepExpired())

	// Resubmission after eviction is not auto-accepted; the stale timestamp
	// check still applies.
	err := signer.Verify(context.Background(), &envelope)
	assert.ErrorIs(t, err, ErrMessageExpired)
}
