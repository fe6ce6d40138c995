package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type stubUserStore struct {
	active map[uuid.UUID]bool
}

func (s *stubUserStore) IsActive(_ context.Context, id uuid.UUID) (bool, error) {
	return s.active[id], nil
}

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis, *stubUserStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	users := &stubUserStore{active: make(map[uuid.UUID]bool)}
	svc := NewService(Config{
		Secret:   testSecret,
		Issuer:   "pulse",
		TokenTTL: time.Hour,
	}, NewTokenBlacklist(client), users)
	return svc, mr, users
}

func TestVerifyRoundTrip(t *testing.T) {
	svc, _, users := newTestService(t)

	identity := Identity{UserID: uuid.New(), Email: "a@example.com", Name: "Ada"}
	users.active[identity.UserID] = true

	token, err := svc.IssueToken(identity)
	require.NoError(t, err)

	got, err := svc.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, identity, got)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	svc, _, _ := newTestService(t)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.New().String(),
			Issuer:    "pulse",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			ID:        uuid.New().String(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyRejectsMalformedToken(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Verify(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, ErrTokenMalformed)
}

func TestVerifyRejectsWrongSignature(t *testing.T) {
	svc, _, _ := newTestService(t)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.New().String(),
			Issuer:    "pulse",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("wrong-secret"))
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrTokenMalformed)
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	svc, _, _ := newTestService(t)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.New().String(),
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrTokenMalformed)
}

func TestVerifyRejectsRevokedToken(t *testing.T) {
	svc, _, users := newTestService(t)

	identity := Identity{UserID: uuid.New()}
	users.active[identity.UserID] = true

	token, err := svc.IssueToken(identity)
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(context.Background(), token))

	_, err = svc.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestVerifyRejectsInactiveAccount(t *testing.T) {
	svc, _, users := newTestService(t)

	identity := Identity{UserID: uuid.New()}
	users.active[identity.UserID] = false

	token, err := svc.IssueToken(identity)
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestBlacklistEntryExpiresWithToken(t *testing.T) {
	svc, mr, users := newTestService(t)

	identity := Identity{UserID: uuid.New()}
	users.active[identity.UserID] = true

	token, err := svc.IssueToken(identity)
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(context.Background(), token))

	_, err = svc.Verify(context.Background(), token)
	require.ErrorIs(t, err, ErrTokenRevoked)

	// The blacklist entry lives no longer than the token it shadows
	mr.FastForward(2 * time.Hour)

	_, err = svc.Verify(context.Background(), token)
	assert.NoError(t, err)
}
