// Package auth provides credential verification for the realtime core: JWT
// validation, revocation via a Redis-backed blacklist, and account-active
// lookup.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pulsehq/pulse/internal/slogging"
)

// Credential verification errors. Handshake code maps these to an
// unauthorized close before any connection state is created.
var (
	// ErrTokenExpired indicates the credential's expiry claim has passed
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenMalformed indicates the credential could not be parsed or its
	// signature/claims are invalid
	ErrTokenMalformed = errors.New("token malformed")
	// ErrTokenRevoked indicates the credential was blacklisted or the
	// referenced account is no longer active
	ErrTokenRevoked = errors.New("token revoked")
)

// Identity is the authenticated principal behind a connection. It is
// resolved once at handshake time and never changes for the lifetime of the
// connection.
type Identity struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
	Name   string    `json:"name"`
}

// Claims holds the JWT claims carried by access tokens
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// UserStore is the minimal account lookup the verifier needs. The relational
// store behind it is an external collaborator.
type UserStore interface {
	// IsActive reports whether the account exists and is enabled
	IsActive(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Config holds verifier configuration
type Config struct {
	Secret   string
	Issuer   string
	TokenTTL time.Duration
}

// Service validates bearer credentials and resolves them to identities
type Service struct {
	config    Config
	blacklist *TokenBlacklist
	users     UserStore
}

// NewService creates a new credential verification service. The blacklist is
// optional; passing nil disables revocation checks (used by some tests).
func NewService(cfg Config, blacklist *TokenBlacklist, users UserStore) *Service {
	logger := slogging.Get()
	logger.Info("Initializing credential verifier issuer=%s", cfg.Issuer)
	return &Service{config: cfg, blacklist: blacklist, users: users}
}

// Verify validates the raw credential and resolves it to an Identity.
// Validation order: signature and registered claims, issuer, revocation,
// account-active.
func (s *Service) Verify(ctx context.Context, rawToken string) (Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(rawToken, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if !token.Valid {
		return Identity{}, ErrTokenMalformed
	}

	if claims.Issuer != s.config.Issuer {
		return Identity{}, fmt.Errorf("%w: unexpected issuer %q", ErrTokenMalformed, claims.Issuer)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: subject is not a user id", ErrTokenMalformed)
	}

	if s.blacklist != nil && claims.ID != "" {
		revoked, err := s.blacklist.IsRevoked(ctx, claims.ID)
		if err != nil {
			return Identity{}, fmt.Errorf("revocation check failed: %w", err)
		}
		if revoked {
			return Identity{}, ErrTokenRevoked
		}
	}

	if s.users != nil {
		active, err := s.users.IsActive(ctx, userID)
		if err != nil {
			return Identity{}, fmt.Errorf("account lookup failed: %w", err)
		}
		if !active {
			return Identity{}, ErrTokenRevoked
		}
	}

	return Identity{UserID: userID, Email: claims.Email, Name: claims.Name}, nil
}

// IssueToken mints a signed access token for the given identity. Used by the
// login flow (out of core scope) and by tests and the dev tooling.
func (s *Service) IssueToken(identity Identity) (string, error) {
	now := time.Now().UTC()
	ttl := s.config.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	claims := Claims{
		Email: identity.Email,
		Name:  identity.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID.String(),
			Issuer:    s.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Revoke blacklists the given credential until its natural expiry
func (s *Service) Revoke(ctx context.Context, rawToken string) error {
	if s.blacklist == nil {
		return errors.New("no blacklist configured")
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(rawToken, claims, func(t *jwt.Token) (any, error) {
		return []byte(s.config.Secret), nil
	})
	if err != nil && !errors.Is(err, jwt.ErrTokenExpired) {
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if claims.ID == "" {
		return fmt.Errorf("%w: missing jti", ErrTokenMalformed)
	}

	var ttl time.Duration
	if claims.ExpiresAt != nil {
		ttl = time.Until(claims.ExpiresAt.Time)
	}
	if ttl <= 0 {
		// Already expired, nothing to revoke
		return nil
	}

	return s.blacklist.Revoke(ctx, claims.ID, ttl)
}
