package capabilities

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

const (
	tokenIssuer   = "yai/capabilities"
	tokenAudience = "yai.ledger"
	keyInfo       = "yai/capability-token/v1"
	minSecretLen  = 16
)

// Claims binds an origin to the capabilities it holds in one run.
// The subject is the emitting origin, for example "agent:planner".
type Claims struct {
	jwt.RegisteredClaims
	RunID        string `json:"run_id"`
	Capabilities []Type `json:"capabilities,omitempty"`
}

// Origin returns the subject the token was issued to.
func (c *Claims) Origin() string { return c.Subject }

// Has reports whether the claims carry capability t for runID.
func (c *Claims) Has(runID string, t Type) bool {
	if c.RunID != AnyRun && c.RunID != runID {
		return false
	}
	return slices.Contains(c.Capabilities, t)
}

// RequireCapability makes Claims an Enforcer scoped to the token holder.
func (c *Claims) RequireCapability(_ context.Context, runID string, t Type) error {
	if !c.Has(runID, t) {
		return denied(c.Subject, runID, t)
	}
	return nil
}

// TokenManager issues and verifies HS256 capability tokens. The signing key
// is derived from the configured secret with HKDF-SHA256.
type TokenManager struct {
	key []byte
	now func() time.Time
}

// NewTokenManager derives the signing key from secret.
func NewTokenManager(secret []byte) (*TokenManager, error) {
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("token secret must be at least %d bytes", minSecretLen)
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive token key: %w", err)
	}
	return &TokenManager{key: key, now: time.Now}, nil
}

// WithClock overrides the time source (for testing).
func (tm *TokenManager) WithClock(now func() time.Time) *TokenManager {
	tm.now = now
	return tm
}

// Issue signs a token for subject in runID.
func (tm *TokenManager) Issue(subject, runID string, caps []Type, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("token subject must not be empty")
	}
	if runID == "" {
		return "", errors.New("token run id must not be empty")
	}
	if ttl <= 0 {
		return "", errors.New("token ttl must be positive")
	}
	now := tm.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{tokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		RunID:        runID,
		Capabilities: append([]Type(nil), caps...),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.key)
}

// Parse verifies signature, issuer, audience and expiry.
func (tm *TokenManager) Parse(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return tm.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}
