package lending

import (
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// DefaultTokenExpiration is the session credential lifetime in hours (15 days)
const DefaultTokenExpiration = 15 * 24

// TokenService issues and verifies HS256 session credentials
type TokenService struct {
	signingKey      []byte
	tokenExpiration int
	issuer          string
	audience        jwt.ClaimStrings
	now             func() time.Time
	logger          Logger
}

var (
	_ TokenIssuer   = (*TokenService)(nil)
	_ TokenVerifier = (*TokenService)(nil)
)

type TokenServiceOption func(*TokenService)

// WithTokenClock overrides the clock used to stamp and check expiry
func WithTokenClock(now func() time.Time) TokenServiceOption {
	return func(ts *TokenService) {
		if now != nil {
			ts.now = now
		}
	}
}

// NewTokenService creates a new TokenService, tokenExpiration is in hours
func NewTokenService(signingKey []byte, tokenExpiration int, issuer string, audience jwt.ClaimStrings, logger Logger, opts ...TokenServiceOption) *TokenService {
	if tokenExpiration <= 0 {
		tokenExpiration = DefaultTokenExpiration
	}
	ts := &TokenService{
		signingKey:      signingKey,
		tokenExpiration: tokenExpiration,
		issuer:          issuer,
		audience:        audience,
		now:             time.Now,
		logger:          resolveLogger("lending.token_service", logger),
	}
	for _, opt := range opts {
		opt(ts)
	}
	return ts
}

// NewTokenServiceFromConfig creates a TokenService from Config getters
func NewTokenServiceFromConfig(cfg Config, logger Logger, opts ...TokenServiceOption) *TokenService {
	return NewTokenService(
		[]byte(cfg.GetSigningKey()),
		cfg.GetTokenExpiration(),
		cfg.GetIssuer(),
		jwt.ClaimStrings(cfg.GetAudience()),
		logger,
		opts...,
	)
}

// TTL returns the credential lifetime
func (ts *TokenService) TTL() time.Duration {
	return time.Duration(ts.tokenExpiration) * time.Hour
}

// Issue signs a credential binding identityID and role
func (ts *TokenService) Issue(identityID uuid.UUID, role Role) (string, error) {
	if identityID == uuid.Nil || !role.IsValid() {
		return "", goerrors.New("cannot issue a token without identity and role", goerrors.CategoryInternal)
	}

	now := ts.now()

	// exp is stored in whole seconds, round up so the token lives at least TTL
	expiresAt := now.Add(ts.TTL())
	if rounded := expiresAt.Truncate(time.Second); rounded.Before(expiresAt) {
		expiresAt = rounded.Add(time.Second)
	}

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   identityID.String(),
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UID:      identityID.String(),
		UserRole: role,
	}

	return ts.SignClaims(claims)
}

// SignClaims signs arbitrary claims using the configured signing key.
func (ts *TokenService) SignClaims(claims *Claims) (string, error) {
	if claims == nil {
		return "", goerrors.New("claims must not be nil", goerrors.CategoryInternal)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}
	return signed, nil
}

// Verify checks signature and expiry. The token is accepted up to and
// including its expiration second.
func (ts *TokenService) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Warn("token uses unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, withSource(ErrTokenMalformed, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenMalformed
	}

	if claims.ExpiresAt == nil {
		return nil, withMetadata(ErrTokenMalformed, map[string]any{"claim": "exp"})
	}

	if ts.now().After(claims.ExpiresAt.Time) {
		return nil, ErrTokenExpired
	}

	if ts.issuer != "" && claims.Issuer != ts.issuer {
		return nil, withMetadata(ErrTokenMalformed, map[string]any{"claim": "iss"})
	}

	if len(ts.audience) > 0 && !audienceMatches(ts.audience, claims.Audience) {
		return nil, withMetadata(ErrTokenMalformed, map[string]any{"claim": "aud"})
	}

	if claims.GetIdentityID() == uuid.Nil || !claims.UserRole.IsValid() {
		return nil, withMetadata(ErrTokenMalformed, map[string]any{"claim": "uid"})
	}

	return claims, nil
}

func audienceMatches(expected, actual jwt.ClaimStrings) bool {
	for _, aud := range actual {
		if slices.Contains(expected, aud) {
			return true
		}
	}
	return false
}
