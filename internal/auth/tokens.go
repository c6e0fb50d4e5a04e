package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultAccessTTL  = time.Hour
	defaultRefreshTTL = 24 * time.Hour
)

// ErrInvalidToken covers every verification failure: bad signature, expiry,
// malformed token. Callers never learn which one it was.
var ErrInvalidToken = errors.New("invalid or expired token")

type tokenClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies the access/refresh token pair. The two
// classes are signed with distinct secrets so a leak of one does not
// compromise the other. Tokens are stateless; expiry is the only
// invalidation mechanism.
type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

func NewTokenIssuer(accessSecret, refreshSecret string) *TokenIssuer {
	return &TokenIssuer{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     defaultAccessTTL,
		refreshTTL:    defaultRefreshTTL,
		now:           time.Now,
	}
}

func (i *TokenIssuer) WithTTL(accessTTL, refreshTTL time.Duration) *TokenIssuer {
	if accessTTL > 0 {
		i.accessTTL = accessTTL
	}
	if refreshTTL > 0 {
		i.refreshTTL = refreshTTL
	}
	return i
}

func (i *TokenIssuer) AccessTTL() time.Duration  { return i.accessTTL }
func (i *TokenIssuer) RefreshTTL() time.Duration { return i.refreshTTL }

// IssuePair signs a fresh access and refresh token over the same identity.
// Pure function of identity, clock and secrets; no storage side effect.
func (i *TokenIssuer) IssuePair(identity Identity) (TokenPair, error) {
	access, err := i.sign(identity, i.accessSecret, i.accessTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}

	refresh, err := i.sign(identity, i.refreshSecret, i.refreshTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (i *TokenIssuer) VerifyAccess(raw string) (Identity, error) {
	return i.verify(raw, i.accessSecret)
}

func (i *TokenIssuer) VerifyRefresh(raw string) (Identity, error) {
	return i.verify(raw, i.refreshSecret)
}

func (i *TokenIssuer) sign(identity Identity, secret []byte, ttl time.Duration) (string, error) {
	now := i.now().UTC()
	claims := tokenClaims{
		Username: identity.Username,
		Role:     identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (i *TokenIssuer) verify(raw string, secret []byte) (Identity, error) {
	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return i.now() }),
	)
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	if claims.Username == "" {
		return Identity{}, ErrInvalidToken
	}

	return Identity{Username: claims.Username, Role: claims.Role}, nil
}
