package auth

import "errors"

// ErrNotAuthenticated is returned for missing, expired and malformed tokens
// alike. Insufficient role maps to the same error on purpose so callers
// cannot tell a rejected token from a valid-but-unprivileged one.
var ErrNotAuthenticated = errors.New("not authenticated")

// SessionGate decides the authenticated identity for a request from the
// tokens it presented, performing a silent refresh when only the refresh
// token is still valid.
type SessionGate struct {
	issuer *TokenIssuer
}

func NewSessionGate(issuer *TokenIssuer) *SessionGate {
	return &SessionGate{issuer: issuer}
}

// Authenticate resolves identity from the access token, falling back to the
// refresh token. When the refresh path is taken a full new pair is minted
// (rotation, not just access renewal) and returned for the caller to set as
// cookies; otherwise the returned pair is nil.
func (g *SessionGate) Authenticate(accessToken, refreshToken string) (Identity, *TokenPair, error) {
	if accessToken != "" {
		if identity, err := g.issuer.VerifyAccess(accessToken); err == nil {
			return identity, nil, nil
		}
	}

	if refreshToken == "" {
		return Identity{}, nil, ErrNotAuthenticated
	}

	identity, err := g.issuer.VerifyRefresh(refreshToken)
	if err != nil {
		return Identity{}, nil, ErrNotAuthenticated
	}

	pair, err := g.issuer.IssuePair(identity)
	if err != nil {
		return Identity{}, nil, err
	}

	return identity, &pair, nil
}

// AuthenticateAccess accepts only a currently valid access token, with no
// refresh fallback. Password change and the admin endpoints use this
// stricter rule.
func (g *SessionGate) AuthenticateAccess(accessToken string) (Identity, error) {
	if accessToken == "" {
		return Identity{}, ErrNotAuthenticated
	}

	identity, err := g.issuer.VerifyAccess(accessToken)
	if err != nil {
		return Identity{}, ErrNotAuthenticated
	}

	return identity, nil
}

func (g *SessionGate) RequireAdmin(identity Identity) error {
	if !identity.IsAdmin() {
		return ErrNotAuthenticated
	}
	return nil
}
