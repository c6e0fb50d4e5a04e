package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSessionGateValidAccessToken(t *testing.T) {
	clock := newTestClock(time.Now())
	issuer := newTestIssuer(clock)
	gate := NewSessionGate(issuer)

	pair, err := issuer.IssuePair(Identity{Username: "al", Role: RoleUser})
	require.NoError(t, err)

	identity, rotated, err := gate.Authenticate(pair.AccessToken, pair.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, "al", identity.Username)
	require.Nil(t, rotated, "valid access token must not rotate cookies")
}

func TestSessionGateSilentRefresh(t *testing.T) {
	clock := newTestClock(time.Now())
	issuer := newTestIssuer(clock)
	gate := NewSessionGate(issuer)

	pair, err := issuer.IssuePair(Identity{Username: "al", Role: RoleAdmin})
	require.NoError(t, err)

	// Access token expires, refresh token survives.
	clock.Advance(2 * time.Hour)

	identity, rotated, err := gate.Authenticate(pair.AccessToken, pair.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, Identity{Username: "al", Role: RoleAdmin}, identity)
	require.NotNil(t, rotated, "refresh path must mint a full new pair")

	fromAccess, err := issuer.VerifyAccess(rotated.AccessToken)
	require.NoError(t, err)
	require.Equal(t, identity, fromAccess)

	fromRefresh, err := issuer.VerifyRefresh(rotated.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, identity, fromRefresh)
	require.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)
}

func TestSessionGateRejections(t *testing.T) {
	clock := newTestClock(time.Now())
	issuer := newTestIssuer(clock)
	gate := NewSessionGate(issuer)

	_, _, err := gate.Authenticate("", "")
	require.ErrorIs(t, err, ErrNotAuthenticated)

	_, _, err = gate.Authenticate("garbage", "")
	require.ErrorIs(t, err, ErrNotAuthenticated)

	_, _, err = gate.Authenticate("garbage", "also-garbage")
	require.ErrorIs(t, err, ErrNotAuthenticated)

	pair, err := issuer.IssuePair(Identity{Username: "al", Role: RoleUser})
	require.NoError(t, err)

	clock.Advance(25 * time.Hour)
	_, _, err = gate.Authenticate(pair.AccessToken, pair.RefreshToken)
	require.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestAuthenticateAccessHasNoRefreshFallback(t *testing.T) {
	clock := newTestClock(time.Now())
	issuer := newTestIssuer(clock)
	gate := NewSessionGate(issuer)

	pair, err := issuer.IssuePair(Identity{Username: "al", Role: RoleUser})
	require.NoError(t, err)

	identity, err := gate.AuthenticateAccess(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "al", identity.Username)

	_, err = gate.AuthenticateAccess(pair.RefreshToken)
	require.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = gate.AuthenticateAccess("")
	require.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestRequireAdmin(t *testing.T) {
	gate := NewSessionGate(newTestIssuer(newTestClock(time.Now())))

	require.NoError(t, gate.RequireAdmin(Identity{Username: "root", Role: RoleAdmin}))
	require.ErrorIs(t, gate.RequireAdmin(Identity{Username: "al", Role: RoleUser}), ErrNotAuthenticated)
}
