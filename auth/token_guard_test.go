package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dormoron/polyel"
	"github.com/dormoron/polyel/internal/errs"
)

func newTokenGuard(t *testing.T, now func() time.Time) *TokenGuard {
	hash, err := BcryptHasher{Cost: 4}.Hash("secret")
	require.NoError(t, err)
	provider := NewMemoryProvider(GenericUser{"id": "42", "email": "tom@polyel.dev", "password": hash})
	opts := InitTokenOptions(time.Hour, "polyel-key",
		WithIssuer("polyel"), WithGenIDFunc(func() string { return "token-id" }))
	return NewTokenGuard(provider, opts, WithNowFunc(now))
}

func bearerCtx(token string) *polyel.Context {
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return polyel.NewContext(httptest.NewRecorder(), req)
}

func TestTokenGuard_IssueAndVerify(t *testing.T) {
	now := time.Now()
	g := newTokenGuard(t, func() time.Time { return now })

	token, err := g.IssueForCredentials(bearerCtx(""), Credentials{"email": "tom@polyel.dev", "password": "secret"})
	require.NoError(t, err)

	clm, err := g.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "42", clm.Subject)
	assert.Equal(t, "polyel", clm.Issuer)
	assert.Equal(t, "token-id", clm.ID)

	ctx := bearerCtx(token)
	ok, err := g.Check(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	u, err := g.User(ctx)
	require.NoError(t, err)
	assert.Equal(t, "42", u.AuthID())
	got, ok := ClaimsFrom(ctx)
	assert.True(t, ok)
	assert.Equal(t, "42", got.Subject)
}

func TestTokenGuard_InvalidCredentials(t *testing.T) {
	g := newTokenGuard(t, time.Now)
	_, err := g.IssueForCredentials(bearerCtx(""), Credentials{"email": "tom@polyel.dev", "password": "wrong"})
	assert.True(t, errs.IsInvalidCredentials(err))
	_, err = g.IssueForCredentials(bearerCtx(""), Credentials{"email": "nobody@polyel.dev", "password": "secret"})
	assert.True(t, errs.IsInvalidCredentials(err))
}

func TestTokenGuard_Check(t *testing.T) {
	now := time.Now()
	g := newTokenGuard(t, func() time.Time { return now })
	token, err := g.Issue(GenericUser{"id": "42"})
	require.NoError(t, err)
	ghost, err := g.Issue(GenericUser{"id": "7"})
	require.NoError(t, err)

	other := NewTokenGuard(nil, InitTokenOptions(time.Hour, "another-key"))
	forged, err := other.Issue(GenericUser{"id": "42"})
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "42"}})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	testCases := []struct {
		name   string
		header string
		now    time.Time
		wantOK bool
	}{
		{name: "valid", header: "Bearer " + token, now: now, wantOK: true},
		{name: "no header", header: "", now: now},
		{name: "wrong scheme", header: "Basic " + token, now: now},
		{name: "expired", header: "Bearer " + token, now: now.Add(2 * time.Hour)},
		{name: "wrong key", header: "Bearer " + forged, now: now},
		{name: "alg none", header: "Bearer " + unsigned, now: now},
		{name: "unknown user", header: "Bearer " + ghost, now: now},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			g.nowFunc = func() time.Time { return tc.now }
			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			ok, err := g.Check(polyel.NewContext(httptest.NewRecorder(), req))
			require.NoError(t, err)
			assert.Equal(t, tc.wantOK, ok)
		})
	}
}

func TestManager_Guard(t *testing.T) {
	m := NewManager(GuardToken)
	g := newTokenGuard(t, time.Now)
	m.Extend(GuardToken, g)

	got, err := m.Guard("")
	require.NoError(t, err)
	assert.Same(t, g, got)

	_, err = m.Guard(GuardSession)
	assert.True(t, errs.IsGuardNotFound(err))

	ok, err := m.Check(bearerCtx(""))
	require.NoError(t, err)
	assert.False(t, ok)
}
