package opauth

import (
	"crypto/ed25519"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issuerWithFreshKeys(t *testing.T) *JWTIssuer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	t.Setenv("JWT_PUBLIC_KEY", base64.StdEncoding.EncodeToString(pub))
	t.Setenv("JWT_PRIVATE_KEY", base64.StdEncoding.EncodeToString(priv))

	issuer, err := NewJWTIssuer("segw-master", time.Minute)
	require.NoError(t, err)
	return issuer
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	issuer := issuerWithFreshKeys(t)

	token, err := issuer.Issue("alice", []string{"operator"})
	require.NoError(t, err)

	sub, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", sub)
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	issuer := issuerWithFreshKeys(t)
	token, err := issuer.Issue("alice", nil)
	require.NoError(t, err)

	otherIssuer := issuerWithFreshKeys(t)
	_, err = otherIssuer.Verify(token)
	assert.Error(t, err)
}

func TestAuthenticatorRejectsMissingBearer(t *testing.T) {
	issuer := issuerWithFreshKeys(t)
	auth := NewAuthenticator(issuer)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := auth.Authenticate(r)
	assert.Error(t, err)
}

func TestAuthenticatorAcceptsValidBearer(t *testing.T) {
	issuer := issuerWithFreshKeys(t)
	auth := NewAuthenticator(issuer)

	token, err := issuer.Issue("bob", []string{"operator"})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	sub, err := auth.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "bob", sub)
}
