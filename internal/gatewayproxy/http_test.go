package gatewayproxy

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segw-project/segw/internal/cfgcache"
	"github.com/segw-project/segw/internal/iptsession"
	"github.com/segw-project/segw/internal/meterid"
	"github.com/segw-project/segw/internal/obis"
	"github.com/segw-project/segw/internal/opauth"
	"github.com/segw-project/segw/internal/smlrouter"
)

type stubProfileStore struct {
	rows []smlrouter.ProfileRow
}

func (s *stubProfileStore) QueryProfile(meterid.ServerID, obis.ID, time.Time, time.Time) ([]smlrouter.ProfileRow, error) {
	return s.rows, nil
}

func newTestAPI(t *testing.T) (*API, *Proxy, *opauth.JWTIssuer, *cfgcache.Table[string, cfgcache.Privilege]) {
	t.Helper()
	proxy := New()
	srv := meterid.ServerID{0x01, 0x02}
	proxy.Attach(srv, &fakeTransport{state: iptsession.StateOnline})

	issuer := issuerWithFreshKeysFor(t)
	privileges := cfgcache.NewTable[string, cfgcache.Privilege]()
	privileges.Insert("alice/*/*", cfgcache.Privilege{User: "alice", Rule: "true"}, "test")

	api := NewAPI(proxy, opauth.NewAuthenticator(issuer), privileges, &stubProfileStore{})
	return api, proxy, issuer, privileges
}

func issuerWithFreshKeysFor(t *testing.T) *opauth.JWTIssuer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	t.Setenv("JWT_PUBLIC_KEY", base64.StdEncoding.EncodeToString(pub))
	t.Setenv("JWT_PRIVATE_KEY", base64.StdEncoding.EncodeToString(priv))

	issuer, err := opauth.NewJWTIssuer("segw-master", time.Minute)
	require.NoError(t, err)
	return issuer
}

func TestProcParameterRequiresBearerToken(t *testing.T) {
	api, _, _, _ := newTestAPI(t)
	r := mux.NewRouter()
	api.Register(r)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/0102/proc-parameter", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProcParameterForbiddenWithoutPrivilege(t *testing.T) {
	api, _, issuer, privileges := newTestAPI(t)
	privileges.Erase("alice/*/*", "test")
	r := mux.NewRouter()
	api.Register(r)

	token, err := issuer.Issue("alice", nil)
	require.NoError(t, err)

	body, _ := json.Marshal(procParameterRequest{Path: obis.New(0, 0, 96, 1, 0, 255).String()})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/0102/proc-parameter", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
