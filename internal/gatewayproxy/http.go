package gatewayproxy

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/gorilla/mux"

	"github.com/segw-project/segw/internal/cfgcache"
	"github.com/segw-project/segw/internal/meterid"
	"github.com/segw-project/segw/internal/obis"
	"github.com/segw-project/segw/internal/opauth"
	"github.com/segw-project/segw/internal/smlrouter"
	"github.com/segw-project/segw/pkg/lrucache"
)

// profileCacheMaxMemory/profileCacheTTL bound the in-memory cache placed
// in front of handleProfile: a profile pull is a SQL range query
// (internal/store.Mirror.QueryProfile) over a time window that, once
// closed, never changes, so short-TTL coalescing turns a burst of
// identical operator polls into one query.
const (
	profileCacheMaxMemory = 8 << 20
	profileCacheTTL       = 30 * time.Second
)

// API wires the operator-facing HTTP surface onto a Proxy (spec §4.13):
// proc-parameter get/set and profile pulls, gated by JWT bearer auth and
// per-privilege expr-lang rules.
type API struct {
	proxy      *Proxy
	auth       *opauth.Authenticator
	privileges *cfgcache.Table[string, cfgcache.Privilege]
	profiles   smlrouter.ProfileStore

	programs map[string]*vm.Program
}

// NewAPI returns an API bound to proxy, auth and the cache's privilege
// table.
func NewAPI(proxy *Proxy, auth *opauth.Authenticator, privileges *cfgcache.Table[string, cfgcache.Privilege], profiles smlrouter.ProfileStore) *API {
	return &API{proxy: proxy, auth: auth, privileges: privileges, profiles: profiles, programs: make(map[string]*vm.Program)}
}

// Register installs the routes under r's "/api/v1" subrouter, matching
// the teacher's gorilla/mux `PathPrefix(...).Subrouter()` convention
// (internal/api/rest.go).
func (a *API) Register(r *mux.Router) {
	sub := r.PathPrefix("/api/v1").Subrouter()
	sub.Use(a.authMiddleware)
	sub.HandleFunc("/devices/{srvId}/proc-parameter", a.handleProcParameter).Methods(http.MethodPost)

	profileCache := lrucache.NewHttpHandler(profileCacheMaxMemory, profileCacheTTL, http.HandlerFunc(a.handleProfile))
	profileCache.CacheKey = func(r *http.Request) string {
		return operatorFrom(r.Context()) + "|" + r.URL.RequestURI()
	}
	sub.Handle("/devices/{srvId}/profile", profileCache).Methods(http.MethodGet)
}

type operatorKey struct{}

func (a *API) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := a.auth.Authenticate(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := setOperator(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authorize evaluates every privilege row for user against meter/reg,
// compiling its Rule expression on first use (spec §4.13, grounded on
// internal/tagger/classifyJob.go's expr.Compile/expr.Run split).
func (a *API) authorize(user, meter string, path obis.Path) bool {
	allowed := false
	a.privileges.Loop(func(_ string, p cfgcache.Privilege) bool {
		if p.User != user {
			return true
		}
		if p.Meter != "" && p.Meter != meter {
			return true
		}
		if p.Reg != "" && p.Reg != path.String() {
			return true
		}
		program, err := a.compile(p.Rule)
		if err != nil {
			return true
		}
		out, err := expr.Run(program, map[string]any{"user": user, "meter": meter, "reg": path.String()})
		if err == nil {
			if ok, _ := out.(bool); ok {
				allowed = true
				return false
			}
		}
		return true
	})
	return allowed
}

func (a *API) compile(rule string) (*vm.Program, error) {
	if p, ok := a.programs[rule]; ok {
		return p, nil
	}
	p, err := expr.Compile(rule, expr.AsBool(), expr.Env(map[string]any{"user": "", "meter": "", "reg": ""}))
	if err != nil {
		return nil, err
	}
	a.programs[rule] = p
	return p, nil
}

type procParameterRequest struct {
	Path  string `json:"path"`
	Value *struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"value,omitempty"`
}

func (a *API) handleProcParameter(w http.ResponseWriter, r *http.Request) {
	srvID, ok := srvFromRequest(w, r)
	if !ok {
		return
	}
	var body procParameterRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	path, err := parsePath(body.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user := operatorFrom(r.Context())
	if !a.authorize(user, srvID.String(), path) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var replyCh <-chan Reply
	if body.Value == nil {
		replyCh, err = a.proxy.RequestProcParameter(srvID, path, user)
	} else {
		replyCh, err = a.proxy.SetProcParameter(srvID, path, decodeConfigValue(*body.Value), user)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	select {
	case reply := <-replyCh:
		if reply.Err != nil {
			http.Error(w, reply.Err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, reply.Value)
	case <-r.Context().Done():
		http.Error(w, "request cancelled", http.StatusRequestTimeout)
	}
}

func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	srvID, ok := srvFromRequest(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	profile, err := obis.ParseID(q.Get("profile"))
	if err != nil {
		http.Error(w, "missing or invalid profile parameter", http.StatusBadRequest)
		return
	}

	user := operatorFrom(r.Context())
	if !a.authorize(user, srvID.String(), obis.Path{profile}) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	start, err := parseTime(q.Get("start"))
	if err != nil {
		http.Error(w, "invalid start timestamp", http.StatusBadRequest)
		return
	}
	end, err := parseTime(q.Get("end"))
	if err != nil {
		http.Error(w, "invalid end timestamp", http.StatusBadRequest)
		return
	}

	rows, err := a.profiles.QueryProfile(srvID, profile, start, end)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func srvFromRequest(w http.ResponseWriter, r *http.Request) (meterid.ServerID, bool) {
	hexID := mux.Vars(r)["srvId"]
	srv, err := meterid.ParseServerID(hexID)
	if err != nil {
		http.Error(w, "invalid srvId", http.StatusBadRequest)
		return nil, false
	}
	return srv, true
}

// setOperator/operatorFrom pass the authenticated operator's username
// through the request context from authMiddleware to the handlers.
func setOperator(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, operatorKey{}, user)
}

func operatorFrom(ctx context.Context) string {
	user, _ := ctx.Value(operatorKey{}).(string)
	return user
}

func parsePath(s string) (obis.Path, error) {
	if s == "" {
		return nil, nil
	}
	segs := strings.Split(s, "/")
	path := make(obis.Path, 0, len(segs))
	for _, seg := range segs {
		id, err := obis.ParseID(seg)
		if err != nil {
			return nil, err
		}
		path = append(path, id)
	}
	return path, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func decodeConfigValue(v struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}) cfgcache.ConfigValue {
	return cfgcache.ConfigValue{Type: cfgcache.TypeString, Str: v.Value}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
