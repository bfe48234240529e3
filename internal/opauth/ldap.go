// Package opauth implements operator authentication for the gateway
// proxy's HTTP API (spec §4.13 EXPANDED): LDAP-sourced operator accounts
// and JWT bearer-token verification, grounded on the teacher's
// internal/auth/ldap.go and internal/auth/jwt.go.
package opauth

import (
	"errors"
	"os"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/segw-project/segw/internal/cfgcache"
	"github.com/segw-project/segw/pkg/log"
)

// LdapConfig mirrors the fields the teacher's schema.LdapConfig carries
// that this sync actually uses.
type LdapConfig struct {
	URL             string
	UserBase        string
	UserFilter      string
	SearchDN        string
	SyncInterval    time.Duration
	SyncDelOldUsers bool
}

// reconcile states for the three-way set comparison Sync performs (spec
// §4.13: "operator accounts are synchronized periodically from an LDAP
// directory").
const (
	inDB = 1 << iota
	inLDAP
)

// LdapSyncer periodically reconciles cache.Users against an LDAP
// directory, the way the teacher's LdapAuthenticator.Sync does against
// its SQL `user` table, adapted to write through the configuration cache
// instead of raw SQL (store/mirror_writethrough.go already mirrors
// cache.Users to TUser).
type LdapSyncer struct {
	cache        *cfgcache.Cache
	config       LdapConfig
	syncPassword string
}

// NewLdapSyncer reads the bind password for the sync account from
// LDAP_ADMIN_PASSWORD, never from the bootstrap config file — an
// authentication secret, not a config value, matching the teacher's
// env-only treatment of this credential.
func NewLdapSyncer(cache *cfgcache.Cache, config LdapConfig) *LdapSyncer {
	pw := os.Getenv("LDAP_ADMIN_PASSWORD")
	if pw == "" {
		log.Warnf("opauth: LDAP_ADMIN_PASSWORD not set, ldap sync will not work")
	}
	return &LdapSyncer{cache: cache, config: config, syncPassword: pw}
}

// Start launches the periodic sync loop in the background. A zero
// SyncInterval disables it.
func (s *LdapSyncer) Start(stop <-chan struct{}) {
	if s.config.SyncInterval <= 0 {
		log.Info("opauth: ldap sync interval is zero, sync disabled")
		return
	}
	go func() {
		ticker := time.NewTicker(s.config.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case t := <-ticker.C:
				log.Debugf("opauth: ldap sync started at %s", t.Format(time.RFC3339))
				if err := s.Sync(); err != nil {
					log.Errorf("opauth: ldap sync failed: %v", err)
				}
			}
		}
	}()
}

// Sync reconciles cache.Users against the LDAP directory: users present
// only in LDAP are inserted, users present only in the cache (and
// previously LDAP-sourced) are removed when SyncDelOldUsers is set (spec
// §4.13, same IN_DB/IN_LDAP/IN_BOTH three-way comparison as the teacher's
// Sync()).
func (s *LdapSyncer) Sync() error {
	state := make(map[string]int)
	s.cache.Users.Loop(func(username string, u cfgcache.User) bool {
		if u.LDAP {
			state[username] = inDB
		}
		return true
	})

	conn, err := s.dial(true)
	if err != nil {
		return err
	}
	defer conn.Close()

	results, err := conn.Search(ldap.NewSearchRequest(
		s.config.UserBase, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		s.config.UserFilter, []string{"dn", "uid", "gecos"}, nil))
	if err != nil {
		return err
	}

	fullNames := make(map[string]string)
	for _, entry := range results.Entries {
		username := entry.GetAttributeValue("uid")
		if username == "" {
			return errors.New("opauth: ldap entry missing 'uid' attribute")
		}
		fullNames[username] = entry.GetAttributeValue("gecos")
		state[username] |= inLDAP
	}

	for username, where := range state {
		switch where {
		case inDB:
			if s.config.SyncDelOldUsers {
				log.Debugf("opauth: removing %s (no longer present in ldap)", username)
				s.cache.Users.Erase(username, "opauth")
			}
		case inLDAP:
			log.Debugf("opauth: adding %s (name: %s)", username, fullNames[username])
			s.cache.Users.Insert(username, cfgcache.User{
				Username: username,
				LDAP:     true,
				FullName: fullNames[username],
			}, "opauth")
		}
	}
	return nil
}

func (s *LdapSyncer) dial(admin bool) (*ldap.Conn, error) {
	conn, err := ldap.DialURL(s.config.URL)
	if err != nil {
		return nil, err
	}
	if admin {
		if err := conn.Bind(s.config.SearchDN, s.syncPassword); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}
