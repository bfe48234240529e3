package opauth

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/segw-project/segw/internal/cfgcache"
)

func TestLdapSyncerStartNoopsOnZeroInterval(t *testing.T) {
	cache := cfgcache.New()
	s := NewLdapSyncer(cache, LdapConfig{})
	stop := make(chan struct{})
	s.Start(stop)
	close(stop)
}

func TestLdapSyncerReconcileStateConstants(t *testing.T) {
	// inDB|inLDAP must form a distinct third state from either flag alone,
	// the three-way comparison Sync's switch relies on.
	assert.NotEqual(t, inDB, inDB|inLDAP)
	assert.NotEqual(t, inLDAP, inDB|inLDAP)
	assert.NotEqual(t, inDB, inLDAP)
}
