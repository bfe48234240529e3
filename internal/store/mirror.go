package store

import (
	"database/sql"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/segw-project/segw/internal/cfgcache"
	"github.com/segw-project/segw/pkg/log"
)

// Mirror is the relational mirror (C8): it bulk-loads the cache from SQL
// on start, then keeps both in sync by listening to every cache table and
// translating insert/update/delete into parametrised SQL (spec §4.7).
// Transactions from C7 map one-to-one to SQL transactions.
type Mirror struct {
	conn  *DBConnection
	cache *cfgcache.Cache

	txMu sync.Mutex
	tx   *sqlx.Tx
}

// NewMirror wires conn and cache together without starting replication.
func NewMirror(conn *DBConnection, cache *cfgcache.Cache) *Mirror {
	return &Mirror{conn: conn, cache: cache}
}

// Start bulk-loads every cache table from SQL, then subscribes
// write-through listeners so future mutations replicate. Bulk-load
// happens before subscription so the initial load does not echo back
// into SQL.
func (m *Mirror) Start() error {
	if err := m.bulkLoad(); err != nil {
		return err
	}
	m.subscribeWriteThrough()
	m.cache.SubscribeTxn(m.onTxn)
	return nil
}

// execer is satisfied by both *sqlx.DB and *sqlx.Tx.
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// exec runs query against the open transaction if one exists, else
// directly against the connection (spec §4.7: "Transactions from C7 are
// mapped one-to-one to SQL transactions"). Failures log and continue
// (spec §4.7: "Failures log and continue").
func (m *Mirror) exec(query string, args ...interface{}) {
	m.txMu.Lock()
	var e execer = m.conn.DB
	if m.tx != nil {
		e = m.tx
	}
	m.txMu.Unlock()
	if _, err := e.Exec(query, args...); err != nil {
		log.Warnf("store: write-through failed for %q: %v", query, err)
	}
}

// FlushOpLog drains pending operational-log entries from the cache and
// appends them to TOpLog (spec §6: status-word bit writes covered by a
// meter's change mask are logged for audit).
func (m *Mirror) FlushOpLog() {
	for _, e := range m.cache.DrainOpLog() {
		m.exec(`INSERT INTO TOpLog (ts, srv_id, bit, old_value, new_value, source) VALUES (?,?,?,?,?,?)`,
			time.Now().Unix(), e.SrvID, e.Bit, e.OldValue, e.NewValue, e.Source)
	}
}

// onTxn maps a cache transaction bracket onto a SQL transaction.
func (m *Mirror) onTxn(kind cfgcache.TxnKind, source string) {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	switch kind {
	case cfgcache.TxnStart:
		tx, err := m.conn.DB.Beginx()
		if err != nil {
			log.Errorf("store: begin transaction: %v", err)
			return
		}
		m.tx = tx
	case cfgcache.TxnCommit:
		if m.tx == nil {
			return
		}
		if err := m.tx.Commit(); err != nil {
			log.Errorf("store: commit transaction: %v", err)
		}
		m.tx = nil
	case cfgcache.TxnRollback:
		if m.tx == nil {
			return
		}
		if err := m.tx.Rollback(); err != nil {
			log.Errorf("store: rollback transaction: %v", err)
		}
		m.tx = nil
	}
}
