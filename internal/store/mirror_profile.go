package store

import (
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/segw-project/segw/internal/cfgcache"
	"github.com/segw-project/segw/internal/meterid"
	"github.com/segw-project/segw/internal/obis"
	"github.com/segw-project/segw/internal/smlrouter"
)

// clientID is the composite key TProfile_*/TStorage_* rows are keyed by.
func clientID(srv meterid.ServerID, nr int) string {
	return fmt.Sprintf("%s#%d", srv.String(), nr)
}

// collectorsFor returns every data collector nr on srv whose profile OBIS
// matches profile, the set of rows a profile-list query must union across.
func (m *Mirror) collectorsFor(srv meterid.ServerID, profile obis.ID) []int {
	var nrs []int
	m.cache.Collectors.Loop(func(_ cfgcache.DataCollectorKey, c cfgcache.DataCollector) bool {
		if c.SrvID.String() == srv.String() && c.ProfileOBIS.Equal(profile) {
			nrs = append(nrs, c.Nr)
		}
		return true
	})
	return nrs
}

// QueryProfile implements smlrouter.ProfileStore: a range query over a
// named profile's meta/storage table pair.
func (m *Mirror) QueryProfile(srv meterid.ServerID, profile obis.ID, start, end time.Time) ([]smlrouter.ProfileRow, error) {
	suffix, ok := obis.ProfileName(profile)
	if !ok {
		return nil, fmt.Errorf("store: unknown profile OBIS %s", profile)
	}
	metaTable := "TProfile_" + suffix
	storageTable := "TStorage_" + suffix

	startIdx, _ := obis.QuantizeIndex(profile, start)
	endIdx, ok := obis.QuantizeIndex(profile, end)
	if !ok {
		return nil, fmt.Errorf("store: profile %s has no time-index quantisation", profile)
	}

	var rows []smlrouter.ProfileRow
	for _, nr := range m.collectorsFor(srv, profile) {
		cid := clientID(srv, nr)

		metaQuery, args, err := sq.Select("tsidx").From(metaTable).
			Where(sq.Eq{"clientID": cid}).
			Where(sq.GtOrEq{"tsidx": startIdx}).
			Where(sq.LtOrEq{"tsidx": endIdx}).
			OrderBy("tsidx ASC").ToSql()
		if err != nil {
			return nil, err
		}
		metaRows, err := m.conn.DB.Queryx(metaQuery, args...)
		if err != nil {
			return nil, err
		}
		var tsIdxList []int64
		for metaRows.Next() {
			var tsidx int64
			if err := metaRows.Scan(&tsidx); err != nil {
				metaRows.Close()
				return nil, err
			}
			tsIdxList = append(tsIdxList, tsidx)
		}
		metaRows.Close()
		if err := metaRows.Err(); err != nil {
			return nil, err
		}

		for _, tsidx := range tsIdxList {
			valQuery, vargs, err := sq.Select("obis", "value", "typeTag", "scaler", "unit").
				From(storageTable).Where(sq.Eq{"clientID": cid, "tsidx": tsidx}).ToSql()
			if err != nil {
				return nil, err
			}
			valRows, err := m.conn.DB.Queryx(valQuery, vargs...)
			if err != nil {
				return nil, err
			}
			var values []cfgcache.ReadoutData
			for valRows.Next() {
				var obisStr, value string
				var typeTag int
				var scaler int8
				var unit byte
				if err := valRows.Scan(&obisStr, &value, &typeTag, &scaler, &unit); err != nil {
					valRows.Close()
					return nil, err
				}
				id, err := obis.ParseID(obisStr)
				if err != nil {
					continue
				}
				values = append(values, cfgcache.ReadoutData{
					OBIS: id, Value: value, Type: cfgcache.ValueType(typeTag), Scaler: scaler, Unit: unit,
				})
			}
			valRows.Close()
			if err := valRows.Err(); err != nil {
				return nil, err
			}
			bucketStart, _ := obis.DequantizeIndex(profile, tsidx)
			rows = append(rows, smlrouter.ProfileRow{TimeIndex: bucketStart, Values: values})
		}
	}
	return rows, nil
}

// WriteProfileRow merges one meta row and its storage values, used by the
// readout dispatcher (C11) and trimmed by an hourly limiter keyed on
// maxSize (spec §4.10). sampleTime is quantised into the profile's
// time-index internally (spec §3).
func (m *Mirror) WriteProfileRow(srv meterid.ServerID, nr int, profile obis.ID, sampleTime time.Time, actTime, valTime time.Time, values []cfgcache.ReadoutData) error {
	suffix, ok := obis.ProfileName(profile)
	if !ok {
		return fmt.Errorf("store: unknown profile OBIS %s", profile)
	}
	tsidx, ok := obis.QuantizeIndex(profile, sampleTime)
	if !ok {
		return fmt.Errorf("store: profile %s has no time-index quantisation", profile)
	}
	cid := clientID(srv, nr)

	m.exec(fmt.Sprintf(`INSERT INTO TProfile_%s (clientID, tsidx, actTime, valTime, status) VALUES (?,?,?,?,0)
		ON CONFLICT(clientID, tsidx) DO UPDATE SET actTime=excluded.actTime, valTime=excluded.valTime`, suffix),
		cid, tsidx, actTime.Unix(), valTime.Unix())

	for _, v := range values {
		m.exec(fmt.Sprintf(`INSERT INTO TStorage_%s (clientID, tsidx, obis, value, typeTag, scaler, unit) VALUES (?,?,?,?,?,?,?)
			ON CONFLICT(clientID, tsidx, obis) DO UPDATE SET value=excluded.value, typeTag=excluded.typeTag, scaler=excluded.scaler, unit=excluded.unit`, suffix),
			cid, tsidx, v.OBIS.String(), v.Value, int(v.Type), v.Scaler, v.Unit)
	}
	return nil
}

// TrimOldest deletes rows for cid past the newest maxSize time-indexes, the
// hourly limiter task named in spec §4.10.
func (m *Mirror) TrimOldest(srv meterid.ServerID, nr int, profile obis.ID, maxSize int) error {
	if maxSize <= 0 {
		return nil
	}
	suffix, ok := obis.ProfileName(profile)
	if !ok {
		return fmt.Errorf("store: unknown profile OBIS %s", profile)
	}
	cid := clientID(srv, nr)
	metaTable := "TProfile_" + suffix
	storageTable := "TStorage_" + suffix

	m.exec(fmt.Sprintf(`DELETE FROM %s WHERE clientID = ? AND tsidx NOT IN (
		SELECT tsidx FROM %s WHERE clientID = ? ORDER BY tsidx DESC LIMIT ?)`, storageTable, metaTable),
		cid, cid, maxSize)
	m.exec(fmt.Sprintf(`DELETE FROM %s WHERE clientID = ? AND tsidx NOT IN (
		SELECT tsidx FROM %s WHERE clientID = ? ORDER BY tsidx DESC LIMIT ?)`, metaTable, metaTable),
		cid, cid, maxSize)
	return nil
}
