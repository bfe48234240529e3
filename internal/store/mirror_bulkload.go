package store

import (
	"time"

	"github.com/segw-project/segw/internal/cfgcache"
	"github.com/segw-project/segw/internal/meterid"
	"github.com/segw-project/segw/internal/obis"
	"github.com/segw-project/segw/pkg/log"
)

const bulkLoadSource = "store.bulkload"

// bulkLoad reads every cache table's SQL counterpart into the cache
// before write-through listeners are attached (spec §4.7).
func (m *Mirror) bulkLoad() error {
	loaders := []func() error{
		m.loadCfg,
		m.loadMBus,
		m.loadCollectors,
		m.loadMirrors,
		m.loadPushOps,
		m.loadIECDevs,
		m.loadUsers,
		m.loadPrivileges,
	}
	for _, l := range loaders {
		if err := l(); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mirror) loadCfg() error {
	rows, err := m.conn.DB.Queryx(`SELECT path, type_tag, value FROM TCfg`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var path, value string
		var typeTag int
		if err := rows.Scan(&path, &typeTag, &value); err != nil {
			return err
		}
		v, err := decodeConfigValue(value, typeTag)
		if err != nil {
			log.Warnf("store: skipping malformed TCfg row %q: %v", path, err)
			continue
		}
		m.cache.ConfigTree.Merge(path, v, bulkLoadSource)
	}
	return rows.Err()
}

func (m *Mirror) loadMBus() error {
	rows, err := m.conn.DB.Queryx(`SELECT serverID, lastSeen, deviceClass, active, manufacturer, status, changeMask, interval, publicKey, aesKey, user, pwd FROM TDeviceMBUS`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var srvID, manufacturer, user, pwd string
		var lastSeen, intervalSec int64
		var deviceClass, status, changeMask int
		var active bool
		var publicKey, aesKey []byte
		if err := rows.Scan(&srvID, &lastSeen, &deviceClass, &active, &manufacturer, &status, &changeMask, &intervalSec, &publicKey, &aesKey, &user, &pwd); err != nil {
			return err
		}
		srv, err := meterid.ParseServerID(srvID)
		if err != nil {
			log.Warnf("store: skipping malformed TDeviceMBUS row %q: %v", srvID, err)
			continue
		}
		m.cache.MBus.Merge(srvID, cfgcache.MBusDevice{
			SrvID: srv, LastSeen: time.Unix(lastSeen, 0).UTC(), DeviceClass: deviceClass,
			Active: active, Manufacturer: manufacturer, Status: uint32(status), ChangeMask: uint16(changeMask),
			Interval: time.Duration(intervalSec) * time.Second, PublicKey: publicKey, AESKey: aesKey, User: user, Pwd: pwd,
		}, bulkLoadSource)
	}
	return rows.Err()
}

func (m *Mirror) loadCollectors() error {
	rows, err := m.conn.DB.Queryx(`SELECT serverID, nr, profileOBIS, active, maxSize, regPeriod FROM TDataCollector`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var srvID, profileOBIS string
		var nr, maxSize int
		var regPeriodSec int64
		var active bool
		if err := rows.Scan(&srvID, &nr, &profileOBIS, &active, &maxSize, &regPeriodSec); err != nil {
			return err
		}
		id, err := obis.ParseID(profileOBIS)
		if err != nil {
			log.Warnf("store: skipping malformed TDataCollector row: %v", err)
			continue
		}
		srv, _ := meterid.ParseServerID(srvID)
		key := cfgcache.DataCollectorKey{SrvID: srvID, Nr: nr}
		m.cache.Collectors.Merge(key, cfgcache.DataCollector{
			SrvID: srv, Nr: nr, ProfileOBIS: id, Active: active, MaxSize: maxSize,
			RegPeriod: time.Duration(regPeriodSec) * time.Second,
		}, bulkLoadSource)
	}
	return rows.Err()
}

func (m *Mirror) loadMirrors() error {
	rows, err := m.conn.DB.Queryx(`SELECT serverID, nr, reg, obis FROM TDataMirror`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var srvID, obisStr string
		var nr, reg int
		if err := rows.Scan(&srvID, &nr, &reg, &obisStr); err != nil {
			return err
		}
		id, err := obis.ParseID(obisStr)
		if err != nil {
			log.Warnf("store: skipping malformed TDataMirror row: %v", err)
			continue
		}
		srv, _ := meterid.ParseServerID(srvID)
		key := cfgcache.DataMirrorKey{SrvID: srvID, Nr: nr, Reg: reg}
		m.cache.Mirrors.Merge(key, cfgcache.DataMirror{SrvID: srv, Nr: nr, Reg: reg, OBIS: id}, bulkLoadSource)
	}
	return rows.Err()
}

func (m *Mirror) loadPushOps() error {
	rows, err := m.conn.DB.Queryx(`SELECT serverID, nr, pushInterval, pushDelay, sourceOBIS, targetName, serviceOBIS, lowerBound FROM TPushOps`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var srvID, sourceOBIS, targetName, serviceOBIS string
		var nr int
		var pushIntervalSec, pushDelaySec int64
		var lowerBound uint64
		if err := rows.Scan(&srvID, &nr, &pushIntervalSec, &pushDelaySec, &sourceOBIS, &targetName, &serviceOBIS, &lowerBound); err != nil {
			return err
		}
		src, err1 := obis.ParseID(sourceOBIS)
		svc, err2 := obis.ParseID(serviceOBIS)
		if err1 != nil || err2 != nil {
			log.Warnf("store: skipping malformed TPushOps row for %s", srvID)
			continue
		}
		srv, _ := meterid.ParseServerID(srvID)
		key := cfgcache.DataCollectorKey{SrvID: srvID, Nr: nr}
		m.cache.PushOps.Merge(key, cfgcache.PushOp{
			SrvID: srv, Nr: nr, PushInterval: time.Duration(pushIntervalSec) * time.Second,
			PushDelay: time.Duration(pushDelaySec) * time.Second, SourceOBIS: src, TargetName: targetName,
			ServiceOBIS: svc, LowerBound: lowerBound,
		}, bulkLoadSource)
	}
	return rows.Err()
}

func (m *Mirror) loadIECDevs() error {
	rows, err := m.conn.DB.Queryx(`SELECT nr, serverID, baudrate FROM TIECDevs`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var nr, baudrate int
		var srvID string
		if err := rows.Scan(&nr, &srvID, &baudrate); err != nil {
			return err
		}
		srv, _ := meterid.ParseServerID(srvID)
		m.cache.IECDevs.Merge(nr, cfgcache.IECDev{Nr: nr, SrvID: srv, Baudrate: baudrate}, bulkLoadSource)
	}
	return rows.Err()
}

func (m *Mirror) loadUsers() error {
	rows, err := m.conn.DB.Queryx(`SELECT user, pwdHash, ldap, fullName FROM TUser`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var user, pwdHash, fullName string
		var ldap bool
		if err := rows.Scan(&user, &pwdHash, &ldap, &fullName); err != nil {
			return err
		}
		m.cache.Users.Merge(user, cfgcache.User{Username: user, PwdHash: pwdHash, LDAP: ldap, FullName: fullName}, bulkLoadSource)
	}
	return rows.Err()
}

func (m *Mirror) loadPrivileges() error {
	rows, err := m.conn.DB.Queryx(`SELECT user, meter, reg, rule FROM TPrivileges`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var user, meter, reg, rule string
		if err := rows.Scan(&user, &meter, &reg, &rule); err != nil {
			return err
		}
		key := user + "|" + meter + "|" + reg
		m.cache.Privileges.Merge(key, cfgcache.Privilege{User: user, Meter: meter, Reg: reg, Rule: rule}, bulkLoadSource)
	}
	return rows.Err()
}
