package store

import (
	"github.com/segw-project/segw/internal/cfgcache"
)

// subscribeWriteThrough registers one listener per cache table, each
// translating Insert/Updated/Deleted into parametrised SQL against the
// matching T-prefixed table (spec §4.7).
func (m *Mirror) subscribeWriteThrough() {
	m.cache.ConfigTree.Subscribe(func(c cfgcache.Change[string, cfgcache.ConfigValue]) {
		switch c.Kind {
		case cfgcache.Deleted:
			m.exec(`DELETE FROM TCfg WHERE path = ?`, c.Key)
		default:
			val, typeTag := encodeConfigValue(c.Row)
			m.exec(`INSERT INTO TCfg (path, type_tag, value) VALUES (?, ?, ?)
				ON CONFLICT(path) DO UPDATE SET type_tag = excluded.type_tag, value = excluded.value`,
				c.Key, typeTag, val)
		}
	})

	m.cache.MBus.Subscribe(func(c cfgcache.Change[string, cfgcache.MBusDevice]) {
		if c.Kind == cfgcache.Deleted {
			m.exec(`DELETE FROM TDeviceMBUS WHERE serverID = ?`, c.Key)
			return
		}
		d := c.Row
		m.exec(`INSERT INTO TDeviceMBUS
				(serverID, lastSeen, deviceClass, active, manufacturer, status, changeMask, interval, publicKey, aesKey, user, pwd)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(serverID) DO UPDATE SET
				lastSeen=excluded.lastSeen, deviceClass=excluded.deviceClass, active=excluded.active,
				manufacturer=excluded.manufacturer, status=excluded.status, changeMask=excluded.changeMask,
				interval=excluded.interval, publicKey=excluded.publicKey, aesKey=excluded.aesKey,
				user=excluded.user, pwd=excluded.pwd`,
			c.Key, d.LastSeen.Unix(), d.DeviceClass, d.Active, d.Manufacturer, d.Status, d.ChangeMask,
			int64(d.Interval.Seconds()), d.PublicKey, d.AESKey, d.User, d.Pwd)
	})

	m.cache.Collectors.Subscribe(func(c cfgcache.Change[cfgcache.DataCollectorKey, cfgcache.DataCollector]) {
		if c.Kind == cfgcache.Deleted {
			m.exec(`DELETE FROM TDataCollector WHERE serverID = ? AND nr = ?`, c.Key.SrvID, c.Key.Nr)
			return
		}
		d := c.Row
		m.exec(`INSERT INTO TDataCollector (serverID, nr, profileOBIS, active, maxSize, regPeriod)
			VALUES (?,?,?,?,?,?)
			ON CONFLICT(serverID, nr) DO UPDATE SET
				profileOBIS=excluded.profileOBIS, active=excluded.active, maxSize=excluded.maxSize, regPeriod=excluded.regPeriod`,
			c.Key.SrvID, c.Key.Nr, d.ProfileOBIS.String(), d.Active, d.MaxSize, int64(d.RegPeriod.Seconds()))
	})

	m.cache.Mirrors.Subscribe(func(c cfgcache.Change[cfgcache.DataMirrorKey, cfgcache.DataMirror]) {
		if c.Kind == cfgcache.Deleted {
			m.exec(`DELETE FROM TDataMirror WHERE serverID = ? AND nr = ? AND reg = ?`, c.Key.SrvID, c.Key.Nr, c.Key.Reg)
			return
		}
		d := c.Row
		m.exec(`INSERT INTO TDataMirror (serverID, nr, reg, obis) VALUES (?,?,?,?)
			ON CONFLICT(serverID, nr, reg) DO UPDATE SET obis=excluded.obis`,
			c.Key.SrvID, c.Key.Nr, c.Key.Reg, d.OBIS.String())
	})

	m.cache.PushOps.Subscribe(func(c cfgcache.Change[cfgcache.DataCollectorKey, cfgcache.PushOp]) {
		if c.Kind == cfgcache.Deleted {
			m.exec(`DELETE FROM TPushOps WHERE serverID = ? AND nr = ?`, c.Key.SrvID, c.Key.Nr)
			return
		}
		d := c.Row
		m.exec(`INSERT INTO TPushOps (serverID, nr, pushInterval, pushDelay, sourceOBIS, targetName, serviceOBIS, lowerBound)
			VALUES (?,?,?,?,?,?,?,?)
			ON CONFLICT(serverID, nr) DO UPDATE SET
				pushInterval=excluded.pushInterval, pushDelay=excluded.pushDelay, sourceOBIS=excluded.sourceOBIS,
				targetName=excluded.targetName, serviceOBIS=excluded.serviceOBIS, lowerBound=excluded.lowerBound`,
			c.Key.SrvID, c.Key.Nr, int64(d.PushInterval.Seconds()), int64(d.PushDelay.Seconds()),
			d.SourceOBIS.String(), d.TargetName, d.ServiceOBIS.String(), d.LowerBound)
	})

	m.cache.IECDevs.Subscribe(func(c cfgcache.Change[int, cfgcache.IECDev]) {
		if c.Kind == cfgcache.Deleted {
			m.exec(`DELETE FROM TIECDevs WHERE nr = ?`, c.Key)
			return
		}
		d := c.Row
		m.exec(`INSERT INTO TIECDevs (nr, serverID, baudrate) VALUES (?,?,?)
			ON CONFLICT(nr) DO UPDATE SET serverID=excluded.serverID, baudrate=excluded.baudrate`,
			c.Key, d.SrvID.String(), d.Baudrate)
	})

	m.cache.Users.Subscribe(func(c cfgcache.Change[string, cfgcache.User]) {
		if c.Kind == cfgcache.Deleted {
			m.exec(`DELETE FROM TUser WHERE user = ?`, c.Key)
			return
		}
		d := c.Row
		m.exec(`INSERT INTO TUser (user, pwdHash, ldap, fullName) VALUES (?,?,?,?)
			ON CONFLICT(user) DO UPDATE SET pwdHash=excluded.pwdHash, ldap=excluded.ldap, fullName=excluded.fullName`,
			c.Key, d.PwdHash, d.LDAP, d.FullName)
	})

	m.cache.Privileges.Subscribe(func(c cfgcache.Change[string, cfgcache.Privilege]) {
		if c.Kind == cfgcache.Deleted {
			m.exec(`DELETE FROM TPrivileges WHERE user = ? AND meter = ? AND reg = ?`, c.Row.User, c.Row.Meter, c.Row.Reg)
			return
		}
		d := c.Row
		m.exec(`INSERT INTO TPrivileges (user, meter, reg, rule) VALUES (?,?,?,?)
			ON CONFLICT(user, meter, reg) DO UPDATE SET rule=excluded.rule`,
			d.User, d.Meter, d.Reg, d.Rule)
	})
}
