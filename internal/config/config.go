// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config implements the JSON bootstrap configuration both CLI
// entry points load via --config (spec §6). It follows the teacher's
// package-level Keys-with-defaults shape, validated against an embedded
// JSON Schema before being unmarshalled with DisallowUnknownFields.
package config

import (
	"bytes"
	"encoding/json"
	"os"
	"time"

	"github.com/segw-project/segw/pkg/log"
)

// LdapConfig mirrors opauth.LdapConfig's fields so the bootstrap file can
// describe it without internal/config importing internal/opauth (the
// reverse dependency would be the wrong direction: config is loaded
// before any component is constructed).
type LdapConfig struct {
	URL             string `json:"url"`
	UserBase        string `json:"user-base"`
	UserFilter      string `json:"user-filter"`
	SearchDN        string `json:"search-dn"`
	SyncInterval    string `json:"sync-interval"`
	SyncDelOldUsers bool   `json:"sync-del-old-users"`
}

// JWTConfig names the operator bearer-token issuer's settings. The signing
// keys themselves are read from JWT_PUBLIC_KEY/JWT_PRIVATE_KEY at process
// start (internal/opauth), never from this file.
type JWTConfig struct {
	Issuer string `json:"issuer"`
	TTL    string `json:"ttl"`
}

// NatsConfig names the readout telemetry publisher's connection settings
// (internal/telemetry). An empty Address disables the NATS fan-out.
type NatsConfig struct {
	Address       string `json:"address"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	CredsFilePath string `json:"creds-file-path"`
}

// S3Config names the push-archival cold-storage bucket
// (internal/telemetry). An empty Bucket disables S3 archival.
type S3Config struct {
	Endpoint     string `json:"endpoint"`
	Bucket       string `json:"bucket"`
	AccessKey    string `json:"access-key"`
	SecretKey    string `json:"secret-key"`
	Region       string `json:"region"`
	UsePathStyle bool   `json:"use-path-style"`
}

// TelemetryConfig groups the two independent fan-out stanzas (SPEC_FULL.md
// §4.14). Both are optional; either may be left zero-valued to disable it.
type TelemetryConfig struct {
	Nats NatsConfig `json:"nats"`
	S3   S3Config   `json:"s3"`
}

// GatewayCredential is one entry of a master's gateway allow-list: the
// hex srv_id a gateway logs in as (carried in the IP-T login's User
// field) and the password it must present (spec §8 scenario S1 logs in
// as "LSMTest5"/"LSMTest5" — this implementation generalises that single
// hard-coded pair into a configurable allow-list). Unused by
// cmd/segw-gateway.
type GatewayCredential struct {
	SrvID    string `json:"srv-id"`
	Password string `json:"password"`
	Watchdog string `json:"watchdog"`
}

// ProgramConfig is the top-level bootstrap document, shared by both
// cmd/segw-gateway and cmd/segw-master — each entry point only reads the
// stanzas relevant to its role (spec §6: "A --config <file> flag selects
// the JSON bootstrap file").
type ProgramConfig struct {
	// Addr is this process's own IP-T/SML TCP listener address: the
	// master binds it for inbound gateway IP-T sessions (spec §4.3); the
	// gateway binds it for its local customer interface (spec §3: "TCP
	// bytes -> C1 descramble -> C2 deframe -> C4 SML parse -> C5
	// router").
	Addr string `json:"addr"`

	// MasterAddr is the upstream master's host:port. Only read by
	// cmd/segw-gateway, which dials out and logs in as a C3 client.
	MasterAddr string `json:"master-addr"`

	// HTTPAddr is the operator-facing REST API listener (internal/
	// gatewayproxy.API, spec §4.13). Only read by cmd/segw-master.
	HTTPAddr string `json:"http-addr"`

	// GatewaySrvID/GatewayPassword/GatewayScrambled are this gateway's
	// own IP-T login credentials (spec §4.3 login public/scrambled).
	// Only read by cmd/segw-gateway.
	GatewaySrvID     string `json:"gateway-srv-id"`
	GatewayPassword  string `json:"gateway-password"`
	GatewayScrambled bool   `json:"gateway-scrambled"`

	// Gateways is the master's login allow-list (spec §4.3: "Login
	// failure -> response code set accordingly"). Only read by
	// cmd/segw-master.
	Gateways []GatewayCredential `json:"gateways"`

	// MaxBodyLength overrides iptframe's default 64 KiB frame body limit
	// (spec §4.2). Zero selects iptframe.DefaultMaxBodyLength.
	MaxBodyLength uint32 `json:"max-body-length"`

	// DBDriver/DB select the relational mirror's driver and DSN (spec
	// §4.7, §6: "Single SQLite file by default").
	DBDriver string `json:"db-driver"`
	DB       string `json:"db"`

	// SerialDevice is the wired/wireless M-Bus serial line path (spec
	// §4.8/§4.9). Unused by cmd/segw-master.
	SerialDevice string `json:"serial-device"`

	// DispatchInterval/PushTick override internal/dispatcher's and
	// internal/pushsched's default tick (spec §4.10/§4.11). A zero value
	// selects each package's own default.
	DispatchInterval string `json:"dispatch-interval"`
	PushTick         string `json:"push-tick"`

	LDAP      *LdapConfig     `json:"ldap"`
	JWT       JWTConfig       `json:"jwt"`
	Telemetry TelemetryConfig `json:"telemetry"`

	// LogLevel selects pkg/log's verbosity (DEBUG/INFO/NOTICE/WARN/ERROR/CRITICAL).
	LogLevel string `json:"log-level"`
}

// Keys is the process-wide bootstrap config, populated by Init. Its
// zero-value defaults keep a gateway runnable against a local SQLite file
// with every optional fan-out stanza disabled.
var Keys = ProgramConfig{
	Addr:     ":11112",
	HTTPAddr: ":8081",
	DBDriver: "sqlite3",
	DB:       "./var/segw.db",
	JWT: JWTConfig{
		Issuer: "segw",
		TTL:    "1h",
	},
	LogLevel: "info",
}

// Init reads flagConfigFile, validates it against configSchema, and
// decodes it over Keys's defaults. A missing file is not an error (spec
// §6 implies --config is optional; the defaults above keep the process
// runnable); any other read, validation, or decode failure is fatal,
// matching the teacher's config.Init (spec §6 exit code 1, "config
// error").
func Init(flagConfigFile string) {
	raw, err := os.ReadFile(flagConfigFile)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("config: read %s: %v", flagConfigFile, err)
		}
		return
	}

	if err := Validate(configSchema, raw); err != nil {
		log.Fatalf("config: validate %s: %v", flagConfigFile, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&Keys); err != nil {
		log.Fatalf("config: decode %s: %v", flagConfigFile, err)
	}

	log.SetLogLevel(Keys.LogLevel)
}

// ParseDuration parses a config duration field, falling back to def when
// raw is empty (several stanzas above use string durations the way the
// teacher's SessionMaxAge does, so they round-trip through JSON as plain
// text rather than needing a custom MarshalJSON).
func ParseDuration(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Warnf("config: invalid duration %q, using default %s", raw, def)
		return def
	}
	return d
}
