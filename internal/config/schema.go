// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

var configSchema = `
{
  "type": "object",
  "properties": {
    "addr": {
      "description": "IP-T TCP listener address (for example: ':11112').",
      "type": "string"
    },
    "master-addr": {
      "description": "Upstream master host:port. Read by the gateway only.",
      "type": "string"
    },
    "http-addr": {
      "description": "Operator REST API listener address. Read by the master only.",
      "type": "string"
    },
    "gateway-srv-id": {
      "description": "This gateway's hex srv_id, presented as the IP-T login user.",
      "type": "string"
    },
    "gateway-password": {
      "description": "This gateway's IP-T login password.",
      "type": "string"
    },
    "gateway-scrambled": {
      "description": "Use CTRL_REQ_LOGIN_SCRAMBLED instead of the public variant.",
      "type": "boolean"
    },
    "gateways": {
      "description": "Master-side login allow-list, keyed by gateway srv_id.",
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "srv-id": { "type": "string" },
          "password": { "type": "string" },
          "watchdog": { "type": "string" }
        },
        "required": ["srv-id", "password"]
      }
    },
    "max-body-length": {
      "description": "Override for iptframe's default 64 KiB frame body limit.",
      "type": "integer"
    },
    "db-driver": {
      "description": "Relational mirror driver: sqlite3 (default) or mysql.",
      "type": "string",
      "enum": ["sqlite3", "mysql"]
    },
    "db": {
      "description": "Path to SQLite database file, or a mysql DSN.",
      "type": "string"
    },
    "serial-device": {
      "description": "Serial line path for the wireless/wired M-Bus receiver.",
      "type": "string"
    },
    "dispatch-interval": {
      "description": "Readout dispatcher tick, parsable by time.ParseDuration(). Empty selects the package default.",
      "type": "string"
    },
    "push-tick": {
      "description": "Push scheduler tick, parsable by time.ParseDuration(). Empty selects the package default.",
      "type": "string"
    },
    "log-level": {
      "description": "pkg/log verbosity: DEBUG, INFO, NOTICE, WARN, ERROR, or CRITICAL.",
      "type": "string"
    },
    "ldap": {
      "description": "LDAP reconciliation settings for operator accounts. Omit to disable LDAP sync.",
      "type": "object",
      "properties": {
        "url": { "type": "string" },
        "user-base": { "type": "string" },
        "user-filter": { "type": "string" },
        "search-dn": { "type": "string" },
        "sync-interval": { "type": "string" },
        "sync-del-old-users": { "type": "boolean" }
      },
      "required": ["url", "user-base"]
    },
    "jwt": {
      "description": "Operator bearer-token issuer settings. Signing keys come from JWT_PUBLIC_KEY/JWT_PRIVATE_KEY, never from this file.",
      "type": "object",
      "properties": {
        "issuer": { "type": "string" },
        "ttl": { "type": "string" }
      }
    },
    "telemetry": {
      "description": "Best-effort fan-out settings (SPEC_FULL.md 4.14).",
      "type": "object",
      "properties": {
        "nats": {
          "type": "object",
          "properties": {
            "address": { "type": "string" },
            "username": { "type": "string" },
            "password": { "type": "string" },
            "creds-file-path": { "type": "string" }
          }
        },
        "s3": {
          "type": "object",
          "properties": {
            "endpoint": { "type": "string" },
            "bucket": { "type": "string" },
            "access-key": { "type": "string" },
            "secret-key": { "type": "string" },
            "region": { "type": "string" },
            "use-path-style": { "type": "boolean" }
          }
        }
      }
    }
  }
}`
