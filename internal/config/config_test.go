// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestInitMissingFileKeepsDefaults(t *testing.T) {
	Keys = ProgramConfig{Addr: ":11112", DBDriver: "sqlite3", DB: "./var/segw.db", LogLevel: "info"}
	Init(filepath.Join(t.TempDir(), "does-not-exist.json"))
	assert.Equal(t, ":11112", Keys.Addr)
}

func TestInitOverridesDefaults(t *testing.T) {
	Keys = ProgramConfig{Addr: ":11112", DBDriver: "sqlite3", DB: "./var/segw.db", LogLevel: "info"}
	path := writeConfig(t, `{"addr": ":9999", "db-driver": "mysql", "db": "user:pass@/segw"}`)
	Init(path)
	assert.Equal(t, ":9999", Keys.Addr)
	assert.Equal(t, "mysql", Keys.DBDriver)
	assert.Equal(t, "user:pass@/segw", Keys.DB)
}

func TestInitRejectsUnknownDriver(t *testing.T) {
	path := writeConfig(t, `{"db-driver": "postgres"}`)
	err := Validate(configSchema, []byte(mustRead(t, path)))
	assert.Error(t, err)
}

func mustRead(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}
