package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
[log]
log_level = "info"
log_console = true

[pg_conn]
user = "usr_replica"
database = "db_replica"

[sources.shop]
type = "mysql"

[sources.shop.mysql_conn]
host = "127.0.0.1"
user = "usr_replica"
server_id = 100

[sources.shop.schema_mappings.shop]
clear = "shop_clear"
obfuscate = "shop_obf"
`

func writeConfig(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "default.toml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))

	return path
}

func TestRunParser_Parse(t *testing.T) {
	parser := NewRunParser()
	parser.ConfigPath = writeConfig(t)
	parser.Source = "shop"

	require.NoError(t, parser.Parse(true))
	require.NotNil(t, parser.Context)
	assert.Equal(t, "shop", parser.Context.Name)
	assert.Equal(t, "shop", parser.GetSourceName())
	names, ok := parser.Context.GetSchemaNames("shop")
	require.True(t, ok)
	assert.Equal(t, "shop_clear", names.Clear)
}

func TestRunParser_AllSources(t *testing.T) {
	parser := NewRunParser()
	parser.ConfigPath = writeConfig(t)

	require.NoError(t, parser.Parse(false))
	assert.Nil(t, parser.Context)
	assert.Equal(t, "", parser.GetSourceName())

	err := parser.Parse(true)
	require.Error(t, err)
	assert.True(t, errors.IsNotValid(err))
}

func TestRunParser_UnknownSource(t *testing.T) {
	parser := NewRunParser()
	parser.ConfigPath = writeConfig(t)
	parser.Source = "crm"

	err := parser.Parse(false)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestRunParser_ParseTable(t *testing.T) {
	parser := NewRunParser()

	parser.Table = "shop.orders"
	schema, table, err := parser.ParseTable()
	require.NoError(t, err)
	assert.Equal(t, "shop", schema)
	assert.Equal(t, "orders", table)

	for _, bad := range []string{"", "orders", ".orders", "shop."} {
		parser.Table = bad
		_, _, err := parser.ParseTable()
		assert.Error(t, err, bad)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	path, err := expandHome("~/.pg_ninja/config/default.toml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".pg_ninja/config/default.toml"), path)

	path, err = expandHome("/etc/pg_ninja.toml")
	require.NoError(t, err)
	assert.Equal(t, "/etc/pg_ninja.toml", path)
}
