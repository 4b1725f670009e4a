package config

import (
	"testing"

	"github.com/daiguadaidai/go-pg-ninja/model"
	"github.com/daiguadaidai/go-pg-ninja/setting"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSourceConfig() *setting.SourceConfig {
	return &setting.SourceConfig{
		Type: setting.SOURCE_TYPE_MYSQL,
		SchemaMappings: map[string]setting.SchemaMapping{
			"sakila":   {Clear: "db_sakila", Obfuscate: "db_sakila_obf"},
			"world":    {Clear: "db_world", Obfuscate: "db_world_obf"},
			"employee": {Clear: "db_employee", Obfuscate: "db_employee_obf"},
		},
		LimitTables: []string{"sakila.film", "sakila.actor"},
		SkipTables:  []string{"world.city", "bad_key"},
		Obfuscation: map[string]map[string]setting.TableObfuscation{
			"sakila": {"actor": {"last_name": {Mode: setting.OBFUSCATION_MODE_NORMAL, NonhashLength: 2}}},
		},
	}
}

func TestNewSourceContext(t *testing.T) {
	ctx := NewSourceContext("mysql", newTestSourceConfig())

	assert.Equal(t, []string{"employee", "sakila", "world"}, ctx.GetOriginSchemas())

	names, ok := ctx.GetSchemaNames("sakila")
	require.True(t, ok)
	assert.Equal(t, "_db_sakila_tmp", names.LoadingClear)
	assert.Equal(t, "_db_sakila_obf_tmp", names.LoadingObfuscate)

	names, ok = ctx.GetSchemaNamesByClear("db_world")
	require.True(t, ok)
	assert.Equal(t, "world", names.Origin)

	assert.Equal(t, model.SchemaMapping{Clear: "db_sakila", Obfuscate: "db_sakila_obf"}, ctx.GetSchemaMappings()["sakila"])

	withID := ctx.WithSourceID(7)
	assert.Equal(t, int64(7), withID.SourceID)
	assert.Equal(t, int64(0), ctx.SourceID, "原来的上下文不变")
}

func TestSourceContext_FilterTables(t *testing.T) {
	ctx := NewSourceContext("mysql", newTestSourceConfig())

	assert.Equal(t, []string{"actor", "film"}, ctx.FilterTables("sakila", []string{"actor", "film", "language"}))
	assert.Equal(t, []string{"country"}, ctx.FilterTables("world", []string{"city", "country"}))
	assert.Equal(t, []string{"salaries"}, ctx.FilterTables("employee", []string{"salaries"}))
	assert.False(t, ctx.IsTableInScope("mysql", "user"))
}

func TestSourceContext_GetObfuscation(t *testing.T) {
	ctx := NewSourceContext("mysql", newTestSourceConfig())

	rules := ctx.GetObfuscation("sakila", "actor")
	require.NotNil(t, rules)
	assert.Equal(t, 2, rules["last_name"].NonhashLength)
	assert.Nil(t, ctx.GetObfuscation("sakila", "film"))
	assert.Nil(t, ctx.GetObfuscation("world", "city"))
}

func TestSchemaNames(t *testing.T) {
	long := "a_very_long_destination_schema_name_that_goes_past_the_limit_of_pg"
	assert.Equal(t, "_"+long[:59]+"_tmp", GetLoadingSchemaName(long))
	assert.LessOrEqual(t, len(GetRenameSchemaName(long)), 63)
	assert.Equal(t, "_rename_db_sakila", GetRenameSchemaName("db_sakila"))
}
