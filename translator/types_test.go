package translator

import (
	"testing"

	"github.com/daiguadaidai/go-pg-ninja/setting"
	"github.com/stretchr/testify/assert"
)

func TestTypeMapper_GetDataType(t *testing.T) {
	mapper := NewTypeMapper(map[string]setting.TypeOverride{
		"tinyint(1)": {OverrideTo: "boolean", OverrideTables: []string{"*"}},
		"bigint(20) unsigned": {
			OverrideTo:     "numeric",
			OverrideTables: []string{"shop.orders"},
		},
	})

	flag := &Column{DataType: "tinyint", ColumnType: "tinyint(1)"}
	assert.Equal(t, "boolean", mapper.GetDataType(flag, "any", "table"))

	id := &Column{DataType: "bigint", ColumnType: "bigint(20) unsigned"}
	assert.Equal(t, "numeric", mapper.GetDataType(id, "shop", "orders"))
	assert.Equal(t, "bigint", mapper.GetDataType(id, "shop", "customers"))

	assert.Equal(t, "double precision", mapper.GetDataType(&Column{DataType: "FLOAT"}, "shop", "t"))
	assert.Equal(t, "bytea", mapper.GetDataType(&Column{DataType: "varbinary"}, "shop", "t"))
	assert.Equal(t, DEFAULT_TYPE, mapper.GetDataType(&Column{DataType: "point"}, "shop", "t"))
}

func TestFormatDimension(t *testing.T) {
	assert.Equal(t, "character varying(255)", FormatDimension("character varying", "255"))
	assert.Equal(t, "numeric(10,2)", FormatDimension("numeric", "10, 2"))
	assert.Equal(t, "numeric", FormatDimension("numeric", ""))
	assert.Equal(t, "integer", FormatDimension("integer", "11"))
	assert.Equal(t, "serial", serialType("integer"))
	assert.Equal(t, "bigserial", serialType("bigint"))
}

func TestBuildCreateTable_Pgsql(t *testing.T) {
	translator := newTestTranslator(nil, nil)
	ddl := translator.BuildCreateTable(DIALECT_PGSQL, "public", "_pg_public_tmp", "t", []*Column{
		{Name: "id", DataType: "bigint", AutoIncrement: true},
		{Name: "mood", Category: CATEGORY_ENUM, Elements: "'sad','happy'", Nullable: true},
		{Name: "pt", Category: CATEGORY_COMPOSITE, Elements: `"x" integer,"y" integer`, Nullable: true},
		{Name: "name", DataType: "character varying(30)", Default: "'x'::character varying"},
	})

	assert.Equal(t, []string{
		CreateTypeIfAbsent("_pg_public_tmp", "enum_t_mood", "ENUM ('sad','happy')"),
		CreateTypeIfAbsent("_pg_public_tmp", "typ_t_pt", `("x" integer,"y" integer)`),
		`CREATE TABLE IF NOT EXISTS "_pg_public_tmp"."t" ("id" bigserial NOT NULL,"mood" "_pg_public_tmp"."enum_t_mood" NULL,` +
			`"pt" "_pg_public_tmp"."typ_t_pt" NULL,"name" character varying(30) DEFAULT 'x'::character varying NOT NULL);`,
	}, ddl.Statements())
}

func TestEnumTypeName(t *testing.T) {
	assert.Equal(t, "enum_abcdefghijklmnopqrst_col", EnumTypeName("abcdefghijklmnopqrstuvwxyz", "col"))
	assert.Equal(t, "typ_t_c", CompositeTypeName("t", "c"))
}
