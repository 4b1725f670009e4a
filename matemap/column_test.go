package matemap

import (
	"testing"

	mysqlsql "github.com/daiguadaidai/go-pg-ninja/sql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateColumn(t *testing.T) {
	column := CreateColumn("id", "tinyint", "tinyint(3) unsigned zerofill", "auto_increment", 1)
	assert.Equal(t, TYPE_TINYINT, column.Type)
	assert.True(t, column.IsAuto)
	assert.True(t, column.IsUnsigned)
	assert.True(t, column.IsZeroFill)

	column = CreateColumn("created", "datetime", "datetime", "", 2)
	assert.Equal(t, TYPE_DATETIME, column.Type)
	assert.Equal(t, mysqlsql.KIND_DATE, column.CopyKind())

	column = CreateColumn("status", "enum", "enum('new','it''s')", "", 3)
	assert.True(t, column.IsEnum)
	assert.Equal(t, "'new','it''s'", column.Dimension())
	assert.Equal(t, []string{"new", "it's"}, column.ToTranslatorColumn().EnumList())

	column = CreateColumn("amount", "decimal", "decimal(10,2)", "", 4)
	column.NumericPrecision = 10
	column.NumericScale = 2
	assert.Equal(t, "10,2", column.Dimension())
	assert.Equal(t, "decimal(10,2)", column.ToTranslatorColumn().ColumnType)

	column = CreateColumn("pos", "point", "point", "", 5)
	assert.Equal(t, mysqlsql.KIND_BINARY, column.CopyKind())
	assert.Equal(t, "ST_AsWKB(`pos`)", column.SelectExpr())
}

func TestTable(t *testing.T) {
	status := CreateColumn("status", "enum", "enum('new','paid')", "", 2)
	tags := CreateColumn("tags", "set", "set('a','b','c')", "", 3)
	table, err := NewTable("shop", "orders", []Column{
		CreateColumn("id", "int", "int(11)", "auto_increment", 1),
		status,
		tags,
	})
	require.NoError(t, err)

	table.AddIndexColumn("uk_status", false, "status")
	table.AddIndexColumn("uk_status", false, "tags")
	assert.Equal(t, []string{"status", "tags"}, table.FindPKColumnNames())

	table.AddIndexColumn("PRIMARY", false, "id")
	assert.Equal(t, []string{"id"}, table.FindPKColumnNames())
	assert.Equal(t, "SELECT `id`, `status`, `tags` FROM `shop`.`orders`", table.GetSelectSql())

	row, err := table.RowToMap([]interface{}{int32(7), int64(2), int64(5)})
	require.NoError(t, err)
	assert.Equal(t, int32(7), row["id"])
	assert.Equal(t, "paid", row["status"])
	assert.Equal(t, []string{"a", "c"}, row["tags"])

	_, err = table.RowToMap([]interface{}{1})
	assert.Error(t, err)

	_, err = NewTable("shop", "empty", nil)
	assert.Error(t, err)
}
