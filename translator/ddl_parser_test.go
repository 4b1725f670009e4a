package translator

import (
	"testing"

	"github.com/daiguadaidai/go-pg-ninja/common"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCreateOrders = "CREATE TABLE IF NOT EXISTS `orders` (" +
	"`id` int(11) NOT NULL AUTO_INCREMENT," +
	"`status` enum('new','paid') DEFAULT 'new' COMMENT 'order, status'," +
	"`amount` decimal(10,2) NOT NULL DEFAULT '0.00'," +
	"`note` varchar(255)," +
	"`updated` timestamp NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP," +
	"PRIMARY KEY (`id`)," +
	"UNIQUE KEY `uk_note` (`note`(100))," +
	"KEY `idx_status` (`status`) USING BTREE" +
	") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"

func TestParseDDL_CreateTable(t *testing.T) {
	commands, err := ParseDDL(testCreateOrders)
	require.NoError(t, err)
	require.Len(t, commands, 1)

	createTable, ok := commands[0].(*CreateTable)
	require.True(t, ok)
	assert.Equal(t, "orders", createTable.TableName())
	require.Len(t, createTable.Columns, 5)

	id := createTable.Columns[0]
	assert.Equal(t, "int", id.DataType)
	assert.Equal(t, "int(11)", id.ColumnType)
	assert.False(t, id.Nullable)
	assert.True(t, id.AutoIncrement)

	status := createTable.Columns[1]
	assert.Equal(t, "enum", status.DataType)
	assert.Equal(t, "'new','paid'", status.Dimension)
	assert.Equal(t, []string{"new", "paid"}, status.EnumList())
	assert.Equal(t, "'new'", status.Default)
	assert.True(t, status.Nullable)

	amount := createTable.Columns[2]
	assert.Equal(t, "10,2", amount.Dimension)
	assert.Equal(t, "'0.00'", amount.Default)

	note := createTable.Columns[3]
	assert.Equal(t, "varchar", note.DataType)
	assert.Equal(t, "255", note.Dimension)
	assert.Empty(t, note.Default)

	updated := createTable.Columns[4]
	assert.Equal(t, "CURRENT_TIMESTAMP", updated.Default)

	require.Len(t, createTable.Indices, 3)
	assert.True(t, createTable.Indices[0].IsPrimary())
	assert.Equal(t, []string{"id"}, createTable.Indices[0].Columns)
	assert.Equal(t, "uk_note", createTable.Indices[1].Name)
	assert.False(t, createTable.Indices[1].NonUnique)
	assert.Equal(t, []string{"note"}, createTable.Indices[1].Columns)
	assert.True(t, createTable.Indices[2].NonUnique)
}

func TestParseDDL_ColumnOptions(t *testing.T) {
	commands, err := ParseDDL("CREATE TABLE t (" +
		"a bigint unsigned PRIMARY KEY, " +
		"b varchar(20) CHARACTER SET utf8mb4 UNIQUE DEFAULT _utf8mb4'x', " +
		"c int DEFAULT NULL, " +
		"d bit(1) DEFAULT b'0', " +
		"e int DEFAULT -1, " +
		"UNIQUE (e))")
	require.NoError(t, err)
	createTable := commands[0].(*CreateTable)
	require.Len(t, createTable.Columns, 5)

	a := createTable.Columns[0]
	assert.Equal(t, "bigint", a.DataType)
	assert.Contains(t, a.ColumnType, "unsigned")
	assert.False(t, a.Nullable)
	assert.Equal(t, "'x'", createTable.Columns[1].Default)
	assert.Empty(t, createTable.Columns[2].Default)
	assert.True(t, createTable.Columns[2].Nullable)
	assert.Empty(t, createTable.Columns[3].Default)
	assert.Equal(t, "-1", createTable.Columns[4].Default)

	require.Len(t, createTable.Indices, 3)
	assert.Equal(t, &Index{Name: PRIMARY_INDEX_NAME, Columns: []string{"a"}}, createTable.Indices[0])
	assert.Equal(t, &Index{Name: "b", Columns: []string{"b"}}, createTable.Indices[1])
	// 没有名字的唯一索引使用第一个字段名
	assert.Equal(t, &Index{Name: "e", Columns: []string{"e"}}, createTable.Indices[2])
}

func TestParseDDL_Commands(t *testing.T) {
	commands, err := ParseDDL("/* rename */ RENAME TABLE `orders` TO `orders_v2`, shop.a TO shop.b;")
	require.NoError(t, err)
	require.Len(t, commands, 2)
	assert.Equal(t, &RenameTable{TableRef: TableRef{Name: "orders"}, NewName: "orders_v2"}, commands[0])
	assert.Equal(t, &RenameTable{TableRef: TableRef{Schema: "shop", Name: "a"}, NewName: "b"}, commands[1])

	commands, err = ParseDDL("DROP TABLE IF EXISTS `shop`.`a`, c /* generated by server */")
	require.NoError(t, err)
	require.Len(t, commands, 2)
	assert.Equal(t, &DropTable{TableRef: TableRef{Schema: "shop", Name: "a"}}, commands[0])
	assert.Equal(t, "c", commands[1].TableName())

	commands, err = ParseDDL("truncate t")
	require.NoError(t, err)
	assert.Equal(t, []Command{&TruncateTable{TableRef: TableRef{Name: "t"}}}, commands)
}

func TestParseDDL_AlterTable(t *testing.T) {
	commands, err := ParseDDL("ALTER TABLE `orders` ADD COLUMN `flag` tinyint(1) DEFAULT 0 AFTER `note`, " +
		"DROP COLUMN `legacy`, CHANGE `amount` `total` decimal(12,2) NOT NULL, MODIFY note text, " +
		"ADD INDEX idx_flag (flag), DROP PRIMARY KEY, ADD (`a` int, `b` int)")
	require.NoError(t, err)
	require.Len(t, commands, 2)

	_, ok := commands[0].(*DropPrimaryKey)
	assert.True(t, ok)

	alterTable, ok := commands[1].(*AlterTable)
	require.True(t, ok)
	require.Len(t, alterTable.Alters, 6)
	assert.Equal(t, ALTER_ADD, alterTable.Alters[0].Command)
	assert.Equal(t, "tinyint(1)", alterTable.Alters[0].Column.ColumnType)
	assert.Equal(t, "0", alterTable.Alters[0].Column.Default)
	assert.Equal(t, &AlterColumn{Command: ALTER_DROP, Name: "legacy"}, alterTable.Alters[1])
	assert.Equal(t, ALTER_CHANGE, alterTable.Alters[2].Command)
	assert.Equal(t, "amount", alterTable.Alters[2].Name)
	assert.Equal(t, "total", alterTable.Alters[2].Column.Name)
	assert.Equal(t, "12,2", alterTable.Alters[2].Column.Dimension)
	assert.False(t, alterTable.Alters[2].Column.Nullable)
	assert.Equal(t, ALTER_MODIFY, alterTable.Alters[3].Command)
	assert.Equal(t, "note", alterTable.Alters[3].Name)
	assert.Equal(t, "text", alterTable.Alters[3].Column.DataType)
	assert.Equal(t, "a", alterTable.Alters[4].Name)
	assert.Equal(t, "b", alterTable.Alters[5].Name)

	commands, err = ParseDDL("ALTER TABLE t ADD UNIQUE KEY (b), ENGINE=InnoDB")
	require.NoError(t, err)
	assert.Empty(t, commands)

	commands, err = ParseDDL("ALTER TABLE t RENAME TO t2")
	require.NoError(t, err)
	assert.Equal(t, []Command{&RenameTable{TableRef: TableRef{Name: "t"}, NewName: "t2"}}, commands)

	commands, err = ParseDDL("ALTER TABLE t RENAME TO t2, ADD COLUMN c int")
	require.NoError(t, err)
	require.Len(t, commands, 2)
	_, ok = commands[0].(*AlterTable)
	assert.True(t, ok)
	_, ok = commands[1].(*RenameTable)
	assert.True(t, ok)
}

func TestParseDDL_Unsupported(t *testing.T) {
	for _, query := range []string{
		"CREATE INDEX idx_a ON t (a)",
		"CREATE TABLE t2 LIKE t1",
		"DROP DATABASE shop",
		"DROP VIEW v",
		"INSERT INTO t VALUES (1)",
		"ALTER VIEW v AS SELECT 1",
		"GRANT SELECT ON *.* TO u",
		"FLUSH PRIVILEGES",
	} {
		_, err := ParseDDL(query)
		assert.Equal(t, common.ErrUnsupportedCommand, errors.Cause(err), query)
	}
}

func TestParseDDL_Malformed(t *testing.T) {
	for _, query := range []string{
		"CREATE TABLE t (a int",
		"DROP TABLE 'a",
		"/* gh-ost */ ALTER TABLE t ADD COLUMN",
		"rename table a",
	} {
		_, err := ParseDDL(query)
		assert.Equal(t, common.ErrMalformedDDL, errors.Cause(err), query)
	}

	assert.True(t, isTableDDL("-- comment\n  truncate table t"))
	assert.False(t, isTableDDL("/* not closed"))
	assert.False(t, isTableDDL("CREATE DATABASE d"))
}
