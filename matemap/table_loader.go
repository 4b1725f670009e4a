package matemap

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/daiguadaidai/go-pg-ninja/common"
	"github.com/daiguadaidai/go-pg-ninja/logger"
	mysqlsql "github.com/daiguadaidai/go-pg-ninja/sql"
	"github.com/juju/errors"
)

const selectColumnsSql = `
SELECT COLUMN_NAME, DATA_TYPE, COLUMN_TYPE, EXTRA, ORDINAL_POSITION, IS_NULLABLE, COLUMN_DEFAULT,
    CHARACTER_MAXIMUM_LENGTH, NUMERIC_PRECISION, NUMERIC_SCALE
FROM information_schema.COLUMNS
WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
ORDER BY ORDINAL_POSITION
`

const selectIndexesSql = `
SELECT INDEX_NAME, NON_UNIQUE, COLUMN_NAME
FROM information_schema.STATISTICS
WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
ORDER BY INDEX_NAME = 'PRIMARY' DESC, INDEX_NAME, SEQ_IN_INDEX
`

const selectTablesSql = `
SELECT TABLE_NAME
FROM information_schema.TABLES
WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
ORDER BY TABLE_NAME
`

/* 从 information_schema 读取表结构
Params:
    _ctx: 上下文
    _tool: MySQL 查询工具
    _schema: 数据库名
    _table: 表名
*/
func LoadTable(_ctx context.Context, _tool *mysqlsql.MySQLTool, _schema string, _table string) (*Table, error) {
	columnRows, err := _tool.FetchAllMap(_ctx, selectColumnsSql, _schema, _table)
	if err != nil {
		return nil, errors.Annotatef(err, "获取表 %v.%v 字段", _schema, _table)
	}

	columns := make([]Column, 0, len(columnRows))
	for _, row := range columnRows {
		position, _ := strconv.Atoi(rowString(row, "ORDINAL_POSITION"))
		column := CreateColumn(rowString(row, "COLUMN_NAME"), rowString(row, "DATA_TYPE"),
			rowString(row, "COLUMN_TYPE"), rowString(row, "EXTRA"), position)
		column.IsNullable = rowString(row, "IS_NULLABLE") == "YES"
		column.CharMaxLen, _ = strconv.ParseInt(rowString(row, "CHARACTER_MAXIMUM_LENGTH"), 10, 64)
		column.NumericPrecision, _ = strconv.ParseInt(rowString(row, "NUMERIC_PRECISION"), 10, 64)
		column.NumericScale, _ = strconv.ParseInt(rowString(row, "NUMERIC_SCALE"), 10, 64)
		if row["COLUMN_DEFAULT"] != nil {
			column.Default = common.QuoteLiteral(rowString(row, "COLUMN_DEFAULT"))
		}
		columns = append(columns, column)
	}

	table, err := NewTable(_schema, _table, columns)
	if err != nil {
		return nil, errors.Trace(err)
	}

	indexRows, err := _tool.FetchAllMap(_ctx, selectIndexesSql, _schema, _table)
	if err != nil {
		return nil, errors.Annotatef(err, "获取表 %v.%v 索引", _schema, _table)
	}
	for _, row := range indexRows {
		table.AddIndexColumn(rowString(row, "INDEX_NAME"), rowString(row, "NON_UNIQUE") != "0", rowString(row, "COLUMN_NAME"))
	}

	return table, nil
}

// 获取库中所有的表
func LoadTableNames(_ctx context.Context, _tool *mysqlsql.MySQLTool, _schema string) ([]string, error) {
	rows, err := _tool.FetchAllMap(_ctx, selectTablesSql, _schema)
	if err != nil {
		return nil, errors.Annotatef(err, "获取库 %v 的表", _schema)
	}

	names := make([]string, 0, len(rows))
	for _, row := range rows {
		names = append(names, rowString(row, "TABLE_NAME"))
	}

	return names, nil
}

func rowString(_row map[string]interface{}, _key string) string {
	value, ok := _row[_key]
	if !ok || value == nil {
		return ""
	}

	return fmt.Sprintf("%v", value)
}

// 线程安全的表结构缓存, key: schema.table
type TableCache struct {
	tool   *mysqlsql.MySQLTool
	tables sync.Map
}

func NewTableCache(_tool *mysqlsql.MySQLTool) *TableCache {
	return &TableCache{tool: _tool}
}

/* 获取表结构, 缓存中没有从数据库中读取
Params:
    _ctx: 上下文
    _schema: 数据库名
    _table: 表名
*/
func (this *TableCache) Get(_ctx context.Context, _schema string, _table string) (*Table, error) {
	key := common.GetTableKey(_schema, _table)
	if table, ok := this.tables.Load(key); ok {
		return table.(*Table), nil
	}

	table, err := LoadTable(_ctx, this.tool, _schema, _table)
	if err != nil {
		return nil, errors.Trace(err)
	}
	this.tables.Store(key, table)
	logger.M.Debugf("%v: 成功. 加载表结构 %v, 字段数: %v", common.CurrLine(), key, len(table.Columns))

	return table, nil
}

// 表结构变更后删除缓存
func (this *TableCache) Invalidate(_schema string, _table string) {
	this.tables.Delete(common.GetTableKey(_schema, _table))
}
