package sql

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/juju/errors"
)

// *sql.DB, *sql.Conn, *sql.Tx 都满足
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// MySQL 数据源的查询工具, 元数据查询和数据导出使用
type MySQLTool struct {
	DB Querier
}

func NewMySQLTool(_db Querier) *MySQLTool {
	return &MySQLTool{DB: _db}
}

/* 获取多行数据, 值都是字符串, NULL 为 nil
Params:
    _ctx: 上下文
    _sql: 查询语句
    _args: 占位符参数
*/
func (this *MySQLTool) FetchAllMap(_ctx context.Context, _sql string, _args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := this.DB.QueryContext(_ctx, _sql, _args...)
	if err != nil {
		return nil, errors.Annotatef(err, "执行查询. %v", _sql)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Trace(err)
	}

	// 使用 interface{} 接收, 可以区分 NULL 和空字符串
	values := make([]interface{}, len(columns))
	scanArgs := make([]interface{}, len(values))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	rowMaps := make([]map[string]interface{}, 0, 8)
	for rows.Next() {
		if err = rows.Scan(scanArgs...); err != nil {
			return nil, errors.Trace(err)
		}

		rowMap := make(map[string]interface{}, len(columns))
		for i, value := range values {
			rowMap[columns[i]] = value2String(value)
		}
		rowMaps = append(rowMaps, rowMap)
	}

	if err = rows.Err(); err != nil {
		return nil, errors.Trace(err)
	}

	return rowMaps, nil
}

/* 执行查询, 结果按 PostgreSQL COPY 的 text 格式写入
Params:
    _ctx: 上下文
    _sql: 查询语句, 字段顺序与 _kinds 一致
    _kinds: 每个字段值的转换方式
    _writer: 输出
Return:
    写入的行数
*/
func (this *MySQLTool) CopyRows(_ctx context.Context, _sql string, _kinds []int, _writer io.Writer) (int64, error) {
	rows, err := this.DB.QueryContext(_ctx, _sql)
	if err != nil {
		return 0, errors.Annotatef(err, "执行查询. %v", _sql)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return 0, errors.Trace(err)
	}
	if len(columns) != len(_kinds) {
		return 0, errors.NotValidf("查询返回 %v 个字段, 类型有 %v 个", len(columns), len(_kinds))
	}

	values := make([]interface{}, len(columns))
	scanArgs := make([]interface{}, len(values))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	buffer := bufio.NewWriterSize(_writer, 64*1024)
	var count int64
	for rows.Next() {
		if err = rows.Scan(scanArgs...); err != nil {
			return count, errors.Trace(err)
		}

		for i, value := range values {
			if i > 0 {
				buffer.WriteByte('\t')
			}
			buffer.WriteString(RawBytes2CopyText(value2RawBytes(value), _kinds[i]))
		}
		if err = buffer.WriteByte('\n'); err != nil {
			return count, errors.Trace(err)
		}
		count++
	}

	if err = rows.Err(); err != nil {
		return count, errors.Trace(err)
	}
	if err = buffer.Flush(); err != nil {
		return count, errors.Trace(err)
	}

	return count, nil
}

// 执行语句, 不关心结果
func (this *MySQLTool) ExecuteDDL(_ctx context.Context, _sql string) error {
	if _, err := this.DB.ExecContext(_ctx, _sql); err != nil {
		return errors.Annotatef(err, "执行语句. %v", _sql)
	}

	return nil
}

// 文本协议返回的都是 []byte, NULL 为 nil
func value2RawBytes(_value interface{}) sql.RawBytes {
	switch value := _value.(type) {
	case nil:
		return nil
	case []byte:
		if value == nil {
			return sql.RawBytes{}
		}
		return value
	case string:
		return sql.RawBytes(value)
	}

	return sql.RawBytes(fmt.Sprintf("%v", _value))
}

func value2String(_value interface{}) interface{} {
	if _value == nil {
		return nil
	}

	return string(value2RawBytes(_value))
}
