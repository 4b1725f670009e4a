package initload

import (
	"context"
	"database/sql"
	"io"

	"github.com/daiguadaidai/go-pg-ninja/common"
	"github.com/daiguadaidai/go-pg-ninja/gdbc"
	"github.com/daiguadaidai/go-pg-ninja/logger"
	"github.com/daiguadaidai/go-pg-ninja/matemap"
	"github.com/daiguadaidai/go-pg-ninja/service/snapshot"
	"github.com/daiguadaidai/go-pg-ninja/setting"
	mysqlsql "github.com/daiguadaidai/go-pg-ninja/sql"
	"github.com/daiguadaidai/go-pg-ninja/translator"
	"github.com/juju/errors"
)

// MySQL 数据源, 在全局读锁下打开一致性快照
type MysqlSource struct {
	DB      *sql.DB
	Tool    *mysqlsql.MySQLTool
	Workers int
}

func NewMysqlSource(_config *setting.MysqlConfig, _workers int) (*MysqlSource, error) {
	db, err := gdbc.GetMySQLDB(_config)
	if err != nil {
		return nil, errors.Trace(err)
	}

	return &MysqlSource{
		DB:      db,
		Tool:    mysqlsql.NewMySQLTool(db),
		Workers: _workers,
	}, nil
}

func (this *MysqlSource) Dialect() string {
	return translator.DIALECT_MYSQL
}

func (this *MysqlSource) ListTables(_ctx context.Context, _schema string) ([]string, error) {
	tables, err := matemap.LoadTableNames(_ctx, this.Tool, _schema)
	return tables, errors.Trace(err)
}

func (this *MysqlSource) TableMetadata(_ctx context.Context, _schema string, _table string) (*TableMetadata, error) {
	table, err := matemap.LoadTable(_ctx, this.Tool, _schema, _table)
	if err != nil {
		return nil, errors.Trace(err)
	}

	return &TableMetadata{
		Columns: table.ToTranslatorColumns(),
		Indices: table.Indices,
	}, nil
}

/* 使用快照中的一个链接导出表数据
Params:
    _snapshot: 必须是 MySQL 快照
*/
func (this *MysqlSource) CopyTable(
	_ctx context.Context,
	_snapshot SourceSnapshot,
	_schema string,
	_table string,
	_writer io.Writer,
) (int64, error) {
	mysqlSnapshot, ok := _snapshot.(*snapshot.MysqlSnapshot)
	if !ok {
		return 0, errors.NotValidf("快照类型 %T", _snapshot)
	}

	table, err := matemap.LoadTable(_ctx, this.Tool, _schema, _table)
	if err != nil {
		return 0, errors.Trace(err)
	}

	conn, err := mysqlSnapshot.Acquire(_ctx)
	if err != nil {
		return 0, errors.Trace(err)
	}
	defer mysqlSnapshot.Put(conn)

	rows, err := mysqlsql.NewMySQLTool(conn).CopyRows(_ctx, table.GetSelectSql(), table.GetCopyKinds(), _writer)
	if err != nil {
		return rows, errors.Annotatef(err, "导出表 %v", table)
	}
	logger.M.Debugf("%v: 成功. 导出表 %v, 行数: %v", common.CurrLine(), table, rows)

	return rows, nil
}

func (this *MysqlSource) BeginSnapshot(_ctx context.Context) (SourceSnapshot, error) {
	snap, err := snapshot.NewMysqlCoordinator(this.DB, this.Workers).BeginSnapshot(_ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}

	return snap, nil
}

func (this *MysqlSource) Close() error {
	return this.DB.Close()
}
