package dao

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/daiguadaidai/go-pg-ninja/common"
	"github.com/daiguadaidai/go-pg-ninja/gdbc"
	"github.com/daiguadaidai/go-pg-ninja/logger"
	"github.com/daiguadaidai/go-pg-ninja/model"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/juju/errors"
)

type ErrorLogDao struct {
	Instance *gdbc.PgInstance
}

func NewErrorLogDao(_instance *gdbc.PgInstance) *ErrorLogDao {
	return &ErrorLogDao{Instance: _instance}
}

/* 记录错误
Params:
    _sql: 出错的语句, 可以为空
*/
func (this *ErrorLogDao) Insert(_sourceID int64, _batchID int64, _schema string, _table string, _sql string, _message string) error {
	errorLog := &model.ErrorLog{
		IDSource:     _sourceID,
		IDBatch:      _batchID,
		SchemaName:   _schema,
		TableName_:   _table,
		SQL:          sql.NullString{String: _sql, Valid: _sql != ""},
		ErrorMessage: _message,
	}
	if err := this.Instance.Orm.Create(errorLog).Error; err != nil {
		return errors.Annotatef(err, "记录错误日志. 表: %v", common.GetTableKey(_schema, _table))
	}
	logger.M.Errorf("%v: 失败. 批次: %v, 表: %v, 错误: %v", common.CurrLine(), _batchID, common.GetTableKey(_schema, _table), _message)

	return nil
}

/* 获取错误日志
Params:
    _logID: 大于 0 时只获取一条
*/
func (this *ErrorLogDao) Find(_ctx context.Context, _logID int64) ([]*model.ErrorLog, error) {
	builder := psql.Select("l.i_id_log", "l.i_id_source", "coalesce(l.i_id_batch, 0) AS i_id_batch", "l.v_schema_name",
		"l.v_table_name", "l.ts_error", "l.t_sql", "coalesce(l.t_error_message, '') AS t_error_message", "s.t_source").
		From("sch_ninja.t_error_log l").
		Join("sch_ninja.t_sources s ON s.i_id_source = l.i_id_source").
		OrderBy("l.i_id_log")
	if _logID > 0 {
		builder = builder.Where(sq.Eq{"l.i_id_log": _logID})
	}
	sqlStr, args, err := builder.ToSql()
	if err != nil {
		return nil, errors.Trace(err)
	}

	errorLogs := make([]*model.ErrorLog, 0)
	if err := pgxscan.Select(_ctx, this.Instance.Pool, &errorLogs, sqlStr, args...); err != nil {
		return nil, errors.Annotate(err, "获取错误日志")
	}

	return errorLogs, nil
}
