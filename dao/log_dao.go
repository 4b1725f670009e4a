package dao

import (
	"context"
	"fmt"
	"io"

	"github.com/daiguadaidai/go-pg-ninja/catalog"
	"github.com/daiguadaidai/go-pg-ninja/common"
	"github.com/daiguadaidai/go-pg-ninja/gdbc"
	"github.com/daiguadaidai/go-pg-ninja/logger"
	"github.com/daiguadaidai/go-pg-ninja/model"
	"github.com/juju/errors"
)

// 日志表中写入的字段, COPY 和单行插入使用同样的顺序
const LogColumns = `i_id_batch, v_table_name, v_schema_name, enm_binlog_event, t_binlog_name,
	i_binlog_position, jsb_event_after, jsb_event_before, t_query, i_my_event_time`

type LogDao struct {
	Instance *gdbc.PgInstance
}

func NewLogDao(_instance *gdbc.PgInstance) *LogDao {
	return &LogDao{Instance: _instance}
}

/* 使用 COPY 批量写入日志表
Params:
    _ctx: 上下文
    _logTable: 日志表名
    _csv: csv 格式的事件, 字段顺序和 LogColumns 一致
Return:
    写入的行数
*/
func (this *LogDao) CopyEvents(_ctx context.Context, _logTable string, _csv io.Reader) (int64, error) {
	conn, err := this.Instance.Pool.Acquire(_ctx)
	if err != nil {
		return 0, errors.Annotate(err, "获取链接")
	}
	defer conn.Release()

	sql := fmt.Sprintf(`COPY %v (%v) FROM STDIN WITH (FORMAT csv, NULL 'NULL', QUOTE '''', ESCAPE '''', DELIMITER ',')`,
		common.FormatTableName(catalog.REPLICA_SCHEMA, _logTable), LogColumns)
	tag, err := conn.Conn().PgConn().CopyFrom(_ctx, _csv, sql)
	if err != nil {
		return 0, errors.Annotatef(err, "COPY 日志表 %v", _logTable)
	}

	return tag.RowsAffected(), nil
}

// 单行写入日志表, COPY 失败后使用
func (this *LogDao) InsertEvent(_ctx context.Context, _logTable string, _event *model.LogEvent) error {
	sql := fmt.Sprintf(`INSERT INTO %v (%v) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9, $10)`,
		common.FormatTableName(catalog.REPLICA_SCHEMA, _logTable), LogColumns)
	_, err := this.Instance.Pool.Exec(_ctx, sql,
		_event.IDBatch, _event.TableName, _event.SchemaName, _event.Action, _event.BinlogName,
		_event.BinlogPosition, jsonParam(_event.After), jsonParam(_event.Before), _event.Query, _event.EventTime)

	return errors.Trace(err)
}

// nil 写入 NULL
func jsonParam(_data []byte) interface{} {
	if _data == nil {
		return nil
	}

	return string(_data)
}

/* 保存无法写入日志表的行
Params:
    _rowData: 行数据编码之后的内容
*/
func (this *LogDao) SaveDiscardedRow(_batchID int64, _schema string, _table string, _rowData string) error {
	discarded := &model.DiscardedRow{
		IDBatch:    _batchID,
		SchemaName: _schema,
		TableName_: _table,
		RowData:    _rowData,
	}
	if err := this.Instance.Orm.Create(discarded).Error; err != nil {
		return errors.Annotatef(err, "保存丢弃的行. 批次: %v, 表: %v", _batchID, common.GetTableKey(_schema, _table))
	}
	logger.M.Warnf("%v: 警告. 批次 %v 表 %v 的一行无法写入日志表, 已经保存到 t_discarded_rows(%v)",
		common.CurrLine(), _batchID, common.GetTableKey(_schema, _table), discarded.IDRow)

	return nil
}
