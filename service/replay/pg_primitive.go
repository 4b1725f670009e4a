package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/daiguadaidai/go-pg-ninja/catalog"
	"github.com/daiguadaidai/go-pg-ninja/common"
	"github.com/daiguadaidai/go-pg-ninja/dao"
	"github.com/daiguadaidai/go-pg-ninja/gdbc"
	"github.com/daiguadaidai/go-pg-ninja/logger"
	"github.com/daiguadaidai/go-pg-ninja/model"
	"github.com/daiguadaidai/go-pg-ninja/setting"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/juju/errors"
)

// 在 PostgreSQL 中回放日志表中的事件
type PgPrimitive struct {
	Instance *gdbc.PgInstance
	SourceID int64
	OnError  string // continue/exit

	tableDao    *dao.ReplicaTableDao
	errorLogDao *dao.ErrorLogDao
}

func NewPgPrimitive(_instance *gdbc.PgInstance, _sourceID int64, _onError string) *PgPrimitive {
	return &PgPrimitive{
		Instance:    _instance,
		SourceID:    _sourceID,
		OnError:     _onError,
		tableDao:    dao.NewReplicaTableDao(_instance),
		errorLogDao: dao.NewErrorLogDao(_instance),
	}
}

// 回放事件时需要的表信息
type replayTable struct {
	pkey    []string
	columns map[string]bool // 目标表的字段, 第一次使用时加载
}

/* 回放批次中 i_last_event 之后的最多 _maxRows 个事件, 回放进度和数据在同一个事务中提交
Params:
    _ctx: 上下文
    _batch: 认领的批次
    _maxRows: 最多回放的事件数
*/
func (this *PgPrimitive) ReplayBatch(_ctx context.Context, _batch *model.ReplicaBatch, _maxRows int) (*Status, error) {
	events, err := this.readEvents(_ctx, _batch, _maxRows)
	if err != nil {
		return nil, errors.Trace(err)
	}
	status := &Status{Continue: len(events) == _maxRows && _maxRows > 0}
	if len(events) == 0 {
		return status, nil
	}

	tables, err := this.loadTables(_ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}

	failed := make(map[string]bool)
	err = pgx.BeginFunc(_ctx, this.Instance.Pool, func(tx pgx.Tx) error {
		for _, event := range events {
			key := common.GetTableKey(event.SchemaName, event.TableName)
			table, ok := tables[key]
			if !ok || failed[key] {
				logger.M.Debugf("%v: 表 %v 不在复制中, 跳过事件 %v", common.CurrLine(), key, event.IDEvent)
				continue
			}

			applyErr := this.applyInSavepoint(_ctx, tx, event, table)
			if applyErr == nil {
				status.Replayed++
				if event.Action == model.ACTION_DDL {
					// 表结构可能变化
					table.columns = nil
				}
				continue
			}

			sql := ""
			if event.Query != nil {
				sql = *event.Query
			}
			if err := this.errorLogDao.Insert(this.SourceID, _batch.IDBatch, event.SchemaName, event.TableName,
				sql, applyErr.Error()); err != nil {
				return errors.Trace(err)
			}
			if event.Action == model.ACTION_DDL {
				continue
			}
			if this.OnError == setting.ON_ERROR_EXIT {
				return errors.Annotatef(common.ErrReplayCrashed, "表 %v 事件 %v: %v", key, event.IDEvent, applyErr)
			}
			failed[key] = true
		}

		return errors.Trace(dao.UpdateLastEvent(_ctx, tx, _batch.IDBatch, events[len(events)-1].IDEvent))
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	_batch.LastEvent = events[len(events)-1].IDEvent

	for key := range failed {
		status.FailedTables = append(status.FailedTables, key)
	}
	sort.Strings(status.FailedTables)

	return status, nil
}

func (this *PgPrimitive) readEvents(_ctx context.Context, _batch *model.ReplicaBatch, _maxRows int) ([]*model.LogEvent, error) {
	sql := fmt.Sprintf(`
SELECT i_id_event, i_id_batch, v_table_name, v_schema_name, enm_binlog_event, t_binlog_name, i_binlog_position,
    jsb_event_before, jsb_event_after, t_query, i_my_event_time
FROM %v
WHERE i_id_batch = $1 AND i_id_event > $2
ORDER BY i_id_event
LIMIT $3
`, common.FormatTableName(catalog.REPLICA_SCHEMA, _batch.LogTable))

	events := make([]*model.LogEvent, 0, _maxRows)
	if err := pgxscan.Select(_ctx, this.Instance.Pool, &events, sql, _batch.IDBatch, _batch.LastEvent, _maxRows); err != nil {
		return nil, errors.Annotatef(err, "读取批次 %v 的事件", _batch.IDBatch)
	}

	return events, nil
}

// 数据源中可以复制的表
func (this *PgPrimitive) loadTables(_ctx context.Context) (map[string]*replayTable, error) {
	replicaTables, err := this.tableDao.FindBySource(_ctx, this.SourceID)
	if err != nil {
		return nil, errors.Trace(err)
	}

	tables := make(map[string]*replayTable, len(replicaTables))
	for _, replicaTable := range replicaTables {
		if !replicaTable.ReplicaEnabled || len(replicaTable.TablePkey) == 0 {
			continue
		}
		tables[common.GetTableKey(replicaTable.SchemaName, replicaTable.TableName_)] = &replayTable{pkey: replicaTable.TablePkey}
	}

	return tables, nil
}

// 每个事件一个 savepoint, 失败只回滚这个事件
func (this *PgPrimitive) applyInSavepoint(_ctx context.Context, _tx pgx.Tx, _event *model.LogEvent, _table *replayTable) error {
	savepoint, err := _tx.Begin(_ctx)
	if err != nil {
		return errors.Trace(err)
	}

	if err := this.apply(_ctx, savepoint, _event, _table); err != nil {
		if rollbackErr := savepoint.Rollback(_ctx); rollbackErr != nil {
			return errors.Wrap(err, rollbackErr)
		}
		return errors.Trace(err)
	}

	return errors.Trace(savepoint.Commit(_ctx))
}

func (this *PgPrimitive) apply(_ctx context.Context, _tx pgx.Tx, _event *model.LogEvent, _table *replayTable) error {
	tableName := common.FormatTableName(_event.SchemaName, _event.TableName)

	switch _event.Action {
	case model.ACTION_DDL:
		if _event.Query == nil {
			return nil
		}
		_, err := _tx.Exec(_ctx, *_event.Query)
		return errors.Trace(err)
	case model.ACTION_TRUNCATE:
		_, err := _tx.Exec(_ctx, fmt.Sprintf("TRUNCATE TABLE %v CASCADE;", tableName))
		return errors.Trace(err)
	case model.ACTION_INSERT:
		sql := fmt.Sprintf(`INSERT INTO %v SELECT * FROM jsonb_populate_record(NULL::%v, $1::jsonb) ON CONFLICT DO NOTHING`,
			tableName, tableName)
		_, err := _tx.Exec(_ctx, sql, string(_event.After))
		return errors.Trace(err)
	case model.ACTION_UPDATE:
		columns, err := this.updateColumns(_ctx, _tx, _event, _table)
		if err != nil {
			return errors.Trace(err)
		}
		if len(columns) == 0 {
			return nil
		}
		sql := fmt.Sprintf(`UPDATE %v SET (%v) = (SELECT %v FROM jsonb_populate_record(NULL::%v, $1::jsonb)) WHERE %v`,
			tableName, common.FormatColumnNameStr(columns), common.FormatColumnNameStr(columns), tableName,
			pkeyCondition(tableName, _table.pkey, "$2"))
		_, err = _tx.Exec(_ctx, sql, string(_event.After), string(_event.Before))
		return errors.Trace(err)
	case model.ACTION_DELETE:
		sql := fmt.Sprintf(`DELETE FROM %v WHERE %v`, tableName, pkeyCondition(tableName, _table.pkey, "$1"))
		_, err := _tx.Exec(_ctx, sql, string(_event.Before))
		return errors.Trace(err)
	}

	return errors.NotValidf("事件类型 %v", _event.Action)
}

// (pk) = (SELECT pk FROM jsonb_populate_record(NULL::t, before))
func pkeyCondition(_tableName string, _pkey []string, _param string) string {
	pkey := common.FormatColumnNameStr(_pkey)
	return fmt.Sprintf(`(%v) = (SELECT %v FROM jsonb_populate_record(NULL::%v, %v::jsonb))`, pkey, pkey, _tableName, _param)
}

// 变更后镜像中存在并且目标表中也存在的字段, 有序
func (this *PgPrimitive) updateColumns(_ctx context.Context, _tx pgx.Tx, _event *model.LogEvent, _table *replayTable) ([]string, error) {
	if _table.columns == nil {
		var columns []string
		sql := `
SELECT column_name::text
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position
`
		if err := pgxscan.Select(_ctx, _tx, &columns, sql, _event.SchemaName, _event.TableName); err != nil {
			return nil, errors.Annotatef(err, "获取表 %v 字段", common.GetTableKey(_event.SchemaName, _event.TableName))
		}
		_table.columns = make(map[string]bool, len(columns))
		for _, column := range columns {
			_table.columns[column] = true
		}
	}

	after := make(map[string]json.RawMessage)
	if err := json.Unmarshal(_event.After, &after); err != nil {
		return nil, errors.Annotatef(err, "解析事件 %v", _event.IDEvent)
	}
	columns := make([]string, 0, len(after))
	for column := range after {
		if _table.columns[column] {
			columns = append(columns, column)
		}
	}
	sort.Strings(columns)

	return columns, nil
}
