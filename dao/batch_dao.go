package dao

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/daiguadaidai/go-pg-ninja/catalog"
	"github.com/daiguadaidai/go-pg-ninja/common"
	"github.com/daiguadaidai/go-pg-ninja/gdbc"
	"github.com/daiguadaidai/go-pg-ninja/logger"
	"github.com/daiguadaidai/go-pg-ninja/model"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/juju/errors"
)

const sqlBatchColumns = `i_id_batch, i_id_source, t_binlog_name, i_binlog_position, b_started, b_processed,
	b_replayed, ts_created, ts_processed, ts_replayed, v_log_table, i_last_event`

type BatchDao struct {
	Instance *gdbc.PgInstance
}

func NewBatchDao(_instance *gdbc.PgInstance) *BatchDao {
	return &BatchDao{Instance: _instance}
}

// 预先申请一个批次ID, 事件先使用该ID写入日志表, 最后才插入批次
func (this *BatchDao) NextBatchID(_ctx context.Context) (int64, error) {
	var batchID int64
	sql := `SELECT nextval('sch_ninja.t_replica_batch_i_id_batch_seq'::regclass)`
	if err := this.Instance.Pool.QueryRow(_ctx, sql).Scan(&batchID); err != nil {
		return 0, errors.Annotate(err, "申请批次ID")
	}

	return batchID, nil
}

// 当前写入的日志表
func (this *BatchDao) CurrentLogTable(_ctx context.Context, _sourceID int64) (string, error) {
	var logTable string
	sql := `SELECT v_log_table[1] FROM sch_ninja.t_sources WHERE i_id_source = $1`
	if err := this.Instance.Pool.QueryRow(_ctx, sql, _sourceID).Scan(&logTable); err != nil {
		if errors.Cause(err) == pgx.ErrNoRows {
			return "", errors.Annotatef(common.ErrSourceNotFound, "数据源 %v", _sourceID)
		}
		return "", errors.Annotatef(err, "获取数据源 %v 当前日志表", _sourceID)
	}

	return logTable, nil
}

/* 保存批次, 同时轮换日志表并更新最后接收时间, 一个事务完成.
批次只有在事件全部写入之后才对回放可见
Params:
    _ctx: 上下文
    _batchID: NextBatchID 申请的ID
    _sourceID: 数据源ID
    _position: 批次结束的 binlog 位点
    _logTable: 批次事件所在的日志表
    _eventTime: 最后一个事件的时间
*/
func (this *BatchDao) SaveBatch(
	_ctx context.Context,
	_batchID int64,
	_sourceID int64,
	_position *model.Position,
	_logTable string,
	_eventTime int64,
) error {
	err := pgx.BeginFunc(_ctx, this.Instance.Pool, func(tx pgx.Tx) error {
		sqlInsert := `
INSERT INTO sch_ninja.t_replica_batch (i_id_batch, i_id_source, t_binlog_name, i_binlog_position, v_log_table)
VALUES ($1, $2, $3, $4, $5)
`
		if _, err := tx.Exec(_ctx, sqlInsert, _batchID, _sourceID, _position.LogFile, _position.LogPos, _logTable); err != nil {
			return errors.Annotatef(err, "保存批次 %v", _batchID)
		}

		sqlRotate := `
UPDATE sch_ninja.t_sources
SET v_log_table = ARRAY[v_log_table[2], v_log_table[1]]
WHERE i_id_source = $1
`
		if _, err := tx.Exec(_ctx, sqlRotate, _sourceID); err != nil {
			return errors.Annotatef(err, "轮换数据源 %v 日志表", _sourceID)
		}

		return errors.Trace(updateLastReceived(_ctx, tx, _sourceID, _eventTime))
	})
	if err != nil {
		return errors.Trace(err)
	}
	logger.M.Debugf("%v: 成功. 保存批次 %v, 位点: %v, 日志表: %v", common.CurrLine(), _batchID, _position, _logTable)

	return nil
}

/* 数据源最后保存的位点, 重新开始捕获时使用
Return:
    没有批次返回 nil
*/
func (this *BatchDao) LastBatchPosition(_ctx context.Context, _sourceID int64) (*model.Position, error) {
	batch := new(model.ReplicaBatch)
	sql := fmt.Sprintf(`SELECT %v FROM sch_ninja.t_replica_batch WHERE i_id_source = $1 ORDER BY i_id_batch DESC LIMIT 1`,
		sqlBatchColumns)
	if err := pgxscan.Get(_ctx, this.Instance.Pool, batch, sql, _sourceID); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, errors.Annotatef(err, "获取数据源 %v 最后的批次", _sourceID)
	}

	return batch.GetPosition(), nil
}

/* 认领一个需要回放的批次. 锁住数据源行之后, 先返回已经开始但是没有处理完的批次,
没有的话把最早的未开始批次标记为开始
Return:
    没有可回放的批次返回 nil
*/
func (this *BatchDao) ClaimBatch(_ctx context.Context, _sourceID int64) (*model.ReplicaBatch, error) {
	var batch *model.ReplicaBatch
	err := pgx.BeginFunc(_ctx, this.Instance.Pool, func(tx pgx.Tx) error {
		var lockedID int64
		sqlLock := `SELECT i_id_source FROM sch_ninja.t_sources WHERE i_id_source = $1 FOR UPDATE`
		if err := tx.QueryRow(_ctx, sqlLock, _sourceID).Scan(&lockedID); err != nil {
			if errors.Cause(err) == pgx.ErrNoRows {
				return errors.Annotatef(common.ErrSourceNotFound, "数据源 %v", _sourceID)
			}
			return errors.Annotatef(err, "锁定数据源 %v", _sourceID)
		}

		sqlResume, args, err := psql.Select(sqlBatchColumns).
			From("sch_ninja.t_replica_batch").
			Where(sq.Eq{"i_id_source": _sourceID, "b_started": true, "b_processed": false}).
			OrderBy("i_id_batch").
			Limit(1).
			ToSql()
		if err != nil {
			return errors.Trace(err)
		}
		started := new(model.ReplicaBatch)
		if err := pgxscan.Get(_ctx, tx, started, sqlResume, args...); err == nil {
			logger.M.Infof("%v: 继续回放没有处理完的批次 %v, 已经回放到事件 %v",
				common.CurrLine(), started.IDBatch, started.LastEvent)
			batch = started
			return nil
		} else if !pgxscan.NotFound(err) {
			return errors.Annotatef(err, "获取数据源 %v 已经开始的批次", _sourceID)
		}

		oldest := psql.Select("min(i_id_batch)").
			From("sch_ninja.t_replica_batch").
			Where(sq.Eq{"i_id_source": _sourceID, "b_started": false, "b_processed": false, "b_replayed": false})
		sqlClaim, args, err := psql.Update("sch_ninja.t_replica_batch").
			Set("b_started", true).
			Where(oldest.Prefix("i_id_batch = (").Suffix(")")).
			Suffix("RETURNING " + sqlBatchColumns).
			ToSql()
		if err != nil {
			return errors.Trace(err)
		}
		claimed := new(model.ReplicaBatch)
		if err := pgxscan.Get(_ctx, tx, claimed, sqlClaim, args...); err != nil {
			if pgxscan.NotFound(err) {
				return nil
			}
			return errors.Annotatef(err, "认领数据源 %v 批次", _sourceID)
		}
		batch = claimed

		return nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	return batch, nil
}

/* 记录批次回放进度
Params:
    _tx: 和回放的数据在同一个事务中提交
*/
func UpdateLastEvent(_ctx context.Context, _tx pgx.Tx, _batchID int64, _lastEvent int64) error {
	sql := `UPDATE sch_ninja.t_replica_batch SET i_last_event = $2 WHERE i_id_batch = $1`
	_, err := _tx.Exec(_ctx, sql, _batchID, _lastEvent)

	return errors.Annotatef(err, "更新批次 %v 回放进度", _batchID)
}

// 批次处理完成, 同时记录批次包含的事件ID
func (this *BatchDao) SetBatchProcessed(_ctx context.Context, _batch *model.ReplicaBatch) error {
	logTable := common.FormatTableName(catalog.REPLICA_SCHEMA, _batch.LogTable)
	err := pgx.BeginFunc(_ctx, this.Instance.Pool, func(tx pgx.Tx) error {
		sqlProcessed := `
UPDATE sch_ninja.t_replica_batch
SET b_processed = true, ts_processed = clock_timestamp()
WHERE i_id_batch = $1
`
		if _, err := tx.Exec(_ctx, sqlProcessed, _batch.IDBatch); err != nil {
			return errors.Annotatef(err, "设置批次 %v 处理完成", _batch.IDBatch)
		}

		sqlEvents := fmt.Sprintf(`
INSERT INTO sch_ninja.t_batch_events (i_id_batch, i_id_event)
SELECT i_id_batch, array_agg(i_id_event ORDER BY i_id_event)
FROM %v
WHERE i_id_batch = $1
GROUP BY i_id_batch
ON CONFLICT (i_id_batch) DO NOTHING
`, logTable)
		if _, err := tx.Exec(_ctx, sqlEvents, _batch.IDBatch); err != nil {
			return errors.Annotatef(err, "记录批次 %v 事件", _batch.IDBatch)
		}

		return nil
	})
	if err != nil {
		return errors.Trace(err)
	}
	logger.M.Infof("%v: 成功. 批次 %v 处理完成", common.CurrLine(), _batch.IDBatch)

	return nil
}

// 批次回放完成, 更新最后回放时间
func (this *BatchDao) MarkReplayed(_ctx context.Context, _batch *model.ReplicaBatch) error {
	err := pgx.BeginFunc(_ctx, this.Instance.Pool, func(tx pgx.Tx) error {
		sql := `
UPDATE sch_ninja.t_replica_batch
SET b_replayed = true, ts_replayed = clock_timestamp()
WHERE i_id_batch = $1
`
		if _, err := tx.Exec(_ctx, sql, _batch.IDBatch); err != nil {
			return errors.Annotatef(err, "设置批次 %v 回放完成", _batch.IDBatch)
		}

		return errors.Trace(updateLastReplayed(_ctx, tx, _batch.IDSource))
	})

	return errors.Trace(err)
}

/* 已经处理的批次中最大的位点, 先比较 binlog 文件序号再比较偏移量
Return:
    没有处理过的批次返回 nil
*/
func (this *BatchDao) MaxProcessedPosition(_ctx context.Context, _sourceID int64) (*model.Position, error) {
	batch := new(model.ReplicaBatch)
	sql := fmt.Sprintf(`
SELECT %v
FROM sch_ninja.t_replica_batch
WHERE i_id_source = $1 AND b_processed
ORDER BY
    coalesce(substring(t_binlog_name FROM '\.([0-9]+)$')::bigint, -1) DESC,
    i_binlog_position DESC
LIMIT 1
`, sqlBatchColumns)
	if err := pgxscan.Get(_ctx, this.Instance.Pool, batch, sql, _sourceID); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, errors.Annotatef(err, "获取数据源 %v 已处理的最大位点", _sourceID)
	}

	return batch.GetPosition(), nil
}

/* 删除超过保留时间的已回放批次和它们的日志
Params:
    _retention: 保留时间, PostgreSQL interval 格式, 如: 7 days
Return:
    删除的批次数
*/
func (this *BatchDao) Prune(_ctx context.Context, _sourceID int64, _retention string) (int64, error) {
	if _, err := this.SweepOrphanLogs(_ctx, _sourceID); err != nil {
		return 0, errors.Trace(err)
	}

	sqlSelect, args, err := psql.Select("i_id_batch").
		From("sch_ninja.t_replica_batch").
		Where(sq.Eq{"i_id_source": _sourceID, "b_replayed": true}).
		Where(sq.Expr("ts_replayed < clock_timestamp() - ?::interval", _retention)).
		OrderBy("i_id_batch").
		ToSql()
	if err != nil {
		return 0, errors.Trace(err)
	}

	var batchIDs []int64
	if err := pgxscan.Select(_ctx, this.Instance.Pool, &batchIDs, sqlSelect, args...); err != nil {
		return 0, errors.Annotatef(err, "获取数据源 %v 需要清理的批次", _sourceID)
	}
	if len(batchIDs) == 0 {
		return 0, nil
	}

	err = pgx.BeginFunc(_ctx, this.Instance.Pool, func(tx pgx.Tx) error {
		sqlLog := `
DELETE FROM sch_ninja.t_log_replica
WHERE i_id_event IN (
    SELECT unnest(i_id_event) FROM sch_ninja.t_batch_events WHERE i_id_batch = ANY($1)
)
`
		if _, err := tx.Exec(_ctx, sqlLog, batchIDs); err != nil {
			return errors.Annotate(err, "删除批次日志")
		}

		// t_batch_events 级联删除
		sqlBatch := `DELETE FROM sch_ninja.t_replica_batch WHERE i_id_batch = ANY($1)`
		if _, err := tx.Exec(_ctx, sqlBatch, batchIDs); err != nil {
			return errors.Annotate(err, "删除批次")
		}

		return nil
	})
	if err != nil {
		return 0, errors.Annotatef(err, "清理数据源 %v 批次", _sourceID)
	}
	logger.M.Infof("%v: 成功. 清理数据源 %v 批次 %v 个, 保留时间: %v", common.CurrLine(), _sourceID, len(batchIDs), _retention)

	return int64(len(batchIDs)), nil
}

/* 删除没有批次记录的日志, 捕获在保存批次之前退出时留下.
只删除批次号小于最后保存批次的日志, 正在写入的批次不受影响
Return:
    删除的日志行数
*/
func (this *BatchDao) SweepOrphanLogs(_ctx context.Context, _sourceID int64) (int64, error) {
	var logTables []string
	sqlTables := `SELECT v_log_table FROM sch_ninja.t_sources WHERE i_id_source = $1`
	if err := this.Instance.Pool.QueryRow(_ctx, sqlTables, _sourceID).Scan(&logTables); err != nil {
		return 0, errors.Annotatef(err, "获取数据源 %v 日志表", _sourceID)
	}

	var swept int64
	for _, logTable := range logTables {
		sql := fmt.Sprintf(`
DELETE FROM %v l
WHERE l.i_id_batch < (SELECT max(b.i_id_batch) FROM sch_ninja.t_replica_batch b WHERE b.i_id_source = $1)
    AND NOT EXISTS (SELECT 1 FROM sch_ninja.t_replica_batch b WHERE b.i_id_batch = l.i_id_batch)
`, common.FormatTableName(catalog.REPLICA_SCHEMA, logTable))
		tag, err := this.Instance.Pool.Exec(_ctx, sql, _sourceID)
		if err != nil {
			return swept, errors.Annotatef(err, "清理日志表 %v", logTable)
		}
		swept += tag.RowsAffected()
	}
	if swept > 0 {
		logger.M.Warnf("%v: 警告. 数据源 %v 删除没有批次的日志 %v 行", common.CurrLine(), _sourceID, swept)
	}

	return swept, nil
}

// 初始化时清除数据源所有批次和日志
func (this *BatchDao) CleanBatchData(_ctx context.Context, _source *model.Source) error {
	err := pgx.BeginFunc(_ctx, this.Instance.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(_ctx, `DELETE FROM sch_ninja.t_replica_batch WHERE i_id_source = $1`, _source.IDSource); err != nil {
			return errors.Annotate(err, "删除批次")
		}
		for _, logTable := range _source.LogTable {
			sql := fmt.Sprintf(`TRUNCATE TABLE %v;`, common.FormatTableName(catalog.REPLICA_SCHEMA, logTable))
			if _, err := tx.Exec(_ctx, sql); err != nil {
				return errors.Annotatef(err, "清空日志表 %v", logTable)
			}
		}

		return nil
	})
	if err != nil {
		return errors.Annotatef(err, "清除数据源 %v 批次数据", _source.Source)
	}
	logger.M.Infof("%v: 成功. 清除数据源 %v 所有批次和日志", common.CurrLine(), _source.Source)

	return nil
}

func (this *BatchDao) GetByID(_ctx context.Context, _batchID int64) (*model.ReplicaBatch, error) {
	batch := new(model.ReplicaBatch)
	sql := fmt.Sprintf(`SELECT %v FROM sch_ninja.t_replica_batch WHERE i_id_batch = $1`, sqlBatchColumns)
	if err := pgxscan.Get(_ctx, this.Instance.Pool, batch, sql, _batchID); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, errors.Annotatef(err, "获取批次 %v", _batchID)
	}

	return batch, nil
}
