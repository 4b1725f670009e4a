package dao

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/juju/errors"
)

// 事务和链接池都可以执行
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// 数据源最后接收/回放时间, get_status 用来计算延迟
func insertSourceTimings(_ctx context.Context, _db execer, _sourceID int64) error {
	statements := []string{
		`INSERT INTO sch_ninja.t_last_received (i_id_source) VALUES ($1) ON CONFLICT DO NOTHING`,
		`INSERT INTO sch_ninja.t_last_replayed (i_id_source) VALUES ($1) ON CONFLICT DO NOTHING`,
	}
	for _, statement := range statements {
		if _, err := _db.Exec(_ctx, statement, _sourceID); err != nil {
			return errors.Annotatef(err, "初始化数据源 %v 接收/回放时间", _sourceID)
		}
	}

	return nil
}

/* 更新最后接收时间
Params:
    _eventTime: 最后一个事件在源库的时间(unix时间戳), 0 表示使用当前时间
*/
func updateLastReceived(_ctx context.Context, _tx pgx.Tx, _sourceID int64, _eventTime int64) error {
	sql := `
UPDATE sch_ninja.t_last_received
SET ts_last_received = CASE WHEN $2::bigint > 0 THEN to_timestamp($2::bigint) ELSE clock_timestamp() END
WHERE i_id_source = $1
`
	_, err := _tx.Exec(_ctx, sql, _sourceID, _eventTime)

	return errors.Annotatef(err, "更新数据源 %v 最后接收时间", _sourceID)
}

func updateLastReplayed(_ctx context.Context, _tx pgx.Tx, _sourceID int64) error {
	sql := `UPDATE sch_ninja.t_last_replayed SET ts_last_replayed = clock_timestamp() WHERE i_id_source = $1`
	_, err := _tx.Exec(_ctx, sql, _sourceID)

	return errors.Annotatef(err, "更新数据源 %v 最后回放时间", _sourceID)
}
