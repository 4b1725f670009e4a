package model

import (
	"database/sql"
	"time"
)

// 复制批次, 标记位只能从 false 变为 true
type ReplicaBatch struct {
	IDBatch        int64        `db:"i_id_batch"`
	IDSource       int64        `db:"i_id_source"`
	BinlogName     string       `db:"t_binlog_name"`
	BinlogPosition int64        `db:"i_binlog_position"`
	Started        bool         `db:"b_started"`
	Processed      bool         `db:"b_processed"`
	Replayed       bool         `db:"b_replayed"`
	CreatedAt      time.Time    `db:"ts_created"`
	ProcessedAt    sql.NullTime `db:"ts_processed"`
	ReplayedAt     sql.NullTime `db:"ts_replayed"`
	LogTable       string       `db:"v_log_table"`  // 该批次事件所在的日志表
	LastEvent      int64        `db:"i_last_event"` // 已经回放到的事件ID
}

func (this *ReplicaBatch) GetPosition() *Position {
	return NewPosition(this.BinlogName, this.BinlogPosition)
}
