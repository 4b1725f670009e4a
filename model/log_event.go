package model

import (
	"fmt"
)

// 日志事件类型
const (
	ACTION_INSERT   = "insert"
	ACTION_UPDATE   = "update"
	ACTION_DELETE   = "delete"
	ACTION_DDL      = "ddl"
	ACTION_TRUNCATE = "truncate"
)

// 捕获到的一行变更(或DDL), 写入日志表之前的形式
type RowEvent struct {
	Schema         string                 // 目标 schema
	Table          string                 // 表名
	Action         string                 // insert/update/delete/ddl/truncate
	Before         map[string]interface{} // 变更前镜像
	After          map[string]interface{} // 变更后镜像
	BinlogName     string                 // binlog 文件
	BinlogPosition int64                  // binlog 位点
	EventTime      int64                  // 源库事件时间(unix时间戳)
	Query          string                 // ddl 的目标语句
}

func (this *RowEvent) GetTableKey() string {
	return fmt.Sprintf("%v.%v", this.Schema, this.Table)
}

func (this *RowEvent) GetPosition() *Position {
	return NewPosition(this.BinlogName, this.BinlogPosition)
}

// 日志表中的一行, 回放时读取
type LogEvent struct {
	IDEvent        int64   `db:"i_id_event"`
	IDBatch        int64   `db:"i_id_batch"`
	TableName      string  `db:"v_table_name"`
	SchemaName     string  `db:"v_schema_name"`
	Action         string  `db:"enm_binlog_event"`
	BinlogName     string  `db:"t_binlog_name"`
	BinlogPosition int64   `db:"i_binlog_position"`
	Before         []byte  `db:"jsb_event_before"`
	After          []byte  `db:"jsb_event_after"`
	Query          *string `db:"t_query"`
	EventTime      *int64  `db:"i_my_event_time"`
}
