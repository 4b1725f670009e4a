package model

import (
	"database/sql"
)

// 需要复制的表
type ReplicaTable struct {
	IDTable        int64          `gorm:"column:i_id_table;primary_key" db:"i_id_table"`
	IDSource       int64          `gorm:"column:i_id_source" db:"i_id_source"`
	TableName_     string         `gorm:"column:v_table_name" db:"v_table_name"`
	SchemaName     string         `gorm:"column:v_schema_name" db:"v_schema_name"`
	TablePkey      []string       `gorm:"-" db:"v_table_pkey"`                             // 主键字段, 为空不能复制
	BinlogName     sql.NullString `gorm:"column:t_binlog_name" db:"t_binlog_name"`         // 表的水位, 不为空表示还没有一致
	BinlogPosition sql.NullInt64  `gorm:"column:i_binlog_position" db:"i_binlog_position"` // 表的水位位点
	ReplicaEnabled bool           `gorm:"column:b_replica_enabled" db:"b_replica_enabled"`
}

func (ReplicaTable) TableName() string {
	return "sch_ninja.t_replica_tables"
}

// 获取表的水位, 没有水位返回 nil
func (this *ReplicaTable) GetWatermark() *Position {
	if !this.BinlogName.Valid || !this.BinlogPosition.Valid {
		return nil
	}

	return NewPosition(this.BinlogName.String, this.BinlogPosition.Int64)
}
