package model

import (
	"database/sql"
	"time"
)

// 回放过程中出现的错误
type ErrorLog struct {
	IDLog        int64          `gorm:"column:i_id_log;primary_key" db:"i_id_log"`
	IDSource     int64          `gorm:"column:i_id_source" db:"i_id_source"`
	IDBatch      int64          `gorm:"column:i_id_batch" db:"i_id_batch"`
	SchemaName   string         `gorm:"column:v_schema_name" db:"v_schema_name"`
	TableName_   string         `gorm:"column:v_table_name" db:"v_table_name"`
	ErrorAt      time.Time      `gorm:"column:ts_error;default:now()" db:"ts_error"`
	SQL          sql.NullString `gorm:"column:t_sql" db:"t_sql"`
	ErrorMessage string         `gorm:"column:t_error_message" db:"t_error_message"`
	Source       string         `gorm:"-" db:"t_source"` // 查询时关联出来的数据源名称
}

func (ErrorLog) TableName() string {
	return "sch_ninja.t_error_log"
}

// 无法写入日志表的行
type DiscardedRow struct {
	IDRow      int64     `gorm:"column:i_id_row;primary_key"`
	IDBatch    int64     `gorm:"column:i_id_batch"`
	SchemaName string    `gorm:"column:v_schema_name"`
	TableName_ string    `gorm:"column:v_table_name"`
	DiscardAt  time.Time `gorm:"column:ts_discard;default:now()"`
	RowData    string    `gorm:"column:t_row_data"`
}

func (DiscardedRow) TableName() string {
	return "sch_ninja.t_discarded_rows"
}
