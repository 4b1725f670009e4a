package model

import (
	"time"
)

// 初始化时暂存的索引定义, 建完索引后清空
type IndexDefinition struct {
	IDDef     int64     `gorm:"column:i_id_def;primary_key" db:"i_id_def"`
	IDSource  int64     `gorm:"column:i_id_source" db:"i_id_source"`
	Schema    string    `gorm:"column:v_schema" db:"v_schema"`
	Table     string    `gorm:"column:v_table" db:"v_table"`
	Index     string    `gorm:"column:v_index" db:"v_index"`
	Create    string    `gorm:"column:t_create" db:"t_create"`
	CreatedAt time.Time `gorm:"column:ts_created;default:now()" db:"ts_created"`
}

func (IndexDefinition) TableName() string {
	return "sch_ninja.t_index_def"
}
