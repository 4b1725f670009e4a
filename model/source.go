package model

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/juju/errors"
)

// 数据源状态
const (
	SOURCE_STATUS_INITIALISING = "initialising"
	SOURCE_STATUS_INITIALISED  = "initialised"
	SOURCE_STATUS_RUNNING      = "running"
	SOURCE_STATUS_STOPPED      = "stopped"
	SOURCE_STATUS_ERROR        = "error"
)

type Source struct {
	IDSource       int64          `gorm:"column:i_id_source;primary_key" db:"i_id_source"`
	Source         string         `gorm:"column:t_source" db:"t_source"`                       // 数据源名称
	SchemaMappings string         `gorm:"column:jsb_schema_mappings" db:"jsb_schema_mappings"` // {"origin": {"clear": "...", "obfuscate": "..."}}
	Status         string         `gorm:"column:enm_status" db:"enm_status"`                   // 状态
	Consistent     bool           `gorm:"column:b_consistent" db:"b_consistent"`               // 是否已经一致
	BinlogName     sql.NullString `gorm:"column:t_binlog_name" db:"t_binlog_name"`             // 高水位 binlog 文件
	BinlogPosition sql.NullInt64  `gorm:"column:i_binlog_position" db:"i_binlog_position"`     // 高水位 binlog 位点
	LogTable       []string       `gorm:"-" db:"v_log_table"`                                  // 两张轮换的日志表, 第一个为当前写入的表
	CreatedAt      time.Time      `gorm:"column:ts_created;default:now()" db:"ts_created"`     // 创建时间
}

func (Source) TableName() string {
	return "sch_ninja.t_sources"
}

/* 解析 jsb_schema_mappings
Return:
    map{"origin": SchemaMapping{Clear, Obfuscate}}
*/
func (this *Source) GetSchemaMappings() (map[string]SchemaMapping, error) {
	mappings := make(map[string]SchemaMapping)
	if this.SchemaMappings == "" {
		return mappings, nil
	}

	if err := json.Unmarshal([]byte(this.SchemaMappings), &mappings); err != nil {
		return nil, errors.Annotatef(err, "解析数据源 %v 的 schema mappings", this.Source)
	}

	return mappings, nil
}

// 获取高水位, 没有高水位返回 nil
func (this *Source) GetHighWatermark() *Position {
	if !this.BinlogName.Valid || !this.BinlogPosition.Valid {
		return nil
	}

	return NewPosition(this.BinlogName.String, this.BinlogPosition.Int64)
}

func (this *Source) String() string {
	return fmt.Sprintf("%v(%v) status: %v, consistent: %v", this.Source, this.IDSource, this.Status, this.Consistent)
}

// 保存在 jsb_schema_mappings 中的映射关系
type SchemaMapping struct {
	Clear     string `json:"clear"`
	Obfuscate string `json:"obfuscate"`
}
