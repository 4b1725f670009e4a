package setting

import (
	"fmt"
	"sort"

	"github.com/juju/errors"
)

const (
	SOURCE_TYPE_MYSQL = "mysql"
	SOURCE_TYPE_PGSQL = "pgsql"
)

const (
	ON_ERROR_CONTINUE = "continue" // 回放出错的表从复制中移除, 继续回放
	ON_ERROR_EXIT     = "exit"     // 回放出错直接退出
)

// 脱敏方式
const (
	OBFUSCATION_MODE_NORMAL  = "normal"  // 保留前缀, 其余部分使用 sha256
	OBFUSCATION_MODE_DATE    = "date"    // 日期只保留年
	OBFUSCATION_MODE_NUMERIC = "numeric" // 数字置 0
	OBFUSCATION_MODE_SETNULL = "setnull" // 置 NULL
)

const (
	DefaultLockTimeout    = "120s"
	DefaultReplayMaxRows  = 10000
	DefaultBatchRetention = "7 days"
	DefaultCopyWorkers    = 4
	DefaultSleepLoop      = 1
	DefaultOnErrorReplay  = ON_ERROR_CONTINUE
)

// 一个源 schema 对应的两个目标 schema
type SchemaMapping struct {
	Clear     string `json:"clear" toml:"clear"`
	Obfuscate string `json:"obfuscate" toml:"obfuscate"`
}

// 类型重写, OverrideTables 包含 * 表示所有表
type TypeOverride struct {
	OverrideTo     string   `json:"override_to" toml:"override_to"`
	OverrideTables []string `json:"override_tables" toml:"override_tables"`
}

// 一个字段的脱敏规则
type ObfuscationColumn struct {
	Mode          string `json:"mode" toml:"mode"`
	NonhashStart  int    `json:"nonhash_start" toml:"nonhash_start"`
	NonhashLength int    `json:"nonhash_length" toml:"nonhash_length"`
}

// 一个表的脱敏规则 column -> rule
type TableObfuscation map[string]ObfuscationColumn

type SourceConfig struct {
	Type           string                                 `json:"type" toml:"type"`
	MysqlConn      *MysqlConfig                           `json:"mysql_conn" toml:"mysql_conn"`
	PgConn         *PgConfig                              `json:"pg_conn" toml:"pg_conn"`
	SchemaMappings map[string]SchemaMapping               `json:"schema_mappings" toml:"schema_mappings"`
	LimitTables    []string                               `json:"limit_tables" toml:"limit_tables"`
	SkipTables     []string                               `json:"skip_tables" toml:"skip_tables"`
	GrantSelectTo  []string                               `json:"grant_select_to" toml:"grant_select_to"`
	LockTimeout    string                                 `json:"lock_timeout" toml:"lock_timeout"`
	ReplayMaxRows  int                                    `json:"replay_max_rows" toml:"replay_max_rows"`
	OnErrorReplay  string                                 `json:"on_error_replay" toml:"on_error_replay"`
	BatchRetention string                                 `json:"batch_retention" toml:"batch_retention"`
	CopyWorkers    int                                    `json:"copy_workers" toml:"copy_workers"`
	SleepLoop      int                                    `json:"sleep_loop" toml:"sleep_loop"` // 单位: 秒
	TypeOverride   map[string]TypeOverride                `json:"type_override" toml:"type_override"`
	Obfuscation    map[string]map[string]TableObfuscation `json:"obfuscation" toml:"obfuscation"` // schema -> table -> column
}

func (this *SourceConfig) fillDefault() {
	if this.LockTimeout == "" {
		this.LockTimeout = DefaultLockTimeout
	}
	if this.ReplayMaxRows <= 0 {
		this.ReplayMaxRows = DefaultReplayMaxRows
	}
	if this.OnErrorReplay == "" {
		this.OnErrorReplay = DefaultOnErrorReplay
	}
	if this.BatchRetention == "" {
		this.BatchRetention = DefaultBatchRetention
	}
	if this.CopyWorkers <= 0 {
		this.CopyWorkers = DefaultCopyWorkers
	}
	if this.SleepLoop <= 0 {
		this.SleepLoop = DefaultSleepLoop
	}
	if this.MysqlConn != nil {
		this.MysqlConn.fillDefault()
	}
	if this.PgConn != nil {
		this.PgConn.fillDefault()
	}
}

func (this *SourceConfig) check(_name string) error {
	switch this.Type {
	case SOURCE_TYPE_MYSQL:
		if this.MysqlConn == nil {
			return errors.NotValidf("数据源 %v 类型为 mysql, 但是没有配置 mysql_conn", _name)
		}
	case SOURCE_TYPE_PGSQL:
		if this.PgConn == nil {
			return errors.NotValidf("数据源 %v 类型为 pgsql, 但是没有配置 pg_conn", _name)
		}
		if err := this.PgConn.check(); err != nil {
			return errors.Annotatef(err, "数据源 %v", _name)
		}
	default:
		return errors.NotValidf("数据源 %v 类型 %q", _name, this.Type)
	}

	if len(this.SchemaMappings) == 0 {
		return errors.NotValidf("数据源 %v 没有配置 schema_mappings", _name)
	}
	for schema, mapping := range this.SchemaMappings {
		if mapping.Clear == "" || mapping.Obfuscate == "" {
			return errors.NotValidf("数据源 %v schema %v 的 clear/obfuscate 映射", _name, schema)
		}
		if mapping.Clear == mapping.Obfuscate {
			return errors.NotValidf("数据源 %v schema %v 的 clear 和 obfuscate 相同", _name, schema)
		}
	}

	if this.OnErrorReplay != ON_ERROR_CONTINUE && this.OnErrorReplay != ON_ERROR_EXIT {
		return errors.NotValidf("数据源 %v on_error_replay %q", _name, this.OnErrorReplay)
	}

	for schema, tables := range this.Obfuscation {
		for table, columns := range tables {
			for column, rule := range columns {
				switch rule.Mode {
				case OBFUSCATION_MODE_NORMAL, OBFUSCATION_MODE_DATE, OBFUSCATION_MODE_NUMERIC, OBFUSCATION_MODE_SETNULL:
				default:
					return errors.NotValidf("脱敏规则 %v.%v.%v mode %q", schema, table, column, rule.Mode)
				}
			}
		}
	}

	return nil
}

// 获取所有源 schema, 有序
func (this *SourceConfig) GetSchemaList() []string {
	schemas := make([]string, 0, len(this.SchemaMappings))
	for schema := range this.SchemaMappings {
		schemas = append(schemas, schema)
	}
	sort.Strings(schemas)

	return schemas
}

func (this *SourceConfig) ExitOnError() bool {
	return this.OnErrorReplay == ON_ERROR_EXIT
}

func (this *SourceConfig) String() string {
	return fmt.Sprintf("type=%v, schemas=%v", this.Type, this.GetSchemaList())
}
