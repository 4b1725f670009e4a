package config

import (
	"fmt"
	"sort"

	"github.com/daiguadaidai/go-pg-ninja/model"
	"github.com/daiguadaidai/go-pg-ninja/setting"
)

// 一个源 schema 在目标库中对应的 schema
type SchemaNames struct {
	Origin           string
	Clear            string
	Obfuscate        string
	LoadingClear     string
	LoadingObfuscate string
}

func (this *SchemaNames) String() string {
	return fmt.Sprintf("%v -> clear: %v, obfuscate: %v, loading: %v/%v",
		this.Origin, this.Clear, this.Obfuscate, this.LoadingClear, this.LoadingObfuscate)
}

/* 一个数据源的上下文, 每个命令创建一次, 之后只读.
需要修改的时候复制一份新的
*/
type SourceContext struct {
	Name     string
	SourceID int64
	Config   *setting.SourceConfig

	SchemaNamesMap map[string]*SchemaNames // key: 源 schema
	ClearSchemaMap map[string]*SchemaNames // key: 目标 clear schema
	LimitTableMap  map[string]map[string]bool
	SkipTableMap   map[string]map[string]bool
}

/* 通过配置创建数据源上下文
Params:
    _name: 数据源名称
    _config: 数据源配置, 已经检测过
*/
func NewSourceContext(_name string, _config *setting.SourceConfig) *SourceContext {
	schemaNamesMap := MakeSchemaNamesMap(_config.SchemaMappings)

	return &SourceContext{
		Name:           _name,
		Config:         _config,
		SchemaNamesMap: schemaNamesMap,
		ClearSchemaMap: MakeClearSchemaMap(schemaNamesMap),
		LimitTableMap:  MakeTableFilterMap(_config.LimitTables),
		SkipTableMap:   MakeTableFilterMap(_config.SkipTables),
	}
}

// 复制一份上下文并设置数据源ID
func (this *SourceContext) WithSourceID(_sourceID int64) *SourceContext {
	ctx := *this
	ctx.SourceID = _sourceID

	return &ctx
}

// 源 schema, 有序
func (this *SourceContext) GetOriginSchemas() []string {
	schemas := make([]string, 0, len(this.SchemaNamesMap))
	for schema := range this.SchemaNamesMap {
		schemas = append(schemas, schema)
	}
	sort.Strings(schemas)

	return schemas
}

func (this *SourceContext) GetSchemaNames(_origin string) (*SchemaNames, bool) {
	names, ok := this.SchemaNamesMap[_origin]
	return names, ok
}

// 通过目标 clear schema 获取映射
func (this *SourceContext) GetSchemaNamesByClear(_clear string) (*SchemaNames, bool) {
	names, ok := this.ClearSchemaMap[_clear]
	return names, ok
}

// 保存到复制元数据中的 schema 映射
func (this *SourceContext) GetSchemaMappings() map[string]model.SchemaMapping {
	mappings := make(map[string]model.SchemaMapping, len(this.SchemaNamesMap))
	for origin, names := range this.SchemaNamesMap {
		mappings[origin] = model.SchemaMapping{Clear: names.Clear, Obfuscate: names.Obfuscate}
	}

	return mappings
}

/* 按照 limit_tables 和 skip_tables 过滤表
Params:
    _schema: 源 schema
    _tables: 源 schema 中的表
*/
func (this *SourceContext) FilterTables(_schema string, _tables []string) []string {
	tables := make([]string, 0, len(_tables))
	for _, table := range _tables {
		if this.IsTableInScope(_schema, table) {
			tables = append(tables, table)
		}
	}

	return tables
}

/* 表是否需要复制. schema 不在映射中不复制; schema 配置了 limit_tables 时只复制列出的表;
在 skip_tables 中的表不复制
*/
func (this *SourceContext) IsTableInScope(_schema string, _table string) bool {
	if _, ok := this.SchemaNamesMap[_schema]; !ok {
		return false
	}
	if limits, ok := this.LimitTableMap[_schema]; ok && len(limits) > 0 && !limits[_table] {
		return false
	}
	if skips, ok := this.SkipTableMap[_schema]; ok && skips[_table] {
		return false
	}

	return true
}

/* 获取表的脱敏规则
Return:
    没有规则返回 nil
*/
func (this *SourceContext) GetObfuscation(_origin string, _table string) setting.TableObfuscation {
	tables, ok := this.Config.Obfuscation[_origin]
	if !ok {
		return nil
	}

	return tables[_table]
}

func (this *SourceContext) String() string {
	return fmt.Sprintf("%v(%v) type: %v, schemas: %v", this.Name, this.SourceID, this.Config.Type, this.GetOriginSchemas())
}
