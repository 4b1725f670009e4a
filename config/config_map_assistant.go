package config

import (
	"fmt"

	"github.com/daiguadaidai/go-pg-ninja/common"
	"github.com/daiguadaidai/go-pg-ninja/setting"
)

// 初始化时使用的临时 schema 名: _<schema>_tmp
func GetLoadingSchemaName(_schema string) string {
	return fmt.Sprintf("_%v_tmp", common.Prefix(_schema, 59))
}

// 交换 schema 时使用的中间名
func GetRenameSchemaName(_schema string) string {
	return common.TruncateName(fmt.Sprintf("_rename_%v", _schema), common.PG_IDENTIFIER_MAX_LEN)
}

// 创建 schema 映射的 Map, 源 schema 的名字为 map 的 key
func MakeSchemaNamesMap(_mappings map[string]setting.SchemaMapping) map[string]*SchemaNames {
	schemaNamesMap := make(map[string]*SchemaNames, len(_mappings))
	for origin, mapping := range _mappings {
		schemaNamesMap[origin] = &SchemaNames{
			Origin:           origin,
			Clear:            mapping.Clear,
			Obfuscate:        mapping.Obfuscate,
			LoadingClear:     GetLoadingSchemaName(mapping.Clear),
			LoadingObfuscate: GetLoadingSchemaName(mapping.Obfuscate),
		}
	}

	return schemaNamesMap
}

// 目标 clear schema 为 key
func MakeClearSchemaMap(_schemaNamesMap map[string]*SchemaNames) map[string]*SchemaNames {
	clearSchemaMap := make(map[string]*SchemaNames, len(_schemaNamesMap))
	for _, names := range _schemaNamesMap {
		clearSchemaMap[names.Clear] = names
	}

	return clearSchemaMap
}

/* 将 schema.table 列表转化为 schema -> table 的 Map
Params:
    _tables: [schema.table, ...]
*/
func MakeTableFilterMap(_tables []string) map[string]map[string]bool {
	filterMap := make(map[string]map[string]bool)
	for _, key := range _tables {
		schema, table := common.SplitTableKey(key)
		if schema == "" {
			continue
		}
		if _, ok := filterMap[schema]; !ok {
			filterMap[schema] = make(map[string]bool)
		}
		filterMap[schema][table] = true
	}

	return filterMap
}
