package translator

import (
	"fmt"
	"strings"

	"github.com/daiguadaidai/go-pg-ninja/setting"
)

// 不认识的类型都转化成 text
const DEFAULT_TYPE = "text"

// MySQL 类型 -> PostgreSQL 类型
var DefaultTypeDictionary = map[string]string{
	"integer":           "integer",
	"mediumint":         "bigint",
	"tinyint":           "integer",
	"smallint":          "integer",
	"int":               "integer",
	"bigint":            "bigint",
	"varchar":           "character varying",
	"character varying": "character varying",
	"text":              "text",
	"char":              "character",
	"datetime":          "timestamp without time zone",
	"date":              "date",
	"time":              "time without time zone",
	"timestamp":         "timestamp without time zone",
	"tinytext":          "text",
	"mediumtext":        "text",
	"longtext":          "text",
	"tinyblob":          "bytea",
	"mediumblob":        "bytea",
	"longblob":          "bytea",
	"blob":              "bytea",
	"binary":            "bytea",
	"varbinary":         "bytea",
	"decimal":           "numeric",
	"double":            "double precision",
	"double precision":  "double precision",
	"float":             "double precision",
	"bit":               "integer",
	"year":              "integer",
	"enum":              "enum",
	"set":               "text",
	"json":              "text",
	"bool":              "boolean",
	"boolean":           "boolean",
	"geometry":          "bytea",
}

// 需要带上长度/精度的类型
var dimensionTypes = map[string]bool{
	"character varying": true,
	"character":         true,
	"numeric":           true,
	"bit":               true,
	"float":             true,
}

// 类型转换, 支持按表重写类型
type TypeMapper struct {
	Dictionary map[string]string
	Overrides  map[string]setting.TypeOverride // key: 源端 column_type
}

func NewTypeMapper(_overrides map[string]setting.TypeOverride) *TypeMapper {
	return &TypeMapper{
		Dictionary: DefaultTypeDictionary,
		Overrides:  _overrides,
	}
}

/* 获取字段在 PostgreSQL 中的类型, 不带长度
Params:
    _column: 字段
    _schema: 源端 schema, 匹配重写的表
    _table: 表名
*/
func (this *TypeMapper) GetDataType(_column *Column, _schema string, _table string) string {
	if override, ok := this.Overrides[_column.ColumnType]; ok && overrideMatch(override, _schema, _table) {
		return override.OverrideTo
	}

	if pgType, ok := this.Dictionary[strings.ToLower(_column.DataType)]; ok {
		return pgType
	}

	return DEFAULT_TYPE
}

// 类型重写的表列表包含 * 或者包含 schema.table
func overrideMatch(_override setting.TypeOverride, _schema string, _table string) bool {
	tableFull := fmt.Sprintf("%v.%v", _schema, _table)
	for _, table := range _override.OverrideTables {
		if table == "*" || table == tableFull {
			return true
		}
	}

	return false
}

/* 给需要的类型加上长度/精度
Params:
    _pgType: 转换后的类型
    _dimension: 长度, 为空不添加
Return:
    character varying + 255 -> character varying(255)
*/
func FormatDimension(_pgType string, _dimension string) string {
	if !dimensionTypes[_pgType] || strings.TrimSpace(_dimension) == "" {
		return _pgType
	}

	return fmt.Sprintf("%v(%v)", _pgType, strings.Replace(_dimension, " ", "", -1))
}

// 自增字段使用 serial
func serialType(_pgType string) string {
	if _pgType == "integer" {
		return "serial"
	}

	return "bigserial"
}
