package matemap

import (
	"fmt"
	"strings"

	mysqlsql "github.com/daiguadaidai/go-pg-ninja/sql"
	"github.com/daiguadaidai/go-pg-ninja/translator"
)

type Column struct {
	Name            string // 字段名字
	Type            int    // 字段数据类型
	OrdinalPosition int    // 顺序
	DataType        string // information_schema.columns.data_type
	RawType         string // 数据库查询出的原生类型 column_type

	IsAuto     bool // 是否自增
	IsUnsigned bool // 是否为正数
	IsZeroFill bool // 是否 以0补齐
	IsEnum     bool // 是否是 枚举
	IsSet      bool // 是否是 集合
	IsNullable bool // 是否可以为 NULL

	CharMaxLen       int64  // 字符串长度
	NumericPrecision int64  // decimal 精度
	NumericScale     int64  // decimal 小数位
	Default          string // 默认值, 为空表示没有

	EnumValues string // 枚举的值 'a','b'
}

/* 创建一个行的列
Params:
    _columnName: 字段名称
    _dataType: 数据类型 varchar
    _columnType: 字段类型 varchar(20)
    _extra: 额外信息, 一般用于判断字段是否是自增
    _ordinalPosition: 字段在表中的序号, 从 1 开始
Return:
    Column: 一个字段
*/
func CreateColumn(_columnName string, _dataType string, _columnType string, _extra string, _ordinalPosition int) Column {
	column := Column{}

	column.Name = _columnName
	column.DataType = strings.ToLower(_dataType)
	column.RawType = strings.ToLower(_columnType)
	column.OrdinalPosition = _ordinalPosition
	column.Type = GetType(column.DataType)
	column.IsNullable = true

	// 判断是否是自增
	if strings.Contains(strings.ToLower(_extra), "auto_increment") {
		column.IsAuto = true
	}

	// 是否是正数
	if strings.Contains(column.RawType, "unsigned") {
		column.IsUnsigned = true
	}

	// 是否是 以 0 补齐
	if strings.Contains(column.RawType, "zerofill") {
		column.IsUnsigned = true
		column.IsZeroFill = true
	}

	switch column.Type {
	case TYPE_ENUM:
		// enum('a','b') -> 'a','b', 保留原始的引号
		column.IsEnum = true
		column.EnumValues = strings.TrimSuffix(strings.TrimPrefix(_columnType, "enum("), ")")
	case TYPE_SET:
		column.IsSet = true
	}

	return column
}

// 长度/精度, 只有需要的类型才有
func (this *Column) Dimension() string {
	switch this.Type {
	case TYPE_CHAR, TYPE_VARCHAR:
		if this.CharMaxLen > 0 {
			return fmt.Sprintf("%v", this.CharMaxLen)
		}
	case TYPE_DECIMAL:
		if this.NumericPrecision > 0 {
			return fmt.Sprintf("%v,%v", this.NumericPrecision, this.NumericScale)
		}
	case TYPE_ENUM:
		return this.EnumValues
	}

	return ""
}

// 导出数据时值的转换方式
func (this *Column) CopyKind() int {
	switch this.Type {
	case TYPE_BIT:
		return mysqlsql.KIND_BIT
	case TYPE_BINARY, TYPE_VARBINARY, TYPE_TINYBLOB, TYPE_BLOB, TYPE_MEDIUMBLOB, TYPE_LONGBLOB,
		TYPE_GEOMETRY, TYPE_POINT, TYPE_LINESTRING, TYPE_POLYGON, TYPE_GEOMETRYCOLLECTION,
		TYPE_MULTIPOINT, TYPE_MULTILINESTRING, TYPE_MULTIPOLYGON:
		return mysqlsql.KIND_BINARY
	case TYPE_DATE, TYPE_DATETIME, TYPE_TIMESTAMP:
		return mysqlsql.KIND_DATE
	}

	return mysqlsql.KIND_TEXT
}

// 导出时需要转换的字段使用表达式
func (this *Column) SelectExpr() string {
	name := fmt.Sprintf("`%v`", strings.Replace(this.Name, "`", "``", -1))
	switch this.Type {
	case TYPE_GEOMETRY, TYPE_POINT, TYPE_LINESTRING, TYPE_POLYGON, TYPE_GEOMETRYCOLLECTION,
		TYPE_MULTIPOINT, TYPE_MULTILINESTRING, TYPE_MULTIPOLYGON:
		return fmt.Sprintf("ST_AsWKB(%v)", name)
	}

	return name
}

// 转换成翻译需要的字段元数据
func (this *Column) ToTranslatorColumn() *translator.Column {
	return &translator.Column{
		Name:          this.Name,
		DataType:      this.DataType,
		ColumnType:    this.RawType,
		Dimension:     this.Dimension(),
		Nullable:      this.IsNullable,
		Default:       this.Default,
		AutoIncrement: this.IsAuto,
	}
}
