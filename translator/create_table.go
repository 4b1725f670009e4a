package translator

import (
	"fmt"
	"strings"

	"github.com/cevaris/ordered_map"
	"github.com/daiguadaidai/go-pg-ninja/common"
)

// 创建表需要的语句
type TableDDL struct {
	TypeStatements []string // 枚举/复合类型
	Table          string   // CREATE TABLE
}

func (this *TableDDL) Statements() []string {
	statements := make([]string, 0, len(this.TypeStatements)+1)
	statements = append(statements, this.TypeStatements...)
	statements = append(statements, this.Table)

	return statements
}

// 枚举类型名称 enum_<table[0:20]>_<column[0:20]>
func EnumTypeName(_table string, _column string) string {
	return fmt.Sprintf("enum_%v_%v", common.Prefix(_table, 20), common.Prefix(_column, 20))
}

// 复合类型名称 typ_<table[0:20]>_<column[0:20]>
func CompositeTypeName(_table string, _column string) string {
	return fmt.Sprintf("typ_%v_%v", common.Prefix(_table, 20), common.Prefix(_column, 20))
}

/* 类型不存在时才创建, 已经存在的类型可能被其他表使用
Params:
    _schema: 类型所在的 schema
    _name: 类型名称
    _definition: AS 后面的定义, 例如 ENUM ('a','b')
*/
func CreateTypeIfAbsent(_schema string, _name string, _definition string) string {
	return fmt.Sprintf("DO $pg_ninja$ BEGIN IF NOT EXISTS (SELECT 1 FROM pg_catalog.pg_type t "+
		"JOIN pg_catalog.pg_namespace n ON n.oid = t.typnamespace WHERE n.nspname = %v AND t.typname = %v) "+
		"THEN CREATE TYPE %v AS %v; END IF; END $pg_ninja$;",
		common.QuoteLiteral(_schema), common.QuoteLiteral(_name), common.FormatTableName(_schema, _name), _definition)
}

/* 生成建表语句, 不带索引和约束
Params:
    _dialect: 数据源类型 mysql/pgsql
    _originSchema: 源 schema, 匹配类型重写
    _destSchema: 建表的 schema
    _table: 表名
    _columns: 字段元数据
*/
func (this *Translator) BuildCreateTable(
	_dialect string,
	_originSchema string,
	_destSchema string,
	_table string,
	_columns []*Column,
) *TableDDL {
	ddl := new(TableDDL)
	definitions := make([]string, 0, len(_columns))
	for _, column := range _columns {
		var columnType string
		if _dialect == DIALECT_PGSQL {
			columnType = this.pgColumnType(ddl, _destSchema, _table, column)
		} else {
			columnType = this.mysqlColumnType(ddl, _originSchema, _destSchema, _table, column)
		}

		definition := fmt.Sprintf("%v %v", common.QuoteIdent(column.Name), columnType)
		if column.Default != "" && !strings.HasSuffix(columnType, "serial") && _dialect == DIALECT_PGSQL {
			definition += " DEFAULT " + column.Default
		}
		if column.Nullable {
			definition += " NULL"
		} else {
			definition += " NOT NULL"
		}
		definitions = append(definitions, definition)
	}

	ddl.Table = fmt.Sprintf("CREATE TABLE IF NOT EXISTS %v (%v);",
		common.FormatTableName(_destSchema, _table), strings.Join(definitions, ","))

	return ddl
}

func (this *Translator) mysqlColumnType(_ddl *TableDDL, _originSchema string, _destSchema string, _table string, _column *Column) string {
	pgType := this.Types.GetDataType(_column, _originSchema, _table)
	if pgType == "enum" {
		enumName := EnumTypeName(_table, _column.Name)
		_ddl.TypeStatements = append(_ddl.TypeStatements,
			CreateTypeIfAbsent(_destSchema, enumName, fmt.Sprintf("ENUM (%v)", _column.Dimension)))
		return common.FormatTableName(_destSchema, enumName)
	}

	if _column.AutoIncrement {
		return serialType(pgType)
	}

	return FormatDimension(pgType, _column.Dimension)
}

// PostgreSQL 数据源的类型已经是 format_type 的结果
func (this *Translator) pgColumnType(_ddl *TableDDL, _destSchema string, _table string, _column *Column) string {
	switch _column.Category {
	case CATEGORY_ENUM:
		enumName := EnumTypeName(_table, _column.Name)
		_ddl.TypeStatements = append(_ddl.TypeStatements,
			CreateTypeIfAbsent(_destSchema, enumName, fmt.Sprintf("ENUM (%v)", _column.Elements)))
		return common.FormatTableName(_destSchema, enumName)
	case CATEGORY_COMPOSITE:
		compositeName := CompositeTypeName(_table, _column.Name)
		_ddl.TypeStatements = append(_ddl.TypeStatements,
			CreateTypeIfAbsent(_destSchema, compositeName, fmt.Sprintf("(%v)", _column.Elements)))
		return common.FormatTableName(_destSchema, compositeName)
	}

	if _column.AutoIncrement {
		if _column.DataType == "bigint" {
			return "bigserial"
		}
		return "serial"
	}

	return _column.DataType
}

/* 生成创建索引的语句, 没有主键时使用第一个唯一索引作为主键
Params:
    _destSchema: 建索引的 schema
    _table: 表名
    _indices: 索引元数据
Return:
    主键字段, 索引名称 -> 语句(有序)
*/
func (this *Translator) BuildCreateIndex(_destSchema string, _table string, _indices []*Index) ([]string, *ordered_map.OrderedMap) {
	statements := ordered_map.NewOrderedMap()
	tableName := common.FormatTableName(_destSchema, _table)
	var pkey []string
	var firstUnique []string

	for _, index := range _indices {
		if len(index.Columns) == 0 {
			continue
		}
		columns := common.FormatColumnNameStr(index.Columns)

		switch {
		case index.IsPrimary():
			pkey = index.Columns
			name := fmt.Sprintf("pk_%v_%v_%v", common.Prefix(_table, 10), this.now().Unix(), this.idxSequence.Inc())
			statements.Set(name, fmt.Sprintf("ALTER TABLE %v ADD CONSTRAINT %v PRIMARY KEY (%v);",
				tableName, common.QuoteIdent(name), columns))
		case !index.NonUnique:
			if firstUnique == nil {
				firstUnique = index.Columns
			}
			name := fmt.Sprintf("idx_%v_%v_%v_%v", common.Prefix(index.Name, 10), common.Prefix(_table, 10),
				this.now().Unix(), this.idxSequence.Inc())
			statements.Set(name, fmt.Sprintf("CREATE UNIQUE INDEX %v ON %v (%v);",
				common.QuoteIdent(name), tableName, columns))
		default:
			name := fmt.Sprintf("idx_%v_%v_%v_%v", common.Prefix(index.Name, 10), common.Prefix(_table, 10),
				this.now().Unix(), this.idxSequence.Inc())
			statements.Set(name, fmt.Sprintf("CREATE INDEX %v ON %v (%v);",
				common.QuoteIdent(name), tableName, columns))
		}
	}

	if pkey == nil {
		pkey = firstUnique
	}

	return pkey, statements
}

// 有序的索引语句
func IndexStatements(_statements *ordered_map.OrderedMap) []string {
	result := make([]string, 0, _statements.Len())
	iter := _statements.IterFunc()
	for kv, ok := iter(); ok; kv, ok = iter() {
		result = append(result, kv.Value.(string))
	}

	return result
}
