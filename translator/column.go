package translator

import (
	"fmt"
	"strings"
)

// 数据源类型
const (
	DIALECT_MYSQL = "mysql"
	DIALECT_PGSQL = "pgsql"
)

// PostgreSQL 数据源中需要单独创建类型的字段
const (
	CATEGORY_ENUM      = "enum"
	CATEGORY_COMPOSITE = "composite"
)

// 索引名称为 PRIMARY 的是主键
const PRIMARY_INDEX_NAME = "PRIMARY"

// 源端字段元数据, 来自 information_schema 或者 DDL 解析
type Column struct {
	Name          string
	DataType      string // mysql: data_type(varchar), pgsql: format_type 的结果
	ColumnType    string // mysql: column_type(tinyint(1) unsigned), 类型重写使用
	Dimension     string // 255 / 10,2 / 'a','b'
	Nullable      bool
	Default       string // 默认值表达式, 空表示没有默认值
	AutoIncrement bool   // mysql auto_increment 或者 pgsql serial
	Category      string // pgsql: enum/composite
	Elements      string // pgsql: 枚举值 'a','b' 或者复合类型的属性 "a" integer,"b" text
}

// 源端索引元数据
type Index struct {
	Name      string
	Columns   []string
	NonUnique bool
}

func (this *Index) IsPrimary() bool {
	return strings.EqualFold(this.Name, PRIMARY_INDEX_NAME)
}

/* 获取枚举的值
Return:
    'a','b' -> [a, b]
*/
func (this *Column) EnumList() []string {
	values := make([]string, 0, 4)
	for _, item := range splitTopLevel(this.Dimension) {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if strings.HasPrefix(item, "'") && strings.HasSuffix(item, "'") && len(item) >= 2 {
			item = strings.Replace(item[1:len(item)-1], "''", "'", -1)
		}
		values = append(values, item)
	}

	return values
}

func (this *Column) String() string {
	return fmt.Sprintf("%v %v(%v)", this.Name, this.DataType, this.Dimension)
}

// 按逗号切分, 忽略引号中的逗号
func splitTopLevel(_s string) []string {
	items := make([]string, 0, 4)
	inQuote := false
	start := 0
	runes := []rune(_s)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '\'':
			if inQuote && i+1 < len(runes) && runes[i+1] == '\'' {
				i++
				continue
			}
			inQuote = !inQuote
		case ',':
			if !inQuote {
				items = append(items, string(runes[start:i]))
				start = i + 1
			}
		}
	}
	items = append(items, string(runes[start:]))

	return items
}
