package common

import (
	"fmt"
	"strings"
)

// PostgreSQL 标识符最大长度
const PG_IDENTIFIER_MAX_LEN = 63

/* 将标识符格式化为双引号的模式  aaa -> "aaa"
Params:
    _name: 需要格式化的标识符
*/
func QuoteIdent(_name string) string {
	return fmt.Sprintf(`"%v"`, strings.Replace(_name, `"`, `""`, -1))
}

/* 格式化带双引号的表名
schema table -> "schema"."table"
Params:
    _schemaName: schema
    _tableName: 表名
*/
func FormatTableName(_schemaName string, _tableName string) string {
	return fmt.Sprintf("%v.%v", QuoteIdent(_schemaName), QuoteIdent(_tableName))
}

/* 通过多个列名, 创建带双引号的列字符串
[a, b, c] -> "a","b","c"
Params:
    _columnNames: 列名
*/
func FormatColumnNameStr(_columnNames []string) string {
	quoted := make([]string, 0, len(_columnNames))
	for _, columnName := range _columnNames {
		quoted = append(quoted, QuoteIdent(columnName))
	}

	return strings.Join(quoted, ",")
}

// 字符串常量 O'Neil -> 'O''Neil'
func QuoteLiteral(_value string) string {
	return fmt.Sprintf("'%v'", strings.Replace(_value, "'", "''", -1))
}

// 按字节截断名字, 不截断多字节字符
func TruncateName(_name string, _maxLen int) string {
	if len(_name) <= _maxLen {
		return _name
	}

	cut := _maxLen
	for cut > 0 && !isRuneStart(_name[cut]) {
		cut--
	}

	return _name[:cut]
}

// 前缀截断, 与 python 的 s[0:n] 一致, 按字符计算
func Prefix(_name string, _n int) string {
	runes := []rune(_name)
	if len(runes) <= _n {
		return _name
	}

	return string(runes[:_n])
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

/* 获取 schema.table 格式的key, 用于 map 中
Params:
    _schemaName: schema
    _tableName: 表名
*/
func GetTableKey(_schemaName string, _tableName string) string {
	return fmt.Sprintf("%v.%v", _schemaName, _tableName)
}

// schema.table -> schema, table
func SplitTableKey(_key string) (string, string) {
	items := strings.SplitN(_key, ".", 2)
	if len(items) != 2 {
		return "", _key
	}

	return items[0], items[1]
}

// 清除 \x00 字符, PostgreSQL 的 text 不允许
func StripNullBytes(_value string) string {
	return strings.Replace(_value, "\x00", "", -1)
}
