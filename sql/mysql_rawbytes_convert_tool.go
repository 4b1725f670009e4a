package sql

import (
	"database/sql"
	"encoding/hex"
	"strconv"
	"strings"
)

// 导出到 PostgreSQL 时值的转换方式
const (
	KIND_TEXT   = iota // 原样输出
	KIND_BIT           // bit(n) 大端字节 -> 整数
	KIND_BINARY        // 二进制 -> bytea 十六进制
	KIND_DATE          // 日期, 0000-00-00 转为 NULL
)

// COPY text 格式的 NULL
const COPY_NULL = `\N`

var copyTextReplacer = strings.NewReplacer(
	`\`, `\\`,
	"\t", `\t`,
	"\n", `\n`,
	"\r", `\r`,
	"\x00", "",
)

/* MySQL 原生值转成 COPY text 格式
Params:
    _b: 原生值, nil 表示 NULL
    _kind: 转换方式
*/
func RawBytes2CopyText(_b sql.RawBytes, _kind int) string {
	if _b == nil {
		return COPY_NULL
	}

	switch _kind {
	case KIND_BIT:
		return strconv.FormatUint(RawBytes2BitUint64(_b), 10)
	case KIND_BINARY:
		return `\\x` + hex.EncodeToString(_b)
	case KIND_DATE:
		if strings.HasPrefix(string(_b), "0000-00-00") {
			return COPY_NULL
		}
	}

	return copyTextReplacer.Replace(string(_b))
}

// bit 字段的值是大端字节
func RawBytes2BitUint64(_b sql.RawBytes) uint64 {
	var value uint64
	for _, c := range _b {
		value = value<<8 | uint64(c)
	}

	return value
}
