package capture

import (
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/juju/errors"
	"github.com/shopspring/decimal"
)

const TIME_LAYOUT = "2006-01-02 15:04:05.999999"

// MySQL 的零值日期, PostgreSQL 不能保存
const zeroDatePrefix = "0000-00-00"

/* 行数据编码成 json, 时间/decimal/二进制/set 先转成字符串
Params:
    _row: 字段名 -> 值
Return:
    行为 nil 返回 nil
*/
func EncodeRow(_row map[string]interface{}) ([]byte, error) {
	if _row == nil {
		return nil, nil
	}

	normalized := make(map[string]interface{}, len(_row))
	for column, value := range _row {
		normalized[column] = normalizeValue(value)
	}

	data, err := json.Marshal(normalized)
	if err != nil {
		return nil, errors.Annotate(err, "行数据编码 json")
	}

	return data, nil
}

func normalizeValue(_value interface{}) interface{} {
	switch value := _value.(type) {
	case nil:
		return nil
	case time.Time:
		return value.Format(TIME_LAYOUT)
	case *time.Time:
		if value == nil {
			return nil
		}
		return value.Format(TIME_LAYOUT)
	case decimal.Decimal:
		return value.String()
	case []byte:
		return bytesToString(value)
	case []string:
		return strings.Join(value, ",")
	case string:
		if strings.HasPrefix(value, zeroDatePrefix) {
			return nil
		}
		return value
	}

	return _value
}

// 不是合法 utf8 的二进制使用 PostgreSQL bytea 的 hex 格式
func bytesToString(_data []byte) string {
	if utf8.Valid(_data) {
		return string(_data)
	}

	return `\x` + hex.EncodeToString(_data)
}

/* 清除 json 中的 \x00. 编码后的 \u0000 和原始的 0 字节都去掉
Params:
    _data: 编码后的 json
*/
func sanitizeJSON(_data []byte) []byte {
	if _data == nil {
		return nil
	}
	cleaned := strings.Replace(string(_data), `\u0000`, "", -1)
	cleaned = strings.Replace(cleaned, "\x00", "", -1)

	return []byte(cleaned)
}
