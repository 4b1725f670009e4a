package capture

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/daiguadaidai/go-pg-ninja/model"
	"github.com/juju/errors"
)

// COPY 中表示 NULL 的值, 加了引号的 'NULL' 是字符串
const CSV_NULL = "NULL"

const (
	csvQuote     = "'"
	csvDelimiter = ","
)

// 生成 COPY ... WITH (FORMAT csv, NULL 'NULL', QUOTE '''', ESCAPE '''', DELIMITER ',') 的数据
type CsvWriter struct {
	w *bufio.Writer
}

func NewCsvWriter(_w io.Writer) *CsvWriter {
	return &CsvWriter{w: bufio.NewWriter(_w)}
}

/* 写入一行
Params:
    _fields: 字段值, nil 写入 NULL
*/
func (this *CsvWriter) WriteRecord(_fields []*string) error {
	for i, field := range _fields {
		if i > 0 {
			if _, err := this.w.WriteString(csvDelimiter); err != nil {
				return errors.Trace(err)
			}
		}
		value := CSV_NULL
		if field != nil {
			value = quoteField(*field)
		}
		if _, err := this.w.WriteString(value); err != nil {
			return errors.Trace(err)
		}
	}
	_, err := this.w.WriteString("\n")

	return errors.Trace(err)
}

func (this *CsvWriter) Flush() error {
	return errors.Trace(this.w.Flush())
}

func quoteField(_value string) string {
	return csvQuote + strings.Replace(_value, csvQuote, csvQuote+csvQuote, -1) + csvQuote
}

func strPtr(_value string) *string {
	return &_value
}

/* 日志事件转换成 csv 字段, 顺序和 dao.LogColumns 一致
Params:
    _event: 已经编码的日志事件
*/
func logEventFields(_event *model.LogEvent) []*string {
	fields := []*string{
		strPtr(strconv.FormatInt(_event.IDBatch, 10)),
		strPtr(_event.TableName),
		strPtr(_event.SchemaName),
		strPtr(_event.Action),
		strPtr(_event.BinlogName),
		strPtr(strconv.FormatInt(_event.BinlogPosition, 10)),
		nil,
		nil,
		_event.Query,
		nil,
	}
	if _event.After != nil {
		fields[6] = strPtr(string(_event.After))
	}
	if _event.Before != nil {
		fields[7] = strPtr(string(_event.Before))
	}
	if _event.EventTime != nil {
		fields[9] = strPtr(strconv.FormatInt(*_event.EventTime, 10))
	}

	return fields
}
