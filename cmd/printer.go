package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/daiguadaidai/go-pg-ninja/model"
)

var tableStatusNames = map[int]string{
	0: "不复制的表",
	1: "复制的表",
	2: "所有表",
}

func newTabWriter(_w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(_w, 0, 4, 2, ' ', 0)
}

// 打印数据源状态, 指定数据源时同时打印 schema 映射和表统计
func printStatus(_w io.Writer, _status *model.ReplicaStatus) error {
	tw := newTabWriter(_w)
	fmt.Fprintln(tw, "Source id\tSource name\tStatus\tConsistent\tRead lag\tLast read\tReplay lag\tLast replay")
	for _, source := range _status.Sources {
		fmt.Fprintf(tw, "%v\t%v\t%v\t%v\t%v\t%v\t%v\t%v\n", source.IDSource, source.Source, source.Status,
			source.ConsistentFlag, source.ReceiveLag, source.LastReceived, source.ReplayLag, source.LastReplayed)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(_status.SchemaMappings) > 0 {
		fmt.Fprintln(_w)
		tw = newTabWriter(_w)
		fmt.Fprintln(tw, "Origin schema\tDestination schema\tObfuscated schema")
		for _, mapping := range _status.SchemaMappings {
			fmt.Fprintf(tw, "%v\t%v\t%v\n", mapping.OriginSchema, mapping.DestinationSchema, mapping.ObfuscatedSchema)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	for _, table := range _status.Tables {
		fmt.Fprintf(_w, "\n%v: %v\n", tableStatusNames[table.Order], table.Count)
		if len(table.Tables) > 0 {
			fmt.Fprintln(_w, strings.Join(table.Tables, "\n"))
		}
	}

	return nil
}

// 打印还没有一致的表和水位
func printInconsistentTables(_w io.Writer, _tables map[string]*model.Position) error {
	if len(_tables) == 0 {
		return nil
	}

	keys := make([]string, 0, len(_tables))
	for key := range _tables {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	fmt.Fprintln(_w)
	tw := newTabWriter(_w)
	fmt.Fprintln(tw, "Inconsistent table\tWatermark")
	for _, key := range keys {
		watermark := "N/A"
		if _tables[key] != nil {
			watermark = _tables[key].String()
		}
		fmt.Fprintf(tw, "%v\t%v\n", key, watermark)
	}

	return tw.Flush()
}

func printErrors(_w io.Writer, _errorLogs []*model.ErrorLog) error {
	tw := newTabWriter(_w)
	fmt.Fprintln(tw, "Log id\tSource name\tId batch\tTable\tError time\tError")
	for _, errorLog := range _errorLogs {
		fmt.Fprintf(tw, "%v\t%v\t%v\t%v.%v\t%v\t%v\n", errorLog.IDLog, errorLog.Source, errorLog.IDBatch,
			errorLog.SchemaName, errorLog.TableName_, errorLog.ErrorAt.Format("2006-01-02 15:04:05"), errorLog.ErrorMessage)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	// 只查看一条错误时打印 SQL
	if len(_errorLogs) == 1 && _errorLogs[0].SQL.Valid {
		fmt.Fprintf(_w, "\nSQL:\n%v\n", _errorLogs[0].SQL.String)
	}

	return nil
}
