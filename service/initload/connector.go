package initload

import (
	"context"
	"io"

	"github.com/daiguadaidai/go-pg-ninja/model"
	"github.com/daiguadaidai/go-pg-ninja/translator"
)

// 初始化使用的快照, 拷贝结束之后必须 Release
type SourceSnapshot interface {
	ID() string
	HighWatermark() *model.Position // PostgreSQL 数据源为 nil
	Release()
	Wait() error
}

// 表的字段和索引
type TableMetadata struct {
	Columns []*translator.Column
	Indices []*translator.Index
}

// 数据源, 提供元数据和快照下的数据
type SourceConnector interface {
	// 数据源类型 mysql/pgsql, 建表时选择类型映射
	Dialect() string
	ListTables(_ctx context.Context, _schema string) ([]string, error)
	TableMetadata(_ctx context.Context, _schema string, _table string) (*TableMetadata, error)
	// 快照下导出表数据, PostgreSQL COPY text 格式
	CopyTable(_ctx context.Context, _snapshot SourceSnapshot, _schema string, _table string, _writer io.Writer) (int64, error)
	BeginSnapshot(_ctx context.Context) (SourceSnapshot, error)
	Close() error
}
