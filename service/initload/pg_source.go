package initload

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/daiguadaidai/go-pg-ninja/common"
	"github.com/daiguadaidai/go-pg-ninja/gdbc"
	"github.com/daiguadaidai/go-pg-ninja/logger"
	"github.com/daiguadaidai/go-pg-ninja/service/snapshot"
	"github.com/daiguadaidai/go-pg-ninja/setting"
	"github.com/daiguadaidai/go-pg-ninja/translator"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juju/errors"
)

const selectPgTablesSql = `
SELECT table_name::text
FROM information_schema.tables
WHERE table_schema = $1 AND table_type = 'BASE TABLE'
ORDER BY table_name
`

const selectPgColumnsSql = `
SELECT
    att.attname::text AS column_name,
    format_type(att.atttypid, att.atttypmod) AS data_type,
    NOT att.attnotnull AS nullable,
    coalesce(pg_get_expr(def.adbin, def.adrelid), '') AS column_default,
    typ.typtype::text AS type_kind,
    coalesce(
        (SELECT string_agg(quote_literal(enm.enumlabel), ',' ORDER BY enm.enumsortorder)
         FROM pg_catalog.pg_enum enm
         WHERE enm.enumtypid = typ.oid),
        ''
    ) AS enum_labels,
    coalesce(
        (SELECT string_agg(quote_ident(cat.attname) || ' ' || format_type(cat.atttypid, cat.atttypmod), ',' ORDER BY cat.attnum)
         FROM pg_catalog.pg_attribute cat
         WHERE cat.attrelid = typ.typrelid AND cat.attnum > 0 AND NOT cat.attisdropped),
        ''
    ) AS composite_attributes
FROM pg_catalog.pg_attribute att
INNER JOIN pg_catalog.pg_class cls ON cls.oid = att.attrelid
INNER JOIN pg_catalog.pg_namespace nsp ON nsp.oid = cls.relnamespace
INNER JOIN pg_catalog.pg_type typ ON typ.oid = att.atttypid
LEFT JOIN pg_catalog.pg_attrdef def ON def.adrelid = att.attrelid AND def.adnum = att.attnum
WHERE nsp.nspname = $1 AND cls.relname = $2 AND att.attnum > 0 AND NOT att.attisdropped
ORDER BY att.attnum
`

const selectPgIndexesSql = `
SELECT
    idx.relname::text AS index_name,
    ind.indisprimary AS is_primary,
    ind.indisunique AS is_unique,
    array_agg(att.attname::text ORDER BY key.ord) AS column_names
FROM pg_catalog.pg_index ind
INNER JOIN pg_catalog.pg_class tab ON tab.oid = ind.indrelid
INNER JOIN pg_catalog.pg_namespace nsp ON nsp.oid = tab.relnamespace
INNER JOIN pg_catalog.pg_class idx ON idx.oid = ind.indexrelid
CROSS JOIN LATERAL unnest(ind.indkey::int2[]) WITH ORDINALITY AS key(attnum, ord)
INNER JOIN pg_catalog.pg_attribute att ON att.attrelid = tab.oid AND att.attnum = key.attnum
WHERE nsp.nspname = $1 AND tab.relname = $2 AND att.attnum > 0
GROUP BY idx.relname, ind.indisprimary, ind.indisunique
ORDER BY ind.indisprimary DESC, idx.relname
`

type pgColumn struct {
	ColumnName          string `db:"column_name"`
	DataType            string `db:"data_type"`
	Nullable            bool   `db:"nullable"`
	ColumnDefault       string `db:"column_default"`
	TypeKind            string `db:"type_kind"`
	EnumLabels          string `db:"enum_labels"`
	CompositeAttributes string `db:"composite_attributes"`
}

type pgIndex struct {
	IndexName   string   `db:"index_name"`
	IsPrimary   bool     `db:"is_primary"`
	IsUnique    bool     `db:"is_unique"`
	ColumnNames []string `db:"column_names"`
}

// PostgreSQL 数据源, 使用导出的快照拷贝数据
type PgSource struct {
	Config      *setting.PgConfig
	Pool        *pgxpool.Pool
	Coordinator *snapshot.Coordinator
}

func NewPgSource(_ctx context.Context, _config *setting.PgConfig, _applicationName string) (*PgSource, error) {
	pool, err := gdbc.NewPgPool(_ctx, _config, gdbc.SessionOption{ApplicationName: _applicationName})
	if err != nil {
		return nil, errors.Trace(err)
	}

	return &PgSource{
		Config:      _config,
		Pool:        pool,
		Coordinator: snapshot.NewCoordinator(_config, _applicationName),
	}, nil
}

func (this *PgSource) Dialect() string {
	return translator.DIALECT_PGSQL
}

func (this *PgSource) ListTables(_ctx context.Context, _schema string) ([]string, error) {
	var tables []string
	if err := pgxscan.Select(_ctx, this.Pool, &tables, selectPgTablesSql, _schema); err != nil {
		return nil, errors.Annotatef(err, "获取 schema %v 的表", _schema)
	}

	return tables, nil
}

func (this *PgSource) TableMetadata(_ctx context.Context, _schema string, _table string) (*TableMetadata, error) {
	var columns []*pgColumn
	if err := pgxscan.Select(_ctx, this.Pool, &columns, selectPgColumnsSql, _schema, _table); err != nil {
		return nil, errors.Annotatef(err, "获取表 %v 字段", common.GetTableKey(_schema, _table))
	}
	if len(columns) == 0 {
		return nil, errors.NotFoundf("表 %v 的字段", common.GetTableKey(_schema, _table))
	}

	var indexes []*pgIndex
	if err := pgxscan.Select(_ctx, this.Pool, &indexes, selectPgIndexesSql, _schema, _table); err != nil {
		return nil, errors.Annotatef(err, "获取表 %v 索引", common.GetTableKey(_schema, _table))
	}

	metadata := &TableMetadata{
		Columns: make([]*translator.Column, 0, len(columns)),
		Indices: make([]*translator.Index, 0, len(indexes)),
	}
	for _, column := range columns {
		metadata.Columns = append(metadata.Columns, column.toTranslatorColumn())
	}
	for _, index := range indexes {
		name := index.IndexName
		if index.IsPrimary {
			name = translator.PRIMARY_INDEX_NAME
		}
		metadata.Indices = append(metadata.Indices, &translator.Index{
			Name:      name,
			Columns:   index.ColumnNames,
			NonUnique: !index.IsUnique,
		})
	}

	return metadata, nil
}

func (this *pgColumn) toTranslatorColumn() *translator.Column {
	column := &translator.Column{
		Name:     this.ColumnName,
		DataType: this.DataType,
		Nullable: this.Nullable,
		Default:  this.ColumnDefault,
	}
	// serial 的默认值是序列, 目标库重新创建
	if strings.HasPrefix(this.ColumnDefault, "nextval(") {
		column.AutoIncrement = true
		column.Default = ""
	}

	switch this.TypeKind {
	case "e":
		column.Category = translator.CATEGORY_ENUM
		column.Elements = this.EnumLabels
	case "c":
		column.Category = translator.CATEGORY_COMPOSITE
		column.Elements = this.CompositeAttributes
	}

	return column
}

/* 在快照下导出一个表. 每次拷贝使用单独的链接
Params:
    _snapshot: 导出的快照
    _writer: COPY text 格式的输出
*/
func (this *PgSource) CopyTable(
	_ctx context.Context,
	_snapshot SourceSnapshot,
	_schema string,
	_table string,
	_writer io.Writer,
) (int64, error) {
	conn, err := gdbc.NewPgConn(_ctx, this.Config, gdbc.SessionOption{ApplicationName: this.Coordinator.ApplicationName})
	if err != nil {
		return 0, errors.Trace(err)
	}
	defer conn.Close(context.Background())

	tx, err := conn.BeginTx(_ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return 0, errors.Annotate(err, "开启拷贝事务")
	}
	defer tx.Rollback(context.Background())

	if _, err := tx.Exec(_ctx, fmt.Sprintf("SET TRANSACTION SNAPSHOT %v", common.QuoteLiteral(_snapshot.ID()))); err != nil {
		return 0, errors.Annotatef(err, "使用快照 %v", _snapshot.ID())
	}

	sql := fmt.Sprintf("COPY %v TO STDOUT", common.FormatTableName(_schema, _table))
	tag, err := conn.PgConn().CopyTo(_ctx, _writer, sql)
	if err != nil {
		return 0, errors.Annotatef(err, "导出表 %v", common.GetTableKey(_schema, _table))
	}
	logger.M.Debugf("%v: 成功. 导出表 %v, 行数: %v", common.CurrLine(), common.GetTableKey(_schema, _table), tag.RowsAffected())

	return tag.RowsAffected(), nil
}

func (this *PgSource) BeginSnapshot(_ctx context.Context) (SourceSnapshot, error) {
	snap, err := this.Coordinator.BeginSnapshot(_ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}

	return snap, nil
}

func (this *PgSource) Close() error {
	this.Pool.Close()
	return nil
}
