package initload

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/daiguadaidai/go-pg-ninja/common"
	"github.com/daiguadaidai/go-pg-ninja/config"
	"github.com/daiguadaidai/go-pg-ninja/gdbc"
	"github.com/daiguadaidai/go-pg-ninja/logger"
	"github.com/daiguadaidai/go-pg-ninja/setting"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/juju/errors"
)

// 在 loading-obfuscate schema 中生成表的脱敏副本
type Masker interface {
	Prepare(_ctx context.Context) error
	// 按规则生成脱敏的表, _schema 为源 schema
	MaskTable(_ctx context.Context, _schema string, _table string, _mapping setting.TableObfuscation) error
	// 没有脱敏规则的表使用视图
	CreateClearView(_ctx context.Context, _schema string, _table string) error
}

const selectLoadingIndexesSql = `
SELECT
    ind.indisprimary AS is_primary,
    ind.indisunique AS is_unique,
    array_agg(att.attname::text ORDER BY key.ord) AS column_names
FROM pg_catalog.pg_index ind
INNER JOIN pg_catalog.pg_class tab ON tab.oid = ind.indrelid
INNER JOIN pg_catalog.pg_namespace nsp ON nsp.oid = tab.relnamespace
CROSS JOIN LATERAL unnest(ind.indkey::int2[]) WITH ORDINALITY AS key(attnum, ord)
INNER JOIN pg_catalog.pg_attribute att ON att.attrelid = tab.oid AND att.attnum = key.attnum
WHERE nsp.nspname = $1 AND tab.relname = $2 AND att.attnum > 0
GROUP BY ind.indexrelid, ind.indisprimary, ind.indisunique
ORDER BY ind.indisprimary DESC, ind.indexrelid
`

const selectLoadingColumnsSql = `
SELECT column_name::text
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position
`

type maskIndex struct {
	IsPrimary   bool     `db:"is_primary"`
	IsUnique    bool     `db:"is_unique"`
	ColumnNames []string `db:"column_names"`
}

// 在目标库中使用 pgcrypto 脱敏
type PgMasker struct {
	Instance *gdbc.PgInstance
	Context  *config.SourceContext
}

func NewPgMasker(_instance *gdbc.PgInstance, _context *config.SourceContext) *PgMasker {
	return &PgMasker{
		Instance: _instance,
		Context:  _context,
	}
}

func (this *PgMasker) Prepare(_ctx context.Context) error {
	if _, err := this.Instance.Pool.Exec(_ctx, "CREATE EXTENSION IF NOT EXISTS pgcrypto;"); err != nil {
		return errors.Annotate(err, "创建 pgcrypto 扩展")
	}

	return nil
}

func (this *PgMasker) schemaNames(_schema string) (*config.SchemaNames, error) {
	names, ok := this.Context.GetSchemaNames(_schema)
	if !ok {
		return nil, errors.NotFoundf("schema %v 的映射", _schema)
	}

	return names, nil
}

/* 创建脱敏表并拷贝数据, 脱敏字段改为可以为空, normal 方式的字段改为 text.
不包含脱敏字段的索引重新创建
*/
func (this *PgMasker) MaskTable(_ctx context.Context, _schema string, _table string, _mapping setting.TableObfuscation) error {
	names, err := this.schemaNames(_schema)
	if err != nil {
		return errors.Trace(err)
	}
	clearTable := common.FormatTableName(names.LoadingClear, _table)
	maskedTable := common.FormatTableName(names.LoadingObfuscate, _table)

	var columns []string
	if err := pgxscan.Select(_ctx, this.Instance.Pool, &columns, selectLoadingColumnsSql, names.LoadingClear, _table); err != nil {
		return errors.Annotatef(err, "获取表 %v 字段", clearTable)
	}
	var indexes []*maskIndex
	if err := pgxscan.Select(_ctx, this.Instance.Pool, &indexes, selectLoadingIndexesSql, names.LoadingClear, _table); err != nil {
		return errors.Annotatef(err, "获取表 %v 索引", clearTable)
	}

	statements := []string{fmt.Sprintf("CREATE TABLE %v (LIKE %v INCLUDING DEFAULTS);", maskedTable, clearTable)}
	statements = append(statements, alterMaskedColumns(maskedTable, _mapping)...)
	statements = append(statements, fmt.Sprintf("INSERT INTO %v SELECT %v FROM %v;",
		maskedTable, strings.Join(maskExpressions(columns, _mapping), ","), clearTable))
	for _, statement := range statements {
		if _, err := this.Instance.Pool.Exec(_ctx, statement); err != nil {
			return errors.Annotatef(err, "执行: %v", statement)
		}
	}

	for _, index := range indexes {
		if touchesMasked(index.ColumnNames, _mapping) {
			logger.M.Infof("%v: 表 %v 的索引 %v 包含脱敏字段, 不创建", common.CurrLine(), maskedTable, index.ColumnNames)
			continue
		}
		statement := maskedIndexStatement(maskedTable, index)
		if _, err := this.Instance.Pool.Exec(_ctx, statement); err != nil {
			logger.M.Errorf("%v: 失败. 创建索引: %v. %v", common.CurrLine(), statement, err)
		}
	}
	logger.M.Infof("%v: 成功. 生成脱敏表 %v", common.CurrLine(), maskedTable)

	return nil
}

func (this *PgMasker) CreateClearView(_ctx context.Context, _schema string, _table string) error {
	names, err := this.schemaNames(_schema)
	if err != nil {
		return errors.Trace(err)
	}

	sql := fmt.Sprintf("CREATE OR REPLACE VIEW %v AS SELECT * FROM %v;",
		common.FormatTableName(names.LoadingObfuscate, _table), common.FormatTableName(names.LoadingClear, _table))
	if _, err := this.Instance.Pool.Exec(_ctx, sql); err != nil {
		return errors.Annotatef(err, "执行: %v", sql)
	}

	return nil
}

// 脱敏字段的结构变更, 按字段名排序
func alterMaskedColumns(_maskedTable string, _mapping setting.TableObfuscation) []string {
	columns := make([]string, 0, len(_mapping))
	for column := range _mapping {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	statements := make([]string, 0, len(columns)*2)
	for _, column := range columns {
		if _mapping[column].Mode == setting.OBFUSCATION_MODE_NORMAL {
			statements = append(statements, fmt.Sprintf("ALTER TABLE %v ALTER COLUMN %v TYPE text;",
				_maskedTable, common.QuoteIdent(column)))
		}
		statements = append(statements, fmt.Sprintf("ALTER TABLE %v ALTER COLUMN %v DROP NOT NULL;",
			_maskedTable, common.QuoteIdent(column)))
	}

	return statements
}

/* 每个字段的查询表达式, 没有规则的字段原样拷贝
Params:
    _columns: 表的字段, 有序
    _mapping: 脱敏规则
*/
func maskExpressions(_columns []string, _mapping setting.TableObfuscation) []string {
	expressions := make([]string, 0, len(_columns))
	for _, column := range _columns {
		quoted := common.QuoteIdent(column)
		rule, ok := _mapping[column]
		if !ok {
			expressions = append(expressions, quoted)
			continue
		}

		switch rule.Mode {
		case setting.OBFUSCATION_MODE_NORMAL:
			expressions = append(expressions, fmt.Sprintf(
				"(substr(%v::text, %v, %v)||encode(public.digest(%v::text, 'sha256'), 'hex'))",
				quoted, rule.NonhashStart, rule.NonhashLength, quoted))
		case setting.OBFUSCATION_MODE_DATE:
			expressions = append(expressions, fmt.Sprintf("to_char(%v::date, 'YYYY-01-01')::date", quoted))
		case setting.OBFUSCATION_MODE_NUMERIC:
			expressions = append(expressions, "0")
		default:
			expressions = append(expressions, "NULL")
		}
	}

	return expressions
}

func touchesMasked(_columns []string, _mapping setting.TableObfuscation) bool {
	for _, column := range _columns {
		if _, ok := _mapping[column]; ok {
			return true
		}
	}

	return false
}

func maskedIndexStatement(_maskedTable string, _index *maskIndex) string {
	columns := common.FormatColumnNameStr(_index.ColumnNames)
	switch {
	case _index.IsPrimary:
		return fmt.Sprintf("ALTER TABLE %v ADD PRIMARY KEY (%v);", _maskedTable, columns)
	case _index.IsUnique:
		return fmt.Sprintf("CREATE UNIQUE INDEX ON %v (%v);", _maskedTable, columns)
	}

	return fmt.Sprintf("CREATE INDEX ON %v (%v);", _maskedTable, columns)
}
