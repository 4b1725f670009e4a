package dao

import (
	"context"

	"github.com/daiguadaidai/go-pg-ninja/common"
	"github.com/daiguadaidai/go-pg-ninja/gdbc"
	"github.com/daiguadaidai/go-pg-ninja/translator"
	"github.com/jackc/pgx/v5"
	"github.com/juju/errors"
)

// 读取目标库系统表, 提供给翻译器和 DDL 写入使用
type PgInspector struct {
	Instance *gdbc.PgInstance
	SourceID int64

	replicaTableDao *ReplicaTableDao
}

func NewPgInspector(_instance *gdbc.PgInstance, _sourceID int64) *PgInspector {
	return &PgInspector{
		Instance:        _instance,
		SourceID:        _sourceID,
		replicaTableDao: NewReplicaTableDao(_instance),
	}
}

var _ translator.CatalogInspector = (*PgInspector)(nil)

func (this *PgInspector) GetType(_ctx context.Context, _schema string, _name string) (*translator.TypeInfo, error) {
	sql := `
SELECT
    typ.typtype::text,
    coalesce(
        (SELECT array_agg(enm.enumlabel::text ORDER BY enm.enumsortorder)
         FROM pg_catalog.pg_enum enm
         WHERE enm.enumtypid = typ.oid),
        '{}'
    )
FROM pg_catalog.pg_type typ
INNER JOIN pg_catalog.pg_namespace sch ON sch.oid = typ.typnamespace
WHERE sch.nspname = $1 AND typ.typname = $2
`
	typeInfo := new(translator.TypeInfo)
	if err := this.Instance.Pool.QueryRow(_ctx, sql, _schema, _name).Scan(&typeInfo.Kind, &typeInfo.Labels); err != nil {
		if errors.Cause(err) == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Annotatef(err, "获取类型 %v.%v", _schema, _name)
	}

	return typeInfo, nil
}

// 默认值去掉结尾的类型转换: '0.00'::numeric -> '0.00', nextval('seq'::regclass) 保持不变
func (this *PgInspector) GetColumnDefault(_ctx context.Context, _schema string, _table string, _column string) (string, error) {
	sql := `
SELECT regexp_replace(pg_catalog.pg_get_expr(def.adbin, def.adrelid), '::[a-z_ ]+(\[\])?$', '')
FROM pg_catalog.pg_attrdef def
INNER JOIN pg_catalog.pg_attribute att ON att.attrelid = def.adrelid AND att.attnum = def.adnum
INNER JOIN pg_catalog.pg_class tab ON tab.oid = def.adrelid
INNER JOIN pg_catalog.pg_namespace sch ON sch.oid = tab.relnamespace
WHERE sch.nspname = $1 AND tab.relname = $2 AND att.attname = $3
`
	var defaultValue string
	if err := this.Instance.Pool.QueryRow(_ctx, sql, _schema, _table, _column).Scan(&defaultValue); err != nil {
		if errors.Cause(err) == pgx.ErrNoRows {
			return "", nil
		}
		return "", errors.Annotatef(err, "获取字段默认值 %v.%v", common.GetTableKey(_schema, _table), _column)
	}

	return defaultValue, nil
}

func (this *PgInspector) GetTablePkey(_ctx context.Context, _schema string, _table string) ([]string, error) {
	return this.replicaTableDao.GetTablePkey(_ctx, this.SourceID, _schema, _table)
}

func (this *PgInspector) GetPrimaryKeyConstraint(_ctx context.Context, _schema string, _table string) (string, error) {
	sql := `
SELECT con.conname::text
FROM pg_catalog.pg_constraint con
INNER JOIN pg_catalog.pg_class tab ON tab.oid = con.conrelid
INNER JOIN pg_catalog.pg_namespace sch ON sch.oid = tab.relnamespace
WHERE sch.nspname = $1 AND tab.relname = $2 AND con.contype = 'p'
`
	var constraint string
	if err := this.Instance.Pool.QueryRow(_ctx, sql, _schema, _table).Scan(&constraint); err != nil {
		if errors.Cause(err) == pgx.ErrNoRows {
			return "", nil
		}
		return "", errors.Annotatef(err, "获取主键约束 %v", common.GetTableKey(_schema, _table))
	}

	return constraint, nil
}

// 表是否存在(普通表)
func (this *PgInspector) TableExists(_ctx context.Context, _schema string, _table string) (bool, error) {
	var exists bool
	sql := `SELECT EXISTS (SELECT 1 FROM pg_catalog.pg_tables WHERE schemaname = $1 AND tablename = $2)`
	if err := this.Instance.Pool.QueryRow(_ctx, sql, _schema, _table).Scan(&exists); err != nil {
		return false, errors.Annotatef(err, "检查表 %v 是否存在", common.GetTableKey(_schema, _table))
	}

	return exists, nil
}

// 视图是否存在, 脱敏 schema 中没有脱敏规则的表是一个视图
func (this *PgInspector) ViewExists(_ctx context.Context, _schema string, _view string) (bool, error) {
	var exists bool
	sql := `SELECT EXISTS (SELECT 1 FROM pg_catalog.pg_views WHERE schemaname = $1 AND viewname = $2)`
	if err := this.Instance.Pool.QueryRow(_ctx, sql, _schema, _view).Scan(&exists); err != nil {
		return false, errors.Annotatef(err, "检查视图 %v 是否存在", common.GetTableKey(_schema, _view))
	}

	return exists, nil
}
