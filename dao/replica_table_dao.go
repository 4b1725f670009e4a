package dao

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/daiguadaidai/go-pg-ninja/common"
	"github.com/daiguadaidai/go-pg-ninja/gdbc"
	"github.com/daiguadaidai/go-pg-ninja/logger"
	"github.com/daiguadaidai/go-pg-ninja/model"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jinzhu/gorm"
	"github.com/juju/errors"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type ReplicaTableDao struct {
	Instance *gdbc.PgInstance
}

func NewReplicaTableDao(_instance *gdbc.PgInstance) *ReplicaTableDao {
	return &ReplicaTableDao{Instance: _instance}
}

/* 注册需要复制的表, 已经存在则更新主键和水位
Params:
    _ctx: 上下文
    _sourceID: 数据源ID
    _schema: 目标 schema
    _table: 表名
    _pkey: 主键字段, 为空时表不能复制, 删除已有的注册
    _watermark: 表的水位, nil 表示已经一致
*/
func (this *ReplicaTableDao) StoreTable(
	_ctx context.Context,
	_sourceID int64,
	_schema string,
	_table string,
	_pkey []string,
	_watermark *model.Position,
) error {
	if len(_pkey) == 0 {
		logger.M.Warnf("%v: 警告. 表 %v 没有主键, 不能复制", common.CurrLine(), common.GetTableKey(_schema, _table))
		return errors.Trace(this.Unregister(_sourceID, _schema, _table))
	}

	var binlogName *string
	var binlogPosition *int64
	if _watermark != nil {
		binlogName, binlogPosition = &_watermark.LogFile, &_watermark.LogPos
	}

	sql := `
INSERT INTO sch_ninja.t_replica_tables
    (i_id_source, v_table_name, v_schema_name, v_table_pkey, t_binlog_name, i_binlog_position)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (i_id_source, v_table_name, v_schema_name)
DO UPDATE SET
    v_table_pkey = EXCLUDED.v_table_pkey,
    t_binlog_name = EXCLUDED.t_binlog_name,
    i_binlog_position = EXCLUDED.i_binlog_position,
    b_replica_enabled = true
`
	if _, err := this.Instance.Pool.Exec(_ctx, sql, _sourceID, _table, _schema, _pkey, binlogName, binlogPosition); err != nil {
		return errors.Annotatef(err, "注册复制表 %v", common.GetTableKey(_schema, _table))
	}
	logger.M.Debugf("%v: 注册复制表 %v, 主键: %v, 水位: %v",
		common.CurrLine(), common.GetTableKey(_schema, _table), _pkey, _watermark)

	return nil
}

// 从复制中移除表
func (this *ReplicaTableDao) Unregister(_sourceID int64, _schema string, _table string) error {
	err := this.Instance.Orm.
		Where("i_id_source = ? AND v_schema_name = ? AND v_table_name = ?", _sourceID, _schema, _table).
		Delete(&model.ReplicaTable{}).Error
	if err != nil {
		return errors.Annotatef(err, "移除复制表 %v", common.GetTableKey(_schema, _table))
	}
	logger.M.Infof("%v: 表 %v 从复制中移除", common.CurrLine(), common.GetTableKey(_schema, _table))

	return nil
}

/* 获取表注册的主键
Return:
    表没有注册返回 nil
*/
func (this *ReplicaTableDao) GetTablePkey(_ctx context.Context, _sourceID int64, _schema string, _table string) ([]string, error) {
	var pkey []string
	sql := `
SELECT v_table_pkey
FROM sch_ninja.t_replica_tables
WHERE i_id_source = $1 AND v_schema_name = $2 AND v_table_name = $3
`
	if err := this.Instance.Pool.QueryRow(_ctx, sql, _sourceID, _schema, _table).Scan(&pkey); err != nil {
		if errors.Cause(err) == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Annotatef(err, "获取表 %v 主键", common.GetTableKey(_schema, _table))
	}

	return pkey, nil
}

// 数据源所有注册的表
func (this *ReplicaTableDao) FindBySource(_ctx context.Context, _sourceID int64) ([]*model.ReplicaTable, error) {
	sql, args, err := psql.
		Select("i_id_table", "i_id_source", "v_table_name", "v_schema_name", "v_table_pkey",
			"t_binlog_name", "i_binlog_position", "b_replica_enabled").
		From("sch_ninja.t_replica_tables").
		Where(sq.Eq{"i_id_source": _sourceID}).
		OrderBy("v_schema_name", "v_table_name").
		ToSql()
	if err != nil {
		return nil, errors.Trace(err)
	}

	tables := make([]*model.ReplicaTable, 0)
	if err := pgxscan.Select(_ctx, this.Instance.Pool, &tables, sql, args...); err != nil {
		return nil, errors.Annotatef(err, "获取数据源 %v 复制表", _sourceID)
	}

	return tables, nil
}

// 初始化之前清除数据源所有注册的表
func (this *ReplicaTableDao) CleanupSourceTables(_sourceID int64) error {
	err := this.Instance.Orm.Where("i_id_source = ?", _sourceID).Delete(&model.ReplicaTable{}).Error
	if err != nil {
		return errors.Annotatef(err, "清除数据源 %v 复制表", _sourceID)
	}
	logger.M.Infof("%v: 成功. 清除数据源 %v 所有复制表", common.CurrLine(), _sourceID)

	return nil
}

/* 获取还没有达到一致的表
Return:
    map{"schema.table": 水位}
*/
func (this *ReplicaTableDao) FindInconsistent(_ctx context.Context, _sourceID int64) (map[string]*model.Position, error) {
	sql, args, err := psql.
		Select("v_schema_name", "v_table_name", "t_binlog_name", "i_binlog_position").
		From("sch_ninja.t_replica_tables").
		Where(sq.Eq{"i_id_source": _sourceID}).
		Where(sq.NotEq{"t_binlog_name": nil}).
		Where(sq.NotEq{"i_binlog_position": nil}).
		ToSql()
	if err != nil {
		return nil, errors.Trace(err)
	}

	tables := make([]*model.ReplicaTable, 0)
	if err := pgxscan.Select(_ctx, this.Instance.Pool, &tables, sql, args...); err != nil {
		return nil, errors.Annotatef(err, "获取数据源 %v 没有一致的表", _sourceID)
	}

	inconsistent := make(map[string]*model.Position, len(tables))
	for _, table := range tables {
		inconsistent[common.GetTableKey(table.SchemaName, table.TableName_)] = table.GetWatermark()
	}

	return inconsistent, nil
}

// 清空一个表的水位, 之后该表的变更正常回放
func (this *ReplicaTableDao) SetConsistentTable(_sourceID int64, _schema string, _table string) error {
	err := this.Instance.Orm.Model(&model.ReplicaTable{}).
		Where("i_id_source = ? AND v_schema_name = ? AND v_table_name = ?", _sourceID, _schema, _table).
		Updates(map[string]interface{}{
			"t_binlog_name":     gorm.Expr("NULL"),
			"i_binlog_position": gorm.Expr("NULL"),
		}).Error
	if err != nil {
		return errors.Annotatef(err, "设置表 %v 一致", common.GetTableKey(_schema, _table))
	}
	logger.M.Infof("%v: 表 %v 已经一致", common.CurrLine(), common.GetTableKey(_schema, _table))

	return nil
}
