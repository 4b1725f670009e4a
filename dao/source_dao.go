package dao

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/daiguadaidai/go-pg-ninja/catalog"
	"github.com/daiguadaidai/go-pg-ninja/common"
	"github.com/daiguadaidai/go-pg-ninja/gdbc"
	"github.com/daiguadaidai/go-pg-ninja/logger"
	"github.com/daiguadaidai/go-pg-ninja/model"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jinzhu/gorm"
	"github.com/juju/errors"
)

const sqlSourceColumns = `i_id_source, t_source, jsb_schema_mappings::text AS jsb_schema_mappings, enm_status,
	b_consistent, t_binlog_name, i_binlog_position, v_log_table, ts_created`

type SourceDao struct {
	Instance *gdbc.PgInstance
}

func NewSourceDao(_instance *gdbc.PgInstance) *SourceDao {
	return &SourceDao{Instance: _instance}
}

// 两张轮换的日志表名
func LogTableNames(_source string) []string {
	return []string{
		fmt.Sprintf("t_log_replica_%v_1", _source),
		fmt.Sprintf("t_log_replica_%v_2", _source),
	}
}

/* 通过名称获取数据源
Params:
    _ctx: 上下文
    _name: 数据源名称
Return:
    数据源不存在返回 nil, nil
*/
func (this *SourceDao) GetByName(_ctx context.Context, _name string) (*model.Source, error) {
	source := new(model.Source)
	sql := fmt.Sprintf(`SELECT %v FROM sch_ninja.t_sources WHERE t_source = $1`, sqlSourceColumns)
	if err := pgxscan.Get(_ctx, this.Instance.Pool, source, sql, _name); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, errors.Annotatef(err, "获取数据源 %v", _name)
	}

	return source, nil
}

func (this *SourceDao) Exists(_name string) (bool, error) {
	var count int64
	err := this.Instance.Orm.Model(&model.Source{}).Where("t_source = ?", _name).Count(&count).Error
	if err != nil {
		return false, errors.Annotatef(err, "检查数据源 %v 是否存在", _name)
	}

	return count > 0, nil
}

/* 找出已经被其他数据源使用的目标 schema
Params:
    _ctx: 上下文
    _name: 当前数据源名称, 不和自己比较
    _mappings: 需要检查的映射
Return:
    冲突的 schema 名, 有序
*/
func (this *SourceDao) CheckSchemaMappings(
	_ctx context.Context,
	_name string,
	_mappings map[string]model.SchemaMapping,
) ([]string, error) {
	wanted := make([]string, 0, len(_mappings)*2)
	for _, mapping := range _mappings {
		wanted = append(wanted, mapping.Clear, mapping.Obfuscate)
	}

	sql := `
SELECT DISTINCT t_schema
FROM (
    SELECT value->>'clear' AS t_schema
    FROM sch_ninja.t_sources, jsonb_each(jsb_schema_mappings)
    WHERE t_source <> $1
    UNION ALL
    SELECT value->>'obfuscate'
    FROM sch_ninja.t_sources, jsonb_each(jsb_schema_mappings)
    WHERE t_source <> $1
) t
WHERE t_schema = ANY($2)
ORDER BY t_schema
`
	var duplicates []string
	if err := pgxscan.Select(_ctx, this.Instance.Pool, &duplicates, sql, _name, wanted); err != nil {
		return nil, errors.Annotatef(err, "检查数据源 %v 的 schema 映射", _name)
	}

	return duplicates, nil
}

/* 添加数据源, 同时创建两张日志表和接收/回放时间记录
Params:
    _ctx: 上下文
    _name: 数据源名称
    _mappings: schema 映射
Return:
    数据源ID
*/
func (this *SourceDao) Insert(_ctx context.Context, _name string, _mappings map[string]model.SchemaMapping) (int64, error) {
	mappings, err := json.Marshal(_mappings)
	if err != nil {
		return 0, errors.Trace(err)
	}
	logTables := LogTableNames(_name)

	var sourceID int64
	err = pgx.BeginFunc(_ctx, this.Instance.Pool, func(tx pgx.Tx) error {
		sqlInsert := `
INSERT INTO sch_ninja.t_sources (t_source, jsb_schema_mappings, v_log_table)
VALUES ($1, $2::jsonb, $3)
RETURNING i_id_source
`
		if err := tx.QueryRow(_ctx, sqlInsert, _name, string(mappings), logTables).Scan(&sourceID); err != nil {
			return errors.Annotatef(err, "添加数据源 %v", _name)
		}

		for _, logTable := range logTables {
			if err := createLogTable(_ctx, tx, logTable); err != nil {
				return errors.Trace(err)
			}
		}

		return errors.Trace(insertSourceTimings(_ctx, tx, sourceID))
	})
	if err != nil {
		return 0, errors.Trace(err)
	}
	logger.M.Infof("%v: 成功. 添加数据源 %v(%v), 日志表: %v", common.CurrLine(), _name, sourceID, logTables)

	return sourceID, nil
}

func createLogTable(_ctx context.Context, _tx pgx.Tx, _logTable string) error {
	tableName := common.FormatTableName(catalog.REPLICA_SCHEMA, _logTable)
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %v (
    CONSTRAINT %v PRIMARY KEY (i_id_event)
) INHERITS (sch_ninja.t_log_replica);`, tableName, common.QuoteIdent(common.TruncateName("pk_"+_logTable, common.PG_IDENTIFIER_MAX_LEN))),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %v ON %v (i_id_batch);`,
			common.QuoteIdent(common.TruncateName("idx_id_batch_"+_logTable, common.PG_IDENTIFIER_MAX_LEN)), tableName),
	}
	for _, statement := range statements {
		if _, err := _tx.Exec(_ctx, statement); err != nil {
			return errors.Annotatef(err, "创建日志表 %v", tableName)
		}
	}

	return nil
}

/* 删除数据源, 级联删除表/批次/时间记录, 然后删除日志表
Params:
    _ctx: 上下文
    _name: 数据源名称
*/
func (this *SourceDao) Delete(_ctx context.Context, _name string) error {
	var logTables []string
	err := this.Instance.Pool.QueryRow(_ctx, `DELETE FROM sch_ninja.t_sources WHERE t_source = $1 RETURNING v_log_table`, _name).
		Scan(&logTables)
	if err != nil {
		if errors.Cause(err) == pgx.ErrNoRows {
			return errors.Annotatef(common.ErrSourceNotFound, "数据源 %v", _name)
		}
		return errors.Annotatef(err, "删除数据源 %v", _name)
	}

	for _, logTable := range logTables {
		sql := fmt.Sprintf(`DROP TABLE IF EXISTS %v CASCADE;`, common.FormatTableName(catalog.REPLICA_SCHEMA, logTable))
		if _, err := this.Instance.Pool.Exec(_ctx, sql); err != nil {
			return errors.Annotatef(err, "删除日志表 %v", logTable)
		}
	}
	logger.M.Infof("%v: 成功. 删除数据源 %v, 日志表: %v", common.CurrLine(), _name, logTables)

	return nil
}

func (this *SourceDao) SetStatus(_sourceID int64, _status string) error {
	err := this.Instance.Orm.Model(&model.Source{}).
		Where("i_id_source = ?", _sourceID).
		Update("enm_status", _status).Error
	if err != nil {
		return errors.Annotatef(err, "设置数据源 %v 状态 %v", _sourceID, _status)
	}
	logger.M.Infof("%v: 数据源 %v 状态: %v", common.CurrLine(), _sourceID, _status)

	return nil
}

func (this *SourceDao) SetConsistent(_sourceID int64, _consistent bool) error {
	err := this.Instance.Orm.Model(&model.Source{}).
		Where("i_id_source = ?", _sourceID).
		Update("b_consistent", _consistent).Error

	return errors.Annotatef(err, "设置数据源 %v 一致性标记", _sourceID)
}

/* 设置数据源高水位, 同时设置一致性标记
Params:
    _sourceID: 数据源ID
    _watermark: 高水位, nil 表示清空
    _consistent: 是否一致
*/
func (this *SourceDao) SetHighWatermark(_sourceID int64, _watermark *model.Position, _consistent bool) error {
	values := map[string]interface{}{
		"b_consistent":      _consistent,
		"t_binlog_name":     gorm.Expr("NULL"),
		"i_binlog_position": gorm.Expr("NULL"),
	}
	if _watermark != nil {
		values["t_binlog_name"] = _watermark.LogFile
		values["i_binlog_position"] = _watermark.LogPos
	}

	err := this.Instance.Orm.Model(&model.Source{}).
		Where("i_id_source = ?", _sourceID).
		Updates(values).Error
	if err != nil {
		return errors.Annotatef(err, "设置数据源 %v 高水位 %v", _sourceID, _watermark)
	}
	logger.M.Infof("%v: 成功. 数据源 %v 高水位: %v, 一致: %v", common.CurrLine(), _sourceID, _watermark, _consistent)

	return nil
}

// 数据源设置为一致, 在一个事务中清空数据源和所有表的水位
func (this *SourceDao) MarkConsistent(_sourceID int64) error {
	err := this.Instance.Orm.Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&model.Source{}).
			Where("i_id_source = ?", _sourceID).
			Updates(map[string]interface{}{
				"b_consistent":      true,
				"t_binlog_name":     gorm.Expr("NULL"),
				"i_binlog_position": gorm.Expr("NULL"),
			}).Error
		if err != nil {
			return errors.Annotate(err, "清空数据源高水位")
		}

		err = tx.Model(&model.ReplicaTable{}).
			Where("i_id_source = ?", _sourceID).
			Updates(map[string]interface{}{
				"t_binlog_name":     gorm.Expr("NULL"),
				"i_binlog_position": gorm.Expr("NULL"),
			}).Error

		return errors.Annotate(err, "清空表水位")
	})
	if err != nil {
		return errors.Annotatef(err, "设置数据源 %v 一致", _sourceID)
	}
	logger.M.Infof("%v: 成功. 数据源 %v 设置为一致", common.CurrLine(), _sourceID)

	return nil
}

/* 更新 schema 映射, 目标 schema 名变化的执行重命名, 在一个事务中完成
Params:
    _source: 数据源
    _mappings: 新的映射
Return:
    执行的重命名语句
*/
func (this *SourceDao) UpdateSchemaMappings(_source *model.Source, _mappings map[string]model.SchemaMapping) ([]string, error) {
	oldMappings, err := _source.GetSchemaMappings()
	if err != nil {
		return nil, errors.Trace(err)
	}
	mappings, err := json.Marshal(_mappings)
	if err != nil {
		return nil, errors.Trace(err)
	}

	origins := make([]string, 0, len(_mappings))
	for origin := range _mappings {
		origins = append(origins, origin)
	}
	sort.Strings(origins)

	statements := make([]string, 0, len(origins)*2)
	for _, origin := range origins {
		oldMapping, ok := oldMappings[origin]
		if !ok {
			continue
		}
		newMapping := _mappings[origin]
		if oldMapping.Clear != newMapping.Clear {
			statements = append(statements, renameSchemaSql(oldMapping.Clear, newMapping.Clear))
		}
		if oldMapping.Obfuscate != newMapping.Obfuscate {
			statements = append(statements, renameSchemaSql(oldMapping.Obfuscate, newMapping.Obfuscate))
		}
	}

	err = this.Instance.Orm.Transaction(func(tx *gorm.DB) error {
		for _, origin := range origins {
			oldMapping, ok := oldMappings[origin]
			if !ok || oldMapping.Clear == _mappings[origin].Clear {
				continue
			}
			err := tx.Model(&model.ReplicaTable{}).
				Where("i_id_source = ? AND v_schema_name = ?", _source.IDSource, oldMapping.Clear).
				Update("v_schema_name", _mappings[origin].Clear).Error
			if err != nil {
				return errors.Annotatef(err, "更新复制表 schema %v", oldMapping.Clear)
			}
		}
		for _, statement := range statements {
			if err := tx.Exec(statement).Error; err != nil {
				return errors.Annotatef(err, "执行: %v", statement)
			}
		}

		sqlUpdate := `UPDATE sch_ninja.t_sources SET jsb_schema_mappings = ?::jsonb WHERE i_id_source = ?`
		return errors.Trace(tx.Exec(sqlUpdate, string(mappings), _source.IDSource).Error)
	})
	if err != nil {
		return nil, errors.Annotatef(err, "更新数据源 %v schema 映射", _source.Source)
	}

	return statements, nil
}

func renameSchemaSql(_old string, _new string) string {
	return fmt.Sprintf("ALTER SCHEMA %v RENAME TO %v;", common.QuoteIdent(_old), common.QuoteIdent(_new))
}
