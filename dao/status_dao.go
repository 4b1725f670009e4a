package dao

import (
	"context"
	"sort"

	sq "github.com/Masterminds/squirrel"
	"github.com/daiguadaidai/go-pg-ninja/gdbc"
	"github.com/daiguadaidai/go-pg-ninja/model"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/juju/errors"
)

type StatusDao struct {
	Instance *gdbc.PgInstance
}

func NewStatusDao(_instance *gdbc.PgInstance) *StatusDao {
	return &StatusDao{Instance: _instance}
}

/* 获取数据源状态和接收/回放延迟
Params:
    _source: 数据源名称, 为空获取所有数据源
*/
func (this *StatusDao) GetSourceStatus(_ctx context.Context, _source string) ([]*model.SourceStatus, error) {
	builder := psql.Select(
		"src.i_id_source",
		"src.t_source",
		"src.enm_status",
		"coalesce(date_trunc('second', clock_timestamp() - rec.ts_last_received)::text, 'N/A') AS t_receive_lag",
		"coalesce(date_trunc('second', rec.ts_last_received)::text, 'N/A') AS t_last_received",
		"coalesce(date_trunc('second', rec.ts_last_received - rep.ts_last_replayed)::text, 'N/A') AS t_replay_lag",
		"coalesce(date_trunc('second', rep.ts_last_replayed)::text, 'N/A') AS t_last_replayed",
		"CASE WHEN src.b_consistent THEN 'Yes' ELSE 'No' END AS t_consistent",
	).
		From("sch_ninja.t_sources src").
		LeftJoin("sch_ninja.t_last_received rec ON rec.i_id_source = src.i_id_source").
		LeftJoin("sch_ninja.t_last_replayed rep ON rep.i_id_source = src.i_id_source").
		OrderBy("src.t_source")
	if _source != "" {
		builder = builder.Where(sq.Eq{"src.t_source": _source})
	}
	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, errors.Trace(err)
	}

	statuses := make([]*model.SourceStatus, 0)
	if err := pgxscan.Select(_ctx, this.Instance.Pool, &statuses, sql, args...); err != nil {
		return nil, errors.Annotate(err, "获取数据源状态")
	}

	return statuses, nil
}

// 数据源的 schema 映射
func (this *StatusDao) GetSchemaMappings(_source *model.Source) ([]*model.SchemaMappingStatus, error) {
	mappings, err := _source.GetSchemaMappings()
	if err != nil {
		return nil, errors.Trace(err)
	}

	origins := make([]string, 0, len(mappings))
	for origin := range mappings {
		origins = append(origins, origin)
	}
	sort.Strings(origins)

	statuses := make([]*model.SchemaMappingStatus, 0, len(origins))
	for _, origin := range origins {
		statuses = append(statuses, &model.SchemaMappingStatus{
			OriginSchema:      origin,
			DestinationSchema: mappings[origin].Clear,
			ObfuscatedSchema:  mappings[origin].Obfuscate,
		})
	}

	return statuses, nil
}

/* 数据源表的统计
Return:
    [不复制的表, 复制的表, 所有表]
*/
func (this *StatusDao) GetTableStatus(_ctx context.Context, _sourceID int64) ([]*model.TableStatus, error) {
	sql := `
WITH tab AS (
    SELECT
        CASE WHEN b_replica_enabled THEN 1 ELSE 0 END AS i_order,
        format('%I.%I', v_schema_name, v_table_name) AS t_table
    FROM sch_ninja.t_replica_tables
    WHERE i_id_source = $1
)
SELECT i_order, count(*) AS i_count, coalesce(array_agg(t_table ORDER BY t_table), '{}') AS t_tables
FROM tab
GROUP BY i_order
UNION ALL
SELECT 2, count(*), coalesce(array_agg(t_table ORDER BY t_table), '{}')
FROM tab
ORDER BY 1
`
	statuses := make([]*model.TableStatus, 0, 3)
	if err := pgxscan.Select(_ctx, this.Instance.Pool, &statuses, sql, _sourceID); err != nil {
		return nil, errors.Annotatef(err, "获取数据源 %v 表统计", _sourceID)
	}

	return statuses, nil
}
