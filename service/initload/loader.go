package initload

import (
	"context"
	"io"

	"github.com/daiguadaidai/go-pg-ninja/common"
	"github.com/daiguadaidai/go-pg-ninja/config"
	"github.com/daiguadaidai/go-pg-ninja/logger"
	"github.com/daiguadaidai/go-pg-ninja/model"
	"github.com/daiguadaidai/go-pg-ninja/translator"
	"github.com/juju/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/daiguadaidai/go-pg-ninja/service/initload")

// 需要初始化的一个表
type loadTable struct {
	names    *config.SchemaNames
	table    string
	metadata *TableMetadata
	rows     int64
}

func (this *loadTable) String() string {
	return common.GetTableKey(this.names.Origin, this.table)
}

// 初始化数据源的全量数据
type Loader struct {
	Context    *config.SourceContext
	Source     SourceConnector
	Dest       Destination
	Meta       MetaStore
	Masker     Masker
	Translator *translator.Translator
	Workers    int
}

func NewLoader(
	_context *config.SourceContext,
	_source SourceConnector,
	_dest Destination,
	_meta MetaStore,
	_masker Masker,
) *Loader {
	return &Loader{
		Context:    _context,
		Source:     _source,
		Dest:       _dest,
		Meta:       _meta,
		Masker:     _masker,
		Translator: translator.NewTranslator(_context.Config.TypeOverride, nil),
		Workers:    _context.Config.CopyWorkers,
	}
}

/* 初始化复制. 失败时删除 loading schema 并设置数据源状态为 error,
目标 schema 不会被修改
*/
func (this *Loader) InitReplica(_ctx context.Context) (err error) {
	ctx, span := tracer.Start(_ctx, "initload.InitReplica")
	defer span.End()
	span.SetAttributes(
		attribute.String("source.name", this.Context.Name),
		attribute.Int64("source.id", this.Context.SourceID),
	)

	if err := this.Meta.SetStatus(this.Context.SourceID, model.SOURCE_STATUS_INITIALISING); err != nil {
		return errors.Trace(err)
	}

	defer func() {
		if err == nil {
			return
		}
		span.SetStatus(codes.Error, err.Error())
		logger.M.Errorf("%v: 失败. 初始化数据源 %v. %v", common.CurrLine(), this.Context.Name, err)
		err = multierr.Append(err, this.cleanup(context.WithoutCancel(ctx)))
		err = multierr.Append(err, this.Meta.SetStatus(this.Context.SourceID, model.SOURCE_STATUS_ERROR))
	}()

	tables, err := this.resolveTables(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if err = this.createSchemas(ctx); err != nil {
		return errors.Trace(err)
	}
	if err = this.Meta.CleanupSourceTables(this.Context.SourceID); err != nil {
		return errors.Trace(err)
	}
	// 以前的批次位点在快照之前, 不能继续捕获和回放
	if err = this.Meta.CleanBatchData(ctx, this.Context.Name); err != nil {
		return errors.Trace(err)
	}
	if err = this.Meta.SetHighWatermark(this.Context.SourceID, nil, false); err != nil {
		return errors.Trace(err)
	}

	if err = this.createTables(ctx, tables); err != nil {
		return errors.Trace(err)
	}
	watermark, err := this.copyData(ctx, tables)
	if err != nil {
		return errors.Trace(err)
	}
	if err = this.buildIndexes(ctx, tables, watermark); err != nil {
		return errors.Trace(err)
	}
	if err = this.maskTables(ctx, tables); err != nil {
		return errors.Trace(err)
	}
	this.grantSelect(ctx)
	if err = this.swapSchemas(ctx); err != nil {
		return errors.Trace(err)
	}
	if err = this.dropLoadingSchemas(ctx); err != nil {
		return errors.Trace(err)
	}

	// MySQL 需要回放到快照位点之后才一致, PostgreSQL 快照就是一致点
	if watermark != nil {
		err = this.Meta.SetHighWatermark(this.Context.SourceID, watermark, false)
	} else {
		err = this.Meta.SetHighWatermark(this.Context.SourceID, nil, true)
	}
	if err != nil {
		return errors.Trace(err)
	}
	if err = this.Meta.SetStatus(this.Context.SourceID, model.SOURCE_STATUS_INITIALISED); err != nil {
		return errors.Trace(err)
	}
	span.SetAttributes(attribute.Int("initload.tables", len(tables)))
	logger.M.Infof("%v: 成功. 初始化数据源 %v, 表数: %v, 高水位: %v", common.CurrLine(), this.Context.Name, len(tables), watermark)

	return nil
}

// 1. 按照 limit_tables 和 skip_tables 获取每个 schema 需要复制的表
func (this *Loader) resolveTables(_ctx context.Context) ([]*loadTable, error) {
	tables := make([]*loadTable, 0, 16)
	for _, origin := range this.Context.GetOriginSchemas() {
		names, _ := this.Context.GetSchemaNames(origin)
		all, err := this.Source.ListTables(_ctx, origin)
		if err != nil {
			return nil, errors.Trace(err)
		}

		filtered := this.Context.FilterTables(origin, all)
		for _, table := range filtered {
			tables = append(tables, &loadTable{names: names, table: table})
		}
		logger.M.Infof("%v: schema %v 共 %v 个表, 需要复制 %v 个", common.CurrLine(), origin, len(all), len(filtered))
	}

	return tables, nil
}

// 2. 每个源 schema 创建 4 个目标 schema
func (this *Loader) createSchemas(_ctx context.Context) error {
	for _, origin := range this.Context.GetOriginSchemas() {
		names, _ := this.Context.GetSchemaNames(origin)
		for _, schema := range []string{names.Clear, names.Obfuscate, names.LoadingClear, names.LoadingObfuscate} {
			if err := this.Dest.CreateSchema(_ctx, schema); err != nil {
				return errors.Trace(err)
			}
		}
		logger.M.Infof("%v: 成功. 创建 schema %v", common.CurrLine(), names)
	}

	return nil
}

// 3. 在 loading-clear schema 中建表, 不带索引
func (this *Loader) createTables(_ctx context.Context, _tables []*loadTable) error {
	for _, table := range _tables {
		metadata, err := this.Source.TableMetadata(_ctx, table.names.Origin, table.table)
		if err != nil {
			return errors.Trace(err)
		}
		table.metadata = metadata

		ddl := this.Translator.BuildCreateTable(this.Source.Dialect(), table.names.Origin, table.names.LoadingClear,
			table.table, metadata.Columns)
		for _, statement := range ddl.Statements() {
			if err := this.Dest.Exec(_ctx, statement); err != nil {
				return errors.Annotatef(err, "创建表 %v", table)
			}
		}
	}
	logger.M.Infof("%v: 成功. 在 loading schema 中创建 %v 个表", common.CurrLine(), len(_tables))

	return nil
}

/* 4. 获取快照, 并发拷贝所有表的数据
Return:
    快照的高水位, PostgreSQL 数据源为 nil
*/
func (this *Loader) copyData(_ctx context.Context, _tables []*loadTable) (*model.Position, error) {
	ctx, span := tracer.Start(_ctx, "initload.copyData")
	defer span.End()

	snap, err := this.Source.BeginSnapshot(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	watermark := snap.HighWatermark()
	logger.M.Infof("%v: 成功. 获取快照 %v, 高水位: %v", common.CurrLine(), snap.ID(), watermark)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(this.workers())
	for _, table := range _tables {
		table := table
		group.Go(func() error {
			rows, err := this.copyTable(groupCtx, snap, table)
			if err != nil {
				return errors.Trace(err)
			}
			table.rows = rows
			logger.M.Infof("%v: 成功. 拷贝表 %v, 行数: %v", common.CurrLine(), table, rows)
			return nil
		})
	}
	err = group.Wait()

	snap.Release()
	if waitErr := snap.Wait(); waitErr != nil {
		err = multierr.Append(err, errors.Annotatef(waitErr, "释放快照 %v", snap.ID()))
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	return watermark, nil
}

func (this *Loader) workers() int {
	if this.Workers <= 0 {
		return 1
	}

	return this.Workers
}

// 数据源导出和目标库导入通过管道连接
func (this *Loader) copyTable(_ctx context.Context, _snap SourceSnapshot, _table *loadTable) (int64, error) {
	reader, writer := io.Pipe()
	sourceErr := make(chan error, 1)
	go func() {
		_, err := this.Source.CopyTable(_ctx, _snap, _table.names.Origin, _table.table, writer)
		writer.CloseWithError(err)
		sourceErr <- err
	}()

	rows, err := this.Dest.CopyIn(_ctx, _table.names.LoadingClear, _table.table, reader)
	if err != nil {
		reader.CloseWithError(err)
		<-sourceErr
		return 0, errors.Annotatef(err, "拷贝表 %v", _table)
	}
	if err := <-sourceErr; err != nil {
		return 0, errors.Annotatef(err, "拷贝表 %v", _table)
	}

	return rows, nil
}

/* 5. 创建索引和主键, 并注册复制表. 索引定义先保存到元数据中, 创建完之后清除
Params:
    _watermark: 表的水位, 和快照高水位相同
*/
func (this *Loader) buildIndexes(_ctx context.Context, _tables []*loadTable, _watermark *model.Position) error {
	sourceID := this.Context.SourceID
	pkeys := make(map[*loadTable][]string, len(_tables))
	for _, table := range _tables {
		pkey, statements := this.Translator.BuildCreateIndex(table.names.LoadingClear, table.table, table.metadata.Indices)
		pkeys[table] = pkey

		iter := statements.IterFunc()
		for kv, ok := iter(); ok; kv, ok = iter() {
			if err := this.Meta.StoreIndex(sourceID, table.names.LoadingClear, table.table,
				kv.Key.(string), kv.Value.(string)); err != nil {
				return errors.Trace(err)
			}
		}
	}

	indexDefs, err := this.Meta.FindIndexes(sourceID)
	if err != nil {
		return errors.Trace(err)
	}
	for _, indexDef := range indexDefs {
		if err := this.Dest.Exec(_ctx, indexDef.Create); err != nil {
			logger.M.Errorf("%v: 失败. 创建索引 %v.%v.%v. %v", common.CurrLine(),
				indexDef.Schema, indexDef.Table, indexDef.Index, err)
		}
	}
	if err := this.Meta.DeleteIndexes(sourceID); err != nil {
		return errors.Trace(err)
	}
	logger.M.Infof("%v: 成功. 创建索引 %v 个", common.CurrLine(), len(indexDefs))

	for _, table := range _tables {
		if err := this.Meta.StoreTable(_ctx, sourceID, table.names.Clear, table.table, pkeys[table], _watermark); err != nil {
			return errors.Trace(err)
		}
	}

	return nil
}

// 6. 有脱敏规则的表生成脱敏副本, 其余的表创建视图
func (this *Loader) maskTables(_ctx context.Context, _tables []*loadTable) error {
	if this.Masker == nil {
		return nil
	}

	prepared := false
	for _, table := range _tables {
		mapping := this.Context.GetObfuscation(table.names.Origin, table.table)
		if len(mapping) == 0 {
			if err := this.Masker.CreateClearView(_ctx, table.names.Origin, table.table); err != nil {
				return errors.Trace(err)
			}
			continue
		}

		if !prepared {
			if err := this.Masker.Prepare(_ctx); err != nil {
				return errors.Trace(err)
			}
			prepared = true
		}
		if err := this.Masker.MaskTable(_ctx, table.names.Origin, table.table, mapping); err != nil {
			return errors.Trace(err)
		}
	}

	return nil
}

// 7. 授权, 角色不存在只告警
func (this *Loader) grantSelect(_ctx context.Context) {
	for _, role := range this.Context.Config.GrantSelectTo {
		for _, origin := range this.Context.GetOriginSchemas() {
			names, _ := this.Context.GetSchemaNames(origin)
			for _, schema := range []string{names.LoadingClear, names.LoadingObfuscate} {
				err := this.Dest.GrantSelect(_ctx, schema, role)
				switch {
				case err == nil:
					logger.M.Infof("%v: 成功. 授权 schema %v 查询权限给 %v", common.CurrLine(), schema, role)
				case common.PgErrorCode(err) == common.PG_UNDEFINED_OBJECT:
					logger.M.Warnf("%v: 警告. 角色 %v 不存在", common.CurrLine(), role)
				default:
					logger.M.Errorf("%v: 失败. 授权 schema %v 查询权限给 %v. %v", common.CurrLine(), schema, role, err)
				}
			}
		}
	}
}

// 8. 交换 schema
func (this *Loader) swapSchemas(_ctx context.Context) error {
	schemaNames := make([]*config.SchemaNames, 0, len(this.Context.SchemaNamesMap))
	for _, origin := range this.Context.GetOriginSchemas() {
		names, _ := this.Context.GetSchemaNames(origin)
		schemaNames = append(schemaNames, names)
	}

	if err := this.Dest.SwapSchemas(_ctx, schemaNames); err != nil {
		return errors.Trace(err)
	}
	logger.M.Infof("%v: 成功. 交换 loading 和目标 schema", common.CurrLine())

	return nil
}

// 9. 删除交换之后的 loading schema
func (this *Loader) dropLoadingSchemas(_ctx context.Context) error {
	for _, origin := range this.Context.GetOriginSchemas() {
		names, _ := this.Context.GetSchemaNames(origin)
		for _, schema := range []string{names.LoadingClear, names.LoadingObfuscate} {
			if err := this.Dest.DropSchema(_ctx, schema); err != nil {
				return errors.Trace(err)
			}
		}
	}

	return nil
}

// 失败时删除 loading schema, 所有错误都返回
func (this *Loader) cleanup(_ctx context.Context) error {
	var err error
	for _, origin := range this.Context.GetOriginSchemas() {
		names, _ := this.Context.GetSchemaNames(origin)
		for _, schema := range []string{names.LoadingClear, names.LoadingObfuscate} {
			err = multierr.Append(err, this.Dest.DropSchema(_ctx, schema))
		}
	}

	return err
}
