package replica

import (
	"context"
	"fmt"
	"strings"

	"github.com/daiguadaidai/go-pg-ninja/catalog"
	"github.com/daiguadaidai/go-pg-ninja/common"
	"github.com/daiguadaidai/go-pg-ninja/config"
	"github.com/daiguadaidai/go-pg-ninja/dao"
	"github.com/daiguadaidai/go-pg-ninja/gdbc"
	"github.com/daiguadaidai/go-pg-ninja/logger"
	"github.com/daiguadaidai/go-pg-ninja/model"
	"github.com/daiguadaidai/go-pg-ninja/service/consistency"
	"github.com/daiguadaidai/go-pg-ninja/service/initload"
	"github.com/daiguadaidai/go-pg-ninja/service/replay"
	"github.com/daiguadaidai/go-pg-ninja/setting"
	"github.com/google/uuid"
	"github.com/juju/errors"
)

/* 复制服务的入口, 每个命令创建一次.
Context 为空时只能执行元数据 schema 和状态相关的操作
*/
type Engine struct {
	Setting  *setting.Setting
	Context  *config.SourceContext
	Instance *gdbc.PgInstance

	applicationName string
	sourceDao       *dao.SourceDao
}

/* 创建复制服务, 连接目标库
Params:
    _ctx: 上下文
    _setting: 配置
    _sourceName: 数据源名称, 可以为空
*/
func NewEngine(_ctx context.Context, _setting *setting.Setting, _sourceName string) (*Engine, error) {
	engine := &Engine{
		Setting:         _setting,
		applicationName: applicationName(_sourceName),
	}

	option := gdbc.SessionOption{ApplicationName: engine.applicationName}
	if _sourceName != "" {
		sourceConfig, err := _setting.GetSource(_sourceName)
		if err != nil {
			return nil, errors.Trace(err)
		}
		engine.Context = config.NewSourceContext(_sourceName, sourceConfig)
		option.LockTimeout = sourceConfig.LockTimeout
	}

	instance, err := gdbc.NewPgInstance(_ctx, _setting.PgConn, option)
	if err != nil {
		return nil, errors.Trace(err)
	}
	engine.Instance = instance
	engine.sourceDao = dao.NewSourceDao(instance)
	logger.M.Infof("%v: 成功. 连接目标库 %v, application_name: %v",
		common.CurrLine(), _setting.PgConn.GetFuzzyDSN(), engine.applicationName)

	return engine, nil
}

// 每个进程一个 application_name, 方便在 pg_stat_activity 中区分
func applicationName(_sourceName string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	if _sourceName == "" {
		return fmt.Sprintf("%v_%v", setting.APP_NAME, suffix)
	}

	return fmt.Sprintf("%v_%v_%v", setting.APP_NAME, _sourceName, suffix)
}

func (this *Engine) Close() error {
	return this.Instance.Close()
}

func (this *Engine) requireContext() error {
	if this.Context == nil {
		return errors.NotValidf("没有指定数据源")
	}

	return nil
}

/* 获取数据源元数据, 返回带有数据源ID的上下文
Return:
    数据源没有添加返回 ErrSourceNotFound
*/
func (this *Engine) loadSource(_ctx context.Context) (*model.Source, *config.SourceContext, error) {
	if err := this.requireContext(); err != nil {
		return nil, nil, errors.Trace(err)
	}

	source, err := this.sourceDao.GetByName(_ctx, this.Context.Name)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	if source == nil {
		return nil, nil, errors.Annotatef(common.ErrSourceNotFound, "数据源 %v", this.Context.Name)
	}

	return source, this.Context.WithSourceID(source.IDSource), nil
}

func (this *Engine) CreateReplicaSchema(_ctx context.Context) error {
	return errors.Trace(catalog.Create(_ctx, this.Instance.Pool))
}

func (this *Engine) DropReplicaSchema(_ctx context.Context) error {
	return errors.Trace(catalog.Drop(_ctx, this.Instance.Pool))
}

// 执行还没有执行的元数据变更, 返回执行的版本
func (this *Engine) UpgradeReplicaSchema(_ctx context.Context) ([]int, error) {
	versions, err := catalog.Upgrade(_ctx, this.Instance.Pool)
	return versions, errors.Trace(err)
}

/* 添加数据源. 已经存在只打印警告,
目标 schema 被其他数据源使用返回 ErrDuplicateSchemaMapping
*/
func (this *Engine) AddSource(_ctx context.Context) error {
	if err := this.requireContext(); err != nil {
		return errors.Trace(err)
	}

	exists, err := this.sourceDao.Exists(this.Context.Name)
	if err != nil {
		return errors.Trace(err)
	}
	if exists {
		logger.M.Warnf("%v: 警告. 数据源 %v 已经存在", common.CurrLine(), this.Context.Name)
		return nil
	}

	mappings := this.Context.GetSchemaMappings()
	if err := this.checkSchemaMappings(_ctx, mappings); err != nil {
		return errors.Trace(err)
	}

	_, err = this.sourceDao.Insert(_ctx, this.Context.Name, mappings)
	return errors.Trace(err)
}

func (this *Engine) checkSchemaMappings(_ctx context.Context, _mappings map[string]model.SchemaMapping) error {
	duplicates, err := this.sourceDao.CheckSchemaMappings(_ctx, this.Context.Name, _mappings)
	if err != nil {
		return errors.Trace(err)
	}
	if len(duplicates) > 0 {
		return errors.Annotatef(common.ErrDuplicateSchemaMapping, "%v", strings.Join(duplicates, ", "))
	}

	return nil
}

func (this *Engine) DropSource(_ctx context.Context) error {
	if err := this.requireContext(); err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(this.sourceDao.Delete(_ctx, this.Context.Name))
}

// 按数据源类型创建源库连接
func (this *Engine) newConnector(_ctx context.Context, _context *config.SourceContext) (initload.SourceConnector, error) {
	switch _context.Config.Type {
	case setting.SOURCE_TYPE_MYSQL:
		connector, err := initload.NewMysqlSource(_context.Config.MysqlConn, _context.Config.CopyWorkers)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return connector, nil
	case setting.SOURCE_TYPE_PGSQL:
		connector, err := initload.NewPgSource(_ctx, _context.Config.PgConn, this.applicationName)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return connector, nil
	}

	return nil, errors.NotSupportedf("数据源类型 %v", _context.Config.Type)
}

// 全量初始化数据源, 完成后目标 schema 被替换
func (this *Engine) InitReplica(_ctx context.Context) error {
	source, sourceContext, err := this.loadSource(_ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if source.Status == model.SOURCE_STATUS_INITIALISING || source.Status == model.SOURCE_STATUS_RUNNING {
		return errors.NotValidf("数据源 %v 状态为 %v, 初始化", source.Source, source.Status)
	}

	connector, err := this.newConnector(_ctx, sourceContext)
	if err != nil {
		return errors.Trace(err)
	}
	defer func() {
		if err := connector.Close(); err != nil {
			logger.M.Warnf("%v: 警告. 关闭源库连接. %v", common.CurrLine(), err)
		}
	}()

	loader := initload.NewLoader(
		sourceContext,
		connector,
		initload.NewPgDestination(this.Instance, sourceContext.Config.LockTimeout),
		initload.NewPgMetaStore(this.Instance),
		initload.NewPgMasker(this.Instance, sourceContext),
	)

	return errors.Trace(loader.InitReplica(_ctx))
}

func (this *Engine) newReplayEngine(_context *config.SourceContext) *replay.Engine {
	return &replay.Engine{
		SourceID:  _context.SourceID,
		MaxRows:   _context.Config.ReplayMaxRows,
		Retention: _context.Config.BatchRetention,
		Batches:   dao.NewBatchDao(this.Instance),
		Tables:    dao.NewReplicaTableDao(this.Instance),
		Primitive: replay.NewPgPrimitive(this.Instance, _context.SourceID, _context.Config.OnErrorReplay),
	}
}

// 回放一个批次但是不标记为已回放
func (this *Engine) ProcessBatch(_ctx context.Context) (*model.ReplicaBatch, error) {
	_, sourceContext, err := this.loadSource(_ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}

	batch, err := this.newReplayEngine(sourceContext).ProcessBatch(_ctx)
	return batch, errors.Trace(err)
}

/* 回放一个批次
Return:
    false 表示没有需要回放的批次
*/
func (this *Engine) Replay(_ctx context.Context) (bool, error) {
	_, sourceContext, err := this.loadSource(_ctx)
	if err != nil {
		return false, errors.Trace(err)
	}

	replayed, err := this.newReplayEngine(sourceContext).Replay(_ctx)
	return replayed, errors.Trace(err)
}

// 复制状态. 指定了数据源时同时返回 schema 映射和表
func (this *Engine) GetStatus(_ctx context.Context) (*model.ReplicaStatus, error) {
	statusDao := dao.NewStatusDao(this.Instance)
	sourceName := ""
	if this.Context != nil {
		sourceName = this.Context.Name
	}

	status := new(model.ReplicaStatus)
	sources, err := statusDao.GetSourceStatus(_ctx, sourceName)
	if err != nil {
		return nil, errors.Trace(err)
	}
	status.Sources = sources
	if sourceName == "" {
		return status, nil
	}

	source, _, err := this.loadSource(_ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if status.SchemaMappings, err = statusDao.GetSchemaMappings(source); err != nil {
		return nil, errors.Trace(err)
	}
	if status.Tables, err = statusDao.GetTableStatus(_ctx, source.IDSource); err != nil {
		return nil, errors.Trace(err)
	}

	return status, nil
}

func (this *Engine) newTracker(_context *config.SourceContext) *consistency.Tracker {
	return consistency.NewTracker(_context.SourceID, consistency.NewPgStore(this.Instance, _context.Name))
}

// 还没有一致的表和它们的水位, key: schema.table
func (this *Engine) GetInconsistentTables(_ctx context.Context) (map[string]*model.Position, error) {
	_, sourceContext, err := this.loadSource(_ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}

	tables, err := this.newTracker(sourceContext).GetInconsistentTables(_ctx)
	return tables, errors.Trace(err)
}

func (this *Engine) SetConsistentTable(_ctx context.Context, _schema string, _table string) error {
	_, sourceContext, err := this.loadSource(_ctx)
	if err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(this.newTracker(sourceContext).SetConsistentTable(_schema, _table))
}

// 使用配置中的映射更新数据源, 目标 schema 名变化的会被重命名
func (this *Engine) UpdateSchemaMappings(_ctx context.Context) error {
	source, sourceContext, err := this.loadSource(_ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if source.Status == model.SOURCE_STATUS_RUNNING || source.Status == model.SOURCE_STATUS_INITIALISING {
		return errors.NotValidf("数据源 %v 状态为 %v, 更新 schema 映射", source.Source, source.Status)
	}

	mappings := sourceContext.GetSchemaMappings()
	if err := this.checkSchemaMappings(_ctx, mappings); err != nil {
		return errors.Trace(err)
	}

	statements, err := this.sourceDao.UpdateSchemaMappings(source, mappings)
	if err != nil {
		return errors.Trace(err)
	}
	for _, statement := range statements {
		logger.M.Infof("%v: 成功. 执行: %v", common.CurrLine(), statement)
	}

	return nil
}

/* 回放错误日志
Params:
    _logID: 大于 0 时只获取一条
*/
func (this *Engine) GetErrors(_ctx context.Context, _logID int64) ([]*model.ErrorLog, error) {
	errorLogs, err := dao.NewErrorLogDao(this.Instance).Find(_ctx, _logID)
	return errorLogs, errors.Trace(err)
}
