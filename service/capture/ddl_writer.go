package capture

import (
	"context"
	"fmt"

	"github.com/daiguadaidai/go-pg-ninja/common"
	"github.com/daiguadaidai/go-pg-ninja/config"
	"github.com/daiguadaidai/go-pg-ninja/dao"
	"github.com/daiguadaidai/go-pg-ninja/gdbc"
	"github.com/daiguadaidai/go-pg-ninja/logger"
	"github.com/daiguadaidai/go-pg-ninja/model"
	"github.com/daiguadaidai/go-pg-ninja/translator"
	"github.com/juju/errors"
)

// 写入 DDL 时需要读写的目标库信息
type DDLCatalog interface {
	TableExists(_ctx context.Context, _schema string, _table string) (bool, error)
	ViewExists(_ctx context.Context, _schema string, _view string) (bool, error)
	GetTablePkey(_ctx context.Context, _schema string, _table string) ([]string, error)
	ExecImmediate(_ctx context.Context, _statements []string) error
	StoreTable(_ctx context.Context, _schema string, _table string, _pkey []string) error
	Unregister(_schema string, _table string) error
}

type PgDDLCatalog struct {
	*dao.PgInspector
	tableDao *dao.ReplicaTableDao
}

func NewPgDDLCatalog(_instance *gdbc.PgInstance, _sourceID int64) *PgDDLCatalog {
	return &PgDDLCatalog{
		PgInspector: dao.NewPgInspector(_instance, _sourceID),
		tableDao:    dao.NewReplicaTableDao(_instance),
	}
}

// ALTER TYPE ... ADD VALUE 不能在多语句中执行, 直接在目标库执行
func (this *PgDDLCatalog) ExecImmediate(_ctx context.Context, _statements []string) error {
	for _, statement := range _statements {
		if _, err := this.Instance.Pool.Exec(_ctx, statement); err != nil {
			return errors.Annotatef(err, "执行: %v", statement)
		}
		logger.M.Infof("%v: 成功. 执行: %v", common.CurrLine(), statement)
	}

	return nil
}

func (this *PgDDLCatalog) StoreTable(_ctx context.Context, _schema string, _table string, _pkey []string) error {
	return this.tableDao.StoreTable(_ctx, this.SourceID, _schema, _table, _pkey, nil)
}

func (this *PgDDLCatalog) Unregister(_schema string, _table string) error {
	return this.tableDao.Unregister(this.SourceID, _schema, _table)
}

// 把源库的 DDL 翻译后作为 ddl 事件写入日志
type DDLWriter struct {
	Context    *config.SourceContext
	Translator *translator.Translator
	Catalog    DDLCatalog
}

func NewDDLWriter(_context *config.SourceContext, _catalog DDLCatalog, _inspector translator.CatalogInspector) *DDLWriter {
	return &DDLWriter{
		Context:    _context,
		Translator: translator.NewTranslator(_context.Config.TypeOverride, _inspector),
		Catalog:    _catalog,
	}
}

/* 解析并翻译一个 DDL 语句
Params:
    _ctx: 上下文
    _query: binlog 中的语句
    _originSchema: 执行语句时的默认库
    _position: 语句的位点
    _eventTime: 语句在源库执行的时间
Return:
    需要写入日志的事件. 不支持的语句返回空
*/
func (this *DDLWriter) WriteDDL(
	_ctx context.Context,
	_query string,
	_originSchema string,
	_position *model.Position,
	_eventTime int64,
) ([]*model.RowEvent, error) {
	commands, err := translator.ParseDDL(_query)
	if err != nil {
		if errors.Cause(err) == common.ErrUnsupportedCommand {
			logger.M.Debugf("%v: 忽略语句: %v", common.CurrLine(), _query)
			return nil, nil
		}
		return nil, errors.Annotatef(err, "解析DDL: %v", _query)
	}

	return this.WriteCommands(_ctx, commands, _originSchema, _position, _eventTime)
}

// 翻译已经解析的命令
func (this *DDLWriter) WriteCommands(
	_ctx context.Context,
	_commands []translator.Command,
	_originSchema string,
	_position *model.Position,
	_eventTime int64,
) ([]*model.RowEvent, error) {
	events := make([]*model.RowEvent, 0, len(_commands))
	for _, command := range _commands {
		event, err := this.writeCommand(_ctx, command, _originSchema, _position, _eventTime)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if event != nil {
			events = append(events, event)
		}
	}

	return events, nil
}

func (this *DDLWriter) writeCommand(
	_ctx context.Context,
	_command translator.Command,
	_originSchema string,
	_position *model.Position,
	_eventTime int64,
) (*model.RowEvent, error) {
	origin := _command.SchemaName()
	if origin == "" {
		origin = _originSchema
	}
	table := _command.TableName()
	names, ok := this.Context.GetSchemaNames(origin)
	if !ok || !this.Context.IsTableInScope(origin, table) {
		logger.M.Debugf("%v: 表 %v 不需要复制, 忽略DDL", common.CurrLine(), common.GetTableKey(origin, table))
		return nil, nil
	}

	// 先检查表, RENAME 的注册会移除旧表
	_, isCreate := _command.(*translator.CreateTable)
	write := isCreate
	if !write {
		var err error
		if write, err = this.isReplicated(_ctx, names.Clear, table); err != nil {
			return nil, errors.Trace(err)
		}
	}
	if !write {
		logger.M.Infof("%v: 表 %v 在目标库中不存在, 忽略DDL", common.CurrLine(), common.GetTableKey(names.Clear, table))
		return nil, nil
	}

	result, err := this.Translator.Translate(_ctx, _command, origin, names.Clear)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(result.Immediate) > 0 {
		if err := this.Catalog.ExecImmediate(_ctx, result.Immediate); err != nil {
			return nil, errors.Trace(err)
		}
	}
	for _, registration := range result.Registrations {
		if err := this.register(_ctx, registration); err != nil {
			return nil, errors.Trace(err)
		}
	}
	if len(result.Statements) == 0 {
		return nil, nil
	}

	statements, err := this.wrapView(_ctx, _command, result, names)
	if err != nil {
		return nil, errors.Trace(err)
	}

	action := model.ACTION_DDL
	if _, ok := _command.(*translator.TruncateTable); ok {
		action = model.ACTION_TRUNCATE
	}
	translated := &translator.Result{Statements: statements}

	return &model.RowEvent{
		Schema:         names.Clear,
		Table:          result.Table,
		Action:         action,
		BinlogName:     _position.LogFile,
		BinlogPosition: _position.LogPos,
		EventTime:      _eventTime,
		Query:          translated.Query(),
	}, nil
}

// 表已经在目标库或者已经注册
func (this *DDLWriter) isReplicated(_ctx context.Context, _schema string, _table string) (bool, error) {
	exists, err := this.Catalog.TableExists(_ctx, _schema, _table)
	if err != nil || exists {
		return exists, errors.Trace(err)
	}
	pkey, err := this.Catalog.GetTablePkey(_ctx, _schema, _table)
	if err != nil {
		return false, errors.Trace(err)
	}

	return pkey != nil, nil
}

func (this *DDLWriter) register(_ctx context.Context, _registration *translator.Registration) error {
	switch _registration.Action {
	case translator.REGISTRATION_STORE:
		return errors.Trace(this.Catalog.StoreTable(_ctx, _registration.Schema, _registration.Table, _registration.Pkey))
	case translator.REGISTRATION_UNREGISTER:
		return errors.Trace(this.Catalog.Unregister(_registration.Schema, _registration.Table))
	}

	return errors.NotValidf("注册操作 %v", _registration.Action)
}

/* 脱敏 schema 中有同名视图时, 视图依赖 clear 表, 需要先删除再重建.
RENAME 之后视图使用新的名字, DROP 之后不再重建
*/
func (this *DDLWriter) wrapView(
	_ctx context.Context,
	_command translator.Command,
	_result *translator.Result,
	_names *config.SchemaNames,
) ([]string, error) {
	table := _command.TableName()
	viewExists, err := this.Catalog.ViewExists(_ctx, _names.Obfuscate, table)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if !viewExists {
		return _result.Statements, nil
	}

	dropView := fmt.Sprintf("DROP VIEW IF EXISTS %v CASCADE;", common.FormatTableName(_names.Obfuscate, table))
	switch command := _command.(type) {
	case *translator.RenameTable:
		statements := append([]string{dropView}, _result.Statements...)
		return append(statements, fmt.Sprintf("CREATE OR REPLACE VIEW %v AS SELECT * FROM %v;",
			common.FormatTableName(_names.Obfuscate, command.NewName),
			common.FormatTableName(_names.Clear, command.NewName))), nil
	case *translator.DropTable:
		return append([]string{dropView}, _result.Statements...), nil
	}

	return translator.WrapWithView(_result.Statements, _names.Clear, _names.Obfuscate, table), nil
}
