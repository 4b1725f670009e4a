package translator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/daiguadaidai/go-pg-ninja/common"
	"github.com/daiguadaidai/go-pg-ninja/setting"
	"github.com/juju/errors"
	"go.uber.org/atomic"
)

// 目标库中类型的种类, 与 pg_type.typtype 一致
const (
	TYPE_KIND_ENUM      = "e"
	TYPE_KIND_COMPOSITE = "c"
)

// 复制元数据的变更
const (
	REGISTRATION_STORE      = "store"
	REGISTRATION_UNREGISTER = "unregister"
)

// 目标库中已经存在的类型
type TypeInfo struct {
	Kind   string   // pg_type.typtype
	Labels []string // 枚举的值
}

// 翻译 DDL 时需要读取目标库的信息, 翻译过程中不写入
type CatalogInspector interface {
	// 类型不存在返回 nil
	GetType(_ctx context.Context, _schema string, _name string) (*TypeInfo, error)
	// 字段默认值表达式(去掉类型转换), 没有返回空字符串
	GetColumnDefault(_ctx context.Context, _schema string, _table string, _column string) (string, error)
	// 复制元数据中保存的主键, 表没有注册返回 nil
	GetTablePkey(_ctx context.Context, _schema string, _table string) ([]string, error)
	// 主键约束名称, 没有主键返回空字符串
	GetPrimaryKeyConstraint(_ctx context.Context, _schema string, _table string) (string, error)
}

// DDL 翻译后需要对复制元数据做的变更, 由写入方执行
type Registration struct {
	Action string
	Schema string
	Table  string
	Pkey   []string
}

func (this *Registration) String() string {
	return fmt.Sprintf("%v %v.%v pkey: %v", this.Action, this.Schema, this.Table, this.Pkey)
}

// 一个 DDL 命令翻译的结果
type Result struct {
	Command       Command
	Table         string   // 日志中记录的表名, RENAME 是新的表名
	Immediate     []string // 需要马上执行的语句(ALTER TYPE ... ADD VALUE), 不写日志
	Statements    []string // 写入日志的语句
	Registrations []*Registration
}

// 写入日志的 DDL, 多个语句使用空格连接
func (this *Result) Query() string {
	return strings.Join(this.Statements, " ")
}

func (this *Result) IsEmpty() bool {
	return len(this.Statements) == 0 && len(this.Immediate) == 0 && len(this.Registrations) == 0
}

// 类型和 DDL 翻译
type Translator struct {
	Types     *TypeMapper
	Inspector CatalogInspector

	now         func() time.Time
	idxSequence *atomic.Int64
}

/* 创建翻译器
Params:
    _overrides: 类型重写配置
    _inspector: 目标库信息, 只建表不翻译 DDL 时可以为 nil
*/
func NewTranslator(_overrides map[string]setting.TypeOverride, _inspector CatalogInspector) *Translator {
	return &Translator{
		Types:       NewTypeMapper(_overrides),
		Inspector:   _inspector,
		now:         time.Now,
		idxSequence: atomic.NewInt64(0),
	}
}

/* 翻译一个 DDL 命令
Params:
    _ctx: 上下文
    _command: 解析后的命令
    _originSchema: 源 schema
    _destSchema: 目标 clear schema
*/
func (this *Translator) Translate(_ctx context.Context, _command Command, _originSchema string, _destSchema string) (*Result, error) {
	builder := &ddlBuilder{
		ctx:          _ctx,
		translator:   this,
		originSchema: _originSchema,
		destSchema:   _destSchema,
		result: &Result{
			Command: _command,
			Table:   _command.TableName(),
		},
	}

	if err := _command.Accept(builder); err != nil {
		return nil, errors.Annotatef(err, "翻译DDL %v.%v", _destSchema, _command.TableName())
	}

	return builder.result, nil
}

// 访问每种命令生成语句
type ddlBuilder struct {
	ctx          context.Context
	translator   *Translator
	originSchema string
	destSchema   string
	result       *Result
}

func (this *ddlBuilder) tableName(_table string) string {
	return common.FormatTableName(this.destSchema, _table)
}

func (this *ddlBuilder) VisitRenameTable(_command *RenameTable) error {
	this.result.Table = _command.NewName
	this.result.Statements = append(this.result.Statements,
		fmt.Sprintf("ALTER TABLE %v RENAME TO %v;", this.tableName(_command.Name), common.QuoteIdent(_command.NewName)))

	pkey, err := this.translator.Inspector.GetTablePkey(this.ctx, this.destSchema, _command.Name)
	if err != nil {
		return errors.Trace(err)
	}
	if len(pkey) > 0 {
		this.result.Registrations = append(this.result.Registrations,
			&Registration{Action: REGISTRATION_STORE, Schema: this.destSchema, Table: _command.NewName, Pkey: pkey},
			&Registration{Action: REGISTRATION_UNREGISTER, Schema: this.destSchema, Table: _command.Name},
		)
	}

	return nil
}

func (this *ddlBuilder) VisitDropTable(_command *DropTable) error {
	this.result.Statements = append(this.result.Statements,
		fmt.Sprintf("DROP TABLE IF EXISTS %v;", this.tableName(_command.Name)))

	return nil
}

func (this *ddlBuilder) VisitTruncateTable(_command *TruncateTable) error {
	this.result.Statements = append(this.result.Statements,
		fmt.Sprintf("TRUNCATE TABLE %v CASCADE;", this.tableName(_command.Name)))

	return nil
}

func (this *ddlBuilder) VisitCreateTable(_command *CreateTable) error {
	ddl := this.translator.BuildCreateTable(DIALECT_MYSQL, this.originSchema, this.destSchema, _command.Name, _command.Columns)
	pkey, indexStatements := this.translator.BuildCreateIndex(this.destSchema, _command.Name, _command.Indices)

	this.result.Statements = append(this.result.Statements, ddl.Statements()...)
	this.result.Statements = append(this.result.Statements, IndexStatements(indexStatements)...)
	this.result.Registrations = append(this.result.Registrations,
		&Registration{Action: REGISTRATION_STORE, Schema: this.destSchema, Table: _command.Name, Pkey: pkey})

	return nil
}

// 主键约束马上删除, 表从复制中移除, 后面的事件都不再回放
func (this *ddlBuilder) VisitDropPrimaryKey(_command *DropPrimaryKey) error {
	constraint, err := this.translator.Inspector.GetPrimaryKeyConstraint(this.ctx, this.destSchema, _command.Name)
	if err != nil {
		return errors.Trace(err)
	}
	if constraint != "" {
		this.result.Immediate = append(this.result.Immediate, fmt.Sprintf("ALTER TABLE %v DROP CONSTRAINT %v;",
			this.tableName(_command.Name), common.QuoteIdent(constraint)))
	}
	this.result.Registrations = append(this.result.Registrations,
		&Registration{Action: REGISTRATION_UNREGISTER, Schema: this.destSchema, Table: _command.Name})

	return nil
}

/*
ALTER TABLE 语句顺序:
 1. 修改类型前: 创建/删除枚举类型, 删除默认值
 2. ADD/DROP 字段
 3. 修改字段类型, 重命名字段
 4. 修改类型后: 删除不用的枚举类型, 恢复默认值
*/
func (this *ddlBuilder) VisitAlterTable(_command *AlterTable) error {
	tableName := this.tableName(_command.Name)
	preAlter := make([]string, 0)
	addDrop := make([]string, 0)
	alter := make([]string, 0)
	postAlter := make([]string, 0)

	for _, alterColumn := range _command.Alters {
		switch alterColumn.Command {
		case ALTER_DROP:
			addDrop = append(addDrop, fmt.Sprintf("DROP COLUMN %v CASCADE", common.QuoteIdent(alterColumn.Name)))
		case ALTER_ADD:
			columnType, err := this.columnType(_command.Name, alterColumn.Column, &preAlter, &postAlter)
			if err != nil {
				return errors.Trace(err)
			}
			definition := fmt.Sprintf("ADD COLUMN %v %v NULL", common.QuoteIdent(alterColumn.Column.Name), columnType)
			if alterColumn.Column.Default != "" {
				definition += " DEFAULT " + alterColumn.Column.Default
			}
			addDrop = append(addDrop, definition)
		case ALTER_CHANGE, ALTER_MODIFY:
			oldName := alterColumn.Name
			newName := alterColumn.Column.Name
			columnType, err := this.columnType(_command.Name, alterColumn.Column, &preAlter, &postAlter)
			if err != nil {
				return errors.Trace(err)
			}

			defaultExpr, err := this.translator.Inspector.GetColumnDefault(this.ctx, this.destSchema, _command.Name, oldName)
			if err != nil {
				return errors.Trace(err)
			}
			if defaultExpr != "" {
				preAlter = append(preAlter, fmt.Sprintf("ALTER TABLE %v ALTER COLUMN %v DROP DEFAULT;",
					tableName, common.QuoteIdent(oldName)))
			}

			alter = append(alter, fmt.Sprintf("ALTER TABLE %v ALTER COLUMN %v SET DATA TYPE %v USING %v::%v;",
				tableName, common.QuoteIdent(oldName), columnType, common.QuoteIdent(oldName), columnType))
			if alterColumn.Command == ALTER_CHANGE && oldName != newName {
				alter = append(alter, fmt.Sprintf("ALTER TABLE %v RENAME COLUMN %v TO %v;",
					tableName, common.QuoteIdent(oldName), common.QuoteIdent(newName)))
			}

			if defaultExpr != "" {
				postAlter = append(postAlter, fmt.Sprintf("ALTER TABLE %v ALTER COLUMN %v SET DEFAULT %v;",
					tableName, common.QuoteIdent(newName), defaultExpr))
			}
		default:
			return errors.Annotatef(common.ErrMalformedDDL, "ALTER TABLE %v 操作 %v", _command.Name, alterColumn.Command)
		}
	}

	statements := make([]string, 0, len(preAlter)+len(alter)+len(postAlter)+1)
	statements = append(statements, preAlter...)
	if len(addDrop) > 0 {
		statements = append(statements, fmt.Sprintf("ALTER TABLE %v %v;", tableName, strings.Join(addDrop, ", ")))
	}
	statements = append(statements, alter...)
	statements = append(statements, postAlter...)
	this.result.Statements = append(this.result.Statements, statements...)

	return nil
}

/*
获取 ALTER TABLE 中字段的类型, 枚举字段根据目标库中类型的情况生成语句:
 1. 类型不存在: 创建类型
 2. 类型存在但不是枚举: 删除后重新创建
 3. 类型是枚举: 新增的值马上 ADD VALUE, 已经有的值不会删除
    字段不再是枚举但是类型存在时, 修改完之后删除类型
*/
func (this *ddlBuilder) columnType(_table string, _column *Column, _preAlter *[]string, _postAlter *[]string) (string, error) {
	pgType := this.translator.Types.GetDataType(_column, this.originSchema, _table)
	enumName := EnumTypeName(_table, _column.Name)
	typeName := common.FormatTableName(this.destSchema, enumName)

	typeInfo, err := this.translator.Inspector.GetType(this.ctx, this.destSchema, enumName)
	if err != nil {
		return "", errors.Trace(err)
	}

	if pgType != "enum" {
		if typeInfo != nil {
			*_postAlter = append(*_postAlter, fmt.Sprintf("DROP TYPE %v;", typeName))
		}
		return FormatDimension(pgType, _column.Dimension), nil
	}

	labels := _column.EnumList()
	switch {
	case typeInfo == nil:
		*_preAlter = append(*_preAlter, fmt.Sprintf("CREATE TYPE %v AS ENUM (%v);", typeName, quoteLabels(labels)))
	case typeInfo.Kind != TYPE_KIND_ENUM:
		*_preAlter = append(*_preAlter,
			fmt.Sprintf("DROP TYPE %v CASCADE;", typeName),
			fmt.Sprintf("CREATE TYPE %v AS ENUM (%v);", typeName, quoteLabels(labels)))
	default:
		existing := make(map[string]bool, len(typeInfo.Labels))
		for _, label := range typeInfo.Labels {
			existing[label] = true
		}
		for _, label := range labels {
			if !existing[label] {
				this.result.Immediate = append(this.result.Immediate,
					fmt.Sprintf("ALTER TYPE %v ADD VALUE %v;", typeName, common.QuoteLiteral(label)))
			}
		}
	}

	return typeName, nil
}

func quoteLabels(_labels []string) string {
	quoted := make([]string, 0, len(_labels))
	for _, label := range _labels {
		quoted = append(quoted, common.QuoteLiteral(label))
	}

	return strings.Join(quoted, ",")
}

/* 脱敏 schema 中有同名视图时, 修改表结构需要先删除视图, 之后重新创建
Params:
    _clearSchema: clear schema
    _obfSchema: 脱敏 schema
    _table: 表名
*/
func WrapWithView(_statements []string, _clearSchema string, _obfSchema string, _table string) []string {
	viewName := common.FormatTableName(_obfSchema, _table)
	wrapped := make([]string, 0, len(_statements)+2)
	wrapped = append(wrapped, fmt.Sprintf("DROP VIEW IF EXISTS %v CASCADE;", viewName))
	wrapped = append(wrapped, _statements...)
	wrapped = append(wrapped, fmt.Sprintf("CREATE OR REPLACE VIEW %v AS SELECT * FROM %v;",
		viewName, common.FormatTableName(_clearSchema, _table)))

	return wrapped
}
