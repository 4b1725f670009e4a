package initload

import (
	"context"
	"fmt"
	"io"

	"github.com/daiguadaidai/go-pg-ninja/common"
	"github.com/daiguadaidai/go-pg-ninja/config"
	"github.com/daiguadaidai/go-pg-ninja/gdbc"
	"github.com/daiguadaidai/go-pg-ninja/logger"
	"github.com/jackc/pgx/v5"
	"github.com/juju/errors"
)

// 目标库上初始化需要的操作
type Destination interface {
	CreateSchema(_ctx context.Context, _schema string) error
	DropSchema(_ctx context.Context, _schema string) error
	Exec(_ctx context.Context, _statement string) error
	CopyIn(_ctx context.Context, _schema string, _table string, _reader io.Reader) (int64, error)
	GrantSelect(_ctx context.Context, _schema string, _role string) error
	// 在一个事务中交换 loading 和目标 schema
	SwapSchemas(_ctx context.Context, _names []*config.SchemaNames) error
}

type PgDestination struct {
	Instance    *gdbc.PgInstance
	LockTimeout string
}

func NewPgDestination(_instance *gdbc.PgInstance, _lockTimeout string) *PgDestination {
	return &PgDestination{
		Instance:    _instance,
		LockTimeout: _lockTimeout,
	}
}

func (this *PgDestination) CreateSchema(_ctx context.Context, _schema string) error {
	sql := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %v;", common.QuoteIdent(_schema))
	if _, err := this.Instance.Pool.Exec(_ctx, sql); err != nil {
		return errors.Annotatef(err, "创建 schema %v", _schema)
	}

	return nil
}

func (this *PgDestination) DropSchema(_ctx context.Context, _schema string) error {
	sql := fmt.Sprintf("DROP SCHEMA IF EXISTS %v CASCADE;", common.QuoteIdent(_schema))
	if _, err := this.Instance.Pool.Exec(_ctx, sql); err != nil {
		return errors.Annotatef(err, "删除 schema %v", _schema)
	}

	return nil
}

func (this *PgDestination) Exec(_ctx context.Context, _statement string) error {
	if _, err := this.Instance.Pool.Exec(_ctx, _statement); err != nil {
		return errors.Annotatef(err, "执行: %v", _statement)
	}

	return nil
}

// COPY text 格式导入
func (this *PgDestination) CopyIn(_ctx context.Context, _schema string, _table string, _reader io.Reader) (int64, error) {
	conn, err := this.Instance.Pool.Acquire(_ctx)
	if err != nil {
		return 0, errors.Trace(err)
	}
	defer conn.Release()

	sql := fmt.Sprintf("COPY %v FROM STDIN", common.FormatTableName(_schema, _table))
	tag, err := conn.Conn().PgConn().CopyFrom(_ctx, _reader, sql)
	if err != nil {
		return 0, errors.Annotatef(err, "导入表 %v", common.GetTableKey(_schema, _table))
	}

	return tag.RowsAffected(), nil
}

/* 授予 schema 下所有表的查询权限
Return:
    角色不存在时返回 42704 错误
*/
func (this *PgDestination) GrantSelect(_ctx context.Context, _schema string, _role string) error {
	schema, role := common.QuoteIdent(_schema), common.QuoteIdent(_role)
	statements := []string{
		fmt.Sprintf("GRANT USAGE ON SCHEMA %v TO %v;", schema, role),
		fmt.Sprintf("GRANT SELECT ON ALL TABLES IN SCHEMA %v TO %v;", schema, role),
		fmt.Sprintf("ALTER DEFAULT PRIVILEGES IN SCHEMA %v GRANT SELECT ON TABLES TO %v;", schema, role),
	}
	for _, statement := range statements {
		if _, err := this.Instance.Pool.Exec(_ctx, statement); err != nil {
			return errors.Annotatef(err, "执行: %v", statement)
		}
	}

	return nil
}

/* 目标 -> 临时, loading -> 目标, 临时 -> loading. clear 和 obfuscate 在同一个事务中交换
Params:
    _names: 所有源 schema 对应的目标 schema
*/
func (this *PgDestination) SwapSchemas(_ctx context.Context, _names []*config.SchemaNames) error {
	return pgx.BeginFunc(_ctx, this.Instance.Pool, func(tx pgx.Tx) error {
		if this.LockTimeout != "" {
			if _, err := tx.Exec(_ctx, "SELECT set_config('lock_timeout', $1, true)", this.LockTimeout); err != nil {
				return errors.Annotate(err, "设置 lock_timeout")
			}
		}

		for _, names := range _names {
			pairs := [][2]string{
				{names.Clear, names.LoadingClear},
				{names.Obfuscate, names.LoadingObfuscate},
			}
			for _, pair := range pairs {
				for _, statement := range swapStatements(pair[0], pair[1]) {
					logger.M.Debugf("%v: 执行: %v", common.CurrLine(), statement)
					if _, err := tx.Exec(_ctx, statement); err != nil {
						return errors.Annotatef(err, "交换 schema %v 和 %v", pair[0], pair[1])
					}
				}
			}
		}

		return nil
	})
}

func swapStatements(_destination string, _loading string) []string {
	temporary := config.GetRenameSchemaName(_destination)
	rename := "ALTER SCHEMA %v RENAME TO %v;"

	return []string{
		fmt.Sprintf(rename, common.QuoteIdent(_destination), common.QuoteIdent(temporary)),
		fmt.Sprintf(rename, common.QuoteIdent(_loading), common.QuoteIdent(_destination)),
		fmt.Sprintf(rename, common.QuoteIdent(temporary), common.QuoteIdent(_loading)),
	}
}
