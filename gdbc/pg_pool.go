package gdbc

import (
	"context"
	"time"

	"github.com/daiguadaidai/go-pg-ninja/common"
	"github.com/daiguadaidai/go-pg-ninja/logger"
	"github.com/daiguadaidai/go-pg-ninja/setting"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juju/errors"
)

// 目标库链接池的会话参数
type SessionOption struct {
	ApplicationName string
	LockTimeout     string // 为空不设置, "0" 表示不超时
}

/* 创建 PostgreSQL 链接池
Params:
    _ctx: 上下文, 只用于建立链接
    _pgConfig: 链接配置
    _option: 每个新链接需要设置的会话参数
*/
func NewPgPool(_ctx context.Context, _pgConfig *setting.PgConfig, _option SessionOption) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(_pgConfig.GetDSN())
	if err != nil {
		return nil, errors.Annotatef(err, "解析DSN失败. %v", _pgConfig.GetFuzzyDSN())
	}

	poolConfig.MaxConns = _pgConfig.MaxConns
	poolConfig.MinConns = _pgConfig.MinConns
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	// 每个新链接设置 application_name 和 lock_timeout
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return setSession(ctx, conn, _option)
	}

	pool, err := pgxpool.NewWithConfig(_ctx, poolConfig)
	if err != nil {
		return nil, errors.Annotatef(err, "创建链接池失败. %v", _pgConfig.GetFuzzyDSN())
	}

	if err := pool.Ping(_ctx); err != nil {
		pool.Close()
		return nil, errors.Annotatef(err, "ping数据库失败. %v", _pgConfig.GetFuzzyDSN())
	}
	logger.M.Infof("%v: 成功. 创建链接池 %v, application_name: %v",
		common.CurrLine(), _pgConfig.GetFuzzyDSN(), _option.ApplicationName)

	return pool, nil
}

/* 创建一个独立的 PostgreSQL 链接, 快照和数据拷贝使用
Params:
    _ctx: 上下文
    _pgConfig: 链接配置
    _option: 会话参数
*/
func NewPgConn(_ctx context.Context, _pgConfig *setting.PgConfig, _option SessionOption) (*pgx.Conn, error) {
	connConfig, err := pgx.ParseConfig(_pgConfig.GetDSN())
	if err != nil {
		return nil, errors.Annotatef(err, "解析DSN失败. %v", _pgConfig.GetFuzzyDSN())
	}

	conn, err := pgx.ConnectConfig(_ctx, connConfig)
	if err != nil {
		return nil, errors.Annotatef(err, "链接数据库失败. %v", _pgConfig.GetFuzzyDSN())
	}

	if err := setSession(_ctx, conn, _option); err != nil {
		conn.Close(context.Background())
		return nil, errors.Trace(err)
	}

	return conn, nil
}

func setSession(_ctx context.Context, _conn *pgx.Conn, _option SessionOption) error {
	if _option.ApplicationName != "" {
		if _, err := _conn.Exec(_ctx, "SELECT set_config('application_name', $1, false)", _option.ApplicationName); err != nil {
			return errors.Annotate(err, "设置 application_name")
		}
	}

	if _option.LockTimeout != "" {
		if _, err := _conn.Exec(_ctx, "SELECT set_config('lock_timeout', $1, false)", _option.LockTimeout); err != nil {
			return errors.Annotate(err, "设置 lock_timeout")
		}
	}

	return nil
}
