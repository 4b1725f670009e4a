package gdbc

import (
	"context"
	"database/sql"

	"github.com/daiguadaidai/go-pg-ninja/setting"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/postgres"
	"github.com/juju/errors"
	"go.uber.org/multierr"
)

// 目标库实例, pgx 链接池负责数据路径, orm 负责复制元数据的简单读写
type PgInstance struct {
	Pool *pgxpool.Pool
	Orm  *gorm.DB

	sqlDB *sql.DB
}

/* 创建目标库实例, orm 和 pgx 共用同一个链接池
Params:
    _ctx: 上下文
    _pgConfig: 目标库配置
    _option: 会话参数
*/
func NewPgInstance(_ctx context.Context, _pgConfig *setting.PgConfig, _option SessionOption) (*PgInstance, error) {
	pool, err := NewPgPool(_ctx, _pgConfig, _option)
	if err != nil {
		return nil, errors.Trace(err)
	}

	instance, err := NewPgInstanceFromPool(pool)
	if err != nil {
		pool.Close()
		return nil, errors.Trace(err)
	}

	return instance, nil
}

func NewPgInstanceFromPool(_pool *pgxpool.Pool) (*PgInstance, error) {
	sqlDB := stdlib.OpenDBFromPool(_pool)

	ormDB, err := gorm.Open("postgres", sqlDB)
	if err != nil {
		sqlDB.Close()
		return nil, errors.Annotate(err, "打开ORM数据库实例错误")
	}
	ormDB.SingularTable(true)
	ormDB.LogMode(false)

	return &PgInstance{
		Pool:  _pool,
		Orm:   ormDB,
		sqlDB: sqlDB,
	}, nil
}

func (this *PgInstance) Close() error {
	var err error
	if this.Orm != nil {
		err = multierr.Append(err, this.Orm.Close())
	}
	if this.sqlDB != nil {
		err = multierr.Append(err, this.sqlDB.Close())
	}
	if this.Pool != nil {
		this.Pool.Close()
	}

	return err
}
