package catalog

import (
	"context"
	"strconv"

	"github.com/daiguadaidai/go-pg-ninja/common"
	"github.com/daiguadaidai/go-pg-ninja/logger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/juju/errors"
)

// 多个进程同时升级时使用的 advisory lock
const upgradeLockKey = 0x70676e6a

// 执行元数据变更需要的数据库能力, *pgxpool.Pool 和 *pgx.Conn 都满足
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

/* 获取当前元数据版本
Return:
    "" 表示元数据 schema 还没有创建
*/
func GetCatalogVersion(_ctx context.Context, _db DB) (string, error) {
	var exists bool
	sqlCheck := `SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)`
	if err := _db.QueryRow(_ctx, sqlCheck, REPLICA_SCHEMA).Scan(&exists); err != nil {
		return "", errors.Annotate(err, "检查复制元数据 schema")
	}
	if !exists {
		return "", nil
	}

	var version *string
	if err := _db.QueryRow(_ctx, `SELECT t_version FROM sch_ninja.v_version`).Scan(&version); err != nil {
		return "", errors.Annotate(err, "获取复制元数据版本")
	}
	if version == nil {
		return "", nil
	}

	return *version, nil
}

func currentVersion(_ctx context.Context, _db DB) (int, error) {
	version, err := GetCatalogVersion(_ctx, _db)
	if err != nil {
		return 0, errors.Trace(err)
	}
	if version == "" {
		return 0, nil
	}

	current, err := strconv.Atoi(version)
	if err != nil {
		return 0, errors.Annotatef(err, "元数据版本格式错误 %v", version)
	}

	return current, nil
}

/* 按版本号顺序执行还没有执行的变更, 每个版本一个事务
Return:
    本次执行的版本号
*/
func Upgrade(_ctx context.Context, _db DB) ([]int, error) {
	return upgrade(_ctx, _db, Migrations)
}

func upgrade(_ctx context.Context, _db DB, _migrations []*Migration) ([]int, error) {
	current, err := currentVersion(_ctx, _db)
	if err != nil {
		return nil, errors.Trace(err)
	}

	applied := make([]int, 0, len(_migrations))
	for _, migration := range pending(_migrations, current) {
		done, err := apply(_ctx, _db, migration)
		if err != nil {
			return applied, errors.Annotatef(err, "执行元数据版本 %v", migration.Version)
		}
		if !done {
			logger.M.Infof("%v: 元数据版本 %v 已经被其他进程执行", common.CurrLine(), migration.Version)
			continue
		}
		applied = append(applied, migration.Version)
		logger.M.Infof("%v: 成功. 复制元数据升级到版本 %v: %v", common.CurrLine(), migration.Version, migration.Description)
	}

	if len(applied) == 0 {
		logger.M.Infof("%v: 复制元数据已经是最新版本 %v", common.CurrLine(), current)
	}

	return applied, nil
}

// 版本号大于当前版本的变更
func pending(_migrations []*Migration, _current int) []*Migration {
	migrations := make([]*Migration, 0, len(_migrations))
	for _, migration := range _migrations {
		if migration.Version > _current {
			migrations = append(migrations, migration)
		}
	}

	return migrations
}

/* 在一个事务中执行一个版本的变更
Return:
    false 表示拿到锁之后发现版本已经执行过
*/
func apply(_ctx context.Context, _db DB, _migration *Migration) (bool, error) {
	tx, err := _db.Begin(_ctx)
	if err != nil {
		return false, errors.Trace(err)
	}
	defer tx.Rollback(context.Background())

	if _, err := tx.Exec(_ctx, "SELECT pg_advisory_xact_lock($1)", int64(upgradeLockKey)); err != nil {
		return false, errors.Annotate(err, "获取升级锁")
	}

	// 拿到锁之后再确认一次, 其他进程可能已经执行过
	done, err := isApplied(_ctx, tx, _migration.Version)
	if err != nil {
		return false, errors.Trace(err)
	}
	if done {
		return false, nil
	}

	for _, statement := range _migration.Statements {
		if _, err := tx.Exec(_ctx, statement); err != nil {
			return false, errors.Annotatef(err, "执行: %v", statement)
		}
	}

	sqlVersion := `INSERT INTO sch_ninja.t_version (i_version, t_description) VALUES ($1, $2)`
	if _, err := tx.Exec(_ctx, sqlVersion, _migration.Version, _migration.Description); err != nil {
		return false, errors.Annotate(err, "记录元数据版本")
	}

	return true, errors.Trace(tx.Commit(_ctx))
}

// 版本表还不存在时所有版本都没有执行
func isApplied(_ctx context.Context, _tx pgx.Tx, _version int) (bool, error) {
	var done bool
	sqlDone := `SELECT to_regclass('sch_ninja.t_version') IS NOT NULL`
	if err := _tx.QueryRow(_ctx, sqlDone).Scan(&done); err != nil {
		return false, errors.Annotate(err, "检查元数据版本表")
	}
	if !done {
		return false, nil
	}

	sqlDone = `SELECT EXISTS (SELECT 1 FROM sch_ninja.t_version WHERE i_version = $1)`
	if err := _tx.QueryRow(_ctx, sqlDone, _version).Scan(&done); err != nil {
		return false, errors.Annotatef(err, "检查元数据版本 %v", _version)
	}

	return done, nil
}

// 创建复制元数据, 已经存在时只做升级
func Create(_ctx context.Context, _db DB) error {
	version, err := GetCatalogVersion(_ctx, _db)
	if err != nil {
		return errors.Trace(err)
	}
	if version != "" {
		logger.M.Warnf("%v: 警告. 复制元数据 schema 已经存在, 版本 %v", common.CurrLine(), version)
	}

	_, err = Upgrade(_ctx, _db)
	return errors.Trace(err)
}

// 删除复制元数据, 已经复制的表保留
func Drop(_ctx context.Context, _db DB) error {
	if _, err := _db.Exec(_ctx, `DROP SCHEMA IF EXISTS sch_ninja CASCADE`); err != nil {
		return errors.Annotate(err, "删除复制元数据 schema")
	}
	logger.M.Infof("%v: 成功. 删除复制元数据 schema %v", common.CurrLine(), REPLICA_SCHEMA)

	return nil
}
