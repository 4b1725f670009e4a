package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/daiguadaidai/go-pg-ninja/common"
	"github.com/daiguadaidai/go-pg-ninja/logger"
	"github.com/daiguadaidai/go-pg-ninja/model"
	mysqlsql "github.com/daiguadaidai/go-pg-ninja/sql"
	"github.com/juju/errors"
	"go.uber.org/multierr"
)

/* MySQL 数据源的快照. 在全局读锁下为每个拷贝线程打开一个一致性快照事务,
同时读取 binlog 位点作为高水位, 然后释放读锁
*/
type MysqlSnapshot struct {
	*Snapshot

	conns chan *sql.Conn
}

// 获取一个处于快照事务中的链接, 使用完之后需要 Put 回去
func (this *MysqlSnapshot) Acquire(_ctx context.Context) (*sql.Conn, error) {
	select {
	case conn := <-this.conns:
		return conn, nil
	case <-_ctx.Done():
		return nil, errors.Trace(_ctx.Err())
	}
}

func (this *MysqlSnapshot) Put(_conn *sql.Conn) {
	this.conns <- _conn
}

type MysqlCoordinator struct {
	DB      *sql.DB
	Workers int
}

func NewMysqlCoordinator(_db *sql.DB, _workers int) *MysqlCoordinator {
	if _workers <= 0 {
		_workers = 1
	}

	return &MysqlCoordinator{
		DB:      _db,
		Workers: _workers,
	}
}

func (this *MysqlCoordinator) BeginSnapshot(_ctx context.Context) (*MysqlSnapshot, error) {
	lockConn, err := this.DB.Conn(_ctx)
	if err != nil {
		return nil, errors.Annotate(err, "获取加锁链接")
	}
	defer lockConn.Close()

	if _, err := lockConn.ExecContext(_ctx, "FLUSH TABLES WITH READ LOCK"); err != nil {
		return nil, errors.Annotate(err, "FLUSH TABLES WITH READ LOCK")
	}
	logger.M.Infof("%v: 成功. 获取全局读锁", common.CurrLine())

	conns, err := this.openSnapshotConns(_ctx)
	if err != nil {
		lockConn.ExecContext(context.Background(), "UNLOCK TABLES")
		return nil, errors.Trace(err)
	}

	watermark, err := masterStatus(_ctx, lockConn)
	if _, unlockErr := lockConn.ExecContext(context.Background(), "UNLOCK TABLES"); unlockErr != nil {
		err = multierr.Append(err, errors.Annotate(unlockErr, "UNLOCK TABLES"))
	}
	if err != nil {
		closeConns(conns)
		return nil, errors.Trace(err)
	}
	logger.M.Infof("%v: 成功. 释放全局读锁, 快照位点: %v, 链接数: %v", common.CurrLine(), watermark, len(conns))

	pool := make(chan *sql.Conn, len(conns))
	for _, conn := range conns {
		pool <- conn
	}

	snapshot := &MysqlSnapshot{conns: pool}
	snapshot.Snapshot = newSnapshot(watermark.String(), watermark, func() error {
		// 所有拷贝已经结束, 链接都已经归还
		held := make([]*sql.Conn, 0, len(conns))
		for i := 0; i < len(conns); i++ {
			held = append(held, <-pool)
		}
		return closeConns(held)
	})

	return snapshot, nil
}

func (this *MysqlCoordinator) openSnapshotConns(_ctx context.Context) ([]*sql.Conn, error) {
	conns := make([]*sql.Conn, 0, this.Workers)
	for i := 0; i < this.Workers; i++ {
		conn, err := this.DB.Conn(_ctx)
		if err != nil {
			closeConns(conns)
			return nil, errors.Annotate(err, "获取快照链接")
		}
		conns = append(conns, conn)

		statements := []string{
			"SET SESSION TRANSACTION ISOLATION LEVEL REPEATABLE READ",
			"START TRANSACTION WITH CONSISTENT SNAPSHOT",
		}
		for _, statement := range statements {
			if _, err := conn.ExecContext(_ctx, statement); err != nil {
				closeConns(conns)
				return nil, errors.Annotatef(err, "执行: %v", statement)
			}
		}
	}

	return conns, nil
}

// 读取当前 binlog 文件和位点
func masterStatus(_ctx context.Context, _conn *sql.Conn) (*model.Position, error) {
	rows, err := mysqlsql.NewMySQLTool(_conn).FetchAllMap(_ctx, "SHOW MASTER STATUS")
	if err != nil {
		return nil, errors.Annotate(err, "SHOW MASTER STATUS")
	}
	if len(rows) == 0 || rows[0]["File"] == nil || rows[0]["Position"] == nil {
		return nil, errors.NotFoundf("binlog 位点, 请确认 MySQL 开启了 binlog")
	}

	logFile := fmt.Sprintf("%v", rows[0]["File"])
	logPos, err := strconv.ParseInt(fmt.Sprintf("%v", rows[0]["Position"]), 10, 64)
	if err != nil {
		return nil, errors.Annotatef(err, "binlog 位点 %v", rows[0]["Position"])
	}

	return model.NewPosition(logFile, logPos), nil
}

func closeConns(_conns []*sql.Conn) error {
	var err error
	for _, conn := range _conns {
		if _, commitErr := conn.ExecContext(context.Background(), "COMMIT"); commitErr != nil {
			err = multierr.Append(err, commitErr)
		}
		err = multierr.Append(err, conn.Close())
	}

	return err
}
