package snapshot

import (
	"context"

	"github.com/daiguadaidai/go-pg-ninja/common"
	"github.com/daiguadaidai/go-pg-ninja/gdbc"
	"github.com/daiguadaidai/go-pg-ninja/logger"
	"github.com/daiguadaidai/go-pg-ninja/model"
	"github.com/daiguadaidai/go-pg-ninja/setting"
	"github.com/jackc/pgx/v5"
	"github.com/juju/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

/* 一个持有中的快照. 持有方在单独的 goroutine 中等待释放信号,
收到之后提交事务并关闭链接
*/
type Snapshot struct {
	id        string
	watermark *model.Position

	released *atomic.Bool
	release  chan struct{}
	done     chan struct{}
	err      error
}

/* 创建快照并启动持有 goroutine
Params:
    _id: 快照ID
    _watermark: 快照对应的 binlog 位点, PostgreSQL 数据源为 nil
    _finish: 收到释放信号之后执行, 一般是提交事务并关闭链接
*/
func newSnapshot(_id string, _watermark *model.Position, _finish func() error) *Snapshot {
	snapshot := &Snapshot{
		id:        _id,
		watermark: _watermark,
		released:  atomic.NewBool(false),
		release:   make(chan struct{}),
		done:      make(chan struct{}),
	}

	go func() {
		defer close(snapshot.done)

		<-snapshot.release
		snapshot.err = _finish()
		if snapshot.err != nil {
			logger.M.Errorf("%v: 失败. 释放快照 %v. %v", common.CurrLine(), _id, snapshot.err)
			return
		}
		logger.M.Infof("%v: 成功. 释放快照 %v", common.CurrLine(), _id)
	}()

	return snapshot
}

func (this *Snapshot) ID() string {
	return this.id
}

func (this *Snapshot) HighWatermark() *model.Position {
	return this.watermark
}

// 释放快照, 可以多次调用
func (this *Snapshot) Release() {
	if this.released.CAS(false, true) {
		close(this.release)
	}
}

// 等待持有方退出, 返回提交事务的错误
func (this *Snapshot) Wait() error {
	<-this.done
	return this.err
}

// PostgreSQL 数据源的快照协调者
type Coordinator struct {
	PgConfig        *setting.PgConfig
	ApplicationName string
}

func NewCoordinator(_pgConfig *setting.PgConfig, _applicationName string) *Coordinator {
	return &Coordinator{
		PgConfig:        _pgConfig,
		ApplicationName: _applicationName,
	}
}

/* 打开一个可重复读事务并导出快照, 事务一直保持到 Release.
Params:
    _ctx: 只用于建立链接和导出快照, 之后取消不会结束持有
*/
func (this *Coordinator) BeginSnapshot(_ctx context.Context) (*Snapshot, error) {
	// 持有快照的链接不能有锁超时
	conn, err := gdbc.NewPgConn(_ctx, this.PgConfig, gdbc.SessionOption{
		ApplicationName: this.ApplicationName,
		LockTimeout:     "0",
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	tx, err := conn.BeginTx(_ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		conn.Close(context.Background())
		return nil, errors.Annotate(err, "开启快照事务")
	}

	var snapshotID string
	if err := tx.QueryRow(_ctx, "SELECT pg_export_snapshot()").Scan(&snapshotID); err != nil {
		tx.Rollback(context.Background())
		conn.Close(context.Background())
		return nil, errors.Annotate(err, "导出快照")
	}
	logger.M.Infof("%v: 成功. 导出快照 %v", common.CurrLine(), snapshotID)

	return newSnapshot(snapshotID, nil, func() error {
		err := tx.Commit(context.Background())
		return multierr.Append(err, conn.Close(context.Background()))
	}), nil
}
