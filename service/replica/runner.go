package replica

import (
	"context"
	"time"

	"github.com/daiguadaidai/go-pg-ninja/common"
	"github.com/daiguadaidai/go-pg-ninja/config"
	"github.com/daiguadaidai/go-pg-ninja/dao"
	"github.com/daiguadaidai/go-pg-ninja/gdbc"
	"github.com/daiguadaidai/go-pg-ninja/logger"
	"github.com/daiguadaidai/go-pg-ninja/matemap"
	"github.com/daiguadaidai/go-pg-ninja/model"
	"github.com/daiguadaidai/go-pg-ninja/service/capture"
	"github.com/daiguadaidai/go-pg-ninja/setting"
	mysqlsql "github.com/daiguadaidai/go-pg-ninja/sql"
	"github.com/juju/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

type batchReplayer interface {
	Replay(_ctx context.Context) (bool, error)
	Prune(_ctx context.Context) (int64, error)
}

type consistencyChecker interface {
	CheckConsistency(_ctx context.Context) (bool, error)
}

/* 启动复制: 读取 binlog 写入日志, 同时回放日志到目标库. ctx 取消后停止.
Return:
    出错时数据源状态设置为 error, 取消时设置为 stopped
*/
func (this *Engine) StartReplica(_ctx context.Context) (err error) {
	source, sourceContext, err := this.loadSource(_ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if sourceContext.Config.Type != setting.SOURCE_TYPE_MYSQL {
		return errors.NotSupportedf("数据源 %v 类型 %v 复制", source.Source, sourceContext.Config.Type)
	}
	if source.Status == model.SOURCE_STATUS_INITIALISING {
		return errors.NotValidf("数据源 %v 正在初始化, 启动复制", source.Source)
	}

	start, err := this.startPosition(_ctx, source)
	if err != nil {
		return errors.Trace(err)
	}

	if err := this.sourceDao.SetStatus(source.IDSource, model.SOURCE_STATUS_RUNNING); err != nil {
		return errors.Trace(err)
	}
	logger.M.Infof("%v: 启动数据源 %v 复制, 开始位点: %v", common.CurrLine(), source.Source, start)

	defer func() {
		status := model.SOURCE_STATUS_STOPPED
		if err != nil && _ctx.Err() == nil {
			status = model.SOURCE_STATUS_ERROR
		} else {
			err = nil
		}
		if statusErr := this.sourceDao.SetStatus(source.IDSource, status); statusErr != nil {
			err = multierr.Append(err, statusErr)
		}
		logger.M.Infof("%v: 数据源 %v 复制停止, 状态: %v", common.CurrLine(), source.Source, status)
	}()

	group, ctx := errgroup.WithContext(_ctx)
	group.Go(func() error {
		return this.runCapture(ctx, sourceContext, start)
	})
	group.Go(func() error {
		sleep := time.Duration(sourceContext.Config.SleepLoop) * time.Second
		return runReplayLoop(ctx, this.newReplayEngine(sourceContext), this.newTracker(sourceContext), sleep)
	})

	return errors.Trace(group.Wait())
}

// 读取 binlog 的开始位点, 取最后保存的批次和初始化时的水位中较新的一个
func (this *Engine) startPosition(_ctx context.Context, _source *model.Source) (*model.Position, error) {
	last, err := dao.NewBatchDao(this.Instance).LastBatchPosition(_ctx, _source.IDSource)
	if err != nil {
		return nil, errors.Trace(err)
	}

	return chooseStartPosition(_source.Source, last, _source.GetHighWatermark())
}

/* 选择开始位点. 重新初始化之后水位在所有旧批次之后, 这时从水位开始
Params:
    _last: 最后保存的批次位点
    _watermark: 初始化时的高水位, 已经一致时为空
*/
func chooseStartPosition(_source string, _last *model.Position, _watermark *model.Position) (*model.Position, error) {
	if _last != nil && (_watermark == nil || _last.Compare(_watermark) >= 0) {
		return _last, nil
	}
	if _watermark != nil {
		return _watermark, nil
	}

	return nil, errors.NotFoundf("数据源 %v 的开始位点, 需要先执行 init-replica", _source)
}

func (this *Engine) runCapture(_ctx context.Context, _context *config.SourceContext, _start *model.Position) error {
	db, err := gdbc.GetMySQLDB(_context.Config.MysqlConn)
	if err != nil {
		return errors.Trace(err)
	}
	defer db.Close()

	tableDao := dao.NewReplicaTableDao(this.Instance)
	gate, err := capture.NewGate(_ctx, tableDao, _context.SourceID)
	if err != nil {
		return errors.Trace(err)
	}

	var reader capture.EventSource = &capture.BinlogReader{
		Context: _context,
		Syncer:  capture.NewBinlogSyncer(_context.Config.MysqlConn),
		Tables:  matemap.NewTableCache(mysqlsql.NewMySQLTool(db)),
		Writer:  capture.NewBatchWriter(_context.SourceID, capture.NewPgLogStore(this.Instance)),
		DDL: capture.NewDDLWriter(_context, capture.NewPgDDLCatalog(this.Instance, _context.SourceID),
			dao.NewPgInspector(this.Instance, _context.SourceID)),
		Gate:        gate,
		MaxRows:     _context.Config.ReplayMaxRows,
		IdleTimeout: time.Duration(_context.Config.SleepLoop) * time.Second,
	}

	return errors.Trace(reader.Run(_ctx, _start))
}

/* 循环回放批次. 没有批次可以回放时检查一致性, 删除过期批次, 然后等待 _sleep
Params:
    _replayer: 回放
    _checker: 一致性检查
    _sleep: 空闲时的等待时间
*/
func runReplayLoop(_ctx context.Context, _replayer batchReplayer, _checker consistencyChecker, _sleep time.Duration) error {
	consistent := false
	for {
		replayed, err := _replayer.Replay(_ctx)
		if err != nil {
			return errors.Trace(err)
		}
		if replayed && consistent {
			continue
		}

		if !consistent {
			if consistent, err = _checker.CheckConsistency(_ctx); err != nil {
				return errors.Trace(err)
			}
			if consistent {
				logger.M.Infof("%v: 成功. 数据源已经一致", common.CurrLine())
			}
		}
		if replayed {
			continue
		}

		pruned, err := _replayer.Prune(_ctx)
		if err != nil {
			return errors.Trace(err)
		}
		if pruned > 0 {
			logger.M.Infof("%v: 成功. 删除过期批次 %v 个", common.CurrLine(), pruned)
		}

		select {
		case <-_ctx.Done():
			return errors.Trace(_ctx.Err())
		case <-time.After(_sleep):
		}
	}
}
