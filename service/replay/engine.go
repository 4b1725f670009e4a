package replay

import (
	"context"

	"github.com/daiguadaidai/go-pg-ninja/common"
	"github.com/daiguadaidai/go-pg-ninja/logger"
	"github.com/daiguadaidai/go-pg-ninja/model"
	"github.com/juju/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/daiguadaidai/go-pg-ninja/service/replay")

/* 一次回放调用的结果. 行和表级别的错误是数据,
引擎级别的错误通过 error 返回
*/
type Status struct {
	Continue     bool     // 批次中还有没有回放的事件
	Replayed     int      // 本次回放的事件数
	FailedTables []string // 回放失败的表, schema.table
}

// 在目标库回放一个批次的事件
type Primitive interface {
	ReplayBatch(_ctx context.Context, _batch *model.ReplicaBatch, _maxRows int) (*Status, error)
}

type BatchStore interface {
	ClaimBatch(_ctx context.Context, _sourceID int64) (*model.ReplicaBatch, error)
	SetBatchProcessed(_ctx context.Context, _batch *model.ReplicaBatch) error
	MarkReplayed(_ctx context.Context, _batch *model.ReplicaBatch) error
	Prune(_ctx context.Context, _sourceID int64, _retention string) (int64, error)
}

type TableStore interface {
	Unregister(_sourceID int64, _schema string, _table string) error
}

// 批次状态机: created -> started -> processed -> replayed
type Engine struct {
	SourceID  int64
	MaxRows   int
	Retention string

	Batches   BatchStore
	Tables    TableStore
	Primitive Primitive
}

/* 认领并回放一个批次, 直到批次没有需要回放的事件
Return:
    处理完成的批次, 没有可以回放的批次返回 nil
*/
func (this *Engine) ProcessBatch(_ctx context.Context) (*model.ReplicaBatch, error) {
	batch, err := this.Batches.ClaimBatch(_ctx, this.SourceID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if batch == nil {
		return nil, nil
	}

	ctx, span := tracer.Start(_ctx, "replay.ProcessBatch", trace.WithAttributes(
		attribute.Int64("source.id", this.SourceID),
		attribute.Int64("batch.id", batch.IDBatch),
		attribute.String("batch.log_table", batch.LogTable),
	))
	defer span.End()

	replayed := 0
	for {
		status, err := this.Primitive.ReplayBatch(ctx, batch, this.MaxRows)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, errors.Annotatef(err, "回放批次 %v", batch.IDBatch)
		}
		replayed += status.Replayed

		for _, tableKey := range status.FailedTables {
			schema, table := common.SplitTableKey(tableKey)
			logger.M.Warnf("%v: 警告. 表 %v 回放失败, 从复制中移除", common.CurrLine(), tableKey)
			if err := this.Tables.Unregister(this.SourceID, schema, table); err != nil {
				return nil, errors.Trace(err)
			}
		}

		if !status.Continue {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	span.SetAttributes(attribute.Int("batch.replayed", replayed))

	if err := this.Batches.SetBatchProcessed(ctx, batch); err != nil {
		return nil, errors.Trace(err)
	}
	batch.Processed = true
	logger.M.Infof("%v: 成功. 批次 %v 回放事件 %v 个", common.CurrLine(), batch.IDBatch, replayed)

	return batch, nil
}

/* 回放一个批次并标记为已回放
Return:
    是否回放了批次, false 表示没有需要回放的批次
*/
func (this *Engine) Replay(_ctx context.Context) (bool, error) {
	ctx, span := tracer.Start(_ctx, "replay.Replay")
	defer span.End()

	batch, err := this.ProcessBatch(ctx)
	if err != nil {
		span.RecordError(err)
		return false, errors.Trace(err)
	}
	if batch == nil {
		return false, nil
	}
	if err := this.Batches.MarkReplayed(ctx, batch); err != nil {
		return false, errors.Trace(err)
	}
	batch.Replayed = true

	return true, nil
}

// 删除超过保留时间的已回放批次
func (this *Engine) Prune(_ctx context.Context) (int64, error) {
	if this.Retention == "" {
		return 0, nil
	}

	pruned, err := this.Batches.Prune(_ctx, this.SourceID, this.Retention)
	return pruned, errors.Trace(err)
}
