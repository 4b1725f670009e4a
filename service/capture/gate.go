package capture

import (
	"context"

	"github.com/daiguadaidai/go-pg-ninja/common"
	"github.com/daiguadaidai/go-pg-ninja/logger"
	"github.com/daiguadaidai/go-pg-ninja/model"
	"github.com/juju/errors"
)

// 读写表的水位
type WatermarkStore interface {
	FindInconsistent(_ctx context.Context, _sourceID int64) (map[string]*model.Position, error)
	SetConsistentTable(_sourceID int64, _schema string, _table string) error
}

/* 还没有一致的表的过滤器. 表的变更在位点超过表的水位之前都丢弃,
超过之后表设置为一致并离开过滤器
*/
type Gate struct {
	SourceID int64
	Store    WatermarkStore

	watermarks map[string]*model.Position // key: schema.table
}

func NewGate(_ctx context.Context, _store WatermarkStore, _sourceID int64) (*Gate, error) {
	watermarks, err := _store.FindInconsistent(_ctx, _sourceID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(watermarks) > 0 {
		logger.M.Infof("%v: 数据源 %v 还有 %v 个表没有一致", common.CurrLine(), _sourceID, len(watermarks))
	}

	return &Gate{
		SourceID:   _sourceID,
		Store:      _store,
		watermarks: watermarks,
	}, nil
}

// 还在过滤中的表数
func (this *Gate) Len() int {
	return len(this.watermarks)
}

/* 事件是否需要写入日志. 只过滤行事件
Params:
    _event: 捕获的事件, Schema 为目标 clear schema
*/
func (this *Gate) Allow(_event *model.RowEvent) (bool, error) {
	switch _event.Action {
	case model.ACTION_INSERT, model.ACTION_UPDATE, model.ACTION_DELETE:
	default:
		return true, nil
	}

	key := _event.GetTableKey()
	watermark, ok := this.watermarks[key]
	if !ok {
		return true, nil
	}
	if _event.GetPosition().Compare(watermark) <= 0 {
		return false, nil
	}

	if err := this.Store.SetConsistentTable(this.SourceID, _event.Schema, _event.Table); err != nil {
		return false, errors.Trace(err)
	}
	delete(this.watermarks, key)
	logger.M.Infof("%v: 表 %v 位点 %v 超过水位 %v, 开始复制", common.CurrLine(), key, _event.GetPosition(), watermark)

	return true, nil
}

// 过滤一批事件
func (this *Gate) Filter(_events []*model.RowEvent) ([]*model.RowEvent, error) {
	if len(this.watermarks) == 0 {
		return _events, nil
	}

	allowed := make([]*model.RowEvent, 0, len(_events))
	for _, event := range _events {
		ok, err := this.Allow(event)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if ok {
			allowed = append(allowed, event)
		}
	}

	return allowed, nil
}
