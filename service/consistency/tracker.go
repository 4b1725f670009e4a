package consistency

import (
	"context"

	"github.com/daiguadaidai/go-pg-ninja/common"
	"github.com/daiguadaidai/go-pg-ninja/dao"
	"github.com/daiguadaidai/go-pg-ninja/gdbc"
	"github.com/daiguadaidai/go-pg-ninja/logger"
	"github.com/daiguadaidai/go-pg-ninja/model"
	"github.com/juju/errors"
)

// 一致性检查需要读写的数据
type Store interface {
	GetSource(_ctx context.Context, _sourceID int64) (*model.Source, error)
	MaxProcessedPosition(_ctx context.Context, _sourceID int64) (*model.Position, error)
	MarkConsistent(_sourceID int64) error
	FindInconsistent(_ctx context.Context, _sourceID int64) (map[string]*model.Position, error)
	SetConsistentTable(_sourceID int64, _schema string, _table string) error
}

type PgStore struct {
	*dao.BatchDao
	*dao.ReplicaTableDao
	sourceDao *dao.SourceDao
	source    string
}

/* 基于复制元数据的存储
Params:
    _source: 数据源名称
*/
func NewPgStore(_instance *gdbc.PgInstance, _source string) *PgStore {
	return &PgStore{
		BatchDao:        dao.NewBatchDao(_instance),
		ReplicaTableDao: dao.NewReplicaTableDao(_instance),
		sourceDao:       dao.NewSourceDao(_instance),
		source:          _source,
	}
}

func (this *PgStore) GetSource(_ctx context.Context, _sourceID int64) (*model.Source, error) {
	source, err := this.sourceDao.GetByName(_ctx, this.source)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if source == nil || source.IDSource != _sourceID {
		return nil, errors.Annotatef(common.ErrSourceNotFound, "数据源 %v(%v)", this.source, _sourceID)
	}

	return source, nil
}

func (this *PgStore) MarkConsistent(_sourceID int64) error {
	return this.sourceDao.MarkConsistent(_sourceID)
}

// 数据源和表的水位
type Tracker struct {
	SourceID int64
	Store    Store
}

func NewTracker(_sourceID int64, _store Store) *Tracker {
	return &Tracker{SourceID: _sourceID, Store: _store}
}

/* 已经处理的最大位点达到数据源高水位之后, 数据源设置为一致, 清空数据源和所有表的水位
Return:
    数据源是否一致. 没有处理过的批次或者没有高水位时返回 false
*/
func (this *Tracker) CheckConsistency(_ctx context.Context) (bool, error) {
	source, err := this.Store.GetSource(_ctx, this.SourceID)
	if err != nil {
		return false, errors.Trace(err)
	}
	if source.Consistent {
		return true, nil
	}

	watermark := source.GetHighWatermark()
	if watermark == nil {
		logger.M.Debugf("%v: 数据源 %v 没有高水位", common.CurrLine(), source.Source)
		return false, nil
	}
	processed, err := this.Store.MaxProcessedPosition(_ctx, this.SourceID)
	if err != nil {
		return false, errors.Trace(err)
	}
	if processed == nil {
		logger.M.Debugf("%v: 数据源 %v 还没有处理过的批次", common.CurrLine(), source.Source)
		return false, nil
	}
	if !processed.IsRatherThanOrEqual(watermark) {
		logger.M.Debugf("%v: 数据源 %v 处理到 %v, 高水位 %v", common.CurrLine(), source.Source, processed, watermark)
		return false, nil
	}

	if err := this.Store.MarkConsistent(this.SourceID); err != nil {
		return false, errors.Trace(err)
	}
	logger.M.Infof("%v: 成功. 数据源 %v 处理到 %v, 超过高水位 %v, 已经一致",
		common.CurrLine(), source.Source, processed, watermark)

	return true, nil
}

/* 还没有一致的表
Return:
    map{"schema.table": 水位}
*/
func (this *Tracker) GetInconsistentTables(_ctx context.Context) (map[string]*model.Position, error) {
	tables, err := this.Store.FindInconsistent(_ctx, this.SourceID)
	return tables, errors.Trace(err)
}

func (this *Tracker) SetConsistentTable(_schema string, _table string) error {
	return errors.Trace(this.Store.SetConsistentTable(this.SourceID, _schema, _table))
}
