package initload

import (
	"context"

	"github.com/daiguadaidai/go-pg-ninja/dao"
	"github.com/daiguadaidai/go-pg-ninja/gdbc"
	"github.com/daiguadaidai/go-pg-ninja/model"
	"github.com/juju/errors"
)

// 初始化需要修改的复制元数据
type MetaStore interface {
	SetStatus(_sourceID int64, _status string) error
	SetHighWatermark(_sourceID int64, _watermark *model.Position, _consistent bool) error
	CleanupSourceTables(_sourceID int64) error
	CleanBatchData(_ctx context.Context, _source string) error
	StoreTable(_ctx context.Context, _sourceID int64, _schema string, _table string, _pkey []string, _watermark *model.Position) error
	StoreIndex(_sourceID int64, _schema string, _table string, _index string, _create string) error
	FindIndexes(_sourceID int64) ([]model.IndexDefinition, error)
	DeleteIndexes(_sourceID int64) error
}

type PgMetaStore struct {
	sourceDao   *dao.SourceDao
	tableDao    *dao.ReplicaTableDao
	indexDefDao *dao.IndexDefDao
	batchDao    *dao.BatchDao
}

func NewPgMetaStore(_instance *gdbc.PgInstance) *PgMetaStore {
	return &PgMetaStore{
		sourceDao:   dao.NewSourceDao(_instance),
		tableDao:    dao.NewReplicaTableDao(_instance),
		indexDefDao: dao.NewIndexDefDao(_instance),
		batchDao:    dao.NewBatchDao(_instance),
	}
}

func (this *PgMetaStore) SetStatus(_sourceID int64, _status string) error {
	return this.sourceDao.SetStatus(_sourceID, _status)
}

func (this *PgMetaStore) SetHighWatermark(_sourceID int64, _watermark *model.Position, _consistent bool) error {
	return this.sourceDao.SetHighWatermark(_sourceID, _watermark, _consistent)
}

func (this *PgMetaStore) CleanupSourceTables(_sourceID int64) error {
	return this.tableDao.CleanupSourceTables(_sourceID)
}

// 删除数据源以前捕获的所有批次和日志
func (this *PgMetaStore) CleanBatchData(_ctx context.Context, _source string) error {
	source, err := this.sourceDao.GetByName(_ctx, _source)
	if err != nil {
		return errors.Trace(err)
	}
	if source == nil {
		return errors.NotFoundf("数据源 %v", _source)
	}

	return errors.Trace(this.batchDao.CleanBatchData(_ctx, source))
}

func (this *PgMetaStore) StoreTable(
	_ctx context.Context,
	_sourceID int64,
	_schema string,
	_table string,
	_pkey []string,
	_watermark *model.Position,
) error {
	return this.tableDao.StoreTable(_ctx, _sourceID, _schema, _table, _pkey, _watermark)
}

func (this *PgMetaStore) StoreIndex(_sourceID int64, _schema string, _table string, _index string, _create string) error {
	return this.indexDefDao.Store(_sourceID, _schema, _table, _index, _create)
}

func (this *PgMetaStore) FindIndexes(_sourceID int64) ([]model.IndexDefinition, error) {
	return this.indexDefDao.FindBySource(_sourceID)
}

func (this *PgMetaStore) DeleteIndexes(_sourceID int64) error {
	return this.indexDefDao.DeleteBySource(_sourceID)
}
