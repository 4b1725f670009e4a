package dao

import (
	"github.com/daiguadaidai/go-pg-ninja/gdbc"
	"github.com/daiguadaidai/go-pg-ninja/model"
	"github.com/juju/errors"
)

// 初始化时暂存索引定义
type IndexDefDao struct {
	Instance *gdbc.PgInstance
}

func NewIndexDefDao(_instance *gdbc.PgInstance) *IndexDefDao {
	return &IndexDefDao{Instance: _instance}
}

func (this *IndexDefDao) Store(_sourceID int64, _schema string, _table string, _index string, _create string) error {
	indexDef := &model.IndexDefinition{
		IDSource: _sourceID,
		Schema:   _schema,
		Table:    _table,
		Index:    _index,
		Create:   _create,
	}
	if err := this.Instance.Orm.Create(indexDef).Error; err != nil {
		return errors.Annotatef(err, "保存索引定义 %v.%v.%v", _schema, _table, _index)
	}

	return nil
}

// 数据源暂存的索引定义, 按保存顺序
func (this *IndexDefDao) FindBySource(_sourceID int64) ([]model.IndexDefinition, error) {
	indexDefs := []model.IndexDefinition{}
	err := this.Instance.Orm.Where("i_id_source = ?", _sourceID).Order("i_id_def").Find(&indexDefs).Error
	if err != nil {
		return nil, errors.Annotatef(err, "获取数据源 %v 索引定义", _sourceID)
	}

	return indexDefs, nil
}

func (this *IndexDefDao) DeleteBySource(_sourceID int64) error {
	err := this.Instance.Orm.Where("i_id_source = ?", _sourceID).Delete(&model.IndexDefinition{}).Error

	return errors.Annotatef(err, "清除数据源 %v 索引定义", _sourceID)
}
