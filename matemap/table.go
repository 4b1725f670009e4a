package matemap

import (
	"fmt"
	"strings"

	"github.com/daiguadaidai/go-pg-ninja/translator"
	"github.com/juju/errors"
)

type Table struct {
	Schema         string              // 数据库名
	Name           string              // 表名
	Columns        []Column            // 所有的列, 按 ordinal_position 排序
	ColumnIndexMap map[string]int      // 列名和 Columns index 的映射
	Indices        []*translator.Index // 索引, 按出现的顺序
	indexMap       map[string]*translator.Index
}

/* 创建表元数据
Params:
    _schema: 数据库名
    _name: 表名
    _columns: 字段, 需要按照 ordinal_position 排序
*/
func NewTable(_schema string, _name string, _columns []Column) (*Table, error) {
	if len(_columns) == 0 {
		return nil, errors.NotFoundf("表 %v.%v 的字段", _schema, _name)
	}

	table := &Table{
		Schema:         _schema,
		Name:           _name,
		Columns:        _columns,
		ColumnIndexMap: make(map[string]int, len(_columns)),
		indexMap:       make(map[string]*translator.Index),
	}
	for i, column := range _columns {
		table.ColumnIndexMap[column.Name] = i
	}

	return table, nil
}

/* 添加索引的一个字段, 需要按照 seq_in_index 的顺序添加
Params:
    _indexName: 索引名称, 主键为 PRIMARY
    _nonUnique: 是否是非唯一索引
    _columnName: 字段名
*/
func (this *Table) AddIndexColumn(_indexName string, _nonUnique bool, _columnName string) {
	index, ok := this.indexMap[_indexName]
	if !ok {
		index = &translator.Index{Name: _indexName, NonUnique: _nonUnique}
		this.indexMap[_indexName] = index
		this.Indices = append(this.Indices, index)
	}
	index.Columns = append(index.Columns, _columnName)
}

// 主键字段, 没有主键的话就用第一个唯一键
func (this *Table) FindPKColumnNames() []string {
	var firstUnique []string
	for _, index := range this.Indices {
		if index.IsPrimary() {
			return index.Columns
		}
		if !index.NonUnique && firstUnique == nil {
			firstUnique = index.Columns
		}
	}

	return firstUnique
}

func (this *Table) FindColumnNames() []string {
	names := make([]string, 0, len(this.Columns))
	for _, column := range this.Columns {
		names = append(names, column.Name)
	}

	return names
}

func (this *Table) GetColumn(_name string) (*Column, bool) {
	idx, ok := this.ColumnIndexMap[_name]
	if !ok {
		return nil, false
	}

	return &this.Columns[idx], true
}

// 导出数据的 sql, 字段顺序和 Columns 一致
func (this *Table) GetSelectSql() string {
	exprs := make([]string, 0, len(this.Columns))
	for i := range this.Columns {
		exprs = append(exprs, this.Columns[i].SelectExpr())
	}

	return fmt.Sprintf("SELECT %v FROM `%v`.`%v`", strings.Join(exprs, ", "),
		strings.Replace(this.Schema, "`", "``", -1), strings.Replace(this.Name, "`", "``", -1))
}

// 每个字段导出时的转换方式
func (this *Table) GetCopyKinds() []int {
	kinds := make([]int, 0, len(this.Columns))
	for i := range this.Columns {
		kinds = append(kinds, this.Columns[i].CopyKind())
	}

	return kinds
}

func (this *Table) ToTranslatorColumns() []*translator.Column {
	columns := make([]*translator.Column, 0, len(this.Columns))
	for i := range this.Columns {
		columns = append(columns, this.Columns[i].ToTranslatorColumn())
	}

	return columns
}

/* binlog 中的一行数据转化成 字段名 -> 值
Params:
    _row: binlog 中按字段顺序的值
*/
func (this *Table) RowToMap(_row []interface{}) (map[string]interface{}, error) {
	if len(_row) != len(this.Columns) {
		return nil, errors.NotValidf("表 %v.%v 有 %v 个字段, binlog 中有 %v 个值",
			this.Schema, this.Name, len(this.Columns), len(_row))
	}

	rowMap := make(map[string]interface{}, len(_row))
	for i, value := range _row {
		column := &this.Columns[i]
		if column.IsSet {
			value = setValue(column, value)
		}
		if column.IsEnum {
			value = enumValue(column, value)
		}
		rowMap[column.Name] = value
	}

	return rowMap, nil
}

func (this *Table) String() string {
	return fmt.Sprintf("%v.%v", this.Schema, this.Name)
}

// binlog 中 enum 是从 1 开始的序号
func enumValue(_column *Column, _value interface{}) interface{} {
	index, ok := _value.(int64)
	if !ok {
		return _value
	}
	values := (&translator.Column{Dimension: _column.EnumValues}).EnumList()
	if index <= 0 || int(index) > len(values) {
		return ""
	}

	return values[index-1]
}

// binlog 中 set 是位图
func setValue(_column *Column, _value interface{}) interface{} {
	bitmap, ok := _value.(int64)
	if !ok {
		return _value
	}
	elements := strings.TrimSuffix(strings.TrimPrefix(_column.RawType, "set("), ")")
	values := (&translator.Column{Dimension: elements}).EnumList()

	selected := make([]string, 0, len(values))
	for i, value := range values {
		if bitmap&(1<<uint(i)) != 0 {
			selected = append(selected, value)
		}
	}

	return selected
}
