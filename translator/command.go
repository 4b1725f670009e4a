package translator

import (
	"fmt"
)

// ALTER TABLE 中对字段的操作
const (
	ALTER_ADD    = "ADD"
	ALTER_DROP   = "DROP"
	ALTER_CHANGE = "CHANGE"
	ALTER_MODIFY = "MODIFY"
)

// DDL 命令访问者, 每增加一种命令都需要实现对应的方法
type Visitor interface {
	VisitRenameTable(*RenameTable) error
	VisitDropTable(*DropTable) error
	VisitTruncateTable(*TruncateTable) error
	VisitCreateTable(*CreateTable) error
	VisitAlterTable(*AlterTable) error
	VisitDropPrimaryKey(*DropPrimaryKey) error
}

// 解析后的 DDL 命令, 只有本包中定义的几种
type Command interface {
	SchemaName() string // DDL 中指定了库名才有值
	TableName() string
	Accept(Visitor) error

	isCommand()
}

// 命令作用的表
type TableRef struct {
	Schema string
	Name   string
}

func (this TableRef) SchemaName() string {
	return this.Schema
}

func (this TableRef) TableName() string {
	return this.Name
}

func (this TableRef) String() string {
	if this.Schema == "" {
		return this.Name
	}

	return fmt.Sprintf("%v.%v", this.Schema, this.Name)
}

// RENAME TABLE a TO b
type RenameTable struct {
	TableRef
	NewName string
}

func (this *RenameTable) Accept(_visitor Visitor) error {
	return _visitor.VisitRenameTable(this)
}

func (*RenameTable) isCommand() {}

// DROP TABLE a
type DropTable struct {
	TableRef
}

func (this *DropTable) Accept(_visitor Visitor) error {
	return _visitor.VisitDropTable(this)
}

func (*DropTable) isCommand() {}

// TRUNCATE TABLE a
type TruncateTable struct {
	TableRef
}

func (this *TruncateTable) Accept(_visitor Visitor) error {
	return _visitor.VisitTruncateTable(this)
}

func (*TruncateTable) isCommand() {}

// CREATE TABLE a (...)
type CreateTable struct {
	TableRef
	Columns []*Column
	Indices []*Index
}

func (this *CreateTable) Accept(_visitor Visitor) error {
	return _visitor.VisitCreateTable(this)
}

func (*CreateTable) isCommand() {}

// ALTER TABLE 中的一个字段操作
type AlterColumn struct {
	Command string  // ADD/DROP/CHANGE/MODIFY
	Name    string  // 操作的字段名, CHANGE 时是旧的字段名
	Column  *Column // ADD/CHANGE/MODIFY 的字段定义, CHANGE 时 Column.Name 是新的字段名
}

// ALTER TABLE a ADD/DROP/CHANGE/MODIFY ...
type AlterTable struct {
	TableRef
	Alters []*AlterColumn
}

func (this *AlterTable) Accept(_visitor Visitor) error {
	return _visitor.VisitAlterTable(this)
}

func (*AlterTable) isCommand() {}

// ALTER TABLE a DROP PRIMARY KEY
type DropPrimaryKey struct {
	TableRef
}

func (this *DropPrimaryKey) Accept(_visitor Visitor) error {
	return _visitor.VisitDropPrimaryKey(this)
}

func (*DropPrimaryKey) isCommand() {}
