package translator

import (
	"regexp"
	"strings"

	"github.com/daiguadaidai/go-pg-ninja/common"
	"github.com/juju/errors"
	"github.com/pingcap/parser"
	"github.com/pingcap/parser/ast"
	"github.com/pingcap/parser/format"
	"github.com/pingcap/parser/types"
	_ "github.com/pingcap/parser/test_driver"
)

// 解析失败时, 以这些开头的语句是需要复制的表 DDL
var tableDDLPattern = regexp.MustCompile(`(?is)^(CREATE\s+(TEMPORARY\s+)?TABLE|ALTER\s+((ONLINE|OFFLINE)\s+)?(IGNORE\s+)?TABLE|DROP\s+(TEMPORARY\s+)?TABLE|RENAME\s+TABLE|TRUNCATE)\b`)

// 字符串字面量前的字符集, 如: _utf8mb4'a'
var charsetIntroducer = regexp.MustCompile(`^_[A-Za-z0-9]+'`)

const restoreFlags = format.RestoreStringSingleQuotes | format.RestoreKeyWordUppercase | format.RestoreStringWithoutCharset

/* 解析 MySQL 的 DDL 语句, 一个语句可能解析出多个命令
Params:
    _query: binlog 中的 DDL 语句
Return:
    不是表 DDL 的语句返回 common.ErrUnsupportedCommand, 表 DDL 语法错误返回 common.ErrMalformedDDL
*/
func ParseDDL(_query string) ([]Command, error) {
	stmts, _, err := parser.New().Parse(_query, "", "")
	if err != nil {
		if !isTableDDL(_query) {
			return nil, errors.Annotatef(common.ErrUnsupportedCommand, "%v", err)
		}
		return nil, errors.Annotatef(common.ErrMalformedDDL, "%v", err)
	}

	commands := make([]Command, 0, len(stmts))
	for _, stmt := range stmts {
		parsed, err := toCommands(stmt)
		if err != nil {
			return nil, errors.Trace(err)
		}
		commands = append(commands, parsed...)
	}

	return commands, nil
}

// 去掉开头的注释之后判断
func isTableDDL(_query string) bool {
	query := strings.TrimSpace(_query)
	for {
		switch {
		case strings.HasPrefix(query, "/*"):
			end := strings.Index(query, "*/")
			if end < 0 {
				return false
			}
			query = strings.TrimSpace(query[end+2:])
		case strings.HasPrefix(query, "--"), strings.HasPrefix(query, "#"):
			end := strings.Index(query, "\n")
			if end < 0 {
				return false
			}
			query = strings.TrimSpace(query[end+1:])
		default:
			return tableDDLPattern.MatchString(query)
		}
	}
}

func toTableRef(_table *ast.TableName) TableRef {
	return TableRef{Schema: _table.Schema.O, Name: _table.Name.O}
}

func toCommands(_stmt ast.StmtNode) ([]Command, error) {
	switch stmt := _stmt.(type) {
	case *ast.CreateTableStmt:
		return toCreateTable(stmt)
	case *ast.AlterTableStmt:
		return toAlterTable(stmt)
	case *ast.DropTableStmt:
		if stmt.IsView {
			return nil, errors.Annotate(common.ErrUnsupportedCommand, "DROP VIEW")
		}
		commands := make([]Command, 0, len(stmt.Tables))
		for _, table := range stmt.Tables {
			commands = append(commands, &DropTable{TableRef: toTableRef(table)})
		}
		return commands, nil
	case *ast.TruncateTableStmt:
		return []Command{&TruncateTable{TableRef: toTableRef(stmt.Table)}}, nil
	case *ast.RenameTableStmt:
		commands := make([]Command, 0, len(stmt.TableToTables))
		for _, tableToTable := range stmt.TableToTables {
			commands = append(commands, &RenameTable{
				TableRef: toTableRef(tableToTable.OldTable),
				NewName:  tableToTable.NewTable.Name.O,
			})
		}
		return commands, nil
	}

	return nil, errors.Annotatef(common.ErrUnsupportedCommand, "%T", _stmt)
}

// CREATE TABLE ... LIKE 和 CREATE TABLE ... SELECT 不支持
func toCreateTable(_stmt *ast.CreateTableStmt) ([]Command, error) {
	table := toTableRef(_stmt.Table)
	if _stmt.ReferTable != nil || len(_stmt.Cols) == 0 {
		return nil, errors.Annotatef(common.ErrUnsupportedCommand, "CREATE TABLE %v 没有字段定义", table)
	}

	createTable := &CreateTable{TableRef: table}
	for _, def := range _stmt.Cols {
		column, indices := toColumn(def)
		createTable.Columns = append(createTable.Columns, column)
		createTable.Indices = append(createTable.Indices, indices...)
	}
	for _, constraint := range _stmt.Constraints {
		if index := toIndex(constraint); index != nil {
			createTable.Indices = append(createTable.Indices, index)
		}
	}

	return []Command{createTable}, nil
}

/* 只处理字段的 ADD/DROP/CHANGE/MODIFY, DROP PRIMARY KEY 和 RENAME TO, 其他操作忽略
Return:
    顺序: 删除主键, 修改字段, 重命名
*/
func toAlterTable(_stmt *ast.AlterTableStmt) ([]Command, error) {
	table := toTableRef(_stmt.Table)
	alterTable := &AlterTable{TableRef: table}
	var dropPrimaryKey *DropPrimaryKey
	var renameTable *RenameTable
	for _, spec := range _stmt.Specs {
		switch spec.Tp {
		case ast.AlterTableAddColumns:
			for _, def := range spec.NewColumns {
				column, _ := toColumn(def)
				alterTable.Alters = append(alterTable.Alters, &AlterColumn{Command: ALTER_ADD, Name: column.Name, Column: column})
			}
		case ast.AlterTableDropColumn:
			alterTable.Alters = append(alterTable.Alters, &AlterColumn{Command: ALTER_DROP, Name: spec.OldColumnName.Name.O})
		case ast.AlterTableChangeColumn:
			if len(spec.NewColumns) == 0 {
				return nil, errors.Annotatef(common.ErrMalformedDDL, "ALTER TABLE %v CHANGE 没有字段定义", table)
			}
			column, _ := toColumn(spec.NewColumns[0])
			alterTable.Alters = append(alterTable.Alters,
				&AlterColumn{Command: ALTER_CHANGE, Name: spec.OldColumnName.Name.O, Column: column})
		case ast.AlterTableModifyColumn:
			if len(spec.NewColumns) == 0 {
				return nil, errors.Annotatef(common.ErrMalformedDDL, "ALTER TABLE %v MODIFY 没有字段定义", table)
			}
			column, _ := toColumn(spec.NewColumns[0])
			alterTable.Alters = append(alterTable.Alters, &AlterColumn{Command: ALTER_MODIFY, Name: column.Name, Column: column})
		case ast.AlterTableDropPrimaryKey:
			dropPrimaryKey = &DropPrimaryKey{TableRef: table}
		case ast.AlterTableRenameTable:
			renameTable = &RenameTable{TableRef: table, NewName: spec.NewTable.Name.O}
		}
	}

	commands := make([]Command, 0, 3)
	if dropPrimaryKey != nil {
		commands = append(commands, dropPrimaryKey)
	}
	if len(alterTable.Alters) > 0 {
		commands = append(commands, alterTable)
	}
	if renameTable != nil {
		commands = append(commands, renameTable)
	}

	return commands, nil
}

/* 字段定义转换成字段元数据, 字段上的 PRIMARY KEY/UNIQUE 作为索引返回
Params:
    _def: 解析出的字段定义
*/
func toColumn(_def *ast.ColumnDef) (*Column, []*Index) {
	name := _def.Name.Name.O
	column := &Column{
		Name:       name,
		DataType:   types.TypeToStr(_def.Tp.Tp, _def.Tp.Charset),
		ColumnType: _def.Tp.InfoSchemaStr(),
		Nullable:   true,
	}
	if len(_def.Tp.Elems) > 0 {
		labels := make([]string, 0, len(_def.Tp.Elems))
		for _, elem := range _def.Tp.Elems {
			labels = append(labels, common.QuoteLiteral(elem))
		}
		column.Dimension = strings.Join(labels, ",")
	} else {
		column.Dimension = typeDimension(column.ColumnType)
	}

	indices := make([]*Index, 0)
	for _, option := range _def.Options {
		switch option.Tp {
		case ast.ColumnOptionNotNull:
			column.Nullable = false
		case ast.ColumnOptionNull:
			column.Nullable = true
		case ast.ColumnOptionAutoIncrement:
			column.AutoIncrement = true
		case ast.ColumnOptionDefaultValue:
			column.Default = restoreDefault(option.Expr)
		case ast.ColumnOptionPrimaryKey:
			column.Nullable = false
			indices = append(indices, &Index{Name: PRIMARY_INDEX_NAME, Columns: []string{name}})
		case ast.ColumnOptionUniqKey:
			indices = append(indices, &Index{Name: name, Columns: []string{name}})
		}
	}

	return column, indices
}

// int(11) unsigned -> 11, decimal(10,2) -> 10,2
func typeDimension(_columnType string) string {
	start := strings.Index(_columnType, "(")
	end := strings.LastIndex(_columnType, ")")
	if start < 0 || end < start {
		return ""
	}

	return _columnType[start+1 : end]
}

/* 默认值还原成 SQL 文本. NULL 和二进制字面量返回空字符串
Params:
    _expr: DEFAULT 后面的表达式
*/
func restoreDefault(_expr ast.ExprNode) string {
	if _expr == nil {
		return ""
	}
	// CURRENT_TIMESTAMP 不带括号
	if call, ok := _expr.(*ast.FuncCallExpr); ok && len(call.Args) == 0 {
		return strings.ToUpper(call.FnName.O)
	}

	var builder strings.Builder
	if err := _expr.Restore(format.NewRestoreCtx(restoreFlags, &builder)); err != nil {
		return ""
	}
	restored := builder.String()
	if loc := charsetIntroducer.FindStringIndex(restored); loc != nil {
		restored = restored[loc[1]-1:]
	}

	upper := strings.ToUpper(restored)
	switch {
	case upper == "NULL":
		return ""
	case strings.HasPrefix(upper, "0X"), strings.HasPrefix(upper, "0B"),
		strings.HasPrefix(upper, "X'"), strings.HasPrefix(upper, "B'"):
		return ""
	}

	return restored
}

// 表定义中的索引, 外键/全文/检查约束返回 nil
func toIndex(_constraint *ast.Constraint) *Index {
	index := new(Index)
	switch _constraint.Tp {
	case ast.ConstraintPrimaryKey:
		index.Name = PRIMARY_INDEX_NAME
	case ast.ConstraintUniq, ast.ConstraintUniqKey, ast.ConstraintUniqIndex:
		index.Name = _constraint.Name
	case ast.ConstraintKey, ast.ConstraintIndex:
		index.Name = _constraint.Name
		index.NonUnique = true
	default:
		return nil
	}

	for _, key := range _constraint.Keys {
		// 函数索引没有字段
		if key.Column == nil {
			continue
		}
		index.Columns = append(index.Columns, key.Column.Name.O)
	}
	if index.Name == "" && len(index.Columns) > 0 {
		index.Name = index.Columns[0]
	}

	return index
}
