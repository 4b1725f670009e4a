package gdbc

import (
	"database/sql"

	"github.com/daiguadaidai/go-pg-ninja/setting"
	_ "github.com/go-sql-driver/mysql"
	"github.com/juju/errors"
)

// 打开 MySQL 数据源的链接池
func GetMySQLDB(mysqlConfig *setting.MysqlConfig) (*sql.DB, error) {
	dataSource, err := mysqlConfig.GetDataSource()
	if err != nil {
		return nil, errors.Annotate(err, "获取数据源出错")
	}

	db, err := sql.Open("mysql", dataSource)
	if err != nil {
		return nil, errors.Annotatef(err, "获取打开数据库失败. %v", mysqlConfig.GetFuzzyDataSource())
	}
	db.SetMaxIdleConns(mysqlConfig.MysqlMaxIdleConns)
	db.SetMaxOpenConns(mysqlConfig.MysqlMaxOpenConns)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Annotatef(err, "ping数据库失败. %v", mysqlConfig.GetFuzzyDataSource())
	}

	return db, nil
}
