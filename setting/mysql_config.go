package setting

import (
	"fmt"

	"github.com/daiguadaidai/go-pg-ninja/common"
	"github.com/juju/errors"
)

const (
	DefaultMysqlHost              = "127.0.0.1"
	DefaultMysqlPort              = 3306
	DefaultMysqlConnTimeout       = 5
	DefaultMysqlCharset           = "utf8mb4"
	DefaultMysqlMaxOpenConns      = 10
	DefaultMysqlMaxIdleConns      = 2
	DefaultMysqlAllowOldPasswords = 1
	DefaultMysqlAutoCommit        = true
)

// 数据源为 MySQL 时的链接配置
type MysqlConfig struct {
	MysqlHost              string `json:"mysql_host" toml:"host"`                               // 数据库host
	MysqlPort              int64  `json:"mysql_port" toml:"port"`                               // 数据库端口
	MysqlUsername          string `json:"mysql_username" toml:"user"`                           // 数据库用户名
	MysqlPassword          string `json:"mysql_password" toml:"password"`                       // 数据库密码, 可以是加密的
	MysqlDatabase          string `json:"mysql_database" toml:"database"`                       // 链接数据库
	MysqlConnTimeout       int    `json:"mysql_conn_timeout" toml:"conn_timeout"`               // 数据库链接超时
	MysqlCharset           string `json:"mysql_charset" toml:"charset"`                         // 字符集
	MysqlMaxOpenConns      int    `json:"mysql_max_open_conns" toml:"max_open_conns"`           // 最大链接数
	MysqlMaxIdleConns      int    `json:"mysql_max_idel_conns" toml:"max_idle_conns"`           // 空闲链接数
	MysqlAllowOldPasswords int    `json:"mysql_allow_old_passwords" toml:"allow_old_passwords"` // 是否允许oldpassword
	MysqlAutoCommit        bool   `json:"mysql_auto_commit" toml:"auto_commit"`                 // 是否自动提交
	MysqlServerID          uint32 `json:"mysql_server_id" toml:"server_id"`                     // 模拟slave的 server id
}

func (this *MysqlConfig) fillDefault() {
	if this.MysqlHost == "" {
		this.MysqlHost = DefaultMysqlHost
	}
	if this.MysqlPort <= 0 {
		this.MysqlPort = DefaultMysqlPort
	}
	if this.MysqlConnTimeout <= 0 {
		this.MysqlConnTimeout = DefaultMysqlConnTimeout
	}
	if this.MysqlCharset == "" {
		this.MysqlCharset = DefaultMysqlCharset
	}
	if this.MysqlMaxOpenConns <= 0 {
		this.MysqlMaxOpenConns = DefaultMysqlMaxOpenConns
	}
	if this.MysqlMaxIdleConns <= 0 {
		this.MysqlMaxIdleConns = DefaultMysqlMaxIdleConns
	}
	if this.MysqlAllowOldPasswords <= 0 {
		this.MysqlAllowOldPasswords = DefaultMysqlAllowOldPasswords
	}
	this.MysqlAutoCommit = DefaultMysqlAutoCommit
}

// 获取密码, 解密失败使用原始密码
func (this *MysqlConfig) GetPassword() string {
	password, err := common.Decrypt(this.MysqlPassword)
	if err != nil {
		return this.MysqlPassword
	}

	return password
}

func (this *MysqlConfig) GetDataSource() (string, error) {
	if this.MysqlUsername == "" {
		return "", errors.NotValidf("MySQL 用户名为空. %v", this.GetFuzzyDataSource())
	}

	return this.formatDataSource(this.GetPassword()), nil
}

// 获取模糊数据源, 打日志使用
func (this *MysqlConfig) GetFuzzyDataSource() string {
	return this.formatDataSource("***")
}

func (this *MysqlConfig) formatDataSource(_password string) string {
	return fmt.Sprintf(
		"%v:%v@tcp(%v:%v)/%v?charset=%v&allowOldPasswords=%v&timeout=%vs&autocommit=%v&parseTime=True&loc=Local",
		this.MysqlUsername,
		_password,
		this.MysqlHost,
		this.MysqlPort,
		this.MysqlDatabase,
		this.MysqlCharset,
		this.MysqlAllowOldPasswords,
		this.MysqlConnTimeout,
		this.MysqlAutoCommit,
	)
}
