package common

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	jerrors "github.com/juju/errors"
)

// PostgreSQL SQLSTATE
const (
	PG_UNDEFINED_OBJECT       = "42704" // 角色/对象不存在
	PG_UNDEFINED_TABLE        = "42P01"
	PG_UNTRANSLATABLE_CHAR    = "22P05" // 字符无法转换, 一般是 \x00
	PG_INVALID_BYTE_SEQUENCE  = "22021"
	PG_LOCK_NOT_AVAILABLE     = "55P03"
	PG_DUPLICATE_OBJECT       = "42710"
	PG_INVALID_SCHEMA_NAME    = "3F000"
	PG_OBJECT_IN_USE          = "55006"
	PG_FEATURE_NOT_SUPPORTED  = "0A000"
	PG_INVALID_TEXT_REPRESENT = "22P02"
)

var (
	// 回放函数出现引擎级别的错误, 批次保持未处理状态
	ErrReplayCrashed = jerrors.New("The replay process crashed")
	// DDL 解析出不支持的命令
	ErrUnsupportedCommand = jerrors.New("不支持的DDL命令")
	// 表 DDL 语法错误
	ErrMalformedDDL = jerrors.New("DDL 语句不完整")
	// 数据源不存在
	ErrSourceNotFound = jerrors.New("数据源不存在")
	// 目标 schema 被多个数据源使用
	ErrDuplicateSchemaMapping = jerrors.New("目标 schema 已经被其他数据源使用")
)

// 获取 PostgreSQL 错误码, 不是 PostgreSQL 错误返回空字符串
func PgErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var pgErr *pgconn.PgError
	if errors.As(jerrors.Cause(err), &pgErr) {
		return pgErr.Code
	}
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}

	return ""
}

// 是否是编码错误, 该类错误可以尝试清洗数据后重试一次
func IsEncodingError(err error) bool {
	switch PgErrorCode(err) {
	case PG_UNTRANSLATABLE_CHAR, PG_INVALID_BYTE_SEQUENCE:
		return true
	}

	return false
}
