package common

import (
	"fmt"
	"os"
	"path"
	"runtime"
)

// 获取调用者的 文件名:行号, 打日志时使用
func CurrLine() string {
	_, filePath, line, ok := runtime.Caller(1)

	if !ok {
		return fmt.Sprintf("无法获取行号")
	}

	fileName := path.Base(filePath)
	return fmt.Sprintf("%v:%v", fileName, line)
}

/* 生成 PostgreSQL application_name
Params:
    _action: 当前执行的动作, 如: replay, init_replica
Return:
    pg_ninja - replay - [source] - pid
*/
func ApplicationName(_prefix string, _source string, _action string) string {
	name := fmt.Sprintf("%v - %v [%v] - %v", _prefix, _action, _source, os.Getpid())
	return TruncateName(name, 63)
}
