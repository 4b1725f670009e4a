package logger

import (
	"path/filepath"
	"testing"

	"github.com/daiguadaidai/go-pg-ninja/setting"
	"github.com/stretchr/testify/assert"
)

func TestGetLoggerSyncers(t *testing.T) {
	logConfig := setting.NewDefaultLogConfig()
	assert.Len(t, getLoggerSyncers(logConfig), 1, "没有文件只输出到控制台")

	logConfig.LogFilename = filepath.Join(t.TempDir(), "pg_ninja.log")
	assert.Len(t, getLoggerSyncers(logConfig), 1, "只输出到文件")

	logConfig.LogConsole = true
	assert.Len(t, getLoggerSyncers(logConfig), 2)
}

func TestInitLogger(t *testing.T) {
	logConfig := setting.NewDefaultLogConfig()
	logConfig.LogFilename = filepath.Join(t.TempDir(), "pg_ninja.log")
	logConfig.LogLevel = setting.DEBUG_LEVEL_STR

	InitLogger(logConfig)
	M.Debugf("debug %v", 1)
	Sync()
	assert.NotNil(t, M)
}
