package parser

import (
	"os"
	"strings"

	"github.com/daiguadaidai/go-pg-ninja/common"
	"github.com/daiguadaidai/go-pg-ninja/config"
	"github.com/daiguadaidai/go-pg-ninja/logger"
	"github.com/daiguadaidai/go-pg-ninja/setting"
	"github.com/juju/errors"
	"github.com/liudng/godump"
)

const (
	DEFAULT_CONFIG_PATH = "~/.pg_ninja/config/default.toml" // 默认配置文件
	ALL_SOURCES         = "*"                               // show-status 显示所有数据源
)

// 接收和保存命令行输入的参数值
type RunParser struct {
	ConfigPath string // 配置文件
	Source     string // 数据源名称
	Debug      bool   // 日志级别设置为 debug, 并打印解析后的参数

	Table string // set-consistent-table 使用, schema.table
	LogID int64  // show-errors 使用, 0 表示所有

	Setting *setting.Setting
	Context *config.SourceContext
}

func NewRunParser() *RunParser {
	return &RunParser{
		ConfigPath: DEFAULT_CONFIG_PATH,
		Source:     ALL_SOURCES,
	}
}

/* 加载配置并初始化日志
Params:
    _requireSource: 命令是否需要指定数据源
*/
func (this *RunParser) Parse(_requireSource bool) error {
	configPath, err := expandHome(this.ConfigPath)
	if err != nil {
		return errors.Trace(err)
	}

	if this.Setting, err = setting.LoadSetting(configPath); err != nil {
		return errors.Trace(err)
	}
	if this.Debug {
		this.Setting.Log.LogLevel = setting.DEBUG_LEVEL_STR
	}
	logger.InitLogger(this.Setting.Log)

	if err := this.parseSource(_requireSource); err != nil {
		return errors.Trace(err)
	}

	if this.Debug {
		godump.Dump(this)
	}
	logger.M.Debugf("%v: 配置文件: %v, 数据源: %v", common.CurrLine(), configPath, this.GetSourceName())

	return nil
}

// 解析数据源, 需要数据源的命令不能使用 *
func (this *RunParser) parseSource(_requireSource bool) error {
	source := strings.TrimSpace(this.Source)
	if source == "" || source == ALL_SOURCES {
		if _requireSource {
			return errors.NotValidf("需要使用 --source 指定数据源, 可用的数据源: %v", this.Setting.GetSourceNames())
		}
		this.Source = ALL_SOURCES
		return nil
	}

	sourceConfig, err := this.Setting.GetSource(source)
	if err != nil {
		return errors.Annotatef(err, "可用的数据源: %v", this.Setting.GetSourceNames())
	}
	this.Source = source
	this.Context = config.NewSourceContext(source, sourceConfig)

	return nil
}

// 数据源名称, 所有数据源返回空
func (this *RunParser) GetSourceName() string {
	if this.Source == ALL_SOURCES {
		return ""
	}

	return this.Source
}

/* 解析 --table 参数
Return:
    schema, table
*/
func (this *RunParser) ParseTable() (string, string, error) {
	schema, table := common.SplitTableKey(strings.TrimSpace(this.Table))
	if schema == "" || table == "" {
		return "", "", errors.NotValidf("表 %q, 需要使用 schema.table 格式", this.Table)
	}

	return schema, table, nil
}

// 展开路径开头的 ~
func expandHome(_path string) (string, error) {
	if _path != "~" && !strings.HasPrefix(_path, "~/") {
		return _path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Annotate(err, "获取用户目录")
	}

	return home + strings.TrimPrefix(_path, "~"), nil
}
