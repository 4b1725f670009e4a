package setting

import (
	"os"
	"sort"

	"github.com/juju/errors"
	"github.com/pelletier/go-toml/v2"
)

// 复制服务的 schema
const REPLICA_SCHEMA = "sch_ninja"

// 应用名称, 用于 application_name
const APP_NAME = "pg_ninja"

// 整个配置文件
type Setting struct {
	Log     *LogConfig               `json:"log" toml:"log"`
	PgConn  *PgConfig                `json:"pg_conn" toml:"pg_conn"` // 目标库
	Sources map[string]*SourceConfig `json:"sources" toml:"sources"`
}

/* 读取 toml 配置文件
Params:
    _path: 配置文件路径
*/
func LoadSetting(_path string) (*Setting, error) {
	raw, err := os.ReadFile(_path)
	if err != nil {
		return nil, errors.Annotatef(err, "读取配置文件 %v", _path)
	}

	return ParseSetting(raw)
}

func ParseSetting(_raw []byte) (*Setting, error) {
	setting := new(Setting)
	if err := toml.Unmarshal(_raw, setting); err != nil {
		return nil, errors.Annotate(err, "解析配置文件")
	}

	if err := setting.Check(); err != nil {
		return nil, errors.Trace(err)
	}

	return setting, nil
}

// 检测配置并且填充默认值
func (this *Setting) Check() error {
	if this.Log == nil {
		this.Log = NewDefaultLogConfig()
	}
	this.Log.fillDefault()

	if this.PgConn == nil {
		return errors.NotValidf("没有配置目标库 pg_conn")
	}
	this.PgConn.fillDefault()
	if err := this.PgConn.check(); err != nil {
		return errors.Annotate(err, "目标库 pg_conn")
	}

	for name, source := range this.Sources {
		if source == nil {
			return errors.NotValidf("数据源 %v 配置为空", name)
		}
		source.fillDefault()
		if err := source.check(name); err != nil {
			return errors.Trace(err)
		}
	}

	return nil
}

/* 获取一个数据源配置
Params:
    _name: 数据源名称
*/
func (this *Setting) GetSource(_name string) (*SourceConfig, error) {
	source, ok := this.Sources[_name]
	if !ok {
		return nil, errors.NotFoundf("配置文件中数据源 %v", _name)
	}

	return source, nil
}

func (this *Setting) GetSourceNames() []string {
	names := make([]string, 0, len(this.Sources))
	for name := range this.Sources {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}
