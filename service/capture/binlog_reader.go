package capture

import (
	"context"
	"strings"
	"time"

	"github.com/daiguadaidai/go-pg-ninja/common"
	"github.com/daiguadaidai/go-pg-ninja/config"
	"github.com/daiguadaidai/go-pg-ninja/logger"
	"github.com/daiguadaidai/go-pg-ninja/matemap"
	"github.com/daiguadaidai/go-pg-ninja/model"
	"github.com/daiguadaidai/go-pg-ninja/setting"
	"github.com/daiguadaidai/go-pg-ninja/translator"
	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/juju/errors"
)

// 创建 binlog 解析
func NewBinlogSyncer(_config *setting.MysqlConfig) *replication.BinlogSyncer {
	cfg := replication.BinlogSyncerConfig{
		ServerID:   _config.MysqlServerID,
		Flavor:     "mysql",
		Host:       _config.MysqlHost,
		Port:       uint16(_config.MysqlPort),
		User:       _config.MysqlUsername,
		Password:   _config.GetPassword(),
		UseDecimal: true,
		ParseTime:  true,
	}

	return replication.NewBinlogSyncer(cfg)
}

// 变更事件来源, 从指定位点开始读取, 直到 ctx 取消
type EventSource interface {
	Run(_ctx context.Context, _start *model.Position) error
}

var _ EventSource = (*BinlogReader)(nil)

/* 读取 MySQL binlog, 转换成行事件写入日志.
只在事务边界(XID/DDL)保存批次, 一个事务不会被拆到两个批次中
*/
type BinlogReader struct {
	Context *config.SourceContext
	Syncer  *replication.BinlogSyncer
	Tables  *matemap.TableCache
	Writer  *BatchWriter
	DDL     *DDLWriter
	Gate    *Gate

	MaxRows     int           // 超过该事件数在下一个事务边界保存批次
	IdleTimeout time.Duration // 没有新的 event 时保存已经完成的事务

	logFile       string
	events        []*model.RowEvent
	boundary      int             // events[:boundary] 是已经完成的事务
	safePosition  *model.Position // 最后一个完成的事务的位点
	savedPosition *model.Position
	eventTime     int64
}

/* 从指定位点开始读取, ctx 取消之后保存已经完成的事务并返回
Params:
    _ctx: 上下文
    _start: 开始位点
*/
func (this *BinlogReader) Run(_ctx context.Context, _start *model.Position) error {
	streamer, err := this.Syncer.StartSync(mysql.Position{Name: _start.LogFile, Pos: uint32(_start.LogPos)})
	if err != nil {
		return errors.Annotatef(err, "开始解析 binlog %v", _start)
	}
	defer this.Syncer.Close()
	logger.M.Infof("%v: 开始解析 binlog, 开始位点: %v", common.CurrLine(), _start)

	this.logFile = _start.LogFile
	this.safePosition = _start
	this.savedPosition = _start
	this.events = make([]*model.RowEvent, 0, this.MaxRows)

	for {
		eventCtx, cancel := context.WithTimeout(_ctx, this.IdleTimeout)
		ev, err := streamer.GetEvent(eventCtx)
		cancel()
		if err != nil {
			if _ctx.Err() != nil {
				if flushErr := this.flush(context.WithoutCancel(_ctx)); flushErr != nil {
					logger.M.Errorf("%v: 失败. 停止前保存批次. %v", common.CurrLine(), flushErr)
				}
				return errors.Trace(_ctx.Err())
			}
			if errors.Cause(err) == context.DeadlineExceeded {
				if err := this.flush(_ctx); err != nil {
					return errors.Trace(err)
				}
				continue
			}
			return errors.Annotate(err, "获取 binlog event")
		}

		if err := this.HandleEvent(_ctx, ev); err != nil {
			return errors.Trace(err)
		}
		if this.boundary > 0 && len(this.events) >= this.MaxRows {
			if err := this.flush(_ctx); err != nil {
				return errors.Trace(err)
			}
		}
	}
}

// 处理一个 binlog event
func (this *BinlogReader) HandleEvent(_ctx context.Context, _ev *replication.BinlogEvent) error {
	if _ev.Header.Timestamp > 0 {
		this.eventTime = int64(_ev.Header.Timestamp)
	}
	position := model.NewPosition(this.logFile, int64(_ev.Header.LogPos))

	switch e := _ev.Event.(type) {
	case *replication.RotateEvent:
		this.logFile = string(e.NextLogName)
		logger.M.Infof("%v: binlog 切换到 %v:%v", common.CurrLine(), this.logFile, e.Position)
	case *replication.RowsEvent:
		return errors.Trace(this.handleRows(_ctx, _ev.Header.EventType, e, position))
	case *replication.QueryEvent:
		return errors.Trace(this.handleQuery(_ctx, e, position))
	case *replication.XIDEvent:
		this.markBoundary(position)
	}

	return nil
}

func (this *BinlogReader) markBoundary(_position *model.Position) {
	this.boundary = len(this.events)
	this.safePosition = _position
}

func rowsAction(_eventType replication.EventType) string {
	switch _eventType {
	case replication.WRITE_ROWS_EVENTv0, replication.WRITE_ROWS_EVENTv1, replication.WRITE_ROWS_EVENTv2:
		return model.ACTION_INSERT
	case replication.UPDATE_ROWS_EVENTv0, replication.UPDATE_ROWS_EVENTv1, replication.UPDATE_ROWS_EVENTv2:
		return model.ACTION_UPDATE
	case replication.DELETE_ROWS_EVENTv0, replication.DELETE_ROWS_EVENTv1, replication.DELETE_ROWS_EVENTv2:
		return model.ACTION_DELETE
	}

	return ""
}

func (this *BinlogReader) handleRows(
	_ctx context.Context,
	_eventType replication.EventType,
	_e *replication.RowsEvent,
	_position *model.Position,
) error {
	schema, tableName := string(_e.Table.Schema), string(_e.Table.Table)
	names, ok := this.Context.GetSchemaNames(schema)
	if !ok || !this.Context.IsTableInScope(schema, tableName) {
		return nil
	}
	action := rowsAction(_eventType)
	if action == "" {
		return nil
	}

	rows, err := this.rowsToMaps(_ctx, schema, tableName, _e.Rows)
	if err != nil {
		return errors.Trace(err)
	}

	newEvent := func() *model.RowEvent {
		return &model.RowEvent{
			Schema:         names.Clear,
			Table:          tableName,
			Action:         action,
			BinlogName:     _position.LogFile,
			BinlogPosition: _position.LogPos,
			EventTime:      this.eventTime,
		}
	}
	switch action {
	case model.ACTION_INSERT:
		for _, row := range rows {
			event := newEvent()
			event.After = row
			this.events = append(this.events, event)
		}
	case model.ACTION_DELETE:
		for _, row := range rows {
			event := newEvent()
			event.Before = row
			this.events = append(this.events, event)
		}
	case model.ACTION_UPDATE:
		// 变更前后的镜像成对出现
		for i := 0; i+1 < len(rows); i += 2 {
			event := newEvent()
			event.Before, event.After = rows[i], rows[i+1]
			this.events = append(this.events, event)
		}
	}

	return nil
}

// 表结构和 binlog 不一致时重新加载一次
func (this *BinlogReader) rowsToMaps(_ctx context.Context, _schema string, _table string, _rows [][]interface{}) ([]map[string]interface{}, error) {
	for retry := 0; ; retry++ {
		table, err := this.Tables.Get(_ctx, _schema, _table)
		if err != nil {
			return nil, errors.Trace(err)
		}

		maps := make([]map[string]interface{}, 0, len(_rows))
		for _, row := range _rows {
			rowMap, err := table.RowToMap(row)
			if err != nil {
				break
			}
			maps = append(maps, rowMap)
		}
		if len(maps) == len(_rows) {
			return maps, nil
		}
		if retry > 0 {
			return nil, errors.NotValidf("表 %v.%v 的结构和 binlog 不一致", _schema, _table)
		}
		logger.M.Warnf("%v: 警告. 表 %v.%v 结构变化, 重新加载", common.CurrLine(), _schema, _table)
		this.Tables.Invalidate(_schema, _table)
	}
}

func (this *BinlogReader) handleQuery(_ctx context.Context, _e *replication.QueryEvent, _position *model.Position) error {
	query := strings.TrimSpace(string(_e.Query))
	if strings.EqualFold(query, "BEGIN") {
		return nil
	}

	commands, err := translator.ParseDDL(query)
	if err != nil {
		if errors.Cause(err) == common.ErrUnsupportedCommand {
			logger.M.Debugf("%v: 忽略语句: %v", common.CurrLine(), query)
			this.markBoundary(_position)
			return nil
		}
		return errors.Annotatef(err, "解析DDL: %v", query)
	}

	schema := string(_e.Schema)
	for _, command := range commands {
		origin := command.SchemaName()
		if origin == "" {
			origin = schema
		}
		this.Tables.Invalidate(origin, command.TableName())
		if rename, ok := command.(*translator.RenameTable); ok {
			this.Tables.Invalidate(origin, rename.NewName)
		}
	}

	events, err := this.DDL.WriteCommands(_ctx, commands, schema, _position, this.eventTime)
	if err != nil {
		return errors.Trace(err)
	}
	this.events = append(this.events, events...)
	this.markBoundary(_position)

	return nil
}

/* 保存已经完成的事务, 没有完成的事务留到下一个批次
Params:
    _ctx: 上下文
*/
func (this *BinlogReader) flush(_ctx context.Context) error {
	if this.boundary == 0 && this.safePosition.Compare(this.savedPosition) == 0 {
		return nil
	}

	completed := this.events[:this.boundary]
	if this.Gate != nil {
		var err error
		if completed, err = this.Gate.Filter(completed); err != nil {
			return errors.Trace(err)
		}
	}
	if err := this.Writer.WriteBatch(_ctx, completed); err != nil {
		return errors.Trace(err)
	}
	if err := this.Writer.SaveMasterStatus(_ctx, this.safePosition); err != nil {
		return errors.Trace(err)
	}

	remain := make([]*model.RowEvent, 0, this.MaxRows)
	this.events = append(remain, this.events[this.boundary:]...)
	this.boundary = 0
	this.savedPosition = this.safePosition

	return nil
}
