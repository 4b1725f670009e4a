package capture

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/daiguadaidai/go-pg-ninja/common"
	"github.com/daiguadaidai/go-pg-ninja/dao"
	"github.com/daiguadaidai/go-pg-ninja/gdbc"
	"github.com/daiguadaidai/go-pg-ninja/logger"
	"github.com/daiguadaidai/go-pg-ninja/model"
	"github.com/juju/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/atomic"
)

var tracer = otel.Tracer("github.com/daiguadaidai/go-pg-ninja/service/capture")

// 写入日志表和批次需要的存储
type LogStore interface {
	NextBatchID(_ctx context.Context) (int64, error)
	CurrentLogTable(_ctx context.Context, _sourceID int64) (string, error)
	CopyEvents(_ctx context.Context, _logTable string, _csv io.Reader) (int64, error)
	InsertEvent(_ctx context.Context, _logTable string, _event *model.LogEvent) error
	SaveDiscardedRow(_batchID int64, _schema string, _table string, _rowData string) error
	SaveBatch(_ctx context.Context, _batchID int64, _sourceID int64, _position *model.Position, _logTable string, _eventTime int64) error
}

// 基于 PostgreSQL 的日志存储
type PgLogStore struct {
	*dao.BatchDao
	*dao.LogDao
}

func NewPgLogStore(_instance *gdbc.PgInstance) *PgLogStore {
	return &PgLogStore{
		BatchDao: dao.NewBatchDao(_instance),
		LogDao:   dao.NewLogDao(_instance),
	}
}

/* 批次写入. 一个批次的事件先使用预留的批次ID写入当前日志表,
SaveMasterStatus 保存批次之后才能被回放
*/
type BatchWriter struct {
	SourceID int64
	Store    LogStore

	batchID       int64 // 0 表示还没有预留
	logTable      string
	lastEventTime int64

	written   *atomic.Int64
	discarded *atomic.Int64
}

func NewBatchWriter(_sourceID int64, _store LogStore) *BatchWriter {
	return &BatchWriter{
		SourceID:  _sourceID,
		Store:     _store,
		written:   atomic.NewInt64(0),
		discarded: atomic.NewInt64(0),
	}
}

// 已经写入日志表的事件数
func (this *BatchWriter) Written() int64 {
	return this.written.Load()
}

// 保存到 t_discarded_rows 的事件数
func (this *BatchWriter) Discarded() int64 {
	return this.discarded.Load()
}

// 当前批次ID, 没有预留返回 0
func (this *BatchWriter) BatchID() int64 {
	return this.batchID
}

func (this *BatchWriter) reserve(_ctx context.Context) error {
	if this.batchID != 0 {
		return nil
	}

	batchID, err := this.Store.NextBatchID(_ctx)
	if err != nil {
		return errors.Trace(err)
	}
	logTable, err := this.Store.CurrentLogTable(_ctx, this.SourceID)
	if err != nil {
		return errors.Trace(err)
	}
	this.batchID, this.logTable = batchID, logTable
	logger.M.Debugf("%v: 预留批次 %v, 日志表: %v", common.CurrLine(), batchID, logTable)

	return nil
}

/* 写入一批事件. COPY 失败使用单行插入, 单行插入的编码错误清洗后重试一次,
还是失败的行保存到 t_discarded_rows, 不影响其他行
Params:
    _ctx: 上下文
    _events: 捕获的事件, 按源库顺序
*/
func (this *BatchWriter) WriteBatch(_ctx context.Context, _events []*model.RowEvent) error {
	if len(_events) == 0 {
		return nil
	}
	if err := this.reserve(_ctx); err != nil {
		return errors.Trace(err)
	}

	ctx, span := tracer.Start(_ctx, "capture.WriteBatch")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("batch.id", this.batchID),
		attribute.String("batch.log_table", this.logTable),
		attribute.Int("batch.events", len(_events)),
	)

	logEvents := make([]*model.LogEvent, 0, len(_events))
	for _, event := range _events {
		if event.EventTime > this.lastEventTime {
			this.lastEventTime = event.EventTime
		}
		logEvent, err := this.toLogEvent(event)
		if err != nil {
			logger.M.Warnf("%v: 警告. 表 %v 的事件编码失败: %v", common.CurrLine(), event.GetTableKey(), err)
			if err := this.discard(event.Schema, event.Table, rawDiscardPayload(event)); err != nil {
				return errors.Trace(err)
			}
			continue
		}
		logEvents = append(logEvents, logEvent)
	}

	copied, err := this.copyEvents(ctx, logEvents)
	if err == nil {
		this.written.Add(copied)
		logger.M.Debugf("%v: 成功. COPY 批次 %v 事件 %v 个", common.CurrLine(), this.batchID, copied)
		return nil
	}
	span.RecordError(err)
	logger.M.Warnf("%v: 警告. COPY 批次 %v 失败, 改为单行写入. %v", common.CurrLine(), this.batchID, err)

	for _, logEvent := range logEvents {
		if err := this.insertEvent(ctx, logEvent); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return errors.Trace(err)
		}
	}

	return nil
}

func (this *BatchWriter) copyEvents(_ctx context.Context, _events []*model.LogEvent) (int64, error) {
	if len(_events) == 0 {
		return 0, nil
	}

	buffer := new(bytes.Buffer)
	writer := NewCsvWriter(buffer)
	for _, event := range _events {
		if err := writer.WriteRecord(logEventFields(event)); err != nil {
			return 0, errors.Trace(err)
		}
	}
	if err := writer.Flush(); err != nil {
		return 0, errors.Trace(err)
	}

	return this.Store.CopyEvents(_ctx, this.logTable, buffer)
}

// 单行写入, 只有保存丢弃的行失败才返回错误
func (this *BatchWriter) insertEvent(_ctx context.Context, _event *model.LogEvent) error {
	err := this.Store.InsertEvent(_ctx, this.logTable, _event)
	if err == nil {
		this.written.Inc()
		return nil
	}

	if common.IsEncodingError(err) {
		logger.M.Warnf("%v: 警告. 表 %v.%v 的事件有编码错误, 清洗后重试. %v",
			common.CurrLine(), _event.SchemaName, _event.TableName, err)
		sanitized := sanitizeLogEvent(_event)
		if err = this.Store.InsertEvent(_ctx, this.logTable, sanitized); err == nil {
			this.written.Inc()
			return nil
		}
	}

	logger.M.Errorf("%v: 失败. 表 %v.%v 的事件不能写入日志表. %v", common.CurrLine(), _event.SchemaName, _event.TableName, err)
	return errors.Trace(this.discard(_event.SchemaName, _event.TableName, discardPayload(_event)))
}

func (this *BatchWriter) discard(_schema string, _table string, _payload []byte) error {
	if err := this.Store.SaveDiscardedRow(this.batchID, _schema, _table, hex.EncodeToString(_payload)); err != nil {
		return errors.Trace(err)
	}
	this.discarded.Inc()

	return nil
}

/* 保存批次并轮换日志表, 之后的事件写入新的批次
Params:
    _ctx: 上下文
    _position: 批次最后一个事件的位点
*/
func (this *BatchWriter) SaveMasterStatus(_ctx context.Context, _position *model.Position) error {
	if err := this.reserve(_ctx); err != nil {
		return errors.Trace(err)
	}
	err := this.Store.SaveBatch(_ctx, this.batchID, this.SourceID, _position, this.logTable, this.lastEventTime)
	if err != nil {
		return errors.Trace(err)
	}
	logger.M.Infof("%v: 成功. 保存批次 %v, 位点: %v, 已写入事件: %v, 丢弃: %v",
		common.CurrLine(), this.batchID, _position, this.written.Load(), this.discarded.Load())
	this.batchID, this.logTable = 0, ""

	return nil
}

func (this *BatchWriter) toLogEvent(_event *model.RowEvent) (*model.LogEvent, error) {
	after, err := EncodeRow(_event.After)
	if err != nil {
		return nil, errors.Trace(err)
	}
	before, err := EncodeRow(_event.Before)
	if err != nil {
		return nil, errors.Trace(err)
	}

	logEvent := &model.LogEvent{
		IDBatch:        this.batchID,
		TableName:      _event.Table,
		SchemaName:     _event.Schema,
		Action:         _event.Action,
		BinlogName:     _event.BinlogName,
		BinlogPosition: _event.BinlogPosition,
		After:          after,
		Before:         before,
	}
	if _event.Query != "" {
		query := _event.Query
		logEvent.Query = &query
	}
	if _event.EventTime > 0 {
		eventTime := _event.EventTime
		logEvent.EventTime = &eventTime
	}

	return logEvent, nil
}

func sanitizeLogEvent(_event *model.LogEvent) *model.LogEvent {
	sanitized := *_event
	sanitized.After = sanitizeJSON(_event.After)
	sanitized.Before = sanitizeJSON(_event.Before)
	if _event.Query != nil {
		query := common.StripNullBytes(*_event.Query)
		sanitized.Query = &query
	}

	return &sanitized
}

// 丢弃的行保存的内容: {"after": ..., "before": ..., "query": ...}
func discardPayload(_event *model.LogEvent) []byte {
	payload := map[string]interface{}{
		"action": _event.Action,
		"after":  json.RawMessage(nullJSON(_event.After)),
		"before": json.RawMessage(nullJSON(_event.Before)),
	}
	if _event.Query != nil {
		payload["query"] = *_event.Query
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return []byte(err.Error())
	}

	return data
}

// 不能编码成 json 的事件, 保存原始值的文本
func rawDiscardPayload(_event *model.RowEvent) []byte {
	return []byte(fmt.Sprintf("action: %v, after: %v, before: %v, query: %v",
		_event.Action, _event.After, _event.Before, _event.Query))
}

func nullJSON(_data []byte) []byte {
	if _data == nil {
		return []byte("null")
	}

	return _data
}
