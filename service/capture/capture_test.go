package capture

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/daiguadaidai/go-pg-ninja/common"
	"github.com/daiguadaidai/go-pg-ninja/model"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/juju/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRow(t *testing.T) {
	data, err := EncodeRow(map[string]interface{}{
		"id":      int64(1),
		"created": time.Date(2024, 1, 2, 3, 4, 5, 600000000, time.UTC),
		"amount":  decimal.RequireFromString("10.50"),
		"raw":     []byte{0xff, 0x00},
		"text":    []byte("abc"),
		"tags":    []string{"a", "b"},
		"zero":    "0000-00-00 00:00:00",
		"empty":   nil,
	})
	require.NoError(t, err)

	row := make(map[string]interface{})
	require.NoError(t, json.Unmarshal(data, &row))
	assert.Equal(t, float64(1), row["id"])
	assert.Equal(t, "2024-01-02 03:04:05.6", row["created"])
	assert.Equal(t, "10.5", row["amount"])
	assert.Equal(t, `\xff00`, row["raw"])
	assert.Equal(t, "abc", row["text"])
	assert.Equal(t, "a,b", row["tags"])
	assert.Nil(t, row["zero"])
	assert.Nil(t, row["empty"])

	data, err = EncodeRow(nil)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestSanitizeJSON(t *testing.T) {
	data, err := EncodeRow(map[string]interface{}{"name": "a\x00b"})
	require.NoError(t, err)
	assert.Equal(t, `{"name":"ab"}`, string(sanitizeJSON(data)))
	assert.Nil(t, sanitizeJSON(nil))
}

func TestCsvWriter(t *testing.T) {
	buffer := new(bytes.Buffer)
	writer := NewCsvWriter(buffer)
	require.NoError(t, writer.WriteRecord([]*string{strPtr("1"), nil, strPtr("it's"), strPtr("NULL"), strPtr("a,b")}))
	require.NoError(t, writer.Flush())

	assert.Equal(t, "'1',NULL,'it''s','NULL','a,b'\n", buffer.String())
}

func TestLogEventFields(t *testing.T) {
	query := `DROP TABLE "s"."t";`
	eventTime := int64(1700000000)
	fields := logEventFields(&model.LogEvent{
		IDBatch:        7,
		TableName:      "t",
		SchemaName:     "s",
		Action:         model.ACTION_DDL,
		BinlogName:     "mysql-bin.000001",
		BinlogPosition: 120,
		Query:          &query,
		EventTime:      &eventTime,
	})

	require.Len(t, fields, 10)
	assert.Equal(t, "7", *fields[0])
	assert.Nil(t, fields[6])
	assert.Nil(t, fields[7])
	assert.Equal(t, query, *fields[8])
	assert.Equal(t, "1700000000", *fields[9])
}

// 内存中的日志存储, 表名为 poison 的行总是编码失败
type fakeLogStore struct {
	nextID     int64
	logTables  []string
	copyErr    error
	inserted   []*model.LogEvent
	copied     int64
	discarded  []string
	batches    map[int64]*model.Position
	insertCall int
}

func newFakeLogStore() *fakeLogStore {
	return &fakeLogStore{
		logTables: []string{"t_log_replica_src_1", "t_log_replica_src_2"},
		batches:   make(map[int64]*model.Position),
	}
}

func (this *fakeLogStore) NextBatchID(_ context.Context) (int64, error) {
	this.nextID++
	return this.nextID, nil
}

func (this *fakeLogStore) CurrentLogTable(_ context.Context, _sourceID int64) (string, error) {
	return this.logTables[0], nil
}

func (this *fakeLogStore) CopyEvents(_ context.Context, _logTable string, _csv io.Reader) (int64, error) {
	data, err := io.ReadAll(_csv)
	if err != nil {
		return 0, err
	}
	if this.copyErr != nil {
		return 0, this.copyErr
	}
	rows := int64(strings.Count(string(data), "\n"))
	this.copied += rows

	return rows, nil
}

func (this *fakeLogStore) InsertEvent(_ context.Context, _logTable string, _event *model.LogEvent) error {
	this.insertCall++
	if _event.TableName == "poison" {
		return &pgconn.PgError{Code: common.PG_UNTRANSLATABLE_CHAR, Message: "unsupported Unicode escape sequence"}
	}
	this.inserted = append(this.inserted, _event)

	return nil
}

func (this *fakeLogStore) SaveDiscardedRow(_batchID int64, _schema string, _table string, _rowData string) error {
	this.discarded = append(this.discarded, _rowData)
	return nil
}

func (this *fakeLogStore) SaveBatch(_ context.Context, _batchID int64, _sourceID int64, _position *model.Position, _logTable string, _eventTime int64) error {
	this.batches[_batchID] = _position
	this.logTables[0], this.logTables[1] = this.logTables[1], this.logTables[0]

	return nil
}

func testInsertEvent(_table string, _id int64, _pos int64) *model.RowEvent {
	return &model.RowEvent{
		Schema:         "db_clear",
		Table:          _table,
		Action:         model.ACTION_INSERT,
		After:          map[string]interface{}{"id": _id, "name": "n\x00"},
		BinlogName:     "mysql-bin.000001",
		BinlogPosition: _pos,
		EventTime:      1700000000,
	}
}

func TestBatchWriter_Copy(t *testing.T) {
	store := newFakeLogStore()
	writer := NewBatchWriter(1, store)
	ctx := context.Background()

	require.NoError(t, writer.WriteBatch(ctx, []*model.RowEvent{testInsertEvent("t", 1, 100), testInsertEvent("t", 2, 110)}))
	assert.Equal(t, int64(2), store.copied)
	assert.Equal(t, int64(2), writer.Written())
	assert.Equal(t, int64(1), writer.BatchID())

	require.NoError(t, writer.SaveMasterStatus(ctx, model.NewPosition("mysql-bin.000001", 110)))
	assert.Equal(t, "mysql-bin.000001:110", store.batches[1].String())
	assert.Equal(t, int64(0), writer.BatchID())
	assert.Equal(t, "t_log_replica_src_2", store.logTables[0])
}

func TestBatchWriter_DiscardPoisonRow(t *testing.T) {
	store := newFakeLogStore()
	store.copyErr = &pgconn.PgError{Code: common.PG_UNTRANSLATABLE_CHAR}
	writer := NewBatchWriter(1, store)
	ctx := context.Background()

	events := []*model.RowEvent{
		testInsertEvent("t", 1, 100),
		testInsertEvent("poison", 2, 110),
		testInsertEvent("t", 3, 120),
	}
	require.NoError(t, writer.WriteBatch(ctx, events))
	require.NoError(t, writer.SaveMasterStatus(ctx, model.NewPosition("mysql-bin.000001", 120)))

	// 失败的行清洗后重试一次, 还是失败保存一次
	require.Len(t, store.discarded, 1)
	assert.Equal(t, int64(1), writer.Discarded())
	assert.Equal(t, 4, store.insertCall)
	require.Len(t, store.inserted, 2)
	assert.Equal(t, "t", store.inserted[0].TableName)
	assert.Equal(t, int64(120), store.inserted[1].BinlogPosition)
	assert.Contains(t, store.batches, int64(1))

	payload, err := hex.DecodeString(store.discarded[0])
	require.NoError(t, err)
	discarded := make(map[string]interface{})
	require.NoError(t, json.Unmarshal(payload, &discarded))
	assert.Equal(t, model.ACTION_INSERT, discarded["action"])
	assert.Equal(t, float64(2), discarded["after"].(map[string]interface{})["id"])
}

func TestBatchWriter_DiscardUnencodableRow(t *testing.T) {
	store := newFakeLogStore()
	writer := NewBatchWriter(1, store)
	ctx := context.Background()

	bad := testInsertEvent("bad", 2, 110)
	bad.After = map[string]interface{}{"id": int64(2), "ratio": math.Inf(1)}
	require.NoError(t, writer.WriteBatch(ctx, []*model.RowEvent{testInsertEvent("t", 1, 100), bad}))

	assert.Equal(t, int64(1), store.copied)
	assert.Equal(t, int64(1), writer.Discarded())
	require.Len(t, store.discarded, 1)

	// 保存的是行本身的值, 不是错误信息
	payload, err := hex.DecodeString(store.discarded[0])
	require.NoError(t, err)
	assert.Contains(t, string(payload), "action: "+model.ACTION_INSERT)
	assert.Contains(t, string(payload), "id:2")
	assert.Contains(t, string(payload), "ratio:+Inf")
	assert.NotContains(t, string(payload), "json")
}

func TestBatchWriter_Empty(t *testing.T) {
	store := newFakeLogStore()
	writer := NewBatchWriter(1, store)

	require.NoError(t, writer.WriteBatch(context.Background(), nil))
	assert.Equal(t, int64(0), writer.BatchID())
	assert.Equal(t, int64(0), store.nextID)
}

type fakeWatermarkStore struct {
	watermarks map[string]*model.Position
	consistent []string
}

func (this *fakeWatermarkStore) FindInconsistent(_ context.Context, _sourceID int64) (map[string]*model.Position, error) {
	return this.watermarks, nil
}

func (this *fakeWatermarkStore) SetConsistentTable(_sourceID int64, _schema string, _table string) error {
	this.consistent = append(this.consistent, common.GetTableKey(_schema, _table))
	return nil
}

func TestGate(t *testing.T) {
	store := &fakeWatermarkStore{watermarks: map[string]*model.Position{
		"db_clear.t": model.NewPosition("mysql-bin.000005", 100),
	}}
	gate, err := NewGate(context.Background(), store, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, gate.Len())

	events := []*model.RowEvent{
		testInsertEvent("t", 1, 90),
		testInsertEvent("other", 2, 95),
		testInsertEvent("t", 3, 100),
		{Schema: "db_clear", Table: "t", Action: model.ACTION_DDL, BinlogName: "mysql-bin.000005", BinlogPosition: 100},
	}
	for _, event := range events {
		event.BinlogName = "mysql-bin.000005"
	}
	allowed, err := gate.Filter(events)
	require.NoError(t, err)
	require.Len(t, allowed, 2)
	assert.Equal(t, "other", allowed[0].Table)
	assert.Equal(t, model.ACTION_DDL, allowed[1].Action)
	assert.Empty(t, store.consistent)

	// 下一个文件的位点大于水位
	next := testInsertEvent("t", 4, 4)
	next.BinlogName = "mysql-bin.000006"
	ok, err := gate.Allow(next)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"db_clear.t"}, store.consistent)
	assert.Equal(t, 0, gate.Len())

	ok, err = gate.Allow(testInsertEvent("t", 5, 1))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGate_StoreError(t *testing.T) {
	store := &failingWatermarkStore{}
	_, err := NewGate(context.Background(), store, 1)
	assert.Error(t, err)
}

type failingWatermarkStore struct{}

func (failingWatermarkStore) FindInconsistent(_ context.Context, _sourceID int64) (map[string]*model.Position, error) {
	return nil, errors.New("connection refused")
}

func (failingWatermarkStore) SetConsistentTable(_sourceID int64, _schema string, _table string) error {
	return nil
}
