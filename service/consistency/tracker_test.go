package consistency

import (
	"context"
	"database/sql"
	"testing"

	"github.com/daiguadaidai/go-pg-ninja/common"
	"github.com/daiguadaidai/go-pg-ninja/model"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	source     *model.Source
	processed  *model.Position
	watermarks map[string]*model.Position
	markErr    error
}

func newFakeStore(_watermark *model.Position, _processed *model.Position) *fakeStore {
	source := &model.Source{IDSource: 1, Source: "src"}
	if _watermark != nil {
		source.BinlogName = sql.NullString{String: _watermark.LogFile, Valid: true}
		source.BinlogPosition = sql.NullInt64{Int64: _watermark.LogPos, Valid: true}
	}

	return &fakeStore{
		source:    source,
		processed: _processed,
		watermarks: map[string]*model.Position{
			"db_shop.orders": model.NewPosition("mysql-bin.000005", 100),
			"db_shop.items":  model.NewPosition("mysql-bin.000004", 900),
		},
	}
}

func (this *fakeStore) GetSource(_ context.Context, _sourceID int64) (*model.Source, error) {
	return this.source, nil
}

func (this *fakeStore) MaxProcessedPosition(_ context.Context, _sourceID int64) (*model.Position, error) {
	return this.processed, nil
}

// 失败时数据源和表的水位都不变
func (this *fakeStore) MarkConsistent(_sourceID int64) error {
	if this.markErr != nil {
		return this.markErr
	}
	this.source.Consistent = true
	this.source.BinlogName = sql.NullString{}
	this.source.BinlogPosition = sql.NullInt64{}
	this.watermarks = map[string]*model.Position{}

	return nil
}

func (this *fakeStore) FindInconsistent(_ context.Context, _sourceID int64) (map[string]*model.Position, error) {
	return this.watermarks, nil
}

func (this *fakeStore) SetConsistentTable(_sourceID int64, _schema string, _table string) error {
	delete(this.watermarks, common.GetTableKey(_schema, _table))
	return nil
}

func TestTracker_ReachWatermark(t *testing.T) {
	store := newFakeStore(model.NewPosition("mysql-bin.000005", 100), model.NewPosition("mysql-bin.000005", 120))
	tracker := NewTracker(1, store)

	consistent, err := tracker.CheckConsistency(context.Background())
	require.NoError(t, err)
	assert.True(t, consistent)
	assert.True(t, store.source.Consistent)
	assert.Nil(t, store.source.GetHighWatermark())

	tables, err := tracker.GetInconsistentTables(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tables)

	// 一致之后不会再变回不一致
	store.processed = model.NewPosition("mysql-bin.000001", 4)
	consistent, err = tracker.CheckConsistency(context.Background())
	require.NoError(t, err)
	assert.True(t, consistent)
}

func TestTracker_MarkConsistentFailed(t *testing.T) {
	store := newFakeStore(model.NewPosition("mysql-bin.000005", 100), model.NewPosition("mysql-bin.000005", 120))
	store.markErr = errors.New("connection reset")

	consistent, err := NewTracker(1, store).CheckConsistency(context.Background())
	require.Error(t, err)
	assert.False(t, consistent)
	assert.False(t, store.source.Consistent)
	assert.Equal(t, "mysql-bin.000005:100", store.source.GetHighWatermark().String())
	assert.Len(t, store.watermarks, 2)

	// 下一次检查重新设置
	store.markErr = nil
	consistent, err = NewTracker(1, store).CheckConsistency(context.Background())
	require.NoError(t, err)
	assert.True(t, consistent)
	assert.Empty(t, store.watermarks)
}

func TestTracker_Compare(t *testing.T) {
	watermark := model.NewPosition("mysql-bin.000005", 100)
	cases := []struct {
		processed  *model.Position
		consistent bool
	}{
		{model.NewPosition("mysql-bin.000005", 99), false},
		{model.NewPosition("mysql-bin.000005", 100), true},
		{model.NewPosition("mysql-bin.000004", 5000), false},
		{model.NewPosition("mysql-bin.000010", 4), true},
	}
	for _, c := range cases {
		store := newFakeStore(watermark, c.processed)
		consistent, err := NewTracker(1, store).CheckConsistency(context.Background())
		require.NoError(t, err)
		assert.Equal(t, c.consistent, consistent, c.processed.String())
		assert.Equal(t, c.consistent, len(store.watermarks) == 0, c.processed.String())
	}
}

func TestTracker_Inconclusive(t *testing.T) {
	store := newFakeStore(nil, model.NewPosition("mysql-bin.000005", 120))
	consistent, err := NewTracker(1, store).CheckConsistency(context.Background())
	require.NoError(t, err)
	assert.False(t, consistent)

	store = newFakeStore(model.NewPosition("mysql-bin.000005", 100), nil)
	consistent, err = NewTracker(1, store).CheckConsistency(context.Background())
	require.NoError(t, err)
	assert.False(t, consistent)
	assert.Len(t, store.watermarks, 2)
}

func TestTracker_SetConsistentTable(t *testing.T) {
	store := newFakeStore(nil, nil)
	tracker := NewTracker(1, store)

	require.NoError(t, tracker.SetConsistentTable("db_shop", "orders"))
	tables, err := tracker.GetInconsistentTables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"db_shop.items"}, keys(tables))
}

func keys(_tables map[string]*model.Position) []string {
	result := make([]string, 0, len(_tables))
	for key := range _tables {
		result = append(result, key)
	}

	return result
}
