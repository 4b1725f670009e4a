package replica

import (
	"context"
	"strings"
	"testing"

	"github.com/daiguadaidai/go-pg-ninja/model"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReplayer struct {
	cancel  context.CancelFunc
	batches int // 还有多少个批次可以回放
	idle    int // 空闲多少次之后取消
	err     error

	replayed int
	pruned   int
}

func (this *fakeReplayer) Replay(_ctx context.Context) (bool, error) {
	if err := _ctx.Err(); err != nil {
		return false, err
	}
	if this.err != nil {
		return false, this.err
	}
	if this.batches > 0 {
		this.batches--
		this.replayed++
		return true, nil
	}

	this.idle--
	if this.idle <= 0 {
		this.cancel()
	}
	return false, nil
}

func (this *fakeReplayer) Prune(_ctx context.Context) (int64, error) {
	this.pruned++
	return 1, nil
}

type fakeChecker struct {
	consistentAfter int
	checks          int
}

func (this *fakeChecker) CheckConsistency(_ctx context.Context) (bool, error) {
	this.checks++
	return this.checks >= this.consistentAfter, nil
}

func TestRunReplayLoop_StopOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	replayer := &fakeReplayer{cancel: cancel, batches: 5, idle: 2}
	checker := &fakeChecker{consistentAfter: 3}

	err := runReplayLoop(ctx, replayer, checker, 0)
	require.Error(t, err)
	assert.Equal(t, context.Canceled, errors.Cause(err))

	assert.Equal(t, 5, replayer.replayed)
	// 一致之后不再检查
	assert.Equal(t, 3, checker.checks)
	assert.Equal(t, 2, replayer.pruned)
}

func TestRunReplayLoop_ReplayError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	boom := errors.New("boom")
	replayer := &fakeReplayer{cancel: cancel, err: boom}
	checker := &fakeChecker{}

	err := runReplayLoop(ctx, replayer, checker, 0)
	require.Error(t, err)
	assert.Equal(t, boom, errors.Cause(err))
	assert.Equal(t, 0, checker.checks)
	assert.Equal(t, 0, replayer.pruned)
}

func TestChooseStartPosition(t *testing.T) {
	last := model.NewPosition("mysql-bin.000006", 4)
	watermark := model.NewPosition("mysql-bin.000005", 100)

	start, err := chooseStartPosition("shop", last, watermark)
	require.NoError(t, err)
	assert.Equal(t, last, start)

	start, err = chooseStartPosition("shop", nil, watermark)
	require.NoError(t, err)
	assert.Equal(t, watermark, start)

	// 重新初始化后残留的旧批次在水位之前
	stale := model.NewPosition("mysql-bin.000003", 120)
	newWatermark := model.NewPosition("mysql-bin.000009", 4)
	start, err = chooseStartPosition("shop", stale, newWatermark)
	require.NoError(t, err)
	assert.Equal(t, newWatermark, start)

	// 已经一致, 水位为空
	start, err = chooseStartPosition("shop", stale, nil)
	require.NoError(t, err)
	assert.Equal(t, stale, start)

	_, err = chooseStartPosition("shop", nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestApplicationName(t *testing.T) {
	name := applicationName("shop")
	assert.True(t, strings.HasPrefix(name, "pg_ninja_shop_"))
	assert.Len(t, name, len("pg_ninja_shop_")+8)
	assert.NotEqual(t, name, applicationName("shop"))

	assert.True(t, strings.HasPrefix(applicationName(""), "pg_ninja_"))
}
