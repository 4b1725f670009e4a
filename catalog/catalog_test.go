package catalog

import (
	"context"
	"os"
	"sort"
	"strings"
	"testing"

	"github.com/daiguadaidai/go-pg-ninja/gdbc"
	"github.com/daiguadaidai/go-pg-ninja/setting"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestMigrations_Ordered(t *testing.T) {
	require.NotEmpty(t, Migrations)

	last := 0
	for _, migration := range Migrations {
		assert.Greater(t, migration.Version, last, "版本号必须递增")
		assert.NotEmpty(t, migration.Description)
		for _, statement := range migration.Statements {
			assert.True(t, strings.HasSuffix(strings.TrimSpace(statement), ";"), statement)
		}
		last = migration.Version
	}
	assert.Equal(t, 3, LatestVersion())
}

func TestPending(t *testing.T) {
	versions := func(migrations []*Migration) []int {
		result := make([]int, 0, len(migrations))
		for _, migration := range migrations {
			result = append(result, migration.Version)
		}
		return result
	}

	assert.Equal(t, []int{1, 2, 3}, versions(pending(Migrations, 0)))
	assert.Equal(t, []int{3}, versions(pending(Migrations, 2)))
	assert.Empty(t, pending(Migrations, 3))
}

func TestUpgrade(t *testing.T) {
	dsn := os.Getenv("PGNINJA_TEST_DSN")
	if dsn == "" {
		t.Skip("PGNINJA_TEST_DSN 没有设置, 跳过需要 PostgreSQL 的测试")
	}
	pgConfig, err := setting.ParsePgDSN(dsn)
	require.NoError(t, err)

	ctx := context.Background()
	pool, err := gdbc.NewPgPool(ctx, pgConfig, gdbc.SessionOption{ApplicationName: "pg_ninja catalog test"})
	require.NoError(t, err)
	defer pool.Close()

	require.NoError(t, Drop(ctx, pool))
	version, err := GetCatalogVersion(ctx, pool)
	require.NoError(t, err)
	assert.Equal(t, "", version)

	// 先只升级到版本 1, 再升级剩下的
	applied, err := upgrade(ctx, pool, Migrations[:1])
	require.NoError(t, err)
	assert.Equal(t, []int{1}, applied)

	applied, err = Upgrade(ctx, pool)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, applied)

	version, err = GetCatalogVersion(ctx, pool)
	require.NoError(t, err)
	assert.Equal(t, "3", version)

	applied, err = Upgrade(ctx, pool)
	require.NoError(t, err)
	assert.Empty(t, applied)

	require.NoError(t, Drop(ctx, pool))
}

func TestUpgrade_Concurrent(t *testing.T) {
	dsn := os.Getenv("PGNINJA_TEST_DSN")
	if dsn == "" {
		t.Skip("PGNINJA_TEST_DSN 没有设置, 跳过需要 PostgreSQL 的测试")
	}
	pgConfig, err := setting.ParsePgDSN(dsn)
	require.NoError(t, err)

	ctx := context.Background()
	pool, err := gdbc.NewPgPool(ctx, pgConfig, gdbc.SessionOption{ApplicationName: "pg_ninja catalog test"})
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, Drop(ctx, pool))

	// 同时创建, 每个版本只执行一次
	const workers = 4
	results := make([][]int, workers)
	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		i := i
		group.Go(func() error {
			applied, err := Upgrade(groupCtx, pool)
			results[i] = applied
			return err
		})
	}
	require.NoError(t, group.Wait())

	all := make([]int, 0, LatestVersion())
	for _, applied := range results {
		all = append(all, applied...)
	}
	sort.Ints(all)
	assert.Equal(t, []int{1, 2, 3}, all)

	version, err := GetCatalogVersion(ctx, pool)
	require.NoError(t, err)
	assert.Equal(t, "3", version)

	require.NoError(t, Drop(ctx, pool))
}
