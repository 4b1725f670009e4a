package initload

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/daiguadaidai/go-pg-ninja/common"
	"github.com/daiguadaidai/go-pg-ninja/config"
	"github.com/daiguadaidai/go-pg-ninja/model"
	"github.com/daiguadaidai/go-pg-ninja/setting"
	"github.com/daiguadaidai/go-pg-ninja/translator"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

// 记录所有调用的顺序
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (this *recorder) add(_format string, _args ...interface{}) {
	this.mu.Lock()
	defer this.mu.Unlock()
	this.calls = append(this.calls, fmt.Sprintf(_format, _args...))
}

// 第一次出现的位置, 没有返回 -1
func (this *recorder) index(_prefix string) int {
	this.mu.Lock()
	defer this.mu.Unlock()
	for i, call := range this.calls {
		if strings.HasPrefix(call, _prefix) {
			return i
		}
	}

	return -1
}

func (this *recorder) count(_prefix string) int {
	this.mu.Lock()
	defer this.mu.Unlock()
	count := 0
	for _, call := range this.calls {
		if strings.HasPrefix(call, _prefix) {
			count++
		}
	}

	return count
}

type fakeSnapshot struct {
	rec      *recorder
	released *atomic.Int64
}

func (this *fakeSnapshot) ID() string { return "snap-1" }

func (this *fakeSnapshot) HighWatermark() *model.Position {
	return model.NewPosition("mysql-bin.000003", 154)
}

func (this *fakeSnapshot) Release() {
	if this.released.Inc() == 1 {
		this.rec.add("release")
	}
}

func (this *fakeSnapshot) Wait() error { return nil }

type fakeSource struct {
	rec      *recorder
	tables   map[string][]string
	snapshot *fakeSnapshot
}

func (this *fakeSource) Dialect() string { return translator.DIALECT_MYSQL }

func (this *fakeSource) ListTables(_ context.Context, _schema string) ([]string, error) {
	return this.tables[_schema], nil
}

func (this *fakeSource) TableMetadata(_ context.Context, _schema string, _table string) (*TableMetadata, error) {
	metadata := &TableMetadata{
		Columns: []*translator.Column{
			{Name: "id", DataType: "int", Nullable: false},
			{Name: "name", DataType: "varchar", Dimension: "20", Nullable: true},
		},
	}
	// notes 没有主键
	if _table != "notes" {
		metadata.Indices = []*translator.Index{
			{Name: "PRIMARY", Columns: []string{"id"}},
			{Name: "idx_name", Columns: []string{"name"}, NonUnique: true},
		}
	}

	return metadata, nil
}

func (this *fakeSource) CopyTable(_ context.Context, _snapshot SourceSnapshot, _schema string, _table string, _writer io.Writer) (int64, error) {
	if _, err := io.WriteString(_writer, "1\tfoo\n2\tbar\n"); err != nil {
		return 0, err
	}

	return 2, nil
}

func (this *fakeSource) BeginSnapshot(_ context.Context) (SourceSnapshot, error) {
	this.rec.add("snapshot")
	return this.snapshot, nil
}

func (this *fakeSource) Close() error { return nil }

// 目标库中的 schema 和表
type fakeDestination struct {
	rec        *recorder
	mu         sync.Mutex
	schemas    map[string]map[string]bool
	statements []string
	failCopy   string
}

func newFakeDestination(_rec *recorder) *fakeDestination {
	return &fakeDestination{rec: _rec, schemas: make(map[string]map[string]bool)}
}

func (this *fakeDestination) CreateSchema(_ context.Context, _schema string) error {
	this.mu.Lock()
	defer this.mu.Unlock()
	if _, ok := this.schemas[_schema]; !ok {
		this.schemas[_schema] = make(map[string]bool)
	}
	this.rec.add("create_schema:%v", _schema)

	return nil
}

func (this *fakeDestination) DropSchema(_ context.Context, _schema string) error {
	this.mu.Lock()
	defer this.mu.Unlock()
	delete(this.schemas, _schema)
	this.rec.add("drop_schema:%v", _schema)

	return nil
}

func (this *fakeDestination) Exec(_ context.Context, _statement string) error {
	this.mu.Lock()
	defer this.mu.Unlock()
	this.statements = append(this.statements, _statement)
	this.rec.add("exec:%v", _statement)

	return nil
}

func (this *fakeDestination) CopyIn(_ context.Context, _schema string, _table string, _reader io.Reader) (int64, error) {
	if _table == this.failCopy {
		return 0, errors.Errorf("copy %v failed", _table)
	}
	data, err := io.ReadAll(_reader)
	if err != nil {
		return 0, err
	}

	this.mu.Lock()
	defer this.mu.Unlock()
	this.schemas[_schema][_table] = true
	this.rec.add("copy:%v.%v", _schema, _table)

	return int64(strings.Count(string(data), "\n")), nil
}

func (this *fakeDestination) GrantSelect(_ context.Context, _schema string, _role string) error {
	this.rec.add("grant:%v:%v", _schema, _role)
	if _role == "ghost" {
		return &pgconn.PgError{Code: common.PG_UNDEFINED_OBJECT, Message: "role does not exist"}
	}

	return nil
}

func (this *fakeDestination) SwapSchemas(_ context.Context, _names []*config.SchemaNames) error {
	this.mu.Lock()
	defer this.mu.Unlock()
	for _, names := range _names {
		for _, pair := range [][2]string{{names.Clear, names.LoadingClear}, {names.Obfuscate, names.LoadingObfuscate}} {
			this.schemas[pair[0]], this.schemas[pair[1]] = this.schemas[pair[1]], this.schemas[pair[0]]
		}
	}
	this.rec.add("swap")

	return nil
}

type fakeMeta struct {
	rec        *recorder
	statuses   []string
	watermark  *model.Position
	consistent bool
	tables     map[string][]string
	tableMarks map[string]*model.Position
	indexes    []model.IndexDefinition
}

func newFakeMeta(_rec *recorder) *fakeMeta {
	return &fakeMeta{
		rec:        _rec,
		tables:     make(map[string][]string),
		tableMarks: make(map[string]*model.Position),
	}
}

func (this *fakeMeta) SetStatus(_sourceID int64, _status string) error {
	this.statuses = append(this.statuses, _status)
	this.rec.add("status:%v", _status)
	return nil
}

func (this *fakeMeta) SetHighWatermark(_sourceID int64, _watermark *model.Position, _consistent bool) error {
	this.watermark, this.consistent = _watermark, _consistent
	this.rec.add("watermark:%v", _watermark != nil)
	return nil
}

func (this *fakeMeta) CleanupSourceTables(_sourceID int64) error {
	this.tables = make(map[string][]string)
	this.rec.add("cleanup_tables")
	return nil
}

func (this *fakeMeta) CleanBatchData(_ctx context.Context, _source string) error {
	this.rec.add("clean_batches:%v", _source)
	return nil
}

func (this *fakeMeta) StoreTable(
	_ context.Context,
	_sourceID int64,
	_schema string,
	_table string,
	_pkey []string,
	_watermark *model.Position,
) error {
	key := common.GetTableKey(_schema, _table)
	if len(_pkey) == 0 {
		delete(this.tables, key)
	} else {
		this.tables[key] = _pkey
		this.tableMarks[key] = _watermark
	}
	this.rec.add("store_table:%v", key)

	return nil
}

func (this *fakeMeta) StoreIndex(_sourceID int64, _schema string, _table string, _index string, _create string) error {
	this.indexes = append(this.indexes, model.IndexDefinition{
		IDSource: _sourceID, Schema: _schema, Table: _table, Index: _index, Create: _create,
	})
	this.rec.add("store_index:%v.%v", _schema, _table)
	return nil
}

func (this *fakeMeta) FindIndexes(_sourceID int64) ([]model.IndexDefinition, error) {
	return this.indexes, nil
}

func (this *fakeMeta) DeleteIndexes(_sourceID int64) error {
	this.indexes = nil
	this.rec.add("delete_indexes")
	return nil
}

type fakeMasker struct {
	rec    *recorder
	masked []string
	views  []string
}

func (this *fakeMasker) Prepare(_ context.Context) error {
	this.rec.add("mask_prepare")
	return nil
}

func (this *fakeMasker) MaskTable(_ context.Context, _schema string, _table string, _mapping setting.TableObfuscation) error {
	this.masked = append(this.masked, common.GetTableKey(_schema, _table))
	this.rec.add("mask:%v.%v", _schema, _table)
	return nil
}

func (this *fakeMasker) CreateClearView(_ context.Context, _schema string, _table string) error {
	this.views = append(this.views, common.GetTableKey(_schema, _table))
	this.rec.add("view:%v.%v", _schema, _table)
	return nil
}

type loaderFixture struct {
	rec      *recorder
	loader   *Loader
	source   *fakeSource
	dest     *fakeDestination
	meta     *fakeMeta
	masker   *fakeMasker
	released *atomic.Int64
}

func newLoaderFixture() *loaderFixture {
	rec := new(recorder)
	released := atomic.NewInt64(0)
	sourceConfig := &setting.SourceConfig{
		Type: setting.SOURCE_TYPE_MYSQL,
		SchemaMappings: map[string]setting.SchemaMapping{
			"shop": {Clear: "db_shop", Obfuscate: "db_shop_obf"},
			"crm":  {Clear: "db_crm", Obfuscate: "db_crm_obf"},
		},
		SkipTables:    []string{"crm.audit"},
		GrantSelectTo: []string{"reader", "ghost"},
		CopyWorkers:   2,
		Obfuscation: map[string]map[string]setting.TableObfuscation{
			"shop": {"customers": {"email": {Mode: setting.OBFUSCATION_MODE_NORMAL, NonhashStart: 1, NonhashLength: 3}}},
		},
	}

	fixture := &loaderFixture{
		rec: rec,
		source: &fakeSource{
			rec: rec,
			tables: map[string][]string{
				"shop": {"customers", "items", "orders"},
				"crm":  {"audit", "contacts", "notes"},
			},
			snapshot: &fakeSnapshot{rec: rec, released: released},
		},
		dest:     newFakeDestination(rec),
		meta:     newFakeMeta(rec),
		masker:   &fakeMasker{rec: rec},
		released: released,
	}
	sourceContext := config.NewSourceContext("src", sourceConfig).WithSourceID(1)
	fixture.loader = NewLoader(sourceContext, fixture.source, fixture.dest, fixture.meta, fixture.masker)

	return fixture
}

func TestLoader_InitReplica(t *testing.T) {
	fixture := newLoaderFixture()
	require.NoError(t, fixture.loader.InitReplica(context.Background()))

	// 目标 schema 中有 5 个表, loading schema 已经删除
	assert.Equal(t, map[string]bool{"customers": true, "items": true, "orders": true}, fixture.dest.schemas["db_shop"])
	assert.Equal(t, map[string]bool{"contacts": true, "notes": true}, fixture.dest.schemas["db_crm"])
	for _, schema := range []string{"_db_shop_tmp", "_db_shop_obf_tmp", "_db_crm_tmp", "_db_crm_obf_tmp"} {
		_, ok := fixture.dest.schemas[schema]
		assert.False(t, ok, schema)
	}

	assert.Equal(t, []string{model.SOURCE_STATUS_INITIALISING, model.SOURCE_STATUS_INITIALISED}, fixture.meta.statuses)
	assert.Equal(t, "mysql-bin.000003:154", fixture.meta.watermark.String())
	assert.False(t, fixture.meta.consistent)
	assert.Equal(t, int64(1), fixture.released.Load())
	assert.Equal(t, 1, fixture.rec.count("clean_batches:src"))

	// notes 没有主键不注册, 其余的表带快照水位
	assert.Len(t, fixture.meta.tables, 4)
	assert.Equal(t, []string{"id"}, fixture.meta.tables["db_shop.orders"])
	assert.Equal(t, "mysql-bin.000003:154", fixture.meta.tableMarks["db_crm.contacts"].String())
	_, ok := fixture.meta.tables["db_crm.notes"]
	assert.False(t, ok)

	// 4 个有主键的表各一个主键, 5 个表各一个普通索引
	assert.Equal(t, 4, fixture.rec.count("exec:ALTER TABLE"))
	assert.Equal(t, 5, fixture.rec.count("exec:CREATE INDEX"))
	assert.Empty(t, fixture.meta.indexes)

	assert.Equal(t, []string{"shop.customers"}, fixture.masker.masked)
	assert.Len(t, fixture.masker.views, 4)
	assert.Equal(t, 8, fixture.rec.count("grant:"))
}

func TestLoader_StepOrder(t *testing.T) {
	fixture := newLoaderFixture()
	require.NoError(t, fixture.loader.InitReplica(context.Background()))

	steps := []string{
		"status:initialising",
		"create_schema:",
		"cleanup_tables",
		"clean_batches:src",
		"watermark:false",
		"exec:CREATE TABLE",
		"snapshot",
		"copy:",
		"release",
		"store_index:",
		"exec:ALTER TABLE",
		"delete_indexes",
		"store_table:",
		"view:",
		"grant:",
		"swap",
		"drop_schema:",
		"watermark:true",
		"status:initialised",
	}
	last := -1
	for _, step := range steps {
		idx := fixture.rec.index(step)
		require.NotEqual(t, -1, idx, step)
		assert.Greater(t, idx, last, step)
		last = idx
	}
	assert.Less(t, fixture.rec.index("copy:"), fixture.rec.index("release"))
}

func TestLoader_FailureCleanup(t *testing.T) {
	fixture := newLoaderFixture()
	fixture.dest.failCopy = "items"

	err := fixture.loader.InitReplica(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "copy items failed")

	assert.Equal(t, []string{model.SOURCE_STATUS_INITIALISING, model.SOURCE_STATUS_ERROR}, fixture.meta.statuses)
	assert.Equal(t, int64(1), fixture.released.Load(), "失败时也需要释放快照")
	assert.Equal(t, -1, fixture.rec.index("swap"))

	// 目标 schema 没有被修改, loading schema 已经删除
	assert.Empty(t, fixture.dest.schemas["db_shop"])
	assert.Empty(t, fixture.dest.schemas["db_crm"])
	for _, schema := range []string{"_db_shop_tmp", "_db_shop_obf_tmp", "_db_crm_tmp", "_db_crm_obf_tmp"} {
		_, ok := fixture.dest.schemas[schema]
		assert.False(t, ok, schema)
	}
}

func TestPgSource_Column(t *testing.T) {
	column := (&pgColumn{
		ColumnName:    "id",
		DataType:      "bigint",
		ColumnDefault: "nextval('orders_id_seq'::regclass)",
		TypeKind:      "b",
	}).toTranslatorColumn()
	assert.True(t, column.AutoIncrement)
	assert.Equal(t, "", column.Default)

	column = (&pgColumn{ColumnName: "state", DataType: "state_t", TypeKind: "e", EnumLabels: "'new','done'"}).toTranslatorColumn()
	assert.Equal(t, translator.CATEGORY_ENUM, column.Category)
	assert.Equal(t, "'new','done'", column.Elements)
}

func TestMaskExpressions(t *testing.T) {
	mapping := setting.TableObfuscation{
		"email":    {Mode: setting.OBFUSCATION_MODE_NORMAL, NonhashStart: 1, NonhashLength: 3},
		"birthday": {Mode: setting.OBFUSCATION_MODE_DATE},
		"salary":   {Mode: setting.OBFUSCATION_MODE_NUMERIC},
		"phone":    {Mode: setting.OBFUSCATION_MODE_SETNULL},
	}
	expressions := maskExpressions([]string{"id", "email", "birthday", "salary", "phone"}, mapping)
	assert.Equal(t, []string{
		`"id"`,
		`(substr("email"::text, 1, 3)||encode(public.digest("email"::text, 'sha256'), 'hex'))`,
		`to_char("birthday"::date, 'YYYY-01-01')::date`,
		"0",
		"NULL",
	}, expressions)

	assert.True(t, touchesMasked([]string{"id", "email"}, mapping))
	assert.False(t, touchesMasked([]string{"id"}, mapping))
	assert.Equal(t, []string{
		`ALTER TABLE "s"."t" ALTER COLUMN "email" TYPE text;`,
		`ALTER TABLE "s"."t" ALTER COLUMN "email" DROP NOT NULL;`,
	}, alterMaskedColumns(`"s"."t"`, setting.TableObfuscation{"email": mapping["email"]}))
}

func TestSwapStatements(t *testing.T) {
	assert.Equal(t, []string{
		`ALTER SCHEMA "db_shop" RENAME TO "_rename_db_shop";`,
		`ALTER SCHEMA "_db_shop_tmp" RENAME TO "db_shop";`,
		`ALTER SCHEMA "_rename_db_shop" RENAME TO "_db_shop_tmp";`,
	}, swapStatements("db_shop", "_db_shop_tmp"))
}
