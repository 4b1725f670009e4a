package cmd

import (
	"bytes"
	"database/sql"
	"testing"
	"time"

	"github.com/daiguadaidai/go-pg-ninja/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintStatus(t *testing.T) {
	status := &model.ReplicaStatus{
		Sources: []*model.SourceStatus{
			{IDSource: 1, Source: "shop", Status: "running", ConsistentFlag: "Yes", ReceiveLag: "00:00:01",
				LastReceived: "2026-10-19 10:00:00", ReplayLag: "00:00:00", LastReplayed: "2026-10-19 10:00:00"},
		},
		SchemaMappings: []*model.SchemaMappingStatus{
			{OriginSchema: "shop", DestinationSchema: "shop_clear", ObfuscatedSchema: "shop_obf"},
		},
		Tables: []*model.TableStatus{
			{Order: 1, Count: 2, Tables: []string{"shop_clear.customers", "shop_clear.orders"}},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, printStatus(&buf, status))
	out := buf.String()
	assert.Contains(t, out, "shop_clear")
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "复制的表: 2")
	assert.Contains(t, out, "shop_clear.orders")
}

func TestPrintInconsistentTables(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printInconsistentTables(&buf, nil))
	assert.Empty(t, buf.String())

	tables := map[string]*model.Position{
		"shop.orders":    model.NewPosition("mysql-bin.000005", 120),
		"shop.customers": nil,
	}
	require.NoError(t, printInconsistentTables(&buf, tables))
	out := buf.String()
	assert.Contains(t, out, "mysql-bin.000005:120")
	assert.Contains(t, out, "N/A")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("shop.customers")), bytes.Index(buf.Bytes(), []byte("shop.orders")))
}

func TestPrintErrors(t *testing.T) {
	errorLogs := []*model.ErrorLog{
		{
			IDLog:        7,
			IDSource:     1,
			IDBatch:      42,
			SchemaName:   "shop_clear",
			TableName_:   "orders",
			ErrorAt:      time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC),
			SQL:          sql.NullString{String: `INSERT INTO "shop_clear"."orders" ...`, Valid: true},
			ErrorMessage: "duplicate key value",
			Source:       "shop",
		},
	}

	var buf bytes.Buffer
	require.NoError(t, printErrors(&buf, errorLogs))
	out := buf.String()
	assert.Contains(t, out, "shop_clear.orders")
	assert.Contains(t, out, "2026-10-19 10:00:00")
	assert.Contains(t, out, `INSERT INTO "shop_clear"."orders"`)
}
