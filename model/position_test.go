package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPosition_Sequence(t *testing.T) {
	assert.Equal(t, int64(5), NewPosition("mysql-bin.000005", 4).Sequence())
	assert.Equal(t, int64(123), NewPosition("binlog.000123", 4).Sequence())
	assert.Equal(t, int64(-1), NewPosition("binlog", 4).Sequence())
}

func TestPosition_Compare(t *testing.T) {
	watermark := NewPosition("mysql-bin.000005", 100)

	assert.Equal(t, 1, NewPosition("mysql-bin.000005", 120).Compare(watermark))
	assert.Equal(t, 0, NewPosition("mysql-bin.000005", 100).Compare(watermark))
	assert.Equal(t, -1, NewPosition("mysql-bin.000005", 99).Compare(watermark))
	assert.Equal(t, -1, NewPosition("mysql-bin.000004", 9999).Compare(watermark))
	// 文件序号按数字比较
	assert.Equal(t, 1, NewPosition("mysql-bin.1000000", 4).Compare(NewPosition("mysql-bin.999999", 4)))

	assert.True(t, NewPosition("mysql-bin.000006", 4).IsRatherThanOrEqual(watermark))
	assert.False(t, NewPosition("mysql-bin.000004", 4).IsRatherThanOrEqual(watermark))
}

func TestSource_GetSchemaMappings(t *testing.T) {
	source := &Source{Source: "src", SchemaMappings: `{"sakila": {"clear": "db_sakila", "obfuscate": "db_sakila_obf"}}`}
	mappings, err := source.GetSchemaMappings()
	assert.NoError(t, err)
	assert.Equal(t, SchemaMapping{Clear: "db_sakila", Obfuscate: "db_sakila_obf"}, mappings["sakila"])

	source.SchemaMappings = "{"
	_, err = source.GetSchemaMappings()
	assert.Error(t, err)

	assert.Nil(t, source.GetHighWatermark())
}
