package model

// get_status 中每个数据源的状态
type SourceStatus struct {
	IDSource       int64  `db:"i_id_source"`
	Source         string `db:"t_source"`
	Status         string `db:"enm_status"`
	ReceiveLag     string `db:"t_receive_lag"`
	LastReceived   string `db:"t_last_received"`
	ReplayLag      string `db:"t_replay_lag"`
	LastReplayed   string `db:"t_last_replayed"`
	ConsistentFlag string `db:"t_consistent"` // Yes/No
}

// 单个数据源的 schema 映射
type SchemaMappingStatus struct {
	OriginSchema      string `db:"t_origin_schema"`
	DestinationSchema string `db:"t_destination_schema"`
	ObfuscatedSchema  string `db:"t_obfuscated_schema"`
}

// 单个数据源表的统计, Order: 0 不复制的表, 1 复制的表, 2 所有表
type TableStatus struct {
	Order  int      `db:"i_order"`
	Count  int64    `db:"i_count"`
	Tables []string `db:"t_tables"`
}

// get_status 的返回
type ReplicaStatus struct {
	Sources        []*SourceStatus
	SchemaMappings []*SchemaMappingStatus
	Tables         []*TableStatus
}
