package catalog

// 复制元数据 schema
const REPLICA_SCHEMA = "sch_ninja"

// 一个版本的元数据变更, 在一个事务中执行
type Migration struct {
	Version     int
	Description string
	Statements  []string
}

// 所有版本, 必须按照版本号递增
var Migrations = []*Migration{
	{
		Version:     1,
		Description: "复制元数据核心表",
		Statements: []string{
			`CREATE SCHEMA IF NOT EXISTS sch_ninja;`,
			`CREATE TABLE sch_ninja.t_version (
				i_version integer NOT NULL,
				t_description text,
				ts_applied timestamp with time zone NOT NULL DEFAULT clock_timestamp(),
				CONSTRAINT pk_t_version PRIMARY KEY (i_version)
			);`,
			`CREATE OR REPLACE VIEW sch_ninja.v_version AS
				SELECT max(i_version)::text AS t_version FROM sch_ninja.t_version;`,
			`CREATE TABLE sch_ninja.t_sources (
				i_id_source bigserial NOT NULL,
				t_source text NOT NULL,
				jsb_schema_mappings jsonb NOT NULL DEFAULT '{}'::jsonb,
				enm_status text NOT NULL DEFAULT 'stopped',
				b_consistent boolean NOT NULL DEFAULT false,
				t_binlog_name text,
				i_binlog_position bigint,
				v_log_table character varying[] NOT NULL,
				ts_created timestamp with time zone NOT NULL DEFAULT clock_timestamp(),
				CONSTRAINT pk_t_sources PRIMARY KEY (i_id_source),
				CONSTRAINT uk_t_sources_t_source UNIQUE (t_source),
				CONSTRAINT chk_t_sources_enm_status CHECK (enm_status IN ('initialising', 'initialised', 'running', 'stopped', 'error'))
			);`,
			`CREATE TABLE sch_ninja.t_replica_tables (
				i_id_table bigserial NOT NULL,
				i_id_source bigint NOT NULL,
				v_table_name character varying NOT NULL,
				v_schema_name character varying NOT NULL,
				v_table_pkey character varying[] NOT NULL,
				t_binlog_name text,
				i_binlog_position bigint,
				b_replica_enabled boolean NOT NULL DEFAULT true,
				CONSTRAINT pk_t_replica_tables PRIMARY KEY (i_id_table),
				CONSTRAINT uk_t_replica_tables UNIQUE (i_id_source, v_table_name, v_schema_name),
				CONSTRAINT fk_t_replica_tables_source FOREIGN KEY (i_id_source)
					REFERENCES sch_ninja.t_sources (i_id_source) ON UPDATE CASCADE ON DELETE CASCADE
			);`,
			`CREATE TABLE sch_ninja.t_replica_batch (
				i_id_batch bigserial NOT NULL,
				i_id_source bigint NOT NULL,
				t_binlog_name text NOT NULL,
				i_binlog_position bigint NOT NULL,
				b_started boolean NOT NULL DEFAULT false,
				b_processed boolean NOT NULL DEFAULT false,
				b_replayed boolean NOT NULL DEFAULT false,
				ts_created timestamp with time zone NOT NULL DEFAULT clock_timestamp(),
				ts_processed timestamp with time zone,
				ts_replayed timestamp with time zone,
				v_log_table character varying NOT NULL,
				CONSTRAINT pk_t_replica_batch PRIMARY KEY (i_id_batch),
				CONSTRAINT fk_t_replica_batch_source FOREIGN KEY (i_id_source)
					REFERENCES sch_ninja.t_sources (i_id_source) ON UPDATE CASCADE ON DELETE CASCADE
			);`,
			`CREATE INDEX idx_t_replica_batch_claim
				ON sch_ninja.t_replica_batch (i_id_source, b_processed, b_replayed, i_id_batch);`,
			// 批次标记位只能从 false 变成 true
			`CREATE OR REPLACE FUNCTION sch_ninja.fn_check_batch_flags()
			RETURNS trigger AS
			$BODY$
			BEGIN
				IF (OLD.b_started AND NOT NEW.b_started)
					OR (OLD.b_processed AND NOT NEW.b_processed)
					OR (OLD.b_replayed AND NOT NEW.b_replayed)
				THEN
					RAISE EXCEPTION 'batch % flags cannot be reset', OLD.i_id_batch;
				END IF;
				RETURN NEW;
			END;
			$BODY$
			LANGUAGE plpgsql;`,
			`CREATE TRIGGER z_check_batch_flags
				BEFORE UPDATE ON sch_ninja.t_replica_batch
				FOR EACH ROW EXECUTE PROCEDURE sch_ninja.fn_check_batch_flags();`,
			`CREATE TABLE sch_ninja.t_log_replica (
				i_id_event bigserial NOT NULL,
				i_id_batch bigint NOT NULL,
				v_table_name character varying NOT NULL,
				v_schema_name character varying NOT NULL,
				enm_binlog_event text NOT NULL,
				t_binlog_name text,
				i_binlog_position bigint,
				ts_event_datetime timestamp with time zone NOT NULL DEFAULT clock_timestamp(),
				jsb_event_before jsonb,
				jsb_event_after jsonb,
				t_query text,
				i_my_event_time bigint,
				CONSTRAINT pk_t_log_replica PRIMARY KEY (i_id_event),
				CONSTRAINT chk_t_log_replica_event CHECK (enm_binlog_event IN ('insert', 'update', 'delete', 'ddl', 'truncate'))
			);`,
			`CREATE TABLE sch_ninja.t_discarded_rows (
				i_id_row bigserial NOT NULL,
				i_id_batch bigint NOT NULL,
				v_schema_name character varying NOT NULL,
				v_table_name character varying NOT NULL,
				ts_discard timestamp with time zone NOT NULL DEFAULT clock_timestamp(),
				t_row_data text,
				CONSTRAINT pk_t_discarded_rows PRIMARY KEY (i_id_row)
			);`,
		},
	},
	{
		Version:     2,
		Description: "错误日志和数据源接收/回放时间",
		Statements: []string{
			`CREATE TABLE sch_ninja.t_error_log (
				i_id_log bigserial NOT NULL,
				i_id_source bigint NOT NULL,
				i_id_batch bigint,
				v_schema_name character varying NOT NULL,
				v_table_name character varying NOT NULL,
				ts_error timestamp with time zone NOT NULL DEFAULT clock_timestamp(),
				t_sql text,
				t_error_message text,
				CONSTRAINT pk_t_error_log PRIMARY KEY (i_id_log),
				CONSTRAINT fk_t_error_log_source FOREIGN KEY (i_id_source)
					REFERENCES sch_ninja.t_sources (i_id_source) ON UPDATE CASCADE ON DELETE CASCADE
			);`,
			`CREATE TABLE sch_ninja.t_last_received (
				i_id_source bigint NOT NULL,
				ts_last_received timestamp with time zone,
				CONSTRAINT pk_t_last_received PRIMARY KEY (i_id_source),
				CONSTRAINT fk_t_last_received_source FOREIGN KEY (i_id_source)
					REFERENCES sch_ninja.t_sources (i_id_source) ON UPDATE CASCADE ON DELETE CASCADE
			);`,
			`CREATE TABLE sch_ninja.t_last_replayed (
				i_id_source bigint NOT NULL,
				ts_last_replayed timestamp with time zone,
				CONSTRAINT pk_t_last_replayed PRIMARY KEY (i_id_source),
				CONSTRAINT fk_t_last_replayed_source FOREIGN KEY (i_id_source)
					REFERENCES sch_ninja.t_sources (i_id_source) ON UPDATE CASCADE ON DELETE CASCADE
			);`,
			`INSERT INTO sch_ninja.t_last_received (i_id_source)
				SELECT i_id_source FROM sch_ninja.t_sources ON CONFLICT DO NOTHING;`,
			`INSERT INTO sch_ninja.t_last_replayed (i_id_source)
				SELECT i_id_source FROM sch_ninja.t_sources ON CONFLICT DO NOTHING;`,
		},
	},
	{
		Version:     3,
		Description: "批次事件索引, 索引定义暂存表, 回放进度",
		Statements: []string{
			`CREATE TABLE sch_ninja.t_batch_events (
				i_id_batch bigint NOT NULL,
				i_id_event bigint[] NOT NULL,
				CONSTRAINT pk_t_batch_events PRIMARY KEY (i_id_batch),
				CONSTRAINT fk_t_batch_events_batch FOREIGN KEY (i_id_batch)
					REFERENCES sch_ninja.t_replica_batch (i_id_batch) ON UPDATE CASCADE ON DELETE CASCADE
			);`,
			`CREATE TABLE sch_ninja.t_index_def (
				i_id_def bigserial NOT NULL,
				i_id_source bigint NOT NULL,
				v_schema character varying NOT NULL,
				v_table character varying NOT NULL,
				v_index character varying NOT NULL,
				t_create text NOT NULL,
				ts_created timestamp with time zone NOT NULL DEFAULT clock_timestamp(),
				CONSTRAINT pk_t_index_def PRIMARY KEY (i_id_def),
				CONSTRAINT fk_t_index_def_source FOREIGN KEY (i_id_source)
					REFERENCES sch_ninja.t_sources (i_id_source) ON UPDATE CASCADE ON DELETE CASCADE
			);`,
			`ALTER TABLE sch_ninja.t_replica_batch ADD COLUMN i_last_event bigint NOT NULL DEFAULT 0;`,
		},
	},
}

// 最新版本
func LatestVersion() int {
	return Migrations[len(Migrations)-1].Version
}
