package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/daiguadaidai/go-pg-ninja/service/replica"
	"github.com/spf13/cobra"
)

var createReplicaSchemaCmd = &cobra.Command{
	Use:   "create-replica-schema",
	Short: "创建复制元数据 schema sch_ninja",
	RunE: runEngine(false, func(_ctx context.Context, _engine *replica.Engine) error {
		return _engine.CreateReplicaSchema(_ctx)
	}),
}

var dropReplicaSchemaCmd = &cobra.Command{
	Use:   "drop-replica-schema",
	Short: "删除复制元数据 schema, 已经复制的表保留",
	RunE: runEngine(false, func(_ctx context.Context, _engine *replica.Engine) error {
		return _engine.DropReplicaSchema(_ctx)
	}),
}

var upgradeReplicaSchemaCmd = &cobra.Command{
	Use:   "upgrade-replica-schema",
	Short: "升级复制元数据 schema",
	RunE: runEngine(false, func(_ctx context.Context, _engine *replica.Engine) error {
		versions, err := _engine.UpgradeReplicaSchema(_ctx)
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			fmt.Println("复制元数据已经是最新版本")
			return nil
		}
		fmt.Printf("执行的版本: %v\n", versions)

		return nil
	}),
}

var addSourceCmd = &cobra.Command{
	Use:   "add-source",
	Short: "添加数据源",
	Long: `添加配置文件中的数据源:

./go-pg-ninja add-source --config=default.toml --source=mysql
    `,
	RunE: runEngine(true, func(_ctx context.Context, _engine *replica.Engine) error {
		return _engine.AddSource(_ctx)
	}),
}

var dropSourceCmd = &cobra.Command{
	Use:   "drop-source",
	Short: "删除数据源, 同时删除日志表",
	RunE: runEngine(true, func(_ctx context.Context, _engine *replica.Engine) error {
		return _engine.DropSource(_ctx)
	}),
}

var initReplicaCmd = &cobra.Command{
	Use:   "init-replica",
	Short: "全量初始化数据源",
	Long: `拷贝数据源的所有表到 loading schema, 完成后替换目标 schema:

./go-pg-ninja init-replica --config=default.toml --source=mysql
    `,
	RunE: runEngine(true, func(_ctx context.Context, _engine *replica.Engine) error {
		return _engine.InitReplica(_ctx)
	}),
}

var updateSchemaMappingsCmd = &cobra.Command{
	Use:   "update-schema-mappings",
	Short: "使用配置文件中的 schema 映射更新数据源",
	RunE: runEngine(true, func(_ctx context.Context, _engine *replica.Engine) error {
		return _engine.UpdateSchemaMappings(_ctx)
	}),
}

var startReplicaCmd = &cobra.Command{
	Use:   "start-replica",
	Short: "启动复制, 读取 binlog 并回放, Ctrl+C 停止",
	RunE: runEngine(true, func(_ctx context.Context, _engine *replica.Engine) error {
		return _engine.StartReplica(_ctx)
	}),
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "回放一个批次",
	RunE: runEngine(true, func(_ctx context.Context, _engine *replica.Engine) error {
		replayed, err := _engine.Replay(_ctx)
		if err != nil {
			return err
		}
		if !replayed {
			fmt.Println("没有需要回放的批次")
		}

		return nil
	}),
}

var showStatusCmd = &cobra.Command{
	Use:   "show-status",
	Short: "显示复制状态",
	RunE: runEngine(false, func(_ctx context.Context, _engine *replica.Engine) error {
		status, err := _engine.GetStatus(_ctx)
		if err != nil {
			return err
		}
		if err := printStatus(os.Stdout, status); err != nil {
			return err
		}

		if _engine.Context == nil {
			return nil
		}
		tables, err := _engine.GetInconsistentTables(_ctx)
		if err != nil {
			return err
		}

		return printInconsistentTables(os.Stdout, tables)
	}),
}

var showErrorsCmd = &cobra.Command{
	Use:   "show-errors",
	Short: "显示回放错误日志",
	RunE: runEngine(false, func(_ctx context.Context, _engine *replica.Engine) error {
		errorLogs, err := _engine.GetErrors(_ctx, runParser.LogID)
		if err != nil {
			return err
		}

		return printErrors(os.Stdout, errorLogs)
	}),
}

var setConsistentTableCmd = &cobra.Command{
	Use:   "set-consistent-table",
	Short: "把表设置为一致, 不再等待水位",
	RunE: runEngine(true, func(_ctx context.Context, _engine *replica.Engine) error {
		schema, table, err := runParser.ParseTable()
		if err != nil {
			return err
		}

		return _engine.SetConsistentTable(_ctx, schema, table)
	}),
}
