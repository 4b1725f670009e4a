// Copyright © 2018 NAME HERE <EMAIL ADDRESS>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/daiguadaidai/go-pg-ninja/common"
	"github.com/daiguadaidai/go-pg-ninja/logger"
	"github.com/daiguadaidai/go-pg-ninja/parser"
	"github.com/daiguadaidai/go-pg-ninja/service/replica"
	"github.com/juju/errors"
	"github.com/spf13/cobra"
)

var runParser = parser.NewRunParser()

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "go-pg-ninja",
	Short: "MySQL/PostgreSQL 到 PostgreSQL 的复制工具",
	Long: `
    一款基于 Go 开发的 MySQL/PostgreSQL 到 PostgreSQL 的复制工具.
    全量初始化之后读取 MySQL binlog, 在 PostgreSQL 中回放, 支持脱敏 schema.
    `,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

/* 解析参数, 创建复制服务并执行一个操作. 收到 SIGINT/SIGTERM 时取消 ctx
Params:
    _requireSource: 是否必须指定数据源
    _run: 需要执行的操作
*/
func runEngine(_requireSource bool, _run func(_ctx context.Context, _engine *replica.Engine) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := runParser.Parse(_requireSource); err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		engine, err := replica.NewEngine(ctx, runParser.Setting, runParser.GetSourceName())
		if err != nil {
			logger.M.Errorf("%v: 失败. %v", common.CurrLine(), err)
			logger.M.Debugf("%v: %v", common.CurrLine(), errors.ErrorStack(err))
			return err
		}
		defer func() {
			if err := engine.Close(); err != nil {
				logger.M.Warnf("%v: 警告. 关闭目标库连接. %v", common.CurrLine(), err)
			}
		}()

		if err := _run(ctx, engine); err != nil {
			logger.M.Errorf("%v: 失败. %v: %v", common.CurrLine(), cmd.Name(), err)
			logger.M.Debugf("%v: %v", common.CurrLine(), errors.ErrorStack(err))
			return err
		}
		logger.M.Infof("%v: 成功. %v", common.CurrLine(), cmd.Name())

		return nil
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&runParser.ConfigPath, "config", runParser.ConfigPath,
		"配置文件")
	rootCmd.PersistentFlags().StringVar(&runParser.Source, "source", runParser.Source,
		"数据源名称, show-status 使用 * 显示所有数据源")
	rootCmd.PersistentFlags().BoolVar(&runParser.Debug, "debug", false,
		"日志级别设置为 debug")

	rootCmd.AddCommand(
		createReplicaSchemaCmd,
		dropReplicaSchemaCmd,
		upgradeReplicaSchemaCmd,
		addSourceCmd,
		dropSourceCmd,
		initReplicaCmd,
		updateSchemaMappingsCmd,
		startReplicaCmd,
		replayCmd,
		showStatusCmd,
		showErrorsCmd,
		setConsistentTableCmd,
	)

	setConsistentTableCmd.Flags().StringVar(&runParser.Table, "table", "",
		"需要设置为一致的表, schema.table")
	showErrorsCmd.Flags().Int64Var(&runParser.LogID, "id", 0,
		"错误日志ID, 不指定显示所有")
}
