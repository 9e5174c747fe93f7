// Copyright 2026 fanjia1024
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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"agent-resurrection/internal/app/node"
	"agent-resurrection/pkg/config"
)

const version = "0.1.0"

type rootOptions struct {
	configPath string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "arp",
		Short:         "Agent Resurrection Protocol：检查点、休眠与复活",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"配置文件路径（默认 "+config.DefaultConfigPath+"，不存在时使用内置默认值）")

	root.AddCommand(
		newCreateCmd(opts),
		newExecCmd(opts),
		newResurrectCmd(opts),
		newStatusCmd(opts),
		newInspectCmd(opts),
		newHistoryCmd(opts),
		newServeCmd(opts),
		newDemoCmd(opts),
	)
	return root
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	if opts.configPath == "" {
		return config.LoadDefault()
	}
	return config.LoadConfig(opts.configPath)
}

// withNode 打开 Node 执行 fn，结束时关闭（关闭会休眠本进程持有的全部 Agent）
func withNode(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, n *node.Node) error) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	n, err := node.New(ctx, cfg)
	if err != nil {
		return err
	}
	if err := n.InitTracing(); err != nil {
		n.Logger.Warn("链路追踪不可用", "error", err)
	}
	runErr := fn(ctx, n)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := n.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
