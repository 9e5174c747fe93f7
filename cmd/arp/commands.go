package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"agent-resurrection/internal/app/node"
	"agent-resurrection/internal/resurrection"
)

func newCreateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "创建新 Agent 并写入初始检查点",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNode(cmd, opts, func(ctx context.Context, n *node.Node) error {
				m, err := n.Create(ctx)
				if err != nil {
					return err
				}
				rec, err := n.Registry.Hibernate(ctx, m.ID())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"agent_id":          m.ID(),
					"sequence":          rec.Sequence,
					"state_hash":        rec.StateHash,
					"storage_locations": rec.StorageLocations,
				})
			})
		},
	}
}

func newExecCmd(opts *rootOptions) *cobra.Command {
	var (
		taskJSON string
		count    int
	)
	cmd := &cobra.Command{
		Use:   "exec <agent_id>",
		Short: "复活 Agent，执行任务后重新休眠",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var task resurrection.Task
			if err := json.Unmarshal([]byte(taskJSON), &task); err != nil {
				return fmt.Errorf("--task 必须是 JSON 对象: %w", err)
			}
			if count < 1 {
				return fmt.Errorf("--n 必须 >= 1")
			}
			return withNode(cmd, opts, func(ctx context.Context, n *node.Node) error {
				m, err := n.Resurrect(ctx, args[0])
				if err != nil {
					return err
				}
				results := make([]map[string]any, 0, count)
				for i := 0; i < count; i++ {
					out, err := m.Execute(ctx, task)
					if err != nil {
						return err
					}
					results = append(results, map[string]any{
						"sequence":   out.Checkpoint.Sequence,
						"state_hash": out.Checkpoint.StateHash,
						"result":     out.Result,
					})
				}
				final, err := n.Registry.Hibernate(ctx, m.ID())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"agent_id":            m.ID(),
					"executions":          results,
					"hibernated_sequence": final.Sequence,
				})
			})
		},
	}
	cmd.Flags().StringVar(&taskJSON, "task", `{"name":"task"}`, "任务 JSON 对象")
	cmd.Flags().IntVarP(&count, "n", "n", 1, "执行次数")
	return cmd
}

func newResurrectCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resurrect <agent_id>",
		Short: "从最新检查点复活 Agent 并立即重新休眠，输出休眠检查点序号",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNode(cmd, opts, func(ctx context.Context, n *node.Node) error {
				m, err := n.Resurrect(ctx, args[0])
				if err != nil {
					return err
				}
				resumedFrom := m.Sequence() - 1
				rec, err := n.Registry.Hibernate(ctx, m.ID())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"agent_id":            m.ID(),
					"state":               m.State(),
					"resumed_from":        resumedFrom,
					"hibernated_sequence": rec.Sequence,
				})
			})
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var remote string
	cmd := &cobra.Command{
		Use:   "status <agent_id>",
		Short: "查询 Agent 生命周期状态",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if remote != "" {
				out, err := newClient(remote).get(agentPath(args[0], "status"))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), out)
			}
			return withNode(cmd, opts, func(ctx context.Context, n *node.Node) error {
				state, rec, err := resurrection.Status(ctx, n.Backend, args[0])
				if err != nil {
					return err
				}
				out := map[string]any{"agent_id": args[0], "state": state}
				if rec != nil {
					out["sequence"] = rec.Sequence
					out["state_hash"] = rec.StateHash
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().StringVar(&remote, "remote", "", "查询运行中的 arp serve（如 http://127.0.0.1:8090）")
	return cmd
}

func newInspectCmd(opts *rootOptions) *cobra.Command {
	var remote string
	cmd := &cobra.Command{
		Use:   "inspect <agent_id>",
		Short: "输出 Agent 最新的已校验检查点",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if remote != "" {
				out, err := newClient(remote).get(agentPath(args[0], "checkpoint"))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), out)
			}
			return withNode(cmd, opts, func(ctx context.Context, n *node.Node) error {
				rec, err := n.Backend.Load(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rec)
			})
		},
	}
	cmd.Flags().StringVar(&remote, "remote", "", "查询运行中的 arp serve（如 http://127.0.0.1:8090）")
	return cmd
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var remote string
	cmd := &cobra.Command{
		Use:   "history <agent_id>",
		Short: "输出 Agent 的归档检查点历史",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if remote != "" {
				out, err := newClient(remote).get(agentPath(args[0], "history"))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), out)
			}
			return withNode(cmd, opts, func(ctx context.Context, n *node.Node) error {
				list, err := n.Backend.History(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"agent_id":    args[0],
					"checkpoints": list,
				})
			})
		},
	}
	cmd.Flags().StringVar(&remote, "remote", "", "查询运行中的 arp serve（如 http://127.0.0.1:8090）")
	return cmd
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动只读检查点查询 API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			n, err := node.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() {
				if err := n.Serve(addr); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			var runErr error
			select {
			case <-sigChan:
			case runErr = <-errCh:
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := n.Shutdown(ctx); err != nil && runErr == nil {
				runErr = err
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "监听地址（默认取配置 api.host:api.port）")
	return cmd
}
