package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"agent-resurrection/internal/app/node"
	"agent-resurrection/internal/checkpoint"
	"agent-resurrection/internal/resurrection"
)

// researchAgent 演示用执行器：记录处理过的任务并随检查点持久化
type researchAgent struct {
	mu       sync.Mutex
	findings []any
}

func (a *researchAgent) Execute(ctx context.Context, task resurrection.Task) (any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.findings = append(a.findings, task["name"])
	return map[string]any{
		"status":   "completed",
		"task":     task["name"],
		"insights": fmt.Sprintf("analyzed %d data points", len(a.findings)),
	}, nil
}

func (a *researchAgent) Snapshot(ctx context.Context) (checkpoint.Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return checkpoint.Snapshot{
		Memory: checkpoint.Blob{"findings": append([]any(nil), a.findings...)},
		Tasks:  checkpoint.Blob{"completed": len(a.findings), "queued": []any{}},
	}, nil
}

func (a *researchAgent) Restore(ctx context.Context, snap checkpoint.Snapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	findings, _ := snap.Memory["findings"].([]any)
	a.findings = append([]any(nil), findings...)
	return nil
}

func newDemoCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "端到端演示：执行、休眠、复活、继续执行并校验历史",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNode(cmd, opts, func(ctx context.Context, n *node.Node) error {
				return runDemo(ctx, cmd.OutOrStdout(), n)
			})
		},
	}
}

func runDemo(ctx context.Context, w io.Writer, n *node.Node) error {
	m, err := n.Create(ctx, resurrection.WithExecutor(&researchAgent{}))
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "created %s\n", m.ID())

	for i := 0; i < 3; i++ {
		out, err := m.Execute(ctx, resurrection.Task{"name": fmt.Sprintf("research_task_%d", i)})
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  task %d -> checkpoint #%d %s\n", i, out.Checkpoint.Sequence, out.Checkpoint.StateHash)
	}

	final, err := n.Registry.Hibernate(ctx, m.ID())
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "hibernated at checkpoint #%d\n", final.Sequence)
	for tier, loc := range final.StorageLocations {
		fmt.Fprintf(w, "  %-8s %s\n", tier, loc)
	}

	agent := &researchAgent{}
	m2, err := n.Resurrect(ctx, m.ID(), resurrection.WithExecutor(agent))
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "resurrected %s, next checkpoint #%d, restored %d findings\n", m2.ID(), m2.Sequence(), len(agent.findings))

	out, err := m2.Execute(ctx, resurrection.Task{"name": "post_resurrection_task"})
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "  continued -> checkpoint #%d\n", out.Checkpoint.Sequence)

	history, err := n.Backend.History(ctx, m.ID())
	if err != nil {
		return err
	}
	latest, err := n.Backend.Load(ctx, m.ID())
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "archive holds %d verified checkpoints; latest is #%d\n", len(history), latest.Sequence)
	for i, rec := range history {
		if rec.Sequence != uint64(i) {
			return fmt.Errorf("archive gap: position %d holds checkpoint #%d", i, rec.Sequence)
		}
	}
	if latest.Sequence != uint64(len(history)-1) {
		return fmt.Errorf("fast tier holds #%d but archive ends at #%d", latest.Sequence, len(history)-1)
	}
	return nil
}
