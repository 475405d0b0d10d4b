package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/imishinist/mlproject/internal/checkpoint"
	"github.com/imishinist/mlproject/internal/config"
	"github.com/imishinist/mlproject/internal/mlproject"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate a checkpoint on the test set",
	Long:  "Restore a project from a checkpoint and run one evaluation over its test set, without training",
	RunE:  evaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
	addCheckpointFlags(evaluateCmd)
}

func evaluate(cmd *cobra.Command, args []string) error {
	path, err := checkpointPath(cmd)
	if err != nil {
		return err
	}
	info, err := checkpoint.Inspect(path)
	if err != nil {
		return err
	}
	builder, err := builderFor(config.NewParams(info.State.Config))
	if err != nil {
		return err
	}
	p, err := mlproject.Load(builder, path, mlproject.LoadOptions{
		RestoreBestScore: true,
		Progress:         io.Discard,
	})
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	defer p.Close()

	score, err := p.Evaluate()
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}
	fmt.Printf("%s: %.4f\n", p.Model().BenchmarkMetric(), score)
	return nil
}
