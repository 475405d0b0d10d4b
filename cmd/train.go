package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/imishinist/mlproject/internal/config"
	"github.com/imishinist/mlproject/internal/mlflow"
	"github.com/imishinist/mlproject/internal/mlproject"
	"github.com/imishinist/mlproject/internal/parser"
	"github.com/imishinist/mlproject/internal/projects"
	"github.com/imishinist/mlproject/internal/summary"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a project from a run configuration",
	Long: `Build the project named by the "project" key of the run configuration (default: linear)
and train it until "n_global_iterations" or "n_epochs" is reached. The best checkpoint is kept in
<model_dir>/<run id>_<model name> and, if a tracking URI is configured, uploaded to the run.`,
	Example: `  # Train locally, tracking into an MLflow file store
  mlproject train --config linear.yaml --tracking-uri ./mlruns

  # Override configuration values
  mlproject train --config linear.yaml --set n_epochs=20 --set learning_rate=0.01`,
	RunE: train,
}

func init() {
	rootCmd.AddCommand(trainCmd)

	trainCmd.Flags().String("config", "", "Run configuration file (JSON/YAML) (required)")
	trainCmd.Flags().StringArray("set", []string{}, "Configuration overrides in key=value format (nested keys with dots)")
	addRunFlags(trainCmd)
	trainCmd.MarkFlagRequired("config")
}

// loadParams reads the run configuration file and applies the --set overrides.
func loadParams(cmd *cobra.Command) (config.Params, error) {
	path, _ := cmd.Flags().GetString("config")
	sets, _ := cmd.Flags().GetStringArray("set")

	values, err := parser.ParseConfigFile(path)
	if err != nil {
		return config.Params{}, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if err := parser.ApplyOverrides(values, sets); err != nil {
		return config.Params{}, fmt.Errorf("failed to apply overrides: %w", err)
	}
	return config.NewParams(values), nil
}

// builderFor returns the builder of the project the configuration names.
func builderFor(params config.Params) (mlproject.Builder, error) {
	name, _, err := params.String(projects.Key)
	if err != nil {
		return nil, err
	}
	return projects.Get(name)
}

// trackerWriter forwards scalars to run, or returns nil if the run is not tracked.
func trackerWriter(ctx context.Context, run *mlflow.Run) summary.Writer {
	if run == nil {
		return nil
	}
	return summary.NewTrackerWriter(ctx, run)
}

func train(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	params, err := loadParams(cmd)
	if err != nil {
		return err
	}
	builder, err := builderFor(params)
	if err != nil {
		return err
	}

	run, err := startRun(ctx, cmd)
	if err != nil {
		return err
	}

	opts := mlproject.Options{Writer: trackerWriter(ctx, run)}
	var p *mlproject.Project
	if run != nil {
		p, err = mlproject.FromRun(ctx, builder, params, run, opts)
	} else {
		if err = mlproject.PrintConfig(os.Stdout, params); err == nil {
			p, err = mlproject.New(builder, params, opts)
		}
	}
	if err != nil {
		endRun(ctx, run, err)
		return fmt.Errorf("failed to create project: %w", err)
	}

	err = trainProject(ctx, p, run)
	endRun(ctx, run, err)
	return err
}

// trainProject trains p and prints where its results are.
func trainProject(ctx context.Context, p *mlproject.Project, run *mlflow.Run) error {
	defer p.Close()
	if err := p.Train(ctx); err != nil {
		return fmt.Errorf("training failed: %w", err)
	}

	fmt.Printf("Training finished\n")
	fmt.Printf("Project ID: %d\n", p.ID())
	fmt.Printf("Epochs: %d, global steps: %d\n", p.Epoch(), p.GlobalStep())
	if best, found := p.BestScore(); found {
		fmt.Printf("Best %s: %.4f\n", p.Model().BenchmarkMetric(), best)
	}
	fmt.Printf("Checkpoints: %s\n", p.ModelSaveDir())
	if dir := p.TensorboardRunDir(); dir != "" {
		fmt.Printf("Metrics: %s\n", dir)
	}
	if run != nil {
		fmt.Printf("Run ID: %s\n", run.ID())
	}
	return nil
}
