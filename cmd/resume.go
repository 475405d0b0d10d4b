package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/imishinist/mlproject/internal/checkpoint"
	"github.com/imishinist/mlproject/internal/config"
	"github.com/imishinist/mlproject/internal/mlflow"
	"github.com/imishinist/mlproject/internal/mlproject"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume training from a checkpoint",
	Long: `Restore a project from a checkpoint (its identity, counters, directories, configuration and
weights) and continue training until its budget is spent. The budget can be raised with --set.

With --run-id the run that trained the checkpoint keeps receiving metrics; otherwise a new run is
started if a tracking URI is configured.`,
	Example: `  # Resume from the latest checkpoint of a model save directory
  mlproject resume --dir models/10023456789_linear --set n_epochs=40`,
	RunE: resume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)

	addCheckpointFlags(resumeCmd)
	resumeCmd.Flags().Bool("restore-best-score", false, "Restore the best score of the checkpoint instead of starting without one")
	resumeCmd.Flags().String("run-id", "", "Tracked run to resume into")
	resumeCmd.Flags().StringArray("set", []string{}, "Configuration overrides in key=value format (nested keys with dots)")
	addRunFlags(resumeCmd)
}

// addCheckpointFlags adds the flags selecting a checkpoint.
func addCheckpointFlags(cmd *cobra.Command) {
	cmd.Flags().String("checkpoint", "", "Checkpoint file")
	cmd.Flags().String("dir", "", "Model save directory; its latest checkpoint is used")
	cmd.MarkFlagsMutuallyExclusive("checkpoint", "dir")
	cmd.MarkFlagsOneRequired("checkpoint", "dir")
}

// checkpointPath returns the checkpoint selected by --checkpoint or --dir.
func checkpointPath(cmd *cobra.Command) (string, error) {
	path, _ := cmd.Flags().GetString("checkpoint")
	if path != "" {
		return path, nil
	}
	dir, _ := cmd.Flags().GetString("dir")
	path, err := checkpoint.Latest(dir)
	if err != nil {
		return "", fmt.Errorf("failed to find a checkpoint: %w", err)
	}
	if path == "" {
		return "", fmt.Errorf("no checkpoint in %s", dir)
	}
	klog.Infof("using latest checkpoint %q", path)
	return path, nil
}

func resume(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	path, err := checkpointPath(cmd)
	if err != nil {
		return err
	}
	state, err := checkpoint.Load(path)
	if err != nil {
		return err
	}
	builder, err := builderFor(config.NewParams(state.Config))
	if err != nil {
		return err
	}

	runID, _ := cmd.Flags().GetString("run-id")
	var run *mlflow.Run
	if runID != "" {
		run, err = openRun(ctx, runID)
	} else {
		run, err = startRun(ctx, cmd)
	}
	if err != nil {
		return err
	}

	restore, _ := cmd.Flags().GetBool("restore-best-score")
	sets, _ := cmd.Flags().GetStringArray("set")
	opts := mlproject.LoadOptions{
		RestoreBestScore: restore,
		Overrides:        sets,
		Tracker:          tracker(run),
		Writer:           trackerWriter(ctx, run),
	}
	p, err := mlproject.Load(builder, path, opts)
	if err != nil {
		endRun(ctx, run, err)
		return fmt.Errorf("failed to resume: %w", err)
	}

	err = trainProject(ctx, p, run)
	endRun(ctx, run, err)
	return err
}

// tracker returns run as a RunTracker, keeping a nil run a nil interface.
func tracker(run *mlflow.Run) mlproject.RunTracker {
	if run == nil {
		return nil
	}
	return run
}
