package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/imishinist/mlproject/internal/config"
	"github.com/imishinist/mlproject/internal/mlflow"
	"github.com/imishinist/mlproject/internal/models"
)

// Valid run statuses
var validRunStatuses = map[string]models.RunStatus{
	"FINISHED": models.RunStatusFinished,
	"FAILED":   models.RunStatusFailed,
	"KILLED":   models.RunStatusKilled,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Manage tracked runs",
	Long:  "Manage the MLflow runs training reports to",
}

var runEndCmd = &cobra.Command{
	Use:   "end",
	Short: "End a tracked run",
	Long:  "End a run left RUNNING, e.g. by a training process that was killed",
	RunE:  runEnd,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.AddCommand(runEndCmd)

	runEndCmd.Flags().String("run-id", "", "Run ID to end (required)")
	runEndCmd.Flags().String("status", "FINISHED", "End status (FINISHED/FAILED/KILLED)")
	runEndCmd.MarkFlagRequired("run-id")
}

// addRunFlags adds the flags describing a new tracked run.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringArray("tag", []string{}, "Run tags in key=value format")
	cmd.Flags().String("description", "", "Run description")
}

// startRun creates the tracked run of a training, or returns nil if tracking is disabled.
func startRun(ctx context.Context, cmd *cobra.Command) (*mlflow.Run, error) {
	cfg := config.New()
	if !cfg.Enabled() {
		klog.V(1).Info("no tracking URI, the run is not tracked")
		return nil, nil
	}
	backend, err := mlflow.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create MLflow client: %w", err)
	}
	runConfig, err := buildRunConfig(cmd, cfg)
	if err != nil {
		return nil, err
	}
	run, err := mlflow.StartRun(ctx, backend, runConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	klog.Infof("tracking run %s in experiment %s at %s", run.ID(), cfg.ExperimentID, cfg.TrackingURI)
	return run, nil
}

// openRun attaches to an existing tracked run.
func openRun(ctx context.Context, runID string) (*mlflow.Run, error) {
	cfg := config.New()
	if !cfg.Enabled() {
		return nil, fmt.Errorf("run %s given but no tracking URI is configured", runID)
	}
	backend, err := mlflow.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create MLflow client: %w", err)
	}
	run, err := mlflow.OpenRun(ctx, backend, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to open run %s: %w", runID, err)
	}
	return run, nil
}

// endRun marks run FINISHED, or FAILED if training returned an error. A failure to update the
// run is logged, so it does not hide the training error.
func endRun(ctx context.Context, run *mlflow.Run, trainErr error) {
	if run == nil {
		return
	}
	status := models.RunStatusFinished
	if trainErr != nil {
		status = models.RunStatusFailed
	}
	if err := run.End(ctx, status); err != nil {
		klog.Warningf("failed to end run %s: %v", run.ID(), err)
	}
}

// buildRunConfig constructs RunConfig from command flags and configuration
func buildRunConfig(cmd *cobra.Command, cfg *config.Config) (*models.RunConfig, error) {
	tags, _ := cmd.Flags().GetStringArray("tag")
	description, _ := cmd.Flags().GetString("description")

	if cfg.ExperimentID == "" {
		return nil, fmt.Errorf("experiment ID must be specified via --experiment-id flag or MLFLOW_EXPERIMENT_ID environment variable")
	}

	tagMap, err := parseTags(tags)
	if err != nil {
		return nil, err
	}

	experimentID := cfg.ExperimentID
	runConfig := &models.RunConfig{
		ExperimentID: &experimentID,
		Tags:         tagMap,
	}
	if cfg.RunName != "" {
		runName := cfg.RunName
		runConfig.RunName = &runName
	}
	if description != "" {
		processedDescription := processEscapeSequences(description)
		runConfig.Description = &processedDescription
	}
	return runConfig, nil
}

// parseTags parses tag strings in key=value format
func parseTags(tags []string) (map[string]string, error) {
	tagMap := make(map[string]string)
	for _, tag := range tags {
		parts := strings.SplitN(tag, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid tag format: %s (expected key=value)", tag)
		}
		tagMap[parts[0]] = parts[1]
	}
	return tagMap, nil
}

func runEnd(cmd *cobra.Command, args []string) error {
	runID, _ := cmd.Flags().GetString("run-id")
	status, _ := cmd.Flags().GetString("status")

	runStatus, valid := validRunStatuses[status]
	if !valid {
		return fmt.Errorf("invalid status: %s (valid: FINISHED, FAILED, KILLED)", status)
	}

	run, err := openRun(cmd.Context(), runID)
	if err != nil {
		return err
	}
	if err := run.End(cmd.Context(), runStatus); err != nil {
		return fmt.Errorf("failed to end run: %w", err)
	}

	fmt.Printf("Run ended successfully\n")
	fmt.Printf("Run ID: %s\n", runID)
	fmt.Printf("Status: %s\n", status)
	return nil
}

// processEscapeSequences processes common escape sequences in strings
func processEscapeSequences(s string) string {
	s = strings.ReplaceAll(s, "\\n", "\n")
	s = strings.ReplaceAll(s, "\\t", "\t")
	s = strings.ReplaceAll(s, "\\r", "\r")
	s = strings.ReplaceAll(s, "\\\\", "\\")
	return s
}
