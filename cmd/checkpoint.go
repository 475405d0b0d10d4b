package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/imishinist/mlproject/internal/checkpoint"
	"github.com/imishinist/mlproject/internal/mlflow"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect and upload checkpoints",
}

var checkpointInspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show the run state recorded in a checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  checkpointInspect,
}

var checkpointListCmd = &cobra.Command{
	Use:   "list <model save dir>",
	Short: "List the checkpoints of a model save directory, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE:  checkpointList,
}

var checkpointUploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload checkpoints to a tracked run",
	Long: `Upload checkpoint files as artifacts of an MLflow run, under "checkpoints/" unless
--artifact-path is specified.`,
	Example: `  # Upload the best checkpoint of a finished training
  mlproject checkpoint upload --run-id <run-id> --file models/10023456789_linear/linear_e00009_b00032.gob

  # Upload several checkpoints
  mlproject checkpoint upload --run-id <run-id> --file a.gob --file b.gob`,
	RunE: checkpointUpload,
}

func init() {
	rootCmd.AddCommand(checkpointCmd)
	checkpointCmd.AddCommand(checkpointInspectCmd, checkpointListCmd, checkpointUploadCmd)

	checkpointUploadCmd.Flags().String("run-id", "", "Run ID to upload checkpoints to (required)")
	checkpointUploadCmd.Flags().StringSlice("file", []string{}, "Checkpoint file to upload (can be specified multiple times)")
	checkpointUploadCmd.Flags().String("artifact-path", "", "Custom artifact path (only valid when uploading a single file)")
	checkpointUploadCmd.MarkFlagRequired("run-id")
	checkpointUploadCmd.MarkFlagRequired("file")
}

func checkpointInspect(cmd *cobra.Command, args []string) error {
	info, err := checkpoint.Inspect(args[0])
	if err != nil {
		return err
	}
	s := info.State
	fmt.Printf("Checkpoint: %s\n", info.Path)
	fmt.Printf("  Size: %s (weights: %s)\n", humanize.Bytes(uint64(info.Size)), humanize.Bytes(uint64(info.ModelBytes)))
	fmt.Printf("  Saved: %s (%s)\n", info.SavedAt.Format("2006-01-02 15:04:05"), humanize.Time(info.SavedAt))
	fmt.Printf("  Project ID: %d\n", s.ID)
	fmt.Printf("  Epoch: %d, epoch step: %d, global step: %s\n", s.Epoch, s.EpochStep, humanize.Comma(s.GlobalStep))
	if s.BestScore != nil {
		fmt.Printf("  Best score: %.4f\n", *s.BestScore)
	} else {
		fmt.Printf("  Best score: none\n")
	}
	fmt.Printf("  Model save dir: %s\n", s.ModelSaveDir)
	if s.TensorboardRunDir != "" {
		fmt.Printf("  Metrics dir: %s\n", s.TensorboardRunDir)
	}
	fmt.Printf("  Config keys: %d\n", len(s.Config))
	return nil
}

func checkpointList(cmd *cobra.Command, args []string) error {
	paths, err := checkpoint.List(args[0])
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		fmt.Printf("No checkpoints in %s\n", args[0])
		return nil
	}
	for _, path := range paths {
		stat, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}
		fmt.Printf("%s\t%s\t%s\n", filepath.Base(path), humanize.Bytes(uint64(stat.Size())), humanize.Time(stat.ModTime()))
	}
	return nil
}

func checkpointUpload(cmd *cobra.Command, args []string) error {
	runID, _ := cmd.Flags().GetString("run-id")
	files, _ := cmd.Flags().GetStringSlice("file")
	artifactPath, _ := cmd.Flags().GetString("artifact-path")

	if len(files) == 0 {
		return fmt.Errorf("at least one file must be specified")
	}
	if len(files) > 1 && artifactPath != "" {
		return fmt.Errorf("--artifact-path can only be used when uploading a single file")
	}

	ctx := cmd.Context()
	run, err := openRun(ctx, runID)
	if err != nil {
		return err
	}

	successCount := 0
	for _, filePath := range files {
		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "File not found: %s\n", filePath)
			continue
		}
		if _, err := checkpoint.Inspect(filePath); err != nil {
			fmt.Fprintf(os.Stderr, "Not a checkpoint: %s: %v\n", filePath, err)
			continue
		}

		if artifactPath != "" {
			err = run.UploadArtifact(ctx, filePath, artifactPath)
		} else {
			err = run.AddArtifact(ctx, filePath)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to upload %s: %v\n", filePath, err)
			continue
		}
		successCount++
	}

	if successCount == 0 {
		return fmt.Errorf("failed to upload any checkpoints")
	}

	if len(files) == 1 {
		fmt.Printf("Successfully uploaded checkpoint: %s\n", files[0])
		if artifactPath != "" {
			fmt.Printf("  Artifact path: %s\n", artifactPath)
		} else {
			fmt.Printf("  Artifact path: %s/%s\n", mlflow.ArtifactDir, filepath.Base(files[0]))
		}
	} else {
		fmt.Printf("Successfully uploaded %d/%d checkpoints\n", successCount, len(files))
	}
	return nil
}
