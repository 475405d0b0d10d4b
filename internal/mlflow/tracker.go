package mlflow

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/imishinist/mlproject/internal/config"
	"github.com/imishinist/mlproject/internal/models"
)

// Backend is a tracking store: an MLflow server (Client) or a local file store (FileStore).
type Backend interface {
	CreateRun(ctx context.Context, config *models.RunConfig) (*models.RunInfo, error)
	UpdateRun(ctx context.Context, runID string, status models.RunStatus) error
	GetRun(ctx context.Context, runID string) (*models.RunInfo, error)
	LogParams(ctx context.Context, runID string, params []models.Parameter) error
	LogBatchMetrics(ctx context.Context, runID string, metrics []models.Metric) error
	UploadArtifact(ctx context.Context, runID, filePath, artifactPath string) error
}

var (
	_ Backend = (*Client)(nil)
	_ Backend = (*FileStore)(nil)
)

// Open returns the Backend the tracking URI points to.
func Open(cfg *config.Config) (Backend, error) {
	if cfg.IsLocal() {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return NewFileStore(cfg.LocalPath()), nil
	}
	return NewClient(cfg)
}

// ArtifactDir is where checkpoints registered by training land inside the run's artifacts.
const ArtifactDir = "checkpoints"

// Run is one tracked run on a Backend. It is the run tracker handed to the training loop.
type Run struct {
	backend Backend
	info    *models.RunInfo
}

// StartRun creates a new run.
func StartRun(ctx context.Context, backend Backend, runConfig *models.RunConfig) (*Run, error) {
	info, err := backend.CreateRun(ctx, runConfig)
	if err != nil {
		return nil, err
	}
	return &Run{backend: backend, info: info}, nil
}

// AttachRun wraps an existing run without checking it exists.
func AttachRun(backend Backend, runID string) *Run {
	return &Run{backend: backend, info: &models.RunInfo{RunID: runID}}
}

// OpenRun looks up an existing run, e.g. when resuming into the run that trained a checkpoint.
func OpenRun(ctx context.Context, backend Backend, runID string) (*Run, error) {
	info, err := backend.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &Run{backend: backend, info: info}, nil
}

func (r *Run) ID() string {
	return r.info.RunID
}

func (r *Run) Info() models.RunInfo {
	return *r.info
}

// LogParams records the run configuration.
func (r *Run) LogParams(ctx context.Context, params map[string]string) error {
	return r.backend.LogParams(ctx, r.info.RunID, models.ParametersFromMap(params))
}

// LogMetrics records scalar observations.
func (r *Run) LogMetrics(ctx context.Context, metrics []models.Metric) error {
	return r.backend.LogBatchMetrics(ctx, r.info.RunID, metrics)
}

// AddArtifact uploads a file under the run's checkpoints artifact directory.
func (r *Run) AddArtifact(ctx context.Context, path string) error {
	return r.UploadArtifact(ctx, path, ArtifactDir+"/"+filepath.Base(path))
}

// UploadArtifact uploads a file to artifactPath in the run's artifacts.
func (r *Run) UploadArtifact(ctx context.Context, path, artifactPath string) error {
	if err := r.backend.UploadArtifact(ctx, r.info.RunID, path, artifactPath); err != nil {
		return fmt.Errorf("failed to upload artifact %s: %w", path, err)
	}
	return nil
}

// End marks the run with a terminal status.
func (r *Run) End(ctx context.Context, status models.RunStatus) error {
	return r.backend.UpdateRun(ctx, r.info.RunID, status)
}
