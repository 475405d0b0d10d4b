package mlflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/imishinist/mlproject/internal/models"
)

// MLflow's numeric RunStatus values, as stored in a file store meta.yaml.
var fileStoreStatus = map[models.RunStatus]int{
	models.RunStatusRunning:  1,
	models.RunStatusFinished: 3,
	models.RunStatusFailed:   4,
	models.RunStatusKilled:   5,
}

// FileStore writes runs in the layout of MLflow's file store ("mlruns" directory), so a local
// `mlflow ui --backend-store-uri <root>` can browse them:
//
//	<root>/<experiment_id>/meta.yaml
//	<root>/<experiment_id>/<run_id>/{meta.yaml,params/,metrics/,tags/,artifacts/}
type FileStore struct {
	root string
	now  func() time.Time
}

// NewFileStore returns a FileStore rooted at root. The directory is created on first use.
func NewFileStore(root string) *FileStore {
	return &FileStore{root: root, now: time.Now}
}

type experimentMeta struct {
	ArtifactLocation string `yaml:"artifact_location"`
	CreationTime     int64  `yaml:"creation_time"`
	ExperimentID     string `yaml:"experiment_id"`
	LastUpdateTime   int64  `yaml:"last_update_time"`
	LifecycleStage   string `yaml:"lifecycle_stage"`
	Name             string `yaml:"name"`
}

type runMeta struct {
	ArtifactURI    string `yaml:"artifact_uri"`
	EndTime        *int64 `yaml:"end_time"`
	EntryPointName string `yaml:"entry_point_name"`
	ExperimentID   string `yaml:"experiment_id"`
	LifecycleStage string `yaml:"lifecycle_stage"`
	RunID          string `yaml:"run_id"`
	RunName        string `yaml:"run_name"`
	RunUUID        string `yaml:"run_uuid"`
	SourceName     string `yaml:"source_name"`
	SourceType     int    `yaml:"source_type"`
	StartTime      int64  `yaml:"start_time"`
	Status         int    `yaml:"status"`
	UserID         string `yaml:"user_id"`
}

func (s *FileStore) experimentDir(experimentID string) string {
	return filepath.Join(s.root, experimentID)
}

// runDir finds the directory of runID under any experiment.
func (s *FileStore) runDir(runID string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(s.root, "*", runID))
	if err != nil {
		return "", fmt.Errorf("failed to look up run %s: %w", runID, err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("run %s not found in %s", runID, s.root)
	}
	return matches[0], nil
}

func (s *FileStore) ensureExperiment(experimentID string) error {
	dir := s.experimentDir(experimentID)
	metaPath := filepath.Join(dir, "meta.yaml")
	if _, err := os.Stat(metaPath); err == nil {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create experiment directory %s: %w", dir, err)
	}
	now := s.now().UnixMilli()
	name := experimentID
	if experimentID == "0" {
		name = "Default"
	}
	return writeYAML(metaPath, experimentMeta{
		ArtifactLocation: "file://" + dir,
		CreationTime:     now,
		ExperimentID:     experimentID,
		LastUpdateTime:   now,
		LifecycleStage:   "active",
		Name:             name,
	})
}

func (s *FileStore) CreateRun(_ context.Context, config *models.RunConfig) (*models.RunInfo, error) {
	if config.ExperimentID == nil {
		return nil, fmt.Errorf("experiment ID must be provided")
	}
	experimentID := *config.ExperimentID
	if err := s.ensureExperiment(experimentID); err != nil {
		return nil, err
	}

	startTime := s.now()
	runName := defaultRunName(startTime)
	if config.RunName != nil {
		runName = *config.RunName
	}
	runID := strings.ReplaceAll(uuid.NewString(), "-", "")
	dir := filepath.Join(s.experimentDir(experimentID), runID)
	for _, sub := range []string{"params", "metrics", "tags", "artifacts"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("failed to create run directory: %w", err)
		}
	}

	meta := runMeta{
		ArtifactURI:    "file://" + filepath.Join(dir, "artifacts"),
		ExperimentID:   experimentID,
		LifecycleStage: "active",
		RunID:          runID,
		RunName:        runName,
		RunUUID:        runID,
		SourceName:     SourceName,
		SourceType:     4, // LOCAL
		StartTime:      startTime.UnixMilli(),
		Status:         fileStoreStatus[models.RunStatusRunning],
		UserID:         os.Getenv("USER"),
	}
	if err := writeYAML(filepath.Join(dir, "meta.yaml"), meta); err != nil {
		return nil, err
	}
	for key, value := range runTags(config, runName) {
		if err := writeValue(filepath.Join(dir, "tags"), key, value); err != nil {
			return nil, err
		}
	}

	info := &models.RunInfo{
		RunID:        runID,
		ExperimentID: experimentID,
		RunName:      runName,
		Status:       string(models.RunStatusRunning),
		StartTime:    startTime,
		ArtifactURI:  meta.ArtifactURI,
		Tags:         config.Tags,
	}
	if config.Description != nil {
		info.Description = *config.Description
	}
	return info, nil
}

func (s *FileStore) UpdateRun(_ context.Context, runID string, status models.RunStatus) error {
	dir, err := s.runDir(runID)
	if err != nil {
		return err
	}
	metaPath := filepath.Join(dir, "meta.yaml")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("failed to read run metadata: %w", err)
	}
	var meta runMeta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("failed to parse run metadata: %w", err)
	}
	meta.Status = fileStoreStatus[status]
	if status.IsTerminal() {
		end := s.now().UnixMilli()
		meta.EndTime = &end
	}
	return writeYAML(metaPath, meta)
}

func (s *FileStore) GetRun(_ context.Context, runID string) (*models.RunInfo, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "meta.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to read run metadata: %w", err)
	}
	var meta runMeta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse run metadata: %w", err)
	}

	tags := make(map[string]string)
	entries, err := os.ReadDir(filepath.Join(dir, "tags"))
	if err != nil {
		return nil, fmt.Errorf("failed to read run tags: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		value, err := os.ReadFile(filepath.Join(dir, "tags", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read tag %s: %w", entry.Name(), err)
		}
		tags[entry.Name()] = string(value)
	}

	info := &models.RunInfo{
		RunID:        meta.RunID,
		ExperimentID: meta.ExperimentID,
		RunName:      meta.RunName,
		Description:  tags[TagDescription],
		StartTime:    time.UnixMilli(meta.StartTime),
		ArtifactURI:  meta.ArtifactURI,
		Tags:         tags,
	}
	for status, code := range fileStoreStatus {
		if code == meta.Status {
			info.Status = string(status)
		}
	}
	if meta.EndTime != nil {
		end := time.UnixMilli(*meta.EndTime)
		info.EndTime = &end
	}
	return info, nil
}

func (s *FileStore) LogParams(_ context.Context, runID string, params []models.Parameter) error {
	dir, err := s.runDir(runID)
	if err != nil {
		return err
	}
	for _, param := range params {
		if err := writeValue(filepath.Join(dir, "params"), param.Key, param.Value); err != nil {
			return fmt.Errorf("failed to log parameter %s: %w", param.Key, err)
		}
	}
	return nil
}

// LogBatchMetrics appends "<timestamp_ms> <value> <step>" lines, one file per metric key.
func (s *FileStore) LogBatchMetrics(_ context.Context, runID string, metrics []models.Metric) error {
	dir, err := s.runDir(runID)
	if err != nil {
		return err
	}
	for _, metric := range metrics {
		path, err := safeJoin(filepath.Join(dir, "metrics"), metric.Key)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("failed to log metric %s: %w", metric.Key, err)
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to log metric %s: %w", metric.Key, err)
		}
		_, err = fmt.Fprintf(f, "%d %v %d\n", metric.Timestamp.UnixMilli(), metric.Value, metric.Step)
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return fmt.Errorf("failed to log metric %s: %w", metric.Key, err)
		}
	}
	return nil
}

func (s *FileStore) UploadArtifact(_ context.Context, runID, filePath, artifactPath string) error {
	dir, err := s.runDir(runID)
	if err != nil {
		return err
	}
	if artifactPath == "" {
		artifactPath = filepath.Base(filePath)
	}
	dst, err := safeJoin(filepath.Join(dir, "artifacts"), artifactPath)
	if err != nil {
		return err
	}
	return copyFile(filePath, dst)
}

// safeJoin joins a "/"-separated key under base, rejecting keys that escape it.
func safeJoin(base, key string) (string, error) {
	path := filepath.Join(base, filepath.FromSlash(key))
	if !strings.HasPrefix(path, filepath.Clean(base)+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return path, nil
}

func writeValue(dir, key, value string) error {
	path, err := safeJoin(dir, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(value), 0644)
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
