package mlflow

import (
	"context"
	"fmt"
	"time"

	"github.com/databricks/databricks-sdk-go/service/ml"

	"github.com/imishinist/mlproject/internal/models"
)

// Tags set on every run created by this tool.
const (
	TagRunName     = "mlflow.runName"
	TagDescription = "mlflow.note.content"
	TagSourceName  = "mlflow.source.name"
	SourceName     = "mlproject"
)

// defaultRunName is used when neither a flag nor the configuration names the run.
func defaultRunName(now time.Time) string {
	return "run-" + now.Format("2006-01-02-15-04-05")
}

// runTags flattens a RunConfig into the tag set MLflow stores with the run.
func runTags(config *models.RunConfig, runName string) map[string]string {
	tags := make(map[string]string, len(config.Tags)+3)
	for key, value := range config.Tags {
		tags[key] = value
	}
	tags[TagRunName] = runName
	tags[TagSourceName] = SourceName
	if config.Description != nil {
		tags[TagDescription] = *config.Description
	}
	return tags
}

func (c *Client) CreateRun(ctx context.Context, config *models.RunConfig) (*models.RunInfo, error) {
	if config.ExperimentID == nil {
		return nil, fmt.Errorf("experiment ID must be provided")
	}
	experimentID := *config.ExperimentID

	startTime := time.Now()
	runName := defaultRunName(startTime)
	if config.RunName != nil {
		runName = *config.RunName
	}

	tagMap := runTags(config, runName)
	tags := make([]ml.RunTag, 0, len(tagMap))
	for key, value := range tagMap {
		tags = append(tags, ml.RunTag{
			Key:   key,
			Value: value,
		})
	}

	resp, err := c.client.Experiments.CreateRun(ctx, ml.CreateRun{
		ExperimentId: experimentID,
		RunName:      runName,
		StartTime:    startTime.UnixMilli(),
		Tags:         tags,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	info := &models.RunInfo{
		RunID:        resp.Run.Info.RunId,
		ExperimentID: experimentID,
		RunName:      runName,
		Status:       string(models.RunStatusRunning),
		StartTime:    startTime,
		ArtifactURI:  resp.Run.Info.ArtifactUri,
		Tags:         config.Tags,
	}
	if config.Description != nil {
		info.Description = *config.Description
	}
	return info, nil
}

func toUpdateRunStatus(status models.RunStatus) ml.UpdateRunStatus {
	switch status {
	case models.RunStatusRunning:
		return ml.UpdateRunStatusRunning
	case models.RunStatusFailed:
		return ml.UpdateRunStatusFailed
	case models.RunStatusKilled:
		return ml.UpdateRunStatusKilled
	default:
		return ml.UpdateRunStatusFinished
	}
}

func (c *Client) UpdateRun(ctx context.Context, runID string, status models.RunStatus) error {
	updateRun := ml.UpdateRun{
		RunId:  runID,
		Status: toUpdateRunStatus(status),
	}

	if status.IsTerminal() {
		updateRun.EndTime = time.Now().UnixMilli()
	}

	_, err := c.client.Experiments.UpdateRun(ctx, updateRun)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	return nil
}

func (c *Client) GetRun(ctx context.Context, runID string) (*models.RunInfo, error) {
	resp, err := c.client.Experiments.GetRun(ctx, ml.GetRunRequest{
		RunId: runID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	run := resp.Run
	tags := make(map[string]string)
	for _, tag := range run.Data.Tags {
		tags[tag.Key] = tag.Value
	}

	runInfo := &models.RunInfo{
		RunID:        run.Info.RunId,
		ExperimentID: run.Info.ExperimentId,
		RunName:      tags[TagRunName],
		Description:  tags[TagDescription],
		Status:       string(run.Info.Status),
		StartTime:    time.UnixMilli(run.Info.StartTime),
		ArtifactURI:  run.Info.ArtifactUri,
		Tags:         tags,
	}

	if run.Info.EndTime != 0 {
		endTime := time.UnixMilli(run.Info.EndTime)
		runInfo.EndTime = &endTime
	}

	return runInfo, nil
}
