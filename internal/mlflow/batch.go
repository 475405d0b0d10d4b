package mlflow

import (
	"context"
	"fmt"

	"github.com/databricks/databricks-sdk-go/service/ml"

	"github.com/imishinist/mlproject/internal/models"
)

// Request limits of MLflow's runs/log-batch endpoint.
const (
	maxBatchMetrics = 1000
	maxBatchParams  = 100
)

// LogBatchMetrics sends metrics with as few log-batch requests as the server limits allow.
func (c *Client) LogBatchMetrics(ctx context.Context, runID string, metrics []models.Metric) error {
	for start := 0; start < len(metrics); start += maxBatchMetrics {
		chunk := metrics[start:min(start+maxBatchMetrics, len(metrics))]
		batch := make([]ml.Metric, len(chunk))
		for i, m := range chunk {
			batch[i] = ml.Metric{Key: m.Key, Value: m.Value, Timestamp: m.Timestamp.UnixMilli(), Step: m.Step}
		}
		if err := c.client.Experiments.LogBatch(ctx, ml.LogBatch{RunId: runID, Metrics: batch}); err != nil {
			return fmt.Errorf("failed to log %d metrics: %w", len(batch), err)
		}
	}
	return nil
}

// LogParams logs parameters in chunks of the server limit.
func (c *Client) LogParams(ctx context.Context, runID string, params []models.Parameter) error {
	for start := 0; start < len(params); start += maxBatchParams {
		chunk := params[start:min(start+maxBatchParams, len(params))]
		batch := make([]ml.Param, len(chunk))
		for i, p := range chunk {
			batch[i] = ml.Param{Key: p.Key, Value: p.Value}
		}
		if err := c.client.Experiments.LogBatch(ctx, ml.LogBatch{RunId: runID, Params: batch}); err != nil {
			return fmt.Errorf("failed to log %d parameters: %w", len(batch), err)
		}
	}
	return nil
}
