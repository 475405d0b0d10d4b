package mlproject

import "github.com/pkg/errors"

var (
	// ErrMissingModelDir is returned when the configuration has no "model_dir".
	ErrMissingModelDir = errors.New("cannot figure out model dir: \"model_dir\" is not configured")
	// ErrMissingBudget is returned when neither "n_global_iterations" nor "n_epochs" is configured.
	ErrMissingBudget = errors.New("no training budget: configure \"n_global_iterations\" or \"n_epochs\"")
	// ErrUnknownBenchmarkMetric is returned when a model declares a benchmark metric kind other
	// than accuracy, loss or nll.
	ErrUnknownBenchmarkMetric = errors.New("unknown benchmark metric")
	// ErrMetricNotFound is returned when the evaluation results lack the benchmark metric.
	ErrMetricNotFound = errors.New("benchmark metric not found in evaluation results")
	// ErrNotIdle is returned when Train is called on a project that already trained.
	ErrNotIdle = errors.New("project is not idle")
	// ErrEmptyEpoch is returned when, under an iteration budget, an epoch yields no batches:
	// the budget could never be reached.
	ErrEmptyEpoch = errors.New("training loader yielded no batches")
	// ErrEmptyTestSet is returned when evaluating over a held-out set of size 0.
	ErrEmptyTestSet = errors.New("test set is empty")
)
