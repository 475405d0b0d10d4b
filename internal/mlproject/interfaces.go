package mlproject

import (
	"context"

	"github.com/imishinist/mlproject/internal/config"
)

// Batch is whatever a Loader yields and a Model consumes; the loop never looks inside it.
type Batch any

// Loader yields the batches of one pass over a dataset. Next returns io.EOF after the last
// batch. Loaders that also implement io.Closer are closed when the pass ends.
type Loader interface {
	Next() (Batch, error)
}

// Sized is implemented by collections with a known number of items. A Loader implementing it
// reports its number of batches, which sizes the progress bar.
type Sized interface {
	Len() int
}

// DatasetFactory provides the training and held-out data of a project.
type DatasetFactory interface {
	// TrainLoader returns a fresh loader for one epoch of training data.
	TrainLoader() (Loader, error)
	// HasTestSet reports whether TestLoader and TestSet can be used.
	HasTestSet() bool
	// TestLoader returns a fresh loader over the held-out set.
	TestLoader() (Loader, error)
	// TestSet returns the held-out set; its Len is the number of items N used to weight
	// per-batch evaluation values.
	TestSet() Sized
}

// BenchmarkMetric names the evaluation metric used to decide whether a checkpoint is the best.
// Its kind also decides the comparison direction, see IsBetter.
type BenchmarkMetric string

const (
	Accuracy BenchmarkMetric = "accuracy"
	Loss     BenchmarkMetric = "loss"
	NLL      BenchmarkMetric = "nll"
)

// LogLevel tells the model how much to report for the next training batch.
type LogLevel int

const (
	LogNone LogLevel = iota
	LogScalars
	LogAll
)

func (l LogLevel) String() string {
	switch l {
	case LogNone:
		return "NONE"
	case LogScalars:
		return "SCALARS"
	case LogAll:
		return "ALL"
	default:
		return "LogLevel(?)"
	}
}

// Model is a trainable model. Its computation is opaque to the loop: the loop toggles modes,
// feeds batches, calls the lifecycle hooks and moves weights in and out.
type Model interface {
	// Train and Eval switch between training and evaluation mode.
	Train()
	Eval()

	// TrainBatch runs one training step and returns its metrics by name.
	TrainBatch(batch Batch) (map[string]float64, error)
	// TestBatch evaluates one held-out batch. Values are sums over the items of the batch:
	// the evaluation divides them by the size of the held-out set.
	TestBatch(batch Batch) (map[string]float64, error)

	OnTrainBegin() error
	OnTrainEnd() error
	OnEpochBegin(epoch int) error
	OnEpochEnd(epoch int) error

	// Name identifies the model in directory and checkpoint names.
	Name() string
	// BenchmarkMetric is the metric name (and kind) used to select the best checkpoint.
	BenchmarkMetric() BenchmarkMetric
	// Metrics lists the TrainBatch outputs that are logged.
	Metrics() []string

	// StateDict exports the model weights; LoadStateDict restores them.
	StateDict() ([]byte, error)
	LoadStateDict(state []byte) error

	// SetLogLevel is called before every training batch.
	SetLogLevel(level LogLevel)
}

// DevicePlacer is implemented by models that can be moved to a compute device.
type DevicePlacer interface {
	To(device Device) error
}

// Builder creates the model and the datasets of a project from its configuration.
type Builder interface {
	NewModel(params config.Params) (Model, error)
	NewDatasetFactory(params config.Params) (DatasetFactory, error)
}

// RunTracker is an external experiment tracker attached to a run.
type RunTracker interface {
	// LogParams records the run configuration for display.
	LogParams(ctx context.Context, params map[string]string) error
	// AddArtifact registers a file (the best checkpoint) with the run.
	AddArtifact(ctx context.Context, path string) error
}
