// Package linear is a small regression project: a linear model trained with mini-batch SGD on
// synthetic data. It exercises the training loop end to end without any numeric library.
package linear

import (
	"encoding/json"
	"math"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/imishinist/mlproject/internal/config"
	"github.com/imishinist/mlproject/internal/mlproject"
)

// Name of the project, as used in the "project" key.
const Name = "linear"

// Configuration keys and their defaults.
const (
	KeyNumFeatures     = "num_features"
	KeyNumExamples     = "num_examples"
	KeyNumTestExamples = "num_test_examples"
	KeyBatchSize       = "batch_size"
	KeyLearningRate    = "learning_rate"
	KeyNoise           = "noise"
	KeySeed            = "seed"
)

// Config of the project, read from the run parameters.
type Config struct {
	NumFeatures     int
	NumExamples     int
	NumTestExamples int
	BatchSize       int
	LearningRate    float64
	Noise           float64
	Seed            uint64
}

// DefaultConfig is used for missing keys.
var DefaultConfig = Config{
	NumFeatures:     4,
	NumExamples:     1024,
	NumTestExamples: 256,
	BatchSize:       32,
	LearningRate:    0.05,
	Noise:           0.1,
	Seed:            42,
}

// ParseConfig reads the project configuration from params.
func ParseConfig(params config.Params) (Config, error) {
	cfg := DefaultConfig
	ints := []struct {
		key string
		dst *int
		min int
	}{
		{KeyNumFeatures, &cfg.NumFeatures, 1},
		{KeyNumExamples, &cfg.NumExamples, 0},
		{KeyNumTestExamples, &cfg.NumTestExamples, 0},
		{KeyBatchSize, &cfg.BatchSize, 1},
	}
	for _, f := range ints {
		v, err := params.IntOr(f.key, int64(*f.dst))
		if err != nil {
			return cfg, err
		}
		if v < int64(f.min) {
			return cfg, errors.Errorf("parameter %q: %d is below %d", f.key, v, f.min)
		}
		*f.dst = int(v)
	}
	var err error
	if cfg.LearningRate, err = params.FloatOr(KeyLearningRate, cfg.LearningRate); err != nil {
		return cfg, err
	}
	if cfg.Noise, err = params.FloatOr(KeyNoise, cfg.Noise); err != nil {
		return cfg, err
	}
	seed, err := params.IntOr(KeySeed, int64(cfg.Seed))
	if err != nil {
		return cfg, err
	}
	cfg.Seed = uint64(seed)
	return cfg, nil
}

// Builder builds the linear project.
type Builder struct{}

var _ mlproject.Builder = Builder{}

func (Builder) NewModel(params config.Params) (mlproject.Model, error) {
	cfg, err := ParseConfig(params)
	if err != nil {
		return nil, err
	}
	return NewModel(cfg.NumFeatures, cfg.LearningRate), nil
}

func (Builder) NewDatasetFactory(params config.Params) (mlproject.DatasetFactory, error) {
	cfg, err := ParseConfig(params)
	if err != nil {
		return nil, err
	}
	return newDatasets(cfg), nil
}

// Model is y = w·x + b, trained by SGD on the mean squared error.
type Model struct {
	W            []float64 `json:"w"`
	B            float64   `json:"b"`
	learningRate float64
	training     bool
	logLevel     mlproject.LogLevel
}

var _ mlproject.Model = (*Model)(nil)

// NewModel returns a zero-initialized model over numFeatures inputs.
func NewModel(numFeatures int, learningRate float64) *Model {
	return &Model{W: make([]float64, numFeatures), learningRate: learningRate}
}

func (m *Model) Name() string { return Name }

// BenchmarkMetric is the Gaussian negative log-likelihood (unit variance) of the test targets.
func (m *Model) BenchmarkMetric() mlproject.BenchmarkMetric { return mlproject.NLL }

func (m *Model) Metrics() []string { return []string{"mse"} }

func (m *Model) Train() { m.training = true }
func (m *Model) Eval()  { m.training = false }

// Training reports whether the model is in training mode.
func (m *Model) Training() bool { return m.training }

func (m *Model) predict(x []float64) float64 {
	y := m.B
	for j, v := range x {
		y += m.W[j] * v
	}
	return y
}

// TrainBatch takes one gradient step on the batch mean squared error and returns the error
// before the step.
func (m *Model) TrainBatch(b mlproject.Batch) (map[string]float64, error) {
	batch, ok := b.(Batch)
	if !ok {
		return nil, errors.Errorf("linear: unexpected batch type %T", b)
	}
	n := float64(batch.Len())
	if n == 0 {
		return nil, errors.New("linear: empty batch")
	}
	gradW := make([]float64, len(m.W))
	var gradB, sse float64
	for i, x := range batch.X {
		diff := m.predict(x) - batch.Y[i]
		sse += diff * diff
		for j, v := range x {
			gradW[j] += 2 * diff * v / n
		}
		gradB += 2 * diff / n
	}
	for j := range m.W {
		m.W[j] -= m.learningRate * gradW[j]
	}
	m.B -= m.learningRate * gradB

	mse := sse / n
	if m.logLevel == mlproject.LogAll {
		klog.V(2).Infof("linear: mse=%.6f |grad|=%.6f w=%v b=%.4f", mse, norm(gradW, gradB), m.W, m.B)
	}
	return map[string]float64{"mse": mse, "grad_norm": norm(gradW, gradB)}, nil
}

// TestBatch returns the sums over the batch of the squared error and of the negative
// log-likelihood.
func (m *Model) TestBatch(b mlproject.Batch) (map[string]float64, error) {
	batch, ok := b.(Batch)
	if !ok {
		return nil, errors.Errorf("linear: unexpected batch type %T", b)
	}
	var sse, nll float64
	for i, x := range batch.X {
		diff := m.predict(x) - batch.Y[i]
		sse += diff * diff
		nll += 0.5*diff*diff + 0.5*math.Log(2*math.Pi)
	}
	return map[string]float64{"mse": sse, "nll": nll}, nil
}

func (m *Model) OnTrainBegin() error {
	klog.V(1).Infof("linear: training %d weights, learning rate %g", len(m.W), m.learningRate)
	return nil
}

func (m *Model) OnTrainEnd() error {
	klog.V(1).Infof("linear: final w=%v b=%.4f", m.W, m.B)
	return nil
}

func (m *Model) OnEpochBegin(int) error { return nil }

func (m *Model) OnEpochEnd(epoch int) error {
	klog.V(2).Infof("linear: epoch %d w=%v b=%.4f", epoch, m.W, m.B)
	return nil
}

func (m *Model) SetLogLevel(level mlproject.LogLevel) { m.logLevel = level }

// To accepts any device but only computes on the CPU.
func (m *Model) To(device mlproject.Device) error {
	if !device.IsCPU() {
		klog.Warningf("linear: device %s requested, computing on the CPU", device)
	}
	return nil
}

// StateDict encodes the weights as JSON.
func (m *Model) StateDict() ([]byte, error) {
	data, err := json.Marshal(m)
	return data, errors.Wrap(err, "linear: encoding weights")
}

// LoadStateDict restores weights encoded by StateDict. The number of features must match.
func (m *Model) LoadStateDict(state []byte) error {
	var loaded Model
	if err := json.Unmarshal(state, &loaded); err != nil {
		return errors.Wrap(err, "linear: decoding weights")
	}
	if len(loaded.W) != len(m.W) {
		return errors.Errorf("linear: checkpoint has %d weights, model has %d", len(loaded.W), len(m.W))
	}
	copy(m.W, loaded.W)
	m.B = loaded.B
	return nil
}

func norm(w []float64, b float64) float64 {
	s := b * b
	for _, v := range w {
		s += v * v
	}
	return math.Sqrt(s)
}
