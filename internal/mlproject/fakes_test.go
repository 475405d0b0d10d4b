package mlproject

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/imishinist/mlproject/internal/config"
)

type sliceLoader struct {
	batches []Batch
	next    int
	closed  *int
}

func (l *sliceLoader) Next() (Batch, error) {
	if l.next >= len(l.batches) {
		return nil, io.EOF
	}
	b := l.batches[l.next]
	l.next++
	return b, nil
}

func (l *sliceLoader) Len() int { return len(l.batches) }

func (l *sliceLoader) Close() error {
	if l.closed != nil {
		*l.closed++
	}
	return nil
}

type sized int

func (s sized) Len() int { return int(s) }

type fakeDatasets struct {
	trainBatches int
	testBatches  []map[string]float64
	testSize     int
	closed       int
}

func (d *fakeDatasets) TrainLoader() (Loader, error) {
	batches := make([]Batch, d.trainBatches)
	for i := range batches {
		batches[i] = i
	}
	return &sliceLoader{batches: batches, closed: &d.closed}, nil
}

func (d *fakeDatasets) HasTestSet() bool { return d.testBatches != nil }

func (d *fakeDatasets) TestLoader() (Loader, error) {
	batches := make([]Batch, len(d.testBatches))
	for i, b := range d.testBatches {
		batches[i] = b
	}
	return &sliceLoader{batches: batches, closed: &d.closed}, nil
}

func (d *fakeDatasets) TestSet() Sized { return sized(d.testSize) }

type fakeModel struct {
	name    string
	metric  BenchmarkMetric
	metrics []string

	// trainOutputs, if set, replaces the default {"loss": 1} output of TrainBatch.
	trainOutputs map[string]float64
	// testFn, if set, replaces returning the test batch as is.
	testFn func(m *fakeModel, batch Batch) (map[string]float64, error)

	calls      []string
	levels     []LogLevel
	trainSteps int
	evals      int
	loaded     []byte
	device     Device

	epochBeginErr error
	trainEndErr   error
}

func newFakeModel() *fakeModel {
	return &fakeModel{name: "net", metric: Loss, metrics: []string{"loss"}}
}

func (m *fakeModel) Train() { m.calls = append(m.calls, "Train") }

func (m *fakeModel) Eval() {
	m.evals++
	m.calls = append(m.calls, "Eval")
}

func (m *fakeModel) TrainBatch(Batch) (map[string]float64, error) {
	m.trainSteps++
	if m.trainOutputs != nil {
		return m.trainOutputs, nil
	}
	return map[string]float64{"loss": 1}, nil
}

func (m *fakeModel) TestBatch(batch Batch) (map[string]float64, error) {
	if m.testFn != nil {
		return m.testFn(m, batch)
	}
	return batch.(map[string]float64), nil
}

func (m *fakeModel) OnTrainBegin() error {
	m.calls = append(m.calls, "OnTrainBegin")
	return nil
}

func (m *fakeModel) OnTrainEnd() error {
	m.calls = append(m.calls, "OnTrainEnd")
	return m.trainEndErr
}

func (m *fakeModel) OnEpochBegin(epoch int) error {
	m.calls = append(m.calls, fmt.Sprintf("OnEpochBegin(%d)", epoch))
	return m.epochBeginErr
}

func (m *fakeModel) OnEpochEnd(epoch int) error {
	m.calls = append(m.calls, fmt.Sprintf("OnEpochEnd(%d)", epoch))
	return nil
}

func (m *fakeModel) Name() string                     { return m.name }
func (m *fakeModel) BenchmarkMetric() BenchmarkMetric { return m.metric }
func (m *fakeModel) Metrics() []string                { return m.metrics }

func (m *fakeModel) StateDict() ([]byte, error) {
	return []byte(fmt.Sprintf("weights after %d steps", m.trainSteps)), nil
}

func (m *fakeModel) LoadStateDict(state []byte) error {
	m.loaded = state
	return nil
}

func (m *fakeModel) SetLogLevel(level LogLevel) { m.levels = append(m.levels, level) }

func (m *fakeModel) To(device Device) error {
	m.device = device
	return nil
}

// count returns how many times call was recorded.
func (m *fakeModel) count(call string) int {
	n := 0
	for _, c := range m.calls {
		if c == call {
			n++
		}
	}
	return n
}

type fakeBuilder struct {
	model    *fakeModel
	datasets *fakeDatasets
}

func (b *fakeBuilder) NewModel(config.Params) (Model, error) { return b.model, nil }

func (b *fakeBuilder) NewDatasetFactory(config.Params) (DatasetFactory, error) {
	return b.datasets, nil
}

type scalarsCall struct {
	tag     string
	scalars map[string]float64
	step    int64
}

type recordingWriter struct {
	calls []scalarsCall
}

func (w *recordingWriter) AddScalars(tag string, scalars map[string]float64, step int64) error {
	w.calls = append(w.calls, scalarsCall{tag: tag, scalars: scalars, step: step})
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func (w *recordingWriter) tagged(tag string) []scalarsCall {
	var calls []scalarsCall
	for _, c := range w.calls {
		if c.tag == tag {
			calls = append(calls, c)
		}
	}
	return calls
}

type fakeTracker struct {
	params      map[string]string
	artifacts   []string
	artifactErr error
}

func (t *fakeTracker) LogParams(_ context.Context, params map[string]string) error {
	t.params = params
	return nil
}

func (t *fakeTracker) AddArtifact(_ context.Context, path string) error {
	t.artifacts = append(t.artifacts, path)
	return t.artifactErr
}

// testParams returns a configuration with a temporary model_dir and the given extra keys.
func testParams(t *testing.T, extra map[string]any) config.Params {
	t.Helper()
	values := map[string]any{KeyModelDir: t.TempDir(), KeyDevice: "cpu"}
	for k, v := range extra {
		values[k] = v
	}
	return config.NewParams(values)
}

// newTestProject builds a Project with quiet outputs and a recording writer.
func newTestProject(t *testing.T, b *fakeBuilder, params config.Params, opts Options) (*Project, *recordingWriter) {
	t.Helper()
	w := &recordingWriter{}
	opts.Writer = w
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	opts.Progress = io.Discard
	p, err := New(b, params, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, w
}
