package linear

import (
	"io"
	"math/rand/v2"

	"github.com/imishinist/mlproject/internal/mlproject"
)

// Batch is a slice of examples: rows of X with their targets Y.
type Batch struct {
	X [][]float64
	Y []float64
}

// Len returns the number of examples in the batch.
func (b Batch) Len() int { return len(b.Y) }

// examples is a fixed set of generated examples.
type examples struct {
	x [][]float64
	y []float64
}

func (e *examples) Len() int { return len(e.y) }

// generate draws n examples of y = w·x + bias + noise·ε, with x and ε standard normal.
func generate(rng *rand.Rand, n int, w []float64, bias, noise float64) *examples {
	e := &examples{x: make([][]float64, n), y: make([]float64, n)}
	for i := range n {
		row := make([]float64, len(w))
		y := bias
		for j := range row {
			row[j] = rng.NormFloat64()
			y += w[j] * row[j]
		}
		e.x[i] = row
		e.y[i] = y + noise*rng.NormFloat64()
	}
	return e
}

// Datasets generates a training and a test set from the same hidden linear function.
type Datasets struct {
	train, test *examples
	batchSize   int
	rng         *rand.Rand
}

var _ mlproject.DatasetFactory = (*Datasets)(nil)

func newDatasets(cfg Config) *Datasets {
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	w := make([]float64, cfg.NumFeatures)
	for i := range w {
		w[i] = rng.NormFloat64()
	}
	bias := rng.NormFloat64()
	return &Datasets{
		train:     generate(rng, cfg.NumExamples, w, bias, cfg.Noise),
		test:      generate(rng, cfg.NumTestExamples, w, bias, cfg.Noise),
		batchSize: cfg.BatchSize,
		rng:       rng,
	}
}

// TrainLoader returns the training set in a new random order.
func (d *Datasets) TrainLoader() (mlproject.Loader, error) {
	return newLoader(d.train, d.rng.Perm(d.train.Len()), d.batchSize), nil
}

func (d *Datasets) HasTestSet() bool { return d.test.Len() > 0 }

// TestLoader returns the test set in order.
func (d *Datasets) TestLoader() (mlproject.Loader, error) {
	order := make([]int, d.test.Len())
	for i := range order {
		order[i] = i
	}
	return newLoader(d.test, order, d.batchSize), nil
}

func (d *Datasets) TestSet() mlproject.Sized { return d.test }

type loader struct {
	data      *examples
	order     []int
	batchSize int
	pos       int
}

func newLoader(data *examples, order []int, batchSize int) *loader {
	return &loader{data: data, order: order, batchSize: batchSize}
}

// Len returns the number of batches, the last one possibly short.
func (l *loader) Len() int {
	return (len(l.order) + l.batchSize - 1) / l.batchSize
}

func (l *loader) Next() (mlproject.Batch, error) {
	if l.pos >= len(l.order) {
		return nil, io.EOF
	}
	end := min(l.pos+l.batchSize, len(l.order))
	b := Batch{X: make([][]float64, 0, end-l.pos), Y: make([]float64, 0, end-l.pos)}
	for _, i := range l.order[l.pos:end] {
		b.X = append(b.X, l.data.x[i])
		b.Y = append(b.Y, l.data.y[i])
	}
	l.pos = end
	return b, nil
}
