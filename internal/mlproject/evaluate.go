package mlproject

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Evaluate runs the model over the test set and returns the benchmark metric. Per-batch values
// are divided by the size of the test set and summed, so a model returning per-batch sums gets
// per-item means. The aggregated metrics are written under the "test" tag and printed on one
// "[TEST]" line.
//
// Evaluate leaves the model in evaluation mode.
func (p *Project) Evaluate() (float64, error) {
	p.model.Eval()
	n := p.datasets.TestSet().Len()
	if n == 0 {
		return 0, ErrEmptyTestSet
	}
	loader, err := p.datasets.TestLoader()
	if err != nil {
		return 0, errors.WithMessage(err, "failed to create test loader")
	}
	defer closeLoader(loader)

	sums := make(map[string]float64)
	for {
		batch, err := loader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, errors.WithMessage(err, "failed to read test batch")
		}
		losses, err := p.model.TestBatch(batch)
		if err != nil {
			return 0, errors.WithMessagef(err, "evaluation failed at global step %d", p.globalStep)
		}
		for name, v := range losses {
			sums[name] += v / float64(n)
		}
	}

	if err = p.writer.AddScalars("test", sums, p.globalStep); err != nil {
		return 0, errors.WithMessagef(err, "failed to write test scalars at global step %d", p.globalStep)
	}
	if _, err = fmt.Fprintf(p.out, "[TEST] %s\n", FormatScalars(sums)); err != nil {
		return 0, errors.Wrap(err, "failed to print test results")
	}

	metric := p.model.BenchmarkMetric()
	score, found := sums[string(metric)]
	if !found {
		return 0, errors.Wrapf(ErrMetricNotFound, "%q not in %v", string(metric), sortedNames(sums))
	}
	return score, nil
}

// FormatScalars formats scalars as "name: value" pairs sorted by name, values with 4 decimals.
func FormatScalars(scalars map[string]float64) string {
	names := sortedNames(scalars)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s: %.4f", name, scalars[name])
	}
	return strings.Join(parts, ", ")
}

func sortedNames(scalars map[string]float64) []string {
	names := make([]string, 0, len(scalars))
	for name := range scalars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
