// Package summary implements the metrics sinks the training loop writes scalars to.
//
// A Writer is handed to the loop at construction; when no metrics directory is configured the
// loop gets Nop, so writing scalars is never conditional at the call site.
package summary

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/imishinist/mlproject/internal/models"
)

// Writer records tagged scalar series at a step.
type Writer interface {
	// AddScalars records scalars at step under tag (e.g. "train", "test").
	AddScalars(tag string, scalars map[string]float64, step int64) error
	Close() error
}

// Nop discards everything.
var Nop Writer = nopWriter{}

type nopWriter struct{}

func (nopWriter) AddScalars(string, map[string]float64, int64) error { return nil }
func (nopWriter) Close() error                                      { return nil }

// MetricsLogger is the part of a run tracker the TrackerWriter needs.
type MetricsLogger interface {
	LogMetrics(ctx context.Context, metrics []models.Metric) error
}

// TrackerWriter forwards scalars to a run tracker as "<tag>/<name>" metrics.
type TrackerWriter struct {
	ctx    context.Context
	logger MetricsLogger
	now    func() time.Time
}

// NewTrackerWriter returns a Writer forwarding to logger. ctx bounds the tracker calls.
func NewTrackerWriter(ctx context.Context, logger MetricsLogger) *TrackerWriter {
	return &TrackerWriter{ctx: ctx, logger: logger, now: time.Now}
}

// AddScalars logs the finite scalars. Trackers reject NaN and infinities, so those are dropped
// with a warning rather than failing the run.
func (w *TrackerWriter) AddScalars(tag string, scalars map[string]float64, step int64) error {
	finite := make(map[string]float64, len(scalars))
	for name, v := range scalars {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			klog.Warningf("not logging %s/%s = %v at step %d to the tracker", tag, name, v, step)
			continue
		}
		finite[name] = v
	}
	if len(finite) == 0 {
		return nil
	}
	metrics := models.MetricsFromScalars(tag, finite, step, w.now())
	return errors.WithMessagef(w.logger.LogMetrics(w.ctx, metrics), "logging %q scalars at step %d", tag, step)
}

func (w *TrackerWriter) Close() error { return nil }

// Multi fans scalars out to several writers. It stops at the first error.
type Multi []Writer

func (m Multi) AddScalars(tag string, scalars map[string]float64, step int64) error {
	for _, w := range m {
		if err := w.AddScalars(tag, scalars, step); err != nil {
			return err
		}
	}
	return nil
}

// Close closes all writers, returning the first error.
func (m Multi) Close() error {
	var first error
	for _, w := range m {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Combine returns a single Writer for writers, dropping Nop and nil entries.
func Combine(writers ...Writer) Writer {
	var live Multi
	for _, w := range writers {
		if w == nil || w == Nop {
			continue
		}
		live = append(live, w)
	}
	switch len(live) {
	case 0:
		return Nop
	case 1:
		return live[0]
	default:
		return live
	}
}
