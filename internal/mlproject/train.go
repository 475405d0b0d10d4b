package mlproject

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// State of a Project.
type State int

const (
	Idle State = iota
	Training
	Evaluating
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Training:
		return "Training"
	case Evaluating:
		return "Evaluating"
	case Stopped:
		return "Stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Train runs epochs until the configured budget is spent. After every complete epoch the model
// is evaluated, if there is a test set, and a checkpoint is saved whenever the benchmark metric
// improves. The last saved checkpoint is registered with the tracker, if any.
//
// Train can only be called once. Any error aborts the run and leaves it Stopped.
func (p *Project) Train(ctx context.Context) error {
	if p.state != Idle {
		return errors.Wrapf(ErrNotIdle, "cannot train a project in state %s", p.state)
	}
	err := p.train(ctx)
	p.state = Stopped
	return err
}

func (p *Project) train(ctx context.Context) error {
	if err := p.model.OnTrainBegin(); err != nil {
		return errors.WithMessage(err, "model.OnTrainBegin")
	}
	p.model.Train()
	p.state = Training
	klog.Infof("run %d: training %q (%s)", p.id, p.model.Name(), p.budget)
	start := time.Now()

	var bestPath string
	for {
		stopped, err := p.trainEpoch()
		if err != nil {
			return err
		}
		if stopped {
			break
		}
		if p.datasets.HasTestSet() {
			p.state = Evaluating
			score, err := p.Evaluate()
			if err != nil {
				return err
			}
			better, err := p.isBetter(score)
			if err != nil {
				return err
			}
			if better {
				p.bestScore = &score
				if bestPath, err = p.Save(); err != nil {
					return err
				}
				klog.Infof("run %d: new best %s=%.4f at epoch %d, saved %q", p.id, p.model.BenchmarkMetric(), score, p.epoch, bestPath)
			}
			p.model.Train()
			p.state = Training
		}
		p.epoch++
	}
	klog.Infof("run %d: stopped at epoch %d, global step %s, after %s", p.id, p.epoch,
		humanize.Comma(p.globalStep), time.Since(start).Round(time.Millisecond))

	var artifactErr error
	if bestPath != "" && p.tracker != nil {
		artifactErr = p.tracker.AddArtifact(ctx, bestPath)
	}
	endErr := p.model.OnTrainEnd()
	switch {
	case artifactErr != nil && endErr != nil:
		return errors.WithMessagef(artifactErr, "failed to register checkpoint %q with the run (model.OnTrainEnd: %v)", bestPath, endErr)
	case artifactErr != nil:
		return errors.WithMessagef(artifactErr, "failed to register checkpoint %q with the run", bestPath)
	}
	return errors.WithMessage(endErr, "model.OnTrainEnd")
}

// trainEpoch runs one pass over the training data. It returns true if the budget is spent,
// either before the epoch starts or in its middle; in the latter case OnEpochEnd is not called.
func (p *Project) trainEpoch() (stopped bool, err error) {
	if p.shouldStop() {
		return true, nil
	}
	loader, err := p.datasets.TrainLoader()
	if err != nil {
		return false, errors.WithMessagef(err, "failed to create train loader for epoch %d", p.epoch)
	}
	defer closeLoader(loader)

	if err = p.model.OnEpochBegin(p.epoch); err != nil {
		return false, errors.WithMessagef(err, "model.OnEpochBegin(%d)", p.epoch)
	}
	bar := p.newProgressBar(loader)
	defer func() { _ = bar.Finish() }()

	p.epochStep = 0
	metricNames := p.model.Metrics()
	for {
		batch, err := loader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return false, errors.WithMessagef(err, "failed to read batch %d of epoch %d", p.epochStep, p.epoch)
		}
		p.setLogLevel()
		outputs, err := p.model.TrainBatch(batch)
		if err != nil {
			return false, errors.WithMessagef(err, "training failed at global step %d", p.globalStep)
		}
		metrics := make(map[string]float64, len(metricNames))
		for _, name := range metricNames {
			if v, found := outputs[name]; found {
				metrics[name] = v
			}
		}
		if err = p.writer.AddScalars("train", metrics, p.globalStep); err != nil {
			return false, errors.WithMessagef(err, "failed to write train scalars at global step %d", p.globalStep)
		}
		p.globalStep++
		p.epochStep++
		_ = bar.Add(1)
		if p.shouldStop() {
			klog.V(1).Infof("run %d: budget spent in the middle of epoch %d", p.id, p.epoch)
			return true, nil
		}
	}
	if p.epochStep == 0 && p.budget.hasIterations {
		return false, errors.Wrapf(ErrEmptyEpoch, "epoch %d at global step %d of %d", p.epoch, p.globalStep, p.budget.iterations)
	}
	if err = p.model.OnEpochEnd(p.epoch); err != nil {
		return false, errors.WithMessagef(err, "model.OnEpochEnd(%d)", p.epoch)
	}
	klog.V(1).Infof("run %d: epoch %d done, %d batches", p.id, p.epoch, p.epochStep)
	return false, nil
}

func (p *Project) shouldStop() bool {
	if p.budget.hasIterations {
		return p.globalStep >= p.budget.iterations
	}
	return int64(p.epoch) >= p.budget.epochs
}

func (p *Project) setLogLevel() {
	p.model.SetLogLevel(SelectLogLevel(p.epochStep, p.logAll, p.logScalars))
}

func (p *Project) isBetter(score float64) (bool, error) {
	return IsBetter(p.model.BenchmarkMetric(), p.bestScore, score)
}

// SelectLogLevel returns the log level for the batch at epochStep: LogAll every allInterval
// steps, else LogScalars every scalarsInterval steps, else LogNone. A zero interval disables
// its level.
func SelectLogLevel(epochStep int, allInterval, scalarsInterval int64) LogLevel {
	switch {
	case allInterval > 0 && int64(epochStep)%allInterval == 0:
		return LogAll
	case scalarsInterval > 0 && int64(epochStep)%scalarsInterval == 0:
		return LogScalars
	default:
		return LogNone
	}
}

// IsBetter reports whether score improves on best for the given metric kind. Without a best
// score any score is better. For accuracy and loss a greater score is better, for nll a lower one.
func IsBetter(kind BenchmarkMetric, best *float64, score float64) (bool, error) {
	if best == nil {
		return true, nil
	}
	switch kind {
	case Accuracy, Loss:
		return *best < score, nil
	case NLL:
		return *best > score, nil
	default:
		return false, errors.Wrapf(ErrUnknownBenchmarkMetric, "%q", string(kind))
	}
}

func (b budget) String() string {
	if b.hasIterations {
		return fmt.Sprintf("%s global iterations", humanize.Comma(b.iterations))
	}
	return fmt.Sprintf("%d epochs", b.epochs)
}

func (p *Project) newProgressBar(loader Loader) *progressbar.ProgressBar {
	total := -1
	if sized, ok := loader.(Sized); ok {
		total = sized.Len()
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.progress),
		progressbar.OptionSetDescription(fmt.Sprintf("epoch %d", p.epoch)),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("batches"),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() { _, _ = fmt.Fprintln(p.progress) }),
	)
}

func closeLoader(loader Loader) {
	if c, ok := loader.(io.Closer); ok {
		if err := c.Close(); err != nil {
			klog.Warningf("failed to close loader: %v", err)
		}
	}
}
