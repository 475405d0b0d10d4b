// Package mlproject drives the training of a model: it owns the run state (counters, best score,
// directories), pulls batches from a DatasetFactory into a Model, evaluates after every epoch and
// keeps a checkpoint of the best model so far.
//
// A Project is built from a Builder (which creates the model and the datasets) and an immutable
// run configuration. It is single use: Train runs it from Idle to Stopped.
package mlproject

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"

	"github.com/imishinist/mlproject/internal/checkpoint"
	"github.com/imishinist/mlproject/internal/config"
	"github.com/imishinist/mlproject/internal/parser"
	"github.com/imishinist/mlproject/internal/summary"
)

// Configuration keys read by the loop.
const (
	KeyModelDir            = "model_dir"
	KeyDevice              = "device"
	KeyTensorboardDir      = "tensorboard_dir"
	KeyGlobalIterations    = "n_global_iterations"
	KeyEpochs              = "n_epochs"
	KeyLogIterationScalars = "log_iteration_scalars"
	KeyLogIterationAll     = "log_iteration_all"
)

const (
	minRunID   = int64(1e10)
	runIDRange = int64(1e8)
)

// Options hold the construction parameters of a Project that are not part of the run
// configuration. The zero value starts a fresh run.
type Options struct {
	// ID of the run. Zero draws a random one.
	ID int64

	// Counters to start from.
	GlobalStep int64
	Epoch      int
	EpochStep  int
	// BestScore to start from; nil if no evaluation completed yet.
	BestScore *float64

	// ModelSaveDir overrides the directory resolved from "model_dir". It is used as is and not
	// created.
	ModelSaveDir string
	// TensorboardRunDir overrides the metrics directory resolved from "tensorboard_dir".
	TensorboardRunDir string

	// ModelState holds weights loaded into the model after it is built.
	ModelState []byte

	// Tracker, if set, receives the best checkpoint at the end of training.
	Tracker RunTracker
	// Writer is an extra metrics sink, combined with the one resolved from the configuration.
	// The Project does not close it.
	Writer summary.Writer

	// Out receives the evaluation summaries. Defaults to os.Stdout.
	Out io.Writer
	// Progress receives the progress bars. Defaults to os.Stderr.
	Progress io.Writer
}

// budget is the stop condition of a run: a number of global iterations if configured, else a
// number of epochs.
type budget struct {
	iterations    int64
	hasIterations bool
	epochs        int64
}

// Project is a training run. It is not safe for concurrent use.
type Project struct {
	id       int64
	config   config.Params
	model    Model
	datasets DatasetFactory
	device   Device
	tracker  RunTracker

	// writer is where scalars go; fileWriter is the part of it the Project created and closes.
	writer     summary.Writer
	fileWriter *summary.FileWriter

	globalStep        int64
	epoch             int
	epochStep         int
	bestScore         *float64
	modelSaveDir      string
	tensorboardRunDir string

	state      State
	budget     budget
	logAll     int64
	logScalars int64

	out      io.Writer
	progress io.Writer
}

// New builds the model and datasets of a new project with b, and resolves its identity and
// directories. The model save directory is created and must not exist yet (unless
// opts.ModelSaveDir is given).
func New(b Builder, params config.Params, opts Options) (*Project, error) {
	p := &Project{
		id:                opts.ID,
		config:            config.NewParams(params.Map()),
		tracker:           opts.Tracker,
		globalStep:        opts.GlobalStep,
		epoch:             opts.Epoch,
		epochStep:         opts.EpochStep,
		bestScore:         copyScore(opts.BestScore),
		modelSaveDir:      opts.ModelSaveDir,
		tensorboardRunDir: opts.TensorboardRunDir,
		state:             Idle,
		out:               opts.Out,
		progress:          opts.Progress,
	}
	if p.id == 0 {
		p.id = newRunID()
	}
	if p.out == nil {
		p.out = os.Stdout
	}
	if p.progress == nil {
		p.progress = os.Stderr
	}

	var err error
	if p.budget, err = readBudget(p.config); err != nil {
		return nil, err
	}
	if p.logAll, err = p.config.IntOr(KeyLogIterationAll, 0); err != nil {
		return nil, errors.WithMessage(err, "invalid configuration")
	}
	if p.logScalars, err = p.config.IntOr(KeyLogIterationScalars, 0); err != nil {
		return nil, errors.WithMessage(err, "invalid configuration")
	}

	if p.model, err = b.NewModel(p.config); err != nil {
		return nil, errors.WithMessage(err, "failed to build model")
	}
	if p.datasets, err = b.NewDatasetFactory(p.config); err != nil {
		return nil, errors.WithMessage(err, "failed to build dataset factory")
	}
	if opts.ModelState != nil {
		if err = p.model.LoadStateDict(opts.ModelState); err != nil {
			return nil, errors.WithMessagef(err, "failed to load weights into model %q", p.model.Name())
		}
	}

	if p.device, err = ResolveDevice(p.config); err != nil {
		return nil, err
	}
	if placer, ok := p.model.(DevicePlacer); ok {
		if err = placer.To(p.device); err != nil {
			return nil, errors.WithMessagef(err, "failed to move model %q to %s", p.model.Name(), p.device)
		}
	}

	if p.modelSaveDir == "" {
		if p.modelSaveDir, err = p.createModelSaveDir(); err != nil {
			return nil, err
		}
	}
	if p.tensorboardRunDir == "" {
		dir, found, err := p.config.String(KeyTensorboardDir)
		if err != nil {
			return nil, errors.WithMessage(err, "invalid configuration")
		}
		if found && dir != "" {
			p.tensorboardRunDir = filepath.Join(dir, p.runDirName())
		}
	}
	p.writer = summary.Nop
	if p.tensorboardRunDir != "" {
		if p.fileWriter, err = summary.NewFileWriter(p.tensorboardRunDir); err != nil {
			return nil, err
		}
		p.writer = p.fileWriter
	}
	p.writer = summary.Combine(p.writer, opts.Writer)

	klog.V(1).Infof("run %d: model %q on %s, checkpoints in %q", p.id, p.model.Name(), p.device, p.modelSaveDir)
	return p, nil
}

// FromRun creates a new project attached to a tracker run. The configuration is printed to
// opts.Out and logged to the run as parameters, for display only.
func FromRun(ctx context.Context, b Builder, params config.Params, run RunTracker, opts Options) (*Project, error) {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if err := PrintConfig(out, params); err != nil {
		return nil, err
	}
	if err := run.LogParams(ctx, params.Flatten()); err != nil {
		return nil, errors.WithMessage(err, "failed to log configuration to the run")
	}
	opts.Tracker = run
	return New(b, params, opts)
}

// LoadOptions configure Load.
type LoadOptions struct {
	// RestoreBestScore restores the best score recorded in the checkpoint. By default a resumed
	// run starts without a best score, so its first evaluation always saves a checkpoint.
	RestoreBestScore bool
	// Overrides are "key=value" settings applied to the restored configuration, e.g. to raise
	// the budget of a finished run.
	Overrides []string

	Tracker  RunTracker
	Writer   summary.Writer
	Out      io.Writer
	Progress io.Writer
}

// Load reconstructs a project from the checkpoint at path: identity, counters, directories and
// configuration are restored as recorded, and the weights are loaded into a freshly built model.
func Load(b Builder, path string, opts LoadOptions) (*Project, error) {
	state, err := checkpoint.Load(path)
	if err != nil {
		return nil, err
	}
	o := Options{
		ID:                state.ID,
		GlobalStep:        state.GlobalStep,
		Epoch:             state.Epoch,
		EpochStep:         state.EpochStep,
		ModelSaveDir:      state.ModelSaveDir,
		TensorboardRunDir: state.TensorboardRunDir,
		ModelState:        state.ModelState,
		Tracker:           opts.Tracker,
		Writer:            opts.Writer,
		Out:               opts.Out,
		Progress:          opts.Progress,
	}
	if opts.RestoreBestScore {
		o.BestScore = state.BestScore
	}
	if state.Config == nil {
		state.Config = map[string]any{}
	}
	if err = parser.ApplyOverrides(state.Config, opts.Overrides); err != nil {
		return nil, errors.WithMessage(err, "invalid configuration override")
	}
	p, err := New(b, config.NewParams(state.Config), o)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to restore project from %q", path)
	}
	klog.Infof("run %d restored from %q at epoch %d, global step %d", p.id, path, p.epoch, p.globalStep)
	return p, nil
}

// PrintConfig writes params as YAML, under a "Configuration:" header.
func PrintConfig(w io.Writer, params config.Params) error {
	data, err := yaml.Marshal(params)
	if err != nil {
		return errors.Wrap(err, "failed to marshal configuration")
	}
	_, err = fmt.Fprintf(w, "Configuration:\n%s", data)
	return errors.Wrap(err, "failed to print configuration")
}

// StateDict returns the full run state, including the model weights.
func (p *Project) StateDict() (*checkpoint.State, error) {
	weights, err := p.model.StateDict()
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to export weights of model %q", p.model.Name())
	}
	return &checkpoint.State{
		ID:                p.id,
		Config:            p.config.Map(),
		GlobalStep:        p.globalStep,
		Epoch:             p.epoch,
		EpochStep:         p.epochStep,
		BestScore:         copyScore(p.bestScore),
		ModelSaveDir:      p.modelSaveDir,
		TensorboardRunDir: p.tensorboardRunDir,
		ModelState:        weights,
	}, nil
}

// SaveFilename returns the absolute path of the checkpoint for the current position.
func (p *Project) SaveFilename() (string, error) {
	path, err := filepath.Abs(filepath.Join(p.modelSaveDir, checkpoint.Filename(p.model.Name(), p.epoch, p.epochStep)))
	return path, errors.Wrap(err, "failed to resolve checkpoint path")
}

// Save writes a checkpoint of the current state and returns its absolute path.
func (p *Project) Save() (string, error) {
	state, err := p.StateDict()
	if err != nil {
		return "", err
	}
	path, err := p.SaveFilename()
	if err != nil {
		return "", err
	}
	if err = checkpoint.Save(path, state); err != nil {
		return "", err
	}
	return path, nil
}

// Close releases the metrics writer the Project created. Injected writers are left open.
func (p *Project) Close() error {
	if p.fileWriter == nil {
		return nil
	}
	w := p.fileWriter
	p.fileWriter = nil
	return w.Close()
}

// ID returns the run identifier.
func (p *Project) ID() int64 { return p.id }

// Config returns the run configuration.
func (p *Project) Config() config.Params { return p.config }

func (p *Project) Model() Model { return p.model }

func (p *Project) Device() Device { return p.device }

func (p *Project) State() State { return p.state }

func (p *Project) GlobalStep() int64 { return p.globalStep }

func (p *Project) Epoch() int { return p.epoch }

func (p *Project) EpochStep() int { return p.epochStep }

// BestScore returns the best evaluation score so far, and false if there was none.
func (p *Project) BestScore() (float64, bool) {
	if p.bestScore == nil {
		return 0, false
	}
	return *p.bestScore, true
}

func (p *Project) ModelSaveDir() string { return p.modelSaveDir }

// TensorboardRunDir returns the metrics directory, or "" if metrics are not written to disk.
func (p *Project) TensorboardRunDir() string { return p.tensorboardRunDir }

func (p *Project) runDirName() string {
	return fmt.Sprintf("%d_%s", p.id, p.model.Name())
}

func (p *Project) createModelSaveDir() (string, error) {
	root, found, err := p.config.String(KeyModelDir)
	if err != nil {
		return "", errors.WithMessage(err, "invalid configuration")
	}
	if !found || root == "" {
		return "", ErrMissingModelDir
	}
	if err = os.MkdirAll(root, 0o755); err != nil {
		return "", errors.Wrapf(err, "failed to create model dir %q", root)
	}
	dir := filepath.Join(root, p.runDirName())
	if err = os.Mkdir(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "failed to create model save dir %q", dir)
	}
	return dir, nil
}

func readBudget(params config.Params) (budget, error) {
	var b budget
	var err error
	b.iterations, b.hasIterations, err = params.Int(KeyGlobalIterations)
	if err != nil {
		return b, errors.WithMessage(err, "invalid configuration")
	}
	if b.hasIterations {
		return b, nil
	}
	epochs, found, err := params.Int(KeyEpochs)
	if err != nil {
		return b, errors.WithMessage(err, "invalid configuration")
	}
	if !found {
		return b, ErrMissingBudget
	}
	b.epochs = epochs
	return b, nil
}

func newRunID() int64 {
	return minRunID + rand.Int64N(runIDRange+1)
}

func copyScore(score *float64) *float64 {
	if score == nil {
		return nil
	}
	s := *score
	return &s
}
