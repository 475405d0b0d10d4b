// Package checkpoint persists the full state of a training run to a single file and reads it
// back.
//
// A checkpoint is a gzip-compressed gob record holding the run identity, its configuration,
// the progress counters, the best score and the model weights exported by the model. Files are
// named deterministically from the model name, epoch and epoch step (see Filename), so a save
// directory lists its checkpoints in training order.
package checkpoint

import (
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Ext is the checkpoint file extension.
const Ext = "gob"

// formatVersion is bumped whenever State changes incompatibly.
const formatVersion = 1

// ErrVersion is returned when loading a checkpoint written by an incompatible version.
var ErrVersion = errors.New("unsupported checkpoint version")

func init() {
	// Configuration values are stored as interfaces; nested containers need registering.
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register(time.Time{})
}

// State is the persisted run state.
type State struct {
	ID                int64
	Config            map[string]any
	GlobalStep        int64
	Epoch             int
	EpochStep         int
	BestScore         *float64
	ModelSaveDir      string
	TensorboardRunDir string
	ModelState        []byte
}

// record is the encoded form of a checkpoint. Gob drops zero values, including a pointer to 0.0,
// so the best score travels as a value plus a presence flag instead of State.BestScore.
type record struct {
	Version      int
	SavedAt      time.Time
	State        State
	BestScore    float64
	HasBestScore bool
}

func newRecord(state *State) record {
	rec := record{Version: formatVersion, SavedAt: time.Now(), State: *state}
	rec.State.BestScore = nil
	if state.BestScore != nil {
		rec.BestScore = *state.BestScore
		rec.HasBestScore = true
	}
	return rec
}

// Filename returns the checkpoint file name for a model at epoch / epochStep,
// e.g. "net_e00003_b00007.gob".
func Filename(modelName string, epoch, epochStep int) string {
	return fmt.Sprintf("%s_e%05d_b%05d.%s", modelName, epoch, epochStep, Ext)
}

var filenameRegexp = regexp.MustCompile(`^(.+)_e(\d{5,})_b(\d{5,})\.` + Ext + `$`)

// ParseFilename is the inverse of Filename.
func ParseFilename(name string) (modelName string, epoch, epochStep int, ok bool) {
	m := filenameRegexp.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return "", 0, 0, false
	}
	epoch, _ = strconv.Atoi(m[2])
	epochStep, _ = strconv.Atoi(m[3])
	return m[1], epoch, epochStep, true
}

// Save writes state to path. The file is written to a temporary name in the same directory and
// renamed into place, so a crash never leaves a truncated checkpoint under the final name.
func Save(path string, state *State) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "creating checkpoint in %q", dir)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	zw := gzip.NewWriter(tmp)
	rec := newRecord(state)
	if err = gob.NewEncoder(zw).Encode(&rec); err != nil {
		_ = tmp.Close()
		return errors.Wrapf(err, "encoding checkpoint %q", path)
	}
	if err = zw.Close(); err != nil {
		_ = tmp.Close()
		return errors.Wrapf(err, "compressing checkpoint %q", path)
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrapf(err, "writing checkpoint %q", path)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return errors.Wrapf(err, "renaming checkpoint to %q", path)
	}
	klog.V(1).Infof("checkpoint written to %q", path)
	return nil
}

// Load reads the state saved at path.
func Load(path string) (*State, error) {
	rec, err := read(path)
	if err != nil {
		return nil, err
	}
	return &rec.State, nil
}

func read(path string) (*record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening checkpoint %q", path)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading checkpoint %q", path)
	}
	defer zr.Close()
	var rec record
	if err := gob.NewDecoder(zr).Decode(&rec); err != nil {
		return nil, errors.Wrapf(err, "decoding checkpoint %q", path)
	}
	if rec.Version != formatVersion {
		return nil, errors.Wrapf(ErrVersion, "checkpoint %q has version %d, want %d", path, rec.Version, formatVersion)
	}
	if rec.HasBestScore {
		best := rec.BestScore
		rec.State.BestScore = &best
	}
	return &rec, nil
}

// Info summarizes a checkpoint file without exposing the weights.
type Info struct {
	Path       string
	Size       int64
	SavedAt    time.Time
	State      State
	ModelBytes int
}

// Inspect reads the checkpoint at path and returns its summary.
func Inspect(path string) (*Info, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "inspecting checkpoint %q", path)
	}
	rec, err := read(path)
	if err != nil {
		return nil, err
	}
	info := &Info{
		Path:       path,
		Size:       fi.Size(),
		SavedAt:    rec.SavedAt,
		State:      rec.State,
		ModelBytes: len(rec.State.ModelState),
	}
	info.State.ModelState = nil
	return info, nil
}

// List returns the checkpoint files in dir ordered by (epoch, epoch step).
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "listing checkpoints in %q", dir)
	}
	type entry struct {
		path         string
		epoch, batch int
	}
	var found []entry
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		_, epoch, batch, ok := ParseFilename(e.Name())
		if !ok {
			continue
		}
		found = append(found, entry{filepath.Join(dir, e.Name()), epoch, batch})
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].epoch != found[j].epoch {
			return found[i].epoch < found[j].epoch
		}
		return found[i].batch < found[j].batch
	})
	paths := make([]string, len(found))
	for i, e := range found {
		paths[i] = e.path
	}
	return paths, nil
}

// Latest returns the most advanced checkpoint in dir, or "" if there is none.
func Latest(dir string) (string, error) {
	paths, err := List(dir)
	if err != nil || len(paths) == 0 {
		return "", err
	}
	return paths[len(paths)-1], nil
}
