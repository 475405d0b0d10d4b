package summary

import (
	"bufio"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// ScalarsFileName is the file FileWriter appends records to, inside its directory.
const ScalarsFileName = "scalars.jsonl"

// Record is one line of a FileWriter output.
type Record struct {
	WallTime float64            `json:"wall_time"`
	Step     int64              `json:"step"`
	Tag      string             `json:"tag"`
	Scalars  map[string]float64 `json:"scalars"`
}

// recordJSON is the wire form of Record. JSON has no NaN or infinities, so those scalars are
// written as the strings "NaN", "Infinity" and "-Infinity".
type recordJSON struct {
	WallTime float64                    `json:"wall_time"`
	Step     int64                      `json:"step"`
	Tag      string                     `json:"tag"`
	Scalars  map[string]json.RawMessage `json:"scalars"`
}

// MarshalJSON implements json.Marshaler.
func (r Record) MarshalJSON() ([]byte, error) {
	out := recordJSON{WallTime: r.WallTime, Step: r.Step, Tag: r.Tag}
	if r.Scalars != nil {
		out.Scalars = make(map[string]json.RawMessage, len(r.Scalars))
	}
	for name, v := range r.Scalars {
		out.Scalars[name] = encodeScalar(v)
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Record) UnmarshalJSON(data []byte) error {
	var in recordJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = Record{WallTime: in.WallTime, Step: in.Step, Tag: in.Tag}
	if in.Scalars != nil {
		r.Scalars = make(map[string]float64, len(in.Scalars))
	}
	for name, raw := range in.Scalars {
		v, err := decodeScalar(raw)
		if err != nil {
			return errors.Wrapf(err, "scalar %q", name)
		}
		r.Scalars[name] = v
	}
	return nil
}

func encodeScalar(v float64) json.RawMessage {
	switch {
	case math.IsNaN(v):
		return json.RawMessage(`"NaN"`)
	case math.IsInf(v, 1):
		return json.RawMessage(`"Infinity"`)
	case math.IsInf(v, -1):
		return json.RawMessage(`"-Infinity"`)
	}
	return json.RawMessage(strconv.FormatFloat(v, 'g', -1, 64))
}

func decodeScalar(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseFloat(s, 64)
	}
	var v float64
	err := json.Unmarshal(raw, &v)
	return v, err
}

// FileWriter appends one JSON record per AddScalars call to <dir>/scalars.jsonl.
type FileWriter struct {
	dir  string
	file *os.File
	buf  *bufio.Writer
	enc  *json.Encoder
	now  func() time.Time
}

// NewFileWriter creates dir if needed and opens its scalars file for appending.
func NewFileWriter(dir string) (*FileWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating metrics directory %q", dir)
	}
	path := filepath.Join(dir, ScalarsFileName)
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "opening metrics file %q", path)
	}
	buf := bufio.NewWriter(file)
	return &FileWriter{
		dir:  dir,
		file: file,
		buf:  buf,
		enc:  json.NewEncoder(buf),
		now:  time.Now,
	}, nil
}

// Dir returns the directory the writer was created on.
func (w *FileWriter) Dir() string {
	return w.dir
}

func (w *FileWriter) AddScalars(tag string, scalars map[string]float64, step int64) error {
	rec := Record{
		WallTime: float64(w.now().UnixNano()) / 1e9,
		Step:     step,
		Tag:      tag,
		Scalars:  scalars,
	}
	if err := w.enc.Encode(rec); err != nil {
		return errors.Wrapf(err, "writing %q scalars at step %d", tag, step)
	}
	// Flushed per record so a crashed run still leaves its metrics behind.
	return errors.Wrap(w.buf.Flush(), "flushing metrics file")
}

func (w *FileWriter) Close() error {
	flushErr := w.buf.Flush()
	closeErr := w.file.Close()
	if flushErr != nil {
		return errors.Wrap(flushErr, "flushing metrics file")
	}
	return errors.Wrap(closeErr, "closing metrics file")
}

// ReadRecords reads back all records written by a FileWriter in dir.
func ReadRecords(dir string) ([]Record, error) {
	path := filepath.Join(dir, ScalarsFileName)
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening metrics file %q", path)
	}
	defer f.Close()
	var records []Record
	dec := json.NewDecoder(f)
	for dec.More() {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return records, errors.Wrapf(err, "decoding metrics file %q", path)
		}
		records = append(records, rec)
	}
	return records, nil
}
