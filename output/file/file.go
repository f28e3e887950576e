// Package file provides a sink writing one line per record to a file owned
// by each task instance.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/c360/semtopo/component"
	"github.com/c360/semtopo/errors"
	"github.com/c360/semtopo/tuple"
)

// Output formats.
const (
	FormatRaw   = "raw"
	FormatJSONL = "jsonl"
)

// Config holds configuration for the file sink
type Config struct {
	Directory  string `json:"directory"   yaml:"directory"`
	FilePrefix string `json:"file_prefix" yaml:"file_prefix"`
	// Field selects the value written in raw format. Empty writes the first field.
	Field  string `json:"field"  yaml:"field"`
	Format string `json:"format" yaml:"format"`
	// DedupeSize is the number of recent record IDs remembered to skip
	// replayed records. 0 disables de-duplication.
	DedupeSize int `json:"dedupe_size" yaml:"dedupe_size"`
}

// DefaultConfig returns default configuration for file output
func DefaultConfig() Config {
	return Config{
		Directory:  filepath.Join(os.TempDir(), "semtopo"),
		Format:     FormatRaw,
		DedupeSize: 4096,
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Directory == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "directory is required")
	}
	if c.Format != "" && c.Format != FormatRaw && c.Format != FormatJSONL {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"format must be one of: raw, jsonl")
	}
	if c.DedupeSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"dedupe_size cannot be negative")
	}
	return nil
}

// Stats counts what one writer did.
type Stats struct {
	Written    int64
	Bytes      int64
	Duplicates int64
}

// Writer is a sink appending every record to its own file, named by a fresh
// uuid at Init. Each line is flushed before Process returns.
type Writer struct {
	cfg    Config
	logger *slog.Logger

	path string
	file *os.File
	buf  *bufio.Writer
	seen *lru.Cache[string, struct{}]

	written    atomic.Int64
	bytes      atomic.Int64
	duplicates atomic.Int64
}

// NewFactory validates cfg and returns a factory building one writer per task instance.
func NewFactory(cfg Config) (component.TransformFactory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Format == "" {
		cfg.Format = FormatRaw
	}
	return func() component.Transform { return &Writer{cfg: cfg} }, nil
}

// Init creates the output directory and opens a new file.
func (w *Writer) Init(_ context.Context, tc component.TaskContext) error {
	if err := os.MkdirAll(w.cfg.Directory, 0o755); err != nil {
		return errors.WrapFatal(err, "Writer", "Init", "create output directory")
	}

	w.path = filepath.Join(w.cfg.Directory, w.cfg.FilePrefix+uuid.NewString())
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.WrapFatal(err, "Writer", "Init", "open output file")
	}
	w.file = f
	w.buf = bufio.NewWriter(f)

	if w.cfg.DedupeSize > 0 {
		cache, err := lru.New[string, struct{}](w.cfg.DedupeSize)
		if err != nil {
			_ = f.Close()
			return errors.WrapFatal(err, "Writer", "Init", "create dedupe cache")
		}
		w.seen = cache
	}

	w.logger = tc.Log()
	w.logger.Info("File sink opened", "path", w.path, "format", w.cfg.Format)
	return nil
}

// Path returns the file written by this instance.
func (w *Writer) Path() string { return w.path }

// Stats returns a snapshot of the writer counters.
func (w *Writer) Stats() Stats {
	return Stats{
		Written:    w.written.Load(),
		Bytes:      w.bytes.Load(),
		Duplicates: w.duplicates.Load(),
	}
}

// Process writes rec as one line unless its ID was written recently.
func (w *Writer) Process(_ context.Context, rec tuple.Record, _ component.Collector) error {
	if w.seen != nil && rec.ID() != "" && w.seen.Contains(rec.ID()) {
		w.duplicates.Add(1)
		return nil
	}

	line, err := w.format(rec)
	if err != nil {
		return err
	}
	n, err := w.buf.Write(line)
	if err == nil {
		err = w.buf.WriteByte('\n')
	}
	if err == nil {
		err = w.buf.Flush()
	}
	if err != nil {
		return errors.WrapFatal(err, "Writer", "Process", "write line")
	}

	if w.seen != nil && rec.ID() != "" {
		w.seen.Add(rec.ID(), struct{}{})
	}
	w.written.Add(1)
	w.bytes.Add(int64(n + 1))
	return nil
}

func (w *Writer) format(rec tuple.Record) ([]byte, error) {
	if w.cfg.Format == FormatJSONL {
		fields := rec.Schema().Fields()
		values := make(map[string]any, len(fields))
		for i, name := range fields {
			v := rec.At(i)
			switch v.Kind() {
			case tuple.KindInt:
				values[name] = v.AsInt()
			case tuple.KindBytes:
				values[name] = v.AsBytes()
			default:
				values[name] = v.AsString()
			}
		}
		data, err := json.Marshal(map[string]any{"id": rec.ID(), "fields": values})
		if err != nil {
			return nil, errors.WrapInvalid(err, "Writer", "Process", "encode record")
		}
		return data, nil
	}

	if w.cfg.Field == "" {
		if rec.Len() == 0 {
			return nil, errors.WrapInvalid(errors.ErrInvalidData, "Writer", "Process", "record has no fields")
		}
		return []byte(rec.At(0).String()), nil
	}
	v, ok := rec.Get(w.cfg.Field)
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %q", errors.ErrUnknownField, w.cfg.Field),
			"Writer", "Process", "select field")
	}
	return []byte(v.String()), nil
}

// Teardown flushes and closes the file.
func (w *Writer) Teardown() error {
	if w.file == nil {
		return nil
	}
	flushErr := w.buf.Flush()
	closeErr := w.file.Close()
	w.file = nil
	if w.logger != nil {
		st := w.Stats()
		w.logger.Info("File sink closed", "path", w.path, "written", st.Written, "duplicates", st.Duplicates)
	}
	if flushErr != nil {
		return errors.WrapFatal(flushErr, "Writer", "Teardown", "flush")
	}
	if closeErr != nil {
		return errors.WrapFatal(closeErr, "Writer", "Teardown", "close file")
	}
	return nil
}

// OutputFields implements component.Transform. The writer is a sink.
func (w *Writer) OutputFields() []string { return nil }

// InputFields implements component.InputDeclarer. Only raw output with a
// selected field depends on the upstream schema.
func (w *Writer) InputFields() []string {
	if w.cfg.Field == "" || w.cfg.Format == FormatJSONL {
		return nil
	}
	return []string{w.cfg.Field}
}
