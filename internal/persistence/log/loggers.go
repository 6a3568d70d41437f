package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"voxelnoise.ai/internal/sampler"
)

// JSONLZstdWriter appends JSON lines to hour-rotated zstd files named
// <prefix>-YYYY-MM-DD-HH.jsonl.zst under baseDir.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time
	onClose func(path string)

	mu      sync.Mutex
	curHour string
	curPath string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

// OnSegmentClosed registers fn to run after each finished file is flushed
// and closed, on rotation and on Close. fn runs with the writer locked.
func (w *JSONLZstdWriter) OnSegmentClosed(fn func(path string)) {
	w.mu.Lock()
	w.onClose = fn
	w.mu.Unlock()
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	w.curPath = path
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var errs []error
	if w.w != nil {
		errs = append(errs, w.w.Flush())
	}
	if w.enc != nil {
		errs = append(errs, w.enc.Close())
		w.enc = nil
	}
	if w.f != nil {
		errs = append(errs, w.f.Close())
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	closed := w.curPath
	w.curPath = ""
	err := errors.Join(errs...)
	if err == nil && closed != "" && w.onClose != nil {
		w.onClose(closed)
	}
	return err
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// ReadJSONL decodes every line of a JSONL zstd file into fn.
func ReadJSONL(path string, fn func(json.RawMessage) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 128*1024)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 1 {
			if ferr := fn(json.RawMessage(line[:len(line)-1])); ferr != nil {
				return ferr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// RequestEntry records one served preview request.
type RequestEntry struct {
	Time       time.Time      `json:"time"`
	Session    string         `json:"session"`
	RequestID  string         `json:"request_id,omitempty"`
	Kind       string         `json:"kind"`
	Region     sampler.Region `json:"region"`
	Cells      int            `json:"cells"`
	DurationMs int64          `json:"duration_ms"`
	Code       string         `json:"code,omitempty"`
}

// RequestLogger writes one JSONL entry per preview request (compressed).
type RequestLogger struct{ w *JSONLZstdWriter }

func NewRequestLogger(dataDir string) *RequestLogger {
	return &RequestLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "requests"), "requests")}
}

func (l *RequestLogger) WriteRequest(e RequestEntry) error    { return l.w.Write(e) }
func (l *RequestLogger) OnSegmentClosed(fn func(path string)) { l.w.OnSegmentClosed(fn) }
func (l *RequestLogger) Close() error                         { return l.w.Close() }
