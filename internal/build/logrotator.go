package build

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/jrick/logrotate/rotator"
)

const (
	// DefaultMaxLogFiles is the number of rotated files kept on disk.
	DefaultMaxLogFiles = 5

	// DefaultMaxLogFileSize is the rotation threshold in megabytes.
	DefaultMaxLogFileSize = 10

	// DefaultLogFilename is the name of the active log file.
	DefaultLogFilename = "zamail.log"
)

// FileLogConfig describes where and how the CLI persists its log output.
type FileLogConfig struct {
	// Dir is the directory holding the active and rotated log files.
	Dir string

	// MaxFiles bounds the rotated files kept. Zero keeps a single file.
	MaxFiles int

	// MaxFileSizeMB is the size at which the active file is rotated.
	MaxFileSizeMB int

	// Filename overrides DefaultLogFilename when set.
	Filename string
}

// RotatingLogWriter is an io.Writer feeding a jrick/logrotate rotator through
// a pipe. Rotated files are gzip compressed.
type RotatingLogWriter struct {
	mu      sync.Mutex
	pipe    *io.PipeWriter
	rotator *rotator.Rotator
	done    chan struct{}
}

// OpenRotatingLogWriter creates the log directory and starts the rotator.
func OpenRotatingLogWriter(cfg FileLogConfig) (*RotatingLogWriter, error) {
	filename := cfg.Filename
	if filename == "" {
		filename = DefaultLogFilename
	}

	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("unable to create log dir %s: %w",
			cfg.Dir, err)
	}

	maxSize := cfg.MaxFileSizeMB
	if maxSize <= 0 {
		maxSize = DefaultMaxLogFileSize
	}

	// The rotator threshold is expressed in kilobytes.
	r, err := rotator.New(
		filepath.Join(cfg.Dir, filename), int64(maxSize*1024), false,
		cfg.MaxFiles,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create rotator: %w", err)
	}
	r.SetCompressor(gzip.NewWriter(nil), ".gz")

	pr, pw := io.Pipe()
	w := &RotatingLogWriter{
		pipe:    pw,
		rotator: r,
		done:    make(chan struct{}),
	}

	go func() {
		defer close(w.done)

		if err := r.Run(pr); err != nil {
			fmt.Fprintf(os.Stderr, "log rotator exited: %v\n", err)
		}
	}()

	return w, nil
}

// Write forwards b to the rotator. Writes after Close are dropped.
func (w *RotatingLogWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pipe == nil {
		return len(b), nil
	}

	return w.pipe.Write(b)
}

// Close flushes pending output and waits for the rotator to exit.
func (w *RotatingLogWriter) Close() error {
	w.mu.Lock()
	pipe := w.pipe
	w.pipe = nil
	w.mu.Unlock()

	if pipe == nil {
		return nil
	}

	err := pipe.Close()
	<-w.done

	return errors.Join(err, w.rotator.Close())
}
