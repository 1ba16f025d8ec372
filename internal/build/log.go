package build

import (
	"fmt"
	"io"
	"os"

	"github.com/btcsuite/btclog"
	btclogv2 "github.com/btcsuite/btclog/v2"
)

// LogConfig configures the root logger of a process.
type LogConfig struct {
	// Level is a btclog level name such as "info" or "debug".
	Level string

	// Console receives human readable output. Nil disables console
	// output.
	Console io.Writer

	// File enables the rotating file sink when its Dir is set.
	File FileLogConfig
}

// Logging bundles the handler set driving every subsystem logger with the
// file sink that must be closed on shutdown.
type Logging struct {
	Handlers *HandlerSet
	file     *RotatingLogWriter
}

// NewLogging builds the handler set described by cfg.
func NewLogging(cfg LogConfig) (*Logging, error) {
	level, ok := btclog.LevelFromString(cfg.Level)
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", cfg.Level)
	}

	var (
		handlers []btclogv2.Handler
		file     *RotatingLogWriter
	)
	if cfg.Console != nil {
		handlers = append(
			handlers, btclogv2.NewDefaultHandler(cfg.Console),
		)
	}

	if cfg.File.Dir != "" {
		var err error
		file, err = OpenRotatingLogWriter(cfg.File)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, btclogv2.NewDefaultHandler(file))
	}

	set := NewHandlerSet(handlers...)
	set.SetLevel(level)

	return &Logging{Handlers: set, file: file}, nil
}

// Logger returns a subsystem logger tagged with tag.
func (l *Logging) Logger(tag string) btclogv2.Logger {
	return btclogv2.NewSLogger(l.Handlers.SubSystem(tag))
}

// Close flushes the file sink if one was opened.
func (l *Logging) Close() error {
	if l.file == nil {
		return nil
	}

	if err := l.file.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "unable to close log file: %v\n", err)
		return err
	}

	return nil
}
