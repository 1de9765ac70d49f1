package log

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

var (
	mu      sync.Mutex
	files   []*os.File
	writers []*bufio.Writer
)

// NewLogger builds a colored console logger plus, when debug logging is on,
// a buffered per-target log file under saveDirectory. Empty name means the
// main process log.
func NewLogger(debug bool, saveDirectory, name string) (*slog.Logger, error) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	out := []io.Writer{os.Stderr}

	if saveDirectory == "" {
		saveDirectory = "logs"
	}
	if err := os.MkdirAll(saveDirectory, 0755); err != nil {
		return nil, fmt.Errorf("error creating log directory %s: %w", saveDirectory, err)
	}

	fileName := fmt.Sprintf("warok-%s.log", time.Now().Format("2006-01-02-15-04-05"))
	if name != "" {
		fileName = fmt.Sprintf("warok-%s-%s.log", name, time.Now().Format("2006-01-02-15-04-05"))
	}

	f, err := os.Create(filepath.Join(saveDirectory, fileName))
	if err != nil {
		return nil, fmt.Errorf("error creating log file: %w", err)
	}
	w := bufio.NewWriter(f)

	mu.Lock()
	files = append(files, f)
	writers = append(writers, w)
	mu.Unlock()

	out = append(out, w)

	handler := tint.NewHandler(io.MultiWriter(out...), &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	})

	logger := slog.New(handler)
	if name != "" {
		logger = logger.With(slog.String("target", name))
	}
	return logger, nil
}

// FlushLog forces buffered log lines to disk, used on panic paths where the
// process may not reach a clean shutdown.
func FlushLog() {
	mu.Lock()
	defer mu.Unlock()
	for _, w := range writers {
		_ = w.Flush()
	}
}

// FlushAndClose flushes and closes every open log file.
func FlushAndClose() {
	mu.Lock()
	defer mu.Unlock()
	for _, w := range writers {
		_ = w.Flush()
	}
	for _, f := range files {
		_ = f.Close()
	}
	writers = nil
	files = nil
}
