// Package util holds the logging setup and host probes shared by the lockstep
// daemon and its tools.
package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// AppName is stamped on every log line.
const AppName = "lockstep"

// LogConfig holds configuration for the logging system.
type LogConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Directory:  "logs",
		MaxSizeMB:  10,
		MaxBackups: 5,
		Console:    true,
	}
}

// InitLogger points the global zerolog logger at a dated JSON file in
// cfg.Directory and, if asked, a console writer. The returned closer
// releases the log file.
func InitLogger(cfg LogConfig) (io.Closer, error) {
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", cfg.Directory, err)
	}

	logFilePath := filepath.Join(cfg.Directory, logFileName(time.Now()))
	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", logFilePath, err)
	}

	writers := []io.Writer{&sizeCapped{f: logFile, limit: int64(cfg.MaxSizeMB) << 20}}
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"})
	}
	SetOutput(zerolog.MultiLevelWriter(writers...))

	log.Info().
		Str("level", level.String()).
		Str("log_file", logFilePath).
		Msg("logger initialized")

	go cleanOldLogs(cfg.Directory, cfg.MaxBackups)
	return logFile, nil
}

// switchWriter forwards to a replaceable sink, so component loggers built
// at package init follow later calls to SetOutput.
type switchWriter struct {
	mu sync.RWMutex
	w  io.Writer
}

func (s *switchWriter) Write(p []byte) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.w.Write(p)
}

func (s *switchWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if lw, ok := s.w.(zerolog.LevelWriter); ok {
		return lw.WriteLevel(level, p)
	}
	return s.w.Write(p)
}

func (s *switchWriter) swap(w io.Writer) io.Writer {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.w
	s.w = w
	return prev
}

var output = &switchWriter{w: os.Stderr}

func init() {
	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Str("app", AppName).
		Caller().
		Logger()
}

// SetOutput sends every logger derived from the global one to w and
// returns the previous destination.
func SetOutput(w io.Writer) io.Writer {
	return output.swap(w)
}

func parseLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return level
}

func logFileName(t time.Time) string {
	return fmt.Sprintf("%s_%s.log", AppName, t.Format("2006-01-02"))
}

// sizeCapped stops writing to the file once it reaches limit bytes. The
// next day's file starts fresh; console output is unaffected.
type sizeCapped struct {
	f       *os.File
	limit   int64
	written int64
	full    bool
}

func (w *sizeCapped) Write(p []byte) (int, error) {
	if w.limit <= 0 {
		return w.f.Write(p)
	}
	if w.full {
		return len(p), nil
	}
	if w.written == 0 {
		if st, err := w.f.Stat(); err == nil {
			w.written = st.Size()
		}
	}
	if w.written+int64(len(p)) > w.limit {
		w.full = true
		return len(p), nil
	}
	n, err := w.f.Write(p)
	w.written += int64(n)
	return n, err
}

// cleanOldLogs keeps the newest maxBackups log files in directory.
func cleanOldLogs(directory string, maxBackups int) {
	if maxBackups <= 0 {
		return
	}
	entries, err := os.ReadDir(directory)
	if err != nil {
		return
	}

	type logFile struct {
		name string
		mod  time.Time
	}
	var files []logFile
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" || !strings.HasPrefix(entry.Name(), AppName+"_") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, logFile{name: entry.Name(), mod: info.ModTime()})
	}
	if len(files) <= maxBackups {
		return
	}

	sort.Slice(files, func(i, j int) bool { return files[i].mod.Before(files[j].mod) })
	for _, f := range files[:len(files)-maxBackups] {
		path := filepath.Join(directory, f.name)
		if err := os.Remove(path); err == nil {
			log.Debug().Str("file", path).Msg("removed old log file")
		}
	}
}

// ComponentLogger creates a logger with a component name field.
func ComponentLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
