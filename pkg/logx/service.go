package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Config mirrors the logging section of the daemon config.
type Config struct {
	Level   string
	Console bool
	File    FileConfig

	// RedactRecipients masks addresses logged through Recipients.
	RedactRecipients bool
}

type FileConfig struct {
	Enabled bool
	Path    string
}

const defaultLogPath = "./insightmeetd.log"

// Service owns the log outputs and swaps them on Apply. Loggers handed out
// by the service pick up the change without being rebuilt.
type Service struct {
	mu   sync.Mutex
	file *os.File

	cur atomic.Pointer[zerolog.Logger]
}

func (s *Service) zerolog() zerolog.Logger {
	if zl := s.cur.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// New builds the service from cfg and returns it with its root logger.
func New(cfg Config) (*Service, Logger) {
	s := &Service{}
	s.Apply(cfg)
	return s, s.Logger()
}

func (s *Service) Logger() Logger { return Logger{src: s} }

// Apply replaces the outputs and level. A log file that cannot be opened is
// reported on stderr and skipped; stdout is used when nothing else is left.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	redactRecipients.Store(cfg.RedactRecipients)

	var outs []io.Writer
	if cfg.Console {
		outs = append(outs, consoleWriter(Stdout()))
	}

	old := s.file
	s.file = nil
	if cfg.File.Enabled {
		f, err := openLogFile(cfg.File.Path)
		if err != nil {
			fmt.Fprintf(Stderr(), "logx: %v\n", err)
		} else {
			s.file = f
			outs = append(outs, zerolog.SyncWriter(f))
		}
	}
	if len(outs) == 0 {
		outs = append(outs, consoleWriter(Stdout()))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(outs...)).
		Level(ParseLevel(cfg.Level, LevelInfo)).
		With().Timestamp().Logger()
	s.cur.Store(&zl)

	// The previous file is closed only after the new logger is live.
	if old != nil {
		_ = old.Close()
	}
}

// Close releases the log file, if any. Later messages go to stdout.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	zl := s.zerolog().Output(consoleWriter(Stdout()))
	s.cur.Store(&zl)
	f := s.file
	s.file = nil
	return f.Close()
}

func openLogFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = defaultLogPath
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return f, nil
}

// ParseLevel accepts zerolog level names plus "warning". Anything else,
// including the empty string, yields def.
func ParseLevel(s string, def Level) Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		return LevelWarn
	}
	if s == "" {
		return def
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || lvl == zerolog.NoLevel {
		return def
	}
	return lvl
}

// Stdout returns the configured stdout sink.
func Stdout() io.Writer { return os.Stdout }

// Stderr returns the configured stderr sink.
func Stderr() io.Writer { return os.Stderr }
