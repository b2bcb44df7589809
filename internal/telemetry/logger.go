package telemetry

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls the logrus backend. Zero value logs INFO to stdout.
type Config struct {
	Level      string // debug, info, warn, error
	OutputFile string // optional; rotated by lumberjack
	MaxSize    int    // MB
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

var (
	enableDebug atomic.Bool
	enableTrace atomic.Bool

	logger = newLogger(os.Stdout)
	ring   = newRingHook(2000) // keep last 2k lines for Tail

	// async queue; nil when stopped and lines are written inline
	qMu   sync.RWMutex
	logCh chan logEntry
	done  chan struct{}
)

type logEntry struct {
	level   logrus.Level
	message string
}

func newLogger(out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(logrus.TraceLevel) // gating happens in Debugf/Tracef
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006/01/02 15:04:05.000",
	})
	return l
}

// Configure replaces the backend. It may be called while the async queue is
// running; queued lines are written by whichever backend is current.
func Configure(cfg Config) error {
	level := logrus.InfoLevel
	if cfg.Level != "" {
		lvl, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return errors.Wrapf(err, "LOG_LEVEL %q", cfg.Level)
		}
		level = lvl
	}

	writers := []io.Writer{os.Stdout}
	if cfg.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputFile), 0o755); err != nil {
			return err
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.OutputFile,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		})
	}
	l := newLogger(io.MultiWriter(writers...))
	l.AddHook(ring)

	EnableDebug(level >= logrus.DebugLevel)
	EnableTrace(level >= logrus.TraceLevel)
	if level < logrus.InfoLevel {
		l.SetLevel(level)
	}

	qMu.Lock()
	logger = l
	qMu.Unlock()
	return nil
}

func init() {
	logger.AddHook(ring)
}

func Start() {
	qMu.Lock()
	defer qMu.Unlock()
	if logCh != nil {
		return
	}
	logCh = make(chan logEntry, 8192)
	done = make(chan struct{})

	go func(ch <-chan logEntry, done chan<- struct{}) {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				fmt.Fprintf(os.Stderr, "telemetry panic: %v\n", r)
			}
		}()
		for entry := range ch {
			current().Log(entry.level, entry.message)
		}
	}(logCh, done)
}

// current returns the backend installed by the latest Configure.
func current() *logrus.Logger {
	qMu.RLock()
	defer qMu.RUnlock()
	return logger
}

// Stop drains queued lines and returns to inline logging.
func Stop() {
	qMu.Lock()
	ch, d := logCh, done
	logCh, done = nil, nil
	qMu.Unlock()

	if ch != nil {
		close(ch)
		<-d
	}
}

func EnableDebug(on bool) { enableDebug.Store(on) }
func DebugOn() bool       { return enableDebug.Load() }

func EnableTrace(on bool) { enableTrace.Store(on) }
func TraceOn() bool       { return enableTrace.Load() }

// Non-blocking enqueue; drop if saturated.
func enqueue(level logrus.Level, message string) {
	qMu.RLock()
	defer qMu.RUnlock()
	if logCh == nil {
		logger.Log(level, message)
		return
	}
	select {
	case logCh <- logEntry{level: level, message: message}:
	default:
		fmt.Fprintf(os.Stderr, "telemetry: buffer full, dropping log: %s\n", message)
	}
}

// INFO is always on (use sparingly on hot path).
func Infof(format string, args ...any) {
	enqueue(logrus.InfoLevel, fmt.Sprintf(format, args...))
}

func Warnf(format string, args ...any) {
	enqueue(logrus.WarnLevel, fmt.Sprintf(format, args...))
}

func Errorf(format string, args ...any) {
	enqueue(logrus.ErrorLevel, fmt.Sprintf(format, args...))
}

// DEBUG only formats if enabled (zero cost when off).
func Debugf(format string, args ...any) {
	if !enableDebug.Load() {
		return
	}
	enqueue(logrus.DebugLevel, fmt.Sprintf(format, args...))
}

// TRACE is for very noisy spots; off by default.
func Tracef(format string, args ...any) {
	if !enableTrace.Load() {
		return
	}
	enqueue(logrus.TraceLevel, fmt.Sprintf(format, args...))
}

// Tail returns up to n of the most recent lines, oldest first.
func Tail(n int) []string {
	return ring.tail(n)
}

// -----------------------------------------------------------------------------
// ring buffer hook
// -----------------------------------------------------------------------------

type ringHook struct {
	mu      sync.Mutex
	data    []ringLine
	next    int
	wrapped bool
}

type ringLine struct {
	at    time.Time
	level logrus.Level
	msg   string
}

func newRingHook(size int) *ringHook {
	return &ringHook{data: make([]ringLine, size)}
}

func (h *ringHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *ringHook) Fire(e *logrus.Entry) error {
	h.mu.Lock()
	h.data[h.next] = ringLine{at: e.Time, level: e.Level, msg: e.Message}
	h.next = (h.next + 1) % len(h.data)
	if h.next == 0 {
		h.wrapped = true
	}
	h.mu.Unlock()
	return nil
}

func (h *ringHook) tail(n int) []string {
	if n <= 0 {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	size := len(h.data)
	available := size
	if !h.wrapped {
		available = h.next
	}
	if n > available {
		n = available
	}
	if n == 0 {
		return nil
	}

	out := make([]string, 0, n)
	start := h.next - n
	for i := 0; i < n; i++ {
		line := h.data[(start+i+size)%size]
		out = append(out, fmt.Sprintf("%s [%s] %s",
			line.at.Format("15:04:05.000"), levelTag(line.level), line.msg))
	}
	return out
}

func levelTag(l logrus.Level) string {
	switch l {
	case logrus.WarnLevel:
		return "WARN"
	case logrus.ErrorLevel:
		return "ERROR"
	case logrus.DebugLevel:
		return "DEBUG"
	case logrus.TraceLevel:
		return "TRACE"
	}
	return "INFO"
}
