package observ

import (
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

// Init sets the process-wide log level. Unknown levels fall back to info.
func Init(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	mu.Lock()
	logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Level(lvl)
	mu.Unlock()
}

// Log emits a structured info event with arbitrary key/value context.
func Log(event string, kv map[string]any) {
	l := current()
	l.Info().Fields(kv).Msg(event)
}

// Warn emits a structured warning event.
func Warn(event string, kv map[string]any) {
	l := current()
	l.Warn().Fields(kv).Msg(event)
}

// Error emits a structured error event.
func Error(event string, kv map[string]any) {
	l := current()
	l.Error().Fields(kv).Msg(event)
}

// Debug emits a structured debug event.
func Debug(event string, kv map[string]any) {
	l := current()
	l.Debug().Fields(kv).Msg(event)
}

func current() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}
