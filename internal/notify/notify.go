// internal/notify/notify.go
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Level grades a notice.
type Level string

const (
	Info    Level = "info"
	Warning Level = "warning"
	Error   Level = "error"
)

// Notice is a user-visible event: device faults, dropped frames,
// session changes. Notices are stored or displayed by whoever consumes them.
type Notice struct {
	At      time.Time `cbor:"at"`
	Level   Level     `cbor:"level"`
	Source  string    `cbor:"source"`
	Message string    `cbor:"message"`
}

// Notifier accepts notices. Implementations must not block for long.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// New stamps a notice with the current time.
func New(level Level, source, msg string) Notice {
	return Notice{At: time.Now(), Level: level, Source: source, Message: msg}
}

// ---- log ----

// Log writes notices to a zap logger.
type Log struct {
	log *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	return &Log{log: logger}
}

func (l *Log) Notify(_ context.Context, n Notice) {
	fields := []zap.Field{zap.String("source", n.Source), zap.Time("at", n.At)}
	switch n.Level {
	case Error:
		l.log.Error(n.Message, fields...)
	case Warning:
		l.log.Warn(n.Message, fields...)
	default:
		l.log.Info(n.Message, fields...)
	}
}

// ---- fan-out ----

// Multi delivers each notice to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notice) {
	for _, x := range m {
		x.Notify(ctx, n)
	}
}

// Nop discards notices.
type Nop struct{}

func (Nop) Notify(context.Context, Notice) {}
