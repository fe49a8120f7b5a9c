// Package notify holds the notification feed and the transient toast port
// views report action results through.
package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Level is the severity of a toast.
type Level int

const (
	Info Level = iota
	Success
	Error
)

func (l Level) String() string {
	switch l {
	case Success:
		return "success"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// Toast is a short-lived user-facing message.
type Toast struct {
	Level   Level
	Message string
	At      time.Time
}

// Toaster shows toasts. Implementations must be safe for concurrent use.
type Toaster interface {
	Toast(t Toast)
}

// ToasterFunc adapts a function to Toaster.
type ToasterFunc func(Toast)

func (f ToasterFunc) Toast(t Toast) { f(t) }

// ShowSuccess and ShowError are shorthands used at action boundaries.
func ShowSuccess(t Toaster, msg string) { show(t, Success, msg) }
func ShowError(t Toaster, msg string)   { show(t, Error, msg) }

func show(t Toaster, l Level, msg string) {
	if t == nil {
		return
	}
	t.Toast(Toast{Level: l, Message: msg, At: time.Now()})
}

// Feed keeps the most recent toasts in memory.
type Feed struct {
	mu    sync.Mutex
	items []Toast
	max   int
}

// NewFeed creates a Feed holding at most max toasts.
func NewFeed(max int) *Feed {
	if max <= 0 {
		max = 32
	}
	return &Feed{max: max}
}

func (f *Feed) Toast(t Toast) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, t)
	if len(f.items) > f.max {
		f.items = f.items[len(f.items)-f.max:]
	}
}

// Drain returns and removes all queued toasts, oldest first.
func (f *Feed) Drain() []Toast {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.items
	f.items = nil
	return out
}

// LogToaster writes toasts to a zap logger.
type LogToaster struct {
	Logger *zap.Logger
}

func (l LogToaster) Toast(t Toast) {
	switch t.Level {
	case Error:
		l.Logger.Warn(t.Message, zap.String("toast", t.Level.String()))
	default:
		l.Logger.Info(t.Message, zap.String("toast", t.Level.String()))
	}
}
