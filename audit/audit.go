// Package audit records session and navigation events.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	iam "github.com/chimerakang/jobboard-iam"
)

// Actions.
const (
	ActionLogin    = "login"
	ActionRegister = "register"
	ActionVerify   = "verify"
	ActionSocial   = "social_login"
	ActionLogout   = "logout"
	ActionNavigate = "navigate"
)

// Results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Event is one audited occurrence.
type Event struct {
	Timestamp    time.Time `json:"timestamp"`
	NavigationID string    `json:"navigation_id,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	Action       string    `json:"action"`
	Path         string    `json:"path,omitempty"`
	Result       string    `json:"result"` // success, failure, or a guard state
	Details      string    `json:"details,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Handler processes audit events. Implementations should not block.
type Handler func(event Event)

// Logger emits audit events to configured handlers from a background goroutine.
type Logger struct {
	handlers []Handler
	queue    chan Event
	done     chan struct{}
	closed   sync.Once
	wg       sync.WaitGroup
}

// Option configures Logger behavior.
type Option func(*Logger)

// WithWriterHandler adds a handler that writes one JSON event per line to w.
func WithWriterHandler(w io.Writer) Option {
	return func(l *Logger) {
		var mu sync.Mutex
		l.AddHandler(func(e Event) {
			data, _ := json.Marshal(e)
			mu.Lock()
			_, _ = fmt.Fprintf(w, "%s\n", data)
			mu.Unlock()
		})
	}
}

// WithSlogHandler adds a handler that logs events at info level.
func WithSlogHandler(logger *slog.Logger) Option {
	return func(l *Logger) {
		l.AddHandler(func(e Event) {
			logger.Info("audit",
				"action", e.Action,
				"result", e.Result,
				"user_id", e.UserID,
				"path", e.Path,
				"navigation_id", e.NavigationID,
				"error", e.Error,
			)
		})
	}
}

// WithHandler adds a custom event handler.
func WithHandler(h Handler) Option {
	return func(l *Logger) {
		l.AddHandler(h)
	}
}

// New creates a new audit logger with buffered async emission.
// bufferSize: event queue buffer size (default: 1000).
func New(bufferSize int, opts ...Option) *Logger {
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	logger := &Logger{
		queue: make(chan Event, bufferSize),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(logger)
	}

	logger.wg.Add(1)
	go logger.process()

	return logger
}

// AddHandler adds a handler. Call before the first Log.
func (l *Logger) AddHandler(h Handler) {
	l.handlers = append(l.handlers, h)
}

// Log emits an event asynchronously. A nil Logger discards it.
func (l *Logger) Log(event Event) {
	if l == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case <-l.done:
		// shutting down, event is dropped
	case l.queue <- event:
	}
}

// LogContext is Log with the navigation ID taken from ctx when the event has none.
func (l *Logger) LogContext(ctx context.Context, event Event) {
	if event.NavigationID == "" {
		event.NavigationID = iam.NavigationIDFromContext(ctx)
	}
	l.Log(event)
}

func (l *Logger) process() {
	defer l.wg.Done()

	for {
		select {
		case event := <-l.queue:
			l.emit(event)
		case <-l.done:
			for {
				select {
				case event := <-l.queue:
					l.emit(event)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) emit(event Event) {
	for _, h := range l.handlers {
		h(event)
	}
}

// Close flushes pending events and stops the logger. Safe to call twice.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.closed.Do(func() { close(l.done) })
	l.wg.Wait()
	return nil
}
