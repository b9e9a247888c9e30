package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	iam "github.com/chimerakang/jobboard-iam"
)

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) handle(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) all() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func TestEventEmission(t *testing.T) {
	var c collector
	logger := New(10, WithHandler(c.handle))

	logger.Log(Event{Action: ActionLogin, Result: ResultSuccess, UserID: "user123"})

	// Close drains the queue before returning.
	_ = logger.Close()

	events := c.all()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].UserID != "user123" {
		t.Errorf("expected user123, got %s", events[0].UserID)
	}
	if events[0].Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
}

func TestMultipleHandlers(t *testing.T) {
	var c1, c2 collector
	logger := New(10, WithHandler(c1.handle), WithHandler(c2.handle))

	logger.Log(Event{Action: ActionLogout, Result: ResultSuccess})
	_ = logger.Close()

	if len(c1.all()) != 1 || len(c2.all()) != 1 {
		t.Errorf("each handler should see the event: %d, %d", len(c1.all()), len(c2.all()))
	}
}

func TestLogContext_TakesNavigationID(t *testing.T) {
	var c collector
	logger := New(10, WithHandler(c.handle))

	ctx := iam.WithNavigationID(context.Background(), "nav-7")
	logger.LogContext(ctx, Event{Action: ActionNavigate, Path: "/admin/users", Result: "forbidden"})
	_ = logger.Close()

	events := c.all()
	if len(events) != 1 || events[0].NavigationID != "nav-7" {
		t.Errorf("events = %+v, want navigation nav-7", events)
	}
}

func TestWriterHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := New(10, WithWriterHandler(&buf))

	logger.Log(Event{Action: ActionNavigate, Path: "/admin", Result: "authenticated"})
	_ = logger.Close()

	line := strings.TrimSpace(buf.String())
	var got Event
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("output is not JSON: %q: %v", line, err)
	}
	if got.Path != "/admin" || got.Result != "authenticated" {
		t.Errorf("decoded event = %+v", got)
	}
}

func TestNilLogger(t *testing.T) {
	var logger *Logger
	logger.Log(Event{Action: ActionLogin})
	logger.LogContext(context.Background(), Event{Action: ActionLogin})
	if err := logger.Close(); err != nil {
		t.Errorf("Close() on nil logger error: %v", err)
	}
}

func TestLogAfterCloseDoesNotBlock(t *testing.T) {
	logger := New(1)
	_ = logger.Close()
	_ = logger.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			logger.Log(Event{Action: ActionLogin})
		}
		close(done)
	}()
	<-done
}
