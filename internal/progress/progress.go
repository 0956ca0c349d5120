// Package progress defines the events the core emits toward whatever shell
// is driving a run. The core never assumes a delivery mechanism; a sink may
// forward to a channel, a UI queue, or a logger.
package progress

import (
	"log/slog"
	"time"
)

// Event is one progress update during a pass.
type Event struct {
	Current int           `json:"current"`
	Total   int           `json:"total"`
	Elapsed time.Duration `json:"elapsed"`
	Message string        `json:"message"`
}

// Sink receives progress and terminal notifications.
type Sink interface {
	Progress(Event)
	Done(message string)
	Failed(message string)
}

// ChannelSink forwards events to channels, dropping progress updates when
// the receiver lags so a slow shell cannot stall the pass.
type ChannelSink struct {
	Events   chan Event
	Terminal chan string
}

// NewChannelSink creates a ChannelSink with the given progress buffer size.
func NewChannelSink(buf int) *ChannelSink {
	return &ChannelSink{
		Events:   make(chan Event, buf),
		Terminal: make(chan string, 2),
	}
}

func (s *ChannelSink) Progress(e Event) {
	select {
	case s.Events <- e:
	default:
	}
}

func (s *ChannelSink) Done(message string) {
	select {
	case s.Terminal <- message:
	default:
	}
}

func (s *ChannelSink) Failed(message string) {
	select {
	case s.Terminal <- message:
	default:
	}
}

// LogSink renders progress through a slog.Logger. Used by the CLI shell.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Progress(e Event) {
	s.Logger.Info("progress",
		"current", e.Current,
		"total", e.Total,
		"elapsed", e.Elapsed.Round(time.Second),
		"message", e.Message,
	)
}

func (s LogSink) Done(message string)   { s.Logger.Info("done", "message", message) }
func (s LogSink) Failed(message string) { s.Logger.Error("failed", "message", message) }

// Nop discards everything. Handy default for tests.
type Nop struct{}

func (Nop) Progress(Event) {}
func (Nop) Done(string)    {}
func (Nop) Failed(string)  {}
