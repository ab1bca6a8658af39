// Package audit emits security-relevant events (logins, rotations, reuse
// detections, lockouts) without ever blocking the request path: events go
// through an asynchronous dispatcher and are dropped, counted, when the
// buffer is full.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Event names emitted by the engine. Reuse and lockout events are the ones
// security monitoring actually alerts on.
const (
	TypeRegister        = "register"
	TypeLogin           = "login"
	TypeLoginFailed     = "login_failed"
	TypeRefresh         = "refresh"
	TypeRefreshReuse    = "refresh_reuse"
	TypeLogout          = "logout"
	TypePasswordChanged = "password_changed"
	TypePasswordReset   = "password_reset"
	TypeOTPIssued       = "otp_issued"
	TypeOTPVerified     = "otp_verified"
	TypeOTPLockout      = "otp_lockout"
	TypeCleanup         = "cleanup"
)

// Event is one security-relevant occurrence.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      string            `json:"type"`
	SubjectID string            `json:"subject_id,omitempty"`
	TokenID   string            `json:"token_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink receives dispatched events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops everything.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink forwards events into a buffered channel, mainly for tests
// and in-process consumers.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line, suitable for piping into
// a log shipper.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
