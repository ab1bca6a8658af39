package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestDispatcherDeliversToSink(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(8, sink)
	defer d.Close()

	d.Emit(Event{Type: TypeLogin, SubjectID: "user-1", Success: true})

	select {
	case event := <-sink.Events():
		if event.Type != TypeLogin || event.SubjectID != "user-1" {
			t.Fatalf("unexpected event: %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	// A sink that blocks until released keeps the buffer full.
	blocked := make(chan struct{})
	sink := sinkFunc(func(ctx context.Context, event Event) { <-blocked })

	d := NewDispatcher(1, sink)
	defer d.Close()
	defer close(blocked)

	for i := 0; i < 10; i++ {
		d.Emit(Event{Type: TypeRefresh})
	}

	if d.Dropped() == 0 {
		t.Fatal("expected drops with a blocked sink")
	}
}

func TestNilDispatcherIsSafe(t *testing.T) {
	var d *Dispatcher
	d.Emit(Event{Type: TypeLogout})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher must report zero drops")
	}
}

func TestCloseDrainsBuffer(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	d := NewDispatcher(16, sink)

	for i := 0; i < 5; i++ {
		d.Emit(Event{Type: TypeCleanup, Success: true})
	}
	d.Close()

	lines := bytes.Count(buf.Bytes(), []byte("\n"))
	if lines != 5 {
		t.Fatalf("expected 5 events flushed, got %d", lines)
	}

	var event Event
	if err := json.Unmarshal(bytes.Split(buf.Bytes(), []byte("\n"))[0], &event); err != nil {
		t.Fatalf("flushed line is not JSON: %v", err)
	}
	if event.Type != TypeCleanup {
		t.Fatalf("unexpected event type: %q", event.Type)
	}
}

type sinkFunc func(ctx context.Context, event Event)

func (f sinkFunc) Emit(ctx context.Context, event Event) { f(ctx, event) }
