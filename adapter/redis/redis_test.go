package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/joblog/adapter"
	"github.com/pithecene-io/joblog/types"
)

func testEvent() *adapter.TraceEvent {
	return &adapter.TraceEvent{
		EventType:   adapter.EventTraceArchived,
		JobID:       42,
		ProjectID:   7,
		ArtifactID:  "0b7c3c1e-5d1f-4a43-9f4e-2d7a3c0e9b11",
		ArtifactKey: "7/42/0b7c3c1e-5d1f-4a43-9f4e-2d7a3c0e9b11/job.log",
		Location:    "remote",
		Size:        1500,
		Checksum:    "5d41402abc4b2a76b9719d911017c592",
		Attempts:    1,
		Timestamp:   "2026-10-01T12:00:00Z",
	}
}

// subscribe starts reading one message of channel. It must run before
// Publish: miniredis delivers pub/sub synchronously.
func subscribe(mr *miniredis.Miniredis, channel string) <-chan miniredis.PubsubMessage {
	sub := mr.NewSubscriber()
	sub.Subscribe(channel)
	ch := make(chan miniredis.PubsubMessage, 1)
	go func() {
		ch <- <-sub.Messages()
	}()
	return ch
}

func receive(t *testing.T, ch <-chan miniredis.PubsubMessage) (string, adapter.TraceEvent) {
	t.Helper()
	select {
	case msg := <-ch:
		var ev adapter.TraceEvent
		if err := json.Unmarshal([]byte(msg.Message), &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return msg.Channel, ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pub/sub message")
		return "", adapter.TraceEvent{}
	}
}

func TestPublish_Channels(t *testing.T) {
	tests := []struct {
		name    string
		channel string
		want    string
	}{
		{"default", "", DefaultChannel},
		{"custom", "ci:traces", "ci:traces"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mr := miniredis.RunT(t)
			a, err := New(Config{URL: "redis://" + mr.Addr(), Channel: tt.channel})
			if err != nil {
				t.Fatalf("new: %v", err)
			}
			defer func() { _ = a.Close() }()

			ch := subscribe(mr, tt.want)
			if err := a.Publish(t.Context(), testEvent()); err != nil {
				t.Fatalf("publish: %v", err)
			}

			channel, ev := receive(t, ch)
			if channel != tt.want {
				t.Errorf("channel = %q, want %q", channel, tt.want)
			}
			if ev.JobID != 42 || ev.EventType != adapter.EventTraceArchived || ev.Checksum != "5d41402abc4b2a76b9719d911017c592" {
				t.Errorf("event = %+v", ev)
			}
			if mr.Exists(DefaultChannel + ":replay") {
				t.Error("no stream expected without Config.Stream")
			}
		})
	}
}

func TestPublish_ReplayStream(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	a := NewWithClient(client, Config{Stream: "joblog:trace_events:replay", StreamMaxLen: 2})
	defer func() { _ = a.Close() }()

	lost := adapter.NewLostEvent(types.JobRef{ID: 9, ProjectID: 1}, 5, errors.New("rate limited"), time.Now())
	if err := a.Publish(t.Context(), lost); err != nil {
		t.Fatalf("publish: %v", err)
	}
	entries, err := client.XRange(t.Context(), "joblog:trace_events:replay", "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(entries) != 1 || entries[0].Values["event_type"] != adapter.EventTraceLost {
		t.Fatalf("stream = %+v, want the lost event", entries)
	}

	for range 3 {
		if err := a.Publish(t.Context(), testEvent()); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	entries, err = client.XRange(t.Context(), "joblog:trace_events:replay", "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("stream length = %d, want capped at 2", len(entries))
	}
	last := entries[1].Values
	if last["event_type"] != adapter.EventTraceArchived || last["job_id"] != "42" {
		t.Errorf("stream entry = %v", last)
	}
	var ev adapter.TraceEvent
	if err := json.Unmarshal([]byte(last["event"].(string)), &ev); err != nil {
		t.Fatalf("unmarshal stream event: %v", err)
	}
	if ev.ArtifactID != "0b7c3c1e-5d1f-4a43-9f4e-2d7a3c0e9b11" {
		t.Errorf("stream event = %+v", ev)
	}
}

func TestPublish_Unreachable(t *testing.T) {
	tests := []struct {
		name    string
		retries int
		timeout time.Duration
		ctxWait time.Duration
	}{
		{"retries exhausted", 1, 100 * time.Millisecond, 0},
		{"context canceled", 5, 10 * time.Second, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(Config{URL: "redis://127.0.0.1:1", Retries: tt.retries, Timeout: tt.timeout})
			if err != nil {
				t.Fatalf("new: %v", err)
			}
			defer func() { _ = a.Close() }()

			ctx := t.Context()
			if tt.ctxWait > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, tt.ctxWait)
				defer cancel()
			}
			if err := a.Publish(ctx, testEvent()); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestPublish_AfterCloseIsPermanent(t *testing.T) {
	mr := miniredis.RunT(t)
	a, err := New(Config{URL: "redis://" + mr.Addr(), Retries: 3})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	start := time.Now()
	err = a.Publish(t.Context(), testEvent())
	if !errors.Is(err, goredis.ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
	if elapsed := time.Since(start); elapsed >= adapter.RetryBase {
		t.Errorf("closed client was retried (%v)", elapsed)
	}
}

func TestNew(t *testing.T) {
	for name, cfg := range map[string]Config{
		"missing url":      {},
		"invalid url":      {URL: "not-a-redis-url"},
		"negative retries": {URL: "redis://localhost:6379", Retries: -1},
	} {
		if _, err := New(cfg); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	mr := miniredis.RunT(t)
	a, err := New(Config{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = a.Close() }()

	if a.config.Channel != DefaultChannel {
		t.Errorf("channel = %q, want %q", a.config.Channel, DefaultChannel)
	}
	if a.config.Timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", a.config.Timeout, DefaultTimeout)
	}
	if a.config.StreamMaxLen != DefaultStreamMaxLen {
		t.Errorf("stream max len = %d, want %d", a.config.StreamMaxLen, DefaultStreamMaxLen)
	}
}
