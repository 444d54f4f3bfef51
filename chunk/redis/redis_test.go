package redis

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/pithecene-io/joblog/chunk"
	"github.com/pithecene-io/joblog/chunk/chunktest"
	"github.com/pithecene-io/joblog/types"
)

func newTestBackend(t *testing.T) (*Backend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := New(Config{URL: "redis://" + mr.Addr(), TTL: time.Hour})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b, mr
}

func TestBackend_Conformance(t *testing.T) {
	chunktest.Run(t, func(t *testing.T) chunk.Backend {
		b, _ := newTestBackend(t)
		return b
	})
}

func TestNew_RequiresURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty URL")
	}
	if _, err := New(Config{URL: "://bad"}); err == nil {
		t.Fatal("expected error for invalid URL")
	}
}

func TestBackend_PutRefreshesTTL(t *testing.T) {
	b, mr := newTestBackend(t)
	if err := b.Put(t.Context(), 5, 0, []byte("abc")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if ttl := mr.TTL("joblog:trace:5:chunks"); ttl != time.Hour {
		t.Errorf("TTL = %v, want 1h", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if _, ok, err := b.LastIndex(t.Context(), 5); err != nil || ok {
		t.Errorf("chunks should have expired: ok=%v err=%v", ok, err)
	}
}

func TestPendingStore(t *testing.T) {
	b, _ := newTestBackend(t)
	ps := NewPendingStore(b)
	ctx := t.Context()

	if _, ok, err := ps.Get(ctx, 9); err != nil || ok {
		t.Fatalf("expected no pending state: ok=%v err=%v", ok, err)
	}

	want := types.PendingState{ExpectedCRC32: 0xdeadbeef, ExpectedBytesize: 1 << 40}
	if err := ps.Set(ctx, 9, want); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := ps.Get(ctx, 9)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if *got != want {
		t.Errorf("got %+v, want %+v", *got, want)
	}

	if err := ps.Delete(ctx, 9); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := ps.Get(ctx, 9); ok {
		t.Error("pending state should be gone")
	}
}
