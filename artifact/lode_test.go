package artifact

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/joblog/types"
)

var testJob = types.JobRef{ID: 42, ProjectID: 7}

func fixedIDs(s *LodeStore) *LodeStore {
	s.newID = func() string { return "0000-id" }
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestLodeStore_CreateOpen(t *testing.T) {
	stores := map[string]func(t *testing.T) *LodeStore{
		"memory": func(*testing.T) *LodeStore { return NewMemoryStore() },
		"fs": func(t *testing.T) *LodeStore {
			s, err := NewFSStore(t.TempDir())
			if err != nil {
				t.Fatalf("fs store: %v", err)
			}
			return s
		},
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			s := fixedIDs(newStore(t))
			content := "line 1\nline 2\n"

			a, err := s.Create(t.Context(), testJob, strings.NewReader(content), -1)
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if a.Key != "7/42/0000-id/job.log" {
				t.Errorf("key = %q", a.Key)
			}
			if a.Size != int64(len(content)) || a.Location != types.LocationLocal {
				t.Errorf("unexpected artifact %+v", a)
			}

			rc, err := s.Open(t.Context(), a)
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			defer func() { _ = rc.Close() }()

			if _, err := rc.Seek(7, io.SeekStart); err != nil {
				t.Fatalf("seek: %v", err)
			}
			rest, err := io.ReadAll(rc)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if string(rest) != "line 2\n" {
				t.Errorf("read after seek = %q", rest)
			}

			if err := s.Delete(t.Context(), a); err != nil {
				t.Fatalf("delete: %v", err)
			}
		})
	}
}

func TestLodeStore_Prefix(t *testing.T) {
	s := fixedIDs(NewLodeStore(lode.NewMemory(), types.LocationRemote, "traces"))
	a, err := s.Create(t.Context(), testJob, strings.NewReader("x"), 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.Key != "traces/7/42/0000-id/job.log" || !a.Remote() {
		t.Errorf("unexpected artifact %+v", a)
	}
}

// failingStore is a lode.Store that fails every call.
type failingStore struct {
	err error
}

func (s *failingStore) Put(context.Context, string, io.Reader) error { return s.err }

func (s *failingStore) Get(context.Context, string) (io.ReadCloser, error) { return nil, s.err }

func (s *failingStore) Exists(context.Context, string) (bool, error) { return false, s.err }

func (s *failingStore) List(context.Context, string) ([]string, error) { return nil, s.err }

func (s *failingStore) Delete(context.Context, string) error { return s.err }

func (s *failingStore) ReadRange(context.Context, string, int64, int64) ([]byte, error) {
	return nil, s.err
}

func (s *failingStore) ReaderAt(context.Context, string) (io.ReaderAt, error) { return nil, s.err }

var _ lode.Store = (*failingStore)(nil)

func TestLodeStore_ClassifiesFailures(t *testing.T) {
	s := NewLodeStore(&failingStore{err: errors.New("SlowDown: reduce request rate")}, types.LocationRemote, "")

	_, err := s.Create(t.Context(), testJob, strings.NewReader("x"), 1)
	if !errors.Is(err, ErrThrottled) {
		t.Errorf("create error = %v, want ErrThrottled", err)
	}

	_, err = s.Open(t.Context(), &types.Artifact{Key: "k", Size: 1})
	var se *StorageError
	if !errors.As(err, &se) || se.Op != "open" {
		t.Errorf("open error = %v, want StorageError(open)", err)
	}
}
