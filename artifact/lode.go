package artifact

import (
	"context"
	"errors"
	"io"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/joblog/iox"
	"github.com/pithecene-io/joblog/types"
)

// LodeStore stores artifacts in a lode.Store: the local filesystem, memory
// or S3.
type LodeStore struct {
	store    lode.Store
	prefix   string
	location types.ArtifactLocation

	newID func() string
	now   func() time.Time
}

// NewLodeStore wraps store. Keys are placed under prefix.
func NewLodeStore(store lode.Store, location types.ArtifactLocation, prefix string) *LodeStore {
	return &LodeStore{
		store:    store,
		prefix:   prefix,
		location: location,
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// NewFSStore creates a local artifact store rooted at root.
func NewFSStore(root string) (*LodeStore, error) {
	s, err := lode.NewFSFactory(root)()
	if err != nil {
		return nil, wrapError("init", root, err)
	}
	return NewLodeStore(s, types.LocationLocal, ""), nil
}

// NewMemoryStore creates an in-memory artifact store.
func NewMemoryStore() *LodeStore {
	return NewLodeStore(lode.NewMemory(), types.LocationLocal, "")
}

// Location implements Store.
func (s *LodeStore) Location() types.ArtifactLocation { return s.location }

// Create implements Store.
func (s *LodeStore) Create(ctx context.Context, job types.JobRef, r io.Reader, _ int64) (*types.Artifact, error) {
	id := s.newID()
	key := Key(job, id)
	if s.prefix != "" {
		key = path.Join(s.prefix, key)
	}

	cr := iox.NewCountingReader(r)
	if err := s.store.Put(ctx, key, cr); err != nil {
		return nil, wrapError("create", key, err)
	}

	return &types.Artifact{
		ID:        id,
		Key:       key,
		Location:  s.location,
		Size:      cr.N(),
		CreatedAt: s.now().UTC(),
	}, nil
}

// Open implements Store.
func (s *LodeStore) Open(ctx context.Context, a *types.Artifact) (ReadSeekCloser, error) {
	if a == nil {
		return nil, wrapError("open", "", errors.New("no artifact"))
	}
	ra, err := s.store.ReaderAt(ctx, a.Key)
	if err != nil {
		return nil, wrapError("open", a.Key, err)
	}

	rc := sectionCloser{SectionReader: io.NewSectionReader(ra, 0, a.Size)}
	if c, ok := ra.(io.Closer); ok {
		rc.close = c.Close
	}
	return rc, nil
}

// Get streams an artifact without seeking.
func (s *LodeStore) Get(ctx context.Context, a *types.Artifact) (io.ReadCloser, error) {
	rc, err := s.store.Get(ctx, a.Key)
	if err != nil {
		return nil, wrapError("open", a.Key, err)
	}
	return rc, nil
}

// Delete implements Store.
func (s *LodeStore) Delete(ctx context.Context, a *types.Artifact) error {
	return wrapError("delete", a.Key, s.store.Delete(ctx, a.Key))
}

var _ Store = (*LodeStore)(nil)
