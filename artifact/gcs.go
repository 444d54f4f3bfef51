package artifact

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/pithecene-io/joblog/iox"
	"github.com/pithecene-io/joblog/types"
)

// GCSConfig configures Google Cloud Storage artifacts.
type GCSConfig struct {
	Bucket string
	Prefix string
	// Project is used as the quota project (optional).
	Project string
	// CredentialsFile is a service account JSON key file (optional).
	CredentialsFile string
}

// gcsBucket abstracts a bucket handle for tests.
type gcsBucket interface {
	Object(name string) gcsObject
	SignedURL(object string, opts *storage.SignedURLOptions) (string, error)
}

// gcsObject abstracts an object handle for tests.
type gcsObject interface {
	NewWriter(ctx context.Context) io.WriteCloser
	NewRangeReader(ctx context.Context, offset, length int64) (io.ReadCloser, error)
	Delete(ctx context.Context) error
	Attrs(ctx context.Context) (*storage.ObjectAttrs, error)
}

type realBucket struct{ bh *storage.BucketHandle }

func (r realBucket) Object(name string) gcsObject { return realObject{r.bh.Object(name)} }

func (r realBucket) SignedURL(object string, opts *storage.SignedURLOptions) (string, error) {
	return r.bh.SignedURL(object, opts)
}

type realObject struct{ oh *storage.ObjectHandle }

func (r realObject) NewWriter(ctx context.Context) io.WriteCloser { return r.oh.NewWriter(ctx) }

func (r realObject) NewRangeReader(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
	return r.oh.NewRangeReader(ctx, offset, length)
}

func (r realObject) Delete(ctx context.Context) error { return r.oh.Delete(ctx) }

func (r realObject) Attrs(ctx context.Context) (*storage.ObjectAttrs, error) {
	return r.oh.Attrs(ctx)
}

// GCSStore is a remote artifact store on Google Cloud Storage. The remote
// checksum is the MD5 from object metadata.
type GCSStore struct {
	bucket gcsBucket
	prefix string
	client *storage.Client

	newID func() string
	now   func() time.Time
}

// NewGCSStore creates a GCS client and store.
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("GCS bucket is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, cfg.CredentialsFile))
	}
	if cfg.Project != "" {
		opts = append(opts, option.WithQuotaProject(cfg.Project))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, wrapError("init", cfg.Bucket, fmt.Errorf("failed to create GCS client: %w", err))
	}
	s := newGCSStore(realBucket{client.Bucket(cfg.Bucket)}, cfg.Prefix)
	s.client = client
	return s, nil
}

func newGCSStore(bucket gcsBucket, prefix string) *GCSStore {
	return &GCSStore{
		bucket: bucket,
		prefix: prefix,
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

// Location implements Store.
func (g *GCSStore) Location() types.ArtifactLocation { return types.LocationRemote }

// Create implements Store.
func (g *GCSStore) Create(ctx context.Context, job types.JobRef, r io.Reader, _ int64) (*types.Artifact, error) {
	id := g.newID()
	key := Key(job, id)
	if g.prefix != "" {
		key = path.Join(g.prefix, key)
	}

	w := g.bucket.Object(key).NewWriter(ctx)
	cr := iox.NewCountingReader(r)
	if _, err := io.Copy(w, cr); err != nil {
		iox.DiscardClose(w)
		return nil, wrapError("create", key, err)
	}
	if err := w.Close(); err != nil {
		return nil, wrapError("create", key, err)
	}

	return &types.Artifact{
		ID:        id,
		Key:       key,
		Location:  types.LocationRemote,
		Size:      cr.N(),
		CreatedAt: g.now().UTC(),
	}, nil
}

// Open implements Store with one ranged read per ReadAt.
func (g *GCSStore) Open(ctx context.Context, a *types.Artifact) (ReadSeekCloser, error) {
	ra := &gcsReaderAt{ctx: ctx, obj: g.bucket.Object(a.Key)}
	return sectionCloser{SectionReader: io.NewSectionReader(ra, 0, a.Size)}, nil
}

// Delete implements Store.
func (g *GCSStore) Delete(ctx context.Context, a *types.Artifact) error {
	return wrapError("delete", a.Key, g.bucket.Object(a.Key).Delete(ctx))
}

// RemoteChecksum implements RemoteChecksummer. Composite objects carry no
// MD5 and report ok=false.
func (g *GCSStore) RemoteChecksum(ctx context.Context, a *types.Artifact) (string, bool, error) {
	attrs, err := g.bucket.Object(a.Key).Attrs(ctx)
	if err != nil {
		return "", false, wrapError("stat", a.Key, err)
	}
	if len(attrs.MD5) == 0 {
		return "", false, nil
	}
	return hex.EncodeToString(attrs.MD5), true, nil
}

// SignedURL implements URLSigner.
func (g *GCSStore) SignedURL(_ context.Context, a *types.Artifact, ttl time.Duration) (string, error) {
	u, err := g.bucket.SignedURL(a.Key, &storage.SignedURLOptions{
		Method:  "GET",
		Expires: g.now().Add(ttl),
		Scheme:  storage.SigningSchemeV4,
	})
	if err != nil {
		return "", wrapError("sign", a.Key, err)
	}
	return u, nil
}

// Close releases the GCS client.
func (g *GCSStore) Close() error {
	if g.client == nil {
		return nil
	}
	if err := g.client.Close(); err != nil {
		return fmt.Errorf("failed to close GCS client: %w", err)
	}
	g.client = nil
	return nil
}

type gcsReaderAt struct {
	ctx context.Context
	obj gcsObject
}

func (r *gcsReaderAt) ReadAt(p []byte, off int64) (int, error) {
	rc, err := r.obj.NewRangeReader(r.ctx, off, int64(len(p)))
	if err != nil {
		return 0, wrapError("open", "", err)
	}
	defer iox.DiscardClose(rc)

	n, err := io.ReadFull(rc, p)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return n, err
}

var (
	_ Store             = (*GCSStore)(nil)
	_ RemoteChecksummer = (*GCSStore)(nil)
	_ URLSigner         = (*GCSStore)(nil)
)
