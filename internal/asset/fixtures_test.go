package asset

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"github.com/icf-orlp-cals-open/adapt-authoring/internal/archive"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/identity"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/logger"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/policy"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/records"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/storage"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/storage/localfs"
)

var testUser = identity.User{ID: "u1", TenantID: "t1", Roles: []string{identity.RoleUser}}

// fakeGate allows everything except the action/resource pairs in deny.
type fakeGate struct {
	mu        sync.Mutex
	deny      map[string]bool
	checkErr  map[string]error
	createErr error
	grants    []string
}

func newFakeGate() *fakeGate {
	return &fakeGate{deny: map[string]bool{}, checkErr: map[string]error{}}
}

func gateKey(action policy.Action, resource string) string {
	return string(action) + " " + resource
}

func (g *fakeGate) denyAction(action policy.Action, id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deny[gateKey(action, Resource(testUser, id))] = true
}

func (g *fakeGate) Check(_ context.Context, _ string, action policy.Action, resource string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkErr[resource]; err != nil {
		return false, err
	}
	return !g.deny[gateKey(action, resource)], nil
}

func (g *fakeGate) CreatePolicy(_ context.Context, userID string) (policy.Policy, error) {
	if g.createErr != nil {
		return policy.Policy{}, g.createErr
	}
	return policy.Policy{ID: "p-" + userID, UserID: userID}, nil
}

func (g *fakeGate) Grant(_ context.Context, _ policy.Policy, _ []policy.Action, resource string, _ policy.Effect) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.grants = append(g.grants, resource)
	return nil
}

// spyStore wraps a MemoryStore with injectable failures and call counters.
type spyStore struct {
	*records.MemoryStore
	mu          sync.Mutex
	createErr   error
	retrieveErr error
	onRetrieve  func(records.Query) error
	duplicate   bool
	block       bool
	creates     int
	updates     int
	destroys    int
}

func newSpyStore() *spyStore {
	return &spyStore{MemoryStore: records.NewMemoryStore(Relations())}
}

func (s *spyStore) failCreate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createErr = err
}

func (s *spyStore) failRetrieve(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retrieveErr = err
}

func (s *spyStore) Create(ctx context.Context, collection string, doc records.Document) (records.Document, error) {
	s.mu.Lock()
	s.creates++
	err := s.createErr
	s.mu.Unlock()
	if err != nil && collection == Collection {
		return nil, err
	}
	return s.MemoryStore.Create(ctx, collection, doc)
}

func (s *spyStore) Retrieve(ctx context.Context, collection string, q records.Query, opts records.Options) ([]records.Document, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s.mu.Lock()
	retrieveErr := s.retrieveErr
	if retrieveErr == nil && s.onRetrieve != nil && collection == Collection {
		retrieveErr = s.onRetrieve(q)
	}
	s.mu.Unlock()
	if retrieveErr != nil && collection == Collection {
		return nil, retrieveErr
	}
	docs, err := s.MemoryStore.Retrieve(ctx, collection, q, opts)
	if err != nil || !s.duplicate {
		return docs, err
	}
	return append(docs, docs...), nil
}

func (s *spyStore) Update(ctx context.Context, collection string, q records.Query, delta records.Document) error {
	s.mu.Lock()
	s.updates++
	s.mu.Unlock()
	return s.MemoryStore.Update(ctx, collection, q, delta)
}

func (s *spyStore) Destroy(ctx context.Context, collection string, q records.Query) error {
	s.mu.Lock()
	s.destroys++
	s.mu.Unlock()
	return s.MemoryStore.Destroy(ctx, collection, q)
}

// recordingProvider keeps stored bytes in memory and records every delete.
type recordingProvider struct {
	mu      sync.Mutex
	files   map[string][]byte
	dirs    map[string][]string
	deleted []string
	removed []string
}

func newRecordingProvider() *recordingProvider {
	return &recordingProvider{files: map[string][]byte{}, dirs: map[string][]string{}}
}

func (p *recordingProvider) StoreFile(_ context.Context, src io.Reader, dest string, opts storage.StoreOptions) (storage.StoredFile, error) {
	body, err := io.ReadAll(src)
	if err != nil {
		return storage.StoredFile{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files[dest] = body
	out := storage.StoredFile{Path: dest}
	if opts.CreateMetadata {
		out.Size = int64(len(body))
		out.MimeType = "application/octet-stream"
	}
	return out, nil
}

func (p *recordingProvider) StoreDirectory(_ context.Context, srcDir, dest string) error {
	var names []string
	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			rel, _ := filepath.Rel(srcDir, path)
			names = append(names, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dirs[dest] = names
	return nil
}

func (p *recordingProvider) Open(_ context.Context, name string, _ storage.OpenOptions) (io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	body, ok := p.files[name]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (p *recordingProvider) DeleteFile(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, name)
	delete(p.files, name)
	return nil
}

func (p *recordingProvider) RemoveDirectory(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed = append(p.removed, name)
	delete(p.dirs, name)
	return nil
}

type fixture struct {
	store    *spyStore
	master   *records.MemoryStore
	gate     *fakeGate
	provider storage.Provider
	service  *Service
	uploader *Uploader
}

func newFixture(t *testing.T, provider storage.Provider, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		store:    newSpyStore(),
		master:   records.NewMemoryStore(Relations()),
		gate:     newFakeGate(),
		provider: provider,
	}
	registry := storage.NewRegistry()
	registry.Register(localfs.Name, provider)
	if opts.DefaultRepository == "" {
		opts.DefaultRepository = localfs.Name
	}
	log := logger.Discard()
	f.service = NewService(log, records.NewStaticDatabases(f.store, f.master), f.gate, registry, nil, opts)
	f.uploader = NewUploader(log, f.service, registry, archive.NewExtractor(log, archive.Limits{}), nil, UploaderConfig{
		Thumbnail:         storage.ThumbnailOptions{Height: 200},
		PackageExtensions: []string{".oam"},
	})
	return f
}

func newLocalProvider(t *testing.T) (*localfs.Provider, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "store")
	p, err := localfs.New(logger.Discard(), root, "")
	require.NoError(t, err)
	return p, root
}

func stageFile(t *testing.T, name string, body []byte) UploadedFile {
	t.Helper()
	p := filepath.Join(t.TempDir(), "upload_"+name)
	require.NoError(t, os.WriteFile(p, body, 0o644))
	return UploadedFile{Name: name, Path: p, Size: int64(len(body))}
}

func stagePackage(t *testing.T, name string, entries map[string]string) UploadedFile {
	t.Helper()
	p := filepath.Join(t.TempDir(), "upload_"+name)
	out, err := os.Create(p)
	require.NoError(t, err)
	zw := zip.NewWriter(out)
	for entry, body := range entries {
		w, err := zw.Create(entry)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())
	return UploadedFile{Name: name, Path: p}
}

func assertGone(t *testing.T, p string) {
	t.Helper()
	_, err := os.Stat(p)
	require.Truef(t, errors.Is(err, fs.ErrNotExist), "%s should not exist (err=%v)", p, err)
}
