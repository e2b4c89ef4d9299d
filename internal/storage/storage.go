// Package storage defines the Provider interface for asset storage backends
// and a Registry resolving providers by repository name.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

var ErrRepositoryNotFound = errors.New("storage repository not found")

// ThumbnailOptions bounds a generated thumbnail. A zero dimension is unconstrained.
type ThumbnailOptions struct {
	Width  int
	Height int
}

// StoreOptions controls what StoreFile derives from the stored bytes.
type StoreOptions struct {
	CreateMetadata  bool
	CreateThumbnail bool
	Thumbnail       ThumbnailOptions
}

// StoredFile describes the bytes a provider placed.
type StoredFile struct {
	Path          string
	Size          int64
	MimeType      string
	ThumbnailPath string
}

// OpenOptions tunes a read.
type OpenOptions struct {
	BufferSize int
	// ForceMaster resolves the path against the master scope instead of the tenant scope.
	ForceMaster bool
}

// Provider abstracts asset storage operations. Paths are slash-separated and relative
// to the provider's root.
type Provider interface {
	// StoreFile writes src under dest.
	StoreFile(ctx context.Context, src io.Reader, dest string, opts StoreOptions) (StoredFile, error)
	// StoreDirectory copies the local directory tree srcDir under dest.
	StoreDirectory(ctx context.Context, srcDir, dest string) error
	// Open returns a reader for the stored object at path.
	Open(ctx context.Context, path string, opts OpenOptions) (io.ReadCloser, error)
	// DeleteFile removes a single stored object.
	DeleteFile(ctx context.Context, path string) error
	// RemoveDirectory removes a stored directory tree.
	RemoveDirectory(ctx context.Context, path string) error
}

// Registry resolves providers by repository name.
type Registry interface {
	Get(name string) (Provider, error)
}

// MapRegistry is a concurrency-safe Registry backed by a map.
type MapRegistry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *MapRegistry {
	return &MapRegistry{providers: map[string]Provider{}}
}

// Register adds or replaces the provider for name.
func (r *MapRegistry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[normalizeName(name)] = p
}

// Get returns the provider registered under name.
func (r *MapRegistry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[normalizeName(name)]
	if !ok || p == nil {
		return nil, fmt.Errorf("%w: %q", ErrRepositoryNotFound, name)
	}
	return p, nil
}

// Names lists registered repository names in sorted order.
func (r *MapRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
