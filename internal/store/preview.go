package store

import (
	"sync"

	"github.com/google/uuid"
)

// Preview is an ephemeral local handle into an attachment's original binary,
// used to render the attachment before the upload round trip completes. Each
// handle is owned by the optimistic message entry that created it and must be
// released exactly once when that entry is retired.
type Preview struct {
	url      string
	registry *PreviewRegistry
	once     sync.Once
}

// URL returns the local preview URL.
func (p *Preview) URL() string {
	return p.url
}

// Release frees the underlying blob. Safe to call more than once; only the
// first call has an effect.
func (p *Preview) Release() {
	p.once.Do(func() {
		p.registry.mu.Lock()
		delete(p.registry.blobs, p.url)
		p.registry.mu.Unlock()
	})
}

// PreviewRegistry holds preview blobs keyed by their local URL, standing in
// for the platform's object-URL mechanism.
type PreviewRegistry struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

// NewPreviewRegistry creates an empty registry.
func NewPreviewRegistry() *PreviewRegistry {
	return &PreviewRegistry{blobs: make(map[string][]byte)}
}

// Create registers a blob and returns its handle.
func (r *PreviewRegistry) Create(data []byte) *Preview {
	url := "blob:local/" + uuid.NewString()
	r.mu.Lock()
	r.blobs[url] = data
	r.mu.Unlock()
	return &Preview{url: url, registry: r}
}

// Get resolves a preview URL to its blob.
func (r *PreviewRegistry) Get(url string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.blobs[url]
	return data, ok
}

// Len reports how many blobs are currently held.
func (r *PreviewRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.blobs)
}
