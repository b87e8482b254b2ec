package crawl

import (
	"context"
	"sort"
	"sync"

	"coursedump/pkg/models"
	"coursedump/pkg/paginate"
	"coursedump/pkg/storage"
)

// Lister opens the first page of a container's listing
type Lister interface {
	List(ctx context.Context, node models.Node) (paginate.Page, error)
}

// ListerFunc adapts a function to the Lister interface
type ListerFunc func(ctx context.Context, node models.Node) (paginate.Page, error)

// List calls f
func (f ListerFunc) List(ctx context.Context, node models.Node) (paginate.Page, error) {
	return f(ctx, node)
}

// Payload is what an extractor produced for one leaf
type Payload struct {
	// Text is written as <display name><text extension>; empty text writes nothing
	Text []byte
	// Attachments are written relative to the leaf's directory
	Attachments []storage.Target
}

// Extractor turns one leaf into content. destDir is the leaf's directory
// relative to the output root.
type Extractor interface {
	Extract(ctx context.Context, node models.Node, destDir string) (*Payload, error)
}

// ExtractorFunc adapts a function to the Extractor interface
type ExtractorFunc func(ctx context.Context, node models.Node, destDir string) (*Payload, error)

// Extract calls f
func (f ExtractorFunc) Extract(ctx context.Context, node models.Node, destDir string) (*Payload, error) {
	return f(ctx, node, destDir)
}

// Registry maps leaf kinds to their extractors
type Registry struct {
	mu         sync.RWMutex
	extractors map[models.Kind]Extractor
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[models.Kind]Extractor)}
}

// Register sets the extractor for kind, replacing any previous one
func (r *Registry) Register(kind models.Kind, ex Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[kind] = ex
}

// Lookup returns the extractor for kind
func (r *Registry) Lookup(kind models.Kind) (Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.extractors[kind]
	return ex, ok
}

// Kinds lists the registered kinds in sorted order
func (r *Registry) Kinds() []models.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]models.Kind, 0, len(r.extractors))
	for k := range r.extractors {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
