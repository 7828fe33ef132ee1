package perception

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/care/drishti/internal/types"
)

// Gallery stores known face embeddings and finds the closest one
type Gallery interface {
	Add(ctx context.Context, name string, embedding []float32) error
	// Match returns the best name whose cosine similarity clears threshold,
	// or types.UnknownName with the best similarity seen.
	Match(ctx context.Context, embedding []float32, threshold float64) (string, float64, error)
	Len(ctx context.Context) (int, error)
	Close()
}

type galleryEntry struct {
	name      string
	embedding []float32
}

// MemoryGallery is an in-process Gallery. Adding a name twice replaces
// its embedding.
type MemoryGallery struct {
	mu      sync.RWMutex
	entries []galleryEntry
}

// NewMemoryGallery creates an empty gallery
func NewMemoryGallery() *MemoryGallery {
	return &MemoryGallery{}
}

func (g *MemoryGallery) Add(ctx context.Context, name string, embedding []float32) error {
	if name == "" {
		return fmt.Errorf("gallery: name is required")
	}
	if len(embedding) == 0 {
		return fmt.Errorf("gallery: empty embedding for %q", name)
	}

	vec := make([]float32, len(embedding))
	copy(vec, embedding)

	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.entries {
		if g.entries[i].name == name {
			g.entries[i].embedding = vec
			return nil
		}
	}
	g.entries = append(g.entries, galleryEntry{name: name, embedding: vec})
	return nil
}

func (g *MemoryGallery) Match(ctx context.Context, embedding []float32, threshold float64) (string, float64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	best := types.UnknownName
	bestSim := math.Inf(-1)
	for _, e := range g.entries {
		sim := cosineSimilarity(e.embedding, embedding)
		if sim > bestSim {
			best, bestSim = e.name, sim
		}
	}
	if len(g.entries) == 0 {
		return types.UnknownName, 0, nil
	}
	if bestSim < threshold {
		return types.UnknownName, bestSim, nil
	}
	return best, bestSim, nil
}

func (g *MemoryGallery) Len(ctx context.Context) (int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entries), nil
}

func (g *MemoryGallery) Close() {}

// cosineSimilarity returns 0 for mismatched or zero vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
