// Package annotate keeps the short-lived visual markers drawn over every
// displayed frame.
package annotate

import (
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/care/drishti/internal/metrics"
	"github.com/care/drishti/internal/types"
)

// Kind classifies an annotation by the command that produced it
type Kind string

const (
	KindObject Kind = "object"
	KindText   Kind = "text"
	KindPerson Kind = "person"
)

// Reserved colors per kind
var (
	ColorObject = types.RGB{R: 0, G: 200, B: 0}
	ColorText   = types.RGB{R: 0, G: 0, B: 255}
	ColorPerson = types.RGB{R: 200, G: 0, B: 0}
)

// Annotation is one timestamped marker. Never edited after creation.
type Annotation struct {
	Kind      Kind       `json:"kind"`
	BBox      types.BBox `json:"bbox"`
	Caption   string     `json:"caption"`
	Color     types.RGB  `json:"-"`
	CreatedAt time.Time  `json:"created_at"`
}

// Observer is notified after every Add, outside the store lock
type Observer func(Annotation)

// Option configures a Store
type Option func(*Store)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMetrics records adds and prunes
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithObserver registers a callback for new annotations
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observers = append(s.observers, o) }
}

// Store is a time-windowed, capacity-bounded list of annotations.
// Insertion order is kept; the oldest entries go first when over capacity.
type Store struct {
	mu       sync.Mutex
	items    []Annotation
	ttl      time.Duration
	capacity int

	now       func() time.Time
	metrics   *metrics.Metrics
	observers []Observer
}

// NewStore creates a store. An annotation is rendered while its age is
// strictly below ttl.
func NewStore(ttl time.Duration, capacity int, opts ...Option) *Store {
	s := &Store{
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add appends an annotation stamped with the current time
func (s *Store) Add(kind Kind, bbox types.BBox, caption string, color types.RGB) {
	a := Annotation{
		Kind:    kind,
		BBox:    bbox,
		Caption: caption,
		Color:   color,
	}

	s.mu.Lock()
	a.CreatedAt = s.now()
	s.items = append(s.items, a)
	s.mu.Unlock()

	s.metrics.AnnotationAdded(string(kind))
	for _, o := range s.observers {
		o(a)
	}
}

// RenderAndPrune drops expired annotations, draws the rest onto img,
// truncates to capacity keeping the newest, and stores the result. The
// whole cycle holds the lock so concurrent Adds never see partial state.
// img may be nil, in which case nothing is drawn. Returns the retained set.
func (s *Store) RenderAndPrune(img *image.NRGBA) []Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	kept := s.items[:0:0]
	for _, a := range s.items {
		if now.Sub(a.CreatedAt) < s.ttl {
			kept = append(kept, a)
		}
	}
	expired := len(s.items) - len(kept)

	if img != nil {
		for _, a := range kept {
			Draw(img, a)
		}
	}

	overCapacity := 0
	if s.capacity > 0 && len(kept) > s.capacity {
		overCapacity = len(kept) - s.capacity
		kept = kept[overCapacity:]
		slog.Debug("annotation store over capacity, dropping oldest",
			"dropped", overCapacity,
			"capacity", s.capacity,
		)
	}

	s.items = kept
	s.metrics.AnnotationsPruned(expired, overCapacity, len(kept))

	out := make([]Annotation, len(kept))
	copy(out, kept)
	return out
}

// Len returns the number of stored annotations, expired or not
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Snapshot returns a copy of the stored annotations without pruning
func (s *Store) Snapshot() []Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Annotation, len(s.items))
	copy(out, s.items)
	return out
}
