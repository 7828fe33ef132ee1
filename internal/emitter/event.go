// Package emitter publishes what the assistant does (commands received,
// utterances spoken, annotations drawn) to outside observers.
package emitter

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/care/drishti/internal/types"
)

// Event types
const (
	TypeCommand    = "command"
	TypeSpoken     = "spoken"
	TypeAnnotation = "annotation"
	TypeShutdown   = "shutdown"
)

// Event is one observable occurrence
type Event struct {
	Type      string      `json:"type"`
	Text      string      `json:"text,omitempty"`
	Kind      string      `json:"kind,omitempty"`
	Caption   string      `json:"caption,omitempty"`
	BBox      *types.BBox `json:"bbox,omitempty"`
	Command   string      `json:"command,omitempty"`
	Source    string      `json:"source,omitempty"`
	Driver    string      `json:"driver,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ToJSON serializes the event
func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher accepts events
type Publisher interface {
	Publish(ev Event) error
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(ev Event) error

func (f PublisherFunc) Publish(ev Event) error { return f(ev) }

// Multi fans an event out to every publisher
type Multi struct {
	pubs []Publisher
}

// NewMulti skips nil publishers
func NewMulti(pubs ...Publisher) *Multi {
	m := &Multi{}
	for _, p := range pubs {
		if p != nil {
			m.pubs = append(m.pubs, p)
		}
	}
	return m
}

// Add appends a publisher
func (m *Multi) Add(p Publisher) {
	if p != nil {
		m.pubs = append(m.pubs, p)
	}
}

// Publish delivers to all publishers and joins their errors
func (m *Multi) Publish(ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	var errs []error
	for _, p := range m.pubs {
		if err := p.Publish(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of publishers
func (m *Multi) Len() int {
	return len(m.pubs)
}
