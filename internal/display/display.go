// Package display presents annotated frames and reports the user's quit
// gesture.
package display

import (
	"sync"

	"github.com/care/drishti/internal/types"
)

// Display is a frame sink with a quit signal
type Display interface {
	Present(frame types.Frame) error
	// Quit is closed once the user asked to stop
	Quit() <-chan struct{}
	Close() error
}

// Null discards frames. Its quit channel closes only through RequestQuit.
type Null struct {
	quit     chan struct{}
	quitOnce sync.Once

	mu        sync.Mutex
	presented uint64
}

// NewNull creates a display that shows nothing
func NewNull() *Null {
	return &Null{quit: make(chan struct{})}
}

func (n *Null) Present(frame types.Frame) error {
	n.mu.Lock()
	n.presented++
	n.mu.Unlock()
	return nil
}

func (n *Null) Quit() <-chan struct{} { return n.quit }

// RequestQuit closes the quit channel
func (n *Null) RequestQuit() {
	n.quitOnce.Do(func() { close(n.quit) })
}

// Presented returns how many frames were handed to the display
func (n *Null) Presented() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.presented
}

func (n *Null) Close() error { return nil }
