// Package listener turns recognized speech (or its stand-ins) into
// commands on the command channel.
package listener

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/care/drishti/internal/command"
	"github.com/care/drishti/internal/emitter"
	"github.com/care/drishti/internal/metrics"
)

// Listener is one command source. Run blocks until ctx is cancelled or
// the source is exhausted.
type Listener interface {
	Name() string
	Run(ctx context.Context, feed *Feed) error
}

// Feed normalizes recognized text and enqueues it. Once the running check
// reports false nothing more is accepted.
type Feed struct {
	ch      *command.Channel
	metrics *metrics.Metrics
	events  emitter.Publisher
	running func() bool
}

// NewFeed creates a feed into ch. events and running may be nil.
func NewFeed(ch *command.Channel, m *metrics.Metrics, events emitter.Publisher, running func() bool) *Feed {
	return &Feed{ch: ch, metrics: m, events: events, running: running}
}

// Submit enqueues text as a command from source. Blank text and text
// arriving after shutdown are dropped.
func (f *Feed) Submit(text, source string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	if f.running != nil && !f.running() {
		slog.Debug("command ignored after shutdown", "text", text, "source", source)
		return false
	}

	cmd := command.New(text, source)
	f.ch.Enqueue(cmd)
	f.metrics.CommandEnqueued(source)

	slog.Info("command received",
		"command", cmd.Text,
		"raw", text,
		"source", source,
		"command_id", cmd.ID,
	)

	if f.events != nil {
		if err := f.events.Publish(emitter.Event{
			Type:      emitter.TypeCommand,
			Command:   cmd.Text,
			Text:      text,
			Source:    source,
			Timestamp: cmd.ReceivedAt,
		}); err != nil {
			slog.Debug("command event not published", "error", err)
		}
	}
	return true
}

// Group runs several listeners side by side
type Group struct {
	listeners []Listener
	feed      *Feed

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewGroup skips nil listeners
func NewGroup(feed *Feed, listeners ...Listener) *Group {
	g := &Group{feed: feed}
	for _, l := range listeners {
		if l != nil {
			g.listeners = append(g.listeners, l)
		}
	}
	return g
}

// Len returns the number of listeners
func (g *Group) Len() int {
	return len(g.listeners)
}

// Start launches every listener on its own goroutine
func (g *Group) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	g.mu.Lock()
	g.cancel = cancel
	g.mu.Unlock()

	for _, l := range g.listeners {
		g.wg.Add(1)
		go func(l Listener) {
			defer g.wg.Done()
			slog.Info("listener started", "listener", l.Name())
			if err := l.Run(ctx, g.feed); err != nil && ctx.Err() == nil {
				slog.Error("listener stopped", "listener", l.Name(), "error", err)
				return
			}
			slog.Info("listener finished", "listener", l.Name())
		}(l)
	}
}

// Stop cancels all listeners and waits up to timeout for them to return
func (g *Group) Stop(timeout time.Duration) {
	g.mu.Lock()
	cancel := g.cancel
	g.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		slog.Warn("listeners did not stop before timeout")
	}
}
