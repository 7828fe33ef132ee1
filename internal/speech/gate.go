package speech

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/care/drishti/internal/metrics"
)

// Submission results
const (
	ResultAccepted  = "accepted"
	ResultEmpty     = "empty"
	ResultDuplicate = "duplicate"
	ResultClosed    = "closed"
)

// Deliverer speaks one utterance and names the driver that did it
type Deliverer interface {
	Deliver(ctx context.Context, text string) (driver string, err error)
}

// Request is an accepted utterance waiting for the worker
type Request struct {
	Text        string
	SubmittedAt time.Time
}

// Delivery describes one finished utterance
type Delivery struct {
	Text     string
	Driver   string
	Err      error
	Started  time.Time
	Finished time.Time
}

// GateOption configures a Gate
type GateOption func(*Gate)

// WithGateClock replaces time.Now for the dedup window
func WithGateClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// WithGateMetrics records submissions and deliveries
func WithGateMetrics(m *metrics.Metrics) GateOption {
	return func(g *Gate) { g.metrics = m }
}

// WithDeliveryTimeout bounds every single delivery
func WithDeliveryTimeout(d time.Duration) GateOption {
	return func(g *Gate) { g.timeout = d }
}

// WithDeliveryObserver is called by the worker after each delivery
func WithDeliveryObserver(fn func(Delivery)) GateOption {
	return func(g *Gate) { g.observers = append(g.observers, fn) }
}

// Gate drops empty and recently repeated utterances and hands the rest to a
// single worker goroutine, which delivers them one at a time in order.
// The queue is unbounded.
type Gate struct {
	deliverer Deliverer
	cooldown  time.Duration
	timeout   time.Duration
	now       func() time.Time
	metrics   *metrics.Metrics
	observers []func(Delivery)

	dedupMu  sync.Mutex
	lastText string
	lastTime time.Time

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Request
	started bool
	busy    bool
	closed  bool
	done    chan struct{}
}

// NewGate creates a gate. The worker starts on the first accepted submission.
func NewGate(d Deliverer, cooldown time.Duration, opts ...GateOption) *Gate {
	g := &Gate{
		deliverer: d,
		cooldown:  cooldown,
		timeout:   30 * time.Second,
		now:       time.Now,
		done:      make(chan struct{}),
	}
	g.cond = sync.NewCond(&g.mu)
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Submit offers text for speaking. It never blocks on synthesis and never
// fails; the return value reports what the gate did with it.
func (g *Gate) Submit(text string) string {
	if strings.TrimSpace(text) == "" {
		g.metrics.SpeechSubmitted(ResultEmpty)
		return ResultEmpty
	}

	g.dedupMu.Lock()
	now := g.now()
	if text == g.lastText && now.Sub(g.lastTime) < g.cooldown {
		g.dedupMu.Unlock()
		g.metrics.SpeechSubmitted(ResultDuplicate)
		slog.Debug("speech suppressed by cooldown", "text", text)
		return ResultDuplicate
	}
	g.lastText = text
	g.lastTime = now
	g.dedupMu.Unlock()

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		g.metrics.SpeechSubmitted(ResultClosed)
		return ResultClosed
	}
	g.queue = append(g.queue, Request{Text: text, SubmittedAt: now})
	depth := len(g.queue)
	if !g.started {
		g.started = true
		go g.run()
	}
	g.cond.Signal()
	g.mu.Unlock()

	g.metrics.SpeechSubmitted(ResultAccepted)
	g.metrics.SpeechQueueDepth(depth)
	return ResultAccepted
}

func (g *Gate) run() {
	defer close(g.done)

	for {
		g.mu.Lock()
		for len(g.queue) == 0 && !g.closed {
			g.cond.Wait()
		}
		if len(g.queue) == 0 {
			g.mu.Unlock()
			return
		}
		req := g.queue[0]
		g.queue[0] = Request{}
		g.queue = g.queue[1:]
		g.busy = true
		depth := len(g.queue)
		g.mu.Unlock()

		g.metrics.SpeechQueueDepth(depth)
		g.deliver(req)

		g.mu.Lock()
		g.busy = false
		g.cond.Broadcast()
		g.mu.Unlock()
	}
}

func (g *Gate) deliver(req Request) {
	d := Delivery{Text: req.Text, Started: time.Now()}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("speech delivery panicked", "text", req.Text, "panic", r)
			g.metrics.SpeechFailed()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	d.Driver, d.Err = g.deliverer.Deliver(ctx, req.Text)
	cancel()
	d.Finished = time.Now()

	if d.Err != nil {
		g.metrics.SpeechFailed()
		slog.Error("speech delivery failed",
			"text", req.Text,
			"error", d.Err,
			"queued_for", d.Started.Sub(req.SubmittedAt),
		)
	} else {
		g.metrics.SpeechDelivered(d.Driver)
		slog.Info("spoke", "text", req.Text, "driver", d.Driver, "duration", d.Finished.Sub(d.Started))
	}

	for _, o := range g.observers {
		o(d)
	}
}

// Pending returns the number of queued utterances, including one in delivery
func (g *Gate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := len(g.queue)
	if g.busy {
		n++
	}
	return n
}

// Flush waits until the queue is empty and the worker is idle, or ctx ends
func (g *Gate) Flush(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		g.mu.Lock()
		for (len(g.queue) > 0 || g.busy) && ctx.Err() == nil {
			g.cond.Wait()
		}
		g.mu.Unlock()
		close(idle)
	}()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		// wake the waiter so it observes ctx and exits
		g.mu.Lock()
		g.cond.Broadcast()
		g.mu.Unlock()
		return ctx.Err()
	}
}

// Close stops accepting submissions. The worker finishes what is queued and exits.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	if !g.started {
		g.started = true
		close(g.done)
	}
	g.cond.Broadcast()
}

// Done is closed when the worker has exited after Close
func (g *Gate) Done() <-chan struct{} {
	return g.done
}
