// Package speech serializes spoken output: a dedup gate in front of a
// single worker that delivers each utterance through a driver chain.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var (
	// ErrNoDriver is returned by an empty chain
	ErrNoDriver = errors.New("speech: no synthesis driver configured")
	// ErrAllFailed wraps the per-driver errors when every driver failed
	ErrAllFailed = errors.New("speech: all synthesis drivers failed")
)

// Synthesizer speaks one utterance and returns when it has finished playing
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, text string) error
}

// Voice carries output settings shared by the drivers that accept them
type Voice struct {
	Rate   int     // words per minute
	Volume float64 // 0.0 - 1.0
}

// Chain tries its synthesizers in order until one succeeds
type Chain struct {
	drivers []Synthesizer
}

// NewChain builds a chain; nil entries are skipped
func NewChain(drivers ...Synthesizer) *Chain {
	c := &Chain{}
	for _, d := range drivers {
		if d != nil {
			c.drivers = append(c.drivers, d)
		}
	}
	return c
}

// Drivers returns the driver names in attempt order
func (c *Chain) Drivers() []string {
	names := make([]string, 0, len(c.drivers))
	for _, d := range c.drivers {
		names = append(names, d.Name())
	}
	return names
}

// Deliver speaks text with the first driver that succeeds and reports its name
func (c *Chain) Deliver(ctx context.Context, text string) (string, error) {
	if len(c.drivers) == 0 {
		return "", ErrNoDriver
	}

	var errs []error
	for _, d := range c.drivers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		err := d.Synthesize(ctx, text)
		if err == nil {
			return d.Name(), nil
		}
		slog.Debug("speech driver failed, trying next",
			"driver", d.Name(),
			"error", err,
		)
		errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
	}

	return "", fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
