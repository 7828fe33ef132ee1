package listener

import (
	"bufio"
	"context"
	"fmt"
	"io"
)

// Lines reads one command per line, typically from stdin
type Lines struct {
	name string
	r    io.Reader
}

// NewLines creates a line listener named after its source
func NewLines(name string, r io.Reader) *Lines {
	return &Lines{name: name, r: r}
}

func (l *Lines) Name() string { return l.name }

// Run returns at EOF or when ctx is cancelled. A read blocked on a
// terminal is abandoned on cancellation.
func (l *Lines) Run(ctx context.Context, feed *Feed) error {
	lines := make(chan string)
	errCh := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(l.r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errCh <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line := <-lines:
			feed.Submit(line, l.name)
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("read %s: %w", l.name, err)
			}
			return nil
		}
	}
}
