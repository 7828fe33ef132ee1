// Package command carries recognized voice commands from listeners to the
// main loop and runs one worker per dispatched command.
package command

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Recognized command words
const (
	Object = "object"
	Read   = "read"
	Who    = "who"
	Exit   = "exit"
)

// Command is one recognized utterance. Identical texts are distinct commands.
type Command struct {
	ID         string
	Text       string
	Source     string
	ReceivedAt time.Time
}

// New builds a command from raw listener text
func New(text, source string) Command {
	return Command{
		ID:         uuid.NewString(),
		Text:       Normalize(text),
		Source:     source,
		ReceivedAt: time.Now(),
	}
}

// Normalize lowercases and trims recognizer output, dropping trailing
// sentence punctuation. Only an utterance that is exactly a command word
// runs that command: "do not exit" stays "do not exit" and is ignored.
func Normalize(text string) string {
	t := strings.ToLower(strings.TrimSpace(text))
	return strings.TrimSpace(strings.TrimRight(t, ".!?"))
}

// Channel is an unbounded FIFO of commands. Enqueue never blocks and never
// fails; TryDequeue never blocks.
type Channel struct {
	mu    sync.Mutex
	items []Command
	total uint64
}

// NewChannel creates an empty command channel
func NewChannel() *Channel {
	return &Channel{}
}

// Enqueue appends a command
func (c *Channel) Enqueue(cmd Command) {
	c.mu.Lock()
	c.items = append(c.items, cmd)
	c.total++
	c.mu.Unlock()
}

// TryDequeue removes and returns the oldest command, if any
func (c *Channel) TryDequeue() (Command, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.items) == 0 {
		return Command{}, false
	}

	cmd := c.items[0]
	c.items[0] = Command{}
	c.items = c.items[1:]
	if len(c.items) == 0 {
		// release the backing array once drained
		c.items = nil
	}
	return cmd, true
}

// Len returns the number of pending commands
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Total returns how many commands were ever enqueued
func (c *Channel) Total() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}
