package listener

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// recognizerLine is one JSON line from a speech recognizer. Partial
// hypotheses are ignored; only final text becomes a command.
type recognizerLine struct {
	Text    string `json:"text"`
	Partial string `json:"partial"`
}

// Process runs a speech recognizer subprocess and reads its stdout. The
// process is restarted with backoff if it exits while ctx is live.
type Process struct {
	command string
	args    []string

	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewProcess creates a recognizer listener
func NewProcess(command string, args []string) *Process {
	return &Process{
		command:    command,
		args:       args,
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
}

func (p *Process) Name() string { return "recognizer" }

func (p *Process) Run(ctx context.Context, feed *Feed) error {
	backoff := p.minBackoff

	for {
		started := time.Now()
		err := p.runOnce(ctx, feed)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// a recognizer that ran for a while earns a fresh backoff
		if time.Since(started) > p.maxBackoff {
			backoff = p.minBackoff
		}

		slog.Warn("speech recognizer exited, restarting",
			"command", p.command,
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > p.maxBackoff {
			backoff = p.maxBackoff
		}
	}
}

func (p *Process) runOnce(ctx context.Context, feed *Feed) error {
	cmd := exec.CommandContext(ctx, p.command, p.args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start speech recognizer: %w", err)
	}

	slog.Info("speech recognizer spawned", "command", p.command, "pid", cmd.Process.Pid)

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		logStderr(stderr)
	}()

	readErr := p.readLines(stdout, feed)
	<-stderrDone
	waitErr := cmd.Wait()

	if readErr != nil {
		return readErr
	}
	if waitErr != nil {
		return waitErr
	}
	return fmt.Errorf("recognizer exited")
}

func (p *Process) readLines(r io.Reader, feed *Feed) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var msg recognizerLine
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			slog.Debug("ignoring non-JSON recognizer output", "line", line)
			continue
		}
		if msg.Text == "" {
			continue
		}
		feed.Submit(msg.Text, p.Name())
	}
	return scanner.Err()
}

// logStderr maps recognizer log lines onto slog levels
func logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]"), strings.Contains(line, "[CRITICAL]"):
			slog.Error("speech recognizer error", "log", line)
		case strings.Contains(line, "[WARNING]"), strings.Contains(line, "[WARN]"):
			slog.Warn("speech recognizer warning", "log", line)
		default:
			slog.Debug("speech recognizer log", "log", line)
		}
	}
}
