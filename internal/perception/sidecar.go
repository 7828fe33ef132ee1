package perception

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/care/drishti/internal/types"
)

// Sidecar operations
const (
	OpDetect = "detect"
	OpRead   = "read"
	OpLayout = "layout"
	OpFaces  = "faces"
	OpEmbed  = "embed"
)

const writeTimeout = 2 * time.Second

// maxMessageSize guards against a corrupt length prefix
const maxMessageSize = 64 << 20

// Request is one framed call to the sidecar
type Request struct {
	ID     string         `msgpack:"id"`
	Op     string         `msgpack:"op"`
	Width  int            `msgpack:"width"`
	Height int            `msgpack:"height"`
	Frame  []byte         `msgpack:"frame"` // JPEG
	Params map[string]any `msgpack:"params,omitempty"`
}

// Response is the sidecar's answer to one Request
type Response struct {
	ID         string          `msgpack:"id"`
	OK         bool            `msgpack:"ok"`
	Error      string          `msgpack:"error,omitempty"`
	Detections []WireDetection `msgpack:"detections,omitempty"`
	Text       string          `msgpack:"text,omitempty"`
	Blocks     []WireBlock     `msgpack:"blocks,omitempty"`
	Faces      []WireFace      `msgpack:"faces,omitempty"`
	Embedding  []float32       `msgpack:"embedding,omitempty"`
}

// WireDetection is a detection in sidecar image coordinates
type WireDetection struct {
	Label      string     `msgpack:"label"`
	BBox       types.BBox `msgpack:"bbox"`
	Direction  string     `msgpack:"direction,omitempty"`
	Confidence float64    `msgpack:"confidence"`
}

// WireBlock is one OCR layout block in sidecar image coordinates
type WireBlock struct {
	BBox types.BBox `msgpack:"bbox"`
	Text string     `msgpack:"text,omitempty"`
}

// WireFace is a face box plus its embedding
type WireFace struct {
	BBox      types.BBox `msgpack:"bbox"`
	Embedding []float32  `msgpack:"embedding"`
}

// SidecarConfig describes the inference subprocess
type SidecarConfig struct {
	Command string
	Args    []string
	Timeout time.Duration // per call
}

// SidecarStats counts sidecar traffic
type SidecarStats struct {
	Calls    uint64 `json:"calls"`
	Failures uint64 `json:"failures"`
	Orphaned uint64 `json:"orphaned"`
}

// Sidecar multiplexes concurrent calls over one length-prefixed msgpack
// stream (4 bytes big-endian length, then the message).
type Sidecar struct {
	timeout time.Duration

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Response
	closed  bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	calls    atomic.Uint64
	failures atomic.Uint64
	orphaned atomic.Uint64
}

// StartSidecar spawns the inference subprocess and starts reading its
// responses. The process is not tied to ctx; Close stops it.
func StartSidecar(ctx context.Context, cfg SidecarConfig) (*Sidecar, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("sidecar command is required")
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start perception sidecar: %w", err)
	}

	slog.InfoContext(ctx, "perception sidecar spawned",
		"command", cfg.Command,
		"pid", cmd.Process.Pid,
	)

	s := newSidecar(stdout, stdin, cfg.Timeout)
	s.cmd = cmd

	s.wg.Add(2)
	go s.logStderr(stderr)
	go s.waitProcess()

	return s, nil
}

// NewSidecarConn runs the protocol over an existing stream pair
func NewSidecarConn(r io.Reader, w io.WriteCloser, timeout time.Duration) *Sidecar {
	return newSidecar(r, w, timeout)
}

func newSidecar(r io.Reader, w io.WriteCloser, timeout time.Duration) *Sidecar {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s := &Sidecar{
		timeout: timeout,
		stdin:   w,
		stdout:  r,
		pending: make(map[string]chan Response),
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.readLoop()
	return s
}

// Call sends req and waits for the matching response. The request ID is
// assigned here.
func (s *Sidecar) Call(ctx context.Context, req Request) (Response, error) {
	req.ID = uuid.NewString()
	respCh := make(chan Response, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Response{}, ErrSidecarClosed
	}
	s.pending[req.ID] = respCh
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, req.ID)
		s.mu.Unlock()
	}()

	s.calls.Add(1)

	if err := s.send(ctx, req); err != nil {
		s.failures.Add(1)
		return Response{}, err
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case resp := <-respCh:
		if !resp.OK {
			s.failures.Add(1)
			msg := resp.Error
			if msg == "" {
				msg = "unknown error"
			}
			return resp, fmt.Errorf("perception: %s failed: %s", req.Op, msg)
		}
		return resp, nil
	case <-timer.C:
		s.failures.Add(1)
		return Response{}, fmt.Errorf("perception: %s timed out after %s", req.Op, s.timeout)
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case <-s.done:
		s.failures.Add(1)
		return Response{}, ErrSidecarClosed
	}
}

// send writes one framed message with a timeout so a hung sidecar cannot
// block the caller forever.
func (s *Sidecar) send(ctx context.Context, req Request) error {
	payload, err := msgpack.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal msgpack request: %w", err)
	}

	msg := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(msg, uint32(len(payload)))
	copy(msg[4:], payload)

	writeErr := make(chan error, 1)
	go func() {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		_, err := s.stdin.Write(msg)
		writeErr <- err
	}()

	select {
	case err := <-writeErr:
		if err != nil {
			return fmt.Errorf("failed to write to sidecar: %w", err)
		}
		return nil
	case <-time.After(writeTimeout):
		return fmt.Errorf("sidecar write timeout (sidecar may be hung)")
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSidecarClosed
	}
}

func (s *Sidecar) readLoop() {
	defer s.wg.Done()
	defer s.markClosed()

	lengthBuf := make([]byte, 4)
	for {
		if _, err := io.ReadFull(s.stdout, lengthBuf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				slog.Debug("perception sidecar stdout closed")
				return
			}
			slog.Error("failed to read length prefix from sidecar", "error", err)
			return
		}

		n := binary.BigEndian.Uint32(lengthBuf)
		if n > maxMessageSize {
			slog.Error("sidecar message too large, closing", "length", n)
			return
		}

		data := make([]byte, n)
		if _, err := io.ReadFull(s.stdout, data); err != nil {
			slog.Error("failed to read msgpack data from sidecar",
				"error", err,
				"expected_length", n,
			)
			return
		}

		var resp Response
		if err := msgpack.Unmarshal(data, &resp); err != nil {
			slog.Error("failed to unmarshal sidecar response",
				"error", err,
				"data_length", len(data),
				"action", "check sidecar logs in stderr")
			continue
		}

		s.mu.Lock()
		ch, ok := s.pending[resp.ID]
		s.mu.Unlock()
		if !ok {
			s.orphaned.Add(1)
			slog.Warn("sidecar response for unknown request", "request_id", resp.ID)
			continue
		}
		select {
		case ch <- resp:
		default:
		}
	}
}

func (s *Sidecar) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.done) })
}

// logStderr maps sidecar log lines onto slog levels by their level marker
func (s *Sidecar) logStderr(stderr io.Reader) {
	defer s.wg.Done()

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case containsAny(line, "[ERROR]", "[CRITICAL]"):
			slog.Error("perception sidecar error", "log", line)
		case containsAny(line, "[WARNING]", "[WARN]"):
			slog.Warn("perception sidecar warning", "log", line)
		default:
			slog.Debug("perception sidecar log", "log", line)
		}
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// waitProcess reaps the subprocess so it never lingers as a zombie
func (s *Sidecar) waitProcess() {
	defer s.wg.Done()

	err := s.cmd.Wait()

	s.mu.Lock()
	expected := s.closed
	s.mu.Unlock()

	switch {
	case err == nil:
		slog.Info("perception sidecar exited cleanly", "pid", s.cmd.Process.Pid)
	case expected:
		slog.Debug("perception sidecar exited (shutdown)", "pid", s.cmd.Process.Pid)
	default:
		slog.Error("perception sidecar exited unexpectedly",
			"pid", s.cmd.Process.Pid,
			"error", err,
		)
	}
	s.markClosed()
}

// Done is closed once the sidecar can no longer answer calls
func (s *Sidecar) Done() <-chan struct{} {
	return s.done
}

// Stats returns call counters
func (s *Sidecar) Stats() SidecarStats {
	return SidecarStats{
		Calls:    s.calls.Load(),
		Failures: s.failures.Load(),
		Orphaned: s.orphaned.Load(),
	}
}

// Close closes the sidecar's stdin, waits briefly for it to exit and
// kills it otherwise. Pending calls fail with ErrSidecarClosed.
func (s *Sidecar) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	err := s.stdin.Close()
	s.closeOnce.Do(func() { close(s.done) })

	if s.cmd == nil {
		return err
	}

	stopped := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		slog.Warn("perception sidecar stop timeout, force killing process")
		if s.cmd.Process != nil {
			if kerr := s.cmd.Process.Kill(); kerr != nil {
				slog.Error("failed to kill perception sidecar", "error", kerr)
			}
		}
	}
	return err
}
