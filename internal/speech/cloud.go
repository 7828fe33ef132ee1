package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/exec"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
)

// pcmStream produces 16-bit mono 48kHz PCM chunks for text. The chunk
// channel is closed when synthesis ends; the error channel carries at most
// one error.
type pcmStream func(ctx context.Context, text string) (<-chan []byte, <-chan error)

// PCMSynthesizer speaks by piping streamed PCM into a player process
type PCMSynthesizer struct {
	name   string
	stream pcmStream
	player []string
}

// Name returns the driver name
func (p *PCMSynthesizer) Name() string { return p.name }

// Synthesize streams audio for text into the player and waits for playback
// to finish. Synthesis errors and empty audio both count as failure.
func (p *PCMSynthesizer) Synthesize(ctx context.Context, text string) error {
	if len(p.player) == 0 {
		return errors.New("no pcm player configured")
	}
	bin, err := exec.LookPath(p.player[0])
	if err != nil {
		return fmt.Errorf("pcm player %s not installed: %w", p.player[0], err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, p.player[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("player stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start player: %w", err)
	}

	pcmCh, errCh := p.stream(ctx, text)

	var written int
	var writeErr error
	for chunk := range pcmCh {
		if writeErr != nil {
			continue
		}
		n, err := stdin.Write(chunk)
		written += n
		if err != nil {
			writeErr = fmt.Errorf("write to player: %w", err)
			cancel()
		}
	}
	streamErr := <-errCh
	_ = stdin.Close()
	waitErr := cmd.Wait()

	switch {
	case streamErr != nil:
		return streamErr
	case writeErr != nil:
		return writeErr
	case written == 0:
		return errors.New("no audio received")
	case waitErr != nil:
		return fmt.Errorf("player exited: %w", waitErr)
	}
	return nil
}

// NewDeepgram returns a websocket TTS driver, or nil when apiKey is empty
func NewDeepgram(apiKey, model string, player []string) *PCMSynthesizer {
	if apiKey == "" {
		return nil
	}
	if model == "" {
		model = "aura-2-thalia-en"
	}
	d := &deepgramStreamer{apiKey: apiKey, model: model}
	return &PCMSynthesizer{name: "deepgram", stream: d.stream, player: player}
}

type deepgramStreamer struct {
	apiKey string
	model  string
}

func (d *deepgramStreamer) stream(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 256)
	errCh := make(chan error, 1)

	go func() {
		defer close(pcmCh)
		defer close(errCh)

		options := &clientinterfaces.WSSpeakOptions{
			Model:      d.model,
			Encoding:   "linear16",
			SampleRate: 48000,
		}

		var lastRecv atomic.Int64
		var seenAudio atomic.Bool
		cb := &speakCallback{onBinary: func(data []byte) error {
			if len(data) == 0 {
				return nil
			}
			lastRecv.Store(time.Now().UnixNano())
			seenAudio.Store(true)
			b := make([]byte, len(data))
			copy(b, data)
			select {
			case pcmCh <- b:
			case <-ctx.Done():
			}
			return nil
		}}

		dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
		if err != nil {
			errCh <- fmt.Errorf("deepgram: create ws client: %w", err)
			return
		}
		defer dg.Stop()

		if ok := dg.Connect(); !ok {
			errCh <- errors.New("deepgram: connect failed")
			return
		}
		if err := dg.SpeakWithText(text); err != nil {
			errCh <- fmt.Errorf("deepgram: speak text: %w", err)
			return
		}
		if err := dg.Flush(); err != nil {
			errCh <- fmt.Errorf("deepgram: flush: %w", err)
			return
		}

		// the socket stays open after the last chunk; stop once audio goes idle
		const idleWindow = 400 * time.Millisecond
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		deadline := time.Now().Add(15 * time.Second)
		for {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case <-ticker.C:
				if seenAudio.Load() && time.Since(time.Unix(0, lastRecv.Load())) > idleWindow {
					return
				}
				if time.Now().After(deadline) {
					if !seenAudio.Load() {
						errCh <- errors.New("deepgram: no audio before deadline")
					}
					return
				}
			}
		}
	}()

	return pcmCh, errCh
}

type speakCallback struct{ onBinary func([]byte) error }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) Error(*msginterfaces.ErrorResponse) error       { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }
func (s *speakCallback) Binary(byMsg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(byMsg)
	}
	return nil
}

// NewElevenLabs returns an HTTP streaming TTS driver, or nil when the key
// or voice is missing
func NewElevenLabs(apiKey, voiceID, modelID string, player []string) *PCMSynthesizer {
	if apiKey == "" || voiceID == "" {
		return nil
	}
	e := &elevenLabsStreamer{
		apiKey:  apiKey,
		voiceID: voiceID,
		modelID: modelID,
		baseURL: "https://api.elevenlabs.io",
		client:  &http.Client{},
	}
	return &PCMSynthesizer{name: "elevenlabs", stream: e.stream, player: player}
}

type elevenLabsStreamer struct {
	apiKey  string
	voiceID string
	modelID string
	baseURL string
	client  *http.Client
}

func (e *elevenLabsStreamer) stream(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 256)
	errCh := make(chan error, 1)
	go func() {
		defer close(pcmCh)
		defer close(errCh)
		if err := e.httpStream(ctx, text, pcmCh); err != nil {
			errCh <- err
		}
	}()
	return pcmCh, errCh
}

func (e *elevenLabsStreamer) httpStream(ctx context.Context, text string, pcmCh chan<- []byte) error {
	u, err := url.Parse(e.baseURL + "/v1/text-to-speech/" + url.PathEscape(e.voiceID) + "/stream")
	if err != nil {
		return fmt.Errorf("elevenlabs: build url: %w", err)
	}
	q := u.Query()
	q.Set("output_format", "pcm_48000")
	q.Set("optimize_streaming_latency", "2")
	u.RawQuery = q.Encode()

	body, err := json.Marshal(map[string]any{
		"model_id": e.modelID,
		"text":     text,
	})
	if err != nil {
		return fmt.Errorf("elevenlabs: marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("elevenlabs: new request: %w", err)
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("elevenlabs: http stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("elevenlabs: status=%d body=%s", resp.StatusCode, string(b))
	}

	buf := make([]byte, 4096)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			out := make([]byte, n)
			copy(out, buf[:n])
			select {
			case pcmCh <- out:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("elevenlabs: read stream: %w", rerr)
		}
	}
}
