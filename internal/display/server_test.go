package display

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/care/drishti/internal/emitter"
	"github.com/care/drishti/internal/metrics"
	"github.com/care/drishti/internal/types"
)

func testFrame(w, h int) types.Frame {
	return types.Frame{Seq: 1, Image: image.NewNRGBA(image.Rect(0, 0, w, h))}
}

func newTestServer(t *testing.T, status StatusFunc) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(ServerConfig{PreviewMaxSide: 64}, metrics.New().Handler(), status)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		ts.Close()
	})
	return s, ts
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not met before deadline")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestQuitGesture(t *testing.T) {
	s, ts := newTestServer(t, nil)

	select {
	case <-s.Quit():
		t.Fatal("quit closed before any request")
	default:
	}

	for i := 0; i < 2; i++ {
		resp, err := http.Post(ts.URL+"/quit", "application/json", nil)
		if err != nil {
			t.Fatalf("POST /quit: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Errorf("status = %d, want 202", resp.StatusCode)
		}
	}

	select {
	case <-s.Quit():
	case <-time.After(time.Second):
		t.Fatal("quit not signalled")
	}
}

func TestHealthAndReadiness(t *testing.T) {
	ready := false
	_, ts := newTestServer(t, func() (any, bool) {
		return map[string]string{"status": "starting"}, ready
	})

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	var live map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&live)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || live["status"] != "alive" {
		t.Errorf("/health = %d %v", resp.StatusCode, live)
	}

	resp, err = http.Get(ts.URL + "/readiness")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("/readiness not ready = %d, want 503", resp.StatusCode)
	}

	ready = true
	resp, err = http.Get(ts.URL + "/readiness")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/readiness ready = %d, want 200", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "drishti_") {
		t.Error("/metrics does not expose drishti collectors")
	}
}

func TestSnapshot(t *testing.T) {
	s, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/frame.jpg")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("snapshot before any frame = %d", resp.StatusCode)
	}

	if err := s.Present(testFrame(128, 96)); err != nil {
		t.Fatalf("Present() error = %v", err)
	}
	resp, err = http.Get(ts.URL + "/frame.jpg")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	img, _, err := image.Decode(resp.Body)
	if err != nil {
		t.Fatalf("snapshot is not an image: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 48 {
		t.Errorf("snapshot %dx%d, want downscaled 64x48", b.Dx(), b.Dy())
	}
}

func TestMJPEGStream(t *testing.T) {
	s, ts := newTestServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Fatalf("Content-Type = %q", ct)
	}

	if err := s.Present(testFrame(32, 32)); err != nil {
		t.Fatalf("Present() error = %v", err)
	}

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read boundary: %v", err)
	}
	if strings.TrimSpace(line) != "--"+mjpegBoundary {
		t.Fatalf("boundary line = %q", line)
	}
	for {
		line, err = r.ReadString('\n')
		if err != nil {
			t.Fatalf("read part header: %v", err)
		}
		if line == "\r\n" {
			break
		}
	}
	magic := make([]byte, 2)
	if _, err := io.ReadFull(r, magic); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(magic, []byte{0xff, 0xd8}) {
		t.Errorf("part is not JPEG: % x", magic)
	}
}

func TestPresentRejectsEmptyAndClosed(t *testing.T) {
	s, _ := newTestServer(t, nil)
	if err := s.Present(types.Frame{}); err == nil {
		t.Error("Present() accepted an empty frame")
	}
	s.Close()
	if err := s.Present(testFrame(4, 4)); err == nil {
		t.Error("Present() accepted a frame after Close")
	}
}

func TestEventsWebsocket(t *testing.T) {
	s, ts := newTestServer(t, nil)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	defer conn.Close()

	waitUntil(t, func() bool { return s.Hub().Len() == 1 })

	if err := s.Hub().Publish(emitter.Event{Type: emitter.TypeSpoken, Text: "Person alice"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev emitter.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if ev.Type != emitter.TypeSpoken || ev.Text != "Person alice" {
		t.Errorf("event = %+v", ev)
	}

	conn.Close()
	waitUntil(t, func() bool { return s.Hub().Len() == 0 })
}

func TestNullDisplay(t *testing.T) {
	n := NewNull()
	n.Present(testFrame(2, 2))
	if n.Presented() != 1 {
		t.Errorf("Presented() = %d", n.Presented())
	}
	select {
	case <-n.Quit():
		t.Fatal("null display quit on its own")
	default:
	}
	n.RequestQuit()
	n.RequestQuit()
	<-n.Quit()
}
