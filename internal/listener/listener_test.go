package listener

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/care/drishti/internal/command"
	"github.com/care/drishti/internal/emitter"
)

func drain(ch *command.Channel) []command.Command {
	var out []command.Command
	for {
		cmd, ok := ch.TryDequeue()
		if !ok {
			return out
		}
		out = append(out, cmd)
	}
}

func texts(cmds []command.Command) []string {
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.Text
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
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

func TestFeedSubmit(t *testing.T) {
	ch := command.NewChannel()
	var events []emitter.Event
	var running atomic.Bool
	running.Store(true)

	feed := NewFeed(ch, nil, emitter.PublisherFunc(func(ev emitter.Event) error {
		events = append(events, ev)
		return nil
	}), running.Load)

	if !feed.Submit("  Read ", "test") {
		t.Fatal("Submit() rejected a command")
	}
	if feed.Submit("   ", "test") {
		t.Error("blank text accepted")
	}

	running.Store(false)
	if feed.Submit("object", "test") {
		t.Error("command accepted after shutdown")
	}

	got := drain(ch)
	if len(got) != 1 || got[0].Text != command.Read || got[0].Source != "test" {
		t.Fatalf("enqueued %+v", got)
	}
	if len(events) != 1 || events[0].Type != emitter.TypeCommand || events[0].Command != command.Read {
		t.Errorf("events = %+v", events)
	}
}

func TestLinesListener(t *testing.T) {
	ch := command.NewChannel()
	l := NewLines("stdin", strings.NewReader("object\n\nRead this\nhello there\nexit\n"))

	if err := l.Run(context.Background(), NewFeed(ch, nil, nil, nil)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{"object", "read", "hello there", "exit"}
	got := texts(drain(ch))
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("commands = %v, want %v", got, want)
	}
}

type blockingReader struct{ release chan struct{} }

func (b *blockingReader) Read(p []byte) (int, error) {
	<-b.release
	return 0, errors.New("released")
}

func TestLinesListenerStopsOnCancel(t *testing.T) {
	r := &blockingReader{release: make(chan struct{})}
	defer close(r.release)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewLines("stdin", r).Run(ctx, NewFeed(command.NewChannel(), nil, nil, nil))
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestRecognizerLines(t *testing.T) {
	ch := command.NewChannel()
	p := NewProcess("unused", nil)
	input := strings.Join([]string{
		`{"partial": "wh"}`,
		`{"text": "Who"}`,
		`{"text": "do not exit"}`,
		`not json`,
		`{"text": ""}`,
		`{"text": "object"}`,
	}, "\n")

	if err := p.readLines(strings.NewReader(input), NewFeed(ch, nil, nil, nil)); err != nil {
		t.Fatalf("readLines() error = %v", err)
	}
	got := texts(drain(ch))
	if len(got) != 3 || got[0] != command.Who || got[1] != "do not exit" || got[2] != command.Object {
		t.Errorf("commands = %v", got)
	}
}

func TestRecognizerProcessRestarts(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	ch := command.NewChannel()
	p := NewProcess("sh", []string{"-c", `echo '{"partial":"re"}'; echo '{"text":"read"}'; echo '[WARN] mic' >&2`})
	p.minBackoff = 10 * time.Millisecond
	p.maxBackoff = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, NewFeed(ch, nil, nil, nil)) }()

	// two commands means the recognizer ran at least twice
	waitFor(t, func() bool { return ch.Total() >= 2 })
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	for _, text := range texts(drain(ch)) {
		if text != command.Read {
			t.Errorf("unexpected command %q", text)
		}
	}
}

func TestParseCommandPayload(t *testing.T) {
	tests := []struct {
		payload string
		want    string
	}{
		{`{"command": "read"}`, "read"},
		{`{"command": " who "}`, "who"},
		{`object`, "object"},
		{`  exit  `, "exit"},
		{`{"command": `, ""},
		{`{}`, ""},
	}
	for _, tt := range tests {
		if got := parseCommandPayload([]byte(tt.payload)); got != tt.want {
			t.Errorf("parseCommandPayload(%q) = %q, want %q", tt.payload, got, tt.want)
		}
	}
}

type fakeToken struct{}

func (fakeToken) Wait() bool                     { return true }
func (fakeToken) WaitTimeout(time.Duration) bool { return true }
func (fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (fakeToken) Error() error { return nil }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type fakeClient struct {
	mu           sync.Mutex
	handler      mqtt.MessageHandler
	unsubscribed []string
}

func (c *fakeClient) IsConnected() bool      { return true }
func (c *fakeClient) IsConnectionOpen() bool { return true }
func (c *fakeClient) Connect() mqtt.Token    { return fakeToken{} }
func (c *fakeClient) Disconnect(uint)        {}
func (c *fakeClient) Publish(string, byte, bool, interface{}) mqtt.Token {
	return fakeToken{}
}
func (c *fakeClient) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	c.handler = cb
	c.mu.Unlock()
	return fakeToken{}
}
func (c *fakeClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return fakeToken{}
}
func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	c.unsubscribed = append(c.unsubscribed, topics...)
	c.mu.Unlock()
	return fakeToken{}
}
func (c *fakeClient) AddRoute(string, mqtt.MessageHandler)    {}
func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

func (c *fakeClient) deliver(payload string) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	h(c, fakeMessage{topic: "cmds", payload: []byte(payload)})
}

func TestMQTTListener(t *testing.T) {
	client := &fakeClient{}
	ch := command.NewChannel()
	l := NewMQTT(client, "cmds", 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx, NewFeed(ch, nil, nil, nil)) }()

	waitFor(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return client.handler != nil
	})

	client.deliver(`{"command": "who"}`)
	client.deliver(`read`)
	client.deliver(`{"command": ""}`)

	got := texts(drain(ch))
	if len(got) != 2 || got[0] != command.Who || got[1] != command.Read {
		t.Errorf("commands = %v", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.unsubscribed) != 1 || client.unsubscribed[0] != "cmds" {
		t.Errorf("unsubscribed = %v", client.unsubscribed)
	}
}

func TestGroupRunsAllListeners(t *testing.T) {
	ch := command.NewChannel()
	g := NewGroup(NewFeed(ch, nil, nil, nil),
		NewLines("a", strings.NewReader("object\n")),
		nil,
		NewLines("b", strings.NewReader("read\n")),
	)
	if g.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", g.Len())
	}

	g.Start(context.Background())
	waitFor(t, func() bool { return ch.Total() == 2 })
	g.Stop(time.Second)

	sources := map[string]bool{}
	for _, c := range drain(ch) {
		sources[c.Source] = true
	}
	if !sources["a"] || !sources["b"] {
		t.Errorf("sources = %v", sources)
	}
}
