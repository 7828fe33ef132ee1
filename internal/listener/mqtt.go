package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// commandMessage is the JSON form of a remote command
type commandMessage struct {
	Command string `json:"command"`
}

// MQTT receives commands published to a topic, either as
// {"command": "read"} or as plain text.
type MQTT struct {
	client mqtt.Client
	topic  string
	qos    byte
}

// NewMQTT creates an MQTT listener on an already connected client
func NewMQTT(client mqtt.Client, topic string, qos byte) *MQTT {
	return &MQTT{client: client, topic: topic, qos: qos}
}

func (m *MQTT) Name() string { return "mqtt" }

func (m *MQTT) Run(ctx context.Context, feed *Feed) error {
	slog.Info("subscribing to command topic", "topic", m.topic, "qos", m.qos)

	token := m.client.Subscribe(m.topic, m.qos, func(_ mqtt.Client, msg mqtt.Message) {
		m.handleMessage(msg, feed)
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("command topic subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("command topic subscription failed: %w", err)
	}

	<-ctx.Done()

	if m.client.IsConnected() {
		unsub := m.client.Unsubscribe(m.topic)
		unsub.WaitTimeout(time.Second)
	}
	return ctx.Err()
}

func (m *MQTT) handleMessage(msg mqtt.Message, feed *Feed) {
	text := parseCommandPayload(msg.Payload())
	if text == "" {
		slog.Warn("empty command message", "topic", msg.Topic())
		return
	}
	feed.Submit(text, m.Name())
}

// parseCommandPayload accepts {"command": "..."} or raw text
func parseCommandPayload(payload []byte) string {
	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, "{") {
		var cmd commandMessage
		if err := json.Unmarshal([]byte(trimmed), &cmd); err != nil {
			slog.Error("failed to parse command message", "error", err)
			return ""
		}
		return strings.TrimSpace(cmd.Command)
	}
	return trimmed
}
