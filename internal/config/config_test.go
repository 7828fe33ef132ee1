package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "drishti.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultFillsOriginalConstants(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}

	if cfg.Annotations.TTLS != 2.0 {
		t.Errorf("annotation ttl = %v, want 2.0", cfg.Annotations.TTLS)
	}
	if cfg.Annotations.Capacity != 60 {
		t.Errorf("annotation capacity = %d, want 60", cfg.Annotations.Capacity)
	}
	if cfg.Speech.CooldownS != 1.0 {
		t.Errorf("speech cooldown = %v, want 1.0", cfg.Speech.CooldownS)
	}
	if cfg.Continuous.Markers || cfg.Continuous.Speech {
		t.Errorf("continuous mode must default off, got markers=%v speech=%v",
			cfg.Continuous.Markers, cfg.Continuous.Speech)
	}
	if got := Seconds(cfg.Continuous.DetectionIntervalS); got != 250*time.Millisecond {
		t.Errorf("detection interval = %v, want 250ms", got)
	}
	if cfg.Faces.MatchThreshold != 0.9 {
		t.Errorf("face match threshold = %v, want 0.9", cfg.Faces.MatchThreshold)
	}
	if cfg.Loop.WorkerPoolSize != 0 {
		t.Errorf("worker pool size = %d, want 0 (unbounded)", cfg.Loop.WorkerPoolSize)
	}
	if !cfg.Listeners.Stdin {
		t.Errorf("stdin listener should be enabled when no listener is configured")
	}
	if cfg.Camera.Device != "auto" {
		t.Errorf("camera device = %q, want auto", cfg.Camera.Device)
	}
	if cfg.ShutdownTimeout() != 5*time.Second {
		t.Errorf("shutdown timeout = %v, want 5s", cfg.ShutdownTimeout())
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
instance_id: kitchen-1
camera:
  mock: true
  width: 320
  height: 240
annotations:
  ttl_s: 3.5
continuous:
  markers: true
speech:
  cooldown_s: 0.5
mqtt:
  broker: localhost:1883
listeners:
  mqtt: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.InstanceID != "kitchen-1" {
		t.Errorf("instance_id = %q", cfg.InstanceID)
	}
	if !cfg.Camera.Mock || cfg.Camera.Width != 320 {
		t.Errorf("camera = %+v", cfg.Camera)
	}
	if cfg.Annotations.TTLS != 3.5 {
		t.Errorf("ttl = %v, want 3.5", cfg.Annotations.TTLS)
	}
	if !cfg.Continuous.Markers {
		t.Errorf("continuous markers should be enabled")
	}
	if cfg.Listeners.Stdin {
		t.Errorf("stdin should stay off when mqtt listener is configured")
	}
	if cfg.MQTT.Topics.Commands != "care/drishti/kitchen-1/commands" {
		t.Errorf("commands topic = %q", cfg.MQTT.Topics.Commands)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"bad instance id", "instance_id: Kitchen_1\n", "instance_id"},
		{"bad log format", "log:\n  format: xml\n", "log.format"},
		{"negative pool", "loop:\n  worker_pool_size: -1\n", "worker_pool_size"},
		{"volume out of range", "speech:\n  volume: 1.5\n", "volume"},
		{"confidence out of range", "perception:\n  object_confidence: 2\n", "object_confidence"},
		{"mqtt listener without broker", "listeners:\n  mqtt: true\n", "mqtt.broker"},
		{"process listener without command", "listeners:\n  process: {}\n", "listeners.process.command"},
		{"bad display", "display:\n  mode: x11\n", "display.mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatalf("Load() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverridesSecrets(t *testing.T) {
	t.Setenv(EnvDeepgramAPIKey, "dg-key")
	t.Setenv(EnvMQTTBroker, "broker:1883")
	t.Setenv(EnvCameraURL, "rtsp://cam/stream")

	cfg, err := Load(writeConfig(t, "speech:\n  deepgram:\n    api_key: from-file\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Speech.Deepgram.APIKey != "dg-key" {
		t.Errorf("deepgram key = %q, want env value", cfg.Speech.Deepgram.APIKey)
	}
	if cfg.MQTT.Broker != "broker:1883" {
		t.Errorf("broker = %q", cfg.MQTT.Broker)
	}
	if cfg.Camera.URL != "rtsp://cam/stream" {
		t.Errorf("camera url = %q", cfg.Camera.URL)
	}
}

func TestLoadDotEnvMissingFileIsNotAnError(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
}
