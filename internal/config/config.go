package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete drishti configuration
type Config struct {
	InstanceID       string            `yaml:"instance_id"`
	ShutdownTimeoutS float64           `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	Log              LogConfig         `yaml:"log"`
	Camera           CameraConfig      `yaml:"camera"`
	Loop             LoopConfig        `yaml:"loop"`
	Annotations      AnnotationsConfig `yaml:"annotations"`
	Speech           SpeechConfig      `yaml:"speech"`
	Continuous       ContinuousConfig  `yaml:"continuous"`
	Perception       PerceptionConfig  `yaml:"perception"`
	Faces            FacesConfig       `yaml:"faces"`
	Display          DisplayConfig     `yaml:"display"`
	Listeners        ListenersConfig   `yaml:"listeners"`
	MQTT             MQTTConfig        `yaml:"mqtt"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Format string `yaml:"format"` // text, json
	Level  string `yaml:"level"`  // debug, info, warn, error
}

// CameraConfig contains frame source settings
type CameraConfig struct {
	Device       string  `yaml:"device"` // /dev/videoN or "auto"
	URL          string  `yaml:"url"`    // rtsp:// url, takes precedence over device
	Mock         bool    `yaml:"mock"`   // synthetic frames, no capture hardware
	Width        int     `yaml:"width"`
	Height       int     `yaml:"height"`
	FPS          int     `yaml:"fps"`
	OpenTimeoutS float64 `yaml:"open_timeout_s"` // first frame must arrive within this window
}

// LoopConfig contains main loop cadence settings
type LoopConfig struct {
	AcquireTimeoutS float64 `yaml:"acquire_timeout_s"`
	RetrySleepS     float64 `yaml:"retry_sleep_s"`
	WorkerPoolSize  int     `yaml:"worker_pool_size"` // 0 = unbounded fan-out
}

// AnnotationsConfig contains annotation store settings
type AnnotationsConfig struct {
	TTLS     float64 `yaml:"ttl_s"`
	Capacity int     `yaml:"capacity"`
}

// SpeechConfig contains speech gate and driver settings
type SpeechConfig struct {
	CooldownS        float64          `yaml:"cooldown_s"`
	Rate             int              `yaml:"rate"`   // words per minute
	Volume           float64          `yaml:"volume"` // 0.0 - 1.0
	DeliveryTimeoutS float64          `yaml:"delivery_timeout_s"`
	Player           []string         `yaml:"player"` // PCM player argv for cloud drivers
	Drivers          []string         `yaml:"drivers,omitempty"`
	Deepgram         DeepgramConfig   `yaml:"deepgram"`
	ElevenLabs       ElevenLabsConfig `yaml:"elevenlabs"`
}

// DeepgramConfig enables the Deepgram websocket driver when APIKey is set
type DeepgramConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// ElevenLabsConfig enables the ElevenLabs streaming driver when APIKey and VoiceID are set
type ElevenLabsConfig struct {
	APIKey  string `yaml:"api_key"`
	VoiceID string `yaml:"voice_id"`
	ModelID string `yaml:"model_id"`
}

// ContinuousConfig gates the optional periodic scan in the main loop
type ContinuousConfig struct {
	Markers            bool    `yaml:"markers"`
	Speech             bool    `yaml:"speech"`
	DetectionIntervalS float64 `yaml:"detection_interval_s"`
	MarkerDebounceS    float64 `yaml:"marker_debounce_s"`
	ObjectDebounceS    float64 `yaml:"object_debounce_s"`
}

// PerceptionConfig contains sidecar settings
type PerceptionConfig struct {
	Command          string   `yaml:"command"`
	Args             []string `yaml:"args"`
	TimeoutS         float64  `yaml:"timeout_s"`
	MaxSide          int      `yaml:"max_side"`
	JPEGQuality      int      `yaml:"jpeg_quality"`
	ObjectConfidence float64  `yaml:"object_confidence"`
}

// FacesConfig contains face gallery settings
type FacesConfig struct {
	KnownDir       string  `yaml:"known_dir"`
	MatchThreshold float64 `yaml:"match_threshold"`
	DatabaseURL    string  `yaml:"database_url"` // empty = in-memory gallery
}

// DisplayConfig contains display sink settings
type DisplayConfig struct {
	Mode           string `yaml:"mode"` // http, none
	Addr           string `yaml:"addr"`
	PreviewMaxSide int    `yaml:"preview_max_side"`
	JPEGQuality    int    `yaml:"jpeg_quality"`
}

// ListenersConfig selects command sources
type ListenersConfig struct {
	Stdin   bool                   `yaml:"stdin"`
	Process *ProcessListenerConfig `yaml:"process,omitempty"`
	MQTT    bool                   `yaml:"mqtt"`
}

// ProcessListenerConfig runs a speech recognizer that prints JSON lines
type ProcessListenerConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Broker string          `yaml:"broker"` // empty disables MQTT
	Topics MQTTTopics      `yaml:"topics"`
	QoS    map[string]byte `yaml:"qos"`
}

// MQTTTopics contains topic templates
type MQTTTopics struct {
	Commands string `yaml:"commands"`
	Events   string `yaml:"events"`
}

// Load reads and parses a YAML configuration file, applies .env and
// environment overrides, then validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return finish(&cfg)
}

// Default returns a validated configuration built only from defaults and
// the environment.
func Default() (*Config, error) {
	return finish(&Config{})
}

func finish(cfg *Config) (*Config, error) {
	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Seconds converts a fractional seconds setting to a time.Duration
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ShutdownTimeout returns the graceful shutdown budget
func (c *Config) ShutdownTimeout() time.Duration {
	return Seconds(c.ShutdownTimeoutS)
}
