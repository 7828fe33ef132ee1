package config

import (
	"fmt"
	"regexp"
	"runtime"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Defaults taken from the field-tested assistive setup
const (
	DefaultInstanceID         = "drishti"
	DefaultShutdownTimeoutS   = 5.0
	DefaultAnnotationTTLS     = 2.0
	DefaultAnnotationCapacity = 60
	DefaultSpeechCooldownS    = 1.0
	DefaultVoiceRate          = 160
	DefaultVoiceVolume        = 1.0
	DefaultDetectionIntervalS = 0.25
	DefaultMarkerDebounceS    = 1.5
	DefaultObjectDebounceS    = 2.0
	DefaultObjectConfidence   = 0.5
	DefaultFaceMatchThreshold = 0.9
	DefaultKnownFacesDir      = "known_faces"
)

// Validate checks if the configuration is valid and fills defaults
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		cfg.InstanceID = DefaultInstanceID
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}
	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = DefaultShutdownTimeoutS
	}

	switch cfg.Log.Format {
	case "":
		cfg.Log.Format = "text"
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be 'text' or 'json', got '%s'", cfg.Log.Format)
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if err := validateCamera(&cfg.Camera); err != nil {
		return fmt.Errorf("camera: %w", err)
	}

	if cfg.Loop.AcquireTimeoutS <= 0 {
		cfg.Loop.AcquireTimeoutS = 0.1
	}
	if cfg.Loop.RetrySleepS <= 0 {
		cfg.Loop.RetrySleepS = 0.1
	}
	if cfg.Loop.WorkerPoolSize < 0 {
		return fmt.Errorf("loop.worker_pool_size must be >= 0 (0 = unbounded)")
	}

	if cfg.Annotations.TTLS <= 0 {
		cfg.Annotations.TTLS = DefaultAnnotationTTLS
	}
	if cfg.Annotations.Capacity <= 0 {
		cfg.Annotations.Capacity = DefaultAnnotationCapacity
	}

	if err := validateSpeech(&cfg.Speech); err != nil {
		return fmt.Errorf("speech: %w", err)
	}

	if cfg.Continuous.DetectionIntervalS <= 0 {
		cfg.Continuous.DetectionIntervalS = DefaultDetectionIntervalS
	}
	if cfg.Continuous.MarkerDebounceS <= 0 {
		cfg.Continuous.MarkerDebounceS = DefaultMarkerDebounceS
	}
	if cfg.Continuous.ObjectDebounceS <= 0 {
		cfg.Continuous.ObjectDebounceS = DefaultObjectDebounceS
	}

	if cfg.Perception.Command == "" {
		cfg.Perception.Command = "models/run_perception.sh"
	}
	if cfg.Perception.TimeoutS <= 0 {
		cfg.Perception.TimeoutS = 10
	}
	if cfg.Perception.MaxSide <= 0 {
		cfg.Perception.MaxSide = 640
	}
	if cfg.Perception.JPEGQuality <= 0 || cfg.Perception.JPEGQuality > 100 {
		cfg.Perception.JPEGQuality = 85
	}
	if cfg.Perception.ObjectConfidence <= 0 {
		cfg.Perception.ObjectConfidence = DefaultObjectConfidence
	}
	if cfg.Perception.ObjectConfidence > 1 {
		return fmt.Errorf("perception.object_confidence must be <= 1")
	}

	if cfg.Faces.KnownDir == "" {
		cfg.Faces.KnownDir = DefaultKnownFacesDir
	}
	if cfg.Faces.MatchThreshold <= 0 {
		cfg.Faces.MatchThreshold = DefaultFaceMatchThreshold
	}
	if cfg.Faces.MatchThreshold > 1 {
		return fmt.Errorf("faces.match_threshold must be <= 1")
	}

	switch cfg.Display.Mode {
	case "":
		cfg.Display.Mode = "http"
	case "http", "none":
	default:
		return fmt.Errorf("display.mode must be 'http' or 'none', got '%s'", cfg.Display.Mode)
	}
	if cfg.Display.Addr == "" {
		cfg.Display.Addr = ":8080"
	}
	if cfg.Display.PreviewMaxSide <= 0 {
		cfg.Display.PreviewMaxSide = 960
	}
	if cfg.Display.JPEGQuality <= 0 || cfg.Display.JPEGQuality > 100 {
		cfg.Display.JPEGQuality = 75
	}

	if p := cfg.Listeners.Process; p != nil && p.Command == "" {
		return fmt.Errorf("listeners.process.command is required when the process listener is configured")
	}
	if cfg.Listeners.MQTT && cfg.MQTT.Broker == "" {
		return fmt.Errorf("listeners.mqtt requires mqtt.broker")
	}
	if !cfg.Listeners.Stdin && cfg.Listeners.Process == nil && !cfg.Listeners.MQTT {
		cfg.Listeners.Stdin = true
	}

	if cfg.MQTT.Topics.Commands == "" {
		cfg.MQTT.Topics.Commands = fmt.Sprintf("care/drishti/%s/commands", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Events == "" {
		cfg.MQTT.Topics.Events = fmt.Sprintf("care/drishti/%s/events", cfg.InstanceID)
	}
	if cfg.MQTT.QoS == nil {
		cfg.MQTT.QoS = map[string]byte{
			"commands": 1,
			"events":   0,
		}
	}

	return nil
}

func validateCamera(c *CameraConfig) error {
	if c.URL == "" && c.Device == "" && !c.Mock {
		c.Device = "auto"
	}
	if c.Width <= 0 {
		c.Width = 640
	}
	if c.Height <= 0 {
		c.Height = 480
	}
	if c.FPS <= 0 {
		c.FPS = 15
	}
	if c.FPS > 120 {
		return fmt.Errorf("fps must be <= 120, got %d", c.FPS)
	}
	if c.OpenTimeoutS <= 0 {
		c.OpenTimeoutS = 5
	}
	return nil
}

func validateSpeech(s *SpeechConfig) error {
	if s.CooldownS <= 0 {
		s.CooldownS = DefaultSpeechCooldownS
	}
	if s.Rate <= 0 {
		s.Rate = DefaultVoiceRate
	}
	if s.Volume == 0 {
		s.Volume = DefaultVoiceVolume
	}
	if s.Volume < 0 || s.Volume > 1 {
		return fmt.Errorf("volume must be within [0, 1], got %.2f", s.Volume)
	}
	if s.DeliveryTimeoutS <= 0 {
		s.DeliveryTimeoutS = 30
	}
	if len(s.Player) == 0 {
		s.Player = defaultPlayer()
	}
	if s.Deepgram.Model == "" {
		s.Deepgram.Model = "aura-2-thalia-en"
	}
	if s.ElevenLabs.ModelID == "" {
		s.ElevenLabs.ModelID = "eleven_flash_v2_5"
	}
	for _, d := range s.Drivers {
		if d == "" {
			return fmt.Errorf("drivers must not contain empty names")
		}
	}
	return nil
}

// defaultPlayer returns an argv that plays signed 16-bit mono 48kHz PCM from stdin
func defaultPlayer() []string {
	if runtime.GOOS == "linux" {
		return []string{"aplay", "-q", "-f", "S16_LE", "-r", "48000", "-c", "1"}
	}
	return []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet",
		"-f", "s16le", "-ar", "48000", "-ac", "1", "-"}
}
