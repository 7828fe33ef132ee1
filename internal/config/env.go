package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables that override file settings. Secrets are expected
// to come from here rather than from the YAML file.
const (
	EnvDeepgramAPIKey    = "DRISHTI_DEEPGRAM_API_KEY"
	EnvElevenLabsAPIKey  = "DRISHTI_ELEVENLABS_API_KEY"
	EnvElevenLabsVoiceID = "DRISHTI_ELEVENLABS_VOICE_ID"
	EnvDatabaseURL       = "DRISHTI_DATABASE_URL"
	EnvMQTTBroker        = "DRISHTI_MQTT_BROKER"
	EnvCameraURL         = "DRISHTI_CAMERA_URL"
)

// LoadDotEnv loads variables from .env files into the process environment.
// Variables already set in the environment win. A missing file is not an error.
func LoadDotEnv(files ...string) error {
	err := godotenv.Load(files...)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		slog.Debug("no .env file found", "files", files)
		return nil
	}
	return err
}

func applyEnv(cfg *Config) {
	setFromEnv(&cfg.Speech.Deepgram.APIKey, EnvDeepgramAPIKey)
	setFromEnv(&cfg.Speech.ElevenLabs.APIKey, EnvElevenLabsAPIKey)
	setFromEnv(&cfg.Speech.ElevenLabs.VoiceID, EnvElevenLabsVoiceID)
	setFromEnv(&cfg.Faces.DatabaseURL, EnvDatabaseURL)
	setFromEnv(&cfg.MQTT.Broker, EnvMQTTBroker)
	setFromEnv(&cfg.Camera.URL, EnvCameraURL)
}

func setFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
