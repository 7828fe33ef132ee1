package speech

import (
	"log/slog"
	"runtime"
)

// ChainConfig selects and orders drivers
type ChainConfig struct {
	Voice  Voice
	Player []string

	DeepgramAPIKey string
	DeepgramModel  string

	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string
	ElevenLabsModelID string

	// Drivers restricts and orders the chain by driver name. Empty keeps
	// the default order: cloud drivers with credentials, then the platform table.
	Drivers []string

	// GOOS overrides runtime.GOOS
	GOOS string
}

// BuildChain assembles the fallback chain for this host
func BuildChain(cfg ChainConfig) *Chain {
	goos := cfg.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}

	var all []Synthesizer
	if dg := NewDeepgram(cfg.DeepgramAPIKey, cfg.DeepgramModel, cfg.Player); dg != nil {
		all = append(all, dg)
	}
	if el := NewElevenLabs(cfg.ElevenLabsAPIKey, cfg.ElevenLabsVoiceID, cfg.ElevenLabsModelID, cfg.Player); el != nil {
		all = append(all, el)
	}
	all = append(all, PlatformDrivers(goos, cfg.Voice)...)

	if len(cfg.Drivers) > 0 {
		byName := make(map[string]Synthesizer, len(all))
		for _, s := range all {
			byName[s.Name()] = s
		}
		var picked []Synthesizer
		for _, name := range cfg.Drivers {
			s, ok := byName[name]
			if !ok {
				slog.Warn("speech driver not available on this host, skipping", "driver", name, "goos", goos)
				continue
			}
			picked = append(picked, s)
		}
		all = picked
	}

	c := NewChain(all...)
	slog.Info("speech driver chain", "drivers", c.Drivers(), "goos", goos)
	return c
}
