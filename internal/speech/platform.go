package speech

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// CommandSynthesizer speaks by running an OS text-to-speech utility
type CommandSynthesizer struct {
	name  string
	bin   string
	args  func(text string, v Voice) []string
	stdin bool // pass text on stdin instead of argv
	voice Voice

	lookPath func(string) (string, error)
}

// Name returns the driver name
func (c *CommandSynthesizer) Name() string { return c.name }

// Synthesize runs the utility and waits for it to exit
func (c *CommandSynthesizer) Synthesize(ctx context.Context, text string) error {
	path, err := c.lookPath(c.bin)
	if err != nil {
		return fmt.Errorf("%s not installed: %w", c.bin, err)
	}

	cmd := exec.CommandContext(ctx, path, c.args(text, c.voice)...)
	if c.stdin {
		cmd.Stdin = strings.NewReader(text)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", c.bin, err, msg)
		}
		return fmt.Errorf("%s: %w", c.bin, err)
	}
	return nil
}

type platformDriver struct {
	name  string
	bin   string
	stdin bool
	args  func(text string, v Voice) []string
}

// platformDrivers lists the OS utilities to try per GOOS, preferred first.
// Spoken text can come from the camera, so argv drivers end options with
// "--" before it.
var platformDrivers = map[string][]platformDriver{
	"linux": {
		{name: "spd-say", bin: "spd-say", args: func(text string, v Voice) []string {
			return []string{"-w",
				"-r", strconv.Itoa(clamp((v.Rate-160)/2, -100, 100)),
				"-i", strconv.Itoa(clamp(int(v.Volume*200)-100, -100, 100)),
				"--", text}
		}},
		{name: "espeak-ng", bin: "espeak-ng", args: espeakArgs},
		{name: "espeak", bin: "espeak", args: espeakArgs},
	},
	"darwin": {
		{name: "say", bin: "say", args: func(text string, v Voice) []string {
			return []string{"-r", strconv.Itoa(v.Rate), "--", text}
		}},
		{name: "osascript", bin: "osascript", args: func(text string, v Voice) []string {
			return []string{"-e", "say " + strconv.Quote(text)}
		}},
	},
	"windows": {
		{name: "powershell-speech", bin: "powershell", stdin: true, args: func(text string, v Voice) []string {
			script := fmt.Sprintf("Add-Type -AssemblyName System.Speech; "+
				"$s = New-Object System.Speech.Synthesis.SpeechSynthesizer; "+
				"$s.Rate = %d; $s.Volume = %d; "+
				"$s.Speak([Console]::In.ReadToEnd())",
				clamp((v.Rate-160)/20, -10, 10),
				clamp(int(v.Volume*100), 0, 100))
			return []string{"-NoProfile", "-NonInteractive", "-Command", script}
		}},
	},
}

func espeakArgs(text string, v Voice) []string {
	return []string{
		"-s", strconv.Itoa(v.Rate),
		"-a", strconv.Itoa(clamp(int(v.Volume*100), 0, 200)),
		"--", text,
	}
}

// PlatformDrivers returns the OS-level drivers for goos in preference order.
// Unknown platforms get none.
func PlatformDrivers(goos string, v Voice) []Synthesizer {
	var out []Synthesizer
	for _, d := range platformDrivers[goos] {
		out = append(out, &CommandSynthesizer{
			name:     d.name,
			bin:      d.bin,
			args:     d.args,
			stdin:    d.stdin,
			voice:    v,
			lookPath: exec.LookPath,
		})
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
