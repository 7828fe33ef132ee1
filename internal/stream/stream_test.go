package stream

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestResolveDevice(t *testing.T) {
	present := func(devs ...string) func(string) bool {
		return func(p string) bool {
			for _, d := range devs {
				if d == p {
					return true
				}
			}
			return false
		}
	}

	tests := []struct {
		name    string
		device  string
		exists  func(string) bool
		want    string
		wantErr bool
	}{
		{"auto picks first present", "auto", present("/dev/video2", "/dev/video3"), "/dev/video2", false},
		{"empty behaves like auto", "", present("/dev/video0"), "/dev/video0", false},
		{"auto with nothing present", "auto", present(), "", true},
		{"explicit present", "/dev/video7", present("/dev/video7"), "/dev/video7", false},
		{"explicit missing", "/dev/video7", present("/dev/video0"), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveDevice(tt.device, tt.exists)
			if tt.wantErr {
				if !errors.Is(err, ErrNoCamera) {
					t.Fatalf("error = %v, want ErrNoCamera", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("device = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewGstSourceRejectsBadConfig(t *testing.T) {
	tests := []GstConfig{
		{URL: "rtsp://cam", Width: 0, Height: 480, FPS: 15},
		{URL: "rtsp://cam", Width: 640, Height: 480, FPS: 0},
	}
	for _, cfg := range tests {
		if _, err := NewGstSource(cfg); err == nil {
			t.Errorf("NewGstSource(%+v) expected error", cfg)
		}
	}
}

func TestMockStreamEmitsFrames(t *testing.T) {
	m := NewMockStream(32, 24, 50)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.Start(ctx); err == nil {
		t.Error("second Start() should fail")
	}

	select {
	case f := <-m.Frames():
		if f.Width() != 32 || f.Height() != 24 {
			t.Errorf("frame size = %dx%d", f.Width(), f.Height())
		}
		if f.TraceID == "" {
			t.Error("frame missing trace id")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame from mock stream")
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
	if _, ok := <-m.Frames(); ok {
		// drain a buffered frame, then the channel must be closed
		if _, ok := <-m.Frames(); ok {
			if _, ok := <-m.Frames(); ok {
				t.Error("frames channel not closed after Stop")
			}
		}
	}
}
