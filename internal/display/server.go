package display

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/care/drishti/internal/types"
)

const mjpegBoundary = "drishtiframe"

// StatusFunc reports service health for /readiness
type StatusFunc func() (status any, ready bool)

// ServerConfig configures the preview server
type ServerConfig struct {
	Addr           string
	PreviewMaxSide int
	JPEGQuality    int
}

// Server is an HTTP display: an MJPEG preview of presented frames, a quit
// button, a websocket event feed, and health and metrics endpoints.
type Server struct {
	cfg     ServerConfig
	echo    *echo.Echo
	hub     *Hub
	status  StatusFunc
	started time.Time

	mu      sync.Mutex
	frame   *types.Frame
	seq     uint64
	updated chan struct{}
	closed  bool

	quit     chan struct{}
	quitOnce sync.Once

	ln net.Listener
}

var _ Display = (*Server)(nil)

// NewServer builds the preview server. metrics and status may be nil.
func NewServer(cfg ServerConfig, metrics http.Handler, status StatusFunc) *Server {
	if cfg.PreviewMaxSide <= 0 {
		cfg.PreviewMaxSide = 960
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 75
	}

	s := &Server{
		cfg:     cfg,
		hub:     NewHub(),
		status:  status,
		started: time.Now(),
		updated: make(chan struct{}),
		quit:    make(chan struct{}),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		Skipper: func(c echo.Context) bool {
			switch c.Path() {
			case "/stream", "/events", "/health", "/metrics":
				return true
			}
			return false
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Debug("http request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			)
			return nil
		},
	}))

	e.GET("/", s.handleIndex)
	e.GET("/stream", s.handleStream)
	e.GET("/frame.jpg", s.handleSnapshot)
	e.POST("/quit", s.handleQuit)
	e.GET("/events", echo.WrapHandler(http.HandlerFunc(s.hub.Serve)))
	e.GET("/health", s.handleLiveness)
	e.GET("/readiness", s.handleReadiness)
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}

	s.echo = e
	return s
}

// Hub returns the websocket event hub, an emitter.Publisher
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler exposes the routes, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start binds the listen address and serves in the background. Bind
// errors are returned synchronously.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.ln = ln
	s.echo.Listener = ln

	slog.Info("starting preview server",
		"addr", ln.Addr().String(),
		"endpoints", []string{"/", "/stream", "/quit", "/events", "/health", "/readiness", "/metrics"},
	)

	go func() {
		if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("preview server failed", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Present publishes frame to preview viewers. Encoding happens per viewer
// on demand, so presenting with nobody watching is cheap.
func (s *Server) Present(frame types.Frame) error {
	if frame.Empty() {
		return fmt.Errorf("display: empty frame")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("display: closed")
	}
	s.frame = &frame
	s.seq++
	close(s.updated)
	s.updated = make(chan struct{})
	return nil
}

func (s *Server) latest() (*types.Frame, uint64, <-chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, s.seq, s.updated, s.closed
}

// Quit is closed by POST /quit
func (s *Server) Quit() <-chan struct{} {
	return s.quit
}

// RequestQuit closes the quit channel
func (s *Server) RequestQuit() {
	s.quitOnce.Do(func() {
		slog.Info("quit requested from preview")
		close(s.quit)
	})
}

// Close stops streaming, disconnects event subscribers and shuts the
// HTTP server down.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.updated)
	s.mu.Unlock()

	s.hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.echo.Shutdown(ctx)
}

func (s *Server) encode(frame *types.Frame) ([]byte, error) {
	img := frame.Image
	b := img.Bounds()
	if b.Dx() > s.cfg.PreviewMaxSide || b.Dy() > s.cfg.PreviewMaxSide {
		img = imaging.Fit(img, s.cfg.PreviewMaxSide, s.cfg.PreviewMaxSide, imaging.Box)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(s.cfg.JPEGQuality)); err != nil {
		return nil, fmt.Errorf("failed to encode preview: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Server) handleIndex(c echo.Context) error {
	return c.HTML(http.StatusOK, indexHTML)
}

func (s *Server) handleStream(c echo.Context) error {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	var sent uint64
	for {
		frame, seq, wait, closed := s.latest()
		if closed {
			return nil
		}
		if frame != nil && seq != sent {
			jpeg, err := s.encode(frame)
			if err != nil {
				slog.Warn("preview frame skipped", "error", err)
			} else {
				if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", mjpegBoundary, len(jpeg)); err != nil {
					return nil
				}
				if _, err := w.Write(jpeg); err != nil {
					return nil
				}
				if _, err := w.Write([]byte("\r\n")); err != nil {
					return nil
				}
				w.Flush()
			}
			sent = seq
		}

		select {
		case <-wait:
		case <-c.Request().Context().Done():
			return nil
		}
	}
}

func (s *Server) handleSnapshot(c echo.Context) error {
	frame, _, _, _ := s.latest()
	if frame == nil {
		return c.String(http.StatusServiceUnavailable, "no frame yet")
	}
	jpeg, err := s.encode(frame)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.Blob(http.StatusOK, "image/jpeg", jpeg)
}

func (s *Server) handleQuit(c echo.Context) error {
	s.RequestQuit()
	return c.JSON(http.StatusAccepted, map[string]string{"status": "quitting"})
}

func (s *Server) handleLiveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": "alive",
		"uptime": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleReadiness(c echo.Context) error {
	if s.status == nil {
		return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
	}
	status, ready := s.status()
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}
