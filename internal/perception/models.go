package perception

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/care/drishti/internal/types"
)

// Caller performs one sidecar round trip
type Caller interface {
	Call(ctx context.Context, req Request) (Response, error)
}

// ModelsConfig tunes how frames are sent and results filtered
type ModelsConfig struct {
	MaxSide          int     // longest side sent to the sidecar
	JPEGQuality      int
	ObjectConfidence float64 // detections below this are dropped
	MatchThreshold   float64 // minimum cosine similarity for a named face
}

// Models implements Detector, TextReader and FaceRecognizer on top of a
// sidecar connection and a face gallery.
type Models struct {
	sidecar Caller
	gallery Gallery
	cfg     ModelsConfig
}

var (
	_ Detector       = (*Models)(nil)
	_ TextReader     = (*Models)(nil)
	_ FaceRecognizer = (*Models)(nil)
)

// NewModels creates the sidecar-backed perception capabilities
func NewModels(sidecar Caller, gallery Gallery, cfg ModelsConfig) *Models {
	if cfg.MaxSide <= 0 {
		cfg.MaxSide = 640
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 85
	}
	if gallery == nil {
		gallery = NewMemoryGallery()
	}
	return &Models{sidecar: sidecar, gallery: gallery, cfg: cfg}
}

// encoded is a frame prepared for the sidecar
type encoded struct {
	jpeg          []byte
	width, height int
	scale         float64 // multiply sidecar coordinates by this to get frame coordinates
}

func (m *Models) encode(img image.Image) (encoded, error) {
	if img == nil || img.Bounds().Empty() {
		return encoded{}, fmt.Errorf("perception: empty frame")
	}

	src := img.Bounds()
	sent := img
	if src.Dx() > m.cfg.MaxSide || src.Dy() > m.cfg.MaxSide {
		sent = imaging.Fit(img, m.cfg.MaxSide, m.cfg.MaxSide, imaging.Linear)
	}
	b := sent.Bounds()

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, sent, imaging.JPEG, imaging.JPEGQuality(m.cfg.JPEGQuality)); err != nil {
		return encoded{}, fmt.Errorf("failed to encode frame: %w", err)
	}

	return encoded{
		jpeg:   buf.Bytes(),
		width:  b.Dx(),
		height: b.Dy(),
		scale:  float64(src.Dx()) / float64(b.Dx()),
	}, nil
}

func (m *Models) call(ctx context.Context, op string, frame types.Frame, params map[string]any) (Response, encoded, error) {
	if frame.Empty() {
		return Response{}, encoded{}, fmt.Errorf("perception: empty frame")
	}
	enc, err := m.encode(frame.Image)
	if err != nil {
		return Response{}, enc, err
	}
	resp, err := m.sidecar.Call(ctx, Request{
		Op:     op,
		Width:  enc.width,
		Height: enc.height,
		Frame:  enc.jpeg,
		Params: params,
	})
	return resp, enc, err
}

// Detect runs object detection. Boxes come back in frame coordinates and
// carry a direction even when the sidecar leaves it out.
func (m *Models) Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error) {
	resp, enc, err := m.call(ctx, OpDetect, frame, map[string]any{"confidence": m.cfg.ObjectConfidence})
	if err != nil {
		return nil, err
	}

	detections := make([]types.Detection, 0, len(resp.Detections))
	for _, d := range resp.Detections {
		if d.Confidence < m.cfg.ObjectConfidence {
			continue
		}
		bbox := d.BBox.Scale(enc.scale)
		dir := d.Direction
		if dir == "" {
			dir = Direction(bbox, frame.Width())
		}
		detections = append(detections, types.Detection{
			Label:      d.Label,
			BBox:       bbox,
			Direction:  dir,
			Confidence: d.Confidence,
		})
	}
	return detections, nil
}

// Read returns the text found in the frame, untrimmed
func (m *Models) Read(ctx context.Context, frame types.Frame) (string, error) {
	resp, _, err := m.call(ctx, OpRead, frame, nil)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Layout returns per-block text boxes in frame coordinates
func (m *Models) Layout(ctx context.Context, frame types.Frame) ([]types.TextBlock, error) {
	resp, enc, err := m.call(ctx, OpLayout, frame, nil)
	if err != nil {
		return nil, err
	}

	blocks := make([]types.TextBlock, 0, len(resp.Blocks))
	for _, b := range resp.Blocks {
		blocks = append(blocks, types.TextBlock{BBox: b.BBox.Scale(enc.scale), Text: b.Text})
	}
	return blocks, nil
}

// Recognize finds faces and names each from the gallery
func (m *Models) Recognize(ctx context.Context, frame types.Frame) ([]types.Face, error) {
	resp, enc, err := m.call(ctx, OpFaces, frame, nil)
	if err != nil {
		return nil, err
	}

	faces := make([]types.Face, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		name, sim := types.UnknownName, 0.0
		if len(f.Embedding) > 0 {
			name, sim, err = m.gallery.Match(ctx, f.Embedding, m.cfg.MatchThreshold)
			if err != nil {
				return nil, fmt.Errorf("failed to match face: %w", err)
			}
		}
		faces = append(faces, types.Face{
			BBox:       f.BBox.Scale(enc.scale),
			Name:       name,
			Similarity: sim,
		})
	}
	return faces, nil
}

var knownFaceExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// LoadKnownFaces embeds every jpg/jpeg/png in dir and stores it under the
// file name without extension. Images without a face are skipped. It
// returns the number of faces loaded.
func (m *Models) LoadKnownFaces(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read known faces dir: %w", err)
	}

	loaded := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !knownFaceExts[ext] {
			continue
		}
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		path := filepath.Join(dir, e.Name())

		if err := m.loadKnownFace(ctx, name, path); err != nil {
			if ctx.Err() != nil {
				return loaded, ctx.Err()
			}
			if errors.Is(err, ErrNoFace) {
				slog.Warn("no face found in known face image", "name", name, "path", path)
			} else {
				slog.Warn("failed to load known face", "name", name, "path", path, "error", err)
			}
			continue
		}
		loaded++
		slog.Debug("known face loaded", "name", name)
	}

	slog.Info("known faces loaded", "dir", dir, "count", loaded)
	return loaded, nil
}

func (m *Models) loadKnownFace(ctx context.Context, name, path string) error {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}

	enc, err := m.encode(img)
	if err != nil {
		return err
	}
	resp, err := m.sidecar.Call(ctx, Request{
		Op:     OpEmbed,
		Width:  enc.width,
		Height: enc.height,
		Frame:  enc.jpeg,
	})
	if err != nil {
		return err
	}
	if len(resp.Embedding) == 0 {
		return ErrNoFace
	}
	return m.gallery.Add(ctx, name, resp.Embedding)
}

// Close releases the gallery
func (m *Models) Close() {
	m.gallery.Close()
}
