package types

import (
	"fmt"
	"image"
	"image/color"
)

// UnknownName is reported for faces that match no known identity
const UnknownName = "Unknown"

// BBox is an integer rectangle in frame pixel coordinates.
// X1<X2 and Y1<Y2 are the producer's responsibility.
type BBox struct {
	X1 int `json:"x1" msgpack:"x1"`
	Y1 int `json:"y1" msgpack:"y1"`
	X2 int `json:"x2" msgpack:"x2"`
	Y2 int `json:"y2" msgpack:"y2"`
}

// Rect converts the box to an image.Rectangle
func (b BBox) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// Center returns the box center point
func (b BBox) Center() image.Point {
	return image.Pt((b.X1+b.X2)/2, (b.Y1+b.Y2)/2)
}

// Scale multiplies every coordinate by f
func (b BBox) Scale(f float64) BBox {
	return BBox{
		X1: int(float64(b.X1) * f),
		Y1: int(float64(b.Y1) * f),
		X2: int(float64(b.X2) * f),
		Y2: int(float64(b.Y2) * f),
	}
}

func (b BBox) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", b.X1, b.Y1, b.X2, b.Y2)
}

// Detection is one object found by the detector
type Detection struct {
	Label      string  `json:"label"`
	BBox       BBox    `json:"bbox"`
	Direction  string  `json:"direction"`
	Confidence float64 `json:"confidence"`
}

// TextBlock is one region of text found by the OCR layout pass
type TextBlock struct {
	BBox BBox   `json:"bbox"`
	Text string `json:"text,omitempty"`
}

// Face is one recognized (or unrecognized) face
type Face struct {
	BBox       BBox    `json:"bbox"`
	Name       string  `json:"name"`
	Similarity float64 `json:"similarity,omitempty"`
}

// Known reports whether the face matched a gallery identity
func (f Face) Known() bool {
	return f.Name != "" && f.Name != UnknownName
}

// RGB is a display color
type RGB struct {
	R, G, B uint8
}

// NRGBA converts to an opaque color.NRGBA
func (c RGB) NRGBA() color.NRGBA {
	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: 0xff}
}
