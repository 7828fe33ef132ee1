package annotate

import (
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	strokeWidth  = 2
	anchorRadius = 4
	captionLift  = 10
	captionFloor = 20
)

// Draw renders one annotation as a box outline, a caption above the box
// and a filled anchor dot at the top-left corner. Pixels outside img are
// clipped.
func Draw(img *image.NRGBA, a Annotation) {
	c := a.Color.NRGBA()
	r := a.BBox.Rect()

	drawRect(img, r, c)
	drawDot(img, r.Min, anchorRadius, c)

	if a.Caption == "" {
		return
	}
	y := r.Min.Y - captionLift
	if y < captionFloor {
		y = captionFloor
	}
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(r.Min.X, y),
	}
	d.DrawString(a.Caption)
}

func drawRect(img *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	for t := 0; t < strokeWidth; t++ {
		for x := r.Min.X; x <= r.Max.X; x++ {
			setPixel(img, x, r.Min.Y+t, c)
			setPixel(img, x, r.Max.Y-t, c)
		}
		for y := r.Min.Y; y <= r.Max.Y; y++ {
			setPixel(img, r.Min.X+t, y, c)
			setPixel(img, r.Max.X-t, y, c)
		}
	}
}

func drawDot(img *image.NRGBA, p image.Point, radius int, c color.NRGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				setPixel(img, p.X+dx, p.Y+dy, c)
			}
		}
	}
}

func setPixel(img *image.NRGBA, x, y int, c color.NRGBA) {
	if (image.Point{X: x, Y: y}).In(img.Rect) {
		img.SetNRGBA(x, y, c)
	}
}
