package visualization

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// textPad is the space above and below a line of text in a strip
const textPad = 3

var face = basicfont.Face7x13

func textWidth(s string) int {
	return font.MeasureString(face, s).Ceil()
}

// stripHeight is the height of a one-line text strip
func stripHeight() int {
	return face.Metrics().Height.Ceil() + 2*textPad
}

// drawText draws s with its top-left corner at (x, y)
func drawText(dst draw.Image, s string, x, y int, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(s)
}

// drawCentred draws s centred horizontally in [x0, x1) with its top at y
func drawCentred(dst draw.Image, s string, x0, x1, y int, c color.Color) {
	x := x0 + (x1-x0-textWidth(s))/2
	if x < x0 {
		x = x0
	}
	drawText(dst, s, x, y, c)
}

// verticalText renders s reading bottom to top on a transparent background
func verticalText(s string, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, textWidth(s), face.Metrics().Height.Ceil()))
	drawText(img, s, 0, 0, c)
	return imaging.Rotate90(img)
}
