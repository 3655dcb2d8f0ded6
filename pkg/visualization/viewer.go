package visualization

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	"bboxtool/internal/models"
	"bboxtool/pkg/aggregate"
)

// DefaultFileName is the composite written under <basePath>/deposit
const DefaultFileName = "stacked_rasters.png"

// colourbarTicks are the tick positions drawn on the colourbar
var colourbarTicks = []float64{0, 0.2, 0.4, 0.6, 0.8, 1.0}

// Renderer turns an aggregated result into images: one titled panel per
// label, stacked vertically, with an optional shared colourbar on the right.
type Renderer struct {
	// Cmap is "gray" or "viridis"; it only applies to single-band panels
	Cmap string

	// PanelWidth is the width every panel is resized to; 0 keeps the widest panel's width
	PanelWidth int

	// MinPanelWidth enlarges narrow clips so titles and captions stay readable
	MinPanelWidth int

	// Gap is the spacing in pixels between panels
	Gap int

	// ColourbarWidth is the width of the colour strip itself
	ColourbarWidth int
}

// NewRenderer creates a renderer with default layout
func NewRenderer(cmap string) *Renderer {
	return &Renderer{
		Cmap:           cmap,
		MinPanelWidth:  200,
		Gap:            8,
		ColourbarWidth: 24,
	}
}

// DefaultSavePath returns <basePath>/deposit/stacked_rasters.png
func DefaultSavePath(basePath string) string {
	return filepath.Join(basePath, "deposit", DefaultFileName)
}

// Panel renders one normalized raster. Invalid (NaN) pixels are transparent.
func (r *Renderer) Panel(n *models.NormalizedRaster) (*image.NRGBA, error) {
	if n.Width <= 0 || n.Height <= 0 {
		return nil, fmt.Errorf("panel %q has no pixels", n.Label)
	}
	cmap, err := lookupCmap(r.Cmap)
	if err != nil {
		return nil, err
	}

	img := image.NewNRGBA(image.Rect(0, 0, n.Width, n.Height))
	size := n.Width * n.Height
	for y := 0; y < n.Height; y++ {
		for x := 0; x < n.Width; x++ {
			i := y*n.Width + x
			if n.Bands >= 3 {
				rv, gv, bv := n.Data[i], n.Data[size+i], n.Data[2*size+i]
				if math.IsNaN(rv) || math.IsNaN(gv) || math.IsNaN(bv) {
					continue
				}
				img.SetNRGBA(x, y, color.NRGBA{R: toByte(rv), G: toByte(gv), B: toByte(bv), A: 255})
				continue
			}
			v := n.Data[i]
			if math.IsNaN(v) {
				continue
			}
			img.SetNRGBA(x, y, cmap(v))
		}
	}
	return img, nil
}

// Colourbar renders a vertical strip with 1 at the top and 0 at the bottom,
// with tick marks at every 0.2
func (r *Renderer) Colourbar(height int) (*image.NRGBA, error) {
	cmap, err := lookupCmap(r.Cmap)
	if err != nil {
		return nil, err
	}
	w := r.ColourbarWidth
	img := imaging.New(w, height, color.White)
	barW := w * 2 / 3
	for y := 0; y < height; y++ {
		v := 1 - float64(y)/math.Max(1, float64(height-1))
		c := cmap(v)
		for x := 0; x < barW; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	for _, tick := range colourbarTicks {
		y := tickY(tick, height)
		for x := barW; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{A: 255})
		}
	}
	return img, nil
}

func tickY(tick float64, height int) int {
	return int(math.Round((1 - tick) * float64(height-1)))
}

// tickLabels formats the colour scale value at every tick
func tickLabels(cb aggregate.Colourbar) []string {
	labels := make([]string, len(colourbarTicks))
	for i, tick := range colourbarTicks {
		labels[i] = fmt.Sprintf("%.3g", cb.Min+tick*(cb.Max-cb.Min))
	}
	return labels
}

// caption describes the geographic extent shown under a panel
func caption(e models.Extent) string {
	return fmt.Sprintf("lon %.4f..%.4f  lat %.4f..%.4f", e.Left, e.Right, e.Bottom, e.Top)
}

// Composite stacks the panels of res in label order. Every panel has its
// title above it and, when known, its lon/lat extent below it. With the
// colourbar on, tick values and the colourbar label are drawn beside it.
func (r *Renderer) Composite(res *aggregate.Result) (*image.NRGBA, error) {
	if len(res.Labels) == 0 {
		return nil, fmt.Errorf("nothing to render")
	}

	width := r.PanelWidth
	panels := make([]*image.NRGBA, 0, len(res.Labels))
	for _, label := range res.Labels {
		p, err := r.Panel(res.Arrays[label])
		if err != nil {
			return nil, err
		}
		panels = append(panels, p)
		if r.PanelWidth == 0 && p.Bounds().Dx() > width {
			width = p.Bounds().Dx()
		}
	}
	if r.PanelWidth == 0 && width < r.MinPanelWidth {
		width = r.MinPanelWidth
	}

	strip := stripHeight()
	height := 0
	footers := make([]bool, len(panels))
	for i, p := range panels {
		if p.Bounds().Dx() != width {
			panels[i] = imaging.Resize(p, width, 0, imaging.NearestNeighbor)
		}
		_, footers[i] = res.LonLatExtents[res.Labels[i]]
		height += strip + panels[i].Bounds().Dy()
		if footers[i] {
			height += strip
		}
	}
	height += r.Gap * (len(panels) - 1)

	var ticks []string
	tickW := 0
	total := width
	if res.Colourbar.On {
		ticks = tickLabels(res.Colourbar)
		for _, t := range ticks {
			if w := textWidth(t); w > tickW {
				tickW = w
			}
		}
		total += r.Gap + r.ColourbarWidth + textPad + tickW + 2*textPad + face.Metrics().Height.Ceil()
	}
	canvas := imaging.New(total, height, color.White)

	y := 0
	for i, p := range panels {
		label := res.Labels[i]
		title := res.Titles[label]
		if title == "" {
			title = label
		}
		drawCentred(canvas, title, 0, width, y+textPad, color.Black)
		y += strip

		canvas = imaging.Overlay(canvas, p, image.Pt(0, y), 1.0)
		y += p.Bounds().Dy()

		if footers[i] {
			drawText(canvas, caption(res.LonLatExtents[label]), 0, y+textPad, color.Black)
			y += strip
		}
		y += r.Gap
	}

	if res.Colourbar.On {
		top, bottom := strip, height
		if footers[len(footers)-1] {
			bottom -= strip
		}
		barH := bottom - top
		bar, err := r.Colourbar(barH)
		if err != nil {
			return nil, err
		}
		x := width + r.Gap
		canvas = imaging.Paste(canvas, bar, image.Pt(x, top))

		x += r.ColourbarWidth + textPad
		half := face.Metrics().Height.Ceil() / 2
		for i, tick := range colourbarTicks {
			drawText(canvas, ticks[i], x, top+tickY(tick, barH)-half, color.Black)
		}

		x += tickW + textPad
		text := verticalText(res.Colourbar.Label, color.Black)
		ty := top + (barH-text.Bounds().Dy())/2
		if ty < 0 {
			ty = 0
		}
		canvas = imaging.Overlay(canvas, text, image.Pt(x, ty), 1.0)
	}
	return canvas, nil
}

// Save writes img to filename, creating parent directories. The format
// follows the extension.
func (r *Renderer) Save(img image.Image, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	return imaging.Save(img, filename)
}

// SavePanels writes one <label>.png per panel into outputDir
func (r *Renderer) SavePanels(res *aggregate.Result, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}
	for _, label := range res.Labels {
		p, err := r.Panel(res.Arrays[label])
		if err != nil {
			return err
		}
		if err := r.Save(p, filepath.Join(outputDir, label+".png")); err != nil {
			return err
		}
	}
	return nil
}

func toByte(v float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
}
