package bbox

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"

	"bboxtool/internal/models"
	"bboxtool/pkg/coords"
)

// PixelCorners are two opposite corners of a rectangle dragged on the
// reference image, in image coordinates (X = column, Y = row).
type PixelCorners struct {
	X1, Y1 float64
	X2, Y2 float64
}

// Sorted returns the corners ordered so that (X1, Y1) is the upper-left one.
func (p PixelCorners) Sorted() PixelCorners {
	return PixelCorners{
		X1: math.Min(p.X1, p.X2), Y1: math.Min(p.Y1, p.Y2),
		X2: math.Max(p.X1, p.X2), Y2: math.Max(p.Y1, p.Y2),
	}
}

// Selector abstracts the interactive selection widget as one synchronous call
// returning the corners once the user has finished.
type Selector interface {
	SelectCorners(ref *models.RasterDataset) (PixelCorners, error)
}

// StaticSelector returns corners fixed in advance (CLI flags, config files, tests).
type StaticSelector struct {
	Corners PixelCorners
}

// SelectCorners implements Selector
func (s StaticSelector) SelectCorners(*models.RasterDataset) (PixelCorners, error) {
	return s.Corners, nil
}

// FromPixels converts corners dragged on the reference raster into a Box and
// validates it exactly like Manual. The drag direction does not matter.
func FromPixels(ref *models.RasterDataset, t coords.Transformer, corners PixelCorners) (Box, error) {
	if ref == nil {
		return Box{}, fmt.Errorf("%w: no reference raster for pixel selection", ErrValidation)
	}
	c := corners.Sorted()
	for _, v := range []float64{c.X1, c.Y1, c.X2, c.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Box{}, fmt.Errorf("%w: non-finite pixel corner %+v", ErrValidation, corners)
		}
	}
	if c.X1 == c.X2 || c.Y1 == c.Y2 {
		return Box{}, fmt.Errorf("%w: pixel selection %+v has zero area", ErrValidation, corners)
	}

	var lons, lats []float64
	for _, p := range [][2]float64{{c.Y1, c.X1}, {c.Y1, c.X2}, {c.Y2, c.X1}, {c.Y2, c.X2}} {
		x, y := t.PixelToGeo(ref, p[0], p[1])
		lon, lat, err := t.GeoToLonLat(ref, x, y)
		if err != nil {
			return Box{}, err
		}
		lons = append(lons, lon)
		lats = append(lats, lat)
	}
	return Manual(ref, t, floats.Min(lons), floats.Max(lons), floats.Min(lats), floats.Max(lats))
}

// ParsePixelCorners parses "x1,y1,x2,y2".
func ParsePixelCorners(s string) (PixelCorners, error) {
	v, err := parseFour(s)
	if err != nil {
		return PixelCorners{}, err
	}
	return PixelCorners{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}, nil
}

// Parse parses "lonMin,lonMax,latMin,latMax" into a validated Box.
func Parse(s string) (Box, error) {
	v, err := parseFour(s)
	if err != nil {
		return Box{}, err
	}
	return New(v[0], v[1], v[2], v[3])
}

func parseFour(s string) ([4]float64, error) {
	var out [4]float64
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return out, fmt.Errorf("%w: expected 4 comma-separated numbers, got %q", ErrValidation, s)
	}
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return out, fmt.Errorf("%w: %q: %v", ErrValidation, p, err)
		}
		out[i] = f
	}
	return out, nil
}
