package models

import "math"

// Affine is a 6-parameter pixel-to-CRS transform in GDAL/rasterio order:
//
//	x = A*col + B*row + C
//	y = D*col + E*row + F
//
// Pixel (0, 0) addresses the upper-left corner of the upper-left pixel.
type Affine struct {
	A, B, C float64
	D, E, F float64
}

// NewAffine builds an Affine from a [a, b, c, d, e, f] coefficient slice
func NewAffine(c [6]float64) Affine {
	return Affine{A: c[0], B: c[1], C: c[2], D: c[3], E: c[4], F: c[5]}
}

// Coefficients returns the transform as [a, b, c, d, e, f]
func (a Affine) Coefficients() [6]float64 {
	return [6]float64{a.A, a.B, a.C, a.D, a.E, a.F}
}

// RasterDataset represents a decoded raster borrowed read-only by the pipeline
type RasterDataset struct {
	// Label identifies the raster within a stack (commonly a year)
	Label string

	// Data holds the pixel values band-major: Data[b*Width*Height + row*Width + col]
	Data []float64

	// Width, Height and Bands are the grid dimensions
	Width, Height, Bands int

	// Transform maps pixel indices to native CRS coordinates
	Transform Affine

	// CRS is the identifier of the native coordinate reference system
	CRS string

	// NoData is the optional sentinel meaning "no valid measurement"
	NoData *float64
}

// Band returns a view of band b. The returned slice must not be modified.
func (r *RasterDataset) Band(b int) []float64 {
	n := r.Width * r.Height
	return r.Data[b*n : (b+1)*n]
}

// IsValid reports whether v is a finite, non-nodata value
func IsValid(v float64, nodata *float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	return nodata == nil || v != *nodata
}

// PixelWindow is a half-open pixel range [RowStart, RowStop) x [ColStart, ColStop)
type PixelWindow struct {
	RowStart, RowStop int
	ColStart, ColStop int
}

// Rows returns the number of rows covered by the window
func (w PixelWindow) Rows() int { return w.RowStop - w.RowStart }

// Cols returns the number of columns covered by the window
func (w PixelWindow) Cols() int { return w.ColStop - w.ColStart }

// Empty reports whether the window selects no pixel
func (w PixelWindow) Empty() bool { return w.Rows() <= 0 || w.Cols() <= 0 }

// Extent is a rectangular extent as (left, right, bottom, top)
type Extent struct {
	Left, Right, Bottom, Top float64
}

// Width returns Right - Left
func (e Extent) Width() float64 { return e.Right - e.Left }

// Height returns Top - Bottom
func (e Extent) Height() float64 { return e.Top - e.Bottom }

// Contains reports whether o lies inside e, allowing slack on every side
func (e Extent) Contains(o Extent, slackX, slackY float64) bool {
	return o.Left >= e.Left-slackX && o.Right <= e.Right+slackX &&
		o.Bottom >= e.Bottom-slackY && o.Top <= e.Top+slackY
}

// Intersect returns the overlap of e and o and whether it is non-empty
func (e Extent) Intersect(o Extent) (Extent, bool) {
	r := Extent{
		Left:   math.Max(e.Left, o.Left),
		Right:  math.Min(e.Right, o.Right),
		Bottom: math.Max(e.Bottom, o.Bottom),
		Top:    math.Min(e.Top, o.Top),
	}
	return r, r.Left < r.Right && r.Bottom < r.Top
}

// ClippedRaster is the sub-array selected by a PixelWindow together with the
// extent actually obtained after pixel rounding
type ClippedRaster struct {
	Label string

	// Data is band-major like RasterDataset.Data, sized Bands*Width*Height
	Data []float64

	Width, Height, Bands int

	// Window is the clamped window in the source raster
	Window PixelWindow

	// Transform is the affine transform of the clipped grid
	Transform Affine

	// Extent is expressed in the native CRS
	Extent Extent

	// LonLatExtent is the geographic envelope of Extent
	LonLatExtent Extent

	CRS    string
	NoData *float64
}

// NormalizedRaster holds stretched values in [0, 1]; invalid pixels are NaN
type NormalizedRaster struct {
	Label string
	Data  []float64

	Width, Height, Bands int

	// Lo and Hi are the stretch bounds that produced Data
	Lo, Hi float64
}

// LabelError is a failure attached to one raster of a stack
type LabelError struct {
	Label string
	Err   error
}

func (e *LabelError) Error() string { return e.Label + ": " + e.Err.Error() }

func (e *LabelError) Unwrap() error { return e.Err }
