// Package bbox defines the bounding box value shared by the manual and the
// interactive selection paths. Both paths produce the same validated Box, so
// nothing downstream can tell how a box was chosen.
package bbox

import (
	"errors"
	"fmt"
	"math"

	"bboxtool/internal/logging"
	"bboxtool/internal/models"
	"bboxtool/pkg/coords"
)

var (
	// ErrValidation reports a malformed box: bad ordering or non-finite bounds.
	ErrValidation = errors.New("invalid bounding box")

	// ErrOutOfBounds reports a box lying entirely outside a raster's coverage.
	ErrOutOfBounds = errors.New("bounding box outside raster coverage")
)

// Coverage describes how a box relates to the reference raster it was checked against
type Coverage int

const (
	// CoverageUnknown means the box was never checked against a raster
	CoverageUnknown Coverage = iota
	// CoverageFull means the box lies inside the reference raster
	CoverageFull
	// CoveragePartial means the box extends beyond the reference raster
	CoveragePartial
)

func (c Coverage) String() string {
	switch c {
	case CoverageFull:
		return "full"
	case CoveragePartial:
		return "partial"
	default:
		return "unknown"
	}
}

// Box is an immutable geographic extent. Per-raster pixel windows are always
// derived from it on demand.
type Box struct {
	lonMin, lonMax float64
	latMin, latMax float64
	crs            string
	coverage       Coverage
}

// New validates and builds a WGS84 box. Bounds are never swapped: lonMin must
// be strictly below lonMax and latMin strictly below latMax.
func New(lonMin, lonMax, latMin, latMax float64) (Box, error) {
	for _, v := range []float64{lonMin, lonMax, latMin, latMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Box{}, fmt.Errorf("%w: non-finite bound in (%g, %g, %g, %g)", ErrValidation, lonMin, lonMax, latMin, latMax)
		}
	}
	if lonMin >= lonMax {
		return Box{}, fmt.Errorf("%w: lon_min %g must be below lon_max %g", ErrValidation, lonMin, lonMax)
	}
	if latMin >= latMax {
		return Box{}, fmt.Errorf("%w: lat_min %g must be below lat_max %g", ErrValidation, latMin, latMax)
	}
	if latMin < -90 || latMax > 90 {
		return Box{}, fmt.Errorf("%w: latitude range [%g, %g] exceeds [-90, 90]", ErrValidation, latMin, latMax)
	}
	return Box{lonMin: lonMin, lonMax: lonMax, latMin: latMin, latMax: latMax, crs: coords.WGS84}, nil
}

// Manual builds a box from typed-in geographic bounds and checks it against
// the reference raster. A box extending past the raster is accepted and
// flagged CoveragePartial; one entirely outside fails with ErrOutOfBounds.
// A nil reference skips the coverage check.
func Manual(ref *models.RasterDataset, t coords.Transformer, lonMin, lonMax, latMin, latMax float64) (Box, error) {
	b, err := New(lonMin, lonMax, latMin, latMax)
	if err != nil {
		return Box{}, err
	}
	if ref == nil {
		return b, nil
	}
	return b.checkCoverage(ref, t)
}

func (b Box) checkCoverage(ref *models.RasterDataset, t coords.Transformer) (Box, error) {
	native, err := b.Native(t, ref)
	if err != nil {
		return Box{}, err
	}
	footprint := coords.ExtentOf(coords.RasterBounds(t, ref))
	if _, ok := footprint.Intersect(native); !ok {
		return Box{}, fmt.Errorf("%w: %s does not intersect raster %q", ErrOutOfBounds, b, ref.Label)
	}
	if footprint.Contains(native, 0, 0) {
		b.coverage = CoverageFull
	} else {
		b.coverage = CoveragePartial
		logging.Warnf("Bounding box %s extends beyond reference raster %q", b, ref.Label)
	}
	return b, nil
}

// LonLat returns the geographic bounds as (lonMin, lonMax, latMin, latMax)
func (b Box) LonLat() (lonMin, lonMax, latMin, latMax float64) {
	return b.lonMin, b.lonMax, b.latMin, b.latMax
}

// Extent returns the geographic bounds as an Extent
func (b Box) Extent() models.Extent {
	return models.Extent{Left: b.lonMin, Right: b.lonMax, Bottom: b.latMin, Top: b.latMax}
}

// CRS returns the CRS the bounds are expressed in
func (b Box) CRS() string { return b.crs }

// Coverage returns the result of the reference-raster check
func (b Box) Coverage() Coverage { return b.coverage }

// IsZero reports whether b is the zero value (no box defined)
func (b Box) IsZero() bool { return b.crs == "" }

// Native returns the envelope of the box in the native CRS of ds
func (b Box) Native(t coords.Transformer, ds *models.RasterDataset) (models.Extent, error) {
	nb, err := coords.NativeBounds(t, ds, b.lonMin, b.lonMax, b.latMin, b.latMax)
	if err != nil {
		return models.Extent{}, err
	}
	return coords.ExtentOf(nb), nil
}

func (b Box) String() string {
	return fmt.Sprintf("(lon %.6f..%.6f, lat %.6f..%.6f)", b.lonMin, b.lonMax, b.latMin, b.latMax)
}
