// Package coords converts between pixel indices, a raster's native CRS and
// geographic longitude/latitude. It is the single place coordinate math lives.
package coords

import (
	"fmt"
	"math"
	"sync"

	"github.com/ctessum/geom/proj"

	"bboxtool/internal/models"
)

// Transformer is the narrow contract the clip and bounding-box code depends on.
// Implementations must be deterministic: identical inputs give bit-identical
// outputs.
type Transformer interface {
	PixelToGeo(ds *models.RasterDataset, row, col float64) (x, y float64)
	GeoToPixel(ds *models.RasterDataset, x, y float64) (row, col float64, err error)
	GeoToLonLat(ds *models.RasterDataset, x, y float64) (lon, lat float64, err error)
	LonLatToGeo(ds *models.RasterDataset, lon, lat float64) (x, y float64, err error)
}

// ProjTransformer implements Transformer on top of github.com/ctessum/geom/proj.
// Parsed spatial references and transforms are memoised per instance and are
// only touched under mu, so one ProjTransformer may serve many goroutines.
type ProjTransformer struct {
	mu         sync.Mutex
	srs        map[string]*proj.SR
	transforms map[[2]string]proj.Transformer
}

// NewProjTransformer creates a transformer with empty caches.
func NewProjTransformer() *ProjTransformer {
	return &ProjTransformer{
		srs:        make(map[string]*proj.SR),
		transforms: make(map[[2]string]proj.Transformer),
	}
}

// PixelToGeo applies the raster's affine transform.
func (t *ProjTransformer) PixelToGeo(ds *models.RasterDataset, row, col float64) (float64, float64) {
	return ApplyAffine(ds.Transform, row, col)
}

// ApplyAffine maps (row, col) through a.
func ApplyAffine(a models.Affine, row, col float64) (x, y float64) {
	x = a.A*col + a.B*row + a.C
	y = a.D*col + a.E*row + a.F
	return x, y
}

// GeoToPixel inverts the raster's affine transform in closed form.
func (t *ProjTransformer) GeoToPixel(ds *models.RasterDataset, x, y float64) (float64, float64, error) {
	return InvertAffinePoint(ds.Transform, x, y)
}

// InvertAffinePoint maps native (x, y) back to (row, col) under a.
func InvertAffinePoint(a models.Affine, x, y float64) (row, col float64, err error) {
	if err := checkInvertible(a); err != nil {
		return 0, 0, err
	}
	det := Determinant(a)
	dx := x - a.C
	dy := y - a.F
	col = (a.E*dx - a.B*dy) / det
	row = (a.A*dy - a.D*dx) / det
	return row, col, nil
}

// GeoToLonLat reprojects native coordinates to WGS84 longitude/latitude.
func (t *ProjTransformer) GeoToLonLat(ds *models.RasterDataset, x, y float64) (float64, float64, error) {
	return t.reproject(ds.CRS, WGS84, x, y)
}

// LonLatToGeo reprojects WGS84 longitude/latitude to native coordinates.
func (t *ProjTransformer) LonLatToGeo(ds *models.RasterDataset, lon, lat float64) (float64, float64, error) {
	return t.reproject(WGS84, ds.CRS, lon, lat)
}

func (t *ProjTransformer) reproject(from, to string, x, y float64) (float64, float64, error) {
	fromDef, err := Definition(from)
	if err != nil {
		return 0, 0, err
	}
	toDef, err := Definition(to)
	if err != nil {
		return 0, 0, err
	}
	if fromDef == toDef {
		return x, y, nil
	}

	// proj transforms mutate their spatial references, so calls are serialized
	t.mu.Lock()
	defer t.mu.Unlock()
	trans, err := t.transformLocked(fromDef, toDef)
	if err != nil {
		return 0, 0, err
	}
	ox, oy, err := trans(x, y)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: reprojecting (%g, %g) from %s to %s: %v", ErrUnsupportedCRS, x, y, from, to, err)
	}
	if math.IsNaN(ox) || math.IsNaN(oy) || math.IsInf(ox, 0) || math.IsInf(oy, 0) {
		return 0, 0, fmt.Errorf("%w: (%g, %g) has no image from %s in %s", ErrUnsupportedCRS, x, y, from, to)
	}
	return ox, oy, nil
}

func (t *ProjTransformer) transformLocked(fromDef, toDef string) (proj.Transformer, error) {
	key := [2]string{fromDef, toDef}
	if tr, ok := t.transforms[key]; ok {
		return tr, nil
	}
	src, err := t.parseLocked(fromDef)
	if err != nil {
		return nil, err
	}
	dst, err := t.parseLocked(toDef)
	if err != nil {
		return nil, err
	}
	tr, err := src.NewTransform(dst)
	if err != nil {
		return nil, fmt.Errorf("%w: while creating transform: %v", ErrUnsupportedCRS, err)
	}
	t.transforms[key] = tr
	return tr, nil
}

func (t *ProjTransformer) parseLocked(def string) (*proj.SR, error) {
	if sr, ok := t.srs[def]; ok {
		return sr, nil
	}
	sr, err := proj.Parse(def)
	if err != nil {
		return nil, fmt.Errorf("%w: while parsing %q: %v", ErrUnsupportedCRS, def, err)
	}
	t.srs[def] = sr
	return sr, nil
}
