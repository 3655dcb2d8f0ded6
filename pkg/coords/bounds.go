package coords

import (
	"math"

	"github.com/ctessum/geom"
	"gonum.org/v1/gonum/floats"

	"bboxtool/internal/models"
)

// densifySteps is the number of segments each box edge is split into when
// projecting it, so that curved projected edges stay enclosed.
const densifySteps = 16

// NativeBounds returns the envelope, in the raster's native CRS, of the
// geographic box [lonMin, lonMax] x [latMin, latMax].
func NativeBounds(t Transformer, ds *models.RasterDataset, lonMin, lonMax, latMin, latMax float64) (*geom.Bounds, error) {
	b := geom.NewBounds()
	for i := 0; i <= densifySteps; i++ {
		lon := lerp(lonMin, lonMax, i)
		lat := lerp(latMin, latMax, i)
		edge := [][2]float64{
			{lon, latMin}, {lon, latMax},
			{lonMin, lat}, {lonMax, lat},
		}
		for _, p := range edge {
			x, y, err := t.LonLatToGeo(ds, p[0], p[1])
			if err != nil {
				return nil, err
			}
			b.Extend(geom.Point{X: x, Y: y}.Bounds())
		}
	}
	return b, nil
}

// RasterBounds returns the native-CRS footprint of the whole raster.
func RasterBounds(t Transformer, ds *models.RasterDataset) *geom.Bounds {
	return WindowBounds(t, ds, models.PixelWindow{RowStop: ds.Height, ColStop: ds.Width})
}

// WindowBounds returns the native-CRS footprint of a pixel window, taking
// all four corners so rotated transforms are handled.
func WindowBounds(t Transformer, ds *models.RasterDataset, w models.PixelWindow) *geom.Bounds {
	b := geom.NewBounds()
	corners := [][2]int{
		{w.RowStart, w.ColStart}, {w.RowStart, w.ColStop},
		{w.RowStop, w.ColStart}, {w.RowStop, w.ColStop},
	}
	for _, c := range corners {
		x, y := t.PixelToGeo(ds, float64(c[0]), float64(c[1]))
		b.Extend(geom.Point{X: x, Y: y}.Bounds())
	}
	return b
}

// LonLatBounds returns the geographic envelope of a native-CRS extent.
func LonLatBounds(t Transformer, ds *models.RasterDataset, e models.Extent) (models.Extent, error) {
	lons := make([]float64, 0, 4*(densifySteps+1))
	lats := make([]float64, 0, 4*(densifySteps+1))
	for i := 0; i <= densifySteps; i++ {
		x := lerp(e.Left, e.Right, i)
		y := lerp(e.Bottom, e.Top, i)
		for _, p := range [][2]float64{{x, e.Bottom}, {x, e.Top}, {e.Left, y}, {e.Right, y}} {
			lon, lat, err := t.GeoToLonLat(ds, p[0], p[1])
			if err != nil {
				return models.Extent{}, err
			}
			lons = append(lons, lon)
			lats = append(lats, lat)
		}
	}
	return models.Extent{
		Left:   floats.Min(lons),
		Right:  floats.Max(lons),
		Bottom: floats.Min(lats),
		Top:    floats.Max(lats),
	}, nil
}

// lerp returns the i-th of densifySteps+1 evenly spaced values from a to b,
// hitting both ends exactly.
func lerp(a, b float64, i int) float64 {
	if i == densifySteps {
		return b
	}
	return a + float64(i)/densifySteps*(b-a)
}

// ExtentOf converts geom bounds into an Extent.
func ExtentOf(b *geom.Bounds) models.Extent {
	return models.Extent{Left: b.Min.X, Right: b.Max.X, Bottom: b.Min.Y, Top: b.Max.Y}
}

// PixelSize returns the ground size of one pixel along x and y.
func PixelSize(a models.Affine) (float64, float64) {
	return math.Hypot(a.A, a.D), math.Hypot(a.B, a.E)
}
