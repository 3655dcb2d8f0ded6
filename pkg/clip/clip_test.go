package clip

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"bboxtool/internal/models"
	"bboxtool/pkg/bbox"
	"bboxtool/pkg/coords"
)

// newRaster creates a single-band raster whose pixel values equal their index
func newRaster(label string, a models.Affine, width, height int, crs string) *models.RasterDataset {
	data := make([]float64, width*height)
	for i := range data {
		data[i] = float64(i)
	}
	return &models.RasterDataset{
		Label:     label,
		Data:      data,
		Width:     width,
		Height:    height,
		Bands:     1,
		Transform: a,
		CRS:       crs,
	}
}

func mustBox(t *testing.T, lonMin, lonMax, latMin, latMax float64) bbox.Box {
	t.Helper()
	b, err := bbox.New(lonMin, lonMax, latMin, latMax)
	if err != nil {
		t.Fatalf("Failed to build box: %v", err)
	}
	return b
}

// TestClipDifferentResolutions clips one box against a coarse and a fine raster
func TestClipDifferentResolutions(t *testing.T) {
	tr := coords.NewProjTransformer()
	coarse := newRaster("2019", models.Affine{A: 0.003, C: 9.5, E: -0.003, F: 61}, 500, 500, coords.WGS84)
	fine := newRaster("2020", models.Affine{A: 0.001, C: 9.8, E: -0.001, F: 60.8}, 1000, 1000, coords.WGS84)
	box := mustBox(t, 10.0, 10.5, 60.0, 60.5)

	batch, err := NewEngine(tr).Clip(box, []*models.RasterDataset{coarse, fine})
	if err != nil {
		t.Fatalf("Clip failed: %v", err)
	}
	if len(batch.Rasters) != 2 || len(batch.Failures) != 0 {
		t.Fatalf("Expected 2 clips and no failures, got %d and %d", len(batch.Rasters), len(batch.Failures))
	}

	c, f := batch.Rasters[0], batch.Rasters[1]
	if c.Label != "2019" || f.Label != "2020" {
		t.Errorf("Expected input order, got %v", batch.Labels())
	}

	ratio := float64(f.Width) / float64(c.Width)
	if ratio < 2.5 || ratio > 3.5 {
		t.Errorf("Expected width ratio ~3, got %f (%d vs %d)", ratio, f.Width, c.Width)
	}
	ratio = float64(f.Height) / float64(c.Height)
	if ratio < 2.5 || ratio > 3.5 {
		t.Errorf("Expected height ratio ~3, got %f (%d vs %d)", ratio, f.Height, c.Height)
	}

	for _, r := range batch.Rasters {
		sx, _ := coords.PixelSize(r.Transform)
		e := r.Extent
		if math.Abs(e.Left-10.0) > sx || math.Abs(e.Right-10.5) > sx ||
			math.Abs(e.Bottom-60.0) > sx || math.Abs(e.Top-60.5) > sx {
			t.Errorf("Extent of %s %+v is not within one pixel of the box", r.Label, e)
		}
		if !e.Contains(box.Extent(), 1e-9, 1e-9) {
			t.Errorf("Extent of %s %+v should contain the requested box", r.Label, e)
		}
	}

	// Cross-batch consistency: the intersection equals the box within a coarse pixel
	inter, ok := c.Extent.Intersect(f.Extent)
	if !ok {
		t.Fatal("Expected extents to intersect")
	}
	if math.Abs(inter.Left-10.0) > 0.003 || math.Abs(inter.Right-10.5) > 0.003 ||
		math.Abs(inter.Bottom-60.0) > 0.003 || math.Abs(inter.Top-60.5) > 0.003 {
		t.Errorf("Expected intersection ~box, got %+v", inter)
	}

	// Fine raster: box starts exactly on pixel 200 in x and row 300 in y
	if f.Window.ColStart != 200 || f.Window.ColStop != 700 {
		t.Errorf("Expected fine cols 200..700, got %d..%d", f.Window.ColStart, f.Window.ColStop)
	}
	if f.Window.RowStart != 300 || f.Window.RowStop != 800 {
		t.Errorf("Expected fine rows 300..800, got %d..%d", f.Window.RowStart, f.Window.RowStop)
	}
}

// TestClipUTMResolutions clips a small box against 30 m and 10 m UTM rasters
func TestClipUTMResolutions(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping projected CRS test in short mode")
	}
	tr := coords.NewProjTransformer()
	const crs = "EPSG:32632"
	box := mustBox(t, 10.0, 10.02, 60.0, 60.01)

	ref := &models.RasterDataset{CRS: crs}
	native, err := box.Native(tr, ref)
	if err != nil {
		t.Fatalf("Failed to project box: %v", err)
	}
	left := math.Floor(native.Left/30)*30 - 600
	top := math.Ceil(native.Top/30)*30 + 600

	coarse := newRaster("30m", models.Affine{A: 30, C: left, E: -30, F: top}, 120, 120, crs)
	fine := newRaster("10m", models.Affine{A: 10, C: left + 5, E: -10, F: top - 5}, 360, 360, crs)

	batch, err := NewEngine(tr).Clip(box, []*models.RasterDataset{coarse, fine})
	if err != nil {
		t.Fatalf("Clip failed: %v", err)
	}
	if len(batch.Failures) != 0 {
		t.Fatalf("Unexpected failures: %v", batch.Err())
	}
	c, f := batch.Rasters[0], batch.Rasters[1]
	ratio := float64(f.Width*f.Height) / float64(c.Width*c.Height)
	if ratio < 6 || ratio > 12 {
		t.Errorf("Expected pixel count ratio ~9, got %f", ratio)
	}
	for _, r := range batch.Rasters {
		e := r.LonLatExtent
		if math.Abs(e.Left-10.0) > 0.001 || math.Abs(e.Right-10.02) > 0.001 ||
			math.Abs(e.Bottom-60.0) > 0.001 || math.Abs(e.Top-60.01) > 0.001 {
			t.Errorf("Lon/lat extent of %s %+v does not approximate the box", r.Label, e)
		}
	}
	offenders, err := VerifyFootprint(tr, box, batch, 1)
	if err != nil {
		t.Fatalf("VerifyFootprint failed: %v", err)
	}
	if len(offenders) != 0 {
		t.Errorf("Expected no footprint offenders, got %v", offenders)
	}
}

// TestClipPartialFailure checks one raster west of the box fails while another succeeds
func TestClipPartialFailure(t *testing.T) {
	tr := coords.NewProjTransformer()
	west := newRaster("west", models.Affine{A: 0.01, C: 5, E: -0.01, F: 61}, 100, 100, coords.WGS84)
	good := newRaster("good", models.Affine{A: 0.01, C: 9.5, E: -0.01, F: 61}, 200, 200, coords.WGS84)
	box := mustBox(t, 10.0, 10.5, 60.0, 60.5)

	batch, err := NewEngine(tr).Clip(box, []*models.RasterDataset{west, good})
	if err != nil {
		t.Fatalf("Expected partial results without error, got %v", err)
	}
	if len(batch.Rasters) != 1 || batch.Rasters[0].Label != "good" {
		t.Fatalf("Expected only 'good' to succeed, got %v", batch.Labels())
	}
	if len(batch.Failures) != 1 || batch.Failures[0].Label != "west" {
		t.Fatalf("Expected failure for 'west', got %v", batch.Failures)
	}
	if !errors.Is(batch.Failures[0], bbox.ErrOutOfBounds) {
		t.Errorf("Expected ErrOutOfBounds, got %v", batch.Failures[0].Err)
	}
	if !errors.Is(batch.Err(), bbox.ErrOutOfBounds) {
		t.Errorf("Expected joined error to match ErrOutOfBounds, got %v", batch.Err())
	}
}

func TestClipStrict(t *testing.T) {
	tr := coords.NewProjTransformer()
	west := newRaster("west", models.Affine{A: 0.01, C: 5, E: -0.01, F: 61}, 100, 100, coords.WGS84)
	good := newRaster("good", models.Affine{A: 0.01, C: 9.5, E: -0.01, F: 61}, 200, 200, coords.WGS84)

	engine := NewEngine(tr)
	engine.Strict = true
	batch, err := engine.Clip(mustBox(t, 10.0, 10.5, 60.0, 60.5), []*models.RasterDataset{west, good})
	if !errors.Is(err, bbox.ErrOutOfBounds) {
		t.Errorf("Expected strict mode to fail with ErrOutOfBounds, got %v", err)
	}
	if batch == nil || len(batch.Rasters) != 1 {
		t.Errorf("Expected batch to still carry the successful clip")
	}
}

func TestClipPerLabelTransformErrors(t *testing.T) {
	tr := coords.NewProjTransformer()
	badCRS := newRaster("crs", models.Affine{A: 0.01, C: 9.5, E: -0.01, F: 61}, 200, 200, "EPSG:12")
	singular := newRaster("singular", models.Affine{A: 0.01, B: 0.01, C: 9.5, D: 0.01, E: 0.01, F: 61}, 200, 200, coords.WGS84)
	malformed := newRaster("malformed", models.Affine{A: 0.01, C: 9.5, E: -0.01, F: 61}, 200, 200, coords.WGS84)
	malformed.Data = malformed.Data[:10]
	good := newRaster("good", models.Affine{A: 0.01, C: 9.5, E: -0.01, F: 61}, 200, 200, coords.WGS84)

	batch, err := NewEngine(tr).Clip(mustBox(t, 10.0, 10.5, 60.0, 60.5), []*models.RasterDataset{badCRS, singular, malformed, good})
	if err != nil {
		t.Fatalf("Clip failed: %v", err)
	}
	if len(batch.Failures) != 3 {
		t.Fatalf("Expected 3 failures, got %d", len(batch.Failures))
	}
	want := []error{coords.ErrUnsupportedCRS, coords.ErrSingularTransform, ErrMalformedRaster}
	for i, f := range batch.Failures {
		if !errors.Is(f, want[i]) {
			t.Errorf("Expected failure %d to be %v, got %v", i, want[i], f.Err)
		}
	}
	if _, ok := batch.Get("good"); !ok {
		t.Error("Expected 'good' to be clipped")
	}
}

func TestClipClampsToRaster(t *testing.T) {
	tr := coords.NewProjTransformer()
	ds := newRaster("edge", models.Affine{A: 0.01, C: 9.5, E: -0.01, F: 61}, 100, 100, coords.WGS84)
	// raster covers lon 9.5..10.5, box runs to 11
	box := mustBox(t, 10.2, 11.0, 60.2, 60.4)

	batch, err := NewEngine(tr).Clip(box, []*models.RasterDataset{ds})
	if err != nil {
		t.Fatalf("Clip failed: %v", err)
	}
	if len(batch.Rasters) != 1 {
		t.Fatalf("Expected a clamped clip, got failures %v", batch.Failures)
	}
	r := batch.Rasters[0]
	if r.Window.ColStop != 100 {
		t.Errorf("Expected window clamped to column 100, got %d", r.Window.ColStop)
	}
	if math.Abs(r.Extent.Right-10.5) > 1e-9 {
		t.Errorf("Expected extent to end at raster edge 10.5, got %f", r.Extent.Right)
	}

	offenders, err := VerifyFootprint(tr, box, batch, 1)
	if err != nil {
		t.Fatalf("VerifyFootprint failed: %v", err)
	}
	if len(offenders) != 1 || offenders[0] != "edge" {
		t.Errorf("Expected clamped raster to be flagged, got %v", offenders)
	}
}

func TestClipValuesAndNoMutation(t *testing.T) {
	tr := coords.NewProjTransformer()
	ds := newRaster("vals", models.Affine{A: 1, C: 0, E: -1, F: 50}, 20, 20, coords.WGS84)
	ds.Bands = 2
	ds.Data = append(ds.Data, make([]float64, 400)...)
	for i := 400; i < 800; i++ {
		ds.Data[i] = -float64(i - 400)
	}
	original := append([]float64(nil), ds.Data...)

	// lon 2.5..5.5 -> cols 2..6, lat 40.5..44.5 -> rows 5..10
	box := mustBox(t, 2.5, 5.5, 40.5, 44.5)
	r, err := NewEngine(tr).ClipOne(box, ds)
	if err != nil {
		t.Fatalf("ClipOne failed: %v", err)
	}
	if r.Window != (models.PixelWindow{RowStart: 5, RowStop: 10, ColStart: 2, ColStop: 6}) {
		t.Fatalf("Unexpected window %+v", r.Window)
	}
	if r.Width != 4 || r.Height != 5 || r.Bands != 2 || len(r.Data) != 40 {
		t.Fatalf("Unexpected clip shape %dx%dx%d (%d values)", r.Width, r.Height, r.Bands, len(r.Data))
	}
	for row := 0; row < r.Height; row++ {
		for col := 0; col < r.Width; col++ {
			want := float64((row+5)*20 + col + 2)
			if got := r.Data[row*r.Width+col]; got != want {
				t.Errorf("Band 0 (%d, %d): expected %f, got %f", row, col, want, got)
			}
			if got := r.Data[20+row*r.Width+col]; got != -want {
				t.Errorf("Band 1 (%d, %d): expected %f, got %f", row, col, -want, got)
			}
		}
	}

	r.Data[0] = 12345
	for i := range original {
		if ds.Data[i] != original[i] {
			t.Fatalf("Source raster was mutated at %d", i)
		}
	}

	x, y := coords.ApplyAffine(r.Transform, 0, 0)
	if x != 2 || y != 45 {
		t.Errorf("Expected clipped origin (2, 45), got (%f, %f)", x, y)
	}
	if r.Extent != (models.Extent{Left: 2, Right: 6, Bottom: 40, Top: 45}) {
		t.Errorf("Unexpected extent %+v", r.Extent)
	}
}

func TestClipPreservesOrderConcurrently(t *testing.T) {
	tr := coords.NewProjTransformer()
	var datasets []*models.RasterDataset
	for i := 0; i < 12; i++ {
		datasets = append(datasets, newRaster(fmt.Sprintf("%d", 2000+i),
			models.Affine{A: 0.01, C: 9.5, E: -0.01, F: 61}, 150, 150, coords.WGS84))
	}
	engine := NewEngine(tr)
	engine.Workers = 4

	batch, err := engine.Clip(mustBox(t, 10.0, 10.5, 60.0, 60.5), datasets)
	if err != nil {
		t.Fatalf("Clip failed: %v", err)
	}
	for i, label := range batch.Labels() {
		if label != datasets[i].Label {
			t.Errorf("Expected label %s at %d, got %s", datasets[i].Label, i, label)
		}
	}
}

// TestClipUTMConcurrently clips rasters in two UTM zones with several workers
// and checks the result matches a sequential run exactly
func TestClipUTMConcurrently(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping projected CRS test in short mode")
	}
	box := mustBox(t, 10.0, 10.02, 60.0, 60.01)

	build := func(tr coords.Transformer) []*models.RasterDataset {
		var datasets []*models.RasterDataset
		for i := 0; i < 32; i++ {
			crs := "EPSG:32632"
			if i%2 == 1 {
				crs = "EPSG:32633"
			}
			native, err := box.Native(tr, &models.RasterDataset{CRS: crs})
			if err != nil {
				t.Fatalf("Failed to project box into %s: %v", crs, err)
			}
			left := math.Floor(native.Left/30)*30 - 600
			top := math.Ceil(native.Top/30)*30 + 600
			datasets = append(datasets, newRaster(fmt.Sprintf("%d", 1990+i),
				models.Affine{A: 30, C: left, E: -30, F: top}, 120, 120, crs))
		}
		return datasets
	}

	sequential := NewEngine(coords.NewProjTransformer())
	sequential.Workers = 1
	want, err := sequential.Clip(box, build(coords.NewProjTransformer()))
	if err != nil {
		t.Fatalf("Sequential clip failed: %v", err)
	}

	tr := coords.NewProjTransformer()
	parallel := NewEngine(tr)
	parallel.Workers = 8
	got, err := parallel.Clip(box, build(tr))
	if err != nil {
		t.Fatalf("Parallel clip failed: %v", err)
	}

	if len(got.Rasters) != 32 || len(got.Failures) != 0 {
		t.Fatalf("Expected 32 clips and no failures, got %d and %d", len(got.Rasters), len(got.Failures))
	}
	for i, r := range got.Rasters {
		w := want.Rasters[i]
		if r.Label != w.Label || r.Window != w.Window {
			t.Errorf("Expected %s window %+v, got %s %+v", w.Label, w.Window, r.Label, r.Window)
		}
		if r.Extent != w.Extent || r.LonLatExtent != w.LonLatExtent {
			t.Errorf("Expected identical extents for %s, got %+v / %+v", r.Label, r.LonLatExtent, w.LonLatExtent)
		}
	}
}

func TestClipCallerErrors(t *testing.T) {
	tr := coords.NewProjTransformer()
	ds := newRaster("a", models.Affine{A: 0.01, C: 9.5, E: -0.01, F: 61}, 100, 100, coords.WGS84)

	if _, err := NewEngine(tr).Clip(bbox.Box{}, []*models.RasterDataset{ds}); !errors.Is(err, bbox.ErrValidation) {
		t.Errorf("Expected ErrValidation for unset box, got %v", err)
	}
	if _, err := NewEngine(tr).Clip(mustBox(t, 10, 10.2, 60, 60.2), []*models.RasterDataset{ds, ds}); !errors.Is(err, bbox.ErrValidation) {
		t.Errorf("Expected ErrValidation for duplicate labels, got %v", err)
	}
	batch, err := NewEngine(tr).Clip(mustBox(t, 10, 10.2, 60, 60.2), nil)
	if err != nil || len(batch.Rasters) != 0 {
		t.Errorf("Expected empty batch for no datasets, got %v, %v", batch, err)
	}
}

// TestCoverageInvariant sweeps boxes across a raster and checks every clip contains its box
func TestCoverageInvariant(t *testing.T) {
	tr := coords.NewProjTransformer()
	a := newRaster("a", models.Affine{A: 0.0037, C: 9.0, E: -0.0041, F: 61.3}, 600, 600, coords.WGS84)
	b := newRaster("b", models.Affine{A: 0.0011, C: 9.2, E: -0.0013, F: 61.1}, 1500, 1500, coords.WGS84)

	for i := 0; i < 10; i++ {
		lon := 9.6 + 0.07*float64(i)
		lat := 59.8 + 0.05*float64(i)
		box := mustBox(t, lon, lon+0.13+0.01*float64(i), lat, lat+0.11)
		batch, err := NewEngine(tr).Clip(box, []*models.RasterDataset{a, b})
		if err != nil || len(batch.Failures) != 0 {
			t.Fatalf("Clip %d failed: %v %v", i, err, batch.Err())
		}
		offenders, err := VerifyFootprint(tr, box, batch, 1)
		if err != nil {
			t.Fatalf("VerifyFootprint failed: %v", err)
		}
		if len(offenders) != 0 {
			t.Errorf("Box %s: footprint invariant violated by %v", box, offenders)
		}
	}
}
