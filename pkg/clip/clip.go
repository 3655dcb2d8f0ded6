// Package clip extracts the same geographic footprint from every raster in a
// stack. Each raster is clipped in its own native grid; failures are reported
// per label so one bad raster never blocks the others.
package clip

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"

	"bboxtool/internal/logging"
	"bboxtool/internal/models"
	"bboxtool/pkg/bbox"
	"bboxtool/pkg/coords"
)

// ErrMalformedRaster reports a dataset whose buffer does not match its dimensions.
var ErrMalformedRaster = errors.New("malformed raster")

// snap absorbs floating point noise when rounding fractional pixel bounds, so
// a bound computed as 9.9999999999 is treated as 10.
const snap = 1e-9

// Batch is the outcome of clipping a stack
type Batch struct {
	// Rasters holds the successful clips in input order
	Rasters []*models.ClippedRaster

	// Failures holds per-label errors in input order
	Failures []*models.LabelError
}

// Get returns the clip for label
func (b *Batch) Get(label string) (*models.ClippedRaster, bool) {
	for _, r := range b.Rasters {
		if r.Label == label {
			return r, true
		}
	}
	return nil, false
}

// Labels returns the labels of the successful clips in order
func (b *Batch) Labels() []string {
	labels := make([]string, len(b.Rasters))
	for i, r := range b.Rasters {
		labels[i] = r.Label
	}
	return labels
}

// Err joins every per-label failure, or returns nil
func (b *Batch) Err() error {
	if len(b.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(b.Failures))
	for i, f := range b.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Engine clips rasters to a bounding box
type Engine struct {
	Transformer coords.Transformer

	// Strict turns any per-label failure into an error for the whole call
	Strict bool

	// Workers bounds the number of rasters clipped concurrently
	Workers int
}

// NewEngine creates an engine using all available cores
func NewEngine(t coords.Transformer) *Engine {
	return &Engine{Transformer: t, Workers: runtime.NumCPU()}
}

// Clip clips every dataset to box. Successful clips and per-label failures
// are both returned; the error is non-nil only for caller mistakes (no box,
// duplicate labels) or, in strict mode, when any raster failed.
func (e *Engine) Clip(box bbox.Box, datasets []*models.RasterDataset) (*Batch, error) {
	if box.IsZero() {
		return nil, fmt.Errorf("%w: bounding box not set", bbox.ErrValidation)
	}
	seen := make(map[string]bool, len(datasets))
	for _, ds := range datasets {
		if seen[ds.Label] {
			return nil, fmt.Errorf("%w: duplicate label %q", bbox.ErrValidation, ds.Label)
		}
		seen[ds.Label] = true
	}

	type clipResult struct {
		index  int
		raster *models.ClippedRaster
		err    error
	}

	workers := e.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(datasets) {
		workers = len(datasets)
	}

	jobs := make(chan int)
	resultChan := make(chan clipResult)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				r, err := e.ClipOne(box, datasets[i])
				resultChan <- clipResult{index: i, raster: r, err: err}
			}
		}()
	}
	go func() {
		for i := range datasets {
			jobs <- i
		}
		close(jobs)
	}()
	go func() {
		wg.Wait()
		close(resultChan)
	}()

	rasters := make([]*models.ClippedRaster, len(datasets))
	errs := make([]error, len(datasets))
	for res := range resultChan {
		rasters[res.index] = res.raster
		errs[res.index] = res.err
	}

	batch := &Batch{}
	for i, ds := range datasets {
		if errs[i] != nil {
			logging.Warnf("Clipping %q failed: %v", ds.Label, errs[i])
			batch.Failures = append(batch.Failures, &models.LabelError{Label: ds.Label, Err: errs[i]})
			continue
		}
		batch.Rasters = append(batch.Rasters, rasters[i])
	}

	if e.Strict && len(batch.Failures) > 0 {
		return batch, batch.Err()
	}
	return batch, nil
}

// ClipOne clips a single dataset. The dataset is only read.
func (e *Engine) ClipOne(box bbox.Box, ds *models.RasterDataset) (*models.ClippedRaster, error) {
	if ds.Width <= 0 || ds.Height <= 0 || ds.Bands <= 0 || len(ds.Data) != ds.Width*ds.Height*ds.Bands {
		return nil, fmt.Errorf("%w: %dx%dx%d grid with %d values", ErrMalformedRaster, ds.Width, ds.Height, ds.Bands, len(ds.Data))
	}

	native, err := box.Native(e.Transformer, ds)
	if err != nil {
		return nil, err
	}
	w, err := Window(e.Transformer, ds, native)
	if err != nil {
		return nil, err
	}

	extent := coords.ExtentOf(coords.WindowBounds(e.Transformer, ds, w))
	lonLat, err := coords.LonLatBounds(e.Transformer, ds, extent)
	if err != nil {
		return nil, err
	}

	logging.Debugf("Clipped %q: rows %d..%d cols %d..%d", ds.Label, w.RowStart, w.RowStop, w.ColStart, w.ColStop)
	return &models.ClippedRaster{
		Label:        ds.Label,
		Data:         extract(ds, w),
		Width:        w.Cols(),
		Height:       w.Rows(),
		Bands:        ds.Bands,
		Window:       w,
		Transform:    coords.Translate(ds.Transform, float64(w.RowStart), float64(w.ColStart)),
		Extent:       extent,
		LonLatExtent: lonLat,
		CRS:          ds.CRS,
		NoData:       ds.NoData,
	}, nil
}

// Window converts a native-CRS extent into the pixel window of ds covering it.
// Bounds are rounded outward (floor the minimum, ceil the maximum) and then
// clamped to the raster; ErrOutOfBounds is returned only when nothing is left.
func Window(t coords.Transformer, ds *models.RasterDataset, native models.Extent) (models.PixelWindow, error) {
	minRow, minCol := math.Inf(1), math.Inf(1)
	maxRow, maxCol := math.Inf(-1), math.Inf(-1)
	for _, p := range [][2]float64{
		{native.Left, native.Bottom}, {native.Left, native.Top},
		{native.Right, native.Bottom}, {native.Right, native.Top},
	} {
		row, col, err := t.GeoToPixel(ds, p[0], p[1])
		if err != nil {
			return models.PixelWindow{}, err
		}
		minRow, maxRow = math.Min(minRow, row), math.Max(maxRow, row)
		minCol, maxCol = math.Min(minCol, col), math.Max(maxCol, col)
	}

	w := models.PixelWindow{
		RowStart: clampIndex(math.Floor(minRow+snap), ds.Height),
		RowStop:  clampIndex(math.Ceil(maxRow-snap), ds.Height),
		ColStart: clampIndex(math.Floor(minCol+snap), ds.Width),
		ColStop:  clampIndex(math.Ceil(maxCol-snap), ds.Width),
	}
	if w.Empty() {
		return w, fmt.Errorf("%w: requested extent %+v misses raster %q", bbox.ErrOutOfBounds, native, ds.Label)
	}
	return w, nil
}

func clampIndex(v float64, limit int) int {
	return int(math.Max(0, math.Min(float64(limit), v)))
}

func extract(ds *models.RasterDataset, w models.PixelWindow) []float64 {
	cols, rows := w.Cols(), w.Rows()
	out := make([]float64, ds.Bands*rows*cols)
	for b := 0; b < ds.Bands; b++ {
		band := ds.Band(b)
		for r := 0; r < rows; r++ {
			src := (w.RowStart+r)*ds.Width + w.ColStart
			dst := b*rows*cols + r*cols
			copy(out[dst:dst+cols], band[src:src+cols])
		}
	}
	return out
}
