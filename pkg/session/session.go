// Package session holds the state of one bounding-box workflow over a raster
// stack: the loaded datasets, the selected box and the last results.
package session

import (
	"errors"
	"fmt"
	"time"

	"bboxtool/internal/logging"
	"bboxtool/internal/models"
	"bboxtool/pkg/aggregate"
	"bboxtool/pkg/bbox"
	"bboxtool/pkg/clip"
	"bboxtool/pkg/coords"
	"bboxtool/pkg/loader"
	"bboxtool/pkg/normalize"
	"bboxtool/pkg/visualization"
)

// ErrNoRasters reports a session without any loaded raster
var ErrNoRasters = errors.New("no rasters loaded")

// footprintSlack is the per-side tolerance, in pixels, of the footprint check
const footprintSlack = 1.0

// Params holds the session configuration
type Params struct {
	// BasePath contains one sub-folder per label
	BasePath string

	// Labels orders the stack; empty means every sub-folder, sorted
	Labels []string

	// DefaultCRS applies to rasters georeferenced by a world file
	DefaultCRS string

	Stretch normalize.Params

	// NumCores bounds the rasters clipped and normalized concurrently
	NumCores int

	// Strict fails Process when any raster fails to clip
	Strict bool

	Colourbar      bool
	ColourbarLabel string
	Titles         map[string]string
	Cmap           string

	// Save writes the composite during Process
	Save bool

	// SavePath overrides <BasePath>/deposit/stacked_rasters.png
	SavePath string
}

// BoundingBoxInfo is the selected box in lon/lat and in each raster's native CRS
type BoundingBoxInfo struct {
	Box    bbox.Box
	LonLat models.Extent

	// Native maps labels to the box envelope in that raster's CRS
	Native map[string]models.Extent
}

// Session is the explicit state of one workflow. A Session is not safe for
// concurrent use; the stages it runs parallelize internally.
type Session struct {
	params      *Params
	transformer coords.Transformer

	labels       []string
	datasets     []*models.RasterDataset
	loadFailures []*models.LabelError

	box    bbox.Box
	manual bool

	batch  *clip.Batch
	output *normalize.Output
	result *aggregate.Result
}

// NewSession creates a session using the proj-backed transformer
func NewSession(params *Params) *Session {
	return &Session{
		params:      params,
		transformer: coords.NewProjTransformer(),
	}
}

// SetTransformer replaces the coordinate transformer
func (s *Session) SetTransformer(t coords.Transformer) {
	s.transformer = t
}

// Transformer returns the coordinate transformer in use
func (s *Session) Transformer() coords.Transformer {
	return s.transformer
}

// Load discovers and decodes the stack. Labels that fail to load are kept as
// failures; Load only errors when nothing could be loaded.
func (s *Session) Load() error {
	defer logging.TimeTrack(time.Now(), "Load")

	labels := s.params.Labels
	if len(labels) == 0 {
		found, err := loader.Discover(s.params.BasePath)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNoRasters, err)
		}
		labels = found
	}
	if len(labels) == 0 {
		return fmt.Errorf("%w: no label folders under %s", ErrNoRasters, s.params.BasePath)
	}

	l := &loader.Loader{DefaultCRS: s.params.DefaultCRS}
	s.labels = labels
	s.datasets, s.loadFailures = l.LoadAll(s.params.BasePath, labels)
	if len(s.datasets) == 0 {
		return fmt.Errorf("%w: all %d label(s) failed", ErrNoRasters, len(labels))
	}
	logging.Infof("Loaded %d of %d raster(s)", len(s.datasets), len(labels))
	return nil
}

// SetDatasets installs already decoded datasets in place of Load
func (s *Session) SetDatasets(datasets []*models.RasterDataset) {
	s.datasets = datasets
	s.loadFailures = nil
	s.labels = make([]string, len(datasets))
	for i, ds := range datasets {
		s.labels[i] = ds.Label
	}
}

// Labels returns the stack order, including labels that failed to load
func (s *Session) Labels() []string {
	return s.labels
}

// Datasets returns the loaded datasets in stack order
func (s *Session) Datasets() []*models.RasterDataset {
	return s.datasets
}

// Reference returns the raster boxes are validated and selected against
func (s *Session) Reference() (*models.RasterDataset, error) {
	if len(s.datasets) == 0 {
		return nil, ErrNoRasters
	}
	return s.datasets[0], nil
}

// DefineBoundingBox sets the box from geographic coordinates. A manual box
// takes precedence over any later interactive selection.
func (s *Session) DefineBoundingBox(lonMin, lonMax, latMin, latMax float64) (bbox.Box, error) {
	ref, err := s.Reference()
	if err != nil {
		return bbox.Box{}, err
	}
	box, err := bbox.Manual(ref, s.transformer, lonMin, lonMax, latMin, latMax)
	if err != nil {
		return bbox.Box{}, err
	}
	s.setBox(box)
	s.manual = true
	return box, nil
}

// DefineBoundingBoxFromPixels sets the box from corners on the reference raster
func (s *Session) DefineBoundingBoxFromPixels(corners bbox.PixelCorners) (bbox.Box, error) {
	ref, err := s.Reference()
	if err != nil {
		return bbox.Box{}, err
	}
	box, err := bbox.FromPixels(ref, s.transformer, corners)
	if err != nil {
		return bbox.Box{}, err
	}
	s.setBox(box)
	return box, nil
}

// SelectBoundingBox asks sel for corners on the reference raster. It does
// nothing when a box was already defined manually.
func (s *Session) SelectBoundingBox(sel bbox.Selector) (bbox.Box, error) {
	if s.manual {
		logging.Infof("Bounding box already set manually (%s), skipping selection", s.box)
		return s.box, nil
	}
	ref, err := s.Reference()
	if err != nil {
		return bbox.Box{}, err
	}
	corners, err := sel.SelectCorners(ref)
	if err != nil {
		return bbox.Box{}, fmt.Errorf("selection failed: %w", err)
	}
	return s.DefineBoundingBoxFromPixels(corners)
}

func (s *Session) setBox(box bbox.Box) {
	s.box = box
	s.batch, s.output, s.result = nil, nil, nil
	logging.Infof("Bounding box set: %s (coverage %s)", box, box.Coverage())
}

// BoundingBox returns the selected box in lon/lat and per-raster native form
func (s *Session) BoundingBox() (*BoundingBoxInfo, error) {
	if s.box.IsZero() {
		return nil, fmt.Errorf("%w: bounding box not set", bbox.ErrValidation)
	}
	info := &BoundingBoxInfo{
		Box:    s.box,
		LonLat: s.box.Extent(),
		Native: make(map[string]models.Extent, len(s.datasets)),
	}
	for _, ds := range s.datasets {
		native, err := s.box.Native(s.transformer, ds)
		if err != nil {
			logging.Warnf("No native box for %q: %v", ds.Label, err)
			continue
		}
		info.Native[ds.Label] = native
	}
	return info, nil
}

// ClipAll clips every loaded raster to the selected box
func (s *Session) ClipAll() (*clip.Batch, error) {
	defer logging.TimeTrack(time.Now(), "ClipAll")

	engine := clip.NewEngine(s.transformer)
	engine.Strict = s.params.Strict
	if s.params.NumCores > 0 {
		engine.Workers = s.params.NumCores
	}

	batch, err := engine.Clip(s.box, s.datasets)
	if batch != nil {
		s.batch = batch
	}
	if err != nil {
		return batch, err
	}

	offenders, err := clip.VerifyFootprint(s.transformer, s.box, batch, footprintSlack)
	if err != nil {
		logging.Warnf("Footprint check failed: %v", err)
	}
	for _, label := range offenders {
		logging.Warnf("Clip of %q does not cover the whole bounding box", label)
	}
	return batch, nil
}

// Normalize stretches the clipped rasters
func (s *Session) Normalize() (*normalize.Output, error) {
	if s.batch == nil {
		return nil, errors.New("nothing clipped yet")
	}
	n := normalize.NewNormalizer()
	if s.params.NumCores > 0 {
		n.Workers = s.params.NumCores
	}
	out, err := n.Normalize(s.batch.Rasters, s.params.Stretch)
	if err != nil {
		return nil, err
	}
	s.output = out
	return out, nil
}

// Process runs clip, normalize and aggregate, then saves the composite when
// Save is set. Load failures are reported in the result.
func (s *Session) Process() (*aggregate.Result, error) {
	defer logging.TimeTrack(time.Now(), "Process")

	logging.Infof("Step 1: Clipping %d raster(s) to %s...", len(s.datasets), s.box)
	batch, err := s.ClipAll()
	if err != nil {
		return nil, fmt.Errorf("failed to clip rasters: %w", err)
	}
	if len(batch.Rasters) == 0 {
		return nil, fmt.Errorf("failed to clip rasters: %w", batch.Err())
	}

	logging.Infof("Step 2: Normalizing to percentiles %g-%g (shared: %t)...",
		s.params.Stretch.LowerPercentile, s.params.Stretch.UpperPercentile, s.params.Stretch.Shared)
	if _, err := s.Normalize(); err != nil {
		return nil, fmt.Errorf("failed to normalize rasters: %w", err)
	}

	logging.Infof("Step 3: Assembling results...")
	res := aggregate.Assemble(s.labels, s.batch, s.output, aggregate.Options{
		Colourbar:      s.params.Colourbar,
		ColourbarLabel: s.params.ColourbarLabel,
		Titles:         s.params.Titles,
	})
	res.Failures = append(append([]*models.LabelError{}, s.loadFailures...), res.Failures...)
	s.result = res

	if s.params.Save {
		logging.Infof("Step 4: Saving composite...")
		path, err := s.Render(res)
		if err != nil {
			return res, fmt.Errorf("failed to save composite: %w", err)
		}
		logging.Infof("Composite saved to %s", path)
	}
	return res, nil
}

// Render draws res and writes it to the save path, which it returns
func (s *Session) Render(res *aggregate.Result) (string, error) {
	path := s.params.SavePath
	if path == "" {
		path = visualization.DefaultSavePath(s.params.BasePath)
	}
	r := visualization.NewRenderer(s.params.Cmap)
	img, err := r.Composite(res)
	if err != nil {
		return "", err
	}
	if err := r.Save(img, path); err != nil {
		return "", err
	}
	return path, nil
}

// Result returns the last processed result, or nil
func (s *Session) Result() *aggregate.Result {
	return s.result
}

// Failures returns every per-label failure seen so far, in stage order
func (s *Session) Failures() []*models.LabelError {
	failures := append([]*models.LabelError{}, s.loadFailures...)
	if s.batch != nil {
		failures = append(failures, s.batch.Failures...)
	}
	if s.output != nil {
		failures = append(failures, s.output.Failures...)
	}
	return failures
}
