// Package aggregate assembles clipped and normalized rasters into the ordered
// result set handed to a renderer. It never renders or persists anything.
package aggregate

import (
	"bboxtool/internal/models"
	"bboxtool/pkg/clip"
	"bboxtool/pkg/normalize"
)

// DefaultColourbarLabel is the label used when none is configured
const DefaultColourbarLabel = "Normalised reflectance"

// Colourbar describes the optional shared colour scale
type Colourbar struct {
	On    bool
	Label string

	// Min and Max are the values at the two ends of the colour scale. With a
	// shared stretch they are the stretch bounds in pixel units (Raw is set);
	// otherwise each panel has its own bounds and the scale reads 0 to 1.
	Min, Max float64
	Raw      bool
}

// Options carries display settings through to the result
type Options struct {
	Colourbar      bool
	ColourbarLabel string

	// Titles maps labels to panel titles; missing labels use the label itself
	Titles map[string]string
}

// Result is the in-memory result set for one visualization call
type Result struct {
	// Labels lists the labels present in Arrays in input order
	Labels []string

	Arrays        map[string]*models.NormalizedRaster
	Extents       map[string]models.Extent
	LonLatExtents map[string]models.Extent
	Titles        map[string]string

	// Stretch is the shared stretch in raw pixel units, nil for per-image stretches
	Stretch *normalize.Stretch

	Colourbar Colourbar

	// Failures lists clip and normalization failures in input order
	Failures []*models.LabelError
}

// Assemble builds a Result. order is the caller's label order (typically
// chronological); labels that failed along the way are skipped.
func Assemble(order []string, batch *clip.Batch, norm *normalize.Output, opts Options) *Result {
	res := &Result{
		Arrays:        make(map[string]*models.NormalizedRaster),
		Extents:       make(map[string]models.Extent),
		LonLatExtents: make(map[string]models.Extent),
		Titles:        make(map[string]string),
		Stretch:       norm.Shared,
	}

	failed := make(map[string]*models.LabelError)
	for _, f := range batch.Failures {
		failed[f.Label] = f
	}
	for _, f := range norm.Failures {
		failed[f.Label] = f
	}

	for _, label := range order {
		if f, ok := failed[label]; ok {
			res.Failures = append(res.Failures, f)
			continue
		}
		c, ok := batch.Get(label)
		if !ok {
			continue
		}
		n, ok := norm.Get(label)
		if !ok {
			continue
		}
		res.Labels = append(res.Labels, label)
		res.Arrays[label] = n
		res.Extents[label] = c.Extent
		res.LonLatExtents[label] = c.LonLatExtent

		title := label
		if t, ok := opts.Titles[label]; ok && t != "" {
			title = t
		}
		res.Titles[label] = title
	}

	res.Colourbar = Colourbar{On: opts.Colourbar, Label: opts.ColourbarLabel, Min: 0, Max: 1}
	if res.Colourbar.Label == "" {
		res.Colourbar.Label = DefaultColourbarLabel
	}
	if norm.Shared != nil {
		res.Colourbar.Min, res.Colourbar.Max = norm.Shared.Lo, norm.Shared.Hi
		res.Colourbar.Raw = true
	}
	return res
}
