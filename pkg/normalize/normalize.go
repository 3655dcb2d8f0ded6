// Package normalize implements the percentile contrast stretch that makes
// rasters of a stack visually comparable.
package normalize

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"

	"bboxtool/internal/logging"
	"bboxtool/internal/models"
)

var (
	// ErrEmptyStatistic reports that no finite, non-nodata pixel was available.
	ErrEmptyStatistic = errors.New("no valid pixels for percentile statistic")

	// ErrInvalidPercentiles reports a percentile pair outside 0 <= lower < upper <= 100.
	ErrInvalidPercentiles = errors.New("invalid percentile range")
)

// Params controls a normalization call
type Params struct {
	LowerPercentile float64 `yaml:"lower"`
	UpperPercentile float64 `yaml:"upper"`

	// Shared computes one stretch over the pooled values of the whole batch
	Shared bool `yaml:"shared"`

	// Gamma is an optional display exponent applied after the stretch; 0 or 1 disables it
	Gamma float64 `yaml:"gamma"`
}

// DefaultParams returns the 2-98 percentile shared stretch
func DefaultParams() Params {
	return Params{LowerPercentile: 2, UpperPercentile: 98, Shared: true}
}

// Validate checks the percentile ordering and gamma
func (p Params) Validate() error {
	if err := validatePercentiles(p.LowerPercentile, p.UpperPercentile); err != nil {
		return err
	}
	if p.Gamma < 0 || math.IsNaN(p.Gamma) || math.IsInf(p.Gamma, 0) {
		return fmt.Errorf("%w: gamma %g must be a non-negative finite number", ErrInvalidPercentiles, p.Gamma)
	}
	return nil
}

func validatePercentiles(lower, upper float64) error {
	if math.IsNaN(lower) || math.IsNaN(upper) || lower < 0 || upper > 100 || lower >= upper {
		return fmt.Errorf("%w: need 0 <= lower < upper <= 100, got %g and %g", ErrInvalidPercentiles, lower, upper)
	}
	return nil
}

// Stretch is a linear mapping of Lo to 0 and Hi to 1
type Stretch struct {
	Lo, Hi float64
}

// ValidValues returns the finite, non-nodata elements of values
func ValidValues(values []float64, nodata *float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if models.IsValid(v, nodata) {
			out = append(out, v)
		}
	}
	return out
}

// ComputeStretch returns the lowerPct and upperPct percentiles of the valid
// elements of values. Percentiles follow the empirical distribution, so the
// result does not change when the same data is repeated.
func ComputeStretch(values []float64, nodata *float64, lowerPct, upperPct float64) (Stretch, error) {
	if err := validatePercentiles(lowerPct, upperPct); err != nil {
		return Stretch{}, err
	}
	return fromSorted(sortedValid(values, nodata), lowerPct, upperPct)
}

func sortedValid(values []float64, nodata *float64) []float64 {
	valid := ValidValues(values, nodata)
	sort.Float64s(valid)
	return valid
}

func fromSorted(sorted []float64, lowerPct, upperPct float64) (Stretch, error) {
	if len(sorted) == 0 {
		return Stretch{}, ErrEmptyStatistic
	}
	return Stretch{
		Lo: stat.Quantile(lowerPct/100, stat.Empirical, sorted, nil),
		Hi: stat.Quantile(upperPct/100, stat.Empirical, sorted, nil),
	}, nil
}

// Degenerate reports whether the stretch has zero width (constant image)
func (s Stretch) Degenerate() bool { return s.Lo == s.Hi }

// Apply rescales values so Lo maps to 0 and Hi to 1, saturating outside that
// range. A degenerate stretch maps every valid pixel to 0.5. Invalid pixels
// become NaN.
func (s Stretch) Apply(values []float64, nodata *float64) []float64 {
	return s.ApplyGamma(values, nodata, 0)
}

// ApplyGamma is Apply followed by out^gamma when gamma is positive and not 1.
func (s Stretch) ApplyGamma(values []float64, nodata *float64, gamma float64) []float64 {
	out := make([]float64, len(values))
	width := s.Hi - s.Lo
	useGamma := gamma > 0 && gamma != 1
	for i, v := range values {
		switch {
		case !models.IsValid(v, nodata):
			out[i] = math.NaN()
		case s.Degenerate():
			out[i] = 0.5
		default:
			n := math.Max(0, math.Min(1, (v-s.Lo)/width))
			if useGamma {
				n = math.Pow(n, gamma)
			}
			out[i] = n
		}
	}
	return out
}

// Output is the result of normalizing a batch
type Output struct {
	// Rasters holds normalized rasters in input order
	Rasters []*models.NormalizedRaster

	// Shared is the stretch applied to every raster in shared mode, nil otherwise
	Shared *Stretch

	Failures []*models.LabelError
}

// Get returns the normalized raster for label
func (o *Output) Get(label string) (*models.NormalizedRaster, bool) {
	for _, r := range o.Rasters {
		if r.Label == label {
			return r, true
		}
	}
	return nil, false
}

// Normalizer applies stretches to clipped rasters
type Normalizer struct {
	// Workers bounds the number of rasters rescaled concurrently
	Workers int
}

// NewNormalizer creates a normalizer using all available cores
func NewNormalizer() *Normalizer {
	return &Normalizer{Workers: runtime.NumCPU()}
}

// Normalize stretches every raster. In shared mode the statistic is computed
// once over all rasters before any of them is rescaled; if that pooled
// statistic is empty the whole call fails. In per-image mode a raster without
// valid pixels is reported as a per-label failure.
func (n *Normalizer) Normalize(rasters []*models.ClippedRaster, p Params) (*Output, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	out := &Output{}
	stretches := make([]Stretch, len(rasters))
	ok := make([]bool, len(rasters))

	if p.Shared {
		var pooled []float64
		for _, r := range rasters {
			pooled = append(pooled, ValidValues(r.Data, r.NoData)...)
		}
		sort.Float64s(pooled)
		s, err := fromSorted(pooled, p.LowerPercentile, p.UpperPercentile)
		if err != nil {
			return nil, fmt.Errorf("shared stretch over %d rasters: %w", len(rasters), err)
		}
		logging.Infof("Shared stretch p%g=%g p%g=%g", p.LowerPercentile, s.Lo, p.UpperPercentile, s.Hi)
		out.Shared = &s
		for i := range rasters {
			stretches[i], ok[i] = s, true
		}
	} else {
		for i, r := range rasters {
			s, err := ComputeStretch(r.Data, r.NoData, p.LowerPercentile, p.UpperPercentile)
			if err != nil {
				logging.Warnf("Normalizing %q failed: %v", r.Label, err)
				out.Failures = append(out.Failures, &models.LabelError{Label: r.Label, Err: err})
				continue
			}
			stretches[i], ok[i] = s, true
		}
	}

	results := make([]*models.NormalizedRaster, len(rasters))
	workers := n.Workers
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, r := range rasters {
		if !ok[i] {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, r *models.ClippedRaster) {
			defer wg.Done()
			defer func() { <-sem }()
			s := stretches[i]
			results[i] = &models.NormalizedRaster{
				Label:  r.Label,
				Data:   s.ApplyGamma(r.Data, r.NoData, p.Gamma),
				Width:  r.Width,
				Height: r.Height,
				Bands:  r.Bands,
				Lo:     s.Lo,
				Hi:     s.Hi,
			}
		}(i, r)
	}
	wg.Wait()

	for _, r := range results {
		if r != nil {
			out.Rasters = append(out.Rasters, r)
		}
	}
	return out, nil
}
