// Package loader reads a raster stack laid out as <base>/<label>/<label>.<ext>.
// Georeferencing comes from a YAML sidecar (<label>.yaml) or, failing that,
// from an ESRI world file next to the image.
package loader

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"gopkg.in/yaml.v3"

	"bboxtool/internal/logging"
	"bboxtool/internal/models"
)

// DepositDir is the output folder under the base path, never a label
const DepositDir = "deposit"

// ErrNoRaster reports a label folder without a readable raster
var ErrNoRaster = errors.New("no raster found")

// ErrNoGeoreference reports a raster without sidecar or world file
var ErrNoGeoreference = errors.New("no georeferencing found")

// worldFileExt maps image extensions to their world file extensions
var worldFileExt = map[string]string{
	".png":  ".pgw",
	".jpg":  ".jgw",
	".jpeg": ".jgw",
	".tif":  ".tfw",
	".tiff": ".tfw",
	".gif":  ".gfw",
	".bmp":  ".bpw",
}

// Extensions lists the raster extensions tried, in order
var Extensions = []string{".tif", ".tiff", ".png", ".jpg", ".jpeg", ".gif", ".bmp"}

// Georef is the content of a <label>.yaml sidecar
type Georef struct {
	// Transform is [a, b, c, d, e, f] in GDAL/rasterio order
	Transform []float64 `yaml:"transform"`
	CRS       string    `yaml:"crs"`
	NoData    *float64  `yaml:"nodata,omitempty"`
}

// Loader decodes rasters following the directory convention
type Loader struct {
	// DefaultCRS is used when georeferencing comes from a world file
	DefaultCRS string
}

// Discover lists the label sub-folders of basePath, sorted
func Discover(basePath string) ([]string, error) {
	entries, err := os.ReadDir(basePath)
	if err != nil {
		return nil, err
	}
	var labels []string
	for _, e := range entries {
		if !e.IsDir() || e.Name() == DepositDir || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		labels = append(labels, e.Name())
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("no label folders in %s", basePath)
	}
	sort.Strings(labels)
	return labels, nil
}

// RasterPath finds <base>/<label>/<label>.<ext> for the first known extension
func RasterPath(basePath, label string) (string, error) {
	for _, ext := range Extensions {
		for _, e := range []string{ext, strings.ToUpper(ext)} {
			p := filepath.Join(basePath, label, label+e)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}
	return "", fmt.Errorf("%w for label %q in %s", ErrNoRaster, label, basePath)
}

// Load decodes the raster of one label
func (l *Loader) Load(basePath, label string) (*models.RasterDataset, error) {
	path, err := RasterPath(basePath, label)
	if err != nil {
		return nil, err
	}
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	geo, err := l.georef(path)
	if err != nil {
		return nil, err
	}
	if len(geo.Transform) != 6 {
		return nil, fmt.Errorf("%s: transform needs 6 coefficients, got %d", path, len(geo.Transform))
	}

	ds := FromImage(img)
	ds.Label = label
	ds.Transform = models.NewAffine([6]float64(geo.Transform))
	ds.CRS = geo.CRS
	ds.NoData = geo.NoData
	logging.Debugf("Loaded %s: %dx%d, %d band(s), CRS %s", path, ds.Width, ds.Height, ds.Bands, ds.CRS)
	return ds, nil
}

// LoadAll loads labels in order. Labels that fail are reported, not fatal.
func (l *Loader) LoadAll(basePath string, labels []string) ([]*models.RasterDataset, []*models.LabelError) {
	var datasets []*models.RasterDataset
	var failures []*models.LabelError
	for _, label := range labels {
		ds, err := l.Load(basePath, label)
		if err != nil {
			logging.Warnf("Loading %q failed: %v", label, err)
			failures = append(failures, &models.LabelError{Label: label, Err: err})
			continue
		}
		datasets = append(datasets, ds)
	}
	return datasets, failures
}

func (l *Loader) georef(rasterPath string) (*Georef, error) {
	base := strings.TrimSuffix(rasterPath, filepath.Ext(rasterPath))
	if data, err := os.ReadFile(base + ".yaml"); err == nil {
		geo := &Georef{}
		if err := yaml.Unmarshal(data, geo); err != nil {
			return nil, fmt.Errorf("error parsing sidecar %s.yaml: %w", base, err)
		}
		if geo.CRS == "" {
			geo.CRS = l.DefaultCRS
		}
		return geo, nil
	}

	candidates := []string{base + ".wld"}
	if ext, ok := worldFileExt[strings.ToLower(filepath.Ext(rasterPath))]; ok {
		candidates = append([]string{base + ext}, candidates...)
	}
	for _, wf := range candidates {
		f, err := os.Open(wf)
		if err != nil {
			continue
		}
		a, err := ReadWorldFile(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", wf, err)
		}
		c := a.Coefficients()
		return &Georef{Transform: c[:], CRS: l.DefaultCRS}, nil
	}
	return nil, fmt.Errorf("%w for %s", ErrNoGeoreference, rasterPath)
}

// WriteSidecar writes georeferencing for rasterPath as <name>.yaml
func WriteSidecar(rasterPath string, geo *Georef) error {
	data, err := yaml.Marshal(geo)
	if err != nil {
		return fmt.Errorf("error marshaling sidecar: %w", err)
	}
	path := strings.TrimSuffix(rasterPath, filepath.Ext(rasterPath)) + ".yaml"
	return os.WriteFile(path, data, 0644)
}

// FromImage converts a decoded image into a dataset without georeferencing.
// Gray images give one band, anything else three (R, G, B). 16-bit gray keeps
// its full range; colour channels are reduced to 8 bits.
func FromImage(img image.Image) *models.RasterDataset {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	n := w * h

	switch src := img.(type) {
	case *image.Gray16:
		data := make([]float64, n)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				data[y*w+x] = float64(src.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
		return &models.RasterDataset{Data: data, Width: w, Height: h, Bands: 1}
	case *image.Gray:
		data := make([]float64, n)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				data[y*w+x] = float64(src.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
		return &models.RasterDataset{Data: data, Width: w, Height: h, Bands: 1}
	}

	data := make([]float64, 3*n)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			i := y*w + x
			data[i] = float64(c.R)
			data[n+i] = float64(c.G)
			data[2*n+i] = float64(c.B)
		}
	}
	return &models.RasterDataset{Data: data, Width: w, Height: h, Bands: 3}
}
