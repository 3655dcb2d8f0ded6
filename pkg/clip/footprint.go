package clip

import (
	"bboxtool/internal/models"
	"bboxtool/pkg/bbox"
	"bboxtool/pkg/coords"
)

// VerifyFootprint returns the labels whose recomputed extent fails to contain
// the requested box, allowing slackPixels of each raster's pixel size per side.
// Rasters that only partly cover the box are the usual offenders.
func VerifyFootprint(t coords.Transformer, box bbox.Box, batch *Batch, slackPixels float64) ([]string, error) {
	var offenders []string
	for _, r := range batch.Rasters {
		grid := &models.RasterDataset{
			Label:     r.Label,
			Width:     r.Width,
			Height:    r.Height,
			Bands:     r.Bands,
			Transform: r.Transform,
			CRS:       r.CRS,
		}
		native, err := box.Native(t, grid)
		if err != nil {
			return nil, err
		}
		sx, sy := coords.PixelSize(r.Transform)
		if !r.Extent.Contains(native, slackPixels*sx, slackPixels*sy) {
			offenders = append(offenders, r.Label)
		}
	}
	return offenders, nil
}
