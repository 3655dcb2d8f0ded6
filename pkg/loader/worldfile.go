package loader

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"bboxtool/internal/models"
)

// ReadWorldFile parses an ESRI world file. World files reference the centre of
// the upper-left pixel; the returned transform references its corner.
func ReadWorldFile(r io.Reader) (models.Affine, error) {
	var v []float64
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		f, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return models.Affine{}, fmt.Errorf("world file line %d: %w", len(v)+1, err)
		}
		v = append(v, f)
	}
	if err := sc.Err(); err != nil {
		return models.Affine{}, err
	}
	if len(v) != 6 {
		return models.Affine{}, fmt.Errorf("world file needs 6 values, got %d", len(v))
	}

	// line order: A, D, B, E, C, F
	a := models.Affine{A: v[0], D: v[1], B: v[2], E: v[3], C: v[4], F: v[5]}
	a.C -= (a.A + a.B) / 2
	a.F -= (a.D + a.E) / 2
	return a, nil
}
