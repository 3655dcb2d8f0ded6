package coords

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"bboxtool/internal/models"
)

// ErrSingularTransform is returned when an affine transform has a zero
// determinant and therefore no inverse.
var ErrSingularTransform = errors.New("singular affine transform")

// Determinant returns A*E - B*D, the determinant of the linear part.
func Determinant(a models.Affine) float64 {
	return a.A*a.E - a.B*a.D
}

func checkInvertible(a models.Affine) error {
	for _, c := range a.Coefficients() {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("%w: non-finite coefficient in %v", ErrSingularTransform, a.Coefficients())
		}
	}
	if Determinant(a) == 0 {
		return fmt.Errorf("%w: zero determinant for %v", ErrSingularTransform, a.Coefficients())
	}
	return nil
}

// Invert returns the exact algebraic inverse of a, mapping (x, y) to (col, row).
func Invert(a models.Affine) (models.Affine, error) {
	if err := checkInvertible(a); err != nil {
		return models.Affine{}, err
	}
	det := Determinant(a)
	return models.Affine{
		A: a.E / det,
		B: -a.B / det,
		C: (a.B*a.F - a.E*a.C) / det,
		D: -a.D / det,
		E: a.A / det,
		F: (a.D*a.C - a.A*a.F) / det,
	}, nil
}

// Matrix returns the 3x3 homogeneous matrix of a.
func Matrix(a models.Affine) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		a.A, a.B, a.C,
		a.D, a.E, a.F,
		0, 0, 1,
	})
}

func fromMatrix(m mat.Matrix) models.Affine {
	return models.Affine{
		A: m.At(0, 0), B: m.At(0, 1), C: m.At(0, 2),
		D: m.At(1, 0), E: m.At(1, 1), F: m.At(1, 2),
	}
}

// Compose returns the transform applying inner first and outer second.
func Compose(outer, inner models.Affine) models.Affine {
	var m mat.Dense
	m.Mul(Matrix(outer), Matrix(inner))
	return fromMatrix(&m)
}

// Translate returns the transform of a sub-grid whose pixel (0, 0) sits at
// (row, col) of the grid described by a.
func Translate(a models.Affine, row, col float64) models.Affine {
	return Compose(a, models.Affine{A: 1, C: col, E: 1, F: row})
}
