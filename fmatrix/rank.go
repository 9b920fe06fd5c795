package fmatrix

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// decompose factorizes f as U·Σ·Vᵗ
func decompose(f Matrix3) (u, v *mat.Dense, values []float64, err error) {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.IsNaN(f[i][j]) || math.IsInf(f[i][j], 0) {
				return nil, nil, nil, fmt.Errorf("svd: non-finite entry at (%d,%d): %w", i, j, ErrNumericalInstability)
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(f.Dense(), mat.SVDFull); !ok {
		return nil, nil, nil, fmt.Errorf("svd: factorization did not converge: %w", ErrNumericalInstability)
	}
	u, v = &mat.Dense{}, &mat.Dense{}
	svd.UTo(u)
	svd.VTo(v)
	return u, v, svd.Values(nil), nil
}

// SingularValues returns the singular values of f in descending order
func SingularValues(f Matrix3) ([]float64, error) {
	_, _, values, err := decompose(f)
	return values, err
}

// Truncate returns the rank-2 matrix closest to f in Frobenius norm by
// zeroing the smallest singular value. The remaining singular values and
// vectors are kept as they are, so the scale and sign of f carry over.
func Truncate(f Matrix3) (Matrix3, error) {
	u, v, values, err := decompose(f)
	if err != nil {
		return Matrix3{}, fmt.Errorf("rank-2 truncation: %w", err)
	}
	values[2] = 0

	var r mat.Dense
	r.Product(u, mat.NewDiagDense(3, values), v.T())
	return FromDense(&r), nil
}

// Epipoles returns the right null vector e1 (F·e1 = 0, the epipole in the
// first image) and the left null vector e2 (Fᵗ·e2 = 0, the epipole in the
// second image). For a matrix of full rank these are the least-singular
// directions.
func Epipoles(f Matrix3) (e1, e2 HomgPoint, err error) {
	u, v, _, err := decompose(f)
	if err != nil {
		return HomgPoint{}, HomgPoint{}, fmt.Errorf("epipoles: %w", err)
	}
	e1 = HomgPoint{X: v.At(0, 2), Y: v.At(1, 2), W: v.At(2, 2)}
	e2 = HomgPoint{X: u.At(0, 2), Y: u.At(1, 2), W: u.At(2, 2)}
	return e1, e2, nil
}
