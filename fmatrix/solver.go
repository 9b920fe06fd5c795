package fmatrix

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
)

// MinimalSolver fits exact candidate matrices to a minimal subset.
// A degenerate subset yields ErrDegenerateSubset or an empty slice.
type MinimalSolver interface {
	SampleSize() int
	Solve(subset PointSet) ([]Matrix3, error)
}

// NewMinimalSolver returns the solver registered under name ("seven" or "eight")
func NewMinimalSolver(name string, tol Tolerances) (MinimalSolver, error) {
	switch name {
	case "", "seven", "7":
		return SevenPointSolver{Tol: tol}, nil
	case "eight", "8":
		return EightPointSolver{Tol: tol}, nil
	default:
		return nil, fmt.Errorf("unknown solver %q (want seven or eight)", name)
	}
}

// EightPointSolver solves the linear epipolar constraint from 8 correspondences.
// The result is not rank-2 enforced.
type EightPointSolver struct {
	Tol Tolerances
}

// SampleSize implements MinimalSolver
func (EightPointSolver) SampleSize() int { return 8 }

// Solve implements MinimalSolver
func (s EightPointSolver) Solve(subset PointSet) ([]Matrix3, error) {
	if len(subset) != 8 {
		return nil, fmt.Errorf("eight-point solver needs 8 correspondences, got %d", len(subset))
	}
	basis, err := nullSpace(subset, 1, s.Tol.Singular)
	if err != nil {
		return nil, err
	}
	return []Matrix3{basis[0]}, nil
}

// SevenPointSolver combines the two-dimensional null space of 7 constraints
// with the singularity constraint det(F) = 0, giving one or three real solutions.
type SevenPointSolver struct {
	Tol Tolerances
}

// SampleSize implements MinimalSolver
func (SevenPointSolver) SampleSize() int { return 7 }

// Solve implements MinimalSolver
func (s SevenPointSolver) Solve(subset PointSet) ([]Matrix3, error) {
	if len(subset) != 7 {
		return nil, fmt.Errorf("seven-point solver needs 7 correspondences, got %d", len(subset))
	}
	basis, err := nullSpace(subset, 2, s.Tol.Singular)
	if err != nil {
		return nil, err
	}
	f1, f2 := basis[0], basis[1]

	// det(a·F1 + (1-a)·F2) is a cubic in a; recover it from four samples.
	mix := func(a float64) Matrix3 { return f1.Scale(a).Add(f2.Scale(1 - a)) }
	d0 := mix(0).Det()
	d1 := mix(1).Det()
	dm1 := mix(-1).Det()
	d2 := mix(2).Det()

	c0 := d0
	c2 := (d1+dm1)/2 - c0
	odd := (d1 - dm1) / 2 // c3 + c1
	c3 := (d2 - 4*c2 - c0 - 2*odd) / 6
	c1 := odd - c3

	roots, err := realCubicRoots(c3, c2, c1, c0, s.Tol.Singular)
	if err != nil {
		return nil, err
	}

	out := make([]Matrix3, 0, len(roots))
	for _, a := range roots {
		out = append(out, mix(a))
	}
	return out, nil
}

// nullSpace returns the dim right-singular vectors of the design matrix with the
// smallest singular values, reshaped to 3x3. The subset is degenerate when the
// design matrix has rank below 9-dim.
func nullSpace(subset PointSet, dim int, tol float64) ([]Matrix3, error) {
	// Pad to a square system; zero rows leave the null space unchanged.
	a := mat.NewDense(9, 9, nil)
	for i, c := range subset {
		x1, x2 := c.First, c.Second
		a.SetRow(i, []float64{
			x2.X * x1.X, x2.X * x1.Y, x2.X * x1.W,
			x2.Y * x1.X, x2.Y * x1.Y, x2.Y * x1.W,
			x2.W * x1.X, x2.W * x1.Y, x2.W * x1.W,
		})
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return nil, fmt.Errorf("design matrix svd: %w", ErrNumericalInstability)
	}
	values := svd.Values(nil)
	rank := 9 - dim
	if values[0] == 0 || values[rank-1] <= tol*values[0] {
		return nil, fmt.Errorf("design matrix rank below %d: %w", rank, ErrDegenerateSubset)
	}

	var v mat.Dense
	svd.VTo(&v)
	out := make([]Matrix3, 0, dim)
	for col := rank; col < 9; col++ {
		var f Matrix3
		for k := 0; k < 9; k++ {
			f[k/3][k%3] = v.At(k, col)
		}
		out = append(out, f)
	}
	return out, nil
}

// realCubicRoots returns the real roots of c3·a³ + c2·a² + c1·a + c0,
// falling back to lower degree when leading coefficients vanish.
func realCubicRoots(c3, c2, c1, c0, tol float64) ([]float64, error) {
	peak := math.Max(math.Max(math.Abs(c3), math.Abs(c2)), math.Max(math.Abs(c1), math.Abs(c0)))
	if peak == 0 {
		return nil, fmt.Errorf("singularity constraint vanishes: %w", ErrDegenerateSubset)
	}

	switch {
	case math.Abs(c3) > tol*peak:
		// Eigenvalues of the companion matrix of the monic cubic.
		b2, b1, b0 := c2/c3, c1/c3, c0/c3
		companion := mat.NewDense(3, 3, []float64{
			-b2, -b1, -b0,
			1, 0, 0,
			0, 1, 0,
		})
		var eig mat.Eigen
		if ok := eig.Factorize(companion, mat.EigenNone); !ok {
			return nil, fmt.Errorf("cubic roots: %w", ErrNumericalInstability)
		}
		var roots []float64
		for _, z := range eig.Values(nil) {
			if math.Abs(imag(z)) <= 1e-8*(1+cmplx.Abs(z)) {
				roots = append(roots, real(z))
			}
		}
		return roots, nil

	case math.Abs(c2) > tol*peak:
		disc := c1*c1 - 4*c2*c0
		if disc < 0 {
			return nil, nil
		}
		sq := math.Sqrt(disc)
		return []float64{(-c1 + sq) / (2 * c2), (-c1 - sq) / (2 * c2)}, nil

	case math.Abs(c1) > tol*peak:
		return []float64{-c0 / c1}, nil

	default:
		return nil, nil
	}
}
