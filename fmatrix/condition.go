package fmatrix

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Conditioning holds the per-image normalizing similarities.
// T1 maps first-image points, T2 maps second-image points.
// A matrix estimated on conditioned points maps back as F = T2ᵗ · Fc · T1.
type Conditioning struct {
	T1 Matrix3 `json:"t1"`
	T2 Matrix3 `json:"t2"`
}

// IdentityConditioning is the no-op conditioning used when preconditioning is disabled
func IdentityConditioning() Conditioning {
	return Conditioning{T1: Identity3(), T2: Identity3()}
}

// Precondition translates each image's points to zero mean and scales them
// to unit average distance from the origin.
// Returns ErrDegenerateInput for an empty set or when either image has no spread.
func Precondition(points PointSet, tol Tolerances) (PointSet, Conditioning, error) {
	if len(points) == 0 {
		return nil, Conditioning{}, fmt.Errorf("precondition: empty point set: %w", ErrDegenerateInput)
	}

	first := make(orb.MultiPoint, len(points))
	second := make(orb.MultiPoint, len(points))
	for i, c := range points {
		x1, y1 := c.First.Euclidean()
		x2, y2 := c.Second.Euclidean()
		first[i] = orb.Point{x1, y1}
		second[i] = orb.Point{x2, y2}
	}

	t1, err := similarityFor(first, tol)
	if err != nil {
		return nil, Conditioning{}, fmt.Errorf("precondition first image: %w", err)
	}
	t2, err := similarityFor(second, tol)
	if err != nil {
		return nil, Conditioning{}, fmt.Errorf("precondition second image: %w", err)
	}

	cond := Conditioning{T1: t1, T2: t2}
	return cond.Apply(points), cond, nil
}

// similarityFor computes the isotropic scale + translation for one image
func similarityFor(mp orb.MultiPoint, tol Tolerances) (Matrix3, error) {
	centroid, _ := planar.CentroidArea(mp)

	var spread float64
	for _, p := range mp {
		spread += planar.Distance(p, centroid)
	}
	spread /= float64(len(mp))

	if spread <= tol.Spread || math.IsNaN(spread) {
		return Identity3(), fmt.Errorf("all %d points coincide: %w", len(mp), ErrDegenerateInput)
	}

	s := 1.0 / spread
	return Matrix3{
		{s, 0, -s * centroid[0]},
		{0, s, -s * centroid[1]},
		{0, 0, 1},
	}, nil
}

// Apply maps every correspondence into conditioned coordinates
func (c Conditioning) Apply(points PointSet) PointSet {
	out := make(PointSet, len(points))
	for i, p := range points {
		out[i] = Correspondence{
			First:  applyToPoint(c.T1, p.First),
			Second: applyToPoint(c.T2, p.Second),
		}
	}
	return out
}

func applyToPoint(t Matrix3, p HomgPoint) HomgPoint {
	v := t.MulVec(p.Vec())
	return HomgPoint{X: v[0], Y: v[1], W: v[2]}
}

// Unprecondition maps a matrix estimated in conditioned coordinates back to
// the original image coordinates: F = T2ᵗ · Fc · T1
func (c Conditioning) Unprecondition(fc Matrix3) Matrix3 {
	return c.T2.T().Mul(fc).Mul(c.T1)
}

// Condition maps a matrix in original coordinates into conditioned
// coordinates: Fc = T2⁻ᵗ · F · T1⁻¹. It is the inverse of Unprecondition.
func (c Conditioning) Condition(f Matrix3, tol Tolerances) (Matrix3, error) {
	inv1, ok := c.T1.Inverse(tol.Singular)
	if !ok {
		return Matrix3{}, fmt.Errorf("condition: first transform is singular: %w", ErrDegenerateInput)
	}
	inv2, ok := c.T2.Inverse(tol.Singular)
	if !ok {
		return Matrix3{}, fmt.Errorf("condition: second transform is singular: %w", ErrDegenerateInput)
	}
	return inv2.T().Mul(f).Mul(inv1), nil
}
