package fmatrix

import "math"

// ResidualSentinel is returned in place of a distance whose denominator vanishes.
// It is large enough to rank the correspondence last and small enough that
// summing or squaring a few of them stays finite.
const ResidualSentinel = 1e30

// ResidualEvaluator computes a per-correspondence error for a candidate matrix
type ResidualEvaluator interface {
	// Residual returns a non-negative error for c under f.
	Residual(c Correspondence, f Matrix3) float64
	// Squared reports whether Residual already returns squared distances.
	Squared() bool
}

// Residuals evaluates every correspondence against f.
// The returned slice always has len(points) entries.
func Residuals(points PointSet, f Matrix3, eval ResidualEvaluator) []float64 {
	out := make([]float64, len(points))
	for i, c := range points {
		out[i] = eval.Residual(c, f)
	}
	return out
}

// SymmetricEpipolarResidual sums the squared perpendicular distances of each
// point to the epipolar line induced by its partner
type SymmetricEpipolarResidual struct {
	Tol Tolerances
}

// Squared implements ResidualEvaluator
func (SymmetricEpipolarResidual) Squared() bool { return true }

// Residual implements ResidualEvaluator
func (r SymmetricEpipolarResidual) Residual(c Correspondence, f Matrix3) float64 {
	x1, ok1 := affine(c.First)
	x2, ok2 := affine(c.Second)
	if !ok1 || !ok2 {
		return ResidualSentinel
	}

	l2 := f.MulVec(x1)  // epipolar line of x1 in the second image
	l1 := f.TMulVec(x2) // epipolar line of x2 in the first image

	d2, ok := perpDistSquared(x2, l2, r.Tol.LineNormal)
	if !ok {
		return ResidualSentinel
	}
	d1, ok := perpDistSquared(x1, l1, r.Tol.LineNormal)
	if !ok {
		return ResidualSentinel
	}
	return d1 + d2
}

// SampsonResidual is the first-order approximation of the geometric reprojection error
type SampsonResidual struct {
	Tol Tolerances
}

// Squared implements ResidualEvaluator
func (SampsonResidual) Squared() bool { return true }

// Residual implements ResidualEvaluator
func (r SampsonResidual) Residual(c Correspondence, f Matrix3) float64 {
	x1, ok1 := affine(c.First)
	x2, ok2 := affine(c.Second)
	if !ok1 || !ok2 {
		return ResidualSentinel
	}

	fx1 := f.MulVec(x1)
	ftx2 := f.TMulVec(x2)
	num := dot(x2, fx1)

	grad := fx1[0]*fx1[0] + fx1[1]*fx1[1] + ftx2[0]*ftx2[0] + ftx2[1]*ftx2[1]
	scale := grad + fx1[2]*fx1[2] + ftx2[2]*ftx2[2]
	if scale == 0 || grad <= r.Tol.LineNormal*scale {
		return ResidualSentinel
	}
	return num * num / grad
}

// NewResidualEvaluator returns the evaluator registered under name.
// Unknown names fall back to the symmetric epipolar distance.
func NewResidualEvaluator(name string, tol Tolerances) ResidualEvaluator {
	switch name {
	case "sampson":
		return SampsonResidual{Tol: tol}
	default:
		return SymmetricEpipolarResidual{Tol: tol}
	}
}

// perpDistSquared returns the squared distance from the affine point p to line l.
// ok is false when the line normal is negligible relative to the whole line
// vector, i.e. the line is at infinity or f annihilated the point.
func perpDistSquared(p, l [3]float64, tol float64) (float64, bool) {
	normal := l[0]*l[0] + l[1]*l[1]
	full := normal + l[2]*l[2]
	if full == 0 || normal <= tol*full {
		return 0, false
	}
	d := dot(p, l)
	return d * d / normal, true
}

// affine rescales a homogeneous point so that W == 1
func affine(p HomgPoint) ([3]float64, bool) {
	if p.W == 0 || math.IsNaN(p.W) {
		return [3]float64{}, false
	}
	return [3]float64{p.X / p.W, p.Y / p.W, 1}, true
}

func dot(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}
