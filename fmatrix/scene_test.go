package fmatrix

import (
	"math"
	"math/rand"
	"testing"
)

// scene is a synthetic two-view setup with a known fundamental matrix
type scene struct {
	F       Matrix3
	Points  PointSet
	Outlier []bool
}

// sceneCameras returns the shared intrinsics K, rotation R and translation t
// of the second camera relative to the first
func sceneCameras() (k, r Matrix3, t [3]float64) {
	k = Matrix3{{800, 0, 500}, {0, 800, 500}, {0, 0, 1}}

	ax, ay := 0.05, 0.1
	rx := Matrix3{{1, 0, 0}, {0, math.Cos(ax), -math.Sin(ax)}, {0, math.Sin(ax), math.Cos(ax)}}
	ry := Matrix3{{math.Cos(ay), 0, math.Sin(ay)}, {0, 1, 0}, {-math.Sin(ay), 0, math.Cos(ay)}}
	r = ry.Mul(rx)
	t = [3]float64{1, 0.1, 0.05}
	return k, r, t
}

// trueFundamental returns K⁻ᵗ·[t]ₓ·R·K⁻¹
func trueFundamental(t testing.TB) Matrix3 {
	t.Helper()
	k, r, tr := sceneCameras()
	kinv, ok := k.Inverse(1e-12)
	if !ok {
		t.Fatal("intrinsics not invertible")
	}
	cross := Matrix3{
		{0, -tr[2], tr[1]},
		{tr[2], 0, -tr[0]},
		{-tr[1], tr[0], 0},
	}
	return kinv.T().Mul(cross).Mul(r).Mul(kinv)
}

// makeScene projects n random points into both cameras, adds Gaussian pixel
// noise and replaces the second point of the first outlierFrac·n
// correspondences with a uniformly random one
func makeScene(t testing.TB, n int, outlierFrac, noise float64, seed int64) scene {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	k, r, tr := sceneCameras()

	project := func(p [3]float64) (float64, float64) {
		v := k.MulVec(p)
		return v[0] / v[2], v[1] / v[2]
	}

	nOut := int(math.Round(outlierFrac * float64(n)))
	sc := scene{
		F:       trueFundamental(t),
		Points:  make(PointSet, n),
		Outlier: make([]bool, n),
	}
	for i := 0; i < n; i++ {
		p := [3]float64{
			-2 + 4*rng.Float64(),
			-2 + 4*rng.Float64(),
			4 + 4*rng.Float64(),
		}
		q := r.MulVec(p)
		q = [3]float64{q[0] + tr[0], q[1] + tr[1], q[2] + tr[2]}

		x1, y1 := project(p)
		x2, y2 := project(q)
		x1 += noise * rng.NormFloat64()
		y1 += noise * rng.NormFloat64()
		x2 += noise * rng.NormFloat64()
		y2 += noise * rng.NormFloat64()

		if i < nOut {
			x2, y2 = 1000*rng.Float64(), 1000*rng.Float64()
			sc.Outlier[i] = true
		}
		sc.Points[i] = Match(x1, y1, x2, y2)
	}
	return sc
}

// inlierSubset returns the indices of the first k correspondences not marked as outliers
func (sc scene) inlierSubset(k int) []int {
	idx := make([]int, 0, k)
	for i, out := range sc.Outlier {
		if !out {
			idx = append(idx, i)
			if len(idx) == k {
				break
			}
		}
	}
	return idx
}

// algebraicError is |x2ᵗ·F·x1| normalized by the norms of F and both points
func algebraicError(c Correspondence, f Matrix3) float64 {
	x1, x2 := c.First.Vec(), c.Second.Vec()
	num := math.Abs(dot(x2, f.MulVec(x1)))
	norm := func(v [3]float64) float64 { return math.Sqrt(dot(v, v)) }
	return num / (f.Frobenius() * norm(x1) * norm(x2))
}
