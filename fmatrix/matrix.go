package fmatrix

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Matrix3 is a 3x3 real matrix stored row-major.
// It is a plain value: copies never alias.
type Matrix3 [3][3]float64

// Identity3 returns the 3x3 identity matrix
func Identity3() Matrix3 {
	return Matrix3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// NewMatrix3 builds a matrix from 9 row-major values
func NewMatrix3(v ...float64) Matrix3 {
	var m Matrix3
	if len(v) != 9 {
		panic(fmt.Sprintf("fmatrix: NewMatrix3 needs 9 values, got %d", len(v)))
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m[i][j] = v[3*i+j]
		}
	}
	return m
}

// Mul returns m * n
func (m Matrix3) Mul(n Matrix3) Matrix3 {
	var r Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[i][0]*n[0][j] + m[i][1]*n[1][j] + m[i][2]*n[2][j]
		}
	}
	return r
}

// T returns the transpose of m
func (m Matrix3) T() Matrix3 {
	var r Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[j][i]
		}
	}
	return r
}

// MulVec returns m * v
func (m Matrix3) MulVec(v [3]float64) [3]float64 {
	return [3]float64{
		m[0][0]*v[0] + m[0][1]*v[1] + m[0][2]*v[2],
		m[1][0]*v[0] + m[1][1]*v[1] + m[1][2]*v[2],
		m[2][0]*v[0] + m[2][1]*v[1] + m[2][2]*v[2],
	}
}

// TMulVec returns mᵗ * v
func (m Matrix3) TMulVec(v [3]float64) [3]float64 {
	return [3]float64{
		m[0][0]*v[0] + m[1][0]*v[1] + m[2][0]*v[2],
		m[0][1]*v[0] + m[1][1]*v[1] + m[2][1]*v[2],
		m[0][2]*v[0] + m[1][2]*v[1] + m[2][2]*v[2],
	}
}

// Scale returns s * m
func (m Matrix3) Scale(s float64) Matrix3 {
	var r Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = s * m[i][j]
		}
	}
	return r
}

// Add returns m + n
func (m Matrix3) Add(n Matrix3) Matrix3 {
	var r Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[i][j] + n[i][j]
		}
	}
	return r
}

// Det returns the determinant of m
func (m Matrix3) Det() float64 {
	return m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
}

// Inverse returns the inverse of m.
// ok is false when |det| is below tol.
func (m Matrix3) Inverse(tol float64) (Matrix3, bool) {
	det := m.Det()
	if math.Abs(det) < tol {
		return Identity3(), false
	}
	invDet := 1.0 / det
	return Matrix3{
		{
			(m[1][1]*m[2][2] - m[1][2]*m[2][1]) * invDet,
			(m[0][2]*m[2][1] - m[0][1]*m[2][2]) * invDet,
			(m[0][1]*m[1][2] - m[0][2]*m[1][1]) * invDet,
		},
		{
			(m[1][2]*m[2][0] - m[1][0]*m[2][2]) * invDet,
			(m[0][0]*m[2][2] - m[0][2]*m[2][0]) * invDet,
			(m[0][2]*m[1][0] - m[0][0]*m[1][2]) * invDet,
		},
		{
			(m[1][0]*m[2][1] - m[1][1]*m[2][0]) * invDet,
			(m[0][1]*m[2][0] - m[0][0]*m[2][1]) * invDet,
			(m[0][0]*m[1][1] - m[0][1]*m[1][0]) * invDet,
		},
	}, true
}

// Frobenius returns the Frobenius norm of m
func (m Matrix3) Frobenius() float64 {
	var sum float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			sum += m[i][j] * m[i][j]
		}
	}
	return math.Sqrt(sum)
}

// Normalized scales m to unit Frobenius norm with a non-negative largest-magnitude entry.
// Fundamental matrices are only defined up to scale, so this is the form used to compare them.
func (m Matrix3) Normalized() Matrix3 {
	n := m.Frobenius()
	if n == 0 {
		return m
	}
	var peak float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(m[i][j]) > math.Abs(peak) {
				peak = m[i][j]
			}
		}
	}
	if peak < 0 {
		n = -n
	}
	return m.Scale(1 / n)
}

// Dense returns m as a gonum dense matrix
func (m Matrix3) Dense() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		m[0][0], m[0][1], m[0][2],
		m[1][0], m[1][1], m[1][2],
		m[2][0], m[2][1], m[2][2],
	})
}

// FromDense copies the leading 3x3 block of a gonum matrix
func FromDense(d mat.Matrix) Matrix3 {
	var m Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m[i][j] = d.At(i, j)
		}
	}
	return m
}

// String formats m with gonum's matrix formatter
func (m Matrix3) String() string {
	return fmt.Sprintf("%.6g", mat.Formatted(m.Dense()))
}
