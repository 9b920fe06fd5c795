package fmatrix

import "errors"

var (
	// ErrDegenerateInput is returned when the point set cannot be estimated from:
	// fewer correspondences than the minimal subset, or no spread in an image.
	ErrDegenerateInput = errors.New("fmatrix: degenerate input")

	// ErrNoSolution is returned when no sampled subset produced a candidate.
	ErrNoSolution = errors.New("fmatrix: no solution")

	// ErrNumericalInstability is returned when a singular value decomposition
	// fails to converge.
	ErrNumericalInstability = errors.New("fmatrix: numerical instability")

	// ErrDegenerateSubset is returned by minimal solvers for a subset that has
	// no well-defined solution. The estimator skips such subsets.
	ErrDegenerateSubset = errors.New("fmatrix: degenerate subset")
)
