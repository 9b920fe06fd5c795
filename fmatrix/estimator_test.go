package fmatrix

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockSolver returns whatever candidates the test programs it with
type mockSolver struct {
	mock.Mock
	k int
}

func (m *mockSolver) SampleSize() int { return m.k }

func (m *mockSolver) Solve(subset PointSet) ([]Matrix3, error) {
	args := m.Called(subset)
	fs, _ := args.Get(0).([]Matrix3)
	return fs, args.Error(1)
}

func defaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{
		Precondition:  true,
		Rank2Truncate: true,
		Solver:        "seven",
		Residual:      "symmetric",
		InlierSigma:   DefaultInlierSigma,
		Workers:       1,
	}
}

func fixedSampling(maxSamples int, seed int64) SamplingConfig {
	return SamplingConfig{MaxSamples: maxSamples, Seed: seed}
}

func newSevenPointEstimator(cfg EstimatorConfig, sampling SamplingConfig, opts ...Option) *Estimator {
	return NewEstimator(cfg, SevenPointSolver{Tol: DefaultTolerances()}, NewRandomSampler(sampling), opts...)
}

func medianOf(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return sorted[MedianIndex(len(sorted))]
}

func TestEstimate_RecoversMatrixWithOutliers(t *testing.T) {
	tests := []struct {
		name        string
		outlierFrac float64
	}{
		{"30 percent outliers", 0.3},
		{"40 percent outliers", 0.4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := makeScene(t, 100, tt.outlierFrac, 0.1, 1)
			est := newSevenPointEstimator(defaultEstimatorConfig(), fixedSampling(500, 7))

			result, err := est.Estimate(sc.Points)
			require.NoError(t, err)

			assert.Less(t, result.Cost, 2.0, "median squared residual in pixels")

			var inlierResiduals []float64
			recalled, falsePositives, outliers := 0, 0, 0
			for i, out := range sc.Outlier {
				if out {
					outliers++
					if result.Inliers[i] {
						falsePositives++
					}
					continue
				}
				inlierResiduals = append(inlierResiduals, result.Residuals[i])
				if result.Inliers[i] {
					recalled++
				}
			}

			assert.Less(t, medianOf(inlierResiduals), 2.0)
			assert.GreaterOrEqual(t, float64(recalled), 0.9*float64(len(inlierResiduals)),
				"recalled %d of %d true inliers", recalled, len(inlierResiduals))
			assert.LessOrEqual(t, float64(falsePositives), 0.1*float64(outliers),
				"%d of %d outliers classified as inliers", falsePositives, outliers)
		})
	}
}

func TestEstimate_BreaksDownBeyondHalfOutliers(t *testing.T) {
	run := func(frac float64) float64 {
		sc := makeScene(t, 100, frac, 0.1, 1)
		est := newSevenPointEstimator(defaultEstimatorConfig(), fixedSampling(500, 7))
		result, err := est.Estimate(sc.Points)
		require.NoError(t, err)
		return result.Cost
	}

	below := run(0.3)
	above := run(0.7)
	assert.Greater(t, above, 10*below, "cost at 70%% outliers (%g) should dwarf cost at 30%% (%g)", above, below)
}

func TestEstimate_ExactData(t *testing.T) {
	tests := []struct {
		name     string
		solver   MinimalSolver
		residual string
		truncate bool
	}{
		{"seven point symmetric", SevenPointSolver{Tol: DefaultTolerances()}, "symmetric", true},
		{"seven point sampson", SevenPointSolver{Tol: DefaultTolerances()}, "sampson", true},
		{"eight point without truncation", EightPointSolver{Tol: DefaultTolerances()}, "symmetric", false},
		{"eight point truncated", EightPointSolver{Tol: DefaultTolerances()}, "sampson", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := makeScene(t, 30, 0, 0, 5)
			cfg := defaultEstimatorConfig()
			cfg.Residual = tt.residual
			cfg.Rank2Truncate = tt.truncate

			est := NewEstimator(cfg, tt.solver, NewRandomSampler(fixedSampling(20, 3)))
			result, err := est.Estimate(sc.Points)
			require.NoError(t, err)

			assert.Less(t, result.Cost, 1e-8)
			for i, c := range sc.Points {
				assert.Less(t, algebraicError(c, result.Matrix), 1e-8, "correspondence %d", i)
			}
		})
	}
}

func TestEstimate_DegenerateInput(t *testing.T) {
	sc := makeScene(t, 10, 0, 0, 2)

	same := make(PointSet, 12)
	for i := range same {
		same[i] = Match(10, 10, 20, 20)
	}

	tests := []struct {
		name   string
		solver MinimalSolver
		points PointSet
	}{
		{"empty set", SevenPointSolver{}, PointSet{}},
		{"nil set", SevenPointSolver{}, nil},
		{"six points for seven point solver", SevenPointSolver{}, sc.Points[:6]},
		{"seven points for eight point solver", EightPointSolver{}, sc.Points[:7]},
		{"coincident points", SevenPointSolver{}, same},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est := NewEstimator(defaultEstimatorConfig(), tt.solver, NewRandomSampler(fixedSampling(10, 1)))
			result, err := est.Estimate(tt.points)
			assert.Nil(t, result)
			assert.True(t, errors.Is(err, ErrDegenerateInput), "got %v", err)
			assert.Equal(t, Idle, est.State())
		})
	}
}

func TestEstimate_TieKeepsEarliestCandidate(t *testing.T) {
	sc := makeScene(t, 20, 0, 0.5, 3)
	fa := sc.F
	// Scaling by -2 is exact in floating point, so every residual and the
	// cost of fb are bitwise equal to those of fa.
	fb := fa.Scale(-2)

	cfg := EstimatorConfig{Workers: 1}
	subset := []int{0, 1, 2, 3, 4, 5, 6}
	other := []int{7, 8, 9, 10, 11, 12, 13}

	tests := []struct {
		name    string
		workers int
		program func(m *mockSolver)
		subsets [][]int
		want    Matrix3
	}{
		{
			name:    "same sample, fa first",
			workers: 1,
			program: func(m *mockSolver) { m.On("Solve", mock.Anything).Return([]Matrix3{fa, fb}, nil) },
			subsets: [][]int{subset},
			want:    fa,
		},
		{
			name:    "same sample, fb first",
			workers: 1,
			program: func(m *mockSolver) { m.On("Solve", mock.Anything).Return([]Matrix3{fb, fa}, nil) },
			subsets: [][]int{subset},
			want:    fb,
		},
		{
			name:    "separate samples",
			workers: 1,
			program: func(m *mockSolver) {
				m.On("Solve", mock.Anything).Return([]Matrix3{fb}, nil).Once()
				m.On("Solve", mock.Anything).Return([]Matrix3{fa}, nil).Once()
			},
			subsets: [][]int{subset, other},
			want:    fb,
		},
		{
			name:    "parallel scoring",
			workers: 4,
			program: func(m *mockSolver) {
				m.On("Solve", mock.Anything).Return([]Matrix3{fa, fb, fb, fa}, nil)
			},
			subsets: [][]int{subset, other, subset},
			want:    fa,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			solver := &mockSolver{k: 7}
			tt.program(solver)

			c := cfg
			c.Workers = tt.workers
			est := NewEstimator(c, solver, NewSequenceSampler(tt.subsets...))

			result, err := est.Estimate(sc.Points)
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Matrix)
			solver.AssertNumberOfCalls(t, "Solve", len(tt.subsets))
		})
	}
}

func TestEstimate_NoSolution(t *testing.T) {
	sc := makeScene(t, 20, 0, 0.5, 3)

	solver := &mockSolver{k: 7}
	solver.On("Solve", mock.Anything).Return(nil, fmt.Errorf("collinear: %w", ErrDegenerateSubset))

	est := NewEstimator(EstimatorConfig{}, solver, NewRandomSampler(fixedSampling(25, 1)))
	result, err := est.Estimate(sc.Points)

	assert.Nil(t, result)
	assert.True(t, errors.Is(err, ErrNoSolution), "got %v", err)
	assert.Equal(t, Idle, est.State())
	solver.AssertNumberOfCalls(t, "Solve", 25)
}

func TestEstimate_EmptyCandidateListsAreSkipped(t *testing.T) {
	sc := makeScene(t, 20, 0, 0.5, 3)

	solver := &mockSolver{k: 7}
	solver.On("Solve", mock.Anything).Return([]Matrix3{}, nil).Once()
	solver.On("Solve", mock.Anything).Return([]Matrix3{sc.F}, nil).Once()

	est := NewEstimator(EstimatorConfig{}, solver,
		NewSequenceSampler([]int{0, 1, 2, 3, 4, 5, 6}, []int{1, 2, 3, 4, 5, 6, 7}))
	result, err := est.Estimate(sc.Points)
	require.NoError(t, err)

	assert.Equal(t, sc.F, result.Matrix)
	assert.Equal(t, 2, result.Samples)
	assert.Equal(t, 1, result.Candidates)
}

func TestEstimate_SolverErrorPropagates(t *testing.T) {
	sc := makeScene(t, 20, 0, 0.5, 3)

	solver := &mockSolver{k: 7}
	solver.On("Solve", mock.Anything).Return(nil, fmt.Errorf("svd: %w", ErrNumericalInstability))

	est := NewEstimator(EstimatorConfig{}, solver, NewRandomSampler(fixedSampling(25, 1)))
	_, err := est.Estimate(sc.Points)

	assert.True(t, errors.Is(err, ErrNumericalInstability), "got %v", err)
	solver.AssertNumberOfCalls(t, "Solve", 1)
}

func TestEstimate_WorkersMatchSequential(t *testing.T) {
	sc := makeScene(t, 80, 0.3, 0.2, 11)

	sequential := defaultEstimatorConfig()
	parallel := defaultEstimatorConfig()
	parallel.Workers = 4

	want, err := newSevenPointEstimator(sequential, fixedSampling(120, 42)).Estimate(sc.Points)
	require.NoError(t, err)
	got, err := newSevenPointEstimator(parallel, fixedSampling(120, 42)).Estimate(sc.Points)
	require.NoError(t, err)

	assert.Equal(t, want.Matrix, got.Matrix)
	assert.Equal(t, want.Cost, got.Cost)
	assert.Equal(t, want.Inliers, got.Inliers)
	assert.Equal(t, want.Candidates, got.Candidates)
}

func TestEstimate_StateTransitions(t *testing.T) {
	tests := []struct {
		name     string
		truncate bool
	}{
		{"with truncation", true},
		{"without truncation", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := makeScene(t, 40, 0.2, 0.2, 4)
			cfg := defaultEstimatorConfig()
			cfg.Rank2Truncate = tt.truncate

			var states []State
			est := newSevenPointEstimator(cfg, fixedSampling(30, 9), WithStateHook(func(s State) {
				states = append(states, s)
			}))
			_, err := est.Estimate(sc.Points)
			require.NoError(t, err)

			require.NotEmpty(t, states)
			assert.Equal(t, Idle, states[0])
			assert.Equal(t, Done, states[len(states)-1])
			assert.Equal(t, Done, est.State())
			assert.Contains(t, states, Sampling)
			assert.Contains(t, states, Scoring)
			assert.Contains(t, states, Converged)
			if tt.truncate {
				assert.Contains(t, states, Truncating)
			} else {
				assert.NotContains(t, states, Truncating)
			}
		})
	}
}

func TestEstimate_ResultFields(t *testing.T) {
	sc := makeScene(t, 50, 0.2, 0.2, 6)

	var logBuf bytes.Buffer
	est := newSevenPointEstimator(defaultEstimatorConfig(), fixedSampling(60, 3),
		WithRunID(func() string { return "run-1" }),
		WithLogger(log.New(&logBuf, "", 0)),
	)
	result, err := est.Estimate(sc.Points)
	require.NoError(t, err)

	assert.Equal(t, "run-1", result.RunID)
	assert.Len(t, result.Residuals, len(sc.Points))
	assert.Len(t, result.Inliers, len(sc.Points))
	assert.Equal(t, 60, result.Samples)
	assert.GreaterOrEqual(t, result.Candidates, 1)
	assert.True(t, result.Truncated)

	count := 0
	for _, in := range result.Inliers {
		if in {
			count++
		}
	}
	assert.Equal(t, count, result.InlierCount)
	assert.Len(t, result.InlierIndices(), count)
	assert.InDelta(t, float64(count)/50, result.InlierFraction(), 1e-12)

	assert.Equal(t, medianOf(result.Residuals), result.Cost)
	want := math.Pow(DefaultInlierSigma*RobustSigma(result.Cost, 50, 7), 2)
	assert.InDelta(t, want, result.Threshold, 1e-12*want)

	values, err := SingularValues(result.Matrix)
	require.NoError(t, err)
	assert.Less(t, values[2], 1e-12*values[0])

	assert.Contains(t, logBuf.String(), "[LMEDSQ] run run-1")
}

func TestEstimate_TruncationRecomputesCost(t *testing.T) {
	sc := makeScene(t, 40, 0.2, 0.2, 9)
	f := trueFundamental(t)
	fullRank := f.Add(Identity3().Scale(1e-3 * f.Frobenius()))

	solver := &mockSolver{k: 7}
	solver.On("Solve", mock.Anything).Return([]Matrix3{fullRank}, nil)

	eval := NewResidualEvaluator("symmetric", DefaultTolerances())
	sampledCost := medianOf(Residuals(sc.Points, fullRank, eval))

	tests := []struct {
		name     string
		truncate bool
	}{
		{"without truncation", false},
		{"with truncation", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultEstimatorConfig()
			cfg.Precondition = false
			cfg.Rank2Truncate = tt.truncate

			result, err := NewEstimator(cfg, solver, NewRandomSampler(fixedSampling(3, 1))).Estimate(sc.Points)
			require.NoError(t, err)

			residuals := Residuals(sc.Points, result.Matrix, eval)
			assert.Equal(t, residuals, result.Residuals)
			assert.Equal(t, medianOf(residuals), result.Cost)

			if tt.truncate {
				assert.NotEqual(t, fullRank, result.Matrix)
				assert.NotEqual(t, sampledCost, result.Cost, "cost belongs to the truncated matrix")
			} else {
				assert.Equal(t, fullRank, result.Matrix)
				assert.Equal(t, sampledCost, result.Cost)
			}
		})
	}
}

func TestEstimate_Reusable(t *testing.T) {
	sc := makeScene(t, 30, 0.1, 0.2, 8)

	est := NewEstimator(defaultEstimatorConfig(), SevenPointSolver{Tol: DefaultTolerances()},
		NewSequenceSampler(
			[]int{0, 3, 6, 9, 12, 15, 18},
			[]int{1, 4, 7, 10, 13, 16, 19},
			[]int{2, 5, 8, 11, 14, 17, 20},
		))

	first, err := est.Estimate(sc.Points)
	require.NoError(t, err)
	second, err := est.Estimate(sc.Points)
	require.NoError(t, err)

	assert.Equal(t, 3, first.Samples)
	assert.Equal(t, first.Samples, second.Samples)
	assert.Equal(t, first.Matrix, second.Matrix)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestEstimate_DoesNotModifyInput(t *testing.T) {
	sc := makeScene(t, 30, 0.2, 0.2, 10)
	before := append(PointSet(nil), sc.Points...)

	_, err := newSevenPointEstimator(defaultEstimatorConfig(), fixedSampling(20, 1)).Estimate(sc.Points)
	require.NoError(t, err)
	assert.Equal(t, before, sc.Points)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "truncating", Truncating.String())
	assert.Equal(t, "done", Done.String())
	assert.Equal(t, "state(42)", State(42).String())
}
