package fmatrix

import "time"

// HomgPoint is a 2D point in homogeneous coordinates (X, Y, W)
type HomgPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
}

// Pt returns the homogeneous point (x, y, 1)
func Pt(x, y float64) HomgPoint {
	return HomgPoint{X: x, Y: y, W: 1}
}

// Euclidean returns the inhomogeneous coordinates of p.
// Points at infinity (W == 0) are returned unscaled.
func (p HomgPoint) Euclidean() (float64, float64) {
	if p.W == 0 || p.W == 1 {
		return p.X, p.Y
	}
	return p.X / p.W, p.Y / p.W
}

// Vec returns p as a column vector
func (p HomgPoint) Vec() [3]float64 {
	return [3]float64{p.X, p.Y, p.W}
}

// Correspondence pairs a point in the first image with its match in the second
type Correspondence struct {
	First  HomgPoint `json:"first"`
	Second HomgPoint `json:"second"`
}

// Match builds a correspondence from two inhomogeneous image points
func Match(x1, y1, x2, y2 float64) Correspondence {
	return Correspondence{First: Pt(x1, y1), Second: Pt(x2, y2)}
}

// PointSet is an ordered set of correspondences between two views.
// The estimator reads it but never modifies or copies it.
type PointSet []Correspondence

// Subset returns the correspondences at the given indices
func (ps PointSet) Subset(indices []int) PointSet {
	out := make(PointSet, len(indices))
	for i, idx := range indices {
		out[i] = ps[idx]
	}
	return out
}

// Result is the outcome of a completed estimation run.
// It is only produced when the run reaches the Done state.
type Result struct {
	RunID       string        `json:"runId"`
	Matrix      Matrix3       `json:"matrix"`
	Cost        float64       `json:"cost"`
	Threshold   float64       `json:"threshold"`
	Inliers     []bool        `json:"inliers"`
	InlierCount int           `json:"inlierCount"`
	Residuals   []float64     `json:"residuals"`
	Samples     int           `json:"samples"`    // subsets drawn from the sampler
	Candidates  int           `json:"candidates"` // hypotheses scored
	Truncated   bool          `json:"truncated"`
	Duration    time.Duration `json:"duration"`
}

// InlierFraction returns the share of correspondences classified as inliers
func (r *Result) InlierFraction() float64 {
	if r == nil || len(r.Inliers) == 0 {
		return 0
	}
	return float64(r.InlierCount) / float64(len(r.Inliers))
}

// InlierIndices returns the indices of all inlier correspondences
func (r *Result) InlierIndices() []int {
	if r == nil {
		return nil
	}
	idx := make([]int, 0, r.InlierCount)
	for i, in := range r.Inliers {
		if in {
			idx = append(idx, i)
		}
	}
	return idx
}

// EstimatorConfig selects the estimator strategies and switches
type EstimatorConfig struct {
	Precondition  bool    `yaml:"precondition" json:"precondition"`
	Rank2Truncate bool    `yaml:"rank2Truncate" json:"rank2Truncate"`
	Solver        string  `yaml:"solver" json:"solver"`     // "seven" or "eight"
	Residual      string  `yaml:"residual" json:"residual"` // "symmetric" or "sampson"
	InlierSigma   float64 `yaml:"inlierSigma" json:"inlierSigma"`
	Workers       int     `yaml:"workers" json:"workers"`
}

// SamplingConfig controls the random subset driver
type SamplingConfig struct {
	MaxSamples      int     `yaml:"maxSamples" json:"maxSamples"`
	Adaptive        bool    `yaml:"adaptive" json:"adaptive"`
	Confidence      float64 `yaml:"confidence" json:"confidence"`
	OutlierFraction float64 `yaml:"outlierFraction" json:"outlierFraction"`
	Seed            int64   `yaml:"seed" json:"seed"` // 0 selects a time-based seed
}

// Tolerances centralizes the numeric thresholds used across the package
type Tolerances struct {
	LineNormal float64 `yaml:"lineNormal" json:"lineNormal"` // minimum a²+b² of an epipolar line
	Spread     float64 `yaml:"spread" json:"spread"`         // minimum mean distance from the centroid
	Singular   float64 `yaml:"singular" json:"singular"`     // singular-value / pivot cutoff
}

// DefaultTolerances returns the tolerances used when none are configured
func DefaultTolerances() Tolerances {
	return Tolerances{
		LineNormal: 1e-12,
		Spread:     1e-12,
		Singular:   1e-10,
	}
}

// SourceConfig defines a correspondence source for service mode
type SourceConfig struct {
	ID    string `yaml:"id" json:"id"`
	Topic string `yaml:"topic" json:"topic"`
	Color string `yaml:"color,omitempty" json:"color,omitempty"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// Config represents the full configuration file
type Config struct {
	Estimator  EstimatorConfig `yaml:"estimator" json:"estimator"`
	Sampling   SamplingConfig  `yaml:"sampling" json:"sampling"`
	Tolerances Tolerances      `yaml:"tolerances" json:"tolerances"`
	MQTT       MQTTConfig      `yaml:"mqtt" json:"mqtt"`
	Sources    []SourceConfig  `yaml:"sources,omitempty" json:"sources,omitempty"`
}

// GetSourceByID returns the source config for the given ID
func (c *Config) GetSourceByID(id string) *SourceConfig {
	for i := range c.Sources {
		if c.Sources[i].ID == id {
			return &c.Sources[i]
		}
	}
	return nil
}
