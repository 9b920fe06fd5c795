package fmatrix

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Feature roles written to the "role" property
const (
	RoleCorrespondence = "correspondence"
	RoleEpipole1       = "epipole1"
	RoleEpipole2       = "epipole2"
)

// CorrespondenceToFeature converts one correspondence to a LineString running
// from the first-image point to the second-image point.
// Coordinates are in pixel space (x, y). Points at infinity yield nil.
func CorrespondenceToFeature(c Correspondence, index int) *geojson.Feature {
	if c.First.W == 0 || c.Second.W == 0 {
		return nil
	}
	x1, y1 := c.First.Euclidean()
	x2, y2 := c.Second.Euclidean()

	f := geojson.NewFeature(orb.LineString{{x1, y1}, {x2, y2}})
	f.Properties["role"] = RoleCorrespondence
	f.Properties["index"] = index
	return f
}

// EpipoleToFeature converts a homogeneous epipole to a Point feature.
// Epipoles at (or numerically near) infinity are skipped and yield nil.
func EpipoleToFeature(e HomgPoint, role string, tol Tolerances) *geojson.Feature {
	scale := math.Max(math.Abs(e.X), math.Abs(e.Y))
	if math.Abs(e.W) <= tol.Singular*scale || e.W == 0 {
		return nil
	}
	x, y := e.Euclidean()
	f := geojson.NewFeature(orb.Point{x, y})
	f.Properties["role"] = role
	return f
}

// ResultToFeatureCollection exports a correspondence set and its estimate.
// Every correspondence becomes a LineString carrying its inlier flag and
// residual; the finite epipoles of the estimated matrix are added as Points.
// result may be nil, in which case only the correspondences are exported.
func ResultToFeatureCollection(source string, points PointSet, result *Result, tol Tolerances) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	for i, c := range points {
		f := CorrespondenceToFeature(c, i)
		if f == nil {
			continue
		}
		if source != "" {
			f.Properties["source"] = source
		}
		if result != nil && i < len(result.Inliers) {
			f.Properties["inlier"] = result.Inliers[i]
			r := result.Residuals[i]
			if r < ResidualSentinel {
				f.Properties["residual"] = r
			}
		}
		fc.Append(f)
	}

	if result == nil {
		return fc
	}

	e1, e2, err := Epipoles(result.Matrix)
	if err != nil {
		return fc
	}
	if f := EpipoleToFeature(e1, RoleEpipole1, tol); f != nil {
		fc.Append(f)
	}
	if f := EpipoleToFeature(e2, RoleEpipole2, tol); f != nil {
		fc.Append(f)
	}
	return fc
}
