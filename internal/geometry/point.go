package geometry

import (
	"fmt"
	"math"

	"github.com/banshee-data/twoview/internal/feature"
)

// Point is an image location in pixels.
type Point struct {
	X, Y float64
}

// Dist returns the Euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// KeypointPoint returns the location of a keypoint.
func KeypointPoint(kp feature.Keypoint) Point {
	return Point{X: kp.X, Y: kp.Y}
}

// PointsFromMatches looks up the matched keypoint locations.
func PointsFromMatches(kps1, kps2 []feature.Keypoint, matches feature.MatchList) (p1, p2 []Point, err error) {
	p1 = make([]Point, len(matches))
	p2 = make([]Point, len(matches))
	for i, m := range matches {
		if m.Idx1 < 0 || m.Idx1 >= len(kps1) || m.Idx2 < 0 || m.Idx2 >= len(kps2) {
			return nil, nil, fmt.Errorf("match %d (%d,%d) out of range for %d/%d keypoints",
				i, m.Idx1, m.Idx2, len(kps1), len(kps2))
		}
		p1[i] = KeypointPoint(kps1[m.Idx1])
		p2[i] = KeypointPoint(kps2[m.Idx2])
	}
	return p1, p2, nil
}

// normalizePoints applies the isotropic scaling that moves the centroid to
// the origin and makes the mean distance sqrt(2). It returns the
// transformed points and the transform.
func normalizePoints(pts []Point) ([]Point, Mat3) {
	var cx, cy float64
	for _, p := range pts {
		cx += p.X
		cy += p.Y
	}
	n := float64(len(pts))
	cx /= n
	cy /= n

	var meanDist float64
	for _, p := range pts {
		meanDist += math.Hypot(p.X-cx, p.Y-cy)
	}
	meanDist /= n

	s := 1.0
	if meanDist > 0 {
		s = math.Sqrt2 / meanDist
	}
	out := make([]Point, len(pts))
	for i, p := range pts {
		out[i] = Point{X: s * (p.X - cx), Y: s * (p.Y - cy)}
	}
	return out, Mat3{s, 0, -s * cx, 0, s, -s * cy, 0, 0, 1}
}

// collinear reports whether three points are (nearly) on one line.
func collinear(a, b, c Point) bool {
	area := (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
	scale := math.Max(a.Dist(b)*a.Dist(c), 1e-12)
	return math.Abs(area)/scale < 1e-6
}
