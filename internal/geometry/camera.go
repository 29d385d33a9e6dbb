package geometry

import "errors"

var ErrInvalidCamera = errors.New("camera focal length must be positive")

// Camera holds pinhole intrinsics in pixels.
type Camera struct {
	FocalX, FocalY float64
	CX, CY         float64
}

// CameraPair holds the intrinsics of both views of a pair.
type CameraPair struct {
	Camera1 Camera
	Camera2 Camera
}

// Validate checks that both focal lengths are positive.
func (c Camera) Validate() error {
	if !(c.FocalX > 0 && c.FocalY > 0) {
		return ErrInvalidCamera
	}
	return nil
}

// K returns the calibration matrix.
func (c Camera) K() Mat3 {
	return Mat3{c.FocalX, 0, c.CX, 0, c.FocalY, c.CY, 0, 0, 1}
}

// Normalize maps a pixel to normalized camera coordinates.
func (c Camera) Normalize(p Point) Point {
	return Point{X: (p.X - c.CX) / c.FocalX, Y: (p.Y - c.CY) / c.FocalY}
}

// pixelFundamental converts an essential matrix to the fundamental matrix
// K2^-T E K1^-1 acting on pixel coordinates.
func (cp CameraPair) pixelFundamental(e Mat3) (Mat3, bool) {
	k1inv, ok1 := cp.Camera1.K().Inverse()
	k2inv, ok2 := cp.Camera2.K().Inverse()
	if !ok1 || !ok2 {
		return Mat3{}, false
	}
	return k2inv.T().Mul(e).Mul(k1inv), true
}
