package db

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/banshee-data/twoview/internal/feature"
	"github.com/banshee-data/twoview/internal/geometry"
)

// Rows are little-endian: keypoints as 4 float64, matches as 2 uint32,
// models as a uint32 kind followed by 18 float64 (Matrix then PixelF).
const (
	keypointSize = 4 * 8
	matchSize    = 2 * 4
	modelSize    = 4 + 18*8
)

func encodeKeypoints(kps []feature.Keypoint) []byte {
	buf := make([]byte, 0, len(kps)*keypointSize)
	for _, kp := range kps {
		for _, v := range [4]float64{kp.X, kp.Y, kp.Scale, kp.Orientation} {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
		}
	}
	return buf
}

func decodeKeypoints(data []byte, rows int) ([]feature.Keypoint, error) {
	if len(data) != rows*keypointSize {
		return nil, fmt.Errorf("keypoint blob has %d bytes for %d rows", len(data), rows)
	}
	kps := make([]feature.Keypoint, rows)
	for i := range kps {
		row := data[i*keypointSize:]
		f := func(k int) float64 { return math.Float64frombits(binary.LittleEndian.Uint64(row[k*8:])) }
		kps[i] = feature.Keypoint{X: f(0), Y: f(1), Scale: f(2), Orientation: f(3)}
	}
	return kps, nil
}

func encodeMatches(matches feature.MatchList) []byte {
	buf := make([]byte, 0, len(matches)*matchSize)
	for _, m := range matches {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(m.Idx1))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(m.Idx2))
	}
	return buf
}

func decodeMatches(data []byte, rows int) (feature.MatchList, error) {
	if len(data) != rows*matchSize {
		return nil, fmt.Errorf("match blob has %d bytes for %d rows", len(data), rows)
	}
	out := make(feature.MatchList, rows)
	for i := range out {
		row := data[i*matchSize:]
		out[i] = feature.Match{
			Idx1: int(binary.LittleEndian.Uint32(row)),
			Idx2: int(binary.LittleEndian.Uint32(row[4:])),
		}
	}
	return out, nil
}

func encodeModels(models []geometry.Model) []byte {
	buf := make([]byte, 0, len(models)*modelSize)
	for _, m := range models {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(m.Kind))
		for _, v := range m.Matrix {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
		}
		for _, v := range m.PixelF {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
		}
	}
	return buf
}

func decodeModels(data []byte) ([]geometry.Model, error) {
	if len(data)%modelSize != 0 {
		return nil, fmt.Errorf("model blob has %d bytes", len(data))
	}
	out := make([]geometry.Model, len(data)/modelSize)
	for i := range out {
		row := data[i*modelSize:]
		m := geometry.Model{Kind: geometry.Kind(binary.LittleEndian.Uint32(row))}
		for k := 0; k < 9; k++ {
			m.Matrix[k] = math.Float64frombits(binary.LittleEndian.Uint64(row[4+8*k:]))
			m.PixelF[k] = math.Float64frombits(binary.LittleEndian.Uint64(row[4+72+8*k:]))
		}
		out[i] = m
	}
	return out, nil
}

// invertModel expresses m with the roles of the two images exchanged.
func invertModel(m geometry.Model) (geometry.Model, error) {
	switch {
	case m.Kind == geometry.KindHomography:
		inv, ok := m.Matrix.Inverse()
		if !ok {
			return geometry.Model{}, fmt.Errorf("homography is singular")
		}
		return geometry.Model{Kind: m.Kind, Matrix: inv}, nil
	case m.Kind.Epipolar():
		return geometry.Model{Kind: m.Kind, Matrix: m.Matrix.T(), PixelF: m.PixelF.T()}, nil
	default:
		return m, nil
	}
}
