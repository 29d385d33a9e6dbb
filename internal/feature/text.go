package feature

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var ErrBadTextFormat = errors.New("malformed feature text file")

// WriteText serializes a set in the line-oriented text format:
//
//	NUM_FEATURES DIM
//	X Y SCALE ORIENTATION D_1 ... D_DIM
//
// Floats use the shortest representation that parses back to the same
// value, so ReadText(WriteText(s)) reproduces s exactly.
func WriteText(w io.Writer, s *DescriptorSet) error {
	if err := s.Validate(); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d %d\n", s.Len(), s.Dim)

	buf := make([]byte, 0, 16*(s.Dim+4))
	for i, kp := range s.Keypoints {
		buf = buf[:0]
		buf = strconv.AppendFloat(buf, kp.X, 'g', -1, 64)
		buf = append(buf, ' ')
		buf = strconv.AppendFloat(buf, kp.Y, 'g', -1, 64)
		buf = append(buf, ' ')
		buf = strconv.AppendFloat(buf, kp.Scale, 'g', -1, 64)
		buf = append(buf, ' ')
		buf = strconv.AppendFloat(buf, kp.Orientation, 'g', -1, 64)
		for _, d := range s.Descriptor(i) {
			buf = append(buf, ' ')
			buf = strconv.AppendUint(buf, uint64(d), 10)
		}
		buf = append(buf, '\n')
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadText parses the format written by WriteText.
func ReadText(r io.Reader) (*DescriptorSet, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: missing header", ErrBadTextFormat)
	}
	header := strings.Fields(sc.Text())
	if len(header) != 2 {
		return nil, fmt.Errorf("%w: header needs 2 fields, got %d", ErrBadTextFormat, len(header))
	}
	n, err := strconv.Atoi(header[0])
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: bad feature count %q", ErrBadTextFormat, header[0])
	}
	dim, err := strconv.Atoi(header[1])
	if err != nil {
		return nil, fmt.Errorf("%w: bad dimension %q", ErrBadTextFormat, header[1])
	}
	if dim <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidDimension, dim)
	}
	if n > math.MaxInt/dim {
		return nil, fmt.Errorf("%w: %d features of dimension %d overflow", ErrBadTextFormat, n, dim)
	}

	// Slices grow with the lines read; the header count is not trusted for
	// allocation.
	keypoints := make([]Keypoint, 0, min(n, 4096))
	descriptors := make([]uint8, 0)
	for i := 0; i < n; i++ {
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: expected %d features, got %d", ErrBadTextFormat, n, i)
		}
		fields := strings.Fields(sc.Text())
		if len(fields) != 4+dim {
			return nil, fmt.Errorf("%w: line %d has %d fields, want %d", ErrBadTextFormat, i+2, len(fields), 4+dim)
		}
		var vals [4]float64
		for k := 0; k < 4; k++ {
			if vals[k], err = strconv.ParseFloat(fields[k], 64); err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrBadTextFormat, i+2, err)
			}
		}
		keypoints = append(keypoints, Keypoint{X: vals[0], Y: vals[1], Scale: vals[2], Orientation: vals[3]})

		for _, field := range fields[4:] {
			v, err := strconv.ParseUint(field, 10, 8)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: descriptor value %q not in [0,255]", ErrBadTextFormat, i+2, field)
			}
			descriptors = append(descriptors, uint8(v))
		}
	}
	return NewDescriptorSet(keypoints, descriptors, dim)
}

// LoadTextFile reads a feature text file from disk.
func LoadTextFile(path string) (*DescriptorSet, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open feature file: %w", err)
	}
	defer f.Close()

	s, err := ReadText(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// SaveTextFile writes a feature text file to disk.
func SaveTextFile(path string, s *DescriptorSet) error {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to create feature file: %w", err)
	}
	if err := WriteText(f, s); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
