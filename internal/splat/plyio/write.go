package plyio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/banshee-data/splat.report/internal/splat"
)

// countingWriter tracks bytes written through it.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// WriteFile writes s to path as binary little-endian PLY and returns the
// file size in bytes.
func WriteFile(path string, s *splat.Scene, opts Options) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create PLY file: %w", err)
	}
	n, err := Write(f, s, opts)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close PLY file: %w", cerr)
	}
	if err != nil {
		return n, fmt.Errorf("write %s: %w", path, err)
	}
	return n, nil
}

// Write encodes s in the standard 3DGS property order
// (x y z nx ny nz f_dc_* f_rest_* opacity scale_* rot_*). Normals are
// written as zero. The scene is validated first; nothing is written for
// an invalid scene.
func Write(w io.Writer, s *splat.Scene, opts Options) (int64, error) {
	if err := s.Validate(); err != nil {
		return 0, err
	}
	cw := &countingWriter{w: w}
	bw := bufio.NewWriterSize(cw, 1<<20)

	names := propertyNames(s)
	fmt.Fprintf(bw, "ply\nformat %s 1.0\nelement vertex %d\n", formatBinaryLE, s.Len())
	for _, name := range names {
		fmt.Fprintf(bw, "property float %s\n", name)
	}
	bw.WriteString("end_header\n")

	row := make([]float32, 0, len(names))
	buf := make([]byte, 4*len(names))
	for i := 0; i < s.Len(); i++ {
		row = row[:0]
		row = append(row, s.Position.Row(i)...)
		row = append(row, 0, 0, 0)
		row = append(row, s.ColorDC.Row(i)...)
		if s.ColorRest != nil {
			row = append(row, s.ColorRest.Row(i)...)
		}
		op := s.Opacity.Data[i]
		if opts.ActivateOpacity {
			op = logit(op)
		}
		row = append(row, op)
		row = append(row, s.Scale.Row(i)...)
		row = append(row, s.Rotation.Row(i)...)

		for j, v := range row {
			binary.LittleEndian.PutUint32(buf[4*j:], math.Float32bits(v))
		}
		if _, err := bw.Write(buf); err != nil {
			return cw.n, fmt.Errorf("failed to write vertex %d: %w", i, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return cw.n, fmt.Errorf("failed to flush PLY data: %w", err)
	}
	return cw.n, nil
}

func propertyNames(s *splat.Scene) []string {
	names := []string{"x", "y", "z", "nx", "ny", "nz"}
	for k := 0; k < s.ColorDC.Width; k++ {
		names = append(names, fmt.Sprintf("f_dc_%d", k))
	}
	if s.ColorRest != nil {
		for k := 0; k < s.ColorRest.Width; k++ {
			names = append(names, fmt.Sprintf("f_rest_%d", k))
		}
	}
	names = append(names, "opacity")
	for k := 0; k < splat.ScaleWidth; k++ {
		names = append(names, fmt.Sprintf("scale_%d", k))
	}
	for k := 0; k < splat.RotationWidth; k++ {
		names = append(names, fmt.Sprintf("rot_%d", k))
	}
	return names
}
