package plyio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/splat.report/internal/splat"
)

func makeScene(n, restWidth int) *splat.Scene {
	s := splat.NewScene(n, 3, restWidth)
	for i := 0; i < n; i++ {
		f := float32(i)
		copy(s.Position.Row(i), []float32{f, -f, f * 0.5})
		copy(s.Rotation.Row(i), []float32{1, 0, 0, f * 0.01})
		copy(s.Scale.Row(i), []float32{-4, -5 + f*0.1, -6})
		copy(s.ColorDC.Row(i), []float32{0.1 * f, 0.2, 0.3})
		if s.ColorRest != nil {
			row := s.ColorRest.Row(i)
			for k := range row {
				row[k] = float32(k) * 0.01
			}
		}
		s.Opacity.Data[i] = 0.05 + 0.9*f/float32(n)
	}
	return s
}

func TestWriteRead_RoundTripRaw(t *testing.T) {
	t.Parallel()
	for _, restWidth := range []int{0, 45} {
		in := makeScene(17, restWidth)
		var buf bytes.Buffer
		n, err := Write(&buf, in, Options{})
		require.NoError(t, err)
		assert.Equal(t, int64(buf.Len()), n)

		out, err := Read(&buf, Options{})
		require.NoError(t, err)
		if diff := cmp.Diff(in, out); diff != "" {
			t.Errorf("rest=%d round trip mismatch (-in +out):\n%s", restWidth, diff)
		}
	}
}

func TestWriteRead_RoundTripActivated(t *testing.T) {
	t.Parallel()
	in := makeScene(32, 9)
	var buf bytes.Buffer
	_, err := Write(&buf, in, DefaultOptions())
	require.NoError(t, err)

	out, err := Read(&buf, DefaultOptions())
	require.NoError(t, err)
	opt := cmpopts.EquateApprox(0, 1e-5)
	if diff := cmp.Diff(in, out, opt); diff != "" {
		t.Errorf("round trip mismatch (-in +out):\n%s", diff)
	}
}

func TestWrite_HeaderLayout(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	_, err := Write(&buf, makeScene(2, 3), Options{})
	require.NoError(t, err)
	bodyStart := bytes.Index(buf.Bytes(), []byte("end_header\n")) + len("end_header\n")
	bodyLen := buf.Len() - bodyStart

	h, err := ParseHeader(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, "binary_little_endian", h.Format)
	assert.Equal(t, 2, h.VertexCount)

	var names []string
	for _, p := range h.Properties {
		names = append(names, p.Name)
		assert.Equal(t, "float", p.Type)
	}
	want := []string{
		"x", "y", "z", "nx", "ny", "nz",
		"f_dc_0", "f_dc_1", "f_dc_2",
		"f_rest_0", "f_rest_1", "f_rest_2",
		"opacity", "scale_0", "scale_1", "scale_2",
		"rot_0", "rot_1", "rot_2", "rot_3",
	}
	assert.Equal(t, want, names)
	assert.Equal(t, 2*len(want)*4, bodyLen)
}

func TestWrite_ClampsOpacityLogit(t *testing.T) {
	t.Parallel()
	in := makeScene(2, 0)
	in.Opacity.Data[0] = 0
	in.Opacity.Data[1] = 1

	var buf bytes.Buffer
	_, err := Write(&buf, in, DefaultOptions())
	require.NoError(t, err)
	out, err := Read(&buf, Options{})
	require.NoError(t, err)
	for _, v := range out.Opacities() {
		assert.False(t, math.IsInf(float64(v), 0))
		assert.False(t, math.IsNaN(float64(v)))
	}
	assert.Less(t, out.Opacities()[0], float32(-10))
	assert.Greater(t, out.Opacities()[1], float32(10))
}

func TestWrite_InvalidSceneWritesNothing(t *testing.T) {
	t.Parallel()
	in := makeScene(3, 0)
	in.Rotation = splat.Attribute{}
	var buf bytes.Buffer
	n, err := Write(&buf, in, Options{})
	assert.ErrorIs(t, err, splat.ErrInvalidArgument)
	assert.Zero(t, n)
	assert.Zero(t, buf.Len())
}

func TestRead_ASCII(t *testing.T) {
	t.Parallel()
	src := strings.Join([]string{
		"ply",
		"format ascii 1.0",
		"comment written by hand",
		"element vertex 2",
		"property float x",
		"property float y",
		"property float z",
		"property float nx",
		"property float ny",
		"property float nz",
		"property float f_dc_0",
		"property float opacity",
		"property float scale_0",
		"property float scale_1",
		"property float scale_2",
		"property float rot_0",
		"property float rot_1",
		"property float rot_2",
		"property float rot_3",
		"element face 0",
		"property list uchar int vertex_indices",
		"end_header",
		"1 2 3 0 0 1 0.5 0 -1 -2 -3 1 0 0 0",
		"4 5 6 0 0 1 0.25 2 -1 -2 -3 0 1 0 0",
	}, "\n")

	s, err := Read(strings.NewReader(src), DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, s.Validate())
	assert.Equal(t, 2, s.Len())
	assert.Nil(t, s.ColorRest)
	assert.Equal(t, []float32{4, 5, 6}, s.Position.Row(1))
	assert.Equal(t, []float32{0, 1, 0, 0}, s.Rotation.Row(1))
	assert.Equal(t, []float32{0.25}, s.ColorDC.Row(1))
	assert.InDelta(t, 0.5, s.Opacities()[0], 1e-6)
	assert.InDelta(t, 1/(1+math.Exp(-2)), s.Opacities()[1], 1e-6)
}

// binaryPLY builds a little-endian body for a header whose properties are
// all written by put.
func binaryPLY(header []string, rows int, put func(w *bytes.Buffer, i int)) []byte {
	var buf bytes.Buffer
	buf.WriteString(strings.Join(header, "\n") + "\n")
	for i := 0; i < rows; i++ {
		put(&buf, i)
	}
	return buf.Bytes()
}

func TestRead_MixedTypesAndUnknownProperties(t *testing.T) {
	t.Parallel()
	header := []string{
		"ply",
		"format binary_little_endian 1.0",
		"element vertex 3",
		"property double x",
		"property double y",
		"property double z",
		"property uchar red",
		"property float f_dc_1",
		"property float f_dc_0",
		"property float opacity",
		"property short scale_0",
		"property short scale_1",
		"property short scale_2",
		"property float rot_0",
		"property float rot_1",
		"property float rot_2",
		"property float rot_3",
		"property int label",
		"end_header",
	}
	data := binaryPLY(header, 3, func(w *bytes.Buffer, i int) {
		le := binary.LittleEndian
		_ = binary.Write(w, le, []float64{float64(i), 1.5, -2.5})
		w.WriteByte(200)
		_ = binary.Write(w, le, []float32{0.7, 0.3, float32(i)})
		_ = binary.Write(w, le, []int16{-1, -2, int16(-3 * i)})
		_ = binary.Write(w, le, []float32{1, 0, 0, 0})
		_ = binary.Write(w, le, int32(42))
	})

	s, err := Read(bytes.NewReader(data), Options{})
	require.NoError(t, err)
	require.NoError(t, s.Validate())
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []float32{2, 1.5, -2.5}, s.Position.Row(2))
	assert.Equal(t, []float32{0.3, 0.7}, s.ColorDC.Row(0), "f_dc columns follow their suffix")
	assert.Equal(t, []float32{-1, -2, -6}, s.Scale.Row(2))
	assert.Equal(t, []float32{0, 1, 2}, s.Opacities())
}

func TestRead_Errors(t *testing.T) {
	t.Parallel()

	full := []string{
		"property float x", "property float y", "property float z",
		"property float f_dc_0", "property float opacity",
		"property float scale_0", "property float scale_1", "property float scale_2",
		"property float rot_0", "property float rot_1", "property float rot_2", "property float rot_3",
	}
	without := func(name string) []string {
		var out []string
		for _, p := range full {
			if p != "property float "+name {
				out = append(out, p)
			}
		}
		return out
	}
	with := func(extra string) []string {
		return append(append([]string(nil), full...), extra)
	}
	headerCount := func(format, count string, props ...string) string {
		lines := []string{"ply"}
		if format != "" {
			lines = append(lines, "format "+format+" 1.0")
		}
		lines = append(lines, "element vertex "+count)
		lines = append(lines, props...)
		return strings.Join(append(lines, "end_header"), "\n") + "\n"
	}
	headerWith := func(format string, props ...string) string {
		return headerCount(format, "1", props...)
	}

	tests := []struct {
		name    string
		src     string
		wantErr error
		wantMsg string
	}{
		{name: "not ply", src: "obj\n", wantErr: ErrUnsupportedFormat},
		{name: "big endian", src: headerWith("binary_big_endian", full...), wantErr: ErrUnsupportedFormat},
		{name: "list vertex property", src: headerWith("ascii", with("property list uchar float extra")...), wantErr: ErrUnsupportedFormat},
		{name: "unknown type", src: headerWith("ascii", with("property quad extra")...), wantErr: ErrUnsupportedFormat},
		{name: "missing opacity", src: headerWith("ascii", without("opacity")...), wantErr: ErrMissingProperty, wantMsg: "opacity"},
		{name: "missing color", src: headerWith("ascii", without("f_dc_0")...), wantErr: ErrMissingProperty, wantMsg: "f_dc_0"},
		{name: "gap in rest", src: headerWith("ascii", with("property float f_rest_1")...), wantErr: ErrMissingProperty, wantMsg: "f_rest_0"},
		{name: "face before vertex", src: "ply\nformat ascii 1.0\nelement face 1\nelement vertex 1\nend_header\n", wantErr: ErrUnsupportedFormat},
		{name: "no vertex element", src: "ply\nformat ascii 1.0\nend_header\n", wantErr: ErrUnsupportedFormat},
		{name: "truncated binary", src: headerWith("binary_little_endian", full...) + "abc"},
		{name: "short ascii row", src: headerWith("ascii", full...) + "1 2 3\n", wantMsg: "expected 12 values"},
		{name: "unterminated header", src: "ply\nformat ascii 1.0\nelement vertex 1\n"},
		{name: "no format line", src: headerCount("", "3", full...), wantErr: ErrUnsupportedFormat, wantMsg: "no format"},
		{name: "vertex count overflows", src: headerCount("binary_little_endian", "4611686018427387904", full...), wantErr: ErrUnsupportedFormat, wantMsg: "too large"},
		{name: "large count without body", src: headerCount("binary_little_endian", "100000000", full...), wantMsg: "vertex 0"},
		{name: "large ascii count short body", src: headerCount("ascii", "50000000", full...) + "1 2 3 0 1 0 0 0 1 0 0 0\n", wantMsg: "vertex 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, err := Read(strings.NewReader(tt.src), Options{})
			require.Error(t, err)
			assert.Nil(t, s)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestFileRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "scene.ply")
	in := makeScene(100, 45)

	size, err := WriteFile(path, in, DefaultOptions())
	require.NoError(t, err)
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, fi.Size(), size)

	out, err := ReadFile(path, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, in.Len(), out.Len())

	_, err = ReadFile(filepath.Join(dir, "missing.ply"), DefaultOptions())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPrunedFileIsSmaller(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	in := makeScene(200, 45)

	before, err := WriteFile(filepath.Join(dir, "original.ply"), in, DefaultOptions())
	require.NoError(t, err)

	pruned, _, err := (&splat.Pruner{}).PruneByThreshold(in, 0.5)
	require.NoError(t, err)
	after, err := WriteFile(filepath.Join(dir, "pruned.ply"), pruned, DefaultOptions())
	require.NoError(t, err)
	assert.Less(t, after, before)
}
