// Package plyio reads and writes Gaussian-splat scenes in the PLY layout
// used by 3D Gaussian Splatting tools: one vertex element whose scalar
// properties are x/y/z, f_dc_*, f_rest_*, opacity, scale_* and rot_*.
package plyio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/banshee-data/splat.report/internal/splat"
)

var (
	// ErrUnsupportedFormat is returned for PLY variants this package cannot read.
	ErrUnsupportedFormat = errors.New("unsupported PLY format")
	// ErrMissingProperty is returned when a required splat property is absent.
	ErrMissingProperty = errors.New("missing PLY property")
)

const (
	formatBinaryLE = "binary_little_endian"
	formatASCII    = "ascii"
)

// Options control opacity conversion. Splat PLY files store opacity as a
// logit; scenes hold activated opacity.
type Options struct {
	// ActivateOpacity applies the logistic sigmoid on read and its inverse
	// on write.
	ActivateOpacity bool
}

// DefaultOptions returns the options matching files written by 3DGS tools.
func DefaultOptions() Options {
	return Options{ActivateOpacity: true}
}

// Header is the parsed vertex layout of a PLY file.
type Header struct {
	Format      string
	Version     string
	VertexCount int
	Properties  []Property
}

// Property is one scalar vertex property.
type Property struct {
	Name string
	Type string
	size int
}

var typeSizes = map[string]int{
	"char": 1, "int8": 1, "uchar": 1, "uint8": 1,
	"short": 2, "int16": 2, "ushort": 2, "uint16": 2,
	"int": 4, "int32": 4, "uint": 4, "uint32": 4,
	"float": 4, "float32": 4,
	"double": 8, "float64": 8,
}

// ReadFile loads a splat scene from a PLY file.
func ReadFile(path string, opts Options) (*splat.Scene, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PLY file: %w", err)
	}
	defer f.Close()

	s, err := Read(f, opts)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return s, nil
}

// Read decodes a splat scene from r. Both binary little-endian and ASCII
// bodies are accepted. Normals and unknown properties are skipped.
func Read(r io.Reader, opts Options) (*splat.Scene, error) {
	br := bufio.NewReaderSize(r, 1<<20)
	h, err := ParseHeader(br)
	if err != nil {
		return nil, err
	}

	layout, err := newLayout(h)
	if err != nil {
		return nil, err
	}
	rowFloats := splat.PositionWidth + splat.RotationWidth + splat.ScaleWidth +
		splat.OpacityWidth + layout.dcWidth + layout.restWidth
	if h.VertexCount > math.MaxInt/(4*rowFloats) {
		return nil, fmt.Errorf("%w: vertex count %d too large", ErrUnsupportedFormat, h.VertexCount)
	}

	s := splat.NewScene(0, layout.dcWidth, layout.restWidth)
	g := newGrower(s, min(h.VertexCount, preallocRows))
	targets := layout.bind(s)

	row := make([]float64, len(h.Properties))
	switch h.Format {
	case formatBinaryLE:
		rowSize := 0
		for _, p := range h.Properties {
			rowSize += p.size
		}
		buf := make([]byte, rowSize)
		for i := 0; i < h.VertexCount; i++ {
			if _, err := io.ReadFull(br, buf); err != nil {
				return nil, fmt.Errorf("failed to read vertex %d: %w", i, err)
			}
			decodeBinaryRow(buf, h.Properties, row)
			g.appendRow()
			store(targets, row, i)
		}
	case formatASCII:
		for i := 0; i < h.VertexCount; i++ {
			line, err := br.ReadString('\n')
			if err != nil && (err != io.EOF || strings.TrimSpace(line) == "") {
				return nil, fmt.Errorf("failed to read vertex %d: %w", i, err)
			}
			if err := decodeASCIIRow(line, row); err != nil {
				return nil, fmt.Errorf("vertex %d: %w", i, err)
			}
			g.appendRow()
			store(targets, row, i)
		}
	}

	if opts.ActivateOpacity {
		op := s.Opacities()
		for i, v := range op {
			op[i] = sigmoid(v)
		}
	}
	return s, nil
}

// ParseHeader reads the PLY header up to and including end_header. Only a
// leading vertex element with scalar properties is supported; elements
// after it are ignored.
func ParseHeader(br *bufio.Reader) (*Header, error) {
	magic, err := br.ReadString('\n')
	if err != nil || strings.TrimSpace(magic) != "ply" {
		return nil, fmt.Errorf("%w: missing ply magic", ErrUnsupportedFormat)
	}

	h := &Header{VertexCount: -1}
	var element string
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("failed to read header: %w", err)
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		switch parts[0] {
		case "end_header":
			if h.Format == "" {
				return nil, fmt.Errorf("%w: no format line", ErrUnsupportedFormat)
			}
			if h.VertexCount < 0 {
				return nil, fmt.Errorf("%w: no vertex element", ErrUnsupportedFormat)
			}
			return h, nil
		case "comment", "obj_info":
		case "format":
			if len(parts) < 3 {
				return nil, fmt.Errorf("%w: malformed format line", ErrUnsupportedFormat)
			}
			h.Format, h.Version = parts[1], parts[2]
			if h.Format != formatBinaryLE && h.Format != formatASCII {
				return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, h.Format)
			}
		case "element":
			if len(parts) < 3 {
				return nil, fmt.Errorf("%w: malformed element line", ErrUnsupportedFormat)
			}
			element = parts[1]
			if element != "vertex" {
				if h.VertexCount < 0 {
					return nil, fmt.Errorf("%w: element %q precedes vertex", ErrUnsupportedFormat, element)
				}
				continue
			}
			n, err := strconv.Atoi(parts[2])
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%w: invalid vertex count %q", ErrUnsupportedFormat, parts[2])
			}
			h.VertexCount = n
		case "property":
			if element != "vertex" {
				continue
			}
			if len(parts) < 3 || parts[1] == "list" {
				return nil, fmt.Errorf("%w: vertex property %q", ErrUnsupportedFormat, strings.TrimSpace(line))
			}
			size, ok := typeSizes[parts[1]]
			if !ok {
				return nil, fmt.Errorf("%w: property type %q", ErrUnsupportedFormat, parts[1])
			}
			h.Properties = append(h.Properties, Property{Name: parts[2], Type: parts[1], size: size})
		}
	}
}

// layout maps vertex property positions to scene attribute columns.
type layout struct {
	dcWidth, restWidth int
	columns            []column
}

type column struct {
	attr string
	col  int
}

type target struct {
	attr *splat.Attribute
	col  int
}

var fixedColumns = map[string]column{
	"x": {"position", 0}, "y": {"position", 1}, "z": {"position", 2},
	"rot_0": {"rotation", 0}, "rot_1": {"rotation", 1}, "rot_2": {"rotation", 2}, "rot_3": {"rotation", 3},
	"scale_0": {"scale", 0}, "scale_1": {"scale", 1}, "scale_2": {"scale", 2},
	"opacity": {"opacity", 0},
}

func newLayout(h *Header) (*layout, error) {
	l := &layout{columns: make([]column, len(h.Properties))}
	seen := make(map[string]bool)
	var dc, rest []int
	for i, p := range h.Properties {
		if c, ok := fixedColumns[p.Name]; ok {
			l.columns[i] = c
			seen[p.Name] = true
			continue
		}
		if k, ok := suffixIndex(p.Name, "f_dc_"); ok {
			l.columns[i] = column{"color_dc", k}
			dc = append(dc, k)
			continue
		}
		if k, ok := suffixIndex(p.Name, "f_rest_"); ok {
			l.columns[i] = column{"color_rest", k}
			rest = append(rest, k)
			continue
		}
		l.columns[i] = column{col: -1}
	}

	var missing []string
	for name := range fixedColumns {
		if !seen[name] {
			missing = append(missing, name)
		}
	}
	if len(dc) == 0 {
		missing = append(missing, "f_dc_0")
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: %s", ErrMissingProperty, strings.Join(missing, ", "))
	}

	var err error
	if l.dcWidth, err = contiguousWidth("f_dc_", dc); err != nil {
		return nil, err
	}
	if l.restWidth, err = contiguousWidth("f_rest_", rest); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *layout) bind(s *splat.Scene) []target {
	attrs := map[string]*splat.Attribute{
		"position": &s.Position,
		"rotation": &s.Rotation,
		"scale":    &s.Scale,
		"opacity":  &s.Opacity,
		"color_dc": &s.ColorDC,
	}
	if s.ColorRest != nil {
		attrs["color_rest"] = s.ColorRest
	}
	targets := make([]target, len(l.columns))
	for i, c := range l.columns {
		targets[i] = target{attr: attrs[c.attr], col: c.col}
	}
	return targets
}

// preallocRows caps the rows reserved from the header count. Attributes
// grow past it only as rows are actually decoded.
const preallocRows = 1 << 16

// grower extends every scene attribute by one zeroed row at a time.
type grower struct {
	attrs []*splat.Attribute
	zeros []float32
}

func newGrower(s *splat.Scene, rows int) *grower {
	g := &grower{attrs: []*splat.Attribute{&s.Position, &s.Rotation, &s.Scale, &s.Opacity, &s.ColorDC}}
	if s.ColorRest != nil {
		g.attrs = append(g.attrs, s.ColorRest)
	}
	widest := 0
	for _, a := range g.attrs {
		a.Data = make([]float32, 0, rows*a.Width)
		widest = max(widest, a.Width)
	}
	g.zeros = make([]float32, widest)
	return g
}

func (g *grower) appendRow() {
	for _, a := range g.attrs {
		a.Data = append(a.Data, g.zeros[:a.Width]...)
	}
}

func store(targets []target, row []float64, i int) {
	for j, t := range targets {
		if t.attr == nil {
			continue
		}
		t.attr.Data[i*t.attr.Width+t.col] = float32(row[j])
	}
}

func suffixIndex(name, prefix string) (int, bool) {
	if !strings.HasPrefix(name, prefix) {
		return 0, false
	}
	k, err := strconv.Atoi(name[len(prefix):])
	if err != nil || k < 0 {
		return 0, false
	}
	return k, true
}

// contiguousWidth checks that indices are exactly 0..n-1.
func contiguousWidth(prefix string, indices []int) (int, error) {
	sorted := append([]int(nil), indices...)
	sort.Ints(sorted)
	for i, k := range sorted {
		if k != i {
			return 0, fmt.Errorf("%w: %s%d (properties must be numbered 0..%d)",
				ErrMissingProperty, prefix, i, len(sorted)-1)
		}
	}
	return len(sorted), nil
}

func decodeBinaryRow(buf []byte, props []Property, row []float64) {
	off := 0
	le := binary.LittleEndian
	for i, p := range props {
		b := buf[off : off+p.size]
		switch p.Type {
		case "char", "int8":
			row[i] = float64(int8(b[0]))
		case "uchar", "uint8":
			row[i] = float64(b[0])
		case "short", "int16":
			row[i] = float64(int16(le.Uint16(b)))
		case "ushort", "uint16":
			row[i] = float64(le.Uint16(b))
		case "int", "int32":
			row[i] = float64(int32(le.Uint32(b)))
		case "uint", "uint32":
			row[i] = float64(le.Uint32(b))
		case "float", "float32":
			row[i] = float64(math.Float32frombits(le.Uint32(b)))
		case "double", "float64":
			row[i] = math.Float64frombits(le.Uint64(b))
		}
		off += p.size
	}
}

func decodeASCIIRow(line string, row []float64) error {
	fields := strings.Fields(line)
	if len(fields) < len(row) {
		return fmt.Errorf("expected %d values, got %d", len(row), len(fields))
	}
	for i := range row {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return fmt.Errorf("value %d: %w", i, err)
		}
		row[i] = v
	}
	return nil
}

func sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}

// opacityEpsilon keeps logit finite for opacities of exactly 0 or 1.
const opacityEpsilon = 1e-6

func logit(p float32) float32 {
	v := math.Min(math.Max(float64(p), opacityEpsilon), 1-opacityEpsilon)
	return float32(math.Log(v / (1 - v)))
}
