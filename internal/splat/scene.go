package splat

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrInvalidArgument marks malformed caller input: a missing attribute,
// mismatched attribute lengths or a negative budget. Callers should test
// for it with errors.Is.
var ErrInvalidArgument = errors.New("invalid argument")

// Fixed attribute widths.
const (
	PositionWidth = 3
	RotationWidth = 4
	ScaleWidth    = 3
	OpacityWidth  = 1
)

// Attribute is one per-primitive array stored flat and row-major:
// primitive i occupies Data[i*Width : (i+1)*Width].
type Attribute struct {
	Width int
	Data  []float32
}

// NewAttribute allocates a zeroed attribute for n primitives.
func NewAttribute(n, width int) Attribute {
	return Attribute{Width: width, Data: make([]float32, n*width)}
}

// Len returns the leading dimension (number of primitives).
func (a Attribute) Len() int {
	if a.Width <= 0 {
		return 0
	}
	return len(a.Data) / a.Width
}

// Row returns primitive i's components. The slice aliases Data.
func (a Attribute) Row(i int) []float32 {
	return a.Data[i*a.Width : (i+1)*a.Width]
}

// Scene is a Gaussian-splat collection held as parallel attribute arrays.
// ColorRest is optional; nil means the scene carries no higher-order colour
// coefficients at all.
type Scene struct {
	Position  Attribute
	Rotation  Attribute
	Scale     Attribute
	Opacity   Attribute // activated opacity, the selection key
	ColorDC   Attribute
	ColorRest *Attribute
}

// NewScene allocates a zeroed scene of n primitives. A restWidth of zero
// leaves ColorRest absent.
func NewScene(n, dcWidth, restWidth int) *Scene {
	s := &Scene{
		Position: NewAttribute(n, PositionWidth),
		Rotation: NewAttribute(n, RotationWidth),
		Scale:    NewAttribute(n, ScaleWidth),
		Opacity:  NewAttribute(n, OpacityWidth),
		ColorDC:  NewAttribute(n, dcWidth),
	}
	if restWidth > 0 {
		rest := NewAttribute(n, restWidth)
		s.ColorRest = &rest
	}
	return s
}

// Len returns the number of primitives. It is only meaningful once
// Validate has succeeded.
func (s *Scene) Len() int {
	return s.Opacity.Len()
}

// Opacities returns the selection key, one value per primitive.
func (s *Scene) Opacities() []float32 {
	return s.Opacity.Data
}

type namedAttribute struct {
	name  string
	attr  *Attribute
	width int // required width, 0 = any positive width
}

// attributes lists every present attribute in a fixed order.
func (s *Scene) attributes() []namedAttribute {
	attrs := []namedAttribute{
		{"position", &s.Position, PositionWidth},
		{"rotation", &s.Rotation, RotationWidth},
		{"scale", &s.Scale, ScaleWidth},
		{"opacity", &s.Opacity, OpacityWidth},
		{"color_dc", &s.ColorDC, 0},
	}
	if s.ColorRest != nil {
		attrs = append(attrs, namedAttribute{"color_rest", s.ColorRest, 0})
	}
	return attrs
}

// Validate checks that every required attribute is present with its
// expected width and that all present attributes agree on the number of
// primitives. Errors wrap ErrInvalidArgument.
func (s *Scene) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil scene", ErrInvalidArgument)
	}
	n := -1
	for _, na := range s.attributes() {
		a := na.attr
		if a.Width <= 0 {
			return fmt.Errorf("%w: missing required attribute %q", ErrInvalidArgument, na.name)
		}
		if na.width > 0 && a.Width != na.width {
			return fmt.Errorf("%w: attribute %q has width %d, want %d",
				ErrInvalidArgument, na.name, a.Width, na.width)
		}
		if len(a.Data)%a.Width != 0 {
			return fmt.Errorf("%w: attribute %q has %d values, not a multiple of width %d",
				ErrInvalidArgument, na.name, len(a.Data), a.Width)
		}
		if n < 0 {
			n = a.Len()
			continue
		}
		if a.Len() != n {
			return fmt.Errorf("%w: attribute %q has %d primitives, position has %d",
				ErrInvalidArgument, na.name, a.Len(), n)
		}
	}
	return nil
}

// Bounds returns the axis-aligned box enclosing every primitive centre.
// An empty scene yields the zero box.
func (s *Scene) Bounds() r3.Box {
	n := s.Position.Len()
	if n == 0 {
		return r3.Box{}
	}
	box := r3.Box{
		Min: r3.Vec{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)},
		Max: r3.Vec{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)},
	}
	for i := 0; i < n; i++ {
		p := s.Position.Row(i)
		v := r3.Vec{X: float64(p[0]), Y: float64(p[1]), Z: float64(p[2])}
		box.Min = r3.Vec{X: math.Min(box.Min.X, v.X), Y: math.Min(box.Min.Y, v.Y), Z: math.Min(box.Min.Z, v.Z)}
		box.Max = r3.Vec{X: math.Max(box.Max.X, v.X), Y: math.Max(box.Max.Y, v.Y), Z: math.Max(box.Max.Z, v.Z)}
	}
	return box
}
