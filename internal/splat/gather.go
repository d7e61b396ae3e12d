package splat

import "fmt"

// gather builds a new scene holding the primitives at indices, in the
// order given. Every present attribute is gathered with the same index
// set, so the output keeps one leading length and per-primitive
// correspondence. The input is not modified.
//
// Indices are checked before anything is allocated; on error no output
// exists.
func gather(s *Scene, indices []int) (*Scene, error) {
	n := s.Len()
	for _, idx := range indices {
		if idx < 0 || idx >= n {
			return nil, fmt.Errorf("%w: index %d out of range [0,%d)", ErrInvalidArgument, idx, n)
		}
	}

	out := &Scene{
		Position: gatherAttribute(s.Position, indices),
		Rotation: gatherAttribute(s.Rotation, indices),
		Scale:    gatherAttribute(s.Scale, indices),
		Opacity:  gatherAttribute(s.Opacity, indices),
		ColorDC:  gatherAttribute(s.ColorDC, indices),
	}
	if s.ColorRest != nil {
		rest := gatherAttribute(*s.ColorRest, indices)
		out.ColorRest = &rest
	}
	return out, nil
}

func gatherAttribute(a Attribute, indices []int) Attribute {
	w := a.Width
	data := make([]float32, len(indices)*w)
	for j, idx := range indices {
		copy(data[j*w:(j+1)*w], a.Data[idx*w:(idx+1)*w])
	}
	return Attribute{Width: w, Data: data}
}
