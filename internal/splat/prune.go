package splat

import (
	"fmt"
	"math"
)

const (
	// DefaultOpacityThreshold is the cutoff used when a caller does not choose one.
	DefaultOpacityThreshold = 0.05
	// DefaultTargetCount is the budget used when a caller does not choose one.
	DefaultTargetCount = 100000
)

// Pruner removes low-opacity primitives from scenes. The zero value is
// ready to use. A Pruner holds no per-call state and may be shared.
type Pruner struct {
	// Verbose writes every report to the diag log stream.
	Verbose bool
}

// NewPruner returns a Pruner.
func NewPruner(verbose bool) *Pruner {
	return &Pruner{Verbose: verbose}
}

// PruneByThreshold keeps every primitive whose opacity is strictly greater
// than threshold, in original order. Any threshold is accepted; values
// outside (0,1) simply keep everything or nothing. An empty result is a
// valid scene.
//
// The input scene is not modified.
func (p *Pruner) PruneByThreshold(s *Scene, threshold float64) (*Scene, *Report, error) {
	if err := s.Validate(); err != nil {
		opsf("prune by threshold rejected: %v", err)
		return nil, nil, err
	}

	op := s.Opacities()
	kept := make([]int, 0, len(op))
	for i, v := range op {
		if float64(v) > threshold {
			kept = append(kept, i)
		}
	}

	out, err := gather(s, kept)
	if err != nil {
		return nil, nil, err
	}

	r := newReport(PolicyThreshold, op, kept, false)
	r.Threshold = &threshold
	p.emit(r)
	if traceEnabled() {
		tracef("threshold=%v kept=%d/%d bounds_before=%v bounds_after=%v",
			threshold, len(kept), len(op), s.Bounds(), out.Bounds())
	}
	return out, r, nil
}

// PruneByCount keeps the targetCount primitives with the highest opacity.
// Retained primitives are emitted in ascending original index order. At
// equal opacity the lower original index is preferred, so the result is
// deterministic.
//
// A targetCount at or above the scene size returns s itself, unchanged;
// the result then shares storage with the input. A negative targetCount
// fails with ErrInvalidArgument.
func (p *Pruner) PruneByCount(s *Scene, targetCount int) (*Scene, *Report, error) {
	if targetCount < 0 {
		err := fmt.Errorf("%w: target count must be non-negative, got %d", ErrInvalidArgument, targetCount)
		opsf("prune by count rejected: %v", err)
		return nil, nil, err
	}
	if err := s.Validate(); err != nil {
		opsf("prune by count rejected: %v", err)
		return nil, nil, err
	}

	op := s.Opacities()
	if targetCount >= len(op) {
		r := newReport(PolicyCount, op, nil, true)
		r.TargetCount = &targetCount
		r.NoOp = true
		p.emit(r)
		return s, r, nil
	}

	var kept []int
	if targetCount > 0 {
		kept = selectTopK(op, targetCount)
	} else {
		kept = []int{}
	}

	out, err := gather(s, kept)
	if err != nil {
		return nil, nil, err
	}

	r := newReport(PolicyCount, op, kept, false)
	r.TargetCount = &targetCount
	p.emit(r)
	if traceEnabled() {
		boundary := math.NaN()
		if r.MinRetainedOpacity != nil {
			boundary = *r.MinRetainedOpacity
		}
		tracef("target=%d boundary_opacity=%.6f kept=%d/%d bounds_before=%v bounds_after=%v",
			targetCount, boundary, len(kept), len(op), s.Bounds(), out.Bounds())
	}
	return out, r, nil
}

// Prune dispatches to the named policy. threshold is only read by
// PolicyThreshold and targetCount only by PolicyCount.
func (p *Pruner) Prune(s *Scene, policy Policy, threshold float64, targetCount int) (*Scene, *Report, error) {
	switch policy {
	case PolicyThreshold:
		return p.PruneByThreshold(s, threshold)
	case PolicyCount:
		return p.PruneByCount(s, targetCount)
	default:
		return nil, nil, fmt.Errorf("%w: unknown policy %q", ErrInvalidArgument, policy)
	}
}

func (p *Pruner) emit(r *Report) {
	diagf("policy=%s original=%d retained=%d removed=%d reduction=%.1f%%",
		r.Policy, r.OriginalCount, r.RetainedCount, r.RemovedCount, r.ReductionPercent)
	if p != nil && p.Verbose {
		diagf("\n%s", r.String())
	}
}
