package splat

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Policy names a selection policy.
type Policy string

const (
	PolicyThreshold Policy = "threshold"
	PolicyCount     Policy = "count"
)

// Report summarises one prune call. It is computed from the same index set
// that was gathered and never feeds back into selection.
type Report struct {
	Policy           Policy  `json:"policy"`
	OriginalCount    int     `json:"original_count"`
	RetainedCount    int     `json:"retained_count"`
	RemovedCount     int     `json:"removed_count"`
	ReductionPercent float64 `json:"reduction_percent"`

	// Threshold is set for PolicyThreshold.
	Threshold *float64 `json:"threshold,omitempty"`
	// TargetCount is set for PolicyCount.
	TargetCount *int `json:"target_count,omitempty"`
	// MinRetainedOpacity is set for PolicyCount when at least one
	// primitive with a numeric opacity survives.
	MinRetainedOpacity *float64 `json:"min_retained_opacity,omitempty"`

	OpacityMeanBefore float64 `json:"opacity_mean_before"`
	OpacityMeanAfter  float64 `json:"opacity_mean_after"`

	// NoOp is true when a budget at or above the scene size returned the
	// input unchanged.
	NoOp bool `json:"no_op,omitempty"`
}

// newReport fills the counts and opacity statistics for a selection.
// kept holds the gathered indices; nil with all=true means every
// primitive survived without a gather.
func newReport(policy Policy, op []float32, kept []int, all bool) *Report {
	before := toFloat64(op)
	var after []float64
	if all {
		after = before
	} else {
		after = make([]float64, len(kept))
		for j, idx := range kept {
			after[j] = before[idx]
		}
	}

	r := &Report{
		Policy:            policy,
		OriginalCount:     len(op),
		RetainedCount:     len(after),
		OpacityMeanBefore: mean(before),
		OpacityMeanAfter:  mean(after),
	}
	r.RemovedCount = r.OriginalCount - r.RetainedCount
	r.ReductionPercent = ReductionPercent(r.OriginalCount, r.RemovedCount)
	if policy == PolicyCount {
		if m, ok := minRetained(after); ok {
			r.MinRetainedOpacity = &m
		}
	}
	return r
}

// minRetained returns the lowest non-NaN opacity in v. NaN ranks below
// every number during selection, so it never sets the boundary; ok is
// false when v holds no numbers.
func minRetained(v []float64) (float64, bool) {
	finite := make([]float64, 0, len(v))
	for _, x := range v {
		if !math.IsNaN(x) {
			finite = append(finite, x)
		}
	}
	if len(finite) == 0 {
		return 0, false
	}
	return floats.Min(finite), true
}

// ReductionPercent returns removed/original*100, or 0 for an empty scene.
func ReductionPercent(original, removed int) float64 {
	if original == 0 {
		return 0
	}
	return float64(removed) / float64(original) * 100
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return stat.Mean(v, nil)
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

var reportPrinter = message.NewPrinter(language.English)

const reportRule = "============================================================"

// String renders the report as the multi-line summary block printed by
// the CLI in verbose mode.
func (r *Report) String() string {
	p := reportPrinter
	if r.NoOp && r.TargetCount != nil {
		return p.Sprintf("Target count (%d) >= current count (%d). No pruning needed.",
			*r.TargetCount, r.OriginalCount)
	}

	var b strings.Builder
	title := "Gaussian Pruning Results:"
	if r.Policy == PolicyCount {
		title = "Gaussian Pruning Results (Count-Based):"
	}
	fmt.Fprintf(&b, "%s\n%s\n%s\n", reportRule, title, reportRule)
	b.WriteString(p.Sprintf("  Original Gaussians:  %d\n", r.OriginalCount))
	if r.Policy == PolicyCount {
		b.WriteString(p.Sprintf("  Target Gaussians:    %d\n", r.RetainedCount))
	} else {
		b.WriteString(p.Sprintf("  Remaining Gaussians: %d\n", r.RetainedCount))
	}
	b.WriteString(p.Sprintf("  Removed Gaussians:   %d\n", r.RemovedCount))
	fmt.Fprintf(&b, "  Reduction:           %.1f%%\n", r.ReductionPercent)
	if r.Threshold != nil {
		fmt.Fprintf(&b, "  Opacity Threshold:   %v\n", *r.Threshold)
	}
	if r.MinRetainedOpacity != nil {
		fmt.Fprintf(&b, "  Min Opacity Kept:    %.4f\n", *r.MinRetainedOpacity)
	}
	b.WriteString(reportRule)
	return b.String()
}
