package monitor

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// DefaultHistogramBins is used when a caller passes bins <= 0.
const DefaultHistogramBins = 50

var (
	beforeColor = color.RGBA{R: 70, G: 130, B: 180, A: 160}
	afterColor  = color.RGBA{R: 220, G: 90, B: 40, A: 160}
)

// WriteOpacityHistogram saves a PNG (or any format plot.Save infers from
// the extension) overlaying the opacity distribution before and after
// pruning. Non-finite opacities are ignored. Empty series are omitted.
func WriteOpacityHistogram(path string, before, after []float32, bins int) error {
	if bins <= 0 {
		bins = DefaultHistogramBins
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Opacity distribution (%d -> %d primitives)", len(before), len(after))
	p.X.Label.Text = "Opacity"
	p.Y.Label.Text = "Primitives"

	series := []struct {
		name   string
		values []float32
		fill   color.Color
	}{
		{"before", before, beforeColor},
		{"after", after, afterColor},
	}
	for _, s := range series {
		vals := finiteValues(s.values)
		if len(vals) == 0 {
			continue
		}
		h, err := plotter.NewHist(vals, bins)
		if err != nil {
			return fmt.Errorf("failed to build %s histogram: %w", s.name, err)
		}
		h.FillColor = s.fill
		h.LineStyle.Width = vg.Points(0.5)
		p.Add(h)
		p.Legend.Add(s.name, h)
	}
	p.Legend.Top = true

	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save histogram: %w", err)
	}
	return nil
}

func finiteValues(v []float32) plotter.Values {
	out := make(plotter.Values, 0, len(v))
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		out = append(out, f)
	}
	return out
}
