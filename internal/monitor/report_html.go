package monitor

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/splat.report/internal/splat"
)

// WriteReportHTML renders a bar chart page of original and retained
// primitive counts, one category per report. labels name the categories;
// missing labels default to "run N".
func WriteReportHTML(w io.Writer, labels []string, reports []*splat.Report) error {
	if len(reports) == 0 {
		return fmt.Errorf("no reports to render")
	}

	x := make([]string, len(reports))
	original := make([]opts.BarData, len(reports))
	retained := make([]opts.BarData, len(reports))
	reduction := make([]opts.BarData, len(reports))
	for i, r := range reports {
		if i < len(labels) && labels[i] != "" {
			x[i] = labels[i]
		} else {
			x[i] = fmt.Sprintf("run %d", i+1)
		}
		original[i] = opts.BarData{Value: r.OriginalCount}
		retained[i] = opts.BarData{Value: r.RetainedCount}
		reduction[i] = opts.BarData{Value: fmt.Sprintf("%.1f", r.ReductionPercent)}
	}

	counts := charts.NewBar()
	counts.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Gaussian Pruning", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Gaussian Pruning", Subtitle: "primitives before and after"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	counts.SetXAxis(x).
		AddSeries("original", original).
		AddSeries("retained", retained,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	pct := charts.NewBar()
	pct.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: "Reduction (%)"}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 100}),
	)
	pct.SetXAxis(x).
		AddSeries("reduction", reduction,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.AddCharts(counts, pct)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render error: %w", err)
	}
	return nil
}
