// Package main provides splatprune, a tool that shrinks Gaussian-splat PLY
// files by removing low-opacity Gaussians.
//
// Two policies are available: keep every Gaussian above an opacity
// threshold, or keep a fixed number of the most opaque Gaussians.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/splat.report/internal/config"
	"github.com/banshee-data/splat.report/internal/db"
	"github.com/banshee-data/splat.report/internal/monitor"
	"github.com/banshee-data/splat.report/internal/runstore"
	"github.com/banshee-data/splat.report/internal/splat"
	"github.com/banshee-data/splat.report/internal/splat/plyio"
	"github.com/banshee-data/splat.report/internal/version"
)

// Options holds the command-line settings that are not part of PruneConfig.
type Options struct {
	In         string
	Out        string
	ConfigPath string
	Trace      bool
	List       int
	Version    bool
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatalf("splatprune: %v", err)
	}
}

// parseFlags parses args into Options and a PruneConfig. Values come from
// the built-in defaults, then the -config file, then explicitly set flags.
func parseFlags(args []string, stderr io.Writer) (Options, *config.PruneConfig, error) {
	var opts Options
	fs := flag.NewFlagSet("splatprune", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&opts.In, "in", "", "Input splat PLY file")
	fs.StringVar(&opts.Out, "out", "", "Output PLY file (default: <in>_pruned.ply)")
	fs.StringVar(&opts.ConfigPath, "config", "", "JSON prune config file")
	fs.BoolVar(&opts.Trace, "trace", false, "Log selection detail")
	fs.IntVar(&opts.List, "list", 0, "List the N most recent runs from -db and exit")
	fs.BoolVar(&opts.Version, "version", false, "Print version and exit")

	defaults := config.DefaultPruneConfig()
	policy := fs.String("policy", defaults.GetPolicy(), "Pruning policy: threshold, count or both")
	threshold := fs.Float64("threshold", defaults.GetOpacityThreshold(), "Remove Gaussians with opacity at or below this value")
	targetCount := fs.Int("target-count", defaults.GetTargetCount(), "Number of Gaussians to keep with -policy count")
	rawOpacity := fs.Bool("raw-opacity", !defaults.GetActivateOpacity(), "Treat stored opacity as already activated")
	verbose := fs.Bool("verbose", defaults.GetVerbose(), "Log pruning statistics")
	dbPath := fs.String("db", "", "SQLite database recording prune runs")
	plotDir := fs.String("plot-dir", "", "Directory for opacity histogram and HTML report")

	if err := fs.Parse(args); err != nil {
		return opts, nil, err
	}

	cfg := defaults
	if opts.ConfigPath != "" {
		fileCfg, err := config.LoadPruneConfig(opts.ConfigPath)
		if err != nil {
			return opts, nil, err
		}
		cfg.Merge(fileCfg)
	}

	overrides := config.EmptyPruneConfig()
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "policy":
			overrides.Policy = policy
		case "threshold":
			overrides.OpacityThreshold = threshold
		case "target-count":
			overrides.TargetCount = targetCount
		case "raw-opacity":
			activate := !*rawOpacity
			overrides.ActivateOpacity = &activate
		case "verbose":
			overrides.Verbose = verbose
		case "db":
			overrides.HistoryDB = dbPath
		case "plot-dir":
			overrides.PlotDir = plotDir
		}
	})
	cfg.Merge(overrides)

	if err := cfg.Validate(); err != nil {
		return opts, nil, fmt.Errorf("invalid flags: %w", err)
	}
	if opts.Out == "" && opts.In != "" {
		opts.Out = strings.TrimSuffix(opts.In, filepath.Ext(opts.In)) + "_pruned.ply"
	}
	return opts, cfg, nil
}

func run(args []string, stdout, stderr io.Writer) error {
	opts, cfg, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if opts.Version {
		fmt.Fprintln(stdout, version.String())
		return nil
	}

	var diag, trace io.Writer
	if cfg.GetVerbose() {
		diag = stderr
	}
	if opts.Trace {
		trace = stderr
	}
	splat.SetLogWriters(stderr, diag, trace)
	defer splat.SetLogWriters(nil, nil, nil)

	if opts.List > 0 {
		return listRuns(cfg.GetHistoryDB(), opts.List, stdout)
	}
	if opts.In == "" {
		return fmt.Errorf("input file is required (-in)")
	}

	plyOpts := plyio.Options{ActivateOpacity: cfg.GetActivateOpacity()}
	start := time.Now()
	scene, err := plyio.ReadFile(opts.In, plyOpts)
	if err != nil {
		return err
	}
	inInfo, err := os.Stat(opts.In)
	if err != nil {
		return fmt.Errorf("failed to stat input: %w", err)
	}
	log.Printf("Loaded %d Gaussians from %s in %v", scene.Len(), opts.In, time.Since(start))

	pruner := splat.NewPruner(cfg.GetVerbose())
	var results []*pruneResult
	for _, j := range pruneJobs(cfg.GetPolicy(), opts.Out) {
		res, err := pruneTo(pruner, scene, j, cfg, plyOpts)
		if err != nil {
			return err
		}
		results = append(results, res)
	}

	printSizes(stdout, opts.In, inInfo.Size(), results)

	if path := cfg.GetHistoryDB(); path != "" {
		for _, res := range results {
			rec := runstore.RunFromReport(res.report, opts.In, res.out, inInfo.Size(), res.outBytes)
			if err := recordRun(path, rec); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Recorded run %s\n", rec.RunID)
		}
	}

	if dir := cfg.GetPlotDir(); dir != "" {
		if err := writeArtefacts(dir, opts.In, scene, results); err != nil {
			return err
		}
	}
	return nil
}

// pruneJob is one policy applied to the input and the file it writes.
type pruneJob struct {
	policy splat.Policy
	label  string
	out    string
}

type pruneResult struct {
	pruneJob
	pruned   *splat.Scene
	report   *splat.Report
	outBytes int64
}

// pruneJobs expands the configured policy. PolicyBoth writes
// <out>_opacity.ply and <out>_count.ply next to the requested output.
func pruneJobs(policy, out string) []pruneJob {
	switch policy {
	case config.PolicyBoth:
		base := strings.TrimSuffix(out, filepath.Ext(out))
		return []pruneJob{
			{policy: splat.PolicyThreshold, label: "Opacity Pruning", out: base + "_opacity.ply"},
			{policy: splat.PolicyCount, label: "Count-Based Pruning", out: base + "_count.ply"},
		}
	case config.PolicyCount:
		return []pruneJob{{policy: splat.PolicyCount, label: "Count-Based Pruning", out: out}}
	default:
		return []pruneJob{{policy: splat.PolicyThreshold, label: "Opacity Pruning", out: out}}
	}
}

func pruneTo(p *splat.Pruner, scene *splat.Scene, j pruneJob, cfg *config.PruneConfig, plyOpts plyio.Options) (*pruneResult, error) {
	pruned, report, err := p.Prune(scene, j.policy, cfg.GetOpacityThreshold(), cfg.GetTargetCount())
	if err != nil {
		return nil, err
	}
	n, err := plyio.WriteFile(j.out, pruned, plyOpts)
	if err != nil {
		return nil, err
	}
	return &pruneResult{pruneJob: j, pruned: pruned, report: report, outBytes: n}, nil
}

const summaryRule = "============================================================"

func printSizes(w io.Writer, in string, inBytes int64, results []*pruneResult) {
	inMB := float64(inBytes) / (1024 * 1024)
	if len(results) == 1 {
		res := results[0]
		fmt.Fprintf(w, "Original PLY file size: %.2f MB  (%s)\n", inMB, in)
		fmt.Fprintf(w, "Pruned PLY file size:   %.2f MB  (%s)\n", float64(res.outBytes)/(1024*1024), res.out)
		fmt.Fprintf(w, "Size reduction: %.1f%%\n", sizeReduction(inBytes, res.outBytes))
		return
	}

	fmt.Fprintf(w, "%s\nSUMMARY\n%s\n", summaryRule, summaryRule)
	fmt.Fprintf(w, "%-22s %.2f MB  (%s)\n", "Original:", inMB, in)
	for _, res := range results {
		fmt.Fprintf(w, "%-22s %.2f MB  (%s)  %.1f%% smaller\n",
			res.label+":", float64(res.outBytes)/(1024*1024), res.out, sizeReduction(inBytes, res.outBytes))
	}
	fmt.Fprintln(w, summaryRule)
}

func sizeReduction(inBytes, outBytes int64) float64 {
	return splat.ReductionPercent(int(inBytes), int(inBytes-outBytes))
}

func recordRun(path string, run *runstore.PruneRun) error {
	database, err := db.Open(path)
	if err != nil {
		return fmt.Errorf("open history db: %w", err)
	}
	defer database.Close()
	return runstore.NewPruneRunStore(database.DB).InsertRun(run)
}

// writeArtefacts writes one opacity histogram per result and a single HTML
// report comparing them. With one result the histogram is
// <base>_opacity.png; with several it is <base>_<policy>_opacity.png.
func writeArtefacts(dir, in string, scene *splat.Scene, results []*pruneResult) error {
	base := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
	labels := make([]string, len(results))
	reports := make([]*splat.Report, len(results))
	for i, res := range results {
		name := base + "_opacity.png"
		if len(results) > 1 {
			name = base + "_" + string(res.policy) + "_opacity.png"
		}
		plotPath := filepath.Join(dir, name)
		if err := monitor.WriteOpacityHistogram(plotPath, scene.Opacities(), res.pruned.Opacities(), 0); err != nil {
			return err
		}
		log.Printf("Wrote %s", plotPath)
		labels[i] = string(res.policy)
		reports[i] = res.report
	}

	htmlPath := filepath.Join(dir, base+"_report.html")
	if err := writeReportFile(htmlPath, labels, reports); err != nil {
		return err
	}
	log.Printf("Wrote %s", htmlPath)
	return nil
}

func writeReportFile(path string, labels []string, reports []*splat.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	err = monitor.WriteReportHTML(f, labels, reports)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close report: %w", cerr)
	}
	return err
}

func listRuns(path string, limit int, stdout io.Writer) error {
	if path == "" {
		return fmt.Errorf("-list requires a history database (-db)")
	}
	database, err := db.Open(path)
	if err != nil {
		return fmt.Errorf("open history db: %w", err)
	}
	defer database.Close()

	runs, err := runstore.NewPruneRunStore(database.DB).ListRuns(limit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tCREATED\tPOLICY\tORIGINAL\tRETAINED\tREDUCTION\tFILE SAVING\tSOURCE")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%.1f%%\t%.1f%%\t%s\n",
			r.RunID,
			time.Unix(0, r.CreatedAtNs).Format(time.RFC3339),
			r.Policy,
			r.OriginalCount,
			r.RetainedCount,
			r.ReductionPercent,
			r.FileReductionPercent(),
			r.SourcePath,
		)
	}
	return tw.Flush()
}
