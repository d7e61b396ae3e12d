package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/splat.report/internal/config"
	"github.com/banshee-data/splat.report/internal/splat"
	"github.com/banshee-data/splat.report/internal/splat/plyio"
)

// writeTestPLY writes a scene with opacities 0, 1/n, ..., (n-1)/n.
func writeTestPLY(t *testing.T, dir string, n int) string {
	t.Helper()
	s := splat.NewScene(n, 3, 45)
	for i := 0; i < n; i++ {
		s.Position.Row(i)[0] = float32(i)
		s.Rotation.Row(i)[0] = 1
		s.Opacity.Data[i] = float32(i) / float32(n)
	}
	path := filepath.Join(dir, "scene.ply")
	_, err := plyio.WriteFile(path, s, plyio.DefaultOptions())
	require.NoError(t, err)
	return path
}

func TestParseFlags_Precedence(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "prune.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"policy":"count","target_count":7,"opacity_threshold":0.2}`), 0644))

	opts, cfg, err := parseFlags([]string{"-in", "a/scene.ply", "-config", cfgPath, "-target-count", "3"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "a/scene_pruned.ply", opts.Out)
	assert.Equal(t, config.PolicyCount, cfg.GetPolicy())
	assert.Equal(t, 3, cfg.GetTargetCount(), "flag overrides config file")
	assert.Equal(t, 0.2, cfg.GetOpacityThreshold(), "config file overrides default")
	assert.True(t, cfg.GetActivateOpacity())

	_, cfg, err = parseFlags([]string{"-raw-opacity"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.False(t, cfg.GetActivateOpacity())
}

func TestParseFlags_Invalid(t *testing.T) {
	_, _, err := parseFlags([]string{"-policy", "random"}, &bytes.Buffer{})
	assert.Error(t, err)

	_, _, err = parseFlags([]string{"-target-count", "-1"}, &bytes.Buffer{})
	assert.Error(t, err)

	_, _, err = parseFlags([]string{"-no-such-flag"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestRun_Threshold(t *testing.T) {
	dir := t.TempDir()
	in := writeTestPLY(t, dir, 100)
	out := filepath.Join(dir, "out.ply")

	var stdout, stderr bytes.Buffer
	err := run([]string{"-in", in, "-out", out, "-threshold", "0.5"}, &stdout, &stderr)
	require.NoError(t, err)

	pruned, err := plyio.ReadFile(out, plyio.DefaultOptions())
	require.NoError(t, err)
	// Opacities 0.51..0.99 survive.
	assert.Equal(t, 49, pruned.Len())
	assert.Contains(t, stdout.String(), "Size reduction:")
	assert.Contains(t, stderr.String(), "Gaussian Pruning Results:")
}

func TestRun_CountWithHistoryAndPlots(t *testing.T) {
	dir := t.TempDir()
	in := writeTestPLY(t, dir, 50)
	dbPath := filepath.Join(dir, "history.db")
	plotDir := filepath.Join(dir, "plots")

	var stdout, stderr bytes.Buffer
	err := run([]string{"-in", in, "-policy", "count", "-target-count", "10",
		"-db", dbPath, "-plot-dir", plotDir, "-verbose=false"}, &stdout, &stderr)
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "Recorded run ")
	assert.NotContains(t, stderr.String(), "Gaussian Pruning Results")

	pruned, err := plyio.ReadFile(filepath.Join(dir, "scene_pruned.ply"), plyio.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 10, pruned.Len())

	assert.FileExists(t, filepath.Join(plotDir, "scene_opacity.png"))
	assert.FileExists(t, filepath.Join(plotDir, "scene_report.html"))

	stdout.Reset()
	require.NoError(t, run([]string{"-db", dbPath, "-list", "5"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "POLICY")
	assert.Contains(t, stdout.String(), "count")
	assert.Contains(t, stdout.String(), "80.0%")
}

func TestRun_Errors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.ErrorContains(t, run(nil, &stdout, &stderr), "-in")
	assert.ErrorContains(t, run([]string{"-list", "3"}, &stdout, &stderr), "-db")
	assert.Error(t, run([]string{"-in", filepath.Join(t.TempDir(), "missing.ply")}, &stdout, &stderr))
}

func TestRun_Version(t *testing.T) {
	var stdout bytes.Buffer
	require.NoError(t, run([]string{"-version"}, &stdout, &bytes.Buffer{}))
	assert.Contains(t, stdout.String(), "splatprune dev")
}

func TestParseFlags_DefaultsFromConfig(t *testing.T) {
	_, cfg, err := parseFlags(nil, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, config.DefaultPruneConfig(), cfg)
}

func TestRun_BothPolicies(t *testing.T) {
	dir := t.TempDir()
	in := writeTestPLY(t, dir, 40)
	dbPath := filepath.Join(dir, "history.db")
	plotDir := filepath.Join(dir, "plots")

	var stdout, stderr bytes.Buffer
	err := run([]string{"-in", in, "-policy", "both", "-threshold", "0.5", "-target-count", "5",
		"-db", dbPath, "-plot-dir", plotDir}, &stdout, &stderr)
	require.NoError(t, err)

	byOpacity, err := plyio.ReadFile(filepath.Join(dir, "scene_pruned_opacity.ply"), plyio.DefaultOptions())
	require.NoError(t, err)
	// Opacities 0.525..0.975 survive.
	assert.Equal(t, 19, byOpacity.Len())

	byCount, err := plyio.ReadFile(filepath.Join(dir, "scene_pruned_count.ply"), plyio.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 5, byCount.Len())

	out := stdout.String()
	assert.Contains(t, out, "SUMMARY")
	assert.Contains(t, out, "Opacity Pruning:")
	assert.Contains(t, out, "Count-Based Pruning:")
	assert.Equal(t, 2, strings.Count(out, "Recorded run "))

	assert.FileExists(t, filepath.Join(plotDir, "scene_threshold_opacity.png"))
	assert.FileExists(t, filepath.Join(plotDir, "scene_count_opacity.png"))
	assert.FileExists(t, filepath.Join(plotDir, "scene_report.html"))
}

func TestWriteReportFile(t *testing.T) {
	dir := t.TempDir()
	_, r, err := splat.NewPruner(false).PruneByCount(splat.NewScene(4, 3, 0), 2)
	require.NoError(t, err)

	path := filepath.Join(dir, "report.html")
	require.NoError(t, writeReportFile(path, []string{"count"}, []*splat.Report{r}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Gaussian Pruning")

	err = writeReportFile(filepath.Join(dir, "missing", "report.html"), nil, []*splat.Report{r})
	assert.ErrorContains(t, err, "failed to create report")
}
