package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/splat.report/internal/splat"
)

// DefaultConfigPath is the path to the canonical prune defaults file.
const DefaultConfigPath = "config/prune.defaults.json"

// Policy values accepted in the policy field. PolicyBoth runs the
// threshold and count policies on the same input for comparison.
const (
	PolicyThreshold = string(splat.PolicyThreshold)
	PolicyCount     = string(splat.PolicyCount)
	PolicyBoth      = "both"
)

// PruneConfig holds the settings for a splat prune run. Every field is
// optional; the Get* methods supply defaults for fields left out of the
// JSON, so partial configs are safe.
type PruneConfig struct {
	// Selection params
	Policy           *string  `json:"policy,omitempty"` // "threshold", "count" or "both"
	OpacityThreshold *float64 `json:"opacity_threshold,omitempty"`
	TargetCount      *int     `json:"target_count,omitempty"`

	// PLY params
	ActivateOpacity *bool `json:"activate_opacity,omitempty"` // stored opacity is a logit

	// Output params
	Verbose   *bool   `json:"verbose,omitempty"`
	HistoryDB *string `json:"history_db,omitempty"` // empty disables run history
	PlotDir   *string `json:"plot_dir,omitempty"`   // empty disables plots
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyPruneConfig returns a PruneConfig with all fields set to nil.
func EmptyPruneConfig() *PruneConfig {
	return &PruneConfig{}
}

// DefaultPruneConfig returns a PruneConfig with every field populated from
// the Get* fallbacks.
func DefaultPruneConfig() *PruneConfig {
	e := EmptyPruneConfig()
	return &PruneConfig{
		Policy:           ptrString(e.GetPolicy()),
		OpacityThreshold: ptrFloat64(e.GetOpacityThreshold()),
		TargetCount:      ptrInt(e.GetTargetCount()),
		ActivateOpacity:  ptrBool(e.GetActivateOpacity()),
		Verbose:          ptrBool(e.GetVerbose()),
		HistoryDB:        ptrString(e.GetHistoryDB()),
		PlotDir:          ptrString(e.GetPlotDir()),
	}
}

// LoadPruneConfig loads a PruneConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadPruneConfig(path string) (*PruneConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPruneConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents up to the repository root. Panics if the file
// cannot be loaded; intended for test setup.
func MustLoadDefaultConfig() *PruneConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/splat/plyio/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadPruneConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that set values are usable. The opacity threshold is
// deliberately unchecked: any real cutoff is meaningful.
func (c *PruneConfig) Validate() error {
	if c.Policy != nil {
		switch *c.Policy {
		case PolicyThreshold, PolicyCount, PolicyBoth:
		default:
			return fmt.Errorf("policy must be %q, %q or %q, got %q", PolicyThreshold, PolicyCount, PolicyBoth, *c.Policy)
		}
	}

	if c.TargetCount != nil && *c.TargetCount < 0 {
		return fmt.Errorf("target_count must be non-negative, got %d", *c.TargetCount)
	}

	return nil
}

// Merge copies every field set in other over c.
func (c *PruneConfig) Merge(other *PruneConfig) {
	if other == nil {
		return
	}
	if other.Policy != nil {
		c.Policy = other.Policy
	}
	if other.OpacityThreshold != nil {
		c.OpacityThreshold = other.OpacityThreshold
	}
	if other.TargetCount != nil {
		c.TargetCount = other.TargetCount
	}
	if other.ActivateOpacity != nil {
		c.ActivateOpacity = other.ActivateOpacity
	}
	if other.Verbose != nil {
		c.Verbose = other.Verbose
	}
	if other.HistoryDB != nil {
		c.HistoryDB = other.HistoryDB
	}
	if other.PlotDir != nil {
		c.PlotDir = other.PlotDir
	}
}

// GetPolicy returns the policy value or the default.
func (c *PruneConfig) GetPolicy() string {
	if c.Policy == nil || *c.Policy == "" {
		return PolicyThreshold
	}
	return *c.Policy
}

// GetOpacityThreshold returns the opacity_threshold value or the default.
func (c *PruneConfig) GetOpacityThreshold() float64 {
	if c.OpacityThreshold == nil {
		return splat.DefaultOpacityThreshold
	}
	return *c.OpacityThreshold
}

// GetTargetCount returns the target_count value or the default.
func (c *PruneConfig) GetTargetCount() int {
	if c.TargetCount == nil {
		return splat.DefaultTargetCount
	}
	return *c.TargetCount
}

// GetActivateOpacity returns the activate_opacity value or the default.
func (c *PruneConfig) GetActivateOpacity() bool {
	if c.ActivateOpacity == nil {
		return true
	}
	return *c.ActivateOpacity
}

// GetVerbose returns the verbose value or the default.
func (c *PruneConfig) GetVerbose() bool {
	if c.Verbose == nil {
		return true
	}
	return *c.Verbose
}

// GetHistoryDB returns the history_db path, empty when disabled.
func (c *PruneConfig) GetHistoryDB() string {
	if c.HistoryDB == nil {
		return ""
	}
	return *c.HistoryDB
}

// GetPlotDir returns the plot_dir path, empty when disabled.
func (c *PruneConfig) GetPlotDir() string {
	if c.PlotDir == nil {
		return ""
	}
	return *c.PlotDir
}
