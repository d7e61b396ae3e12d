// Package runstore persists prune-run summaries to the history database.
//
// All SQL for prune runs lives here so the splat package stays free of
// storage concerns.
package runstore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/splat.report/internal/splat"
)

// ErrNotFound is returned when a run id does not exist.
var ErrNotFound = errors.New("prune run not found")

// PruneRun is one recorded invocation of the pruner over a splat file.
type PruneRun struct {
	RunID              string   `json:"run_id"`
	SourcePath         string   `json:"source_path"`
	OutputPath         string   `json:"output_path,omitempty"`
	Policy             string   `json:"policy"`
	OpacityThreshold   *float64 `json:"opacity_threshold,omitempty"`
	TargetCount        *int     `json:"target_count,omitempty"`
	OriginalCount      int      `json:"original_count"`
	RetainedCount      int      `json:"retained_count"`
	RemovedCount       int      `json:"removed_count"`
	ReductionPercent   float64  `json:"reduction_percent"`
	MinRetainedOpacity *float64 `json:"min_retained_opacity,omitempty"`
	OpacityMeanBefore  *float64 `json:"opacity_mean_before,omitempty"`
	OpacityMeanAfter   *float64 `json:"opacity_mean_after,omitempty"`
	NoOp               bool     `json:"no_op"`
	InputBytes         *int64   `json:"input_bytes,omitempty"`
	OutputBytes        *int64   `json:"output_bytes,omitempty"`
	CreatedAtNs        int64    `json:"created_at_ns"`
}

// RunFromReport builds a PruneRun from a prune report. File sizes are
// recorded when positive.
func RunFromReport(r *splat.Report, sourcePath, outputPath string, inputBytes, outputBytes int64) *PruneRun {
	before, after := r.OpacityMeanBefore, r.OpacityMeanAfter
	run := &PruneRun{
		SourcePath:         sourcePath,
		OutputPath:         outputPath,
		Policy:             string(r.Policy),
		OpacityThreshold:   r.Threshold,
		TargetCount:        r.TargetCount,
		OriginalCount:      r.OriginalCount,
		RetainedCount:      r.RetainedCount,
		RemovedCount:       r.RemovedCount,
		ReductionPercent:   r.ReductionPercent,
		MinRetainedOpacity: r.MinRetainedOpacity,
		OpacityMeanBefore:  &before,
		OpacityMeanAfter:   &after,
		NoOp:               r.NoOp,
	}
	if inputBytes > 0 {
		run.InputBytes = &inputBytes
	}
	if outputBytes > 0 {
		run.OutputBytes = &outputBytes
	}
	return run
}

// FileReductionPercent returns the output size saving relative to the
// input, or 0 when either size is unknown.
func (r *PruneRun) FileReductionPercent() float64 {
	if r.InputBytes == nil || r.OutputBytes == nil || *r.InputBytes == 0 {
		return 0
	}
	return float64(*r.InputBytes-*r.OutputBytes) / float64(*r.InputBytes) * 100
}

// PruneRunStore provides persistence for prune runs.
type PruneRunStore struct {
	db *sql.DB
}

// NewPruneRunStore creates a new PruneRunStore.
func NewPruneRunStore(db *sql.DB) *PruneRunStore {
	return &PruneRunStore{db: db}
}

const runColumns = `run_id, source_path, output_path, policy, opacity_threshold, target_count,
	original_count, retained_count, removed_count, reduction_percent,
	min_retained_opacity, opacity_mean_before, opacity_mean_after, no_op,
	input_bytes, output_bytes, created_at_ns`

// InsertRun records a run. If run.RunID is empty, a new UUID is generated;
// if CreatedAtNs is zero, the current time is used.
func (s *PruneRunStore) InsertRun(run *PruneRun) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAtNs == 0 {
		run.CreatedAtNs = time.Now().UnixNano()
	}

	query := `INSERT INTO prune_runs (` + runColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query,
		run.RunID,
		run.SourcePath,
		nullString(run.OutputPath),
		run.Policy,
		nullFloat64(run.OpacityThreshold),
		nullInt(run.TargetCount),
		run.OriginalCount,
		run.RetainedCount,
		run.RemovedCount,
		run.ReductionPercent,
		nullFloat64(run.MinRetainedOpacity),
		nullFloat64(run.OpacityMeanBefore),
		nullFloat64(run.OpacityMeanAfter),
		run.NoOp,
		nullInt64(run.InputBytes),
		nullInt64(run.OutputBytes),
		run.CreatedAtNs,
	)
	if err != nil {
		return fmt.Errorf("insert prune run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *PruneRunStore) GetRun(runID string) (*PruneRun, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM prune_runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get prune run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first. A limit of zero or
// less returns every run.
func (s *PruneRunStore) ListRuns(limit int) ([]*PruneRun, error) {
	query := `SELECT ` + runColumns + ` FROM prune_runs ORDER BY created_at_ns DESC, run_id`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list prune runs: %w", err)
	}
	defer rows.Close()

	var runs []*PruneRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prune run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prune runs: %w", err)
	}
	return runs, nil
}

// DeleteRun removes a run by ID.
func (s *PruneRunStore) DeleteRun(runID string) error {
	res, err := s.db.Exec(`DELETE FROM prune_runs WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("delete prune run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete prune run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(sc scanner) (*PruneRun, error) {
	var run PruneRun
	var outputPath sql.NullString
	var threshold, minOpacity, meanBefore, meanAfter sql.NullFloat64
	var targetCount, inputBytes, outputBytes sql.NullInt64

	err := sc.Scan(
		&run.RunID,
		&run.SourcePath,
		&outputPath,
		&run.Policy,
		&threshold,
		&targetCount,
		&run.OriginalCount,
		&run.RetainedCount,
		&run.RemovedCount,
		&run.ReductionPercent,
		&minOpacity,
		&meanBefore,
		&meanAfter,
		&run.NoOp,
		&inputBytes,
		&outputBytes,
		&run.CreatedAtNs,
	)
	if err != nil {
		return nil, err
	}

	// Map nullable fields
	if outputPath.Valid {
		run.OutputPath = outputPath.String
	}
	run.OpacityThreshold = float64Ptr(threshold)
	run.MinRetainedOpacity = float64Ptr(minOpacity)
	run.OpacityMeanBefore = float64Ptr(meanBefore)
	run.OpacityMeanAfter = float64Ptr(meanAfter)
	if targetCount.Valid {
		v := int(targetCount.Int64)
		run.TargetCount = &v
	}
	if inputBytes.Valid {
		v := inputBytes.Int64
		run.InputBytes = &v
	}
	if outputBytes.Valid {
		v := outputBytes.Int64
		run.OutputBytes = &v
	}
	return &run, nil
}

func float64Ptr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat64(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
