// Package outcome defines the result types emitted by docshot. Sinks, the
// run ledger, the HTTP API and MCP tools all exchange these values.
package outcome

import "time"

// Status is the terminal state of one target within a cycle.
type Status string

const (
	StatusBaseline  Status = "baseline"  // fewer than two snapshots, nothing to compare
	StatusUnchanged Status = "unchanged" // compared, zero differing pixels
	StatusChanged   Status = "changed"   // compared, diff artifact written
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped" // not processed (fail-fast abort or cancellation)
)

// ErrorKind classifies a target failure.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindInvalidInput      ErrorKind = "invalid_input"
	KindCaptureFailure    ErrorKind = "capture_failure"
	KindDimensionMismatch ErrorKind = "dimension_mismatch"
	KindIOFailure         ErrorKind = "io_failure"
	KindCancelled         ErrorKind = "cancelled"
	KindUnknown           ErrorKind = "unknown"
)

// Diff describes a material visual difference between the two newest
// snapshots of a target.
type Diff struct {
	Identifier   string `json:"identifier"`
	URL          string `json:"url"`
	DiffPath     string `json:"diff_path"`
	DiffPixels   int    `json:"diff_pixels"`
	TotalPixels  int    `json:"total_pixels"`
	PreviousPath string `json:"previous_path"`
	NewPath      string `json:"new_path"`
}

// Ratio is the share of differing pixels in [0,1].
func (d *Diff) Ratio() float64 {
	if d == nil || d.TotalPixels == 0 {
		return 0
	}
	return float64(d.DiffPixels) / float64(d.TotalPixels)
}

// TargetResult is the outcome of processing one target.
type TargetResult struct {
	ID           string        `json:"id"` // UUIDv7
	CycleID      string        `json:"cycle_id"`
	URL          string        `json:"url"`
	Identifier   string        `json:"identifier"`
	Status       Status        `json:"status"`
	SnapshotPath string        `json:"snapshot_path,omitempty"`
	Diff         *Diff         `json:"diff,omitempty"`
	ErrorKind    ErrorKind     `json:"error_kind,omitempty"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration"`
	CheckedAt    time.Time     `json:"checked_at"`
}

// Cycle is one full pass over the configured targets.
type Cycle struct {
	ID         string         `json:"id"` // UUIDv7
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Results    []TargetResult `json:"results"`
	Aborted    bool           `json:"aborted"`
}

// Count returns the number of results with the given status.
func (c *Cycle) Count(s Status) int {
	n := 0
	for _, r := range c.Results {
		if r.Status == s {
			n++
		}
	}
	return n
}

// Failed reports whether any target failed.
func (c *Cycle) Failed() bool {
	return c.Count(StatusFailed) > 0
}

// Summary is a flat per-status count, convenient for logs and storage.
type Summary struct {
	Targets   int `json:"targets"`
	Baseline  int `json:"baseline"`
	Unchanged int `json:"unchanged"`
	Changed   int `json:"changed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Summarize counts results by status.
func (c *Cycle) Summarize() Summary {
	return Summary{
		Targets:   len(c.Results),
		Baseline:  c.Count(StatusBaseline),
		Unchanged: c.Count(StatusUnchanged),
		Changed:   c.Count(StatusChanged),
		Failed:    c.Count(StatusFailed),
		Skipped:   c.Count(StatusSkipped),
	}
}
