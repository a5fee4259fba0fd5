package sink

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/hazyhaar/docshot/docshot/outcome"
)

// Stdout writes JSON lines to an io.Writer (default os.Stdout).
type Stdout struct {
	mu  sync.Mutex
	enc *json.Encoder
	// changesOnly suppresses unchanged and baseline results.
	changesOnly bool
}

// NewStdout creates a Stdout sink. If w is nil, os.Stdout is used.
func NewStdout(w io.Writer, changesOnly bool) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{enc: json.NewEncoder(w), changesOnly: changesOnly}
}

func (s *Stdout) SendResult(_ context.Context, res outcome.TargetResult) error {
	if s.changesOnly && res.Status != outcome.StatusChanged && res.Status != outcome.StatusFailed {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(envelope{Type: "result", Data: res})
}

func (s *Stdout) SendCycle(_ context.Context, c outcome.Cycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(envelope{Type: "cycle", Data: struct {
		ID         string          `json:"id"`
		StartedAt  time.Time       `json:"started_at"`
		FinishedAt time.Time       `json:"finished_at"`
		Aborted    bool            `json:"aborted"`
		Summary    outcome.Summary `json:"summary"`
	}{c.ID, c.StartedAt, c.FinishedAt, c.Aborted, c.Summarize()}})
}

func (s *Stdout) Close() error { return nil }
