package docshot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/docshot/docshot/internal/ledger"
	"github.com/hazyhaar/docshot/docshot/internal/snapshot"
	"github.com/hazyhaar/docshot/docshot/outcome"
)

// Snapshot is a stored capture of one target.
type Snapshot = snapshot.Entry

// CycleSummary is a recorded cycle without its per-target results.
type CycleSummary = ledger.CycleSummary

// ErrNotFound is returned when a cycle or file does not exist.
var ErrNotFound = errors.New("docshot: not found")

// ErrPathTraversal is returned when a requested file name escapes its directory.
var ErrPathTraversal = errors.New("docshot: path traversal")

// Target returns the configured target with the given identifier.
func (r *Runner) Target(identifier string) (Target, bool) {
	for _, t := range r.targets {
		if t.Identifier == identifier {
			return t, true
		}
	}
	return Target{}, false
}

// Snapshots lists the stored captures of a target, newest first.
func (r *Runner) Snapshots(identifier string) ([]Snapshot, error) {
	if _, ok := r.Target(identifier); !ok {
		return nil, fmt.Errorf("%w: unknown target %q", ErrNotFound, identifier)
	}
	return r.store.List(identifier)
}

// Cycles returns recorded cycles, newest first.
func (r *Runner) Cycles(ctx context.Context, limit int) ([]CycleSummary, error) {
	if r.ledger == nil {
		return nil, ErrLedgerDisabled
	}
	return r.ledger.ListCycles(ctx, limit)
}

// Cycle returns a recorded cycle with its results.
func (r *Runner) Cycle(ctx context.Context, id string) (*outcome.Cycle, error) {
	if r.ledger == nil {
		return nil, ErrLedgerDisabled
	}
	c, err := r.ledger.GetCycle(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, fmt.Errorf("%w: cycle %s", ErrNotFound, id)
	}
	return c, err
}

// History returns the recorded results of one target, newest first.
func (r *Runner) History(ctx context.Context, identifier string, limit int) ([]outcome.TargetResult, error) {
	if r.ledger == nil {
		return nil, ErrLedgerDisabled
	}
	if _, ok := r.Target(identifier); !ok {
		return nil, fmt.Errorf("%w: unknown target %q", ErrNotFound, identifier)
	}
	return r.ledger.History(ctx, identifier, limit)
}

// SnapshotFile resolves a snapshot file name inside the snapshot directory.
func (r *Runner) SnapshotFile(name string) (string, error) {
	return safeFile(r.store.Dir(), name)
}

// DiffFile resolves a diff artifact name inside the diff directory.
func (r *Runner) DiffFile(name string) (string, error) {
	return safeFile(r.store.DiffDir(), name)
}

// safeFile joins a bare PNG file name onto base. Anything with a directory
// component or a parent reference is rejected.
func safeFile(base, name string) (string, error) {
	if name == "" || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) ||
		filepath.Base(name) != name {
		return "", ErrPathTraversal
	}
	if !strings.HasSuffix(name, snapshot.Ext) {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	p := filepath.Join(base, name)
	if filepath.Dir(p) != filepath.Clean(base) {
		return "", ErrPathTraversal
	}
	return p, nil
}
