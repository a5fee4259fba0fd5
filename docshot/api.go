package docshot

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/docshot/docshot/internal/shield"
)

// APIConfig configures the HTTP API.
type APIConfig struct {
	// PasswordHash is a bcrypt hash. When set, every route except /health
	// requires Basic Auth with a matching password.
	PasswordHash string
	// Scheduler, when set, exposes the next trigger time on /health.
	Scheduler *Scheduler
	// MCP, when set, is mounted at /mcp behind the same auth.
	MCP    http.Handler
	Logger *slog.Logger
}

// NewHandler returns the HTTP API for r. Cycles started through
// POST /api/runs run under ctx, not under the request context.
func NewHandler(ctx context.Context, r *Runner, cfg APIConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	a := &api{ctx: ctx, runner: r, sched: cfg.Scheduler}

	mux := chi.NewRouter()
	for _, mw := range shield.Stack(cfg.Logger) {
		mux.Use(mw)
	}

	mux.Get("/health", a.health)

	mux.Group(func(g chi.Router) {
		g.Use(shield.BasicAuth(cfg.PasswordHash, "docshot"))

		g.Get("/api/targets", a.listTargets)
		g.Get("/api/targets/{id}/snapshots", a.listSnapshots)
		g.Get("/api/snapshots/{file}", a.serveFile(r.SnapshotFile))
		g.Get("/api/diffs/{file}", a.serveFile(r.DiffFile))
		g.Post("/api/runs", a.startRun)
		g.Get("/api/runs", a.listRuns)
		g.Get("/api/runs/{id}", a.getRun)

		if cfg.MCP != nil {
			h := noWriteDeadline(cfg.MCP)
			g.Handle("/mcp", h)
			g.Handle("/mcp/*", h)
		}
	})
	return mux
}

// noWriteDeadline lifts the server WriteTimeout for h. docshot_run with
// wait=true holds its response open for a whole cycle.
func noWriteDeadline(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
			shield.Logger(req.Context()).Warn("docshot: clear write deadline", "error", err)
		}
		h.ServeHTTP(w, req)
	})
}

type api struct {
	ctx    context.Context
	runner *Runner
	sched  *Scheduler
}

func (a *api) health(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"running": a.runner.Running(),
		"targets": len(a.runner.targets),
	}
	if c := a.runner.LastCycle(); c != nil {
		resp["last_cycle"] = map[string]any{
			"id":          c.ID,
			"finished_at": c.FinishedAt,
			"summary":     c.Summarize(),
			"aborted":     c.Aborted,
		}
	}
	if a.sched != nil {
		resp["next_run"] = a.sched.Next(time.Now())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) listTargets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.runner.Targets())
}

func (a *api) listSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := a.runner.Snapshots(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if snaps == nil {
		snaps = []Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (a *api) serveFile(resolve func(string) (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path, err := resolve(chi.URLParam(r, "file"))
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		f, err := os.Open(path)
		if err != nil {
			writeError(w, http.StatusNotFound, ErrNotFound)
			return
		}
		defer f.Close()
		st, err := f.Stat()
		if err != nil || st.IsDir() {
			writeError(w, http.StatusNotFound, ErrNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		http.ServeContent(w, r, st.Name(), st.ModTime(), f)
	}
}

type runRequest struct {
	URLs []string `json:"urls"`
}

func (a *api) startRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := a.runner.Start(a.ctx, req.URLs)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	shield.Logger(r.Context()).Info("docshot: cycle triggered over http", "cycle_id", id)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "cycle_id": id})
}

func (a *api) listRuns(w http.ResponseWriter, r *http.Request) {
	cycles, err := a.runner.Cycles(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if cycles == nil {
		cycles = []CycleSummary{}
	}
	writeJSON(w, http.StatusOK, cycles)
}

func (a *api) getRun(w http.ResponseWriter, r *http.Request) {
	c, err := a.runner.Cycle(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// statusFor maps sentinel errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrLedgerDisabled):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrPathTraversal):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
