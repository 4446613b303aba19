// Package admin mounts the node's debug surface on an HTTP mux: link and
// buffer status, the batch log, charts of the last delivered batch and a
// live SQL console over the store.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/envnode/internal/monitoring"
	"github.com/banshee-data/envnode/internal/node"
	"github.com/banshee-data/envnode/internal/report"
	"github.com/banshee-data/envnode/internal/store"
)

var logf = monitoring.Prefixed("admin")

// Source is the live view of the supervisor. *node.Node satisfies it.
type Source interface {
	Status() node.Status
	LastBatch() (report.Batch, bool)
}

// Options selects what gets mounted. Store may be nil, which leaves out the
// batch log and SQL console.
type Options struct {
	Node   Source
	Stats  *monitoring.LinkStats
	Store  *store.Store
	NodeID string
}

const (
	defaultBatchLimit = 50
	maxBatchLimit     = 1000
	queryTimeout      = 5 * time.Second
)

type handlers struct {
	opts Options
}

// Attach registers the debug routes under /debug/ on mux. It must be called
// at most once per mux.
func Attach(mux *http.ServeMux, opts Options) error {
	h := &handlers{opts: opts}
	debug := tsweb.Debugger(mux)

	if opts.NodeID != "" {
		debug.KV("Node ID", opts.NodeID)
	}
	debug.KVFunc("Link state", func() any { return opts.Node.Status().State })
	debug.KVFunc("Sequence", func() any { return opts.Node.Status().Sequence })
	debug.KVFunc("Buffered samples", func() any {
		st := opts.Node.Status()
		return fmt.Sprintf("%d/%d", st.Buffered, st.Capacity)
	})

	debug.HandleFunc("status", "Node status and link counters (JSON)", h.status)
	debug.HandleFunc("last-batch", "Chart of the last delivered batch", h.lastBatchChart)
	debug.HandleFunc("last-batch.png", "Plot of the last delivered batch (PNG)", h.lastBatchPlot)

	if opts.Store == nil {
		return nil
	}
	debug.HandleFunc("batches", "Recent batch outcomes (JSON)", h.batches)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+opts.Store.Path(), opts.Store.DB(), &tailsql.DBOptions{
		Label: "Node store",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	return nil
}

type statusResponse struct {
	Node node.Status         `json:"node"`
	Link monitoring.Snapshot `json:"link"`
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, statusResponse{
		Node: h.opts.Node.Status(),
		Link: h.opts.Stats.Snapshot(),
	})
}

type batchRow struct {
	StartMs    uint64  `json:"start_ms"`
	IntervalMs uint32  `json:"interval_ms"`
	Samples    int     `json:"samples"`
	FirstSeq   *uint64 `json:"first_seq,omitempty"`
	Outcome    string  `json:"outcome"`
	Detail     string  `json:"detail,omitempty"`
	RecordedAt string  `json:"recorded_at"`
}

func (h *handlers) batches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := defaultBatchLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxBatchLimit {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()
	recs, err := h.opts.Store.RecentBatches(ctx, limit)
	if err != nil {
		logf("batches: %v", err)
		http.Error(w, "Failed to read batch log", http.StatusInternalServerError)
		return
	}
	rows := make([]batchRow, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, batchRow{
			StartMs:    rec.StartMs,
			IntervalMs: rec.IntervalMs,
			Samples:    rec.Samples,
			FirstSeq:   rec.FirstSeq,
			Outcome:    string(rec.Outcome),
			Detail:     rec.Detail,
			RecordedAt: rec.RecordedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, rows)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		logf("encode response: %v", err)
	}
}
