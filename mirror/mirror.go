// Package mirror runs the tree mirror service: it owns one chunk assembler
// and one tree store, feeds them from every transport (HTTP, websocket,
// spool directory), journals what it applied and serves the mirrored tree
// to query clients over HTTP and MCP.
//
// All transports share a single ordered fragment stream: Ingest, Apply and
// Cancel are serialised by the Mirror, so two producers interleaving
// transfers will discard each other's in-flight transfer.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hazyhaar/treemirror/chunk"
	"github.com/hazyhaar/treemirror/kit"
	"github.com/hazyhaar/treemirror/mirror/internal/journal"
	"github.com/hazyhaar/treemirror/tree"
	"github.com/hazyhaar/treemirror/treestore"
)

// JournalStats summarises the replay journal.
type JournalStats = journal.Stats

// IngestResult is the answer to one fragment. Applied is set once the
// transfer completed and its payload was applied.
type IngestResult struct {
	Complete   bool         `json:"complete"`
	NextIndex  int          `json:"nextIndex,omitempty"`
	Count      int          `json:"count"`
	TotalBytes int          `json:"totalBytes,omitempty"`
	Applied    *ApplyResult `json:"applied,omitempty"`
}

// ApplyResult describes one applied payload.
type ApplyResult struct {
	Kind    tree.Kind             `json:"kind"`
	Version uint64                `json:"version"`
	Nodes   int                   `json:"nodes"`
	Diff    *treestore.DiffResult `json:"diff,omitempty"`
}

// Status is a point-in-time view of the mirror.
type Status struct {
	Populated bool                    `json:"populated"`
	Version   uint64                  `json:"version"`
	UpdatedAt int64                   `json:"updatedAt,omitempty"` // epoch milliseconds
	Nodes     int                     `json:"nodes"`
	Snapshot  *treestore.SnapshotInfo `json:"snapshot,omitempty"`
	Pending   *chunk.PendingInfo      `json:"pending,omitempty"`
	Desynced  bool                    `json:"desynced"`
	Journal   bool                    `json:"journal"`
}

// Mirror is the service core. Create it with New.
type Mirror struct {
	cfg     *Config
	logger  *slog.Logger
	metrics *Metrics
	store   *treestore.Store

	mu            sync.Mutex
	asm           *chunk.Assembler
	journal       *journal.Journal
	desynced      bool // a diff failed part-way; cleared by the next snapshot
	checkpointDue bool // the journal no longer matches the store
}

// Option customises New.
type Option func(*Mirror)

// WithRegistry registers the mirror's metrics on reg instead of a private
// registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(m *Mirror) { m.metrics = NewMetrics(reg) }
}

// WithStore makes the mirror apply payloads to s.
func WithStore(s *treestore.Store) Option {
	return func(m *Mirror) { m.store = s }
}

// New builds a Mirror from cfg (nil means DefaultConfig) and opens the
// journal when it is enabled.
func New(cfg *Config, logger *slog.Logger, opts ...Option) (*Mirror, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	} else {
		c := *cfg
		c.applyDefaults()
		cfg = &c
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Mirror{
		cfg:    cfg,
		logger: logger,
		asm:    chunk.NewAssembler(),
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = NewMetrics(nil)
	}
	if m.store == nil {
		m.store = treestore.New()
	}

	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("mirror: open journal: %w", err)
		}
		m.journal = j
	}
	return m, nil
}

// Close releases the journal.
func (m *Mirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.journal == nil {
		return nil
	}
	err := m.journal.Close()
	m.journal = nil
	return err
}

// Config returns the effective configuration.
func (m *Mirror) Config() *Config { return m.cfg }

// Store returns the mirrored tree. Callers must not apply to it directly.
func (m *Mirror) Store() *treestore.Store { return m.store }

// Metrics returns the mirror's collectors.
func (m *Mirror) Metrics() *Metrics { return m.metrics }

// Ingest accepts one fragment. When it completes a transfer the payload is
// applied and journaled before Ingest returns.
func (m *Mirror) Ingest(ctx context.Context, f *chunk.Fragment) (*IngestResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ingestLocked(ctx, func() (*chunk.Result, error) { return m.asm.Accept(f) })
}

// IngestJSON is Ingest for a fragment still in its wire form.
func (m *Mirror) IngestJSON(ctx context.Context, data []byte) (*IngestResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ingestLocked(ctx, func() (*chunk.Result, error) { return m.asm.AcceptJSON(data) })
}

func (m *Mirror) ingestLocked(ctx context.Context, accept func() (*chunk.Result, error)) (*IngestResult, error) {
	transport := kit.GetTransport(ctx)
	res, err := accept()
	if err != nil {
		kind := errorKind(err)
		m.metrics.recordFragment(transport, kind)
		m.logger.Warn("mirror: fragment rejected",
			append(kit.LogAttrs(ctx), "kind", kind, "error", err)...)
		return nil, err
	}
	m.metrics.recordFragment(transport, "accepted")
	if !res.Complete {
		return &IngestResult{NextIndex: res.NextIndex, Count: res.Count}, nil
	}

	m.metrics.recordTransfer(res.TotalBytes)
	m.logger.Info("mirror: transfer complete",
		"transport", transport, "count", res.Count, "bytes", res.TotalBytes)

	applied, err := m.applyLocked(ctx, res.Raw)
	if err != nil {
		return nil, err
	}
	return &IngestResult{
		Complete:   true,
		Count:      res.Count,
		TotalBytes: res.TotalBytes,
		Applied:    applied,
	}, nil
}

// Apply applies an unchunked payload. The pending transfer, if any, is
// left alone.
func (m *Mirror) Apply(ctx context.Context, raw []byte) (*ApplyResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyLocked(ctx, raw)
}

func (m *Mirror) applyLocked(ctx context.Context, raw []byte) (*ApplyResult, error) {
	start := time.Now()
	transport := kit.GetTransport(ctx)

	kind, err := tree.ClassifyJSON(raw)
	if err != nil {
		return nil, m.applyFailed("unknown", transport, start, fmt.Errorf("mirror: classify payload: %w", err))
	}

	res := &ApplyResult{Kind: kind}
	switch kind {
	case tree.KindSnapshot:
		p, err := tree.DecodeSnapshot(raw)
		if err != nil {
			return nil, m.applyFailed(string(kind), transport, start, fmt.Errorf("mirror: decode snapshot: %w", err))
		}
		if err := m.store.ApplySnapshot(p); err != nil {
			return nil, m.applyFailed(string(kind), transport, start, fmt.Errorf("mirror: apply snapshot: %w", err))
		}
		if m.desynced {
			m.logger.Info("mirror: resynchronised by snapshot")
		}
		m.desynced = false

	case tree.KindDiff:
		p, err := tree.DecodeDiff(raw)
		if err != nil {
			return nil, m.applyFailed(string(kind), transport, start, fmt.Errorf("mirror: decode diff: %w", err))
		}
		diff, err := m.store.ApplyDiff(p)
		if err != nil {
			if !errors.Is(err, treestore.ErrUnpopulated) && !errors.Is(err, treestore.ErrInvalidNode) {
				// Metadata and the changes before the failure are applied.
				m.desynced = true
				m.checkpointLocked(ctx)
			}
			return nil, m.applyFailed(string(kind), transport, start, fmt.Errorf("mirror: apply diff: %w", err))
		}
		res.Diff = &diff
	}

	res.Version = m.store.Version()
	res.Nodes = m.store.Len()
	m.metrics.recordApply(string(kind), "ok", time.Since(start))
	m.metrics.setStore(res.Nodes, res.Version, m.desynced)
	m.logger.Info("mirror: payload applied",
		"kind", kind, "transport", transport, "version", res.Version, "nodes", res.Nodes,
		"duration", time.Since(start))

	m.journalLocked(ctx, kind, raw)
	return res, nil
}

func (m *Mirror) applyFailed(kind, transport string, start time.Time, err error) error {
	m.metrics.recordApply(kind, errorKind(err), time.Since(start))
	m.metrics.setStore(m.store.Len(), m.store.Version(), m.desynced)
	m.logger.Warn("mirror: payload rejected",
		"kind", kind, "transport", transport, "reason", errorKind(err), "desynced", m.desynced, "error", err)
	return err
}

// journalLocked records a successful apply. After a failed append or a
// partial diff the journal is caught up with a full snapshot instead.
func (m *Mirror) journalLocked(ctx context.Context, kind tree.Kind, raw []byte) {
	if m.journal == nil {
		return
	}
	if m.checkpointDue {
		m.checkpointLocked(ctx)
		return
	}
	_, err := m.journal.Append(context.WithoutCancel(ctx), journal.Entry{
		Kind:    kind,
		Payload: raw,
		Version: m.store.Version(),
	})
	if err != nil {
		m.metrics.journalErrors.Inc()
		m.checkpointDue = true
		m.logger.Error("mirror: journal append failed", "kind", kind, "error", err)
	}
}

func (m *Mirror) checkpointLocked(ctx context.Context) {
	if m.journal == nil {
		return
	}
	p, ok := m.store.CloneSnapshot()
	if !ok {
		return
	}
	raw, err := tree.MarshalSnapshot(p)
	if err == nil {
		_, err = m.journal.Append(context.WithoutCancel(ctx), journal.Entry{
			Kind:    tree.KindSnapshot,
			Payload: raw,
			Version: m.store.Version(),
		})
	}
	if err != nil {
		m.metrics.journalErrors.Inc()
		m.checkpointDue = true
		m.logger.Error("mirror: journal checkpoint failed", "error", err)
		return
	}
	m.checkpointDue = false
	m.logger.Info("mirror: journal checkpoint", "version", m.store.Version(), "bytes", len(raw))
}

// Cancel drops the in-flight transfer and reports whether there was one.
func (m *Mirror) Cancel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.asm.Pending()
	m.asm.ClearPending()
	if ok {
		m.logger.Info("mirror: transfer cancelled", "transfer_id", p.ID, "next_index", p.NextIndex, "count", p.Count)
	}
	return ok
}

// Restore replays the journal into the store and returns the number of
// entries applied. It is a no-op without a journal.
func (m *Mirror) Restore(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.journal == nil {
		return 0, nil
	}
	n, err := m.journal.Replay(kit.WithTransport(ctx, kit.TransportJournal), m.store)
	m.metrics.setStore(m.store.Len(), m.store.Version(), m.desynced)
	if err != nil {
		return n, fmt.Errorf("mirror: restore: %w", err)
	}
	return n, nil
}

// JournalStats reports the journal's contents. ok is false without a
// journal.
func (m *Mirror) JournalStats(ctx context.Context) (JournalStats, bool, error) {
	m.mu.Lock()
	j := m.journal
	m.mu.Unlock()
	if j == nil {
		return JournalStats{}, false, nil
	}
	st, err := j.Stats(ctx)
	return st, true, err
}

// Status reports the store, the pending transfer and the sync state.
func (m *Mirror) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		Populated: m.store.Populated(),
		Version:   m.store.Version(),
		Nodes:     m.store.Len(),
		Desynced:  m.desynced,
		Journal:   m.journal != nil,
	}
	if t := m.store.UpdatedAt(); !t.IsZero() {
		st.UpdatedAt = t.UnixMilli()
	}
	if info, ok := m.store.Snapshot(); ok {
		st.Snapshot = &info
	}
	if p, ok := m.asm.Pending(); ok {
		st.Pending = &p
	}
	return st
}

// GetNode returns a copy of the node at path with depth levels of children
// (depth < 0 for the whole subtree).
func (m *Mirror) GetNode(path string, depth int) (*tree.Node, error) {
	if !m.store.Populated() {
		return nil, treestore.ErrUnpopulated
	}
	n := m.store.Clone(path, depth)
	if n == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return n, nil
}

// Find returns childless copies of the nodes of class className under
// prefix. Empty values match everything; limit <= 0 means no limit.
func (m *Mirror) Find(className, prefix string, limit int) ([]*tree.Node, error) {
	if !m.store.Populated() {
		return nil, treestore.ErrUnpopulated
	}
	nodes := m.store.FindByClass(className, prefix, limit)
	if nodes == nil {
		nodes = []*tree.Node{}
	}
	return nodes, nil
}
