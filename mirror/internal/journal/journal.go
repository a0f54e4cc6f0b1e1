// Package journal persists the payloads the mirror applied so a restarted
// process can rebuild its tree without waiting for the producer's next
// snapshot. Appending a snapshot compacts every older row away.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/treemirror/tree"
	"github.com/hazyhaar/treemirror/treestore"
)

// Schema creates the journal table.
const Schema = `
CREATE TABLE IF NOT EXISTS mirror_journal (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	kind         TEXT    NOT NULL CHECK (kind IN ('snapshot', 'diff')),
	payload      BLOB    NOT NULL,
	payload_hash TEXT    NOT NULL,
	version      INTEGER NOT NULL,
	applied_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mirror_journal_kind ON mirror_journal(kind, seq);
`

// ErrHashMismatch is returned by Replay when a stored payload no longer
// matches its recorded hash.
var ErrHashMismatch = errors.New("journal: payload hash mismatch")

// Entry is one applied payload.
type Entry struct {
	Seq       int64
	Kind      tree.Kind
	Payload   []byte
	Hash      string
	Version   uint64    // store version right after the apply
	AppliedAt time.Time // stored with millisecond precision
}

// Stats summarises the journal.
type Stats struct {
	Entries     int       `json:"entries"`
	Snapshots   int       `json:"snapshots"`
	Diffs       int       `json:"diffs"`
	Bytes       int64     `json:"bytes"`
	LastSeq     int64     `json:"lastSeq"`
	LastVersion uint64    `json:"lastVersion"`
	LastApplied time.Time `json:"lastApplied"`
}

// Journal is an append-only log of applied payloads in SQLite.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
	own    bool
}

// Open opens (creating if needed) the journal database at path.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	j, err := New(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	j.own = true
	return j, nil
}

// New wraps an already open database and applies Schema.
func New(db *sql.DB, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}
	return &Journal{db: db, logger: logger}, nil
}

// Close closes the database when Open created it.
func (j *Journal) Close() error {
	if j.own {
		return j.db.Close()
	}
	return nil
}

// Append records e and returns its sequence number. A snapshot entry removes
// every older row in the same transaction. An empty Hash is computed from
// the payload; a zero AppliedAt is now.
func (j *Journal) Append(ctx context.Context, e Entry) (int64, error) {
	if e.Kind != tree.KindSnapshot && e.Kind != tree.KindDiff {
		return 0, fmt.Errorf("journal: append: unknown kind %q", e.Kind)
	}
	if len(e.Payload) == 0 {
		return 0, errors.New("journal: append: empty payload")
	}
	if e.Hash == "" {
		e.Hash = tree.HashPayload(e.Payload)
	}
	if e.AppliedAt.IsZero() {
		e.AppliedAt = time.Now()
	}

	var seq int64
	var compacted int64
	err := runTx(ctx, j.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO mirror_journal (kind, payload, payload_hash, version, applied_at) VALUES (?, ?, ?, ?, ?)`,
			string(e.Kind), e.Payload, e.Hash, int64(e.Version), e.AppliedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("journal: insert: %w", err)
		}
		if seq, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("journal: last insert id: %w", err)
		}
		if e.Kind != tree.KindSnapshot {
			return nil
		}
		res, err = tx.ExecContext(ctx, `DELETE FROM mirror_journal WHERE seq < ?`, seq)
		if err != nil {
			return fmt.Errorf("journal: compact: %w", err)
		}
		compacted, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	if compacted > 0 {
		j.logger.Debug("journal: compacted", "seq", seq, "removed", compacted)
	}
	return seq, nil
}

// Entries returns the rows from the latest snapshot on, in sequence order.
// Diffs journaled before any snapshot are never returned.
func (j *Journal) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, kind, payload, payload_hash, version, applied_at
		FROM mirror_journal
		WHERE seq >= (SELECT MAX(seq) FROM mirror_journal WHERE kind = 'snapshot')
		ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("journal: query entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e         Entry
			kind      string
			version   int64
			appliedAt int64
		)
		if err := rows.Scan(&e.Seq, &kind, &e.Payload, &e.Hash, &version, &appliedAt); err != nil {
			return nil, fmt.Errorf("journal: scan entry: %w", err)
		}
		e.Kind = tree.Kind(kind)
		e.Version = uint64(version)
		e.AppliedAt = time.UnixMilli(appliedAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterate entries: %w", err)
	}
	return out, nil
}

// Replay applies the latest snapshot and the diffs after it to s, and
// returns how many entries it applied. An empty journal applies nothing.
func (j *Journal) Replay(ctx context.Context, s *treestore.Store) (int, error) {
	entries, err := j.Entries(ctx)
	if err != nil {
		return 0, err
	}

	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if tree.HashPayload(e.Payload) != e.Hash {
			return i, fmt.Errorf("journal: seq %d: %w", e.Seq, ErrHashMismatch)
		}
		if err := apply(s, e); err != nil {
			return i, fmt.Errorf("journal: replay seq %d: %w", e.Seq, err)
		}
	}
	if len(entries) > 0 {
		j.logger.Info("journal: replayed", "entries", len(entries), "last_seq", entries[len(entries)-1].Seq, "nodes", s.Len())
	}
	return len(entries), nil
}

func apply(s *treestore.Store, e Entry) error {
	switch e.Kind {
	case tree.KindSnapshot:
		p, err := tree.DecodeSnapshot(e.Payload)
		if err != nil {
			return err
		}
		return s.ApplySnapshot(p)
	case tree.KindDiff:
		p, err := tree.DecodeDiff(e.Payload)
		if err != nil {
			return err
		}
		_, err = s.ApplyDiff(p)
		return err
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
}

// Stats reports row counts and the latest row.
func (j *Journal) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := j.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(kind = 'snapshot'), 0),
		       COALESCE(SUM(kind = 'diff'), 0),
		       COALESCE(SUM(LENGTH(payload)), 0)
		FROM mirror_journal`).Scan(&st.Entries, &st.Snapshots, &st.Diffs, &st.Bytes)
	if err != nil {
		return st, fmt.Errorf("journal: stats: %w", err)
	}
	if st.Entries == 0 {
		return st, nil
	}

	var version, appliedAt int64
	err = j.db.QueryRowContext(ctx, `
		SELECT seq, version, applied_at FROM mirror_journal ORDER BY seq DESC LIMIT 1`).
		Scan(&st.LastSeq, &version, &appliedAt)
	if err != nil {
		return st, fmt.Errorf("journal: stats last row: %w", err)
	}
	st.LastVersion = uint64(version)
	st.LastApplied = time.UnixMilli(appliedAt)
	return st, nil
}
