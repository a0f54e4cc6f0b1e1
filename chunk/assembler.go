// Package chunk reassembles payloads that a producer had to split into
// ordered text fragments because they exceeded a single message's size
// limit, and provides the matching producer-side splitter.
//
// An Assembler holds a single pending slot: at most one transfer is in
// flight at a time. It is not safe for concurrent use; callers that feed it
// from several goroutines must serialise access.
package chunk

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MaxChunks bounds the number of fragments in one transfer.
const MaxChunks = 256

// Fragment is one numbered piece of a transfer. Index is 1-based.
type Fragment struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
	Count int    `json:"count"`
	Text  string `json:"text"`
}

// Result is returned by Accept. While the transfer is incomplete only
// NextIndex and Count are set; on the final fragment Payload holds the
// decoded object and Raw the reassembled text.
type Result struct {
	Complete   bool           `json:"complete"`
	NextIndex  int            `json:"nextIndex,omitempty"`
	Count      int            `json:"count"`
	Payload    map[string]any `json:"payload,omitempty"`
	TotalBytes int            `json:"totalBytes,omitempty"`
	Raw        []byte         `json:"-"`
}

// PendingInfo describes the in-flight transfer.
type PendingInfo struct {
	ID         string `json:"id"`
	Count      int    `json:"count"`
	NextIndex  int    `json:"nextIndex"`
	TotalBytes int    `json:"totalBytes"`
}

type pending struct {
	id         string
	count      int
	nextIndex  int
	chunks     []string
	totalBytes int
}

// Assembler buffers the fragments of one transfer at a time.
type Assembler struct {
	pending *pending
}

// NewAssembler returns an empty Assembler.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// Accept appends f to the pending transfer.
//
// A fragment with index 1 and an id different from the pending transfer
// silently discards that transfer and starts a new one. Lost transfers are
// therefore not reported; a caller needing concurrent transfers must use one
// Assembler per transfer stream.
//
// Every error clears the pending transfer before returning.
func (a *Assembler) Accept(f *Fragment) (*Result, error) {
	if a == nil {
		return nil, &ValidationError{Field: "assembler", Reason: "container missing"}
	}
	if f == nil {
		a.pending = nil
		return nil, &ValidationError{Field: "fragment", Reason: "payload missing"}
	}
	if err := validate(f); err != nil {
		a.pending = nil
		return nil, err
	}

	p := a.pending
	if p == nil || p.id != f.ID {
		if f.Index != 1 {
			a.pending = nil
			return nil, &SequencingError{ID: f.ID, Index: f.Index, Reason: "out-of-order chunk without active transfer"}
		}
		p = &pending{id: f.ID, count: f.Count, nextIndex: 1, chunks: make([]string, 0, f.Count)}
		a.pending = p
	} else if p.count != f.Count {
		a.pending = nil
		return nil, &SequencingError{ID: f.ID, Index: f.Index, Reason: fmt.Sprintf("count mismatch for active transfer (got %d, want %d)", f.Count, p.count)}
	}

	if f.Index != p.nextIndex {
		a.pending = nil
		return nil, &SequencingError{ID: f.ID, Index: f.Index, Reason: fmt.Sprintf("unexpected index %d; expected %d", f.Index, p.nextIndex)}
	}

	p.chunks = append(p.chunks, f.Text)
	p.totalBytes += len(f.Text)
	p.nextIndex++

	if f.Index < f.Count {
		return &Result{Complete: false, NextIndex: p.nextIndex, Count: p.count}, nil
	}

	var b strings.Builder
	b.Grow(p.totalBytes)
	for _, c := range p.chunks {
		b.WriteString(c)
	}
	a.pending = nil

	raw := []byte(b.String())
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, &ParseError{ID: p.id, Reason: "failed to parse reassembled payload", Cause: err}
	}
	obj, ok := v.(map[string]any)
	if !ok || obj == nil {
		return nil, &ParseError{ID: p.id, Reason: "parsed payload is invalid"}
	}
	return &Result{
		Complete:   true,
		Count:      p.count,
		Payload:    obj,
		TotalBytes: p.totalBytes,
		Raw:        raw,
	}, nil
}

// AcceptJSON decodes a wire fragment and accepts it. A fragment that fails
// to decode is a validation failure and clears the pending transfer.
func (a *Assembler) AcceptJSON(data []byte) (*Result, error) {
	if a == nil {
		return nil, &ValidationError{Field: "assembler", Reason: "container missing"}
	}
	f, err := DecodeFragment(data)
	if err != nil {
		a.pending = nil
		return nil, err
	}
	return a.Accept(f)
}

// ClearPending discards the in-flight transfer, if any.
func (a *Assembler) ClearPending() {
	if a != nil {
		a.pending = nil
	}
}

// Pending reports the in-flight transfer.
func (a *Assembler) Pending() (PendingInfo, bool) {
	if a == nil || a.pending == nil {
		return PendingInfo{}, false
	}
	p := a.pending
	return PendingInfo{ID: p.id, Count: p.count, NextIndex: p.nextIndex, TotalBytes: p.totalBytes}, true
}

func validate(f *Fragment) error {
	if f.ID == "" {
		return &ValidationError{Field: "id", Reason: "missing or empty"}
	}
	if f.Index < 1 {
		return &ValidationError{Field: "index", Reason: fmt.Sprintf("must be an integer >= 1, got %d", f.Index)}
	}
	if f.Count < 1 {
		return &ValidationError{Field: "count", Reason: fmt.Sprintf("must be an integer >= 1, got %d", f.Count)}
	}
	if f.Count > MaxChunks {
		return &ValidationError{Field: "count", Reason: fmt.Sprintf("%d exceeds maximum supported chunks (%d)", f.Count, MaxChunks)}
	}
	return nil
}
