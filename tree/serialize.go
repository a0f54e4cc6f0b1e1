package tree

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrSchema matches every *SchemaError.
var ErrSchema = errors.New("tree: payload does not match schema")

// SchemaError reports a structurally malformed payload. Field locates the
// offending value ("snapshot.children[2].path").
type SchemaError struct {
	Field  string
	Reason string
	Cause  error
}

func (e *SchemaError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("tree: %s: %s: %v", e.Field, e.Reason, e.Cause)
	}
	return fmt.Sprintf("tree: %s: %s", e.Field, e.Reason)
}

func (e *SchemaError) Unwrap() error { return e.Cause }

func (e *SchemaError) Is(target error) bool { return target == ErrSchema }

// DecodeSnapshot deserialises and validates a snapshot payload.
func DecodeSnapshot(raw []byte) (*SnapshotPayload, error) {
	var p SnapshotPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &SchemaError{Field: "payload", Reason: "invalid snapshot payload", Cause: err}
	}
	if p.Snapshot == nil {
		return nil, &SchemaError{Field: "snapshot", Reason: "root node missing"}
	}
	seen := make(map[string]struct{})
	if err := validateNode(p.Snapshot, "snapshot", seen); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeDiff deserialises and validates a diff payload. An empty changes list
// is valid; a missing one is not.
func DecodeDiff(raw []byte) (*DiffPayload, error) {
	var p DiffPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &SchemaError{Field: "payload", Reason: "invalid diff payload", Cause: err}
	}
	if p.Changes == nil {
		return nil, &SchemaError{Field: "changes", Reason: "missing"}
	}
	for i, c := range p.Changes {
		field := fmt.Sprintf("changes[%d]", i)
		if c == nil {
			return nil, &SchemaError{Field: field, Reason: "null change"}
		}
		// Paths are unique per change subtree; two changes may legitimately
		// target the same path (the later one wins).
		if err := validateNode(c, field, make(map[string]struct{})); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

// ValidateNode checks the structural shape of a subtree: every node has a
// path, no child is null, every child's path extends its parent's by one
// segment and no path appears twice.
func ValidateNode(n *Node) error {
	if n == nil {
		return &SchemaError{Field: "node", Reason: "null node"}
	}
	return validateNode(n, "node", make(map[string]struct{}))
}

func validateNode(n *Node, field string, seen map[string]struct{}) error {
	if n.Path == "" {
		return &SchemaError{Field: field + ".path", Reason: "empty path"}
	}
	if _, dup := seen[n.Path]; dup {
		return &SchemaError{Field: field + ".path", Reason: fmt.Sprintf("duplicate path %q", n.Path)}
	}
	seen[n.Path] = struct{}{}
	for i, c := range n.Children {
		childField := fmt.Sprintf("%s.children[%d]", field, i)
		if c == nil {
			return &SchemaError{Field: childField, Reason: "null child"}
		}
		if c.Path != "" && ParentPath(c.Path) != n.Path {
			return &SchemaError{Field: childField + ".path",
				Reason: fmt.Sprintf("path %q is not a child of %q", c.Path, n.Path)}
		}
		if err := validateNode(c, childField, seen); err != nil {
			return err
		}
	}
	return nil
}

// MarshalSnapshot serialises a SnapshotPayload to JSON.
func MarshalSnapshot(p *SnapshotPayload) ([]byte, error) {
	return json.Marshal(p)
}

// MarshalDiff serialises a DiffPayload to JSON.
func MarshalDiff(p *DiffPayload) ([]byte, error) {
	return json.Marshal(p)
}

// HashPayload returns the SHA-256 hex digest of a raw payload.
func HashPayload(raw []byte) string {
	h := sha256.Sum256(raw)
	return fmt.Sprintf("%x", h)
}
