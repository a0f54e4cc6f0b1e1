package tree

import (
	"encoding/json"
	"errors"
)

// Kind tells snapshot payloads from diff payloads.
type Kind string

const (
	KindSnapshot Kind = "snapshot"
	KindDiff     Kind = "diff"
)

// ErrUnknownPayload is returned by Classify when a payload carries neither a
// snapshot nor a list of changes.
var ErrUnknownPayload = errors.New("tree: payload is neither a snapshot nor a diff")

// SnapshotPayload is a complete, self-contained tree capture. Snapshot holds
// the root node.
type SnapshotPayload struct {
	Snapshot    *Node `json:"snapshot"`
	Truncated   bool  `json:"truncated"`
	MaxDepth    int   `json:"maxDepth"`
	MaxNodes    int   `json:"maxNodes"`
	GeneratedAt int64 `json:"generatedAt"` // epoch milliseconds at capture
}

// DiffPayload names the subtrees that changed since the last applied
// snapshot or diff. Each change is a full replacement subtree for its own
// path. Metadata fields are optional: nil means "leave unchanged".
type DiffPayload struct {
	Changes     []*Node `json:"changes"`
	Truncated   *bool   `json:"truncated,omitempty"`
	GeneratedAt *int64  `json:"generatedAt,omitempty"`
	MaxDepth    *int    `json:"maxDepth,omitempty"`
	MaxNodes    *int    `json:"maxNodes,omitempty"`
}

// Classify reports which kind of payload a generic decoded object is.
func Classify(payload map[string]any) (Kind, error) {
	if _, ok := payload["snapshot"]; ok {
		return KindSnapshot, nil
	}
	if _, ok := payload["changes"]; ok {
		return KindDiff, nil
	}
	return "", ErrUnknownPayload
}

// ClassifyJSON is Classify for a raw JSON object.
func ClassifyJSON(raw []byte) (Kind, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", &SchemaError{Field: "payload", Reason: "not a JSON object", Cause: err}
	}
	if _, ok := fields["snapshot"]; ok {
		return KindSnapshot, nil
	}
	if _, ok := fields["changes"]; ok {
		return KindDiff, nil
	}
	return "", ErrUnknownPayload
}
