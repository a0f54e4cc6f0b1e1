package treestore

import "errors"

var (
	// ErrUnpopulated is returned by ApplyDiff before the first snapshot.
	ErrUnpopulated = errors.New("treestore: no snapshot applied yet")

	// ErrMissingParent matches every *MissingParentError.
	ErrMissingParent = errors.New("treestore: parent node missing")

	ErrNilSnapshot = errors.New("treestore: snapshot root is nil")
	ErrNilDiff     = errors.New("treestore: diff payload is nil")
	ErrInvalidNode = errors.New("treestore: invalid node")
)

// MissingParentError reports a diff change whose parent path is not in the
// index. The mirror is desynchronised from the producer and needs a fresh
// snapshot.
type MissingParentError struct {
	ParentPath string
	Path       string // path of the rejected change
}

func (e *MissingParentError) Error() string {
	return "Parent node at " + e.ParentPath + " is missing"
}

func (e *MissingParentError) Is(target error) bool {
	return target == ErrMissingParent
}
