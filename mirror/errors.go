package mirror

import (
	"errors"
	"net/http"

	"github.com/hazyhaar/treemirror/chunk"
	"github.com/hazyhaar/treemirror/tree"
	"github.com/hazyhaar/treemirror/treestore"
)

// ErrNotFound is returned by the read surfaces for an unknown path.
var ErrNotFound = errors.New("mirror: node not found")

// errorKind names the class of err for metrics labels and error bodies.
func errorKind(err error) string {
	var maxErr *http.MaxBytesError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &maxErr):
		return "too_large"
	case errors.Is(err, chunk.ErrValidation):
		return "validation"
	case errors.Is(err, chunk.ErrSequencing):
		return "sequencing"
	case errors.Is(err, chunk.ErrParse):
		return "parse"
	case errors.Is(err, tree.ErrSchema):
		return "schema"
	case errors.Is(err, tree.ErrUnknownPayload):
		return "unknown_payload"
	case errors.Is(err, treestore.ErrMissingParent):
		return "missing_parent"
	case errors.Is(err, treestore.ErrUnpopulated):
		return "unpopulated"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}

// httpStatus maps err to the status the HTTP surface answers with.
func httpStatus(err error) int {
	switch errorKind(err) {
	case "too_large":
		return http.StatusRequestEntityTooLarge
	case "validation":
		return http.StatusBadRequest
	case "sequencing", "missing_parent", "unpopulated":
		return http.StatusConflict
	case "parse", "schema", "unknown_payload":
		return http.StatusUnprocessableEntity
	case "not_found":
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
