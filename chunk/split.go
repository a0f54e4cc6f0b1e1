package chunk

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
)

// DefaultFragmentBytes is the fragment size used when Split is given a
// non-positive maxBytes.
const DefaultFragmentBytes = 64 * 1024

// NewTransferID returns a time-sortable UUIDv7 transfer id.
func NewTransferID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Split cuts a serialized payload into ordered fragments of at most maxBytes
// bytes each, never inside a UTF-8 sequence. An empty id is replaced with a
// fresh transfer id. It fails when the payload would need more than
// MaxChunks fragments.
func Split(payload []byte, id string, maxBytes int) ([]Fragment, error) {
	if len(payload) == 0 {
		return nil, errors.New("chunk: split: empty payload")
	}
	if !utf8.Valid(payload) {
		return nil, errors.New("chunk: split: payload is not valid UTF-8 text")
	}
	if maxBytes <= 0 {
		maxBytes = DefaultFragmentBytes
	}
	if id == "" {
		id = NewTransferID()
	}

	var texts []string
	rest := payload
	for len(rest) > 0 {
		n := min(maxBytes, len(rest))
		if n < len(rest) {
			for n > 0 && !utf8.RuneStart(rest[n]) {
				n--
			}
			if n == 0 {
				return nil, fmt.Errorf("chunk: split: fragment size %d is smaller than one character", maxBytes)
			}
		}
		texts = append(texts, string(rest[:n]))
		rest = rest[n:]
		if len(texts) > MaxChunks {
			return nil, fmt.Errorf("chunk: split: payload of %d bytes needs more than %d fragments of %d bytes", len(payload), MaxChunks, maxBytes)
		}
	}

	frags := make([]Fragment, len(texts))
	for i, t := range texts {
		frags[i] = Fragment{ID: id, Index: i + 1, Count: len(texts), Text: t}
	}
	return frags, nil
}
