package mirror

import (
	"context"

	"github.com/hazyhaar/treemirror/kit"
	"github.com/hazyhaar/treemirror/mirror/internal/spool"
	"github.com/hazyhaar/treemirror/tree"
)

// WatchSpool ingests the files dropped into dir until ctx is done. A file
// holds either one wire fragment or a whole unchunked payload (an object
// with a "snapshot" or "changes" key). Refused files land in dir/rejected.
func (m *Mirror) WatchSpool(ctx context.Context, dir string) error {
	ctx = kit.WithTransport(ctx, kit.TransportSpool)
	return spool.Watch(ctx, dir, m.ingestFile, m.logger)
}

func (m *Mirror) ingestFile(ctx context.Context, name string, data []byte) error {
	ctx = kit.WithRequestID(ctx, name)
	if _, err := tree.ClassifyJSON(data); err == nil {
		_, err := m.Apply(ctx, data)
		return err
	}
	_, err := m.IngestJSON(ctx, data)
	return err
}
