package mirror

import (
	"io"
	"log/slog"
	"testing"

	"github.com/hazyhaar/treemirror/chunk"
)

const (
	snapshotJSON = `{"snapshot":{"name":"game","className":"DataModel","path":"game","childCount":1,"totalChildren":1,"children":[{"name":"Workspace","className":"Workspace","path":"game.Workspace","childCount":1,"totalChildren":1,"children":[{"name":"Baseplate","className":"Part","path":"game.Workspace.Baseplate","childCount":0,"totalChildren":0}]}]},"truncated":false,"maxDepth":8,"maxNodes":5000,"generatedAt":1700000000000}`
	replaceJSON  = `{"changes":[{"name":"Baseplate","className":"SpawnLocation","path":"game.Workspace.Baseplate","childCount":0,"totalChildren":0}]}`
	insertJSON   = `{"changes":[{"name":"NewFolder","className":"Folder","path":"game.Workspace.NewFolder","childCount":0,"totalChildren":0}],"generatedAt":1700000001000}`
	orphanJSON   = `{"changes":[{"name":"First","className":"Folder","path":"game.Workspace.First","childCount":0,"totalChildren":0},{"name":"Orphan","className":"Folder","path":"game.ServerStorage.Orphan","childCount":0,"totalChildren":0}]}`
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMirror(t *testing.T, cfg *Config) *Mirror {
	t.Helper()
	m, err := New(cfg, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func split(t *testing.T, payload string, maxBytes int) []chunk.Fragment {
	t.Helper()
	frags, err := chunk.Split([]byte(payload), "", maxBytes)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	return frags
}
