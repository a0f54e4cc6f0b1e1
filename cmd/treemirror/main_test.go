package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/treemirror/mirror"
)

const testSnapshot = `{"snapshot":{"name":"game","className":"DataModel","path":"game","childCount":1,"totalChildren":1,"children":[{"name":"Workspace","className":"Workspace","path":"game.Workspace","childCount":0,"totalChildren":0}]},"truncated":false,"maxDepth":4,"maxNodes":100,"generatedAt":1700000000000}`

// executeCommand runs a fresh command tree with args and captures stdout
// and stderr separately.
func executeCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	_, err := root.ExecuteC()
	return stdout.String(), stderr.String(), err
}

func writePayload(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshot.json")
	if err := os.WriteFile(path, []byte(testSnapshot), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSplitCommand(t *testing.T) {
	out := t.TempDir()
	stdout, _, err := executeCommand(t, "split", writePayload(t), "--out", out, "--max-bytes", "64", "--id", "xfer")
	if err != nil {
		t.Fatalf("split: %v", err)
	}

	lines := strings.Fields(stdout)
	entries, _ := os.ReadDir(out)
	if len(lines) < 2 || len(entries) != len(lines) {
		t.Fatalf("got %d printed names and %d files", len(lines), len(entries))
	}
	if filepath.Base(lines[0]) != "xfer_00001.json" {
		t.Errorf("first file: got %s", lines[0])
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}

	// The files reassemble into the payload.
	m, err := mirror.New(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	for _, name := range lines {
		data, err := os.ReadFile(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := m.IngestJSON(context.Background(), data); err != nil {
			t.Fatalf("ingest %s: %v", name, err)
		}
	}
	if !m.Store().Has("game.Workspace") {
		t.Error("split files did not reassemble into the snapshot")
	}
}

func TestSplitCommand_MissingFile(t *testing.T) {
	if _, _, err := executeCommand(t, "split", filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected an error for a missing payload file")
	}
}

func TestPush(t *testing.T) {
	m, err := mirror.New(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	opts := &pushOptions{
		url:      "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws",
		maxBytes: 40,
		timeout:  5 * time.Second,
	}
	reply, err := push(opts, []byte(testSnapshot))
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if !reply.Complete || reply.Count < 2 {
		t.Errorf("reply: got %+v", reply)
	}
	if !m.Store().Has("game.Workspace") {
		t.Error("pushed snapshot not applied")
	}

	// A diff that does not fit is refused with its kind.
	_, err = push(opts, []byte(`{"changes":[{"name":"X","className":"Folder","path":"game.Nope.X","childCount":0,"totalChildren":0}]}`))
	if err == nil || !strings.Contains(err.Error(), "missing_parent") {
		t.Errorf("orphan push: got %v", err)
	}
}

func TestInspectCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	cfg := mirror.DefaultConfig()
	cfg.Journal.Enabled = true
	cfg.Journal.Path = dbPath
	m, err := mirror.New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Apply(context.Background(), []byte(testSnapshot)); err != nil {
		t.Fatal(err)
	}
	m.Close()

	stdout, _, err := executeCommand(t, "inspect", "--journal", dbPath)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	var report struct {
		Status  mirror.Status       `json:"status"`
		Journal mirror.JournalStats `json:"journal"`
	}
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("decode %q: %v", stdout, err)
	}
	if !report.Status.Populated || report.Status.Nodes != 2 || report.Journal.Snapshots != 1 {
		t.Errorf("report: got %+v", report)
	}

	stdout, _, err = executeCommand(t, "inspect", "--journal", dbPath, "--path", "game.Workspace", "--depth", "0")
	if err != nil {
		t.Fatalf("inspect --path: %v", err)
	}
	if !strings.Contains(stdout, `"className": "Workspace"`) {
		t.Errorf("node output: %s", stdout)
	}
}

func TestInspectCommand_NoJournal(t *testing.T) {
	if _, _, err := executeCommand(t, "inspect"); err == nil {
		t.Error("inspect without a journal should fail")
	}
	if _, _, err := executeCommand(t, "inspect", "--journal", filepath.Join(t.TempDir(), "missing.db")); err == nil {
		t.Error("inspect of a missing journal should fail")
	}
}

func TestRootOptions_LogLevel(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "treemirror.yaml")
	os.WriteFile(cfgPath, []byte("listen: \":9999\"\n"), 0o644)

	opts := &rootOptions{configPath: cfgPath, logLevel: "debug"}
	cfg, err := opts.loadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":9999" || cfg.LogLevel != "debug" {
		t.Errorf("got %+v", cfg)
	}

	opts.logLevel = "chatty"
	if _, err := opts.loadConfig(); err == nil {
		t.Error("bad --log-level should fail")
	}
}

func TestCommandTree(t *testing.T) {
	root := newRootCmd()
	want := map[string]bool{"serve": false, "split": false, "push": false, "inspect": false}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %s missing", name)
		}
	}
}
