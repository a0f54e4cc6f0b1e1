package mirror

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testServer(t *testing.T, cfg *Config) (*Mirror, *httptest.Server) {
	t.Helper()
	m := testMirror(t, cfg)
	srv := httptest.NewServer(m.Handler())
	t.Cleanup(srv.Close)
	return m, srv
}

func do(t *testing.T, method, url string, body []byte) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)

	var out map[string]any
	if len(data) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, url, data, err)
		}
	}
	return resp.StatusCode, out
}

func TestHTTP_ChunkedTransfer(t *testing.T) {
	_, srv := testServer(t, nil)
	frags := split(t, snapshotJSON, 100)

	var last map[string]any
	for i, f := range frags {
		body, _ := json.Marshal(f)
		code, out := do(t, http.MethodPost, srv.URL+"/v1/chunks", body)
		if code != http.StatusOK {
			t.Fatalf("fragment %d: status %d, body %v", i+1, code, out)
		}
		last = out
	}
	if last["complete"] != true {
		t.Fatalf("last fragment: got %v", last)
	}
	applied, _ := last["applied"].(map[string]any)
	if applied["kind"] != "snapshot" || applied["nodes"] != float64(3) {
		t.Errorf("applied: got %v", applied)
	}

	code, st := do(t, http.MethodGet, srv.URL+"/v1/status", nil)
	if code != http.StatusOK || st["populated"] != true || st["nodes"] != float64(3) {
		t.Errorf("status: %d %v", code, st)
	}
}

func TestHTTP_ChunkErrors(t *testing.T) {
	_, srv := testServer(t, nil)
	cases := []struct {
		body string
		code int
		kind string
	}{
		{`{"id":"t","index":2,"count":3,"text":"x"}`, http.StatusConflict, "sequencing"},
		{`{"id":"t","index":1,"count":257,"text":"x"}`, http.StatusBadRequest, "validation"},
		{`not json`, http.StatusBadRequest, "validation"},
		{`{"id":"t","index":1,"count":1,"text":"[1]"}`, http.StatusUnprocessableEntity, "parse"},
	}
	for _, c := range cases {
		code, out := do(t, http.MethodPost, srv.URL+"/v1/chunks", []byte(c.body))
		if code != c.code || out["kind"] != c.kind {
			t.Errorf("%s: got %d %v, want %d %s", c.body, code, out, c.code, c.kind)
		}
	}
}

func TestHTTP_CancelChunks(t *testing.T) {
	_, srv := testServer(t, nil)
	do(t, http.MethodPost, srv.URL+"/v1/chunks", []byte(`{"id":"t","index":1,"count":2,"text":"{"}`))

	code, out := do(t, http.MethodDelete, srv.URL+"/v1/chunks", nil)
	if code != http.StatusOK || out["cancelled"] != true {
		t.Fatalf("cancel: %d %v", code, out)
	}
	code, _ = do(t, http.MethodPost, srv.URL+"/v1/chunks", []byte(`{"id":"t","index":2,"count":2,"text":"}"}`))
	if code != http.StatusConflict {
		t.Errorf("continuing a cancelled transfer: got %d, want 409", code)
	}
}

func TestHTTP_Payloads(t *testing.T) {
	_, srv := testServer(t, nil)

	code, out := do(t, http.MethodPost, srv.URL+"/v1/payloads", []byte(replaceJSON))
	if code != http.StatusConflict || out["kind"] != "unpopulated" {
		t.Errorf("diff before snapshot: %d %v", code, out)
	}

	if code, out := do(t, http.MethodPost, srv.URL+"/v1/payloads", []byte(snapshotJSON)); code != http.StatusOK {
		t.Fatalf("snapshot: %d %v", code, out)
	}
	code, out = do(t, http.MethodPost, srv.URL+"/v1/payloads", []byte(orphanJSON))
	if code != http.StatusConflict || out["kind"] != "missing_parent" {
		t.Errorf("orphan: %d %v", code, out)
	}
	if msg, _ := out["error"].(string); !strings.Contains(msg, "Parent node at game.ServerStorage is missing") {
		t.Errorf("error message: %q", msg)
	}

	code, out = do(t, http.MethodPost, srv.URL+"/v1/payloads", []byte(`{"neither":true}`))
	if code != http.StatusUnprocessableEntity || out["kind"] != "unknown_payload" {
		t.Errorf("unknown payload: %d %v", code, out)
	}
}

func TestHTTP_BodyLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HTTP.MaxBodyBytes = 32
	_, srv := testServer(t, cfg)

	code, out := do(t, http.MethodPost, srv.URL+"/v1/payloads", []byte(snapshotJSON))
	if code != http.StatusRequestEntityTooLarge {
		t.Errorf("got %d %v, want 413", code, out)
	}
}

func TestHTTP_Nodes(t *testing.T) {
	m, srv := testServer(t, nil)

	if code, _ := do(t, http.MethodGet, srv.URL+"/v1/nodes/game", nil); code != http.StatusConflict {
		t.Errorf("before snapshot: got %d, want 409", code)
	}
	m.Apply(t.Context(), []byte(snapshotJSON))

	code, out := do(t, http.MethodGet, srv.URL+"/v1/nodes/game.Workspace?depth=0", nil)
	if code != http.StatusOK || out["className"] != "Workspace" {
		t.Fatalf("node: %d %v", code, out)
	}
	if _, ok := out["children"]; ok {
		t.Error("depth 0 should omit children")
	}

	code, out = do(t, http.MethodGet, srv.URL+"/v1/nodes/game", nil)
	children, _ := out["children"].([]any)
	if code != http.StatusOK || len(children) != 1 {
		t.Fatalf("default depth: %d %v", code, out)
	}
	if grand, _ := children[0].(map[string]any); grand["children"] != nil {
		t.Error("default depth is one level")
	}

	if code, out := do(t, http.MethodGet, srv.URL+"/v1/nodes/game.Missing", nil); code != http.StatusNotFound || out["kind"] != "not_found" {
		t.Errorf("unknown path: %d %v", code, out)
	}
}

func TestHTTP_Find(t *testing.T) {
	m, srv := testServer(t, nil)
	m.Apply(t.Context(), []byte(snapshotJSON))
	m.Apply(t.Context(), []byte(insertJSON))

	code, out := do(t, http.MethodGet, srv.URL+"/v1/find?class=Folder&prefix=game.Workspace", nil)
	if code != http.StatusOK || out["count"] != float64(1) {
		t.Fatalf("find: %d %v", code, out)
	}
	nodes, _ := out["nodes"].([]any)
	if first, _ := nodes[0].(map[string]any); first["path"] != "game.Workspace.NewFolder" {
		t.Errorf("nodes: %v", nodes)
	}

	_, out = do(t, http.MethodGet, srv.URL+"/v1/find?limit=1", nil)
	if out["count"] != float64(1) {
		t.Errorf("limit: %v", out)
	}
}

func TestHTTP_HealthAndMetrics(t *testing.T) {
	m, srv := testServer(t, nil)
	m.Apply(t.Context(), []byte(snapshotJSON))

	code, out := do(t, http.MethodGet, srv.URL+"/health", nil)
	if code != http.StatusOK || out["status"] != "ok" || out["populated"] != true {
		t.Errorf("health: %d %v", code, out)
	}

	do(t, http.MethodPost, srv.URL+"/v1/chunks", []byte(`{"id":"t","index":1,"count":2,"text":"{"}`))
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		`treemirror_fragments_total{result="accepted",transport="http"} 1`,
		`treemirror_index_nodes 3`,
		`treemirror_applies_total{kind="snapshot",result="ok"} 1`,
		`treemirror_http_requests_total{method="POST",route="/v1/chunks",status="200"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestHTTP_RequestIDHeader(t *testing.T) {
	_, srv := testServer(t, nil)
	resp, err := http.Get(srv.URL + "/v1/status")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not set")
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("nosniff not set")
	}
}
