package tree

import (
	"errors"
	"testing"
)

func TestParentPath(t *testing.T) {
	cases := map[string]string{
		"game.Workspace.Baseplate": "game.Workspace",
		"game.Workspace":           "game",
		"game":                     "",
		"":                         "",
	}
	for in, want := range cases {
		if got := ParentPath(in); got != want {
			t.Errorf("ParentPath(%q): got %q, want %q", in, got, want)
		}
	}
}

func TestJoinPath(t *testing.T) {
	if got := JoinPath("", "game"); got != "game" {
		t.Errorf("JoinPath root: got %q", got)
	}
	if got := JoinPath("game", "Workspace"); got != "game.Workspace" {
		t.Errorf("JoinPath: got %q", got)
	}
}

func TestDecodeSnapshot(t *testing.T) {
	raw := []byte(`{
		"snapshot": {"name":"game","className":"DataModel","path":"game","childCount":1,"totalChildren":2,
			"children":[{"name":"Workspace","className":"Workspace","path":"game.Workspace","childCount":0,"totalChildren":0}]},
		"truncated": true, "maxDepth": 8, "maxNodes": 5000, "generatedAt": 1708700000000
	}`)

	p, err := DecodeSnapshot(raw)
	if err != nil {
		t.Fatal(err)
	}
	if p.Snapshot.Path != "game" {
		t.Errorf("root path: got %q, want %q", p.Snapshot.Path, "game")
	}
	if len(p.Snapshot.Children) != 1 {
		t.Fatalf("children: got %d, want 1", len(p.Snapshot.Children))
	}
	if !p.Truncated || p.MaxDepth != 8 || p.MaxNodes != 5000 || p.GeneratedAt != 1708700000000 {
		t.Errorf("metadata: got %+v", p)
	}
}

func TestDecodeSnapshot_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing root":   `{"truncated":false}`,
		"empty path":     `{"snapshot":{"name":"game","path":""}}`,
		"null child":     `{"snapshot":{"name":"game","path":"game","children":[null]}}`,
		"duplicate path": `{"snapshot":{"name":"game","path":"game","children":[{"path":"game.A"},{"path":"game.A"}]}}`,
		"wrong type":     `{"snapshot":{"name":5,"path":"game"}}`,
		"not an object":  `[1,2,3]`,
		"foreign child":  `{"snapshot":{"name":"game","path":"game","children":[{"path":"other.A"}]}}`,
		"grandchild":     `{"snapshot":{"name":"game","path":"game","children":[{"path":"game.A.B"}]}}`,
	}
	for name, raw := range cases {
		_, err := DecodeSnapshot([]byte(raw))
		if err == nil {
			t.Errorf("%s: expected error", name)
			continue
		}
		if !errors.Is(err, ErrSchema) {
			t.Errorf("%s: got %v, want ErrSchema", name, err)
		}
	}
}

func TestDecodeDiff(t *testing.T) {
	p, err := DecodeDiff([]byte(`{"changes":[],"truncated":false,"maxNodes":10}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Changes) != 0 {
		t.Errorf("changes: got %d, want 0", len(p.Changes))
	}
	if p.Truncated == nil || *p.Truncated {
		t.Errorf("truncated: got %v, want false", p.Truncated)
	}
	if p.MaxNodes == nil || *p.MaxNodes != 10 {
		t.Errorf("maxNodes: got %v, want 10", p.MaxNodes)
	}
	if p.MaxDepth != nil || p.GeneratedAt != nil {
		t.Errorf("absent fields should stay nil: %+v", p)
	}
}

func TestDecodeDiff_Invalid(t *testing.T) {
	for name, raw := range map[string]string{
		"missing changes": `{"truncated":true}`,
		"null change":     `{"changes":[null]}`,
		"empty path":      `{"changes":[{"name":"x"}]}`,
		"child elsewhere": `{"changes":[{"path":"game.Workspace.A","children":[{"path":"game.Lighting"}]}]}`,
	} {
		if _, err := DecodeDiff([]byte(raw)); !errors.Is(err, ErrSchema) {
			t.Errorf("%s: got %v, want ErrSchema", name, err)
		}
	}
}

func TestClassify(t *testing.T) {
	k, err := Classify(map[string]any{"snapshot": map[string]any{}})
	if err != nil || k != KindSnapshot {
		t.Errorf("snapshot: got %q, %v", k, err)
	}
	k, err = Classify(map[string]any{"changes": []any{}})
	if err != nil || k != KindDiff {
		t.Errorf("diff: got %q, %v", k, err)
	}
	if _, err := Classify(map[string]any{"foo": 1}); !errors.Is(err, ErrUnknownPayload) {
		t.Errorf("unknown: got %v", err)
	}

	k, err = ClassifyJSON([]byte(`{"changes":[]}`))
	if err != nil || k != KindDiff {
		t.Errorf("ClassifyJSON diff: got %q, %v", k, err)
	}
	if _, err := ClassifyJSON([]byte(`"text"`)); !errors.Is(err, ErrSchema) {
		t.Errorf("ClassifyJSON string: got %v", err)
	}
}

func TestCountAndClone(t *testing.T) {
	root := &Node{Name: "game", Path: "game", ChildCount: 1, Children: []*Node{
		{Name: "Workspace", Path: "game.Workspace", ChildCount: 1, Children: []*Node{
			{Name: "Baseplate", ClassName: "Part", Path: "game.Workspace.Baseplate"},
		}},
	}}
	if got := Count(root); got != 3 {
		t.Errorf("Count: got %d, want 3", got)
	}

	shallow := root.Clone(1)
	if len(shallow.Children) != 1 || len(shallow.Children[0].Children) != 0 {
		t.Errorf("Clone(1): unexpected shape %+v", shallow)
	}
	deep := root.Clone(-1)
	if Count(deep) != 3 {
		t.Errorf("Clone(-1): got %d nodes, want 3", Count(deep))
	}
	deep.Children[0].Children[0].ClassName = "SpawnLocation"
	if root.Children[0].Children[0].ClassName != "Part" {
		t.Error("Clone must not alias the original")
	}
}

func TestHashPayload(t *testing.T) {
	raw := []byte(`{"changes":[]}`)
	h1 := HashPayload(raw)
	if h1 != HashPayload(raw) {
		t.Error("HashPayload not deterministic")
	}
	if len(h1) != 64 {
		t.Errorf("HashPayload length: got %d, want 64", len(h1))
	}
}

func TestValidateNode_ChildPaths(t *testing.T) {
	ok := &Node{Path: "game", Children: []*Node{
		{Path: "game.A", Children: []*Node{{Path: "game.A.B"}}},
	}}
	if err := ValidateNode(ok); err != nil {
		t.Fatalf("well-formed tree: %v", err)
	}

	bad := &Node{Path: "game.Workspace.A", Children: []*Node{{Path: "game.Lighting"}}}
	err := ValidateNode(bad)
	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("got %v, want *SchemaError", err)
	}
	if se.Field != "node.children[0].path" {
		t.Errorf("field: got %q, want %q", se.Field, "node.children[0].path")
	}
}
