package mapper

import (
	"errors"
	"testing"
	"time"

	"github.com/graphloom/graphloom/internal/graph"
	"github.com/graphloom/graphloom/internal/schema"
)

const testDoc = `{
  "sources": {
    "units_mv": {"fields": ["unit_slug", "title", "year", "level", "threads"]}
  },
  "join_strategy": {"primary_source": "units_mv"},
  "nodes": {
    "Unit": {
      "id_field": {"source_column": "unit_slug", "type": "string", "target_property": "slug"},
      "properties": {
        "title": {"source_column": "title"},
        "year": {"source_column": "year", "type": "int"},
        "origin": {"value": "curriculum"},
        "code": {"value": "{unit_slug}-{year}"},
        "has_level": {"computed": "is_not_null", "source_column": "level"}
      }
    },
    "Thread": {
      "id_field": {"source_column": "threads", "type": "string", "target_property": "thread_slug", "expand_list": true},
      "properties": {
        "name": {"source_column": "name"}
      }
    }
  },
  "relationships": {
    "unit_has_thread": {
      "relationship_type": "HAS_THREAD",
      "start_node_type": "Unit",
      "end_node_type": "Thread",
      "start_field": "unit_slug",
      "end_field": "threads.thread_slug"
    }
  }
}`

func mustDoc(t *testing.T, raw string) *schema.Document {
	t.Helper()
	doc, err := schema.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse document: %v", err)
	}
	return doc
}

func TestNodeDedupFirstSeenWins(t *testing.T) {
	doc := mustDoc(t, testDoc)
	rows := []graph.Row{
		{"unit_slug": "algebra-1", "title": "Algebra", "year": 7.0},
		{"unit_slug": "algebra-1", "title": "Algebra (revised)", "year": 7.0},
	}

	res, err := Map(rows, doc)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	units := res.Nodes["Unit"]
	if len(units) != 1 {
		t.Fatalf("expected 1 Unit node, got %d", len(units))
	}
	if got := units[0].Props["title"]; got != "Algebra" {
		t.Errorf("first-seen title should win, got %v", got)
	}
	if res.Summary.NodesByLabel["Unit"] != 1 {
		t.Errorf("summary count = %d, want 1", res.Summary.NodesByLabel["Unit"])
	}
}

func TestExpandListFanOut(t *testing.T) {
	doc := mustDoc(t, testDoc)
	rows := []graph.Row{
		{
			"unit_slug": "algebra-1", "title": "Algebra", "year": 7.0,
			"threads": []any{
				map[string]any{"thread_slug": "t1", "name": "Number"},
				map[string]any{"thread_slug": "t2", "name": "Geometry"},
			},
		},
	}

	res, err := Map(rows, doc)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}

	threads := res.Nodes["Thread"]
	if len(threads) != 2 {
		t.Fatalf("expected 2 Thread nodes, got %d", len(threads))
	}
	if threads[0].ID != "t1" || threads[0].Props["name"] != "Number" {
		t.Errorf("first element node = %+v", threads[0])
	}

	edges := res.Edges["unit_has_thread"]
	if len(edges) != 2 {
		t.Fatalf("expected 2 edges (one per element), got %d", len(edges))
	}
	for _, e := range edges {
		if e.StartID != "algebra-1" || e.Type != "HAS_THREAD" {
			t.Errorf("edge = %+v", e)
		}
	}
	if edges[0].EndID != "t1" || edges[1].EndID != "t2" {
		t.Errorf("edge targets = %v, %v", edges[0].EndID, edges[1].EndID)
	}
}

func TestExpandListJSONText(t *testing.T) {
	doc := mustDoc(t, testDoc)
	rows := []graph.Row{
		{
			"unit_slug": "algebra-1",
			"threads":   `[{"thread_slug": "t9", "name": "Ratio"}]`,
		},
	}

	res, err := Map(rows, doc)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	threads := res.Nodes["Thread"]
	if len(threads) != 1 || threads[0].ID != "t9" {
		t.Fatalf("Thread nodes = %+v", threads)
	}
}

func TestEmptyValuesOmitted(t *testing.T) {
	doc := mustDoc(t, testDoc)
	rows := []graph.Row{
		{"unit_slug": "algebra-1", "title": "", "year": nil},
	}

	res, err := Map(rows, doc)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	props := res.Nodes["Unit"][0].Props
	if _, ok := props["title"]; ok {
		t.Error("empty title should be omitted, not present")
	}
	if _, ok := props["year"]; ok {
		t.Error("null year should be omitted, not present")
	}
}

func TestEmptyObjectsOmitted(t *testing.T) {
	doc := mustDoc(t, testDoc)
	rows := []graph.Row{
		{"unit_slug": "a", "title": map[string]any{}},
		{"unit_slug": "b", "title": "{}"},
		{"unit_slug": "c", "title": map[string]any{"lang": "en"}},
	}

	res, err := Map(rows, doc)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	units := res.Nodes["Unit"]
	if _, ok := units[0].Props["title"]; ok {
		t.Error("empty object title should be omitted, not present")
	}
	if _, ok := units[1].Props["title"]; ok {
		t.Error(`"{}" title should be omitted, not present`)
	}
	if got := units[2].Props["title"]; got != `{"lang":"en"}` {
		t.Errorf("object title = %v, want JSON text", got)
	}
}

func TestSyntheticProperties(t *testing.T) {
	doc := mustDoc(t, testDoc)
	rows := []graph.Row{
		{"unit_slug": "algebra-1", "year": 7.0, "level": "ks3"},
		{"unit_slug": "shapes-2", "year": 4.0},
	}

	res, err := Map(rows, doc)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	units := res.Nodes["Unit"]

	if got := units[0].Props["origin"]; got != "curriculum" {
		t.Errorf("constant property = %v", got)
	}
	if got := units[0].Props["code"]; got != "algebra-1-7" {
		t.Errorf("template property = %v", got)
	}
	if got := units[0].Props["has_level"]; got != true {
		t.Errorf("is_not_null with level set = %v", got)
	}
	if got := units[1].Props["has_level"]; got != false {
		t.Errorf("is_not_null with level absent = %v", got)
	}
}

func TestTemplateKeepsLiteralBraces(t *testing.T) {
	// Braces inside substituted values stay literal instead of being
	// re-expanded, so a self-referencing value cannot recurse.
	doc := mustDoc(t, testDoc)
	rows := []graph.Row{
		{"unit_slug": "{unit_slug}", "year": 7.0},
	}

	res, err := Map(rows, doc)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if got := res.Nodes["Unit"][0].Props["code"]; got != "{unit_slug}-7" {
		t.Errorf("template property = %v, want {unit_slug}-7", got)
	}
}

func TestConstantIDMakesStaticNode(t *testing.T) {
	raw := `{
	  "sources": {"units_mv": {"fields": ["unit_slug", "title"]}},
	  "join_strategy": {"primary_source": "units_mv"},
	  "nodes": {
	    "Curriculum": {
	      "id_field": {"value": "curriculum-root", "type": "string", "target_property": "slug"},
	      "properties": {
	        "origin": {"value": "national"},
	        "title":  {"source_column": "title"}
	      }
	    }
	  }
	}`
	doc := mustDoc(t, raw)
	rows := []graph.Row{
		{"unit_slug": "a", "title": "Algebra"},
		{"unit_slug": "b", "title": "Biology"},
	}

	res, err := Map(rows, doc)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	nodes := res.Nodes["Curriculum"]
	if len(nodes) != 1 {
		t.Fatalf("expected 1 static node, got %d", len(nodes))
	}
	if nodes[0].ID != "curriculum-root" {
		t.Errorf("static node id = %v", nodes[0].ID)
	}
	if got := nodes[0].Props["origin"]; got != "national" {
		t.Errorf("constant property = %v", got)
	}
	if _, ok := nodes[0].Props["title"]; ok {
		t.Error("column-backed property has no row to read from, should be absent")
	}
}

func TestTemplatedIDPerRow(t *testing.T) {
	raw := `{
	  "sources": {"units_mv": {"fields": ["unit_slug", "year"]}},
	  "join_strategy": {"primary_source": "units_mv"},
	  "nodes": {
	    "UnitYear": {
	      "id_field": {"value": "{unit_slug}-{year}", "type": "string", "target_property": "slug"}
	    }
	  }
	}`
	doc := mustDoc(t, raw)
	rows := []graph.Row{
		{"unit_slug": "algebra-1", "year": 7.0},
		{"unit_slug": "algebra-1", "year": 7.0},
		{"unit_slug": "shapes-2", "year": nil},
	}

	res, err := Map(rows, doc)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	nodes := res.Nodes["UnitYear"]
	if len(nodes) != 1 || nodes[0].ID != "algebra-1-7" {
		t.Fatalf("templated id nodes = %+v", nodes)
	}
	if res.Summary.SkippedNodeRows["UnitYear"] != 1 {
		t.Errorf("row with a null placeholder should be skipped, got %d",
			res.Summary.SkippedNodeRows["UnitYear"])
	}
}

func TestTemplateWithMissingColumnOmitted(t *testing.T) {
	doc := mustDoc(t, testDoc)
	rows := []graph.Row{
		{"unit_slug": "algebra-1"}, // no year: {unit_slug}-{year} cannot render
	}

	res, err := Map(rows, doc)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if _, ok := res.Nodes["Unit"][0].Props["code"]; ok {
		t.Error("template with a null placeholder should omit the property")
	}
}

func TestCoercionFailureIsFatal(t *testing.T) {
	doc := mustDoc(t, testDoc)
	rows := []graph.Row{
		{"unit_slug": "algebra-1", "year": "not-a-number"},
	}

	_, err := Map(rows, doc)
	var ce *graph.CoercionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CoercionError, got %v", err)
	}
	if ce.Field != "year" || ce.Row != 0 {
		t.Errorf("error fields = %+v", ce)
	}
}

func TestMissingIDSkipsRow(t *testing.T) {
	doc := mustDoc(t, testDoc)
	rows := []graph.Row{
		{"unit_slug": nil, "title": "orphan"},
		{"unit_slug": "algebra-1", "title": "Algebra"},
	}

	res, err := Map(rows, doc)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if len(res.Nodes["Unit"]) != 1 {
		t.Fatalf("expected 1 Unit node, got %d", len(res.Nodes["Unit"]))
	}
	if res.Summary.SkippedNodeRows["Unit"] != 1 {
		t.Errorf("skipped count = %d, want 1", res.Summary.SkippedNodeRows["Unit"])
	}
}

func TestEdgeDedup(t *testing.T) {
	doc := mustDoc(t, testDoc)
	threads := []any{map[string]any{"thread_slug": "t1"}}
	rows := []graph.Row{
		{"unit_slug": "algebra-1", "threads": threads},
		{"unit_slug": "algebra-1", "threads": threads},
	}

	res, err := Map(rows, doc)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if len(res.Edges["unit_has_thread"]) != 1 {
		t.Fatalf("duplicate rows must yield 1 edge, got %d",
			len(res.Edges["unit_has_thread"]))
	}
}

func TestMapIsDeterministic(t *testing.T) {
	doc := mustDoc(t, testDoc)
	rows := []graph.Row{
		{"unit_slug": "a", "title": "A"},
		{"unit_slug": "b", "title": "B"},
	}

	first, err := Map(rows, doc)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	second, err := Map(rows, doc)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	for i := range first.Nodes["Unit"] {
		if first.Nodes["Unit"][i].ID != second.Nodes["Unit"][i].ID {
			t.Fatalf("node order differs between runs at %d", i)
		}
	}
}

func TestFiltersDropRows(t *testing.T) {
	raw := `{
	  "sources": {"units_mv": {"fields": ["unit_slug", "phase"]}},
	  "join_strategy": {"primary_source": "units_mv"},
	  "nodes": {
	    "Unit": {"id_field": {"source_column": "unit_slug", "type": "string", "target_property": "slug"}}
	  },
	  "filters": {"phase": ["primary", "secondary"]}
	}`
	doc := mustDoc(t, raw)
	rows := []graph.Row{
		{"unit_slug": "a", "phase": "primary"},
		{"unit_slug": "b", "phase": "draft"},
		{"unit_slug": "c", "phase": nil},
	}

	res, err := Map(rows, doc)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if len(res.Nodes["Unit"]) != 1 || res.Nodes["Unit"][0].ID != "a" {
		t.Fatalf("filtered nodes = %+v", res.Nodes["Unit"])
	}
}

func TestTimestampColumnStamped(t *testing.T) {
	raw := `{
	  "sources": {"units_mv": {"fields": ["unit_slug"]}},
	  "join_strategy": {"primary_source": "units_mv"},
	  "nodes": {
	    "Unit": {
	      "id_field": {"source_column": "unit_slug", "type": "string", "target_property": "slug"},
	      "properties": {"loaded_at": {"source_column": "loaded_at"}}
	    }
	  },
	  "options": {"timestamp_column": "loaded_at"}
	}`
	doc := mustDoc(t, raw)

	fixed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	nowFunc = func() time.Time { return fixed }
	defer func() { nowFunc = time.Now }()

	res, err := Map([]graph.Row{{"unit_slug": "a"}}, doc)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if got := res.Nodes["Unit"][0].Props["loaded_at"]; got != "2026-08-01T12:00:00Z" {
		t.Errorf("loaded_at = %v", got)
	}
}
