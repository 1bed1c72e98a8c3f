package bulkcsv

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/graphloom/graphloom/internal/graph"
	"github.com/graphloom/graphloom/internal/schema"
)

func unitMapping() schema.NodeMapping {
	return schema.NodeMapping{
		IDField: schema.IDField{
			SourceColumn:   "unit_slug",
			Type:           graph.TypeString,
			TargetProperty: "slug",
		},
		Properties: map[string]schema.PropertySpec{
			"title":  {SourceColumn: "title", Type: graph.TypeString},
			"year":   {SourceColumn: "year", Type: graph.TypeInt},
			"topics": {SourceColumn: "topics", Type: graph.TypeString, List: true},
		},
	}
}

func hasThreadMapping() schema.RelationshipMapping {
	return schema.RelationshipMapping{
		RelationshipType: "HAS_THREAD",
		StartNodeType:    "Unit",
		EndNodeType:      "Thread",
		StartField:       "unit_slug",
		EndField:         "threads.thread_slug",
		Properties: map[string]schema.PropertySpec{
			"order": {SourceColumn: "order", Type: graph.TypeInt},
		},
	}
}

func TestNodeHeaderEncodesIDAndTypes(t *testing.T) {
	cols := NodeColumns("Unit", unitMapping())
	got := make([]string, len(cols))
	for i, c := range cols {
		got[i] = FormatColumn(c)
	}
	want := []string{"slug:string:ID(Unit)", "title:string", "topics:string[]", "year:int"}
	if len(got) != len(want) {
		t.Fatalf("header = %v", got)
	}
	if got[0] != want[0] {
		t.Errorf("id column = %q, want %q", got[0], want[0])
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("column %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParseColumnRoundTrip(t *testing.T) {
	cells := []string{
		"slug:string:ID(Unit)",
		":START_ID(Unit)",
		":END_ID(Thread)",
		":TYPE",
		"year:int",
		"topics:string[]",
	}
	for _, cell := range cells {
		c, err := ParseColumn(cell)
		if err != nil {
			t.Fatalf("ParseColumn(%q): %v", cell, err)
		}
		if FormatColumn(c) != cell {
			t.Errorf("round trip of %q gave %q", cell, FormatColumn(c))
		}
	}
}

func TestWriteReadNodes(t *testing.T) {
	dir := t.TempDir()
	recs := []graph.NodeRecord{
		{ID: "algebra-1", Props: map[string]any{
			"title":  "Algebra",
			"year":   int64(7),
			"topics": []string{"number", "ratio"},
		}},
		{ID: "shapes-2", Props: map[string]any{"title": "Shapes"}},
	}

	paths, err := WriteNodes(dir, "Unit", unitMapping(), recs, 10000)
	if err != nil {
		t.Fatalf("WriteNodes: %v", err)
	}
	if len(paths) != 1 || filepath.Base(paths[0]) != "nodes_unit.csv" {
		t.Fatalf("paths = %v", paths)
	}

	f, err := Read(paths[0])
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if f.Kind != KindNodes || f.Label != "Unit" || f.IDProperty != "slug" {
		t.Fatalf("file = %+v", f)
	}

	back, err := f.NodeRecords()
	if err != nil {
		t.Fatalf("NodeRecords: %v", err)
	}
	if len(back) != 2 {
		t.Fatalf("got %d records", len(back))
	}
	if back[0].ID != "algebra-1" || back[0].Props["year"] != int64(7) {
		t.Errorf("record 0 = %+v", back[0])
	}
	topics, ok := back[0].Props["topics"].([]string)
	if !ok || len(topics) != 2 || topics[1] != "ratio" {
		t.Errorf("topics = %v", back[0].Props["topics"])
	}
	if _, ok := back[1].Props["year"]; ok {
		t.Error("omitted year must stay omitted after a round trip")
	}
}

func TestWriteReadRelationships(t *testing.T) {
	dir := t.TempDir()
	recs := []graph.EdgeRecord{
		{StartID: "algebra-1", EndID: "t1", Type: "HAS_THREAD",
			Props: map[string]any{"order": int64(1)}},
	}

	paths, err := WriteRelationships(dir, "unit_has_thread", hasThreadMapping(), recs, 10000)
	if err != nil {
		t.Fatalf("WriteRelationships: %v", err)
	}

	f, err := Read(paths[0])
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if f.Kind != KindRelationships || f.StartLabel != "Unit" || f.EndLabel != "Thread" {
		t.Fatalf("file = %+v", f)
	}

	back, err := f.EdgeRecords(graph.TypeString, graph.TypeString)
	if err != nil {
		t.Fatalf("EdgeRecords: %v", err)
	}
	if back[0].Type != "HAS_THREAD" || back[0].StartID != "algebra-1" {
		t.Errorf("edge = %+v", back[0])
	}
	if back[0].Props["order"] != int64(1) {
		t.Errorf("order = %v", back[0].Props["order"])
	}
}

func TestFloatIDRoundTrip(t *testing.T) {
	dir := t.TempDir()
	nm := schema.NodeMapping{
		IDField: schema.IDField{
			SourceColumn:   "lesson_id",
			Type:           graph.TypeFloat,
			TargetProperty: "id",
		},
	}
	recs := []graph.NodeRecord{{ID: float64(104), Props: map[string]any{}}}

	paths, err := WriteNodes(dir, "Lesson", nm, recs, 10000)
	if err != nil {
		t.Fatalf("WriteNodes: %v", err)
	}
	f, err := Read(paths[0])
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	back, err := f.NodeRecords()
	if err != nil {
		t.Fatalf("NodeRecords: %v", err)
	}
	if back[0].ID != float64(104) {
		t.Errorf("float id came back as %T %v", back[0].ID, back[0].ID)
	}
}

func TestSplitAtThreshold(t *testing.T) {
	dir := t.TempDir()
	nm := schema.NodeMapping{
		IDField: schema.IDField{
			SourceColumn:   "id",
			Type:           graph.TypeInt,
			TargetProperty: "id",
		},
	}
	recs := make([]graph.NodeRecord, 12000)
	for i := range recs {
		recs[i] = graph.NodeRecord{ID: int64(i), Props: map[string]any{}}
	}

	paths, err := WriteNodes(dir, "Lesson", nm, recs, 10000)
	if err != nil {
		t.Fatalf("WriteNodes: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 parts, got %v", paths)
	}
	if filepath.Base(paths[0]) != "nodes_lesson_part1.csv" ||
		filepath.Base(paths[1]) != "nodes_lesson_part2.csv" {
		t.Fatalf("part names = %v", paths)
	}

	total := 0
	for _, p := range paths {
		f, err := Read(p)
		if err != nil {
			t.Fatalf("Read(%s): %v", p, err)
		}
		if FormatColumn(f.Columns[0]) != "id:int:ID(Lesson)" {
			t.Errorf("part %s lost its header: %v", p, f.Columns)
		}
		total += len(f.Rows)
	}
	if total != 12000 {
		t.Errorf("rows across parts = %d, want 12000", total)
	}
}

func TestListFindsAllParts(t *testing.T) {
	dir := t.TempDir()
	nm := schema.NodeMapping{
		IDField: schema.IDField{SourceColumn: "id", Type: graph.TypeInt, TargetProperty: "id"},
	}
	recs := make([]graph.NodeRecord, 25)
	for i := range recs {
		recs[i] = graph.NodeRecord{ID: int64(i)}
	}
	if _, err := WriteNodes(dir, "Lesson", nm, recs, 10); err != nil {
		t.Fatalf("WriteNodes: %v", err)
	}

	paths, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("paths = %v", paths)
	}
	for i, p := range paths {
		want := fmt.Sprintf("nodes_lesson_part%d.csv", i+1)
		if filepath.Base(p) != want {
			t.Errorf("paths[%d] = %s, want %s", i, p, want)
		}
	}
}
