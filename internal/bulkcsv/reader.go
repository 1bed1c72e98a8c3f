package bulkcsv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/graphloom/graphloom/internal/graph"
)

// Kind classifies a bulk file by its header.
type Kind int

const (
	KindNodes Kind = iota
	KindRelationships
)

// File is one parsed bulk CSV file. For node files Label, IDProperty, and
// IDType come from the id column; for relationship files StartLabel and
// EndLabel come from the structural columns.
type File struct {
	Path       string
	Kind       Kind
	Columns    []Column
	Label      string
	IDProperty string
	IDType     graph.ValueType
	StartLabel string
	EndLabel   string
	Rows       [][]string
}

// Read loads and classifies one bulk file. The header alone decides whether
// it holds nodes or relationships; file names are not trusted.
func Read(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("read %s: missing header row", path)
	}

	cols, err := ParseHeader(records[0])
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	bf := &File{Path: path, Columns: cols, Rows: records[1:]}
	hasType := false
	for _, c := range cols {
		switch c.Role {
		case RoleID:
			bf.Label = c.Label
			bf.IDProperty = c.Name
			bf.IDType = c.Type
		case RoleStart:
			bf.StartLabel = c.Label
		case RoleEnd:
			bf.EndLabel = c.Label
		case RoleType:
			hasType = true
		}
	}

	switch {
	case bf.IDProperty != "":
		bf.Kind = KindNodes
	case bf.StartLabel != "" && bf.EndLabel != "" && hasType:
		bf.Kind = KindRelationships
	default:
		return nil, fmt.Errorf("read %s: header is neither a node nor a relationship layout", path)
	}
	return bf, nil
}

// NodeRecords re-types the rows of a node file. Empty cells stay omitted
// from the property map, matching what the mapper produced.
func (f *File) NodeRecords() ([]graph.NodeRecord, error) {
	if f.Kind != KindNodes {
		return nil, fmt.Errorf("%s is not a node file", f.Path)
	}
	recs := make([]graph.NodeRecord, 0, len(f.Rows))
	for i, row := range f.Rows {
		rec := graph.NodeRecord{Props: make(map[string]any)}
		for j, c := range f.Columns {
			if j >= len(row) {
				break
			}
			v, err := graph.ParseValue(row[j], c.Type, c.List)
			if errors.Is(err, graph.ErrEmpty) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("%s row %d column %q: %w", f.Path, i+1, c.Name, err)
			}
			if c.Role == RoleID {
				rec.ID = v
				continue
			}
			rec.Props[c.Name] = v
		}
		if rec.ID == nil {
			return nil, fmt.Errorf("%s row %d: missing id value", f.Path, i+1)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// EdgeRecords re-types the rows of a relationship file. Endpoint ids are
// coerced to the declared id types of the labels they reference so typed
// matching against loaded nodes works.
func (f *File) EdgeRecords(startType, endType graph.ValueType) ([]graph.EdgeRecord, error) {
	if f.Kind != KindRelationships {
		return nil, fmt.Errorf("%s is not a relationship file", f.Path)
	}
	recs := make([]graph.EdgeRecord, 0, len(f.Rows))
	for i, row := range f.Rows {
		rec := graph.EdgeRecord{Props: make(map[string]any)}
		for j, c := range f.Columns {
			if j >= len(row) {
				break
			}
			switch c.Role {
			case RoleStart, RoleEnd:
				t := startType
				if c.Role == RoleEnd {
					t = endType
				}
				v, err := graph.Coerce(row[j], t)
				if errors.Is(err, graph.ErrEmpty) {
					continue // nil endpoint, the loader counts it as unresolved
				}
				if err != nil {
					return nil, fmt.Errorf("%s row %d endpoint: %w", f.Path, i+1, err)
				}
				if c.Role == RoleStart {
					rec.StartID = v
				} else {
					rec.EndID = v
				}
			case RoleType:
				rec.Type = row[j]
			default:
				v, err := graph.ParseValue(row[j], c.Type, c.List)
				if errors.Is(err, graph.ErrEmpty) {
					continue
				}
				if err != nil {
					return nil, fmt.Errorf("%s row %d column %q: %w", f.Path, i+1, c.Name, err)
				}
				rec.Props[c.Name] = v
			}
		}
		if rec.Type == "" {
			return nil, fmt.Errorf("%s row %d: missing relationship type", f.Path, i+1)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// List returns the bulk CSV paths under dir in sorted order.
func List(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}
