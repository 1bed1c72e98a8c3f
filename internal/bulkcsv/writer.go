package bulkcsv

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/graphloom/graphloom/internal/graph"
	"github.com/graphloom/graphloom/internal/schema"
)

// NodeColumns derives the column layout of a node file: the id column first,
// then the mapped properties in sorted order so output is reproducible.
func NodeColumns(label string, nm schema.NodeMapping) []Column {
	cols := []Column{{
		Name:  nm.IDField.TargetProperty,
		Type:  nm.IDField.Type,
		Role:  RoleID,
		Label: label,
	}}
	for _, target := range sortedTargets(nm.Properties) {
		spec := nm.Properties[target]
		cols = append(cols, Column{Name: target, Type: propType(spec), List: spec.List})
	}
	return cols
}

// RelationshipColumns derives the column layout of a relationship file:
// start, end, and type columns first, then the mapped properties.
func RelationshipColumns(rm schema.RelationshipMapping) []Column {
	cols := []Column{
		{Role: RoleStart, Label: rm.StartNodeType},
		{Role: RoleEnd, Label: rm.EndNodeType},
		{Role: RoleType},
	}
	for _, target := range sortedTargets(rm.Properties) {
		spec := rm.Properties[target]
		cols = append(cols, Column{Name: target, Type: propType(spec), List: spec.List})
	}
	return cols
}

func propType(spec schema.PropertySpec) graph.ValueType {
	if spec.Computed != "" {
		return graph.TypeBool
	}
	if spec.Type == "" {
		return graph.TypeString
	}
	return spec.Type
}

// WriteNodes serializes one label's records, splitting into numbered part
// files once the row count passes threshold. Returns the paths written.
func WriteNodes(dir, label string, nm schema.NodeMapping, recs []graph.NodeRecord, threshold int) ([]string, error) {
	cols := NodeColumns(label, nm)
	rows := make([][]string, len(recs))
	for i, rec := range recs {
		row := make([]string, len(cols))
		for j, c := range cols {
			if c.Role == RoleID {
				row[j] = graph.FormatValue(rec.ID)
				continue
			}
			if v, ok := rec.Props[c.Name]; ok {
				row[j] = graph.FormatValue(v)
			}
		}
		rows[i] = row
	}
	return writeSplit(dir, "nodes_"+fileStem(label), cols, rows, threshold)
}

// WriteRelationships serializes one mapping's edge records.
func WriteRelationships(dir, key string, rm schema.RelationshipMapping, recs []graph.EdgeRecord, threshold int) ([]string, error) {
	cols := RelationshipColumns(rm)
	rows := make([][]string, len(recs))
	for i, rec := range recs {
		row := make([]string, len(cols))
		for j, c := range cols {
			switch c.Role {
			case RoleStart:
				row[j] = graph.FormatValue(rec.StartID)
			case RoleEnd:
				row[j] = graph.FormatValue(rec.EndID)
			case RoleType:
				row[j] = rec.Type
			default:
				if v, ok := rec.Props[c.Name]; ok {
					row[j] = graph.FormatValue(v)
				}
			}
		}
		rows[i] = row
	}
	return writeSplit(dir, "relationships_"+fileStem(key), cols, rows, threshold)
}

// writeSplit writes the rows under stem, as a single file when they fit the
// threshold, otherwise as stem_partN files that each carry the full header.
func writeSplit(dir, stem string, cols []Column, rows [][]string, threshold int) ([]string, error) {
	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = FormatColumn(c)
	}

	if threshold <= 0 || len(rows) <= threshold {
		path := filepath.Join(dir, stem+".csv")
		if err := writeFile(path, header, rows); err != nil {
			return nil, err
		}
		return []string{path}, nil
	}

	var paths []string
	for part := 1; len(rows) > 0; part++ {
		n := threshold
		if n > len(rows) {
			n = len(rows)
		}
		path := filepath.Join(dir, fmt.Sprintf("%s_part%d.csv", stem, part))
		if err := writeFile(path, header, rows[:n]); err != nil {
			return nil, err
		}
		paths = append(paths, path)
		rows = rows[n:]
	}
	log.Printf("[Bulk] %s split into %d parts", stem, len(paths))
	return paths, nil
}

func writeFile(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func fileStem(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, " ", "_"))
}

func sortedTargets(specs map[string]schema.PropertySpec) []string {
	targets := make([]string, 0, len(specs))
	for t := range specs {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	return targets
}
