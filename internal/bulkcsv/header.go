// Package bulkcsv serializes mapped record sets into Neo4j bulk-import CSV
// files and reads them back, so the transform and load stages can run in
// separate invocations with the files as the only contract between them.
package bulkcsv

import (
	"fmt"
	"strings"

	"github.com/graphloom/graphloom/internal/graph"
)

// Column is one parsed header cell. The header encodes everything a loader
// needs: property names, declared types, the id property with its label, and
// the relationship structural columns.
type Column struct {
	Name  string          // property name; empty for :TYPE
	Type  graph.ValueType // declared value type
	List  bool
	Role  ColumnRole
	Label string // node label for ID/START_ID/END_ID columns
}

type ColumnRole int

const (
	RoleProperty ColumnRole = iota
	RoleID
	RoleStart
	RoleEnd
	RoleType
)

// FormatColumn renders a header cell:
//
//	slug:string:ID(Unit)   id column
//	year:int               typed property
//	topics:string[]        list property
//	:START_ID(Unit)        edge start endpoint
//	:END_ID(Thread)        edge end endpoint
//	:TYPE                  relationship type
func FormatColumn(c Column) string {
	switch c.Role {
	case RoleID:
		return fmt.Sprintf("%s:%s:ID(%s)", c.Name, c.Type, c.Label)
	case RoleStart:
		return fmt.Sprintf(":START_ID(%s)", c.Label)
	case RoleEnd:
		return fmt.Sprintf(":END_ID(%s)", c.Label)
	case RoleType:
		return ":TYPE"
	default:
		if c.List {
			return fmt.Sprintf("%s:%s[]", c.Name, c.Type)
		}
		return fmt.Sprintf("%s:%s", c.Name, c.Type)
	}
}

// ParseColumn is the inverse of FormatColumn.
func ParseColumn(cell string) (Column, error) {
	if cell == ":TYPE" {
		return Column{Role: RoleType}, nil
	}
	if label, ok := structuralLabel(cell, ":START_ID("); ok {
		return Column{Role: RoleStart, Label: label, Type: graph.TypeString}, nil
	}
	if label, ok := structuralLabel(cell, ":END_ID("); ok {
		return Column{Role: RoleEnd, Label: label, Type: graph.TypeString}, nil
	}

	parts := strings.Split(cell, ":")
	switch len(parts) {
	case 3: // name:type:ID(Label)
		label, ok := strings.CutPrefix(parts[2], "ID(")
		if !ok || !strings.HasSuffix(label, ")") {
			return Column{}, fmt.Errorf("malformed id column %q", cell)
		}
		t, err := graph.ParseValueType(parts[1])
		if err != nil {
			return Column{}, fmt.Errorf("column %q: %w", cell, err)
		}
		return Column{
			Name:  parts[0],
			Type:  t,
			Role:  RoleID,
			Label: strings.TrimSuffix(label, ")"),
		}, nil
	case 2:
		typeSpec, list := strings.CutSuffix(parts[1], "[]")
		t, err := graph.ParseValueType(typeSpec)
		if err != nil {
			return Column{}, fmt.Errorf("column %q: %w", cell, err)
		}
		return Column{Name: parts[0], Type: t, List: list}, nil
	default:
		return Column{}, fmt.Errorf("malformed header column %q", cell)
	}
}

func structuralLabel(cell, prefix string) (string, bool) {
	rest, ok := strings.CutPrefix(cell, prefix)
	if !ok || !strings.HasSuffix(rest, ")") {
		return "", false
	}
	return strings.TrimSuffix(rest, ")"), true
}

// ParseHeader parses a full header row and classifies the file.
func ParseHeader(cells []string) ([]Column, error) {
	cols := make([]Column, 0, len(cells))
	for _, cell := range cells {
		c, err := ParseColumn(cell)
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, nil
}
