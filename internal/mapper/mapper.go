// Package mapper applies the node and relationship mappings to the
// consolidated dataset, producing deduplicated, typed record sets ready for
// bulk serialization.
package mapper

import (
	"errors"
	"log"
	"sort"
	"strings"

	"github.com/graphloom/graphloom/internal/graph"
	"github.com/graphloom/graphloom/internal/schema"
)

// Summary aggregates the non-fatal skip counts of one mapping pass.
type Summary struct {
	NodesByLabel    map[string]int
	EdgesByKey      map[string]int
	SkippedNodeRows map[string]int
	SkippedEdgeRows map[string]int
}

// Result holds the materialized record sets. Node records are keyed by label,
// edge records by their mapping key (several keys may share one relationship
// type). Records are never mutated after Map returns.
type Result struct {
	Nodes   map[string][]graph.NodeRecord
	Edges   map[string][]graph.EdgeRecord
	Summary Summary
}

// Mapper owns the per-label deduplication state for exactly one run.
type Mapper struct {
	doc  *schema.Document
	seen map[string]map[string]bool // label -> canonical id -> seen
}

func New(doc *schema.Document) *Mapper {
	return &Mapper{
		doc:  doc,
		seen: make(map[string]map[string]bool),
	}
}

// Map transforms the consolidated rows into node and edge record sets.
// Missing id/key fields skip the affected row with a warning; a value that
// cannot be coerced to its declared type is fatal.
func Map(rows []graph.Row, doc *schema.Document) (*Result, error) {
	return New(doc).Run(rows)
}

func (m *Mapper) Run(rows []graph.Row) (*Result, error) {
	rows = prepare(rows, m.doc)

	res := &Result{
		Nodes: make(map[string][]graph.NodeRecord),
		Edges: make(map[string][]graph.EdgeRecord),
		Summary: Summary{
			NodesByLabel:    make(map[string]int),
			EdgesByKey:      make(map[string]int),
			SkippedNodeRows: make(map[string]int),
			SkippedEdgeRows: make(map[string]int),
		},
	}

	for _, label := range sortedKeys(m.doc.Nodes) {
		nm := m.doc.Nodes[label]
		records, skipped, err := m.mapNodes(rows, label, nm)
		if err != nil {
			return nil, err
		}
		res.Nodes[label] = records
		res.Summary.NodesByLabel[label] = len(records)
		res.Summary.SkippedNodeRows[label] = skipped
		log.Printf("[Mapper] %s: %d nodes (%d rows skipped)", label, len(records), skipped)
	}

	for _, key := range sortedKeys(m.doc.Relationships) {
		rm := m.doc.Relationships[key]
		records, skipped, err := m.mapEdges(rows, key, rm)
		if err != nil {
			return nil, err
		}
		res.Edges[key] = records
		res.Summary.EdgesByKey[key] = len(records)
		res.Summary.SkippedEdgeRows[key] = skipped
		log.Printf("[Mapper] %s (%s): %d edges (%d rows skipped)",
			key, rm.RelationshipType, len(records), skipped)
	}

	return res, nil
}

func (m *Mapper) mapNodes(rows []graph.Row, label string, nm schema.NodeMapping) ([]graph.NodeRecord, int, error) {
	if m.seen[label] == nil {
		m.seen[label] = make(map[string]bool)
	}

	// A constant synthetic id produces one static node per run, independent
	// of the dataset. Only constant and template properties can feed it.
	if nm.IDField.Value != "" && !nm.IDField.IsTemplate() {
		rec, err := m.staticNode(label, nm)
		if err != nil {
			return nil, 0, err
		}
		key := graph.FormatValue(rec.ID)
		if m.seen[label][key] {
			return nil, 0, nil
		}
		m.seen[label][key] = true
		return []graph.NodeRecord{*rec}, 0, nil
	}

	var records []graph.NodeRecord
	skipped := 0
	for i, row := range rows {
		candidates, skip, err := m.nodeCandidates(row, i, label, nm)
		if err != nil {
			return nil, 0, err
		}
		skipped += skip
		for _, rec := range candidates {
			// First-seen property set wins; later duplicates are discarded,
			// not merged, so repeated runs over the same input stay stable.
			key := graph.FormatValue(rec.ID)
			if m.seen[label][key] {
				continue
			}
			m.seen[label][key] = true
			records = append(records, rec)
		}
	}
	return records, skipped, nil
}

// staticNode materializes a constant-id node. Property specs reading source
// columns come out absent: there is no row to read from.
func (m *Mapper) staticNode(label string, nm schema.NodeMapping) (*graph.NodeRecord, error) {
	id, err := graph.Coerce(nm.IDField.Value, nm.IDField.Type)
	if err != nil {
		return nil, &graph.CoercionError{Field: nm.IDField.TargetProperty, Row: 0, Value: nm.IDField.Value, Target: nm.IDField.Type}
	}
	props, err := m.mapProperties(graph.Row{}, graph.Row{}, 0, nm.Properties)
	if err != nil {
		return nil, err
	}
	log.Printf("[Mapper] %s: static node %v", label, id)
	return &graph.NodeRecord{ID: id, Props: props}, nil
}

// nodeCandidates produces the candidate records of one row: exactly one for a
// plain mapping, one per array element for an expand-list mapping.
func (m *Mapper) nodeCandidates(row graph.Row, idx int, label string, nm schema.NodeMapping) ([]graph.NodeRecord, int, error) {
	idf := nm.IDField

	if !idf.ExpandList {
		raw := row[idf.SourceColumn]
		if idf.Value != "" {
			// Templated synthetic id, rendered from the row's columns.
			rendered, ok := renderTemplate(idf.Value, row, row)
			if !ok {
				log.Printf("[Mapper] Warning: row %d cannot render %s id template, skipping", idx, label)
				return nil, 1, nil
			}
			raw = rendered
		}
		id, err := graph.Coerce(raw, idf.Type)
		if errors.Is(err, graph.ErrEmpty) {
			log.Printf("[Mapper] Warning: row %d has no %s id, skipping", idx, label)
			return nil, 1, nil
		}
		if err != nil {
			return nil, 0, &graph.CoercionError{Field: idf.TargetProperty, Row: idx, Value: raw, Target: idf.Type}
		}
		props, err := m.mapProperties(row, row, idx, nm.Properties)
		if err != nil {
			return nil, 0, err
		}
		return []graph.NodeRecord{{ID: id, Props: props}}, 0, nil
	}

	elems, err := graph.ObjectList(row[idf.SourceColumn])
	if err != nil {
		log.Printf("[Mapper] Warning: row %d has no usable %s array (%s): %v, skipping",
			idx, label, idf.SourceColumn, err)
		return nil, 1, nil
	}

	var out []graph.NodeRecord
	skipped := 0
	for _, elem := range elems {
		id, err := graph.Coerce(elem[idf.TargetProperty], idf.Type)
		if errors.Is(err, graph.ErrEmpty) {
			log.Printf("[Mapper] Warning: row %d %s element has no %s, skipping element",
				idx, label, idf.TargetProperty)
			skipped++
			continue
		}
		if err != nil {
			return nil, 0, &graph.CoercionError{Field: idf.SourceColumn + "." + idf.TargetProperty,
				Row: idx, Value: elem[idf.TargetProperty], Target: idf.Type}
		}
		// Sibling properties come from the element itself; templates may
		// still reach the owning row's columns.
		props, err := m.mapProperties(elem, row, idx, nm.Properties)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, graph.NodeRecord{ID: id, Props: props})
	}
	return out, skipped, nil
}

// mapProperties applies the property specs against a scope (the row, or one
// array element during fan-out). Empty coerced values are omitted entirely:
// the record has no key for them, rather than a null or empty value.
func (m *Mapper) mapProperties(scope, row graph.Row, idx int, specs map[string]schema.PropertySpec) (map[string]any, error) {
	props := make(map[string]any, len(specs))
	for _, target := range sortedKeys(specs) {
		spec := specs[target]
		val, err := m.evalProperty(scope, row, idx, target, spec)
		if err != nil {
			return nil, err
		}
		if val == nil || graph.IsEmpty(val) {
			continue
		}
		props[target] = val
	}
	return props, nil
}

func (m *Mapper) evalProperty(scope, row graph.Row, idx int, target string, spec schema.PropertySpec) (any, error) {
	switch {
	case spec.Computed != "":
		_, err := graph.Coerce(lookup(scope, row, spec.SourceColumn), graph.TypeString)
		isNull := errors.Is(err, graph.ErrEmpty)
		if spec.Computed == schema.ComputedIsNotNull {
			return !isNull, nil
		}
		return isNull, nil

	case spec.Value != "":
		raw := spec.Value
		if spec.IsTemplate() {
			rendered, ok := renderTemplate(raw, scope, row)
			if !ok {
				return nil, nil // placeholder column empty: omit the property
			}
			raw = rendered
		}
		return m.coerceProp(raw, idx, target, spec)

	default:
		raw := lookup(scope, row, spec.SourceColumn)
		if raw == nil {
			return nil, nil
		}
		return m.coerceProp(raw, idx, target, spec)
	}
}

func (m *Mapper) coerceProp(raw any, idx int, target string, spec schema.PropertySpec) (any, error) {
	if spec.List {
		vals, err := graph.CoerceList(raw)
		if errors.Is(err, graph.ErrEmpty) {
			return nil, nil
		}
		if err != nil {
			return nil, &graph.CoercionError{Field: target, Row: idx, Value: raw, Target: spec.Type}
		}
		return vals, nil
	}
	val, err := graph.Coerce(raw, spec.Type)
	if errors.Is(err, graph.ErrEmpty) {
		return nil, nil
	}
	if err != nil {
		return nil, &graph.CoercionError{Field: target, Row: idx, Value: raw, Target: spec.Type}
	}
	return val, nil
}

func (m *Mapper) mapEdges(rows []graph.Row, key string, rm schema.RelationshipMapping) ([]graph.EdgeRecord, int, error) {
	startType := m.doc.Nodes[rm.StartNodeType].IDField.Type
	endType := m.doc.Nodes[rm.EndNodeType].IDField.Type

	seen := make(map[string]bool)
	var records []graph.EdgeRecord
	skipped := 0

	for i, row := range rows {
		startIDs, err := m.endpointValues(row, i, rm.StartField, startType)
		if err != nil {
			return nil, 0, err
		}
		endIDs, err := m.endpointValues(row, i, rm.EndField, endType)
		if err != nil {
			return nil, 0, err
		}
		if len(startIDs) == 0 || len(endIDs) == 0 {
			log.Printf("[Mapper] Warning: row %d has no endpoints for %s, skipping", i, key)
			skipped++
			continue
		}

		props, err := m.mapProperties(row, row, i, rm.Properties)
		if err != nil {
			return nil, 0, err
		}

		for _, s := range startIDs {
			for _, e := range endIDs {
				dedupe := graph.FormatValue(s) + "\x00" + graph.FormatValue(e) + "\x00" + rm.RelationshipType
				if seen[dedupe] {
					continue
				}
				seen[dedupe] = true
				records = append(records, graph.EdgeRecord{
					StartID: s,
					EndID:   e,
					Type:    rm.RelationshipType,
					Props:   props,
				})
			}
		}
	}
	return records, skipped, nil
}

// endpointValues resolves an endpoint reference to the typed id values it
// denotes on this row: one value for a plain column, one per element when the
// reference follows an expand-list array column, keeping edge fan-out paired
// with node fan-out.
func (m *Mapper) endpointValues(row graph.Row, idx int, ref string, t graph.ValueType) ([]any, error) {
	col, key, isPath := schema.SplitEndpointField(ref)
	if !isPath {
		v, err := graph.Coerce(row[ref], t)
		if errors.Is(err, graph.ErrEmpty) {
			return nil, nil
		}
		if err != nil {
			return nil, &graph.CoercionError{Field: ref, Row: idx, Value: row[ref], Target: t}
		}
		return []any{v}, nil
	}

	elems, err := graph.ObjectList(row[col])
	if err != nil {
		return nil, nil
	}
	var out []any
	for _, elem := range elems {
		v, err := graph.Coerce(elem[key], t)
		if errors.Is(err, graph.ErrEmpty) {
			continue
		}
		if err != nil {
			return nil, &graph.CoercionError{Field: ref, Row: idx, Value: elem[key], Target: t}
		}
		out = append(out, v)
	}
	return out, nil
}

// lookup reads a column from the current scope, falling back to the owning
// row during element fan-out.
func lookup(scope, row graph.Row, col string) any {
	if v, ok := scope[col]; ok {
		return v
	}
	return row[col]
}

// renderTemplate substitutes {column} placeholders in one left-to-right pass,
// so braces inside substituted values are kept literal. ok is false when any
// referenced column is null or empty, so callers can omit the whole value.
func renderTemplate(tpl string, scope, row graph.Row) (string, bool) {
	var b strings.Builder
	rest := tpl
	for {
		start := strings.IndexByte(rest, '{')
		if start < 0 {
			b.WriteString(rest)
			return b.String(), true
		}
		end := strings.IndexByte(rest[start:], '}')
		if end < 0 {
			b.WriteString(rest)
			return b.String(), true
		}
		end += start
		col := rest[start+1 : end]
		v, err := graph.Coerce(lookup(scope, row, col), graph.TypeString)
		if err != nil {
			return "", false
		}
		b.WriteString(rest[:start])
		b.WriteString(v.(string))
		rest = rest[end+1:]
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
