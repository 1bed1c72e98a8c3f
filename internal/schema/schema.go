// Package schema defines the declarative mapping document that drives a
// pipeline run: which source collections to pull, how to join them, and how
// the consolidated rows become graph nodes and relationships. The document is
// parsed into tagged structs and fully validated before any data is touched.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/graphloom/graphloom/internal/graph"
)

// ConfigError reports a malformed or missing mapping field. It is fatal and
// raised before processing starts.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func confErr(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Source names one queryable collection and the columns to pull from it. An
// empty field list asks the extractor to discover the scalar columns itself.
type Source struct {
	Fields []string `json:"fields"`
	Limit  int      `json:"limit,omitempty"`
}

// Key is a join key: a single column name or an ordered tuple of column
// names (composite key). It accepts both JSON spellings.
type Key []string

func (k *Key) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*k = Key{single}
		return nil
	}
	var multi []string
	if err := json.Unmarshal(data, &multi); err != nil {
		return fmt.Errorf("join key must be a column name or an array of column names")
	}
	*k = Key(multi)
	return nil
}

func (k Key) String() string { return strings.Join(k, ",") }

// JoinType selects the relational join semantics for one join step.
type JoinType string

const (
	JoinLeft  JoinType = "left"
	JoinInner JoinType = "inner"
	JoinRight JoinType = "right"
	JoinOuter JoinType = "outer"
)

// JoinStep merges one additional source into the consolidated dataset.
type JoinStep struct {
	Source string   `json:"source"`
	Type   JoinType `json:"join_type"`
	On     struct {
		LeftKey  Key `json:"left_key"`
		RightKey Key `json:"right_key"`
	} `json:"on"`
}

// JoinSpec consolidates the configured sources into one flat dataset.
type JoinSpec struct {
	Primary string     `json:"primary_source"`
	Joins   []JoinStep `json:"joins,omitempty"`
}

// Computed field kinds: a boolean derived from another column's presence.
const (
	ComputedIsNull    = "is_null"
	ComputedIsNotNull = "is_not_null"
)

// PropertySpec maps one target property. Exactly one of SourceColumn, Value,
// or Computed drives it:
//   - SourceColumn reads the named row column and coerces it to Type.
//   - Value is a fixed constant, or a template when it contains {column}
//     placeholders substituted from the row.
//   - Computed derives a boolean from whether SourceColumn is null/empty.
type PropertySpec struct {
	SourceColumn string          `json:"source_column,omitempty"`
	Type         graph.ValueType `json:"type,omitempty"`
	List         bool            `json:"list,omitempty"`
	Value        string          `json:"value,omitempty"`
	Computed     string          `json:"computed,omitempty"`
}

// IsTemplate reports whether Value carries {column} placeholders.
func (p PropertySpec) IsTemplate() bool {
	return strings.Contains(p.Value, "{") && strings.Contains(p.Value, "}")
}

// IDField declares how a node's unique id is derived. With ExpandList set the
// source column holds an array of sub-objects and TargetProperty doubles as
// the key read from each element, producing one node per element.
//
// Value replaces SourceColumn for synthetic ids: a fixed constant yields one
// static node per run, a {column} template yields one id per row.
type IDField struct {
	SourceColumn   string          `json:"source_column,omitempty"`
	Type           graph.ValueType `json:"type"`
	TargetProperty string          `json:"target_property"`
	ExpandList     bool            `json:"expand_list,omitempty"`
	Value          string          `json:"value,omitempty"`
}

// IsTemplate reports whether Value carries {column} placeholders.
func (f IDField) IsTemplate() bool {
	return strings.Contains(f.Value, "{") && strings.Contains(f.Value, "}")
}

// NodeMapping produces the nodes of one label from the consolidated rows.
type NodeMapping struct {
	IDField    IDField                 `json:"id_field"`
	Properties map[string]PropertySpec `json:"properties,omitempty"`
}

// RelationshipMapping produces the edges of one configured pairing. Several
// mappings may declare the same RelationshipType: distinct source pairings
// union into one logical edge type in the graph.
//
// StartField/EndField name a row column, or "column.key" to follow an
// expand-list node's array column so each exploded element gets its edge.
type RelationshipMapping struct {
	RelationshipType string                  `json:"relationship_type"`
	StartNodeType    string                  `json:"start_node_type"`
	EndNodeType      string                  `json:"end_node_type"`
	StartField       string                  `json:"start_field"`
	EndField         string                  `json:"end_field"`
	Properties       map[string]PropertySpec `json:"properties,omitempty"`
}

// Options tunes serialization and load behavior.
type Options struct {
	ClearBeforeLoad bool   `json:"clear_before_load,omitempty"`
	BatchSize       int    `json:"batch_size,omitempty"`
	SplitThreshold  int    `json:"split_threshold,omitempty"`
	TimestampColumn string `json:"timestamp_column,omitempty"`
}

const (
	DefaultBatchSize      = 1000
	DefaultSplitThreshold = 10000
)

// Document is the complete mapping configuration for one pipeline run.
type Document struct {
	Sources       map[string]Source              `json:"sources"`
	Join          JoinSpec                       `json:"join_strategy"`
	Nodes         map[string]NodeMapping         `json:"nodes"`
	Relationships map[string]RelationshipMapping `json:"relationships,omitempty"`
	Filters       map[string][]string            `json:"filters,omitempty"`
	Options       Options                        `json:"options,omitempty"`
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, env-substitutes, parses, and validates a mapping document.
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, confErr(path, "cannot read mapping document: %v", err)
	}
	return Parse(raw)
}

// Parse decodes a mapping document from raw JSON. Unknown keys are rejected
// so typos fail here instead of deep inside the transformation.
func Parse(raw []byte) (*Document, error) {
	substituted, err := substituteEnv(raw)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(substituted))
	dec.DisallowUnknownFields()

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, confErr("document", "invalid JSON: %v", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	doc.applyDefaults()
	return &doc, nil
}

func substituteEnv(raw []byte) ([]byte, error) {
	var missing string
	out := envPattern.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := envPattern.FindSubmatch(m)[1]
		val, ok := os.LookupEnv(string(name))
		if !ok {
			missing = string(name)
			return m
		}
		return []byte(val)
	})
	if missing != "" {
		return nil, confErr(missing, "environment variable is not set")
	}
	return out, nil
}

func (d *Document) applyDefaults() {
	if d.Options.BatchSize <= 0 {
		d.Options.BatchSize = DefaultBatchSize
	}
	if d.Options.SplitThreshold <= 0 {
		d.Options.SplitThreshold = DefaultSplitThreshold
	}
	// Omitted types mean string. Stored back here so every later Coerce call
	// sees a concrete type.
	for label, nm := range d.Nodes {
		if nm.IDField.Type == "" {
			nm.IDField.Type = graph.TypeString
		}
		defaultPropertyTypes(nm.Properties)
		d.Nodes[label] = nm
	}
	for _, rm := range d.Relationships {
		defaultPropertyTypes(rm.Properties)
	}
}

func defaultPropertyTypes(specs map[string]PropertySpec) {
	for target, spec := range specs {
		if spec.Type == "" {
			spec.Type = graph.TypeString
			specs[target] = spec
		}
	}
}

// Validate checks the whole document before any data is processed.
func (d *Document) Validate() error {
	if len(d.Sources) == 0 {
		return confErr("sources", "at least one source is required")
	}

	if err := d.validateJoin(); err != nil {
		return err
	}

	if len(d.Nodes) == 0 {
		return confErr("nodes", "at least one node mapping is required")
	}
	for label, nm := range d.Nodes {
		if err := validateNode(label, nm); err != nil {
			return err
		}
	}

	for key, rm := range d.Relationships {
		if err := d.validateRelationship(key, rm); err != nil {
			return err
		}
	}
	return nil
}

func (d *Document) validateJoin() error {
	if d.Join.Primary == "" {
		return confErr("join_strategy.primary_source", "is required")
	}
	if _, ok := d.Sources[d.Join.Primary]; !ok {
		return confErr("join_strategy.primary_source",
			"%q not found in sources", d.Join.Primary)
	}
	for i, step := range d.Join.Joins {
		field := fmt.Sprintf("join_strategy.joins[%d]", i)
		if _, ok := d.Sources[step.Source]; !ok {
			return confErr(field, "source %q not found in sources", step.Source)
		}
		switch step.Type {
		case JoinLeft, JoinInner, JoinRight, JoinOuter:
		default:
			return confErr(field,
				"join_type must be left, inner, right, or outer (got %q)", step.Type)
		}
		if len(step.On.LeftKey) == 0 || len(step.On.RightKey) == 0 {
			return confErr(field, "on.left_key and on.right_key are required")
		}
		if len(step.On.LeftKey) != len(step.On.RightKey) {
			return confErr(field, "composite key arity mismatch: %d vs %d",
				len(step.On.LeftKey), len(step.On.RightKey))
		}
	}
	return nil
}

func validateNode(label string, nm NodeMapping) error {
	field := "nodes." + label
	switch {
	case nm.IDField.SourceColumn == "" && nm.IDField.Value == "":
		return confErr(field+".id_field", "needs source_column or value")
	case nm.IDField.SourceColumn != "" && nm.IDField.Value != "":
		return confErr(field+".id_field", "source_column and value are mutually exclusive")
	case nm.IDField.ExpandList && nm.IDField.SourceColumn == "":
		return confErr(field+".id_field.expand_list", "needs a source_column array")
	}
	if nm.IDField.TargetProperty == "" {
		return confErr(field+".id_field.target_property", "is required")
	}
	if _, err := graph.ParseValueType(string(nm.IDField.Type)); err != nil {
		return confErr(field+".id_field.type", "%v", err)
	}
	for target, prop := range nm.Properties {
		if target == nm.IDField.TargetProperty {
			return confErr(field+".properties."+target,
				"collides with the id property")
		}
		if err := validateProperty(field+".properties."+target, prop); err != nil {
			return err
		}
	}
	return nil
}

func validateProperty(field string, prop PropertySpec) error {
	if _, err := graph.ParseValueType(string(prop.Type)); err != nil {
		return confErr(field+".type", "%v", err)
	}
	switch prop.Computed {
	case "", ComputedIsNull, ComputedIsNotNull:
	default:
		return confErr(field+".computed",
			"must be %q or %q (got %q)", ComputedIsNull, ComputedIsNotNull, prop.Computed)
	}
	if prop.Computed != "" && prop.SourceColumn == "" {
		return confErr(field+".source_column",
			"computed properties need a referenced column")
	}
	if prop.SourceColumn == "" && prop.Value == "" && prop.Computed == "" {
		return confErr(field, "needs source_column, value, or computed")
	}
	return nil
}

func (d *Document) validateRelationship(key string, rm RelationshipMapping) error {
	field := "relationships." + key
	if rm.RelationshipType == "" {
		return confErr(field+".relationship_type", "is required")
	}
	for _, ref := range []struct{ field, label string }{
		{"start_node_type", rm.StartNodeType},
		{"end_node_type", rm.EndNodeType},
	} {
		if ref.label == "" {
			return confErr(field+"."+ref.field, "is required")
		}
		if _, ok := d.Nodes[ref.label]; !ok {
			return confErr(field+"."+ref.field,
				"%q is not a declared node label", ref.label)
		}
	}
	if rm.StartField == "" || rm.EndField == "" {
		return confErr(field, "start_field and end_field are required")
	}
	if err := d.validateEndpointField(field+".start_field", rm.StartField, rm.StartNodeType); err != nil {
		return err
	}
	if err := d.validateEndpointField(field+".end_field", rm.EndField, rm.EndNodeType); err != nil {
		return err
	}
	for target, prop := range rm.Properties {
		if err := validateProperty(field+".properties."+target, prop); err != nil {
			return err
		}
	}
	return nil
}

// validateEndpointField checks that a "column.key" endpoint reference agrees
// with the expand-list declaration of the node label it points at, so edge
// fan-out stays paired with node fan-out.
func (d *Document) validateEndpointField(field, ref, label string) error {
	col, key, ok := SplitEndpointField(ref)
	if !ok {
		return nil
	}
	nm := d.Nodes[label]
	if !nm.IDField.ExpandList {
		return confErr(field,
			"%q follows an array column but node %q is not expand_list", ref, label)
	}
	if nm.IDField.SourceColumn != col || nm.IDField.TargetProperty != key {
		return confErr(field,
			"%q does not match node %q id_field (%s.%s)",
			ref, label, nm.IDField.SourceColumn, nm.IDField.TargetProperty)
	}
	return nil
}

// SplitEndpointField splits an endpoint reference of the form "column.key"
// used to follow an expand-list array column. Plain column names return
// ok=false.
func SplitEndpointField(ref string) (column, key string, ok bool) {
	i := strings.Index(ref, ".")
	if i <= 0 || i == len(ref)-1 {
		return "", "", false
	}
	return ref[:i], ref[i+1:], true
}
