// Package join consolidates the extracted source datasets into one flat
// dataset according to the configured join strategy.
package join

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/graphloom/graphloom/internal/graph"
	"github.com/graphloom/graphloom/internal/schema"
)

// JoinError is fatal: the join strategy referenced an unknown source, an
// unknown join type, or a key column absent from one side.
type JoinError struct {
	Source string
	Key    string
	Reason string
}

func (e *JoinError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("join failed on source %q, key %q: %s", e.Source, e.Key, e.Reason)
	}
	return fmt.Sprintf("join failed on source %q: %s", e.Source, e.Reason)
}

// Join runs every configured join step in order, starting from the primary
// source. The primary dataset is returned unchanged when no steps are
// configured. Result ordering follows the left side for left/inner joins;
// unmatched right rows (right/outer) are appended after.
func Join(sources map[string][]graph.Row, spec schema.JoinSpec) ([]graph.Row, error) {
	primary, ok := sources[spec.Primary]
	if !ok {
		return nil, &JoinError{Source: spec.Primary, Reason: "primary source has no dataset"}
	}
	log.Printf("[Join] Primary dataset %q: %d rows", spec.Primary, len(primary))

	result := primary
	for i, step := range spec.Joins {
		right, ok := sources[step.Source]
		if !ok {
			return nil, &JoinError{Source: step.Source, Reason: "source has no dataset"}
		}

		merged, err := joinStep(result, right, step)
		if err != nil {
			return nil, err
		}
		result = merged
		log.Printf("[Join] Step %d: %s join with %q on %s=%s -> %d rows",
			i+1, step.Type, step.Source, step.On.LeftKey, step.On.RightKey, len(result))
	}
	return result, nil
}

func joinStep(left, right []graph.Row, step schema.JoinStep) ([]graph.Row, error) {
	switch step.Type {
	case schema.JoinLeft, schema.JoinInner, schema.JoinRight, schema.JoinOuter:
	default:
		return nil, &JoinError{Source: step.Source, Reason: fmt.Sprintf("unknown join type %q", step.Type)}
	}

	leftKey, rightKey := step.On.LeftKey, step.On.RightKey

	if err := checkKeyColumns(left, leftKey, step.Source+" (left side)"); err != nil {
		return nil, err
	}
	if err := checkKeyColumns(right, rightKey, step.Source); err != nil {
		return nil, err
	}

	// List-valued key columns are exploded before matching so each element
	// participates in the join on its own row.
	leftRows := explode(left, leftKey)
	rightRows := explode(right, rightKey)

	// Index the right side by composite key tuple. Rows with any null key
	// component never match, regardless of join type.
	index := make(map[string][]int)
	for i, row := range rightRows {
		if key, ok := tupleKey(row, rightKey); ok {
			index[key] = append(index[key], i)
		}
	}

	rightCols := columnUnion(rightRows, rightKey)
	leftCols := columnUnion(leftRows, leftKey)
	matchedRight := make(map[int]bool)

	var out []graph.Row
	for _, lrow := range leftRows {
		var matches []int
		if key, ok := tupleKey(lrow, leftKey); ok {
			matches = index[key]
		}

		if len(matches) == 0 {
			if step.Type == schema.JoinLeft || step.Type == schema.JoinOuter {
				out = append(out, padRow(lrow, rightCols))
			}
			continue
		}
		for _, ri := range matches {
			matchedRight[ri] = true
			merged, err := mergeRows(lrow, rightRows[ri], rightKey, step.Source)
			if err != nil {
				return nil, err
			}
			out = append(out, merged)
		}
	}

	if step.Type == schema.JoinRight || step.Type == schema.JoinOuter {
		for i, rrow := range rightRows {
			if !matchedRight[i] {
				out = append(out, padRow(rrow, leftCols))
			}
		}
	}

	return out, nil
}

// checkKeyColumns fails fast when a key column never appears on its side.
// Per-row absence is treated as a null component instead.
func checkKeyColumns(rows []graph.Row, key schema.Key, source string) error {
	if len(rows) == 0 {
		return nil
	}
	for _, col := range key {
		found := false
		for _, row := range rows {
			if _, ok := row[col]; ok {
				found = true
				break
			}
		}
		if !found {
			return &JoinError{Source: source, Key: col, Reason: "key column absent from dataset"}
		}
	}
	return nil
}

// explode cross-joins each row against its own list-valued key columns, so a
// row whose key column holds [a, b] becomes two rows keyed a and b.
func explode(rows []graph.Row, key schema.Key) []graph.Row {
	out := rows
	for _, col := range key {
		var next []graph.Row
		expanded := false
		for _, row := range out {
			elems, ok := listValue(row[col])
			if !ok {
				next = append(next, row)
				continue
			}
			expanded = true
			for _, el := range elems {
				clone := cloneRow(row)
				clone[col] = el
				next = append(next, clone)
			}
		}
		if expanded {
			out = next
		}
	}
	return out
}

func listValue(v any) ([]any, bool) {
	switch x := v.(type) {
	case []any:
		return x, true
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

// tupleKey renders a composite key tuple for matching. ok is false when any
// component is null or blank.
func tupleKey(row graph.Row, key schema.Key) (string, bool) {
	parts := make([]string, 0, len(key))
	for _, col := range key {
		s, ok := keyComponent(row[col])
		if !ok {
			return "", false
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "\x00"), true
}

// keyComponent normalizes a scalar so equal values match across numeric
// representations ("7" from one source, 7.0 from another).
func keyComponent(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return "", false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64), true
		}
		return s, true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case bool:
		return strconv.FormatBool(x), true
	default:
		return fmt.Sprintf("%v", x), true
	}
}

// mergeRows copies the right side's non-key columns onto a clone of the left
// row. A right column that already exists on the left is a configuration
// error, never resolved by renaming.
func mergeRows(left, right graph.Row, rightKey schema.Key, source string) (graph.Row, error) {
	merged := cloneRow(left)
	for col, val := range right {
		if contains(rightKey, col) {
			continue
		}
		if _, exists := merged[col]; exists {
			return nil, &JoinError{Source: source, Key: col,
				Reason: "column name collides with an earlier source"}
		}
		merged[col] = val
	}
	return merged, nil
}

// padRow clones a row and fills the other side's columns with null.
func padRow(row graph.Row, otherCols []string) graph.Row {
	out := cloneRow(row)
	for _, col := range otherCols {
		if _, ok := out[col]; !ok {
			out[col] = nil
		}
	}
	return out
}

func columnUnion(rows []graph.Row, key schema.Key) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, row := range rows {
		for col := range row {
			if !seen[col] && !contains(key, col) {
				seen[col] = true
				cols = append(cols, col)
			}
		}
	}
	return cols
}

func contains(key schema.Key, col string) bool {
	for _, k := range key {
		if k == col {
			return true
		}
	}
	return false
}

func cloneRow(row graph.Row) graph.Row {
	out := make(graph.Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}
