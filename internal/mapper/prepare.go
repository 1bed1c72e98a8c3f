package mapper

import (
	"errors"
	"log"
	"time"

	"github.com/graphloom/graphloom/internal/graph"
	"github.com/graphloom/graphloom/internal/schema"
)

// nowFunc is swapped out by tests.
var nowFunc = time.Now

// prepare applies the document's row filters and stamps the configured
// timestamp column before any mapping runs. Filtering compares the string
// form of the column value against the allowed set; rows whose column is
// null or empty never match.
func prepare(rows []graph.Row, doc *schema.Document) []graph.Row {
	if len(doc.Filters) == 0 && doc.Options.TimestampColumn == "" {
		return rows
	}

	var stamp string
	if doc.Options.TimestampColumn != "" {
		stamp = nowFunc().UTC().Format(time.RFC3339)
	}

	out := make([]graph.Row, 0, len(rows))
	dropped := 0
	for _, row := range rows {
		if !matchesFilters(row, doc.Filters) {
			dropped++
			continue
		}
		if stamp != "" {
			row[doc.Options.TimestampColumn] = stamp
		}
		out = append(out, row)
	}
	if dropped > 0 {
		log.Printf("[Mapper] Filters dropped %d of %d rows", dropped, len(rows))
	}
	return out
}

func matchesFilters(row graph.Row, filters map[string][]string) bool {
	for col, allowed := range filters {
		v, err := graph.Coerce(row[col], graph.TypeString)
		if errors.Is(err, graph.ErrEmpty) {
			return false
		}
		s, _ := v.(string)
		ok := false
		for _, a := range allowed {
			if s == a {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}
