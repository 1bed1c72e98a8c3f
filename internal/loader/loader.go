// Package loader pushes bulk CSV files into the graph database with batched
// UNWIND queries: every node file first, then every relationship file, so
// endpoints exist before the edges that reference them.
package loader

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/graphloom/graphloom/internal/bulkcsv"
	"github.com/graphloom/graphloom/internal/domain/repository"
	"github.com/graphloom/graphloom/internal/graph"
	"github.com/graphloom/graphloom/internal/schema"
)

// BatchLoadError reports one failed batch. A failed batch never aborts the
// run; the loader records it and moves on to the next batch.
type BatchLoadError struct {
	File  string
	Batch int
	Err   error
}

func (e *BatchLoadError) Error() string {
	return fmt.Sprintf("batch %d of %s failed: %v", e.Batch, e.File, e.Err)
}

func (e *BatchLoadError) Unwrap() error { return e.Err }

// Summary aggregates the outcome of one load run.
type Summary struct {
	NodesByLabel        map[string]int
	EdgesByType         map[string]int
	UnresolvedEndpoints map[string]int // relationship type -> skipped edges
	Counters            repository.WriteCounters
	Errors              []error
}

// Loader owns one load run against a graph store.
type Loader struct {
	store     repository.GraphStore
	doc       *schema.Document
	batchSize int

	// ids seen in the node files of this run, per label, used to drop edges
	// whose endpoints will not exist in the graph.
	loadedIDs map[string]map[string]bool
}

func New(store repository.GraphStore, doc *schema.Document) *Loader {
	return &Loader{
		store:     store,
		doc:       doc,
		batchSize: doc.Options.BatchSize,
		loadedIDs: make(map[string]map[string]bool),
	}
}

// LoadDir loads every bulk file under dir. Node files load before
// relationship files regardless of listing order. When the mapping document
// asks for it, the database is cleared first.
func (l *Loader) LoadDir(ctx context.Context, dir string) (*Summary, error) {
	paths, err := bulkcsv.List(dir)
	if err != nil {
		return nil, fmt.Errorf("list bulk files in %s: %w", dir, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no bulk files found in %s", dir)
	}

	var nodeFiles, relFiles []*bulkcsv.File
	for _, p := range paths {
		f, err := bulkcsv.Read(p)
		if err != nil {
			return nil, err
		}
		if f.Kind == bulkcsv.KindNodes {
			nodeFiles = append(nodeFiles, f)
		} else {
			relFiles = append(relFiles, f)
		}
	}

	if l.doc.Options.ClearBeforeLoad {
		if err := l.store.Clear(ctx); err != nil {
			return nil, err
		}
	}

	sum := &Summary{
		NodesByLabel:        make(map[string]int),
		EdgesByType:         make(map[string]int),
		UnresolvedEndpoints: make(map[string]int),
	}

	for _, f := range nodeFiles {
		if err := l.loadNodeFile(ctx, f, sum); err != nil {
			return nil, err
		}
	}
	for _, f := range relFiles {
		if err := l.loadRelFile(ctx, f, sum); err != nil {
			return nil, err
		}
	}

	log.Printf("[Loader] Done: %d nodes created, %d relationships created, %d batch failures",
		sum.Counters.NodesCreated, sum.Counters.RelationshipsCreated, len(sum.Errors))
	return sum, nil
}

func (l *Loader) loadNodeFile(ctx context.Context, f *bulkcsv.File, sum *Summary) error {
	if _, ok := l.doc.Nodes[f.Label]; !ok {
		return fmt.Errorf("%s: label %q is not declared in the mapping document", f.Path, f.Label)
	}
	recs, err := f.NodeRecords()
	if err != nil {
		return err
	}

	if l.loadedIDs[f.Label] == nil {
		l.loadedIDs[f.Label] = make(map[string]bool)
	}

	cypher := fmt.Sprintf(
		"UNWIND $rows AS row\nMERGE (n:`%s` {`%s`: row.id})\nSET n += row.props",
		f.Label, f.IDProperty)

	for batch, start := 0, 0; start < len(recs); batch, start = batch+1, start+l.batchSize {
		end := start + l.batchSize
		if end > len(recs) {
			end = len(recs)
		}

		rows := make([]map[string]any, 0, end-start)
		for _, rec := range recs[start:end] {
			rows = append(rows, map[string]any{"id": rec.ID, "props": rec.Props})
		}

		counters, err := l.store.Run(ctx, cypher, map[string]any{"rows": rows})
		if err != nil {
			batchErr := &BatchLoadError{File: f.Path, Batch: batch, Err: err}
			log.Printf("[Loader] %v", batchErr)
			sum.Errors = append(sum.Errors, batchErr)
			continue
		}
		sum.Counters = sum.Counters.Add(counters)
		sum.NodesByLabel[f.Label] += end - start
		for _, rec := range recs[start:end] {
			l.loadedIDs[f.Label][graph.FormatValue(rec.ID)] = true
		}
	}

	log.Printf("[Loader] %s: %d %s nodes", f.Path, len(recs), f.Label)
	return nil
}

func (l *Loader) loadRelFile(ctx context.Context, f *bulkcsv.File, sum *Summary) error {
	startNode, ok := l.doc.Nodes[f.StartLabel]
	if !ok {
		return fmt.Errorf("%s: start label %q is not declared in the mapping document", f.Path, f.StartLabel)
	}
	endNode, ok := l.doc.Nodes[f.EndLabel]
	if !ok {
		return fmt.Errorf("%s: end label %q is not declared in the mapping document", f.Path, f.EndLabel)
	}

	recs, err := f.EdgeRecords(startNode.IDField.Type, endNode.IDField.Type)
	if err != nil {
		return err
	}

	// Drop edges whose endpoints never made it into a node file; loading
	// them would silently no-op in the MATCH, so count them instead.
	kept := recs[:0]
	for _, rec := range recs {
		if !l.resolved(f.StartLabel, rec.StartID) || !l.resolved(f.EndLabel, rec.EndID) {
			sum.UnresolvedEndpoints[rec.Type]++
			continue
		}
		kept = append(kept, rec)
	}
	if skipped := len(recs) - len(kept); skipped > 0 {
		log.Printf("[Loader] Warning: %s: skipped %d edges with unresolved endpoints", f.Path, skipped)
	}

	byType := groupByType(kept)
	for _, relType := range sortedTypes(byType) {
		typed := byType[relType]
		cypher := fmt.Sprintf(
			"UNWIND $rows AS row\nMATCH (a:`%s` {`%s`: row.start})\nMATCH (b:`%s` {`%s`: row.end})\nMERGE (a)-[r:`%s`]->(b)\nSET r += row.props",
			f.StartLabel, startNode.IDField.TargetProperty,
			f.EndLabel, endNode.IDField.TargetProperty,
			relType)

		for batch, start := 0, 0; start < len(typed); batch, start = batch+1, start+l.batchSize {
			end := start + l.batchSize
			if end > len(typed) {
				end = len(typed)
			}

			rows := make([]map[string]any, 0, end-start)
			for _, rec := range typed[start:end] {
				rows = append(rows, map[string]any{
					"start": rec.StartID,
					"end":   rec.EndID,
					"props": rec.Props,
				})
			}

			counters, err := l.store.Run(ctx, cypher, map[string]any{"rows": rows})
			if err != nil {
				batchErr := &BatchLoadError{File: f.Path, Batch: batch, Err: err}
				log.Printf("[Loader] %v", batchErr)
				sum.Errors = append(sum.Errors, batchErr)
				continue
			}
			sum.Counters = sum.Counters.Add(counters)
			sum.EdgesByType[relType] += end - start
		}
	}

	log.Printf("[Loader] %s: %d edges", f.Path, len(kept))
	return nil
}

func (l *Loader) resolved(label string, id any) bool {
	if id == nil {
		return false
	}
	return l.loadedIDs[label][graph.FormatValue(id)]
}

func groupByType(recs []graph.EdgeRecord) map[string][]graph.EdgeRecord {
	out := make(map[string][]graph.EdgeRecord)
	for _, rec := range recs {
		out[rec.Type] = append(out[rec.Type], rec)
	}
	return out
}

func sortedTypes(m map[string][]graph.EdgeRecord) []string {
	types := make([]string, 0, len(m))
	for t := range m {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
