// Package pipeline orchestrates a run: extract rows from the sources, join
// and map them into record sets, serialize bulk files, and load them into the
// graph. Each stage can also run on its own with the bulk files as the
// contract between invocations.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/graphloom/graphloom/internal/bulkcsv"
	"github.com/graphloom/graphloom/internal/database"
	"github.com/graphloom/graphloom/internal/database/models"
	"github.com/graphloom/graphloom/internal/domain/repository"
	"github.com/graphloom/graphloom/internal/graph"
	"github.com/graphloom/graphloom/internal/join"
	"github.com/graphloom/graphloom/internal/loader"
	"github.com/graphloom/graphloom/internal/mapper"
	"github.com/graphloom/graphloom/internal/schema"
	"github.com/graphloom/graphloom/internal/source"
)

// Pipeline wires the stages of one run together. Source and store may be nil
// when the selected stages do not need them.
type Pipeline struct {
	doc         *schema.Document
	mappingPath string
	outputDir   string

	source repository.SourceClient
	store  repository.GraphStore
	runs   database.RunRepository // nil disables manifest recording
}

type Option func(*Pipeline)

func WithSource(s repository.SourceClient) Option {
	return func(p *Pipeline) { p.source = s }
}

func WithGraphStore(s repository.GraphStore) Option {
	return func(p *Pipeline) { p.store = s }
}

func WithRunRepository(r database.RunRepository) Option {
	return func(p *Pipeline) { p.runs = r }
}

func New(doc *schema.Document, mappingPath, outputDir string, opts ...Option) *Pipeline {
	p := &Pipeline{doc: doc, mappingPath: mappingPath, outputDir: outputDir}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Extract fetches every configured source, concurrently.
func (p *Pipeline) Extract(ctx context.Context) (map[string][]graph.Row, error) {
	if p.source == nil {
		return nil, fmt.Errorf("no source configured: set GL_SOURCE_ENDPOINT or GL_SQLITE_PATH")
	}
	return source.FetchAll(ctx, p.source, p.doc.Sources)
}

// Transform joins the extracted sources, maps them, and serializes the bulk
// files into the output directory, replacing any previous run's files.
func (p *Pipeline) Transform(sources map[string][]graph.Row) (*mapper.Result, []string, error) {
	rows, err := join.Join(sources, p.doc.Join)
	if err != nil {
		return nil, nil, err
	}

	result, err := mapper.Map(rows, p.doc)
	if err != nil {
		return nil, nil, err
	}

	if err := p.resetOutputDir(); err != nil {
		return nil, nil, err
	}

	var files []string
	for label, recs := range result.Nodes {
		paths, err := bulkcsv.WriteNodes(p.outputDir, label, p.doc.Nodes[label], recs, p.doc.Options.SplitThreshold)
		if err != nil {
			return nil, nil, err
		}
		files = append(files, paths...)
	}
	for key, recs := range result.Edges {
		paths, err := bulkcsv.WriteRelationships(p.outputDir, key, p.doc.Relationships[key], recs, p.doc.Options.SplitThreshold)
		if err != nil {
			return nil, nil, err
		}
		files = append(files, paths...)
	}

	log.Printf("[Pipeline] Transform wrote %d bulk files to %s", len(files), p.outputDir)
	return result, files, nil
}

// Load pushes the bulk files in the output directory into the graph store.
func (p *Pipeline) Load(ctx context.Context) (*loader.Summary, error) {
	if p.store == nil {
		return nil, fmt.Errorf("no graph store configured")
	}
	return loader.New(p.store, p.doc).LoadDir(ctx, p.outputDir)
}

// Run executes extract, transform, and load in order, recording a manifest
// when a run repository is configured.
func (p *Pipeline) Run(ctx context.Context) error {
	m := p.startManifest(ctx)

	sources, err := p.Extract(ctx)
	if err != nil {
		m.fail(ctx, models.StageExtract, err)
		return err
	}
	m.stageDone(ctx, models.StageExtract, map[string]any{"sources": len(sources)})

	result, files, err := p.Transform(sources)
	if err != nil {
		m.fail(ctx, models.StageTransform, err)
		return err
	}
	m.stageDone(ctx, models.StageTransform, map[string]any{
		"nodes": result.Summary.NodesByLabel,
		"edges": result.Summary.EdgesByKey,
		"files": len(files),
	})

	sum, err := p.Load(ctx)
	if err != nil {
		m.fail(ctx, models.StageLoad, err)
		return err
	}
	m.stageDone(ctx, models.StageLoad, map[string]any{
		"nodes_created":         sum.Counters.NodesCreated,
		"relationships_created": sum.Counters.RelationshipsCreated,
		"unresolved_endpoints":  sum.UnresolvedEndpoints,
		"batch_failures":        len(sum.Errors),
	})
	m.complete(ctx)

	log.Printf("[Pipeline] Run complete: %d nodes, %d relationships",
		sum.Counters.NodesCreated, sum.Counters.RelationshipsCreated)
	return nil
}

// resetOutputDir removes the previous run's bulk files so stale parts never
// mix with fresh output.
func (p *Pipeline) resetOutputDir() error {
	if err := os.MkdirAll(p.outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir %s: %w", p.outputDir, err)
	}
	stale, err := filepath.Glob(filepath.Join(p.outputDir, "*.csv"))
	if err != nil {
		return err
	}
	for _, f := range stale {
		if err := os.Remove(f); err != nil {
			return fmt.Errorf("remove stale bulk file %s: %w", f, err)
		}
	}
	return nil
}

// manifest tracks one run in the run repository; a nil receiver state makes
// every method a no-op so callers never branch on whether recording is on.
type manifest struct {
	runs    database.RunRepository
	id      int64
	version int
}

func (p *Pipeline) startManifest(ctx context.Context) *manifest {
	if p.runs == nil {
		return &manifest{}
	}
	run := &models.PipelineRun{
		RunID:       uuid.NewString(),
		MappingPath: p.mappingPath,
		Status:      models.RunStatusProcessing,
		Version:     1,
	}
	id, err := p.runs.CreateRun(ctx, run)
	if err != nil {
		log.Printf("[Pipeline] Warning: manifest disabled, create failed: %v", err)
		return &manifest{}
	}
	return &manifest{runs: p.runs, id: id, version: 1}
}

func (m *manifest) stageDone(ctx context.Context, stage models.Stage, meta map[string]any) {
	if m.runs == nil {
		return
	}
	blob, _ := json.Marshal(meta)
	_, err := m.runs.UpsertStage(ctx, &models.RunStage{
		RunID:    m.id,
		Name:     stage,
		Status:   models.RunStatusCompleted,
		Metadata: string(blob),
	})
	if err != nil {
		log.Printf("[Pipeline] Warning: manifest stage update failed: %v", err)
		return
	}
	if err := m.runs.UpdateRunStatus(ctx, m.id, m.version, models.RunStatusProcessing, stage, ""); err != nil {
		log.Printf("[Pipeline] Warning: manifest run update failed: %v", err)
		return
	}
	m.version++
}

func (m *manifest) fail(ctx context.Context, stage models.Stage, cause error) {
	if m.runs == nil {
		return
	}
	_, _ = m.runs.UpsertStage(ctx, &models.RunStage{
		RunID:    m.id,
		Name:     stage,
		Status:   models.RunStatusFailed,
		ErrorLog: cause.Error(),
	})
	if err := m.runs.UpdateRunStatus(ctx, m.id, m.version, models.RunStatusFailed, stage, cause.Error()); err != nil {
		log.Printf("[Pipeline] Warning: manifest run update failed: %v", err)
		return
	}
	m.version++
}

func (m *manifest) complete(ctx context.Context) {
	if m.runs == nil {
		return
	}
	if err := m.runs.UpdateRunStatus(ctx, m.id, m.version, models.RunStatusCompleted, models.StageLoad, ""); err != nil {
		log.Printf("[Pipeline] Warning: manifest run update failed: %v", err)
	}
}
