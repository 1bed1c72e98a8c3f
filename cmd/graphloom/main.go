package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/graphloom/graphloom/internal/config"
	"github.com/graphloom/graphloom/internal/database/bunstore"
	"github.com/graphloom/graphloom/internal/database/models"
	"github.com/graphloom/graphloom/internal/domain/repository"
	"github.com/graphloom/graphloom/internal/neo4j"
	"github.com/graphloom/graphloom/internal/pipeline"
	"github.com/graphloom/graphloom/internal/schema"
	"github.com/graphloom/graphloom/internal/source"
)

type rootOptions struct {
	mappingPath string
	outputDir   string
	limit       int
	clearDB     bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatalf("graphloom: %v", err)
	}
}

func newRootCmd() *cobra.Command {
	var opts rootOptions

	cmd := &cobra.Command{
		Use:           "graphloom",
		Short:         "Schema-driven relational to property-graph loader",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.mappingPath, "mapping", "", "Path to the mapping document (required)")
	cmd.PersistentFlags().StringVar(&opts.outputDir, "output", "", "Output directory for bulk CSV files (overrides GL_OUTPUT_DIR)")

	cmd.AddCommand(
		newRunCmd(&opts),
		newExtractCmd(&opts),
		newTransformCmd(&opts),
		newLoadCmd(&opts),
		newValidateCmd(&opts),
		newStatsCmd(),
		newRunsCmd(),
	)
	return cmd
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline: extract, transform, load",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, cleanup, err := buildEnv(ctx, opts, needSource|needStore)
			if err != nil {
				return err
			}
			defer cleanup(ctx)
			return env.pipe.Run(ctx)
		},
	}
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "Cap rows fetched per source (overrides the mapping document)")
	cmd.Flags().BoolVar(&opts.clearDB, "clear-database", false, "Detach-delete the whole graph before loading")
	return cmd
}

func newExtractCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Fetch all configured sources and report row counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, cleanup, err := buildEnv(ctx, opts, needSource)
			if err != nil {
				return err
			}
			defer cleanup(ctx)

			rows, err := env.pipe.Extract(ctx)
			if err != nil {
				return err
			}
			counts := make(map[string]int, len(rows))
			for name, rs := range rows {
				counts[name] = len(rs)
			}
			return printJSON(cmd, counts)
		},
	}
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "Cap rows fetched per source (overrides the mapping document)")
	return cmd
}

func newTransformCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transform",
		Short: "Extract sources and write bulk CSV files without loading",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, cleanup, err := buildEnv(ctx, opts, needSource)
			if err != nil {
				return err
			}
			defer cleanup(ctx)

			rows, err := env.pipe.Extract(ctx)
			if err != nil {
				return err
			}
			result, files, err := env.pipe.Transform(rows)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"nodes": result.Summary.NodesByLabel,
				"edges": result.Summary.EdgesByKey,
				"files": files,
			})
		},
	}
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "Cap rows fetched per source (overrides the mapping document)")
	return cmd
}

func newLoadCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load previously written bulk CSV files into the graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, cleanup, err := buildEnv(ctx, opts, needStore)
			if err != nil {
				return err
			}
			defer cleanup(ctx)

			summary, err := env.pipe.Load(ctx)
			if err != nil {
				return err
			}
			if len(summary.Errors) > 0 {
				for _, e := range summary.Errors {
					log.Printf("[Loader] %v", e)
				}
			}
			out := map[string]any{
				"nodes":                 summary.NodesByLabel,
				"edges":                 summary.EdgesByType,
				"unresolved_endpoints":  summary.UnresolvedEndpoints,
				"nodes_created":         summary.Counters.NodesCreated,
				"relationships_created": summary.Counters.RelationshipsCreated,
				"properties_set":        summary.Counters.PropertiesSet,
				"batch_failures":        len(summary.Errors),
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().BoolVar(&opts.clearDB, "clear-database", false, "Detach-delete the whole graph before loading")
	return cmd
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Parse and validate the mapping document",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := loadMapping(opts)
			if err != nil {
				return err
			}
			labels := make([]string, 0, len(doc.Nodes))
			for label := range doc.Nodes {
				labels = append(labels, label)
			}
			sort.Strings(labels)
			rels := make([]string, 0, len(doc.Relationships))
			for key := range doc.Relationships {
				rels = append(rels, key)
			}
			sort.Strings(rels)
			return printJSON(cmd, map[string]any{
				"status":        "valid",
				"sources":       len(doc.Sources),
				"nodes":         labels,
				"relationships": rels,
			})
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Report node and relationship counts from the graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			store, err := neo4j.NewClient(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, cfg.Neo4jDatabase)
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(ctx); err != nil {
					log.Printf("[Neo4j] close: %v", err)
				}
			}()

			stats, err := store.Stats(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, stats)
		},
	}
}

func newRunsCmd() *cobra.Command {
	var runID int64
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show a recorded pipeline run and its stages",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.ManifestPath == "" {
				return fmt.Errorf("no manifest database configured: set GL_MANIFEST_PATH")
			}
			sqldb, err := sql.Open(sqliteshim.ShimName, cfg.ManifestPath)
			if err != nil {
				return fmt.Errorf("open manifest database: %w", err)
			}
			defer sqldb.Close()
			store, err := bunstore.NewBunStore(sqldb, sqlitedialect.New())
			if err != nil {
				return fmt.Errorf("init manifest database: %w", err)
			}

			var run *models.PipelineRun
			if runID > 0 {
				run, err = store.GetRunByID(ctx, runID)
			} else {
				run, err = store.GetLatestRun(ctx)
			}
			if err != nil {
				return err
			}
			stages, err := store.GetRunStages(ctx, run.ID)
			if err != nil {
				return err
			}

			out := map[string]any{
				"run_id":     run.RunID,
				"mapping":    run.MappingPath,
				"status":     run.Status.String(),
				"stage":      run.CurrentStage.String(),
				"created_at": run.CreatedAt,
				"updated_at": run.UpdatedAt,
			}
			if run.ErrorMessage != "" {
				out["error"] = run.ErrorMessage
			}
			list := make([]map[string]any, 0, len(stages))
			for _, s := range stages {
				entry := map[string]any{
					"name":   s.Name.String(),
					"status": s.Status.String(),
				}
				if s.Metadata != "" {
					entry["metadata"] = json.RawMessage(s.Metadata)
				}
				if s.ErrorLog != "" {
					entry["error"] = s.ErrorLog
				}
				list = append(list, entry)
			}
			out["stages"] = list
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().Int64Var(&runID, "id", 0, "Show a specific run instead of the latest")
	return cmd
}

type needs int

const (
	needSource needs = 1 << iota
	needStore
)

type runtimeEnv struct {
	pipe *pipeline.Pipeline
}

type cleanupFunc func(ctx context.Context)

// buildEnv loads config and the mapping document, then assembles the
// pipeline with only the collaborators the command asked for.
func buildEnv(ctx context.Context, opts *rootOptions, want needs) (*runtimeEnv, cleanupFunc, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	doc, err := loadMapping(opts)
	if err != nil {
		return nil, nil, err
	}
	if opts.limit > 0 {
		for name, src := range doc.Sources {
			src.Limit = opts.limit
			doc.Sources[name] = src
		}
	}
	if opts.clearDB {
		doc.Options.ClearBeforeLoad = true
	}
	outputDir := cfg.OutputDir
	if opts.outputDir != "" {
		outputDir = opts.outputDir
	}

	var pipeOpts []pipeline.Option
	var closers []cleanupFunc

	if want&needSource != 0 {
		src, closer, err := buildSource(cfg)
		if err != nil {
			return nil, nil, err
		}
		pipeOpts = append(pipeOpts, pipeline.WithSource(src))
		if closer != nil {
			closers = append(closers, closer)
		}
	}

	if want&needStore != 0 {
		store, err := neo4j.NewClient(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, cfg.Neo4jDatabase)
		if err != nil {
			return nil, nil, err
		}
		pipeOpts = append(pipeOpts, pipeline.WithGraphStore(store))
		closers = append(closers, func(ctx context.Context) {
			if err := store.Close(ctx); err != nil {
				log.Printf("[Neo4j] close: %v", err)
			}
		})
	}

	if cfg.ManifestPath != "" {
		sqldb, err := sql.Open(sqliteshim.ShimName, cfg.ManifestPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open manifest database: %w", err)
		}
		runs, err := bunstore.NewBunStore(sqldb, sqlitedialect.New())
		if err != nil {
			sqldb.Close()
			return nil, nil, fmt.Errorf("init manifest database: %w", err)
		}
		pipeOpts = append(pipeOpts, pipeline.WithRunRepository(runs))
		closers = append(closers, func(ctx context.Context) {
			if err := sqldb.Close(); err != nil {
				log.Printf("[Pipeline] close manifest database: %v", err)
			}
		})
	}

	cleanup := func(ctx context.Context) {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i](ctx)
		}
	}
	env := &runtimeEnv{pipe: pipeline.New(doc, opts.mappingPath, outputDir, pipeOpts...)}
	return env, cleanup, nil
}

// buildSource picks the extractor from the environment. A GraphQL
// endpoint takes precedence over the SQLite path when both are set.
func buildSource(cfg *config.Config) (repository.SourceClient, cleanupFunc, error) {
	switch {
	case cfg.SourceEndpoint != "":
		return source.NewGraphQLClient(cfg.SourceEndpoint, cfg.SourceSecret, cfg.SourceRole), nil, nil
	case cfg.SQLitePath != "":
		src, err := source.NewSQLiteSource(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		closer := func(ctx context.Context) {
			if err := src.Close(); err != nil {
				log.Printf("[Source] close: %v", err)
			}
		}
		return src, closer, nil
	default:
		return nil, nil, fmt.Errorf("no source configured: set GL_SOURCE_ENDPOINT or GL_SQLITE_PATH")
	}
}

func loadMapping(opts *rootOptions) (*schema.Document, error) {
	if opts.mappingPath == "" {
		return nil, fmt.Errorf("--mapping is required")
	}
	if _, err := os.Stat(opts.mappingPath); err != nil {
		return nil, fmt.Errorf("mapping document: %w", err)
	}
	return schema.Load(opts.mappingPath)
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}
