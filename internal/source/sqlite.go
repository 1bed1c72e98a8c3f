package source

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/graphloom/graphloom/internal/domain/repository"
	"github.com/graphloom/graphloom/internal/graph"
	"github.com/graphloom/graphloom/internal/schema"
)

// SQLiteSource reads source collections from tables of a local SQLite
// extract, for offline runs and fixtures.
type SQLiteSource struct {
	db *bun.DB
}

var _ repository.SourceClient = (*SQLiteSource)(nil)

func NewSQLiteSource(path string) (*SQLiteSource, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite extract %s: %w", path, err)
	}
	return &SQLiteSource{db: bun.NewDB(sqldb, sqlitedialect.New())}, nil
}

// FetchSource reads one table. The configured field list selects columns;
// without one every column comes back.
func (s *SQLiteSource) FetchSource(ctx context.Context, name string, src schema.Source) ([]graph.Row, error) {
	q := s.db.NewSelect().Table(name)
	if len(src.Fields) > 0 {
		q = q.Column(src.Fields...)
	}
	if src.Limit > 0 {
		q = q.Limit(src.Limit)
	}

	var rows []map[string]any
	if err := q.Scan(ctx, &rows); err != nil {
		return nil, fmt.Errorf("source %s: %w", name, err)
	}
	log.Printf("[Source] %s: fetched %d rows from sqlite", name, len(rows))
	return rows, nil
}

func (s *SQLiteSource) Close() error {
	return s.db.Close()
}
