package repository

import (
	"context"

	"github.com/graphloom/graphloom/internal/graph"
	"github.com/graphloom/graphloom/internal/schema"
)

// SourceClient fetches the rows of one named source collection with the
// configured field list. Implementations exist for GraphQL endpoints and for
// local SQLite extracts.
type SourceClient interface {
	FetchSource(ctx context.Context, name string, src schema.Source) ([]graph.Row, error)
}
