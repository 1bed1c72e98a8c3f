// Package neo4j wraps the official driver behind the small surface the
// loader needs: batched write queries, database clearing, and stats.
package neo4j

import (
	"context"
	"fmt"
	"log"

	"github.com/neo4j/neo4j-go-driver/v6/neo4j"

	"github.com/graphloom/graphloom/internal/domain/repository"
)

// Client implements the repository.GraphStore interface using the official
// Neo4j Go driver.
type Client struct {
	driver   neo4j.Driver
	database string
}

var _ repository.GraphStore = (*Client)(nil)

// NewClient creates a Neo4j client and verifies connectivity before
// returning, so a bad URI or credentials fail at startup rather than on the
// first batch.
func NewClient(ctx context.Context, uri, user, password, database string) (*Client, error) {
	driver, err := neo4j.NewDriver(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver for %s: %w", uri, err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		if closeErr := driver.Close(ctx); closeErr != nil {
			log.Printf("[Neo4j] Warning: failed to close driver after connectivity check: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to verify Neo4j connectivity at %s: %w", uri, err)
	}

	log.Printf("[Neo4j] Connected to %s as %s", uri, user)
	return &Client{driver: driver, database: database}, nil
}

// Run executes one write query and returns its counters.
func (c *Client) Run(ctx context.Context, cypher string, params map[string]any) (repository.WriteCounters, error) {
	result, err := neo4j.ExecuteQuery(ctx, c.driver, cypher, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(c.database),
	)
	if err != nil {
		return repository.WriteCounters{}, fmt.Errorf("neo4j query failed: %w", err)
	}

	counters := result.Summary.Counters()
	return repository.WriteCounters{
		NodesCreated:         counters.NodesCreated(),
		RelationshipsCreated: counters.RelationshipsCreated(),
		PropertiesSet:        counters.PropertiesSet(),
	}, nil
}

// Clear removes every node and relationship in the database.
func (c *Client) Clear(ctx context.Context) error {
	_, err := neo4j.ExecuteQuery(ctx, c.driver, `MATCH (n) DETACH DELETE n`, nil,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(c.database),
	)
	if err != nil {
		return fmt.Errorf("neo4j clear failed: %w", err)
	}
	log.Printf("[Neo4j] Cleared database")
	return nil
}

// Stats counts nodes and relationships grouped by label and type.
func (c *Client) Stats(ctx context.Context) (*repository.GraphStats, error) {
	stats := &repository.GraphStats{
		Labels:            make(map[string]int64),
		RelationshipTypes: make(map[string]int64),
	}

	result, err := neo4j.ExecuteQuery(ctx, c.driver,
		`MATCH (n) UNWIND labels(n) AS label RETURN label, count(*) AS cnt ORDER BY label`,
		nil, neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(c.database))
	if err != nil {
		return nil, fmt.Errorf("neo4j label stats failed: %w", err)
	}
	for _, record := range result.Records {
		label, _, _ := neo4j.GetRecordValue[string](record, "label")
		cnt, _, _ := neo4j.GetRecordValue[int64](record, "cnt")
		stats.Labels[label] = cnt
		stats.Nodes += cnt
	}

	result, err = neo4j.ExecuteQuery(ctx, c.driver,
		`MATCH ()-[r]->() RETURN type(r) AS rel_type, count(*) AS cnt ORDER BY rel_type`,
		nil, neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(c.database))
	if err != nil {
		return nil, fmt.Errorf("neo4j relationship stats failed: %w", err)
	}
	for _, record := range result.Records {
		relType, _, _ := neo4j.GetRecordValue[string](record, "rel_type")
		cnt, _, _ := neo4j.GetRecordValue[int64](record, "cnt")
		stats.RelationshipTypes[relType] = cnt
		stats.Relationships += cnt
	}

	return stats, nil
}

// Close closes the underlying driver.
func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}
