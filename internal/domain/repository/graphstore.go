package repository

import "context"

// WriteCounters summarizes the write effects of one graph query.
type WriteCounters struct {
	NodesCreated         int
	RelationshipsCreated int
	PropertiesSet        int
}

func (c WriteCounters) Add(o WriteCounters) WriteCounters {
	return WriteCounters{
		NodesCreated:         c.NodesCreated + o.NodesCreated,
		RelationshipsCreated: c.RelationshipsCreated + o.RelationshipsCreated,
		PropertiesSet:        c.PropertiesSet + o.PropertiesSet,
	}
}

// GraphStats describes the current contents of the graph database.
type GraphStats struct {
	Nodes             int64            `json:"nodes"`
	Relationships     int64            `json:"relationships"`
	Labels            map[string]int64 `json:"labels"`
	RelationshipTypes map[string]int64 `json:"relationship_types"`
}

// GraphStore is the write surface of the target graph database. The loader
// depends on this interface; the production implementation lives in
// internal/neo4j.
type GraphStore interface {
	Run(ctx context.Context, cypher string, params map[string]any) (WriteCounters, error)
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (*GraphStats, error)
	Close(ctx context.Context) error
}
