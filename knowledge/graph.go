package knowledge

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// GraphMirror records which chunks came from which source in Neo4j. It is a
// write-only side view of the store; retrieval never reads it.
type GraphMirror struct {
	driver neo4j.DriverWithContext
}

func NewGraphMirror(driver neo4j.DriverWithContext) *GraphMirror {
	return &GraphMirror{driver: driver}
}

// SyncSource upserts a Source node and attaches one Chunk node per id. ids and
// chunks are parallel slices, as returned by Store.Add.
func (g *GraphMirror) SyncSource(ctx context.Context, sourceID string, ids []string, chunks []Chunk) error {
	if g == nil || g.driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}
	if len(ids) != len(chunks) {
		return fmt.Errorf("mirror got %d ids for %d chunks", len(ids), len(chunks))
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (s:Source {id: $source_id})
			ON CREATE SET s.created_at = datetime()
			SET s.updated_at = datetime()
		`, map[string]any{"source_id": sourceID}); err != nil {
			return nil, fmt.Errorf("upsert source node: %w", err)
		}

		for i, chunk := range chunks {
			if _, err := tx.Run(ctx, `
				MATCH (s:Source {id: $source_id})
				MERGE (c:Chunk {id: $chunk_id})
				SET c.text = $chunk_text,
				    c.position = $position
				MERGE (s)-[:HAS_CHUNK {order: $position}]->(c)
			`, map[string]any{
				"source_id":  sourceID,
				"chunk_id":   ids[i],
				"chunk_text": chunk.Text,
				"position":   i,
			}); err != nil {
				return nil, fmt.Errorf("upsert chunk node: %w", err)
			}
		}
		return nil, nil
	})
	return err
}

func (g *GraphMirror) Close(ctx context.Context) error {
	if g == nil || g.driver == nil {
		return nil
	}
	return g.driver.Close(ctx)
}
