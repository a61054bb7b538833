package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/fabfab/qa-agent/database"
)

type sqliteIndex struct {
	db *sql.DB
}

// OpenSQLiteIndex opens the on-disk index in dir, creating it when absent.
// Similarity is cosine, computed over every stored vector.
func OpenSQLiteIndex(ctx context.Context, dir string) (Index, error) {
	db, err := database.OpenSQLite(ctx, dir)
	if err != nil {
		return nil, err
	}
	if err := database.EnsureSQLiteSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &sqliteIndex{db: db}, nil
}

func (s *sqliteIndex) Append(ctx context.Context, records []Record) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, source_id, content, embedding)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		blob, err := json.Marshal(r.Embedding)
		if err != nil {
			return fmt.Errorf("encode embedding: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.Chunk.SourceID, r.Chunk.Text, blob); err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunks: %w", err)
	}
	return nil
}

func (s *sqliteIndex) Search(ctx context.Context, vector []float32, k int) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, content, embedding
		FROM chunks
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var scored []scoredChunk
	for rows.Next() {
		var (
			c    Chunk
			blob []byte
			emb  []float32
		)
		if err := rows.Scan(&c.SourceID, &c.Text, &blob); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if err := json.Unmarshal(blob, &emb); err != nil {
			return nil, fmt.Errorf("decode embedding: %w", err)
		}
		scored = append(scored, scoredChunk{chunk: c, score: cosineSimilarity(vector, emb)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	return topK(scored, k), nil
}

func (s *sqliteIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

func (s *sqliteIndex) Close() error {
	return s.db.Close()
}
