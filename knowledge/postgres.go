package knowledge

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/fabfab/qa-agent/database"
)

type postgresIndex struct {
	pool *pgxpool.Pool
}

// OpenPostgresIndex stores chunks in a pgvector table and ranks by L2
// distance.
func OpenPostgresIndex(ctx context.Context, dsn string, dimension int) (Index, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is empty")
	}
	pool, err := database.NewPostgresPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := database.EnsureChunkSchema(ctx, pool, dimension); err != nil {
		pool.Close()
		return nil, err
	}
	return NewPostgresIndex(pool), nil
}

func NewPostgresIndex(pool *pgxpool.Pool) Index {
	return &postgresIndex{pool: pool}
}

func (p *postgresIndex) Append(ctx context.Context, records []Record) (err error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
		}
	}()

	for _, r := range records {
		if _, err := tx.Exec(ctx, `
			INSERT INTO qa_chunks (id, source_id, content, embedding)
			VALUES ($1, $2, $3, $4)
		`, r.ID, r.Chunk.SourceID, r.Chunk.Text, pgvector.NewVector(r.Embedding)); err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit chunks: %w", err)
	}
	return nil
}

func (p *postgresIndex) Search(ctx context.Context, vector []float32, k int) ([]Chunk, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("embedding is empty")
	}

	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	probes := max(k*10, 10)
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET ivfflat.probes = %d", probes)); err != nil {
		return nil, fmt.Errorf("set ivfflat probes: %w", err)
	}

	rows, err := conn.Query(ctx, `
		SELECT source_id, content
		FROM qa_chunks
		ORDER BY embedding <-> $1::vector, seq
		LIMIT $2
	`, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("query similar chunks: %w", err)
	}
	defer rows.Close()

	results := make([]Chunk, 0, k)
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.SourceID, &c.Text); err != nil {
			return nil, fmt.Errorf("scan similar chunk: %w", err)
		}
		results = append(results, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate similar chunks: %w", err)
	}
	return results, nil
}

func (p *postgresIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM qa_chunks").Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

func (p *postgresIndex) Close() error {
	p.pool.Close()
	return nil
}
