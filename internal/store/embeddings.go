package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/repoqa/repoqa/pkg/models"
)

// UpsertChunkEmbeddings inserts or overwrites one embedding per chunk
// under the (provider, model) pair. At most one embedding exists per
// (chunk, provider, model) triple.
func (s *Store) UpsertChunkEmbeddings(ctx context.Context, provider, model string, items []ChunkEmbedding) error {
	if len(items) == 0 {
		return nil
	}

	const q = `
		INSERT INTO chunk_embeddings (chunk_id, repo_id, provider, model, embedding)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (chunk_id, provider, model) DO UPDATE SET
			repo_id   = EXCLUDED.repo_id,
			embedding = EXCLUDED.embedding;`

	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(q, item.Chunk.ID, item.Chunk.RepoID, provider, model, pgvector.NewVector(item.Vector))
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

// GetChunkEmbeddings returns (chunk, vector) pairs for the given
// repositories under the (provider, model) pair. Unknown repository
// ids simply contribute no rows.
func (s *Store) GetChunkEmbeddings(ctx context.Context, repoIDs []string, provider, model string) ([]ChunkEmbedding, error) {
	if len(repoIDs) == 0 {
		return nil, nil
	}

	const q = `
		SELECT c.id, c.repo_id, c.path, c.symbol, c.symbol_kind,
		       c.start_line, c.end_line, c.content, c.summary,
		       ce.embedding
		FROM chunk_embeddings ce
		JOIN chunks c ON c.id = ce.chunk_id
		WHERE ce.provider = $1 AND ce.model = $2 AND ce.repo_id = ANY($3)
		ORDER BY c.repo_id, c.path, c.start_line`

	rows, err := s.pool.Query(ctx, q, provider, model, repoIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChunkEmbedding
	for rows.Next() {
		var c models.Chunk
		var kind string
		var vec pgvector.Vector
		if err := rows.Scan(&c.ID, &c.RepoID, &c.Path, &c.Symbol, &kind,
			&c.StartLine, &c.EndLine, &c.Content, &c.Summary, &vec); err != nil {
			return nil, err
		}
		c.SymbolKind = models.SymbolKind(kind)
		out = append(out, ChunkEmbedding{Chunk: c, Vector: vec.Slice()})
	}
	return out, rows.Err()
}
