package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/repoqa/repoqa/pkg/models"
)

// ReplaceChunksForRepo atomically replaces the repository's chunk set:
// delete-then-insert inside one transaction, so no reader observes a
// partially replaced set. The repository's stored embeddings are
// dropped in the same transaction; they are logically invalid the
// moment their chunks are gone.
func (s *Store) ReplaceChunksForRepo(ctx context.Context, repoID string, chunks []models.Chunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chunk_embeddings WHERE repo_id = $1`, repoID); err != nil {
		return fmt.Errorf("delete embeddings: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE repo_id = $1`, repoID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}

	if len(chunks) > 0 {
		rows := make([][]any, 0, len(chunks))
		for _, c := range chunks {
			rows = append(rows, []any{
				c.ID, c.RepoID, c.Path, c.Symbol, string(c.SymbolKind),
				c.StartLine, c.EndLine, c.Content, c.Summary,
			})
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"chunks"},
			[]string{"id", "repo_id", "path", "symbol", "symbol_kind", "start_line", "end_line", "content", "summary"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("insert chunks: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// ListChunksForRepo returns all chunks for a repository ordered by
// path and start line.
func (s *Store) ListChunksForRepo(ctx context.Context, repoID string) ([]models.Chunk, error) {
	const q = `
		SELECT id, repo_id, path, symbol, symbol_kind, start_line, end_line, content, summary
		FROM chunks WHERE repo_id = $1
		ORDER BY path, start_line`

	rows, err := s.pool.Query(ctx, q, repoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func scanChunk(row pgx.Row) (models.Chunk, error) {
	var c models.Chunk
	var kind string
	err := row.Scan(&c.ID, &c.RepoID, &c.Path, &c.Symbol, &kind,
		&c.StartLine, &c.EndLine, &c.Content, &c.Summary)
	if err != nil {
		return models.Chunk{}, err
	}
	c.SymbolKind = models.SymbolKind(kind)
	return c, nil
}
