package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/repoqa/repoqa/pkg/models"
)

// UpsertGroup inserts or updates a repository group. Member ids are
// soft references and are not validated against the repos table.
func (s *Store) UpsertGroup(ctx context.Context, g models.RepoGroup) error {
	const q = `
		INSERT INTO repo_groups (id, name, description, repo_ids, indexed_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET
			name        = EXCLUDED.name,
			description = EXCLUDED.description,
			repo_ids    = EXCLUDED.repo_ids,
			indexed_at  = EXCLUDED.indexed_at;`

	repoIDs := g.RepoIDs
	if repoIDs == nil {
		repoIDs = []string{}
	}
	_, err := s.pool.Exec(ctx, q, g.ID, g.Name, g.Description, repoIDs, g.IndexedAt)
	return err
}

// GetGroup returns a repository group by id, or models.ErrGroupNotFound.
func (s *Store) GetGroup(ctx context.Context, id string) (models.RepoGroup, error) {
	const q = `
		SELECT id, name, description, repo_ids, indexed_at
		FROM repo_groups WHERE id = $1`

	var g models.RepoGroup
	err := s.pool.QueryRow(ctx, q, id).Scan(&g.ID, &g.Name, &g.Description, &g.RepoIDs, &g.IndexedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.RepoGroup{}, models.ErrGroupNotFound
		}
		return models.RepoGroup{}, err
	}
	return g, nil
}

// ListGroups returns all repository groups ordered by id.
func (s *Store) ListGroups(ctx context.Context) ([]models.RepoGroup, error) {
	const q = `
		SELECT id, name, description, repo_ids, indexed_at
		FROM repo_groups ORDER BY id`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []models.RepoGroup
	for rows.Next() {
		var g models.RepoGroup
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.RepoIDs, &g.IndexedAt); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}
