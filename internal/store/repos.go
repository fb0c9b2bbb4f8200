package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/repoqa/repoqa/pkg/models"
)

// UpsertRepo inserts or updates a repository record.
func (s *Store) UpsertRepo(ctx context.Context, r models.Repo) error {
	const q = `
		INSERT INTO repos (id, name, git_url, default_branch, local_path, stars, indexed_at, summary)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			name           = EXCLUDED.name,
			git_url        = EXCLUDED.git_url,
			default_branch = EXCLUDED.default_branch,
			local_path     = EXCLUDED.local_path,
			stars          = EXCLUDED.stars,
			indexed_at     = EXCLUDED.indexed_at,
			summary        = EXCLUDED.summary;`

	_, err := s.pool.Exec(ctx, q,
		r.ID, r.Name, r.GitURL, r.DefaultBranch, r.LocalPath, r.Stars, r.IndexedAt, r.Summary)
	return err
}

// GetRepo returns a repository by id, or models.ErrRepoNotFound.
func (s *Store) GetRepo(ctx context.Context, id string) (models.Repo, error) {
	const q = `
		SELECT id, name, git_url, default_branch, local_path, stars, indexed_at, summary
		FROM repos WHERE id = $1`

	var r models.Repo
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&r.ID, &r.Name, &r.GitURL, &r.DefaultBranch, &r.LocalPath, &r.Stars, &r.IndexedAt, &r.Summary)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Repo{}, models.ErrRepoNotFound
		}
		return models.Repo{}, err
	}
	return r, nil
}

// ListRepos returns all repositories ordered by id.
func (s *Store) ListRepos(ctx context.Context) ([]models.Repo, error) {
	const q = `
		SELECT id, name, git_url, default_branch, local_path, stars, indexed_at, summary
		FROM repos ORDER BY id`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []models.Repo
	for rows.Next() {
		var r models.Repo
		if err := rows.Scan(
			&r.ID, &r.Name, &r.GitURL, &r.DefaultBranch, &r.LocalPath, &r.Stars, &r.IndexedAt, &r.Summary,
		); err != nil {
			return nil, err
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}
