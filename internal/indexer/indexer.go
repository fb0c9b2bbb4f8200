// Package indexer drives the reindex pipeline for a repository:
// materialize, chunk, persist, embed, then regenerate the outline and
// refresh metadata.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/repoqa/repoqa/internal/store"
	"github.com/repoqa/repoqa/pkg/models"
)

// Chunker splits a materialized file tree into chunks.
type Chunker interface {
	ChunkRepo(repoID, root string) ([]models.Chunk, error)
}

// Embedder persists vectors for a chunk set.
type Embedder interface {
	AddChunks(ctx context.Context, chunks []models.Chunk) error
}

// Cloner materializes a repository on disk and reports the local path
// and the branch actually checked out.
type Cloner interface {
	CloneOrUpdate(ctx context.Context, repo models.Repo, branch string) (string, string, error)
}

// OutlineGenerator produces and persists a repository outline.
type OutlineGenerator interface {
	Generate(ctx context.Context, repoID string, chunks []models.Chunk) string
	Save(repoID, outlineMD string) (string, error)
}

// StarFetcher looks up the current star count, falling back to prev
// on failure.
type StarFetcher interface {
	Fetch(ctx context.Context, gitURL string, prev int) int
}

// Indexer runs the pipeline with explicitly injected collaborators.
// Stars may be nil to disable enrichment.
type Indexer struct {
	Repos   store.RepoStore
	Groups  store.GroupStore
	Chunks  store.ChunkStore
	Git     Cloner
	Chunker Chunker
	Embed   Embedder
	Outline OutlineGenerator
	Stars   StarFetcher
}

// Reindex rebuilds a repository's chunk set and embeddings, then
// regenerates its outline and stamps indexed_at. Chunk replacement is
// atomic in the store; a failure before the final upsert leaves the
// repo record's indexed_at untouched.
func (ix *Indexer) Reindex(ctx context.Context, repoID, branch string) error {
	repo, err := ix.Repos.GetRepo(ctx, repoID)
	if err != nil {
		return err
	}

	path, resolvedBranch, err := ix.Git.CloneOrUpdate(ctx, repo, branch)
	if err != nil {
		return fmt.Errorf("materialize %s: %w", repoID, err)
	}

	chunks, err := ix.Chunker.ChunkRepo(repo.ID, path)
	if err != nil {
		return fmt.Errorf("chunk %s: %w", repoID, err)
	}
	log.Info().Str("repo", repoID).Int("chunks", len(chunks)).Msg("chunked repository")

	if err := ix.Chunks.ReplaceChunksForRepo(ctx, repo.ID, chunks); err != nil {
		return fmt.Errorf("replace chunks for %s: %w", repoID, err)
	}
	if err := ix.Embed.AddChunks(ctx, chunks); err != nil {
		return fmt.Errorf("embed chunks for %s: %w", repoID, err)
	}

	// Outline is a non-authoritative artifact: generation degrades
	// internally and a failed save must not fail the reindex.
	md := ix.Outline.Generate(ctx, repo.ID, chunks)
	if _, err := ix.Outline.Save(repo.ID, md); err != nil {
		log.Warn().Err(err).Str("repo", repoID).Msg("outline save failed")
	}

	if ix.Stars != nil {
		repo.Stars = ix.Stars.Fetch(ctx, repo.GitURL, repo.Stars)
	}

	now := time.Now().UTC()
	repo.LocalPath = path
	repo.DefaultBranch = resolvedBranch
	repo.IndexedAt = &now
	if err := ix.Repos.UpsertRepo(ctx, repo); err != nil {
		return fmt.Errorf("update repo %s: %w", repoID, err)
	}
	log.Info().Str("repo", repoID).Str("branch", resolvedBranch).Msg("reindex complete")
	return nil
}

// ReindexGroup reindexes every member of a group. Unknown members are
// skipped (group membership is a soft reference); other member
// failures are collected and do not stop the remaining members. The
// group's indexed_at is stamped when at least one member succeeded.
func (ix *Indexer) ReindexGroup(ctx context.Context, groupID string) error {
	group, err := ix.Groups.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}

	var errs []error
	succeeded := 0
	for _, rid := range group.RepoIDs {
		if err := ix.Reindex(ctx, rid, ""); err != nil {
			if errors.Is(err, models.ErrRepoNotFound) {
				log.Warn().Str("group", groupID).Str("repo", rid).Msg("skipping unknown group member")
				continue
			}
			errs = append(errs, fmt.Errorf("member %s: %w", rid, err))
			continue
		}
		succeeded++
	}

	if succeeded > 0 {
		now := time.Now().UTC()
		group.IndexedAt = &now
		if err := ix.Groups.UpsertGroup(ctx, group); err != nil {
			errs = append(errs, fmt.Errorf("update group %s: %w", groupID, err))
		}
	}
	return errors.Join(errs...)
}
