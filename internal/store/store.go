// Package store persists repositories, groups, chunks, embeddings and
// conversations in Postgres.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/repoqa/repoqa/pkg/models"
)

// Store provides methods to interact with the database.
type Store struct {
	pool *pgxpool.Pool
}

// RepoStore covers repository metadata access.
type RepoStore interface {
	UpsertRepo(ctx context.Context, r models.Repo) error
	GetRepo(ctx context.Context, id string) (models.Repo, error)
	ListRepos(ctx context.Context) ([]models.Repo, error)
}

// GroupStore covers repository group access.
type GroupStore interface {
	UpsertGroup(ctx context.Context, g models.RepoGroup) error
	GetGroup(ctx context.Context, id string) (models.RepoGroup, error)
	ListGroups(ctx context.Context) ([]models.RepoGroup, error)
}

// ChunkStore covers chunk replacement and listing.
type ChunkStore interface {
	ReplaceChunksForRepo(ctx context.Context, repoID string, chunks []models.Chunk) error
	ListChunksForRepo(ctx context.Context, repoID string) ([]models.Chunk, error)
}

// ChunkEmbedding pairs a chunk with its stored vector.
type ChunkEmbedding struct {
	Chunk  models.Chunk
	Vector []float32
}

// EmbeddingStore covers per-(provider, model) vector persistence.
type EmbeddingStore interface {
	UpsertChunkEmbeddings(ctx context.Context, provider, model string, items []ChunkEmbedding) error
	GetChunkEmbeddings(ctx context.Context, repoIDs []string, provider, model string) ([]ChunkEmbedding, error)
}

// ConversationStore covers multi-turn QA session persistence.
type ConversationStore interface {
	EnsureConversation(ctx context.Context, sessionID string, scope models.Scope, targetID string) error
	AppendMessage(ctx context.Context, sessionID string, role models.Role, content string) error
	ConversationHistory(ctx context.Context, sessionID string, limit int) ([]models.Message, error)
}

// New creates a new Store instance connected to the given database URL.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Ping checks the database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Migrate applies the schema. dim is the embedding dimensionality of
// the configured provider/model.
func (s *Store) Migrate(ctx context.Context, dim int) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS repos (
  id             TEXT PRIMARY KEY,
  name           TEXT NOT NULL,
  git_url        TEXT NOT NULL,
  default_branch TEXT NOT NULL DEFAULT 'main',
  local_path     TEXT NOT NULL DEFAULT '',
  stars          INT NOT NULL DEFAULT 0,
  indexed_at     TIMESTAMP WITH TIME ZONE,
  summary        TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS repo_groups (
  id          TEXT PRIMARY KEY,
  name        TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  repo_ids    TEXT[] NOT NULL DEFAULT '{}',
  indexed_at  TIMESTAMP WITH TIME ZONE
);

CREATE TABLE IF NOT EXISTS chunks (
  id          TEXT PRIMARY KEY,
  repo_id     TEXT NOT NULL,
  path        TEXT NOT NULL,
  symbol      TEXT NOT NULL DEFAULT '',
  symbol_kind TEXT NOT NULL DEFAULT '',
  start_line  INT NOT NULL,
  end_line    INT NOT NULL,
  content     TEXT NOT NULL,
  summary     TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS chunks_repo_idx ON chunks (repo_id);

CREATE TABLE IF NOT EXISTS chunk_embeddings (
  chunk_id  TEXT NOT NULL,
  repo_id   TEXT NOT NULL,
  provider  TEXT NOT NULL,
  model     TEXT NOT NULL,
  embedding vector(%d) NOT NULL,
  PRIMARY KEY (chunk_id, provider, model)
);

CREATE INDEX IF NOT EXISTS chunk_embeddings_repo_idx
  ON chunk_embeddings (repo_id, provider, model);

CREATE TABLE IF NOT EXISTS conversations (
  id         TEXT PRIMARY KEY,
  scope      TEXT NOT NULL,
  target_id  TEXT NOT NULL,
  created_at TIMESTAMP WITH TIME ZONE DEFAULT now(),
  updated_at TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE TABLE IF NOT EXISTS conversation_messages (
  id              BIGSERIAL PRIMARY KEY,
  conversation_id TEXT NOT NULL,
  role            TEXT NOT NULL,
  content         TEXT NOT NULL,
  created_at      TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE INDEX IF NOT EXISTS conversation_messages_conv_idx
  ON conversation_messages (conversation_id, id);
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(q, dim))
	return err
}
