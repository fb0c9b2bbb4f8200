package models

import (
	"errors"
	"time"
)

// SymbolKind tags the syntactic role of a chunk when symbol-level
// splitting was possible.
type SymbolKind string

const (
	SymbolNone     SymbolKind = ""
	SymbolFunction SymbolKind = "function"
	SymbolClass    SymbolKind = "class"
)

// Chunk is a retrievable unit of text from an indexed repository.
// StartLine/EndLine are 1-based and inclusive.
type Chunk struct {
	ID         string     `json:"id"`
	RepoID     string     `json:"repo_id"`
	Path       string     `json:"path"`
	Symbol     string     `json:"symbol,omitempty"`
	SymbolKind SymbolKind `json:"symbol_kind,omitempty"`
	StartLine  int        `json:"start_line"`
	EndLine    int        `json:"end_line"`
	Content    string     `json:"content"`
	Summary    string     `json:"summary"`
}

// SearchResult pairs a chunk with its similarity score for one query.
type SearchResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// Repo is an indexing target.
type Repo struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	GitURL        string     `json:"git_url"`
	DefaultBranch string     `json:"default_branch"`
	LocalPath     string     `json:"local_path,omitempty"`
	Stars         int        `json:"stars"`
	IndexedAt     *time.Time `json:"indexed_at,omitempty"`
	Summary       string     `json:"summary,omitempty"`
}

// RepoGroup is a named set of repository ids for cross-repo questions.
// Member ids are soft references: a missing member yields zero chunks
// during retrieval, not an error.
type RepoGroup struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	RepoIDs     []string   `json:"repo_ids"`
	IndexedAt   *time.Time `json:"indexed_at,omitempty"`
}

// Scope identifies what a conversation is about.
type Scope string

const (
	ScopeRepo  Scope = "repo"
	ScopeGroup Scope = "group"
)

// Role of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one turn inside a conversation. Messages are append-only
// and strictly ordered by insertion.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Reference points back at a chunk that contributed to an answer.
type Reference struct {
	RepoID    string  `json:"repo_id"`
	FilePath  string  `json:"file_path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float64 `json:"score"`
}

// Answer is the result of one QA call.
type Answer struct {
	Text       string      `json:"answer_text"`
	References []Reference `json:"references"`
}

var (
	// ErrRepoNotFound reports a repository id that was never created,
	// as opposed to one that exists but has nothing indexed.
	ErrRepoNotFound = errors.New("repository not found")

	// ErrGroupNotFound reports an unknown repository group id.
	ErrGroupNotFound = errors.New("repository group not found")
)
