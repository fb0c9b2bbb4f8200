// Package mcptools exposes repository QA over the Model Context
// Protocol so LLM agents can list repos and ask questions as tools.
package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/repoqa/repoqa/internal/qa"
	"github.com/repoqa/repoqa/internal/store"
	"github.com/repoqa/repoqa/pkg/models"
)

// QATools holds references needed by the QA tool handlers.
type QATools struct {
	QA     *qa.Service
	Repos  store.RepoStore
	Groups store.GroupStore
}

// NewServer builds an MCP server with all tools registered.
func NewServer(t *QATools, version string) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "repoqa",
		Version: version,
	}, nil)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_repos",
		Description: "List all indexed repositories with their metadata",
	}, t.ListRepos)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_repo_groups",
		Description: "List all repository groups and their member repositories",
	}, t.ListRepoGroups)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "ask_repo",
		Description: "Ask a natural-language question about a single repository; returns an answer with code references",
	}, t.AskRepo)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "ask_repo_group",
		Description: "Ask a natural-language question across all repositories in a group; returns an answer with code references",
	}, t.AskRepoGroup)

	return srv
}

// --- Input types ---

type AskRepoInput struct {
	RepoID      string `json:"repo_id" jsonschema:"Id of the repository to ask about"`
	Question    string `json:"question" jsonschema:"The natural-language question"`
	TopK        int    `json:"top_k,omitempty" jsonschema:"How many chunks to retrieve (default 10)"`
	SessionID   string `json:"session_id,omitempty" jsonschema:"Opaque session id for multi-turn conversations"`
	LinkHistory *bool  `json:"link_history,omitempty" jsonschema:"Whether to load and extend the session's conversation history (defaults to true when session_id is set)"`
}

type AskRepoGroupInput struct {
	GroupID     string `json:"group_id" jsonschema:"Id of the repository group to ask about"`
	Question    string `json:"question" jsonschema:"The natural-language question"`
	TopKPerRepo int    `json:"top_k_per_repo,omitempty" jsonschema:"How many chunks to retrieve per member repository (default 5)"`
	SessionID   string `json:"session_id,omitempty" jsonschema:"Opaque session id for multi-turn conversations"`
	LinkHistory *bool  `json:"link_history,omitempty" jsonschema:"Whether to load and extend the session's conversation history (defaults to true when session_id is set)"`
}

// linkHistory resolves the optional flag: a supplied session id links
// the conversation unless the caller explicitly opts out.
func linkHistory(sessionID string, flag *bool) bool {
	if flag != nil {
		return *flag
	}
	return sessionID != ""
}

type answerPayload struct {
	AnswerText string             `json:"answer_text"`
	References []models.Reference `json:"references"`
	SessionID  string             `json:"session_id,omitempty"`
}

// --- Handlers ---

func (t *QATools) ListRepos(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	repos, err := t.Repos.ListRepos(ctx)
	if err != nil {
		return toolError("Failed to list repositories: %v", err), nil, nil
	}
	if repos == nil {
		repos = []models.Repo{}
	}
	return toolJSON(repos)
}

func (t *QATools) ListRepoGroups(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	groups, err := t.Groups.ListGroups(ctx)
	if err != nil {
		return toolError("Failed to list repository groups: %v", err), nil, nil
	}
	if groups == nil {
		groups = []models.RepoGroup{}
	}
	return toolJSON(groups)
}

func (t *QATools) AskRepo(ctx context.Context, _ *mcp.CallToolRequest, input AskRepoInput) (*mcp.CallToolResult, any, error) {
	if input.RepoID == "" || input.Question == "" {
		return toolError("repo_id and question are required"), nil, nil
	}

	answer, err := t.QA.AskRepo(ctx, input.RepoID, qa.Ask{
		Question:    input.Question,
		TopK:        input.TopK,
		SessionID:   input.SessionID,
		LinkHistory: linkHistory(input.SessionID, input.LinkHistory),
	})
	if err != nil {
		if errors.Is(err, models.ErrRepoNotFound) {
			return toolError("Unknown repository: %s", input.RepoID), nil, nil
		}
		return toolError("QA failed: %v", err), nil, nil
	}
	return toolJSON(answerPayload{
		AnswerText: answer.Text,
		References: answer.References,
		SessionID:  input.SessionID,
	})
}

func (t *QATools) AskRepoGroup(ctx context.Context, _ *mcp.CallToolRequest, input AskRepoGroupInput) (*mcp.CallToolResult, any, error) {
	if input.GroupID == "" || input.Question == "" {
		return toolError("group_id and question are required"), nil, nil
	}

	answer, err := t.QA.AskGroup(ctx, input.GroupID, qa.Ask{
		Question:    input.Question,
		TopK:        input.TopKPerRepo,
		SessionID:   input.SessionID,
		LinkHistory: linkHistory(input.SessionID, input.LinkHistory),
	})
	if err != nil {
		if errors.Is(err, models.ErrGroupNotFound) {
			return toolError("Unknown repository group: %s", input.GroupID), nil, nil
		}
		return toolError("QA failed: %v", err), nil, nil
	}
	return toolJSON(answerPayload{
		AnswerText: answer.Text,
		References: answer.References,
		SessionID:  input.SessionID,
	})
}

func toolError(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

func toolJSON(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError("Failed to marshal result: %v", err), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}
