// Package qa answers natural-language questions about a repository or
// a repository group by retrieving relevant chunks and prompting a
// chat model, with optional multi-turn conversation continuity.
package qa

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/repoqa/repoqa/internal/ai"
	"github.com/repoqa/repoqa/internal/store"
	"github.com/repoqa/repoqa/pkg/models"
)

const (
	defaultTopKRepo  = 10
	defaultTopKGroup = 5
)

// Retriever performs similarity search over embedded chunks.
type Retriever interface {
	Search(ctx context.Context, repoIDs []string, query string, topK int) ([]models.SearchResult, error)
}

// Options tunes prompt construction and history windows.
type Options struct {
	AnswerLang   string
	ContextChars int
	HistoryLimit int
}

// Service is the QA entrypoint for repos and repo groups.
type Service struct {
	Chat   ai.ChatClient
	Index  Retriever
	Repos  store.RepoStore
	Groups store.GroupStore
	Convs  store.ConversationStore

	prompts      promptBuilder
	historyLimit int
}

// Ask carries the per-call question parameters. TopK is a per-repo
// budget; zero selects the scope's default. SessionID is only
// consulted when LinkHistory is set.
type Ask struct {
	Question    string
	TopK        int
	SessionID   string
	LinkHistory bool
}

// NewService creates a QA service with explicit dependencies.
func NewService(chat ai.ChatClient, index Retriever, repos store.RepoStore, groups store.GroupStore, convs store.ConversationStore, opts Options) *Service {
	if opts.ContextChars <= 0 {
		opts.ContextChars = 8000
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 20
	}
	return &Service{
		Chat:   chat,
		Index:  index,
		Repos:  repos,
		Groups: groups,
		Convs:  convs,
		prompts: promptBuilder{
			maxContextChars: opts.ContextChars,
			answerLang:      opts.AnswerLang,
		},
		historyLimit: opts.HistoryLimit,
	}
}

// AskRepo answers a question scoped to a single repository.
func (s *Service) AskRepo(ctx context.Context, repoID string, req Ask) (models.Answer, error) {
	repo, err := s.Repos.GetRepo(ctx, repoID)
	if err != nil {
		return models.Answer{}, err
	}

	topK := req.TopK
	if topK <= 0 {
		topK = defaultTopKRepo
	}
	results, err := s.Index.Search(ctx, []string{repo.ID}, req.Question, topK)
	if err != nil {
		return models.Answer{}, err
	}
	if len(results) == 0 {
		return noChunksAnswer(fmt.Sprintf("repository '%s'", repo.ID)), nil
	}

	scope := fmt.Sprintf("repository %s", repo.ID)
	return s.answer(ctx, scope, models.ScopeRepo, repo.ID, results, req)
}

// AskGroup answers a question fanned out across every member of a
// repository group. An unknown group id is an error, not an empty
// scope.
func (s *Service) AskGroup(ctx context.Context, groupID string, req Ask) (models.Answer, error) {
	group, err := s.Groups.GetGroup(ctx, groupID)
	if err != nil {
		return models.Answer{}, err
	}

	topK := req.TopK
	if topK <= 0 {
		topK = defaultTopKGroup
	}

	// Independent per-member search with the same budget. Results are
	// concatenated, not globally re-ranked, so every member keeps its
	// representation.
	var results []models.SearchResult
	for _, rid := range group.RepoIDs {
		per, err := s.Index.Search(ctx, []string{rid}, req.Question, topK)
		if err != nil {
			return models.Answer{}, err
		}
		results = append(results, per...)
	}
	if len(results) == 0 {
		return noChunksAnswer(fmt.Sprintf("repository group '%s'", group.ID)), nil
	}

	scope := fmt.Sprintf("repository group %s (members: %s)",
		group.ID, strings.Join(group.RepoIDs, ", "))
	return s.answer(ctx, scope, models.ScopeGroup, group.ID, results, req)
}

// answer builds the message sequence, calls the chat model and, on
// success, records the turn when a session is linked.
func (s *Service) answer(ctx context.Context, scope string, scopeKind models.Scope, targetID string, results []models.SearchResult, req Ask) (models.Answer, error) {
	userContent := s.prompts.contextBlock(results) + "\n\n" + s.prompts.userMessage(req.Question)

	messages := []models.Message{
		{Role: models.RoleSystem, Content: s.prompts.systemMessage(scope)},
	}

	linked := req.LinkHistory && req.SessionID != ""
	if linked {
		if err := s.Convs.EnsureConversation(ctx, req.SessionID, scopeKind, targetID); err != nil {
			return models.Answer{}, err
		}
		history, err := s.Convs.ConversationHistory(ctx, req.SessionID, s.historyLimit)
		if err != nil {
			return models.Answer{}, err
		}
		messages = append(messages, history...)
	}
	messages = append(messages, models.Message{Role: models.RoleUser, Content: userContent})

	text, err := s.Chat.Generate(ctx, messages)
	if err != nil {
		// A failed chat call leaves conversation history unchanged.
		return models.Answer{}, err
	}

	if linked {
		if err := s.Convs.AppendMessage(ctx, req.SessionID, models.RoleUser, userContent); err != nil {
			return models.Answer{}, err
		}
		if err := s.Convs.AppendMessage(ctx, req.SessionID, models.RoleAssistant, text); err != nil {
			return models.Answer{}, err
		}
		log.Debug().Str("session", req.SessionID).Str("target", targetID).Msg("conversation turn recorded")
	}

	return models.Answer{Text: text, References: buildReferences(results)}, nil
}

func noChunksAnswer(scope string) models.Answer {
	return models.Answer{
		Text: fmt.Sprintf("No indexed code chunks found for the %s. "+
			"You may need to run a reindex operation first.", scope),
		References: []models.Reference{},
	}
}

func buildReferences(results []models.SearchResult) []models.Reference {
	refs := make([]models.Reference, 0, len(results))
	for _, r := range results {
		refs = append(refs, models.Reference{
			RepoID:    r.Chunk.RepoID,
			FilePath:  r.Chunk.Path,
			StartLine: r.Chunk.StartLine,
			EndLine:   r.Chunk.EndLine,
			Score:     r.Score,
		})
	}
	return refs
}
