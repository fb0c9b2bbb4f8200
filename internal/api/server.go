// Package api exposes the QA and indexing operations over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/repoqa/repoqa/internal/auth"
	"github.com/repoqa/repoqa/internal/qa"
	"github.com/repoqa/repoqa/internal/store"
	"github.com/repoqa/repoqa/pkg/models"
)

// Reindexer triggers (re)builds of repo and group indexes.
type Reindexer interface {
	Reindex(ctx context.Context, repoID, branch string) error
	ReindexGroup(ctx context.Context, groupID string) error
}

// OutlineLoader reads a previously generated outline.
type OutlineLoader interface {
	Load(repoID string) (string, error)
}

// Cloner materializes a repository when it is first registered.
type Cloner interface {
	CloneOrUpdate(ctx context.Context, repo models.Repo, branch string) (string, string, error)
}

// Server wires the HTTP surface. All collaborators are injected.
type Server struct {
	QA      *qa.Service
	Repos   store.RepoStore
	Groups  store.GroupStore
	Git     Cloner
	Indexer Reindexer
	Outline OutlineLoader
	Auth    *auth.Authenticator
	Logger  zerolog.Logger
}

type repoCreateRequest struct {
	GitURL        string `json:"git_url"`
	ID            string `json:"id,omitempty"`
	Name          string `json:"name,omitempty"`
	DefaultBranch string `json:"default_branch,omitempty"`
	Branch        string `json:"branch,omitempty"`
	Summary       string `json:"summary,omitempty"`
}

type groupCreateRequest struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	RepoIDs     []string `json:"repo_ids"`
}

// groupUpdateRequest carries a partial update; nil fields keep the
// stored value.
type groupUpdateRequest struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	RepoIDs     *[]string `json:"repo_ids,omitempty"`
}

type repoQARequest struct {
	RepoID      string `json:"repo_id"`
	Question    string `json:"question"`
	TopK        int    `json:"top_k,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	LinkHistory *bool  `json:"link_history,omitempty"`
}

type groupQARequest struct {
	GroupID     string `json:"group_id"`
	Question    string `json:"question"`
	TopKPerRepo int    `json:"top_k_per_repo,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	LinkHistory *bool  `json:"link_history,omitempty"`
}

// linkHistory resolves the optional flag: a supplied session id links
// the conversation unless the caller explicitly opts out.
func linkHistory(sessionID string, flag *bool) bool {
	if flag != nil {
		return *flag
	}
	return sessionID != ""
}

type qaResponse struct {
	AnswerText string             `json:"answer_text"`
	References []models.Reference `json:"references"`
	SessionID  string             `json:"session_id,omitempty"`
}

type outlineResponse struct {
	RepoID  string `json:"repo_id"`
	Outline string `json:"outline"`
}

type reindexResponse struct {
	JobID  string `json:"job_id"`
	Target string `json:"target"`
}

// Handler builds the routed handler with request logging attached.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /auth/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"enabled": s.Auth.Enabled})
	})

	mux.HandleFunc("POST /qa/repo", s.Auth.Middleware(s.handleQARepo))
	mux.HandleFunc("POST /qa/repo-group", s.Auth.Middleware(s.handleQAGroup))

	mux.HandleFunc("GET /repos", s.Auth.Middleware(s.handleListRepos))
	mux.HandleFunc("POST /repos", s.Auth.Middleware(s.handleCreateRepo))
	mux.HandleFunc("GET /repos/{id}", s.Auth.Middleware(s.handleGetRepo))
	mux.HandleFunc("GET /repos/{id}/outline", s.Auth.Middleware(s.handleGetOutline))
	mux.HandleFunc("POST /repos/{id}/reindex", s.Auth.Middleware(s.handleReindexRepo))

	mux.HandleFunc("GET /repo-groups", s.Auth.Middleware(s.handleListGroups))
	mux.HandleFunc("POST /repo-groups", s.Auth.Middleware(s.handleCreateGroup))
	mux.HandleFunc("GET /repo-groups/{id}", s.Auth.Middleware(s.handleGetGroup))
	mux.HandleFunc("PATCH /repo-groups/{id}", s.Auth.Middleware(s.handleUpdateGroup))
	mux.HandleFunc("POST /repo-groups/{id}/reindex", s.Auth.Middleware(s.handleReindexGroup))

	return hlog.NewHandler(s.Logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			s.Logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)
}

func (s *Server) handleQARepo(w http.ResponseWriter, r *http.Request) {
	var req repoQARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.RepoID == "" || strings.TrimSpace(req.Question) == "" {
		http.Error(w, "repo_id and question are required", http.StatusBadRequest)
		return
	}

	answer, err := s.QA.AskRepo(r.Context(), req.RepoID, qa.Ask{
		Question:    req.Question,
		TopK:        req.TopK,
		SessionID:   req.SessionID,
		LinkHistory: linkHistory(req.SessionID, req.LinkHistory),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, qaResponse{
		AnswerText: answer.Text,
		References: answer.References,
		SessionID:  req.SessionID,
	})
}

func (s *Server) handleQAGroup(w http.ResponseWriter, r *http.Request) {
	var req groupQARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.GroupID == "" || strings.TrimSpace(req.Question) == "" {
		http.Error(w, "group_id and question are required", http.StatusBadRequest)
		return
	}

	answer, err := s.QA.AskGroup(r.Context(), req.GroupID, qa.Ask{
		Question:    req.Question,
		TopK:        req.TopKPerRepo,
		SessionID:   req.SessionID,
		LinkHistory: linkHistory(req.SessionID, req.LinkHistory),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, qaResponse{
		AnswerText: answer.Text,
		References: answer.References,
		SessionID:  req.SessionID,
	})
}

func (s *Server) handleListRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := s.Repos.ListRepos(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if repos == nil {
		repos = []models.Repo{}
	}
	writeJSON(w, http.StatusOK, repos)
}

func (s *Server) handleCreateRepo(w http.ResponseWriter, r *http.Request) {
	var req repoCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.GitURL == "" {
		http.Error(w, "git_url is required", http.StatusBadRequest)
		return
	}

	id := req.ID
	if id == "" {
		id = deriveRepoID(req.GitURL)
	}
	name := req.Name
	if name == "" {
		name = id
	}
	branch := req.DefaultBranch
	if branch == "" {
		branch = "main"
	}
	repo := models.Repo{
		ID:            id,
		Name:          name,
		GitURL:        req.GitURL,
		DefaultBranch: branch,
		Summary:       req.Summary,
	}

	path, resolved, err := s.Git.CloneOrUpdate(r.Context(), repo, req.Branch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	repo.LocalPath = path
	repo.DefaultBranch = resolved

	if err := s.Repos.UpsertRepo(r.Context(), repo); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, repo)
}

func (s *Server) handleGetRepo(w http.ResponseWriter, r *http.Request) {
	repo, err := s.Repos.GetRepo(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, repo)
}

func (s *Server) handleGetOutline(w http.ResponseWriter, r *http.Request) {
	repoID := r.PathValue("id")
	outline, err := s.Outline.Load(repoID)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.Error(w, "Outline not found. Please reindex this repository first.", http.StatusNotFound)
			return
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outlineResponse{RepoID: repoID, Outline: outline})
}

// handleReindexRepo accepts the job and runs the heavy work in the
// background so the request returns quickly.
func (s *Server) handleReindexRepo(w http.ResponseWriter, r *http.Request) {
	repoID := r.PathValue("id")
	if _, err := s.Repos.GetRepo(r.Context(), repoID); err != nil {
		s.writeError(w, r, err)
		return
	}

	jobID := uuid.NewString()
	logger := s.Logger.With().Str("job", jobID).Str("repo", repoID).Logger()
	go func() {
		logger.Info().Msg("reindex started")
		if err := s.Indexer.Reindex(context.Background(), repoID, ""); err != nil {
			logger.Error().Err(err).Msg("reindex failed")
			return
		}
		logger.Info().Msg("reindex finished")
	}()

	writeJSON(w, http.StatusAccepted, reindexResponse{JobID: jobID, Target: repoID})
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.Groups.ListGroups(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if groups == nil {
		groups = []models.RepoGroup{}
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	id := req.ID
	if id == "" {
		id = slugify(req.Name)
	}
	group := models.RepoGroup{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		RepoIDs:     req.RepoIDs,
	}
	if group.RepoIDs == nil {
		group.RepoIDs = []string{}
	}

	if err := s.Groups.UpsertGroup(r.Context(), group); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	group, err := s.Groups.GetGroup(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (s *Server) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	group, err := s.Groups.GetGroup(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req groupUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name != nil {
		group.Name = *req.Name
	}
	if req.Description != nil {
		group.Description = *req.Description
	}
	if req.RepoIDs != nil {
		group.RepoIDs = *req.RepoIDs
		if group.RepoIDs == nil {
			group.RepoIDs = []string{}
		}
	}

	if err := s.Groups.UpsertGroup(r.Context(), group); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (s *Server) handleReindexGroup(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("id")
	if _, err := s.Groups.GetGroup(r.Context(), groupID); err != nil {
		s.writeError(w, r, err)
		return
	}

	jobID := uuid.NewString()
	logger := s.Logger.With().Str("job", jobID).Str("group", groupID).Logger()
	go func() {
		logger.Info().Msg("group reindex started")
		if err := s.Indexer.ReindexGroup(context.Background(), groupID); err != nil {
			logger.Error().Err(err).Msg("group reindex failed")
			return
		}
		logger.Info().Msg("group reindex finished")
	}()

	writeJSON(w, http.StatusAccepted, reindexResponse{JobID: jobID, Target: groupID})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrRepoNotFound), errors.Is(err, models.ErrGroupNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The status line is already out; an encode failure here has no
	// useful recovery.
	_ = json.NewEncoder(w).Encode(v)
}

var nonSlugRe = regexp.MustCompile(`[^a-zA-Z0-9-]+`)

// deriveRepoID builds a repo id from the last path segment of a git
// URL when the client does not supply one.
func deriveRepoID(gitURL string) string {
	path := gitURL
	if i := strings.Index(gitURL, "://"); i >= 0 {
		path = gitURL[i+3:]
	}
	path = strings.TrimSuffix(strings.TrimRight(path, "/"), ".git")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	if slug := slugTrim(path); slug != "" {
		return slug
	}
	return "repo"
}

func slugify(v string) string {
	if slug := slugTrim(v); slug != "" {
		return slug
	}
	return "group"
}

func slugTrim(v string) string {
	return strings.ToLower(strings.Trim(nonSlugRe.ReplaceAllString(v, "-"), "-"))
}
