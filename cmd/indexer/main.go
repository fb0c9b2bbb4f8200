package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/repoqa/repoqa/internal/ai"
	"github.com/repoqa/repoqa/internal/chunker"
	"github.com/repoqa/repoqa/internal/config"
	"github.com/repoqa/repoqa/internal/gitrepo"
	"github.com/repoqa/repoqa/internal/indexer"
	"github.com/repoqa/repoqa/internal/outline"
	"github.com/repoqa/repoqa/internal/stars"
	"github.com/repoqa/repoqa/internal/store"
	"github.com/repoqa/repoqa/internal/vectorindex"
	"github.com/repoqa/repoqa/pkg/models"
)

func main() {
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("repoqa-indexer", pflag.ExitOnError)
	repoID := fs.String("repo", "", "repository id to reindex")
	gitURL := fs.String("git-url", "", "register the repository at this URL before indexing")
	branch := fs.String("branch", "", "branch to check out (defaults to the repo's default branch)")
	groupID := fs.String("group", "", "repository group id to reindex instead of a single repo")

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	if *repoID == "" && *groupID == "" {
		log.Fatal("either --repo or --group is required")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	zlog.Logger = logger

	var clientConfig *ai.ClientConfig
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		clientConfig = &ai.ClientConfig{
			Provider:   ai.ProviderOpenAI,
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			APIKeyName: config.APIKeySetting,
			ChatModel:  cfg.ChatModel,
			EmbedModel: cfg.EmbedModel,
			Dim:        cfg.Dim,
		}
	case "vertexai":
		clientConfig = &ai.ClientConfig{
			Provider:   ai.ProviderVertexAI,
			APIKey:     cfg.APIKey,
			ChatModel:  cfg.ChatModel,
			EmbedModel: cfg.EmbedModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Location:   cfg.Location,
		}
	case "stub":
		clientConfig = &ai.ClientConfig{Provider: ai.ProviderStub, Dim: cfg.Dim}
	default:
		log.Fatalf("unsupported provider: %s", cfg.Provider)
	}

	ctx := context.Background()
	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	client, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		log.Fatal(err)
	}
	if client.Dim() == 0 {
		log.Fatal("embedding dimension must be set")
	}
	if err := st.Migrate(ctx, client.Dim()); err != nil {
		log.Fatal(err)
	}

	git, err := gitrepo.New(cfg.ReposRoot)
	if err != nil {
		log.Fatal(err)
	}

	var starFetcher indexer.StarFetcher
	if cfg.StarsEnabled {
		starFetcher = stars.NewFetcher()
	}
	ix := &indexer.Indexer{
		Repos:   st,
		Groups:  st,
		Chunks:  st,
		Git:     git,
		Chunker: chunker.New(),
		Embed:   vectorindex.New(client, st, cfg.Provider, clientConfig.EmbedModel),
		Outline: outline.New(client, cfg.OutlinesRoot),
		Stars:   starFetcher,
	}

	if *groupID != "" {
		if err := ix.ReindexGroup(ctx, *groupID); err != nil {
			log.Fatalf("group reindex failed: %v", err)
		}
		logger.Info().Str("group", *groupID).Msg("group reindex complete")
		return
	}

	if *gitURL != "" {
		repo := models.Repo{ID: *repoID, Name: *repoID, GitURL: *gitURL, DefaultBranch: "main"}
		if *branch != "" {
			repo.DefaultBranch = *branch
		}
		if err := st.UpsertRepo(ctx, repo); err != nil {
			log.Fatalf("register repo: %v", err)
		}
		logger.Info().Str("repo", repo.ID).Str("git_url", repo.GitURL).Msg("repository registered")
	}

	if err := ix.Reindex(ctx, *repoID, *branch); err != nil {
		log.Fatalf("reindex failed: %v", err)
	}
	fmt.Printf("reindexed %s\n", *repoID)
}
