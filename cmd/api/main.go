package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/repoqa/repoqa/internal/ai"
	"github.com/repoqa/repoqa/internal/api"
	"github.com/repoqa/repoqa/internal/auth"
	"github.com/repoqa/repoqa/internal/chunker"
	"github.com/repoqa/repoqa/internal/config"
	"github.com/repoqa/repoqa/internal/gitrepo"
	"github.com/repoqa/repoqa/internal/indexer"
	"github.com/repoqa/repoqa/internal/outline"
	"github.com/repoqa/repoqa/internal/qa"
	"github.com/repoqa/repoqa/internal/stars"
	"github.com/repoqa/repoqa/internal/store"
	"github.com/repoqa/repoqa/internal/vectorindex"
)

func clientConfigFor(cfg config.Specification) (*ai.ClientConfig, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return &ai.ClientConfig{
			Provider:   ai.ProviderOpenAI,
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			APIKeyName: config.APIKeySetting,
			ChatModel:  cfg.ChatModel,
			EmbedModel: cfg.EmbedModel,
			Dim:        cfg.Dim,
		}, nil
	case "vertexai":
		return &ai.ClientConfig{
			Provider:   ai.ProviderVertexAI,
			APIKey:     cfg.APIKey,
			ChatModel:  cfg.ChatModel,
			EmbedModel: cfg.EmbedModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Location:   cfg.Location,
		}, nil
	case "stub":
		return &ai.ClientConfig{Provider: ai.ProviderStub, Dim: cfg.Dim}, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

func main() {
	// Missing .env is fine; env may come from the environment proper.
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("repoqa-api", pflag.ExitOnError)
	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).Bool("auth_enabled", cfg.Auth.Enabled).Msg("starting repoqa api")

	clientConfig, err := clientConfigFor(cfg)
	if err != nil {
		log.Fatalf("Failed to build AI client config: %v", err)
	}

	ctx := context.Background()
	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	client, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		log.Fatalf("Failed to create AI client: %v", err)
	}

	dim := client.Dim()
	logger.Info().Int("embedding_dim", dim).Str("embed_model", clientConfig.EmbedModel).Msg("AI client initialized")

	if err := st.Migrate(ctx, dim); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	git, err := gitrepo.New(cfg.ReposRoot)
	if err != nil {
		log.Fatalf("Failed to prepare repos root: %v", err)
	}

	index := vectorindex.New(client, st, cfg.Provider, clientConfig.EmbedModel)
	outlines := outline.New(client, cfg.OutlinesRoot)

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
		Embed:   index,
		Outline: outlines,
		Stars:   starFetcher,
	}

	svc := qa.NewService(client, index, st, st, st, qa.Options{
		AnswerLang:   cfg.AnswerLang,
		ContextChars: cfg.ContextChars,
		HistoryLimit: cfg.HistoryLimit,
	})

	srv := &api.Server{
		QA:      svc,
		Repos:   st,
		Groups:  st,
		Git:     git,
		Indexer: ix,
		Outline: outlines,
		Auth:    auth.New(cfg.Auth.Enabled, cfg.Auth.JwtSecret),
		Logger:  logger,
	}

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: srv.Handler()}
	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	log.Fatal(s.ListenAndServe())
}
