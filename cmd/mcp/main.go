package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/repoqa/repoqa/internal/ai"
	"github.com/repoqa/repoqa/internal/config"
	"github.com/repoqa/repoqa/internal/mcptools"
	"github.com/repoqa/repoqa/internal/qa"
	"github.com/repoqa/repoqa/internal/store"
	"github.com/repoqa/repoqa/internal/vectorindex"
)

const version = "0.1.0"

func main() {
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("repoqa-mcp", pflag.ExitOnError)
	transport := fs.String("transport", "stdio", "Transport mode: stdio or http")

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	// The stdio transport owns stdout; logs go to stderr.
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
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

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	client, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		log.Fatalf("Failed to create AI client: %v", err)
	}
	if err := st.Migrate(ctx, client.Dim()); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	index := vectorindex.New(client, st, cfg.Provider, clientConfig.EmbedModel)
	svc := qa.NewService(client, index, st, st, st, qa.Options{
		AnswerLang:   cfg.AnswerLang,
		ContextChars: cfg.ContextChars,
		HistoryLimit: cfg.HistoryLimit,
	})

	srv := mcptools.NewServer(&mcptools.QATools{QA: svc, Repos: st, Groups: st}, version)

	switch *transport {
	case "stdio":
		logger.Info().Msg("repoqa mcp server starting (stdio)")
		if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	case "http":
		addr := fmt.Sprintf(":%d", cfg.Port)
		handler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
			return srv
		}, nil)
		logger.Info().Str("addr", addr).Msg("repoqa mcp server listening")
		if err := http.ListenAndServe(addr, handler); err != nil {
			log.Fatalf("HTTP server error: %v", err)
		}
	default:
		log.Fatalf("Unknown transport: %s (use stdio or http)", *transport)
	}
}
