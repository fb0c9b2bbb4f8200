package ai

import (
	"context"
	"errors"

	"github.com/repoqa/repoqa/pkg/models"
)

// EmbeddingClient turns texts into fixed-length vectors, one per input,
// in input order. Empty input yields empty output without a network call.
type EmbeddingClient interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
}

// ChatClient generates a completion for an ordered message sequence.
type ChatClient interface {
	Generate(ctx context.Context, messages []models.Message) (string, error)
}

// Client provides both embedding and chat capabilities.
type Client interface {
	EmbeddingClient
	ChatClient
}

// Provider is the closed set of supported wire protocols.
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderVertexAI Provider = "vertexai"
	ProviderStub     Provider = "stub"
)

// ClientConfig holds configuration for provider clients.
type ClientConfig struct {
	Provider   Provider
	BaseURL    string
	APIKey     string
	APIKeyName string // name of the setting holding the credential, for error messages
	ChatModel  string
	EmbedModel string
	Dim        int
	ProjectID  string
	Location   string
}

// NewClient selects a provider variant from configuration. Unsupported
// provider types fail here, at wiring time, not at call time.
func NewClient(ctx context.Context, config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderVertexAI:
		return NewVertexAIClient(ctx, config)
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// StubClient is an offline implementation for development and tests.
// Vectors are a deterministic function of the input text, so identical
// texts always embed identically.
type StubClient struct {
	dim int
}

func NewStubClient(dim int) *StubClient {
	if dim <= 0 {
		dim = 64
	}
	return &StubClient{dim: dim}
}

func (s *StubClient) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, s.dim)
		for j := 0; j < len(t); j++ {
			v[(j+int(t[j]))%s.dim] += float32(t[j]%31) + 1
		}
		out[i] = v
	}
	return out, nil
}

func (s *StubClient) Generate(_ context.Context, messages []models.Message) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("no messages")
	}
	return "stub answer to: " + messages[len(messages)-1].Content, nil
}

func (s *StubClient) Dim() int {
	return s.dim
}
