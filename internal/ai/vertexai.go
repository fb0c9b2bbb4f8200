package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/repoqa/repoqa/pkg/models"
)

type VertexAIClient struct {
	config *ClientConfig
	client *genai.Client
}

// NewVertexAIClient creates a client for the Gemini API on Vertex AI.
func NewVertexAIClient(ctx context.Context, config *ClientConfig) (*VertexAIClient, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}

	if config.EmbedModel == "" {
		config.EmbedModel = "text-embedding-005"
	}
	if config.ChatModel == "" {
		config.ChatModel = "gemini-2.0-flash"
	}
	if config.Dim == 0 {
		config.Dim = 768
	}
	if config.Location == "" && strings.TrimSpace(config.APIKey) == "" {
		config.Location = "us-central1"
	}

	cc := genai.ClientConfig{
		Backend: genai.BackendVertexAI,
	}
	if strings.TrimSpace(config.APIKey) != "" {
		cc.APIKey = config.APIKey
	}
	if strings.TrimSpace(config.ProjectID) != "" {
		cc.Project = config.ProjectID
	}
	if strings.TrimSpace(config.Location) != "" {
		cc.Location = config.Location
	}

	client, err := genai.NewClient(ctx, &cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &VertexAIClient{
		config: config,
		client: client,
	}, nil
}

// EmbedTexts embeds all texts in one EmbedContent call, preserving order.
func (c *VertexAIClient) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, genai.Text(t)...)
	}

	cfg := genai.EmbedContentConfig{
		TaskType: "RETRIEVAL_DOCUMENT",
	}
	res, err := c.client.Models.EmbedContent(ctx, c.config.EmbedModel, contents, &cfg)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	return embeddingVectors(res, len(texts))
}

// embeddingVectors validates the response shape and extracts one
// vector per requested text, preserving order.
func embeddingVectors(res *genai.EmbedContentResponse, want int) ([][]float32, error) {
	got := 0
	if res != nil {
		got = len(res.Embeddings)
	}
	if got != want {
		return nil, &ShapeError{
			Snippet: fmt.Sprintf("embeddings count %d", got),
			Err:     fmt.Errorf("expected %d embeddings, got %d", want, got),
		}
	}

	vecs := make([][]float32, got)
	for i, e := range res.Embeddings {
		vecs[i] = e.Values
	}
	return vecs, nil
}

// Generate sends the message sequence to the chat model. The system
// message, when present, becomes the system instruction; user and
// assistant turns map to user/model contents.
func (c *VertexAIClient) Generate(ctx context.Context, messages []models.Message) (string, error) {
	contents, cfg := generateInput(messages)

	resp, err := c.client.Models.GenerateContent(ctx, c.config.ChatModel, contents, cfg)
	if err != nil {
		return "", &TransportError{Err: err}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", &ShapeError{Snippet: "no candidates", Err: errors.New("no content returned")}
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return strings.TrimSpace(sb.String()), nil
}

// generateInput maps chat messages onto genai inputs: the system
// message becomes the system instruction, assistant turns map to the
// model role, everything else to the user role.
func generateInput(messages []models.Message) ([]*genai.Content, *genai.GenerateContentConfig) {
	var cfg genai.GenerateContentConfig
	temp := float32(0.2)
	cfg.Temperature = &temp

	var contents []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case models.RoleSystem:
			sys := genai.Text(m.Content)
			cfg.SystemInstruction = sys[0]
		case models.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return contents, &cfg
}

func (c *VertexAIClient) Dim() int {
	return c.config.Dim
}
