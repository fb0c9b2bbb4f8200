package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/repoqa/repoqa/internal/store"
	"github.com/repoqa/repoqa/pkg/models"
)

// MockEmbeddingClient implements ai.EmbeddingClient for testing.
type MockEmbeddingClient struct {
	EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)
	Calls     int
}

func (m *MockEmbeddingClient) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	m.Calls++
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (m *MockEmbeddingClient) Dim() int { return 3 }

// MockEmbeddingStore implements store.EmbeddingStore for testing.
type MockEmbeddingStore struct {
	UpsertFunc func(ctx context.Context, provider, model string, items []store.ChunkEmbedding) error
	GetFunc    func(ctx context.Context, repoIDs []string, provider, model string) ([]store.ChunkEmbedding, error)
	Upserted   []store.ChunkEmbedding
}

func (m *MockEmbeddingStore) UpsertChunkEmbeddings(ctx context.Context, provider, model string, items []store.ChunkEmbedding) error {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, provider, model, items)
	}
	m.Upserted = append(m.Upserted, items...)
	return nil
}

func (m *MockEmbeddingStore) GetChunkEmbeddings(ctx context.Context, repoIDs []string, provider, model string) ([]store.ChunkEmbedding, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, repoIDs, provider, model)
	}
	return nil, nil
}

func testChunk(id, repo string) models.Chunk {
	return models.Chunk{
		ID:        id,
		RepoID:    repo,
		Path:      "src/" + id + ".py",
		StartLine: 1,
		EndLine:   10,
		Content:   "def " + id + "(): pass",
		Summary:   "def " + id,
	}
}

func TestAddChunks_BatchesAndPersists(t *testing.T) {
	var batchSizes []int
	client := &MockEmbeddingClient{
		EmbedFunc: func(_ context.Context, texts []string) ([][]float32, error) {
			batchSizes = append(batchSizes, len(texts))
			out := make([][]float32, len(texts))
			for i := range texts {
				out[i] = []float32{1, 2, 3}
			}
			return out, nil
		},
	}
	st := &MockEmbeddingStore{}
	ix := New(client, st, "openai", "text-embedding-3-small")

	chunks := make([]models.Chunk, 70)
	for i := range chunks {
		chunks[i] = testChunk(fmt.Sprintf("c%03d", i), "demo")
	}

	if err := ix.AddChunks(context.Background(), chunks); err != nil {
		t.Fatalf("AddChunks failed: %v", err)
	}

	wantBatches := []int{32, 32, 6}
	if len(batchSizes) != len(wantBatches) {
		t.Fatalf("expected %d batches, got %v", len(wantBatches), batchSizes)
	}
	for i, want := range wantBatches {
		if batchSizes[i] != want {
			t.Errorf("batch %d: expected size %d, got %d", i, want, batchSizes[i])
		}
	}
	if len(st.Upserted) != 70 {
		t.Errorf("expected 70 persisted embeddings, got %d", len(st.Upserted))
	}
}

func TestAddChunks_TruncatesEmbeddingInput(t *testing.T) {
	var gotLen int
	client := &MockEmbeddingClient{
		EmbedFunc: func(_ context.Context, texts []string) ([][]float32, error) {
			gotLen = len(texts[0])
			return [][]float32{{1}}, nil
		},
	}
	st := &MockEmbeddingStore{}
	ix := New(client, st, "openai", "m")

	big := testChunk("big", "demo")
	big.Summary = "summary line"
	big.Content = strings.Repeat("x", 20000)

	if err := ix.AddChunks(context.Background(), []models.Chunk{big}); err != nil {
		t.Fatalf("AddChunks failed: %v", err)
	}
	if gotLen != maxEmbedChars {
		t.Errorf("expected embedding input capped at %d chars, got %d", maxEmbedChars, gotLen)
	}
}

func TestAddChunks_TruncationKeepsValidUTF8(t *testing.T) {
	var gotText string
	client := &MockEmbeddingClient{
		EmbedFunc: func(_ context.Context, texts []string) ([][]float32, error) {
			gotText = texts[0]
			return [][]float32{{1}}, nil
		},
	}
	ix := New(client, &MockEmbeddingStore{}, "openai", "m")

	big := testChunk("big", "demo")
	big.Summary = "概要"
	big.Content = strings.Repeat("数", 20000)

	if err := ix.AddChunks(context.Background(), []models.Chunk{big}); err != nil {
		t.Fatalf("AddChunks failed: %v", err)
	}
	if !utf8.ValidString(gotText) {
		t.Fatal("truncated embedding input is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(gotText); n != maxEmbedChars {
		t.Errorf("expected %d runes, got %d", maxEmbedChars, n)
	}
}

func TestAddChunks_SummaryComesFirst(t *testing.T) {
	var gotText string
	client := &MockEmbeddingClient{
		EmbedFunc: func(_ context.Context, texts []string) ([][]float32, error) {
			gotText = texts[0]
			return [][]float32{{1}}, nil
		},
	}
	ix := New(client, &MockEmbeddingStore{}, "openai", "m")

	c := testChunk("s", "demo")
	if err := ix.AddChunks(context.Background(), []models.Chunk{c}); err != nil {
		t.Fatal(err)
	}
	if gotText != c.Summary+"\n"+c.Content {
		t.Errorf("embedding input should be summary then content, got %q", gotText)
	}
}

func TestAddChunks_BatchIntegrity(t *testing.T) {
	client := &MockEmbeddingClient{
		EmbedFunc: func(_ context.Context, texts []string) ([][]float32, error) {
			// One vector short.
			out := make([][]float32, len(texts)-1)
			for i := range out {
				out[i] = []float32{1}
			}
			return out, nil
		},
	}
	st := &MockEmbeddingStore{}
	ix := New(client, st, "openai", "m")

	chunks := []models.Chunk{testChunk("a", "demo"), testChunk("b", "demo")}
	err := ix.AddChunks(context.Background(), chunks)

	var ie *IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("expected IntegrityError, got %v", err)
	}
	if ie.Expected != 2 || ie.Got != 1 {
		t.Errorf("unexpected counts in %v", ie)
	}
	if len(st.Upserted) != 0 {
		t.Errorf("no embeddings may be persisted for a mismatched batch, got %d", len(st.Upserted))
	}
}

func TestSearch_ShortCircuits(t *testing.T) {
	client := &MockEmbeddingClient{}
	st := &MockEmbeddingStore{
		GetFunc: func(_ context.Context, _ []string, _, _ string) ([]store.ChunkEmbedding, error) {
			t.Error("store should not be queried on short circuit")
			return nil, nil
		},
	}
	ix := New(client, st, "openai", "m")

	for _, tc := range []struct {
		name    string
		repoIDs []string
		query   string
	}{
		{"empty repo set", nil, "question"},
		{"empty query", []string{"r1"}, ""},
		{"whitespace query", []string{"r1"}, "   "},
	} {
		t.Run(tc.name, func(t *testing.T) {
			res, err := ix.Search(context.Background(), tc.repoIDs, tc.query, 5)
			if err != nil {
				t.Fatalf("Search failed: %v", err)
			}
			if len(res) != 0 {
				t.Errorf("expected empty result, got %d", len(res))
			}
		})
	}
	if client.Calls != 0 {
		t.Errorf("embedding gateway must not be invoked on short circuit, got %d calls", client.Calls)
	}
}

func TestSearch_RanksByCosineWithClamping(t *testing.T) {
	candidates := []store.ChunkEmbedding{
		{Chunk: testChunk("aligned", "demo"), Vector: []float32{1, 0, 0}},
		{Chunk: testChunk("partial", "demo"), Vector: []float32{1, 1, 0}},
		{Chunk: testChunk("opposed", "demo"), Vector: []float32{-1, 0, 0}},
		{Chunk: testChunk("zero", "demo"), Vector: []float32{0, 0, 0}},
	}
	client := &MockEmbeddingClient{
		EmbedFunc: func(_ context.Context, texts []string) ([][]float32, error) {
			return [][]float32{{1, 0, 0}}, nil
		},
	}
	st := &MockEmbeddingStore{
		GetFunc: func(_ context.Context, repoIDs []string, _, _ string) ([]store.ChunkEmbedding, error) {
			return candidates, nil
		},
	}
	ix := New(client, st, "openai", "m")

	res, err := ix.Search(context.Background(), []string{"demo"}, "query", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(res) != 4 {
		t.Fatalf("expected 4 results, got %d", len(res))
	}

	if res[0].Chunk.ID != "aligned" || math.Abs(res[0].Score-1.0) > 1e-6 {
		t.Errorf("expected aligned first with score 1, got %s=%f", res[0].Chunk.ID, res[0].Score)
	}
	if res[1].Chunk.ID != "partial" {
		t.Errorf("expected partial second, got %s", res[1].Chunk.ID)
	}
	// Opposed and zero both clamp to 0 and tie-break by chunk id.
	if res[2].Chunk.ID != "opposed" || res[2].Score != 0 {
		t.Errorf("expected opposed clamped to 0, got %s=%f", res[2].Chunk.ID, res[2].Score)
	}
	if res[3].Chunk.ID != "zero" || res[3].Score != 0 {
		t.Errorf("expected zero vector scored 0, got %s=%f", res[3].Chunk.ID, res[3].Score)
	}
}

func TestSearch_SelfSimilarityIsMaximal(t *testing.T) {
	// Several deterministic pseudo-embeddings; the candidate embedded
	// from the query text itself must rank first.
	embed := func(text string) []float32 {
		v := make([]float32, 8)
		for i := 0; i < len(text); i++ {
			v[(i+int(text[i]))%8] += float32(text[i]%13) + 1
		}
		return v
	}

	texts := []string{"def add(a, b)", "class Greeter", "README intro", "parse config"}
	var candidates []store.ChunkEmbedding
	for i, txt := range texts {
		candidates = append(candidates, store.ChunkEmbedding{
			Chunk:  testChunk(fmt.Sprintf("c%d", i), "demo"),
			Vector: embed(txt),
		})
	}

	client := &MockEmbeddingClient{
		EmbedFunc: func(_ context.Context, in []string) ([][]float32, error) {
			return [][]float32{embed(in[0])}, nil
		},
	}
	st := &MockEmbeddingStore{
		GetFunc: func(_ context.Context, _ []string, _, _ string) ([]store.ChunkEmbedding, error) {
			return candidates, nil
		},
	}
	ix := New(client, st, "openai", "m")

	res, err := ix.Search(context.Background(), []string{"demo"}, "def add(a, b)", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if res[0].Chunk.ID != "c0" {
		t.Errorf("self-similar candidate must rank first, got %s", res[0].Chunk.ID)
	}
	if res[0].Score < res[len(res)-1].Score {
		t.Error("results are not sorted by descending score")
	}
}

func TestSearch_AppliesTopK(t *testing.T) {
	var candidates []store.ChunkEmbedding
	for i := 0; i < 10; i++ {
		candidates = append(candidates, store.ChunkEmbedding{
			Chunk:  testChunk(fmt.Sprintf("c%d", i), "demo"),
			Vector: []float32{float32(i + 1), 0, 0},
		})
	}
	client := &MockEmbeddingClient{
		EmbedFunc: func(_ context.Context, _ []string) ([][]float32, error) {
			return [][]float32{{1, 0, 0}}, nil
		},
	}
	st := &MockEmbeddingStore{
		GetFunc: func(_ context.Context, _ []string, _, _ string) ([]store.ChunkEmbedding, error) {
			return candidates, nil
		},
	}
	ix := New(client, st, "openai", "m")

	res, err := ix.Search(context.Background(), []string{"demo"}, "q", 3)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(res) != 3 {
		t.Errorf("expected topK=3 results, got %d", len(res))
	}
}

func TestSearch_NoCandidatesSkipsQueryEmbedding(t *testing.T) {
	client := &MockEmbeddingClient{}
	st := &MockEmbeddingStore{
		GetFunc: func(_ context.Context, _ []string, _, _ string) ([]store.ChunkEmbedding, error) {
			return nil, nil
		},
	}
	ix := New(client, st, "openai", "m")

	res, err := ix.Search(context.Background(), []string{"empty-repo"}, "q", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(res) != 0 {
		t.Errorf("expected empty result, got %d", len(res))
	}
	if client.Calls != 0 {
		t.Error("query should not be embedded when there are no candidates")
	}
}
