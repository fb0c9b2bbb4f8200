// Package vectorindex associates chunks with embedding vectors and
// performs brute-force cosine similarity search over them.
package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/repoqa/repoqa/internal/ai"
	"github.com/repoqa/repoqa/internal/store"
	"github.com/repoqa/repoqa/pkg/models"
)

const (
	// maxEmbedChars bounds the text embedded per chunk so batches stay
	// under provider context limits.
	maxEmbedChars = 8000
	// batchSize bounds the number of chunks per embedding request.
	batchSize = 32
)

// IntegrityError reports an embedding batch whose vector count did
// not match its chunk count. Fatal for the call; never truncated or
// padded over.
type IntegrityError struct {
	Expected int
	Got      int
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("embedding service returned %d vectors for a batch of %d chunks", e.Got, e.Expected)
}

// Index embeds chunks via the gateway and scores them against queries.
type Index struct {
	Client   ai.EmbeddingClient
	Store    store.EmbeddingStore
	Provider string
	Model    string
}

func New(client ai.EmbeddingClient, st store.EmbeddingStore, provider, model string) *Index {
	return &Index{Client: client, Store: st, Provider: provider, Model: model}
}

// AddChunks computes and persists one embedding per chunk under the
// index's provider/model. The embedding input is the chunk summary
// followed by its content, truncated to a fixed character budget, and
// chunks are embedded in fixed-size batches. A vector count mismatch
// within a batch aborts the call before anything from that batch is
// persisted.
func (ix *Index) AddChunks(ctx context.Context, chunks []models.Chunk) error {
	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = embeddingInput(c)
		}

		vecs, err := ix.Client.EmbedTexts(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch: %w", err)
		}
		if len(vecs) != len(batch) {
			return &IntegrityError{Expected: len(batch), Got: len(vecs)}
		}

		items := make([]store.ChunkEmbedding, len(batch))
		for i, c := range batch {
			items[i] = store.ChunkEmbedding{Chunk: c, Vector: vecs[i]}
		}
		if err := ix.Store.UpsertChunkEmbeddings(ctx, ix.Provider, ix.Model, items); err != nil {
			return fmt.Errorf("persist embeddings: %w", err)
		}
		log.Debug().Int("batch", len(batch)).Int("offset", start).Msg("embedded chunk batch")
	}
	return nil
}

// Search returns at most topK chunks per call ranked by descending
// cosine similarity to the query, restricted to the given repositories
// and the index's provider/model. An empty query or repository set
// returns immediately without touching the embedding gateway.
func (ix *Index) Search(ctx context.Context, repoIDs []string, query string, topK int) ([]models.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" || len(repoIDs) == 0 || topK <= 0 {
		return []models.SearchResult{}, nil
	}

	candidates, err := ix.Store.GetChunkEmbeddings(ctx, repoIDs, ix.Provider, ix.Model)
	if err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}
	if len(candidates) == 0 {
		return []models.SearchResult{}, nil
	}

	qvecs, err := ix.Client.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(qvecs) != 1 {
		return nil, &IntegrityError{Expected: 1, Got: len(qvecs)}
	}
	qvec := qvecs[0]

	results := make([]models.SearchResult, 0, len(candidates))
	for _, cand := range candidates {
		results = append(results, models.SearchResult{
			Chunk: cand.Chunk,
			Score: cosineScore(qvec, cand.Vector),
		})
	}

	// Descending score; ascending chunk id breaks ties so rankings
	// are reproducible.
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// embeddingInput concatenates summary and content, summary first, and
// truncates to the character budget.
func embeddingInput(c models.Chunk) string {
	return truncateRunes(c.Summary+"\n"+c.Content, maxEmbedChars)
}

// truncateRunes caps s at max runes, cutting on a rune boundary so a
// multi-byte character is never split into invalid UTF-8.
func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

// cosineScore computes cosine similarity clamped to [0, 1]: zero
// vectors score 0, and non-positive dot products are treated the same
// as unrelated rather than reported as negative similarity.
func cosineScore(q, c []float32) float64 {
	n := len(q)
	if len(c) < n {
		n = len(c)
	}

	var dot, qn, cn float64
	for i := 0; i < n; i++ {
		dot += float64(q[i]) * float64(c[i])
		qn += float64(q[i]) * float64(q[i])
		cn += float64(c[i]) * float64(c[i])
	}
	if cn == 0 {
		return 0
	}
	qnorm := math.Sqrt(qn)
	if qnorm == 0 {
		qnorm = 1
	}
	if dot <= 0 {
		return 0
	}
	return dot / (qnorm * math.Sqrt(cn))
}
