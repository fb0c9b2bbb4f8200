// Package outline produces markdown outlines for indexed
// repositories. Outline text is a non-authoritative summary artifact,
// so unlike QA answers it may degrade to a canned rendering when the
// chat model fails.
package outline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/repoqa/repoqa/internal/ai"
	"github.com/repoqa/repoqa/pkg/models"
)

const itemSummaryMax = 300

// Generator builds and persists per-repo outlines.
type Generator struct {
	Chat ai.ChatClient
	Root string
}

func New(chat ai.ChatClient, root string) *Generator {
	return &Generator{Chat: chat, Root: root}
}

// Generate returns markdown outline text for the repo. Only each
// chunk's path, symbol and summary are sent to the model, never full
// chunk content, to keep the prompt bounded.
func (g *Generator) Generate(ctx context.Context, repoID string, chunks []models.Chunk) string {
	var items []string
	for _, c := range chunks {
		symbol := ""
		if c.Symbol != "" {
			symbol = " :: " + c.Symbol
		}
		summary := strings.TrimSpace(c.Summary)
		if utf8.RuneCountInString(summary) > itemSummaryMax {
			summary = truncateRunes(summary, itemSummaryMax-3) + "..."
		}
		if summary == "" {
			summary = "(no summary)"
		}
		items = append(items, fmt.Sprintf("- file: %s%s\n  summary: %s", c.Path, symbol, summary))
	}

	prompt := fmt.Sprintf(
		"You are a senior software architect. From the chunk summaries below, produce a well-structured markdown outline for this repository. Output markdown only, no extra commentary.\n\n"+
			"Repository ID: %s\n\n"+
			"File and symbol summaries:\n\n%s\n\n"+
			"The markdown must include:\n"+
			"1. A top-level heading with the project name or repository id.\n"+
			"2. A short project description.\n"+
			"3. The main modules and directory structure.\n"+
			"4. A list of key classes, functions and interfaces.\n"+
			"5. A brief typical usage flow or call chain, if it can be inferred.\n",
		repoID, strings.Join(items, "\n"))

	text, err := g.Chat.Generate(ctx, []models.Message{{Role: models.RoleUser, Content: prompt}})
	if err != nil {
		log.Warn().Err(err).Str("repo", repoID).Msg("outline generation failed, using fallback listing")
		return fallbackOutline(repoID, chunks)
	}
	return text
}

// Save writes the outline to <root>/<repoID>.md via a temp file and
// atomic rename so readers never observe a partial write.
func (g *Generator) Save(repoID, outlineMD string) (string, error) {
	if err := os.MkdirAll(g.Root, 0o755); err != nil {
		return "", err
	}
	final := filepath.Join(g.Root, repoID+".md")

	tmp, err := os.CreateTemp(g.Root, repoID+".md.tmp-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(outlineMD); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	return final, nil
}

// Load returns the saved outline for a repo, or os.ErrNotExist when
// none has been generated yet.
func (g *Generator) Load(repoID string) (string, error) {
	b, err := os.ReadFile(filepath.Join(g.Root, repoID+".md"))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func fallbackOutline(repoID string, chunks []models.Chunk) string {
	lines := []string{fmt.Sprintf("# %s outline (fallback)", repoID), ""}
	for _, c := range chunks {
		symbol := ""
		if c.Symbol != "" {
			symbol = " :: " + c.Symbol
		}
		lines = append(lines, fmt.Sprintf("- %s%s", c.Path, symbol))
	}
	return strings.Join(lines, "\n")
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
