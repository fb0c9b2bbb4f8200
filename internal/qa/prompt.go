package qa

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/repoqa/repoqa/pkg/models"
)

const truncationMarker = "... (context truncated, remaining chunks omitted)"

// promptBuilder renders retrieved chunks and the question into chat
// messages. It decides nothing about which model is called.
type promptBuilder struct {
	maxContextChars int
	answerLang      string
}

func (b promptBuilder) systemMessage(scope string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are a senior code assistant analyzing %s.\n", scope)
	sb.WriteString("Answer the user's question from the code snippets and documents provided below:\n")
	sb.WriteString("1. Ground every statement in the actual code; never invent interfaces or functions that are not shown.\n")
	sb.WriteString("2. Explain clearly and include concrete code examples consistent with the repository's style.\n")
	sb.WriteString("3. Cite the file path and line numbers for any code you reference.\n")
	sb.WriteString("4. If the provided context does not contain the answer, say so explicitly and suggest a reasonable approach.\n")
	fmt.Fprintf(&sb, "5. Prefer answering in %s.\n", languageName(b.answerLang))
	return sb.String()
}

// contextBlock renders results in retrieval rank order, stopping once
// the character budget is exhausted.
func (b promptBuilder) contextBlock(results []models.SearchResult) string {
	remaining := b.maxContextChars
	lines := []string{"CONTEXT:", ""}

	for i, r := range results {
		if remaining <= 0 {
			lines = append(lines, truncationMarker)
			break
		}
		header := fmt.Sprintf("[CHUNK %d] repo=%s file=%s lines=%d-%d",
			i+1, r.Chunk.RepoID, r.Chunk.Path, r.Chunk.StartLine, r.Chunk.EndLine)
		code := strings.TrimSpace(r.Chunk.Content)
		if n := utf8.RuneCountInString(code); n > remaining {
			code = truncateRunes(code, remaining)
			remaining = 0
		} else {
			remaining -= n
		}

		lines = append(lines, header, "```", code, "```", "")
	}
	return strings.Join(lines, "\n")
}

func (b promptBuilder) userMessage(question string) string {
	return "USER:\nAnswer the following question from the context above, with a clear step-by-step explanation:\n\n" + question + "\n"
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

func languageName(code string) string {
	switch code {
	case "zh":
		return "Chinese"
	case "en", "":
		return "English"
	default:
		return code
	}
}
