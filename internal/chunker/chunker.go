// Package chunker splits a repository's file tree into addressable
// chunks: symbol-level for Python, one whole-file chunk for everything
// else.
package chunker

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/repoqa/repoqa/pkg/models"
)

// summaryMaxChars caps the short per-chunk summary used for outlines
// and display.
const summaryMaxChars = 200

// summaryMaxLines is how many leading non-empty lines feed the summary.
const summaryMaxLines = 5

// supportedExts lists file extensions eligible for chunking: common
// source types plus documentation formats.
var supportedExts = map[string]bool{
	".py":   true,
	".ts":   true,
	".tsx":  true,
	".js":   true,
	".jsx":  true,
	".go":   true,
	".rs":   true,
	".java": true,
	".cs":   true,
	".md":   true,
	".txt":  true,
}

var skipDirs = map[string]bool{
	".git":          true,
	".hg":           true,
	".svn":          true,
	"node_modules":  true,
	"vendor":        true,
	"__pycache__":   true,
	".pytest_cache": true,
	".mypy_cache":   true,
	"venv":          true,
	".venv":         true,
	"build":         true,
	"dist":          true,
	"target":        true,
	".idea":         true,
}

// FileReader abstracts file access for tests.
type FileReader interface {
	ReadFile(filename string) ([]byte, error)
}

// DefaultFileReader reads from the OS filesystem.
type DefaultFileReader struct{}

func (DefaultFileReader) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// Chunker turns a materialized repository tree into Chunk records.
type Chunker struct {
	FileReader FileReader
}

func New() *Chunker {
	return &Chunker{FileReader: DefaultFileReader{}}
}

// ChunkRepo walks the tree rooted at root and returns all chunks for
// repoID in one pass. Unreadable or non-UTF-8 files are skipped, never
// fatal. Empty files produce no chunk.
func (c *Chunker) ChunkRepo(repoID, root string) ([]models.Chunk, error) {
	gi := loadGitignore(root)

	var chunks []models.Chunk
	err := godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: false,
		Callback: func(path string, de *godirwalk.Dirent) error {
			name := de.Name()
			if de.IsDir() {
				if path != root && (skipDirs[name] || strings.HasPrefix(name, ".")) {
					return filepath.SkipDir
				}
				return nil
			}

			rel, err := filepath.Rel(root, path)
			if err != nil {
				return nil
			}
			rel = filepath.ToSlash(rel)
			if gi != nil && gi.MatchesPath(rel) {
				return nil
			}
			if !eligible(name) {
				return nil
			}

			b, err := c.FileReader.ReadFile(path)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("failed to read file, skipping")
				return nil
			}
			if !utf8.Valid(b) {
				return nil
			}

			chunks = append(chunks, chunkFile(repoID, rel, string(b))...)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// chunkFile dispatches to the python splitter or the whole-file
// fallback.
func chunkFile(repoID, relPath, text string) []models.Chunk {
	if strings.EqualFold(filepath.Ext(relPath), ".py") {
		if out := chunkPython(repoID, relPath, text); len(out) > 0 {
			return out
		}
	}
	return chunkWholeFile(repoID, relPath, text)
}

// chunkWholeFile emits exactly one chunk spanning the full file, or
// none for an empty file.
func chunkWholeFile(repoID, relPath, text string) []models.Chunk {
	lines := splitLines(text)
	if len(lines) == 0 {
		return nil
	}
	return []models.Chunk{{
		ID:        ChunkID(repoID, relPath, 1, len(lines)),
		RepoID:    repoID,
		Path:      relPath,
		StartLine: 1,
		EndLine:   len(lines),
		Content:   text,
		Summary:   Summarize(text),
	}}
}

// eligible reports whether a file name qualifies for indexing: a
// supported extension, or an extension-less documentation convention
// such as README, LICENSE or COPYING.
func eligible(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if ext != "" {
		return supportedExts[ext]
	}
	upper := strings.ToUpper(name)
	return strings.HasPrefix(upper, "README") ||
		upper == "LICENSE" || upper == "LICENCE" || upper == "COPYING"
}

// ChunkID is a pure function of repository id, relative path and line
// range, so re-chunking an unchanged file reproduces the same id.
func ChunkID(repoID, relPath string, start, end int) string {
	h := sha1.Sum([]byte(repoID + "|" + relPath + "#" + fmt.Sprintf("%d:%d", start, end)))
	return hex.EncodeToString(h[:])
}

// Summarize returns the first few non-empty lines of text joined into
// one capped line. Used for outline generation and display, never for
// retrieval scoring.
func Summarize(text string) string {
	var picked []string
	for _, line := range splitLines(text) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		picked = append(picked, line)
		if len(picked) == summaryMaxLines {
			break
		}
	}
	return truncateRunes(strings.Join(picked, " "), summaryMaxChars)
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

// splitLines splits on \n without producing a phantom trailing line,
// so a file ending in a newline has its real line count.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func loadGitignore(root string) *ignore.GitIgnore {
	gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	return gi
}
