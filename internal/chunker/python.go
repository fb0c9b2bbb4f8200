package chunker

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/repoqa/repoqa/pkg/models"
)

// chunkPython splits a Python file into one chunk per top-level
// function or class definition. Returns nil when the file fails to
// parse or has no top-level definitions; the caller falls back to a
// whole-file chunk.
func chunkPython(repoID, relPath, text string) []models.Chunk {
	source := []byte(text)

	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	tree, err := parser.ParseCtx(context.Background(), nil, source)
	if err != nil {
		return nil
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil
	}

	lines := splitLines(text)
	var chunks []models.Chunk

	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)
		def := definitionNode(node)
		if def == nil {
			continue
		}

		// Spans cover the whole top-level statement, so decorators
		// stay attached to the definition they wrap.
		start := int(node.StartPoint().Row) + 1
		end := int(node.EndPoint().Row) + 1
		if end > len(lines) {
			end = len(lines)
		}
		if start > end {
			continue
		}

		content := strings.Join(lines[start-1:end], "\n")
		chunks = append(chunks, models.Chunk{
			ID:         ChunkID(repoID, relPath, start, end),
			RepoID:     repoID,
			Path:       relPath,
			Symbol:     definitionName(def, source),
			SymbolKind: definitionKind(def),
			StartLine:  start,
			EndLine:    end,
			Content:    content,
			Summary:    Summarize(content),
		})
	}

	return chunks
}

// definitionNode unwraps decorated definitions and returns the inner
// function or class definition, or nil for other statements.
func definitionNode(node *sitter.Node) *sitter.Node {
	switch node.Type() {
	case "function_definition", "class_definition":
		return node
	case "decorated_definition":
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			if child.Type() == "function_definition" || child.Type() == "class_definition" {
				return child
			}
		}
	}
	return nil
}

func definitionName(def *sitter.Node, source []byte) string {
	for i := 0; i < int(def.ChildCount()); i++ {
		child := def.Child(i)
		if child.Type() == "identifier" {
			return string(source[child.StartByte():child.EndByte()])
		}
	}
	return ""
}

func definitionKind(def *sitter.Node) models.SymbolKind {
	if def.Type() == "class_definition" {
		return models.SymbolClass
	}
	return models.SymbolFunction
}
