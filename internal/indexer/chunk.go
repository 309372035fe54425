package indexer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/openagentkit/ci/internal/domain"
)

// languageFor resolves a tree-sitter grammar and canonical language name
// from a file extension. Unknown extensions fall back to line-based
// chunking entirely (no AST attempt).
func languageFor(ext string) (*sitter.Language, string) {
	switch strings.ToLower(ext) {
	case ".go":
		return golang.GetLanguage(), "go"
	case ".py":
		return python.GetLanguage(), "python"
	case ".js", ".jsx", ".mjs":
		return javascript.GetLanguage(), "javascript"
	case ".ts", ".tsx":
		return typescript.GetLanguage(), "typescript"
	default:
		return nil, ""
	}
}

// chunkNodeTypes names the syntax-tree node types considered chunk
// boundaries per language — functions, methods, classes, top-level
// declarations. Anything else is left inside its enclosing chunk.
var chunkNodeTypes = map[string]map[string]bool{
	"go": {
		"function_declaration": true,
		"method_declaration":   true,
		"type_declaration":     true,
	},
	"python": {
		"function_definition": true,
		"class_definition":    true,
	},
	"javascript": {
		"function_declaration": true,
		"class_declaration":    true,
		"method_definition":    true,
	},
	"typescript": {
		"function_declaration": true,
		"class_declaration":    true,
		"method_definition":    true,
		"interface_declaration": true,
	},
}

// FileStats records the chunking outcome for a single file, aggregated by
// FullScan and ReindexFiles into per-run AST/fallback/line-based counts.
type FileStats struct {
	ASTSuccess bool
	ASTFallback bool
	LineBased  bool
}

// ChunkFile parses content with the language's AST parser (when known) and
// splits it at syntactic boundaries, capped at maxLines. It falls back to
// line-based chunking when the extension is unsupported or parsing fails.
func ChunkFile(ctx context.Context, path string, content []byte, maxLines int) ([]domain.CodeChunk, FileStats) {
	ext := filepath.Ext(path)
	lang, langName := languageFor(ext)
	if lang == nil {
		return lineChunks(path, content, maxLines, ""), FileStats{LineBased: true}
	}

	parser := sitter.NewParser()
	parser.SetLanguage(lang)
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil || tree == nil {
		return lineChunks(path, content, maxLines, langName), FileStats{ASTFallback: true}
	}
	defer tree.Close()

	boundary := chunkNodeTypes[langName]
	var chunks []domain.CodeChunk
	root := tree.RootNode()
	collectChunkNodes(root, boundary, content, path, langName, maxLines, &chunks)

	if len(chunks) == 0 {
		return lineChunks(path, content, maxLines, langName), FileStats{ASTFallback: true}
	}
	return chunks, FileStats{ASTSuccess: true}
}

// collectChunkNodes walks the tree depth-first, emitting one chunk per
// boundary node encountered (not descending further into it), and
// recursing into non-boundary nodes to find nested boundaries.
func collectChunkNodes(n *sitter.Node, boundary map[string]bool, content []byte, path, lang string, maxLines int, out *[]domain.CodeChunk) {
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child == nil {
			continue
		}
		if boundary[child.Type()] {
			*out = append(*out, nodeToChunk(child, content, path, lang, maxLines))
			continue
		}
		collectChunkNodes(child, boundary, content, path, lang, maxLines, out)
	}
}

func nodeToChunk(n *sitter.Node, content []byte, path, lang string, maxLines int) domain.CodeChunk {
	start := int(n.StartPoint().Row) + 1
	end := int(n.EndPoint().Row) + 1
	text := n.Content(content)
	if maxLines > 0 && end-start+1 > maxLines {
		end = start + maxLines - 1
		if lines := strings.SplitN(text, "\n", maxLines+1); len(lines) > maxLines {
			text = strings.Join(lines[:maxLines], "\n")
		}
	}
	return domain.CodeChunk{
		FilePath:    path,
		StartLine:   start,
		EndLine:     end,
		ChunkType:   n.Type(),
		Name:        chunkName(n, content),
		ContentHash: hashContent(text),
		DocType:     classifyDocType(path),
		Language:    lang,
		Content:     text,
	}
}

// chunkName extracts an identifier child (the common "name"/"identifier"
// field across the supported grammars) if present.
func chunkName(n *sitter.Node, content []byte) string {
	if id := n.ChildByFieldName("name"); id != nil {
		return id.Content(content)
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c != nil && c.Type() == "identifier" {
			return c.Content(content)
		}
	}
	return ""
}

// lineChunks splits content into fixed-size line windows when AST
// chunking is unavailable or failed.
func lineChunks(path string, content []byte, maxLines int, lang string) []domain.CodeChunk {
	if maxLines <= 0 {
		maxLines = 200
	}
	lines := bytes.Split(content, []byte("\n"))
	var chunks []domain.CodeChunk
	for start := 0; start < len(lines); start += maxLines {
		end := start + maxLines
		if end > len(lines) {
			end = len(lines)
		}
		text := string(bytes.Join(lines[start:end], []byte("\n")))
		chunks = append(chunks, domain.CodeChunk{
			FilePath:    path,
			StartLine:   start + 1,
			EndLine:     end,
			ChunkType:   "line_range",
			ContentHash: hashContent(text),
			DocType:     classifyDocType(path),
			Language:    lang,
			Content:     text,
		})
	}
	return chunks
}

func hashContent(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// classifyDocType assigns a DocType for ranking purposes based on path
// conventions.
func classifyDocType(path string) domain.DocType {
	lower := strings.ToLower(path)
	switch {
	case strings.Contains(lower, "_test.") || strings.Contains(lower, "/test/") || strings.Contains(lower, "/tests/"):
		return domain.DocTests
	case strings.HasSuffix(lower, ".md") || strings.Contains(lower, "/docs/"):
		return domain.DocDocs
	case strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml") ||
		strings.HasSuffix(lower, ".json") || strings.HasSuffix(lower, ".toml"):
		return domain.DocConfig
	case strings.Contains(lower, "generated") || strings.Contains(lower, ".pb.go") || strings.Contains(lower, "_gen."):
		return domain.DocGenerated
	default:
		return domain.DocCode
	}
}
