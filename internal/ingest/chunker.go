// Package ingest turns uploaded markdown study material into retrievable
// chunks: parsed, sized, persisted and pushed into both the lexical and the
// dense index.
package ingest

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

const (
	minChunkRunes = 50
	maxChunkRunes = 700 // targets ~450 tokens for a 512-token embedding model
)

// Chunk is one unit of ingested text with its provenance inside the document.
// Pages are delimited by thematic breaks (---) and start at 1.
type Chunk struct {
	Page        int
	Ordinal     int
	HeadingPath string // Format: "# Heading1 > ## Heading2"
	Text        string
}

// MarkdownChunker chunks markdown content along its heading structure using
// goldmark AST parsing.
type MarkdownChunker struct {
	parser goldmark.Markdown
}

// NewMarkdownChunker creates a new markdown chunker.
func NewMarkdownChunker() *MarkdownChunker {
	return &MarkdownChunker{
		parser: goldmark.New(
			goldmark.WithExtensions(extension.Table),
		),
	}
}

// Chunk parses markdown content and returns the document title and its
// chunks. Chunks follow the heading hierarchy; undersized ones are merged
// forward and oversized ones split at paragraph boundaries. Ordinals are
// assigned after sizing and are dense from 0.
func (c *MarkdownChunker) Chunk(content []byte, filename string) (string, []Chunk, error) {
	title := titleFromFilename(filename)
	if len(content) == 0 {
		return title, []Chunk{}, nil
	}

	doc := c.parser.Parser().Parse(text.NewReader(content))
	if heading := firstHeadingText(doc, content); heading != "" {
		title = heading
	}

	col := &collector{content: content, title: title, page: 1}
	col.run(doc)

	chunks := applySizeLimits(col.chunks)
	for i := range chunks {
		chunks[i].Ordinal = i
	}
	return title, chunks, nil
}

// collector accumulates chunks while walking the AST.
type collector struct {
	content []byte
	title   string
	page    int
	stack   []headingInfo
	chunks  []Chunk
	current *Chunk
}

type headingInfo struct {
	level int
	text  string
}

func (c *collector) run(doc ast.Node) {
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Heading:
			c.flush()
			for len(c.stack) > 0 && c.stack[len(c.stack)-1].level >= node.Level {
				c.stack = c.stack[:len(c.stack)-1]
			}
			c.stack = append(c.stack, headingInfo{level: node.Level, text: nodeText(node, c.content)})
			c.current = &Chunk{Page: c.page, HeadingPath: headingPath(c.stack)}
			return ast.WalkSkipChildren, nil

		case *ast.ThematicBreak:
			c.flush()
			c.page++
			return ast.WalkContinue, nil

		case *ast.Text:
			c.ensureCurrent()
			c.current.Text += string(node.Segment.Value(c.content))
			return ast.WalkContinue, nil

		case *ast.String:
			c.ensureCurrent()
			c.current.Text += string(node.Value)
			return ast.WalkContinue, nil

		case *ast.FencedCodeBlock:
			c.ensureCurrent()
			c.appendLines(node)
			return ast.WalkSkipChildren, nil

		case *ast.CodeBlock:
			c.ensureCurrent()
			c.appendLines(node)
			return ast.WalkSkipChildren, nil

		case *ast.Paragraph, *ast.List, *ast.ListItem:
			c.breakLine()
			return ast.WalkContinue, nil

		default:
			kind := n.Kind().String()
			if kind == "TableRow" || kind == "TableHeader" {
				c.ensureCurrent()
				c.breakLine()
				c.current.Text += tableRowText(n, c.content) + "\n"
				return ast.WalkSkipChildren, nil
			}
			return ast.WalkContinue, nil
		}
	})
	c.flush()

	// A document with content but no extractable text still yields one chunk.
	if len(c.chunks) == 0 {
		c.chunks = append(c.chunks, Chunk{
			Page:        1,
			HeadingPath: "# " + c.title,
			Text:        strings.TrimSpace(string(c.content)),
		})
	}
}

func (c *collector) ensureCurrent() {
	if c.current == nil {
		// Content before any heading falls under the document title.
		c.current = &Chunk{Page: c.page, HeadingPath: "# " + c.title}
	}
}

func (c *collector) breakLine() {
	if c.current != nil && len(c.current.Text) > 0 && !strings.HasSuffix(c.current.Text, "\n") {
		c.current.Text += "\n"
	}
}

func (c *collector) appendLines(node ast.Node) {
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		c.current.Text += string(seg.Value(c.content))
	}
}

func (c *collector) flush() {
	if c.current != nil && strings.TrimSpace(c.current.Text) != "" {
		c.current.Text = strings.TrimSpace(c.current.Text)
		c.chunks = append(c.chunks, *c.current)
	}
	c.current = nil
}

// firstHeadingText returns the first level-1 heading, falling back to the
// first level-2 heading.
func firstHeadingText(doc ast.Node, content []byte) string {
	var h1, h2 string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if heading, ok := n.(*ast.Heading); ok {
			switch {
			case heading.Level == 1 && h1 == "":
				h1 = nodeText(heading, content)
				return ast.WalkStop, nil
			case heading.Level == 2 && h2 == "":
				h2 = nodeText(heading, content)
			}
		}
		return ast.WalkContinue, nil
	})
	if h1 != "" {
		return h1
	}
	return h2
}

// titleFromFilename strips the extension and capitalizes each word.
func titleFromFilename(filename string) string {
	name := filepath.Base(filename)
	name = strings.TrimSuffix(name, filepath.Ext(name))

	words := strings.Fields(name)
	for i, word := range words {
		runes := []rune(word)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

// headingPath renders the heading stack as "# A > ## B > ### C".
func headingPath(stack []headingInfo) string {
	parts := make([]string, len(stack))
	for i, h := range stack {
		parts[i] = fmt.Sprintf("%s %s", strings.Repeat("#", h.level), h.text)
	}
	return strings.Join(parts, " > ")
}

// nodeText extracts the plain text of a node and its children.
func nodeText(n ast.Node, content []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := node.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(content))
		case *ast.String:
			b.Write(v.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

// tableRowText joins the cells of a table row with pipes.
func tableRowText(row ast.Node, content []byte) string {
	var cells []string
	_ = ast.Walk(row, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if node.Kind().String() == "TableCell" {
			cells = append(cells, nodeText(node, content))
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.Join(cells, " | ")
}

// applySizeLimits merges undersized chunks forward within the same page and
// splits oversized ones. Sizes are measured in runes.
func applySizeLimits(chunks []Chunk) []Chunk {
	if len(chunks) == 0 {
		return chunks
	}

	var result []Chunk
	i := 0
	for i < len(chunks) {
		current := chunks[i]

		for i+1 < len(chunks) &&
			utf8.RuneCountInString(current.Text) < minChunkRunes &&
			chunks[i+1].Page == current.Page {
			next := chunks[i+1]
			merged := current.Text + "\n\n" + next.Text
			if utf8.RuneCountInString(merged) > maxChunkRunes {
				break
			}
			current.Text = merged
			i++
		}

		if utf8.RuneCountInString(current.Text) > maxChunkRunes {
			result = append(result, splitChunk(current)...)
		} else {
			result = append(result, current)
		}
		i++
	}
	return result
}

// splitChunk splits an oversized chunk, preferring paragraph boundaries, then
// line boundaries, then sentence boundaries.
func splitChunk(chunk Chunk) []Chunk {
	runes := []rune(chunk.Text)
	var splits []Chunk

	start := 0
	for start < len(runes) {
		end := start + maxChunkRunes
		if end >= len(runes) {
			splits = append(splits, Chunk{Page: chunk.Page, HeadingPath: chunk.HeadingPath, Text: string(runes[start:])})
			break
		}

		window := string(runes[start:end])
		split := end
		if at := strings.LastIndex(window, "\n\n"); at != -1 {
			split = start + utf8.RuneCountInString(window[:at]) + 2
		} else if at := strings.LastIndex(window, "\n"); at != -1 {
			split = start + utf8.RuneCountInString(window[:at]) + 1
		} else if at := strings.LastIndex(window, ". "); at != -1 {
			split = start + utf8.RuneCountInString(window[:at]) + 2
		}

		splits = append(splits, Chunk{Page: chunk.Page, HeadingPath: chunk.HeadingPath, Text: string(runes[start:split])})
		start = split
	}
	return splits
}
