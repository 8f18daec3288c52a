// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package budgetui

import (
	"os"
	"strings"
	"sync"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// chromaStyle is the syntax highlighting style for fenced code blocks
// in justifications and review notes.
const chromaStyle = "monokai"

// The goldmark parser is configured once and shared: parsing state is
// per-call, so the instance is safe for concurrent use.
var (
	markdownParser     goldmark.Markdown
	markdownParserOnce sync.Once
)

func getMarkdownParser() goldmark.Markdown {
	markdownParserOnce.Do(func() {
		markdownParser = goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		)
	})
	return markdownParser
}

// renderMarkdown renders markdown as styled terminal text wrapped to
// width. Soft line breaks reflow; fenced code blocks are highlighted
// with chroma. The color profile is forced to ANSI256 because this
// output always lands inside the bubbletea renderer, never a pipe.
func renderMarkdown(input string, theme Theme, width int) string {
	if strings.TrimSpace(input) == "" {
		return ""
	}
	if width < 10 {
		width = 10
	}

	source := []byte(input)
	document := getMarkdownParser().Parser().Parse(text.NewReader(source))

	lipRenderer := lipgloss.NewRenderer(os.Stderr, termenv.WithProfile(termenv.ANSI256))
	lipRenderer.SetColorProfile(termenv.ANSI256)

	renderer := &markdownRenderer{
		source:   source,
		theme:    theme,
		width:    width,
		renderer: lipRenderer,
	}
	ast.Walk(document, renderer.walk)
	return strings.TrimRight(renderer.output.String(), "\n")
}

// markdownRenderer walks the goldmark AST accumulating styled output.
// Inline content collects in paragraph, then wraps once per block, so
// hard-wrapped source reflows at the pane's width.
type markdownRenderer struct {
	source   []byte
	theme    Theme
	width    int
	renderer *lipgloss.Renderer

	output    strings.Builder
	paragraph strings.Builder
	listDepth int
}

func (r *markdownRenderer) walk(node ast.Node, entering bool) (ast.WalkStatus, error) {
	switch typed := node.(type) {
	case *ast.Heading:
		if entering {
			r.paragraph.Reset()
		} else {
			style := r.renderer.NewStyle().
				Foreground(r.theme.HeadingForeground).
				Bold(true)
			r.output.WriteString(style.Render(r.paragraph.String()))
			r.output.WriteString("\n\n")
			r.paragraph.Reset()
		}

	case *ast.Paragraph:
		if entering {
			r.paragraph.Reset()
		} else {
			r.flushParagraph()
		}

	case *ast.Text:
		if entering {
			r.paragraph.Write(typed.Segment.Value(r.source))
			if typed.SoftLineBreak() {
				r.paragraph.WriteByte(' ')
			}
			if typed.HardLineBreak() {
				r.paragraph.WriteByte('\n')
			}
		}

	case *ast.CodeSpan:
		if entering {
			style := r.renderer.NewStyle().Foreground(r.theme.CodeForeground)
			r.paragraph.WriteString(style.Render(string(typed.Text(r.source))))
			return ast.WalkSkipChildren, nil
		}

	case *ast.Emphasis:
		if entering {
			style := r.renderer.NewStyle().Italic(true)
			if typed.Level >= 2 {
				style = r.renderer.NewStyle().Bold(true)
			}
			r.paragraph.WriteString(style.Render(string(nodeText(typed, r.source))))
			return ast.WalkSkipChildren, nil
		}

	case *ast.FencedCodeBlock:
		if entering {
			r.renderCodeBlock(typed)
			return ast.WalkSkipChildren, nil
		}

	case *ast.CodeBlock:
		if entering {
			r.renderIndentedCode(typed)
			return ast.WalkSkipChildren, nil
		}

	case *ast.Blockquote:
		if entering {
			r.listDepth++
		} else {
			r.listDepth--
		}

	case *ast.List:
		if entering {
			r.listDepth++
		} else {
			r.listDepth--
			if r.listDepth == 0 {
				r.output.WriteByte('\n')
			}
		}

	case *ast.ListItem:
		if entering {
			r.output.WriteString(strings.Repeat("  ", r.listDepth-1))
			r.output.WriteString("• ")
			r.paragraph.Reset()
		} else {
			// List item paragraphs flush inline without the blank
			// separator line.
			content := strings.TrimSpace(r.paragraph.String())
			if content != "" {
				indent := strings.Repeat("  ", r.listDepth-1) + "  "
				wrapped := ansi.Wordwrap(content, r.width-len(indent), "")
				lines := strings.Split(wrapped, "\n")
				r.output.WriteString(lines[0])
				for _, line := range lines[1:] {
					r.output.WriteByte('\n')
					r.output.WriteString(indent)
					r.output.WriteString(line)
				}
			}
			r.output.WriteByte('\n')
			r.paragraph.Reset()
			return ast.WalkSkipChildren, nil
		}

	case *ast.ThematicBreak:
		if entering {
			style := r.renderer.NewStyle().Foreground(r.theme.BorderColor)
			r.output.WriteString(style.Render(strings.Repeat("─", r.width)))
			r.output.WriteString("\n\n")
		}
	}
	return ast.WalkContinue, nil
}

// flushParagraph wraps and emits the accumulated inline content.
// Inside a blockquote or list the paragraph is left for the item
// handler.
func (r *markdownRenderer) flushParagraph() {
	if r.listDepth > 0 {
		return
	}
	content := strings.TrimSpace(r.paragraph.String())
	if content == "" {
		return
	}
	style := r.renderer.NewStyle().Foreground(r.theme.NormalText)
	r.output.WriteString(style.Render(ansi.Wordwrap(content, r.width, "")))
	r.output.WriteString("\n\n")
	r.paragraph.Reset()
}

// renderCodeBlock highlights a fenced code block with chroma. A
// highlight failure falls back to plain styled text — a justification
// with an unknown language tag still renders.
func (r *markdownRenderer) renderCodeBlock(block *ast.FencedCodeBlock) {
	var code strings.Builder
	for i := range block.Lines().Len() {
		line := block.Lines().At(i)
		code.Write(line.Value(r.source))
	}

	language := string(block.Language(r.source))
	var highlighted strings.Builder
	err := quick.Highlight(&highlighted, code.String(), language, "terminal256", chromaStyle)
	rendered := highlighted.String()
	if err != nil || rendered == "" {
		style := r.renderer.NewStyle().Foreground(r.theme.CodeForeground)
		rendered = style.Render(strings.TrimRight(code.String(), "\n")) + "\n"
	}

	for line := range strings.SplitSeq(strings.TrimRight(rendered, "\n"), "\n") {
		r.output.WriteString("  ")
		r.output.WriteString(line)
		r.output.WriteByte('\n')
	}
	r.output.WriteByte('\n')
}

func (r *markdownRenderer) renderIndentedCode(block *ast.CodeBlock) {
	style := r.renderer.NewStyle().Foreground(r.theme.CodeForeground)
	for i := range block.Lines().Len() {
		line := block.Lines().At(i)
		r.output.WriteString("  ")
		r.output.WriteString(style.Render(strings.TrimRight(string(line.Value(r.source)), "\n")))
		r.output.WriteByte('\n')
	}
	r.output.WriteByte('\n')
}

// nodeText collects the raw text under a node.
func nodeText(node ast.Node, source []byte) []byte {
	var out []byte
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		if textNode, ok := child.(*ast.Text); ok {
			out = append(out, textNode.Segment.Value(source)...)
		} else {
			out = append(out, nodeText(child, source)...)
		}
	}
	return out
}
