// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package budgetui

import (
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"
)

// plain renders markdown and strips ANSI escapes so assertions see
// only visible text.
func plain(input string, width int) string {
	return ansi.Strip(renderMarkdown(input, DefaultTheme, width))
}

func TestRenderMarkdownEmpty(t *testing.T) {
	if got := renderMarkdown("", DefaultTheme, 80); got != "" {
		t.Errorf("empty input rendered %q", got)
	}
	if got := renderMarkdown("  \n\t", DefaultTheme, 80); got != "" {
		t.Errorf("whitespace input rendered %q", got)
	}
}

func TestRenderMarkdownReflowsSoftBreaks(t *testing.T) {
	// Source hard-wrapped at a narrow width; at width 120 the soft
	// breaks must join into one line.
	input := "Need more budget because the\nnightly batch doubled in size\nlast week."
	result := plain(input, 120)
	if strings.Contains(result, "\n") {
		t.Errorf("expected single line at width 120, got:\n%s", result)
	}
	if !strings.Contains(result, "because the nightly") {
		t.Errorf("soft break not converted to space:\n%s", result)
	}
}

func TestRenderMarkdownWrapsToWidth(t *testing.T) {
	input := "This justification should wrap at the requested pane width without overflow."
	result := plain(input, 30)
	for _, line := range strings.Split(result, "\n") {
		if len(line) > 30 {
			t.Errorf("line exceeds width 30: %q", line)
		}
	}
}

func TestRenderMarkdownHardLineBreak(t *testing.T) {
	input := "Line one  \nLine two"
	result := plain(input, 80)
	if !strings.Contains(result, "Line one\nLine two") {
		t.Errorf("hard break lost:\n%s", result)
	}
}

func TestRenderMarkdownHeadingStyled(t *testing.T) {
	input := "# Capacity request\n\nBody text."
	result := plain(input, 80)
	if !strings.Contains(result, "Capacity request") {
		t.Fatalf("heading text missing:\n%s", result)
	}
	styled := renderMarkdown(input, DefaultTheme, 80)
	if styled == result {
		t.Error("expected ANSI styling on heading output")
	}
}

func TestRenderMarkdownEmphasis(t *testing.T) {
	result := plain("This is *urgent* and **blocking**.", 80)
	if !strings.Contains(result, "urgent") || !strings.Contains(result, "blocking") {
		t.Errorf("emphasis text missing:\n%s", result)
	}
}

func TestRenderMarkdownCodeSpan(t *testing.T) {
	result := plain("The `claude-sonnet` rate changed.", 80)
	if !strings.Contains(result, "claude-sonnet") {
		t.Errorf("code span text missing:\n%s", result)
	}
}

func TestRenderMarkdownFencedCodeBlock(t *testing.T) {
	input := "Before\n\n```go\nfunc main() {}\n```\n\nAfter"
	result := plain(input, 80)
	if !strings.Contains(result, "func main() {}") {
		t.Errorf("code block content missing:\n%s", result)
	}
	// Code lines are indented two spaces.
	found := false
	for _, line := range strings.Split(result, "\n") {
		if strings.HasPrefix(line, "  ") && strings.Contains(line, "func main") {
			found = true
		}
	}
	if !found {
		t.Errorf("code block not indented:\n%s", result)
	}
}

func TestRenderMarkdownUnknownLanguageFallsBack(t *testing.T) {
	input := "```nosuchlang\nopaque payload\n```"
	result := plain(input, 80)
	if !strings.Contains(result, "opaque payload") {
		t.Errorf("fallback rendering lost content:\n%s", result)
	}
}

func TestRenderMarkdownList(t *testing.T) {
	input := "- first item\n- second item"
	result := plain(input, 80)
	if !strings.Contains(result, "• first item") {
		t.Errorf("missing first bullet:\n%s", result)
	}
	if !strings.Contains(result, "• second item") {
		t.Errorf("missing second bullet:\n%s", result)
	}
}

func TestRenderMarkdownNestedList(t *testing.T) {
	input := "- outer\n  - inner"
	result := plain(input, 80)
	if !strings.Contains(result, "  • inner") {
		t.Errorf("nested item not indented:\n%s", result)
	}
}

func TestRenderMarkdownNoTrailingNewline(t *testing.T) {
	result := renderMarkdown("just a line", DefaultTheme, 80)
	if strings.HasSuffix(result, "\n") {
		t.Errorf("output ends with newline: %q", result)
	}
}

func TestRenderMarkdownMinimumWidth(t *testing.T) {
	// Degenerate widths clamp instead of producing zero-width wraps.
	result := plain("short", 0)
	if !strings.Contains(result, "short") {
		t.Errorf("content lost at zero width: %q", result)
	}
}
