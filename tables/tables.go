// Package tables rewrites LaTeX table blocks into styled HTML via a text
// model. Results are cached by content hash so a re-run of the same document
// never repeats a model call; any failure keeps the original LaTeX block.
package tables

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/examforge/digitizer/cache"
	"github.com/examforge/digitizer/llm"
)

// cacheKeyPrefix versions the prompt. Bumping it invalidates cached HTML
// without touching unrelated cache entries.
const cacheKeyPrefix = "TABLE_TAILWIND_V3_"

// Pandoc wraps longtables in {\def\LTcaptype{none} ...}; the first branch
// captures the inner block, the second catches bare environments.
var reTableBlock = regexp.MustCompile(`(?s)(?:\{\s*\\def\\LTcaptype\{none\}\s*(\\begin\{(?:longtable|table|tabular)\}.*?\\end\{(?:longtable|table|tabular)\})\s*\})|(\\begin\{(?:longtable|table|tabular)\}.*?\\end\{(?:longtable|table|tabular)\})`)

var (
	reEmptyText   = regexp.MustCompile(`\\text\{\s+\}`)
	reDegreeSpace = regexp.MustCompile(`\\\s+\^\\circ`)
	reDegree      = regexp.MustCompile(`\\\s*\^\\circ`)
	reDegreeEsc   = regexp.MustCompile(`\\\^\\circ`)
	reSignSpace   = regexp.MustCompile(`\\([-+])\s+(\d)`)
	reTagGap      = regexp.MustCompile(`>\s+<`)
)

const promptTemplate = `Convert this LaTeX table into a clean HTML table using Tailwind CSS for styling.
RULES:
1. Output ONLY the HTML code. No markdown block.
2. IMPORTANT: Use these exact Tailwind classes:
   - Table: <table class="w-full border-collapse border border-gray-400 my-4 text-base">
   - Header (th): class="border border-gray-400 bg-gray-100 px-2 py-2 font-bold text-center"
   - Cell (td): class="border border-gray-400 px-2 py-2 text-center"
3. Preserve all data accurately.
4. Convert LaTeX math inside cells to \( ... \) delimiters.
5. IMPORTANT: Remove extra spaces in math expressions (e.g., negative numbers should have no space: -0,6 not - 0,6).
6. IMPORTANT: Fix degree symbols: ensure ^circ is used correctly (no extra backslash or space before caret).
7. Use <thead> and <tbody>.
8. Handle colspan/rowspan correctly.
9. Ensure the table has a complete border grid.

Input:
`

// Rewriter converts LaTeX tables found in a document to HTML.
type Rewriter struct {
	provider llm.Provider
	model    string
	cache    *cache.Store
	log      *slog.Logger
}

// NewRewriter builds a Rewriter. cache may not be nil.
func NewRewriter(provider llm.Provider, model string, store *cache.Store, log *slog.Logger) *Rewriter {
	if log == nil {
		log = slog.Default()
	}
	return &Rewriter{provider: provider, model: model, cache: store, log: log}
}

// Process replaces every table environment in text with its HTML rendering.
// Blocks whose conversion fails are left as LaTeX.
func (r *Rewriter) Process(ctx context.Context, text string) string {
	out := reTableBlock.ReplaceAllStringFunc(text, func(m string) string {
		groups := reTableBlock.FindStringSubmatch(m)
		raw := groups[1]
		if raw == "" {
			raw = groups[2]
		}
		if raw == "" {
			return m
		}
		return r.rewrite(ctx, raw)
	})
	// Sweep wrapper remnants that odd spacing kept out of the main match.
	out = strings.ReplaceAll(out, `{\def\LTcaptype{none}`, "")
	out = strings.ReplaceAll(out, `\def\LTcaptype{none}`, "")
	return out
}

func (r *Rewriter) rewrite(ctx context.Context, raw string) string {
	key := cacheKeyPrefix + cache.HashText(raw)
	html, err := r.cache.Do(key, func() (string, error) {
		return r.convert(ctx, raw)
	})
	if err != nil {
		r.log.Warn("table rewrite failed, keeping latex", "error", err)
		return raw
	}
	return html
}

func (r *Rewriter) convert(ctx context.Context, raw string) (string, error) {
	resp, err := r.provider.Chat(ctx, llm.ChatRequest{
		Model: r.model,
		Messages: []llm.Message{
			{Role: "user", Content: promptTemplate + preclean(raw) + "\n"},
		},
		Temperature: 0.0,
		MaxTokens:   2000,
	})
	if err != nil {
		return "", err
	}
	return minify(cleanFences(resp.Content)), nil
}

// preclean repairs escaping defects before the model sees the table, so
// identical tables with different converter noise hit the same output.
func preclean(table string) string {
	table = reEmptyText.ReplaceAllString(table, `\,`)
	table = reDegreeSpace.ReplaceAllString(table, `^{\circ}`)
	table = reDegree.ReplaceAllString(table, `^{\circ}`)
	table = reDegreeEsc.ReplaceAllString(table, `^{\circ}`)
	table = reSignSpace.ReplaceAllString(table, `\$1$2`)
	return table
}

func cleanFences(s string) string {
	s = strings.ReplaceAll(s, "```html", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

func minify(s string) string {
	s = reTagGap.ReplaceAllString(s, "><")
	return strings.ReplaceAll(s, "\n", "")
}
