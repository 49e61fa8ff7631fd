// Package postprocess repairs structural defects left after parsing:
// options that leaked into question or answer bodies are split out, answer
// lists are re-sorted, and residual LaTeX noise is scrubbed from the final
// HTML content. Running it twice changes nothing.
package postprocess

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/examforge/digitizer/parse"
)

var (
	// Leaked option labels at line starts, dot inside or outside the tag.
	reLeakInside  = regexp.MustCompile(`(?m)(?:<br\s*/?>|\n|^)\s*<b>([a-dA-D])[.)]</b>\s*`)
	reLeakOutside = regexp.MustCompile(`(?m)(?:<br\s*/?>|\n|^)\s*<b>([a-dA-D])</b>\s*[)]\s*`)

	reTable        = regexp.MustCompile(`(?s)<table.*?</table>`)
	reTagGap       = regexp.MustCompile(`>\s+<`)
	reTableBraces  = regexp.MustCompile(`(?i)</table>\s*\}+`)
	reTableBreaks  = regexp.MustCompile(`(?i)</table>(?:<br\s*/?>\s*)+`)
	reTableTrailer = regexp.MustCompile(`(?is)</table>([^<]*?)\}`)

	reSuperCmd = regexp.MustCompile(`\\textsuperscript\{([^}]+)\}`)
	reEmphCmd  = regexp.MustCompile(`\\emph\{([^}]+)\}`)
	reBoldCmd  = regexp.MustCompile(`\\textbf\{([^}]+)\}`)
	reItalCmd  = regexp.MustCompile(`\\textit\{([^}]+)\}`)
	reTextCmd  = regexp.MustCompile(`\\text\{([^}]+)\}`)
	reParens   = regexp.MustCompile(`\{\s*(\([^}]+\))\s*\}`)

	reGraphics    = regexp.MustCompile(`\\includegraphics(?:\[[^\]]*\])?\{[^}]+\}`)
	reGraphicsCut = regexp.MustCompile(`(?m)\\includegraphics(?:\[[^\]]*\])?\{([^}\n]+)$`)

	reTrailBrace = regexp.MustCompile(`(?m)([^}])\s*\}\s*$`)
	reLoneBrace  = regexp.MustCompile(`(?m)^\s*\}\s*$`)

	reSpaces   = regexp.MustCompile(`[ \t]+`)
	reNewlines = regexp.MustCompile(`\n+`)
)

// Repair fixes every question of every section in place.
func Repair(sections []*parse.Section) {
	for _, sec := range sections {
		for _, q := range sec.Questions {
			repairQuestion(q)
		}
	}
}

func repairQuestion(q *parse.Question) {
	// Options hidden in the statement move into the answer list, skipping
	// keys that already exist.
	text, extracted := splitContent(q.Question)
	if len(extracted) > 0 {
		q.Question = text
		seen := make(map[string]bool, len(q.Answers))
		for _, a := range q.Answers {
			seen[a.Key] = true
		}
		for _, a := range extracted {
			if !seen[a.Key] {
				q.Answers = append(q.Answers, a)
				seen[a.Key] = true
			}
		}
	}

	// Options hidden inside another option's body get their own entry.
	rebuilt := make([]*parse.Answer, 0, len(q.Answers))
	for _, a := range q.Answers {
		content, nested := splitContent(a.Content)
		a.Content = content
		rebuilt = append(rebuilt, a)
		rebuilt = append(rebuilt, nested...)
	}

	// Keys are unique after repair: a repeated key folds its content into
	// the first occurrence instead of producing a second entry.
	byKey := make(map[string]*parse.Answer, len(rebuilt))
	answers := rebuilt[:0]
	for _, a := range rebuilt {
		first, ok := byKey[a.Key]
		if !ok {
			byKey[a.Key] = a
			answers = append(answers, a)
			continue
		}
		if a.Content != "" {
			if first.Content == "" {
				first.Content = a.Content
			} else {
				first.Content += "\n" + a.Content
			}
		}
		if first.Picture == "" {
			first.Picture = a.Picture
		}
	}
	q.Answers = answers

	sort.SliceStable(q.Answers, func(i, j int) bool {
		return q.Answers[i].Key < q.Answers[j].Key
	})

	q.Question = cleanContent(q.Question)
	for _, a := range q.Answers {
		a.Content = cleanContent(a.Content)
	}
}

type marker struct {
	start, end int
	key        string
}

// splitContent finds leaked option labels in text and carves it into the
// leading content plus one answer per label.
func splitContent(text string) (string, []*parse.Answer) {
	if text == "" {
		return text, nil
	}

	var marks []marker
	for _, m := range reLeakInside.FindAllStringSubmatchIndex(text, -1) {
		marks = append(marks, marker{start: m[0], end: m[1], key: strings.ToUpper(text[m[2]:m[3]])})
	}
	for _, m := range reLeakOutside.FindAllStringSubmatchIndex(text, -1) {
		marks = append(marks, marker{start: m[0], end: m[1], key: strings.ToUpper(text[m[2]:m[3]])})
	}
	if len(marks) == 0 {
		return text, nil
	}

	sort.Slice(marks, func(i, j int) bool { return marks[i].start < marks[j].start })
	dedup := marks[:1]
	for _, m := range marks[1:] {
		if m.start != dedup[len(dedup)-1].start {
			dedup = append(dedup, m)
		}
	}
	marks = dedup

	cleaned := strings.TrimSpace(text[:marks[0].start])
	var answers []*parse.Answer
	for i, m := range marks {
		end := len(text)
		if i+1 < len(marks) {
			end = marks[i+1].start
		}
		content := strings.TrimSpace(text[m.end:end])
		if content != "" {
			answers = append(answers, &parse.Answer{Key: m.key, Content: content})
		}
	}
	return cleaned, answers
}

// cleanContent compacts rendered content: tables are minified, leftover
// LaTeX wrappers unwrapped, stray braces removed and whitespace collapsed.
// Figure commands are masked during brace cleanup so their paths survive.
func cleanContent(text string) string {
	if text == "" {
		return ""
	}

	text = reTable.ReplaceAllStringFunc(text, func(tbl string) string {
		return reTagGap.ReplaceAllString(tbl, "><")
	})
	text = reTableBraces.ReplaceAllString(text, "</table>")
	text = reTableBreaks.ReplaceAllString(text, "</table>")
	text = reTableTrailer.ReplaceAllString(text, "</table>$1")

	text = reSuperCmd.ReplaceAllString(text, "<sup>$1</sup>")
	text = reEmphCmd.ReplaceAllString(text, "<em>$1</em>")
	text = reBoldCmd.ReplaceAllString(text, "$1")
	text = reItalCmd.ReplaceAllString(text, "$1")
	text = reTextCmd.ReplaceAllString(text, "$1")
	text = reParens.ReplaceAllString(text, "$1")

	// Repair figure commands truncated at line end, then mask all of them.
	text = reGraphicsCut.ReplaceAllString(text, `\includegraphics{$1}`)
	var masked []string
	text = reGraphics.ReplaceAllStringFunc(text, func(cmd string) string {
		masked = append(masked, cmd)
		return fmt.Sprintf("\x00G%d\x00", len(masked)-1)
	})

	text = reTrailBrace.ReplaceAllString(text, "$1")
	text = reLoneBrace.ReplaceAllString(text, "")

	for i, cmd := range masked {
		text = strings.Replace(text, fmt.Sprintf("\x00G%d\x00", i), cmd, 1)
	}

	text = reSpaces.ReplaceAllString(text, " ")
	text = reNewlines.ReplaceAllString(text, "\n")
	return strings.TrimSpace(text)
}
