// Package parse turns normalized converter output into structured exam
// sections. The structure is recovered in three passes: part headers split
// the document, question numbers split each part, and option markers split
// each question. Math spans are externalized before any HTML rewriting so
// LaTeX content never leaks into the formatting rules.
package parse

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/examforge/digitizer/mathex"
)

// DefaultSectionName labels documents that have no part headers.
const DefaultSectionName = "ĐỀ BÀI"

var (
	reBoldCmd = regexp.MustCompile(`\\textbf\{([^}]+)\}`)

	reSectionHeader = regexp.MustCompile(`(?i)(?:^|\n)\s*(?:<b>)?(PHẦN\s+[IVX0-9]+.*?)(?:</b>|$)`)
	reQuestionStart = regexp.MustCompile(`(?i)(?:\n|^)\s*(?:\\textbf\{)?(?:<b>)?Câu\s+(\d+)(?:[.:])?(?:</b>)?(?:\})?[.:]?`)

	reOptionToken = regexp.MustCompile(`__OPT_(TRUE|FALSE)_([a-dA-D])__`)
)

// Option marker normalization. Underlined labels mean "this option is the
// answer"; the converter emits them in several nestings, LaTeX and HTML.
var (
	reOptTrue1 = regexp.MustCompile(`\\textbf\{\\ul\{([a-dA-D])\s*[.)]?\s*\}\}\s*[.)]?`)
	reOptTrue2 = regexp.MustCompile(`\\ul\{\\textbf\{([a-dA-D])\s*[.)]?\s*\}\}\s*[.)]?`)
	reOptTrue3 = regexp.MustCompile(`\\textbf\{\\ul\{([a-dA-D])\}\}\s*[.)]?`)
	reOptTrue4 = regexp.MustCompile(`\\ul\{\s*([a-dA-D])\s*[.)]?\s*\}\s*[.)]?`)
	reOptTrue5 = regexp.MustCompile(`<b>\s*<u>\s*([a-dA-D])\s*[.)]?\s*</u>\s*</b>\s*[.)]?`)
	reOptTrue6 = regexp.MustCompile(`<u>\s*<b>\s*([a-dA-D])\s*[.)]?\s*</b>\s*</u>\s*[.)]?`)

	reOptFalse1 = regexp.MustCompile(`\\textbf\{\s*([a-dA-D])\s*[.)]\s*\}`)
	reOptFalse2 = regexp.MustCompile(`\\textbf\{\s*([a-dA-D])\s*\}\s*[.)]`)
	reOptFalse3 = regexp.MustCompile(`\\textbf\{\s*([a-dA-D])\s*\}`)
	reOptFalse4 = regexp.MustCompile(`<b>\s*([a-dA-D])\s*</b>\s*[.)]`)
	reOptFalse5 = regexp.MustCompile(`<b>\s*([a-dA-D])\s*[.)]\s*</b>`)
)

// HTML conversion of the remaining LaTeX formatting.
var (
	reStrongOpen = regexp.MustCompile(`<strong[^>]*>`)
	reEmOpen     = regexp.MustCompile(`<em[^>]*>`)
	reCenterEnv  = regexp.MustCompile(`\\(?:begin|end)\{center\}`)
	reSuperCmd   = regexp.MustCompile(`\\textsuperscript\{([^}]+)\}`)
	reItalicCmd  = regexp.MustCompile(`\\textit\{([^}]+)\}`)
	reUnderCmd   = regexp.MustCompile(`\\ul\{([^}]+)\}`)
	reUnderTag   = regexp.MustCompile(`<u>(.*?)</u>`)
	reNoIndent   = regexp.MustCompile(`\\noindent`)
	reBlankRun   = regexp.MustCompile(`\n\s*\n`)
)

// Parser builds sections from a whole-document LaTeX string, externalizing
// math through ex as it goes.
type Parser struct {
	ex  *mathex.Extractor
	log *slog.Logger
}

// New builds a Parser that stores math side files through ex.
func New(ex *mathex.Extractor, log *slog.Logger) *Parser {
	if log == nil {
		log = slog.Default()
	}
	return &Parser{ex: ex, log: log}
}

// Parse splits text into sections and questions. Question ids restart per
// section in the source document, so math names use a document-global
// counter to stay collision free.
func (p *Parser) Parse(text string) ([]*Section, error) {
	// Bold part headers become tags up front so one header pattern serves
	// both converter dialects.
	text = reBoldCmd.ReplaceAllString(text, "<b>$1</b>")

	headers := reSectionHeader.FindAllStringSubmatchIndex(text, -1)
	if len(headers) == 0 {
		questions, _, err := p.parseGroup(text, DefaultSectionName, 0)
		if err != nil {
			return nil, err
		}
		return []*Section{{Name: DefaultSectionName, Questions: questions}}, nil
	}

	var sections []*Section
	global := 0
	for i, h := range headers {
		name := strings.TrimSpace(text[h[2]:h[3]])
		bodyStart := h[1]
		bodyEnd := len(text)
		if i+1 < len(headers) {
			bodyEnd = headers[i+1][0]
		}
		questions, next, err := p.parseGroup(text[bodyStart:bodyEnd], name, global)
		if err != nil {
			return nil, err
		}
		global = next
		sections = append(sections, &Section{Name: name, Questions: questions})
	}
	return sections, nil
}

// parseGroup parses one section body. globalStart is the document-wide
// question counter before this section; the updated value is returned.
func (p *Parser) parseGroup(body, sectionName string, globalStart int) ([]*Question, int, error) {
	trueFalse := isTrueFalseSection(sectionName, body)

	starts := reQuestionStart.FindAllStringSubmatchIndex(body, -1)
	questions := make([]*Question, 0, len(starts))
	global := globalStart

	for i, s := range starts {
		id := body[s[2]:s[3]]
		end := len(body)
		if i+1 < len(starts) {
			end = starts[i+1][0]
		}
		global++

		q, err := p.parseQuestion(id, body[s[1]:end], global, trueFalse)
		if err != nil {
			return nil, 0, err
		}
		questions = append(questions, q)
	}
	return questions, global, nil
}

func (p *Parser) parseQuestion(id, content string, uid int, trueFalse bool) (*Question, error) {
	content, err := p.ex.Extract(content, uid)
	if err != nil {
		return nil, err
	}
	content = cleanFormatting(content)

	q := &Question{ID: id}

	tokens := reOptionToken.FindAllStringSubmatchIndex(content, -1)
	if len(tokens) == 0 {
		q.Question = strings.TrimSpace(content)
		q.Correct = CorrectAnswer{Truth: map[string]bool{}}
		return q, nil
	}

	q.Question = strings.TrimSpace(content[:tokens[0][0]])
	truth := make(map[string]bool, len(tokens))
	for i, tok := range tokens {
		isTrue := content[tok[2]:tok[3]] == "TRUE"
		key := strings.ToUpper(content[tok[4]:tok[5]])
		end := len(content)
		if i+1 < len(tokens) {
			end = tokens[i+1][0]
		}
		q.Answers = append(q.Answers, &Answer{
			Key:     key,
			Content: strings.TrimSpace(content[tok[1]:end]),
		})
		truth[key] = isTrue
	}

	q.Correct = decideCorrect(truth, trueFalse)
	return q, nil
}

// decideCorrect picks the serialized shape: a lone underlined option in a
// multiple-choice section collapses to its key, everything else keeps the
// full truth map. True/false sections always keep the map, even when only
// one statement is marked.
func decideCorrect(truth map[string]bool, trueFalse bool) CorrectAnswer {
	trueKeys := make([]string, 0, 1)
	falseCount := 0
	for k, v := range truth {
		if v {
			trueKeys = append(trueKeys, k)
		} else {
			falseCount++
		}
	}
	if len(trueKeys) == 1 && len(truth) > 1 && falseCount >= 1 && !trueFalse {
		return CorrectAnswer{Key: trueKeys[0]}
	}
	return CorrectAnswer{Truth: truth}
}

func isTrueFalseSection(name, body string) bool {
	s := strings.ToUpper(name + "\n" + body)
	return strings.Contains(s, "PHẦN II") || strings.Contains(s, "ĐÚNG SAI")
}

// cleanFormatting rewrites residual LaTeX commands to HTML and folds the
// option-label variants into __OPT_TRUE_X__ / __OPT_FALSE_X__ markers. Math
// is already externalized, so greedy brace matching is safe here.
func cleanFormatting(text string) string {
	text = reStrongOpen.ReplaceAllString(text, "<b>")
	text = strings.ReplaceAll(text, "</strong>", "</b>")
	text = reEmOpen.ReplaceAllString(text, "<i>")
	text = strings.ReplaceAll(text, "</em>", "</i>")
	text = strings.ReplaceAll(text, "<br>", "\n")
	text = strings.ReplaceAll(text, "<br/>", "\n")

	text = reCenterEnv.ReplaceAllString(text, "")

	for _, re := range []*regexp.Regexp{reOptTrue1, reOptTrue2, reOptTrue3, reOptTrue4, reOptTrue5, reOptTrue6} {
		text = re.ReplaceAllStringFunc(text, func(m string) string {
			return "__OPT_TRUE_" + re.FindStringSubmatch(m)[1] + "__"
		})
	}
	for _, re := range []*regexp.Regexp{reOptFalse1, reOptFalse2, reOptFalse3, reOptFalse4, reOptFalse5} {
		text = re.ReplaceAllStringFunc(text, func(m string) string {
			return "__OPT_FALSE_" + re.FindStringSubmatch(m)[1] + "__"
		})
	}

	text = reSuperCmd.ReplaceAllString(text, "<sup>$1</sup>")
	text = reBoldCmd.ReplaceAllString(text, "<b>$1</b>")
	text = reItalicCmd.ReplaceAllString(text, "<i>$1</i>")
	text = reUnderCmd.ReplaceAllString(text, "$1")
	text = reUnderTag.ReplaceAllString(text, "$1")
	text = reNoIndent.ReplaceAllString(text, "")
	text = reBlankRun.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}
