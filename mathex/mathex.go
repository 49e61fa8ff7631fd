// Package mathex externalizes inline math spans. Each $...$ span is saved
// to its own file under maths/ and replaced in the text with a [:$name$]
// placeholder, so downstream HTML formatting never touches LaTeX content.
package mathex

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// FolderName is the side-file directory created under the job output dir.
const FolderName = "maths"

var (
	reSpan = regexp.MustCompile(`\$([^$]+)\$`)

	reDegreeDoubleSp = regexp.MustCompile(`\\\\\s+\^\\circ`)
	reDegreeDouble   = regexp.MustCompile(`\\\\\s*\^\\circ`)
	reDegreeSp       = regexp.MustCompile(`\\\s+\^\\circ`)
	reDegree         = regexp.MustCompile(`\\\s*\^\\circ`)
	reDegreeEsc      = regexp.MustCompile(`\\\^\\circ`)
	reEmptyText      = regexp.MustCompile(`\\text\{\s+\}`)
	reThinSpace      = regexp.MustCompile(`\\,`)

	// A bare unit is short plain text with no math operators or digits,
	// e.g. "kg", "m/s". Anything else is a real expression.
	reMathSymbols = regexp.MustCompile(`[\\$^_{}\d]`)
	reUnitChars   = regexp.MustCompile(`^[a-zA-ZÀ-ÿ\s/°]+$`)
)

// Extractor writes math side files for one job and accumulates the
// name -> content mapping embedded into the viewer later.
type Extractor struct {
	dir  string
	data map[string]string
}

// NewExtractor creates the maths/ folder under outDir.
func NewExtractor(outDir string) (*Extractor, error) {
	dir := filepath.Join(outDir, FolderName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create math folder: %w", err)
	}
	return &Extractor{dir: dir, data: make(map[string]string)}, nil
}

// Extract replaces every $...$ span in text with a placeholder and saves the
// span content. uid must be unique per question across the whole document so
// names never collide when question numbers restart between sections.
func (e *Extractor) Extract(text string, uid int) (string, error) {
	counter := 0
	var firstErr error
	out := reSpan.ReplaceAllStringFunc(text, func(m string) string {
		content := cleanSpan(strings.TrimSpace(m[1 : len(m)-1]))
		counter++
		name := fmt.Sprintf("mathm%d_%d", uid, counter)
		if err := e.save(name, content); err != nil && firstErr == nil {
			firstErr = err
		}
		return "[:$" + name + "$]"
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// Data returns the accumulated name -> content map.
func (e *Extractor) Data() map[string]string {
	return e.data
}

func (e *Extractor) save(name, content string) error {
	e.data[name] = content
	path := filepath.Join(e.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("save math var %s: %w", name, err)
	}
	return nil
}

// cleanSpan repairs escaping defects inside a span and wraps bare units in
// \text{} so they render upright.
func cleanSpan(content string) string {
	content = reDegreeDoubleSp.ReplaceAllString(content, `^{\circ}`)
	content = reDegreeDouble.ReplaceAllString(content, `^{\circ}`)
	content = reDegreeSp.ReplaceAllString(content, `^{\circ}`)
	content = reDegree.ReplaceAllString(content, `^{\circ}`)
	content = reDegreeEsc.ReplaceAllString(content, `^{\circ}`)
	content = reEmptyText.ReplaceAllString(content, " ")
	content = reThinSpace.ReplaceAllString(content, " ")

	if content != "" && len(content) <= 15 &&
		!reMathSymbols.MatchString(content) && reUnitChars.MatchString(content) {
		content = `\text{` + content + `}`
	}
	return content
}

// Placeholder reports whether name is one of this extractor's variables and
// returns its content.
func (e *Extractor) Placeholder(name string) (string, bool) {
	v, ok := e.data[name]
	return v, ok
}
