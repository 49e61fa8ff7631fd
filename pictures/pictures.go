// Package pictures moves figure commands out of question and answer bodies
// into dedicated picture fields and publishes the image files to object
// storage, leaving public URLs behind. A failed upload keeps the LaTeX
// command so nothing is lost.
package pictures

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/examforge/digitizer/parse"
)

var (
	reFigure    = regexp.MustCompile(`\\includegraphics(?:\[[^\]]*\])?\{[^}]+\}`)
	reFigPath   = regexp.MustCompile(`\\includegraphics(?:\[[^\]]*\])?\{([^}]+)\}`)
	reSpaceRun  = regexp.MustCompile(`\s+`)
	reBlankLine = regexp.MustCompile(`\n\s*\n`)
)

// Uploader publishes a local file under the given storage key and returns
// its public URL.
type Uploader interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
}

// Separate hoists the first figure of each question statement and answer
// into its Picture field and strips all figure commands from the body.
// It returns the document-level list of hoisted commands, deduplicated in
// order of appearance.
func Separate(sections []*parse.Section) []string {
	var all []string
	for _, sec := range sections {
		for _, q := range sec.Questions {
			if text, first := hoist(q.Question); first != "" {
				q.Question = text
				q.Picture = first
				all = append(all, first)
			}
			for _, a := range q.Answers {
				if text, first := hoist(a.Content); first != "" {
					a.Content = text
					a.Picture = first
					all = append(all, first)
				}
			}
		}
	}

	seen := make(map[string]bool, len(all))
	unique := all[:0]
	for _, pic := range all {
		if !seen[pic] {
			seen[pic] = true
			unique = append(unique, pic)
		}
	}
	return unique
}

func hoist(text string) (string, string) {
	matches := reFigure.FindAllString(text, -1)
	if len(matches) == 0 {
		return text, ""
	}
	for _, m := range matches {
		text = strings.ReplaceAll(text, m, " ")
	}
	text = reSpaceRun.ReplaceAllString(text, " ")
	text = reBlankLine.ReplaceAllString(text, "\n")
	return strings.TrimSpace(text), matches[0]
}

// Publish uploads every hoisted picture found under outDir and replaces the
// Picture fields with public URLs. It returns the number of uploads that
// succeeded; failures are logged and leave the LaTeX command in place.
func Publish(ctx context.Context, sections []*parse.Section, outDir string, up Uploader, log *slog.Logger) int {
	if up == nil {
		return 0
	}
	if log == nil {
		log = slog.Default()
	}

	uploaded := 0
	for _, sec := range sections {
		for _, q := range sec.Questions {
			if url, ok := publishOne(ctx, q.Picture, outDir, up, log); ok {
				q.Picture = url
				uploaded++
			}
			for _, a := range q.Answers {
				if url, ok := publishOne(ctx, a.Picture, outDir, up, log); ok {
					a.Picture = url
					uploaded++
				}
			}
		}
	}
	return uploaded
}

func publishOne(ctx context.Context, latex, outDir string, up Uploader, log *slog.Logger) (string, bool) {
	if latex == "" || !strings.HasPrefix(latex, `\includegraphics`) {
		return "", false
	}
	m := reFigPath.FindStringSubmatch(latex)
	if m == nil {
		return "", false
	}
	local := filepath.Join(outDir, filepath.FromSlash(m[1]))
	if fi, err := os.Stat(local); err != nil || fi.IsDir() {
		log.Warn("picture file missing, keeping latex", "path", m[1])
		return "", false
	}

	key := timestampName(filepath.Ext(local))
	url, err := up.Upload(ctx, local, key)
	if err != nil {
		log.Warn("picture upload failed, keeping latex", "path", m[1], "error", err)
		return "", false
	}
	return url, true
}

// timestampName builds a storage file name unique to the millisecond.
func timestampName(ext string) string {
	now := time.Now()
	return fmt.Sprintf("%s_%03d%s", now.Format("20060102_150405"), now.Nanosecond()/1e6, ext)
}
