// Package ocr recognizes formula images embedded in converter output. Legacy
// vector formats (WMF/EMF) are rasterized and sent to a vision model; plain
// raster images are kept as figures. Recognition runs on a bounded worker
// pool and is cached by image content hash.
package ocr

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/examforge/digitizer/cache"
	"github.com/examforge/digitizer/llm"
)

const ocrPrompt = `Convert this image to LaTeX. If it contains text, output valid LaTeX text. If it contains math, use LaTeX math mode ($...$). Preserve formatting like bolding (\textbf). Do NOT use document delimiters. Return clean content.`

var (
	reImageRef = regexp.MustCompile(`(?i)\{([^}]+?)\.(wmf|emf|jpeg|jpg|png)\}`)

	// Pandoc wraps some references in \pandocbounded{...}; the whole command
	// is replaced in one shot so no wrapper braces survive.
	reIncludeGraphics = regexp.MustCompile(`(?i)(?:\\pandocbounded\{)?\s*\\includegraphics(?:\[[^\]]*\])?\{[^}]+\.(?:wmf|emf|jpeg|jpg|png)\}(?:\})?`)

	reFence        = regexp.MustCompile(`(?s)\\begin\{document\}(.*?)\\end\{document\}`)
	reDocClass     = regexp.MustCompile(`\\documentclass(?:\[[^\]]*\])?\{[^}]*\}`)
	reUsePackage   = regexp.MustCompile(`\\usepackage\{[^}]*\}`)
	reSizeCommands = regexp.MustCompile(`\\(Huge|huge|LARGE|Large|large|normalsize|small|footnotesize|scriptsize|tiny)\s*`)

	mathEnvPatterns = compileMathEnvs()
)

func compileMathEnvs() []*regexp.Regexp {
	envs := []string{"equation", "align", "gather", "split", "multline"}
	out := make([]*regexp.Regexp, 0, len(envs))
	for _, env := range envs {
		out = append(out, regexp.MustCompile(`(?s)\\begin\{`+env+`\*?\}(.*?)\\end\{`+env+`\*?\}`))
	}
	return out
}

// CleanResponse strips everything a model adds around recognized content:
// code fences, document scaffolding, math delimiters and size commands. The
// pipeline re-wraps the result in single dollars itself.
func CleanResponse(code string) string {
	if code == "" {
		return ""
	}
	code = strings.ReplaceAll(code, "```latex", "")
	code = strings.ReplaceAll(code, "```", "")
	code = strings.TrimSpace(code)

	if m := reFence.FindStringSubmatch(code); m != nil {
		code = strings.TrimSpace(m[1])
	}
	code = strings.NewReplacer(`\[`, "", `\]`, "", `\(`, "", `\)`, "", "$", "").Replace(code)

	for _, re := range mathEnvPatterns {
		for re.MatchString(code) {
			code = re.ReplaceAllString(code, "$1")
		}
	}
	code = reDocClass.ReplaceAllString(code, "")
	code = reUsePackage.ReplaceAllString(code, "")
	code = reSizeCommands.ReplaceAllString(code, "")
	return strings.TrimSpace(code)
}

// Processor replaces image references in converter output with recognized
// LaTeX (formulas) or figure environments (pictures).
type Processor struct {
	provider llm.VisionProvider
	model    string
	cache    *cache.Store
	magick   string
	workers  int
	log      *slog.Logger
}

// NewProcessor builds a Processor. workers bounds concurrent model calls.
func NewProcessor(provider llm.VisionProvider, model string, store *cache.Store, magickPath string, workers int, log *slog.Logger) *Processor {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		provider: provider,
		model:    model,
		cache:    store,
		magick:   magickPath,
		workers:  workers,
		log:      log,
	}
}

type task struct {
	filename string // e.g. image3.wmf
	path     string // absolute path under outDir/media
	raster   bool   // already png/jpg, no conversion needed
}

// Process scans text for image references under outDir/media, recognizes the
// vector ones concurrently and substitutes results at every occurrence.
// Failed recognitions leave their reference untouched; a flush error or
// cancellation is the only fatal outcome.
func (p *Processor) Process(ctx context.Context, text, outDir string) (string, error) {
	tasks, figures := p.scan(text, outDir)
	p.log.Info("formula images identified", "count", len(tasks))

	results := make(map[string]string, len(tasks))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, t := range tasks {
		g.Go(func() error {
			code, err := p.recognize(gctx, t)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				p.log.Warn("ocr failed, keeping reference", "image", t.filename, "error", err)
				return nil
			}
			mu.Lock()
			results[t.filename] = "$" + code + "$"
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	if err := p.cache.Flush(); err != nil {
		return "", fmt.Errorf("flush ocr cache: %w", err)
	}

	out := reIncludeGraphics.ReplaceAllStringFunc(text, func(cmd string) string {
		m := reImageRef.FindStringSubmatch(cmd)
		if m == nil {
			return cmd
		}
		fname := filepath.Base(m[1]) + "." + strings.ToLower(m[2])
		if code, ok := results[fname]; ok {
			return code
		}
		if fig, ok := figures[fname]; ok {
			return fig
		}
		return cmd
	})
	return out, nil
}

// scan collects deduplicated OCR tasks for vector images and figure
// replacements for raster ones. References whose file is missing are skipped
// unless a raster twin with the same basename exists.
func (p *Processor) scan(text, outDir string) ([]task, map[string]string) {
	var tasks []task
	seen := make(map[string]bool)
	figures := make(map[string]string)

	for _, m := range reImageRef.FindAllStringSubmatch(text, -1) {
		ext := strings.ToLower(m[2])
		fname := filepath.Base(m[1]) + "." + ext
		if seen[fname] {
			continue
		}
		seen[fname] = true

		path := filepath.Join(outDir, "media", fname)
		raster := ext == "png" || ext == "jpg" || ext == "jpeg"
		if _, err := os.Stat(path); err != nil {
			if raster {
				continue
			}
			// Converters sometimes extract a png next to a wmf reference.
			twin := strings.TrimSuffix(path, filepath.Ext(path)) + ".png"
			if _, err := os.Stat(twin); err != nil {
				p.log.Warn("referenced image missing", "image", fname)
				continue
			}
			tasks = append(tasks, task{filename: fname, path: twin, raster: true})
			continue
		}

		if raster {
			figures[fname] = "\n\\begin{center}\n\\includegraphics[max width=\\linewidth,keepaspectratio]{media/" + fname + "}\n\\end{center}\n"
			continue
		}
		tasks = append(tasks, task{filename: fname, path: path})
	}
	return tasks, figures
}

// recognize rasterizes the image if needed and runs the vision model on it,
// deduplicating identical images through the content-hash cache.
func (p *Processor) recognize(ctx context.Context, t task) (string, error) {
	path := t.path
	if !t.raster {
		png := strings.TrimSuffix(path, filepath.Ext(path)) + "_gpt_temp.png"
		if _, err := os.Stat(png); err != nil {
			if err := p.rasterize(ctx, path, png); err != nil {
				return "", err
			}
		}
		defer os.Remove(png)
		path = png
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return p.cache.Do(cache.HashBytes(data), func() (string, error) {
		return p.callModel(ctx, data)
	})
}

// rasterize converts a WMF/EMF to a white-background PNG sized for OCR:
// small images are upscaled to 1024px wide, oversized ones capped at 2048.
func (p *Processor) rasterize(ctx context.Context, input, output string) error {
	cmd := exec.CommandContext(ctx, p.magick,
		input,
		"-density", "300",
		"-background", "white",
		"-flatten",
		"-resize", "1024x<",
		"-resize", "2048x>",
		"png:"+output)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("rasterize %s: %w: %s", filepath.Base(input), err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (p *Processor) callModel(ctx context.Context, image []byte) (string, error) {
	resp, err := p.provider.ChatWithImages(ctx, llm.VisionChatRequest{
		Model: p.model,
		Messages: []llm.VisionMessage{{
			Role: "user",
			Content: []llm.ContentPart{
				{Type: "text", Text: ocrPrompt},
				{Type: "image_url", ImageURL: &llm.ImageURL{
					URL:    "data:image/png;base64," + base64.StdEncoding.EncodeToString(image),
					Detail: "low",
				}},
			},
		}},
		Temperature: 0.0,
		MaxTokens:   300,
	})
	if err != nil {
		return "", err
	}
	code := CleanResponse(resp.Content)
	if code == "" {
		return "", fmt.Errorf("empty recognition result")
	}
	return code, nil
}
