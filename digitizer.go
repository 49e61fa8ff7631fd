// Package digitizer turns exam documents (.docx) into structured question
// data plus a self-contained HTML preview. The pipeline converts the
// document to LaTeX with pandoc, recognizes formula images through a vision
// model, rewrites tables to HTML, normalizes the markup and parses it into
// sections, questions and options.
package digitizer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/examforge/digitizer/cache"
	"github.com/examforge/digitizer/convert"
	"github.com/examforge/digitizer/llm"
	"github.com/examforge/digitizer/mathex"
	"github.com/examforge/digitizer/normalize"
	"github.com/examforge/digitizer/ocr"
	"github.com/examforge/digitizer/parse"
	"github.com/examforge/digitizer/pictures"
	"github.com/examforge/digitizer/postprocess"
	"github.com/examforge/digitizer/tables"
	"github.com/examforge/digitizer/viewer"
)

// QuestionsFileName is the structured output written into each job dir.
const QuestionsFileName = "questions.json"

// Pipeline is the entry point for document digitization.
type Pipeline interface {
	// Process digitizes one document into outDir. The directory is
	// recreated from scratch; a previous run's content is discarded.
	Process(ctx context.Context, inputPath, outDir string) (*Result, error)

	// Close flushes and closes the recognition cache.
	Close() error
}

// Result is the outcome of one processed document.
type Result struct {
	// Sections is the parsed question structure, identical to the content
	// of questions.json.
	Sections []*parse.Section `json:"questions_data"`

	// MathData maps externalized math variable names to their LaTeX.
	MathData map[string]string `json:"math_data"`

	// Pictures lists the figure commands separated out of question bodies,
	// deduplicated in document order. Empty when the document has none.
	Pictures []string `json:"pictures,omitempty"`

	// QuestionsPath and ViewerPath locate the written artifacts.
	QuestionsPath string `json:"-"`
	ViewerPath    string `json:"-"`
}

// Option overrides a pipeline component, mainly for testing.
type Option func(*pipeline)

// WithConverter replaces the pandoc converter.
func WithConverter(c convert.Converter) Option {
	return func(p *pipeline) { p.converter = c }
}

// WithVisionProvider replaces the formula recognition model.
func WithVisionProvider(v llm.VisionProvider) Option {
	return func(p *pipeline) { p.vision = v }
}

// WithTextProvider replaces the table conversion model.
func WithTextProvider(t llm.Provider) Option {
	return func(p *pipeline) { p.text = t }
}

// WithUploader replaces the picture storage backend.
func WithUploader(u pictures.Uploader) Option {
	return func(p *pipeline) { p.uploader = u }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(p *pipeline) { p.log = log }
}

type pipeline struct {
	cfg       Config
	converter convert.Converter
	vision    llm.VisionProvider
	text      llm.Provider
	uploader  pictures.Uploader
	store     *cache.Store
	log       *slog.Logger
}

// New creates a Pipeline from cfg. Zero values fall back to DefaultConfig
// equivalents; a vision model is required unless injected via options.
func New(cfg Config, opts ...Option) (Pipeline, error) {
	if cfg.PandocPath == "" {
		cfg.PandocPath = "pandoc"
	}
	if cfg.MagickPath == "" {
		cfg.MagickPath = "magick"
	}
	if cfg.CachePath == "" {
		cfg.CachePath = "latex_cache.db"
	}
	if cfg.OCRWorkers <= 0 {
		return nil, fmt.Errorf("%w: ocr_workers must be positive", ErrInvalidConfig)
	}

	p := &pipeline{cfg: cfg, log: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}

	if p.converter == nil {
		p.converter = convert.NewPandoc(cfg.PandocPath)
	}
	if p.vision == nil {
		v, err := llm.NewProvider(llm.Config{
			Provider:   cfg.Vision.Provider,
			Model:      cfg.Vision.Model,
			BaseURL:    cfg.Vision.BaseURL,
			APIKey:     cfg.Vision.APIKey,
			MaxRetries: cfg.LLMRetries,
			RetryDelay: cfg.LLMRetryDelay,
		})
		if err != nil {
			return nil, fmt.Errorf("creating vision provider: %w", err)
		}
		p.vision = v
	}
	if p.text == nil {
		tcfg := cfg.textLLM()
		t, err := llm.NewProvider(llm.Config{
			Provider:   tcfg.Provider,
			Model:      tcfg.Model,
			BaseURL:    tcfg.BaseURL,
			APIKey:     tcfg.APIKey,
			MaxRetries: cfg.LLMRetries,
			RetryDelay: cfg.LLMRetryDelay,
		})
		if err != nil {
			return nil, fmt.Errorf("creating text provider: %w", err)
		}
		p.text = t
	}
	if p.uploader == nil && cfg.Storage.Endpoint != "" {
		u, err := pictures.NewR2(pictures.R2Options{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			KeyPrefix: cfg.Storage.KeyPrefix,
			PublicURL: cfg.Storage.PublicURL,
		})
		if err != nil {
			return nil, fmt.Errorf("creating storage: %w", err)
		}
		p.uploader = u
	}

	store, err := cache.Open(cfg.CachePath)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	// Entries cached by earlier versions may carry fences or delimiters the
	// cleanup did not strip yet.
	store.Transform(ocr.CleanResponse)
	p.store = store

	return p, nil
}

func (p *pipeline) Close() error {
	return p.store.Close()
}

func (p *pipeline) Process(ctx context.Context, inputPath, outDir string) (*Result, error) {
	start := time.Now()

	if _, err := os.Stat(inputPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInputNotFound, inputPath)
	}
	ext := strings.ToLower(filepath.Ext(inputPath))
	if ext != ".doc" && ext != ".docx" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}

	if err := os.RemoveAll(outDir); err != nil {
		return nil, fmt.Errorf("reset output dir: %w", err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	stage := time.Now()
	text, err := p.converter.Convert(ctx, inputPath, outDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConversionFailed, err)
	}
	p.log.Info("document converted", "input", filepath.Base(inputPath), "elapsed", time.Since(stage))

	stage = time.Now()
	proc := ocr.NewProcessor(p.vision, p.cfg.Vision.Model, p.store, p.cfg.MagickPath, p.cfg.OCRWorkers, p.log)
	text, err = proc.Process(ctx, text, outDir)
	if err != nil {
		return nil, fmt.Errorf("formula recognition: %w", err)
	}
	p.log.Info("formulas recognized", "elapsed", time.Since(stage))

	stage = time.Now()
	rewriter := tables.NewRewriter(p.text, p.cfg.textLLM().Model, p.store, p.log)
	text = rewriter.Process(ctx, text)
	p.log.Info("tables converted", "elapsed", time.Since(stage))

	text = normalize.Apply(text)

	stage = time.Now()
	ex, err := mathex.NewExtractor(outDir)
	if err != nil {
		return nil, err
	}
	sections, err := parse.New(ex, p.log).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parsing questions: %w", err)
	}
	postprocess.Repair(sections)
	p.log.Info("questions parsed", "sections", len(sections), "elapsed", time.Since(stage))

	pics := pictures.Separate(sections)
	if p.uploader != nil && len(pics) > 0 {
		uploaded := pictures.Publish(ctx, sections, outDir, p.uploader, p.log)
		p.log.Info("pictures published", "uploaded", uploaded, "total", len(pics))
	}

	questionsPath := filepath.Join(outDir, QuestionsFileName)
	if err := writeJSON(questionsPath, sections); err != nil {
		return nil, err
	}

	viewerPath, err := viewer.Write(outDir, sections, ex.Data())
	if err != nil {
		return nil, err
	}

	if err := p.store.Flush(); err != nil {
		return nil, fmt.Errorf("flushing cache: %w", err)
	}

	p.log.Info("document digitized",
		"input", filepath.Base(inputPath),
		"sections", len(sections),
		"math_vars", len(ex.Data()),
		"pictures", len(pics),
		"elapsed", time.Since(start))

	return &Result{
		Sections:      sections,
		MathData:      ex.Data(),
		Pictures:      pics,
		QuestionsPath: questionsPath,
		ViewerPath:    viewerPath,
	}, nil
}

// writeJSON writes v indented and without HTML escaping, keeping tags in
// question content readable in the file.
func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return nil
}
