package digitizer

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/examforge/digitizer/llm"
	"github.com/examforge/digitizer/parse"
)

const sampleDoc = `\textbf{PHẦN I. Trắc nghiệm}

Câu 1: Giá trị $x + 1$ là \pandocbounded{\includegraphics{media/image1.wmf}}?

\ul{A.} $2$ \textbf{B.} $3$

\textbf{PHẦN II. Đúng sai}

Câu 1: Xét các mệnh đề sau.

\ul{a.} đúng \textbf{b.} sai`

// fakeConverter stands in for pandoc: it emits a fixed document and the
// media files pandoc would have extracted.
type fakeConverter struct {
	doc string
	err error
}

func (f *fakeConverter) Convert(ctx context.Context, inputPath, outDir string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	dir := filepath.Join(outDir, "media")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "image1.png"), []byte("formula-bytes"), 0o644); err != nil {
		return "", err
	}
	return f.doc, nil
}

type fakeVision struct {
	calls int32
	reply string
}

func (f *fakeVision) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{Content: f.reply}, nil
}

func (f *fakeVision) ChatWithImages(ctx context.Context, req llm.VisionChatRequest) (*llm.ChatResponse, error) {
	atomic.AddInt32(&f.calls, 1)
	return &llm.ChatResponse{Content: f.reply}, nil
}

func newTestPipeline(t *testing.T, conv *fakeConverter, fv *fakeVision) Pipeline {
	t.Helper()
	cfg := DefaultConfig()
	cfg.CachePath = filepath.Join(t.TempDir(), "cache.db")

	p, err := New(cfg,
		WithConverter(conv),
		WithVisionProvider(fv),
		WithTextProvider(fv),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func writeInput(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("docx-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProcess(t *testing.T) {
	p := newTestPipeline(t, &fakeConverter{doc: sampleDoc}, &fakeVision{reply: `\frac{1}{2}`})
	outDir := filepath.Join(t.TempDir(), "job")

	res, err := p.Process(context.Background(), writeInput(t, "exam.docx"), outDir)
	if err != nil {
		t.Fatal(err)
	}

	if len(res.Sections) != 2 {
		t.Fatalf("got %d sections, want 2", len(res.Sections))
	}

	q1 := res.Sections[0].Questions[0]
	if q1.ID != "1" {
		t.Errorf("id = %q", q1.ID)
	}
	if !strings.Contains(q1.Question, "[:$mathm1_1$]") {
		t.Errorf("math not externalized: %q", q1.Question)
	}
	if strings.Contains(q1.Question, `\includegraphics`) || strings.Contains(q1.Question, `\frac`) {
		t.Errorf("raw latex leaked: %q", q1.Question)
	}
	if !q1.Correct.IsSingle() || q1.Correct.Key != "A" {
		t.Errorf("part I correct = %+v", q1.Correct)
	}

	q2 := res.Sections[1].Questions[0]
	if q2.Correct.IsSingle() {
		t.Errorf("part II correct should be map, got %q", q2.Correct.Key)
	}
	if !q2.Correct.Truth["A"] || q2.Correct.Truth["B"] {
		t.Errorf("part II truth = %v", q2.Correct.Truth)
	}

	// Recognized formula is served from math data.
	found := false
	for _, v := range res.MathData {
		if v == `\frac{1}{2}` {
			found = true
		}
	}
	if !found {
		t.Errorf("recognized formula missing from math data: %v", res.MathData)
	}

	// Artifacts on disk.
	var onDisk []*parse.Section
	b, err := os.ReadFile(res.QuestionsPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(b, &onDisk); err != nil {
		t.Fatalf("questions.json invalid: %v", err)
	}
	if len(onDisk) != 2 {
		t.Errorf("questions.json has %d sections", len(onDisk))
	}
	if _, err := os.Stat(res.ViewerPath); err != nil {
		t.Errorf("viewer missing: %v", err)
	}
	for name := range res.MathData {
		if _, err := os.Stat(filepath.Join(outDir, "maths", name)); err != nil {
			t.Errorf("math side file %s missing: %v", name, err)
		}
	}
}

func TestProcessIdempotent(t *testing.T) {
	fv := &fakeVision{reply: `\frac{1}{2}`}
	p := newTestPipeline(t, &fakeConverter{doc: sampleDoc}, fv)
	outDir := filepath.Join(t.TempDir(), "job")
	input := writeInput(t, "exam.docx")

	first, err := p.Process(context.Background(), input, outDir)
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.Process(context.Background(), input, outDir)
	if err != nil {
		t.Fatal(err)
	}

	fj, _ := json.Marshal(first.Sections)
	sj, _ := json.Marshal(second.Sections)
	if string(fj) != string(sj) {
		t.Errorf("results differ between runs:\n%s\n%s", fj, sj)
	}

	// The second run must be served entirely from cache.
	if n := atomic.LoadInt32(&fv.calls); n != 1 {
		t.Errorf("vision model called %d times across two runs, want 1", n)
	}
}

func TestProcessInputErrors(t *testing.T) {
	p := newTestPipeline(t, &fakeConverter{doc: sampleDoc}, &fakeVision{reply: "x"})
	ctx := context.Background()

	_, err := p.Process(ctx, filepath.Join(t.TempDir(), "ghost.docx"), t.TempDir())
	if !errors.Is(err, ErrInputNotFound) {
		t.Errorf("missing input: got %v", err)
	}

	_, err = p.Process(ctx, writeInput(t, "exam.pdf"), t.TempDir())
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("bad format: got %v", err)
	}
}

func TestProcessConversionFailure(t *testing.T) {
	p := newTestPipeline(t, &fakeConverter{err: errors.New("pandoc exploded")}, &fakeVision{reply: "x"})

	_, err := p.Process(context.Background(), writeInput(t, "exam.docx"), t.TempDir())
	if !errors.Is(err, ErrConversionFailed) {
		t.Errorf("got %v, want ErrConversionFailed", err)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OCRWorkers = 0
	if _, err := New(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("got %v, want ErrInvalidConfig", err)
	}
}
