package ocr

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/examforge/digitizer/cache"
	"github.com/examforge/digitizer/llm"
)

func TestCleanResponse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"code fences", "```latex\n\\frac{1}{2}\n```", `\frac{1}{2}`},
		{"document body", `\documentclass[12pt]{article}\begin{document}x + y\end{document}`, "x + y"},
		{"delimiters stripped", `\(a\) and $b$ and \[c\]`, "a and b and c"},
		{"equation env unwrapped", "\\begin{equation}\nE = mc^2\n\\end{equation}", "E = mc^2"},
		{"nested align star", `\begin{align*}\begin{align*}x\end{align*}\end{align*}`, "x"},
		{"size commands", `\Large x \small y`, "x y"},
		{"usepackage removed", `\usepackage{amsmath}v = 5`, "v = 5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanResponse(tt.in); got != tt.want {
				t.Errorf("CleanResponse(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

type fakeVision struct {
	calls int32
	reply string
	err   error
}

func (f *fakeVision) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, errors.New("not used")
}

func (f *fakeVision) ChatWithImages(ctx context.Context, req llm.VisionChatRequest) (*llm.ChatResponse, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{Content: f.reply}, nil
}

func newStore(t *testing.T) *cache.Store {
	t.Helper()
	s, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// writeMedia puts an image file under outDir/media.
func writeMedia(t *testing.T, outDir, name string, content []byte) {
	t.Helper()
	dir := filepath.Join(outDir, "media")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), content, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestProcessRecognizesVectorImages(t *testing.T) {
	outDir := t.TempDir()
	// The wmf reference resolves through its extracted png twin, so no
	// rasterizer binary is needed here.
	writeMedia(t, outDir, "image1.png", []byte("formula-bytes"))

	p := NewProcessor(&fakeVision{reply: "```latex\n\\frac{1}{2}\n```"}, "gpt-4o-mini", newStore(t), "magick", 4, nil)

	text := `Câu 1: Tính \pandocbounded{\includegraphics[width=1cm]{media/image1.wmf}} bằng?`
	got, err := p.Process(context.Background(), text, outDir)
	if err != nil {
		t.Fatal(err)
	}
	want := `Câu 1: Tính $\frac{1}{2}$ bằng?`
	if got != want {
		t.Errorf("Process = %q, want %q", got, want)
	}
}

func TestProcessCachesIdenticalImages(t *testing.T) {
	outDir := t.TempDir()
	writeMedia(t, outDir, "image1.png", []byte("same-bytes"))
	writeMedia(t, outDir, "image2.png", []byte("same-bytes"))

	fv := &fakeVision{reply: "x"}
	p := NewProcessor(fv, "gpt-4o-mini", newStore(t), "magick", 4, nil)

	text := `\includegraphics{media/image1.wmf} và \includegraphics{media/image2.wmf}`
	got, err := p.Process(context.Background(), text, outDir)
	if err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(&fv.calls); n != 1 {
		t.Errorf("identical images hit model %d times, want 1", n)
	}
	if got != "$x$ và $x$" {
		t.Errorf("Process = %q", got)
	}
}

func TestProcessRepeatedReferenceIsOneTask(t *testing.T) {
	outDir := t.TempDir()
	writeMedia(t, outDir, "image1.png", []byte("bytes"))

	fv := &fakeVision{reply: "y"}
	p := NewProcessor(fv, "gpt-4o-mini", newStore(t), "magick", 4, nil)

	text := `\includegraphics{media/image1.wmf} rồi lại \includegraphics{media/image1.wmf}`
	got, err := p.Process(context.Background(), text, outDir)
	if err != nil {
		t.Fatal(err)
	}
	if fv.calls != 1 {
		t.Errorf("same image recognized %d times, want 1", fv.calls)
	}
	if got != "$y$ rồi lại $y$" {
		t.Errorf("Process = %q", got)
	}
}

func TestProcessKeepsRasterImagesAsFigures(t *testing.T) {
	outDir := t.TempDir()
	writeMedia(t, outDir, "photo.png", []byte("picture"))

	fv := &fakeVision{reply: "unused"}
	p := NewProcessor(fv, "gpt-4o-mini", newStore(t), "magick", 4, nil)

	got, err := p.Process(context.Background(), `xem hình \includegraphics{media/photo.png}`, outDir)
	if err != nil {
		t.Fatal(err)
	}
	if fv.calls != 0 {
		t.Errorf("raster image sent to model %d times", fv.calls)
	}
	if !strings.Contains(got, `\includegraphics[max width=\linewidth,keepaspectratio]{media/photo.png}`) {
		t.Errorf("figure replacement missing: %q", got)
	}
	if !strings.Contains(got, `\begin{center}`) {
		t.Errorf("figure not centered: %q", got)
	}
}

func TestProcessFailureKeepsReference(t *testing.T) {
	outDir := t.TempDir()
	writeMedia(t, outDir, "image1.png", []byte("bytes"))

	p := NewProcessor(&fakeVision{err: errors.New("model down")}, "gpt-4o-mini", newStore(t), "magick", 4, nil)

	text := `trước \includegraphics{media/image1.wmf} sau`
	got, err := p.Process(context.Background(), text, outDir)
	if err != nil {
		t.Fatal(err)
	}
	if got != text {
		t.Errorf("failed recognition should keep reference, got %q", got)
	}
}

func TestProcessMissingFileUntouched(t *testing.T) {
	p := NewProcessor(&fakeVision{reply: "x"}, "gpt-4o-mini", newStore(t), "magick", 4, nil)

	text := `\includegraphics{media/ghost.wmf}`
	got, err := p.Process(context.Background(), text, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if got != text {
		t.Errorf("missing image reference changed: %q", got)
	}
}
