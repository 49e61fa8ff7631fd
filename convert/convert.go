// Package convert turns binary word-processor documents into LaTeX markup by
// driving an external conversion tool, extracting embedded media alongside.
package convert

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Converter produces markup text from a document file, extracting embedded
// media into outDir. An empty result is reported as an error: conversion has
// no fallback and the job must abort.
type Converter interface {
	Convert(ctx context.Context, inputPath, outDir string) (string, error)
}

// Pandoc invokes the pandoc binary to convert DOC/DOCX to LaTeX.
type Pandoc struct {
	// Path is the pandoc binary; defaults to "pandoc" from PATH.
	Path string
}

// NewPandoc creates a pandoc-backed converter.
func NewPandoc(path string) *Pandoc {
	if path == "" {
		path = "pandoc"
	}
	return &Pandoc{Path: path}
}

// tempOutputName is the intermediate .tex file pandoc writes into outDir;
// it is read back and removed before returning.
const tempOutputName = "temp_pandoc.tex"

// Convert runs pandoc with media extraction into outDir and returns the
// produced LaTeX text.
func (p *Pandoc) Convert(ctx context.Context, inputPath, outDir string) (string, error) {
	absInput, err := filepath.Abs(inputPath)
	if err != nil {
		return "", fmt.Errorf("resolving input path: %w", err)
	}
	if _, err := os.Stat(absInput); err != nil {
		return "", fmt.Errorf("input document: %w", err)
	}
	absOut, err := filepath.Abs(outDir)
	if err != nil {
		return "", fmt.Errorf("resolving output dir: %w", err)
	}

	outFile := filepath.Join(absOut, tempOutputName)

	cmd := exec.CommandContext(ctx, p.Path,
		absInput,
		"-f", "docx",
		"-t", "latex",
		"--wrap=none",
		"--extract-media="+absOut,
		"-o", outFile,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	slog.Info("convert: running pandoc", "input", filepath.Base(absInput), "out", absOut)
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("pandoc failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	data, err := os.ReadFile(outFile)
	if err != nil {
		return "", fmt.Errorf("reading pandoc output: %w", err)
	}
	// The .tex intermediate is not an artifact; only the text matters.
	os.Remove(outFile)

	content := string(data)
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("pandoc produced empty output for %s", filepath.Base(absInput))
	}
	return content, nil
}
