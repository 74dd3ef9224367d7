// Package reader implements the DocumentReader collaborator contract:
// turning a file on disk into the (text, detected_name) pair the core
// pipeline consumes. Binary format parsing is deliberately kept outside
// the fact-extraction core; this package is the adapter boundary.
package reader

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// DocumentReader reads a single document format into plain UTF-8 text.
type DocumentReader interface {
	SupportedFormats() []string
	Read(ctx context.Context, path string) (text string, err error)
}

// Registry dispatches to a DocumentReader by file extension.
type Registry struct {
	readers map[string]DocumentReader
}

// NewRegistry returns a Registry with the built-in text, DOCX, and PDF
// readers registered.
func NewRegistry() *Registry {
	r := &Registry{readers: make(map[string]DocumentReader)}
	for _, rd := range []DocumentReader{&TextReader{}, &DOCXReader{}, &PDFReader{}} {
		for _, f := range rd.SupportedFormats() {
			r.readers[f] = rd
		}
	}
	return r
}

// Register adds or overrides the reader used for a given extension.
func (r *Registry) Register(format string, rd DocumentReader) {
	r.readers[format] = rd
}

// Read detects the format from path's extension and dispatches to the
// matching reader, returning the extracted text and a detected document
// name derived from the file's base name.
func (r *Registry) Read(ctx context.Context, path string) (text, detectedName string, err error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	rd, ok := r.readers[ext]
	if !ok {
		return "", "", fmt.Errorf("reader: %w: %s", errUnsupportedFormat, ext)
	}

	text, err = rd.Read(ctx, path)
	if err != nil {
		return "", "", err
	}
	return text, filepath.Base(path), nil
}

var errUnsupportedFormat = fmt.Errorf("unsupported document format")

// IsUnsupportedFormat reports whether err came from an unrecognized
// extension.
func IsUnsupportedFormat(err error) bool {
	return err != nil && strings.Contains(err.Error(), errUnsupportedFormat.Error())
}
