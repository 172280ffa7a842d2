// Package extract turns uploaded files into plain text for chunking.
package extract

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var ErrUnsupported = errors.New("file type not supported")

type extractor func(data []byte) (string, error)

var extractors = map[string]extractor{
	".txt":  plainText,
	".text": plainText,
	".md":   markdownText,
	".csv":  csvText,
	".pdf":  pdfText,
	".docx": docxText,
	".pptx": pptxText,
	".xlsx": spreadsheetText,
	".xlsm": spreadsheetText,
}

// Supported reports whether filename has an extension Text can read.
func Supported(filename string) bool {
	_, ok := extractors[ext(filename)]
	return ok
}

// Text extracts the plain text of data, picking the reader by extension.
func Text(filename string, data []byte) (string, error) {
	fn, ok := extractors[ext(filename)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupported, filepath.Ext(filename))
	}
	out, err := fn(data)
	if err != nil {
		return "", fmt.Errorf("extract %s failed: %w", filepath.Base(filename), err)
	}
	return normalize(out), nil
}

func ext(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

func plainText(data []byte) (string, error) {
	return string(data), nil
}

var blankLines = regexp.MustCompile(`\n{3,}`)

func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
