package textextract

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Errors the extractor distinguishes for callers. The submission flow maps
// these onto its own error taxonomy.
var (
	ErrUnsupportedFormat = fmt.Errorf("unsupported file format")
	ErrTooLarge          = fmt.Errorf("file exceeds size limit")
)

// Result is the extracted plain text plus simple derived stats.
type Result struct {
	Text      string
	WordCount int
}

// Extractor turns an uploaded file into plain text. Implementations must be
// safe for concurrent use.
type Extractor interface {
	Extract(r io.Reader, filename, contentType string, sizeLimit int64) (*Result, error)
}

// PlainTextExtractor handles text-native formats (plain text, markdown).
// Anything else is rejected with ErrUnsupportedFormat rather than guessed at.
type PlainTextExtractor struct{}

// NewPlainTextExtractor constructs the extractor.
func NewPlainTextExtractor() *PlainTextExtractor {
	return &PlainTextExtractor{}
}

var supportedExtensions = map[string]struct{}{
	".txt":      {},
	".md":       {},
	".markdown": {},
}

var supportedContentTypes = map[string]struct{}{
	"text/plain":    {},
	"text/markdown": {},
}

// Extract reads at most sizeLimit bytes and returns the normalized text.
func (e *PlainTextExtractor) Extract(r io.Reader, filename, contentType string, sizeLimit int64) (*Result, error) {
	if !supported(filename, contentType) {
		return nil, ErrUnsupportedFormat
	}

	if sizeLimit <= 0 {
		sizeLimit = 5 * 1024 * 1024
	}
	limited := io.LimitReader(r, sizeLimit+1)
	raw, err := io.ReadAll(bufio.NewReader(limited))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(raw)) > sizeLimit {
		return nil, ErrTooLarge
	}
	if !utf8.Valid(raw) {
		return nil, ErrUnsupportedFormat
	}

	text := normalize(string(raw))
	if text == "" {
		return nil, fmt.Errorf("empty document")
	}

	return &Result{Text: text, WordCount: countWords(text)}, nil
}

func supported(filename, contentType string) bool {
	if mediaType := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0])); mediaType != "" {
		if _, ok := supportedContentTypes[mediaType]; ok {
			return true
		}
	}
	name := strings.ToLower(filename)
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		if _, ok := supportedExtensions[name[idx:]]; ok {
			return true
		}
	}
	return false
}

func normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimPrefix(text, "\ufeff")
	return strings.TrimSpace(text)
}

func countWords(text string) int {
	count := 0
	inWord := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			inWord = false
			continue
		}
		if !inWord {
			count++
			inWord = true
		}
	}
	return count
}
