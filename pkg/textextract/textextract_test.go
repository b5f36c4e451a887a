package textextract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPlainText(t *testing.T) {
	e := NewPlainTextExtractor()

	res, err := e.Extract(strings.NewReader("Hello world.\r\nSecond line.\n"), "essay.txt", "text/plain", 1024)
	require.NoError(t, err)
	assert.Equal(t, "Hello world.\nSecond line.", res.Text)
	assert.Equal(t, 4, res.WordCount)
}

func TestExtractByExtensionWhenContentTypeMissing(t *testing.T) {
	e := NewPlainTextExtractor()

	res, err := e.Extract(strings.NewReader("# Title\n\nbody"), "essay.md", "", 1024)
	require.NoError(t, err)
	assert.Equal(t, 3, res.WordCount)
}

func TestExtractRejectsUnsupportedFormat(t *testing.T) {
	e := NewPlainTextExtractor()

	_, err := e.Extract(strings.NewReader("%PDF-1.4"), "essay.pdf", "application/pdf", 1024)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestExtractRejectsOversizedFile(t *testing.T) {
	e := NewPlainTextExtractor()

	_, err := e.Extract(strings.NewReader(strings.Repeat("a", 64)), "essay.txt", "text/plain", 16)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestExtractRejectsBinaryContent(t *testing.T) {
	e := NewPlainTextExtractor()

	_, err := e.Extract(strings.NewReader("\xff\xfe\x00"), "essay.txt", "text/plain", 1024)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
