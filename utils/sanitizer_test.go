package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeHTML(t *testing.T) {
	out := SanitizeHTML(`<p onclick="evil()">Hi</p><script>alert(1)</script>`)
	assert.Contains(t, out, "Hi")
	assert.NotContains(t, out, "script")
	assert.NotContains(t, out, "onclick")
}

func TestHTMLToText(t *testing.T) {
	out := HTMLToText(`<div>Hello <b>world</b></div><style>p{color:red}</style><p>bye</p>`)
	assert.Contains(t, out, "Hello world")
	assert.Contains(t, out, "bye")
	assert.NotContains(t, out, "color")
}

func TestCreatePreview(t *testing.T) {
	assert.Equal(t, "short text", CreatePreview("  short\n  text  "))

	long := strings.Repeat("word ", 60)
	preview := CreatePreview(long)
	assert.True(t, strings.HasSuffix(preview, "..."))
	assert.LessOrEqual(t, len(preview), 153)
	assert.False(t, strings.HasSuffix(strings.TrimSuffix(preview, "..."), " "))
}
