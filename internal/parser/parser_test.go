package parser

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/sqrlhq/sqrl/pkg/types"
)

func TestDetectFrustration(t *testing.T) {
	tests := []struct {
		text string
		want types.Frustration
	}{
		{"looks good, thanks", types.FrustrationNone},
		{"hmm that is odd", types.FrustrationMild},
		{"what is happening here??", types.FrustrationMild},
		{"why won't this compile", types.FrustrationModerate},
		{"it's still not working", types.FrustrationModerate},
		{"ugh, same error", types.FrustrationModerate},
		{"wtf is going on", types.FrustrationSevere},
		{"it broke AGAIN!!!", types.FrustrationSevere},
		// Highest tier wins when several signals are present.
		{"hmm wtf??", types.FrustrationSevere},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectFrustration(tt.text), "text: %q", tt.text)
	}
}

func TestIsErrorResult(t *testing.T) {
	errorTexts := []string{
		"Error: something broke",
		"Traceback (most recent call last):",
		"build FAILED",
		"ENOENT errno 2",
		"permission denied",
		"module not found",
		"SyntaxError: syntax error near token",
		"exception: boom",
	}
	for _, text := range errorTexts {
		assert.True(t, IsErrorResult(text), "text: %q", text)
	}

	assert.False(t, IsErrorResult("all 42 tests passed"))
	assert.False(t, IsErrorResult("wrote 3 files"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	long := strings.Repeat("x", 300)
	got := Truncate(long, MaxSnippetLength)
	assert.Len(t, got, MaxSnippetLength)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestTruncateKeepsUTF8Valid(t *testing.T) {
	// The cut position lands mid-rune: 196 ASCII bytes then two-byte runes.
	text := strings.Repeat("a", 196) + strings.Repeat("é", 10)
	got := Truncate(text, 200)

	assert.True(t, utf8.ValidString(got), "truncated text must stay valid UTF-8")
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.LessOrEqual(t, len(got), 200)
	assert.False(t, strings.ContainsRune(got, utf8.RuneError))

	// A cut on a rune boundary keeps the full budget.
	boundary := strings.Repeat("é", 200)
	got = Truncate(boundary, 201)
	assert.True(t, utf8.ValidString(got))
	assert.Len(t, got, 201)
}
