// Package parser converts AI-tool session logs into Episodes. Each supported
// log format implements the Parser interface so the ingest pipeline stays
// format-agnostic.
package parser

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/sqrlhq/sqrl/pkg/types"
)

// Parser is the log-source contract. One implementation exists per supported
// AI-tool log format.
type Parser interface {
	// GetSessions returns session log files for a project, oldest first by
	// modification time. An empty projectRoot means all known projects.
	GetSessions(projectRoot string) ([]string, error)

	// ParseSession parses one session file into episodes. An unreadable or
	// empty session yields an empty slice, not an error.
	ParseSession(sessionPath string) ([]types.Episode, error)
}

// ParseAll parses every session for a project through p.
func ParseAll(p Parser, projectRoot string) ([]types.Episode, error) {
	sessions, err := p.GetSessions(projectRoot)
	if err != nil {
		return nil, err
	}
	var episodes []types.Episode
	for _, s := range sessions {
		eps, err := p.ParseSession(s)
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, eps...)
	}
	return episodes, nil
}

// MaxSnippetLength is the truncation limit for event summaries.
const MaxSnippetLength = 200

// frustrationPatterns are checked highest tier first; the first match wins.
var frustrationPatterns = []struct {
	level    types.Frustration
	patterns []*regexp.Regexp
}{
	{types.FrustrationSevere, compileAll(
		`\b(fuck|shit|damn|wtf|ffs)\b`,
		`!!{2,}`,
	)},
	{types.FrustrationModerate, compileAll(
		`\b(finally|ugh|argh|sigh)\b`,
		`\b(why (won't|doesn't|isn't|can't))`,
		`\b(still (not|doesn't|won't))`,
	)},
	{types.FrustrationMild, compileAll(
		`\b(hmm|hm+)\b`,
		`\?{2,}`,
	)},
}

// errorPatterns flag a tool result as failed.
var errorPatterns = compileAll(
	`error:`,
	`exception:`,
	`traceback`,
	`failed`,
	`errno`,
	`permission denied`,
	`not found`,
	`syntax error`,
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// DetectFrustration returns the frustration level signalled by a user
// message, or FrustrationNone.
func DetectFrustration(text string) types.Frustration {
	lower := strings.ToLower(text)
	for _, tier := range frustrationPatterns {
		for _, re := range tier.patterns {
			if re.MatchString(lower) {
				return tier.level
			}
		}
	}
	return types.FrustrationNone
}

// IsErrorResult reports whether a tool-result text indicates an error.
func IsErrorResult(text string) bool {
	lower := strings.ToLower(text)
	for _, re := range errorPatterns {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

// Truncate shortens text to at most maxLen bytes with a trailing ellipsis
// marker, never cutting through a multi-byte rune.
func Truncate(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	cut := maxLen - 3
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}
