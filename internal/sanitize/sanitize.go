// Package sanitize cleans text that Lua scripts hand back to worldline:
// action results stored in turn reports and messages passed to
// worldline.log. Reports are read by MCP clients, so markup that could be
// taken for instructions is stripped while the wording survives.
package sanitize

import (
	"regexp"
	"strings"
)

// MaxTextLength bounds one action result or log message.
const MaxTextLength = 500

var (
	// reTag matches XML/HTML tags, with attributes or self-closing, and
	// processing instructions like <?xml ...?>.
	reTag = regexp.MustCompile(`<[/?!]?[a-zA-Z][a-zA-Z0-9]*(?:\s+[^>]*)?/?>|<\?[^?]*\?>`)

	reHeading      = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	reRule         = regexp.MustCompile(`(?m)^[-*_]{3,}\s*$`)
	reFence        = regexp.MustCompile("```+")
	reManyNewlines = regexp.MustCompile(`\n{3,}`)
)

// Text cleans script output. In order it:
//  1. drops ASCII control characters other than \n and \t
//  2. drops XML/HTML tags
//  3. turns markdown headings into list items
//  4. drops horizontal rules
//  5. collapses code fences to a single backtick
//  6. collapses runs of blank lines
//  7. trims surrounding whitespace
//  8. truncates to MaxTextLength bytes without splitting a rune
func Text(input string) string {
	if input == "" {
		return ""
	}

	s := stripControlChars(input)
	s = reTag.ReplaceAllString(s, "")
	s = reHeading.ReplaceAllString(s, "- ")
	s = reRule.ReplaceAllString(s, "")
	s = reFence.ReplaceAllString(s, "`")
	s = reManyNewlines.ReplaceAllString(s, "\n\n")
	s = strings.TrimSpace(s)

	if len(s) > MaxTextLength {
		cut := MaxTextLength
		for cut > 0 && !isRuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return s
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// stripControlChars removes ASCII control characters (0x00-0x1F) and DEL,
// keeping newline and tab.
func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r < 0x20 && r != '\n' && r != '\t') || r == 0x7F {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
