package redmap

import "strings"

// tagEscaper backslash-escapes every character that RediSearch treats as
// query syntax inside a TAG literal, including spaces and the default tag
// separator. Characters outside the set pass through untouched.
var tagEscaper = strings.NewReplacer(
	" ", "\\ ",
	",", "\\,",
	".", "\\.",
	"<", "\\<",
	">", "\\>",
	"{", "\\{",
	"}", "\\}",
	"[", "\\[",
	"]", "\\]",
	"\"", "\\\"",
	"'", "\\'",
	":", "\\:",
	";", "\\;",
	"!", "\\!",
	"@", "\\@",
	"#", "\\#",
	"$", "\\$",
	"%", "\\%",
	"^", "\\^",
	"&", "\\&",
	"*", "\\*",
	"(", "\\(",
	")", "\\)",
	"-", "\\-",
	"+", "\\+",
	"=", "\\=",
	"~", "\\~",
	"|", "\\|",
)

// textEscaper escapes query control characters in full-text phrases while
// leaving spaces alone so the engine still tokenizes the phrase.
var textEscaper = strings.NewReplacer(
	"{", "\\{",
	"}", "\\}",
	"[", "\\[",
	"]", "\\]",
	"(", "\\(",
	")", "\\)",
	"\"", "\\\"",
	"'", "\\'",
	":", "\\:",
	";", "\\;",
	"@", "\\@",
	"|", "\\|",
	"-", "\\-",
	"~", "\\~",
	"*", "\\*",
	"%", "\\%",
	"!", "\\!",
	"=", "\\=",
	"<", "\\<",
	">", "\\>",
	"+", "\\+",
)

// tagSignificant is the character set tagEscaper rewrites.
const tagSignificant = " ,.<>{}[]\"':;!@#$%^&*()-+=~|"

// EscapeTag escapes a raw value for safe embedding in a TAG clause.
// Safe strings pass through unchanged; empty input stays empty.
func EscapeTag(raw string) string {
	return tagEscaper.Replace(raw)
}

// escapeTagValue escapes raw plus the field's configured separator when that
// separator falls outside the fixed significant set.
func escapeTagValue(raw, sep string) string {
	out := tagEscaper.Replace(raw)
	if sep != "" && !strings.Contains(tagSignificant, sep) {
		out = strings.ReplaceAll(out, sep, "\\"+sep)
	}
	return out
}

// EscapeText escapes a raw phrase for safe embedding in a TEXT clause.
func EscapeText(raw string) string {
	return textEscaper.Replace(raw)
}
