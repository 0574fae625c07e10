package clickhouse

import (
	"maps"
	"regexp"
	"strings"
)

// FormatJSON is the output format requested for parsed selects.
const FormatJSON = "JSON"

// Query is an immutable SQL template together with its bound parameters.
//
// Templates support three kinds of tokens, rendered in this order:
//
//	{if name}A{else}B{/if}  keeps A when name is bound to a truthy value, else B
//	{name}                  raw substitution, for identifiers such as table names
//	:name                   value binding, quoted and escaped for ClickHouse
//
// Tokens of the form {name:Type} are ClickHouse server-side parameters and are
// left untouched. {name} and :name tokens inside quoted literals, quoted
// identifiers and comments are not substituted, nor is :name after a :: cast.
type Query struct {
	template string
	params   Bindings
	format   string
}

// NewQuery creates a Query. The params map is copied.
func NewQuery(template string, params Bindings) *Query {
	return &Query{template: template, params: maps.Clone(params)}
}

// WithFormat returns a copy of q that appends "FORMAT f" when rendered, unless
// the template already ends with a FORMAT clause. An empty f disables it.
func (q *Query) WithFormat(f string) *Query {
	return &Query{template: q.template, params: q.params, format: f}
}

// Template returns the unrendered template.
func (q *Query) Template() string { return q.template }

// Format returns the output format appended on render.
func (q *Query) Format() string { return q.format }

// SQL renders the query. Rendering is pure: the same Query always produces
// the same text.
func (q *Query) SQL() (string, error) {
	sql, err := Render(q.template, q.params)
	if err != nil {
		return "", err
	}
	return appendFormat(sql, q.format), nil
}

// Render expands a template with params. It fails with a *QueryError wrapping
// ErrMissingParam when a token references an unbound name.
//
// {name} and :name tokens are resolved in one pass after the conditionals, so
// text produced by a substitution is never scanned again.
func Render(template string, params Bindings) (string, error) {
	sql, err := renderConditionals(template, params)
	if err != nil {
		return "", err
	}
	return renderTokens(sql, params)
}

const (
	ifOpen  = "{if "
	ifElse  = "{else}"
	ifClose = "{/if}"
)

func renderConditionals(s string, params Bindings) (string, error) {
	var b strings.Builder
	for {
		i := strings.Index(s, ifOpen)
		if i < 0 {
			if strings.Contains(s, ifElse) || strings.Contains(s, ifClose) {
				return "", newQueryError(ErrUnbalancedIf, "stray {else} or {/if}")
			}
			b.WriteString(s)
			return b.String(), nil
		}
		if strings.Contains(s[:i], ifElse) || strings.Contains(s[:i], ifClose) {
			return "", newQueryError(ErrUnbalancedIf, "stray {else} or {/if}")
		}
		b.WriteString(s[:i])

		rest := s[i+len(ifOpen):]
		end := strings.IndexByte(rest, '}')
		if end < 0 {
			return "", newQueryError(ErrUnbalancedIf, "unterminated {if")
		}
		name := strings.TrimSpace(rest[:end])

		thenPart, elsePart, after, ok := splitIf(rest[end+1:])
		if !ok {
			return "", newQueryError(ErrUnbalancedIf, "missing {/if} for {if %s}", name)
		}

		chosen := elsePart
		if params[name].Truthy() {
			chosen = thenPart
		}
		rendered, err := renderConditionals(chosen, params)
		if err != nil {
			return "", err
		}
		b.WriteString(rendered)
		s = after
	}
}

// splitIf splits the text following an {if name} tag into its branches and
// the remainder after the matching {/if}, honoring nested blocks.
func splitIf(s string) (thenPart, elsePart, after string, ok bool) {
	depth := 0
	elseAt := -1
	for i := 0; i < len(s); i++ {
		switch {
		case strings.HasPrefix(s[i:], ifOpen):
			depth++
		case strings.HasPrefix(s[i:], ifElse):
			if depth == 0 && elseAt < 0 {
				elseAt = i
			}
		case strings.HasPrefix(s[i:], ifClose):
			if depth > 0 {
				depth--
				continue
			}
			if elseAt < 0 {
				return s[:i], "", s[i+len(ifClose):], true
			}
			return s[:elseAt], s[elseAt+len(ifElse) : i], s[i+len(ifClose):], true
		}
	}
	return "", "", "", false
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// renderTokens replaces {name} and :name tokens outside of quoted text and
// comments.
func renderTokens(s string, params Bindings) (string, error) {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			j := skipQuoted(s, i)
			b.WriteString(s[i:j])
			i = j - 1
		case c == '-' && i+1 < len(s) && s[i+1] == '-':
			j := strings.IndexByte(s[i:], '\n')
			if j < 0 {
				j = len(s) - i
			}
			b.WriteString(s[i : i+j])
			i += j - 1
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			end := skipBlockComment(s, i)
			b.WriteString(s[i:end])
			i = end - 1
		case c == '{':
			j := identEnd(s, i+1)
			if j == i+1 || j >= len(s) || s[j] != '}' {
				// Not a raw token, e.g. a {id:UInt32} server-side parameter.
				b.WriteByte(c)
				continue
			}
			name := s[i+1 : j]
			v, ok := params[name]
			if !ok {
				return "", newQueryError(ErrMissingParam, "{%s}", name)
			}
			b.WriteString(v.Text())
			i = j
		case c == ':' && i+1 < len(s) && s[i+1] == ':':
			b.WriteString("::")
			i++
		case c == ':' && identEnd(s, i+1) > i+1 && (i == 0 || !isIdentChar(s[i-1])):
			j := identEnd(s, i+1)
			name := s[i+1 : j]
			v, ok := params[name]
			if !ok {
				return "", newQueryError(ErrMissingParam, ":%s", name)
			}
			if v.Kind() == KindArray && i > 0 && s[i-1] == '(' && j < len(s) && s[j] == ')' {
				// Already parenthesized by the template, as in IN (:ids).
				b.WriteString(v.listLiteral())
			} else {
				b.WriteString(v.Literal())
			}
			i = j - 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

// identEnd returns the index just past the identifier starting at i, or i if
// there is none.
func identEnd(s string, i int) int {
	if i >= len(s) || !isIdentStart(s[i]) {
		return i
	}
	j := i + 1
	for j < len(s) && isIdentChar(s[j]) {
		j++
	}
	return j
}

// skipBlockComment returns the index just past the /* */ comment starting at
// i, or len(s) when it is unterminated.
func skipBlockComment(s string, i int) int {
	if j := strings.Index(s[i+2:], "*/"); j >= 0 {
		return i + 2 + j + 2
	}
	return len(s)
}

// trailingComment returns the start of a -- comment that runs to the end of
// s, or -1.
func trailingComment(s string) int {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(s, i) - 1
		case c == '-' && i+1 < len(s) && s[i+1] == '-':
			j := strings.IndexByte(s[i:], '\n')
			if j < 0 {
				return i
			}
			i += j
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			i = skipBlockComment(s, i) - 1
		}
	}
	return -1
}

// skipQuoted returns the index just past the quoted section starting at i.
// Backslash escapes and doubled quotes are honored.
func skipQuoted(s string, i int) int {
	q := s[i]
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case q:
			if j+1 < len(s) && s[j+1] == q {
				j++
				continue
			}
			return j + 1
		}
	}
	return len(s)
}

var formatClause = regexp.MustCompile(`(?i)\bFORMAT\s+[A-Za-z0-9_]+\s*;?\s*$`)

// appendFormat adds a FORMAT clause to sql. A trailing -- comment is kept
// after the clause so it does not swallow it.
func appendFormat(sql, format string) string {
	if format == "" {
		return sql
	}
	code, comment := sql, ""
	if i := trailingComment(sql); i >= 0 {
		code, comment = sql[:i], sql[i:]
	}
	if formatClause.MatchString(code) {
		return sql
	}
	out := strings.TrimRight(code, " \t\r\n;") + " FORMAT " + format
	if comment != "" {
		out += "\n" + comment
	}
	return out
}
