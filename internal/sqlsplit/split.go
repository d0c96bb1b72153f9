// Package sqlsplit splits a migration body into individual SQL statements.
package sqlsplit

import "strings"

// Split breaks body on top-level semicolons. Semicolons inside quoted strings,
// quoted identifiers, comments and PostgreSQL dollar-quoted bodies are kept.
// Statements that contain only whitespace or comments are dropped.
func Split(body string) []string {
	var (
		stmts []string
		start int
	)

	flush := func(end int) {
		stmt := strings.TrimSpace(body[start:end])
		if stmt != "" && !onlyComments(stmt) {
			stmts = append(stmts, stmt)
		}
	}

	for i := 0; i < len(body); {
		c := body[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(body, i, c)
		case c == '-' && strings.HasPrefix(body[i:], "--"):
			i = skipLine(body, i)
		case c == '/' && strings.HasPrefix(body[i:], "/*"):
			i = skipBlock(body, i)
		case c == '$':
			if tag, ok := dollarTag(body, i); ok {
				i = skipDollar(body, i, tag)
			} else {
				i++
			}
		case c == ';':
			flush(i)
			i++
			start = i
		default:
			i++
		}
	}
	flush(len(body))

	return stmts
}

func skipQuoted(s string, i int, quote byte) int {
	i++
	for i < len(s) {
		if s[i] == quote {
			// A doubled quote is an escaped quote.
			if i+1 < len(s) && s[i+1] == quote {
				i += 2
				continue
			}
			return i + 1
		}
		if s[i] == '\\' && quote != '`' && i+1 < len(s) {
			i += 2
			continue
		}
		i++
	}
	return i
}

func skipLine(s string, i int) int {
	if j := strings.IndexByte(s[i:], '\n'); j >= 0 {
		return i + j + 1
	}
	return len(s)
}

func skipBlock(s string, i int) int {
	if j := strings.Index(s[i+2:], "*/"); j >= 0 {
		return i + 2 + j + 2
	}
	return len(s)
}

// dollarTag recognizes $$ and $tag$ openers.
func dollarTag(s string, i int) (string, bool) {
	j := i + 1
	for j < len(s) && (isIdent(s[j])) {
		j++
	}
	if j < len(s) && s[j] == '$' {
		// $1 style placeholders start with a digit and are not tags.
		if j > i+1 && s[i+1] >= '0' && s[i+1] <= '9' {
			return "", false
		}
		return s[i : j+1], true
	}
	return "", false
}

func skipDollar(s string, i int, tag string) int {
	body := i + len(tag)
	if j := strings.Index(s[body:], tag); j >= 0 {
		return body + j + len(tag)
	}
	return len(s)
}

func isIdent(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func onlyComments(stmt string) bool {
	for i := 0; i < len(stmt); {
		switch {
		case strings.HasPrefix(stmt[i:], "--"):
			i = skipLine(stmt, i)
		case strings.HasPrefix(stmt[i:], "/*"):
			i = skipBlock(stmt, i)
		case stmt[i] == ' ' || stmt[i] == '\t' || stmt[i] == '\n' || stmt[i] == '\r':
			i++
		default:
			return false
		}
	}
	return true
}
