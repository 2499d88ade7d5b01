package db

import (
	"strings"
	"unicode"
)

type scanMode int

const (
	scanPlain scanMode = iota
	scanSingleQuote
	scanDoubleQuote
	scanLineComment
	scanBlockComment
	scanDollarQuote
)

// splitStatements splits a migration script into individual statements on
// semicolons, respecting quotes, comments, and dollar-quoted bodies so a
// DO $$ ... $$ block stays one statement. Comments are dropped.
func splitStatements(script string) []string {
	var (
		out  []string
		stmt strings.Builder
	)

	mode := scanPlain
	tag := ""

	flush := func() {
		if s := strings.TrimSpace(stmt.String()); s != "" {
			out = append(out, s)
		}

		stmt.Reset()
	}

	for i := 0; i < len(script); i++ {
		ch := script[i]

		switch mode {
		case scanLineComment:
			if ch == '\n' {
				mode = scanPlain
				stmt.WriteByte(ch)
			}

		case scanBlockComment:
			if ch == '*' && i+1 < len(script) && script[i+1] == '/' {
				mode = scanPlain
				i++
			}

		case scanSingleQuote:
			stmt.WriteByte(ch)

			if ch == '\'' {
				mode = scanPlain
			}

		case scanDoubleQuote:
			stmt.WriteByte(ch)

			if ch == '"' {
				mode = scanPlain
			}

		case scanDollarQuote:
			if strings.HasPrefix(script[i:], tag) {
				stmt.WriteString(tag)
				i += len(tag) - 1
				tag = ""
				mode = scanPlain

				continue
			}

			stmt.WriteByte(ch)

		case scanPlain:
			switch {
			case ch == '-' && i+1 < len(script) && script[i+1] == '-':
				mode = scanLineComment
				i++

			case ch == '/' && i+1 < len(script) && script[i+1] == '*':
				mode = scanBlockComment
				i++

			case ch == '\'':
				mode = scanSingleQuote
				stmt.WriteByte(ch)

			case ch == '"':
				mode = scanDoubleQuote
				stmt.WriteByte(ch)

			case ch == '$':
				if t, width := dollarTagAt(script[i:]); t != "" {
					mode = scanDollarQuote
					tag = t
					stmt.WriteString(t)
					i += width - 1

					continue
				}

				stmt.WriteByte(ch)

			case ch == ';':
				flush()

			default:
				stmt.WriteByte(ch)
			}
		}
	}

	flush()

	return out
}

// dollarTagAt reports the dollar-quote tag starting the string, like $$ or
// $body$, and its byte width. It returns "" when the leading $ is something
// else, such as a positional parameter.
func dollarTagAt(s string) (string, int) {
	if s == "" || s[0] != '$' {
		return "", 0
	}

	for i := 1; i < len(s); i++ {
		ch := s[i]

		if ch == '$' {
			return s[:i+1], i + 1
		}

		if ch != '_' && !unicode.IsLetter(rune(ch)) && !unicode.IsDigit(rune(ch)) {
			return "", 0
		}
	}

	return "", 0
}

// migrationVersion extracts the numeric prefix of a migration filename,
// "0001" from "0001_create_timeseries_points.up.sql".
func migrationVersion(filename string) string {
	if idx := strings.IndexByte(filename, '_'); idx > 0 {
		return filename[:idx]
	}

	return filename
}
