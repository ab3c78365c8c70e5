// Copyright 2026 Franklin "Snaipe" Mathieu.
//
// Use of this source code is governed by the MIT license that can be
// found in the LICENSE file.

package syntax

import (
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Error is a scanner/parser error tied to a position in the source text.
type Error struct {
	Cursor Cursor
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d:%d: %v", e.Cursor.Line, e.Cursor.Column, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UnexpectedTokenError is raised by the parser when the next token isn't
// one of the types it was expecting.
type UnexpectedTokenError []TokenType

func (e UnexpectedTokenError) Error() string {
	if len(e) == 0 {
		return "unexpected token"
	}
	names := make([]string, len(e))
	for i, typ := range e {
		names[i] = typ.String()
	}
	return fmt.Sprintf("expected one of %s", strings.Join(names, ", "))
}

// TokenTypeError wraps an UnexpectedTokenError (or any other cause) with the
// offending token, so that callers can inspect both what was expected and
// what was actually read.
type TokenTypeError struct {
	Token Token
	Err   error
}

func (e TokenTypeError) Error() string {
	got := e.Token.Type.String()
	if e.Token.Raw != "" {
		got = fmt.Sprintf("%s (%q)", got, e.Token.Raw)
	}
	if e.Err == nil {
		return fmt.Sprintf("unexpected %s", got)
	}
	return fmt.Sprintf("%v, got %s", e.Err, got)
}

func (e TokenTypeError) Unwrap() error {
	return e.Err
}

// identRegexp matches identifier-shaped runs of text against a POSIX
// alternation of named groups, picking for each group the longest prefix it
// can account for -- this is what lets lexIdentifier tell apart a bare name,
// a dotted interface name, a field name and a keyword from the same run of
// identifier characters.
type identRegexp struct {
	name string
	re   *regexp.Regexp
}

func mustCompileRegexp(name, pattern string) *identRegexp {
	return &identRegexp{
		name: name,
		re:   regexp.MustCompilePOSIX(pattern),
	}
}

// Accept consumes a maximal run of identifier characters from the lexer and
// returns the same shape regexp.Regexp.FindStringSubmatch would: index 0 is
// the overall (longest) match, and each subsequent index is that group's own
// match, or the empty string if the group didn't participate in the longest
// match.
func (re *identRegexp) Accept(l *Lexer) ([]string, error) {
	for {
		r, _, err := l.readRune()
		switch {
		case err == io.EOF:
			goto matched
		case err != nil:
			return nil, err
		case !isIdentifierChar(r, 0):
			if err := l.unreadRune(); err != nil {
				return nil, err
			}
			goto matched
		}
	}
matched:
	raw := l.tokenText()
	if raw == "" {
		return nil, io.EOF
	}

	m := re.re.FindStringSubmatch(raw)
	if m == nil {
		return nil, fmt.Errorf("%s: %q does not match", re.name, raw)
	}
	return m, nil
}
