// Copyright (C) 2021 Toitware ApS.
//
// This library is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; version
// 2.1 only.
//
// This library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// The license can be found in the file `LICENSE` in the top level
// directory of this repository.

package ifclause

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
	tokAnd
	tokOr
	tokOp
	tokConfig
	tokWord
	tokString
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of expression"
	}
	return fmt.Sprintf("%q", t.text)
}

var comparisonOps = []string{"<=", ">=", "==", "!=", "~=", "<", ">", "=", "~", "^"}

func isWordChar(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("_.-+*", c) >= 0
}

func tokenize(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			tokens = append(tokens, token{tokLParen, "(", i})
			i++
		case c == ')':
			tokens = append(tokens, token{tokRParen, ")", i})
			i++
		case c == '[':
			tokens = append(tokens, token{tokLBracket, "[", i})
			i++
		case c == ']':
			tokens = append(tokens, token{tokRBracket, "]", i})
			i++
		case c == ',':
			tokens = append(tokens, token{tokComma, ",", i})
			i++
		case strings.HasPrefix(src[i:], "&&"):
			tokens = append(tokens, token{tokAnd, "&&", i})
			i += 2
		case strings.HasPrefix(src[i:], "||"):
			tokens = append(tokens, token{tokOr, "||", i})
			i += 2
		case strings.HasPrefix(src[i:], "$CONFIG{"):
			end := strings.IndexByte(src[i:], '}')
			if end < 0 {
				return nil, syntaxError(src, i, "unterminated $CONFIG{")
			}
			name := src[i+len("$CONFIG{") : i+end]
			if name == "" {
				return nil, syntaxError(src, i, "empty $CONFIG name")
			}
			tokens = append(tokens, token{tokConfig, name, i})
			i += end + 1
		case c == '"' || c == '\'':
			end := strings.IndexByte(src[i+1:], c)
			if end < 0 {
				return nil, syntaxError(src, i, "unterminated string")
			}
			tokens = append(tokens, token{tokString, src[i+1 : i+1+end], i})
			i += end + 2
		case isWordChar(c):
			start := i
			for i < len(src) && isWordChar(src[i]) {
				i++
			}
			tokens = append(tokens, token{tokWord, src[start:i], start})
		default:
			op := ""
			for _, candidate := range comparisonOps {
				if strings.HasPrefix(src[i:], candidate) {
					op = candidate
					break
				}
			}
			if op == "" {
				return nil, syntaxError(src, i, fmt.Sprintf("unexpected character %q", c))
			}
			tokens = append(tokens, token{tokOp, op, i})
			i += len(op)
		}
	}
	tokens = append(tokens, token{tokEOF, "", len(src)})
	return tokens, nil
}
