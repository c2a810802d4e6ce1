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

// Expr is a parsed if-clause.
type Expr struct {
	src  string
	root node
}

type node interface {
	eval(f *Facts) (bool, error)
	String() string
}

type lvalueKind int

const (
	lvIDFVersion lvalueKind = iota
	lvTarget
	lvConfig
	lvWord
)

type lvalue struct {
	kind lvalueKind
	name string
}

func (lv lvalue) String() string {
	switch lv.kind {
	case lvIDFVersion:
		return "idf_version"
	case lvTarget:
		return "target"
	case lvConfig:
		return "$CONFIG{" + lv.name + "}"
	}
	return lv.name
}

// literal is an rvalue. Its type is decided at evaluation time, depending
// on the type of the lvalue.
type literal struct {
	text   string
	quoted bool
}

func (l literal) String() string {
	if l.quoted {
		return "\"" + l.text + "\""
	}
	return l.text
}

type orNode struct{ left, right node }
type andNode struct{ left, right node }

type comparison struct {
	left  lvalue
	op    string
	right literal
}

type membership struct {
	left   lvalue
	negate bool
	items  []literal
	// substr is used when the right-hand side is a string instead of a list.
	substr *literal
}

func (n *orNode) String() string  { return "(" + n.left.String() + " || " + n.right.String() + ")" }
func (n *andNode) String() string { return "(" + n.left.String() + " && " + n.right.String() + ")" }

func (n *comparison) String() string {
	return n.left.String() + " " + n.op + " " + n.right.String()
}

func (n *membership) String() string {
	op := "in"
	if n.negate {
		op = "not in"
	}
	if n.substr != nil {
		return n.left.String() + " " + op + " " + n.substr.String()
	}
	items := make([]string, len(n.items))
	for i, it := range n.items {
		items[i] = it.String()
	}
	return n.left.String() + " " + op + " [" + strings.Join(items, ", ") + "]"
}

type parser struct {
	src    string
	tokens []token
	pos    int
}

// Parse parses an if-clause.
func Parse(src string) (*Expr, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, tokens: tokens}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, p.errorAt(tok, fmt.Sprintf("unexpected %s", tok))
	}
	return &Expr{src: src, root: root}, nil
}

// MustParse is like Parse but panics on errors.
func MustParse(src string) *Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) errorAt(tok token, msg string) error {
	return syntaxError(p.src, tok.pos, msg)
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	tok := p.next()
	if tok.kind != kind {
		return tok, p.errorAt(tok, fmt.Sprintf("expected %s, got %s", what, tok))
	}
	return tok, nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &orNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseAtom()
		if err != nil {
			return nil, err
		}
		left = &andNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAtom() (node, error) {
	tok := p.next()
	var lv lvalue
	switch tok.kind {
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil
	case tokConfig:
		lv = lvalue{kind: lvConfig, name: tok.text}
	case tokWord:
		switch tok.text {
		case "idf_version":
			lv = lvalue{kind: lvIDFVersion}
		case "target":
			lv = lvalue{kind: lvTarget}
		default:
			lv = lvalue{kind: lvWord, name: tok.text}
		}
	default:
		return nil, p.errorAt(tok, fmt.Sprintf("expected a condition, got %s", tok))
	}

	opTok := p.next()
	switch {
	case opTok.kind == tokOp:
		rv, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		return &comparison{left: lv, op: opTok.text, right: rv}, nil
	case opTok.kind == tokWord && opTok.text == "in":
		return p.parseMembership(lv, false)
	case opTok.kind == tokWord && opTok.text == "not":
		if _, err := p.expectWord("in"); err != nil {
			return nil, err
		}
		return p.parseMembership(lv, true)
	}
	return nil, p.errorAt(opTok, fmt.Sprintf("expected an operator, got %s", opTok))
}

func (p *parser) expectWord(w string) (token, error) {
	tok := p.next()
	if tok.kind != tokWord || tok.text != w {
		return tok, p.errorAt(tok, fmt.Sprintf("expected '%s', got %s", w, tok))
	}
	return tok, nil
}

func (p *parser) parseLiteral() (literal, error) {
	tok := p.next()
	switch tok.kind {
	case tokWord:
		return literal{text: tok.text}, nil
	case tokString:
		return literal{text: tok.text, quoted: true}, nil
	}
	return literal{}, p.errorAt(tok, fmt.Sprintf("expected a value, got %s", tok))
}

func (p *parser) parseMembership(lv lvalue, negate bool) (node, error) {
	if p.peek().kind == tokString {
		lit, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		return &membership{left: lv, negate: negate, substr: &lit}, nil
	}
	if _, err := p.expect(tokLBracket, "'['"); err != nil {
		return nil, err
	}
	m := &membership{left: lv, negate: negate}
	for {
		lit, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		m.items = append(m.items, lit)
		tok := p.next()
		if tok.kind == tokRBracket {
			return m, nil
		}
		if tok.kind != tokComma {
			return nil, p.errorAt(tok, fmt.Sprintf("expected ',' or ']', got %s", tok))
		}
	}
}

// String returns the source of the expression.
func (e *Expr) String() string {
	return e.src
}

// ConfigNames returns the names of all configuration options the
// expression refers to.
func (e *Expr) ConfigNames() []string {
	var result []string
	var walk func(n node)
	walk = func(n node) {
		switch n := n.(type) {
		case *orNode:
			walk(n.left)
			walk(n.right)
		case *andNode:
			walk(n.left)
			walk(n.right)
		case *comparison:
			if n.left.kind == lvConfig {
				result = append(result, n.left.name)
			}
		case *membership:
			if n.left.kind == lvConfig {
				result = append(result, n.left.name)
			}
		}
	}
	walk(e.root)
	return result
}
