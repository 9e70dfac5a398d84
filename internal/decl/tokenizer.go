// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package decl

import (
	"errors"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
	"github.com/samber/oops"

	"github.com/holomush/nvimwasm/pkg/errutil"
)

// ErrUnexpectedEOF is wrapped by every error caused by running out of tokens.
var ErrUnexpectedEOF = errors.New("unexpected end of input")

// declLexer splits a declaration into punctuation and word tokens. The five
// punctuation characters are always single tokens; any other run of
// non-space characters is one word. Go's \s is exactly ASCII whitespace.
var declLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Punct", Pattern: `[(),*;]`},
	{Name: "Word", Pattern: `[^\s(),*;]+`},
	{Name: "whitespace", Pattern: `\s+`},
})

var (
	punctType      = declLexer.Symbols()["Punct"]
	whitespaceType = declLexer.Symbols()["whitespace"]
)

// Tokenizer is a cursor over the tokens of one declaration with a single
// token of lookahead. It is not safe for concurrent use.
type Tokenizer struct {
	toks []lexer.Token
	pos  int
}

// Tokenize lexes text into a Tokenizer positioned at the first token.
func Tokenize(text string) (*Tokenizer, error) {
	lex, err := declLexer.Lex("", strings.NewReader(text))
	if err != nil {
		return nil, oops.In("decl").Code(errutil.CodeParse).Wrap(err)
	}
	all, err := lexer.ConsumeAll(lex)
	if err != nil {
		return nil, oops.In("decl").Code(errutil.CodeParse).Wrap(err)
	}
	toks := make([]lexer.Token, 0, len(all))
	for _, tok := range all {
		if tok.EOF() || tok.Type == whitespaceType {
			continue
		}
		toks = append(toks, tok)
	}
	return &Tokenizer{toks: toks}, nil
}

// Peek returns the next token without consuming it. ok is false at the end
// of input. Repeated calls return the same token.
func (t *Tokenizer) Peek() (tok string, ok bool) {
	if t.pos >= len(t.toks) {
		return "", false
	}
	return t.toks[t.pos].Value, true
}

// Next consumes and returns the next token.
func (t *Tokenizer) Next() (string, error) {
	if t.pos >= len(t.toks) {
		return "", oops.In("decl").Code(errutil.CodeParse).Wrap(ErrUnexpectedEOF)
	}
	tok := t.toks[t.pos]
	t.pos++
	return tok.Value, nil
}

// Done reports whether every token has been consumed.
func (t *Tokenizer) Done() bool {
	return t.pos >= len(t.toks)
}

// Expect consumes the next token and fails unless it equals want.
func (t *Tokenizer) Expect(want string) error {
	if t.pos >= len(t.toks) {
		return oops.In("decl").Code(errutil.CodeParse).Wrapf(ErrUnexpectedEOF, "expected %q", want)
	}
	got := t.toks[t.pos].Value
	if got != want {
		return oops.In("decl").Code(errutil.CodeParse).
			With("column", t.toks[t.pos].Pos.Column).
			Errorf("expected %q, got %q", want, got)
	}
	t.pos++
	return nil
}

// Ident consumes the next token, which must not be punctuation.
func (t *Tokenizer) Ident() (string, error) {
	if t.pos >= len(t.toks) {
		return "", oops.In("decl").Code(errutil.CodeParse).Wrapf(ErrUnexpectedEOF, "expected an identifier")
	}
	tok := t.toks[t.pos]
	if tok.Type == punctType {
		return "", oops.In("decl").Code(errutil.CodeParse).
			With("column", tok.Pos.Column).
			Errorf("expected an identifier, got %q", tok.Value)
	}
	t.pos++
	return tok.Value, nil
}

// Number consumes the next token as a 32-bit signed integer.
func (t *Tokenizer) Number() (int32, error) {
	tok, err := t.Next()
	if err != nil {
		return 0, oops.In("decl").Code(errutil.CodeParse).Wrapf(err, "expected a number")
	}
	n, err := strconv.ParseInt(tok, 10, 32)
	if err != nil {
		return 0, oops.In("decl").Code(errutil.CodeParse).With("token", tok).Wrapf(err, "expected a number, got %q", tok)
	}
	return int32(n), nil
}
