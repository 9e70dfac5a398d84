// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package decl parses C-style host API prototypes into an apimodel.API.
//
// Function declarations are parsed one line at a time. A line that does not
// fit the grammar is skipped and reported; keyset headers are parsed as a
// whole and any failure aborts the run.
package decl

import (
	"fmt"

	"github.com/samber/oops"

	"github.com/holomush/nvimwasm/pkg/apimodel"
	"github.com/holomush/nvimwasm/pkg/errutil"
)

const dllexport = "DLLEXPORT"

// typeCase distinguishes the roles a declared type can play.
type typeCase int

const (
	caseNormal typeCase = iota
	caseKeyset
	caseVoid
	caseChannelID
	caseArena
	caseError
)

func (c typeCase) String() string {
	switch c {
	case caseNormal:
		return "normal"
	case caseKeyset:
		return "keyset"
	case caseVoid:
		return "void"
	case caseChannelID:
		return "uint64_t"
	case caseArena:
		return "Arena"
	case caseError:
		return "Error"
	default:
		return fmt.Sprintf("typeCase(%d)", int(c))
	}
}

type parsedType struct {
	kind   typeCase
	typ    apimodel.Type
	keyset string
}

func (p parsedType) String() string {
	switch p.kind {
	case caseNormal:
		return p.typ.String()
	case caseKeyset:
		return "Dict(" + p.keyset + ")"
	default:
		return p.kind.String()
	}
}

// isPointer reports whether the argument must be declared with '*'.
func (p parsedType) isPointer() bool {
	return p.kind == caseKeyset || p.kind == caseArena || p.kind == caseError
}

type parsedArg struct {
	typ  parsedType
	name string
}

// parseParenthesized reads "(" word ")".
func parseParenthesized(t *Tokenizer) (string, error) {
	if err := t.Expect("("); err != nil {
		return "", err
	}
	word, err := t.Ident()
	if err != nil {
		return "", err
	}
	if err := t.Expect(")"); err != nil {
		return "", err
	}
	return word, nil
}

func parseType(t *Tokenizer) (parsedType, error) {
	name, err := t.Ident()
	if err != nil {
		return parsedType{}, err
	}
	switch name {
	case "void":
		return parsedType{kind: caseVoid}, nil
	case "uint64_t":
		return parsedType{kind: caseChannelID}, nil
	case "Error":
		return parsedType{kind: caseError}, nil
	case "Arena":
		return parsedType{kind: caseArena}, nil
	case "Dict":
		keyset, err := parseParenthesized(t)
		if err != nil {
			return parsedType{}, err
		}
		return parsedType{kind: caseKeyset, keyset: keyset}, nil
	case "ArrayOf", "DictionaryOf":
		inner, err := parseParenthesized(t)
		if err != nil {
			return parsedType{}, err
		}
		elem, ok := apimodel.SimpleType(inner)
		if !ok {
			return parsedType{}, oops.In("decl").Code(errutil.CodeUnknownType).
				With("type", inner).
				Errorf("type %q is not a valid inner type for %s", inner, name)
		}
		if name == "ArrayOf" {
			return parsedType{typ: apimodel.ArrayOf(elem)}, nil
		}
		return parsedType{typ: apimodel.DictionaryOf(elem)}, nil
	}
	typ, ok := apimodel.SimpleType(name)
	if !ok {
		return parsedType{}, oops.In("decl").Code(errutil.CodeUnknownType).
			With("type", name).
			Errorf("unknown type %q", name)
	}
	return parsedType{typ: typ}, nil
}

func parseArg(t *Tokenizer) (parsedArg, error) {
	typ, err := parseType(t)
	if err != nil {
		return parsedArg{}, err
	}
	if typ.kind == caseVoid {
		return parsedArg{typ: typ}, nil
	}
	if typ.isPointer() {
		if err := t.Expect("*"); err != nil {
			return parsedArg{}, err
		}
	}
	name, err := t.Ident()
	if err != nil {
		return parsedArg{}, err
	}
	return parsedArg{typ: typ, name: name}, nil
}

func parseArgs(t *Tokenizer) ([]parsedArg, error) {
	if err := t.Expect("("); err != nil {
		return nil, err
	}
	var args []parsedArg
	for {
		arg, err := parseArg(t)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)

		tok, err := t.Next()
		if err != nil {
			return nil, err
		}
		switch tok {
		case ")":
			return args, nil
		case ",":
		default:
			return nil, oops.In("decl").Code(errutil.CodeParse).Errorf("expected ',' or ')', got %q", tok)
		}
	}
}

func parseAttr(t *Tokenizer, attrs *apimodel.Attrs) error {
	attr, err := t.Ident()
	if err != nil {
		return err
	}
	switch attr {
	case "FUNC_API_SINCE":
		if err := t.Expect("("); err != nil {
			return err
		}
		version, err := t.Number()
		if err != nil {
			return err
		}
		if err := t.Expect(")"); err != nil {
			return err
		}
		attrs.Since = &version
	case "FUNC_API_FAST":
		attrs.Fast = true
	case "FUNC_API_REMOTE_ONLY":
		attrs.RemoteOnly = true
	case "FUNC_API_CHECK_TEXTLOCK":
		attrs.CheckTextLock = true
	default:
		return oops.In("decl").Code(errutil.CodeParse).With("attribute", attr).Errorf("unknown attribute %q", attr)
	}
	return nil
}

// ParseFunc parses a single function declaration such as
//
//	Integer nvim_get_vvar(String name, Error *err) FUNC_API_SINCE(1);
//
// Dict(name) arguments resolve against keysets, which must hold every keyset
// the declaration mentions.
func ParseFunc(line string, keysets apimodel.KeysetIndex) (*apimodel.Func, error) {
	t, err := Tokenize(line)
	if err != nil {
		return nil, err
	}
	first, ok := t.Peek()
	if !ok {
		return nil, oops.In("decl").Code(errutil.CodeParse).Wrap(ErrUnexpectedEOF)
	}
	if first == dllexport {
		_, _ = t.Next()
	}

	ret, err := parseType(t)
	if err != nil {
		return nil, err
	}
	f := &apimodel.Func{}
	switch ret.kind {
	case caseNormal:
		typ := ret.typ
		f.Return.Type = &typ
	case caseVoid:
	default:
		return nil, oops.In("decl").Code(errutil.CodeParse).Errorf("unexpected return type %s", ret)
	}

	if f.Name, err = t.Ident(); err != nil {
		return nil, err
	}
	args, err := parseArgs(t)
	if err != nil {
		return nil, oops.In("decl").With("func", f.Name).Wrap(err)
	}

	for {
		tok, ok := t.Peek()
		if !ok {
			return nil, oops.In("decl").Code(errutil.CodeParse).With("func", f.Name).
				Wrapf(ErrUnexpectedEOF, "expected ';' or attributes")
		}
		if tok == ";" {
			break
		}
		if err := parseAttr(t, &f.Attrs); err != nil {
			return nil, oops.In("decl").With("func", f.Name).Wrap(err)
		}
	}

	for _, arg := range args {
		switch arg.typ.kind {
		case caseVoid:
			if len(args) > 1 {
				return nil, oops.In("decl").Code(errutil.CodeParse).With("func", f.Name).
					Errorf("void must be the only argument")
			}
		case caseChannelID:
			f.HasChannelID = true
		case caseArena:
			f.HasArena = true
		case caseError:
			f.Return.HasError = true
		case caseNormal:
			f.Params = append(f.Params, apimodel.Param{Name: arg.name, Type: arg.typ.typ})
		case caseKeyset:
			ks, ok := keysets.Lookup(arg.typ.keyset)
			if !ok {
				return nil, oops.In("decl").Code(errutil.CodeUnresolvedKeyset).
					With("func", f.Name).
					With("keyset", arg.typ.keyset).
					Errorf("unknown keyset %q", arg.typ.keyset)
			}
			f.Params = append(f.Params, apimodel.Param{Name: arg.name, Type: apimodel.KeysetOf(ks)})
		}
	}
	return f, nil
}
