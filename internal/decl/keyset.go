// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package decl

import (
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/nvimwasm/pkg/apimodel"
	"github.com/holomush/nvimwasm/pkg/errutil"
)

// ParseKeysets parses a keyset header:
//
//	typedef struct {
//	  Object buffer;
//	  Object pattern;
//	} Dict(create_autocmd);
//
// Preprocessor lines and blank lines are ignored; anything before a typedef
// is skipped. Unlike function declarations, a malformed keyset is fatal.
func ParseKeysets(header string) ([]*apimodel.Keyset, error) {
	var kept []string
	for _, line := range strings.Split(header, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		kept = append(kept, line)
	}

	t, err := Tokenize(strings.Join(kept, "\n"))
	if err != nil {
		return nil, oops.In("decl").With("section", "keysets").Wrap(err)
	}

	var keysets []*apimodel.Keyset
	for {
		ks, err := parseKeyset(t)
		if err != nil {
			return nil, oops.In("decl").
				With("section", "keysets").
				With("parsed", len(keysets)).
				Hint("keyset headers must parse completely").
				Wrap(err)
		}
		if ks == nil {
			return keysets, nil
		}
		keysets = append(keysets, ks)
	}
}

// parseKeyset returns nil, nil when no typedef remains.
func parseKeyset(t *Tokenizer) (*apimodel.Keyset, error) {
	for {
		tok, err := t.Next()
		if err != nil {
			return nil, nil //nolint:nilerr // end of input ends the section
		}
		if tok == "typedef" {
			break
		}
	}
	if err := t.Expect("struct"); err != nil {
		return nil, err
	}
	if err := t.Expect("{"); err != nil {
		return nil, err
	}

	var fields []apimodel.Field
	for {
		tok, ok := t.Peek()
		if !ok {
			return nil, oops.In("decl").Code(errutil.CodeParse).Wrapf(ErrUnexpectedEOF, "expected '}'")
		}
		if tok == "}" {
			break
		}
		name, err := parseKeysetField(t)
		if err != nil {
			return nil, err
		}
		fields = append(fields, apimodel.Field{Name: name})
	}
	if err := t.Expect("}"); err != nil {
		return nil, err
	}

	typ, err := parseType(t)
	if err != nil {
		return nil, err
	}
	if typ.kind != caseKeyset {
		return nil, oops.In("decl").Code(errutil.CodeParse).Errorf("expected a keyset type Dict(...), got %s", typ)
	}
	return &apimodel.Keyset{Name: typ.keyset, Fields: fields}, nil
}

func parseKeysetField(t *Tokenizer) (string, error) {
	typ, err := parseType(t)
	if err != nil {
		return "", err
	}
	if typ.kind != caseNormal || typ.typ.Kind != apimodel.KindObject || typ.typ.Elem != nil {
		return "", oops.In("decl").Code(errutil.CodeParse).
			With("type", typ.String()).
			Errorf("keyset fields must be Object, got %s", typ)
	}
	name, err := t.Ident()
	if err != nil {
		return "", err
	}
	if err := t.Expect(";"); err != nil {
		return "", err
	}
	return name, nil
}
