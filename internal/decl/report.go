// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package decl

import (
	"context"
	"log/slog"
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/nvimwasm/pkg/apimodel"
	"github.com/holomush/nvimwasm/pkg/errutil"
)

// Skipped records a declaration line that did not parse.
type Skipped struct {
	Source string
	Line   int
	Text   string
	Err    error
}

// Report is the outcome of parsing a batch of function declarations.
type Report struct {
	Funcs   []*apimodel.Func
	Skipped []Skipped
}

// LogSkipped writes one debug record per skipped line.
func (r *Report) LogSkipped(ctx context.Context, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, s := range r.Skipped {
		logger.DebugContext(ctx, "skipped declaration",
			"source", s.Source,
			"line", s.Line,
			"code", errutil.Code(s.Err),
			"error", s.Err)
	}
}

type parseOptions struct {
	source string
	strict bool
}

// Option configures ParseFuncs and ParseAPI.
type Option func(*parseOptions)

// Strict makes the first unparsable declaration fail the whole batch.
func Strict() Option {
	return func(o *parseOptions) { o.strict = true }
}

// WithSource names the input in skip records and errors.
func WithSource(name string) Option {
	return func(o *parseOptions) { o.source = name }
}

// isDeclarationCandidate filters out blank and preprocessor lines, which are
// never declarations and are not reported as skipped.
func isDeclarationCandidate(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed != "" && !strings.HasPrefix(trimmed, "#")
}

// ParseFuncs parses every line of text as a function declaration. Lines that
// fail are collected in Report.Skipped; with Strict the first failure is
// returned as an error instead.
func ParseFuncs(text string, keysets apimodel.KeysetIndex, opts ...Option) (*Report, error) {
	var o parseOptions
	for _, opt := range opts {
		opt(&o)
	}
	report := &Report{}
	if err := parseFuncsInto(report, text, keysets, o); err != nil {
		return nil, err
	}
	return report, nil
}

func parseFuncsInto(report *Report, text string, keysets apimodel.KeysetIndex, o parseOptions) error {
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if !isDeclarationCandidate(line) {
			continue
		}
		f, err := ParseFunc(line, keysets)
		if err == nil {
			report.Funcs = append(report.Funcs, f)
			continue
		}
		if o.strict {
			return oops.In("decl").
				With("source", o.source).
				With("line", i+1).
				Hint("strict mode rejects unparsable declarations").
				Wrap(err)
		}
		report.Skipped = append(report.Skipped, Skipped{
			Source: o.source,
			Line:   i + 1,
			Text:   line,
			Err:    err,
		})
	}
	return nil
}

// Source is a named block of declaration text.
type Source struct {
	Name string
	Text string
}

// ParseAPI parses the keyset header first, indexes it, then parses every
// function source against that index.
func ParseAPI(keysetHeader string, sources []Source, opts ...Option) (*apimodel.API, *Report, error) {
	var o parseOptions
	for _, opt := range opts {
		opt(&o)
	}

	keysets, err := ParseKeysets(keysetHeader)
	if err != nil {
		return nil, nil, err
	}
	index := apimodel.IndexKeysets(keysets)

	report := &Report{}
	for _, src := range sources {
		so := o
		so.source = src.Name
		if err := parseFuncsInto(report, src.Text, index, so); err != nil {
			return nil, nil, err
		}
	}
	return apimodel.New(keysets, report.Funcs), report, nil
}
