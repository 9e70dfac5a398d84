// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package capability decides which host API functions a plugin instance may
// call.
//
// Grants are gobwas/glob patterns over API function names with '_' as the
// segment separator:
//   - '*' matches a single segment: "nvim_get_*" matches "nvim_get_mode"
//     but not "nvim_get_current_buf"
//   - '**' matches any number of segments: "nvim_buf_**" matches every
//     buffer function
//   - "**" alone grants the whole API
package capability

import (
	"sort"
	"sync"

	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/holomush/nvimwasm/pkg/errutil"
)

// All grants every API function.
const All = "**"

type compiledGrant struct {
	pattern string
	glob    glob.Glob
}

// Enforcer holds the grants of every loaded plugin instance.
//
// Enforcer is safe for concurrent use. The zero value is ready to use.
type Enforcer struct {
	grants map[string][]compiledGrant
	mu     sync.RWMutex
}

// NewEnforcer creates an empty enforcer.
func NewEnforcer() *Enforcer {
	return &Enforcer{grants: make(map[string][]compiledGrant)}
}

// Compile validates patterns without registering them.
func Compile(patterns []string) error {
	_, err := compile(patterns)
	return err
}

func compile(patterns []string) ([]compiledGrant, error) {
	compiled := make([]compiledGrant, len(patterns))
	for i, pattern := range patterns {
		if pattern == "" {
			return nil, oops.In("capability").
				Code(errutil.CodeInvalidArgument).
				With("index", i).
				Errorf("capability %d: empty pattern", i)
		}
		g, err := glob.Compile(pattern, '_')
		if err != nil {
			return nil, oops.In("capability").
				Code(errutil.CodeInvalidArgument).
				With("index", i).
				With("pattern", pattern).
				Wrapf(err, "capability %d (%q)", i, pattern)
		}
		compiled[i] = compiledGrant{pattern: pattern, glob: g}
	}
	return compiled, nil
}

// SetGrants replaces the grants of subject. Either every pattern compiles
// and the grants are installed, or nothing changes.
func (e *Enforcer) SetGrants(subject string, patterns []string) error {
	if subject == "" {
		return oops.In("capability").Code(errutil.CodeInvalidArgument).Errorf("subject cannot be empty")
	}
	compiled, err := compile(patterns)
	if err != nil {
		return oops.In("capability").With("subject", subject).Wrap(err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.grants == nil {
		e.grants = make(map[string][]compiledGrant)
	}
	e.grants[subject] = compiled
	return nil
}

// RemoveGrants forgets subject. Unknown subjects are ignored.
func (e *Enforcer) RemoveGrants(subject string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.grants, subject)
}

// IsRegistered reports whether subject has grants, possibly none.
func (e *Enforcer) IsRegistered(subject string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.grants[subject]
	return ok
}

// Grants returns a copy of the patterns granted to subject, or nil.
func (e *Enforcer) Grants(subject string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	grants, ok := e.grants[subject]
	if !ok {
		return nil
	}
	patterns := make([]string, len(grants))
	for i, g := range grants {
		patterns[i] = g.pattern
	}
	return patterns
}

// Subjects returns the registered subjects in sorted order.
func (e *Enforcer) Subjects() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.grants))
	for name := range e.grants {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Check reports whether subject may call fn. Unknown subjects and empty
// names are denied.
func (e *Enforcer) Check(subject, fn string) bool {
	if fn == "" {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, grant := range e.grants[subject] {
		if grant.glob.Match(fn) {
			return true
		}
	}
	return false
}

// Require is Check returning a CAPABILITY_DENIED error.
func (e *Enforcer) Require(subject, fn string) error {
	if e.Check(subject, fn) {
		return nil
	}
	return oops.In("capability").
		Code(errutil.CodeCapabilityDenied).
		With("subject", subject).
		With("function", fn).
		Errorf("%s is not permitted to call %s", subject, fn)
}
