// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package apimodel

import "strings"

// WitName canonicalizes an identifier for use across the module boundary:
// underscores become hyphens, empty segments are dropped.
//
//	WitName("nvim_create_augroup") == "nvim-create-augroup"
//	WitName("__foo--bar_")         == "foo-bar"
func WitName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})
	return strings.Join(parts, "-")
}
