// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package apidata embeds the host API declaration headers and parses them
// into the API model.
package apidata

import (
	"embed"
	"path"
	"sort"
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/nvimwasm/internal/decl"
	"github.com/holomush/nvimwasm/pkg/apimodel"
)

//go:embed headers/*.h
var headers embed.FS

const keysetsFile = "keysets.h"

// Sources returns the function declaration headers, sorted by name.
func Sources() ([]decl.Source, error) {
	entries, err := headers.ReadDir("headers")
	if err != nil {
		return nil, oops.In("apidata").Wrap(err)
	}
	var sources []decl.Source
	for _, e := range entries {
		if e.IsDir() || e.Name() == keysetsFile || !strings.HasSuffix(e.Name(), ".h") {
			continue
		}
		data, err := headers.ReadFile(path.Join("headers", e.Name()))
		if err != nil {
			return nil, oops.In("apidata").With("file", e.Name()).Wrap(err)
		}
		sources = append(sources, decl.Source{Name: e.Name(), Text: string(data)})
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Name < sources[j].Name })
	return sources, nil
}

// KeysetHeader returns the embedded keyset declarations.
func KeysetHeader() (string, error) {
	data, err := headers.ReadFile(path.Join("headers", keysetsFile))
	if err != nil {
		return "", oops.In("apidata").With("file", keysetsFile).Wrap(err)
	}
	return string(data), nil
}

// Load parses the embedded headers. Options are passed to decl.ParseAPI.
func Load(opts ...decl.Option) (*apimodel.API, *decl.Report, error) {
	keysets, err := KeysetHeader()
	if err != nil {
		return nil, nil, err
	}
	sources, err := Sources()
	if err != nil {
		return nil, nil, err
	}
	return decl.ParseAPI(keysets, sources, opts...)
}
