// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build tools
// +build tools

// Package main pins the test tooling to go.mod. The ginkgo CLI runs the
// integration specs: ginkgo -tags=integration ./...
package main

import (
	_ "github.com/onsi/ginkgo/v2/ginkgo"
	_ "github.com/onsi/gomega"
	_ "github.com/stretchr/testify/mock"
	_ "go.uber.org/goleak"
)
