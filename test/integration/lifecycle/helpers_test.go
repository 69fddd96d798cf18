// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package lifecycle_test

import (
	"os"
	"strings"

	. "github.com/onsi/gomega" //nolint:revive // gomega convention
)

func rewriteFile(path, old, updated string) {
	data, err := os.ReadFile(path) //nolint:gosec // test fixture path
	Expect(err).NotTo(HaveOccurred())
	Expect(os.WriteFile(path, []byte(strings.Replace(string(data), old, updated, 1)), 0o600)).To(Succeed())
}
