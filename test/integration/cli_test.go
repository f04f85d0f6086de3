// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

//go:build integration

package integration

import (
	"context"
	"os/exec"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
)

var _ = Describe("Migrate Command", func() {
	run := func(ctx context.Context, args ...string) (string, error) {
		cmd := exec.CommandContext(ctx, "go", append([]string{"run", "."}, args...)...)
		cmd.Dir = "../../cmd/keyward"
		cmd.Env = append(cmd.Environ(), "DATABASE_URL="+env.connStr)
		out, err := cmd.CombinedOutput()
		return string(out), err
	}

	It("reports the applied schema version", func(ctx SpecContext) {
		output, err := run(ctx, "migrate", "version")
		Expect(err).NotTo(HaveOccurred(), "migrate version failed: %s", output)
		Expect(output).To(ContainSubstring("Version: 2"))
		Expect(output).NotTo(ContainSubstring("Pending"))
	})

	It("is idempotent when the schema is current", func(ctx SpecContext) {
		output, err := run(ctx, "migrate", "up")
		Expect(err).NotTo(HaveOccurred(), "migrate up failed: %s", output)
		Expect(output).To(ContainSubstring("Schema is up to date"))
	})
})
