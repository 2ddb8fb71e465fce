// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package testutil

import (
	"os"
	"testing"
)

// RequireVM skips the test if the WARDEN_VM_TEST environment variable is not
// set. Tests that load and attach real eBPF programs need a kernel that
// supports XDP and tracepoints, which CI containers typically don't provide.
func RequireVM(t *testing.T) {
	t.Helper()
	if os.Getenv("WARDEN_VM_TEST") == "" {
		t.Skip("skipping test: requires WARDEN_VM_TEST environment")
	}
}
