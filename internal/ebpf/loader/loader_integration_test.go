// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package loader

import (
	"net"
	"testing"

	"warden.sh/warden/internal/ebpf/programs"
	"warden.sh/warden/internal/testutil"
)

// TestClassifierLoadAndAttach loads the real XDP classifier bytecode and
// attaches it to the loopback interface. Requires a kernel with XDP generic
// mode support, so it only runs when WARDEN_VM_TEST is set.
func TestClassifierLoadAndAttach(t *testing.T) {
	testutil.RequireVM(t)

	spec, err := programs.LoadXdpClassifierSpec()
	if err != nil {
		t.Fatalf("load classifier spec: %v", err)
	}

	ld := NewLoader()
	if err := ld.LoadCollection(spec); err != nil {
		t.Fatalf("load collection: %v", err)
	}
	defer ld.Close()

	if _, err := net.InterfaceByName("lo"); err != nil {
		t.Skip("loopback interface unavailable")
	}

	if err := ld.AttachXDP(programs.XdpClassifierProgramName, "lo"); err != nil {
		t.Fatalf("attach xdp to lo: %v", err)
	}

	if _, err := ld.GetMap("FIREWALL_RULES"); err != nil {
		t.Errorf("FIREWALL_RULES map not found: %v", err)
	}
	if _, err := ld.GetMap("FIREWALL_CIDRS"); err != nil {
		t.Errorf("FIREWALL_CIDRS map not found: %v", err)
	}
	if _, err := ld.GetMap("FIREWALL_LOG"); err != nil {
		t.Errorf("FIREWALL_LOG map not found: %v", err)
	}
}

// TestExecTracerLoadAndAttach loads the real exec tracer bytecode and
// attaches it to the sys_enter_execve tracepoint.
func TestExecTracerLoadAndAttach(t *testing.T) {
	testutil.RequireVM(t)

	spec, err := programs.LoadExecTracerSpec()
	if err != nil {
		t.Fatalf("load exec tracer spec: %v", err)
	}

	ld := NewLoader()
	if err := ld.LoadCollection(spec); err != nil {
		t.Fatalf("load collection: %v", err)
	}
	defer ld.Close()

	if err := ld.AttachTracepoint(programs.ExecTracerProgramName, "syscalls", "sys_enter_execve"); err != nil {
		t.Fatalf("attach tracepoint: %v", err)
	}

	if _, err := ld.GetMap("COMMAND_EVENTS"); err != nil {
		t.Errorf("COMMAND_EVENTS map not found: %v", err)
	}
}
