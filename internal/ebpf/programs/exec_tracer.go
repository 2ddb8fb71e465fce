// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package programs

import (
	"fmt"

	"github.com/cilium/ebpf"
)

// ExecTracerProgramName is the program's section name inside the compiled
// object, used by loader.AttachTracepoint.
const ExecTracerProgramName = "exec_tracer"

// LoadExecTracerSpec loads the exec tracer's CollectionSpec from the
// embedded bytecode generated by `go generate` (see embed.go).
func LoadExecTracerSpec() (*ebpf.CollectionSpec, error) {
	spec, err := LoadExecTracer()
	if err != nil {
		return nil, fmt.Errorf("load exec tracer spec: %w", err)
	}
	for _, m := range spec.Maps {
		m.Pinning = ebpf.PinNone
	}
	return spec, nil
}
