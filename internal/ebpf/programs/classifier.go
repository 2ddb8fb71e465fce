// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package programs

import (
	"fmt"

	"github.com/cilium/ebpf"
)

// XdpClassifierProgramName is the program's section name inside the
// compiled object, used by loader.AttachXDP.
const XdpClassifierProgramName = "xdp_classifier"

// LoadXdpClassifierSpec loads the classifier's CollectionSpec from the
// embedded bytecode generated by `go generate` (see embed.go). Map pinning
// is disabled: this system runs one classifier per process and never shares
// maps across processes via bpffs.
func LoadXdpClassifierSpec() (*ebpf.CollectionSpec, error) {
	spec, err := LoadXdpClassifier()
	if err != nil {
		return nil, fmt.Errorf("load xdp classifier spec: %w", err)
	}
	for _, m := range spec.Maps {
		m.Pinning = ebpf.PinNone
	}
	return spec, nil
}
