// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package loader

import (
	"time"

	"github.com/cilium/ebpf"

	"warden.sh/warden/internal/ebpf/interfaces"
)

// ProgramWrapper wraps an eBPF program to implement interfaces.Program.
type ProgramWrapper struct {
	program  *ebpf.Program
	attachTo string
	loadedAt time.Time
}

// NewProgramWrapper creates a new program wrapper.
func NewProgramWrapper(prog *ebpf.Program, attachTo string, loadedAt time.Time) *ProgramWrapper {
	return &ProgramWrapper{program: prog, attachTo: attachTo, loadedAt: loadedAt}
}

// Info returns information about the program.
func (p *ProgramWrapper) Info() (interfaces.ProgramInfo, error) {
	info, err := p.program.Info()
	if err != nil {
		return interfaces.ProgramInfo{}, err
	}

	id, _ := info.ID()

	return interfaces.ProgramInfo{
		Name:     info.Name,
		Type:     info.Type.String(),
		Tag:      info.Tag,
		ID:       uint32(id),
		AttachTo: p.attachTo,
		LoadedAt: p.loadedAt,
	}, nil
}

// GetProgram returns the underlying eBPF program.
func (p *ProgramWrapper) GetProgram() *ebpf.Program {
	return p.program
}
