// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package interfaces

import (
	"time"

	"github.com/cilium/ebpf"
)

// Program represents an attached eBPF program.
type Program interface {
	Info() (ProgramInfo, error)
	GetProgram() *ebpf.Program
}

// Map represents a loaded eBPF map.
type Map interface {
	Info() (MapInfo, error)
	GetMap() *ebpf.Map
}

// ProgramInfo describes a loaded program for status reporting.
type ProgramInfo struct {
	Name     string
	Type     string
	Tag      string
	ID       uint32
	AttachTo string
	LoadedAt time.Time
}

// MapInfo describes a loaded map for status reporting.
type MapInfo struct {
	Name       string
	Type       string
	KeySize    uint32
	ValueSize  uint32
	MaxEntries uint32
	Flags      uint32
}

// Loader manages the lifecycle of one loaded eBPF collection: load, attach,
// and expose its programs and maps by name.
type Loader interface {
	LoadCollection(spec *ebpf.CollectionSpec) error
	AttachXDP(programName, iface string) error
	AttachTracepoint(programName, group, name string) error
	GetProgram(name string) (Program, error)
	GetMap(name string) (Map, error)
	GetCollection() *ebpf.Collection
	Close() error
}
