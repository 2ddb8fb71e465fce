// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package loader

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/rlimit"

	"warden.sh/warden/internal/ebpf/interfaces"
	"warden.sh/warden/internal/host"
	"warden.sh/warden/internal/logging"
)

// Loader owns one loaded eBPF collection for the process lifetime: the
// classifier daemon loads XdpClassifier, the exec daemon loads ExecTracer.
// Neither daemon loads both.
type Loader struct {
	collection *ebpf.Collection
	links      []link.Link
	programs   map[string]*ProgramWrapper
	maps       map[string]*ebpf.Map
	loaded     bool
	mutex      sync.Mutex
}

// NewLoader creates an unloaded Loader.
func NewLoader() *Loader {
	return &Loader{
		programs: make(map[string]*ProgramWrapper),
		maps:     make(map[string]*ebpf.Map),
	}
}

// LoadCollection instantiates every program and map in spec. Callers must
// raise the memlock rlimit first; RemoveMemlock is called here as a
// convenience in case the caller forgot, matching cilium/ebpf's own
// recommendation that it's idempotent and safe to call repeatedly.
func (l *Loader) LoadCollection(spec *ebpf.CollectionSpec) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.loaded {
		return fmt.Errorf("collection already loaded")
	}

	if err := rlimit.RemoveMemlock(); err != nil {
		return fmt.Errorf("remove memlock rlimit: %w", err)
	}

	collection, err := ebpf.NewCollection(spec)
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}

	l.collection = collection
	for name, m := range collection.Maps {
		l.maps[name] = m
	}

	l.loaded = true
	return nil
}

// AttachXDP attaches the named program to iface's XDP hook (C1).
func (l *Loader) AttachXDP(programName, iface string) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	prog, err := l.programLocked(programName)
	if err != nil {
		return err
	}

	ifaceObj, err := net.InterfaceByName(iface)
	if err != nil {
		return fmt.Errorf("find interface %s: %w", iface, err)
	}

	lnk, err := link.AttachXDP(link.XDPOptions{
		Program:   prog,
		Interface: ifaceObj.Index,
	})
	if err != nil {
		return fmt.Errorf("attach xdp program %s to %s: %w", programName, iface, err)
	}

	l.links = append(l.links, lnk)
	l.programs[programName] = NewProgramWrapper(prog, "xdp:"+iface, time.Now())
	return nil
}

// AttachTracepoint attaches the named program to the group/name tracepoint
// (C2 attaches to syscalls/sys_enter_execve).
func (l *Loader) AttachTracepoint(programName, group, name string) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	prog, err := l.programLocked(programName)
	if err != nil {
		return err
	}

	lnk, err := link.Tracepoint(group, name, prog, nil)
	if err != nil {
		return fmt.Errorf("attach tracepoint program %s to %s/%s: %w", programName, group, name, err)
	}

	l.links = append(l.links, lnk)
	l.programs[programName] = NewProgramWrapper(prog, "tracepoint:"+group+"/"+name, time.Now())
	return nil
}

func (l *Loader) programLocked(name string) (*ebpf.Program, error) {
	if !l.loaded {
		return nil, fmt.Errorf("no collection loaded")
	}
	prog, exists := l.collection.Programs[name]
	if !exists {
		return nil, fmt.Errorf("program %s not found in collection", name)
	}
	return prog, nil
}

// GetProgram returns a previously attached program.
func (l *Loader) GetProgram(name string) (interfaces.Program, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	prog, exists := l.programs[name]
	if !exists {
		return nil, fmt.Errorf("program %s not attached", name)
	}
	return prog, nil
}

// GetMap returns a loaded map by its section name.
func (l *Loader) GetMap(name string) (interfaces.Map, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	m, exists := l.maps[name]
	if !exists {
		return nil, fmt.Errorf("map %s not found", name)
	}
	return NewMapWrapper(m), nil
}

// Close detaches every link and closes the collection. Safe to call once;
// subsequent calls are no-ops.
func (l *Loader) Close() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	var firstErr error
	for _, lnk := range l.links {
		if err := lnk.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if l.collection != nil {
		l.collection.Close()
	}

	l.loaded = false
	l.links = nil
	l.programs = make(map[string]*ProgramWrapper)
	l.maps = make(map[string]*ebpf.Map)

	return firstErr
}

// IsLoaded reports whether LoadCollection has succeeded.
func (l *Loader) IsLoaded() bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.loaded
}

// GetCollection returns the underlying collection for callers (the rule
// manager, the drain) that need direct map access.
func (l *Loader) GetCollection() *ebpf.Collection {
	return l.collection
}

// VerifyKernelSupport checks host-level prerequisites via
// host.VerifyBPFSupport before attempting to load anything. A missing BPF JIT
// interface is an error; non-fatal issues (JIT disabled, low JIT limit, low
// memory) are logged as warnings. Attach/load failures after this point are
// treated as fatal per the startup error policy.
func VerifyKernelSupport() error {
	issues := host.VerifyBPFSupport()
	for _, issue := range issues {
		if issue.Fatal {
			return fmt.Errorf("kernel support verification failed: %s", issue.Message)
		}
		logging.Default().WithComponent("loader").Warn("kernel support issue", "feature", issue.Feature, "message", issue.Message)
	}
	return nil
}

// EnableJIT turns on the kernel's eBPF JIT compiler, reducing per-packet
// classifier overhead versus the interpreter.
func EnableJIT() error {
	return os.WriteFile("/proc/sys/net/core/bpf_jit_enable", []byte("1"), 0644)
}
