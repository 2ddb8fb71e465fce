// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package maps provides type-safe, reconciler-facing wrappers over the
// kernel maps the classifier and tracer programs declare.
package maps

import (
	"fmt"
	"sync"
	"time"

	"github.com/cilium/ebpf"

	"warden.sh/warden/internal/ebpf/types"
)

// Manager tracks every map in a loaded collection by name.
type Manager struct {
	maps       map[string]*ManagedMap
	collection *ebpf.Collection
	mutex      sync.RWMutex
}

// ManagedMap wraps an eBPF map with metadata and mutex-guarded operations.
type ManagedMap struct {
	Name       string
	Map        *ebpf.Map
	Type       ebpf.MapType
	KeySize    uint32
	ValueSize  uint32
	MaxEntries uint32
	CreatedAt  time.Time
	mutex      sync.RWMutex
}

// NewManager creates a map manager over collection.
func NewManager(collection *ebpf.Collection) *Manager {
	return &Manager{
		maps:       make(map[string]*ManagedMap),
		collection: collection,
	}
}

// RegisterMap adopts mapObj under name for later lookup by RuleManager/GetMap.
func (m *Manager) RegisterMap(name string, mapObj *ebpf.Map) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.maps[name]; exists {
		return fmt.Errorf("map %s already registered", name)
	}

	info, err := mapObj.Info()
	if err != nil {
		return fmt.Errorf("get map info: %w", err)
	}

	m.maps[name] = &ManagedMap{
		Name:       name,
		Map:        mapObj,
		KeySize:    info.KeySize,
		ValueSize:  info.ValueSize,
		MaxEntries: info.MaxEntries,
		Type:       info.Type,
		CreatedAt:  time.Now(),
	}

	return nil
}

// GetMap returns a registered map by name.
func (m *Manager) GetMap(name string) (*ManagedMap, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	managedMap, exists := m.maps[name]
	if !exists {
		return nil, fmt.Errorf("map %s not found", name)
	}

	return managedMap, nil
}

// RegisterAll registers every map in the collection that loader.go loaded,
// keyed by its section name. Convenience for daemons that want every map
// without naming them individually.
func (m *Manager) RegisterAll() error {
	if m.collection == nil {
		return fmt.Errorf("no collection bound to manager")
	}
	for name, mapObj := range m.collection.Maps {
		if err := m.RegisterMap(name, mapObj); err != nil {
			return err
		}
	}
	return nil
}

// Update upserts a key/value pair.
func (mm *ManagedMap) Update(key, value interface{}) error {
	mm.mutex.Lock()
	defer mm.mutex.Unlock()

	return mm.Map.Update(key, value, ebpf.UpdateAny)
}

// Lookup retrieves the value for key.
func (mm *ManagedMap) Lookup(key, value interface{}) error {
	mm.mutex.RLock()
	defer mm.mutex.RUnlock()

	return mm.Map.Lookup(key, value)
}

// Delete removes key. Returns ebpf.ErrKeyNotExist if absent.
func (mm *ManagedMap) Delete(key interface{}) error {
	mm.mutex.Lock()
	defer mm.mutex.Unlock()

	return mm.Map.Delete(key)
}

// Iterator returns a fresh iterator over the map's current contents.
func (mm *ManagedMap) Iterator() *MapIterator {
	return &MapIterator{
		mapIter: mm.Map.Iterate(),
		mutex:   &mm.mutex,
	}
}

// MapIterator provides a thread-safe wrapper around ebpf.MapIterator.
type MapIterator struct {
	mapIter *ebpf.MapIterator
	mutex   *sync.RWMutex
}

// Next decodes the next key/value pair, returning false when exhausted.
func (it *MapIterator) Next(key, value interface{}) bool {
	it.mutex.RLock()
	defer it.mutex.RUnlock()

	return it.mapIter.Next(key, value)
}

// Err returns any error encountered during iteration.
func (it *MapIterator) Err() error {
	return it.mapIter.Err()
}

// RuleManager is the reconciler's view of the two rule maps: FIREWALL_RULES
// (the LPM trie) and FIREWALL_CIDRS (the PrefixLengthSet). It is the only
// user-space writer of either map; see §5 of the concurrency model.
type RuleManager struct {
	rules *ManagedMap
	cidrs *ManagedMap
}

// NewRuleManager binds a RuleManager to the FIREWALL_RULES/FIREWALL_CIDRS
// maps already registered on m.
func NewRuleManager(m *Manager) (*RuleManager, error) {
	rules, err := m.GetMap("FIREWALL_RULES")
	if err != nil {
		return nil, err
	}
	cidrs, err := m.GetMap("FIREWALL_CIDRS")
	if err != nil {
		return nil, err
	}
	return &RuleManager{rules: rules, cidrs: cidrs}, nil
}

// PutRule inserts or overwrites a single rule's LPM trie entry.
func (rm *RuleManager) PutRule(r types.Rule) error {
	key := r.LPMKey()
	value := r.KernelRule()
	return rm.rules.Update(&key, &value)
}

// EnsurePrefixLen makes sure length is present in the PrefixLengthSet.
func (rm *RuleManager) EnsurePrefixLen(length uint8) error {
	v := uint16(length)
	k := v
	return rm.cidrs.Update(&k, &v)
}

// DeleteAllRules enumerates every key currently in the LPM trie and deletes
// it. The kernel cannot do this itself — no iteration helper exists for
// LPM_TRIE from BPF code — but ebpf.Map.Iterate works from user space, which
// is how the reconciler implements the "delete all, then insert all" step
// of §4.4 without needing a dedicated kernel-side clear operation.
func (rm *RuleManager) DeleteAllRules() error {
	it := rm.rules.Iterator()

	var keys []types.LPMKey
	var key types.LPMKey
	var value types.KernelRule
	for it.Next(&key, &value) {
		keys = append(keys, key)
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("enumerate FIREWALL_RULES: %w", err)
	}

	for _, k := range keys {
		if err := rm.rules.Delete(&k); err != nil {
			return fmt.Errorf("delete lpm key %+v: %w", k, err)
		}
	}
	return nil
}

// RuleCount returns the number of entries currently in the LPM trie.
func (rm *RuleManager) RuleCount() (int, error) {
	it := rm.rules.Iterator()
	var key types.LPMKey
	var value types.KernelRule
	n := 0
	for it.Next(&key, &value) {
		n++
	}
	return n, it.Err()
}
