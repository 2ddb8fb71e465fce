// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package interfaces

// MapType enumerates the kernel map types the loader knows how to manage.
type MapType int

const (
	MapTypeUnspec MapType = iota
	MapTypeHash
	MapTypeLPMTrie
	MapTypePerfEventArray
)

// MapIterator iterates key/value pairs of a loaded map. maps.MapIterator has
// this shape; RuleManager.DeleteAllRules uses it to enumerate the LPM trie
// before a refresh, since kernel-side code has no equivalent primitive (see
// the FIREWALL_CIDRS note in internal/ebpf/programs/c/xdp_classifier.c).
type MapIterator interface {
	Next(key, value interface{}) bool
	Err() error
}
