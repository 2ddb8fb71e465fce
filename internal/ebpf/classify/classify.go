// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package classify is a pure-Go mirror of the decision logic in
// xdp_classifier.c's find_rule/port_matches/xdp_classifier. The kernel
// program itself can't run in a unit test, so this package exists purely to
// let the lookup and decision algorithm be exercised and checked without a
// live XDP attachment; internal/ebpf/programs/c holds the program that
// actually runs.
package classify

import "warden.sh/warden/internal/ebpf/types"

// Decision mirrors the kernel's three-way XDP return value.
type Decision int

const (
	Pass Decision = iota
	Drop
	Abort
)

// Packet is the subset of a frame the classifier reads, per §4.1 step 1-3.
type Packet struct {
	SrcIP    [4]byte
	Protocol types.Protocol
	Port     uint16
	HasPort  bool // false for ICMP and any unclassified protocol
}

// Ruleset is a read-only view over the two kernel maps find_rule consults:
// the LPM trie (keyed by prefix length + ip) and the prefix-length set.
type Ruleset struct {
	entries    map[types.LPMKey]types.KernelRule
	prefixLens map[uint8]struct{}
}

// NewRuleset builds a Ruleset from a flat rule list, the same shape the
// reconciler fetches from the control plane.
func NewRuleset(rules []types.Rule) *Ruleset {
	rs := &Ruleset{
		entries:    make(map[types.LPMKey]types.KernelRule),
		prefixLens: make(map[uint8]struct{}),
	}
	for _, r := range rules {
		rs.entries[types.NewLPMKey(maskToPrefix(r.IP, r.CIDR), r.CIDR)] = r.KernelRule()
		rs.prefixLens[r.CIDR] = struct{}{}
	}
	return rs
}

// maskToPrefix zeroes the host bits of ip beyond the first length bits, the
// way BPF_MAP_TYPE_LPM_TRIE treats its key: two keys with the same prefix
// length collide only if their network bits match, regardless of host bits.
func maskToPrefix(ip [4]byte, length uint8) [4]byte {
	var out [4]byte
	fullBytes := length / 8
	for i := uint8(0); i < fullBytes && i < 4; i++ {
		out[i] = ip[i]
	}
	if rem := length % 8; rem > 0 && fullBytes < 4 {
		out[fullBytes] = ip[fullBytes] & (0xFF << (8 - rem))
	}
	return out
}

// findRule mirrors find_rule: probe prefix lengths 32 down to 0, skipping
// any length absent from the prefix-length set, and accept the first trie
// hit. LPM guarantees at most one entry per (length, ip), so the first hit
// at the longest tried length is the unique longest-prefix match.
func (rs *Ruleset) findRule(ip [4]byte) (types.KernelRule, bool) {
	for length := 32; length >= 0; length-- {
		if _, ok := rs.prefixLens[uint8(length)]; !ok {
			continue
		}
		key := types.NewLPMKey(maskToPrefix(ip, uint8(length)), uint8(length))
		if rule, ok := rs.entries[key]; ok {
			return rule, true
		}
	}
	return types.KernelRule{}, false
}

// portMatches mirrors port_matches: both bounds set is an inclusive range,
// only from_port set is exact equality, neither set is vacuously true.
func portMatches(rule types.KernelRule, port uint16) bool {
	switch {
	case rule.HasFromPort == 1 && rule.HasToPort == 1:
		return port >= rule.FromPort && port <= rule.ToPort
	case rule.HasFromPort == 1:
		return port == rule.FromPort
	default:
		return true
	}
}

// Classify applies the §4.1 decision policy to pkt against rs. It never
// returns Abort: bounds-check failures are a kernel-only failure mode this
// reference model has no analogue for, since it is handed an already
// well-formed Packet rather than raw frame bytes.
func Classify(pkt Packet, rs *Ruleset) Decision {
	rule, ok := rs.findRule(pkt.SrcIP)
	if !ok {
		return Pass
	}
	if rule.Protocol != pkt.Protocol {
		return Pass
	}
	if pkt.HasPort && !portMatches(rule, pkt.Port) {
		return Pass
	}
	if rule.Status == 1 {
		return Pass
	}
	return Drop
}
