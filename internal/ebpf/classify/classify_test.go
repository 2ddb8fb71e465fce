// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package classify

import (
	"testing"

	"warden.sh/warden/internal/ebpf/types"
)

func ptr(v uint16) *uint16 { return &v }

// TestScenarioS1 ports the S1 end-to-end scenario: a deny rule on a single
// /32 over a port range.
func TestScenarioS1(t *testing.T) {
	rs := NewRuleset([]types.Rule{
		{IP: [4]byte{192, 168, 211, 128}, CIDR: 32, Layer: 4, Protocol: types.ProtocolTCP, FromPort: ptr(2000), ToPort: ptr(3000), Status: false},
	})

	drop := Classify(Packet{SrcIP: [4]byte{192, 168, 211, 128}, Protocol: types.ProtocolTCP, Port: 2500, HasPort: true}, rs)
	if drop != Drop {
		t.Errorf("expected DROP for in-range port, got %v", drop)
	}

	belowRange := Classify(Packet{SrcIP: [4]byte{192, 168, 211, 128}, Protocol: types.ProtocolTCP, Port: 1999, HasPort: true}, rs)
	if belowRange != Pass {
		t.Errorf("expected PASS below port range, got %v", belowRange)
	}

	otherHost := Classify(Packet{SrcIP: [4]byte{192, 168, 211, 129}, Protocol: types.ProtocolTCP, Port: 2500, HasPort: true}, rs)
	if otherHost != Pass {
		t.Errorf("expected PASS for unmatched host, got %v", otherHost)
	}
}

// TestScenarioS2 checks protocol-mismatch PASS behavior over a /24.
func TestScenarioS2(t *testing.T) {
	rs := NewRuleset([]types.Rule{
		{IP: [4]byte{192, 168, 211, 0}, CIDR: 24, Layer: 4, Protocol: types.ProtocolICMP, Status: false},
	})

	icmpDrop := Classify(Packet{SrcIP: [4]byte{192, 168, 211, 50}, Protocol: types.ProtocolICMP, HasPort: false}, rs)
	if icmpDrop != Drop {
		t.Errorf("expected DROP for matching icmp, got %v", icmpDrop)
	}

	tcpPass := Classify(Packet{SrcIP: [4]byte{192, 168, 211, 50}, Protocol: types.ProtocolTCP, Port: 80, HasPort: true}, rs)
	if tcpPass != Pass {
		t.Errorf("expected PASS for protocol mismatch, got %v", tcpPass)
	}
}

// TestScenarioS3 checks longest-prefix-match wins on overlapping rules.
func TestScenarioS3(t *testing.T) {
	rs := NewRuleset([]types.Rule{
		{IP: [4]byte{10, 0, 0, 0}, CIDR: 8, Layer: 4, Protocol: types.ProtocolTCP, Status: true},
		{IP: [4]byte{10, 1, 0, 0}, CIDR: 16, Layer: 4, Protocol: types.ProtocolTCP, Status: false},
	})

	decision := Classify(Packet{SrcIP: [4]byte{10, 1, 2, 3}, Protocol: types.ProtocolTCP, Port: 1, HasPort: true}, rs)
	if decision != Drop {
		t.Errorf("expected longer prefix (/16 deny) to win, got %v", decision)
	}
}

// TestNoMatchIsPass covers invariant 2: no covering/matching rule → PASS.
func TestNoMatchIsPass(t *testing.T) {
	rs := NewRuleset(nil)
	decision := Classify(Packet{SrcIP: [4]byte{1, 2, 3, 4}, Protocol: types.ProtocolTCP, Port: 80, HasPort: true}, rs)
	if decision != Pass {
		t.Errorf("expected PASS with empty ruleset, got %v", decision)
	}
}

// TestPortMatchSemantics covers the three port-test shapes in §4.1.
func TestPortMatchSemantics(t *testing.T) {
	rangeRule := types.Rule{IP: [4]byte{1, 1, 1, 1}, CIDR: 32, Layer: 4, Protocol: types.ProtocolTCP, FromPort: ptr(100), ToPort: ptr(200), Status: false}
	exactRule := types.Rule{IP: [4]byte{2, 2, 2, 2}, CIDR: 32, Layer: 4, Protocol: types.ProtocolTCP, FromPort: ptr(53), Status: false}
	anyPortRule := types.Rule{IP: [4]byte{3, 3, 3, 3}, CIDR: 32, Layer: 4, Protocol: types.ProtocolTCP, Status: false}

	rs := NewRuleset([]types.Rule{rangeRule, exactRule, anyPortRule})

	if got := Classify(Packet{SrcIP: rangeRule.IP, Protocol: types.ProtocolTCP, Port: 150, HasPort: true}, rs); got != Drop {
		t.Errorf("range: expected DROP in range, got %v", got)
	}
	if got := Classify(Packet{SrcIP: rangeRule.IP, Protocol: types.ProtocolTCP, Port: 201, HasPort: true}, rs); got != Pass {
		t.Errorf("range: expected PASS out of range, got %v", got)
	}
	if got := Classify(Packet{SrcIP: exactRule.IP, Protocol: types.ProtocolTCP, Port: 53, HasPort: true}, rs); got != Drop {
		t.Errorf("exact: expected DROP on exact match, got %v", got)
	}
	if got := Classify(Packet{SrcIP: exactRule.IP, Protocol: types.ProtocolTCP, Port: 54, HasPort: true}, rs); got != Pass {
		t.Errorf("exact: expected PASS off exact match, got %v", got)
	}
	if got := Classify(Packet{SrcIP: anyPortRule.IP, Protocol: types.ProtocolTCP, Port: 65000, HasPort: true}, rs); got != Drop {
		t.Errorf("vacuous: expected DROP regardless of port, got %v", got)
	}
}
