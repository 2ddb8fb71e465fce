// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package types holds the wire and kernel-map layouts shared by the XDP
// classifier, the exec tracer, and the user-space daemons that drain and
// reconcile them. Every fixed-size struct here must stay bit-compatible with
// its C counterpart under internal/ebpf/programs/c, since cilium/ebpf copies
// these bytes straight out of the kernel maps and perf buffers.
package types

import "fmt"

// Protocol is the tagged classifier-generation-independent protocol a Rule
// or packet carries. It matches the four-variant enum the control plane
// serializes as a JSON string.
type Protocol uint8

const (
	ProtocolUndefined Protocol = iota
	ProtocolTCP
	ProtocolUDP
	ProtocolICMP
)

func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "Tcp"
	case ProtocolUDP:
		return "Udp"
	case ProtocolICMP:
		return "Icmp"
	default:
		return "Undefined"
	}
}

// MarshalJSON renders the protocol as the tagged string the control plane
// expects ("Tcp"|"Udp"|"Icmp"|"Undefined").
func (p Protocol) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// UnmarshalJSON parses the tagged string form back into a Protocol.
func (p *Protocol) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	switch s {
	case "Tcp":
		*p = ProtocolTCP
	case "Udp":
		*p = ProtocolUDP
	case "Icmp":
		*p = ProtocolICMP
	default:
		*p = ProtocolUndefined
	}
	return nil
}

// LPMKey is the key type the FIREWALL_RULES LPM trie expects: a prefix
// length in bits followed by the 4-byte IPv4 address, matching
// struct lpm_key in common.h.
type LPMKey struct {
	PrefixLen uint32
	IP        [4]byte
}

// NewLPMKey builds the key for a /cidr rule over ip.
func NewLPMKey(ip [4]byte, cidr uint8) LPMKey {
	return LPMKey{PrefixLen: uint32(cidr), IP: ip}
}

// KernelRule is the value half of a FIREWALL_RULES entry: Rule with the
// fields the kernel doesn't need (ip/cidr/layer) stripped out. Ports use an
// explicit presence byte rather than a sentinel value so that port 0 can be
// matched exactly, matching struct kernel_rule in common.h.
type KernelRule struct {
	FromPort    uint16
	ToPort      uint16
	HasFromPort uint8
	HasToPort   uint8
	Status      uint8
	Protocol    Protocol
}

// FirewallLog is the per-CPU audit record the classifier writes to
// FIREWALL_LOG on every DROP decision, matching struct firewall_log in
// common.h.
type FirewallLog struct {
	IP       [4]byte
	Port     uint16
	Protocol Protocol
	Status   uint8 // always 0 (drop); kept for wire parity with the original record
}

// Exec tracer buffer sizes. These are compile-time constants in the kernel
// program too: the verifier needs every copy bounded, so ARGV_OFFSET caps
// how many argv entries are captured and ARGV_LEN/COMMAND_LEN cap how many
// bytes of each.
const (
	ArgvOffset = 4
	ArgvLen    = 32
	CommandLen = 64
)

// CommandInfo is the per-execve record the tracepoint writes to
// COMMAND_EVENTS, matching struct command_info in common.h.
type CommandInfo struct {
	CommandLen uint64
	ArgvLens   [ArgvOffset]uint64
	Command    [CommandLen]byte
	Argv       [ArgvOffset][ArgvLen]byte
	Tgid       uint32
	Pid        uint32
	Gid        uint32
	Uid        uint32
}

// CommandText returns the NUL-free, UTF-8-lossy command path.
func (c *CommandInfo) CommandText() string {
	n := c.CommandLen
	if n > CommandLen {
		n = CommandLen
	}
	return string(c.Command[:n])
}

// ArgsText concatenates the captured argv entries (argv[1..] — argv[0] is
// never captured, see exec_tracer.c) with single spaces, trimming the
// trailing space.
func (c *CommandInfo) ArgsText() string {
	var parts []string
	for i := 0; i < ArgvOffset; i++ {
		n := c.ArgvLens[i]
		if n == 0 {
			break
		}
		if n > ArgvLen {
			n = ArgvLen
		}
		parts = append(parts, string(c.Argv[i][:n]))
	}
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}

func (p Protocol) GoString() string {
	return fmt.Sprintf("Protocol(%s)", p.String())
}
