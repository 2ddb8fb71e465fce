// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package types

import "fmt"

// Rule is the persistent authorization record served by the control plane
// and cached into the kernel LPM trie by the reconciler.
type Rule struct {
	ID        string   `json:"id,omitempty"`
	IP        [4]byte  `json:"ip"`
	CIDR      uint8    `json:"cidr"`
	Layer     uint8    `json:"layer"`
	Protocol  Protocol `json:"protocol"`
	FromPort  *uint16  `json:"from_port"`
	ToPort    *uint16  `json:"to_port"`
	Status    bool     `json:"status"`
}

// Validate checks the invariants §3 of the rule data model requires.
func (r Rule) Validate() error {
	if r.CIDR > 32 {
		return fmt.Errorf("cidr %d out of range [0,32]", r.CIDR)
	}
	if r.Layer < 3 || r.Layer > 4 {
		return fmt.Errorf("layer %d out of range [3,4]", r.Layer)
	}
	if r.Protocol == ProtocolICMP && (r.FromPort != nil || r.ToPort != nil) {
		return fmt.Errorf("icmp rules must not set from_port/to_port")
	}
	return nil
}

// KernelRule strips the fields the classifier doesn't need to key on
// (ip/cidr/layer), producing the LpmEntry value half described in §3.
func (r Rule) KernelRule() KernelRule {
	kr := KernelRule{Protocol: r.Protocol}
	if r.Status {
		kr.Status = 1
	}
	if r.FromPort != nil {
		kr.FromPort = *r.FromPort
		kr.HasFromPort = 1
	}
	if r.ToPort != nil {
		kr.ToPort = *r.ToPort
		kr.HasToPort = 1
	}
	return kr
}

// LPMKey returns the trie key this rule is stored under.
func (r Rule) LPMKey() LPMKey {
	return NewLPMKey(r.IP, r.CIDR)
}

// FirewallLogData is the JSON form of FirewallLog posted by the drain to
// POST /firewall-log/create.
type FirewallLogData struct {
	ID        string   `json:"id,omitempty"`
	IP        [4]byte  `json:"ip"`
	Protocol  Protocol `json:"protocol"`
	Port      *uint16  `json:"port"`
	Status    bool     `json:"status"`
	Timestamp int64    `json:"timestamp,omitempty"`
}

// FirewallLogDataFromKernel converts a raw FirewallLog record into its wire form. Per
// §4.3, port is None exactly when the protocol is ICMP.
func FirewallLogDataFromKernel(l FirewallLog) FirewallLogData {
	data := FirewallLogData{
		IP:       l.IP,
		Protocol: l.Protocol,
		Status:   l.Status == 1,
	}
	if l.Protocol != ProtocolICMP {
		port := l.Port
		data.Port = &port
	}
	return data
}

// CommandExecutionRequestForm is the JSON body posted to
// POST /command-execution/log.
type CommandExecutionRequestForm struct {
	Command string `json:"command"`
	Args    string `json:"args"`
	Tgid    uint32 `json:"tgid"`
	Pid     uint32 `json:"pid"`
	Gid     uint32 `json:"gid"`
	Uid     uint32 `json:"uid"`
}

// CommandExecutionRequestFormFromKernel converts a captured CommandInfo into
// the form the control plane accepts.
func CommandExecutionRequestFormFromKernel(c CommandInfo) CommandExecutionRequestForm {
	return CommandExecutionRequestForm{
		Command: c.CommandText(),
		Args:    c.ArgsText(),
		Tgid:    c.Tgid,
		Pid:     c.Pid,
		Gid:     c.Gid,
		Uid:     c.Uid,
	}
}

// CommandExecutionData is the persisted form of an exec event: the request
// form plus the server-assigned id and insertion timestamp. The timestamp is
// wall-clock Unix milliseconds; it is not monotonic, and inserts within the
// same millisecond share a value.
type CommandExecutionData struct {
	ID        string `json:"id,omitempty"`
	Command   string `json:"command"`
	Args      string `json:"args"`
	Tgid      uint32 `json:"tgid"`
	Pid       uint32 `json:"pid"`
	Gid       uint32 `json:"gid"`
	Uid       uint32 `json:"uid"`
	Timestamp int64  `json:"timestamp"`
}

// CommandStat is one row of GET /command-execution/stats: a command path
// and the total number of times it was observed.
type CommandStat struct {
	Command string `json:"command"`
	Total   int64  `json:"total"`
}
