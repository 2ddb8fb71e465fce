// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package host probes the kernel prerequisites loader.VerifyKernelSupport
// checks before either kernel-facing daemon loads an eBPF object: JIT
// availability, JIT memory headroom, and free system memory.
package host

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// minJITLimitMB and minAvailableMemoryMB are the thresholds below which
// VerifyBPFSupport reports a (non-fatal) issue rather than staying silent.
const (
	minJITLimitMB        = 256
	minAvailableMemoryMB = 512
)

// MemoryInfo holds the subset of /proc/meminfo VerifyBPFSupport needs.
type MemoryInfo struct {
	TotalBytes     uint64
	FreeBytes      uint64
	AvailableBytes uint64
}

// GetMemoryInfo reads and parses /proc/meminfo.
func GetMemoryInfo() (*MemoryInfo, error) {
	file, err := os.Open("/proc/meminfo")
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info := &MemoryInfo{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}

		// Field format: "Key: VALUE kB"
		val, _ := strconv.ParseUint(fields[1], 10, 64)
		valBytes := val * 1024

		switch fields[0] {
		case "MemTotal:":
			info.TotalBytes = valBytes
		case "MemFree:":
			info.FreeBytes = valBytes
		case "MemAvailable:":
			info.AvailableBytes = valBytes
		}
	}

	// Older kernels don't report MemAvailable.
	if info.AvailableBytes == 0 {
		info.AvailableBytes = info.FreeBytes
	}

	return info, nil
}

// CheckBPFJIT reports whether the kernel's eBPF JIT compiler is enabled.
func CheckBPFJIT() (bool, error) {
	jitEnabled, err := os.ReadFile("/proc/sys/net/core/bpf_jit_enable")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(string(jitEnabled)) == "1", nil
}

// GetBPFJITLimit returns the eBPF JIT memory limit in MB.
func GetBPFJITLimit() (int64, error) {
	jitLimit, err := os.ReadFile("/proc/sys/net/core/bpf_jit_limit")
	if err != nil {
		return 0, err
	}

	var limitBytes int64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(jitLimit)), "%d", &limitBytes); err != nil {
		return 0, err
	}

	return limitBytes / 1024 / 1024, nil
}

// SystemRequirementError describes one unmet kernel prerequisite.
// Fatal distinguishes "can't run eBPF at all" from "would run, but slowly
// or under memory pressure."
type SystemRequirementError struct {
	Feature string
	Message string
	Fatal   bool
}

func (e *SystemRequirementError) Error() string {
	return fmt.Sprintf("%s: %s", e.Feature, e.Message)
}

// VerifyBPFSupport checks the host prerequisites a kernel-facing daemon
// needs before loading any eBPF object: the BPF JIT interface must exist at
// all (fatal if missing), and JIT-enabled / JIT-limit / free-memory are
// reported as non-fatal issues an operator should still see logged.
func VerifyBPFSupport() []SystemRequirementError {
	if _, err := os.Stat("/proc/sys/net/core/bpf_jit_enable"); os.IsNotExist(err) {
		return []SystemRequirementError{{
			Feature: "eBPF",
			Message: "kernel does not expose bpf_jit_enable; eBPF is unsupported",
			Fatal:   true,
		}}
	}

	var issues []SystemRequirementError

	if enabled, err := CheckBPFJIT(); err != nil || !enabled {
		issues = append(issues, SystemRequirementError{
			Feature: "JIT",
			Message: "eBPF JIT is not enabled",
		})
	}

	if limit, err := GetBPFJITLimit(); err == nil && limit < minJITLimitMB {
		issues = append(issues, SystemRequirementError{
			Feature: "JIT Limit",
			Message: fmt.Sprintf("eBPF JIT limit too low (%d MB, recommended >= %d MB)", limit, minJITLimitMB),
		})
	}

	if mem, err := GetMemoryInfo(); err == nil {
		if availMB := mem.AvailableBytes / 1024 / 1024; availMB < minAvailableMemoryMB {
			issues = append(issues, SystemRequirementError{
				Feature: "Memory",
				Message: fmt.Sprintf("low available memory (%d MB, recommended >= %d MB)", availMB, minAvailableMemoryMB),
			})
		}
	}

	return issues
}
