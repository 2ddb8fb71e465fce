// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package programs

//go:generate go run github.com/cilium/ebpf/cmd/bpf2go@latest --no-strip --target=bpfel --cc=/opt/homebrew/opt/llvm/bin/clang XdpClassifier c/xdp_classifier.c -- -O2 -target bpf -I.
//go:generate go run github.com/cilium/ebpf/cmd/bpf2go@latest --no-strip --target=bpfel --cc=/opt/homebrew/opt/llvm/bin/clang ExecTracer c/exec_tracer.c -- -O2 -target bpf -I.
