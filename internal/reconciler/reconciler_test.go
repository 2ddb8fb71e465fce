// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package reconciler

import (
	"context"
	"testing"
	"time"

	"warden.sh/warden/internal/ebpf/metrics"
	"warden.sh/warden/internal/ebpf/types"
)

// fakeStore is an in-memory ruleStore keyed by LPM key, standing in for the
// kernel maps so tests don't need a real eBPF collection.
type fakeStore struct {
	rules       map[types.LPMKey]types.KernelRule
	prefixLens  map[uint8]struct{}
	deleteCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rules:      make(map[types.LPMKey]types.KernelRule),
		prefixLens: make(map[uint8]struct{}),
	}
}

func (f *fakeStore) PutRule(r types.Rule) error {
	f.rules[r.LPMKey()] = r.KernelRule()
	return nil
}

func (f *fakeStore) EnsurePrefixLen(length uint8) error {
	f.prefixLens[length] = struct{}{}
	return nil
}

func (f *fakeStore) DeleteAllRules() error {
	f.deleteCalls++
	f.rules = make(map[types.LPMKey]types.KernelRule)
	return nil
}

type fakeFetcher struct {
	rules []types.Rule
	err   error
}

func (f *fakeFetcher) ListRules(ctx context.Context, layer uint8) ([]types.Rule, error) {
	return f.rules, f.err
}

func port(p uint16) *uint16 { return &p }

func threeRules() []types.Rule {
	return []types.Rule{
		{ID: "a", IP: [4]byte{10, 0, 0, 0}, CIDR: 32, Layer: 4, Protocol: types.ProtocolTCP, Status: true},
		{ID: "b", IP: [4]byte{10, 1, 0, 0}, CIDR: 24, Layer: 4, Protocol: types.ProtocolTCP, FromPort: port(80), Status: false},
		{ID: "c", IP: [4]byte{10, 2, 0, 0}, CIDR: 16, Layer: 4, Protocol: types.ProtocolUDP, Status: true},
	}
}

func TestReconcileInstallsExactRulesetAndPrefixLengths(t *testing.T) {
	store := newFakeStore()
	fetcher := &fakeFetcher{rules: threeRules()}
	r := New(store, fetcher, 4, time.Second, nil, metrics.NewMetrics())

	if err := r.reconcileOnce(context.Background()); err != nil {
		t.Fatalf("reconcileOnce: %v", err)
	}

	if len(store.rules) != 3 {
		t.Fatalf("expected 3 rules installed, got %d", len(store.rules))
	}
	for _, cidr := range []uint8{32, 24, 16} {
		if _, ok := store.prefixLens[cidr]; !ok {
			t.Errorf("expected prefix length %d present", cidr)
		}
	}
	if len(store.prefixLens) != 3 {
		t.Errorf("expected exactly 3 prefix lengths, got %d", len(store.prefixLens))
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	store := newFakeStore()
	fetcher := &fakeFetcher{rules: threeRules()}
	r := New(store, fetcher, 4, time.Second, nil, metrics.NewMetrics())

	if err := r.reconcileOnce(context.Background()); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	first := make(map[types.LPMKey]types.KernelRule, len(store.rules))
	for k, v := range store.rules {
		first[k] = v
	}

	if err := r.reconcileOnce(context.Background()); err != nil {
		t.Fatalf("second tick: %v", err)
	}

	if len(first) != len(store.rules) {
		t.Fatalf("rule count changed across idempotent ticks: %d vs %d", len(first), len(store.rules))
	}
	for k, v := range first {
		got, ok := store.rules[k]
		if !ok || got != v {
			t.Errorf("rule %+v changed across idempotent ticks: %+v -> %+v", k, v, got)
		}
	}
	if store.deleteCalls != 2 {
		t.Errorf("expected DeleteAllRules called once per tick, got %d calls", store.deleteCalls)
	}
}

func TestReconcileAbortsOnFetchError(t *testing.T) {
	store := newFakeStore()
	store.PutRule(threeRules()[0])
	fetcher := &fakeFetcher{err: context.DeadlineExceeded}
	r := New(store, fetcher, 4, time.Second, nil, metrics.NewMetrics())

	if err := r.reconcileOnce(context.Background()); err == nil {
		t.Fatal("expected error when control plane fetch fails")
	}

	if len(store.rules) != 1 {
		t.Errorf("expected previous ruleset to remain in force, got %d rules", len(store.rules))
	}
}

func TestReconcileRejectsInvalidIcmpRuleWithPorts(t *testing.T) {
	store := newFakeStore()
	fetcher := &fakeFetcher{rules: []types.Rule{
		{ID: "bad", IP: [4]byte{1, 2, 3, 4}, CIDR: 32, Layer: 4, Protocol: types.ProtocolICMP, FromPort: port(80)},
	}}
	r := New(store, fetcher, 4, time.Second, nil, metrics.NewMetrics())

	if err := r.reconcileOnce(context.Background()); err == nil {
		t.Fatal("expected validation error for icmp rule with ports")
	}
	if len(store.rules) != 0 {
		t.Errorf("expected no mutation on validation failure, got %d rules", len(store.rules))
	}
}
