// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package reconciler implements the rule reconciler (C4): a single periodic
// task that fetches the authoritative ruleset from the control plane and
// rewrites the kernel LPM trie and prefix-length set to match it.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"warden.sh/warden/internal/ebpf/metrics"
	"warden.sh/warden/internal/ebpf/types"
	"warden.sh/warden/internal/logging"
)

// ruleStore is the subset of *maps.RuleManager the reconciler needs to
// rewrite the kernel ruleset. Narrowed to an interface so tests can swap in
// an in-memory fake instead of a live kernel map.
type ruleStore interface {
	PutRule(r types.Rule) error
	EnsurePrefixLen(length uint8) error
	DeleteAllRules() error
}

// ruleFetcher is the subset of *ctlplaneclient.Client the reconciler needs.
type ruleFetcher interface {
	ListRules(ctx context.Context, layer uint8) ([]types.Rule, error)
}

// Reconciler periodically replaces the kernel ruleset with the control
// plane's current view for one layer.
type Reconciler struct {
	rules    ruleStore
	client   ruleFetcher
	layer    uint8
	interval time.Duration
	logger   *logging.Logger
	metrics  *metrics.Metrics

	stopCh chan struct{}
}

// New builds a Reconciler. interval is fwr_update_duration from [ebpf] in
// the firewall daemon's config.
func New(rules ruleStore, client ruleFetcher, layer uint8, interval time.Duration, logger *logging.Logger, mtr *metrics.Metrics) *Reconciler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Reconciler{
		rules:    rules,
		client:   client,
		layer:    layer,
		interval: interval,
		logger:   logger.WithComponent("reconciler"),
		metrics:  mtr,
		stopCh:   make(chan struct{}),
	}
}

// Run blocks, ticking every interval until ctx is canceled or Stop is
// called. The reconciler is serialized against itself by running as a
// single task, per §5; it does not coordinate with drain tasks because they
// touch disjoint maps.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.tick(ctx)
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop requests the reconcile loop to exit.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

// tick executes one reconciliation pass per §4.4. Any control-plane error
// aborts with no mutation, leaving the previous ruleset in force.
func (r *Reconciler) tick(ctx context.Context) {
	start := time.Now()
	r.metrics.ReconcileTicksTotal.Inc()

	if err := r.reconcileOnce(ctx); err != nil {
		r.metrics.ReconcileTickFailures.Inc()
		r.logger.Error("reconcile tick failed, previous ruleset remains in force", "error", err)
		return
	}

	r.metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
}

func (r *Reconciler) reconcileOnce(ctx context.Context) error {
	rules, err := r.client.ListRules(ctx, r.layer)
	if err != nil {
		return fmt.Errorf("fetch ruleset for layer %d: %w", r.layer, err)
	}

	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("invalid rule %s from control plane: %w", rule.ID, err)
		}
	}

	if err := r.rules.DeleteAllRules(); err != nil {
		return fmt.Errorf("clear lpm trie: %w", err)
	}

	r.metrics.MapUpdates.WithLabelValues("FIREWALL_RULES", "delete_all").Inc()

	prefixLens := make(map[uint8]struct{})
	for _, rule := range rules {
		if err := r.rules.PutRule(rule); err != nil {
			return fmt.Errorf("install rule %s: %w", rule.ID, err)
		}
		prefixLens[rule.CIDR] = struct{}{}
	}
	r.metrics.MapUpdates.WithLabelValues("FIREWALL_RULES", "put").Add(float64(len(rules)))

	for length := range prefixLens {
		if err := r.rules.EnsurePrefixLen(length); err != nil {
			return fmt.Errorf("register prefix length %d: %w", length, err)
		}
	}
	r.metrics.MapUpdates.WithLabelValues("FIREWALL_CIDRS", "ensure_prefix").Add(float64(len(prefixLens)))

	r.metrics.MapEntries.WithLabelValues("FIREWALL_RULES").Set(float64(len(rules)))
	r.metrics.MapEntries.WithLabelValues("FIREWALL_CIDRS").Set(float64(len(prefixLens)))
	r.metrics.ReconcileRuleCount.Set(float64(len(rules)))
	r.logger.Info("reconcile tick complete", "layer", r.layer, "rules", len(rules), "prefix_lengths", len(prefixLens))
	return nil
}
