// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package drain implements the per-CPU event drain (C3): it reads kernel
// events off a perf-event array, decodes the fixed-size records the
// classifier and exec tracer write, and forwards each one as JSON to the
// control plane.
package drain

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/perf"

	"warden.sh/warden/internal/ctlplaneclient"
	"warden.sh/warden/internal/ebpf/metrics"
	"warden.sh/warden/internal/ebpf/types"
	"warden.sh/warden/internal/logging"
)

// Kind labels which ring a Drain reads, used for metric labels and log
// fields.
type Kind string

const (
	KindFirewallLog Kind = "firewall_log"
	KindExecEvent   Kind = "command_execution"
)

// perCPUBufferSize is the per-CPU perf ring size in bytes. §4.3 calls for a
// "small pool of reusable byte buffers (typical size 1 KiB)"; a ring several
// pages deep absorbs bursts without growing unbounded.
const perCPUBufferSize = 16 * 1024

// event is one raw, not-yet-decoded record along with the CPU it was read
// from; the CPU is used only for metric labeling and logging.
type event struct {
	cpu int
	raw []byte
}

// Drain owns one perf.Reader and a pool of per-CPU worker goroutines. Events
// from the same CPU are forwarded in the order the kernel produced them;
// there is no ordering guarantee across CPUs, matching §5.
type Drain struct {
	kind    Kind
	reader  *perf.Reader
	client  *ctlplaneclient.Client
	logger  *logging.Logger
	metrics *metrics.Metrics

	decodeAndPost func(ctx context.Context, raw []byte) error

	workersMu sync.Mutex
	workers   map[int]chan event
}

// NewFirewallLogDrain builds a Drain over the FIREWALL_LOG perf array.
func NewFirewallLogDrain(m *ebpf.Map, client *ctlplaneclient.Client, logger *logging.Logger, mtr *metrics.Metrics) (*Drain, error) {
	d, err := newDrain(KindFirewallLog, m, client, logger, mtr)
	if err != nil {
		return nil, err
	}
	d.decodeAndPost = d.decodeAndPostFirewallLog
	return d, nil
}

// NewExecDrain builds a Drain over the COMMAND_EVENTS perf array.
func NewExecDrain(m *ebpf.Map, client *ctlplaneclient.Client, logger *logging.Logger, mtr *metrics.Metrics) (*Drain, error) {
	d, err := newDrain(KindExecEvent, m, client, logger, mtr)
	if err != nil {
		return nil, err
	}
	d.decodeAndPost = d.decodeAndPostExecEvent
	return d, nil
}

func newDrain(kind Kind, m *ebpf.Map, client *ctlplaneclient.Client, logger *logging.Logger, mtr *metrics.Metrics) (*Drain, error) {
	reader, err := perf.NewReader(m, perCPUBufferSize)
	if err != nil {
		return nil, fmt.Errorf("open perf reader for %s: %w", kind, err)
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Drain{
		kind:    kind,
		reader:  reader,
		client:  client,
		logger:  logger.WithComponent("drain").With("kind", string(kind)),
		metrics: mtr,
		workers: make(map[int]chan event),
	}, nil
}

// Run drains events until ctx is canceled or the reader is closed. Errors
// from an individual event are logged and the loop continues, per §4.3 and
// the steady-state error policy in §7.
func (d *Drain) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		d.reader.Close()
	}()

	for {
		record, err := d.reader.Read()
		if err != nil {
			if errors.Is(err, perf.ErrClosed) {
				return nil
			}
			d.logger.Error("perf read failed", "error", err)
			continue
		}

		if record.LostSamples > 0 {
			d.metrics.DrainEventsLost.WithLabelValues(strconv.Itoa(record.CPU), string(d.kind)).Add(float64(record.LostSamples))
			d.logger.Warn("ring overflow", "cpu", record.CPU, "lost", record.LostSamples)
		}
		if len(record.RawSample) == 0 {
			continue
		}

		d.dispatch(ctx, record.CPU, record.RawSample)
	}
}

// dispatch hands raw to the worker owning cpu, starting one if this is the
// first event seen from it. One goroutine per CPU preserves FIFO order
// within a CPU while letting distinct CPUs proceed concurrently, matching
// the ordering guarantees in §5.
func (d *Drain) dispatch(ctx context.Context, cpu int, raw []byte) {
	buf := make([]byte, len(raw))
	copy(buf, raw)

	d.workersMu.Lock()
	ch, ok := d.workers[cpu]
	if !ok {
		ch = make(chan event, 256)
		d.workers[cpu] = ch
		go d.worker(ctx, ch)
	}
	d.workersMu.Unlock()

	ch <- event{cpu: cpu, raw: buf}
}

func (d *Drain) worker(ctx context.Context, ch chan event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := d.decodeAndPost(ctx, ev.raw); err != nil {
				cpuLabel := strconv.Itoa(ev.cpu)
				d.metrics.DrainPostErrors.WithLabelValues(cpuLabel, string(d.kind)).Inc()
				d.logger.Error("forward event failed", "cpu", ev.cpu, "error", err)
				continue
			}
			d.metrics.DrainEventsForwarded.WithLabelValues(strconv.Itoa(ev.cpu), string(d.kind)).Inc()
		}
	}
}

func (d *Drain) decodeAndPostFirewallLog(ctx context.Context, raw []byte) error {
	var rec types.FirewallLog
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &rec); err != nil {
		return fmt.Errorf("decode firewall log: %w", err)
	}

	d.metrics.PacketsDropped.Inc()
	data := types.FirewallLogDataFromKernel(rec)
	return d.client.PostFirewallLog(ctx, data)
}

func (d *Drain) decodeAndPostExecEvent(ctx context.Context, raw []byte) error {
	var rec types.CommandInfo
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &rec); err != nil {
		return fmt.Errorf("decode command info: %w", err)
	}

	d.metrics.ExecEventsCaptured.Inc()
	form := types.CommandExecutionRequestFormFromKernel(rec)
	return d.client.PostCommandExecution(ctx, form)
}

// Close releases the underlying perf reader.
func (d *Drain) Close() error {
	return d.reader.Close()
}
