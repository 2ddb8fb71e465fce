// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package drain

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"warden.sh/warden/internal/ctlplaneclient"
	"warden.sh/warden/internal/ebpf/metrics"
	"warden.sh/warden/internal/ebpf/types"
)

// newTestDrain builds a Drain with no real perf.Reader, sufficient for
// exercising decodeAndPost* directly: they never touch d.reader.
func newTestDrain(t *testing.T, kind Kind, client *ctlplaneclient.Client) *Drain {
	t.Helper()
	d := &Drain{
		kind:    kind,
		client:  client,
		metrics: metrics.NewMetrics(),
	}
	switch kind {
	case KindFirewallLog:
		d.decodeAndPost = d.decodeAndPostFirewallLog
	case KindExecEvent:
		d.decodeAndPost = d.decodeAndPostExecEvent
	}
	return d
}

func TestDecodeAndPostFirewallLog(t *testing.T) {
	var posted types.FirewallLogData
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&posted); err != nil {
			t.Fatalf("decode posted body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := ctlplaneclient.New(srv.URL)
	d := newTestDrain(t, KindFirewallLog, client)

	rec := types.FirewallLog{IP: [4]byte{10, 0, 0, 1}, Port: 443, Protocol: types.ProtocolTCP, Status: 0}
	raw := &bytes.Buffer{}
	if err := binary.Write(raw, binary.LittleEndian, rec); err != nil {
		t.Fatalf("encode record: %v", err)
	}

	if err := d.decodeAndPost(t.Context(), raw.Bytes()); err != nil {
		t.Fatalf("decodeAndPost: %v", err)
	}

	if posted.IP != rec.IP || posted.Protocol != rec.Protocol {
		t.Errorf("posted record mismatch: %+v", posted)
	}
	if posted.Port == nil || *posted.Port != rec.Port {
		t.Errorf("expected port %d, got %v", rec.Port, posted.Port)
	}
}

func TestDecodeAndPostExecEvent(t *testing.T) {
	var posted types.CommandExecutionRequestForm
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&posted); err != nil {
			t.Fatalf("decode posted body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := ctlplaneclient.New(srv.URL)
	d := newTestDrain(t, KindExecEvent, client)

	var rec types.CommandInfo
	rec.CommandLen = uint64(copy(rec.Command[:], "/bin/ls"))
	rec.ArgvLens[0] = uint64(copy(rec.Argv[0][:], "-l"))
	rec.Tgid, rec.Pid, rec.Gid, rec.Uid = 7, 7, 0, 0

	raw := &bytes.Buffer{}
	if err := binary.Write(raw, binary.LittleEndian, rec); err != nil {
		t.Fatalf("encode record: %v", err)
	}

	if err := d.decodeAndPost(t.Context(), raw.Bytes()); err != nil {
		t.Fatalf("decodeAndPost: %v", err)
	}

	if posted.Command != "/bin/ls" || posted.Args != "-l" {
		t.Errorf("posted record mismatch: %+v", posted)
	}
}
