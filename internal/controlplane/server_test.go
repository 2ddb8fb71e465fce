// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package controlplane

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"warden.sh/warden/internal/ebpf/types"
)

func newTestServer(t *testing.T) (*Server, *Store) {
	t.Helper()
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewServer(store, ":0", DefaultServerConfig(), nil), store
}

func port(p uint16) *uint16 { return &p }

func TestPing(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || rr.Body.String() != "pong" {
		t.Fatalf("expected 200 pong, got %d %q", rr.Code, rr.Body.String())
	}
}

func TestMetricsEndpointReportsRequests(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	srv.router.ServeHTTP(httptest.NewRecorder(), req)

	mreq := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, mreq)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rr.Code)
	}
	if !bytes.Contains(rr.Body.Bytes(), []byte("warden_controlplane_requests_total")) {
		t.Fatalf("expected warden_controlplane_requests_total in /metrics output")
	}
}

func TestDeleteRuleNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodDelete, "/firewall-rule/delete/does-not-exist", nil)
	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown rule id, got %d", rr.Code)
	}
}

func TestCreateAndListRulesByLayer(t *testing.T) {
	srv, _ := newTestServer(t)

	rule := types.Rule{IP: [4]byte{10, 0, 0, 0}, CIDR: 24, Layer: 4, Protocol: types.ProtocolTCP, FromPort: port(443), Status: true}
	body, _ := json.Marshal(rule)

	req := httptest.NewRequest(http.MethodPost, "/firewall-rule/create", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create rule: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var created types.Rule
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created rule: %v", err)
	}
	if created.ID == "" {
		t.Error("expected server-assigned id")
	}

	listReq := httptest.NewRequest(http.MethodGet, "/firewall-rule/list/4", nil)
	listRR := httptest.NewRecorder()
	srv.router.ServeHTTP(listRR, listReq)
	if listRR.Code != http.StatusOK {
		t.Fatalf("list rules: expected 200, got %d", listRR.Code)
	}

	var rules []types.Rule
	if err := json.Unmarshal(listRR.Body.Bytes(), &rules); err != nil {
		t.Fatalf("decode rule list: %v", err)
	}
	if len(rules) != 1 || rules[0].ID != created.ID {
		t.Fatalf("expected 1 rule matching created id, got %+v", rules)
	}

	otherLayerReq := httptest.NewRequest(http.MethodGet, "/firewall-rule/list/3", nil)
	otherLayerRR := httptest.NewRecorder()
	srv.router.ServeHTTP(otherLayerRR, otherLayerReq)
	var empty []types.Rule
	json.Unmarshal(otherLayerRR.Body.Bytes(), &empty)
	if len(empty) != 0 {
		t.Errorf("expected no rules for layer 3, got %d", len(empty))
	}
}

func TestCreateRuleRejectsIcmpWithPort(t *testing.T) {
	srv, _ := newTestServer(t)

	rule := types.Rule{IP: [4]byte{1, 2, 3, 4}, CIDR: 32, Layer: 4, Protocol: types.ProtocolICMP, FromPort: port(80)}
	body, _ := json.Marshal(rule)

	req := httptest.NewRequest(http.MethodPost, "/firewall-rule/create", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid rule, got %d", rr.Code)
	}
}

func TestFirewallLogCreateAssignsIDAndTimestamp(t *testing.T) {
	srv, _ := newTestServer(t)

	log := types.FirewallLogData{IP: [4]byte{192, 168, 1, 1}, Protocol: types.ProtocolTCP, Port: port(22), Status: false}
	body, _ := json.Marshal(log)

	req := httptest.NewRequest(http.MethodPost, "/firewall-log/create", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var stored types.FirewallLogData
	json.Unmarshal(rr.Body.Bytes(), &stored)
	if stored.ID == "" || stored.Timestamp == 0 {
		t.Errorf("expected server-assigned id and timestamp, got %+v", stored)
	}
}

func TestCommandExecutionLogAndStats(t *testing.T) {
	srv, _ := newTestServer(t)

	forms := []types.CommandExecutionRequestForm{
		{Command: "/usr/bin/curl", Args: "-s https://example.com", Tgid: 100, Pid: 100, Gid: 1000, Uid: 1000},
		{Command: "/usr/bin/curl", Args: "-s https://example.org", Tgid: 101, Pid: 101, Gid: 1000, Uid: 1000},
		{Command: "/bin/ls", Args: "-la", Tgid: 102, Pid: 102, Gid: 1000, Uid: 1000},
	}
	for _, f := range forms {
		body, _ := json.Marshal(f)
		req := httptest.NewRequest(http.MethodPost, "/command-execution/log", bytes.NewReader(body))
		rr := httptest.NewRecorder()
		srv.router.ServeHTTP(rr, req)
		if rr.Code != http.StatusCreated {
			t.Fatalf("log command execution: expected 201, got %d", rr.Code)
		}
	}

	listReq := httptest.NewRequest(http.MethodGet, "/command-execution/list?limit=10&offset=0", nil)
	listRR := httptest.NewRecorder()
	srv.router.ServeHTTP(listRR, listReq)
	var executions []types.CommandExecutionData
	json.Unmarshal(listRR.Body.Bytes(), &executions)
	if len(executions) != 3 {
		t.Fatalf("expected 3 executions, got %d", len(executions))
	}

	statsReq := httptest.NewRequest(http.MethodGet, "/command-execution/stats", nil)
	statsRR := httptest.NewRecorder()
	srv.router.ServeHTTP(statsRR, statsReq)
	var stats []types.CommandStat
	json.Unmarshal(statsRR.Body.Bytes(), &stats)

	found := false
	for _, s := range stats {
		if s.Command == "/usr/bin/curl" {
			found = true
			if s.Total != 2 {
				t.Errorf("expected curl invoked twice, got %d", s.Total)
			}
		}
	}
	if !found {
		t.Fatal("expected /usr/bin/curl in stats")
	}
}
