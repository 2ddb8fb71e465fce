// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package controlplane

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"warden.sh/warden/internal/ebpf/types"
	werrors "warden.sh/warden/internal/errors"
)

// Store persists rules, firewall logs, and exec-audit records to SQLite.
// The original control plane used a document database; at-least-once insert
// and best-effort read consistency (§4.5) are satisfied just as well by a
// local relational store, and it needs no separate process to operate.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path, applying the schema if
// necessary.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open control plane db: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rules (
		id TEXT PRIMARY KEY,
		ip INTEGER NOT NULL,
		cidr INTEGER NOT NULL,
		layer INTEGER NOT NULL,
		protocol TEXT NOT NULL,
		from_port INTEGER,
		to_port INTEGER,
		status INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rules_layer ON rules(layer);

	CREATE TABLE IF NOT EXISTS firewall_logs (
		id TEXT PRIMARY KEY,
		ip INTEGER NOT NULL,
		protocol TEXT NOT NULL,
		port INTEGER,
		status INTEGER NOT NULL,
		timestamp INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS command_executions (
		id TEXT PRIMARY KEY,
		command TEXT NOT NULL,
		args TEXT NOT NULL,
		tgid INTEGER NOT NULL,
		pid INTEGER NOT NULL,
		gid INTEGER NOT NULL,
		uid INTEGER NOT NULL,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_command_executions_command ON command_executions(command);
	`
	_, err := s.db.Exec(schema)
	return err
}

func ipToUint32(ip [4]byte) uint32 {
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}

func uint32ToIP(v uint32) [4]byte {
	return [4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// CreateRule assigns a new id, persists r, and returns the stored record.
func (s *Store) CreateRule(r types.Rule) (types.Rule, error) {
	if err := r.Validate(); err != nil {
		return types.Rule{}, werrors.Wrap(err, werrors.KindValidation, "invalid rule")
	}
	r.ID = uuid.NewString()

	_, err := s.db.Exec(
		`INSERT INTO rules (id, ip, cidr, layer, protocol, from_port, to_port, status) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, ipToUint32(r.IP), r.CIDR, r.Layer, r.Protocol.String(), nullablePort(r.FromPort), nullablePort(r.ToPort), boolToInt(r.Status),
	)
	if err != nil {
		return types.Rule{}, fmt.Errorf("insert rule: %w", err)
	}
	return r, nil
}

// DeleteRule removes the rule with the given id. It returns a KindNotFound
// error if no rule with that id exists.
func (s *Store) DeleteRule(id string) error {
	res, err := s.db.Exec(`DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if n == 0 {
		return werrors.Errorf(werrors.KindNotFound, "rule %s not found", id)
	}
	return nil
}

// ListRulesByLayer returns every rule belonging to layer.
func (s *Store) ListRulesByLayer(layer uint8) ([]types.Rule, error) {
	rows, err := s.db.Query(
		`SELECT id, ip, cidr, layer, protocol, from_port, to_port, status FROM rules WHERE layer = ? ORDER BY id`,
		layer,
	)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []types.Rule
	for rows.Next() {
		var (
			r          types.Rule
			ipRaw      uint32
			protoRaw   string
			fromPort   sql.NullInt64
			toPort     sql.NullInt64
			statusInt  int
		)
		if err := rows.Scan(&r.ID, &ipRaw, &r.CIDR, &r.Layer, &protoRaw, &fromPort, &toPort, &statusInt); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r.IP = uint32ToIP(ipRaw)
		if err := (&r.Protocol).UnmarshalJSON([]byte(`"` + protoRaw + `"`)); err != nil {
			return nil, fmt.Errorf("decode protocol %q: %w", protoRaw, err)
		}
		if fromPort.Valid {
			p := uint16(fromPort.Int64)
			r.FromPort = &p
		}
		if toPort.Valid {
			p := uint16(toPort.Int64)
			r.ToPort = &p
		}
		r.Status = statusInt != 0
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// CreateFirewallLog assigns an id and timestamp, then persists log.
func (s *Store) CreateFirewallLog(log types.FirewallLogData) (types.FirewallLogData, error) {
	log.ID = uuid.NewString()
	log.Timestamp = time.Now().UnixMilli()

	_, err := s.db.Exec(
		`INSERT INTO firewall_logs (id, ip, protocol, port, status, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		log.ID, ipToUint32(log.IP), log.Protocol.String(), nullablePort(log.Port), boolToInt(log.Status), log.Timestamp,
	)
	if err != nil {
		return types.FirewallLogData{}, fmt.Errorf("insert firewall log: %w", err)
	}
	return log, nil
}

// CreateCommandExecution assigns an id and timestamp, then persists form.
func (s *Store) CreateCommandExecution(form types.CommandExecutionRequestForm) (types.CommandExecutionData, error) {
	data := types.CommandExecutionData{
		ID:        uuid.NewString(),
		Command:   form.Command,
		Args:      form.Args,
		Tgid:      form.Tgid,
		Pid:       form.Pid,
		Gid:       form.Gid,
		Uid:       form.Uid,
		Timestamp: time.Now().UnixMilli(),
	}

	_, err := s.db.Exec(
		`INSERT INTO command_executions (id, command, args, tgid, pid, gid, uid, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		data.ID, data.Command, data.Args, data.Tgid, data.Pid, data.Gid, data.Uid, data.Timestamp,
	)
	if err != nil {
		return types.CommandExecutionData{}, fmt.Errorf("insert command execution: %w", err)
	}
	return data, nil
}

// ListCommandExecutions returns a page of executions ordered newest first.
func (s *Store) ListCommandExecutions(limit, offset int) ([]types.CommandExecutionData, error) {
	rows, err := s.db.Query(
		`SELECT id, command, args, tgid, pid, gid, uid, timestamp FROM command_executions ORDER BY timestamp DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query command executions: %w", err)
	}
	defer rows.Close()

	var out []types.CommandExecutionData
	for rows.Next() {
		var d types.CommandExecutionData
		if err := rows.Scan(&d.ID, &d.Command, &d.Args, &d.Tgid, &d.Pid, &d.Gid, &d.Uid, &d.Timestamp); err != nil {
			return nil, fmt.Errorf("scan command execution: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CommandStats returns the total invocation count of every distinct command,
// most frequent first.
func (s *Store) CommandStats() ([]types.CommandStat, error) {
	rows, err := s.db.Query(
		`SELECT command, COUNT(*) AS total FROM command_executions GROUP BY command ORDER BY total DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query command stats: %w", err)
	}
	defer rows.Close()

	var out []types.CommandStat
	for rows.Next() {
		var stat types.CommandStat
		if err := rows.Scan(&stat.Command, &stat.Total); err != nil {
			return nil, fmt.Errorf("scan command stat: %w", err)
		}
		out = append(out, stat)
	}
	return out, rows.Err()
}

func nullablePort(p *uint16) interface{} {
	if p == nil {
		return nil
	}
	return int(*p)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
