package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jeeves-cluster-organization/cowrite/coreengine/runtime"
)

// RecordAgentLog implements runtime.LogSink.
func (s *Store) RecordAgentLog(ctx context.Context, log runtime.AgentLog) error {
	input, err := marshalMap(log.Input, "{}")
	if err != nil {
		return fmt.Errorf("marshal agent input: %w", err)
	}
	output, err := marshalMap(log.Output, "null")
	if err != nil {
		return fmt.Errorf("marshal agent output: %w", err)
	}

	const q = `INSERT INTO agent_logs (id, project_id, agent, input_json, output_json, latency_ms, status, error_kind, error, attempts, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.DB.ExecContext(ctx, q,
		log.ID, log.ProjectID, log.Agent, input, output,
		log.LatencyMS, log.Status, log.ErrorKind, log.Error, log.Attempts,
		toUnix(log.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert agent log: %w", err)
	}
	return nil
}

// AgentLogs returns a project's agent logs in write order.
func (s *Store) AgentLogs(ctx context.Context, projectID string) ([]runtime.AgentLog, error) {
	const q = `SELECT id, project_id, agent, input_json, output_json, latency_ms, status, error_kind, error, attempts, created_at
FROM agent_logs WHERE project_id = ? ORDER BY created_at ASC, rowid ASC`

	rows, err := s.DB.QueryContext(ctx, q, projectID)
	if err != nil {
		return nil, fmt.Errorf("list agent logs: %w", err)
	}
	defer rows.Close()

	var out []runtime.AgentLog
	for rows.Next() {
		var (
			l             runtime.AgentLog
			input, output string
			createdAt     int64
		)
		if err := rows.Scan(&l.ID, &l.ProjectID, &l.Agent, &input, &output,
			&l.LatencyMS, &l.Status, &l.ErrorKind, &l.Error, &l.Attempts, &createdAt); err != nil {
			return nil, fmt.Errorf("scan agent log: %w", err)
		}
		if err := json.Unmarshal([]byte(input), &l.Input); err != nil {
			return nil, fmt.Errorf("decode agent input: %w", err)
		}
		if err := json.Unmarshal([]byte(output), &l.Output); err != nil {
			return nil, fmt.Errorf("decode agent output: %w", err)
		}
		l.CreatedAt = fromUnix(createdAt)
		out = append(out, l)
	}
	return out, rows.Err()
}

func marshalMap(m map[string]any, empty string) (string, error) {
	if m == nil {
		return empty, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var _ runtime.LogSink = (*Store)(nil)
