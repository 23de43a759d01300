// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package storage persists workflow executions, group sessions, review
// requests, and the event journal to SQLite. WAL mode allows readers
// alongside the single writer.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/teradata-labs/weft/pkg/event"
	"github.com/teradata-labs/weft/pkg/group"
	"github.com/teradata-labs/weft/pkg/review"
	"github.com/teradata-labs/weft/pkg/types"
	"github.com/teradata-labs/weft/pkg/workflow"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// RunStore is the SQLite-backed audit and recovery store.
type RunStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewRunStore opens (or creates) the store at dbPath. Use ":memory:"
// for tests.
func NewRunStore(ctx context.Context, dbPath string, logger *zap.Logger) (*RunStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", dbPath))
	if err != nil {
		return nil, types.WrapError(types.KindBackendUnavailable, err, "open run store %q", dbPath)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := &RunStore{db: db, logger: logger}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, types.WrapError(types.KindBackendUnavailable, err, "initialize run store schema")
	}
	return store, nil
}

func (s *RunStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		workflow_name TEXT NOT NULL,
		status TEXT NOT NULL,
		correlation_id TEXT NOT NULL,
		inputs_json TEXT,
		outputs_json TEXT,
		failure_json TEXT,
		metadata_json TEXT,
		input_tokens INTEGER DEFAULT 0,
		output_tokens INTEGER DEFAULT 0,
		total_tokens INTEGER DEFAULT 0,
		started_at INTEGER NOT NULL,
		ended_at INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions(workflow_name);
	CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);

	CREATE TABLE IF NOT EXISTS execution_steps (
		execution_id TEXT NOT NULL,
		step_id TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER DEFAULT 0,
		output_json TEXT,
		failure_json TEXT,
		input_tokens INTEGER DEFAULT 0,
		output_tokens INTEGER DEFAULT 0,
		total_tokens INTEGER DEFAULT 0,
		started_at INTEGER DEFAULT 0,
		ended_at INTEGER DEFAULT 0,
		PRIMARY KEY (execution_id, step_id),
		FOREIGN KEY (execution_id) REFERENCES executions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS group_sessions (
		id TEXT PRIMARY KEY,
		group_name TEXT NOT NULL,
		goal TEXT,
		status TEXT NOT NULL,
		round INTEGER DEFAULT 0,
		consensus TEXT,
		messages_json TEXT,
		failure_json TEXT,
		input_tokens INTEGER DEFAULT 0,
		output_tokens INTEGER DEFAULT 0,
		total_tokens INTEGER DEFAULT 0,
		started_at INTEGER NOT NULL,
		ended_at INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_group ON group_sessions(group_name);

	CREATE TABLE IF NOT EXISTS reviews (
		id TEXT PRIMARY KEY,
		artifact_json TEXT NOT NULL,
		state TEXT NOT NULL,
		records_json TEXT,
		created_at INTEGER NOT NULL,
		expires_at INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		correlation_id TEXT NOT NULL,
		payload_json TEXT,
		timestamp INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_correlation ON events(correlation_id);
	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveExecution upserts an execution context and its step records.
func (s *RunStore) SaveExecution(ctx context.Context, ec *workflow.ExecutionContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.WrapError(types.KindBackendUnavailable, err, "begin save of execution %s", ec.ID)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO executions (
			id, workflow_name, status, correlation_id,
			inputs_json, outputs_json, failure_json, metadata_json,
			input_tokens, output_tokens, total_tokens, started_at, ended_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			outputs_json = excluded.outputs_json,
			failure_json = excluded.failure_json,
			metadata_json = excluded.metadata_json,
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			total_tokens = excluded.total_tokens,
			ended_at = excluded.ended_at`,
		ec.ID, ec.WorkflowName, string(ec.Status), ec.CorrelationID,
		marshal(ec.Inputs), marshal(ec.Outputs), marshal(ec.Failure), marshal(ec.Metadata),
		ec.Usage.InputTokens, ec.Usage.OutputTokens, ec.Usage.TotalTokens,
		unixMilli(ec.StartedAt), unixMilli(ec.EndedAt))
	if err != nil {
		return types.WrapError(types.KindBackendUnavailable, err, "save execution %s", ec.ID)
	}

	for stepID, rec := range ec.Steps {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO execution_steps (
				execution_id, step_id, status, attempts,
				output_json, failure_json,
				input_tokens, output_tokens, total_tokens, started_at, ended_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(execution_id, step_id) DO UPDATE SET
				status = excluded.status,
				attempts = excluded.attempts,
				output_json = excluded.output_json,
				failure_json = excluded.failure_json,
				input_tokens = excluded.input_tokens,
				output_tokens = excluded.output_tokens,
				total_tokens = excluded.total_tokens,
				started_at = excluded.started_at,
				ended_at = excluded.ended_at`,
			ec.ID, stepID, string(rec.Status), rec.Attempts,
			marshal(rec.Output), marshal(rec.Failure),
			rec.Usage.InputTokens, rec.Usage.OutputTokens, rec.Usage.TotalTokens,
			unixMilli(rec.StartedAt), unixMilli(rec.EndedAt))
		if err != nil {
			return types.WrapError(types.KindBackendUnavailable, err,
				"save step %s of execution %s", stepID, ec.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return types.WrapError(types.KindBackendUnavailable, err, "commit execution %s", ec.ID)
	}
	return nil
}

// GetExecution loads one execution context with its step records.
func (s *RunStore) GetExecution(ctx context.Context, id string) (*workflow.ExecutionContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ec := &workflow.ExecutionContext{ID: id, Steps: make(map[string]*workflow.StepRecord)}
	var status string
	var inputsJSON, outputsJSON, failureJSON, metadataJSON sql.NullString
	var startedAt, endedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT workflow_name, status, correlation_id,
		       inputs_json, outputs_json, failure_json, metadata_json,
		       input_tokens, output_tokens, total_tokens, started_at, ended_at
		FROM executions WHERE id = ?`, id).Scan(
		&ec.WorkflowName, &status, &ec.CorrelationID,
		&inputsJSON, &outputsJSON, &failureJSON, &metadataJSON,
		&ec.Usage.InputTokens, &ec.Usage.OutputTokens, &ec.Usage.TotalTokens,
		&startedAt, &endedAt)
	if err == sql.ErrNoRows {
		return nil, types.NewError(types.KindNotFound, "execution %q not found", id)
	}
	if err != nil {
		return nil, types.WrapError(types.KindBackendUnavailable, err, "load execution %s", id)
	}
	ec.Status = types.WorkflowStatus(status)
	ec.StartedAt = fromUnixMilli(startedAt)
	ec.EndedAt = fromUnixMilli(endedAt)
	unmarshal(inputsJSON, &ec.Inputs)
	unmarshal(outputsJSON, &ec.Outputs)
	unmarshal(failureJSON, &ec.Failure)
	unmarshal(metadataJSON, &ec.Metadata)

	rows, err := s.db.QueryContext(ctx, `
		SELECT step_id, status, attempts, output_json, failure_json,
		       input_tokens, output_tokens, total_tokens, started_at, ended_at
		FROM execution_steps WHERE execution_id = ?`, id)
	if err != nil {
		return nil, types.WrapError(types.KindBackendUnavailable, err, "load steps of execution %s", id)
	}
	defer rows.Close()
	for rows.Next() {
		rec := &workflow.StepRecord{}
		var stepStatus string
		var outputJSON, recFailureJSON sql.NullString
		var recStarted, recEnded int64
		if err := rows.Scan(&rec.StepID, &stepStatus, &rec.Attempts, &outputJSON, &recFailureJSON,
			&rec.Usage.InputTokens, &rec.Usage.OutputTokens, &rec.Usage.TotalTokens,
			&recStarted, &recEnded); err != nil {
			return nil, types.WrapError(types.KindBackendUnavailable, err, "scan step row")
		}
		rec.Status = types.StepStatus(stepStatus)
		rec.StartedAt = fromUnixMilli(recStarted)
		rec.EndedAt = fromUnixMilli(recEnded)
		unmarshal(outputJSON, &rec.Output)
		unmarshal(recFailureJSON, &rec.Failure)
		ec.Steps[rec.StepID] = rec
	}
	return ec, rows.Err()
}

// ListExecutions returns recent executions of a workflow, newest first.
// Empty workflowName lists across workflows. Step records are not
// populated.
func (s *RunStore) ListExecutions(ctx context.Context, workflowName string, limit int) ([]*workflow.ExecutionContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, workflow_name, status, correlation_id, started_at, ended_at
		FROM executions`
	args := []interface{}{}
	if workflowName != "" {
		query += ` WHERE workflow_name = ?`
		args = append(args, workflowName)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.WrapError(types.KindBackendUnavailable, err, "list executions")
	}
	defer rows.Close()

	var out []*workflow.ExecutionContext
	for rows.Next() {
		ec := &workflow.ExecutionContext{}
		var status string
		var startedAt, endedAt int64
		if err := rows.Scan(&ec.ID, &ec.WorkflowName, &status, &ec.CorrelationID, &startedAt, &endedAt); err != nil {
			return nil, types.WrapError(types.KindBackendUnavailable, err, "scan execution row")
		}
		ec.Status = types.WorkflowStatus(status)
		ec.StartedAt = fromUnixMilli(startedAt)
		ec.EndedAt = fromUnixMilli(endedAt)
		out = append(out, ec)
	}
	return out, rows.Err()
}

// SaveSession upserts a group session, transcript included.
func (s *RunStore) SaveSession(ctx context.Context, session *group.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO group_sessions (
			id, group_name, goal, status, round, consensus,
			messages_json, failure_json,
			input_tokens, output_tokens, total_tokens, started_at, ended_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			round = excluded.round,
			consensus = excluded.consensus,
			messages_json = excluded.messages_json,
			failure_json = excluded.failure_json,
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			total_tokens = excluded.total_tokens,
			ended_at = excluded.ended_at`,
		session.ID, session.GroupName, session.Goal, string(session.Status),
		session.Round, session.Consensus,
		marshal(session.Messages), marshal(session.Failure),
		session.Usage.InputTokens, session.Usage.OutputTokens, session.Usage.TotalTokens,
		unixMilli(session.StartedAt), unixMilli(session.EndedAt))
	if err != nil {
		return types.WrapError(types.KindBackendUnavailable, err, "save session %s", session.ID)
	}
	return nil
}

// GetSession loads one group session.
func (s *RunStore) GetSession(ctx context.Context, id string) (*group.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session := &group.Session{ID: id}
	var status string
	var messagesJSON, failureJSON sql.NullString
	var startedAt, endedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT group_name, goal, status, round, consensus,
		       messages_json, failure_json,
		       input_tokens, output_tokens, total_tokens, started_at, ended_at
		FROM group_sessions WHERE id = ?`, id).Scan(
		&session.GroupName, &session.Goal, &status, &session.Round, &session.Consensus,
		&messagesJSON, &failureJSON,
		&session.Usage.InputTokens, &session.Usage.OutputTokens, &session.Usage.TotalTokens,
		&startedAt, &endedAt)
	if err == sql.ErrNoRows {
		return nil, types.NewError(types.KindNotFound, "session %q not found", id)
	}
	if err != nil {
		return nil, types.WrapError(types.KindBackendUnavailable, err, "load session %s", id)
	}
	session.Status = types.SessionStatus(status)
	session.StartedAt = fromUnixMilli(startedAt)
	session.EndedAt = fromUnixMilli(endedAt)
	unmarshal(messagesJSON, &session.Messages)
	unmarshal(failureJSON, &session.Failure)
	return session, nil
}

// SaveReview upserts a review request for the audit trail.
func (s *RunStore) SaveReview(ctx context.Context, req review.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reviews (id, artifact_json, state, records_json, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			records_json = excluded.records_json`,
		req.ID, marshal(req.Artifact), string(req.State), marshal(req.Records),
		unixMilli(req.CreatedAt), unixMilli(req.ExpiresAt))
	if err != nil {
		return types.WrapError(types.KindBackendUnavailable, err, "save review %s", req.ID)
	}
	return nil
}

// GetReview loads one persisted review request. The gate's runtime
// policy is not stored; only artifact, state, and decisions.
func (s *RunStore) GetReview(ctx context.Context, id string) (review.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req := review.Request{ID: id}
	var state string
	var artifactJSON, recordsJSON sql.NullString
	var createdAt, expiresAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT artifact_json, state, records_json, created_at, expires_at
		FROM reviews WHERE id = ?`, id).Scan(
		&artifactJSON, &state, &recordsJSON, &createdAt, &expiresAt)
	if err == sql.ErrNoRows {
		return req, types.NewError(types.KindNotFound, "review %q not found", id)
	}
	if err != nil {
		return req, types.WrapError(types.KindBackendUnavailable, err, "load review %s", id)
	}
	req.State = types.ReviewState(state)
	req.CreatedAt = fromUnixMilli(createdAt)
	req.ExpiresAt = fromUnixMilli(expiresAt)
	unmarshal(artifactJSON, &req.Artifact)
	unmarshal(recordsJSON, &req.Records)
	return req, nil
}

// JournalEvent records one bus event. Replays are tolerated: the event
// id is the primary key and duplicates are ignored.
func (s *RunStore) JournalEvent(ctx context.Context, ev event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO events (id, kind, correlation_id, payload_json, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Kind), ev.CorrelationID, marshal(ev.Payload), unixMilli(ev.Timestamp))
	if err != nil {
		return types.WrapError(types.KindBackendUnavailable, err, "journal event %s", ev.ID)
	}
	return nil
}

// Journal subscribes the store to a bus so every event lands in the
// journal. Returns the unsubscribe function.
func (s *RunStore) Journal(bus *event.Bus) func() {
	return bus.Subscribe(func(ev event.Event) {
		if err := s.JournalEvent(context.Background(), ev); err != nil {
			s.logger.Warn("event journal write failed",
				zap.String("event_id", ev.ID),
				zap.Error(err))
		}
	})
}

// Events returns the journal for one correlation id in publish order.
func (s *RunStore) Events(ctx context.Context, correlationID string) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, correlation_id, payload_json, timestamp
		FROM events WHERE correlation_id = ? ORDER BY id`, correlationID)
	if err != nil {
		return nil, types.WrapError(types.KindBackendUnavailable, err, "load events for %s", correlationID)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		var ev event.Event
		var kind string
		var payloadJSON sql.NullString
		var ts int64
		if err := rows.Scan(&ev.ID, &kind, &ev.CorrelationID, &payloadJSON, &ts); err != nil {
			return nil, types.WrapError(types.KindBackendUnavailable, err, "scan event row")
		}
		ev.Kind = event.Kind(kind)
		ev.Timestamp = fromUnixMilli(ts)
		unmarshal(payloadJSON, &ev.Payload)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *RunStore) Close() error {
	return s.db.Close()
}

func marshal(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(b)
}

func unmarshal(col sql.NullString, dst interface{}) {
	if !col.Valid || col.String == "" || col.String == "null" {
		return
	}
	_ = json.Unmarshal([]byte(col.String), dst)
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
