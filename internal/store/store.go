package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loudon84/mcs-orchestrator/internal/model"
)

// Store wraps a Postgres connection pool behind the narrow queryer
// interface so the same methods work inside or outside a transaction
// (mirrors the teacher's Store/queryer split).
type Store struct {
	db *sql.DB
	q  queryer
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errors.New("not found")

func Open(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("missing database dsn")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Store{db: db, q: db}, nil
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) HealthSummary(ctx context.Context) (map[string]string, error) {
	if err := s.db.PingContext(ctx); err != nil {
		return nil, err
	}
	return map[string]string{"database": "ok"}, nil
}

// RunInTx scopes a sequence of writes to a single transaction, the same
// shape as the teacher's RunAsOrg but without the per-org session-variable
// scoping this domain has no use for (single-tenant orchestration store).
func (s *Store) RunInTx(ctx context.Context, fn func(scoped *Store) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	scoped := &Store{db: s.db, q: tx}
	if err := fn(scoped); err != nil {
		return err
	}
	return tx.Commit()
}

// --- orchestration_runs ---------------------------------------------------

// UpsertRun writes the full run snapshot: called at entry (INSERT) and at
// every step boundary / finalize (UPDATE), always the full state_json so a
// crash mid-step never leaves a partially-written row (spec.md §5 "the
// checkpoint write is always the last action of a step").
func (s *Store) UpsertRun(ctx context.Context, run model.Run) error {
	stateJSON, err := json.Marshal(run.State)
	if err != nil {
		return err
	}
	errorsJSON, err := json.Marshal(run.Errors)
	if err != nil {
		return err
	}
	warningsJSON, err := json.Marshal(run.Warnings)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO orchestration_runs (run_id, message_id, status, started_at, finished_at, state_json, errors_json, warnings_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			finished_at = EXCLUDED.finished_at,
			state_json = EXCLUDED.state_json,
			errors_json = EXCLUDED.errors_json,
			warnings_json = EXCLUDED.warnings_json
	`, run.RunID, run.MessageID, run.Status.String(), run.StartedAt, run.FinishedAt, stateJSON, errorsJSON, warningsJSON)
	return err
}

// GetRun fetches a run by id, decoding its full state snapshot.
func (s *Store) GetRun(ctx context.Context, runID string) (model.Run, error) {
	var run model.Run
	var statusRaw string
	var stateJSON, errorsJSON, warningsJSON []byte

	row := s.q.QueryRowContext(ctx, `
		SELECT run_id, message_id, status, started_at, finished_at, state_json, errors_json, warnings_json
		FROM orchestration_runs WHERE run_id = $1
	`, runID)
	if err := row.Scan(&run.RunID, &run.MessageID, &statusRaw, &run.StartedAt, &run.FinishedAt, &stateJSON, &errorsJSON, &warningsJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return run, ErrNotFound
		}
		return run, err
	}

	status, err := model.ParseStatus(statusRaw)
	if err != nil {
		return run, err
	}
	run.Status = status

	var state model.RunState
	if len(stateJSON) > 0 {
		if err := json.Unmarshal(stateJSON, &state); err != nil {
			return run, err
		}
		run.State = &state
	}
	_ = json.Unmarshal(errorsJSON, &run.Errors)
	_ = json.Unmarshal(warningsJSON, &run.Warnings)
	return run, nil
}

// FindRunByMessageID supports the ledger-uniqueness check before starting a
// new run for a message that's already been processed.
func (s *Store) FindRunByMessageID(ctx context.Context, messageID string) (model.Run, error) {
	row := s.q.QueryRowContext(ctx, `SELECT run_id FROM orchestration_runs WHERE message_id = $1 ORDER BY started_at DESC LIMIT 1`, messageID)
	var runID string
	if err := row.Scan(&runID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Run{}, ErrNotFound
		}
		return model.Run{}, err
	}
	return s.GetRun(ctx, runID)
}

// --- idempotency_records ---------------------------------------------------

// ReserveIdempotencyRecord inserts or updates the idempotency ledger row,
// never overwriting a terminal SUCCESS (spec.md §8 invariant 2), mirroring
// the teacher's ON CONFLICT usage-reservation idiom.
func (s *Store) ReserveIdempotencyRecord(ctx context.Context, rec model.IdempotencyRecord) (bool, error) {
	result, err := s.q.ExecContext(ctx, `
		INSERT INTO idempotency_records (idempotency_key, message_id, file_sha256, customer_id, status, sales_order_no, order_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (idempotency_key) DO UPDATE SET
			status = EXCLUDED.status,
			sales_order_no = EXCLUDED.sales_order_no,
			order_url = EXCLUDED.order_url
		WHERE idempotency_records.status <> 'SUCCESS'
	`, rec.IdempotencyKey, rec.MessageID, rec.FileSHA256, rec.CustomerID, rec.Status.String(), rec.SalesOrderNo, rec.OrderURL, rec.CreatedAt)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// GetIdempotencyRecord looks up the ledger row for a key, used to
// short-circuit ERP submission when a prior attempt already succeeded.
func (s *Store) GetIdempotencyRecord(ctx context.Context, key string) (model.IdempotencyRecord, error) {
	var rec model.IdempotencyRecord
	var statusRaw string
	row := s.q.QueryRowContext(ctx, `
		SELECT idempotency_key, message_id, file_sha256, customer_id, status, sales_order_no, order_url, created_at
		FROM idempotency_records WHERE idempotency_key = $1
	`, key)
	if err := row.Scan(&rec.IdempotencyKey, &rec.MessageID, &rec.FileSHA256, &rec.CustomerID, &statusRaw, &rec.SalesOrderNo, &rec.OrderURL, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, ErrNotFound
		}
		return rec, err
	}
	status, err := model.ParseStatus(statusRaw)
	if err != nil {
		return rec, err
	}
	rec.Status = status
	return rec, nil
}

// --- audit_events ---------------------------------------------------

// InsertAuditEvent appends one redacted audit row. Audit is append-only:
// there is no update or delete path, by design of spec.md §4.9.
func (s *Store) InsertAuditEvent(ctx context.Context, ev model.AuditEvent) (string, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	payloadJSON, err := json.Marshal(ev.Payload)
	if err != nil {
		return "", err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO audit_events (id, run_id, step, payload_json, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, ev.ID, ev.RunID, ev.Step, payloadJSON, ev.CreatedAt)
	return ev.ID, err
}

// ListAuditEventsByRun returns a run's audit trail in chronological order.
func (s *Store) ListAuditEventsByRun(ctx context.Context, runID string) ([]model.AuditEvent, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, run_id, step, payload_json, created_at
		FROM audit_events WHERE run_id = $1 ORDER BY created_at ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AuditEvent
	for rows.Next() {
		var ev model.AuditEvent
		var payloadJSON []byte
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Step, &payloadJSON, &ev.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(payloadJSON, &ev.Payload)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// --- message_records ---------------------------------------------------

// InsertMessageRecordIfAbsent enforces the at-most-once ledger uniqueness
// invariant (spec.md §8 invariant 1) on (channel, normalized_message_id).
func (s *Store) InsertMessageRecordIfAbsent(ctx context.Context, rec model.MessageLedgerEntry, normalizedMessageID string) (bool, string, error) {
	if rec.RecordID == "" {
		rec.RecordID = uuid.NewString()
	}
	result, err := s.q.ExecContext(ctx, `
		INSERT INTO message_records (id, channel, message_id, normalized_message_id, account, external_uid, sender_id, received_at, processed, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, NULL)
		ON CONFLICT (channel, normalized_message_id) DO NOTHING
	`, rec.RecordID, string(rec.Channel), rec.MessageID, normalizedMessageID, rec.Account, rec.ExternalUID, rec.SenderID, rec.ReceivedAt)
	if err != nil {
		return false, "", err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, "", err
	}
	if rows > 0 {
		return true, rec.RecordID, nil
	}

	row := s.q.QueryRowContext(ctx, `
		SELECT id FROM message_records WHERE channel = $1 AND normalized_message_id = $2
	`, string(rec.Channel), normalizedMessageID)
	var existingID string
	if err := row.Scan(&existingID); err != nil {
		return false, "", err
	}
	return false, existingID, nil
}

// MarkMessageProcessed flips the ledger row once a run has reached a
// terminal status, closing the at-most-once dispatch window.
func (s *Store) MarkMessageProcessed(ctx context.Context, recordID string, at time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE message_records SET processed = true, processed_at = $2 WHERE id = $1
	`, recordID, at)
	return err
}

// GetMessageRecord looks up the ledger row for (channel, normalized
// message id), used by the ingestion scheduler's step-3 "if present and
// processed, skip" check (spec.md §4.2).
func (s *Store) GetMessageRecord(ctx context.Context, channel model.Channel, normalizedMessageID string) (model.MessageLedgerEntry, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, channel, message_id, account, external_uid, sender_id, received_at, processed, processed_at
		FROM message_records WHERE channel = $1 AND normalized_message_id = $2
	`, string(channel), normalizedMessageID)

	var rec model.MessageLedgerEntry
	var channelStr string
	if err := row.Scan(&rec.RecordID, &channelStr, &rec.MessageID, &rec.Account, &rec.ExternalUID, &rec.SenderID, &rec.ReceivedAt, &rec.Processed, &rec.ProcessedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.MessageLedgerEntry{}, ErrNotFound
		}
		return model.MessageLedgerEntry{}, err
	}
	rec.Channel = model.Channel(channelStr)
	return rec, nil
}

// --- attachment_files ---------------------------------------------------

// InsertAttachmentFile records where an inbound attachment landed in the
// blob store, keyed to the message it arrived with.
func (s *Store) InsertAttachmentFile(ctx context.Context, messageID, filePath string, at time.Time) (string, error) {
	id := uuid.NewString()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO attachment_files (id, message_id, file_path, created_at)
		VALUES ($1, $2, $3, $4)
	`, id, messageID, filePath, at)
	return id, err
}

// ListAttachmentFilesByMessage returns every attachment persisted for a
// message, in upload order.
func (s *Store) ListAttachmentFilesByMessage(ctx context.Context, messageID string) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT file_path FROM attachment_files WHERE message_id = $1 ORDER BY created_at ASC
	`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// --- checkpoint_steps ---------------------------------------------------

// InsertCheckpointStep appends one step snapshot, backing
// checkpoint.Store.StreamResume (spec.md §4.5).
func (s *Store) InsertCheckpointStep(ctx context.Context, runID, step string, state model.RunState, at time.Time) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO checkpoint_steps (run_id, step, state_json, created_at)
		VALUES ($1, $2, $3, $4)
	`, runID, step, stateJSON, at)
	return err
}

// ListCheckpointSteps returns a run's step snapshots in the order they were
// written.
func (s *Store) ListCheckpointSteps(ctx context.Context, runID string) ([]CheckpointStepRow, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT step, state_json, created_at FROM checkpoint_steps
		WHERE run_id = $1 ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CheckpointStepRow
	for rows.Next() {
		var row CheckpointStepRow
		var stateJSON []byte
		if err := rows.Scan(&row.Step, &stateJSON, &row.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(stateJSON, &row.State); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// CheckpointStepRow is one row of a run's persisted step history.
type CheckpointStepRow struct {
	Step      string
	State     model.RunState
	CreatedAt time.Time
}

// PruneFinalizedRuns deletes orchestration_runs rows (and their
// checkpoint_steps) that finished before cutoff and whose current status is
// not MANUAL_REVIEW, mirroring the teacher's
// reconcile.Service rollover sweep (internal/reconcile) regeared from
// usage-period rollover to checkpoint eviction (spec.md §4.5 "Eviction").
// MANUAL_REVIEW runs are never pruned, matched here by excluding that
// status explicitly regardless of finished_at.
func (s *Store) PruneFinalizedRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT run_id FROM orchestration_runs
		WHERE finished_at IS NOT NULL
		  AND finished_at < $1
		  AND status <> 'MANUAL_REVIEW'
	`, cutoff)
	if err != nil {
		return 0, err
	}
	var runIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		runIDs = append(runIDs, id)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	rows.Close()

	for _, id := range runIDs {
		if _, err := s.q.ExecContext(ctx, `DELETE FROM checkpoint_steps WHERE run_id = $1`, id); err != nil {
			return 0, err
		}
		if _, err := s.q.ExecContext(ctx, `DELETE FROM orchestration_runs WHERE run_id = $1`, id); err != nil {
			return 0, err
		}
	}
	return int64(len(runIDs)), nil
}
