package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// NewRequest describes the fields required to register a submission.
type NewRequest struct {
	ID             string
	PatientID      string
	FileName       string
	FileType       string
	FileSize       int64
	SourcePath     string
	AttributesJSON string
}

// Create inserts a new request in the queued stage.
func (s *Store) Create(ctx context.Context, req NewRequest) (*Request, error) {
	if strings.TrimSpace(req.ID) == "" {
		return nil, errors.New("request id required")
	}
	if strings.TrimSpace(req.FileName) == "" {
		return nil, errors.New("file name required")
	}
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO requests (
            id, patient_id, file_name, file_type, file_size, source_path,
            stage, progress, message, attributes_json, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID,
		nullableString(req.PatientID),
		req.FileName,
		req.FileType,
		req.FileSize,
		nullableString(req.SourcePath),
		StageQueued,
		0.0,
		"Queued for processing",
		nullableString(req.AttributesJSON),
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert request: %w", err)
	}

	return s.GetByID(ctx, req.ID)
}

// GetByID fetches a request by identifier. Returns nil when no row matches.
func (s *Store) GetByID(ctx context.Context, id string) (*Request, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = ?`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	return req, nil
}

// Update persists changes to an existing request after checking the lifecycle
// rules: stages only advance forward, progress never decreases, terminal
// requests are immutable, a result reference appears only on completion, and
// an error message only on failure.
func (s *Store) Update(ctx context.Context, req *Request) error {
	if req == nil {
		return errors.New("request is nil")
	}
	current, err := s.GetByID(ctx, req.ID)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("update request %s: no such request", req.ID)
	}
	if err := validateUpdate(current, req); err != nil {
		return fmt.Errorf("update request %s: %w", req.ID, err)
	}

	req.UpdatedAt = time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE requests
         SET patient_id = ?, file_name = ?, file_type = ?, file_size = ?,
             source_path = ?, stage = ?, progress = ?, message = ?,
             error_message = ?, result_ref = ?, attributes_json = ?,
             updated_at = ?, completed_at = ?, last_heartbeat = ?
         WHERE id = ?`,
		nullableString(req.PatientID),
		req.FileName,
		req.FileType,
		req.FileSize,
		nullableString(req.SourcePath),
		req.Stage,
		req.Progress,
		nullableString(req.Message),
		nullableString(req.ErrorMessage),
		nullableString(req.ResultRef),
		nullableString(req.AttributesJSON),
		req.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(req.CompletedAt),
		nullableTime(req.LastHeartbeat),
		req.ID,
	); err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	return nil
}

func validateUpdate(current, next *Request) error {
	if current.Stage.IsTerminal() && next.Stage != current.Stage {
		return ErrTerminalStage
	}
	if next.Stage != current.Stage && !current.Stage.CanTransition(next.Stage) {
		return fmt.Errorf("%w: %s -> %s", ErrStageOrder, current.Stage, next.Stage)
	}
	if current.Stage.IsTerminal() {
		// Same-stage writes against terminal requests must not alter outcome fields.
		if next.Progress != current.Progress || next.ResultRef != current.ResultRef || next.ErrorMessage != current.ErrorMessage {
			return ErrTerminalStage
		}
		return nil
	}
	if next.Progress < current.Progress {
		return fmt.Errorf("%w: %.1f -> %.1f", ErrProgressRegression, current.Progress, next.Progress)
	}
	if (next.ResultRef != "") != (next.Stage == StageCompleted) {
		return ErrResultRef
	}
	if next.ErrorMessage != "" && next.Stage != StageFailed {
		return ErrResultRef
	}
	if next.Stage == StageFailed && next.ErrorMessage == "" {
		return ErrResultRef
	}
	return nil
}

// RequestsByStage returns requests matching a stage ordered by creation time.
func (s *Store) RequestsByStage(ctx context.Context, stage Stage) ([]*Request, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE stage = ? ORDER BY created_at`, stage)
	if err != nil {
		return nil, fmt.Errorf("query by stage: %w", err)
	}
	defer rows.Close()

	var requests []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

// List returns requests filtered by stage set (or all requests when no stage
// is provided), ordered by creation time.
func (s *Store) List(ctx context.Context, stages ...Stage) ([]*Request, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + requestColumns + ` FROM requests`
	orderClause := ` ORDER BY created_at`

	if len(stages) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(stages))
		args := make([]any, len(stages))
		for i, stage := range stages {
			args[i] = stage
		}
		query := baseQuery + ` WHERE stage IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var requests []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

const requestColumns = "id, patient_id, file_name, file_type, file_size, source_path, stage, progress, message, error_message, result_ref, attributes_json, created_at, updated_at, completed_at, last_heartbeat"

func scanRequest(scanner interface{ Scan(dest ...any) error }) (*Request, error) {
	var (
		id               string
		patientID        sql.NullString
		fileName         string
		fileType         string
		fileSize         sql.NullInt64
		sourcePath       sql.NullString
		stageStr         string
		progress         sql.NullFloat64
		message          sql.NullString
		errorMessage     sql.NullString
		resultRef        sql.NullString
		attributes       sql.NullString
		createdRaw       sql.NullString
		updatedRaw       sql.NullString
		completedRaw     sql.NullString
		lastHeartbeatRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&patientID,
		&fileName,
		&fileType,
		&fileSize,
		&sourcePath,
		&stageStr,
		&progress,
		&message,
		&errorMessage,
		&resultRef,
		&attributes,
		&createdRaw,
		&updatedRaw,
		&completedRaw,
		&lastHeartbeatRaw,
	); err != nil {
		return nil, err
	}

	req := &Request{
		ID:             id,
		PatientID:      patientID.String,
		FileName:       fileName,
		FileType:       fileType,
		FileSize:       fileSize.Int64,
		SourcePath:     sourcePath.String,
		Stage:          Stage(stageStr),
		Progress:       progress.Float64,
		Message:        message.String,
		ErrorMessage:   errorMessage.String,
		ResultRef:      resultRef.String,
		AttributesJSON: attributes.String,
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		req.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		req.UpdatedAt = updated
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			req.CompletedAt = &completed
		}
	}
	if lastHeartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(lastHeartbeatRaw.String); err == nil {
			req.LastHeartbeat = &heartbeat
		}
	}
	return req, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
