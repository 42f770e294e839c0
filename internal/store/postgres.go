package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/JonMunkholm/ledgerbridge/internal/core"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// uniqueViolation is the Postgres error code for a unique constraint clash.
const uniqueViolation = "23505"

const defaultListLimit = 100

// PostgresAudit stores audit entries in the audit_log table.
type PostgresAudit struct {
	db DBTX
}

// NewPostgresAudit creates an audit store over db.
func NewPostgresAudit(db DBTX) *PostgresAudit {
	return &PostgresAudit{db: db}
}

const auditColumns = `id, action, severity, model, session_id, file_name, operation, outcome,
	error, rows_affected, result, details, ip_address, user_agent, created_at`

// Append inserts e, assigning ID and CreatedAt when empty.
func (s *PostgresAudit) Append(ctx context.Context, e *core.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var result, details []byte
	var err error
	if e.Result != nil {
		if result, err = json.Marshal(e.Result); err != nil {
			return fmt.Errorf("encode audit result: %w", err)
		}
	}
	if len(e.Details) > 0 {
		if details, err = json.Marshal(e.Details); err != nil {
			return fmt.Errorf("encode audit details: %w", err)
		}
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO audit_log (`+auditColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		toPgUUID(e.ID),
		string(e.Action),
		string(e.Severity),
		e.Model,
		toPgText(e.SessionID),
		toPgText(e.FileName),
		toPgText(e.Operation),
		e.Outcome,
		toPgText(e.Error),
		int32(e.RowsAffected),
		result,
		details,
		toInet(e.IPAddress),
		toPgText(e.UserAgent),
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// List returns entries matching f, newest first.
func (s *PostgresAudit) List(ctx context.Context, f core.AuditFilter) ([]core.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Model != "" {
		add("model = $%d", f.Model)
	}
	if f.Action != "" {
		add("action = $%d", string(f.Action))
	}
	if !f.Since.IsZero() {
		add("created_at >= $%d", f.Since)
	}

	q := `SELECT ` + auditColumns + ` FROM audit_log`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit, max(f.Offset, 0))
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []core.AuditEntry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Get returns one entry, or core.ErrEntryNotFound.
func (s *PostgresAudit) Get(ctx context.Context, id string) (*core.AuditEntry, error) {
	u := toPgUUID(id)
	if !u.Valid {
		return nil, core.ErrEntryNotFound
	}
	row := s.db.QueryRow(ctx, `SELECT `+auditColumns+` FROM audit_log WHERE id = $1`, u)
	e, err := scanAudit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrEntryNotFound
	}
	return e, err
}

func scanAudit(row pgx.Row) (*core.AuditEntry, error) {
	var (
		e                   core.AuditEntry
		id                  pgtype.UUID
		action, severity    string
		sessionID, fileName pgtype.Text
		operation, errText  pgtype.Text
		ua                  pgtype.Text
		rows                int32
		result, details     []byte
		ip                  *netip.Addr
	)
	err := row.Scan(&id, &action, &severity, &e.Model, &sessionID, &fileName, &operation,
		&e.Outcome, &errText, &rows, &result, &details, &ip, &ua, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan audit entry: %w", err)
	}

	e.ID = fromPgUUID(id)
	e.Action = core.AuditAction(action)
	e.Severity = core.AuditSeverity(severity)
	e.SessionID = fromPgText(sessionID)
	e.FileName = fromPgText(fileName)
	e.Operation = fromPgText(operation)
	e.Error = fromPgText(errText)
	e.UserAgent = fromPgText(ua)
	e.IPAddress = fromInet(ip)
	e.RowsAffected = int(rows)
	if len(result) > 0 {
		e.Result = new(core.ImportResult)
		if err := json.Unmarshal(result, e.Result); err != nil {
			return nil, fmt.Errorf("decode audit result: %w", err)
		}
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &e.Details); err != nil {
			return nil, fmt.Errorf("decode audit details: %w", err)
		}
	}
	return &e, nil
}

// PostgresTemplates stores mapping templates in the mapping_templates table.
type PostgresTemplates struct {
	db DBTX
}

// NewPostgresTemplates creates a template store over db.
func NewPostgresTemplates(db DBTX) *PostgresTemplates {
	return &PostgresTemplates{db: db}
}

const templateColumns = `id, model, name, mappings, headers, created_at, updated_at`

// CreateTemplate inserts t and fills in its ID and timestamps.
func (s *PostgresTemplates) CreateTemplate(ctx context.Context, t *core.MappingTemplate) error {
	mappings, headers, err := encodeTemplate(t)
	if err != nil {
		return err
	}
	t.ID = uuid.NewString()
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now

	_, err = s.db.Exec(ctx, `
		INSERT INTO mapping_templates (`+templateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		toPgUUID(t.ID), t.Model, t.Name, mappings, headers, t.CreatedAt, t.UpdatedAt)
	return translateTemplateErr(err)
}

// GetTemplate returns a template, or core.ErrTemplateNotFound.
func (s *PostgresTemplates) GetTemplate(ctx context.Context, id string) (*core.MappingTemplate, error) {
	u := toPgUUID(id)
	if !u.Valid {
		return nil, core.ErrTemplateNotFound
	}
	row := s.db.QueryRow(ctx, `SELECT `+templateColumns+` FROM mapping_templates WHERE id = $1`, u)
	t, err := scanTemplate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrTemplateNotFound
	}
	return t, err
}

// ListTemplates returns every template for model.
func (s *PostgresTemplates) ListTemplates(ctx context.Context, model string) ([]core.MappingTemplate, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+templateColumns+` FROM mapping_templates WHERE model = $1 ORDER BY name`, model)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []core.MappingTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// UpdateTemplate replaces a template's name, mappings and headers.
func (s *PostgresTemplates) UpdateTemplate(ctx context.Context, t *core.MappingTemplate) error {
	mappings, headers, err := encodeTemplate(t)
	if err != nil {
		return err
	}
	t.UpdatedAt = time.Now().UTC()

	tag, err := s.db.Exec(ctx, `
		UPDATE mapping_templates
		SET name = $2, mappings = $3, headers = $4, updated_at = $5
		WHERE id = $1`,
		toPgUUID(t.ID), t.Name, mappings, headers, t.UpdatedAt)
	if err != nil {
		return translateTemplateErr(err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrTemplateNotFound
	}
	return nil
}

// DeleteTemplate removes a template.
func (s *PostgresTemplates) DeleteTemplate(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM mapping_templates WHERE id = $1`, toPgUUID(id))
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrTemplateNotFound
	}
	return nil
}

func encodeTemplate(t *core.MappingTemplate) (mappings, headers []byte, err error) {
	if mappings, err = json.Marshal(t.Mappings); err != nil {
		return nil, nil, fmt.Errorf("encode template mappings: %w", err)
	}
	hs := t.Headers
	if hs == nil {
		hs = []string{}
	}
	if headers, err = json.Marshal(hs); err != nil {
		return nil, nil, fmt.Errorf("encode template headers: %w", err)
	}
	return mappings, headers, nil
}

func scanTemplate(row pgx.Row) (*core.MappingTemplate, error) {
	var (
		t                 core.MappingTemplate
		id                pgtype.UUID
		mappings, headers []byte
	)
	if err := row.Scan(&id, &t.Model, &t.Name, &mappings, &headers, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan template: %w", err)
	}
	t.ID = fromPgUUID(id)
	if err := json.Unmarshal(mappings, &t.Mappings); err != nil {
		return nil, fmt.Errorf("decode template mappings: %w", err)
	}
	if err := json.Unmarshal(headers, &t.Headers); err != nil {
		return nil, fmt.Errorf("decode template headers: %w", err)
	}
	return &t, nil
}

func translateTemplateErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return core.ErrTemplateExists
	}
	return fmt.Errorf("save template: %w", err)
}
