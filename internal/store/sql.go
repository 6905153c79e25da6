package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gitmem/internal/model"

	"github.com/google/uuid"
)

type SQLRepository struct {
	db          *sql.DB
	dialect     string
	defaultDays int
}

func NewSQLRepository(db *sql.DB, dialect string) (*SQLRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("nil db")
	}
	d := strings.ToLower(strings.TrimSpace(dialect))
	if d == "" {
		return nil, fmt.Errorf("empty dialect")
	}
	if d != "postgres" && d != "sqlite" {
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}
	return &SQLRepository{db: db, dialect: d, defaultDays: DefaultRetentionDays}, nil
}

// SetDefaultRetention overrides the fallback used when an organization has no
// explicit retention policy.
func (s *SQLRepository) SetDefaultRetention(days int) {
	if days > 0 {
		s.defaultDays = days
	}
}

func (s *SQLRepository) ph(n int) string {
	if s.dialect == "postgres" {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func (s *SQLRepository) tsValue(t time.Time) interface{} {
	if s.dialect == "postgres" {
		return t.UTC()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (s *SQLRepository) PutIntegration(ctx context.Context, in model.Integration) error {
	if err := validateIntegration(in); err != nil {
		return err
	}
	query := `INSERT INTO integrations (id, organization_id, repository_id, repository_name, webhook_secret)
		VALUES (` + s.ph(1) + `,` + s.ph(2) + `,` + s.ph(3) + `,` + s.ph(4) + `,` + s.ph(5) + `)
		ON CONFLICT (repository_id) DO UPDATE SET
			id = excluded.id,
			organization_id = excluded.organization_id,
			repository_name = excluded.repository_name,
			webhook_secret = excluded.webhook_secret`
	_, err := s.db.ExecContext(ctx, query, in.ID, in.OrganizationID, in.RepositoryID, in.RepositoryName, in.WebhookSecret)
	return err
}

func (s *SQLRepository) GetIntegrationByRepository(ctx context.Context, repositoryID string) (model.Integration, error) {
	query := `SELECT id, organization_id, repository_id, repository_name, webhook_secret FROM integrations WHERE repository_id = ` + s.ph(1)
	row := s.db.QueryRowContext(ctx, query, repositoryID)
	var in model.Integration
	err := row.Scan(&in.ID, &in.OrganizationID, &in.RepositoryID, &in.RepositoryName, &in.WebhookSecret)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Integration{}, ErrNotFound
	}
	if err != nil {
		return model.Integration{}, err
	}
	return in, nil
}

func (s *SQLRepository) GetWebhookSecret(ctx context.Context, repositoryID string) (string, error) {
	in, err := s.GetIntegrationByRepository(ctx, repositoryID)
	if err != nil {
		return "", err
	}
	if in.WebhookSecret == "" {
		return "", ErrNotFound
	}
	return in.WebhookSecret, nil
}

func (s *SQLRepository) SetLogRetention(ctx context.Context, organizationID string, days int) error {
	if organizationID == "" || days <= 0 {
		return ErrInvalidInput
	}
	query := `INSERT INTO org_settings (organization_id, retention_days) VALUES (` + s.ph(1) + `,` + s.ph(2) + `)
		ON CONFLICT (organization_id) DO UPDATE SET retention_days = excluded.retention_days`
	_, err := s.db.ExecContext(ctx, query, organizationID, days)
	return err
}

func (s *SQLRepository) CheckLogRetention(ctx context.Context, organizationID string) (int, error) {
	query := `SELECT retention_days FROM org_settings WHERE organization_id = ` + s.ph(1)
	var days int
	err := s.db.QueryRowContext(ctx, query, organizationID).Scan(&days)
	if errors.Is(err, sql.ErrNoRows) {
		return s.defaultDays, nil
	}
	if err != nil {
		return 0, err
	}
	if days <= 0 {
		return s.defaultDays, nil
	}
	return days, nil
}

func (s *SQLRepository) AppendDeliveryLog(ctx context.Context, entry model.DeliveryLogEntry) (model.DeliveryLogEntry, error) {
	if err := validateLogEntry(entry); err != nil {
		return model.DeliveryLogEntry{}, err
	}
	if entry.ID == "" {
		entry.ID = "dlog_" + uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	payloadJSON := []byte("{}")
	if entry.Payload != nil {
		b, err := json.Marshal(entry.Payload)
		if err != nil {
			return model.DeliveryLogEntry{}, err
		}
		payloadJSON = b
	}
	query := `INSERT INTO delivery_logs
		(id, organization_id, integration_id, integration_type, title, status, status_code, reference_id, payload, error_message, retention_days, created_at, expires_at)
		VALUES (` + s.ph(1) + `,` + s.ph(2) + `,` + s.ph(3) + `,` + s.ph(4) + `,` + s.ph(5) + `,` + s.ph(6) + `,` + s.ph(7) + `,` + s.ph(8) + `,` + s.ph(9) + `,` + s.ph(10) + `,` + s.ph(11) + `,` + s.ph(12) + `,` + s.ph(13) + `)`
	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.OrganizationID,
		entry.IntegrationID,
		entry.IntegrationType,
		entry.Title,
		string(entry.Status),
		entry.StatusCode,
		entry.ReferenceID,
		string(payloadJSON),
		entry.ErrorMessage,
		entry.RetentionDays,
		s.tsValue(entry.CreatedAt),
		s.tsValue(entry.ExpiresAt()),
	)
	if err != nil {
		return model.DeliveryLogEntry{}, err
	}
	return entry, nil
}

func (s *SQLRepository) ListDeliveryLogs(ctx context.Context, q LogQuery) (LogResult, error) {
	if q.OrganizationID == "" {
		return LogResult{}, ErrInvalidInput
	}
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
	cursorTS, cursorID, err := decodeCursor(q.Cursor)
	if err != nil {
		return LogResult{}, err
	}

	params := make([]interface{}, 0, 8)
	add := func(v interface{}) string {
		params = append(params, v)
		return s.ph(len(params))
	}

	query := strings.Builder{}
	query.WriteString(`SELECT id, organization_id, integration_id, integration_type, title, status, status_code, reference_id, payload, error_message, retention_days, created_at FROM delivery_logs WHERE organization_id = ` + add(q.OrganizationID))
	if q.IntegrationID != "" {
		query.WriteString(` AND integration_id = ` + add(q.IntegrationID))
	}
	if q.Status != "" {
		query.WriteString(` AND status = ` + add(string(q.Status)))
	}
	if !cursorTS.IsZero() {
		query.WriteString(` AND (created_at < ` + add(s.tsValue(cursorTS)) + ` OR (created_at = ` + add(s.tsValue(cursorTS)) + ` AND id < ` + add(cursorID) + `))`)
	}
	query.WriteString(` ORDER BY created_at DESC, id DESC LIMIT ` + add(q.Limit+1))

	rows, err := s.db.QueryContext(ctx, query.String(), params...)
	if err != nil {
		return LogResult{}, err
	}
	defer rows.Close()

	items := make([]model.DeliveryLogEntry, 0, q.Limit+1)
	for rows.Next() {
		e, err := scanLogRow(rows)
		if err != nil {
			return LogResult{}, err
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return LogResult{}, err
	}

	result := LogResult{}
	if len(items) > q.Limit {
		result.Items = items[:q.Limit]
		last := result.Items[len(result.Items)-1]
		result.NextCursor = encodeCursor(last.CreatedAt, last.ID)
		return result, nil
	}
	result.Items = items
	return result, nil
}

func (s *SQLRepository) PurgeExpiredLogs(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM delivery_logs WHERE expires_at < `+s.ph(1), s.tsValue(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// timeScanner absorbs the dialect split: postgres returns time.Time, sqlite
// returns the RFC3339Nano text we stored.
type timeScanner struct {
	t time.Time
}

func (ts *timeScanner) Scan(src interface{}) error {
	switch v := src.(type) {
	case time.Time:
		ts.t = v.UTC()
		return nil
	case string:
		return ts.parse(v)
	case []byte:
		return ts.parse(string(v))
	case nil:
		ts.t = time.Time{}
		return nil
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
}

func (ts *timeScanner) parse(v string) error {
	for _, f := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999999-07:00"} {
		if t, err := time.Parse(f, v); err == nil {
			ts.t = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", v)
}

func scanLogRow(rows *sql.Rows) (model.DeliveryLogEntry, error) {
	var (
		e           model.DeliveryLogEntry
		status      string
		payloadText string
		created     timeScanner
	)
	err := rows.Scan(
		&e.ID,
		&e.OrganizationID,
		&e.IntegrationID,
		&e.IntegrationType,
		&e.Title,
		&status,
		&e.StatusCode,
		&e.ReferenceID,
		&payloadText,
		&e.ErrorMessage,
		&e.RetentionDays,
		&created,
	)
	if err != nil {
		return model.DeliveryLogEntry{}, err
	}
	e.Status = model.LogStatus(status)
	e.CreatedAt = created.t
	if payloadText != "" && payloadText != "{}" {
		if err := json.Unmarshal([]byte(payloadText), &e.Payload); err != nil {
			return model.DeliveryLogEntry{}, err
		}
	}
	return e, nil
}
