package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/Didihazan/WhatsApp-Bot/internal/model"
)

type PostgresTenantRepo struct {
	db *sql.DB
}

func NewPostgresTenantRepo(db *sql.DB) *PostgresTenantRepo {
	return &PostgresTenantRepo{db: db}
}

const tenantColumns = `
	id, username, is_active,
	connected, last_connected_at, pairing_code,
	daily_text, daily_time, daily_enabled, media_path,
	schedule_enabled, timezone
`

func (r *PostgresTenantRepo) GetTenant(ctx context.Context, id string) (*model.Tenant, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants
		WHERE id = $1
	`, id)

	t, err := scanTenant(row)
	if err != nil {
		return nil, err
	}

	groups, err := r.listSelectedGroups(ctx, id)
	if err != nil {
		return nil, err
	}
	t.SelectedGroups = groups

	return t, nil
}

func (r *PostgresTenantRepo) ListScheduled(ctx context.Context) ([]model.Tenant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants
		WHERE is_active AND daily_enabled AND schedule_enabled
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *PostgresTenantRepo) SetConnectionStatus(ctx context.Context, id string, connected bool, lastConnectedAt *time.Time) error {
	var err error
	if lastConnectedAt != nil {
		_, err = r.db.ExecContext(ctx, `
			UPDATE tenants
			SET connected = $2, last_connected_at = $3, updated_at = now()
			WHERE id = $1
		`, id, connected, lastConnectedAt.UTC())
	} else {
		_, err = r.db.ExecContext(ctx, `
			UPDATE tenants
			SET connected = $2, updated_at = now()
			WHERE id = $1
		`, id, connected)
	}
	return err
}

func (r *PostgresTenantRepo) SetPairingCode(ctx context.Context, id string, code *string) error {
	var v sql.NullString
	if code != nil {
		v = sql.NullString{String: *code, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE tenants
		SET pairing_code = $2, updated_at = now()
		WHERE id = $1
	`, id, v)
	return err
}

func (r *PostgresTenantRepo) UpdateDailySchedule(ctx context.Context, id string, sendTime string, enabled bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE tenants
		SET daily_time = $2, daily_enabled = $3, updated_at = now()
		WHERE id = $1
	`, id, sendTime, enabled)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrTenantNotFound
	}
	return nil
}

func (r *PostgresTenantRepo) AppendSentMessage(ctx context.Context, id string, rec model.SentMessageRecord) error {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sent_messages (tenant_id, contact, content, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id, rec.Contact, rec.Content, string(rec.Status), ts.UTC())
	return err
}

func (r *PostgresTenantRepo) ListSentMessages(ctx context.Context, id string, limit, offset int) ([]model.SentMessageRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT contact, content, status, created_at
		FROM sent_messages
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, id, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SentMessageRecord
	for rows.Next() {
		var rec model.SentMessageRecord
		var status string
		if err := rows.Scan(&rec.Contact, &rec.Content, &status, &rec.Timestamp); err != nil {
			return nil, err
		}
		rec.Status = model.RecordStatus(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PostgresTenantRepo) listSelectedGroups(ctx context.Context, id string) ([]model.SelectedGroup, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT group_id, name, enabled, added_at
		FROM selected_groups
		WHERE tenant_id = $1
		ORDER BY added_at ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SelectedGroup
	for rows.Next() {
		var g model.SelectedGroup
		if err := rows.Scan(&g.ID, &g.Name, &g.Enabled, &g.AddedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (*model.Tenant, error) {
	var t model.Tenant
	var lastConnected sql.NullTime
	var pairingCode sql.NullString
	var mediaPath sql.NullString

	if err := row.Scan(
		&t.ID,
		&t.Username,
		&t.IsActive,
		&t.Connected,
		&lastConnected,
		&pairingCode,
		&t.DailyMessage.Text,
		&t.DailyMessage.Time,
		&t.DailyMessage.Enabled,
		&mediaPath,
		&t.Schedule.Enabled,
		&t.Schedule.Timezone,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}

	if lastConnected.Valid {
		ts := lastConnected.Time
		t.LastConnectedAt = &ts
	}
	if pairingCode.Valid {
		s := pairingCode.String
		t.PairingCode = &s
	}
	if mediaPath.Valid {
		t.DailyMessage.MediaPath = mediaPath.String
	}

	return &t, nil
}
