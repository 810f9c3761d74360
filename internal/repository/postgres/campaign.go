package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

const campaignColumns = `
	id, name, status, template_name, segment_tags, from_name, from_email,
	COALESCE(reply_to,''), variables, scheduled_at, started_at, completed_at,
	COALESCE(last_error,''), created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row scanner) (*domain.Campaign, error) {
	var (
		c    domain.Campaign
		vars []byte
	)
	err := row.Scan(
		&c.ID, &c.Name, &c.Status, &c.TemplateName, pq.Array(&c.SegmentTags), &c.FromName, &c.FromEmail,
		&c.ReplyTo, &vars, &c.ScheduledAt, &c.StartedAt, &c.CompletedAt,
		&c.LastError, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(vars) > 0 {
		if err := json.Unmarshal(vars, &c.Variables); err != nil {
			return nil, fmt.Errorf("decode campaign variables: %w", err)
		}
	}
	return &c, nil
}

func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx,
		`SELECT`+campaignColumns+` FROM email_campaigns WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) List(ctx context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	where := ""
	args := []any{}
	if f.Status != "" {
		where = " WHERE status = $1"
		args = append(args, f.Status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM email_campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	q := fmt.Sprintf(`SELECT%s FROM email_campaigns%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		campaignColumns, where, len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, q, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	vars, err := json.Marshal(nonNilMap(c.Variables))
	if err != nil {
		return fmt.Errorf("encode campaign variables: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO email_campaigns
			(id, name, status, template_name, segment_tags, from_name, from_email,
			 reply_to, variables, scheduled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
	`, c.ID, c.Name, c.Status, c.TemplateName, textArray(c.SegmentTags), c.FromName, c.FromEmail,
		nullString(c.ReplyTo), vars, c.ScheduledAt)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

func (r *CampaignRepo) Update(ctx context.Context, id string, u campaign.UpdateFields) error {
	sets := []string{}
	args := []any{}
	add := func(col string, val any) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.TemplateName != nil {
		add("template_name", *u.TemplateName)
	}
	if u.SegmentTags != nil {
		add("segment_tags", textArray(*u.SegmentTags))
	}
	if u.FromName != nil {
		add("from_name", *u.FromName)
	}
	if u.FromEmail != nil {
		add("from_email", *u.FromEmail)
	}
	if u.ReplyTo != nil {
		add("reply_to", nullString(*u.ReplyTo))
	}
	if u.Variables != nil {
		vars, err := json.Marshal(nonNilMap(*u.Variables))
		if err != nil {
			return fmt.Errorf("encode campaign variables: %w", err)
		}
		add("variables", vars)
	}
	if u.ScheduledAt != nil {
		add("scheduled_at", *u.ScheduledAt)
	}

	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	q := fmt.Sprintf(`UPDATE email_campaigns SET %s, updated_at = NOW()
		WHERE id = $%d AND status IN ('draft','scheduled')`, strings.Join(sets, ", "), len(args))

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.missingOr(ctx, id, campaign.ErrNotEditable)
	}
	return nil
}

func (r *CampaignRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM email_campaigns
		WHERE id = $1 AND status IN ('draft','cancelled')
	`, id)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.missingOr(ctx, id, campaign.ErrNotEditable)
	}
	return nil
}

// TransitionStatus is a compare-and-set on the status column.
func (r *CampaignRepo) TransitionStatus(ctx context.Context, id string, from, to domain.CampaignStatus, u campaign.StatusUpdate) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE email_campaigns SET
			status = $1,
			scheduled_at = COALESCE($2, scheduled_at),
			started_at = COALESCE($3, started_at),
			completed_at = COALESCE($4, completed_at),
			last_error = COALESCE($5, last_error),
			updated_at = NOW()
		WHERE id = $6 AND status = $7
	`, to, u.ScheduledAt, u.StartedAt, u.CompletedAt, u.LastError, id, from)
	if err != nil {
		return fmt.Errorf("transition campaign status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.missingOr(ctx, id, campaign.ErrStatusConflict)
	}
	return nil
}

func (r *CampaignRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `SELECT`+campaignColumns+`
		FROM email_campaigns
		WHERE status = 'scheduled' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// missingOr distinguishes "no such campaign" from a guarded update that
// matched nothing.
func (r *CampaignRepo) missingOr(ctx context.Context, id string, otherwise error) error {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM email_campaigns WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check campaign: %w", err)
	}
	if !exists {
		return campaign.ErrNotFound
	}
	return otherwise
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// textArray binds s as a TEXT[]. A nil slice becomes '{}' rather than NULL
// since every array column is NOT NULL.
func textArray(s []string) pq.StringArray {
	if s == nil {
		s = []string{}
	}
	return pq.StringArray(s)
}
