package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/eventlog"
)

// EventRepo is the Postgres-backed email event log. Rows are only ever
// inserted.
type EventRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewEventRepo creates a Postgres-backed event store.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db, now: time.Now} }

// Append inserts evt. Re-delivering an event with the same id is a no-op,
// so queue consumers may retry safely.
func (r *EventRepo) Append(ctx context.Context, evt domain.EmailEvent) error {
	if err := eventlog.Prepare(&evt, r.now()); err != nil {
		return err
	}
	meta, err := json.Marshal(nonNilMap(evt.Meta))
	if err != nil {
		return fmt.Errorf("encode event meta: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO email_events (id, contact_id, campaign_id, type, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, evt.ID, evt.ContactID, nullString(evt.CampaignID), evt.Type, meta, evt.CreatedAt)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (r *EventRepo) CountByType(ctx context.Context, campaignID string) (map[domain.EventType]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT type, COUNT(*) FROM email_events
		WHERE campaign_id = $1
		GROUP BY type
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.EventType]int)
	for rows.Next() {
		var (
			t domain.EventType
			n int
		)
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		counts[t] = n
	}
	return counts, rows.Err()
}

func (r *EventRepo) List(ctx context.Context, f eventlog.Filter) ([]domain.EmailEvent, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, contact_id, COALESCE(campaign_id,''), type, meta, created_at
		FROM email_events
		WHERE ($1 = '' OR campaign_id = $1)
		  AND ($2 = '' OR contact_id = $2)
		  AND ($3 = '' OR type = $3)
		ORDER BY created_at DESC
		LIMIT $4
	`, f.CampaignID, f.ContactID, string(f.Type), limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []domain.EmailEvent
	for rows.Next() {
		var (
			e    domain.EmailEvent
			meta []byte
		)
		if err := rows.Scan(&e.ID, &e.ContactID, &e.CampaignID, &e.Type, &meta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Meta); err != nil {
				return nil, fmt.Errorf("decode event meta: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ eventlog.Store = (*EventRepo)(nil)
