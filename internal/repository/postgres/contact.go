package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/mailflow/internal/domain"
)

// ErrContactNotFound is returned when a contact id does not exist.
var ErrContactNotFound = errors.New("contact not found")

// ContactRepo reads campaign recipients and records opt-outs.
type ContactRepo struct{ db *sql.DB }

// NewContactRepo creates a Postgres-backed contact repository.
func NewContactRepo(db *sql.DB) *ContactRepo { return &ContactRepo{db: db} }

const contactColumns = `id, email, first_name, last_name, tags, consent, fields, unsubscribed_at, created_at, updated_at`

func scanContact(row scanner) (*domain.Contact, error) {
	var (
		c      domain.Contact
		fields []byte
	)
	if err := row.Scan(&c.ID, &c.Email, &c.FirstName, &c.LastName, pq.Array(&c.Tags), &c.Consent,
		&fields, &c.UnsubscribedAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &c.Fields); err != nil {
			return nil, fmt.Errorf("decode contact fields: %w", err)
		}
	}
	return &c, nil
}

func (r *ContactRepo) Get(ctx context.Context, id string) (*domain.Contact, error) {
	c, err := scanContact(r.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrContactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

// Upsert inserts a contact or updates the one with the same email.
func (r *ContactRepo) Upsert(ctx context.Context, c *domain.Contact) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	fields, err := json.Marshal(nonNilMap(c.Fields))
	if err != nil {
		return fmt.Errorf("encode contact fields: %w", err)
	}
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO contacts (id, email, first_name, last_name, tags, consent, fields, created_at, updated_at)
		VALUES ($1, LOWER($2), $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (email) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			tags = EXCLUDED.tags,
			consent = EXCLUDED.consent,
			fields = EXCLUDED.fields,
			updated_at = NOW()
		RETURNING id
	`, c.ID, c.Email, c.FirstName, c.LastName, textArray(c.Tags), c.Consent, fields).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}
	return nil
}

// ListRecipients returns consenting, subscribed contacts sharing at least
// one tag with tags. An empty tags slice selects every such contact.
func (r *ContactRepo) ListRecipients(ctx context.Context, tags []string) ([]domain.Contact, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+contactColumns+`
		FROM contacts
		WHERE consent = true
		  AND unsubscribed_at IS NULL
		  AND (cardinality($1::text[]) = 0 OR tags && $1::text[])
		ORDER BY created_at ASC`, textArray(tags))
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	var out []domain.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// Unsubscribe marks the contact opted out. Repeated calls keep the first
// timestamp.
func (r *ContactRepo) Unsubscribe(ctx context.Context, contactID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE contacts SET unsubscribed_at = COALESCE(unsubscribed_at, $2), updated_at = NOW()
		WHERE id = $1
	`, contactID, at)
	if err != nil {
		return fmt.Errorf("unsubscribe contact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrContactNotFound
	}
	return nil
}
