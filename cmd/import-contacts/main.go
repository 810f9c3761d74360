// Command import-contacts loads recipients from a CSV file into the
// contacts table.
//
// Usage:
//
//	DATABASE_URL=postgres://... import-contacts contacts.csv
//
// The header row must contain an "email" column. "first_name",
// "last_name", "tags" (semicolon separated) and "consent" are optional;
// any other column is stored as a custom field.
package main

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/pkg/logger"
	"github.com/ignite/mailflow/internal/repository/postgres"
)

// contactUpserter is the slice of the contact store the importer needs.
type contactUpserter interface {
	Upsert(ctx context.Context, c *domain.Contact) error
}

type importResult struct {
	Imported int
	Skipped  int
	Failed   int
}

var knownColumns = map[string]bool{
	"email": true, "first_name": true, "last_name": true, "tags": true, "consent": true,
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: import-contacts <file.csv>")
		os.Exit(2)
	}
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	defer logger.Sync()

	f, err := os.Open(os.Args[1])
	if err != nil {
		logger.Error("open csv", "path", os.Args[1], "error", err)
		os.Exit(1)
	}
	defer f.Close()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("connect", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		logger.Error("ping", "error", err)
		os.Exit(1)
	}

	start := time.Now()
	res, err := importContacts(ctx, postgres.NewContactRepo(db), f)
	if err != nil {
		logger.Error("import failed", "imported", res.Imported, "error", err)
		os.Exit(1)
	}
	logger.Info("import complete",
		"imported", res.Imported,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"elapsed", time.Since(start).Round(time.Millisecond).String(),
	)
}

// importContacts reads CSV rows from r and upserts each valid one.
// Rows with a malformed address are skipped; a store error on one row is
// counted and the import continues.
func importContacts(ctx context.Context, store contactUpserter, r io.Reader) (importResult, error) {
	var res importResult
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return res, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := idx["email"]; !ok {
		return res, errors.New("csv missing required 'email' column")
	}

	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			logger.Warn("unreadable row", "line", line, "error", err)
			res.Skipped++
			continue
		}

		c, ok := contactFromRecord(record, header, idx)
		if !ok {
			res.Skipped++
			continue
		}
		if err := store.Upsert(ctx, c); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			logger.Warn("upsert contact", "line", line, "email", c.Email, "error", err)
			res.Failed++
			continue
		}
		res.Imported++
	}
	return res, nil
}

func contactFromRecord(record, header []string, idx map[string]int) (*domain.Contact, bool) {
	get := func(col string) string {
		i, ok := idx[col]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	addr, err := mail.ParseAddress(get("email"))
	if err != nil {
		return nil, false
	}

	c := &domain.Contact{
		Email:     strings.ToLower(addr.Address),
		FirstName: get("first_name"),
		LastName:  get("last_name"),
		Consent:   true,
		Fields:    map[string]string{},
	}
	if v := get("consent"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Consent = b
		}
	}
	for _, tag := range strings.Split(get("tags"), ";") {
		if tag = strings.TrimSpace(tag); tag != "" {
			c.Tags = append(c.Tags, tag)
		}
	}
	for i, h := range header {
		key := strings.TrimSpace(h)
		if knownColumns[strings.ToLower(key)] || i >= len(record) {
			continue
		}
		if v := strings.TrimSpace(record[i]); v != "" {
			c.Fields[key] = v
		}
	}
	return c, true
}
