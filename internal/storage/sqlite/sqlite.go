package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const openTimeout = 5 * time.Second

// pragmas every connection needs; the driver applies _pragma parameters
// on each new connection.
var pragmas = []string{"foreign_keys(1)", "journal_mode(WAL)", "busy_timeout(5000)"}

type Sqlite struct {
	Db *sql.DB
}

// New opens the database at dsn, a file path optionally followed by driver
// query parameters.
func New(dsn string) (*Sqlite, error) {
	full, err := withPragmas(dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	db, err := sql.Open("sqlite", full)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	// One writer at a time; concurrent writers only trade places on the
	// busy timeout.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: open %s: %w", dsn, err)
	}
	return &Sqlite{Db: db}, nil
}

// withPragmas adds the required pragmas to dsn unless the caller already
// set a pragma of the same name.
func withPragmas(dsn string) (string, error) {
	base, query, _ := strings.Cut(dsn, "?")
	q, err := url.ParseQuery(query)
	if err != nil {
		return "", fmt.Errorf("bad dsn query: %w", err)
	}
	set := make(map[string]bool)
	for _, p := range q["_pragma"] {
		set[pragmaName(p)] = true
	}
	for _, p := range pragmas {
		if !set[pragmaName(p)] {
			q.Add("_pragma", p)
		}
	}
	return base + "?" + q.Encode(), nil
}

func pragmaName(p string) string {
	name, _, _ := strings.Cut(p, "(")
	return strings.ToLower(strings.TrimSpace(name))
}

func (s *Sqlite) Ping(ctx context.Context) error {
	return s.Db.PingContext(ctx)
}
