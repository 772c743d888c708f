package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// pragmas are applied to every pooled connection through the DSN.
var pragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"foreign_keys(ON)",
	"synchronous(NORMAL)",
}

// TimeFormat is the layout used for timestamps compared inside SQL. It sorts
// lexicographically and matches CURRENT_TIMESTAMP up to the seconds.
const TimeFormat = "2006-01-02 15:04:05.000"

// Time formats t for storage in a DATETIME column.
func Time(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// Open opens a SQLite database connection. Write transactions take the
// database lock at BEGIN so concurrent writers queue on busy_timeout instead
// of failing on lock upgrade.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return db, nil
}

func dsn(path string) string {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	q.Set("_txlock", "immediate")

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + q.Encode()
}
