package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	logx "mangawatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: writes are serialized and pragmas apply to every statement.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const workColumns = `url, title, latest_installment, latest_installment_url, image_url, created_at, updated_at`

type rowScanner interface{ Scan(dest ...any) error }

func scanWork(r rowScanner) (Work, error) {
	var (
		w                Work
		image            sql.NullString
		created, updated string
	)
	if err := r.Scan(&w.URL, &w.Title, &w.LatestInstallment, &w.LatestInstallmentURL, &image, &created, &updated); err != nil {
		return Work{}, err
	}
	w.ImageURL = image.String
	w.CreatedAt = parseTime(created)
	w.UpdatedAt = parseTime(updated)
	return w, nil
}

func (s *sqliteStore) ListWorks(ctx context.Context) ([]Work, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+workColumns+` FROM works ORDER BY created_at, url`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Work
	for rows.Next() {
		w, err := scanWork(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetWork(ctx context.Context, url string) (Work, bool, error) {
	w, err := scanWork(s.db.QueryRowContext(ctx, `SELECT `+workColumns+` FROM works WHERE url = ?`, url))
	if errors.Is(err, sql.ErrNoRows) {
		return Work{}, false, nil
	}
	if err != nil {
		return Work{}, false, err
	}
	return w, true, nil
}

func (s *sqliteStore) InsertWork(ctx context.Context, w Work) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO works(`+workColumns+`) VALUES(?,?,?,?,?,?,?)`,
		w.URL, w.Title, w.LatestInstallment, w.LatestInstallmentURL, nullStr(w.ImageURL),
		formatTime(w.CreatedAt), formatTime(w.UpdatedAt),
	)
	if isConstraint(err) {
		return ErrExists
	}
	return err
}

func (s *sqliteStore) UpsertWork(ctx context.Context, w Work) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO works(`+workColumns+`) VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(url) DO UPDATE SET
		     title = excluded.title,
		     latest_installment = excluded.latest_installment,
		     latest_installment_url = excluded.latest_installment_url,
		     image_url = excluded.image_url,
		     updated_at = excluded.updated_at
		 WHERE excluded.latest_installment > works.latest_installment`,
		w.URL, w.Title, w.LatestInstallment, w.LatestInstallmentURL, nullStr(w.ImageURL),
		formatTime(w.CreatedAt), formatTime(w.UpdatedAt),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStale
	}
	return nil
}

const destColumns = `platform, group_id, group_name, channel_id, thread_id, channel_name, created_at, updated_at`

func scanDestination(r rowScanner) (Destination, error) {
	var (
		d                Destination
		created, updated string
	)
	if err := r.Scan(&d.Platform, &d.GroupID, &d.GroupName, &d.ChannelID, &d.ThreadID, &d.ChannelName, &created, &updated); err != nil {
		return Destination{}, err
	}
	d.CreatedAt = parseTime(created)
	d.UpdatedAt = parseTime(updated)
	return d, nil
}

func (s *sqliteStore) queryDestinations(ctx context.Context, query string, args ...any) ([]Destination, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Destination
	for rows.Next() {
		d, err := scanDestination(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListDestinations(ctx context.Context) ([]Destination, error) {
	return s.queryDestinations(ctx, `SELECT `+destColumns+` FROM destinations ORDER BY platform, group_id`)
}

func (s *sqliteStore) ListDestinationsByGroup(ctx context.Context, platform, groupID string) ([]Destination, error) {
	return s.queryDestinations(ctx,
		`SELECT `+destColumns+` FROM destinations WHERE platform = ? AND group_id = ?`, platform, groupID)
}

func (s *sqliteStore) UpsertDestination(ctx context.Context, d Destination) (Destination, error) {
	now := time.Now().UTC()
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = now
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = d.UpdatedAt
	}
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO destinations(`+destColumns+`) VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(platform, group_id) DO UPDATE SET
		     group_name = excluded.group_name,
		     channel_id = excluded.channel_id,
		     thread_id = excluded.thread_id,
		     channel_name = excluded.channel_name,
		     updated_at = excluded.updated_at
		 RETURNING `+destColumns,
		d.Platform, d.GroupID, d.GroupName, d.ChannelID, d.ThreadID, d.ChannelName,
		formatTime(d.CreatedAt), formatTime(d.UpdatedAt),
	)
	return scanDestination(row)
}

func isConstraint(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT:
		return true
	}
	return false
}

// timeLayout keeps every fraction nine digits wide so that text order in
// ORDER BY matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// rows written before the fixed-width layout
		if t, err = time.Parse(time.RFC3339Nano, s); err != nil {
			return time.Time{}
		}
	}
	return t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
