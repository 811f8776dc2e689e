// SPDX-License-Identifier: MIT

// Package store provides the durable accounts table and the lease queries
// the scheduler runs against it. Every query is parameterized.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql" // MySQL driver (production backend)
	_ "modernc.org/sqlite"             // SQLite driver (pure Go, no CGO)
)

// Dialect selects the SQL flavour for the few statements that differ
// between backends. Everything else is shared.
type Dialect int

const (
	DialectMySQL Dialect = iota
	DialectSQLite
)

// Account is a row of the accounts table. Unix-second timestamps default
// to 0, meaning "never". An empty InUseBy means the account is not held.
type Account struct {
	Username     string
	Password     string
	Level        int
	InUseBy      string
	LastUse      int64
	LastReturned int64
	LastBurned   int64
}

// Credential is a username/password pair for bulk import.
type Credential struct {
	Username string
	Password string
}

// Store wraps the accounts table.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects with the given driver ("mysql" or "sqlite") and runs the
// schema migration.
func Open(driver, dsn string) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	dialect := DialectMySQL
	if driver == "sqlite" {
		dialect = DialectSQLite
	}
	return New(db, dialect)
}

// New wraps an existing connection and runs the schema migration.
func New(db *sql.DB, dialect Dialect) (*Store, error) {
	s := &Store{db: db, dialect: dialect}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		username VARCHAR(255) NOT NULL PRIMARY KEY,
		password VARCHAR(255) NOT NULL,
		level INTEGER NOT NULL DEFAULT 0,
		in_use_by VARCHAR(255) NULL,
		last_use BIGINT NOT NULL DEFAULT 0,
		last_returned BIGINT NOT NULL DEFAULT 0,
		last_burned BIGINT NOT NULL DEFAULT 0
	)`

	_, err := s.db.Exec(schema)
	return err
}

const accountColumns = "username, password, level, in_use_by, last_use, last_returned, last_burned"

// cooldownExpr is the portable form of GREATEST(last_returned, last_burned);
// MySQL's GREATEST does not exist on SQLite and SQLite's scalar MAX does not
// exist on MySQL.
const cooldownExpr = "CASE WHEN last_returned > last_burned THEN last_returned ELSE last_burned END"

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*Account, error) {
	var a Account
	var inUseBy sql.NullString
	if err := row.Scan(&a.Username, &a.Password, &a.Level, &inUseBy, &a.LastUse, &a.LastReturned, &a.LastBurned); err != nil {
		return nil, err
	}
	a.InUseBy = inUseBy.String
	return &a, nil
}

// UpsertMany bulk-inserts credentials, overwriting the password on conflict.
func (s *Store) UpsertMany(ctx context.Context, creds []Credential) error {
	if len(creds) == 0 {
		return nil
	}

	query := `
	INSERT INTO accounts (username, password) VALUES (?, ?)
	ON DUPLICATE KEY UPDATE password = VALUES(password)`
	if s.dialect == DialectSQLite {
		query = `
		INSERT INTO accounts (username, password) VALUES (?, ?)
		ON CONFLICT(username) DO UPDATE SET password = excluded.password`
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range creds {
		if _, err := stmt.ExecContext(ctx, c.Username, c.Password); err != nil {
			return fmt.Errorf("upsert %s: %w", c.Username, err)
		}
	}
	return tx.Commit()
}

// PickFree returns the leasable account with the oldest last_use, or nil.
// Leasable: not held, off cooldown relative to cutoff, level >= minLevel.
func (s *Store) PickFree(ctx context.Context, minLevel int, cooldownCutoff int64) (*Account, error) {
	query := `
	SELECT ` + accountColumns + `
	FROM accounts
	WHERE in_use_by IS NULL AND level >= ? AND ` + cooldownExpr + ` < ?
	ORDER BY last_use ASC, username ASC
	LIMIT 1`

	a, err := scanAccount(s.db.QueryRowContext(ctx, query, minLevel, cooldownCutoff))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pick free account: %w", err)
	}
	return a, nil
}

// FindByUsername returns the named account, or nil.
func (s *Store) FindByUsername(ctx context.Context, username string) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE username = ? LIMIT 1`

	a, err := scanAccount(s.db.QueryRowContext(ctx, query, username))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find account %s: %w", username, err)
	}
	return a, nil
}

// CurrentFor returns the account currently held by device, or nil.
func (s *Store) CurrentFor(ctx context.Context, device string) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE in_use_by = ? LIMIT 1`

	a, err := scanAccount(s.db.QueryRowContext(ctx, query, device))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("current account for %s: %w", device, err)
	}
	return a, nil
}

// ReleaseAllFor clears every lease held by device and stamps last_returned.
func (s *Store) ReleaseAllFor(ctx context.Context, device string, now int64) error {
	query := `UPDATE accounts SET in_use_by = NULL, last_returned = ? WHERE in_use_by = ?`
	if _, err := s.db.ExecContext(ctx, query, now, device); err != nil {
		return fmt.Errorf("release accounts of %s: %w", device, err)
	}
	return nil
}

// Assign leases the named account to device. Under a burst classification
// the caller passes stampLastUse=false so the device's true recency survives.
func (s *Store) Assign(ctx context.Context, username, device string, now int64, stampLastUse bool) error {
	query := `UPDATE accounts SET in_use_by = ? WHERE username = ?`
	if stampLastUse {
		query = `UPDATE accounts SET in_use_by = ?, last_use = ? WHERE username = ?`
		if _, err := s.db.ExecContext(ctx, query, device, now, username); err != nil {
			return fmt.Errorf("assign %s to %s: %w", username, device, err)
		}
		return nil
	}
	if _, err := s.db.ExecContext(ctx, query, device, username); err != nil {
		return fmt.Errorf("assign %s to %s: %w", username, device, err)
	}
	return nil
}

// SetLevel updates the level of the named account.
func (s *Store) SetLevel(ctx context.Context, username string, level int) error {
	query := `UPDATE accounts SET level = ? WHERE username = ?`
	if _, err := s.db.ExecContext(ctx, query, level, username); err != nil {
		return fmt.Errorf("set level of %s: %w", username, err)
	}
	return nil
}

// SetBurned stamps last_burned on the named account.
func (s *Store) SetBurned(ctx context.Context, username string, ts int64) error {
	query := `UPDATE accounts SET last_burned = ? WHERE username = ?`
	if _, err := s.db.ExecContext(ctx, query, ts, username); err != nil {
		return fmt.Errorf("set burned of %s: %w", username, err)
	}
	return nil
}

// LatestUseIn returns the newest last_use over accounts held by device or
// named in extraUsernames; 0 if none match.
func (s *Store) LatestUseIn(ctx context.Context, device string, extraUsernames []string) (int64, error) {
	var b strings.Builder
	b.WriteString(`SELECT COALESCE(MAX(last_use), 0) FROM accounts WHERE in_use_by = ?`)
	args := []any{device}
	if len(extraUsernames) > 0 {
		b.WriteString(` OR username IN (?` + strings.Repeat(", ?", len(extraUsernames)-1) + `)`)
		for _, u := range extraUsernames {
			args = append(args, u)
		}
	}

	var latest int64
	if err := s.db.QueryRowContext(ctx, b.String(), args...).Scan(&latest); err != nil {
		return 0, fmt.Errorf("latest use of %s: %w", device, err)
	}
	return latest, nil
}

// CountCooldown counts accounts whose release or burn is newer than cutoff.
func (s *Store) CountCooldown(ctx context.Context, cooldownCutoff int64) (int, error) {
	query := `SELECT COUNT(*) FROM accounts WHERE ` + cooldownExpr + ` >= ?`
	var n int
	if err := s.db.QueryRowContext(ctx, query, cooldownCutoff).Scan(&n); err != nil {
		return 0, fmt.Errorf("count cooldown: %w", err)
	}
	return n, nil
}

// CountInUse counts currently leased accounts.
func (s *Store) CountInUse(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts WHERE in_use_by IS NOT NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count in use: %w", err)
	}
	return n, nil
}

// CountAll counts all accounts.
func (s *Store) CountAll(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return n, nil
}

// ForceRelease clears every lease whose last_returned is older than
// olderThan, stamping last_returned with now. The released rows are
// returned so the caller can log them.
func (s *Store) ForceRelease(ctx context.Context, olderThan, now int64) ([]Account, error) {
	selectQuery := `
	SELECT ` + accountColumns + `
	FROM accounts
	WHERE in_use_by IS NOT NULL AND last_returned < ?
	ORDER BY last_returned DESC`

	rows, err := s.db.QueryContext(ctx, selectQuery, olderThan)
	if err != nil {
		return nil, fmt.Errorf("select stale leases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var released []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale lease: %w", err)
		}
		released = append(released, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale leases: %w", err)
	}

	if len(released) == 0 {
		return nil, nil
	}

	updateQuery := `
	UPDATE accounts SET in_use_by = NULL, last_returned = ?
	WHERE in_use_by IS NOT NULL AND last_returned < ?`
	if _, err := s.db.ExecContext(ctx, updateQuery, now, olderThan); err != nil {
		return nil, fmt.Errorf("force release: %w", err)
	}
	return released, nil
}
