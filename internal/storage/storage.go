// Package storage persists schema versions and the evolutions applied
// against them. Each successful evolution writes one version row carrying
// the serialized project signature, plus one row per applied evolution
// label.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/reloquent/evolve/internal/signature"
)

// ErrNoVersions is returned when no schema version has been stored yet,
// meaning a baseline must be installed first.
var ErrNoVersions = errors.New("no stored schema versions")

// Querier is the subset of database operations the store needs. Both
// *sql.DB and *sql.Tx satisfy it, so ledger writes can join the evolution's
// transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Version is one stored schema version.
type Version struct {
	ID        int64
	Signature *signature.ProjectSignature
	CreatedAt time.Time
}

// AppliedEvolution records one evolution label applied for an application.
type AppliedEvolution struct {
	AppLabel string
	Label    string
}

// Open connects to a database by dialect and DSN.
func Open(dialect, dsn string) (*sql.DB, error) {
	driver, err := driverName(dialect)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s connection: %w", dialect, err)
	}

	return conn, nil
}

func driverName(dialect string) (string, error) {
	switch dialect {
	case "postgres":
		return "pgx", nil
	case "mysql":
		return "mysql", nil
	}

	return "", fmt.Errorf("unsupported database dialect %q", dialect)
}

// Store reads and writes the version ledger for one dialect.
type Store struct {
	dialect string
}

// NewStore returns a store for the given dialect.
func NewStore(dialect string) (*Store, error) {
	if _, err := driverName(dialect); err != nil {
		return nil, err
	}

	return &Store{dialect: dialect}, nil
}

// EnsureSchema creates the ledger tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context, q Querier) error {
	for _, stmt := range s.schemaSQL() {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating ledger tables: %w", err)
		}
	}

	return nil
}

func (s *Store) schemaSQL() []string {
	idColumn := "id serial PRIMARY KEY"
	if s.dialect == "mysql" {
		idColumn = "id integer AUTO_INCREMENT PRIMARY KEY"
	}

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS evolve_versions (
	%s,
	signature text NOT NULL,
	created_at timestamp NOT NULL
);`, idColumn),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS evolve_evolutions (
	%s,
	version_id integer NOT NULL,
	app_label varchar(200) NOT NULL,
	label varchar(100) NOT NULL
);`, idColumn),
	}
}

// placeholder renders the parameter placeholder for a 1-based position.
func (s *Store) placeholder(position int) string {
	if s.dialect == "mysql" {
		return "?"
	}

	return fmt.Sprintf("$%d", position)
}

// LatestVersion returns the most recent stored version, or ErrNoVersions.
func (s *Store) LatestVersion(ctx context.Context, q Querier) (*Version, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, signature, created_at FROM evolve_versions `+
			`ORDER BY id DESC LIMIT 1`)

	var version Version
	var raw []byte

	if err := row.Scan(&version.ID, &raw, &version.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoVersions
		}

		return nil, fmt.Errorf("reading latest schema version: %w", err)
	}

	projectSig, err := signature.ParseProject(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding stored signature: %w", err)
	}

	version.Signature = projectSig
	return &version, nil
}

// CreateVersion stores a new schema version and returns its ID.
func (s *Store) CreateVersion(ctx context.Context, q Querier,
	projectSig *signature.ProjectSignature) (int64, error) {
	raw, err := projectSig.Serialize(signature.CurrentVersion)
	if err != nil {
		return 0, fmt.Errorf("serializing signature: %w", err)
	}

	now := time.Now().UTC()

	if s.dialect == "mysql" {
		result, err := q.ExecContext(ctx,
			`INSERT INTO evolve_versions (signature, created_at) VALUES (?, ?)`,
			string(raw), now)
		if err != nil {
			return 0, fmt.Errorf("storing schema version: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("reading version id: %w", err)
		}

		return id, nil
	}

	var id int64
	err = q.QueryRowContext(ctx,
		`INSERT INTO evolve_versions (signature, created_at) `+
			`VALUES ($1, $2) RETURNING id`,
		string(raw), now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("storing schema version: %w", err)
	}

	return id, nil
}

// BulkInsertEvolutions records the evolutions applied for a version.
func (s *Store) BulkInsertEvolutions(ctx context.Context, q Querier,
	versionID int64, applied []AppliedEvolution) error {
	stmt := fmt.Sprintf(
		`INSERT INTO evolve_evolutions (version_id, app_label, label) `+
			`VALUES (%s, %s, %s)`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3))

	for _, evolution := range applied {
		_, err := q.ExecContext(ctx, stmt,
			versionID, evolution.AppLabel, evolution.Label)
		if err != nil {
			return fmt.Errorf("recording evolution %s/%s: %w",
				evolution.AppLabel, evolution.Label, err)
		}
	}

	return nil
}

// AppliedEvolutions returns the applied evolution labels per application,
// in application order.
func (s *Store) AppliedEvolutions(ctx context.Context, q Querier) (
	map[string][]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT app_label, label FROM evolve_evolutions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("reading applied evolutions: %w", err)
	}
	defer rows.Close()

	applied := map[string][]string{}

	for rows.Next() {
		var appLabel, label string
		if err := rows.Scan(&appLabel, &label); err != nil {
			return nil, fmt.Errorf("scanning applied evolution: %w", err)
		}

		applied[appLabel] = append(applied[appLabel], label)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading applied evolutions: %w", err)
	}

	return applied, nil
}
