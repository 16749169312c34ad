package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgresql driver
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/shaharia-lab/terediX/pkg/resource"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS resources (
    kind        TEXT NOT NULL CHECK (kind <> ''),
    source      TEXT NOT NULL CHECK (source <> ''),
    external_id TEXT NOT NULL CHECK (external_id <> ''),
    uuid        TEXT NOT NULL,
    name        TEXT NOT NULL,
    fetched_at  TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (kind, source, external_id)
);

CREATE TABLE IF NOT EXISTS metadata (
    kind        TEXT NOT NULL,
    source      TEXT NOT NULL,
    external_id TEXT NOT NULL,
    key         TEXT NOT NULL,
    value       TEXT NOT NULL,
    PRIMARY KEY (kind, source, external_id, key),
    FOREIGN KEY (kind, source, external_id) REFERENCES resources (kind, source, external_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS metadata_key_value_idx ON metadata (key, value);

CREATE TABLE IF NOT EXISTS relations (
    rule               TEXT NOT NULL,
    source_kind        TEXT NOT NULL,
    source_source      TEXT NOT NULL,
    source_external_id TEXT NOT NULL,
    target_kind        TEXT NOT NULL,
    target_source      TEXT NOT NULL,
    target_external_id TEXT NOT NULL,
    PRIMARY KEY (rule, source_kind, source_source, source_external_id, target_kind, target_source, target_external_id)
);
`

// sqlite has no TIMESTAMPTZ.
var sqliteSchema = strings.ReplaceAll(postgresSchema, "TIMESTAMPTZ", "TIMESTAMP")

// SQLStore implements Storage on a relational database through sqlx.
type SQLStore struct {
	db     *sqlx.DB
	schema string
}

// OpenPostgres connects to PostgreSQL using a lib/pq DSN.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgresql: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &SQLStore{db: db, schema: postgresSchema}, nil
}

// OpenSQLite opens (creating if needed) a SQLite database file.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	raw, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// sqlite serialises writers; one connection avoids SQLITE_BUSY between transactions
	raw.SetMaxOpenConns(1)

	db := sqlx.NewDb(raw, "sqlite3")
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLStore{db: db, schema: sqliteSchema}, nil
}

// Prepare creates tables and indexes.
func (s *SQLStore) Prepare(ctx context.Context) error {
	for _, stmt := range strings.Split(s.schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return wrap("prepare", err)
		}
	}
	return nil
}

// UpsertBatch writes all resources in one transaction.
func (s *SQLStore) UpsertBatch(ctx context.Context, resources []resource.Resource) error {
	if len(resources) == 0 {
		return nil
	}

	upsert := s.db.Rebind(`
		INSERT INTO resources (kind, source, external_id, uuid, name, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (kind, source, external_id) DO UPDATE SET
			uuid = excluded.uuid,
			name = excluded.name,
			fetched_at = excluded.fetched_at`)
	clearMeta := s.db.Rebind(`DELETE FROM metadata WHERE kind = ? AND source = ? AND external_id = ?`)
	insertMeta := s.db.Rebind(`INSERT INTO metadata (kind, source, external_id, key, value) VALUES (?, ?, ?, ?, ?)`)

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, r := range resources {
			if _, err := tx.ExecContext(ctx, upsert,
				r.Kind, r.ScannerSource, r.ExternalID, r.UUID, r.Name, r.FetchedAt.UTC()); err != nil {
				return fmt.Errorf("upsert %s: %w", r.Identity(), err)
			}
			if _, err := tx.ExecContext(ctx, clearMeta, r.Kind, r.ScannerSource, r.ExternalID); err != nil {
				return fmt.Errorf("clear metadata %s: %w", r.Identity(), err)
			}
			for _, key := range r.MetaKeys() {
				if _, err := tx.ExecContext(ctx, insertMeta,
					r.Kind, r.ScannerSource, r.ExternalID, key, r.MetaData[key]); err != nil {
					return fmt.Errorf("insert metadata %s: %w", r.Identity(), err)
				}
			}
		}
		return nil
	})
	return wrap("upsert", err)
}

// ReplaceRelations swaps the relation set in one transaction.
func (s *SQLStore) ReplaceRelations(ctx context.Context, relations []resource.Relation) error {
	insert := s.db.Rebind(`
		INSERT INTO relations (rule, source_kind, source_source, source_external_id, target_kind, target_source, target_external_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`)

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM relations`); err != nil {
			return err
		}
		for _, rel := range relations {
			if _, err := tx.ExecContext(ctx, insert,
				rel.Rule,
				rel.Source.Kind, rel.Source.ScannerSource, rel.Source.ExternalID,
				rel.Target.Kind, rel.Target.ScannerSource, rel.Target.ExternalID,
			); err != nil {
				return fmt.Errorf("insert relation %s: %w", rel.Rule, err)
			}
		}
		return nil
	})
	return wrap("replace relations", err)
}

type resourceRow struct {
	Kind       string         `db:"kind"`
	Source     string         `db:"source"`
	ExternalID string         `db:"external_id"`
	UUID       string         `db:"uuid"`
	Name       string         `db:"name"`
	FetchedAt  dbTime         `db:"fetched_at"`
	Key        sql.NullString `db:"key"`
	Value      sql.NullString `db:"value"`
}

// Query returns one page of resources matching filter, ordered by identity.
func (s *SQLStore) Query(ctx context.Context, filter Filter, page Page) (QueryResult, error) {
	if page.Size <= 0 {
		return QueryResult{}, wrap("query", ErrInvalidPage)
	}

	var (
		where []string
		args  []any
	)
	if filter.Kind != "" {
		where = append(where, "r.kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.MetaKey != "" {
		where = append(where, `EXISTS (SELECT 1 FROM metadata f
			WHERE f.kind = r.kind AND f.source = r.source AND f.external_id = r.external_id
			AND f.key = ? AND f.value = ?)`)
		args = append(args, filter.MetaKey, filter.MetaValue)
	}

	inner := "SELECT r.kind, r.source, r.external_id, r.uuid, r.name, r.fetched_at FROM resources r"
	if len(where) > 0 {
		inner += " WHERE " + strings.Join(where, " AND ")
	}
	inner += " ORDER BY r.kind, r.source, r.external_id LIMIT ? OFFSET ?"
	args = append(args, page.Size+1, page.offset())

	resources, err := s.selectResources(ctx, inner, args...)
	if err != nil {
		return QueryResult{}, wrap("query", err)
	}

	res := QueryResult{Resources: resources}
	if len(resources) > page.Size {
		res.Resources = resources[:page.Size]
		res.HasMore = true
	}
	return res, nil
}

// Resources returns every stored resource ordered by identity.
func (s *SQLStore) Resources(ctx context.Context) ([]resource.Resource, error) {
	resources, err := s.selectResources(ctx,
		"SELECT r.kind, r.source, r.external_id, r.uuid, r.name, r.fetched_at FROM resources r")
	return resources, wrap("resources", err)
}

// selectResources joins the resource rows produced by inner with their metadata.
func (s *SQLStore) selectResources(ctx context.Context, inner string, args ...any) ([]resource.Resource, error) {
	query := s.db.Rebind(`
		SELECT p.kind, p.source, p.external_id, p.uuid, p.name, p.fetched_at, m.key, m.value
		FROM (` + inner + `) p
		LEFT JOIN metadata m ON m.kind = p.kind AND m.source = p.source AND m.external_id = p.external_id
		ORDER BY p.kind, p.source, p.external_id, m.key`)

	var rows []resourceRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	var out []resource.Resource
	for _, row := range rows {
		if n := len(out); n == 0 || !sameIdentity(out[n-1], row) {
			out = append(out, resource.Resource{
				Kind:          row.Kind,
				UUID:          row.UUID,
				Name:          row.Name,
				ExternalID:    row.ExternalID,
				ScannerSource: row.Source,
				MetaData:      make(map[string]string),
				FetchedAt:     row.FetchedAt.UTC(),
			})
		}
		if row.Key.Valid {
			out[len(out)-1].MetaData[row.Key.String] = row.Value.String
		}
	}
	return out, nil
}

// dbTime scans timestamps from drivers that return either time.Time or text.
type dbTime struct {
	time.Time
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func (t *dbTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("parse timestamp %q", s)
}

func sameIdentity(r resource.Resource, row resourceRow) bool {
	return r.Kind == row.Kind && r.ScannerSource == row.Source && r.ExternalID == row.ExternalID
}

type relationRow struct {
	Rule             string `db:"rule"`
	SourceKind       string `db:"source_kind"`
	SourceSource     string `db:"source_source"`
	SourceExternalID string `db:"source_external_id"`
	TargetKind       string `db:"target_kind"`
	TargetSource     string `db:"target_source"`
	TargetExternalID string `db:"target_external_id"`
}

// Relations returns the stored relation set.
func (s *SQLStore) Relations(ctx context.Context) ([]resource.Relation, error) {
	var rows []relationRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT rule, source_kind, source_source, source_external_id, target_kind, target_source, target_external_id
		FROM relations
		ORDER BY rule, source_kind, source_source, source_external_id, target_kind, target_source, target_external_id`)
	if err != nil {
		return nil, wrap("relations", err)
	}

	out := make([]resource.Relation, 0, len(rows))
	for _, row := range rows {
		out = append(out, resource.Relation{
			Rule:   row.Rule,
			Source: resource.Identity{Kind: row.SourceKind, ScannerSource: row.SourceSource, ExternalID: row.SourceExternalID},
			Target: resource.Identity{Kind: row.TargetKind, ScannerSource: row.TargetSource, ExternalID: row.TargetExternalID},
		})
	}
	return out, nil
}

// Counts returns stored resource counts per source and kind.
func (s *SQLStore) Counts(ctx context.Context) ([]KindCount, error) {
	var out []KindCount
	err := s.db.SelectContext(ctx, &out, `
		SELECT source, kind, COUNT(*) AS count
		FROM resources
		GROUP BY source, kind
		ORDER BY source, kind`)
	return out, wrap("counts", err)
}

// Close closes the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return fn(tx)
}
