// Package sqlitestore provides a record store backed by SQLite dataset files.
//
// A dataset holds one table per collection with the record document as JSON
// and an R-tree over the bound of each record's location.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver

	"github.com/jobrunner/geosource/internal/domain"
	"github.com/jobrunner/geosource/internal/ports/output"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var geometryPath = domain.FieldGeoInfo + "." + domain.FieldGeometry

// Options configures a store.
type Options struct {
	ReadOnly bool // Open the dataset read-only
}

// Store implements output.RecordStore on an SQLite dataset file.
type Store struct {
	path string
	opts Options

	mu sync.RWMutex
	db *sql.DB
}

// New creates a store for the dataset at path. It does not open the file.
func New(path string, opts Options) *Store {
	return &Store{path: path, opts: opts}
}

// Path returns the dataset file path.
func (s *Store) Path() string {
	return s.path
}

// Connect opens the dataset.
func (s *Store) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&_busy_timeout=5000", s.path)
	if s.opts.ReadOnly {
		dsn += "&mode=ro"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return &domain.StorageError{Operation: "open", Key: s.path, Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return &domain.StorageError{Operation: "open", Key: s.path, Err: err}
	}

	s.db = db
	return nil
}

// Close closes the dataset.
func (s *Store) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) conn() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, domain.ErrNotConnected
	}
	return s.db, nil
}

// EnsureCollection creates the table, R-tree and recency index of a
// collection if they do not exist.
func (s *Store) EnsureCollection(ctx context.Context, collection string) error {
	if err := checkIdentifier(collection); err != nil {
		return err
	}
	db, err := s.conn()
	if err != nil {
		return err
	}

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS "%s" (
			fid INTEGER PRIMARY KEY AUTOINCREMENT,
			doc TEXT NOT NULL,
			created TEXT
		)`, collection), //#nosec G201 -- collection name validated by checkIdentifier
		fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS "rtree_%s" USING rtree(id, minx, maxx, miny, maxy)`, collection), //#nosec G201 -- collection name validated by checkIdentifier
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS "idx_%s_created" ON "%s" (created)`, collection, collection),            //#nosec G201 -- collection name validated by checkIdentifier
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return &domain.IndexError{Dataset: s.path, Collection: collection, Err: err}
		}
	}
	return nil
}

// Insert stores records in a collection inside one transaction and returns
// the number of records written. Records without a location are stored but
// not indexed.
func (s *Store) Insert(ctx context.Context, collection string, records []domain.Record) (int, error) {
	if err := s.EnsureCollection(ctx, collection); err != nil {
		return 0, err
	}
	db, err := s.conn()
	if err != nil {
		return 0, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	insertDoc := fmt.Sprintf(`INSERT INTO "%s" (doc, created) VALUES (?, ?)`, collection)                                 //#nosec G201 -- collection name validated by checkIdentifier
	insertBound := fmt.Sprintf(`INSERT INTO "rtree_%s" (id, minx, maxx, miny, maxy) VALUES (?, ?, ?, ?, ?)`, collection) //#nosec G201 -- collection name validated by checkIdentifier

	for i := range records {
		doc := records[i].Document()
		data, err := json.Marshal(doc)
		if err != nil {
			return 0, fmt.Errorf("encoding record %d: %w", i, err)
		}

		created, _ := records[i].Get(domain.FieldCreated)
		res, err := tx.ExecContext(ctx, insertDoc, string(data), createdValue(created))
		if err != nil {
			return 0, fmt.Errorf("inserting record %d: %w", i, err)
		}

		bound, ok := records[i].GeoInfo.Bound()
		if !ok {
			continue
		}
		fid, err := res.LastInsertId()
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, insertBound, fid, bound.Min[0], bound.Max[0], bound.Min[1], bound.Max[1]); err != nil {
			return 0, &domain.IndexError{Dataset: s.path, Collection: collection, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(records), nil
}

// FindOne implements output.RecordStore.
func (s *Store) FindOne(ctx context.Context, q domain.Query) (*domain.Record, error) {
	q.Limit = 1
	records, err := s.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, domain.ErrRecordNotFound
	}
	if err := records[0].DecodeErr; err != nil {
		return nil, err
	}
	return &records[0], nil
}

// Find implements output.RecordStore.
func (s *Store) Find(ctx context.Context, q domain.Query) ([]domain.Record, error) {
	cur, err := s.open(ctx, q)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var records []domain.Record
	for cur.Next(ctx) {
		records = append(records, cur.current)
	}
	return records, cur.Err()
}

// Stream implements output.RecordStore.
func (s *Store) Stream(ctx context.Context, q domain.Query) (output.RecordCursor, error) {
	cur, err := s.open(ctx, q)
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func (s *Store) open(ctx context.Context, q domain.Query) (*cursor, error) {
	if err := checkIdentifier(q.Collection); err != nil {
		return nil, err
	}
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	exists, err := s.hasCollection(ctx, db, q.Collection)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%s in %s: %w", q.Collection, s.path, domain.ErrCollectionNotFound)
	}

	query, args := buildSelect(q)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &cursor{rows: rows, query: q}, nil
}

func (s *Store) hasCollection(ctx context.Context, db *sql.DB, collection string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, collection,
	).Scan(&count)
	return count > 0, err
}

// Collections returns the collection tables of the dataset.
func (s *Store) Collections(ctx context.Context) ([]string, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type='table' AND name NOT LIKE 'rtree_%' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// buildSelect translates the query into SQL. Spatial predicates use the
// R-tree and scalar equality uses json_each, which also matches array
// elements. The full filter is evaluated again on every decoded row, so the
// SQL only has to select a superset.
func buildSelect(q domain.Query) (string, []interface{}) {
	var where []string
	var args []interface{}

	if w, ok := q.Filter[q.GeoKey].(domain.WithinBox); ok && strings.HasPrefix(q.GeoKey, domain.FieldGeoInfo+".") {
		// the R-tree holds the geometry bound, so only that path can use containment
		cond := `minx <= ? AND maxx >= ? AND miny <= ? AND maxy >= ?`
		condArgs := []interface{}{w.Box.Max[0], w.Box.Min[0], w.Box.Max[1], w.Box.Min[1]}
		if q.GeoKey == geometryPath {
			cond = `minx >= ? AND maxx <= ? AND miny >= ? AND maxy <= ?`
			condArgs = []interface{}{w.Box.Min[0], w.Box.Max[0], w.Box.Min[1], w.Box.Max[1]}
		}
		where = append(where, fmt.Sprintf(`fid IN (SELECT id FROM "rtree_%s" WHERE %s)`, q.Collection, cond)) //#nosec G201 -- collection name validated by checkIdentifier
		args = append(args, condArgs...)
	}

	for path, v := range q.Filter.Scalars() {
		value, ok := sqlScalar(v)
		if !ok {
			continue
		}
		where = append(where, `EXISTS (SELECT 1 FROM json_each(doc, ?) WHERE value = ?)`)
		args = append(args, jsonPath(path), value)
	}

	query := fmt.Sprintf(`SELECT fid, doc FROM "%s"`, q.Collection) //#nosec G201 -- collection name validated by checkIdentifier
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	order := make([]string, 0, len(q.Sort)+1)
	for _, sf := range q.Sort {
		expr := "json_extract(doc, ?)"
		if sf.Field == domain.FieldCreated {
			expr = "created"
		} else {
			args = append(args, jsonPath(sf.Field))
		}
		if sf.Descending {
			expr += " DESC"
		}
		order = append(order, expr)
	}
	order = append(order, "fid")
	query += " ORDER BY " + strings.Join(order, ", ")

	return query, args
}

func jsonPath(path string) string {
	return "$." + path
}

// sqlScalar converts a filter value to an SQL parameter comparable with
// json_each values. Booleans are stored by SQLite JSON functions as 0 and 1.
func sqlScalar(v interface{}) (interface{}, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	default:
		if f, ok := domain.ToFloat(v); ok {
			return f, true
		}
		return nil, false
	}
}

// createdValue renders the recency field for the created column so that
// RFC 3339 timestamps sort chronologically.
func createdValue(v interface{}) interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		if f, ok := domain.ToFloat(v); ok {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return fmt.Sprint(v)
	}
}

func checkIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return &domain.ValidationError{
			Field:      "collection",
			Value:      name,
			Constraint: identifierPattern.String(),
			Message:    "collection name must be a plain identifier",
		}
	}
	return nil
}
