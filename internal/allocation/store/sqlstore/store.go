// Package sqlstore persists allocation entities through database/sql. It
// serves PostgreSQL (pgx or lib/pq drivers) and SQLite (modernc) with the
// same queries; SQLite statements are rebound to numbered "?" parameters.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"organlink/internal/allocation/models"
	id "organlink/pkg/domain"
	"organlink/pkg/platform/sentinel"
	txcontext "organlink/pkg/platform/tx"
)

// Driver names accepted by Open.
const (
	DriverPgx      = "pgx"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

var placeholder = regexp.MustCompile(`\$(\d+)`)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the SQL-backed entity store.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// Open connects with the named driver, verifies the connection and applies
// the schema.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	var d dialect
	switch driver {
	case DriverPgx, DriverPostgres:
		d = dialectPostgres
	case DriverSQLite:
		d = dialectSQLite
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if d == dialectSQLite {
		// one writer; concurrent transactions would fail with SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	s := &Store{db: db, dialect: d}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Truncate deletes every row. Used by tests.
func (s *Store) Truncate(ctx context.Context) error {
	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			return fmt.Errorf("truncate %s: %w", t, err)
		}
	}
	return nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RunInTx runs fn inside one database transaction. Store calls made with the
// context passed to fn join it; nested calls reuse the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txcontext.From(ctx); ok {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	pending := &pendingRevisions{}
	txCtx := context.WithValue(txcontext.WithTx(ctx, tx), pendingKey{}, pending)
	if err := fn(txCtx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	for _, bump := range pending.bumps {
		bump()
	}
	return nil
}

// pendingRevisions holds the revision bumps of one transaction. They apply
// to the caller's entities only after commit, so a rollback leaves them at
// the revision the database still holds.
type pendingRevisions struct {
	bumps []func()
}

type pendingKey struct{}

func (s *Store) conn(ctx context.Context) execer {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) bind(query string) string {
	if s.dialect == dialectSQLite {
		return placeholder.ReplaceAllString(query, "?$1")
	}
	return query
}

// record describes one entity write: the indexed columns besides id,
// revision and payload, in table order.
type record struct {
	table    string
	id       string
	revision *int64
	columns  []string
	values   []any
	payload  any
}

// save inserts when the revision is zero and otherwise updates only if the
// stored revision still matches. The caller's revision is bumped on success,
// or on commit when the write runs inside RunInTx.
func (s *Store) save(ctx context.Context, r record) error {
	body, err := json.Marshal(r.payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", r.table, err)
	}
	expected := *r.revision
	next := expected + 1
	if expected == 0 {
		err = s.insert(ctx, r, next, body)
	} else {
		err = s.update(ctx, r, expected, next, body)
	}
	if err != nil {
		return err
	}
	rev := r.revision
	if p, ok := ctx.Value(pendingKey{}).(*pendingRevisions); ok {
		p.bumps = append(p.bumps, func() { *rev = next })
		return nil
	}
	*rev = next
	return nil
}

func (s *Store) insert(ctx context.Context, r record, next int64, body []byte) error {
	cols := append([]string{"id", "revision"}, r.columns...)
	cols = append(cols, "payload")
	args := append([]any{r.id, next}, r.values...)
	args = append(args, string(body))
	marks := make([]string, len(cols))
	for i := range marks {
		marks[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", r.table, strings.Join(cols, ", "), strings.Join(marks, ", "))
	if _, err := s.conn(ctx).ExecContext(ctx, s.bind(query), args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert %s %s: %w", r.table, r.id, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert %s: %w", r.table, err)
	}
	return nil
}

func (s *Store) update(ctx context.Context, r record, expected, next int64, body []byte) error {
	sets := []string{"revision = $1"}
	args := []any{next}
	for i, c := range r.columns {
		sets = append(sets, fmt.Sprintf("%s = $%d", c, i+2))
		args = append(args, r.values[i])
	}
	n := len(args)
	sets = append(sets, fmt.Sprintf("payload = $%d", n+1))
	args = append(args, string(body), r.id, expected)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d AND revision = $%d",
		r.table, strings.Join(sets, ", "), n+2, n+3)

	res, err := s.conn(ctx).ExecContext(ctx, s.bind(query), args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", r.table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: %w", r.table, err)
	}
	if affected == 1 {
		return nil
	}
	var one int
	err = s.conn(ctx).QueryRowContext(ctx, s.bind("SELECT 1 FROM "+r.table+" WHERE id = $1"), r.id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update %s %s: %w", r.table, r.id, sentinel.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update %s: %w", r.table, err)
	}
	return fmt.Errorf("update %s %s: revision %d is stale: %w", r.table, r.id, expected, sentinel.ErrConflict)
}

// load reads one payload by id and sets the entity's revision from the row.
func load[T any](ctx context.Context, s *Store, table, key string, revOf func(*T) *int64) (*T, error) {
	var (
		rev  int64
		body string
	)
	err := s.conn(ctx).QueryRowContext(ctx, s.bind("SELECT revision, payload FROM "+table+" WHERE id = $1"), key).Scan(&rev, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", table, err)
	}
	return decode(table, rev, body, revOf)
}

func decode[T any](table string, rev int64, body string, revOf func(*T) *int64) (*T, error) {
	v := new(T)
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", table, err)
	}
	*revOf(v) = rev
	return v, nil
}

func list[T any](ctx context.Context, s *Store, table string, w *where, order string, revOf func(*T) *int64) ([]*T, error) {
	query := "SELECT revision, payload FROM " + table + w.sql() + " ORDER BY " + order
	rows, err := s.conn(ctx).QueryContext(ctx, s.bind(query), w.args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()
	var out []*T
	for rows.Next() {
		var (
			rev  int64
			body string
		)
		if err := rows.Scan(&rev, &body); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		v, err := decode(table, rev, body, revOf)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	return out, nil
}

// where accumulates AND-ed conditions with numbered placeholders.
type where struct {
	conds []string
	args  []any
}

func (w *where) eq(col string, v any) {
	w.args = append(w.args, v)
	w.conds = append(w.conds, fmt.Sprintf("%s = $%d", col, len(w.args)))
}

func (w *where) in(col string, vs []string) {
	if len(vs) == 0 {
		return
	}
	marks := make([]string, len(vs))
	for i, v := range vs {
		w.args = append(w.args, v)
		marks[i] = fmt.Sprintf("$%d", len(w.args))
	}
	w.conds = append(w.conds, fmt.Sprintf("%s IN (%s)", col, strings.Join(marks, ", ")))
}

func (w *where) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func strs[S ~string](vs []S) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = string(v)
	}
	return out
}

func organRev(o *models.Organ) *int64           { return &o.Revision }
func requestRev(r *models.Request) *int64       { return &r.Revision }
func allocationRev(a *models.Allocation) *int64 { return &a.Revision }
func consentRev(c *models.Consent) *int64       { return &c.Revision }
func userRev(u *models.User) *int64             { return &u.Revision }

func (s *Store) SaveOrgan(ctx context.Context, o *models.Organ) error {
	return s.save(ctx, record{
		table:    "organs",
		id:       o.ID.String(),
		revision: &o.Revision,
		columns:  []string{"status", "organ_type", "blood_group", "donor_id", "created_ms"},
		values:   []any{string(o.Status), string(o.OrganType), string(o.BloodGroup), o.DonorID.String(), o.CreatedAt.UnixMilli()},
		payload:  o,
	})
}

func (s *Store) SaveRequest(ctx context.Context, r *models.Request) error {
	return s.save(ctx, record{
		table:    "requests",
		id:       r.ID.String(),
		revision: &r.Revision,
		columns:  []string{"status", "organ_type", "blood_group", "hospital_id", "urgency", "created_ms"},
		values:   []any{string(r.Status), string(r.OrganType), string(r.BloodGroup), r.HospitalID.String(), r.UrgencyScore, r.CreatedAt.UnixMilli()},
		payload:  r,
	})
}

func (s *Store) SaveAllocation(ctx context.Context, a *models.Allocation) error {
	return s.save(ctx, record{
		table:    "allocations",
		id:       a.ID.String(),
		revision: &a.Revision,
		columns:  []string{"status", "hospital_id", "organ_id", "created_ms"},
		values:   []any{string(a.Status), a.HospitalID.String(), a.OrganID.String(), a.CreatedAt.UnixMilli()},
		payload:  a,
	})
}

func (s *Store) SaveConsent(ctx context.Context, c *models.Consent) error {
	return s.save(ctx, record{
		table:    "consents",
		id:       c.ID.String(),
		revision: &c.Revision,
		columns:  []string{"donor_id"},
		values:   []any{c.DonorID.String()},
		payload:  c,
	})
}

func (s *Store) SaveUser(ctx context.Context, u *models.User) error {
	return s.save(ctx, record{
		table:    "users",
		id:       u.ID.String(),
		revision: &u.Revision,
		columns:  []string{"role"},
		values:   []any{string(u.Role)},
		payload:  u,
	})
}

func (s *Store) FindOrgan(ctx context.Context, organID id.OrganID) (*models.Organ, error) {
	return load(ctx, s, "organs", organID.String(), organRev)
}

func (s *Store) FindRequest(ctx context.Context, requestID id.RequestID) (*models.Request, error) {
	return load(ctx, s, "requests", requestID.String(), requestRev)
}

func (s *Store) FindAllocation(ctx context.Context, allocationID id.AllocationID) (*models.Allocation, error) {
	return load(ctx, s, "allocations", allocationID.String(), allocationRev)
}

func (s *Store) FindConsent(ctx context.Context, consentID id.ConsentID) (*models.Consent, error) {
	return load(ctx, s, "consents", consentID.String(), consentRev)
}

func (s *Store) FindUser(ctx context.Context, userID id.UserID) (*models.User, error) {
	return load(ctx, s, "users", userID.String(), userRev)
}

// ListOrgans returns matching organs, newest first.
func (s *Store) ListOrgans(ctx context.Context, f models.OrganFilter) ([]*models.Organ, error) {
	w := &where{}
	w.in("status", strs(f.Statuses))
	if f.OrganType != "" {
		w.eq("organ_type", string(f.OrganType))
	}
	if f.BloodGroup != "" {
		w.eq("blood_group", string(f.BloodGroup))
	}
	if f.DonorID != nil {
		w.eq("donor_id", f.DonorID.String())
	}
	return list(ctx, s, "organs", w, "created_ms DESC, id", organRev)
}

// ListRequests returns matching requests, most urgent first, then oldest first.
func (s *Store) ListRequests(ctx context.Context, f models.RequestFilter) ([]*models.Request, error) {
	w := &where{}
	w.in("status", strs(f.Statuses))
	if f.OrganType != "" {
		w.eq("organ_type", string(f.OrganType))
	}
	if f.BloodGroup != "" {
		w.eq("blood_group", string(f.BloodGroup))
	}
	if f.HospitalID != nil {
		w.eq("hospital_id", f.HospitalID.String())
	}
	return list(ctx, s, "requests", w, "urgency DESC, created_ms ASC, id", requestRev)
}

// ListAllocations returns matching allocations, newest first.
func (s *Store) ListAllocations(ctx context.Context, f models.AllocationFilter) ([]*models.Allocation, error) {
	w := &where{}
	w.in("status", strs(f.Statuses))
	if f.HospitalID != nil {
		w.eq("hospital_id", f.HospitalID.String())
	}
	return list(ctx, s, "allocations", w, "created_ms DESC, id", allocationRev)
}
