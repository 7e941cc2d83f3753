// Package sqlbackend implements remote.Backend on a SQL database through
// sqlx. PostgreSQL (lib/pq) is the production target; SQLite (go-sqlite3)
// serves local servers and tests.
package sqlbackend

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/MarquesJr132/stock-system/internal/record"
	"github.com/MarquesJr132/stock-system/internal/remote"
)

//go:embed schema.sql
var schemaSQL string

// Backend is a remote.Backend over a SQL database.
type Backend struct {
	DB  *sqlx.DB
	now func() time.Time
}

var _ remote.Backend = (*Backend)(nil)

// New wraps an open database.
func New(db *sqlx.DB) *Backend {
	return &Backend{DB: db, now: time.Now}
}

// Open connects to the database named by driver ("postgres" or "sqlite3")
// and dsn.
func Open(driver, dsn string) (*Backend, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}
	return New(db), nil
}

// Close closes the database.
func (b *Backend) Close() error {
	return b.DB.Close()
}

// Migrate creates the authoritative tables if they do not exist.
func (b *Backend) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stripComments(stmt)) == "" {
			continue
		}
		if _, err := b.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (b *Backend) Select(ctx context.Context, table record.Table, tenantID string) ([]record.Record, error) {
	cols, err := tableColumns(table)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s`, columnList(cols), table)
	var args []any
	if tenantID != "" {
		query += ` WHERE tenant_id = ?`
		args = append(args, tenantID)
	}
	if _, ok := lookupColumn(table, record.KeyCreatedAt); ok {
		query += ` ORDER BY created_at ASC, id ASC`
	} else {
		query += ` ORDER BY id ASC`
	}

	rows, err := b.DB.QueryxContext(ctx, b.DB.Rebind(query), args...)
	if err != nil {
		return nil, classify(table, err)
	}
	defer rows.Close()

	out := []record.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows, cols)
		if err != nil {
			return nil, fmt.Errorf("select %s: %w", table, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(table, err)
	}
	return out, nil
}

func (b *Backend) Insert(ctx context.Context, table record.Table, rec record.Record) (record.Record, error) {
	row := rec.Clone()
	if row.ID() == "" {
		row[record.KeyID] = record.NewID()
	}
	if _, ok := lookupColumn(table, record.KeyCreatedAt); ok && !row.Has(record.KeyCreatedAt) {
		row[record.KeyCreatedAt] = b.now().UTC().Format(time.RFC3339)
	}

	names, params, err := bind(table, row)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (:%s)`,
		table, strings.Join(names, ", "), strings.Join(names, ", :"))
	if _, err := b.DB.NamedExecContext(ctx, query, params); err != nil {
		return nil, classify(table, err)
	}
	return b.get(ctx, table, row.ID(), "")
}

func (b *Backend) Update(ctx context.Context, table record.Table, id, tenantID string, fields record.Record) (record.Record, error) {
	names, params, err := bind(table, fields.Without(record.KeyID, record.KeyTenantID))
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return b.get(ctx, table, id, tenantID)
	}

	sets := make([]string, len(names))
	for i, n := range names {
		sets[i] = fmt.Sprintf("%s = :%s", n, n)
	}
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = :where_id`, table, strings.Join(sets, ", "))
	params["where_id"] = id
	if tenantID != "" {
		query += ` AND tenant_id = :where_tenant`
		params["where_tenant"] = tenantID
	}

	res, err := b.DB.NamedExecContext(ctx, query, params)
	if err != nil {
		return nil, classify(table, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, remote.NewError(remote.CodeNotFound, table, "row %s not found", id)
	}
	return b.get(ctx, table, id, tenantID)
}

func (b *Backend) Delete(ctx context.Context, table record.Table, id, tenantID string) error {
	if _, err := tableColumns(table); err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table)
	args := []any{id}
	if tenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, tenantID)
	}
	res, err := b.DB.ExecContext(ctx, b.DB.Rebind(query), args...)
	if err != nil {
		return classify(table, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return remote.NewError(remote.CodeNotFound, table, "row %s not found", id)
	}
	return nil
}

func (b *Backend) Upsert(ctx context.Context, table record.Table, rec record.Record) (record.Record, error) {
	row := rec.Clone()
	if row.ID() == "" {
		row[record.KeyID] = record.NewID()
	}
	names, params, err := bind(table, row)
	if err != nil {
		return nil, err
	}

	var sets []string
	for _, n := range names {
		if n != record.KeyID {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", n, n))
		}
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (:%s)`,
		table, strings.Join(names, ", "), strings.Join(names, ", :"))
	if len(sets) > 0 {
		query += ` ON CONFLICT (id) DO UPDATE SET ` + strings.Join(sets, ", ")
	} else {
		query += ` ON CONFLICT (id) DO NOTHING`
	}
	if _, err := b.DB.NamedExecContext(ctx, query, params); err != nil {
		return nil, classify(table, err)
	}
	return b.get(ctx, table, row.ID(), "")
}

// AdjustStock applies delta in one conditional UPDATE, so concurrent callers
// can never drive quantity below zero.
func (b *Backend) AdjustStock(ctx context.Context, productID string, delta int64, tenantID string) (int64, error) {
	query := b.DB.Rebind(`
		UPDATE products
		SET quantity = quantity + ?
		WHERE id = ? AND tenant_id = ? AND quantity + ? >= 0
		RETURNING quantity
	`)
	var quantity int64
	err := b.DB.QueryRowxContext(ctx, query, delta, productID, tenantID, delta).Scan(&quantity)
	if err == nil {
		return quantity, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, classify(record.Products, err)
	}

	var current int64
	err = b.DB.GetContext(ctx, &current,
		b.DB.Rebind(`SELECT quantity FROM products WHERE id = ? AND tenant_id = ?`), productID, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, remote.NewError(remote.CodeNotFound, record.Products, "product %s not found", productID)
	}
	if err != nil {
		return 0, classify(record.Products, err)
	}
	return 0, remote.NewError(remote.CodeInsufficientStock, record.Products,
		"product %s has %d, cannot apply %d", productID, current, delta)
}

func (b *Backend) Ping(ctx context.Context) error {
	if err := b.DB.PingContext(ctx); err != nil {
		return remote.Unavailable("", err)
	}
	return nil
}

func (b *Backend) get(ctx context.Context, table record.Table, id, tenantID string) (record.Record, error) {
	cols, err := tableColumns(table)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, columnList(cols), table)
	args := []any{id}
	if tenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, tenantID)
	}
	rows, err := b.DB.QueryxContext(ctx, b.DB.Rebind(query), args...)
	if err != nil {
		return nil, classify(table, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, classify(table, err)
		}
		return nil, remote.NewError(remote.CodeNotFound, table, "row %s not found", id)
	}
	return scanRecord(rows, cols)
}

func tableColumns(table record.Table) ([]column, error) {
	cols, ok := columns[table]
	if !ok {
		return nil, remote.NewError(remote.CodeRejected, table, "unknown table")
	}
	return cols, nil
}

func columnList(cols []column) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	return strings.Join(names, ", ")
}

// bind maps rec onto table's columns. Keys are sorted for stable SQL text.
// An unknown key is a REJECTED error: the remote schema is authoritative.
func bind(table record.Table, rec record.Record) ([]string, map[string]any, error) {
	if _, err := tableColumns(table); err != nil {
		return nil, nil, err
	}
	names := make([]string, 0, len(rec))
	params := make(map[string]any, len(rec))
	for k := range rec {
		c, ok := lookupColumn(table, k)
		if !ok {
			return nil, nil, remote.NewError(remote.CodeRejected, table, "unknown column %q", k)
		}
		v, err := c.toParam(rec)
		if err != nil {
			return nil, nil, &remote.Error{Code: remote.CodeRejected, Table: table, Message: err.Error(), Err: err}
		}
		names = append(names, k)
		params[k] = v
	}
	sort.Strings(names)
	return names, params, nil
}

func scanRecord(rows *sqlx.Rows, cols []column) (record.Record, error) {
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	rec := make(record.Record, len(cols))
	for i, c := range cols {
		v, err := c.fromScan(values[i])
		if err != nil {
			return nil, err
		}
		if v != nil {
			rec[c.name] = v
		}
	}
	return rec, nil
}

// classify converts driver errors into remote errors.
func classify(table record.Table, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return &remote.Error{Code: remote.CodeDuplicate, Table: table, Message: pqErr.Message, Err: err}
		case "23514", "23502", "22P02":
			return &remote.Error{Code: remote.CodeRejected, Table: table, Message: pqErr.Message, Err: err}
		}
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) && liteErr.Code == sqlite3.ErrConstraint {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
			return &remote.Error{Code: remote.CodeDuplicate, Table: table, Message: liteErr.Error(), Err: err}
		default:
			return &remote.Error{Code: remote.CodeRejected, Table: table, Message: liteErr.Error(), Err: err}
		}
	}
	if remote.IsTransient(err) {
		return remote.Unavailable(table, err)
	}
	return fmt.Errorf("%s: %w", table, err)
}

func stripComments(stmt string) string {
	var b strings.Builder
	for _, line := range strings.Split(stmt, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}
