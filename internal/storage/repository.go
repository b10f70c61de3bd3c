// Package storage implements the persistence gateway over a relational
// database. SQLite serves single-machine installs and tests, Postgres the
// hosted deployment. Both share one set of queries written with "?"
// placeholders.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"offertory/internal/core"
	"offertory/internal/gateway"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

func (d Dialect) driverName() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite"
}

// Repository is the SQL implementation of gateway.Gateway.
type Repository struct {
	db      *sql.DB
	dialect Dialect
}

var _ gateway.Gateway = (*Repository)(nil)

// OpenSQLite opens (creating if needed) the database file and migrates it.
func OpenSQLite(ctx context.Context, dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	repo, err := open(ctx, DialectSQLite, dsn)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer.
	repo.db.SetMaxOpenConns(1)
	return repo, nil
}

// OpenPostgres connects through the pgx stdlib driver and migrates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Repository, error) {
	repo, err := open(ctx, DialectPostgres, dsn)
	if err != nil {
		return nil, err
	}
	repo.db.SetMaxOpenConns(10)
	repo.db.SetConnMaxIdleTime(5 * time.Minute)
	return repo, nil
}

func open(ctx context.Context, dialect Dialect, dsn string) (*Repository, error) {
	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dialect, dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	slog.InfoContext(ctx, "Database ready", "dialect", string(dialect))
	return &Repository{db: db, dialect: dialect}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// rebind rewrites "?" placeholders into "$n" for Postgres.
func (r *Repository) rebind(query string) string {
	return rebind(r.dialect, query)
}

func rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func parseID(id string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func affected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// Donors

const donorColumns = `id, name, english_name, member_no, phone, email, address, memo, is_active`

func (r *Repository) ListDonors(ctx context.Context) ([]core.Donor, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+donorColumns+` FROM members WHERE is_active ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list donors: %w", err)
	}
	defer rows.Close()

	var out []core.Donor
	for rows.Next() {
		var (
			d  core.Donor
			id int64
		)
		if err := rows.Scan(&id, &d.Name, &d.EnglishName, &d.OfferingNumber, &d.Phone, &d.Email, &d.Address, &d.Note, &d.Active); err != nil {
			return nil, fmt.Errorf("scan donor: %w", err)
		}
		d.ID = formatID(id)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *Repository) UpsertDonor(ctx context.Context, d core.Donor) (core.Donor, error) {
	if err := d.Validate(); err != nil {
		return core.Donor{}, err
	}
	d.Name = strings.TrimSpace(d.Name)
	d.OfferingNumber = strings.TrimSpace(d.OfferingNumber)
	d.Active = true

	if d.ID == "" {
		var id int64
		err := r.db.QueryRowContext(ctx, r.rebind(`INSERT INTO members
			(name, english_name, member_no, phone, email, address, memo, is_active)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
			d.Name, d.EnglishName, d.OfferingNumber, d.Phone, d.Email, d.Address, d.Note, d.Active,
		).Scan(&id)
		if err != nil {
			return core.Donor{}, fmt.Errorf("create donor: %w", err)
		}
		d.ID = formatID(id)
		slog.InfoContext(ctx, "Donor created", "id", d.ID, "offering_number", d.OfferingNumber)
		return d, nil
	}

	id, ok := parseID(d.ID)
	if !ok {
		return core.Donor{}, core.ErrNotFound
	}
	res, err := r.db.ExecContext(ctx, r.rebind(`UPDATE members SET
		name = ?, english_name = ?, member_no = ?, phone = ?, email = ?, address = ?, memo = ?, is_active = ?
		WHERE id = ?`),
		d.Name, d.EnglishName, d.OfferingNumber, d.Phone, d.Email, d.Address, d.Note, d.Active, id)
	if err != nil {
		return core.Donor{}, fmt.Errorf("update donor %s: %w", d.ID, err)
	}
	if err := affected(res, "update donor"); err != nil {
		return core.Donor{}, err
	}
	return d, nil
}

func (r *Repository) DeactivateDonor(ctx context.Context, id string) error {
	n, ok := parseID(id)
	if !ok {
		return core.ErrNotFound
	}
	res, err := r.db.ExecContext(ctx, r.rebind(`UPDATE members SET is_active = ? WHERE id = ?`), false, n)
	if err != nil {
		return fmt.Errorf("deactivate donor %s: %w", id, err)
	}
	return affected(res, "deactivate donor")
}

// Offering types

func (r *Repository) ListOfferingTypes(ctx context.Context) ([]core.OfferingType, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT code, name, category, description, is_active
		FROM codes WHERE is_active ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("list offering types: %w", err)
	}
	defer rows.Close()

	var out []core.OfferingType
	for rows.Next() {
		var t core.OfferingType
		if err := rows.Scan(&t.Code, &t.Label, &t.Category, &t.Description, &t.Active); err != nil {
			return nil, fmt.Errorf("scan offering type: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repository) UpsertOfferingType(ctx context.Context, t core.OfferingType) (core.OfferingType, error) {
	if err := t.Validate(); err != nil {
		return core.OfferingType{}, err
	}
	t.Code = core.NormalizeCode(t.Code)
	t.Label = strings.TrimSpace(t.Label)
	t.Active = true

	_, err := r.db.ExecContext(ctx, r.rebind(`INSERT INTO codes (code, name, category, description, is_active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (code) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			description = excluded.description,
			is_active = excluded.is_active`),
		t.Code, t.Label, t.Category, t.Description, t.Active)
	if err != nil {
		return core.OfferingType{}, fmt.Errorf("upsert offering type %s: %w", t.Code, err)
	}
	return t, nil
}

// Records

const recordColumns = `id, year, month, day, member_id, member_name, member_no, code, code_name, amount_cents, note`

func (r *Repository) ListRecords(ctx context.Context, f gateway.RecordFilter) ([]core.OfferingRecord, error) {
	var (
		where []string
		args  []any
	)
	if len(f.IDs) > 0 {
		marks := make([]string, 0, len(f.IDs))
		for _, id := range f.IDs {
			if n, ok := parseID(id); ok {
				marks = append(marks, "?")
				args = append(args, n)
			}
		}
		if len(marks) == 0 {
			return nil, nil
		}
		where = append(where, "id IN ("+strings.Join(marks, ", ")+")")
	} else {
		if f.Year != 0 {
			where = append(where, "year = ?")
			args = append(args, f.Year)
		}
		if f.Month != 0 {
			where = append(where, "month = ?")
			args = append(args, f.Month)
		}
	}

	query := `SELECT ` + recordColumns + ` FROM donations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY donate_at DESC, id DESC"

	limit := f.Limit
	if limit == 0 && len(f.IDs) == 0 {
		limit = gateway.DefaultRecordLimit
	}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []core.OfferingRecord
	for rows.Next() {
		var (
			rec             core.OfferingRecord
			id              int64
			year, month, dd int
			memberID        sql.NullInt64
		)
		if err := rows.Scan(&id, &year, &month, &dd, &memberID, &rec.DonorName, &rec.OfferingNumber,
			&rec.Code, &rec.CodeLabel, &rec.Amount.Cents, &rec.Note); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.ID = formatID(id)
		rec.Date = core.NewDate(year, month, dd)
		if memberID.Valid {
			rec.DonorID = formatID(memberID.Int64)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Repository) InsertRecords(ctx context.Context, records []core.OfferingRecord) ([]string, error) {
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return nil, err
		}
	}
	if len(records) == 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	labels, err := codeLabels(ctx, tx)
	if err != nil {
		return nil, err
	}

	stmt, err := tx.PrepareContext(ctx, r.rebind(`INSERT INTO donations
		(donate_at, year, month, day, member_id, member_name, member_no, code, code_name, amount_cents, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`))
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	ids := make([]string, 0, len(records))
	for i, rec := range records {
		code := core.NormalizeCode(rec.Code)
		label := rec.CodeLabel
		if label == "" {
			label = labels[code]
		}
		var id int64
		err := stmt.QueryRowContext(ctx, recordArgs(rec, code, label)...).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("insert record %d: %w", i, err)
		}
		ids = append(ids, formatID(id))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit insert: %w", err)
	}

	slog.InfoContext(ctx, "Offering records saved",
		"count", len(ids),
		"dialect", string(r.dialect))
	return ids, nil
}

func (r *Repository) UpdateRecord(ctx context.Context, rec core.OfferingRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	id, ok := parseID(rec.ID)
	if !ok {
		return core.ErrNotFound
	}

	code := core.NormalizeCode(rec.Code)
	label := rec.CodeLabel
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT name FROM codes WHERE code = ?`), code).Scan(&label)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("lookup code %s: %w", code, err)
	}

	args := append(recordArgs(rec, code, label), id)
	res, err := r.db.ExecContext(ctx, r.rebind(`UPDATE donations SET
		donate_at = ?, year = ?, month = ?, day = ?, member_id = ?, member_name = ?,
		member_no = ?, code = ?, code_name = ?, amount_cents = ?, note = ?
		WHERE id = ?`), args...)
	if err != nil {
		return fmt.Errorf("update record %s: %w", rec.ID, err)
	}
	return affected(res, "update record")
}

func (r *Repository) DeleteRecord(ctx context.Context, id string) error {
	n, ok := parseID(id)
	if !ok {
		return core.ErrNotFound
	}
	res, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM donations WHERE id = ?`), n)
	if err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	return affected(res, "delete record")
}

func recordArgs(rec core.OfferingRecord, code, label string) []any {
	var memberID sql.NullInt64
	if n, ok := parseID(rec.DonorID); ok {
		memberID = sql.NullInt64{Int64: n, Valid: true}
	}
	name := strings.TrimSpace(rec.DonorName)
	if name == "" {
		name = core.AnonymousName
	}
	return []any{
		rec.Date.String(), rec.Date.Year(), rec.Date.Month(), rec.Date.Day(),
		memberID, name, strings.TrimSpace(rec.OfferingNumber),
		code, label, rec.Amount.Cents, rec.Note,
	}
}

func codeLabels(ctx context.Context, tx *sql.Tx) (map[string]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT code, name FROM codes`)
	if err != nil {
		return nil, fmt.Errorf("load code labels: %w", err)
	}
	defer rows.Close()
	labels := make(map[string]string)
	for rows.Next() {
		var code, name string
		if err := rows.Scan(&code, &name); err != nil {
			return nil, fmt.Errorf("scan code label: %w", err)
		}
		labels[code] = name
	}
	return labels, rows.Err()
}

// Budgets

func (r *Repository) ListBudgets(ctx context.Context, year int) ([]core.BudgetRecord, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`SELECT year, code, amount_cents, note
		FROM budgets WHERE year = ? ORDER BY code`), year)
	if err != nil {
		return nil, fmt.Errorf("list budgets %d: %w", year, err)
	}
	defer rows.Close()

	var out []core.BudgetRecord
	for rows.Next() {
		var b core.BudgetRecord
		if err := rows.Scan(&b.Year, &b.Code, &b.Amount.Cents, &b.Note); err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *Repository) UpsertBudget(ctx context.Context, b core.BudgetRecord) error {
	if err := b.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, r.rebind(`INSERT INTO budgets (year, code, amount_cents, note)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (year, code) DO UPDATE SET amount_cents = excluded.amount_cents, note = excluded.note`),
		b.Year, core.NormalizeCode(b.Code), b.Amount.Cents, b.Note)
	if err != nil {
		return fmt.Errorf("upsert budget %d/%s: %w", b.Year, b.Code, err)
	}
	return nil
}

// Settings

func (r *Repository) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT value FROM system_settings WHERE key = ?`), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read setting %s: %w", key, err)
	}
	return value, true, nil
}

func (r *Repository) SetSetting(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, r.rebind(`INSERT INTO system_settings (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`),
		key, value)
	if err != nil {
		return fmt.Errorf("write setting %s: %w", key, err)
	}
	return nil
}

// Statistics views

func (r *Repository) MonthlyTotals(ctx context.Context, year int) ([]core.MonthTotal, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`SELECT month, total_cents
		FROM donation_monthly WHERE year = ? ORDER BY month`), year)
	if err != nil {
		return nil, fmt.Errorf("monthly totals %d: %w", year, err)
	}
	defer rows.Close()

	var out []core.MonthTotal
	for rows.Next() {
		var mt core.MonthTotal
		if err := rows.Scan(&mt.Month, &mt.Total.Cents); err != nil {
			return nil, fmt.Errorf("scan monthly total: %w", err)
		}
		out = append(out, mt)
	}
	return out, rows.Err()
}

func (r *Repository) MonthlyTotalsByDonor(ctx context.Context, offeringNumber string) ([]core.DonorDayTotal, error) {
	offeringNumber = strings.TrimSpace(offeringNumber)
	if offeringNumber == "" {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, r.rebind(`SELECT year, month, day, code, total_cents
		FROM donation_monthly_by_member WHERE member_no = ?
		ORDER BY year, month, day, code`), offeringNumber)
	if err != nil {
		return nil, fmt.Errorf("donor totals %s: %w", offeringNumber, err)
	}
	defer rows.Close()

	var out []core.DonorDayTotal
	for rows.Next() {
		var dt core.DonorDayTotal
		if err := rows.Scan(&dt.Year, &dt.Month, &dt.Day, &dt.Code, &dt.Total.Cents); err != nil {
			return nil, fmt.Errorf("scan donor total: %w", err)
		}
		out = append(out, dt)
	}
	return out, rows.Err()
}
