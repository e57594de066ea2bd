package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/barrier-explorer/internal/barrier"
)

// SQLiteStore implements Store using modernc.org/sqlite. It has no spatial
// column; coordinates live in lat/lon.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func sqliteMigration() string {
	var b strings.Builder
	for _, t := range storedTypes {
		fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", t)
		b.WriteString("\tid         TEXT PRIMARY KEY,\n")
		b.WriteString("\tlat        REAL NOT NULL,\n")
		b.WriteString("\tlon        REAL NOT NULL,\n")
		for _, col := range unitColumns {
			fmt.Fprintf(&b, "\t%-10s TEXT,\n", col)
		}
		for _, col := range packedColumns {
			fmt.Fprintf(&b, "\t%-10s INTEGER,\n", col)
		}
		b.WriteString("\tproperties TEXT NOT NULL DEFAULT '{}',\n")
		b.WriteString("\tupdated_at DATETIME NOT NULL DEFAULT (datetime('now'))\n);\n")
		for _, col := range unitColumns {
			fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s);\n", t, col, t, col)
		}
	}
	return b.String()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration())
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) listQuery(t barrier.Type, units []barrier.UnitSelection) (string, []any) {
	var args []any
	where := unitFilter(units, func(col string, ids []string) string {
		marks := make([]string, len(ids))
		for i, id := range ids {
			marks[i] = "?"
			args = append(args, id)
		}
		return fmt.Sprintf("%s IN (%s)", col, strings.Join(marks, ", "))
	})
	return fmt.Sprintf("SELECT %s FROM %s%s ORDER BY id", selectList(), t, where), args
}

func (s *SQLiteStore) ListBarriers(ctx context.Context, t barrier.Type, units []barrier.UnitSelection) ([]barrier.RawRecord, error) {
	var records []barrier.RawRecord
	for _, src := range t.Sources() {
		query, args := s.listQuery(src, units)
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: list %s", src)
		}
		for rows.Next() {
			rec, err := scanBarrier(rows, src)
			if err != nil {
				_ = rows.Close()
				return nil, err
			}
			records = append(records, rec)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, eris.Wrapf(err, "sqlite: iterate %s", src)
		}
		_ = rows.Close()
	}
	return records, nil
}

// UpsertBarriers writes every record in a single transaction.
func (s *SQLiteStore) UpsertBarriers(ctx context.Context, records []barrier.RawRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	cols := barrierColumns()
	stmts := make(map[barrier.Type]*sql.Stmt, len(storedTypes))
	for _, t := range storedTypes {
		stmt, err := tx.PrepareContext(ctx, sqliteUpsert(t, cols))
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: prepare upsert %s", t)
		}
		defer func() { _ = stmt.Close() }()
		stmts[t] = stmt
	}

	var total int64
	for _, rec := range records {
		stmt, ok := stmts[rec.Type]
		if !ok {
			return 0, eris.Errorf("sqlite: cannot store %s record %s", rec.Type, rec.ID)
		}
		row, err := barrierRow(rec)
		if err != nil {
			return 0, err
		}
		// properties is a TEXT column.
		row[len(row)-1] = string(row[len(row)-1].([]byte))
		res, err := stmt.ExecContext(ctx, row...)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert %s", rec.ID)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit")
	}
	return total, nil
}

func sqliteUpsert(t barrier.Type, cols []string) string {
	marks := make([]string, len(cols))
	var sets []string
	for i, c := range cols {
		marks[i] = "?"
		if c != "id" {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}
	sets = append(sets, "updated_at = datetime('now')")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(id) DO UPDATE SET %s",
		t, strings.Join(cols, ", "), strings.Join(marks, ", "), strings.Join(sets, ", "))
}

func (s *SQLiteStore) CountBarriers(ctx context.Context, t barrier.Type) (int64, error) {
	var total int64
	for _, src := range t.Sources() {
		var n int64
		if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM "+string(src)).Scan(&n); err != nil {
			return 0, eris.Wrapf(err, "sqlite: count %s", src)
		}
		total += n
	}
	return total, nil
}
