package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Stage collects inventory rows per table and writes them in a single
// transaction: each table's rows are COPYed into a scratch table, then
// merged into the inventory by key. Rows whose columns are unchanged are
// left alone, so the touch column only moves when a barrier actually
// changes between imports.
type Stage struct {
	key     string
	columns []string
	touch   string

	rows   map[string][][]any
	tables []string
}

// StageOption configures a Stage.
type StageOption func(*Stage)

// WithTouch sets a timestamp column stamped with now() on every inserted or
// changed row.
func WithTouch(col string) StageOption {
	return func(s *Stage) { s.touch = col }
}

// NewStage creates a Stage for rows laid out as columns and keyed by key.
func NewStage(key string, columns []string, opts ...StageOption) (*Stage, error) {
	if len(columns) == 0 {
		return nil, eris.New("db: stage: no columns")
	}
	found := false
	for _, c := range columns {
		if c == key {
			found = true
		}
	}
	if !found {
		return nil, eris.Errorf("db: stage: key %q is not a column", key)
	}
	s := &Stage{key: key, columns: columns, rows: make(map[string][][]any)}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Add queues row for table. Tables flush in the order they were first added.
func (s *Stage) Add(table string, row []any) error {
	if len(row) != len(s.columns) {
		return eris.Errorf("db: stage: %s row has %d values, want %d", table, len(row), len(s.columns))
	}
	if _, ok := s.rows[table]; !ok {
		s.tables = append(s.tables, table)
	}
	s.rows[table] = append(s.rows[table], row)
	return nil
}

// Len returns the number of queued rows.
func (s *Stage) Len() int {
	n := 0
	for _, rows := range s.rows {
		n += len(rows)
	}
	return n
}

// Flush writes every queued row and returns the number of rows inserted or
// changed per table. Nothing is written unless every table merges. The
// queue is cleared on success.
func (s *Stage) Flush(ctx context.Context, pool Pool) (map[string]int64, error) {
	written := make(map[string]int64, len(s.tables))
	if len(s.tables) == 0 {
		return written, nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "db: stage: begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, table := range s.tables {
		n, err := s.merge(ctx, tx, table)
		if err != nil {
			return nil, err
		}
		written[table] = n
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "db: stage: commit tx")
	}

	s.rows = make(map[string][][]any)
	s.tables = nil
	return written, nil
}

func (s *Stage) merge(ctx context.Context, tx pgx.Tx, table string) (int64, error) {
	scratch := scratchTable(table)
	create := fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{scratch}.Sanitize(), qualified(table))
	if _, err := tx.Exec(ctx, create); err != nil {
		return 0, eris.Wrapf(err, "db: stage: create scratch table for %s", table)
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{scratch}, s.columns, pgx.CopyFromRows(s.rows[table])); err != nil {
		return 0, eris.Wrapf(err, "db: stage: copy into %s", table)
	}
	tag, err := tx.Exec(ctx, s.mergeSQL(table))
	if err != nil {
		return 0, eris.Wrapf(err, "db: stage: merge into %s", table)
	}
	return tag.RowsAffected(), nil
}

// mergeSQL renders the INSERT ... ON CONFLICT statement moving the scratch
// rows of table into it.
func (s *Stage) mergeSQL(table string) string {
	var insert, sel, set, cur, next []string
	for _, c := range s.columns {
		col := pgx.Identifier{c}.Sanitize()
		insert = append(insert, col)
		sel = append(sel, col)
		if c == s.key {
			continue
		}
		set = append(set, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		cur = append(cur, "cur."+col)
		next = append(next, "EXCLUDED."+col)
	}
	if s.touch != "" {
		col := pgx.Identifier{s.touch}.Sanitize()
		insert = append(insert, col)
		sel = append(sel, "now()")
		set = append(set, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}

	stmt := fmt.Sprintf("INSERT INTO %s AS cur (%s) SELECT %s FROM %s ON CONFLICT (%s)",
		qualified(table),
		strings.Join(insert, ", "),
		strings.Join(sel, ", "),
		pgx.Identifier{scratchTable(table)}.Sanitize(),
		pgx.Identifier{s.key}.Sanitize(),
	)
	if len(cur) == 0 {
		return stmt + " DO NOTHING"
	}
	return fmt.Sprintf("%s DO UPDATE SET %s WHERE (%s) IS DISTINCT FROM (%s)",
		stmt, strings.Join(set, ", "), strings.Join(cur, ", "), strings.Join(next, ", "))
}

// scratchTable names the per-transaction copy of table.
func scratchTable(table string) string {
	return "_stage_" + strings.ReplaceAll(table, ".", "_")
}

// qualified quotes a possibly schema-qualified table name.
func qualified(table string) string {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}
