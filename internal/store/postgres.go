package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/barrier-explorer/internal/barrier"
	"github.com/sells-group/barrier-explorer/internal/config"
	"github.com/sells-group/barrier-explorer/internal/db"
	"github.com/sells-group/barrier-explorer/internal/resilience"
	"github.com/sells-group/barrier-explorer/internal/shapefile"
)

// postgresSchema holds one table per stored barrier type.
const postgresSchema = "barriers"

// PostgresStore implements Store using pgxpool and PostGIS.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool. The first
// ping is retried while the server is unreachable or starting up.
func NewPostgres(ctx context.Context, cfg config.StoreConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if cfg.MaxConns > 0 {
		maxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		minConns = cfg.MinConns
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = min(minConns, maxConns)
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}

	retry := resilience.ConnectConfig(cfg.ConnectAttempts, "postgres connect")
	if err := resilience.Do(ctx, retry, pool.Ping); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func postgresTable(t barrier.Type) string {
	return postgresSchema + "." + string(t)
}

func postgresMigration() string {
	var b strings.Builder
	b.WriteString("CREATE EXTENSION IF NOT EXISTS postgis;\n")
	fmt.Fprintf(&b, "CREATE SCHEMA IF NOT EXISTS %s;\n", postgresSchema)
	for _, t := range storedTypes {
		table := postgresTable(t)
		fmt.Fprintf(&b, "\nCREATE TABLE IF NOT EXISTS %s (\n", table)
		b.WriteString("\tid         TEXT PRIMARY KEY,\n")
		b.WriteString("\tlat        DOUBLE PRECISION NOT NULL,\n")
		b.WriteString("\tlon        DOUBLE PRECISION NOT NULL,\n")
		for _, col := range unitColumns {
			fmt.Fprintf(&b, "\t%-10s TEXT,\n", col)
		}
		for _, col := range packedColumns {
			fmt.Fprintf(&b, "\t%-10s BIGINT,\n", col)
		}
		b.WriteString("\tproperties JSONB NOT NULL DEFAULT '{}',\n")
		b.WriteString("\twkb        BYTEA,\n")
		b.WriteString("\tgeom       geometry(Point, 4326) GENERATED ALWAYS AS (ST_GeomFromEWKB(wkb)) STORED,\n")
		b.WriteString("\tupdated_at TIMESTAMPTZ NOT NULL DEFAULT now()\n);\n")
		for _, col := range unitColumns {
			fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s);\n", t, col, table, col)
		}
		fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS idx_%s_geom ON %s USING GIST (geom);\n", t, table)
	}
	return b.String()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration())
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// listQuery returns the select statement and its arguments for one table.
func (s *PostgresStore) listQuery(t barrier.Type, units []barrier.UnitSelection) (string, []any) {
	var args []any
	where := unitFilter(units, func(col string, ids []string) string {
		args = append(args, ids)
		return fmt.Sprintf("%s = ANY($%d)", col, len(args))
	})
	return fmt.Sprintf("SELECT %s FROM %s%s ORDER BY id", selectList(), postgresTable(t), where), args
}

func (s *PostgresStore) ListBarriers(ctx context.Context, t barrier.Type, units []barrier.UnitSelection) ([]barrier.RawRecord, error) {
	var records []barrier.RawRecord
	for _, src := range t.Sources() {
		query, args := s.listQuery(src, units)
		rows, err := s.pool.Query(ctx, query, args...)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: list %s", src)
		}
		for rows.Next() {
			rec, err := scanBarrier(rows, src)
			if err != nil {
				rows.Close()
				return nil, err
			}
			records = append(records, rec)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, eris.Wrapf(err, "postgres: iterate %s", src)
		}
	}

	zap.L().Debug("postgres: listed barriers",
		zap.String("type", string(t)),
		zap.Int("units", len(units)),
		zap.Int("records", len(records)),
	)
	return records, nil
}

// UpsertBarriers stages records per barrier table and merges them in one
// transaction. The returned count covers inserted and changed rows only.
func (s *PostgresStore) UpsertBarriers(ctx context.Context, records []barrier.RawRecord) (int64, error) {
	stage, err := db.NewStage("id", append(barrierColumns(), "wkb"), db.WithTouch("updated_at"))
	if err != nil {
		return 0, err
	}
	for _, rec := range records {
		if !isStored(rec.Type) {
			return 0, eris.Errorf("postgres: cannot store %s record %s", rec.Type, rec.ID)
		}
		row, err := barrierRow(rec)
		if err != nil {
			return 0, err
		}
		wkb, err := shapefile.EncodePoint(rec.Lon, rec.Lat)
		if err != nil {
			return 0, err
		}
		if err := stage.Add(postgresTable(rec.Type), append(row, wkb)); err != nil {
			return 0, err
		}
	}

	staged := stage.Len()
	written, err := stage.Flush(ctx, s.pool)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert barriers")
	}
	var total int64
	for _, n := range written {
		total += n
	}
	zap.L().Debug("postgres: upserted barriers",
		zap.Int("staged", staged),
		zap.Int64("written", total),
	)
	return total, nil
}

func (s *PostgresStore) CountBarriers(ctx context.Context, t barrier.Type) (int64, error) {
	var total int64
	for _, src := range t.Sources() {
		var n int64
		err := s.pool.QueryRow(ctx, "SELECT count(*) FROM "+postgresTable(src)).Scan(&n)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: count %s", src)
		}
		total += n
	}
	return total, nil
}
