package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/market-brief/internal/db"
	"github.com/sells-group/market-brief/internal/model"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationLockID serializes concurrent Migrate calls across processes.
const migrationLockID = 4206901

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres connects a PostgresStore.
func NewPostgres(ctx context.Context, connString string, opts db.PoolOptions) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, opts)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Migrate applies pending migrations in filename order under an advisory lock.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "postgres: acquire migration lock")
	}
	defer func() {
		if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			log.Warn("postgres: release migration lock", zap.Error(err))
		}
	}()

	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename   TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return eris.Wrap(err, "postgres: ensure migration table")
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return eris.Wrap(err, "postgres: read migrations")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	slices.Sort(names)

	for _, name := range names {
		if applied[name] {
			continue
		}
		sql, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return eris.Wrapf(err, "postgres: read migration %s", name)
		}
		if _, err := s.pool.Exec(ctx, string(sql)); err != nil {
			return eris.Wrapf(err, "postgres: apply migration %s", name)
		}
		if _, err := s.pool.Exec(ctx, "INSERT INTO schema_migrations (filename) VALUES ($1)", name); err != nil {
			return eris.Wrapf(err, "postgres: record migration %s", name)
		}
		log.Info("migration applied", zap.String("file", name))
	}
	return nil
}

func (s *PostgresStore) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, "SELECT filename FROM schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan migration row")
		}
		applied[name] = true
	}
	return applied, eris.Wrap(rows.Err(), "postgres: iterate migrations")
}

func (s *PostgresStore) GetAnalysis(ctx context.Context, key model.AnalysisKey) (*model.Record, error) {
	rec := model.Record{Key: key}
	var content []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, content, created_at, updated_at FROM market_analyses
		 WHERE market = $1 AND analysis_type = $2 AND analysis_date = $3`,
		string(key.Market), string(key.Type), key.Date,
	).Scan(&rec.ID, &content, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get analysis %s", key)
	}
	rec.Content = content
	return &rec, nil
}

func (s *PostgresStore) UpsertAnalysis(ctx context.Context, key model.AnalysisKey, content json.RawMessage) (*model.Record, error) {
	if !json.Valid(content) {
		return nil, eris.Errorf("postgres: upsert analysis %s: content is not valid JSON", key)
	}
	now := time.Now().UTC()
	rec := model.Record{Key: key, Content: content}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO market_analyses (id, market, analysis_type, analysis_date, content, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)
		 ON CONFLICT (market, analysis_type, analysis_date)
		 DO UPDATE SET content = EXCLUDED.content, updated_at = EXCLUDED.updated_at
		 RETURNING id, created_at, updated_at`,
		uuid.New().String(), string(key.Market), string(key.Type), key.Date, []byte(content), now,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert analysis %s", key)
	}
	return &rec, nil
}

func (s *PostgresStore) RecentPrices(ctx context.Context, market model.Market, end time.Time, limit int) ([]model.DailyPrice, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT trade_date, open, high, low, close, volume, front_month, second_month
		 FROM market_daily_prices
		 WHERE market = $1 AND trade_date <= $2
		 ORDER BY trade_date DESC LIMIT $3`,
		string(market), model.Date(end), limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: recent prices %s", market)
	}
	defer rows.Close()

	var out []model.DailyPrice
	for rows.Next() {
		p := model.DailyPrice{Market: market}
		if err := rows.Scan(&p.TradeDate, &p.Open, &p.High, &p.Low, &p.Close, &p.Volume, &p.FrontMonth, &p.SecondMonth); err != nil {
			return nil, eris.Wrap(err, "postgres: scan price row")
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate prices")
	}
	slices.Reverse(out)
	return out, nil
}

var priceUpsert = db.UpsertSpec{
	Table: "market_daily_prices",
	Columns: []string{
		"market", "trade_date", "open", "high", "low", "close",
		"volume", "front_month", "second_month", "updated_at",
	},
	ConflictKeys: []string{"market", "trade_date"},
}

func (s *PostgresStore) UpsertPrices(ctx context.Context, prices []model.DailyPrice) (int64, error) {
	prices = dedupePrices(prices)
	now := time.Now().UTC()
	rows := make([][]any, len(prices))
	for i, p := range prices {
		rows[i] = []any{
			string(p.Market), model.Date(p.TradeDate), p.Open, p.High, p.Low, p.Close,
			p.Volume, p.FrontMonth, p.SecondMonth, now,
		}
	}
	n, err := db.BulkUpsert(ctx, s.pool, priceUpsert, rows)
	return n, eris.Wrap(err, "postgres: upsert prices")
}
