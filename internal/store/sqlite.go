package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/market-brief/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Dates are stored
// as YYYY-MM-DD text and timestamps as RFC 3339 text.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per connection; a single connection keeps them in force
	// and serializes writers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS market_analyses (
	id            TEXT PRIMARY KEY,
	market        TEXT NOT NULL,
	analysis_type TEXT NOT NULL,
	analysis_date TEXT NOT NULL,
	content       TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	UNIQUE (market, analysis_type, analysis_date)
);

CREATE TABLE IF NOT EXISTS market_daily_prices (
	market       TEXT NOT NULL,
	trade_date   TEXT NOT NULL,
	open         REAL NOT NULL,
	high         REAL NOT NULL,
	low          REAL NOT NULL,
	close        REAL NOT NULL,
	volume       INTEGER,
	front_month  REAL,
	second_month REAL,
	updated_at   TEXT NOT NULL,
	PRIMARY KEY (market, trade_date)
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatTS(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	return t, eris.Wrapf(err, "sqlite: parse timestamp %q", s)
}

func (s *SQLiteStore) GetAnalysis(ctx context.Context, key model.AnalysisKey) (*model.Record, error) {
	var (
		rec                  = model.Record{Key: key}
		content              string
		createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, content, created_at, updated_at FROM market_analyses
		 WHERE market = ? AND analysis_type = ? AND analysis_date = ?`,
		string(key.Market), string(key.Type), key.DateString(),
	).Scan(&rec.ID, &content, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get analysis %s", key)
	}
	if rec.CreatedAt, err = parseTS(createdAt); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTS(updatedAt); err != nil {
		return nil, err
	}
	rec.Content = json.RawMessage(content)
	return &rec, nil
}

func (s *SQLiteStore) UpsertAnalysis(ctx context.Context, key model.AnalysisKey, content json.RawMessage) (*model.Record, error) {
	if !json.Valid(content) {
		return nil, eris.Errorf("sqlite: upsert analysis %s: content is not valid JSON", key)
	}
	now := formatTS(time.Now())
	var (
		rec                  = model.Record{Key: key, Content: content}
		createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO market_analyses (id, market, analysis_type, analysis_date, content, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (market, analysis_type, analysis_date)
		 DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at
		 RETURNING id, created_at, updated_at`,
		uuid.New().String(), string(key.Market), string(key.Type), key.DateString(), string(content), now, now,
	).Scan(&rec.ID, &createdAt, &updatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert analysis %s", key)
	}
	if rec.CreatedAt, err = parseTS(createdAt); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTS(updatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLiteStore) RecentPrices(ctx context.Context, market model.Market, end time.Time, limit int) ([]model.DailyPrice, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT trade_date, open, high, low, close, volume, front_month, second_month
		 FROM market_daily_prices
		 WHERE market = ? AND trade_date <= ?
		 ORDER BY trade_date DESC LIMIT ?`,
		string(market), model.Date(end).Format(model.DateLayout), limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: recent prices %s", market)
	}
	defer rows.Close()

	var out []model.DailyPrice
	for rows.Next() {
		var (
			p         = model.DailyPrice{Market: market}
			tradeDate string
			volume    sql.NullInt64
			front     sql.NullFloat64
			second    sql.NullFloat64
		)
		if err := rows.Scan(&tradeDate, &p.Open, &p.High, &p.Low, &p.Close, &volume, &front, &second); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan price row")
		}
		if p.TradeDate, err = model.ParseDate(tradeDate); err != nil {
			return nil, err
		}
		if volume.Valid {
			p.Volume = &volume.Int64
		}
		if front.Valid {
			p.FrontMonth = &front.Float64
		}
		if second.Valid {
			p.SecondMonth = &second.Float64
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate prices")
	}
	slices.Reverse(out)
	return out, nil
}

func (s *SQLiteStore) UpsertPrices(ctx context.Context, prices []model.DailyPrice) (int64, error) {
	if len(prices) == 0 {
		return 0, nil
	}
	prices = dedupePrices(prices)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO market_daily_prices
		 (market, trade_date, open, high, low, close, volume, front_month, second_month, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (market, trade_date) DO UPDATE SET
		   open = excluded.open, high = excluded.high, low = excluded.low, close = excluded.close,
		   volume = excluded.volume, front_month = excluded.front_month,
		   second_month = excluded.second_month, updated_at = excluded.updated_at`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare price upsert")
	}
	defer stmt.Close()

	now := formatTS(time.Now())
	var n int64
	for _, p := range prices {
		res, err := stmt.ExecContext(ctx,
			string(p.Market), model.Date(p.TradeDate).Format(model.DateLayout),
			p.Open, p.High, p.Low, p.Close, p.Volume, p.FrontMonth, p.SecondMonth, now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert price %s %s", p.Market, p.TradeDate.Format(model.DateLayout))
		}
		affected, _ := res.RowsAffected()
		n += affected
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit prices")
	}
	return n, nil
}
