package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var priceSpec = UpsertSpec{
	Table:        "market_daily_prices",
	Columns:      []string{"market", "trade_date", "close"},
	ConflictKeys: []string{"market", "trade_date"},
}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, priceSpec, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_InvalidSpec(t *testing.T) {
	tests := []struct {
		name string
		spec UpsertSpec
		want string
	}{
		{"no table", UpsertSpec{Columns: []string{"a"}, ConflictKeys: []string{"a"}}, "no table"},
		{"no columns", UpsertSpec{Table: "t", ConflictKeys: []string{"a"}}, "no columns specified"},
		{"no keys", UpsertSpec{Table: "t", Columns: []string{"a"}}, "no conflict keys specified"},
		{"key not a column", UpsertSpec{Table: "t", Columns: []string{"a"}, ConflictKeys: []string{"b"}}, `conflict key "b"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BulkUpsert(context.Background(), nil, tt.spec, [][]any{{1}})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBulkUpsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_stage_market_daily_prices"}, priceSpec.Columns).WillReturnResult(2)
	mock.ExpectExec("ON CONFLICT").WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, priceSpec, [][]any{
		{"WTI", "2026-02-13", 72.4},
		{"WTI", "2026-02-14", 73.1},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyFails(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_stage_market_daily_prices"}, priceSpec.Columns).WillReturnError(errors.New("copy broke"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, priceSpec, [][]any{{"WTI", "2026-02-13", 72.4}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "copy into stage table")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSpec_MergeSQL(t *testing.T) {
	got := priceSpec.mergeSQL()
	assert.Equal(t,
		`INSERT INTO "market_daily_prices" ("market", "trade_date", "close") SELECT "market", "trade_date", "close" FROM "_stage_market_daily_prices" ON CONFLICT ("market", "trade_date") DO UPDATE SET "close" = EXCLUDED."close"`,
		got)

	keysOnly := UpsertSpec{Table: "t", Columns: []string{"id"}, ConflictKeys: []string{"id"}}
	assert.Contains(t, keysOnly.mergeSQL(), "DO NOTHING")
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"market.daily_prices", `"market"."daily_prices"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"id", "name", "value"`, quoteAndJoin([]string{"id", "name", "value"}))
}
