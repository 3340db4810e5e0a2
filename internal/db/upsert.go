package db

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertSpec describes a keyed bulk write.
type UpsertSpec struct {
	Table        string   // target table, optionally schema-qualified
	Columns      []string // columns in row order
	ConflictKeys []string // columns of the unique constraint
	UpdateCols   []string // columns overwritten on conflict; nil = all non-key columns
}

func (s UpsertSpec) validate() error {
	if s.Table == "" {
		return eris.New("db: upsert: no table specified")
	}
	if len(s.Columns) == 0 {
		return eris.New("db: upsert: no columns specified")
	}
	if len(s.ConflictKeys) == 0 {
		return eris.New("db: upsert: no conflict keys specified")
	}
	for _, k := range s.ConflictKeys {
		if !slices.Contains(s.Columns, k) {
			return eris.Errorf("db: upsert: conflict key %q not in columns", k)
		}
	}
	return nil
}

func (s UpsertSpec) updateCols() []string {
	if s.UpdateCols != nil {
		return s.UpdateCols
	}
	var out []string
	for _, c := range s.Columns {
		if !slices.Contains(s.ConflictKeys, c) {
			out = append(out, c)
		}
	}
	return out
}

// tempTable is the per-transaction staging table name for s.
func (s UpsertSpec) tempTable() string {
	return "_stage_" + strings.ReplaceAll(s.Table, ".", "_")
}

// mergeSQL builds the INSERT ... SELECT ... ON CONFLICT statement that moves
// staged rows into the target table.
func (s UpsertSpec) mergeSQL() string {
	cols := quoteAndJoin(s.Columns)
	action := "DO NOTHING"
	if upd := s.updateCols(); len(upd) > 0 {
		sets := make([]string, len(upd))
		for i, c := range upd {
			id := pgx.Identifier{c}.Sanitize()
			sets[i] = fmt.Sprintf("%s = EXCLUDED.%s", id, id)
		}
		action = "DO UPDATE SET " + strings.Join(sets, ", ")
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		sanitizeTable(s.Table), cols, cols,
		pgx.Identifier{s.tempTable()}.Sanitize(),
		quoteAndJoin(s.ConflictKeys), action,
	)
}

// BulkUpsert writes rows in one transaction: COPY into a temp table, then
// merge into the target with ON CONFLICT. Returns rows affected by the merge.
func BulkUpsert(ctx context.Context, pool Pool, spec UpsertSpec, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := spec.validate(); err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{spec.tempTable()}.Sanitize(),
		sanitizeTable(spec.Table),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: create stage table for %s", spec.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{spec.tempTable()}, spec.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: copy into stage table for %s", spec.Table)
	}

	tag, err := tx.Exec(ctx, spec.mergeSQL())
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: merge into %s", spec.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}
	return tag.RowsAffected(), nil
}

// sanitizeTable quotes a possibly schema-qualified table name.
func sanitizeTable(table string) string {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
