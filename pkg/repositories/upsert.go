package repositories

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/medsearch/pkg/apperrors"
	"github.com/ekaya-inc/medsearch/pkg/database"
)

// Filter maps column names to the value a row must hold. A nil value, or a
// nil pointer, matches SQL NULL.
type Filter map[string]any

// Page bounds a List call. Zero values mean no limit and no offset.
type Page struct {
	Limit  int
	Offset int
}

// Table describes how one entity type maps onto its table.
type Table[T any] struct {
	Name string
	// IDColumn is the surrogate key returned by Upsert and Insert. Empty for
	// association tables keyed only by their columns.
	IDColumn string
	// Columns are the columns read back by Scan, in Scan order.
	Columns []string
	// Values returns the writable columns of an entity.
	Values func(entity *T) map[string]any
	// Scan reads one row selected with Columns.
	Scan func(row pgx.Row) (*T, error)
	// Timestamps is set when the table carries an updated_at column.
	Timestamps bool
}

// Upsert inserts entity if no row matches filter, otherwise overwrites every
// non-filter column of the matching row. It returns the row's identity in
// both cases (0 for tables without IDColumn).
//
// Upsert is a read-then-write: two writers that both miss the SELECT will
// both try to INSERT, and the loser gets a unique violation. Callers that
// write the same key concurrently must serialize those writes themselves.
//
// The statements run inside a savepoint of q, so a failed write leaves any
// enclosing transaction usable. Write failures are returned as
// *apperrors.PersistenceError.
func Upsert[T any](ctx context.Context, q database.Querier, table Table[T], entity *T, filter Filter) (int64, error) {
	values := table.Values(entity)
	if err := validateFilter(filter, func(col string) bool { _, ok := values[col]; return ok }); err != nil {
		return 0, fmt.Errorf("upsert %s: %w", table.Name, err)
	}

	// The row written always satisfies the filter it was looked up by.
	for col, v := range filter {
		values[col] = v
	}

	sp, err := q.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin savepoint for %s: %w", table.Name, err)
	}
	defer func() { _ = sp.Rollback(ctx) }()

	id, found, err := selectForUpdate(ctx, sp, table, filter)
	if err != nil {
		return 0, apperrors.NewPersistenceError(table.Name, "select", err)
	}

	if found {
		if err := updateChanged(ctx, sp, table, filter, values); err != nil {
			return 0, apperrors.NewPersistenceError(table.Name, "update", err)
		}
	} else {
		if id, err = insertRow(ctx, sp, table, values); err != nil {
			return 0, apperrors.NewPersistenceError(table.Name, "insert", err)
		}
	}

	if err := sp.Commit(ctx); err != nil {
		return 0, apperrors.NewPersistenceError(table.Name, "commit", err)
	}
	return id, nil
}

// Insert appends entity as a new row and returns its identity.
func Insert[T any](ctx context.Context, q database.Querier, table Table[T], entity *T) (int64, error) {
	id, err := insertRow(ctx, q, table, table.Values(entity))
	if err != nil {
		return 0, apperrors.NewPersistenceError(table.Name, "insert", err)
	}
	return id, nil
}

// Get returns the first row matching filter, or apperrors.ErrNotFound.
func Get[T any](ctx context.Context, q database.Querier, table Table[T], filter Filter) (*T, error) {
	if err := validateFilter(filter, table.hasColumn); err != nil {
		return nil, fmt.Errorf("get %s: %w", table.Name, err)
	}

	args := &argList{}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s %s LIMIT 1",
		table.columnList(), quote(table.Name), whereClause(filter, args), table.orderBy())

	entity, err := table.Scan(q.QueryRow(ctx, query, args.values...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", table.Name, err)
	}
	return entity, nil
}

// List returns the rows matching filter in identity order. An empty filter
// lists the whole table.
func List[T any](ctx context.Context, q database.Querier, table Table[T], filter Filter, page Page) ([]*T, error) {
	if len(filter) > 0 {
		if err := validateFilter(filter, table.hasColumn); err != nil {
			return nil, fmt.Errorf("list %s: %w", table.Name, err)
		}
	}

	args := &argList{}
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", table.columnList(), quote(table.Name))
	if len(filter) > 0 {
		sb.WriteString(" WHERE " + whereClause(filter, args))
	}
	sb.WriteString(" " + table.orderBy())
	if page.Limit > 0 {
		sb.WriteString(" LIMIT " + args.add(page.Limit))
	}
	if page.Offset > 0 {
		sb.WriteString(" OFFSET " + args.add(page.Offset))
	}

	rows, err := q.Query(ctx, sb.String(), args.values...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table.Name, err)
	}
	defer rows.Close()

	var entities []*T
	for rows.Next() {
		entity, err := table.Scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", table.Name, err)
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", table.Name, err)
	}
	return entities, nil
}

func selectForUpdate[T any](ctx context.Context, q database.Querier, table Table[T], filter Filter) (int64, bool, error) {
	args := &argList{}
	target := "1"
	if table.IDColumn != "" {
		target = quote(table.IDColumn)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s LIMIT 1 FOR UPDATE",
		target, quote(table.Name), whereClause(filter, args))

	var id int64
	err := q.QueryRow(ctx, query, args.values...).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if table.IDColumn == "" {
		id = 0
	}
	return id, true, nil
}

// updateChanged rewrites the non-filter columns of the matching row. Rows
// whose values already match are left untouched so updated_at only moves
// when something changed.
func updateChanged[T any](ctx context.Context, q database.Querier, table Table[T], filter Filter, values map[string]any) error {
	var cols []string
	for _, col := range slices.Sorted(maps.Keys(values)) {
		if _, isKey := filter[col]; !isKey {
			cols = append(cols, col)
		}
	}
	if len(cols) == 0 {
		return nil
	}

	args := &argList{}
	sets := make([]string, 0, len(cols)+1)
	diffs := make([]string, 0, len(cols))
	for _, col := range cols {
		p := args.add(values[col])
		sets = append(sets, fmt.Sprintf("%s = %s", quote(col), p))
		diffs = append(diffs, fmt.Sprintf("%s IS DISTINCT FROM %s", quote(col), p))
	}
	if table.Timestamps {
		sets = append(sets, "updated_at = now()")
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s AND (%s)",
		quote(table.Name), strings.Join(sets, ", "), whereClause(filter, args), strings.Join(diffs, " OR "))

	_, err := q.Exec(ctx, query, args.values...)
	return err
}

func insertRow[T any](ctx context.Context, q database.Querier, table Table[T], values map[string]any) (int64, error) {
	cols := slices.Sorted(maps.Keys(values))
	args := &argList{}
	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = quote(col)
		placeholders[i] = args.add(values[col])
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(table.Name), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))

	if table.IDColumn == "" {
		_, err := q.Exec(ctx, query, args.values...)
		return 0, err
	}

	var id int64
	err := q.QueryRow(ctx, query+" RETURNING "+quote(table.IDColumn), args.values...).Scan(&id)
	return id, err
}

func validateFilter(filter Filter, known func(col string) bool) error {
	if len(filter) == 0 {
		return fmt.Errorf("%w: empty filter", apperrors.ErrInvalidFilter)
	}
	for col := range filter {
		if !known(col) {
			return fmt.Errorf("%w: unknown column %q", apperrors.ErrInvalidFilter, col)
		}
	}
	return nil
}

// whereClause renders filter in a stable column order.
func whereClause(filter Filter, args *argList) string {
	conds := make([]string, 0, len(filter))
	for _, col := range slices.Sorted(maps.Keys(filter)) {
		v := filter[col]
		if isNull(v) {
			conds = append(conds, quote(col)+" IS NULL")
			continue
		}
		conds = append(conds, fmt.Sprintf("%s = %s", quote(col), args.add(v)))
	}
	return strings.Join(conds, " AND ")
}

// isNull reports whether v should be matched with IS NULL. The pointer
// types are the ones the models use for nullable columns.
func isNull(v any) bool {
	switch p := v.(type) {
	case nil:
		return true
	case *string:
		return p == nil
	case *int:
		return p == nil
	case *int64:
		return p == nil
	case *time.Time:
		return p == nil
	}
	return false
}

func (t Table[T]) hasColumn(col string) bool {
	return slices.Contains(t.Columns, col)
}

func (t Table[T]) columnList() string {
	quoted := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		quoted[i] = quote(col)
	}
	return strings.Join(quoted, ", ")
}

func (t Table[T]) orderBy() string {
	if t.IDColumn != "" {
		return "ORDER BY " + quote(t.IDColumn)
	}
	return "ORDER BY " + quote(t.Columns[0])
}

func quote(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}

type argList struct {
	values []any
}

func (a *argList) add(v any) string {
	a.values = append(a.values, v)
	return fmt.Sprintf("$%d", len(a.values))
}
