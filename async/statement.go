/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package async

import (
	"fmt"
	"reflect"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/dbscan"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/tomoncle/txorm/entity"
	"github.com/uptrace/bun/dialect/pgdialect"
)

var (
	// metaDialect reads entity metadata from bun tags. It never talks to a
	// database.
	metaDialect = pgdialect.New()

	psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

	// scanner maps result columns onto struct fields through the bun tag, so
	// one entity type serves both variants.
	scanner = mustScanner()

	timeType = reflect.TypeOf(time.Time{})
)

func mustScanner() *pgxscan.API {
	dbscanAPI, err := pgxscan.NewDBScanAPI(dbscan.WithStructTagKey("bun"))
	if err != nil {
		panic(fmt.Errorf("async: scany api: %w", err))
	}
	api, err := pgxscan.NewAPI(dbscanAPI)
	if err != nil {
		panic(fmt.Errorf("async: scany api: %w", err))
	}
	return api
}

func quote(name string) string { return pgx.Identifier{name}.Sanitize() }

// statements holds the quoted identifiers of one entity.
type statements struct {
	table   string
	pk      string
	columns []string
	// deletedAt is the quoted deletion mark, empty when rows are removed
	// outright.
	deletedAt string
}

func newStatements(meta *entity.Meta) statements {
	st := statements{
		table: quote(meta.Relation),
		pk:    quote(meta.PrimaryKey()),
	}
	if c := meta.SoftDeleteColumn(); c != "" {
		st.deletedAt = quote(c)
	}
	for _, f := range meta.Fields() {
		// NOT NULL columns, keys included, are read as stored.
		st.columns = append(st.columns, selectExpr(f.Name, f.NullZero && !f.NotNull, f.IndirectType))
	}
	return st
}

// selectExpr reads a nullable nullzero column of a scalar or time Go type
// back as its zero value, since pgx refuses to scan NULL into a non-pointer.
func selectExpr(name string, nullZero bool, typ reflect.Type) string {
	col := quote(name)
	if !nullZero {
		return col
	}
	var zero string
	switch typ.Kind() {
	case reflect.String:
		zero = "''"
	case reflect.Bool:
		zero = "false"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		zero = "0"
	case reflect.Struct:
		if typ != timeType {
			return col
		}
		zero = "'0001-01-01 00:00:00+00'"
	default:
		return col
	}
	return fmt.Sprintf("COALESCE(%s, %s) AS %s", col, zero, col)
}

// live drops rows that carry a deletion mark.
func (st statements) live(q sq.SelectBuilder) sq.SelectBuilder {
	if st.deletedAt == "" {
		return q
	}
	return q.Where(sq.Eq{st.deletedAt: nil})
}

func (st statements) selectByPK(id any) sq.SelectBuilder {
	return st.live(psql.Select(st.columns...).From(st.table).Where(sq.Eq{st.pk: id}))
}

func (st statements) selectAll(limit, offset int) sq.SelectBuilder {
	return page(st.live(psql.Select(st.columns...).From(st.table)).OrderBy(st.pk+" ASC"), limit, offset)
}

// selectWhere reads the rows matching filter, ordered by orders and then by
// primary key.
func (st statements) selectWhere(filter sq.Sqlizer, orders []entity.Order) sq.SelectBuilder {
	q := st.live(psql.Select(st.columns...).From(st.table))
	if filter != nil {
		q = q.Where(filter)
	}
	for _, o := range orders {
		q = q.OrderBy(quote(o.Column) + " " + o.Direction())
	}
	return q.OrderBy(st.pk + " ASC")
}

func (st statements) count() sq.SelectBuilder {
	return st.live(psql.Select("count(*)").From(st.table))
}

func (st statements) countWhere(filter sq.Sqlizer) sq.SelectBuilder {
	q := st.count()
	if filter != nil {
		q = q.Where(filter)
	}
	return q
}

// stats aggregates column as float8, so integer and numeric columns scan
// alike.
func (st statements) stats(column string) sq.SelectBuilder {
	col := quote(column)
	return st.live(psql.Select(
		fmt.Sprintf("count(%s)", col),
		fmt.Sprintf("min(%s)::float8", col),
		fmt.Sprintf("max(%s)::float8", col),
		fmt.Sprintf("avg(%s)::float8", col),
	).From(st.table))
}

func page(q sq.SelectBuilder, limit, offset int) sq.SelectBuilder {
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	if offset > 0 {
		q = q.Offset(uint64(offset))
	}
	return q
}

// insert returns INSERT ... RETURNING pk. With no columns to write every
// value comes from column defaults.
func (st statements) insert(cols []string, vals []any) (string, []any, error) {
	if len(cols) == 0 {
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s", st.table, st.pk), nil, nil
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
	}
	return psql.Insert(st.table).Columns(quoted...).Values(vals...).Suffix("RETURNING " + st.pk).ToSql()
}

func (st statements) update(id any, cols []string, values map[string]any) (string, []any, error) {
	q := psql.Update(st.table)
	for _, c := range cols {
		q = q.Set(quote(c), values[c])
	}
	return q.Where(sq.Eq{st.pk: id}).ToSql()
}

// delete removes the row, or marks it deleted at now when the entity has a
// deletion mark. A row already marked counts as absent.
func (st statements) delete(id any, now time.Time) (string, []any, error) {
	if st.deletedAt == "" {
		return psql.Delete(st.table).Where(sq.Eq{st.pk: id}).ToSql()
	}
	return psql.Update(st.table).
		Set(st.deletedAt, now).
		Where(sq.Eq{st.pk: id}).
		Where(sq.Eq{st.deletedAt: nil}).
		ToSql()
}
