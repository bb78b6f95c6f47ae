package database

import (
	"github.com/huandu/go-sqlbuilder"
)

// MaxBindParams is the most placeholders Postgres accepts in one statement.
const MaxBindParams = 65535

type InsertBuilder struct {
	*sqlbuilder.InsertBuilder
}

func NewInsertBuilder() *InsertBuilder {
	return &InsertBuilder{sqlbuilder.PostgreSQL.NewInsertBuilder()}
}

// BatchInsert collects rows for one table and builds them as multi-row
// INSERTs that each stay under maxParams placeholders.
type BatchInsert struct {
	table     string
	cols      []string
	rows      [][]any
	maxParams int
}

func NewBatchInsert(table string, cols ...string) *BatchInsert {
	return &BatchInsert{table: table, cols: cols, maxParams: MaxBindParams}
}

// WithMaxParams lowers the per-statement placeholder budget.
func (b *BatchInsert) WithMaxParams(n int) *BatchInsert {
	b.maxParams = n
	return b
}

func (b *BatchInsert) Add(values ...any) {
	b.rows = append(b.rows, values)
}

func (b *BatchInsert) Len() int {
	return len(b.rows)
}

// Builders splits the collected rows into statements. No rows yields none.
func (b *BatchInsert) Builders() []*InsertBuilder {
	perStatement := b.maxParams / len(b.cols)
	if perStatement < 1 {
		perStatement = 1
	}

	var out []*InsertBuilder
	for start := 0; start < len(b.rows); start += perStatement {
		end := min(start+perStatement, len(b.rows))
		ib := NewInsertBuilder()
		ib.InsertInto(b.table).Cols(b.cols...)
		for _, row := range b.rows[start:end] {
			ib.Values(row...)
		}
		out = append(out, ib)
	}
	return out
}

type UpdateBuilder struct {
	*sqlbuilder.UpdateBuilder
}

func NewUpdateBuilder() *UpdateBuilder {
	return &UpdateBuilder{sqlbuilder.PostgreSQL.NewUpdateBuilder()}
}

type DeleteBuilder struct {
	*sqlbuilder.DeleteBuilder
}

func NewDeleteBuilder() *DeleteBuilder {
	return &DeleteBuilder{sqlbuilder.PostgreSQL.NewDeleteBuilder()}
}

type SelectBuilder struct {
	*sqlbuilder.SelectBuilder
}

func NewSelectBuilder() *SelectBuilder {
	return &SelectBuilder{sqlbuilder.PostgreSQL.NewSelectBuilder()}
}

type Struct struct {
	*sqlbuilder.Struct
}

func NewStruct(v any) *Struct {
	return &Struct{sqlbuilder.NewStruct(v).For(sqlbuilder.PostgreSQL)}
}

func (s *Struct) SelectFrom(table string) *SelectBuilder {
	return &SelectBuilder{s.Struct.SelectFrom(table)}
}

func (s *Struct) InsertInto(table string, v ...any) *InsertBuilder {
	return &InsertBuilder{s.Struct.InsertInto(table, v...)}
}

func (s *Struct) Update(table string, v any) *UpdateBuilder {
	return &UpdateBuilder{s.Struct.Update(table, v)}
}

func (s *Struct) DeleteFrom(table string) *DeleteBuilder {
	return &DeleteBuilder{s.Struct.DeleteFrom(table)}
}
