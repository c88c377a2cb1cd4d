package database

import (
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"
)

// PrimaryKeyTag marks surrogate key fields that inserts and updates leave to the database.
const PrimaryKeyTag = "pk"

func Excluded(column string) any {
	return sqlbuilder.Raw(fmt.Sprintf("EXCLUDED.%s", column))
}

type InsertBuilder struct {
	*sqlbuilder.InsertBuilder
}

func NewInsertBuilder() *InsertBuilder {
	return &InsertBuilder{sqlbuilder.PostgreSQL.NewInsertBuilder()}
}

func (b *InsertBuilder) OnConflict(columns ...string) *UpdateBuilder {
	ub := NewUpdateBuilder()
	b.SQL(fmt.Sprintf("ON CONFLICT (%s) DO UPDATE %s", strings.Join(columns, ", "), b.Var(ub)))
	return ub
}

// OnConflictDoNothing skips the insert when any of columns conflicts. With no columns any
// unique violation is ignored.
func (b *InsertBuilder) OnConflictDoNothing(columns ...string) *InsertBuilder {
	if len(columns) == 0 {
		b.SQL("ON CONFLICT DO NOTHING")
		return b
	}
	b.SQL(fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", strings.Join(columns, ", ")))
	return b
}

func (b *InsertBuilder) InsertInto(table string) *InsertBuilder {
	return &InsertBuilder{b.InsertBuilder.InsertInto(table)}
}

func (b *InsertBuilder) Cols(col ...string) *InsertBuilder {
	return &InsertBuilder{b.InsertBuilder.Cols(col...)}
}

func (b *InsertBuilder) Values(value ...any) *InsertBuilder {
	return &InsertBuilder{b.InsertBuilder.Values(value...)}
}

func (b *InsertBuilder) Returning(col ...string) *InsertBuilder {
	return &InsertBuilder{b.InsertBuilder.Returning(col...)}
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

// Writable excludes surrogate key fields tagged PrimaryKeyTag.
func (s *Struct) Writable() *Struct {
	return &Struct{s.Struct.WithoutTag(PrimaryKeyTag)}
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
