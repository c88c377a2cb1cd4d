package easydb

import (
	"github.com/Ramsey-B/lichen/pkg/rawrecord"
)

const (
	FieldTagID = "_tags._id"

	FormatLong = "long"

	// MaxLimit is the largest page the search endpoint serves.
	MaxLimit = 1000
)

// Search is one node of the remote search DSL.
type Search struct {
	Type   string   `json:"type"`
	Bool   string   `json:"bool,omitempty"`
	Fields []string `json:"fields,omitempty"`
	In     []any    `json:"in,omitempty"`
	Search []Search `json:"search,omitempty"`
}

// In matches objects whose field holds any of values.
func In(field string, values ...any) Search {
	return Search{
		Type:   "in",
		Bool:   "must",
		Fields: []string{field},
		In:     values,
	}
}

// Must requires every child to match.
func Must(children ...Search) Search {
	nested := make([]Search, len(children))
	for i, child := range children {
		child.Bool = "must"
		nested[i] = child
	}
	return Search{
		Type:   "complex",
		Bool:   "must",
		Search: nested,
	}
}

type SortField struct {
	Field string `json:"field"`
	Order string `json:"order"`
}

// SearchRequest is the body of POST /api/v1/search.
type SearchRequest struct {
	Search      []Search    `json:"search"`
	ObjectTypes []string    `json:"objecttypes,omitempty"`
	Offset      int         `json:"offset"`
	Limit       int         `json:"limit"`
	Format      string      `json:"format"`
	Sort        []SortField `json:"sort,omitempty"`
}

// NewSearchRequest builds a long-format request sorted by system object id, so offsets are stable.
func NewSearchRequest(offset, limit int, objectTypes []string, search ...Search) SearchRequest {
	if limit <= 0 || limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return SearchRequest{
		Search:      search,
		ObjectTypes: objectTypes,
		Offset:      offset,
		Limit:       limit,
		Format:      FormatLong,
		Sort:        []SortField{{Field: rawrecord.FieldSystemObjectID, Order: "ASC"}},
	}
}

// Page is one slice of a search result.
type Page struct {
	Count   int                `json:"count"`
	Offset  int                `json:"offset"`
	Limit   int                `json:"limit"`
	Objects []rawrecord.Record `json:"objects"`
}

// Full reports whether the page was filled, i.e. more results may follow.
func (p Page) Full() bool {
	return p.Limit > 0 && len(p.Objects) >= p.Limit
}
