// Package listing implements the sort/filter/paginate helpers behind every
// table in the dashboard (CRM leads, saved streamers, search results).
//
// HOW THE TABLES SORT:
// Clicking a column header cycles the direction:
//
//	None → Asc → Desc → None
//
// None means "the order the data arrived in". The dashboard sends the
// column name and the direction as query parameters; the server sorts with a
// comparator looked up by column name in a Columns map.
//
// WHY GENERICS?
// The same helpers sort leads, Twitch channels and YouTube channels. Before
// type parameters you'd write three copies or sort []interface{} with type
// assertions. With generics, Columns[model.CrmLead] and
// Columns[model.TwitchData] share one implementation and stay type-safe.
package listing

import (
	"cmp"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/sakif/creatorhub/internal/apperror"
)

// Direction is a column's sort direction.
type Direction string

const (
	None Direction = ""
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Next returns the direction after one more header click.
func (d Direction) Next() Direction {
	switch d {
	case None:
		return Asc
	case Asc:
		return Desc
	default:
		return None
	}
}

// ParseDirection accepts "", "none", "asc" and "desc" (any case).
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "default":
		return None, nil
	case "asc":
		return Asc, nil
	case "desc":
		return Desc, nil
	default:
		return None, apperror.ValidationFailed("dir", fmt.Sprintf("unknown sort direction %q", s))
	}
}

// Compare is a three-way comparator: negative if a < b, zero if equal,
// positive if a > b.
type Compare[T any] func(a, b T) int

// Columns maps a column name (as sent by the dashboard) to its comparator.
type Columns[T any] map[string]Compare[T]

// ByNumber builds a comparator on a numeric key.
// Numbers compare numerically, never as strings: 900 < 1200.
func ByNumber[T any, N cmp.Ordered](key func(T) N) Compare[T] {
	return func(a, b T) int { return cmp.Compare(key(a), key(b)) }
}

// ByText builds a case-insensitive comparator on a string key.
func ByText[T any](key func(T) string) Compare[T] {
	return func(a, b T) int {
		return strings.Compare(strings.ToLower(key(a)), strings.ToLower(key(b)))
	}
}

// ByBool orders false before true.
func ByBool[T any](key func(T) bool) Compare[T] {
	return func(a, b T) int {
		x, y := key(a), key(b)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	}
}

// Names returns the sortable column names, sorted, for error messages.
func (c Columns[T]) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Sort returns a sorted copy of items. The input slice is never modified.
//
// With dir == None (or an empty column) the copy keeps the input order.
// Ties keep their relative input order (stable sort), so re-sorting by a
// second column behaves the way users expect.
func Sort[T any](items []T, cols Columns[T], column string, dir Direction) ([]T, error) {
	out := slices.Clone(items)
	if dir == None || column == "" {
		return out, nil
	}

	cmpFn, ok := cols[column]
	if !ok {
		return nil, apperror.ValidationFailed("sort",
			fmt.Sprintf("cannot sort by %q; sortable columns: %s", column, strings.Join(cols.Names(), ", ")))
	}

	if dir == Desc {
		slices.SortStableFunc(out, func(a, b T) int { return cmpFn(b, a) })
	} else {
		slices.SortStableFunc(out, cmpFn)
	}
	return out, nil
}

// Filter returns the items for which keep returns true.
func Filter[T any](items []T, keep func(T) bool) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

// Pagination limits.
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Page is one page of a listing plus enough metadata to render the pager.
type Page[T any] struct {
	Items      []T `json:"items"`
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// Paginate slices items into pages of pageSize and returns page number page
// (1-based). Out-of-range page numbers are clamped, so asking for page 99 of
// a 3-page list returns page 3 rather than an empty page.
func Paginate[T any](items []T, page, pageSize int) Page[T] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	total := len(items)
	totalPages := (total + pageSize - 1) / pageSize
	if totalPages == 0 {
		totalPages = 1
	}

	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}

	start := (page - 1) * pageSize
	end := min(start+pageSize, total)

	pageItems := make([]T, 0, end-start)
	pageItems = append(pageItems, items[start:end]...)

	return Page[T]{
		Items:      pageItems,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
	}
}

// Query is the common set of table parameters parsed from a URL.
type Query struct {
	Search   string
	Sort     string
	Dir      Direction
	Page     int
	PageSize int
}

// ParseQuery reads q, sort, dir, page and pageSize from the query string.
// Missing numbers default to zero and get their defaults from Paginate.
func ParseQuery(v url.Values) (Query, error) {
	dir, err := ParseDirection(v.Get("dir"))
	if err != nil {
		return Query{}, err
	}

	q := Query{
		Search: strings.TrimSpace(v.Get("q")),
		Sort:   strings.TrimSpace(v.Get("sort")),
		Dir:    dir,
	}

	if q.Page, err = atoiParam(v, "page"); err != nil {
		return Query{}, err
	}
	if q.PageSize, err = atoiParam(v, "pageSize"); err != nil {
		return Query{}, err
	}
	return q, nil
}

func atoiParam(v url.Values, name string) (int, error) {
	raw := v.Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperror.ValidationFailed(name, fmt.Sprintf("%s must be a number", name))
	}
	return n, nil
}

// Apply runs Sort then Paginate: the usual pipeline for a table request.
func Apply[T any](items []T, cols Columns[T], q Query) (Page[T], error) {
	sorted, err := Sort(items, cols, q.Sort, q.Dir)
	if err != nil {
		return Page[T]{}, err
	}
	return Paginate(sorted, q.Page, q.PageSize), nil
}
