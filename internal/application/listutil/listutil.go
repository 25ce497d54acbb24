// Package listutil parses list query parameters for the back office.
package listutil

import (
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// Params carries paging and search parsed from a request.
type Params struct {
	Page    int // 1-indexed
	PerPage int
	Search  string
	Filters map[string]string // exact-match filters, only recognised keys
}

// PageInfo is returned next to a page of rows.
type PageInfo struct {
	Page       int
	PerPage    int
	Total      int
	TotalPages int
}

// DefaultPerPage is the page size when per_page is missing or not allowed.
const DefaultPerPage = 50

// PerPageOptions are the accepted per_page values.
var PerPageOptions = []int{20, 50, 100, 200}

// Parse reads page, per_page, q and the named filters.
// PRE: none
// POST: Page >= 1; PerPage is one of PerPageOptions; Search is trimmed
func Parse(q url.Values, filterKeys ...string) Params {
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if !slices.Contains(PerPageOptions, perPage) {
		perPage = DefaultPerPage
	}
	p := Params{
		Page:    max(page, 1),
		PerPage: perPage,
		Search:  strings.TrimSpace(q.Get("q")),
		Filters: make(map[string]string),
	}
	for _, key := range filterKeys {
		if v := strings.TrimSpace(q.Get(key)); v != "" {
			p.Filters[key] = v
		}
	}
	return p
}

// Offset is the row offset of the requested page.
func (p Params) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Info computes page metadata for total matching rows.
// PRE: total >= 0
// POST: TotalPages >= 1; Page is the requested page, not clamped
func (p Params) Info(total int) PageInfo {
	return PageInfo{
		Page:       p.Page,
		PerPage:    p.PerPage,
		Total:      total,
		TotalPages: max((total+p.PerPage-1)/p.PerPage, 1),
	}
}

// Limit reads a positive integer parameter, falling back to def and capping at ceiling.
func Limit(q url.Values, key string, def, ceiling int) int {
	n, err := strconv.Atoi(q.Get(key))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, ceiling)
}
