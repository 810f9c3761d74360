package api

import (
	"fmt"
	"net/http"
	"strconv"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// pageParams is the page window requested through ?page=&limit=.
type pageParams struct {
	Page  int
	Limit int
}

func (p pageParams) offset() int { return (p.Page - 1) * p.Limit }

// Page wraps one window of a listing together with its position.
type Page[T any] struct {
	Items []T      `json:"items"`
	Meta  PageMeta `json:"pagination"`
}

// PageMeta describes where a Page sits in the full result set.
type PageMeta struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasMore    bool `json:"has_more"`
}

// parsePage reads page and limit from the query string. Missing values
// fall back to the first page of defaultPageSize; limit is capped at
// maxPageSize. Non-numeric values are rejected.
func parsePage(r *http.Request) (pageParams, error) {
	p := pageParams{Page: 1, Limit: defaultPageSize}
	q := r.URL.Query()

	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("page must be a number, got %q", v)
		}
		if n > 1 {
			p.Page = n
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("limit must be a number, got %q", v)
		}
		if n > 0 {
			p.Limit = min(n, maxPageSize)
		}
	}
	return p, nil
}

func newPage[T any](items []T, p pageParams, total int) Page[T] {
	if items == nil {
		items = []T{}
	}
	pages := (total + p.Limit - 1) / p.Limit
	if pages < 1 {
		pages = 1
	}
	return Page[T]{
		Items: items,
		Meta: PageMeta{
			Page:       p.Page,
			Limit:      p.Limit,
			Total:      total,
			TotalPages: pages,
			HasMore:    p.Page < pages,
		},
	}
}
