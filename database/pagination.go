package database

import (
	"math"
	"net/http"
	"strconv"
)

type Pagination struct {
	Limit      int   `json:"limit"`
	Page       int   `json:"page"`
	TotalRows  int64 `json:"total_rows"`
	TotalPages int   `json:"total_pages"`
}

// PaginationFromRequest reads page and limit query parameters, keeping the
// defaults for missing or invalid values.
func PaginationFromRequest(r *http.Request, defaultLimit int) Pagination {
	pagination := Pagination{Page: 1, Limit: defaultLimit}
	if pageParam := r.URL.Query().Get("page"); pageParam != "" {
		if page, err := strconv.Atoi(pageParam); err == nil && page > 0 {
			pagination.Page = page
		}
	}
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		if limit, err := strconv.Atoi(limitParam); err == nil && limit > 0 {
			pagination.Limit = limit
		}
	}
	return pagination
}

func (p *Pagination) GetOffset() int {
	return (p.GetPage() - 1) * p.GetLimit()
}

func (p *Pagination) GetLimit() int {
	if p.Limit <= 0 {
		p.Limit = 10
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
	return p.Limit
}

func (p *Pagination) GetPage() int {
	if p.Page <= 0 {
		p.Page = 1
	}
	return p.Page
}

func (p *Pagination) SetTotal(rows int64) {
	p.TotalRows = rows
	p.TotalPages = int(math.Ceil(float64(rows) / float64(p.GetLimit())))
}
