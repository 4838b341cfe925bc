package utils

import (
	"net/http"
	"strconv"
)

// Page size bounds for offset-paginated lists.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// PageParams is a requested page: the 1-based page number and its size, and
// the offset/limit pair a store query needs for it.
type PageParams struct {
	Page     int
	PageSize int
	Offset   int
	Limit    int
}

// PageMeta describes where a page sits in the full list.
type PageMeta struct {
	Page        int   `json:"page"`
	PageSize    int   `json:"page_size"`
	TotalPages  int   `json:"total_pages"`
	TotalItems  int64 `json:"total_items"`
	HasPrevious bool  `json:"has_previous"`
	HasNext     bool  `json:"has_next"`
}

// PaginatedResponse is the body of every paginated endpoint.
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Pagination PageMeta    `json:"pagination"`
}

// ParsePageParams reads ?page= and ?page_size= from r. Missing or malformed
// values fall back to page 1 and DefaultPageSize; sizes are clamped to
// [1, MaxPageSize].
func ParsePageParams(r *http.Request) PageParams {
	q := r.URL.Query()
	page := max(queryInt(q.Get("page"), 1), 1)
	size := min(max(queryInt(q.Get("page_size"), DefaultPageSize), 1), MaxPageSize)

	return PageParams{
		Page:     page,
		PageSize: size,
		Offset:   (page - 1) * size,
		Limit:    size,
	}
}

// Meta computes the page metadata for a list of total items. An empty list
// still has one page.
func (p PageParams) Meta(total int64) PageMeta {
	pages := 1
	if p.PageSize > 0 && total > 0 {
		pages = int((total + int64(p.PageSize) - 1) / int64(p.PageSize))
	}
	return PageMeta{
		Page:        p.Page,
		PageSize:    p.PageSize,
		TotalPages:  pages,
		TotalItems:  total,
		HasPrevious: p.Page > 1,
		HasNext:     p.Page < pages,
	}
}

// NewPaginatedResponse wraps one page of data with its metadata.
func NewPaginatedResponse(data interface{}, params PageParams, total int64) PaginatedResponse {
	return PaginatedResponse{Data: data, Pagination: params.Meta(total)}
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
