package models

import (
	"fmt"
	"strings"

	"dataplane/pkg/domain"
	dErrors "dataplane/pkg/domain-errors"
)

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// System sort keys usable on every dataset.
const (
	SortByID        = "id"
	SortByCreatedAt = "createdAt"
	SortByUpdatedAt = "updatedAt"
)

const (
	DefaultPageSize = 25
	DefaultMaxPage  = 200
)

// RecordQuery is a caller's filter/sort/page request.
type RecordQuery struct {
	DatasetID domain.DatasetID
	Filters   Data
	SortBy    string
	SortOrder SortOrder
	Page      int
	PageSize  int
}

// RecordFilter is a validated query ready for a store. Filter values are
// normalized to the field types so stores can compare with Value.Equal.
type RecordFilter struct {
	DatasetID  domain.DatasetID
	Filters    Data
	SortBy     string
	SortSystem bool
	Desc       bool
	Offset     int
	Limit      int
}

// RecordPage is one page of query results. Total and TotalPages describe the
// full filtered set.
type RecordPage struct {
	Records    []*Record `json:"records"`
	Total      int       `json:"total"`
	Page       int       `json:"page"`
	PageSize   int       `json:"page_size"`
	TotalPages int       `json:"total_pages"`
}

// Resolve validates q against schema and applies defaults: page 1, page size
// DefaultPageSize clamped to maxPageSize, newest first.
func (q RecordQuery) Resolve(schema Schema, maxPageSize int) (RecordFilter, int, int, error) {
	if maxPageSize <= 0 {
		maxPageSize = DefaultMaxPage
	}
	page := q.Page
	if page < 1 {
		page = 1
	}
	size := q.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	filters := make(Data, len(q.Filters))
	for _, name := range q.Filters.Keys() {
		f, ok := schema.Field(name)
		if !ok || !f.Searchable {
			return RecordFilter{}, 0, 0, dErrors.NewField(dErrors.CodeValidation, name,
				fmt.Sprintf("field %q is not searchable", name))
		}
		v, err := f.Normalize(q.Filters[name])
		if err != nil {
			return RecordFilter{}, 0, 0, err
		}
		filters[name] = v
	}

	order := SortOrder(strings.ToLower(string(q.SortOrder)))
	switch order {
	case "":
		order = SortDesc
	case SortAsc, SortDesc:
	default:
		return RecordFilter{}, 0, 0, dErrors.NewField(dErrors.CodeValidation, "sortOrder", "sort order must be asc or desc")
	}

	sortBy := q.SortBy
	system := true
	switch sortBy {
	case "":
		sortBy = SortByCreatedAt
	case SortByID, SortByCreatedAt, SortByUpdatedAt:
	default:
		f, ok := schema.Field(sortBy)
		if !ok || !f.Sortable {
			return RecordFilter{}, 0, 0, dErrors.NewField(dErrors.CodeValidation, sortBy,
				fmt.Sprintf("field %q is not sortable", sortBy))
		}
		system = false
	}

	return RecordFilter{
		DatasetID:  q.DatasetID,
		Filters:    filters,
		SortBy:     sortBy,
		SortSystem: system,
		Desc:       order == SortDesc,
		Offset:     (page - 1) * size,
		Limit:      size,
	}, page, size, nil
}

// NewRecordPage computes TotalPages from the full filtered count.
func NewRecordPage(records []*Record, total, page, size int) *RecordPage {
	if records == nil {
		records = []*Record{}
	}
	pages := 0
	if size > 0 {
		pages = (total + size - 1) / size
	}
	return &RecordPage{Records: records, Total: total, Page: page, PageSize: size, TotalPages: pages}
}

// Matches reports whether an active record satisfies every equality filter.
func (f RecordFilter) Matches(r *Record) bool {
	if r.Status != RecordActive || r.DatasetID != f.DatasetID {
		return false
	}
	for k, want := range f.Filters {
		got, ok := r.Data[k]
		if !ok {
			got = Null()
		}
		if !got.Equal(want) {
			return false
		}
	}
	return true
}

// Compare orders two records per the filter's sort, ties broken by id.
func (f RecordFilter) Compare(a, b *Record) int {
	var c int
	switch f.SortBy {
	case SortByID:
		c = strings.Compare(a.ID.String(), b.ID.String())
	case SortByCreatedAt:
		c = a.CreatedAt.Compare(b.CreatedAt)
	case SortByUpdatedAt:
		c = a.UpdatedAt.Compare(b.UpdatedAt)
	default:
		c = a.Data[f.SortBy].Compare(b.Data[f.SortBy])
	}
	if f.Desc {
		c = -c
	}
	if c == 0 && f.SortBy != SortByID {
		c = strings.Compare(a.ID.String(), b.ID.String())
	}
	return c
}
