package models

import (
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dataplane/pkg/domain"
	dErrors "dataplane/pkg/domain-errors"
)

func TestRecordQueryResolve(t *testing.T) {
	s := surveySchema(t)
	datasetID := domain.NewDatasetID()

	t.Run("defaults", func(t *testing.T) {
		f, page, size, err := RecordQuery{DatasetID: datasetID}.Resolve(s, 200)
		require.NoError(t, err)
		assert.Equal(t, 1, page)
		assert.Equal(t, DefaultPageSize, size)
		assert.Equal(t, SortByCreatedAt, f.SortBy)
		assert.True(t, f.Desc)
		assert.Zero(t, f.Offset)
	})

	t.Run("clamps page size", func(t *testing.T) {
		f, page, size, err := RecordQuery{DatasetID: datasetID, Page: 3, PageSize: 10_000}.Resolve(s, 200)
		require.NoError(t, err)
		assert.Equal(t, 3, page)
		assert.Equal(t, 200, size)
		assert.Equal(t, 400, f.Offset)
	})

	t.Run("filter on non searchable field fails", func(t *testing.T) {
		_, _, _, err := RecordQuery{DatasetID: datasetID, Filters: Data{"unknownField": Number(1)}}.Resolve(s, 200)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		assert.Equal(t, "unknownField", dErrors.FieldOf(err))

		_, _, _, err = RecordQuery{DatasetID: datasetID, Filters: Data{"tier": String("gold")}}.Resolve(s, 200)
		assert.Error(t, err, "schema field without searchable flag")
	})

	t.Run("filter values are normalized", func(t *testing.T) {
		f, _, _, err := RecordQuery{DatasetID: datasetID, Filters: Data{"age": String("34")}}.Resolve(s, 200)
		require.NoError(t, err)
		assert.True(t, f.Filters["age"].Equal(Number(34)))
	})

	t.Run("sort validation", func(t *testing.T) {
		_, _, _, err := RecordQuery{DatasetID: datasetID, SortBy: "email"}.Resolve(s, 200)
		assert.Error(t, err)
		_, _, _, err = RecordQuery{DatasetID: datasetID, SortOrder: "sideways"}.Resolve(s, 200)
		assert.Error(t, err)

		f, _, _, err := RecordQuery{DatasetID: datasetID, SortBy: "age", SortOrder: "ASC"}.Resolve(s, 200)
		require.NoError(t, err)
		assert.False(t, f.SortSystem)
		assert.False(t, f.Desc)

		_, _, _, err = RecordQuery{DatasetID: datasetID, SortBy: SortByID}.Resolve(s, 200)
		assert.NoError(t, err)
	})
}

func TestRecordFilterMatchAndOrder(t *testing.T) {
	datasetID := domain.NewDatasetID()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	actor := domain.UserActor(domain.UserID(uuid.New()))
	mk := func(age float64, offset time.Duration) *Record {
		r, _ := NewRecord(domain.NewRecordID(), datasetID, Data{"age": Number(age)}, RecordSource{}, actor, base.Add(offset))
		return r
	}
	a, b, c := mk(30, 0), mk(34, time.Minute), mk(34, 2*time.Minute)
	deleted := mk(34, 3*time.Minute)
	deleted.ApplySoftDelete(actor, base)

	f := RecordFilter{DatasetID: datasetID, Filters: Data{"age": Number(34)}, SortBy: SortByCreatedAt, Desc: true}
	var matched []*Record
	for _, r := range []*Record{a, b, c, deleted} {
		if f.Matches(r) {
			matched = append(matched, r)
		}
	}
	slices.SortFunc(matched, f.Compare)
	require.Len(t, matched, 2)
	assert.Equal(t, c.ID, matched[0].ID, "newest first")
	assert.Equal(t, b.ID, matched[1].ID)
}

func TestNewRecordPage(t *testing.T) {
	p := NewRecordPage(nil, 51, 2, 25)
	assert.Equal(t, 3, p.TotalPages)
	assert.NotNil(t, p.Records)
	assert.Zero(t, NewRecordPage(nil, 0, 1, 25).TotalPages)
}
