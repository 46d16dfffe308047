package models

import (
	"cmp"
	"slices"
	"strings"

	"dataplane/pkg/domain"
)

const TopDatasetsLimit = 5

type DatasetSummary struct {
	ID          domain.DatasetID `json:"id"`
	Name        string           `json:"name"`
	RecordCount int64            `json:"record_count"`
}

// Statistics is a rollup over dataset counters, never a scan of records.
type Statistics struct {
	TotalDatasets  int              `json:"total_datasets"`
	ActiveDatasets int              `json:"active_datasets"`
	TotalRecords   int64            `json:"total_records"`
	TopDatasets    []DatasetSummary `json:"top_datasets"`
}

// ComputeStatistics aggregates non-deleted datasets. Top datasets rank by
// record count descending, ties by id ascending.
func ComputeStatistics(datasets []*Dataset) *Statistics {
	stats := &Statistics{TopDatasets: []DatasetSummary{}}
	summaries := make([]DatasetSummary, 0, len(datasets))
	for _, d := range datasets {
		if d.IsDeleted() {
			continue
		}
		stats.TotalDatasets++
		if d.Status == DatasetActive {
			stats.ActiveDatasets++
		}
		stats.TotalRecords += d.Metadata.RecordCount
		summaries = append(summaries, DatasetSummary{ID: d.ID, Name: d.Name, RecordCount: d.Metadata.RecordCount})
	}
	slices.SortFunc(summaries, func(a, b DatasetSummary) int {
		if c := cmp.Compare(b.RecordCount, a.RecordCount); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	if len(summaries) > TopDatasetsLimit {
		summaries = summaries[:TopDatasetsLimit]
	}
	stats.TopDatasets = append(stats.TopDatasets, summaries...)
	return stats
}
