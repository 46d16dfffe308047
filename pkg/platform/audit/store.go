package audit

import (
	"context"

	"dataplane/pkg/domain"
)

//go:generate mockgen -source=store.go -destination=mocks/mocks.go -package=mocks

// Store persists audit entries. Append must join the transaction carried in
// ctx (SQL tx or in-memory journal) when one is present.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	ListByDataset(ctx context.Context, datasetID domain.DatasetID, limit int) ([]Entry, error)
	ListByRecord(ctx context.Context, recordID domain.RecordID) ([]Entry, error)
}
