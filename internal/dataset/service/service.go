package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	datasetmetrics "dataplane/internal/dataset/metrics"
	"dataplane/internal/dataset/models"
	"dataplane/pkg/domain"
	dErrors "dataplane/pkg/domain-errors"
	"dataplane/pkg/platform/audit"
	"dataplane/pkg/platform/sentinel"
)

//go:generate mockgen -destination=mocks/mocks.go -package=mocks dataplane/internal/dataset/service Notifier,APIKeyAuthorizer

type DatasetStore interface {
	Create(ctx context.Context, d *models.Dataset) error
	FindByID(ctx context.Context, id domain.DatasetID) (*models.Dataset, error)
	// FindForUpdate locks the dataset for the rest of the ambient transaction.
	FindForUpdate(ctx context.Context, id domain.DatasetID) (*models.Dataset, error)
	Update(ctx context.Context, d *models.Dataset) error
	AdjustRecordCount(ctx context.Context, id domain.DatasetID, delta int64, lastRecordAt *time.Time) (int64, error)
	List(ctx context.Context, filter models.DatasetFilter) ([]*models.Dataset, error)
	ListCounters(ctx context.Context, filter models.DatasetFilter) ([]*models.Dataset, error)
}

type RecordStore interface {
	Create(ctx context.Context, r *models.Record) error
	CreateMany(ctx context.Context, rs []*models.Record) error
	FindByID(ctx context.Context, id domain.RecordID) (*models.Record, error)
	FindForUpdate(ctx context.Context, id domain.RecordID) (*models.Record, error)
	Update(ctx context.Context, r *models.Record) error
	Query(ctx context.Context, filter models.RecordFilter) ([]*models.Record, int, error)
}

// AuditLog records mutations. Log never fails the caller.
type AuditLog interface {
	Log(ctx context.Context, entry audit.Entry)
	ListByRecord(ctx context.Context, recordID domain.RecordID) ([]audit.Entry, error)
}

// Notifier publishes committed record events. Failures stay inside the
// notifier.
type Notifier interface {
	Notify(ctx context.Context, event models.Event)
}

// APIKeyAuthorizer checks an API key against an organization and, when
// datasetID is non-nil, a dataset scope.
type APIKeyAuthorizer interface {
	AuthorizeKey(ctx context.Context, keyID domain.APIKeyID, orgID domain.OrganizationID, datasetID *domain.DatasetID, perm domain.Permission) error
}

// StoreTx runs fn as one unit of work. Calls sharing a key are serialized.
type StoreTx interface {
	RunInTx(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

const DefaultMaxBatchSize = 1000

// Service is the dataset engine: datasets, records, queries, batch import
// and statistics.
type Service struct {
	datasets             DatasetStore
	records              RecordStore
	audit                AuditLog
	tx                   StoreTx
	notifier             Notifier
	keys                 APIKeyAuthorizer
	logger               *slog.Logger
	metrics              *datasetmetrics.Metrics
	tracer               trace.Tracer
	maxBatchSize         int
	maxPageSize          int
	auditPerRecordImport bool
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *datasetmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTx replaces the in-memory sharded transaction runner, typically with
// the Postgres transactor.
func WithTx(tx StoreTx) Option {
	return func(s *Service) {
		s.tx = tx
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithAPIKeyAuthorizer enables API-key actors. Without it every key is denied.
func WithAPIKeyAuthorizer(a APIKeyAuthorizer) Option {
	return func(s *Service) {
		s.keys = a
	}
}

func WithMaxBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBatchSize = n
		}
	}
}

func WithMaxPageSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxPageSize = n
		}
	}
}

// WithAuditPerRecordImport adds a create entry per imported record next to
// the import summary.
func WithAuditPerRecordImport(enabled bool) Option {
	return func(s *Service) {
		s.auditPerRecordImport = enabled
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

func New(datasets DatasetStore, records RecordStore, auditLog AuditLog, opts ...Option) *Service {
	s := &Service{
		datasets:     datasets,
		records:      records,
		audit:        auditLog,
		maxBatchSize: DefaultMaxBatchSize,
		maxPageSize:  models.DefaultMaxPage,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tx == nil {
		s.tx = newShardedTx()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("dataplane/internal/dataset/service")
	}
	return s
}

// MaxPageSize is the clamp applied to query page sizes.
func (s *Service) MaxPageSize() int { return s.maxPageSize }

// translateModelErr surfaces invariant violations as validation errors.
func translateModelErr(err error) error {
	var de *dErrors.Error
	if errors.As(err, &de) && de.Code == dErrors.CodeInvariantViolation {
		return dErrors.NewField(dErrors.CodeValidation, de.Field, de.Message)
	}
	return err
}

// wrapStoreErr maps sentinel store errors onto domain codes. Errors that
// already carry a code pass through.
func wrapStoreErr(err error, notFoundMsg, internalMsg string) error {
	var de *dErrors.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, notFoundMsg)
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, internalMsg+": already exists")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, internalMsg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, internalMsg)
}

func (s *Service) notify(ctx context.Context, d *models.Dataset, events ...models.Event) {
	if s.notifier == nil || !d.Config.Notifies() {
		return
	}
	for _, e := range events {
		s.notifier.Notify(ctx, e)
	}
}
