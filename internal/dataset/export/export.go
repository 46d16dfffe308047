// Package export renders a dataset's active records as CSV and stores the
// file in object storage.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"dataplane/internal/dataset/models"
	"dataplane/pkg/domain"
	dErrors "dataplane/pkg/domain-errors"
	"dataplane/pkg/platform/audit"
	"dataplane/pkg/requestcontext"
)

const contentType = "text/csv"

// Datasets is the read side of the dataset service. Both calls authorize the
// actor.
type Datasets interface {
	GetDataset(ctx context.Context, datasetID domain.DatasetID, actor domain.Actor) (*models.Dataset, error)
	QueryRecords(ctx context.Context, q models.RecordQuery, actor domain.Actor) (*models.RecordPage, error)
}

type AuditLog interface {
	Log(ctx context.Context, entry audit.Entry)
}

// Sink stores a finished export under key.
type Sink interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
}

type Counter interface {
	IncExportsCompleted()
}

// Result describes a stored export.
type Result struct {
	Key       string    `json:"key"`
	Rows      int       `json:"rows"`
	Bytes     int64     `json:"bytes"`
	CreatedAt time.Time `json:"created_at"`
}

type Exporter struct {
	datasets Datasets
	audit    AuditLog
	sink     Sink
	pageSize int
	logger   *slog.Logger
	counter  Counter
	tracer   trace.Tracer
}

type Option func(*Exporter)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Exporter) {
		e.logger = logger
	}
}

func WithCounter(c Counter) Option {
	return func(e *Exporter) {
		e.counter = c
	}
}

// WithPageSize sets how many records are read per query. It should not exceed
// the service's maximum page size, which would clamp it anyway.
func WithPageSize(n int) Option {
	return func(e *Exporter) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

func New(datasets Datasets, auditLog AuditLog, sink Sink, opts ...Option) *Exporter {
	e := &Exporter{
		datasets: datasets,
		audit:    auditLog,
		sink:     sink,
		pageSize: models.DefaultMaxPage,
		logger:   slog.Default(),
		tracer:   otel.Tracer("dataplane/internal/dataset/export"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ObjectKey is exports/<dataset-id>/<UTC timestamp>.csv.
func ObjectKey(datasetID domain.DatasetID, at time.Time) string {
	return fmt.Sprintf("exports/%s/%s.csv", datasetID, at.UTC().Format("20060102T150405Z"))
}

// Export writes every active record of the dataset, ordered by id, and logs
// an export audit entry once the file is stored.
func (e *Exporter) Export(ctx context.Context, datasetID domain.DatasetID, actor domain.Actor) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "dataset.Export")
	defer span.End()
	span.SetAttributes(attribute.String("dataset_id", datasetID.String()))

	d, err := e.datasets.GetDataset(ctx, datasetID, actor)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	rows, err := e.render(ctx, &buf, d, actor)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	key := ObjectKey(d.ID, now)
	size := int64(buf.Len())
	if err := e.sink.Put(ctx, key, &buf, size, contentType); err != nil {
		e.logger.ErrorContext(ctx, "failed to store export",
			"dataset_id", d.ID.String(),
			"key", key,
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to store export")
	}

	e.audit.Log(ctx, audit.Entry{
		DatasetID: d.ID,
		Action:    audit.ActionExport,
		Actor:     actor,
		Details:   audit.Details{Count: rows, Summary: key},
	})
	if e.counter != nil {
		e.counter.IncExportsCompleted()
	}
	e.logger.InfoContext(ctx, "dataset exported",
		"dataset_id", d.ID.String(),
		"key", key,
		"rows", rows,
		"actor", actor.String(),
	)
	return &Result{Key: key, Rows: rows, Bytes: size, CreatedAt: now}, nil
}

// render writes the header and every page of records to w.
func (e *Exporter) render(ctx context.Context, w io.Writer, d *models.Dataset, actor domain.Actor) (int, error) {
	fields := d.Schema.FieldNames()
	cw := csv.NewWriter(w)
	if err := cw.Write(Header(fields)); err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to render export")
	}

	rows := 0
	for page := 1; ; page++ {
		result, err := e.datasets.QueryRecords(ctx, models.RecordQuery{
			DatasetID: d.ID,
			SortBy:    models.SortByID,
			SortOrder: models.SortAsc,
			Page:      page,
			PageSize:  e.pageSize,
		}, actor)
		if err != nil {
			return 0, err
		}
		for _, r := range result.Records {
			if err := cw.Write(Row(fields, r)); err != nil {
				return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to render export")
			}
			rows++
		}
		if page >= result.TotalPages || len(result.Records) == 0 {
			break
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to render export")
	}
	return rows, nil
}

// Header is id, the schema fields in order, then the system columns.
func Header(fields []string) []string {
	out := make([]string, 0, len(fields)+4)
	out = append(out, "id")
	out = append(out, fields...)
	return append(out, "version", "created_at", "updated_at")
}

// Row renders one record. Missing and null values are empty cells; keys
// outside the schema are not exported.
func Row(fields []string, r *models.Record) []string {
	out := make([]string, 0, len(fields)+4)
	out = append(out, r.ID.String())
	for _, name := range fields {
		out = append(out, r.Data[name].Text())
	}
	return append(out,
		strconv.FormatInt(r.Version, 10),
		r.CreatedAt.UTC().Format(time.RFC3339),
		r.UpdatedAt.UTC().Format(time.RFC3339),
	)
}
