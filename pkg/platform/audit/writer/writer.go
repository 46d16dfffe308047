// Package writer records audit entries for dataset and record mutations.
//
// Log never returns an error. A failed write is reported on the operator
// channels (error log plus dataplane_audit_write_failures_total) and the
// mutation it describes proceeds. Stores join the transaction carried in ctx,
// so a successful write commits or rolls back with the mutation.
package writer

import (
	"context"
	"log/slog"
	"time"

	"github.com/mssola/useragent"

	"dataplane/pkg/domain"
	audit "dataplane/pkg/platform/audit"
	"dataplane/pkg/requestcontext"
)

// Writer fills request context into entries and appends them to a store.
type Writer struct {
	store   audit.Store
	logger  *slog.Logger
	metrics *Metrics
}

// Option configures the Writer.
type Option func(*Writer)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) {
		w.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(w *Writer) {
		w.metrics = m
	}
}

func New(store audit.Store, opts ...Option) *Writer {
	w := &Writer{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Log stamps and persists an entry. See the package doc for failure semantics.
func (w *Writer) Log(ctx context.Context, entry audit.Entry) {
	start := time.Now()
	w.enrich(ctx, &entry)

	if err := w.validate(entry); err != nil {
		w.fail(ctx, entry, err)
		return
	}
	if err := w.store.Append(ctx, entry); err != nil {
		w.fail(ctx, entry, err)
		return
	}

	if w.metrics != nil {
		w.metrics.IncWritten(string(entry.Action))
		w.metrics.ObserveWriteDuration(time.Since(start).Seconds())
	}
}

func (w *Writer) enrich(ctx context.Context, entry *audit.Entry) {
	if entry.ID == (domain.AuditEntryID{}) {
		entry.ID = domain.NewAuditEntryID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = requestcontext.Now(ctx)
	}
	if entry.Context.Surface == "" {
		entry.Context.Surface = string(requestcontext.SurfaceOf(ctx, entry.Actor))
	}
	if entry.Context.RequestID == "" {
		entry.Context.RequestID = requestcontext.RequestID(ctx)
	}
	if entry.Context.ClientIP == "" {
		entry.Context.ClientIP = requestcontext.ClientIP(ctx)
	}
	if entry.Context.UserAgent == "" {
		entry.Context.UserAgent = summarizeUserAgent(requestcontext.UserAgent(ctx))
	}
}

func (w *Writer) validate(entry audit.Entry) error {
	if err := entry.Actor.Validate(); err != nil {
		return err
	}
	if entry.DatasetID.IsNil() {
		return errMissingDataset
	}
	if !entry.Action.IsValid() {
		return errUnknownAction
	}
	return nil
}

func (w *Writer) fail(ctx context.Context, entry audit.Entry, err error) {
	if w.metrics != nil {
		w.metrics.IncWriteFailures(string(entry.Action))
	}
	w.logger.ErrorContext(ctx, "audit write failed",
		"action", entry.Action,
		"dataset_id", entry.DatasetID,
		"record_id", entry.RecordID,
		"actor", entry.Actor.String(),
		"request_id", entry.Context.RequestID,
		"error", err,
	)
}

// ListByDataset returns recent entries for a dataset.
func (w *Writer) ListByDataset(ctx context.Context, datasetID domain.DatasetID, limit int) ([]audit.Entry, error) {
	return w.store.ListByDataset(ctx, datasetID, limit)
}

// ListByRecord returns a record's entries, oldest first.
func (w *Writer) ListByRecord(ctx context.Context, recordID domain.RecordID) ([]audit.Entry, error) {
	return w.store.ListByRecord(ctx, recordID)
}

// summarizeUserAgent reduces a raw User-Agent header to "browser version (os)".
// Bots and unparseable headers keep the raw value, truncated.
func summarizeUserAgent(raw string) string {
	if raw == "" {
		return ""
	}
	ua := useragent.New(raw)
	name, version := ua.Browser()
	if ua.Bot() || name == "" {
		if len(raw) > 128 {
			return raw[:128]
		}
		return raw
	}
	summary := name
	if version != "" {
		summary += " " + version
	}
	if os := ua.OS(); os != "" {
		summary += " (" + os + ")"
	}
	return summary
}
