package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"dataplane/internal/dataset/export"
	"dataplane/internal/dataset/models"
	"dataplane/pkg/domain"
	dErrors "dataplane/pkg/domain-errors"
	"dataplane/pkg/platform/audit"
	"dataplane/pkg/platform/httputil"
	"dataplane/pkg/requestcontext"
)

// filterPrefix marks query parameters that become equality filters on GET
// record listings: ?filter.city=Paris.
const filterPrefix = "filter."

// Service defines the dataset operations the HTTP layer exposes.
type Service interface {
	CreateDataset(ctx context.Context, req models.CreateDatasetRequest, actor domain.Actor) (*models.Dataset, error)
	GetDataset(ctx context.Context, datasetID domain.DatasetID, actor domain.Actor) (*models.Dataset, error)
	ListReadableDatasets(ctx context.Context, filter models.DatasetFilter, actor domain.Actor) ([]*models.Dataset, error)
	UpdateDataset(ctx context.Context, datasetID domain.DatasetID, req models.UpdateDatasetRequest, actor domain.Actor) (*models.Dataset, error)
	DeleteDataset(ctx context.Context, datasetID domain.DatasetID, actor domain.Actor) error

	CreateRecord(ctx context.Context, datasetID domain.DatasetID, req models.CreateRecordRequest, actor domain.Actor) (*models.Record, error)
	BatchCreateRecords(ctx context.Context, datasetID domain.DatasetID, reqs []models.CreateRecordRequest, actor domain.Actor) ([]*models.Record, error)
	GetRecord(ctx context.Context, recordID domain.RecordID, actor domain.Actor) (*models.Record, error)
	UpdateRecord(ctx context.Context, recordID domain.RecordID, req models.UpdateRecordRequest, actor domain.Actor) (*models.Record, error)
	DeleteRecord(ctx context.Context, recordID domain.RecordID, actor domain.Actor) error
	RecordHistory(ctx context.Context, recordID domain.RecordID, actor domain.Actor) ([]audit.Entry, error)

	QueryRecords(ctx context.Context, q models.RecordQuery, actor domain.Actor) (*models.RecordPage, error)
	GetStatisticsFor(ctx context.Context, orgID *domain.OrganizationID, actor domain.Actor) (*models.Statistics, error)
}

// Exporter writes a dataset snapshot to object storage.
type Exporter interface {
	Export(ctx context.Context, datasetID domain.DatasetID, actor domain.Actor) (*export.Result, error)
}

// Handler wires dataset, record and statistics endpoints to the service.
type Handler struct {
	service  Service
	exporter Exporter
	logger   *slog.Logger
}

// New constructs a dataset handler. exporter may be nil, which disables the
// export endpoint.
func New(service Service, exporter Exporter, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		exporter: exporter,
		logger:   logger,
	}
}

// Register mounts the endpoints. The router must already authenticate the
// caller.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1/datasets", func(r chi.Router) {
		r.Post("/", h.HandleCreateDataset)
		r.Get("/", h.HandleListDatasets)
		r.Route("/{datasetID}", func(r chi.Router) {
			r.Get("/", h.HandleGetDataset)
			r.Patch("/", h.HandleUpdateDataset)
			r.Delete("/", h.HandleDeleteDataset)
			r.Post("/records", h.HandleCreateRecord)
			r.Get("/records", h.HandleListRecords)
			r.Post("/records/batch", h.HandleBatchCreateRecords)
			r.Post("/records/query", h.HandleQueryRecords)
			r.Post("/exports", h.HandleExport)
		})
	})
	r.Route("/v1/records/{recordID}", func(r chi.Router) {
		r.Get("/", h.HandleGetRecord)
		r.Patch("/", h.HandleUpdateRecord)
		r.Delete("/", h.HandleDeleteRecord)
		r.Get("/history", h.HandleRecordHistory)
	})
	r.Get("/v1/statistics", h.HandleStatistics)
}

// =============================================================================
// Datasets
// =============================================================================

// HandleCreateDataset handles POST /v1/datasets.
func (h *Handler) HandleCreateDataset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CreateDatasetRequest](w, r, h.logger, requestID)
	if !ok {
		return
	}
	d, err := h.service.CreateDataset(ctx, req.toModel(), requestcontext.Actor(ctx))
	if err != nil {
		h.fail(w, r, "create dataset failed", err)
		return
	}
	h.logger.InfoContext(ctx, "dataset created",
		"request_id", requestID,
		"dataset_id", d.ID.String(),
	)
	httputil.WriteJSON(w, http.StatusCreated, d)
}

// HandleListDatasets handles GET /v1/datasets.
func (h *Handler) HandleListDatasets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	filter := models.DatasetFilter{
		SourceApplication: q.Get("source_application"),
		Status:            models.DatasetStatus(q.Get("status")),
	}
	orgID, err := optionalOrg(q)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	filter.OrganizationID = orgID
	if filter.Limit, err = intParam(q, "limit"); err != nil {
		httputil.WriteError(w, err)
		return
	}

	datasets, err := h.service.ListReadableDatasets(ctx, filter, requestcontext.Actor(ctx))
	if err != nil {
		h.fail(w, r, "list datasets failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"datasets": datasets})
}

// HandleGetDataset handles GET /v1/datasets/{datasetID}.
func (h *Handler) HandleGetDataset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	datasetID, err := datasetParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	d, err := h.service.GetDataset(ctx, datasetID, requestcontext.Actor(ctx))
	if err != nil {
		h.fail(w, r, "get dataset failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

// HandleUpdateDataset handles PATCH /v1/datasets/{datasetID}.
func (h *Handler) HandleUpdateDataset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	datasetID, err := datasetParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[UpdateDatasetRequest](w, r, h.logger, requestID)
	if !ok {
		return
	}
	d, err := h.service.UpdateDataset(ctx, datasetID, req.toModel(), requestcontext.Actor(ctx))
	if err != nil {
		h.fail(w, r, "update dataset failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

// HandleDeleteDataset handles DELETE /v1/datasets/{datasetID}.
func (h *Handler) HandleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	datasetID, err := datasetParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.DeleteDataset(ctx, datasetID, requestcontext.Actor(ctx)); err != nil {
		h.fail(w, r, "delete dataset failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Records
// =============================================================================

// HandleCreateRecord handles POST /v1/datasets/{datasetID}/records.
func (h *Handler) HandleCreateRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	datasetID, err := datasetParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[RecordRequest](w, r, h.logger, requestID)
	if !ok {
		return
	}
	rec, err := h.service.CreateRecord(ctx, datasetID, req.toCreate(), requestcontext.Actor(ctx))
	if err != nil {
		h.fail(w, r, "create record failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, rec)
}

// HandleBatchCreateRecords handles POST /v1/datasets/{datasetID}/records/batch.
func (h *Handler) HandleBatchCreateRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()
	datasetID, err := datasetParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[BatchRequest](w, r, h.logger, requestID)
	if !ok {
		return
	}
	records, err := h.service.BatchCreateRecords(ctx, datasetID, req.toModel(), requestcontext.Actor(ctx))
	if err != nil {
		h.fail(w, r, "batch import failed", err)
		return
	}
	h.logger.InfoContext(ctx, "batch imported",
		"request_id", requestID,
		"dataset_id", datasetID.String(),
		"count", len(records),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{
		"count":   len(records),
		"records": records,
	})
}

// HandleGetRecord handles GET /v1/records/{recordID}.
func (h *Handler) HandleGetRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	recordID, err := recordParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	rec, err := h.service.GetRecord(ctx, recordID, requestcontext.Actor(ctx))
	if err != nil {
		h.fail(w, r, "get record failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

// HandleUpdateRecord handles PATCH /v1/records/{recordID}. Keys present in
// data replace stored values; an explicit null stores null.
func (h *Handler) HandleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	recordID, err := recordParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[RecordRequest](w, r, h.logger, requestID)
	if !ok {
		return
	}
	rec, err := h.service.UpdateRecord(ctx, recordID, models.UpdateRecordRequest{
		Data:   req.Data,
		Source: req.Source,
	}, requestcontext.Actor(ctx))
	if err != nil {
		h.fail(w, r, "update record failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

// HandleDeleteRecord handles DELETE /v1/records/{recordID}.
func (h *Handler) HandleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	recordID, err := recordParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.DeleteRecord(ctx, recordID, requestcontext.Actor(ctx)); err != nil {
		h.fail(w, r, "delete record failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRecordHistory handles GET /v1/records/{recordID}/history.
func (h *Handler) HandleRecordHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	recordID, err := recordParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entries, err := h.service.RecordHistory(ctx, recordID, requestcontext.Actor(ctx))
	if err != nil {
		h.fail(w, r, "record history failed", err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// =============================================================================
// Queries, exports, statistics
// =============================================================================

// HandleListRecords handles GET /v1/datasets/{datasetID}/records. Filter
// values arrive as strings and are normalized to the field type.
func (h *Handler) HandleListRecords(w http.ResponseWriter, r *http.Request) {
	datasetID, err := datasetParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	q := r.URL.Query()
	req := QueryRequest{
		SortBy:    q.Get("sort_by"),
		SortOrder: q.Get("sort_order"),
	}
	if req.Page, err = intParam(q, "page"); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.PageSize, err = intParam(q, "page_size"); err != nil {
		httputil.WriteError(w, err)
		return
	}
	for key, values := range q {
		name, ok := strings.CutPrefix(key, filterPrefix)
		if !ok || name == "" || len(values) == 0 {
			continue
		}
		if req.Filters == nil {
			req.Filters = models.Data{}
		}
		req.Filters[name] = models.String(values[0])
	}
	h.query(w, r, datasetID, req)
}

// HandleQueryRecords handles POST /v1/datasets/{datasetID}/records/query.
func (h *Handler) HandleQueryRecords(w http.ResponseWriter, r *http.Request) {
	datasetID, err := datasetParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[QueryRequest](w, r, h.logger, requestcontext.RequestID(r.Context()))
	if !ok {
		return
	}
	h.query(w, r, datasetID, *req)
}

func (h *Handler) query(w http.ResponseWriter, r *http.Request, datasetID domain.DatasetID, req QueryRequest) {
	ctx := r.Context()
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}
	page, err := h.service.QueryRecords(ctx, req.toModel(datasetID), requestcontext.Actor(ctx))
	if err != nil {
		h.fail(w, r, "query records failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

// HandleExport handles POST /v1/datasets/{datasetID}/exports.
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.exporter == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnavailable, "exports are not configured"))
		return
	}
	datasetID, err := datasetParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.exporter.Export(ctx, datasetID, requestcontext.Actor(ctx))
	if err != nil {
		h.fail(w, r, "export failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, res)
}

// HandleStatistics handles GET /v1/statistics.
func (h *Handler) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, err := optionalOrg(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	stats, err := h.service.GetStatisticsFor(ctx, orgID, requestcontext.Actor(ctx))
	if err != nil {
		h.fail(w, r, "statistics failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

// fail logs at warn for caller errors and error for everything else.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	level := slog.LevelWarn
	if httputil.StatusFor(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestcontext.RequestID(ctx),
		"actor", requestcontext.Actor(ctx).String(),
		"error", err,
	)
	httputil.WriteError(w, err)
}

func datasetParam(r *http.Request) (domain.DatasetID, error) {
	id, err := domain.ParseDatasetID(chi.URLParam(r, "datasetID"))
	if err != nil {
		return domain.DatasetID{}, dErrors.NewField(dErrors.CodeBadRequest, "dataset_id", "invalid dataset id")
	}
	return id, nil
}

func recordParam(r *http.Request) (domain.RecordID, error) {
	id, err := domain.ParseRecordID(chi.URLParam(r, "recordID"))
	if err != nil {
		return domain.RecordID{}, dErrors.NewField(dErrors.CodeBadRequest, "record_id", "invalid record id")
	}
	return id, nil
}

func optionalOrg(q url.Values) (*domain.OrganizationID, error) {
	raw := strings.TrimSpace(q.Get("organization_id"))
	if raw == "" {
		return nil, nil
	}
	orgID, err := domain.ParseOrganizationID(raw)
	if err != nil {
		return nil, dErrors.NewField(dErrors.CodeBadRequest, "organization_id", "invalid organization id")
	}
	return &orgID, nil
}

func intParam(q url.Values, name string) (int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, dErrors.NewField(dErrors.CodeBadRequest, name, name+" must be a non-negative integer")
	}
	return n, nil
}
