package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	datasetmetrics "dataplane/internal/dataset/metrics"
	"dataplane/internal/dataset/models"
	"dataplane/internal/dataset/service"
	"dataplane/internal/dataset/service/mocks"
	datasetstore "dataplane/internal/dataset/store/dataset"
	recordstore "dataplane/internal/dataset/store/record"
	"dataplane/pkg/domain"
	dErrors "dataplane/pkg/domain-errors"
	"dataplane/pkg/platform/audit"
	auditmemory "dataplane/pkg/platform/audit/store/memory"
	"dataplane/pkg/platform/audit/writer"
	"dataplane/pkg/platform/sentinel"
)

type ServiceSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	datasets *datasetstore.InMemory
	records  *recordstore.InMemory
	trail    *auditmemory.InMemoryStore
	keys     *mocks.MockAPIKeyAuthorizer
	notifier *mocks.MockNotifier
	svc      *service.Service
	ctx      context.Context
	org      domain.OrganizationID
	owner    domain.Actor
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.datasets = datasetstore.NewInMemory()
	s.records = recordstore.NewInMemory()
	s.trail = auditmemory.NewInMemoryStore()
	s.keys = mocks.NewMockAPIKeyAuthorizer(s.ctrl)
	s.notifier = mocks.NewMockNotifier(s.ctrl)
	s.ctx = context.Background()
	s.org = domain.OrganizationID(uuid.New())
	s.owner = domain.UserActor(domain.UserID(uuid.New()))
	s.svc = s.newService(s.datasets)
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceSuite) newService(datasets service.DatasetStore, opts ...service.Option) *service.Service {
	reg := prometheus.NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auditLog := writer.New(s.trail, writer.WithLogger(logger), writer.WithMetrics(writer.NewMetricsWith(reg)))
	base := []service.Option{
		service.WithLogger(logger),
		service.WithMetrics(datasetmetrics.NewWith(reg)),
		service.WithAPIKeyAuthorizer(s.keys),
		service.WithNotifier(s.notifier),
	}
	return service.New(datasets, s.records, auditLog, append(base, opts...)...)
}

// createSurvey builds the dataset used throughout: a required, searchable,
// sortable number field and an optional searchable string.
func (s *ServiceSuite) createSurvey(cfg *models.Config) *models.Dataset {
	d, err := s.svc.CreateDataset(s.ctx, models.CreateDatasetRequest{
		Name:           "Survey",
		OrganizationID: s.org,
		Fields: []models.Field{
			{Name: "age", Type: models.FieldNumber, Required: true, Searchable: true, Sortable: true},
			{Name: "city", Type: models.FieldString, Searchable: true, Order: 1},
		},
		Config: cfg,
	}, s.owner)
	s.Require().NoError(err)
	return d
}

func (s *ServiceSuite) createAge(datasetID domain.DatasetID, age float64) *models.Record {
	r, err := s.svc.CreateRecord(s.ctx, datasetID, models.CreateRecordRequest{
		Data: models.Data{"age": models.Number(age)},
	}, s.owner)
	s.Require().NoError(err)
	return r
}

func (s *ServiceSuite) entries(action audit.Action) []audit.Entry {
	var out []audit.Entry
	for _, e := range s.trail.All() {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func (s *ServiceSuite) assertCounterMatches(datasetID domain.DatasetID) {
	d, err := s.datasets.FindByID(s.ctx, datasetID)
	s.Require().NoError(err)
	active, err := s.records.CountActive(s.ctx, datasetID)
	s.Require().NoError(err)
	s.Equal(active, d.Metadata.RecordCount, "record count must equal active records")
}

// =============================================================================
// Datasets
// =============================================================================

func (s *ServiceSuite) TestCreateDataset() {
	s.Run("round trips with defaults and a zero count", func() {
		d := s.createSurvey(nil)

		got, err := s.svc.GetDataset(s.ctx, d.ID, s.owner)
		s.Require().NoError(err)
		s.Equal("Survey", got.Name)
		s.Equal(models.DatasetActive, got.Status)
		s.Zero(got.Metadata.RecordCount)
		s.Equal("1.0", got.Schema.Version)
		s.Equal([]string{"age", "city"}, got.Schema.FieldNames())
		s.Equal(models.ValidationStrict, got.Config.ValidationMode)
		s.True(got.Config.ValidateOnSubmit)
		s.True(got.Permissions.APIAccess)
		s.Equal(models.PublicAccessNone, got.Permissions.PublicAccess)
		uid, _ := s.owner.UserID()
		s.Contains(got.Permissions.Owners, uid)

		created := s.entries(audit.ActionCreate)
		s.Require().Len(created, 1)
		s.Equal(d.ID, created[0].DatasetID)
	})

	s.Run("rejects an empty name", func() {
		_, err := s.svc.CreateDataset(s.ctx, models.CreateDatasetRequest{Name: "   ", OrganizationID: s.org}, s.owner)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Equal("name", dErrors.FieldOf(err))
	})

	s.Run("rejects duplicate field names", func() {
		_, err := s.svc.CreateDataset(s.ctx, models.CreateDatasetRequest{
			Name:           "Dupes",
			OrganizationID: s.org,
			Fields: []models.Field{
				{Name: "a", Type: models.FieldString},
				{Name: "a", Type: models.FieldNumber},
			},
		}, s.owner)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("requires an actor", func() {
		_, err := s.svc.CreateDataset(s.ctx, models.CreateDatasetRequest{Name: "x", OrganizationID: s.org}, domain.Actor{})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestUpdateDataset() {
	s.Run("field list change bumps the version and logs schema_change", func() {
		d := s.createSurvey(nil)
		fields := append(d.Schema.Fields, models.Field{Name: "email", Type: models.FieldEmail, Order: 2})

		got, err := s.svc.UpdateDataset(s.ctx, d.ID, models.UpdateDatasetRequest{Fields: &fields}, s.owner)
		s.Require().NoError(err)
		s.Equal("1.1", got.Schema.Version)

		changes := s.entries(audit.ActionSchemaChange)
		s.Require().Len(changes, 1)
		s.JSONEq(`["age","city"]`, string(changes[0].Details.Before))
		s.JSONEq(`["age","city","email"]`, string(changes[0].Details.After))
		s.NotEmpty(s.entries(audit.ActionUpdate))
	})

	s.Run("other changes keep the version", func() {
		s.trail.Clear()
		d := s.createSurvey(nil)
		name := "Renamed"
		got, err := s.svc.UpdateDataset(s.ctx, d.ID, models.UpdateDatasetRequest{Name: &name}, s.owner)
		s.Require().NoError(err)
		s.Equal("Renamed", got.Name)
		s.Equal("1.0", got.Schema.Version)
		s.Empty(s.entries(audit.ActionSchemaChange))
		s.Require().Len(s.entries(audit.ActionUpdate), 1)
		s.Equal([]string{"name"}, s.entries(audit.ActionUpdate)[0].Details.Changes)
	})

	s.Run("explicit version wins", func() {
		d := s.createSurvey(nil)
		fields := d.Schema.Fields[:1]
		version := "2.0"
		got, err := s.svc.UpdateDataset(s.ctx, d.ID, models.UpdateDatasetRequest{Fields: &fields, SchemaVersion: &version}, s.owner)
		s.Require().NoError(err)
		s.Equal("2.0", got.Schema.Version)
	})

	s.Run("status cannot be set to deleted", func() {
		d := s.createSurvey(nil)
		status := models.DatasetDeleted
		_, err := s.svc.UpdateDataset(s.ctx, d.ID, models.UpdateDatasetRequest{Status: &status}, s.owner)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("non-owners are denied", func() {
		d := s.createSurvey(nil)
		name := "Hijacked"
		stranger := domain.UserActor(domain.UserID(uuid.New()))
		_, err := s.svc.UpdateDataset(s.ctx, d.ID, models.UpdateDatasetRequest{Name: &name}, stranger)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		s.EqualError(err, "access denied")
	})

	s.Run("deleted datasets are not found", func() {
		d := s.createSurvey(nil)
		s.Require().NoError(s.svc.DeleteDataset(s.ctx, d.ID, s.owner))
		name := "Ghost"
		_, err := s.svc.UpdateDataset(s.ctx, d.ID, models.UpdateDatasetRequest{Name: &name}, s.owner)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestDeleteDatasetKeepsRecords() {
	d := s.createSurvey(nil)
	r := s.createAge(d.ID, 40)

	s.Require().NoError(s.svc.DeleteDataset(s.ctx, d.ID, s.owner))

	_, err := s.svc.GetDataset(s.ctx, d.ID, s.owner)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	stored, err := s.records.FindByID(s.ctx, r.ID)
	s.Require().NoError(err)
	s.False(stored.IsDeleted())
	s.Len(s.entries(audit.ActionDelete), 1)

	listed, err := s.svc.ListDatasets(s.ctx, models.DatasetFilter{OrganizationID: &s.org})
	s.Require().NoError(err)
	s.Empty(listed)
}

func (s *ServiceSuite) TestArchivedDatasetRejectsWrites() {
	d := s.createSurvey(nil)
	archived := models.DatasetArchived
	_, err := s.svc.UpdateDataset(s.ctx, d.ID, models.UpdateDatasetRequest{Status: &archived}, s.owner)
	s.Require().NoError(err)

	_, err = s.svc.CreateRecord(s.ctx, d.ID, models.CreateRecordRequest{Data: models.Data{"age": models.Number(1)}}, s.owner)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	_, err = s.svc.GetDataset(s.ctx, d.ID, s.owner)
	s.NoError(err)
}

// =============================================================================
// Records
// =============================================================================

func (s *ServiceSuite) TestScenarioA_CreateRecordValidatesAndCounts() {
	d := s.createSurvey(nil)

	r := s.createAge(d.ID, 34)
	s.Equal(int64(1), r.Version)
	s.Equal(models.RecordActive, r.Status)

	got, err := s.svc.GetDataset(s.ctx, d.ID, s.owner)
	s.Require().NoError(err)
	s.Equal(int64(1), got.Metadata.RecordCount)
	s.NotNil(got.Metadata.LastRecordAt)

	_, err = s.svc.CreateRecord(s.ctx, d.ID, models.CreateRecordRequest{Data: models.Data{}}, s.owner)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Equal("age", dErrors.FieldOf(err))

	created := s.entries(audit.ActionCreate)
	s.Require().Len(created, 2)
	s.Equal(r.ID, created[1].RecordID)
	s.assertCounterMatches(d.ID)
}

func (s *ServiceSuite) TestValidationModes() {
	s.Run("strict rejects unknown fields", func() {
		d := s.createSurvey(nil)
		_, err := s.svc.CreateRecord(s.ctx, d.ID, models.CreateRecordRequest{
			Data: models.Data{"age": models.Number(3), "shoe": models.String("42")},
		}, s.owner)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Equal("shoe", dErrors.FieldOf(err))
	})

	s.Run("allow_extra_fields keeps unknown fields and enforces required", func() {
		d := s.createSurvey(&models.Config{ValidationMode: models.ValidationAllowExtraFields, ValidateOnSubmit: true})
		r, err := s.svc.CreateRecord(s.ctx, d.ID, models.CreateRecordRequest{
			Data: models.Data{"age": models.Number(3), "shoe": models.String("42")},
		}, s.owner)
		s.Require().NoError(err)
		s.True(r.Data["shoe"].Equal(models.String("42")))

		_, err = s.svc.CreateRecord(s.ctx, d.ID, models.CreateRecordRequest{Data: models.Data{"shoe": models.String("1")}}, s.owner)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("type mismatches name the field", func() {
		d := s.createSurvey(nil)
		_, err := s.svc.CreateRecord(s.ctx, d.ID, models.CreateRecordRequest{
			Data: models.Data{"age": models.Bool(true)},
		}, s.owner)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Equal("age", dErrors.FieldOf(err))
	})
}

func (s *ServiceSuite) TestUpdateRecordBumpsVersionByOne() {
	d := s.createSurvey(nil)
	r, err := s.svc.CreateRecord(s.ctx, d.ID, models.CreateRecordRequest{
		Data: models.Data{"age": models.Number(20), "city": models.String("Oslo")},
	}, s.owner)
	s.Require().NoError(err)

	for i := 1; i <= 3; i++ {
		updated, err := s.svc.UpdateRecord(s.ctx, r.ID, models.UpdateRecordRequest{
			Data: models.Data{"age": models.Number(float64(20 + i))},
		}, s.owner)
		s.Require().NoError(err)
		s.Equal(int64(1+i), updated.Version)
		s.True(updated.Data["city"].Equal(models.String("Oslo")), "untouched keys survive a merge")
	}

	updated, err := s.svc.UpdateRecord(s.ctx, r.ID, models.UpdateRecordRequest{Data: models.Data{"city": models.Null()}}, s.owner)
	s.Require().NoError(err)
	s.Equal(int64(5), updated.Version)
	v, ok := updated.Data["city"]
	s.True(ok)
	s.True(v.IsNull())

	updates := s.entries(audit.ActionUpdate)
	s.Require().Len(updates, 4)
	s.Equal([]string{"age"}, updates[0].Details.Changes)
	s.JSONEq(`{"age":20,"city":"Oslo"}`, string(updates[0].Details.Before))
	s.JSONEq(`{"age":21,"city":"Oslo"}`, string(updates[0].Details.After))

	s.Run("required fields stay required after a merge", func() {
		_, err := s.svc.UpdateRecord(s.ctx, r.ID, models.UpdateRecordRequest{Data: models.Data{"age": models.Null()}}, s.owner)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		got, err := s.svc.GetRecord(s.ctx, r.ID, s.owner)
		s.Require().NoError(err)
		s.Equal(int64(5), got.Version)
	})
}

func (s *ServiceSuite) TestConcurrentUpdatesSerializePerRecord() {
	d := s.createSurvey(nil)
	r := s.createAge(d.ID, 1)

	const writers = 20
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.UpdateRecord(s.ctx, r.ID, models.UpdateRecordRequest{
				Data: models.Data{"age": models.Number(float64(i))},
			}, s.owner)
			s.NoError(err)
		}()
	}
	wg.Wait()

	got, err := s.svc.GetRecord(s.ctx, r.ID, s.owner)
	s.Require().NoError(err)
	s.Equal(int64(1+writers), got.Version)
}

func (s *ServiceSuite) TestDeleteRecord() {
	d := s.createSurvey(nil)
	keep := s.createAge(d.ID, 1)
	drop := s.createAge(d.ID, 2)

	s.Require().NoError(s.svc.DeleteRecord(s.ctx, drop.ID, s.owner))

	_, err := s.svc.GetRecord(s.ctx, drop.ID, s.owner)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.True(dErrors.HasCode(s.svc.DeleteRecord(s.ctx, drop.ID, s.owner), dErrors.CodeNotFound))

	_, err = s.svc.UpdateRecord(s.ctx, drop.ID, models.UpdateRecordRequest{Data: models.Data{"age": models.Number(9)}}, s.owner)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	got, err := s.svc.GetDataset(s.ctx, d.ID, s.owner)
	s.Require().NoError(err)
	s.Equal(int64(1), got.Metadata.RecordCount)

	_, err = s.svc.GetRecord(s.ctx, keep.ID, s.owner)
	s.NoError(err)
	s.assertCounterMatches(d.ID)
}

func (s *ServiceSuite) TestRecordHistory() {
	d := s.createSurvey(nil)
	r := s.createAge(d.ID, 1)
	_, err := s.svc.UpdateRecord(s.ctx, r.ID, models.UpdateRecordRequest{Data: models.Data{"age": models.Number(2)}}, s.owner)
	s.Require().NoError(err)
	s.Require().NoError(s.svc.DeleteRecord(s.ctx, r.ID, s.owner))

	history, err := s.svc.RecordHistory(s.ctx, r.ID, s.owner)
	s.Require().NoError(err)
	s.Require().Len(history, 3)
	s.Equal(audit.ActionCreate, history[0].Action)
	s.Equal(audit.ActionUpdate, history[1].Action)
	s.Equal(audit.ActionDelete, history[2].Action)
}

// TestScenarioD_ConcurrentCreates verifies that concurrent creates against one
// dataset never lose a counter increment.
func (s *ServiceSuite) TestScenarioD_ConcurrentCreates() {
	d := s.createSurvey(nil)

	const goroutines = 50
	var wg sync.WaitGroup
	for i := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.CreateRecord(s.ctx, d.ID, models.CreateRecordRequest{
				Data: models.Data{"age": models.Number(float64(i))},
			}, s.owner)
			s.NoError(err)
		}()
	}
	wg.Wait()

	got, err := s.svc.GetDataset(s.ctx, d.ID, s.owner)
	s.Require().NoError(err)
	s.Equal(int64(goroutines), got.Metadata.RecordCount)
	s.assertCounterMatches(d.ID)
}

// failingCounterStore fails every counter adjustment after delegating the
// rest to the in-memory store.
// lockingStore notes which datasets were loaded with a row lock.
type lockingStore struct {
	*datasetstore.InMemory
	locked []domain.DatasetID
}

func (l *lockingStore) FindForUpdate(ctx context.Context, id domain.DatasetID) (*models.Dataset, error) {
	l.locked = append(l.locked, id)
	return l.InMemory.FindForUpdate(ctx, id)
}

func (s *ServiceSuite) TestDefinitionChangesLockTheDataset() {
	d := s.createSurvey(nil)
	store := &lockingStore{InMemory: s.datasets}
	svc := s.newService(store)

	name := "Renamed"
	_, err := svc.UpdateDataset(s.ctx, d.ID, models.UpdateDatasetRequest{Name: &name}, s.owner)
	s.Require().NoError(err)
	s.Require().NoError(svc.DeleteDataset(s.ctx, d.ID, s.owner))

	s.Equal([]domain.DatasetID{d.ID, d.ID}, store.locked)
}

type failingCounterStore struct {
	*datasetstore.InMemory
}

func (failingCounterStore) AdjustRecordCount(context.Context, domain.DatasetID, int64, *time.Time) (int64, error) {
	return 0, sentinel.ErrUnavailable
}

func (s *ServiceSuite) TestFailedCounterRollsBackRecord() {
	d := s.createSurvey(nil)
	svc := s.newService(failingCounterStore{s.datasets})
	s.trail.Clear()

	_, err := svc.CreateRecord(s.ctx, d.ID, models.CreateRecordRequest{Data: models.Data{"age": models.Number(1)}}, s.owner)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))

	n, err := s.records.CountActive(s.ctx, d.ID)
	s.Require().NoError(err)
	s.Zero(n)
	s.Empty(s.trail.All(), "no audit entry for a mutation that did not happen")

	_, err = svc.BatchCreateRecords(s.ctx, d.ID, []models.CreateRecordRequest{
		{Data: models.Data{"age": models.Number(1)}},
		{Data: models.Data{"age": models.Number(2)}},
	}, s.owner)
	s.Require().Error(err)
	n, err = s.records.CountActive(s.ctx, d.ID)
	s.Require().NoError(err)
	s.Zero(n)
}

// =============================================================================
// Query
// =============================================================================

func (s *ServiceSuite) TestScenarioB_QueryRecords() {
	d := s.createSurvey(nil)
	target := s.createAge(d.ID, 34)
	s.createAge(d.ID, 50)

	page, err := s.svc.QueryRecords(s.ctx, models.RecordQuery{
		DatasetID: d.ID,
		Filters:   models.Data{"age": models.Number(34)},
	}, s.owner)
	s.Require().NoError(err)
	s.Equal(1, page.Total)
	s.Require().Len(page.Records, 1)
	s.Equal(target.ID, page.Records[0].ID)

	_, err = s.svc.QueryRecords(s.ctx, models.RecordQuery{
		DatasetID: d.ID,
		Filters:   models.Data{"unknownField": models.Number(1)},
	}, s.owner)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Equal("unknownField", dErrors.FieldOf(err))
}

func (s *ServiceSuite) TestQueryPagingAndSorting() {
	d := s.createSurvey(nil)
	for i := range 7 {
		s.createAge(d.ID, float64(i))
	}
	second := s.createAge(d.ID, 100)
	s.Require().NoError(s.svc.DeleteRecord(s.ctx, second.ID, s.owner))

	s.Run("total covers the full filtered set", func() {
		page, err := s.svc.QueryRecords(s.ctx, models.RecordQuery{DatasetID: d.ID, Page: 2, PageSize: 3}, s.owner)
		s.Require().NoError(err)
		s.Equal(7, page.Total)
		s.Equal(3, page.TotalPages)
		s.Equal(2, page.Page)
		s.Len(page.Records, 3)
	})

	s.Run("sorts by a sortable field", func() {
		page, err := s.svc.QueryRecords(s.ctx, models.RecordQuery{
			DatasetID: d.ID, SortBy: "age", SortOrder: models.SortAsc, PageSize: 2,
		}, s.owner)
		s.Require().NoError(err)
		s.True(page.Records[0].Data["age"].Equal(models.Number(0)))
		s.True(page.Records[1].Data["age"].Equal(models.Number(1)))
	})

	s.Run("rejects sorting on a non-sortable field", func() {
		_, err := s.svc.QueryRecords(s.ctx, models.RecordQuery{DatasetID: d.ID, SortBy: "city"}, s.owner)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("clamps the page size", func() {
		svc := s.newService(s.datasets, service.WithMaxPageSize(4))
		page, err := svc.QueryRecords(s.ctx, models.RecordQuery{DatasetID: d.ID, PageSize: 1000}, s.owner)
		s.Require().NoError(err)
		s.Equal(4, page.PageSize)
		s.Len(page.Records, 4)
	})
}

// =============================================================================
// Batch import
// =============================================================================

func (s *ServiceSuite) TestBatchCreateRecords() {
	batch := func(ages ...float64) []models.CreateRecordRequest {
		out := make([]models.CreateRecordRequest, len(ages))
		for i, a := range ages {
			out[i] = models.CreateRecordRequest{Data: models.Data{"age": models.Number(a)}}
		}
		return out
	}

	s.Run("imports every record and counts once", func() {
		d := s.createSurvey(nil)
		created, err := s.svc.BatchCreateRecords(s.ctx, d.ID, batch(1, 2, 3), s.owner)
		s.Require().NoError(err)
		s.Len(created, 3)
		for _, r := range created {
			s.Equal(int64(1), r.Version)
		}

		got, err := s.svc.GetDataset(s.ctx, d.ID, s.owner)
		s.Require().NoError(err)
		s.Equal(int64(3), got.Metadata.RecordCount)

		imports := s.entries(audit.ActionImport)
		s.Require().NotEmpty(imports)
		s.Equal(3, imports[len(imports)-1].Details.Count)
		s.assertCounterMatches(d.ID)
	})

	s.Run("one invalid record rejects the batch", func() {
		d := s.createSurvey(nil)
		reqs := batch(1, 2)
		reqs = append(reqs, models.CreateRecordRequest{Data: models.Data{}})
		_, err := s.svc.BatchCreateRecords(s.ctx, d.ID, reqs, s.owner)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Contains(err.Error(), "record 2")

		n, err := s.records.CountActive(s.ctx, d.ID)
		s.Require().NoError(err)
		s.Zero(n)
	})

	s.Run("oversized batch is rejected with zero records", func() {
		svc := s.newService(s.datasets, service.WithMaxBatchSize(2))
		d := s.createSurvey(nil)
		_, err := svc.BatchCreateRecords(s.ctx, d.ID, batch(1, 2, 3), s.owner)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.EqualError(err, "batch size 3 exceeds limit 2")

		n, err := s.records.CountActive(s.ctx, d.ID)
		s.Require().NoError(err)
		s.Zero(n)
	})

	s.Run("empty batch is rejected", func() {
		d := s.createSurvey(nil)
		_, err := s.svc.BatchCreateRecords(s.ctx, d.ID, nil, s.owner)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("per-record audit entries when enabled", func() {
		svc := s.newService(s.datasets, service.WithAuditPerRecordImport(true))
		d := s.createSurvey(nil)
		s.trail.Clear()
		_, err := svc.BatchCreateRecords(s.ctx, d.ID, batch(1, 2), s.owner)
		s.Require().NoError(err)
		s.Len(s.entries(audit.ActionImport), 1)
		s.Len(s.entries(audit.ActionCreate), 2)
	})
}

// =============================================================================
// Authorization
// =============================================================================

// TestScenarioC_ReadOnlyKey verifies a read-only key can read but not write.
func (s *ServiceSuite) TestScenarioC_ReadOnlyKey() {
	d := s.createSurvey(nil)
	r := s.createAge(d.ID, 34)
	key := domain.APIKeyActor(domain.NewAPIKeyID())
	keyID, _ := key.APIKeyID()

	s.keys.EXPECT().
		AuthorizeKey(gomock.Any(), keyID, s.org, &d.ID, domain.PermissionWrite).
		Return(dErrors.New(dErrors.CodeForbidden, "access denied"))
	_, err := s.svc.CreateRecord(s.ctx, d.ID, models.CreateRecordRequest{Data: models.Data{"age": models.Number(1)}}, key)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	s.EqualError(err, "access denied")

	s.keys.EXPECT().
		AuthorizeKey(gomock.Any(), keyID, s.org, &d.ID, domain.PermissionRead).
		Return(nil)
	got, err := s.svc.GetRecord(s.ctx, r.ID, key)
	s.Require().NoError(err)
	s.Equal(r.ID, got.ID)
}

func (s *ServiceSuite) TestAuthorizationRules() {
	d := s.createSurvey(nil)
	r := s.createAge(d.ID, 34)

	s.Run("strangers cannot read private datasets", func() {
		stranger := domain.UserActor(domain.UserID(uuid.New()))
		_, err := s.svc.GetRecord(s.ctx, r.ID, stranger)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("editors write records but cannot change the definition", func() {
		editorID := domain.UserID(uuid.New())
		perms := d.Permissions
		perms.Editors = []domain.UserID{editorID}
		_, err := s.svc.UpdateDataset(s.ctx, d.ID, models.UpdateDatasetRequest{Permissions: &perms}, s.owner)
		s.Require().NoError(err)

		editor := domain.UserActor(editorID)
		_, err = s.svc.CreateRecord(s.ctx, d.ID, models.CreateRecordRequest{Data: models.Data{"age": models.Number(2)}}, editor)
		s.Require().NoError(err)

		name := "Mine"
		_, err = s.svc.UpdateDataset(s.ctx, d.ID, models.UpdateDatasetRequest{Name: &name}, editor)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("public read access lets anyone query", func() {
		perms := d.Permissions
		perms.PublicAccess = models.PublicAccessRead
		_, err := s.svc.UpdateDataset(s.ctx, d.ID, models.UpdateDatasetRequest{Permissions: &perms}, s.owner)
		s.Require().NoError(err)

		reader := domain.UserActor(domain.UserID(uuid.New()))
		_, err = s.svc.QueryRecords(s.ctx, models.RecordQuery{DatasetID: d.ID}, reader)
		s.NoError(err)
	})

	s.Run("keys are denied when the dataset disables api access", func() {
		perms := d.Permissions
		perms.APIAccess = false
		_, err := s.svc.UpdateDataset(s.ctx, d.ID, models.UpdateDatasetRequest{Permissions: &perms}, s.owner)
		s.Require().NoError(err)

		_, err = s.svc.GetRecord(s.ctx, r.ID, domain.APIKeyActor(domain.NewAPIKeyID()))
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("key dependency failures are not reported as denials", func() {
		perms := d.Permissions
		perms.APIAccess = true
		_, err := s.svc.UpdateDataset(s.ctx, d.ID, models.UpdateDatasetRequest{Permissions: &perms}, s.owner)
		s.Require().NoError(err)

		s.keys.EXPECT().AuthorizeKey(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(dErrors.Wrap(errors.New("redis down"), dErrors.CodeUnavailable, "api key store unavailable"))
		_, err = s.svc.GetRecord(s.ctx, r.ID, domain.APIKeyActor(domain.NewAPIKeyID()))
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	})

	s.Run("keys need org admin to create datasets", func() {
		key := domain.APIKeyActor(domain.NewAPIKeyID())
		keyID, _ := key.APIKeyID()
		s.keys.EXPECT().AuthorizeKey(gomock.Any(), keyID, s.org, nil, domain.PermissionAdmin).Return(nil)

		created, err := s.svc.CreateDataset(s.ctx, models.CreateDatasetRequest{Name: "Keyed", OrganizationID: s.org}, key)
		s.Require().NoError(err)
		s.Empty(created.Permissions.Owners)
		s.Equal(key, created.CreatedBy)
	})
}

// =============================================================================
// Notifications and statistics
// =============================================================================

func (s *ServiceSuite) TestNotifications() {
	s.Run("published after commit when enabled", func() {
		d := s.createSurvey(&models.Config{ValidationMode: models.ValidationStrict, ValidateOnSubmit: true, EnableNotifications: true})
		s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e models.Event) {
			s.Equal(models.EventRecordCreated, e.Type)
			s.Equal(d.ID, e.DatasetID)
			s.Equal(int64(1), e.Version)
		})
		s.createAge(d.ID, 1)
	})

	s.Run("silent when disabled", func() {
		d := s.createSurvey(nil)
		s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Times(0)
		s.createAge(d.ID, 1)
	})

	s.Run("not published for rejected writes", func() {
		d := s.createSurvey(&models.Config{ValidationMode: models.ValidationStrict, ValidateOnSubmit: true, EnableWebhooks: true})
		s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Times(0)
		_, err := s.svc.CreateRecord(s.ctx, d.ID, models.CreateRecordRequest{Data: models.Data{}}, s.owner)
		s.Error(err)
	})
}

func (s *ServiceSuite) TestGetStatistics() {
	small := s.createSurvey(nil)
	big := s.createSurvey(nil)
	gone := s.createSurvey(nil)
	s.createAge(small.ID, 1)
	for i := range 3 {
		s.createAge(big.ID, float64(i))
	}
	s.createAge(gone.ID, 1)
	s.Require().NoError(s.svc.DeleteDataset(s.ctx, gone.ID, s.owner))

	other := domain.OrganizationID(uuid.New())
	_, err := s.svc.CreateDataset(s.ctx, models.CreateDatasetRequest{Name: "Elsewhere", OrganizationID: other}, s.owner)
	s.Require().NoError(err)

	stats, err := s.svc.GetStatistics(s.ctx, &s.org)
	s.Require().NoError(err)
	s.Equal(2, stats.TotalDatasets)
	s.Equal(2, stats.ActiveDatasets)
	s.Equal(int64(4), stats.TotalRecords)
	s.Require().Len(stats.TopDatasets, 2)
	s.Equal(big.ID, stats.TopDatasets[0].ID)

	all, err := s.svc.GetStatistics(s.ctx, nil)
	s.Require().NoError(err)
	s.Equal(3, all.TotalDatasets)
}
