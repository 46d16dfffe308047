package handler_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"dataplane/internal/apikey/handler"
	"dataplane/internal/apikey/models"
	"dataplane/internal/apikey/service"
	keystore "dataplane/internal/apikey/store/apikey"
	"dataplane/pkg/domain"
	"dataplane/pkg/testutil"
)

type HandlerSuite struct {
	suite.Suite
	svc    *service.Service
	router http.Handler
	org    domain.OrganizationID
	issuer domain.Actor
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.svc = service.New(keystore.NewInMemory(), service.WithLogger(logger))
	r := chi.NewRouter()
	handler.New(s.svc, logger).Register(r)
	s.router = r
	s.org = domain.OrganizationID(uuid.New())
	s.issuer = domain.UserActor(domain.UserID(uuid.New()))
}

func (s *HandlerSuite) do(method, path string, body any, actor domain.Actor) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = testutil.NewJSONRequest(s.T(), method, path, body)
	} else {
		req = testutil.NewRequest(s.T(), method, path)
	}
	return testutil.DoRequest(s.router, testutil.WithActor(req, actor))
}

func (s *HandlerSuite) generate() *handler.GenerateResponse {
	rr := s.do(http.MethodPost, "/v1/api-keys", map[string]any{
		"name":            "ingest",
		"organization_id": s.org.String(),
		"permissions":     map[string]any{"read": true, "write": true},
		"expires_in_days": 30,
	}, s.issuer)
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())
	s.Equal("no-store", rr.Header().Get("Cache-Control"))
	return testutil.UnmarshalResponse[handler.GenerateResponse](s.T(), rr)
}

func (s *HandlerSuite) TestGenerateReturnsPlaintextOnce() {
	resp := s.generate()
	s.True(strings.HasPrefix(resp.Key, "dpk_"))
	s.Equal(models.StatusActive, resp.APIKey.Status)
	s.NotNil(resp.APIKey.ExpiresAt)

	keyID, err := s.svc.Authenticate(s.T().Context(), resp.Key)
	s.Require().NoError(err)
	s.Equal(resp.APIKey.ID, keyID)

	rr := s.do(http.MethodGet, "/v1/api-keys/"+resp.APIKey.ID.String(), nil, s.issuer)
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	s.NotContains(rr.Body.String(), resp.Key)
	s.NotContains(rr.Body.String(), "secret")
}

func (s *HandlerSuite) TestGenerateValidation() {
	rr := s.do(http.MethodPost, "/v1/api-keys", map[string]any{
		"name": "x", "organization_id": "nope", "permissions": map[string]any{"read": true},
	}, s.issuer)
	testutil.AssertStatus(s.T(), rr, http.StatusUnprocessableEntity)

	rr = s.do(http.MethodPost, "/v1/api-keys", map[string]any{
		"name": "x", "organization_id": s.org.String(),
	}, s.issuer)
	testutil.AssertStatus(s.T(), rr, http.StatusUnprocessableEntity)
	s.Equal("permissions", testutil.UnmarshalErrorResponse(s.T(), rr)["field"])
}

func (s *HandlerSuite) TestListAndRevoke() {
	first := s.generate()
	s.generate()

	rr := s.do(http.MethodGet, "/v1/api-keys?organization_id="+s.org.String(), nil, s.issuer)
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	list := testutil.UnmarshalResponse[struct {
		APIKeys []models.APIKey `json:"api_keys"`
	}](s.T(), rr)
	s.Len(list.APIKeys, 2)

	path := "/v1/api-keys/" + first.APIKey.ID.String()
	testutil.AssertStatus(s.T(), s.do(http.MethodDelete, path, nil, s.issuer), http.StatusNoContent)
	testutil.AssertStatus(s.T(), s.do(http.MethodDelete, path, nil, s.issuer), http.StatusNoContent)

	rr = s.do(http.MethodGet, "/v1/api-keys?organization_id="+s.org.String(), nil, s.issuer)
	list = testutil.UnmarshalResponse[struct {
		APIKeys []models.APIKey `json:"api_keys"`
	}](s.T(), rr)
	s.Len(list.APIKeys, 1)

	_, err := s.svc.Authenticate(s.T().Context(), first.Key)
	s.Error(err, "revoked keys no longer authenticate")
}

func (s *HandlerSuite) TestOnlyTheIssuerManagesAKey() {
	resp := s.generate()
	path := "/v1/api-keys/" + resp.APIKey.ID.String()

	other := domain.UserActor(domain.UserID(uuid.New()))
	testutil.AssertStatusAndError(s.T(), s.do(http.MethodDelete, path, nil, other), http.StatusForbidden, "forbidden")

	key := domain.APIKeyActor(resp.APIKey.ID)
	testutil.AssertStatusAndError(s.T(), s.do(http.MethodGet, path, nil, key), http.StatusForbidden, "forbidden")
}

func (s *HandlerSuite) TestUnknownKey() {
	rr := s.do(http.MethodDelete, "/v1/api-keys/"+uuid.NewString(), nil, s.issuer)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")

	rr = s.do(http.MethodDelete, "/v1/api-keys/garbage", nil, s.issuer)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
}
