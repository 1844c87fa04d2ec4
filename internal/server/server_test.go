package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/amlscreen/internal/compliance/aml"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/matrix"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/screening"
	amlerrors "github.com/Aidin1998/amlscreen/pkg/errors"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeService struct {
	screened   *aml.ScreeningRequest
	screenErr  error
	override   aml.ScoreOverrideRequest
	resolve    aml.ResolveAlertRequest
	statuses   []aml.AlertStatus
	matrix     *matrix.RiskMatrix
	assessment *aml.RiskAssessment
}

func (f *fakeService) Screen(_ context.Context, req *aml.ScreeningRequest) (*aml.ScreeningResult, error) {
	f.screened = req
	if f.screenErr != nil {
		return nil, f.screenErr
	}
	return &aml.ScreeningResult{ID: uuid.New(), UserID: req.UserID, Assessment: aml.RiskAssessment{Level: aml.RiskLevelLow}}, nil
}

func (f *fakeService) ScreeningHistory(context.Context, string, int) ([]aml.ScreeningResult, error) {
	return []aml.ScreeningResult{}, nil
}

func (f *fakeService) CurrentAssessment(_ context.Context, userID string) (*aml.RiskAssessment, error) {
	if f.assessment == nil || f.assessment.UserID != userID {
		return nil, amlerrors.NotFound.Explain("no assessment for user")
	}
	return f.assessment, nil
}

func (f *fakeService) AssessmentHistory(context.Context, string, int) ([]aml.RiskAssessment, error) {
	return []aml.RiskAssessment{}, nil
}

func (f *fakeService) Override(_ context.Context, req aml.ScoreOverrideRequest) (*aml.RiskAssessment, error) {
	f.override = req
	return &aml.RiskAssessment{UserID: req.UserID, OverallScore: *req.Score}, nil
}

func (f *fakeService) Matrix() *matrix.RiskMatrix {
	if f.matrix == nil {
		f.matrix = matrix.Default()
	}
	return f.matrix
}

func (f *fakeService) UpdateMatrix(_ context.Context, next *matrix.RiskMatrix, by string) (*matrix.RiskMatrix, error) {
	if err := next.Validate(); err != nil {
		return nil, amlerrors.Validation.Explain("invalid risk matrix")
	}
	next.Version = f.Matrix().Version + 1
	next.UpdatedBy = by
	f.matrix = next
	return next, nil
}

func (f *fakeService) Alerts(_ context.Context, _ string, statuses []aml.AlertStatus, _ int) ([]aml.Alert, error) {
	f.statuses = statuses
	return []aml.Alert{}, nil
}

func (f *fakeService) ResolveAlert(_ context.Context, id uuid.UUID, req aml.ResolveAlertRequest) (*aml.Alert, error) {
	f.resolve = req
	return &aml.Alert{ID: id, Status: aml.AlertStatusResolved, Resolution: req.Resolution}, nil
}

func (f *fakeService) Sources() []aml.SourceKind { return aml.AllSources }

type fakeRefresher struct {
	kinds []aml.SourceKind
	err   error
}

func (f *fakeRefresher) Refresh(_ context.Context, feedID string) (screening.FeedStatus, error) {
	if feedID != "ofac_sdn" {
		return screening.FeedStatus{}, amlerrors.NotFound.Explain("unknown reference feed %q", feedID)
	}
	return screening.FeedStatus{FeedID: feedID, Entries: 10}, f.err
}

func (f *fakeRefresher) RefreshKind(_ context.Context, kind aml.SourceKind) error {
	f.kinds = append(f.kinds, kind)
	return f.err
}

func (f *fakeRefresher) Status() []screening.FeedStatus { return []screening.FeedStatus{} }

type pingFunc func(ctx context.Context) error

func (p pingFunc) Ping(ctx context.Context) error { return p(ctx) }

type harness struct {
	svc       *fakeService
	refresher *fakeRefresher
	auth      *Authenticator
	router    *gin.Engine
	dbErr     error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := &harness{svc: &fakeService{}, refresher: &fakeRefresher{}, auth: NewAuthenticator(testSecret, "amlscreen", "")}
	health := map[string]Pinger{"database": pingFunc(func(context.Context) error { return h.dbErr })}
	srv := NewServer(zap.NewNop(), Config{Addr: ":0"}, h.svc, h.refresher, h.auth, health)
	h.router = srv.Router()
	return h
}

func (h *harness) token(t *testing.T, perms ...string) string {
	t.Helper()
	tok, err := h.auth.Issue("analyst-1", perms, time.Hour)
	require.NoError(t, err)
	return tok
}

func (h *harness) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	var resp Response
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
	}
	return w, resp
}

var validScreen = map[string]interface{}{
	"user_id": "user-1",
	"personal_info": map[string]interface{}{
		"first_name": "John",
		"last_name":  "Doe",
		"country":    "IN",
	},
}

func TestHealth(t *testing.T) {
	h := newHarness(t)

	w, resp := h.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)

	h.dbErr = errors.New("connection refused")
	w, resp = h.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.False(t, resp.Success)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	w, _ := h.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestAuth(t *testing.T) {
	h := newHarness(t)

	w, resp := h.do(t, http.MethodPost, "/api/v1/aml/screen", "", validScreen)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, amlerrors.KindAuthentication, resp.Error.Kind)

	w, _ = h.do(t, http.MethodPost, "/api/v1/aml/screen", "not-a-token", validScreen)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	other := NewAuthenticator("ffffffffffffffffffffffffffffffff", "amlscreen", "")
	forged, err := other.Issue("mallory", []string{PermAdmin}, time.Hour)
	require.NoError(t, err)
	w, _ = h.do(t, http.MethodPost, "/api/v1/aml/screen", forged, validScreen)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	expired, err := h.auth.Issue("analyst-1", []string{PermScreen}, -time.Minute)
	require.NoError(t, err)
	w, _ = h.do(t, http.MethodPost, "/api/v1/aml/screen", expired, validScreen)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, resp = h.do(t, http.MethodPost, "/api/v1/aml/screen", h.token(t, PermRead), validScreen)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, amlerrors.KindAuthorization, resp.Error.Kind)

	w, _ = h.do(t, http.MethodPost, "/api/v1/aml/screen", h.token(t, PermAdmin), validScreen)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestScreen(t *testing.T) {
	h := newHarness(t)
	tok := h.token(t, PermScreen)

	w, resp := h.do(t, http.MethodPost, "/api/v1/aml/screen?screen_type=onboarding", tok, validScreen)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	require.NotNil(t, h.svc.screened)
	assert.Equal(t, aml.ScreenTypeOnboarding, h.svc.screened.ScreenType)
	assert.Equal(t, "IN", h.svc.screened.PersonalInfo.Country)

	w, _ = h.do(t, http.MethodPost, "/api/v1/aml/screen?screen_type=periodic", tok, validScreen)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScreen_ValidationFields(t *testing.T) {
	h := newHarness(t)
	tok := h.token(t, PermScreen)

	body := map[string]interface{}{
		"user_id":       "user-1",
		"personal_info": map[string]interface{}{"first_name": "John", "country": "XX"},
	}
	w, resp := h.do(t, http.MethodPost, "/api/v1/aml/screen", tok, body)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, amlerrors.KindValidation, resp.Error.Kind)

	var fields []string
	for _, f := range resp.Error.Fields {
		fields = append(fields, f.Field)
	}
	assert.Contains(t, fields, "personal_info.last_name")
	assert.Contains(t, fields, "personal_info.country")

	w, resp = h.do(t, http.MethodPost, "/api/v1/aml/screen", tok, "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, amlerrors.KindValidation, resp.Error.Kind)
}

func TestScreen_ErrorMapping(t *testing.T) {
	h := newHarness(t)
	tok := h.token(t, PermScreen)

	h.svc.screenErr = amlerrors.SourceUnavailable.Explain("all screening sources unavailable")
	w, resp := h.do(t, http.MethodPost, "/api/v1/aml/screen", tok, validScreen)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, amlerrors.KindSourceUnavailable, resp.Error.Kind)

	h.svc.screenErr = errors.New("pq: password authentication failed")
	w, resp = h.do(t, http.MethodPost, "/api/v1/aml/screen", tok, validScreen)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", resp.Error.Message)
}

func TestRiskScore(t *testing.T) {
	h := newHarness(t)
	tok := h.token(t, PermRead)

	w, _ := h.do(t, http.MethodGet, "/api/v1/aml/risk/score/user-1", tok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	h.svc.assessment = &aml.RiskAssessment{UserID: "user-1", OverallScore: 0.42, Level: aml.RiskLevelLow}
	w, resp := h.do(t, http.MethodGet, "/api/v1/aml/risk/score/user-1", tok, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]interface{})
	assert.InDelta(t, 0.42, data["overall_score"], 1e-9)

	w, _ = h.do(t, http.MethodGet, "/api/v1/aml/risk/history/user-1?limit=0", tok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = h.do(t, http.MethodGet, "/api/v1/aml/risk/history/user-1?limit=5", tok, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOverride(t *testing.T) {
	h := newHarness(t)

	body := map[string]interface{}{"user_id": "user-1", "score": 0.85, "reason": "Confirmed adverse findings"}
	w, _ := h.do(t, http.MethodPost, "/api/v1/aml/risk/score/update", h.token(t, PermRead), body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = h.do(t, http.MethodPost, "/api/v1/aml/risk/score/update", h.token(t, PermAdmin), body)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "analyst-1", h.svc.override.By)

	w, resp := h.do(t, http.MethodPost, "/api/v1/aml/risk/score/update", h.token(t, PermAdmin),
		map[string]interface{}{"user_id": "user-1", "score": 1.5})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var fields []string
	for _, f := range resp.Error.Fields {
		fields = append(fields, f.Field)
	}
	assert.ElementsMatch(t, []string{"score", "reason"}, fields)
}

func TestMatrix(t *testing.T) {
	h := newHarness(t)

	w, resp := h.do(t, http.MethodGet, "/api/v1/aml/risk/matrix", h.token(t, PermRead), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, resp.Data.(map[string]interface{})["version"])

	update := map[string]interface{}{"thresholds": map[string]float64{"low": 0.2, "medium": 0.5, "high": 0.7, "critical": 0.9}}
	w, resp = h.do(t, http.MethodPost, "/api/v1/aml/risk/matrix/update", h.token(t, PermAdmin), update)
	require.Equal(t, http.StatusCreated, w.Code)
	data := resp.Data.(map[string]interface{})
	assert.EqualValues(t, 2, data["version"])
	assert.Equal(t, "analyst-1", data["updated_by"])
	// untouched sections are kept
	assert.NotEmpty(t, h.svc.matrix.CategoryWeights)

	bad := map[string]interface{}{"thresholds": map[string]float64{"low": 0.5, "medium": 0.4, "high": 0.7, "critical": 0.9}}
	w, _ = h.do(t, http.MethodPost, "/api/v1/aml/risk/matrix/update", h.token(t, PermAdmin), bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAlerts(t *testing.T) {
	h := newHarness(t)

	w, _ := h.do(t, http.MethodGet, "/api/v1/aml/alerts/user-1?status=open,escalated", h.token(t, PermRead), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []aml.AlertStatus{aml.AlertStatusOpen, aml.AlertStatusEscalated}, h.svc.statuses)

	w, _ = h.do(t, http.MethodGet, "/api/v1/aml/alerts/user-1?status=closed", h.token(t, PermRead), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	id := uuid.New()
	body := map[string]interface{}{"resolution": "false_positive", "notes": "Different date of birth and nationality"}
	w, _ = h.do(t, http.MethodPost, "/api/v1/aml/alerts/"+id.String()+"/resolve", h.token(t, PermRead), body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, resp := h.do(t, http.MethodPost, "/api/v1/aml/alerts/"+id.String()+"/resolve", h.token(t, PermReview), body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "analyst-1", h.svc.resolve.ReviewedBy)
	assert.Equal(t, id.String(), resp.Data.(map[string]interface{})["id"])

	w, _ = h.do(t, http.MethodPost, "/api/v1/aml/alerts/not-a-uuid/resolve", h.token(t, PermReview), body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRefreshList(t *testing.T) {
	h := newHarness(t)
	tok := h.token(t, PermAdmin)

	w, _ := h.do(t, http.MethodPost, "/api/v1/aml/lists/sanctions/refresh", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []aml.SourceKind{aml.SourceSanctions}, h.refresher.kinds)

	w, _ = h.do(t, http.MethodPost, "/api/v1/aml/lists/ofac_sdn/refresh", tok, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = h.do(t, http.MethodPost, "/api/v1/aml/lists/unknown/refresh", tok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	h.refresher.err = errors.New("download failed")
	w, resp := h.do(t, http.MethodPost, "/api/v1/aml/lists/pep/refresh", tok, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, amlerrors.KindSourceUnavailable, resp.Error.Kind)

	w, _ = h.do(t, http.MethodPost, "/api/v1/aml/lists/pep/refresh", h.token(t, PermRead), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
