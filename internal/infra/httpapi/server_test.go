package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"auth_expiry_notifier/internal/app"
	"auth_expiry_notifier/internal/domain/apikey"
	"auth_expiry_notifier/internal/domain/errs"
	"auth_expiry_notifier/internal/domain/notification"
	"auth_expiry_notifier/internal/infra/database"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "test-key"

type fakeService struct {
	lastScope    app.Scope
	lastResource string
	pass         *app.PassResult
	sendResult   *app.SendResult
	sendErr      error
	list         *app.ExpiringList
	listErr      error
	testEmailErr error
	testEmailTo  string
}

func (f *fakeService) CheckAndNotify(_ context.Context, scope app.Scope) *app.PassResult {
	f.lastScope = scope
	return f.pass
}

func (f *fakeService) QueueExpiring(_ context.Context, scope app.Scope) *app.PassResult {
	f.lastScope = scope
	return f.pass
}

func (f *fakeService) NotifyForResource(_ context.Context, resourceID string, scope app.Scope) *app.PassResult {
	f.lastResource = resourceID
	f.lastScope = scope
	return f.pass
}

func (f *fakeService) SendQueuedBatch(_ context.Context, batchID string) (*app.SendResult, error) {
	return f.sendResult, f.sendErr
}

func (f *fakeService) ListExpiring(_ context.Context, scope app.Scope) (*app.ExpiringList, error) {
	f.lastScope = scope
	return f.list, f.listErr
}

func (f *fakeService) SendTestEmail(_ context.Context, emailAddr, _ string) error {
	f.testEmailTo = emailAddr
	return f.testEmailErr
}

type failingKeys struct{}

func (failingKeys) Upsert(context.Context, *apikey.User) (bool, error) { return false, errors.New("down") }
func (failingKeys) GetByKeyHash(context.Context, string) (*apikey.User, error) {
	return nil, errors.New("connection refused")
}

func newTestServer(t *testing.T, svc *fakeService, checks map[string]ReadinessCheck) http.Handler {
	t.Helper()
	keys := database.NewMemoryAPIKeyRepository()
	_, err := keys.Upsert(context.Background(), &apikey.User{Name: "ops", KeyHash: apikey.HashKey(testKey)})
	require.NoError(t, err)

	l := logrus.New()
	l.SetOutput(io.Discard)
	return NewServer(svc, keys, checks, prometheus.NewRegistry(), Config{APIKeyHeader: "X-API-Key", ServiceName: "auth-expiry-notifier"}, logrus.NewEntry(l)).Router()
}

func do(h http.Handler, method, path, body string, authed bool) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if authed {
		req.Header.Set("X-API-Key", testKey)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func okPass() *app.PassResult {
	return &app.PassResult{Success: true, NotificationsSent: 2, Errors: []string{}, Summary: app.PassSummary{RecipientsProcessed: 2, EmailsSent: 2}}
}

func TestAPIKeyRequired(t *testing.T) {
	h := newTestServer(t, &fakeService{pass: okPass()}, nil)

	rec := do(h, http.MethodPost, "/auths/notify-auth-expiry", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "API-Key", rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodPost, "/auths/notify-auth-expiry", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid API key")
}

func TestAPIKeyStoreUnavailable(t *testing.T) {
	l := logrus.New()
	l.SetOutput(io.Discard)
	h := NewServer(&fakeService{}, failingKeys{}, nil, nil, Config{}, logrus.NewEntry(l)).Router()

	rec := do(h, http.MethodPost, "/auths/notify-auth-expiry", "", true)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNotifyExpiry(t *testing.T) {
	svc := &fakeService{pass: okPass()}
	h := newTestServer(t, svc, nil)

	rec := do(h, http.MethodPost, "/auths/notify-auth-expiry", `{"unit_id":"42","warning_days":14}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "42", svc.lastScope.UnitID)
	require.NotNil(t, svc.lastScope.WarningDays)
	assert.Equal(t, 14, *svc.lastScope.WarningDays)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, 2.0, body["notifications_sent"])
	assert.Equal(t, 2.0, body["summary"].(map[string]any)["emails_sent"])
}

func TestNotifyExpiryEmptyBodyUsesDefaults(t *testing.T) {
	svc := &fakeService{pass: okPass()}
	h := newTestServer(t, svc, nil)

	rec := do(h, http.MethodPost, "/auths/notify-auth-expiry", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, app.Scope{}, svc.lastScope)
}

func TestNotifyExpiryValidation(t *testing.T) {
	h := newTestServer(t, &fakeService{pass: okPass()}, nil)

	rec := do(h, http.MethodPost, "/auths/notify-auth-expiry", `{"warning_days":-1}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPost, "/auths/notify-auth-expiry", `{not json`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFatalPassIs500WithBody(t *testing.T) {
	svc := &fakeService{pass: &app.PassResult{Success: false, Errors: []string{"transport error: registry down"}}}
	h := newTestServer(t, svc, nil)

	rec := do(h, http.MethodPost, "/auths/queue-auth-expiry", "", true)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "registry down")
}

func TestNotifyResource(t *testing.T) {
	svc := &fakeService{pass: okPass()}
	h := newTestServer(t, svc, nil)

	rec := do(h, http.MethodPost, "/auths/notify-auth-expiry/user", `{}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPost, "/auths/notify-auth-expiry/user", `{"resource_id":"R:1","warning_days":7}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "R:1", svc.lastResource)
	assert.Equal(t, 7, *svc.lastScope.WarningDays)
}

func TestSendNotification(t *testing.T) {
	tests := map[string]struct {
		result *app.SendResult
		err    error
		want   int
	}{
		"sent":      {result: &app.SendResult{Success: true, BatchID: "b1", Status: notification.StatusSent}, want: http.StatusOK},
		"not found": {err: fmt.Errorf("get batch b1: %w", errs.ErrNotFound), want: http.StatusNotFound},
		"conflict":  {err: fmt.Errorf("finalize: %w", errs.ErrInvalidState), want: http.StatusConflict},
		"internal":  {err: errors.New("disk full"), want: http.StatusInternalServerError},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			h := newTestServer(t, &fakeService{sendResult: tt.result, sendErr: tt.err}, nil)
			rec := do(h, http.MethodPost, "/auths/send_notification", `{"batch_id":"b1"}`, true)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	h := newTestServer(t, &fakeService{}, nil)
	rec := do(h, http.MethodPost, "/auths/send_notification", `{}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListExpiring(t *testing.T) {
	svc := &fakeService{list: &app.ExpiringList{UnitID: "42", ExpiryDate: "2026-03-31", WarningDays: 30}}
	h := newTestServer(t, svc, nil)

	rec := do(h, http.MethodGet, "/auths/expiring?unit_id=42&warning_days=30", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "42", svc.lastScope.UnitID)
	assert.Contains(t, rec.Body.String(), `"expiry_date":"2026-03-31"`)

	rec = do(h, http.MethodGet, "/auths/expiring?warning_days=soon", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.listErr = fmt.Errorf("fetch: %w", errs.ErrTransport)
	rec = do(h, http.MethodGet, "/auths/expiring", "", true)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestTestEmail(t *testing.T) {
	svc := &fakeService{}
	h := newTestServer(t, svc, nil)

	rec := do(h, http.MethodPost, "/auths/test-email", `{"email":"me@example.org","resource_id":"R:1"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "me@example.org", svc.testEmailTo)

	svc.testEmailErr = fmt.Errorf("email is required: %w", errs.ErrValidation)
	rec = do(h, http.MethodPost, "/auths/test-email", `{}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	checks := map[string]ReadinessCheck{
		"database":  func(context.Context) error { return nil },
		"stars_api": func(context.Context) error { return nil },
	}
	h := newTestServer(t, &fakeService{}, checks)

	rec := do(h, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	rec = do(h, http.MethodGet, "/health/ready", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database":"ok"`)

	checks["database"] = func(context.Context) error { return errors.New("ping timeout") }
	rec = do(h, http.MethodGet, "/health/ready", "", false)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "ping timeout")
}

func TestRootAndMetrics(t *testing.T) {
	h := newTestServer(t, &fakeService{}, nil)

	rec := do(h, http.MethodGet, "/", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "auth-expiry-notifier")

	rec = do(h, http.MethodGet, "/metrics", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(fmt.Errorf("x: %w", errs.ErrNotFound)))
	assert.Equal(t, http.StatusBadRequest, statusFor(fmt.Errorf("x: %w", errs.ErrValidation)))
	assert.Equal(t, http.StatusConflict, statusFor(fmt.Errorf("x: %w", errs.ErrConflict)))
	assert.Equal(t, http.StatusBadGateway, statusFor(fmt.Errorf("x: %w", errs.ErrTransport)))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("x")))
}
