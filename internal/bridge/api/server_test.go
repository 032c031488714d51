package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebas/callbridge/internal/bridge/orchestrator"
)

type fakeBridge struct {
	startErr    error
	phoneNumber string
	callerName  string
	stats       orchestrator.Stats
}

func (f *fakeBridge) StartOutboundCall(phoneNumber, callerName string) error {
	f.phoneNumber = phoneNumber
	f.callerName = callerName
	return f.startErr
}

func (f *fakeBridge) Stats() orchestrator.Stats {
	return f.stats
}

type fakeWebhook struct {
	verifications int
	events        int
}

func (f *fakeWebhook) HandleVerification(w http.ResponseWriter, _ *http.Request) {
	f.verifications++
	w.WriteHeader(http.StatusOK)
}

func (f *fakeWebhook) HandleEvent(w http.ResponseWriter, _ *http.Request) {
	f.events++
	w.WriteHeader(http.StatusOK)
}

type fakeHub struct{}

func (fakeHub) HandleWS(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusSwitchingProtocols)
}

func (fakeHub) Count() int { return 2 }

func newTestServer(bridge *fakeBridge, webhook *fakeWebhook) *Server {
	return NewServer(":0", bridge, webhook, fakeHub{})
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestInitiateCall(t *testing.T) {
	bridge := &fakeBridge{}
	s := newTestServer(bridge, &fakeWebhook{})

	rec := doRequest(s, http.MethodPost, "/initiate-call", `{"phoneNumber":"15557654321","callerName":"Grace"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)
	assert.Equal(t, "15557654321", bridge.phoneNumber)
	assert.Equal(t, "Grace", bridge.callerName)
}

func TestInitiateCallValidation(t *testing.T) {
	s := newTestServer(&fakeBridge{}, &fakeWebhook{})

	rec := doRequest(s, http.MethodPost, "/initiate-call", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(s, http.MethodPost, "/initiate-call", `{broken`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(s, http.MethodGet, "/initiate-call", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestInitiateCallBusy(t *testing.T) {
	bridge := &fakeBridge{startErr: orchestrator.ErrCallInProgress}
	s := newTestServer(bridge, &fakeWebhook{})

	rec := doRequest(s, http.MethodPost, "/initiate-call", `{"phoneNumber":"15557654321"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already active")
}

func TestInitiateCallFailure(t *testing.T) {
	bridge := &fakeBridge{startErr: errors.New("engine down")}
	s := newTestServer(bridge, &fakeWebhook{})

	rec := doRequest(s, http.MethodPost, "/initiate-call", `{"phoneNumber":"15557654321"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebhookRoutesByMethod(t *testing.T) {
	webhook := &fakeWebhook{}
	s := newTestServer(&fakeBridge{}, webhook)

	doRequest(s, http.MethodGet, "/webhook?hub.mode=subscribe", "")
	assert.Equal(t, 1, webhook.verifications)

	doRequest(s, http.MethodPost, "/webhook", `{}`)
	assert.Equal(t, 1, webhook.events)

	rec := doRequest(s, http.MethodDelete, "/webhook", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(&fakeBridge{}, &fakeWebhook{})

	rec := doRequest(s, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestStats(t *testing.T) {
	bridge := &fakeBridge{stats: orchestrator.Stats{
		ActiveSession: true,
		Direction:     "inbound",
		CallID:        "wacid.1",
		Bridged:       true,
	}}
	s := newTestServer(bridge, &fakeWebhook{})

	rec := doRequest(s, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"call_id":"wacid.1"`)
	assert.Contains(t, rec.Body.String(), `"browser_connections":2`)
}
