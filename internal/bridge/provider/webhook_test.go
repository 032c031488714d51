package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	events   []CallEvent
	contacts []*Contact
}

func (h *recordingHandler) HandleCallEvent(ev CallEvent, contact *Contact) {
	h.events = append(h.events, ev)
	h.contacts = append(h.contacts, contact)
}

func verifyRequest(t *testing.T, r *Receiver, params url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/webhook?"+params.Encode(), nil)
	rec := httptest.NewRecorder()
	r.HandleVerification(rec, req)
	return rec
}

func TestVerificationEchoesChallenge(t *testing.T) {
	r := NewReceiver("secret-token", "", &recordingHandler{})

	rec := verifyRequest(t, r, url.Values{
		"hub.mode":         {"subscribe"},
		"hub.verify_token": {"secret-token"},
		"hub.challenge":    {"1158201444"},
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1158201444", rec.Body.String())
}

func TestVerificationRejectsBadToken(t *testing.T) {
	r := NewReceiver("secret-token", "", &recordingHandler{})

	rec := verifyRequest(t, r, url.Values{
		"hub.mode":         {"subscribe"},
		"hub.verify_token": {"wrong"},
		"hub.challenge":    {"1158201444"},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = verifyRequest(t, r, url.Values{
		"hub.mode":         {"unsubscribe"},
		"hub.verify_token": {"secret-token"},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestVerificationRequiresModeAndToken(t *testing.T) {
	r := NewReceiver("secret-token", "", &recordingHandler{})

	rec := verifyRequest(t, r, url.Values{"hub.challenge": {"123"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

const callsDelivery = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "acct-1",
    "changes": [
      {"field": "messages", "value": {}},
      {"field": "calls", "value": {
        "contacts": [{"wa_id": "15550001111", "profile": {"name": "Ada"}}],
        "calls": [{
          "id": "wacid.123",
          "event": "connect",
          "direction": "USER_INITIATED",
          "from": "15550001111",
          "session": {"sdp_type": "offer", "sdp": "v=0\r\n"}
        }]
      }}
    ]
  }]
}`

func postEvent(t *testing.T, r *Receiver, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	r.HandleEvent(rec, req)
	return rec
}

func TestEventDeliveryDispatchesCalls(t *testing.T) {
	h := &recordingHandler{}
	r := NewReceiver("secret-token", "", h)

	rec := postEvent(t, r, callsDelivery, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	require.Len(t, h.events, 1)
	ev := h.events[0]
	assert.Equal(t, "wacid.123", ev.ID)
	assert.Equal(t, EventConnect, ev.Event)
	assert.Equal(t, "15550001111", ev.From)
	require.NotNil(t, ev.Session)
	assert.Equal(t, "offer", ev.Session.SDPType)

	require.Len(t, h.contacts, 1)
	require.NotNil(t, h.contacts[0])
	assert.Equal(t, "Ada", h.contacts[0].Profile.Name)
}

func TestEventDeliveryIgnoresNonCallChanges(t *testing.T) {
	h := &recordingHandler{}
	r := NewReceiver("secret-token", "", h)

	rec := postEvent(t, r, `{"entry":[{"changes":[{"field":"messages","value":{}}]}]}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, h.events)
}

func TestEventDeliveryAcksMalformedEvents(t *testing.T) {
	h := &recordingHandler{}
	r := NewReceiver("secret-token", "", h)

	// Decodable but missing the event name: acknowledged, not dispatched.
	body := `{"entry":[{"changes":[{"field":"calls","value":{"calls":[{"id":"wacid.1"}]}}]}]}`
	rec := postEvent(t, r, body, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, h.events)
}

func TestEventDeliveryRejectsBrokenJSON(t *testing.T) {
	h := &recordingHandler{}
	r := NewReceiver("secret-token", "", h)

	rec := postEvent(t, r, `{"entry": [`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, h.events)
}

func signBody(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestEventDeliverySignatureCheck(t *testing.T) {
	h := &recordingHandler{}
	r := NewReceiver("secret-token", "app-secret", h)

	rec := postEvent(t, r, callsDelivery, http.Header{
		"X-Hub-Signature-256": {signBody("app-secret", callsDelivery)},
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, h.events, 1)

	rec = postEvent(t, r, callsDelivery, http.Header{
		"X-Hub-Signature-256": {signBody("other-secret", callsDelivery)},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Len(t, h.events, 1, "tampered delivery is not dispatched")
}
