package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"

	"neurobot/internal/billing"
	"neurobot/internal/models"
)

type stubEvents struct {
	err      error
	method   models.PaymentMethod
	payloads []string
}

func (s *stubEvents) Handle(_ context.Context, method models.PaymentMethod, payload []byte) error {
	s.method = method
	s.payloads = append(s.payloads, string(payload))
	return s.err
}

type stubVerifier struct{ err error }

func (s stubVerifier) VerifySignature([]byte, string) error { return s.err }

func newTestRouter(events *stubEvents, verifier SignatureVerifier) http.Handler {
	log, _ := test.NewNullLogger()
	h := NewHandler(events, verifier, []string{"185.71.76.0/27", "77.75.153.0/25"}, log)
	return NewRouter(h, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("metrics"))
	}))
}

func post(router http.Handler, path, remote, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRouterHealthAndMetrics(t *testing.T) {
	router := newTestRouter(&stubEvents{}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, "metrics", rec.Body.String())

	// stripe is not mounted without a verifier
	rec = post(router, "/webhooks/stripe", "1.2.3.4:1", "{}")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestYooKassaWebhookAllowList(t *testing.T) {
	events := &stubEvents{}
	router := newTestRouter(events, nil)

	rec := post(router, "/webhooks/yookassa", "10.0.0.1:5555", `{"event":"payment.succeeded"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, events.payloads)

	rec = post(router, "/webhooks/yookassa", "185.71.76.5:5555", `{"event":"payment.succeeded"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.PaymentMethodYooKassa, events.method)
	assert.Equal(t, []string{`{"event":"payment.succeeded"}`}, events.payloads)
}

func TestWebhookStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"applied", nil, http.StatusOK},
		{"transient", &billing.TransientFailureError{Op: "renew", Attempts: 5, Err: errors.New("conflict")}, http.StatusInternalServerError},
		{"malformed", fmt.Errorf("normalize: %w", billing.ErrMalformedPayload), http.StatusBadRequest},
		{"unknown", &billing.UnknownProviderEventError{EventType: "refund.succeeded"}, http.StatusOK},
		{"mismatch", billing.ErrInvalidTransition, http.StatusOK},
		{"other", errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(&stubEvents{err: tc.err}, nil)
			rec := post(router, "/webhooks/yookassa", "77.75.153.10:443", "{}")
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestStripeWebhookSignature(t *testing.T) {
	events := &stubEvents{}

	router := newTestRouter(events, stubVerifier{err: ErrInvalidSignature})
	rec := post(router, "/webhooks/stripe", "1.2.3.4:1", "{}")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, events.payloads)

	router = newTestRouter(events, stubVerifier{})
	rec = post(router, "/webhooks/stripe", "1.2.3.4:1", `{"type":"invoice.paid"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.PaymentMethodStripe, events.method)
}

func TestClientIPForwarded(t *testing.T) {
	log, _ := test.NewNullLogger()
	h := NewHandler(&stubEvents{}, nil, nil, log)
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.1:80"
	req.Header.Set("X-Forwarded-For", "185.71.76.1, 10.0.0.1")

	assert.Equal(t, "10.0.0.1", h.clientIP(req))
	h.TrustForwardedFor = true
	assert.Equal(t, "185.71.76.1", h.clientIP(req))
}
