package payment

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"neurobot/internal/billing"
	"neurobot/internal/models"
	"neurobot/internal/utils"
)

const maxWebhookBody = 1 << 20

// EventHandler is the reconciler entry point for raw provider payloads.
type EventHandler interface {
	Handle(ctx context.Context, method models.PaymentMethod, payload []byte) error
}

// SignatureVerifier authenticates a webhook payload.
type SignatureVerifier interface {
	VerifySignature(payload []byte, header string) error
}

type Handler struct {
	Events        EventHandler
	Stripe        SignatureVerifier
	YooKassaCIDRs []string
	// TrustForwardedFor takes the client address from X-Forwarded-For; only
	// enable it behind a proxy that overwrites the header.
	TrustForwardedFor bool
	Log               logrus.FieldLogger
}

func NewHandler(events EventHandler, stripe SignatureVerifier, yookassaCIDRs []string, log logrus.FieldLogger) *Handler {
	return &Handler{
		Events:        events,
		Stripe:        stripe,
		YooKassaCIDRs: yookassaCIDRs,
		Log:           log,
	}
}

// NewRouter mounts the webhook endpoints. metrics may be nil.
func NewRouter(h *Handler, metrics http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/yookassa", h.handleYooKassa)
		if h.Stripe != nil {
			r.Post("/stripe", h.handleStripe)
		}
	})

	return r
}

func (h *Handler) handleYooKassa(w http.ResponseWriter, r *http.Request) {
	ip := h.clientIP(r)
	if !utils.IsAllowedIP(ip, h.YooKassaCIDRs) {
		h.Log.WithField("ip", ip).Warn("yookassa webhook from unknown address")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	payload, ok := h.readBody(w, r)
	if !ok {
		return
	}
	h.dispatch(w, r, models.PaymentMethodYooKassa, payload)
}

func (h *Handler) handleStripe(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.readBody(w, r)
	if !ok {
		return
	}
	if err := h.Stripe.VerifySignature(payload, r.Header.Get("Stripe-Signature")); err != nil {
		h.Log.WithError(err).Warn("stripe webhook rejected")
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	h.dispatch(w, r, models.PaymentMethodStripe, payload)
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return nil, false
	}
	return payload, true
}

// dispatch maps reconciliation outcomes to status codes: providers redeliver
// on 5xx, so only transient failures ask for a retry.
func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, method models.PaymentMethod, payload []byte) {
	log := h.Log.WithFields(logrus.Fields{
		"provider":   method,
		"request_id": middleware.GetReqID(r.Context()),
	})

	err := h.Events.Handle(r.Context(), method, payload)
	var unknown *billing.UnknownProviderEventError
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case billing.IsTransient(err):
		log.WithError(err).Warn("webhook processing will be retried")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	case errors.As(err, &unknown), errors.Is(err, billing.ErrInvalidTransition):
		// operators were alerted; redelivery would not change the outcome
		log.WithError(err).Error("webhook left for manual reconciliation")
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, billing.ErrMalformedPayload):
		log.WithError(err).Warn("malformed webhook")
		http.Error(w, "Bad request", http.StatusBadRequest)
	default:
		log.WithError(err).Error("webhook processing failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) clientIP(r *http.Request) string {
	if h.TrustForwardedFor {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
