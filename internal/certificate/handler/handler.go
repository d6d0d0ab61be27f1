// Package handler wires the certificate lifecycle endpoints to the
// certificate service.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"certfsm/internal/certificate/engine"
	"certfsm/internal/certificate/fsm"
	"certfsm/internal/certificate/models"
	"certfsm/internal/certificate/service"
	"certfsm/internal/platform/middleware"
	dErrors "certfsm/pkg/domain-errors"
	"certfsm/pkg/platform/httputil"
)

// Service defines the certificate operations the handler depends on.
type Service interface {
	Register(ctx context.Context, name string) (*models.Domain, error)
	Get(ctx context.Context, name string) (*models.Domain, error)
	List(ctx context.Context) ([]*models.Domain, error)
	History(ctx context.Context, name string) ([]models.TransitionRecord, error)
	Trigger(ctx context.Context, name string, event models.Event, payload engine.Payload) (*models.Domain, error)
	States(ctx context.Context) []models.State
	Transitions(ctx context.Context) []fsm.Entry
	TransitionsFrom(ctx context.Context, state models.State) ([]fsm.Entry, error)
	CheckStatus(ctx context.Context, name string) (*service.StatusResult, error)
}

// Handler wires certificate endpoints to the certificate service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a certificate handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts certificate endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/domains", h.HandleRegister)
	r.Get("/domains", h.HandleList)
	r.Get("/domains/{domain}", h.HandleGet)
	r.Get("/domains/{domain}/history", h.HandleHistory)
	r.Get("/domains/{domain}/status", h.HandleStatus)
	r.Post("/domains/{domain}/transition/{event}", h.HandleTransition)
	r.Post("/domains/{domain}/issue", h.eventShortcut(models.EventRequestIssuance))
	r.Post("/domains/{domain}/renew", h.eventShortcut(models.EventRequestRenewal))
	r.Post("/domains/{domain}/revoke", h.eventShortcut(models.EventRequestRevocation))
	r.Get("/fsm/states", h.HandleStates)
	r.Get("/fsm/transitions", h.HandleTransitions)
	r.Get("/fsm/transitions/{state}", h.HandleTransitionsFrom)
}

// HandleRegister handles POST /domains requests.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[RegisterRequest](w, r, h.logger, ctx)
	if !ok {
		return
	}

	d, err := h.service.Register(ctx, req.Domain)
	if err != nil {
		h.logger.WarnContext(ctx, "domain registration failed",
			"request_id", requestID,
			"domain", req.Domain,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "domain registered",
		"request_id", requestID,
		"domain", d.Name,
	)
	httputil.WriteJSON(w, http.StatusCreated, FromDomain(d))
}

// HandleList handles GET /domains requests.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	domains, err := h.service.List(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromDomainList(domains))
}

// HandleGet handles GET /domains/{domain} requests.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	d, err := h.service.Get(ctx, chi.URLParam(r, "domain"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromDomain(d))
}

// HandleHistory handles GET /domains/{domain}/history requests.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	records, err := h.service.History(ctx, chi.URLParam(r, "domain"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromRecords(records))
}

// HandleStatus handles GET /domains/{domain}/status requests. The reply pairs
// the registry state with the authority's report; the registry may catch up
// with an expiry as a side effect.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	result, err := h.service.CheckStatus(ctx, chi.URLParam(r, "domain"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromStatusResult(result))
}

// HandleTransition handles POST /domains/{domain}/transition/{event} requests.
func (h *Handler) HandleTransition(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, r, models.Event(chi.URLParam(r, "event")))
}

// eventShortcut builds a handler for the fixed-event convenience routes.
func (h *Handler) eventShortcut(event models.Event) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.trigger(w, r, event)
	}
}

func (h *Handler) trigger(w http.ResponseWriter, r *http.Request, event models.Event) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	name := chi.URLParam(r, "domain")
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[TransitionRequest](w, r, h.logger, ctx)
	if !ok {
		return
	}

	d, err := h.service.Trigger(ctx, name, event, req.ToPayload())
	if err != nil {
		h.logger.WarnContext(ctx, "transition failed",
			"request_id", requestID,
			"domain", name,
			"event", event,
			"code", dErrors.CodeOf(err),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "transition applied",
		"request_id", requestID,
		"domain", d.Name,
		"event", event,
		"state", d.State,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, FromDomain(d))
}

// HandleStates handles GET /fsm/states requests.
func (h *Handler) HandleStates(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, StatesResponse{States: h.service.States(r.Context())})
}

// HandleTransitions handles GET /fsm/transitions requests.
func (h *Handler) HandleTransitions(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, TransitionsResponse{Transitions: h.service.Transitions(r.Context())})
}

// HandleTransitionsFrom handles GET /fsm/transitions/{state} requests.
func (h *Handler) HandleTransitionsFrom(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state := models.State(chi.URLParam(r, "state"))

	entries, err := h.service.TransitionsFrom(ctx, state)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, TransitionsResponse{Transitions: entries})
}
