package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"organlink/internal/allocation/models"
	"organlink/internal/platform/metrics"
	"organlink/internal/platform/middleware"
	id "organlink/pkg/domain"
	dErrors "organlink/pkg/domain-errors"
	"organlink/pkg/platform/httputil"
	"organlink/pkg/platform/middleware/admin"
	"organlink/pkg/platform/middleware/auth"
	"organlink/pkg/platform/middleware/request"
	"organlink/pkg/requestcontext"
)

// Service is the allocation surface exposed over HTTP.
type Service interface {
	RegisterDonation(ctx context.Context, donorID id.UserID, organType id.OrganType, group id.BloodGroup, hospitalID *id.HospitalID) (*models.Organ, error)
	ConfirmDonation(ctx context.Context, organID id.OrganID, donorID id.UserID, consentType models.ConsentType) (*models.Organ, error)
	ListDonorOrgans(ctx context.Context, donorID id.UserID) ([]*models.Organ, error)
	SubmitRequest(ctx context.Context, clinicianID id.UserID, organType id.OrganType, group id.BloodGroup, urgency int, notes string) (*models.Request, error)
	ListWaitingRequests(ctx context.Context, filter models.RequestFilter) ([]*models.Request, error)
	GetRequest(ctx context.Context, userID id.UserID, requestID id.RequestID) (*models.Request, error)
	AcceptRequest(ctx context.Context, requestID id.RequestID, donorID id.UserID, consentType models.ConsentType) (*models.Allocation, error)
	ListCandidatesFor(ctx context.Context, requesterID id.UserID, criteria models.CandidateCriteria) ([]models.Candidate, error)
	OfferOrgan(ctx context.Context, organID id.OrganID, requestID *id.RequestID, actorID id.UserID) (*models.Allocation, error)
	ListHospitalAllocations(ctx context.Context, userID id.UserID, status string) ([]*models.Allocation, error)
	Dashboard(ctx context.Context, userID id.UserID) (*models.Dashboard, error)
	DonorConfirm(ctx context.Context, allocationID id.AllocationID, donorID id.UserID) (*models.Allocation, error)
	DonorReject(ctx context.Context, allocationID id.AllocationID, donorID id.UserID) (*models.Allocation, error)
	CompleteAllocation(ctx context.Context, allocationID id.AllocationID, clinicianID id.UserID) (*models.Allocation, error)
	FailAllocation(ctx context.Context, allocationID id.AllocationID, clinicianID id.UserID, reason string) (*models.Allocation, error)
	VerifyAllocation(ctx context.Context, allocationID id.AllocationID) (*models.VerifyReport, error)
	CheckConsistency(ctx context.Context, allocationID *id.AllocationID) ([]models.Finding, error)
}

// Handler handles the allocation endpoints.
type Handler struct {
	logger         *slog.Logger
	service        Service
	metrics        *metrics.Metrics
	jwtValidator   auth.JWTValidator
	adminToken     string
	requestTimeout time.Duration
	rateLimit      func(http.Handler) http.Handler
}

type Option func(*Handler)

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithAdminToken enables /admin routes guarded by X-Admin-Token.
func WithAdminToken(token string) Option {
	return func(h *Handler) { h.adminToken = token }
}

func WithRequestTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.requestTimeout = d
		}
	}
}

// WithRateLimit throttles authenticated routes. It runs after authentication
// so callers are keyed by user.
func WithRateLimit(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) { h.rateLimit = mw }
}

func New(service Service, logger *slog.Logger, jwtValidator auth.JWTValidator, opts ...Option) *Handler {
	h := &Handler{
		logger:         logger,
		service:        service,
		jwtValidator:   jwtValidator,
		requestTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the allocation routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Recovery(h.logger, h.metrics))
		r.Use(request.Middleware)
		r.Use(middleware.Logger(h.logger, h.metrics))
		r.Use(middleware.Timeout(h.requestTimeout))
		r.Use(middleware.ContentTypeJSON)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(h.jwtValidator, h.logger))
			if h.rateLimit != nil {
				r.Use(h.rateLimit)
			}

			r.Post("/donations", h.handleRegisterDonation)
			r.Get("/donations", h.handleListDonorOrgans)
			r.Post("/donations/{organID}/confirm", h.handleConfirmDonation)

			r.Post("/requests", h.handleSubmitRequest)
			r.Get("/requests", h.handleListWaitingRequests)
			r.Get("/requests/{requestID}", h.handleGetRequest)
			r.Post("/requests/{requestID}/accept", h.handleAcceptRequest)

			r.Get("/candidates", h.handleListCandidates)

			r.Post("/allocations", h.handleOfferOrgan)
			r.Get("/allocations", h.handleListHospitalAllocations)
			r.Get("/allocations/dashboard", h.handleDashboard)
			r.Post("/allocations/{allocationID}/confirm", h.handleDonorConfirm)
			r.Post("/allocations/{allocationID}/reject", h.handleDonorReject)
			r.Post("/allocations/{allocationID}/complete", h.handleCompleteAllocation)
			r.Post("/allocations/{allocationID}/fail", h.handleFailAllocation)
			r.Get("/allocations/{allocationID}/verify", h.handleVerifyAllocation)
		})

		if h.adminToken != "" {
			r.Group(func(r chi.Router) {
				r.Use(admin.RequireAdminToken(h.adminToken, h.logger))
				r.Get("/admin/consistency", h.handleCheckConsistency)
			})
		}
	})
}

// fail logs and renders err. Client errors log at warn, the rest at error.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	status := httputil.StatusFor(dErrors.CodeOf(err))
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, op+" failed",
		"request_id", requestcontext.RequestID(ctx),
		"error", err.Error(),
	)
	httputil.WriteError(w, err)
}

func allocationIDParam(r *http.Request) (id.AllocationID, error) {
	return id.ParseAllocationID(chi.URLParam(r, "allocationID"))
}

func (h *Handler) handleRegisterDonation(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r)
	if err != nil {
		h.fail(w, r, "register donation", err)
		return
	}
	var req RegisterDonationRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "register donation", err)
		return
	}
	p, err := req.Parse()
	if err != nil {
		h.fail(w, r, "register donation", err)
		return
	}
	organ, err := h.service.RegisterDonation(r.Context(), userID, p.organType, p.bloodGroup, p.hospitalID)
	if err != nil {
		h.fail(w, r, "register donation", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, organ)
}

func (h *Handler) handleConfirmDonation(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r)
	if err != nil {
		h.fail(w, r, "confirm donation", err)
		return
	}
	organID, err := id.ParseOrganID(chi.URLParam(r, "organID"))
	if err != nil {
		h.fail(w, r, "confirm donation", err)
		return
	}
	var req ConsentRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "confirm donation", err)
		return
	}
	consentType, err := req.Parse()
	if err != nil {
		h.fail(w, r, "confirm donation", err)
		return
	}
	organ, err := h.service.ConfirmDonation(r.Context(), organID, userID, consentType)
	if err != nil {
		h.fail(w, r, "confirm donation", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, organ)
}

func (h *Handler) handleListDonorOrgans(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r)
	if err != nil {
		h.fail(w, r, "list donor organs", err)
		return
	}
	organs, err := h.service.ListDonorOrgans(r.Context(), userID)
	if err != nil {
		h.fail(w, r, "list donor organs", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"organs": organs})
}

func (h *Handler) handleSubmitRequest(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r)
	if err != nil {
		h.fail(w, r, "submit request", err)
		return
	}
	var req SubmitRequestRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "submit request", err)
		return
	}
	p, err := req.Parse()
	if err != nil {
		h.fail(w, r, "submit request", err)
		return
	}
	created, err := h.service.SubmitRequest(r.Context(), userID, p.organType, p.bloodGroup, p.urgency, p.notes)
	if err != nil {
		h.fail(w, r, "submit request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleListWaitingRequests(w http.ResponseWriter, r *http.Request) {
	filter, err := requestFilter(r.URL.Query())
	if err != nil {
		h.fail(w, r, "list waiting requests", err)
		return
	}
	requests, err := h.service.ListWaitingRequests(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "list waiting requests", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"requests": requests})
}

func (h *Handler) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r)
	if err != nil {
		h.fail(w, r, "get request", err)
		return
	}
	requestID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		h.fail(w, r, "get request", err)
		return
	}
	request, err := h.service.GetRequest(r.Context(), userID, requestID)
	if err != nil {
		h.fail(w, r, "get request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, request)
}

func (h *Handler) handleAcceptRequest(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r)
	if err != nil {
		h.fail(w, r, "accept request", err)
		return
	}
	requestID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		h.fail(w, r, "accept request", err)
		return
	}
	var req ConsentRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "accept request", err)
		return
	}
	consentType, err := req.Parse()
	if err != nil {
		h.fail(w, r, "accept request", err)
		return
	}
	allocation, err := h.service.AcceptRequest(r.Context(), requestID, userID, consentType)
	if err != nil {
		h.fail(w, r, "accept request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, allocation)
}

func (h *Handler) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r)
	if err != nil {
		h.fail(w, r, "list candidates", err)
		return
	}
	criteria, err := candidateCriteria(r.URL.Query())
	if err != nil {
		h.fail(w, r, "list candidates", err)
		return
	}
	candidates, err := h.service.ListCandidatesFor(r.Context(), userID, criteria)
	if err != nil {
		h.fail(w, r, "list candidates", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"candidates": candidates})
}

func (h *Handler) handleOfferOrgan(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r)
	if err != nil {
		h.fail(w, r, "offer organ", err)
		return
	}
	var req OfferOrganRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "offer organ", err)
		return
	}
	organID, requestID, err := req.Parse()
	if err != nil {
		h.fail(w, r, "offer organ", err)
		return
	}
	allocation, err := h.service.OfferOrgan(r.Context(), organID, requestID, userID)
	if err != nil {
		h.fail(w, r, "offer organ", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, allocation)
}

func (h *Handler) handleListHospitalAllocations(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r)
	if err != nil {
		h.fail(w, r, "list allocations", err)
		return
	}
	allocations, err := h.service.ListHospitalAllocations(r.Context(), userID, r.URL.Query().Get("status"))
	if err != nil {
		h.fail(w, r, "list allocations", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"allocations": allocations})
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r)
	if err != nil {
		h.fail(w, r, "dashboard", err)
		return
	}
	d, err := h.service.Dashboard(r.Context(), userID)
	if err != nil {
		h.fail(w, r, "dashboard", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

// transition runs one of the single-allocation use cases keyed by the path id.
func (h *Handler) transition(op string, fn func(ctx context.Context, allocationID id.AllocationID, userID id.UserID) (*models.Allocation, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := auth.UserID(r)
		if err != nil {
			h.fail(w, r, op, err)
			return
		}
		allocationID, err := allocationIDParam(r)
		if err != nil {
			h.fail(w, r, op, err)
			return
		}
		allocation, err := fn(r.Context(), allocationID, userID)
		if err != nil {
			h.fail(w, r, op, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, allocation)
	}
}

func (h *Handler) handleDonorConfirm(w http.ResponseWriter, r *http.Request) {
	h.transition("donor confirm", h.service.DonorConfirm)(w, r)
}

func (h *Handler) handleDonorReject(w http.ResponseWriter, r *http.Request) {
	h.transition("donor reject", h.service.DonorReject)(w, r)
}

func (h *Handler) handleCompleteAllocation(w http.ResponseWriter, r *http.Request) {
	h.transition("complete allocation", h.service.CompleteAllocation)(w, r)
}

func (h *Handler) handleFailAllocation(w http.ResponseWriter, r *http.Request) {
	var req FailAllocationRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "fail allocation", err)
		return
	}
	h.transition("fail allocation", func(ctx context.Context, allocationID id.AllocationID, userID id.UserID) (*models.Allocation, error) {
		return h.service.FailAllocation(ctx, allocationID, userID, req.Reason)
	})(w, r)
}

func (h *Handler) handleVerifyAllocation(w http.ResponseWriter, r *http.Request) {
	allocationID, err := allocationIDParam(r)
	if err != nil {
		h.fail(w, r, "verify allocation", err)
		return
	}
	report, err := h.service.VerifyAllocation(r.Context(), allocationID)
	if err != nil {
		h.fail(w, r, "verify allocation", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) handleCheckConsistency(w http.ResponseWriter, r *http.Request) {
	var allocationID *id.AllocationID
	if v := r.URL.Query().Get("allocation_id"); v != "" {
		parsed, err := id.ParseAllocationID(v)
		if err != nil {
			h.fail(w, r, "check consistency", err)
			return
		}
		allocationID = &parsed
	}
	findings, err := h.service.CheckConsistency(r.Context(), allocationID)
	if err != nil {
		h.fail(w, r, "check consistency", err)
		return
	}
	if findings == nil {
		findings = []models.Finding{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"findings": findings})
}
