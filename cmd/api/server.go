package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"homeflow/auth"
	"homeflow/contractor"
	"homeflow/coordinator"
	"homeflow/dispute"
	"homeflow/escrow"
	"homeflow/job"
	"homeflow/offer"
)

type ctxKey int

const (
	ctxKeyUserID ctxKey = iota
	ctxKeyRole
)

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (string, auth.Role, error)
}

type jobService interface {
	Create(ctx context.Context, params job.CreateParams) (job.Job, error)
	Get(ctx context.Context, jobID string) (job.Job, error)
	List(ctx context.Context, filters job.Filters) (job.ListResult, error)
}

type offerService interface {
	Submit(ctx context.Context, params offer.SubmitParams) (offer.Offer, error)
	CounterBid(ctx context.Context, params offer.CounterBidParams) (offer.Offer, error)
	Withdraw(ctx context.Context, offerID, actorID string) error
	ListActive(ctx context.Context, jobID string) ([]offer.Offer, error)
	ListForContractor(ctx context.Context, contractorID string) ([]offer.Offer, error)
}

type coordinatorService interface {
	AcceptOffer(ctx context.Context, params coordinator.AcceptParams) (coordinator.AcceptResult, error)
	DeclineOffer(ctx context.Context, jobID, offerID, actorID string) error
	ConfirmJobComplete(ctx context.Context, jobID, actorID string) (coordinator.CompletionResult, error)
	StartWork(ctx context.Context, jobID, actorID string) error
	CancelJob(ctx context.Context, jobID, actorID, reason string) error
	OpenDispute(ctx context.Context, jobID, actorID string) error
}

type escrowService interface {
	OnAuthorized(ctx context.Context, holdID, idemKey string) error
	OnCaptured(ctx context.Context, holdID, idemKey string) error
}

type disputeService interface {
	List(ctx context.Context, userID, jobID string) ([]dispute.Record, error)
	Resolve(ctx context.Context, userID, disputeID string) (dispute.Record, error)
}

// Server holds the HTTP handlers and their service dependencies.
type Server struct {
	authService       authService
	jobService        jobService
	offerService      offerService
	coordService      coordinatorService
	escrowService     escrowService
	contractorService *contractor.Service
	disputeService    disputeService
	paymentWebhookKey string
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/register", s.handleRegister)
	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.HandleFunc("/api/jobs", s.withAuth(s.handleJobs))
	mux.HandleFunc("/api/jobs/", s.withAuth(s.handleJobDetail))
	mux.HandleFunc("/api/offers", s.withAuth(s.handleOffers))
	mux.HandleFunc("/api/offers/", s.withAuth(s.handleOfferDetail))
	mux.HandleFunc("/api/contractors", s.handleContractors)
	mux.HandleFunc("/api/contractors/", s.handleContractor)
	mux.HandleFunc("/api/disputes", s.withAuth(s.handleDisputes))
	mux.HandleFunc("/api/disputes/", s.withAuth(s.handleDisputeDetail))
	mux.HandleFunc("/api/webhooks/payment", s.handlePaymentWebhook)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// withAuth extracts the bearer token, verifies it, and stashes the caller's
// identity on the request context.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, role, err := s.authService.VerifyToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		ctx = context.WithValue(ctx, ctxKeyRole, role)
		next(w, r.WithContext(ctx))
	}
}

func callerID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKeyUserID).(string)
	return id
}

func callerRole(r *http.Request) auth.Role {
	role, _ := r.Context().Value(ctxKeyRole).(auth.Role)
	return role
}

// --- auth ---

type userResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Role     string `json:"role"`
}

func toUserResponse(u auth.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, FullName: u.FullName, Role: string(u.Role)}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, auth.ErrDuplicateEmail):
			writeError(w, http.StatusConflict, "email already registered")
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(*user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user":  toUserResponse(result.User),
	})
}

// --- jobs ---

type jobResponse struct {
	ID              string  `json:"id"`
	HomeownerID     string  `json:"homeownerId"`
	Category        string  `json:"category"`
	Priority        string  `json:"priority"`
	Status          string  `json:"status"`
	AcceptedOfferID *string `json:"acceptedOfferId,omitempty"`
	ContractorID    *string `json:"contractorId,omitempty"`
	CreatedAt       string  `json:"createdAt"`
}

func toJobResponse(j job.Job) jobResponse {
	return jobResponse{
		ID:              j.ID,
		HomeownerID:     j.HomeownerID,
		Category:        j.Category,
		Priority:        string(j.Priority),
		Status:          string(j.Status),
		AcceptedOfferID: j.AcceptedOfferID,
		ContractorID:    j.ContractorID,
		CreatedAt:       j.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		filters := job.Filters{
			Status:   job.Status(r.URL.Query().Get("status")),
			Category: r.URL.Query().Get("category"),
		}
		if page, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil {
			filters.Page = page
		}
		// Homeowners see their own jobs; contractors the ones they won.
		if callerRole(r) == auth.RoleContractor {
			filters.ContractorID = callerID(r)
		} else if callerRole(r) != auth.RoleAdmin {
			filters.HomeownerID = callerID(r)
		}
		result, err := s.jobService.List(r.Context(), filters)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list jobs failed")
			return
		}
		items := make([]jobResponse, 0, len(result.Items))
		for _, j := range result.Items {
			items = append(items, toJobResponse(j))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": result.Total})
	case http.MethodPost:
		if callerRole(r) != auth.RoleHomeowner {
			writeError(w, http.StatusForbidden, "only homeowners create jobs")
			return
		}
		var body struct {
			Category string `json:"category"`
			Priority string `json:"priority"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		created, err := s.jobService.Create(r.Context(), job.CreateParams{
			HomeownerID: callerID(r),
			Category:    body.Category,
			Priority:    job.Priority(body.Priority),
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, toJobResponse(created))
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleJobDetail dispatches /api/jobs/{id} and /api/jobs/{id}/{action}.
func (s *Server) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "missing job id")
		return
	}
	jobID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleJob(w, r, jobID)
		return
	}

	switch parts[1] {
	case "offers":
		s.handleJobOffers(w, r, jobID)
	case "accept":
		s.handleAcceptOffer(w, r, jobID)
	case "decline":
		s.handleDeclineOffer(w, r, jobID)
	case "start":
		s.handleStartWork(w, r, jobID)
	case "complete":
		s.handleConfirmComplete(w, r, jobID)
	case "cancel":
		s.handleCancelJob(w, r, jobID)
	case "dispute":
		s.handleOpenDispute(w, r, jobID)
	default:
		writeError(w, http.StatusNotFound, "unknown action")
	}
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request, jobID string) {
	j, err := s.jobService.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get job failed")
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(j))
}

// --- offers ---

type offerResponse struct {
	ID             string `json:"id"`
	JobID          string `json:"jobId"`
	ContractorID   string `json:"contractorId"`
	Source         string `json:"source"`
	AmountCents    int64  `json:"amountCents"`
	Message        string `json:"message,omitempty"`
	EtaMinutesHint *int   `json:"etaMinutesHint,omitempty"`
	Status         string `json:"status"`
	CreatedAt      string `json:"createdAt"`
}

func toOfferResponse(o offer.Offer) offerResponse {
	return offerResponse{
		ID:             o.ID,
		JobID:          o.JobID,
		ContractorID:   o.ContractorID,
		Source:         string(o.Source),
		AmountCents:    o.AmountCents,
		Message:        o.Message,
		EtaMinutesHint: o.EtaMinutesHint,
		Status:         string(o.Status),
		CreatedAt:      o.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleJobOffers(w http.ResponseWriter, r *http.Request, jobID string) {
	switch r.Method {
	case http.MethodGet:
		offers, err := s.offerService.ListActive(r.Context(), jobID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list offers failed")
			return
		}
		items := make([]offerResponse, 0, len(offers))
		for _, o := range offers {
			items = append(items, toOfferResponse(o))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		if callerRole(r) != auth.RoleContractor {
			writeError(w, http.StatusForbidden, "only contractors submit offers")
			return
		}
		var body struct {
			Source      string `json:"source"`
			AmountCents int64  `json:"amountCents"`
			Message     string `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		created, err := s.offerService.Submit(r.Context(), offer.SubmitParams{
			JobID:        jobID,
			ContractorID: callerID(r),
			Source:       offer.Source(body.Source),
			AmountCents:  body.AmountCents,
			Message:      body.Message,
		})
		if err != nil {
			writeOfferError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toOfferResponse(created))
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleOffers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	offers, err := s.offerService.ListForContractor(r.Context(), callerID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list offers failed")
		return
	}
	items := make([]offerResponse, 0, len(offers))
	for _, o := range offers {
		items = append(items, toOfferResponse(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// handleOfferDetail dispatches /api/offers/{id}/{action}.
func (s *Server) handleOfferDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/offers/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "expected /api/offers/{id}/{action}")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	offerID := parts[0]

	switch parts[1] {
	case "counter":
		var body struct {
			AmountCents int64 `json:"amountCents"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		updated, err := s.offerService.CounterBid(r.Context(), offer.CounterBidParams{
			OfferID:        offerID,
			ActorID:        callerID(r),
			NewAmountCents: body.AmountCents,
		})
		if err != nil {
			writeOfferError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toOfferResponse(updated))
	case "withdraw":
		if err := s.offerService.Withdraw(r.Context(), offerID, callerID(r)); err != nil {
			writeOfferError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusNotFound, "unknown action")
	}
}

func writeOfferError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, offer.ErrNotFound), errors.Is(err, offer.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, offer.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, offer.ErrJobNotOpen), errors.Is(err, offer.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, offer.ErrInvalidAmount), errors.Is(err, offer.ErrInvalidSource):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "offer operation failed")
	}
}

// --- coordinator actions ---

type acceptResponse struct {
	JobID            string   `json:"jobId"`
	OfferID          string   `json:"offerId"`
	ContractorID     string   `json:"contractorId"`
	AmountCents      int64    `json:"amountCents"`
	DeclinedOfferIDs []string `json:"declinedOfferIds"`
	HoldID           string   `json:"holdId"`
}

func (s *Server) handleAcceptOffer(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		OfferID string `json:"offerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.OfferID == "" {
		writeError(w, http.StatusBadRequest, "offerId required")
		return
	}
	result, err := s.coordService.AcceptOffer(r.Context(), coordinator.AcceptParams{
		JobID:   jobID,
		OfferID: body.OfferID,
		ActorID: callerID(r),
	})
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acceptResponse{
		JobID:            result.JobID,
		OfferID:          result.OfferID,
		ContractorID:     result.ContractorID,
		AmountCents:      result.AmountCents,
		DeclinedOfferIDs: result.DeclinedOfferIDs,
		HoldID:           result.HoldID,
	})
}

func (s *Server) handleDeclineOffer(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		OfferID string `json:"offerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.OfferID == "" {
		writeError(w, http.StatusBadRequest, "offerId required")
		return
	}
	if err := s.coordService.DeclineOffer(r.Context(), jobID, body.OfferID, callerID(r)); err != nil {
		writeCoordinatorError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type completionResponse struct {
	AlreadyConfirmed bool `json:"alreadyConfirmed"`
	BothConfirmed    bool `json:"bothConfirmed"`
	Released         bool `json:"released"`
	JobCompleted     bool `json:"jobCompleted"`
}

func (s *Server) handleConfirmComplete(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	result, err := s.coordService.ConfirmJobComplete(r.Context(), jobID, callerID(r))
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, completionResponse{
		AlreadyConfirmed: result.AlreadyConfirmed,
		BothConfirmed:    result.BothConfirmed,
		Released:         result.Released,
		JobCompleted:     result.JobCompleted,
	})
}

func (s *Server) handleStartWork(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.coordService.StartWork(r.Context(), jobID, callerID(r)); err != nil {
		writeCoordinatorError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := s.coordService.CancelJob(r.Context(), jobID, callerID(r), body.Reason); err != nil {
		writeCoordinatorError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOpenDispute(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.coordService.OpenDispute(r.Context(), jobID, callerID(r)); err != nil {
		writeCoordinatorError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeCoordinatorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, coordinator.ErrJobNotFound), errors.Is(err, coordinator.ErrOfferNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, coordinator.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, coordinator.ErrOfferNoLongerAvailable),
		errors.Is(err, coordinator.ErrCannotCancelInProgress),
		errors.Is(err, coordinator.ErrInvalidState),
		errors.Is(err, escrow.ErrHoldAlreadyActive),
		errors.Is(err, escrow.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, escrow.ErrGatewayFailure):
		writeError(w, http.StatusBadGateway, "payment authorization failed")
	default:
		writeError(w, http.StatusInternalServerError, "operation failed")
	}
}

// --- contractors ---

type contractorResponse struct {
	ID        string  `json:"id"`
	FullName  string  `json:"fullName"`
	Rating    float64 `json:"rating"`
	Verified  bool    `json:"verified"`
	CreatedAt string  `json:"createdAt"`
}

func toContractorResponse(p contractor.Profile) contractorResponse {
	return contractorResponse{
		ID:        p.ID,
		FullName:  p.FullName,
		Rating:    p.Rating,
		Verified:  p.Verified,
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleContractors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	profiles, err := s.contractorService.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list contractors failed")
		return
	}
	items := make([]contractorResponse, 0, len(profiles))
	for _, p := range profiles {
		items = append(items, toContractorResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

func (s *Server) handleContractor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/contractors/"), "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing contractor id")
		return
	}
	profile, err := s.contractorService.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, contractor.ErrNotFound) {
			writeError(w, http.StatusNotFound, "contractor not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get contractor failed")
		return
	}
	writeJSON(w, http.StatusOK, toContractorResponse(profile))
}

// --- disputes ---

type disputeResponse struct {
	ID         string  `json:"id"`
	JobID      string  `json:"jobId"`
	OpenedBy   *string `json:"openedBy,omitempty"`
	Status     string  `json:"status"`
	CreatedAt  string  `json:"createdAt"`
	ResolvedAt *string `json:"resolvedAt,omitempty"`
}

func toDisputeResponse(rec dispute.Record) disputeResponse {
	resp := disputeResponse{
		ID:        rec.ID,
		JobID:     rec.JobID,
		OpenedBy:  rec.OpenedBy,
		Status:    string(rec.Status),
		CreatedAt: rec.CreatedAt.Format(time.RFC3339),
	}
	if rec.ResolvedAt != nil {
		formatted := rec.ResolvedAt.Format(time.RFC3339)
		resp.ResolvedAt = &formatted
	}
	return resp
}

func (s *Server) handleDisputes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	records, err := s.disputeService.List(r.Context(), callerID(r), r.URL.Query().Get("jobId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list disputes failed")
		return
	}
	items := make([]disputeResponse, 0, len(records))
	for _, rec := range records {
		items = append(items, toDisputeResponse(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleDisputeDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/disputes/"), "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing dispute id")
		return
	}
	record, err := s.disputeService.Resolve(r.Context(), callerID(r), id)
	if err != nil {
		switch {
		case errors.Is(err, dispute.ErrForbidden):
			writeError(w, http.StatusNotFound, "dispute not found")
		case errors.Is(err, dispute.ErrBadStatus):
			writeError(w, http.StatusBadRequest, "dispute already resolved")
		default:
			writeError(w, http.StatusInternalServerError, "resolve dispute failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(record))
}

// --- payment webhook ---

// handlePaymentWebhook receives the gateway's asynchronous authorization and
// capture callbacks. The shared key stands in for the provider's request
// signing; replays are deduplicated downstream by eventId.
func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.paymentWebhookKey != "" && r.Header.Get("X-Webhook-Key") != s.paymentWebhookKey {
		writeError(w, http.StatusUnauthorized, "invalid webhook key")
		return
	}
	var body struct {
		EventID string `json:"eventId"`
		HoldID  string `json:"holdId"`
		Type    string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.EventID == "" || body.HoldID == "" {
		writeError(w, http.StatusBadRequest, "eventId and holdId required")
		return
	}

	var err error
	switch body.Type {
	case "authorized":
		err = s.escrowService.OnAuthorized(r.Context(), body.HoldID, body.EventID)
	case "captured":
		err = s.escrowService.OnCaptured(r.Context(), body.HoldID, body.EventID)
	default:
		writeError(w, http.StatusBadRequest, "unknown event type")
		return
	}
	if err != nil {
		switch {
		case errors.Is(err, escrow.ErrHoldNotFound):
			writeError(w, http.StatusNotFound, "hold not found")
		case errors.Is(err, escrow.ErrInvalidTransition):
			writeError(w, http.StatusConflict, "out-of-order callback")
		default:
			writeError(w, http.StatusInternalServerError, "webhook processing failed")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
