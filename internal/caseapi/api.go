// Package caseapi exposes the investigation HTTP surface: submitting a
// transaction for investigation and reading results back.
package caseapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/inquest/internal/investigation"
)

const defaultListLimit = 50

// InvestigationService defines the business operations caseapi needs.
type InvestigationService interface {
	Submit(ctx context.Context, transactionID string) (*investigation.State, error)
	Get(ctx context.Context, id string) (*investigation.State, bool, error)
	GetByTransaction(ctx context.Context, transactionID string) (*investigation.State, bool, error)
	List(ctx context.Context, limit int) ([]*investigation.State, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    InvestigationService
}

// New creates a new API handler.
func New(logger log.Logger, svc InvestigationService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("investigation service is required"))
	}
	return &API{logger: logger, svc: svc}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/investigations", a.handleSubmit)
		r.Get("/investigations", a.handleList)
		r.Get("/investigations/{id}", a.handleGet)
		r.Get("/transactions/{id}/investigation", a.handleGetByTransaction)
	})
}

type submitRequest struct {
	TransactionID string `json:"transaction_id"`
}

type submitResponse struct {
	InvestigationID string               `json:"investigation_id"`
	TransactionID   string               `json:"transaction_id"`
	Status          investigation.Status `json:"status"`
}

// handleSubmit accepts a transaction for investigation. The investigation
// runs asynchronously; re-submitting while one is in flight returns the
// existing ID.
func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if req.TransactionID == "" {
		http.Error(w, `{"error":"transaction_id is required"}`, http.StatusBadRequest)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("inquest.transaction.id", req.TransactionID))

	st, err := a.svc.Submit(r.Context(), req.TransactionID)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to submit investigation",
			"transaction_id", req.TransactionID)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	span.SetAttributes(attribute.String("inquest.investigation.id", st.InvestigationID))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(submitResponse{
		InvestigationID: st.InvestigationID,
		TransactionID:   st.TransactionID,
		Status:          st.Status,
	})
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("inquest.investigation.id", id))

	st, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get investigation", "id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	span.SetAttributes(attribute.String("inquest.investigation.status", string(st.Status)))
	a.writeState(w, st)
}

func (a *API) handleGetByTransaction(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "id")

	st, ok, err := a.svc.GetByTransaction(r.Context(), transactionID)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get investigation by transaction",
			"transaction_id", transactionID)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	a.writeState(w, st)
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, `{"error":"limit must be a positive integer"}`, http.StatusBadRequest)
			return
		}
		limit = n
	}

	out, err := a.svc.List(r.Context(), limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list investigations")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"investigations": out})
}

func (a *API) writeState(w http.ResponseWriter, st *investigation.State) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}
