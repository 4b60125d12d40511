package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/priorauth/internal/domain"
	"github.com/xela07ax/priorauth/internal/pipeline"
	"github.com/xela07ax/priorauth/internal/server/service"
)

type PriorAuthHandler struct {
	service *service.AdjudicationService
	logger  *zap.Logger
}

func NewPriorAuthHandler(s *service.AdjudicationService, logger *zap.Logger) *PriorAuthHandler {
	return &PriorAuthHandler{service: s, logger: logger.Named("priorauth-handler")}
}

// submitRequest is the wire shape of a submission. The service date travels
// as a plain date; everything else maps straight onto the domain request.
type submitRequest struct {
	RequestID      string   `json:"request_id,omitempty"`
	MemberID       string   `json:"member_id"`
	NPI            string   `json:"npi"`
	ProviderName   string   `json:"provider_name"`
	DiagnosisCodes []string `json:"icd10_codes"`
	ProcedureCodes []string `json:"cpt_codes"`
	LOB            string   `json:"lob"`
	ServiceDate    string   `json:"service_date"` // "2006-01-02"
	State          string   `json:"state,omitempty"`
	ClinicalNotes  string   `json:"clinical_notes,omitempty"`
	PolicyRef      string   `json:"policy_ref,omitempty"`
	Documents      []string `json:"documents,omitempty"`
}

// Submit runs a prior authorization request through the pipeline.
// POST /api/prior-auth
func (h *PriorAuthHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var body submitRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	serviceDate, err := time.Parse("2006-01-02", body.ServiceDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "service_date must be YYYY-MM-DD")
		return
	}

	req := &domain.PARequest{
		ID:             body.RequestID,
		MemberID:       body.MemberID,
		ProviderNPI:    body.NPI,
		ProviderName:   body.ProviderName,
		DiagnosisCodes: body.DiagnosisCodes,
		ProcedureCodes: body.ProcedureCodes,
		LOB:            domain.LineOfBusiness(body.LOB),
		ServiceDate:    serviceDate,
		State:          body.State,
		ClinicalNotes:  body.ClinicalNotes,
		PolicyRef:      body.PolicyRef,
		Documents:      body.Documents,
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	result, err := h.service.Submit(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, pipeline.ErrCancelled):
			writeError(w, http.StatusConflict, "request cancelled before a decision was reached")
		default:
			h.logger.Error("adjudication failed",
				zap.String("request_id", req.ID),
				zap.Error(err),
			)
			writeError(w, http.StatusInternalServerError, "adjudication failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Cancel flags an in-flight request for cancellation.
// DELETE /api/prior-auth/{id}
func (h *PriorAuthHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "request id is required")
		return
	}

	if err := h.service.Cancel(r.Context(), id); err != nil {
		h.logger.Error("cancel failed", zap.String("request_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to cancel request")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"request_id": id, "status": "cancelling"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
