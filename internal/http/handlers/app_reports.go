package handlers

import (
	"errors"
	"net/http"

	"github.com/mediguard/mediguard-platform/internal/medapi"
	"github.com/mediguard/mediguard-platform/internal/records"
	"github.com/mediguard/mediguard-platform/internal/risk"
)

type medicationsRequest struct {
	Medications []records.Medication `json:"medications"`
	// Analysis is the result the client already has on screen; when absent
	// the medications are analyzed before saving.
	Analysis *records.Analysis `json:"analysis,omitempty"`
}

// AnalyzeMedications handles POST /api/app/analyze. Nothing is stored.
func (h *AppHandler) AnalyzeMedications(w http.ResponseWriter, r *http.Request) {
	if _, ok := currentUser(w, r); !ok {
		return
	}
	var req medicationsRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	analysis, ok := h.analyze(w, r, req.Medications)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

// SaveReport handles POST /api/app/reports.
func (h *AppHandler) SaveReport(w http.ResponseWriter, r *http.Request) {
	id, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req medicationsRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	analysis := req.Analysis
	if analysis == nil {
		if analysis, ok = h.analyze(w, r, req.Medications); !ok {
			return
		}
	}
	name := id.DisplayName
	if name == "" {
		name = "User"
	}
	report, err := h.repo.AddReport(r.Context(), id.UID, name, req.Medications, *analysis)
	if err != nil {
		status, msg := recordsStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.ForUser(id.UID).Error("failed to save report", "error", err)
		}
		jsonError(w, msg, status)
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

func (h *AppHandler) analyze(w http.ResponseWriter, r *http.Request, meds []records.Medication) (*records.Analysis, bool) {
	names := records.Names(meds)
	if len(names) == 0 {
		jsonError(w, records.ErrNoMedications.Error(), http.StatusBadRequest)
		return nil, false
	}
	if h.api == nil {
		jsonError(w, "analysis service unavailable", http.StatusServiceUnavailable)
		return nil, false
	}
	analysis, err := h.api.Analyze(r.Context(), names)
	if err != nil {
		if errors.Is(err, medapi.ErrEmptyMedicationList) {
			jsonError(w, records.ErrNoMedications.Error(), http.StatusBadRequest)
			return nil, false
		}
		jsonError(w, medapi.Detail(err), http.StatusBadGateway)
		return nil, false
	}
	return analysis, true
}

// Reports handles GET /api/app/reports.
func (h *AppHandler) Reports(w http.ResponseWriter, r *http.Request) {
	id, ok := currentUser(w, r)
	if !ok {
		return
	}
	reports, err := h.repo.Reports(r.Context(), id.UID)
	if err != nil {
		h.logger.ForUser(id.UID).Error("failed to list reports", "error", err)
		jsonError(w, "failed to load reports", http.StatusInternalServerError)
		return
	}
	if reports == nil {
		reports = []records.Report{}
	}
	writeJSON(w, http.StatusOK, reports)
}

// RiskSummary handles GET /api/app/reports/summary. No reports, no body.
func (h *AppHandler) RiskSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := currentUser(w, r)
	if !ok {
		return
	}
	reports, err := h.repo.Reports(r.Context(), id.UID)
	if err != nil {
		h.logger.ForUser(id.UID).Error("failed to list reports", "error", err)
		jsonError(w, "failed to load reports", http.StatusInternalServerError)
		return
	}
	summary, ok := risk.Summarize(reports)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
