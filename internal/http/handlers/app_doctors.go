package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mediguard/mediguard-platform/internal/records"
)

// Doctors handles GET /api/app/doctors.
func (h *AppHandler) Doctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := h.repo.Doctors(r.Context())
	if err != nil {
		h.logger.Error("failed to list doctors", "error", err)
		jsonError(w, "failed to load doctors", http.StatusInternalServerError)
		return
	}
	if doctors == nil {
		doctors = []records.Doctor{}
	}
	writeJSON(w, http.StatusOK, doctors)
}

// AddDoctor handles POST /api/app/doctors (admin).
func (h *AppHandler) AddDoctor(w http.ResponseWriter, r *http.Request) {
	var in records.DoctorInput
	if err := decodeJSON(r, &in); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	doctor, err := h.repo.AddDoctor(r.Context(), in)
	if err != nil {
		status, msg := recordsStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("failed to add doctor", "error", err)
		}
		jsonError(w, msg, status)
		return
	}
	writeJSON(w, http.StatusCreated, doctor)
}

// DeleteDoctor handles DELETE /api/app/doctors/{doctorID} (admin).
func (h *AppHandler) DeleteDoctor(w http.ResponseWriter, r *http.Request) {
	doctorID := chi.URLParam(r, "doctorID")
	if doctorID == "" {
		jsonError(w, "missing doctorID", http.StatusBadRequest)
		return
	}
	if err := h.repo.DeleteDoctor(r.Context(), doctorID); err != nil {
		h.logger.Error("failed to delete doctor", "error", err, "doctor_id", doctorID)
		jsonError(w, "failed to delete doctor", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
