package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mediguard/mediguard-platform/internal/medapi"
	"github.com/mediguard/mediguard-platform/internal/records"
)

// Appointments handles GET /api/app/appointments.
func (h *AppHandler) Appointments(w http.ResponseWriter, r *http.Request) {
	id, ok := currentUser(w, r)
	if !ok {
		return
	}
	appts, err := h.repo.Appointments(r.Context(), id.UID)
	if err != nil {
		h.logger.ForUser(id.UID).Error("failed to list appointments", "error", err)
		jsonError(w, "failed to load appointments", http.StatusInternalServerError)
		return
	}
	if appts == nil {
		appts = []records.Appointment{}
	}
	writeJSON(w, http.StatusOK, appts)
}

// BookingDefaults handles GET /api/app/appointments/defaults: values to
// pre-fill the booking form with.
func (h *AppHandler) BookingDefaults(w http.ResponseWriter, r *http.Request) {
	id, ok := currentUser(w, r)
	if !ok {
		return
	}
	whatsapp, err := h.repo.LastWhatsapp(r.Context(), id.UID)
	if err != nil {
		h.logger.ForUser(id.UID).Warn("failed to load last whatsapp", "error", err)
	}
	writeJSON(w, http.StatusOK, records.BookingInput{
		PatientName:  id.DisplayName,
		PatientEmail: id.Email,
		WhatsApp:     whatsapp,
	})
}

// BookAppointment handles POST /api/app/appointments.
func (h *AppHandler) BookAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := currentUser(w, r)
	if !ok {
		return
	}
	var in records.BookingInput
	if err := decodeJSON(r, &in); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	log := h.logger.ForUser(id.UID)
	appt, err := h.repo.BookAppointment(r.Context(), id.UID, in)
	if err != nil {
		status, msg := recordsStatus(err)
		if status == http.StatusNotFound {
			msg = "doctor not found"
		}
		if status == http.StatusInternalServerError {
			log.Error("failed to book appointment", "error", err)
		}
		jsonError(w, msg, status)
		return
	}
	if h.sync != nil {
		if err := h.sync.EnqueueSync(r.Context(), appt.ID, id.UID); err != nil {
			log.Warn("failed to enqueue calendar sync", "error", err, "appointment_id", appt.ID)
		}
	}
	writeJSON(w, http.StatusCreated, appt)
}

// CancelAppointment handles DELETE /api/app/appointments/{appointmentID}.
func (h *AppHandler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := currentUser(w, r)
	if !ok {
		return
	}
	apptID := chi.URLParam(r, "appointmentID")
	if err := h.repo.CancelAppointment(r.Context(), id.UID, apptID); err != nil {
		status, msg := recordsStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.ForUser(id.UID).Error("failed to cancel appointment", "error", err, "appointment_id", apptID)
		}
		jsonError(w, msg, status)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SyncAppointment handles POST /api/app/appointments/{appointmentID}/sync:
// an immediate calendar sync through the external API using the owner's
// cached Google credentials.
func (h *AppHandler) SyncAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := currentUser(w, r)
	if !ok {
		return
	}
	if h.api == nil {
		jsonError(w, "calendar service unavailable", http.StatusServiceUnavailable)
		return
	}
	appt, err := h.repo.Appointment(r.Context(), chi.URLParam(r, "appointmentID"))
	if err != nil {
		status, msg := recordsStatus(err)
		jsonError(w, msg, status)
		return
	}
	if appt.UserID != id.UID {
		jsonError(w, "forbidden", http.StatusForbidden)
		return
	}
	res, err := h.api.SyncAppointment(r.Context(), *appt, nil)
	if err != nil {
		jsonError(w, medapi.Detail(err), http.StatusBadGateway)
		return
	}
	if res.Success && res.EventID != "" {
		if err := h.repo.MarkCalendarSynced(r.Context(), appt.ID, res.EventID, res.EventLink); err != nil {
			h.logger.ForUser(id.UID).Error("failed to record calendar event", "error", err, "appointment_id", appt.ID)
		}
	}
	writeJSON(w, http.StatusOK, res)
}

// PendingAppointments handles GET /api/app/admin/appointments (admin).
func (h *AppHandler) PendingAppointments(w http.ResponseWriter, r *http.Request) {
	appts, err := h.repo.PendingAppointments(r.Context())
	if err != nil {
		h.logger.Error("failed to list pending appointments", "error", err)
		jsonError(w, "failed to load appointments", http.StatusInternalServerError)
		return
	}
	if appts == nil {
		appts = []records.Appointment{}
	}
	writeJSON(w, http.StatusOK, appts)
}

// ReviewAppointment handles POST /api/app/admin/appointments/{appointmentID}/review
// with {"status": "confirmed"|"cancelled"} (admin).
func (h *AppHandler) ReviewAppointment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status records.AppointmentStatus `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	apptID := chi.URLParam(r, "appointmentID")
	appt, err := h.repo.ReviewAppointment(r.Context(), apptID, req.Status)
	if err != nil {
		status, msg := recordsStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("failed to review appointment", "error", err, "appointment_id", apptID)
		}
		jsonError(w, msg, status)
		return
	}
	if h.notifier != nil {
		if err := h.notifier.AppointmentReviewed(r.Context(), *appt); err != nil {
			h.logger.Warn("review notification failed", "error", err, "appointment_id", apptID)
		}
	}
	writeJSON(w, http.StatusOK, appt)
}
