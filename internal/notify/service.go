package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/mediguard/mediguard-platform/internal/records"
	"github.com/mediguard/mediguard-platform/pkg/logging"
)

const defaultFromName = "MediBuddy"

// Service sends appointment emails to patients.
type Service struct {
	email  EmailSender
	logger *logging.Logger
}

// NewService creates a notification service. A nil sender disables email.
func NewService(email EmailSender, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{email: email, logger: logger}
}

// AppointmentBooked confirms a new booking to the patient.
func (s *Service) AppointmentBooked(ctx context.Context, appt records.Appointment) error {
	subject := fmt.Sprintf("Appointment request received: Dr. %s on %s", appt.DoctorName, appt.Date)
	lines := []string{
		fmt.Sprintf("Hi %s,", firstNonEmpty(appt.PatientName, "there")),
		"",
		fmt.Sprintf("We received your appointment request with Dr. %s.", appt.DoctorName),
		"",
		"Date: " + appt.Date,
		"Time: " + appt.Time,
	}
	if appt.DoctorSpeciality != "" {
		lines = append(lines, "Speciality: "+appt.DoctorSpeciality)
	}
	if appt.Location != "" {
		lines = append(lines, "Location: "+appt.Location)
	}
	lines = append(lines, "Status: "+string(appt.Status), "", "You can review or cancel it under My Appointments.")
	return s.send(ctx, appt, "appointment_booked", subject, lines)
}

// AppointmentReviewed tells the patient an admin confirmed or cancelled the
// booking.
func (s *Service) AppointmentReviewed(ctx context.Context, appt records.Appointment) error {
	var subject, verdict string
	switch appt.Status {
	case records.StatusConfirmed:
		subject = fmt.Sprintf("Appointment confirmed: Dr. %s on %s", appt.DoctorName, appt.Date)
		verdict = "has been confirmed"
	case records.StatusCancelled:
		subject = fmt.Sprintf("Appointment cancelled: Dr. %s on %s", appt.DoctorName, appt.Date)
		verdict = "has been cancelled by the clinic"
	default:
		return nil
	}
	lines := []string{
		fmt.Sprintf("Hi %s,", firstNonEmpty(appt.PatientName, "there")),
		"",
		fmt.Sprintf("Your appointment with Dr. %s on %s at %s %s.", appt.DoctorName, appt.Date, appt.Time, verdict),
	}
	if appt.CalendarLink != "" && appt.Status == records.StatusConfirmed {
		lines = append(lines, "", "Calendar: "+appt.CalendarLink)
	}
	return s.send(ctx, appt, "appointment_"+string(appt.Status), subject, lines)
}

func (s *Service) send(ctx context.Context, appt records.Appointment, category, subject string, lines []string) error {
	if s.email == nil {
		s.logger.Debug("notify: email not configured, skipping", "appointment_id", appt.ID)
		return nil
	}
	to := strings.TrimSpace(appt.PatientEmail)
	if to == "" {
		s.logger.Debug("notify: appointment has no patient email", "appointment_id", appt.ID)
		return nil
	}
	body := strings.Join(lines, "\n")
	escaped := make([]string, len(lines))
	for i, l := range lines {
		escaped[i] = html.EscapeString(l)
	}
	msg := EmailMessage{
		To:       to,
		ToName:   appt.PatientName,
		Subject:  subject,
		Body:     body,
		HTML:     "<p>" + strings.Join(escaped, "<br>") + "</p>",
		Category: category,
	}
	if err := s.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: send appointment email: %w", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
