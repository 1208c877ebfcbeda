package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mediguard/mediguard-platform/internal/records"
	"github.com/mediguard/mediguard-platform/pkg/logging"
)

type mockEmailSender struct {
	sent    []EmailMessage
	callErr error
}

func (m *mockEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	if m.callErr != nil {
		return m.callErr
	}
	m.sent = append(m.sent, msg)
	return nil
}

func sampleAppointment() records.Appointment {
	return records.Appointment{
		ID:               "a1",
		DoctorName:       "Meera Rao",
		DoctorSpeciality: "Cardiology",
		Location:         "Pune",
		PatientName:      "Asha <Patel>",
		PatientEmail:     "asha@example.com",
		Date:             "2025-06-01",
		Time:             "10:30",
		Status:           records.StatusPending,
	}
}

func TestAppointmentBookedSendsConfirmation(t *testing.T) {
	sender := &mockEmailSender{}
	svc := NewService(sender, logging.Discard())

	if err := svc.AppointmentBooked(context.Background(), sampleAppointment()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.To != "asha@example.com" {
		t.Errorf("unexpected recipient %q", msg.To)
	}
	if !strings.Contains(msg.Subject, "Dr. Meera Rao on 2025-06-01") {
		t.Errorf("unexpected subject %q", msg.Subject)
	}
	for _, want := range []string{"Time: 10:30", "Speciality: Cardiology", "Location: Pune", "Status: pending"} {
		if !strings.Contains(msg.Body, want) {
			t.Errorf("body missing %q:\n%s", want, msg.Body)
		}
	}
	if !strings.Contains(msg.HTML, "Asha &lt;Patel&gt;") {
		t.Errorf("html body not escaped: %s", msg.HTML)
	}
}

func TestAppointmentReviewed(t *testing.T) {
	sender := &mockEmailSender{}
	svc := NewService(sender, logging.Discard())
	appt := sampleAppointment()

	if err := svc.AppointmentReviewed(context.Background(), appt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("pending appointments are not announced")
	}

	appt.Status = records.StatusConfirmed
	appt.CalendarLink = "https://calendar.google.com/ev"
	if err := svc.AppointmentReviewed(context.Background(), appt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	appt.Status = records.StatusCancelled
	if err := svc.AppointmentReviewed(context.Background(), appt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 emails, got %d", len(sender.sent))
	}
	if !strings.Contains(sender.sent[0].Body, "Calendar: https://calendar.google.com/ev") {
		t.Errorf("confirmation should carry the calendar link: %s", sender.sent[0].Body)
	}
	if !strings.HasPrefix(sender.sent[1].Subject, "Appointment cancelled") {
		t.Errorf("unexpected subject %q", sender.sent[1].Subject)
	}
}

func TestServiceSkipsWithoutSenderOrRecipient(t *testing.T) {
	if err := NewService(nil, logging.Discard()).AppointmentBooked(context.Background(), sampleAppointment()); err != nil {
		t.Fatalf("nil sender should be a no-op, got %v", err)
	}
	sender := &mockEmailSender{}
	appt := sampleAppointment()
	appt.PatientEmail = " "
	if err := NewService(sender, logging.Discard()).AppointmentBooked(context.Background(), appt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("expected no email without a recipient")
	}
}

func TestServiceWrapsSendErrors(t *testing.T) {
	boom := errors.New("smtp down")
	err := NewService(&mockEmailSender{callErr: boom}, logging.Discard()).AppointmentBooked(context.Background(), sampleAppointment())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
