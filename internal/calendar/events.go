package calendar

import (
	"context"
	"fmt"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/mediguard/mediguard-platform/internal/records"
	"github.com/mediguard/mediguard-platform/pkg/logging"
)

const (
	AppCalendarName = "MediBuddy App"
	defaultTimeZone = "Asia/Kolkata"
	eventDuration   = time.Hour
	// Google's palette id for red.
	medicalColorID = "11"
)

var appCalendarNames = map[string]bool{"MediBuddy": true, AppCalendarName: true}

// SyncResult mirrors the /appointments response body.
type SyncResult struct {
	Success   bool   `json:"success"`
	EventID   string `json:"event_id,omitempty"`
	EventLink string `json:"event_link,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ServiceFactory opens a Calendar API client for the given credentials.
type ServiceFactory func(ctx context.Context, creds Credentials) (*gcal.Service, error)

// Events creates appointment events in the user's dedicated calendar.
type Events struct {
	newService ServiceFactory
	timeZone   string
	logger     *logging.Logger
}

// NewEvents uses oauth to authorize API calls; extra options (endpoint
// overrides) are passed to every client.
func NewEvents(oauth *OAuth, timeZone string, logger *logging.Logger, opts ...option.ClientOption) *Events {
	if oauth == nil {
		panic("calendar: oauth cannot be nil")
	}
	factory := func(ctx context.Context, creds Credentials) (*gcal.Service, error) {
		all := append([]option.ClientOption{option.WithTokenSource(oauth.TokenSource(ctx, creds))}, opts...)
		return gcal.NewService(ctx, all...)
	}
	return NewEventsWithFactory(factory, timeZone, logger)
}

func NewEventsWithFactory(factory ServiceFactory, timeZone string, logger *logging.Logger) *Events {
	if factory == nil {
		panic("calendar: service factory cannot be nil")
	}
	if timeZone == "" {
		timeZone = defaultTimeZone
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Events{newService: factory, timeZone: timeZone, logger: logger}
}

// Create adds a one-hour event for appt. Failures are reported in the
// result, not as errors, so callers can relay them verbatim.
func (e *Events) Create(ctx context.Context, creds Credentials, appt records.Appointment) SyncResult {
	if creds.Token == MockToken {
		return SyncResult{
			Success:   true,
			EventID:   "mock_event_id_12345",
			EventLink: "https://calendar.google.com/calendar/r/eventedit?text=Mock+Appointment",
			Message:   "Calendar event created successfully (MOCK MODE)",
		}
	}

	event, err := e.buildEvent(appt)
	if err != nil {
		return SyncResult{Error: err.Error(), Message: "An error occurred while creating calendar event"}
	}
	svc, err := e.newService(ctx, creds)
	if err != nil {
		return SyncResult{Error: err.Error(), Message: "An error occurred while creating calendar event"}
	}
	calendarID := e.appCalendar(ctx, svc)

	created, err := svc.Events.Insert(calendarID, event).Context(ctx).Do()
	if err != nil {
		e.logger.Warn("calendar event insert failed", "user_id", appt.UserID, "error", err)
		return SyncResult{Error: err.Error(), Message: "Failed to create calendar event"}
	}
	return SyncResult{
		Success:   true,
		EventID:   created.Id,
		EventLink: created.HtmlLink,
		Message:   "Calendar event created successfully",
	}
}

// Delete removes an event from the user's primary calendar.
func (e *Events) Delete(ctx context.Context, creds Credentials, eventID string) error {
	if creds.Token == MockToken {
		return nil
	}
	svc, err := e.newService(ctx, creds)
	if err != nil {
		return fmt.Errorf("calendar: open service: %w", err)
	}
	if err := svc.Events.Delete("primary", eventID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("calendar: delete event %s: %w", eventID, err)
	}
	return nil
}

func (e *Events) buildEvent(appt records.Appointment) (*gcal.Event, error) {
	start, err := time.Parse("2006-01-02 15:04", appt.Date+" "+appt.Time)
	if err != nil {
		return nil, fmt.Errorf("calendar: parse appointment time %q %q: %w", appt.Date, appt.Time, err)
	}
	end := start.Add(eventDuration)
	location := appt.Location
	if location == "" {
		location = "Medical Clinic"
	}
	whatsapp := appt.WhatsApp
	if whatsapp == "" {
		whatsapp = "N/A"
	}
	return &gcal.Event{
		Summary:  "Doctor Appointment - " + appt.DoctorName,
		Location: location,
		Description: fmt.Sprintf("Appointment with Dr. %s\nPatient: %s\nEmail: %s\nWhatsApp: %s",
			appt.DoctorName, appt.PatientName, appt.PatientEmail, whatsapp),
		Start: &gcal.EventDateTime{DateTime: start.Format("2006-01-02T15:04:05"), TimeZone: e.timeZone},
		End:   &gcal.EventDateTime{DateTime: end.Format("2006-01-02T15:04:05"), TimeZone: e.timeZone},
		Reminders: &gcal.EventReminders{
			UseDefault: false,
			Overrides: []*gcal.EventReminder{
				{Method: "email", Minutes: 24 * 60},
				{Method: "popup", Minutes: 60},
			},
			ForceSendFields: []string{"UseDefault"},
		},
		ColorId: medicalColorID,
	}, nil
}

// appCalendar finds or creates the dedicated calendar, falling back to the
// primary calendar on any API error.
func (e *Events) appCalendar(ctx context.Context, svc *gcal.Service) string {
	pageToken := ""
	for {
		call := svc.CalendarList.List().Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		list, err := call.Do()
		if err != nil {
			e.logger.Warn("calendar list failed, using primary", "error", err)
			return "primary"
		}
		for _, entry := range list.Items {
			if appCalendarNames[entry.Summary] {
				return entry.Id
			}
		}
		if list.NextPageToken == "" {
			break
		}
		pageToken = list.NextPageToken
	}

	created, err := svc.Calendars.Insert(&gcal.Calendar{Summary: AppCalendarName, TimeZone: e.timeZone}).Context(ctx).Do()
	if err != nil {
		e.logger.Warn("calendar create failed, using primary", "error", err)
		return "primary"
	}
	e.logger.Info("created app calendar", "calendar_id", created.Id)
	return created.Id
}
