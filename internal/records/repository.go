package records

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/mediguard/mediguard-platform/internal/docstore"
	"github.com/mediguard/mediguard-platform/pkg/logging"
)

const (
	UsersCollection        = "users"
	ReportsCollection      = "reports"
	DoctorsCollection      = "doctors"
	AppointmentsCollection = "appointments"
)

// ChatCollection is the per-user message collection.
func ChatCollection(uid string) string {
	return docstore.Join("chats", uid, "messages")
}

// DiagnosticsCollection is the per-user diagnostic history collection.
func DiagnosticsCollection(uid string) string {
	return docstore.Join("user_summary", uid, "history")
}

// ReportsQuery lists a user's reports, newest first.
func ReportsQuery(uid string) docstore.Query {
	return docstore.Query{Collection: ReportsCollection}.Where("userId", uid).Ordered("createdAt", docstore.Desc)
}

// AppointmentsQuery lists a user's appointments, newest first.
func AppointmentsQuery(uid string) docstore.Query {
	return docstore.Query{Collection: AppointmentsCollection}.Where("userId", uid).Ordered("createdAt", docstore.Desc)
}

// PendingAppointmentsQuery lists every pending appointment for review.
func PendingAppointmentsQuery() docstore.Query {
	return docstore.Query{Collection: AppointmentsCollection}.Where("status", string(StatusPending)).Ordered("createdAt", docstore.Asc)
}

// DoctorsQuery lists all doctors, newest first.
func DoctorsQuery() docstore.Query {
	return docstore.Query{Collection: DoctorsCollection}.Ordered("createdAt", docstore.Desc)
}

// ChatQuery lists a user's chat in conversation order.
func ChatQuery(uid string) docstore.Query {
	return docstore.Query{Collection: ChatCollection(uid)}.Ordered("timestamp", docstore.Asc)
}

// DiagnosticsQuery lists a user's diagnostic history, newest first.
func DiagnosticsQuery(uid string) docstore.Query {
	return docstore.Query{Collection: DiagnosticsCollection(uid)}.Ordered("timestamp", docstore.Desc)
}

// Repository reads and writes typed records through a docstore.Store.
type Repository struct {
	store  docstore.Store
	logger *logging.Logger
	now    func() time.Time
	rating func() float64
}

func NewRepository(store docstore.Store, logger *logging.Logger) *Repository {
	if store == nil {
		panic("records: document store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Repository{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		rating: randomRating,
	}
}

// Store exposes the underlying document store for live subscriptions.
func (r *Repository) Store() docstore.Store {
	return r.store
}

// randomRating returns a value in [1.0, 5.0] with one decimal place.
func randomRating() float64 {
	return math.Round((rand.Float64()*4+1)*10) / 10
}

func (r *Repository) get(ctx context.Context, path string, out any) error {
	doc, err := r.store.Get(ctx, path)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("records: get %s: %w", path, err)
	}
	return docstore.Decode(doc, out)
}

func (r *Repository) add(ctx context.Context, collection string, v any) (string, error) {
	data, err := docstore.Encode(v)
	if err != nil {
		return "", err
	}
	doc, err := r.store.Add(ctx, collection, data)
	if err != nil {
		return "", fmt.Errorf("records: add to %s: %w", collection, err)
	}
	return doc.ID, nil
}

// Profile returns the stored profile, or ErrNotFound for a first sign-in.
func (r *Repository) Profile(ctx context.Context, uid string) (*Profile, error) {
	var p Profile
	if err := r.get(ctx, docstore.Join(UsersCollection, uid), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// EnsureProfile creates users/{uid} with identity fields if it is missing.
func (r *Repository) EnsureProfile(ctx context.Context, uid, displayName, email, photoURL string) (*Profile, error) {
	p, err := r.Profile(ctx, uid)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	data := map[string]any{
		"displayName":      displayName,
		"email":            email,
		"photoURL":         photoURL,
		"profileCompleted": false,
	}
	if _, err := r.store.Set(ctx, docstore.Join(UsersCollection, uid), data, true); err != nil {
		return nil, fmt.Errorf("records: create profile: %w", err)
	}
	return r.Profile(ctx, uid)
}

// CompleteOnboarding merges the onboarding answers and marks the profile
// complete.
func (r *Repository) CompleteOnboarding(ctx context.Context, uid string, form OnboardingForm) (*Profile, error) {
	conditions := make([]string, 0, len(form.Conditions))
	for _, c := range form.Conditions {
		if c = strings.TrimSpace(c); c != "" {
			conditions = append(conditions, c)
		}
	}
	data := map[string]any{
		"age":              form.Age,
		"gender":           form.Gender,
		"height":           form.Height,
		"weight":           form.Weight,
		"conditions":       conditions,
		"profileCompleted": true,
		"updatedAt":        r.now(),
	}
	if _, err := r.store.Set(ctx, docstore.Join(UsersCollection, uid), data, true); err != nil {
		return nil, fmt.Errorf("records: save profile: %w", err)
	}
	r.logger.ForUser(uid).Info("onboarding completed")
	return r.Profile(ctx, uid)
}

// AddReport stores an analysis with the medications it was run on.
func (r *Repository) AddReport(ctx context.Context, uid, userName string, meds []Medication, analysis Analysis) (*Report, error) {
	kept := make([]Medication, 0, len(meds))
	for _, m := range meds {
		if strings.TrimSpace(m.Name) != "" {
			kept = append(kept, m)
		}
	}
	if len(kept) == 0 {
		return nil, ErrNoMedications
	}
	report := Report{
		UserID:      uid,
		UserName:    userName,
		Medications: kept,
		Analysis:    analysis,
		CreatedAt:   r.now(),
	}
	id, err := r.add(ctx, ReportsCollection, report)
	if err != nil {
		return nil, err
	}
	report.ID = id
	return &report, nil
}

// Reports lists a user's reports, newest first.
func (r *Repository) Reports(ctx context.Context, uid string) ([]Report, error) {
	return listAs[Report](ctx, r.store, ReportsQuery(uid))
}

// AddDoctor creates a doctor with a random rating.
func (r *Repository) AddDoctor(ctx context.Context, in DoctorInput) (*Doctor, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	doctor := Doctor{
		Name:       strings.TrimSpace(in.Name),
		Location:   strings.TrimSpace(in.Location),
		Speciality: strings.TrimSpace(in.Speciality),
		Education:  strings.TrimSpace(in.Education),
		WhatsApp:   strings.TrimSpace(in.WhatsApp),
		Ratings:    r.rating(),
		CreatedAt:  r.now(),
	}
	id, err := r.add(ctx, DoctorsCollection, doctor)
	if err != nil {
		return nil, err
	}
	doctor.ID = id
	return &doctor, nil
}

func (r *Repository) Doctor(ctx context.Context, id string) (*Doctor, error) {
	var d Doctor
	if err := r.get(ctx, docstore.Join(DoctorsCollection, id), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *Repository) Doctors(ctx context.Context) ([]Doctor, error) {
	return listAs[Doctor](ctx, r.store, DoctorsQuery())
}

// DeleteDoctor removes a doctor. Existing appointments keep their snapshot.
func (r *Repository) DeleteDoctor(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, docstore.Join(DoctorsCollection, id)); err != nil {
		return fmt.Errorf("records: delete doctor: %w", err)
	}
	return nil
}

// BookAppointment creates a pending appointment for uid.
func (r *Repository) BookAppointment(ctx context.Context, uid string, in BookingInput) (*Appointment, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	doctor, err := r.Doctor(ctx, in.DoctorID)
	if err != nil {
		return nil, err
	}
	appt := Appointment{
		DoctorID:         doctor.ID,
		DoctorName:       doctor.Name,
		DoctorSpeciality: doctor.Speciality,
		Location:         doctor.Location,
		PatientName:      strings.TrimSpace(in.PatientName),
		PatientEmail:     strings.TrimSpace(in.PatientEmail),
		WhatsApp:         strings.TrimSpace(in.WhatsApp),
		Date:             in.Date,
		Time:             in.Time,
		UserID:           uid,
		Status:           StatusPending,
		CreatedAt:        r.now(),
	}
	id, err := r.add(ctx, AppointmentsCollection, appt)
	if err != nil {
		return nil, err
	}
	appt.ID = id
	r.logger.ForUser(uid).Info("appointment booked", "appointment_id", id, "doctor_id", doctor.ID)
	return &appt, nil
}

func (r *Repository) Appointment(ctx context.Context, id string) (*Appointment, error) {
	var a Appointment
	if err := r.get(ctx, docstore.Join(AppointmentsCollection, id), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *Repository) Appointments(ctx context.Context, uid string) ([]Appointment, error) {
	return listAs[Appointment](ctx, r.store, AppointmentsQuery(uid))
}

func (r *Repository) PendingAppointments(ctx context.Context) ([]Appointment, error) {
	return listAs[Appointment](ctx, r.store, PendingAppointmentsQuery())
}

// CancelAppointment deletes the user's own appointment.
func (r *Repository) CancelAppointment(ctx context.Context, uid, id string) error {
	appt, err := r.Appointment(ctx, id)
	if err != nil {
		return err
	}
	if appt.UserID != uid {
		return ErrForbidden
	}
	if err := r.store.Delete(ctx, docstore.Join(AppointmentsCollection, id)); err != nil {
		return fmt.Errorf("records: delete appointment: %w", err)
	}
	r.logger.ForUser(uid).Info("appointment cancelled", "appointment_id", id)
	return nil
}

// ReviewAppointment moves a pending appointment to confirmed or cancelled.
func (r *Repository) ReviewAppointment(ctx context.Context, id string, status AppointmentStatus) (*Appointment, error) {
	if status != StatusConfirmed && status != StatusCancelled {
		return nil, ErrInvalidTransition
	}
	appt, err := r.Appointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusPending {
		return nil, ErrInvalidTransition
	}
	if _, err := r.store.Set(ctx, docstore.Join(AppointmentsCollection, id), map[string]any{"status": string(status)}, true); err != nil {
		return nil, fmt.Errorf("records: update appointment status: %w", err)
	}
	appt.Status = status
	return appt, nil
}

// MarkCalendarSynced records the created calendar event on the appointment.
func (r *Repository) MarkCalendarSynced(ctx context.Context, id, eventID, link string) error {
	data := map[string]any{"calendarEventId": eventID, "calendarLink": link}
	if _, err := r.store.Set(ctx, docstore.Join(AppointmentsCollection, id), data, true); err != nil {
		return fmt.Errorf("records: mark calendar synced: %w", err)
	}
	return nil
}

// LastWhatsapp returns the contact number from the user's most recent
// appointment, used to pre-fill the booking form.
func (r *Repository) LastWhatsapp(ctx context.Context, uid string) (string, error) {
	appts, err := r.Appointments(ctx, uid)
	if err != nil {
		return "", err
	}
	for _, a := range appts {
		if a.WhatsApp != "" {
			return a.WhatsApp, nil
		}
	}
	return "", nil
}

// AppendChat stores one chat message.
func (r *Repository) AppendChat(ctx context.Context, uid, role, text string) (*ChatMessage, error) {
	msg := ChatMessage{Role: role, Text: text, Timestamp: r.now()}
	id, err := r.add(ctx, ChatCollection(uid), msg)
	if err != nil {
		return nil, err
	}
	msg.ID = id
	return &msg, nil
}

// Chat returns the user's full conversation, oldest first.
func (r *Repository) Chat(ctx context.Context, uid string) ([]ChatMessage, error) {
	msgs, err := listAs[ChatMessage](ctx, r.store, ChatQuery(uid))
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		if msgs[i].Role == "assistant" {
			msgs[i].Role = RoleModel
		}
	}
	return msgs, nil
}

// RecentChat returns the last n messages, oldest first.
func (r *Repository) RecentChat(ctx context.Context, uid string, n int) ([]ChatMessage, error) {
	msgs, err := r.Chat(ctx, uid)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs, nil
}

// ClearChat deletes the user's conversation and returns how many messages
// were removed.
func (r *Repository) ClearChat(ctx context.Context, uid string) (int, error) {
	n, err := r.store.DeleteAll(ctx, ChatCollection(uid))
	if err != nil {
		return 0, fmt.Errorf("records: clear chat: %w", err)
	}
	return n, nil
}

// AddDiagnostic stores a diagnostic history record, deriving its summary.
func (r *Repository) AddDiagnostic(ctx context.Context, rec DiagnosticRecord) (*DiagnosticRecord, error) {
	if rec.UserID == "" {
		return nil, fmt.Errorf("%w: userId", ErrMissingField)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = r.now()
	}
	if rec.Summary == "" {
		rec.Summary = Summarize(rec.AIAnalysis)
	}
	id, err := r.add(ctx, DiagnosticsCollection(rec.UserID), rec)
	if err != nil {
		return nil, err
	}
	rec.ID = id
	return &rec, nil
}

func (r *Repository) Diagnostics(ctx context.Context, uid string) ([]DiagnosticRecord, error) {
	return listAs[DiagnosticRecord](ctx, r.store, DiagnosticsQuery(uid))
}

func listAs[T any](ctx context.Context, store docstore.Store, q docstore.Query) ([]T, error) {
	docs, err := store.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("records: list %s: %w", q.Collection, err)
	}
	return DecodeAll[T](docs)
}

// DecodeAll converts documents into typed records.
func DecodeAll[T any](docs []docstore.Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		var v T
		if err := docstore.Decode(d, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
