package records

import (
	"fmt"
	"strings"
	"time"
)

// Profile is stored at users/{uid}.
type Profile struct {
	ID               string    `json:"id,omitempty"`
	DisplayName      string    `json:"displayName,omitempty"`
	Email            string    `json:"email,omitempty"`
	PhotoURL         string    `json:"photoURL,omitempty"`
	Age              string    `json:"age,omitempty"`
	Gender           string    `json:"gender,omitempty"`
	Height           string    `json:"height,omitempty"`
	Weight           string    `json:"weight,omitempty"`
	Conditions       []string  `json:"conditions"`
	ProfileCompleted bool      `json:"profileCompleted"`
	UpdatedAt        time.Time `json:"updatedAt,omitempty"`
}

// OnboardingForm is what the onboarding overlay collects.
type OnboardingForm struct {
	Age        string   `json:"age"`
	Gender     string   `json:"gender"`
	Height     string   `json:"height"`
	Weight     string   `json:"weight"`
	Conditions []string `json:"conditions"`
}

// FormFrom pre-fills the onboarding form from a stored profile.
func FormFrom(p *Profile) OnboardingForm {
	if p == nil {
		return OnboardingForm{Conditions: []string{}}
	}
	conditions := p.Conditions
	if conditions == nil {
		conditions = []string{}
	}
	return OnboardingForm{
		Age:        p.Age,
		Gender:     p.Gender,
		Height:     p.Height,
		Weight:     p.Weight,
		Conditions: append([]string(nil), conditions...),
	}
}

// Medication is one row of the drug-check form.
type Medication struct {
	Name         string `json:"name"`
	Dosage       string `json:"dosage,omitempty"`
	Frequency    string `json:"frequency,omitempty"`
	Duration     string `json:"duration,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

// Names returns the trimmed, non-empty medication names in order.
func Names(meds []Medication) []string {
	out := make([]string, 0, len(meds))
	for _, m := range meds {
		if name := strings.TrimSpace(m.Name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// InteractionDetail describes one flagged interaction.
type InteractionDetail struct {
	RiskLevel         string `json:"risk_level"`
	ClinicalInfo      string `json:"clinical_info"`
	SimpleExplanation string `json:"simple_explanation"`
}

// AnalyzedMedication echoes an input medication with its normalized name.
type AnalyzedMedication struct {
	Name           string `json:"name"`
	NormalizedName string `json:"normalized_name"`
	Category       string `json:"category"`
}

// Analysis is the drug-interaction result returned by /api/analyze.
type Analysis struct {
	MedicationCount  int                  `json:"medication_count"`
	RiskLevel        string               `json:"risk_level"`
	InteractionCount int                  `json:"interaction_count"`
	Details          []InteractionDetail  `json:"details"`
	Medications      []AnalyzedMedication `json:"medications"`
}

// Report is stored at reports/{id}.
type Report struct {
	ID          string       `json:"id"`
	UserID      string       `json:"userId"`
	UserName    string       `json:"userName"`
	Medications []Medication `json:"medications"`
	Analysis    Analysis     `json:"analysis"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// Doctor is stored at doctors/{id}.
type Doctor struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Location   string    `json:"location"`
	Speciality string    `json:"speciality"`
	Education  string    `json:"education"`
	WhatsApp   string    `json:"whatsapp"`
	Ratings    float64   `json:"ratings"`
	CreatedAt  time.Time `json:"createdAt"`
}

// DoctorInput is the admin form for adding a doctor.
type DoctorInput struct {
	Name       string `json:"name"`
	Location   string `json:"location"`
	Speciality string `json:"speciality"`
	Education  string `json:"education"`
	WhatsApp   string `json:"whatsapp"`
}

// Validate checks required doctor fields.
func (d DoctorInput) Validate() error {
	return requireFields(
		"name", d.Name,
		"location", d.Location,
		"speciality", d.Speciality,
		"education", d.Education,
		"whatsapp", d.WhatsApp,
	)
}

// AppointmentStatus is the lifecycle of a booking.
type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
)

// Appointment is stored at appointments/{id}. Doctor fields are a snapshot
// taken at booking time and survive doctor deletion.
type Appointment struct {
	ID               string            `json:"id"`
	DoctorID         string            `json:"doctorId"`
	DoctorName       string            `json:"doctorName"`
	DoctorSpeciality string            `json:"doctorSpeciality,omitempty"`
	Location         string            `json:"location,omitempty"`
	PatientName      string            `json:"patientName"`
	PatientEmail     string            `json:"patientEmail"`
	WhatsApp         string            `json:"whatsapp"`
	Date             string            `json:"date"`
	Time             string            `json:"time"`
	UserID           string            `json:"userId"`
	Status           AppointmentStatus `json:"status"`
	CreatedAt        time.Time         `json:"createdAt"`
	CalendarEventID  string            `json:"calendarEventId,omitempty"`
	CalendarLink     string            `json:"calendarLink,omitempty"`
}

// BookingInput is the booking form.
type BookingInput struct {
	DoctorID     string `json:"doctorId"`
	PatientName  string `json:"patientName"`
	PatientEmail string `json:"patientEmail"`
	WhatsApp     string `json:"whatsapp"`
	Date         string `json:"date"`
	Time         string `json:"time"`
}

// Validate checks required booking fields.
func (b BookingInput) Validate() error {
	return requireFields(
		"doctorId", b.DoctorID,
		"patientName", b.PatientName,
		"patientEmail", b.PatientEmail,
		"whatsapp", b.WhatsApp,
		"date", b.Date,
		"time", b.Time,
	)
}

// requireFields takes name/value pairs and reports the first blank value.
func requireFields(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, pairs[i])
		}
	}
	return nil
}

// Chat roles. Stored "assistant" messages from older clients are read as
// RoleModel.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// ChatMessage is stored at chats/{uid}/messages/{id}.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// DiagnosticRecord is stored at user_summary/{uid}/history/{id}.
type DiagnosticRecord struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Timestamp    time.Time `json:"timestamp"`
	UserQuery    string    `json:"userQuery"`
	Summary      string    `json:"summary"`
	AIAnalysis   string    `json:"aiAnalysis"`
	AudioURL     string    `json:"audioUrl,omitempty"`
	RecordingURL string    `json:"recordingUrl,omitempty"`
	FileType     string    `json:"fileType"`
}

const summaryLength = 60

// Summarize shortens an analysis to the history-list preview.
func Summarize(analysis string) string {
	runes := []rune(analysis)
	if len(runes) > summaryLength {
		runes = runes[:summaryLength]
	}
	return strings.TrimSpace(string(runes)) + "..."
}
