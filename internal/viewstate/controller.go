// Package viewstate is the navigation state machine of the app shell: which
// screen is showing, the auth guard in front of tool screens, the
// onboarding overlay and the unsaved analysis result.
package viewstate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mediguard/mediguard-platform/internal/records"
	"github.com/mediguard/mediguard-platform/internal/session"
)

// Screen is a navigation state.
type Screen string

const (
	ScreenLanding        Screen = "landing"
	ScreenDrugCheck      Screen = "drug-check"
	ScreenChatbot        Screen = "chatbot"
	ScreenDiagnostic     Screen = "diagnostic"
	ScreenAppointments   Screen = "appointments"
	ScreenMyAppointments Screen = "my-appointments"
	ScreenAddDoctor      Screen = "add-doctor"
	ScreenAuth           Screen = "auth"
)

// Tab is the drug-check sub-view.
type Tab string

const (
	TabNew     Tab = "new"
	TabHistory Tab = "history"
)

var (
	ErrUnknownScreen      = errors.New("viewstate: unknown screen")
	ErrFeatureDisabled    = errors.New("viewstate: feature disabled")
	ErrAdminOnly          = errors.New("viewstate: screen requires admin role")
	ErrOnboardingRequired = errors.New("viewstate: complete onboarding first")
	ErrNotSignedIn        = errors.New("viewstate: not signed in")
	ErrNotEditing         = errors.New("viewstate: onboarding cannot be dismissed")
)

// Features toggles optional screens.
type Features struct {
	Diagnostic   bool `json:"diagnostic"`
	Chatbot      bool `json:"chatbot"`
	Appointments bool `json:"appointments"`
}

// AllFeatures enables every optional screen.
func AllFeatures() Features {
	return Features{Diagnostic: true, Chatbot: true, Appointments: true}
}

// Overlay is the onboarding form shown over the current screen.
type Overlay struct {
	Open    bool                   `json:"open"`
	Editing bool                   `json:"editing"`
	Form    records.OnboardingForm `json:"form"`
}

// State is what the client renders.
type State struct {
	Screen        Screen            `json:"screen"`
	Tab           Tab               `json:"tab"`
	ScrollReset   uint64            `json:"scrollReset"`
	Overlay       Overlay           `json:"overlay"`
	PendingResult *records.Analysis `json:"pendingResult,omitempty"`
	SignedIn      bool              `json:"signedIn"`
	Admin         bool              `json:"admin"`
	Features      Features          `json:"features"`
}

// ProfileSaver persists onboarding answers.
type ProfileSaver interface {
	CompleteOnboarding(ctx context.Context, uid string, form records.OnboardingForm) (*records.Profile, error)
}

// Controller is safe for concurrent use.
type Controller struct {
	mu       sync.Mutex
	state    State
	identity *session.Identity
	profile  *records.Profile
	// screen requested before the auth redirect
	afterAuth Screen
}

func New(features Features) *Controller {
	return &Controller{state: State{Screen: ScreenLanding, Tab: TabNew, Features: features}}
}

// IsTool reports whether screen sits behind the auth guard.
func IsTool(screen Screen) bool {
	switch screen {
	case ScreenDrugCheck, ScreenChatbot, ScreenDiagnostic, ScreenAppointments, ScreenMyAppointments, ScreenAddDoctor:
		return true
	}
	return false
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

func (c *Controller) snapshot() State {
	s := c.state
	s.Overlay.Form.Conditions = append([]string{}, c.state.Overlay.Form.Conditions...)
	if c.state.PendingResult != nil {
		cp := *c.state.PendingResult
		s.PendingResult = &cp
	}
	return s
}

func (c *Controller) enabled(screen Screen) bool {
	f := c.state.Features
	switch screen {
	case ScreenDiagnostic:
		return f.Diagnostic
	case ScreenChatbot:
		return f.Chatbot
	case ScreenAppointments, ScreenMyAppointments:
		return f.Appointments
	}
	return true
}

// Navigate moves to screen. Tool screens redirect to auth while signed out;
// the requested screen is entered once sign-in completes.
func (c *Controller) Navigate(screen Screen) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch screen {
	case ScreenLanding, ScreenAuth:
	default:
		if !IsTool(screen) {
			return c.snapshot(), fmt.Errorf("%w: %q", ErrUnknownScreen, screen)
		}
	}
	if !c.enabled(screen) {
		return c.snapshot(), fmt.Errorf("%w: %s", ErrFeatureDisabled, screen)
	}
	if c.state.Overlay.Open && !c.state.Overlay.Editing {
		return c.snapshot(), ErrOnboardingRequired
	}
	if screen != ScreenAuth {
		c.afterAuth = ""
	}
	if IsTool(screen) && c.identity == nil {
		c.afterAuth = screen
		c.state.Screen = ScreenAuth
		return c.snapshot(), nil
	}
	if screen == ScreenAddDoctor && !c.identity.IsAdmin() {
		return c.snapshot(), ErrAdminOnly
	}
	c.enter(screen)
	return c.snapshot(), nil
}

func (c *Controller) enter(screen Screen) {
	c.state.Screen = screen
	if IsTool(screen) {
		c.state.ScrollReset++
	}
}

// SelectTab switches the drug-check sub-view.
func (c *Controller) SelectTab(tab Tab) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tab == TabNew || tab == TabHistory {
		c.state.Tab = tab
	}
	return c.snapshot()
}

// SetIdentity reacts to sign-in, sign-out and account switches. Whenever
// the user changes, the previous user's profile, overlay, tab and unsaved
// result are dropped before the new identity is visible.
func (c *Controller) SetIdentity(id *session.Identity) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.identity
	c.identity = id
	c.state.SignedIn = id != nil
	c.state.Admin = id.IsAdmin()
	if prev == nil || id == nil || prev.UID != id.UID {
		c.profile = nil
		c.state.Overlay = Overlay{}
		c.state.PendingResult = nil
		c.state.Tab = TabNew
	}
	if id == nil {
		c.afterAuth = ""
		if IsTool(c.state.Screen) {
			c.state.Screen = ScreenLanding
		}
		return c.snapshot()
	}
	if c.state.Screen == ScreenAddDoctor && !id.IsAdmin() {
		c.state.Screen = ScreenLanding
	}
	if c.state.Screen == ScreenAuth {
		target := c.afterAuth
		c.afterAuth = ""
		if target == "" || (target == ScreenAddDoctor && !id.IsAdmin()) {
			target = ScreenLanding
		}
		c.enter(target)
	}
	return c.snapshot()
}

// ProfileLoaded opens the onboarding overlay for a missing or incomplete
// profile. It is called once per sign-in.
func (c *Controller) ProfileLoaded(p *records.Profile) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == nil {
		return c.snapshot()
	}
	c.profile = p
	if p == nil || !p.ProfileCompleted {
		c.state.Overlay = Overlay{Open: true, Form: records.FormFrom(nil)}
	} else if !c.state.Overlay.Editing {
		c.state.Overlay = Overlay{}
	}
	return c.snapshot()
}

// EditProfile opens the overlay pre-filled with the stored answers.
func (c *Controller) EditProfile() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == nil {
		return c.snapshot(), ErrNotSignedIn
	}
	c.state.Overlay = Overlay{Open: true, Editing: true, Form: records.FormFrom(c.profile)}
	return c.snapshot(), nil
}

// DismissOverlay closes an edit. A first-time onboarding cannot be dismissed.
func (c *Controller) DismissOverlay() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Overlay.Open && !c.state.Overlay.Editing {
		return c.snapshot(), ErrNotEditing
	}
	c.state.Overlay = Overlay{}
	return c.snapshot(), nil
}

// CompleteOnboarding saves the form with profileCompleted=true and closes
// the overlay. On error the overlay stays open.
func (c *Controller) CompleteOnboarding(ctx context.Context, saver ProfileSaver, form records.OnboardingForm) (State, error) {
	c.mu.Lock()
	id := c.identity
	c.mu.Unlock()
	if id == nil {
		return c.State(), ErrNotSignedIn
	}

	profile, err := saver.CompleteOnboarding(ctx, id.UID, form)
	if err != nil {
		return c.State(), err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == nil || c.identity.UID != id.UID {
		return c.snapshot(), nil
	}
	c.profile = profile
	c.state.Overlay = Overlay{}
	return c.snapshot(), nil
}

// Profile returns the last loaded profile.
func (c *Controller) Profile() *records.Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profile
}

// SetPendingResult holds an analysis until it is saved or discarded.
func (c *Controller) SetPendingResult(a *records.Analysis) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a == nil {
		c.state.PendingResult = nil
	} else {
		cp := *a
		c.state.PendingResult = &cp
	}
	return c.snapshot()
}
