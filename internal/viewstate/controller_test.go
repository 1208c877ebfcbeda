package viewstate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediguard/mediguard-platform/internal/records"
	"github.com/mediguard/mediguard-platform/internal/session"
)

type fakeSaver struct {
	uid  string
	form records.OnboardingForm
	err  error
}

func (f *fakeSaver) CompleteOnboarding(ctx context.Context, uid string, form records.OnboardingForm) (*records.Profile, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.uid = uid
	f.form = form
	return &records.Profile{Age: form.Age, Gender: form.Gender, Height: form.Height, Weight: form.Weight, Conditions: form.Conditions, ProfileCompleted: true}, nil
}

var patient = &session.Identity{UID: "u1", DisplayName: "Asha"}

func TestInitialState(t *testing.T) {
	s := New(AllFeatures()).State()
	assert.Equal(t, ScreenLanding, s.Screen)
	assert.Equal(t, TabNew, s.Tab)
	assert.False(t, s.SignedIn)
}

func TestToolScreensRedirectToAuthWhenSignedOut(t *testing.T) {
	for _, screen := range []Screen{ScreenDrugCheck, ScreenChatbot, ScreenDiagnostic, ScreenAppointments, ScreenMyAppointments, ScreenAddDoctor} {
		c := New(AllFeatures())
		s, err := c.Navigate(screen)
		require.NoError(t, err)
		assert.Equal(t, ScreenAuth, s.Screen, "screen %s", screen)
		assert.Zero(t, s.ScrollReset)
	}
}

func TestSignInContinuesToRequestedScreen(t *testing.T) {
	c := New(AllFeatures())
	_, err := c.Navigate(ScreenChatbot)
	require.NoError(t, err)

	s := c.SetIdentity(patient)
	assert.Equal(t, ScreenChatbot, s.Screen)
	assert.Equal(t, uint64(1), s.ScrollReset)
}

func TestEnteringToolScreenResetsScroll(t *testing.T) {
	c := New(AllFeatures())
	c.SetIdentity(patient)
	s, err := c.Navigate(ScreenDrugCheck)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.ScrollReset)
	s, err = c.Navigate(ScreenLanding)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.ScrollReset)
	s, err = c.Navigate(ScreenMyAppointments)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), s.ScrollReset)
}

func TestAddDoctorRequiresAdmin(t *testing.T) {
	c := New(AllFeatures())
	c.SetIdentity(patient)
	_, err := c.Navigate(ScreenAddDoctor)
	assert.ErrorIs(t, err, ErrAdminOnly)

	admin := New(AllFeatures())
	s := admin.SetIdentity(&session.Identity{UID: "a1", Roles: []string{session.RoleAdmin}})
	assert.True(t, s.Admin)
	s, err = admin.Navigate(ScreenAddDoctor)
	require.NoError(t, err)
	assert.Equal(t, ScreenAddDoctor, s.Screen)
}

func TestDisabledFeatureAndUnknownScreen(t *testing.T) {
	c := New(Features{Chatbot: true})
	c.SetIdentity(patient)
	_, err := c.Navigate(ScreenDiagnostic)
	assert.ErrorIs(t, err, ErrFeatureDisabled)
	_, err = c.Navigate(ScreenAppointments)
	assert.ErrorIs(t, err, ErrFeatureDisabled)
	_, err = c.Navigate("settings")
	assert.ErrorIs(t, err, ErrUnknownScreen)
}

func TestOnboardingOpensForIncompleteProfile(t *testing.T) {
	c := New(AllFeatures())
	c.SetIdentity(patient)
	s := c.ProfileLoaded(nil)
	assert.True(t, s.Overlay.Open)
	assert.False(t, s.Overlay.Editing)

	_, err := c.Navigate(ScreenDrugCheck)
	assert.ErrorIs(t, err, ErrOnboardingRequired)
	_, err = c.DismissOverlay()
	assert.ErrorIs(t, err, ErrNotEditing)

	c2 := New(AllFeatures())
	c2.SetIdentity(patient)
	s = c2.ProfileLoaded(&records.Profile{ProfileCompleted: false, Age: "30"})
	assert.True(t, s.Overlay.Open)

	c3 := New(AllFeatures())
	c3.SetIdentity(patient)
	s = c3.ProfileLoaded(&records.Profile{ProfileCompleted: true})
	assert.False(t, s.Overlay.Open)
}

func TestCompleteOnboardingPersistsAndDismisses(t *testing.T) {
	c := New(AllFeatures())
	c.SetIdentity(patient)
	c.ProfileLoaded(nil)

	saver := &fakeSaver{}
	form := records.OnboardingForm{Age: "34", Gender: "female", Height: "160", Weight: "55", Conditions: []string{"asthma"}}
	s, err := c.CompleteOnboarding(context.Background(), saver, form)
	require.NoError(t, err)
	assert.False(t, s.Overlay.Open)
	assert.Equal(t, "u1", saver.uid)
	assert.True(t, c.Profile().ProfileCompleted)

	s, err = c.EditProfile()
	require.NoError(t, err)
	assert.True(t, s.Overlay.Open)
	assert.True(t, s.Overlay.Editing)
	assert.Equal(t, form, s.Overlay.Form, "edit pre-fills stored values")

	s, err = c.DismissOverlay()
	require.NoError(t, err)
	assert.False(t, s.Overlay.Open)
}

func TestCompleteOnboardingErrorKeepsOverlay(t *testing.T) {
	c := New(AllFeatures())
	c.SetIdentity(patient)
	c.ProfileLoaded(nil)
	s, err := c.CompleteOnboarding(context.Background(), &fakeSaver{err: errors.New("write failed")}, records.OnboardingForm{})
	assert.Error(t, err)
	assert.True(t, s.Overlay.Open)
}

func TestSignOutClearsPerUserState(t *testing.T) {
	c := New(AllFeatures())
	c.SetIdentity(patient)
	c.ProfileLoaded(&records.Profile{ProfileCompleted: true})
	_, err := c.Navigate(ScreenDrugCheck)
	require.NoError(t, err)
	c.SelectTab(TabHistory)
	c.SetPendingResult(&records.Analysis{RiskLevel: "HIGH"})
	_, err = c.EditProfile()
	require.NoError(t, err)

	s := c.SetIdentity(nil)
	assert.Equal(t, ScreenLanding, s.Screen)
	assert.Nil(t, s.PendingResult)
	assert.False(t, s.Overlay.Open)
	assert.Equal(t, TabNew, s.Tab)
	assert.Nil(t, c.Profile())

	_, err = c.EditProfile()
	assert.ErrorIs(t, err, ErrNotSignedIn)
}

func TestPendingResultIsCopied(t *testing.T) {
	c := New(AllFeatures())
	a := &records.Analysis{RiskLevel: "LOW"}
	c.SetPendingResult(a)
	a.RiskLevel = "HIGH"
	assert.Equal(t, "LOW", c.State().PendingResult.RiskLevel)
	assert.Nil(t, c.SetPendingResult(nil).PendingResult)
}

func TestSwitchingUsersDropsPreviousUserState(t *testing.T) {
	c := New(AllFeatures())
	c.SetIdentity(patient)
	c.ProfileLoaded(&records.Profile{ProfileCompleted: true, Age: "41", Conditions: []string{"diabetes"}})
	_, err := c.Navigate(ScreenDrugCheck)
	require.NoError(t, err)
	c.SelectTab(TabHistory)
	_, err = c.EditProfile()
	require.NoError(t, err)
	c.SetPendingResult(&records.Analysis{RiskLevel: "HIGH"})

	s := c.SetIdentity(&session.Identity{UID: "u2", DisplayName: "Ben"})
	assert.True(t, s.SignedIn)
	assert.Equal(t, ScreenDrugCheck, s.Screen)
	assert.False(t, s.Overlay.Open)
	assert.Empty(t, s.Overlay.Form.Age)
	assert.Nil(t, s.PendingResult)
	assert.Equal(t, TabNew, s.Tab)
	assert.Nil(t, c.Profile())

	s = c.ProfileLoaded(&records.Profile{ProfileCompleted: true})
	assert.False(t, s.Overlay.Open)
}

func TestRefreshingSameUserKeepsState(t *testing.T) {
	c := New(AllFeatures())
	c.SetIdentity(patient)
	c.ProfileLoaded(&records.Profile{ProfileCompleted: true})
	c.SelectTab(TabHistory)
	c.SetPendingResult(&records.Analysis{RiskLevel: "LOW"})

	s := c.SetIdentity(&session.Identity{UID: "u1", DisplayName: "Asha"})
	assert.Equal(t, TabHistory, s.Tab)
	require.NotNil(t, s.PendingResult)
	assert.NotNil(t, c.Profile())
}

func TestLeavingAuthForgetsRequestedScreen(t *testing.T) {
	c := New(AllFeatures())
	_, err := c.Navigate(ScreenChatbot)
	require.NoError(t, err)
	_, err = c.Navigate(ScreenLanding)
	require.NoError(t, err)
	_, err = c.Navigate(ScreenAuth)
	require.NoError(t, err)

	s := c.SetIdentity(patient)
	assert.Equal(t, ScreenLanding, s.Screen)
}
