package watch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mediguard/mediguard-platform/internal/live"
	"github.com/mediguard/mediguard-platform/internal/records"
	"github.com/mediguard/mediguard-platform/internal/session"
	"github.com/mediguard/mediguard-platform/internal/viewstate"
	"github.com/mediguard/mediguard-platform/pkg/logging"
)

// connSession is the state of one connection. Changes only mark the
// session dirty; the writer renders the latest state, so bursts of feed
// updates collapse into one frame.
type connSession struct {
	ctx    context.Context
	cancel context.CancelFunc
	conn   *websocket.Conn

	provider *session.Provider
	view     *viewstate.Controller
	feeds    *live.Feeds
	profiles ProfileStore
	logger   *logging.Logger

	dirty   chan struct{}
	replies chan Frame

	profileMu sync.Mutex
	profileOf string
}

func (s *connSession) run(token string) {
	defer s.close()

	s.feeds.OnChange(func(live.Feed) { s.markDirty() })
	unwatch := s.provider.Watch(s.identityChanged)
	defer unwatch()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writeLoop()
	}()

	if err := s.provider.Restore(token); err != nil {
		s.reply(errorFrame("", "Your session has expired. Please sign in again."))
	}
	s.markDirty()
	s.readLoop()
	s.cancel()
	<-done
}

func (s *connSession) close() {
	s.cancel()
	s.feeds.Close()
	s.provider.Close()
	_ = s.conn.Close()
}

// identityChanged runs synchronously on every sign-in and sign-out.
func (s *connSession) identityChanged(id *session.Identity) {
	s.feeds.Bind(id)
	s.view.SetIdentity(id)
	if id != nil {
		s.loadProfile(id.UID)
	} else {
		s.profileMu.Lock()
		s.profileOf = ""
		s.profileMu.Unlock()
	}
	s.markDirty()
}

// loadProfile runs once per signed-in uid.
func (s *connSession) loadProfile(uid string) {
	s.profileMu.Lock()
	if s.profileOf == uid {
		s.profileMu.Unlock()
		return
	}
	s.profileOf = uid
	s.profileMu.Unlock()

	profile, err := s.profiles.Profile(s.ctx, uid)
	if err != nil && !errors.Is(err, records.ErrNotFound) {
		s.logger.ForUser(uid).Warn("failed to load profile", "error", err)
		return
	}
	s.view.ProfileLoaded(profile)
}

func (s *connSession) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

func (s *connSession) reply(f Frame) {
	select {
	case s.replies <- f:
	default:
		s.logger.Warn("dropping reply frame, client too slow", "type", f.Type)
	}
}

func (s *connSession) render() Frame {
	return stateFrame(s.provider.CurrentUser(), s.provider.Loading(), s.view.State(), s.feeds.Snapshot())
}

func (s *connSession) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case f := <-s.replies:
			if !s.write(f) {
				return
			}
		case <-s.dirty:
			if !s.write(s.render()) {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.cancel()
				return
			}
		}
	}
}

func (s *connSession) write(f Frame) bool {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(f); err != nil {
		s.logger.Debug("watch write failed", "error", err)
		s.cancel()
		return false
	}
	return true
}

func (s *connSession) readLoop() {
	s.conn.SetReadLimit(maxMessage)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("watch connection closed", "error", err)
			}
			return
		}
		cmd, err := decodeCommand(raw)
		if err != nil {
			s.reply(errorFrame("", "malformed command"))
			continue
		}
		if err := s.handle(cmd); err != nil {
			s.reply(errorFrame(cmd.Ref, commandMessage(err)))
		}
		s.markDirty()
	}
}

func (s *connSession) handle(cmd Command) error {
	switch cmd.Type {
	case "navigate":
		_, err := s.view.Navigate(cmd.Screen)
		return err
	case "tab":
		s.view.SelectTab(cmd.Tab)
	case "edit_profile":
		_, err := s.view.EditProfile()
		return err
	case "dismiss_overlay":
		_, err := s.view.DismissOverlay()
		return err
	case "onboarding":
		if cmd.Form == nil {
			return records.ErrMissingField
		}
		_, err := s.view.CompleteOnboarding(s.ctx, s.profiles, *cmd.Form)
		return err
	case "pending_result":
		s.view.SetPendingResult(cmd.Analysis)
	case "google":
		_, err := s.provider.SignInWithGoogle(s.ctx, cmd.IDToken)
		return err
	case "login":
		_, err := s.provider.Login(s.ctx, cmd.Email, cmd.Password)
		return err
	case "signup":
		_, err := s.provider.SignUp(s.ctx, cmd.Email, cmd.Password, cmd.Name)
		return err
	case "logout":
		s.provider.Logout()
		_, err := s.view.Navigate(viewstate.ScreenLanding)
		return err
	default:
		return ErrUnknownCommand
	}
	return nil
}

// commandMessage is the text shown for a failed command.
func commandMessage(err error) string {
	switch {
	case errors.Is(err, session.ErrInvalidCredentials), errors.Is(err, session.ErrEmailInUse),
		errors.Is(err, session.ErrWeakPassword), errors.Is(err, session.ErrInvalidEmail):
		return session.UserMessage(err)
	case errors.Is(err, viewstate.ErrOnboardingRequired):
		return "Please complete your profile first."
	case errors.Is(err, viewstate.ErrAdminOnly):
		return "Only administrators can add doctors."
	case errors.Is(err, viewstate.ErrNotSignedIn):
		return "Please sign in first."
	case errors.Is(err, viewstate.ErrFeatureDisabled), errors.Is(err, viewstate.ErrUnknownScreen),
		errors.Is(err, viewstate.ErrNotEditing), errors.Is(err, ErrUnknownCommand):
		return err.Error()
	case errors.Is(err, records.ErrMissingField):
		return "Please fill in the form."
	default:
		return session.UserMessage(err)
	}
}
