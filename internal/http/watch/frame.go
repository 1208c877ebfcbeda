package watch

import (
	"github.com/mediguard/mediguard-platform/internal/live"
	"github.com/mediguard/mediguard-platform/internal/risk"
	"github.com/mediguard/mediguard-platform/internal/session"
	"github.com/mediguard/mediguard-platform/internal/viewstate"
)

// Frame types.
const (
	FrameState = "state"
	FrameError = "error"
)

// Frame is one server message. State frames carry everything the client
// renders; error frames carry the message shown next to the control that
// sent the command.
type Frame struct {
	Type    string            `json:"type"`
	User    *session.Identity `json:"user,omitempty"`
	Loading bool              `json:"loading,omitempty"`
	View    *viewstate.State  `json:"view,omitempty"`
	Data    *live.State       `json:"data,omitempty"`
	Risk    *risk.Summary     `json:"risk,omitempty"`
	Badges  map[string]string `json:"badges,omitempty"`
	Error   string            `json:"error,omitempty"`
	Ref     string            `json:"ref,omitempty"`
}

func stateFrame(user *session.Identity, loading bool, view viewstate.State, data live.State) Frame {
	f := Frame{Type: FrameState, User: user, Loading: loading, View: &view, Data: &data}
	if summary, ok := risk.Summarize(data.Reports); ok {
		f.Risk = &summary
	}
	if len(data.Reports) > 0 {
		f.Badges = make(map[string]string, len(data.Reports))
		for _, r := range data.Reports {
			f.Badges[r.ID] = risk.Badge(r.Analysis.RiskLevel)
		}
	}
	return f
}

func errorFrame(ref string, msg string) Frame {
	return Frame{Type: FrameError, Ref: ref, Error: msg}
}
