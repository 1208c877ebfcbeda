// Package live keeps the per-user collections of one app-shell connection
// in sync with the document store. Subscriptions follow the signed-in
// identity: binding a new uid tears down the old subscriptions first and a
// nil identity clears everything before Bind returns.
package live

import (
	"context"
	"sync"

	"github.com/mediguard/mediguard-platform/internal/docstore"
	"github.com/mediguard/mediguard-platform/internal/records"
	"github.com/mediguard/mediguard-platform/internal/session"
	"github.com/mediguard/mediguard-platform/pkg/logging"
)

// Feed names one live collection.
type Feed string

const (
	FeedReports      Feed = "reports"
	FeedAppointments Feed = "appointments"
	FeedDoctors      Feed = "doctors"
	FeedChat         Feed = "chat"
	FeedDiagnostics  Feed = "diagnostics"
)

// AllFeeds is every feed in subscription order.
var AllFeeds = []Feed{FeedReports, FeedAppointments, FeedDoctors, FeedChat, FeedDiagnostics}

// Observer is told when subscriptions open and close.
type Observer interface {
	SubscriptionOpened(feed string)
	SubscriptionClosed(feed string)
}

// State is a copy of everything the feeds currently hold.
type State struct {
	UID          string                     `json:"uid"`
	Reports      []records.Report           `json:"reports"`
	Appointments []records.Appointment      `json:"appointments"`
	Doctors      []records.Doctor           `json:"doctors"`
	Chat         []records.ChatMessage      `json:"chat"`
	Diagnostics  []records.DiagnosticRecord `json:"diagnostics"`
	Loaded       map[Feed]bool              `json:"loaded"`
	Errors       map[Feed]string            `json:"errors,omitempty"`
}

// Config selects which feeds to run.
type Config struct {
	Feeds    []Feed
	Logger   *logging.Logger
	Observer Observer
}

// Feeds owns one subscription per enabled feed for the bound identity.
type Feeds struct {
	ctx      context.Context
	store    docstore.Store
	enabled  []Feed
	logger   *logging.Logger
	observer Observer

	mu       sync.Mutex
	gen      uint64
	uid      string
	unsubs   map[Feed]docstore.Unsubscribe
	state    State
	onChange func(Feed)
	closed   bool
}

// New creates unbound feeds. ctx bounds every subscription.
func New(ctx context.Context, store docstore.Store, cfg Config) *Feeds {
	if store == nil {
		panic("live: document store required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if len(cfg.Feeds) == 0 {
		cfg.Feeds = AllFeeds
	}
	return &Feeds{
		ctx:      ctx,
		store:    store,
		enabled:  append([]Feed(nil), cfg.Feeds...),
		logger:   cfg.Logger,
		observer: cfg.Observer,
		unsubs:   make(map[Feed]docstore.Unsubscribe),
		state:    emptyState(""),
	}
}

func emptyState(uid string) State {
	return State{UID: uid, Loaded: map[Feed]bool{}, Errors: map[Feed]string{}}
}

// OnChange registers the single change callback. It runs on a store
// delivery goroutine, or synchronously inside Bind when state is cleared.
func (f *Feeds) OnChange(fn func(Feed)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onChange = fn
}

// UID returns the currently bound uid.
func (f *Feeds) UID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uid
}

// Bind points the feeds at id. Binding the same uid again is a no-op.
func (f *Feeds) Bind(id *session.Identity) {
	uid := ""
	if id != nil {
		uid = id.UID
	}

	f.mu.Lock()
	if f.closed || uid == f.uid {
		f.mu.Unlock()
		return
	}
	f.gen++
	gen := f.gen
	old := f.unsubs
	f.unsubs = make(map[Feed]docstore.Unsubscribe)
	f.uid = uid
	f.state = emptyState(uid)
	onChange := f.onChange
	f.mu.Unlock()

	f.stopAll(old)
	if onChange != nil {
		for _, feed := range f.enabled {
			onChange(feed)
		}
	}
	if uid == "" {
		return
	}

	log := f.logger.ForUser(uid)
	subs := make(map[Feed]docstore.Unsubscribe, len(f.enabled))
	for _, feed := range f.enabled {
		q := queryFor(feed, uid)
		subs[feed] = docstore.WatchOrdered(f.ctx, f.store, q,
			func(snap docstore.Snapshot) { f.apply(gen, uid, feed, snap) },
			func(err error) { f.fail(gen, feed, err) },
			log,
		)
		if f.observer != nil {
			f.observer.SubscriptionOpened(string(feed))
		}
	}

	f.mu.Lock()
	if f.gen != gen || f.closed {
		// Rebound or closed while subscribing.
		f.mu.Unlock()
		f.stopAll(subs)
		return
	}
	f.unsubs = subs
	f.mu.Unlock()
	log.Debug("live feeds bound", "feeds", len(subs))
}

// Snapshot returns a copy of the current state.
func (f *Feeds) Snapshot() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.state
	s.Reports = append([]records.Report(nil), s.Reports...)
	s.Appointments = append([]records.Appointment(nil), s.Appointments...)
	s.Doctors = append([]records.Doctor(nil), s.Doctors...)
	s.Chat = append([]records.ChatMessage(nil), s.Chat...)
	s.Diagnostics = append([]records.DiagnosticRecord(nil), s.Diagnostics...)
	s.Loaded = make(map[Feed]bool, len(f.state.Loaded))
	for k, v := range f.state.Loaded {
		s.Loaded[k] = v
	}
	s.Errors = make(map[Feed]string, len(f.state.Errors))
	for k, v := range f.state.Errors {
		s.Errors[k] = v
	}
	return s
}

// Close stops every subscription. The feeds cannot be rebound afterwards.
func (f *Feeds) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.gen++
	old := f.unsubs
	f.unsubs = nil
	f.mu.Unlock()
	f.stopAll(old)
}

func (f *Feeds) stopAll(subs map[Feed]docstore.Unsubscribe) {
	for feed, unsub := range subs {
		unsub()
		if f.observer != nil {
			f.observer.SubscriptionClosed(string(feed))
		}
	}
}

func (f *Feeds) apply(gen uint64, uid string, feed Feed, snap docstore.Snapshot) {
	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		return
	}
	var err error
	switch feed {
	case FeedReports:
		var v []records.Report
		if v, err = records.DecodeAll[records.Report](snap.Docs); err == nil {
			f.state.Reports = ownedBy(v, uid, func(r records.Report) string { return r.UserID })
		}
	case FeedAppointments:
		var v []records.Appointment
		if v, err = records.DecodeAll[records.Appointment](snap.Docs); err == nil {
			f.state.Appointments = ownedBy(v, uid, func(a records.Appointment) string { return a.UserID })
		}
	case FeedDoctors:
		f.state.Doctors, err = records.DecodeAll[records.Doctor](snap.Docs)
	case FeedChat:
		var v []records.ChatMessage
		if v, err = records.DecodeAll[records.ChatMessage](snap.Docs); err == nil {
			for i := range v {
				if v[i].Role == "assistant" {
					v[i].Role = records.RoleModel
				}
			}
			f.state.Chat = v
		}
	case FeedDiagnostics:
		var v []records.DiagnosticRecord
		if v, err = records.DecodeAll[records.DiagnosticRecord](snap.Docs); err == nil {
			// Records are already scoped by path; older ones may lack userId.
			f.state.Diagnostics = ownedBy(v, uid, func(d records.DiagnosticRecord) string {
				if d.UserID == "" {
					return uid
				}
				return d.UserID
			})
		}
	}
	if err != nil {
		f.state.Errors[feed] = err.Error()
	} else {
		delete(f.state.Errors, feed)
		f.state.Loaded[feed] = true
	}
	onChange := f.onChange
	f.mu.Unlock()

	if err != nil {
		f.logger.ForUser(uid).Warn("live feed decode failed", "feed", string(feed), "error", err)
	}
	if onChange != nil {
		onChange(feed)
	}
}

func (f *Feeds) fail(gen uint64, feed Feed, err error) {
	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		return
	}
	f.state.Errors[feed] = err.Error()
	f.state.Loaded[feed] = true
	uid := f.uid
	onChange := f.onChange
	f.mu.Unlock()

	f.logger.ForUser(uid).Error("live feed failed", "feed", string(feed), "error", err)
	if onChange != nil {
		onChange(feed)
	}
}

func ownedBy[T any](items []T, uid string, owner func(T) string) []T {
	out := items[:0]
	for _, it := range items {
		if owner(it) == uid {
			out = append(out, it)
		}
	}
	return out
}

func queryFor(feed Feed, uid string) docstore.Query {
	switch feed {
	case FeedReports:
		return records.ReportsQuery(uid)
	case FeedAppointments:
		return records.AppointmentsQuery(uid)
	case FeedDoctors:
		return records.DoctorsQuery()
	case FeedChat:
		return records.ChatQuery(uid)
	case FeedDiagnostics:
		return records.DiagnosticsQuery(uid)
	}
	return docstore.Query{}
}
