package nav

import (
	"errors"
	"fmt"
	"sync"

	"dermalyze/src/app"
)

// Event is a user or system intent dispatched into the machine.
type Event string

const (
	// System events.
	EventSessionReady     Event = "session-ready" // startup session check resolved
	EventSignedOut        Event = "signed-out"    // auth backend reported sign-out
	EventPasswordRecovery Event = "password-recovery"

	// User intents.
	EventGoLogin           Event = "go-login"
	EventGoSignup          Event = "go-signup"
	EventGoForgotPassword  Event = "go-forgot-password"
	EventLoginSuccess      Event = "login-success"
	EventSignupSuccess     Event = "signup-success"
	EventResetSuccess      Event = "reset-success"
	EventGoDashboard       Event = "go-dashboard"
	EventGoUpload          Event = "go-upload"
	EventRunClassification Event = "run-classification"
	EventComplete          Event = "complete"
	EventFail              Event = "fail"
	EventAnalyzeAnother    Event = "analyze-another"
	EventGoHistory         Event = "go-history"
	EventViewDetail        Event = "view-detail"
	EventBackToHistory     Event = "back-to-history"
	EventGoAbout           Event = "go-about"
	EventGoHelp            Event = "go-help"
	EventGoProfile         Event = "go-profile"
	EventRequestLogout     Event = "request-logout"
	EventConfirmLogout     Event = "confirm-logout"
	EventCancelLogout      Event = "cancel-logout"
)

// ErrNoImageProvided is the failure raised when processing is entered
// without a selected image. It must surface immediately, never hang.
var ErrNoImageProvided = errors.New("no image provided")

// IllegalTransitionError reports an event the current screen does not
// accept.
type IllegalTransitionError struct {
	From  Screen
	Event Event
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("screen %q does not accept event %q", e.From, e.Event)
}

type (
	// guard validates a transition before it is applied. A plain error
	// rejects the event; a *redirect reroutes it (used by the
	// missing-image edge case, which must produce an error outcome
	// rather than a rejected dispatch).
	guard func(m *Machine) error

	// effect mutates machine state as part of an accepted transition.
	effect func(m *Machine)

	rule struct {
		To    Screen
		Guard guard
		Apply effect
	}

	redirect struct {
		to      Screen
		message string
	}

	// Machine is the navigation controller for one browser session. It
	// is the single authorized mutator of the transient analysis state;
	// all access is serialized behind its mutex.
	Machine struct {
		mu sync.Mutex

		screen        Screen
		authenticated bool

		selectedImage   string
		results         []app.ClassResult
		errorMessage    string
		selectedHistory *app.AnalysisHistoryItem
		returnTo        Screen

		// epoch counts classification flows; a result finishing under a
		// stale epoch is discarded instead of touching current state.
		epoch       int
		classifying bool
	}

	// Snapshot is the read-only view handed to the render layer.
	Snapshot struct {
		Screen          Screen                   `json:"screen"`
		Focus           string                   `json:"focus"`
		Authenticated   bool                     `json:"authenticated"`
		SelectedImage   string                   `json:"selectedImage,omitempty"`
		Results         []app.ClassResult        `json:"results,omitempty"`
		ErrorMessage    string                   `json:"errorMessage,omitempty"`
		SelectedHistory *app.AnalysisHistoryItem `json:"selectedHistory,omitempty"`
	}
)

func (r *redirect) Error() string { return r.message }

// NewMachine starts in the loading pseudo-state.
func NewMachine() *Machine {
	return &Machine{screen: ScreenLoading}
}

// transitions is the explicit from-state × event table. Events missing
// from a screen's row are illegal there; the wildcard auth events are
// handled in Dispatch before the lookup.
var transitions = map[Screen]map[Event]rule{
	ScreenLoading: {
		// To is resolved dynamically from the session/recovery flags.
		EventSessionReady: {Apply: (*Machine).applySessionReady},
	},
	ScreenLogin: {
		EventGoSignup:         {To: ScreenSignup},
		EventGoForgotPassword: {To: ScreenForgotPassword},
		EventLoginSuccess:     {To: ScreenDashboard, Apply: func(m *Machine) { m.authenticated = true }},
	},
	ScreenSignup: {
		EventGoLogin:       {To: ScreenLogin},
		EventSignupSuccess: {To: ScreenEmailVerification},
	},
	ScreenForgotPassword: {
		EventGoLogin: {To: ScreenLogin},
	},
	ScreenResetPassword: {
		EventResetSuccess: {To: ScreenLogin, Apply: (*Machine).applySignedOut},
		EventGoLogin:      {To: ScreenLogin},
	},
	ScreenEmailVerification: {
		EventGoLogin: {To: ScreenLogin},
	},
	ScreenDashboard: {
		EventGoUpload:      {To: ScreenUpload},
		EventGoHistory:     {To: ScreenHistory},
		EventGoAbout:       {To: ScreenAbout},
		EventGoHelp:        {To: ScreenHelp},
		EventGoProfile:     {To: ScreenProfile},
		EventRequestLogout: {To: ScreenLogoutConfirm, Apply: (*Machine).rememberOrigin},
	},
	ScreenUpload: {
		EventGoDashboard:       {To: ScreenDashboard, Apply: (*Machine).clearAnalysis},
		EventRunClassification: {To: ScreenProcessing, Guard: requireSelectedImage},
		EventFail:              {To: ScreenError},
		EventRequestLogout:     {To: ScreenLogoutConfirm, Apply: (*Machine).rememberOrigin},
	},
	ScreenProcessing: {
		EventComplete:      {To: ScreenResults, Apply: (*Machine).endFlight},
		EventFail:          {To: ScreenError, Apply: (*Machine).endFlight},
		EventRequestLogout: {To: ScreenLogoutConfirm, Apply: (*Machine).rememberOrigin},
	},
	ScreenResults: {
		EventAnalyzeAnother: {To: ScreenUpload, Apply: (*Machine).clearAnalysis},
		EventGoHistory:      {To: ScreenHistory},
		EventRequestLogout:  {To: ScreenLogoutConfirm, Apply: (*Machine).rememberOrigin},
	},
	ScreenHistory: {
		EventGoDashboard:   {To: ScreenDashboard},
		EventViewDetail:    {To: ScreenHistoryDetail, Guard: requireHistorySelection},
		EventRequestLogout: {To: ScreenLogoutConfirm, Apply: (*Machine).rememberOrigin},
	},
	ScreenHistoryDetail: {
		EventBackToHistory: {To: ScreenHistory, Apply: func(m *Machine) { m.selectedHistory = nil }},
		EventRequestLogout: {To: ScreenLogoutConfirm, Apply: (*Machine).rememberOrigin},
	},
	ScreenError: {
		EventGoUpload:      {To: ScreenUpload, Apply: (*Machine).clearAnalysis},
		EventGoDashboard:   {To: ScreenDashboard, Apply: (*Machine).clearAnalysis},
		EventRequestLogout: {To: ScreenLogoutConfirm, Apply: (*Machine).rememberOrigin},
	},
	ScreenAbout: {
		EventGoDashboard:   {To: ScreenDashboard},
		EventRequestLogout: {To: ScreenLogoutConfirm, Apply: (*Machine).rememberOrigin},
	},
	ScreenHelp: {
		EventGoDashboard:   {To: ScreenDashboard},
		EventRequestLogout: {To: ScreenLogoutConfirm, Apply: (*Machine).rememberOrigin},
	},
	ScreenProfile: {
		EventGoDashboard:   {To: ScreenDashboard},
		EventRequestLogout: {To: ScreenLogoutConfirm, Apply: (*Machine).rememberOrigin},
	},
	ScreenLogoutConfirm: {
		EventConfirmLogout: {To: ScreenLogin, Apply: (*Machine).applySignedOut},
		EventCancelLogout:  {Apply: (*Machine).applyCancelLogout},
	},
}

// Dispatch runs one event through the transition table. It returns the
// resulting snapshot, or an IllegalTransitionError when the current screen
// does not accept the event.
func (m *Machine) Dispatch(event Event) (Snapshot, error) {
	return m.DispatchWith(event, nil)
}

// DispatchWith is Dispatch plus a pre-transition mutation applied only if
// the transition is accepted (e.g. storing the history selection that a
// view-detail intent carries).
func (m *Machine) DispatchWith(event Event, carry effect) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dispatchLocked(event, carry)
}

func (m *Machine) dispatchLocked(event Event, carry effect) (Snapshot, error) {
	// Auth transitions apply from any screen, loading included.
	switch event {
	case EventSignedOut:
		m.applySignedOut()
		m.screen = ScreenLogin
		return m.snapshotLocked(), nil
	case EventPasswordRecovery:
		m.screen = ScreenResetPassword
		return m.snapshotLocked(), nil
	}

	row, ok := transitions[m.screen][event]
	if !ok {
		return m.snapshotLocked(), &IllegalTransitionError{From: m.screen, Event: event}
	}

	if carry != nil {
		carry(m)
	}
	if row.Guard != nil {
		if err := row.Guard(m); err != nil {
			var route *redirect
			if errors.As(err, &route) {
				m.errorMessage = route.message
				m.screen = route.to
				return m.snapshotLocked(), nil
			}
			return m.snapshotLocked(), err
		}
	}

	// Leaving processing mid-flight orphans the running classification.
	if m.screen == ScreenProcessing && row.To != ScreenResults && row.To != ScreenError {
		m.endFlight()
	}

	if row.Apply != nil {
		row.Apply(m)
	}
	if row.To != "" {
		m.screen = row.To
	}
	return m.snapshotLocked(), nil
}

// SessionReady resolves the startup loading state. recovery mirrors the
// type=recovery URL fragment, checked before any redirect decision is
// finalized.
func (m *Machine) SessionReady(hasSession, recovery bool) Snapshot {
	snapshot, _ := m.DispatchWith(EventSessionReady, func(m *Machine) {
		m.authenticated = hasSession
		switch {
		case hasSession && recovery:
			m.returnTo = ScreenResetPassword
		case hasSession:
			m.returnTo = ScreenDashboard
		default:
			m.returnTo = ScreenLogin
		}
	})
	return snapshot
}

// SelectImage stores a normalized image in the upload screen's transient
// state. Rejected outside the upload screen.
func (m *Machine) SelectImage(dataURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.screen != ScreenUpload {
		return &IllegalTransitionError{From: m.screen, Event: "select-image"}
	}
	m.selectedImage = dataURL
	return nil
}

// ClearImage drops the current selection without leaving the screen.
func (m *Machine) ClearImage() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selectedImage = ""
}

// SelectHistoryItem dispatches the view-detail intent carrying the chosen
// record.
func (m *Machine) SelectHistoryItem(item *app.AnalysisHistoryItem) (Snapshot, error) {
	return m.DispatchWith(EventViewDetail, func(m *Machine) { m.selectedHistory = item })
}

// StartClassification moves upload → processing and claims the flight.
// Duplicate invocations while a flight is running are no-ops: the second
// caller gets ok=false and must not start another call.
func (m *Machine) StartClassification() (dataURL string, epoch int, ok bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.classifying {
		return "", 0, false, nil
	}

	snapshot, err := m.dispatchLocked(EventRunClassification, nil)
	if err != nil {
		return "", 0, false, err
	}
	if snapshot.Screen == ScreenError {
		// Missing image was rerouted to the error screen.
		return "", 0, false, ErrNoImageProvided
	}

	m.classifying = true
	m.epoch++
	return m.selectedImage, m.epoch, true, nil
}

// CompleteClassification applies a finished flight. Results belonging to a
// stale epoch, or arriving after the user navigated away from processing,
// are discarded so they never touch another screen's state.
func (m *Machine) CompleteClassification(epoch int, results []app.ClassResult, flightErr error) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch || m.screen != ScreenProcessing {
		return m.snapshotLocked(), false
	}

	if flightErr != nil {
		snapshot, _ := m.dispatchLocked(EventFail, func(m *Machine) { m.errorMessage = flightErr.Error() })
		return snapshot, true
	}
	snapshot, _ := m.dispatchLocked(EventComplete, func(m *Machine) { m.results = results })
	return snapshot, true
}

// Snapshot returns the current render state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	snapshot := Snapshot{
		Screen:        m.screen,
		Focus:         FocusTarget(m.screen),
		Authenticated: m.authenticated,
		SelectedImage: m.selectedImage,
		ErrorMessage:  m.errorMessage,
	}
	if len(m.results) > 0 {
		snapshot.Results = append([]app.ClassResult(nil), m.results...)
	}
	if m.screen == ScreenHistoryDetail {
		// Guarded: without a selection the detail view renders empty.
		snapshot.SelectedHistory = m.selectedHistory
	}
	return snapshot
}

func requireSelectedImage(m *Machine) error {
	if m.selectedImage == "" {
		return &redirect{to: ScreenError, message: ErrNoImageProvided.Error()}
	}
	return nil
}

func requireHistorySelection(m *Machine) error {
	if m.selectedHistory == nil {
		return &IllegalTransitionError{From: m.screen, Event: EventViewDetail}
	}
	return nil
}

func (m *Machine) rememberOrigin() { m.returnTo = m.screen }

func (m *Machine) applyCancelLogout() {
	if m.returnTo != "" && m.returnTo != ScreenLogoutConfirm {
		m.screen = m.returnTo
	} else {
		m.screen = ScreenDashboard
	}
	m.returnTo = ""
}

// applySignedOut clears every piece of transient analysis state. Runs on
// confirmed logout and on externally reported sign-out.
func (m *Machine) applySignedOut() {
	m.authenticated = false
	m.clearAnalysis()
	m.selectedHistory = nil
	m.returnTo = ""
	m.endFlight()
}

func (m *Machine) clearAnalysis() {
	m.selectedImage = ""
	m.results = nil
	m.errorMessage = ""
}

// endFlight invalidates any in-flight classification.
func (m *Machine) endFlight() {
	m.classifying = false
	m.epoch++
}

// applySessionReady lands on the screen chosen by SessionReady's carry.
func (m *Machine) applySessionReady() {
	if m.returnTo == "" {
		m.returnTo = ScreenLogin
	}
	m.screen = m.returnTo
	m.returnTo = ""
}
