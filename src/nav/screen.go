// Package nav implements the screen state machine that governs which view
// is active for one browser session and when analysis data may be fetched
// or mutated.
package nav

// Screen is one named, mutually exclusive UI state.
type Screen string

const (
	// ScreenLoading is the transient startup pseudo-state held until the
	// session check resolves. It renders a spinner and accepts no events
	// other than the session resolution itself.
	ScreenLoading Screen = "loading"

	ScreenLogin             Screen = "login"
	ScreenSignup            Screen = "signup"
	ScreenForgotPassword    Screen = "forgot-password"
	ScreenResetPassword     Screen = "reset-password"
	ScreenEmailVerification Screen = "email-verification"
	ScreenDashboard         Screen = "dashboard"
	ScreenUpload            Screen = "upload"
	ScreenProcessing        Screen = "processing"
	ScreenResults           Screen = "results"
	ScreenHistory           Screen = "history"
	ScreenHistoryDetail     Screen = "history-detail"
	ScreenError             Screen = "error"
	ScreenAbout             Screen = "about"
	ScreenHelp              Screen = "help"
	ScreenProfile           Screen = "profile"
	ScreenLogoutConfirm     Screen = "logout-confirm"
)

// publicScreens are reachable without a session. Everything else requires
// one; a SIGNED_OUT event forces login from any screen.
var publicScreens = map[Screen]bool{
	ScreenLogin:             true,
	ScreenSignup:            true,
	ScreenForgotPassword:    true,
	ScreenResetPassword:     true,
	ScreenEmailVerification: true,
}

// RequiresAuth reports whether a screen sits in the guarded region.
func RequiresAuth(screen Screen) bool {
	return screen != ScreenLoading && !publicScreens[screen]
}

// focusTargets names the first heading element of each screen. On every
// successful transition the new screen's heading receives programmatic
// keyboard focus once rendering settles.
var focusTargets = map[Screen]string{
	ScreenLogin:             "login-title",
	ScreenSignup:            "signup-title",
	ScreenForgotPassword:    "forgot-password-title",
	ScreenResetPassword:     "reset-password-title",
	ScreenEmailVerification: "email-verification-title",
	ScreenDashboard:         "dashboard-title",
	ScreenUpload:            "upload-title",
	ScreenProcessing:        "processing-title",
	ScreenResults:           "results-title",
	ScreenHistory:           "history-title",
	ScreenHistoryDetail:     "history-detail-title",
	ScreenError:             "error-title",
	ScreenAbout:             "about-title",
	ScreenHelp:              "help-title",
	ScreenProfile:           "profile-title",
	ScreenLogoutConfirm:     "logout-confirm-title",
}

// FocusTarget returns the heading id to focus after entering a screen.
func FocusTarget(screen Screen) string {
	return focusTargets[screen]
}
