package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	app "dermalyze/src/app"
	"dermalyze/src/classify"
	cfg "dermalyze/src/configuration"
	"dermalyze/src/nav"
	db "dermalyze/src/repository"
	"dermalyze/src/session"
)

// Forward actions attached to error responses. Every error screen offers
// a concrete way out; none is a dead end.
const (
	actionRetryUpload = "retry-upload"
	actionDashboard   = "dashboard"
	actionReload      = "reload"

	navCookieName = "dl_nav"
)

// machineCookieMaxAge bounds both the nav cookie and the token cookies.
const machineCookieMaxAge = 24 * time.Hour

type (
	AppHandler struct {
		config    *cfg.Properties
		authGW    *session.Gateway
		dataStore db.AnalysesDB
		s3        *app.ImageStore
		ml        *classify.Client
		machines  *nav.Store
		authSub   *session.Subscription
	}
)

func NewHandler(config *cfg.Properties, s3Client *app.ImageStore) (*AppHandler, error) {
	dataConnect, err := db.NewAnalysesDB(config.DB)
	if err != nil {
		return nil, err
	}

	handler := &AppHandler{
		config:    config,
		authGW:    session.NewGateway(config.Auth),
		dataStore: dataConnect,
		s3:        s3Client,
		ml:        classify.NewClient(config.MLServer),
		machines:  nav.NewStore(),
	}
	// The forced login jump on sign-out happens per machine in authorize,
	// where the affected session is known; this subscription only observes
	// backend-driven auth transitions.
	handler.authSub = handler.authGW.OnAuthStateChange(func(event session.Event, _ *session.Session) {
		log.Debug().Str("event", string(event)).Msg("auth state changed")
	})
	return handler, nil
}

// Close detaches the auth subscription.
func (a *AppHandler) Close() {
	if a.authSub != nil {
		a.authSub.Unsubscribe()
	}
}

func (a *AppHandler) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "model": "HAM10000 7-class classifier"})
}

// GetClassInfo serves the static taxonomy reference table.
func (a *AppHandler) GetClassInfo(c *gin.Context) {
	classes := make([]app.ClassInfo, 0, len(app.ClassIDs))
	for _, id := range app.ClassIDs {
		classes = append(classes, app.ClassInfoMap[id])
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "payload": classes})
}

// machine resolves this browser session's navigation machine, minting the
// session-scoping cookie on first contact.
func (a *AppHandler) machine(c *gin.Context) *nav.Machine {
	key, err := c.Cookie(navCookieName)
	if err != nil || key == "" {
		key = uuid.NewString()
		c.SetCookie(navCookieName, key, int(machineCookieMaxAge.Seconds()), "/", "", false, true)
	}
	return a.machines.Get(key)
}

// currentSession rebuilds the auth session from the token cookies.
// Returns nil when there is none.
func (a *AppHandler) currentSession(c *gin.Context) *session.Session {
	accessToken, _ := c.Cookie(a.config.Auth.AccessTokenCookieName)
	refreshToken, _ := c.Cookie(a.config.Auth.RefreshTokenCookieName)
	idToken, _ := c.Cookie(a.config.Auth.IDTokenCookieName)
	active, err := a.authGW.GetSession(c.Request.Context(), accessToken, refreshToken, idToken)
	if err != nil {
		log.Warn().Err(err).Msg("session check failed")
		return nil
	}
	return active
}

// authorize enforces the guarded region. A missing or expired session
// forces the machine to login, mirroring a SIGNED_OUT auth event, and the
// request is answered with the login snapshot.
func (a *AppHandler) authorize(c *gin.Context, machine *nav.Machine) *session.Session {
	active := a.currentSession(c)
	if active == nil {
		snapshot, _ := machine.Dispatch(nav.EventSignedOut)
		c.JSON(http.StatusUnauthorized, gin.H{
			"status": "error",
			"error":  "Your session has ended. Please sign in again.",
			"nav":    snapshot,
		})
		return nil
	}
	return active
}

func (a *AppHandler) setSessionCookies(c *gin.Context, active *session.Session) {
	maxAge := int(machineCookieMaxAge.Seconds())
	c.SetCookie(a.config.Auth.AccessTokenCookieName, active.AccessToken, maxAge, "/", "", false, true)
	c.SetCookie(a.config.Auth.RefreshTokenCookieName, active.RefreshToken, maxAge, "/", "", false, true)
	c.SetCookie(a.config.Auth.IDTokenCookieName, active.IDToken, maxAge, "/", "", false, true)
}

func (a *AppHandler) clearSessionCookies(c *gin.Context) {
	c.SetCookie(a.config.Auth.AccessTokenCookieName, "", -1, "/", "", false, true)
	c.SetCookie(a.config.Auth.RefreshTokenCookieName, "", -1, "/", "", false, true)
	c.SetCookie(a.config.Auth.IDTokenCookieName, "", -1, "/", "", false, true)
}

func respondNav(c *gin.Context, snapshot nav.Snapshot) {
	c.JSON(http.StatusOK, gin.H{"status": "success", "nav": snapshot})
}

// respondDispatch maps dispatch outcomes: accepted transitions return the
// new snapshot, illegal ones a conflict with the unchanged state.
func respondDispatch(c *gin.Context, snapshot nav.Snapshot, err error) {
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"status": "error", "error": err.Error(), "nav": snapshot})
		return
	}
	respondNav(c, snapshot)
}
