package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"dermalyze/src/nav"
	"dermalyze/src/session"
)

type (
	LoginBody struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}

	SignupBody struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
		Name     string `json:"name"`
	}

	EmailBody struct {
		Email string `json:"email" binding:"required"`
	}

	ResetPasswordBody struct {
		Password string `json:"password" binding:"required"`
	}

	UpdateProfileBody struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}
)

// Bootstrap resolves the startup session check for this browser session.
// The recovery query parameter mirrors the type=recovery URL fragment; the
// fragment never reaches the server, so the UI forwards it explicitly. It
// is honored before any other redirect decision.
func (a *AppHandler) Bootstrap(c *gin.Context) {
	machine := a.machine(c)
	active := a.currentSession(c)
	recovery := c.Query("recovery") == "true"
	if recovery && active != nil {
		a.authGW.Notify(session.EventPasswordRecovery, active)
	}
	respondNav(c, machine.SessionReady(active != nil, recovery))
}

func (a *AppHandler) Login(c *gin.Context) {
	machine := a.machine(c)
	var body LoginBody
	if err := c.BindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "email and password are required"})
		return
	}

	active, err := a.authGW.SignInWithPassword(c.Request.Context(), body.Email, body.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "error": "Invalid email or password."})
		return
	}

	a.setSessionCookies(c, active)
	snapshot, err := machine.Dispatch(nav.EventLoginSuccess)
	respondDispatch(c, snapshot, err)
}

func (a *AppHandler) Signup(c *gin.Context) {
	machine := a.machine(c)
	var body SignupBody
	if err := c.BindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "email and password are required"})
		return
	}

	if err := a.authGW.SignUp(c.Request.Context(), body.Email, body.Password, body.Name); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"status": "error", "error": "Could not create the account. Please try again."})
		return
	}

	snapshot, err := machine.Dispatch(nav.EventSignupSuccess)
	respondDispatch(c, snapshot, err)
}

func (a *AppHandler) ForgotPassword(c *gin.Context) {
	var body EmailBody
	if err := c.BindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "email is required"})
		return
	}

	// Do not leak whether the address exists: the response is identical
	// either way, failures are only logged.
	if err := a.authGW.ResetPasswordForEmail(c.Request.Context(), body.Email); err != nil {
		log.Warn().Err(err).Msg("password recovery request failed")
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// ResetPassword completes the recovery flow: sets the new password, then
// signs the user out so they authenticate with it.
func (a *AppHandler) ResetPassword(c *gin.Context) {
	machine := a.machine(c)
	active := a.authorize(c, machine)
	if active == nil {
		return
	}
	var body ResetPasswordBody
	if err := c.BindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "password is required"})
		return
	}

	if err := a.authGW.UpdateUser(c.Request.Context(), active, session.UserUpdate{Password: body.Password}); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"status": "error", "error": "Could not update the password. Please try again."})
		return
	}
	_ = a.authGW.SignOut(c.Request.Context(), active)
	a.clearSessionCookies(c)

	snapshot, err := machine.Dispatch(nav.EventResetSuccess)
	respondDispatch(c, snapshot, err)
}

func (a *AppHandler) ResendVerification(c *gin.Context) {
	var body EmailBody
	if err := c.BindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "email is required"})
		return
	}
	if err := a.authGW.Resend(c.Request.Context(), "signup", body.Email); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"status": "error", "error": "Could not resend the verification email."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// RequestLogout enters logout-confirm, remembering the origin screen.
func (a *AppHandler) RequestLogout(c *gin.Context) {
	machine := a.machine(c)
	snapshot, err := machine.Dispatch(nav.EventRequestLogout)
	respondDispatch(c, snapshot, err)
}

// ConfirmLogout signs out at the backend, clears cookies and all
// transient analysis state, and lands on login.
func (a *AppHandler) ConfirmLogout(c *gin.Context) {
	machine := a.machine(c)
	if active := a.currentSession(c); active != nil {
		_ = a.authGW.SignOut(c.Request.Context(), active)
	}
	a.clearSessionCookies(c)
	snapshot, err := machine.Dispatch(nav.EventConfirmLogout)
	respondDispatch(c, snapshot, err)
}

// CancelLogout returns to the remembered screen, defaulting to dashboard.
func (a *AppHandler) CancelLogout(c *gin.Context) {
	machine := a.machine(c)
	snapshot, err := machine.Dispatch(nav.EventCancelLogout)
	respondDispatch(c, snapshot, err)
}

func (a *AppHandler) GetProfile(c *gin.Context) {
	machine := a.machine(c)
	active := a.authorize(c, machine)
	if active == nil {
		return
	}
	user, err := a.authGW.GetUser(c.Request.Context(), active)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"status": "error", "error": "Could not load the profile.", "action": actionDashboard})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "payload": user})
}

func (a *AppHandler) UpdateProfile(c *gin.Context) {
	machine := a.machine(c)
	active := a.authorize(c, machine)
	if active == nil {
		return
	}
	var body UpdateProfileBody
	if err := c.BindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "nothing to update"})
		return
	}

	update := session.UserUpdate{Password: body.Password}
	if body.Name != "" {
		update.Data = map[string]any{"name": body.Name}
	}
	if err := a.authGW.UpdateUser(c.Request.Context(), active, update); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"status": "error", "error": "Could not update the profile.", "action": actionDashboard})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// GetProfileImages lists presigned URLs for the user's stored analysis
// images.
func (a *AppHandler) GetProfileImages(c *gin.Context) {
	machine := a.machine(c)
	active := a.authorize(c, machine)
	if active == nil {
		return
	}
	if a.s3 == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": "Image storage is unavailable.", "action": actionDashboard})
		return
	}

	urls, err := a.s3.ListImages(c.Request.Context(), active.UserID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"status": "error", "error": "Could not load the stored images.", "action": actionDashboard})
		return
	}
	images := make([]string, 0, len(urls))
	for _, imageURL := range urls {
		images = append(images, imageURL.String())
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "payload": gin.H{"images": images}})
}

// DeleteAccount runs the deletion cascade: stored images, analysis rows,
// then the auth account itself. The machine lands on login.
func (a *AppHandler) DeleteAccount(c *gin.Context) {
	machine := a.machine(c)
	active := a.authorize(c, machine)
	if active == nil {
		return
	}

	if a.s3 != nil {
		if err := a.s3.DeleteAllForUser(c.Request.Context(), active.UserID); err != nil {
			log.Warn().Err(err).Str("user", active.UserID).Msg("can not purge stored images")
		}
	}
	if err := a.dataStore.DeleteForUser(c.Request.Context(), active.UserID); err != nil {
		log.Warn().Err(err).Str("user", active.UserID).Msg("can not purge analysis records")
	}
	if err := a.authGW.DeleteAccount(c.Request.Context(), active); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"status": "error", "error": "Could not delete the account.", "action": actionDashboard})
		return
	}

	a.clearSessionCookies(c)
	snapshot, _ := machine.Dispatch(nav.EventSignedOut)
	// The account is gone; the machine has nothing left to remember.
	if key, err := c.Cookie(navCookieName); err == nil {
		a.machines.Drop(key)
	}
	respondNav(c, snapshot)
}
