package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	app "dermalyze/src/app"
	"dermalyze/src/classify"
	"dermalyze/src/nav"
	db "dermalyze/src/repository"
)

// GetNav returns the current screen snapshot for this browser session.
func (a *AppHandler) GetNav(c *gin.Context) {
	respondNav(c, a.machine(c).Snapshot())
}

type NavEventBody struct {
	Event string `json:"event" binding:"required"`
}

// PostNavEvent dispatches one user intent into the screen machine.
// Transitions into the guarded region additionally require a session.
func (a *AppHandler) PostNavEvent(c *gin.Context) {
	machine := a.machine(c)
	var body NavEventBody
	if err := c.BindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "event is required"})
		return
	}

	event := nav.Event(body.Event)
	if navRequiresSession(machine, event) && a.authorize(c, machine) == nil {
		return
	}
	snapshot, err := machine.Dispatch(event)
	respondDispatch(c, snapshot, err)
}

// navRequiresSession reports whether the machine currently sits in the
// guarded region, where every further intent assumes an active session.
func navRequiresSession(machine *nav.Machine, event nav.Event) bool {
	if event == nav.EventSignedOut || event == nav.EventPasswordRecovery {
		return false
	}
	return nav.RequiresAuth(machine.Snapshot().Screen)
}

// maxUploadBody caps the upload request body. Twice the file ceiling
// leaves room for multipart framing while still letting oversize files
// reach the sized validation message.
const maxUploadBody = 2 * app.MaxFileBytes

// SelectImage validates and normalizes an uploaded file into the upload
// screen's transient state. Validation failures never reach the network;
// they surface immediately at selection time.
func (a *AppHandler) SelectImage(c *gin.Context) {
	machine := a.machine(c)
	if a.authorize(c, machine) == nil {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBody)
	file, header, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "Could not read the file. Please try again.", "action": actionRetryUpload})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "Could not read the file. Please try again.", "action": actionRetryUpload})
		return
	}

	mimeType := header.Header.Get("Content-Type")
	dataURL, err := app.Normalize(mimeType, data)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"status": "error", "error": err.Error(), "action": actionRetryUpload})
		return
	}

	if err := machine.SelectImage(dataURL); err != nil {
		c.JSON(http.StatusConflict, gin.H{"status": "error", "error": err.Error(), "nav": machine.Snapshot()})
		return
	}
	respondNav(c, machine.Snapshot())
}

// ClearImage drops the current selection ("remove image" on the upload
// screen).
func (a *AppHandler) ClearImage(c *gin.Context) {
	machine := a.machine(c)
	if a.authorize(c, machine) == nil {
		return
	}
	machine.ClearImage()
	respondNav(c, machine.Snapshot())
}

// RunAnalysis drives one classification flow: upload → processing →
// results or error. Preprocessing, the inference call and finalization are
// strictly sequential; a duplicate request while a flight is running is a
// no-op returning the current state.
func (a *AppHandler) RunAnalysis(c *gin.Context) {
	machine := a.machine(c)
	active := a.authorize(c, machine)
	if active == nil {
		return
	}

	dataURL, epoch, ok, err := machine.StartClassification()
	if err != nil {
		if errors.Is(err, nav.ErrNoImageProvided) {
			// Routed to the error screen, not left hanging on a spinner.
			respondNav(c, machine.Snapshot())
			return
		}
		respondDispatch(c, machine.Snapshot(), err)
		return
	}
	if !ok {
		respondNav(c, machine.Snapshot())
		return
	}

	// Perceived-latency smoothing between preprocessing and the
	// inference call. Cosmetic only, not a correctness mechanism.
	if delay := a.config.MLServer.ProcessDelayMs; delay > 0 {
		time.Sleep(time.Duration(delay) * time.Millisecond)
	}

	results, classifyErr := a.ml.Classify(c.Request.Context(), dataURL)
	if classifyErr != nil {
		logClassifyError(classifyErr)
	}

	snapshot, applied := machine.CompleteClassification(epoch, results, userFacing(classifyErr))
	if applied && classifyErr == nil {
		// Persistence is best-effort and must never block the results.
		go a.persistAnalysis(active.UserID, dataURL, results)
	}
	respondNav(c, snapshot)
}

// GetResults returns the distribution of the current results screen plus
// its derived view data.
func (a *AppHandler) GetResults(c *gin.Context) {
	machine := a.machine(c)
	if a.authorize(c, machine) == nil {
		return
	}

	snapshot := machine.Snapshot()
	predicted, ok := app.PredictedClass(snapshot.Results)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": "No analysis results available.", "action": actionRetryUpload})
		return
	}

	info := app.ClassInfoMap[predicted.ID]
	severity := app.RiskSeverityOf(info.RiskLevel)
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"payload": gin.H{
			"caseId":          app.CaseID(time.Now()),
			"classes":         snapshot.Results,
			"predicted":       predicted,
			"classInfo":       info,
			"riskSeverity":    severity,
			"riskLabel":       app.RiskLabel(severity),
			"confidenceColor": app.ConfidenceColor(predicted.Score),
		},
	})
}

// persistAnalysis uploads the normalized image and inserts the analysis
// record. Both steps are best-effort: failures are logged and swallowed,
// with no compensating transaction between them.
func (a *AppHandler) persistAnalysis(userID, dataURL string, results []app.ClassResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	imageURL := ""
	if a.s3 != nil {
		_, raw, err := app.DecodeDataURL(dataURL)
		if err == nil {
			name := fmt.Sprintf("%s.jpg", uuid.NewString())
			imageURL, err = a.s3.UploadImage(ctx, userID, name, raw)
		}
		if err != nil {
			log.Warn().Err(err).Str("user", userID).Msg("can not upload analysis image, record will have no image URL")
			imageURL = ""
		}
	}

	predicted, ok := app.PredictedClass(results)
	if !ok {
		return
	}
	a.dataStore.SaveAnalysis(ctx, &db.Analysis{
		UserID:             userID,
		ImageURL:           imageURL,
		PredictedClassID:   predicted.ID,
		PredictedClassName: predicted.Name,
		Confidence:         predicted.Score,
		AllScores:          results,
	})
}

func logClassifyError(err error) {
	var httpErr *classify.HTTPError
	switch {
	case errors.Is(err, classify.ErrNoEndpoint):
		log.Error().Err(err).Msg("classification endpoint not configured")
	case errors.As(err, &httpErr):
		log.Error().Int("status", httpErr.Status).Str("body", httpErr.Body).Msg("classification server rejected request")
	default:
		log.Error().Err(err).Msg("classification call failed")
	}
}

// userFacing maps transport failures to the message shown on the error
// screen. Configuration errors pass through verbatim: they are fatal and
// actionable for the operator.
func userFacing(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, classify.ErrNoEndpoint) {
		return err
	}
	var httpErr *classify.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	return errors.New("The analysis service is unreachable. Please try again.")
}
