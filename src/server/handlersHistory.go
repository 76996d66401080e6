package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	app "dermalyze/src/app"
	db "dermalyze/src/repository"
)

// GetHistory returns one page of the user's analysis records, newest
// first, as display view-models.
func (a *AppHandler) GetHistory(c *gin.Context) {
	machine := a.machine(c)
	active := a.authorize(c, machine)
	if active == nil {
		return
	}

	page, err := strconv.Atoi(c.DefaultQuery("page", "0"))
	if err != nil || page < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "page must be a non-negative number"})
		return
	}

	records, hasMore, err := a.dataStore.ListPage(c.Request.Context(), active.UserID, page)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "Could not load the history.", "action": actionDashboard})
		return
	}

	items := make([]app.AnalysisHistoryItem, 0, len(records))
	for _, record := range records {
		items = append(items, historyItem(record))
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"payload": gin.H{"items": items, "page": page, "hasMore": hasMore},
	})
}

type SelectHistoryBody struct {
	ID string `json:"id" binding:"required"`
}

// SelectHistoryItem stores the chosen record and moves to history-detail.
// The record is re-read from the store so a stale id cannot smuggle
// another user's data into the view.
func (a *AppHandler) SelectHistoryItem(c *gin.Context) {
	machine := a.machine(c)
	active := a.authorize(c, machine)
	if active == nil {
		return
	}
	var body SelectHistoryBody
	if err := c.BindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "id is required"})
		return
	}

	record, err := a.dataStore.GetByID(c.Request.Context(), active.UserID, body.ID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": "Record not found.", "action": actionDashboard})
		return
	}

	item := historyItem(*record)
	snapshot, err := machine.SelectHistoryItem(&item)
	respondDispatch(c, snapshot, err)
}

// GetStats serves the dashboard aggregate.
func (a *AppHandler) GetStats(c *gin.Context) {
	machine := a.machine(c)
	active := a.authorize(c, machine)
	if active == nil {
		return
	}

	stats, err := a.dataStore.Stats(c.Request.Context(), active.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "Could not load the dashboard statistics.", "action": actionDashboard})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "payload": stats})
}

func historyItem(record db.Analysis) app.AnalysisHistoryItem {
	return app.HistoryItem(
		record.ID,
		record.CreatedAt,
		record.PredictedClassID,
		record.PredictedClassName,
		record.Confidence,
		record.ImageURL,
		record.AllScores,
	)
}
