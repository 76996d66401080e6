package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AnalysisHistoryItem is the display form of one persisted analysis record.
type AnalysisHistoryItem struct {
	ID         string        `json:"id"`
	Date       string        `json:"date"`
	Time       string        `json:"time"`
	ClassID    string        `json:"classId"`
	ClassName  string        `json:"className"`
	Confidence float64       `json:"confidence"`
	ImageURL   string        `json:"imageUrl,omitempty"`
	AllScores  []ClassResult `json:"allScores,omitempty"`
}

// PredictedClass returns the entry with the maximum score. Ties break to
// the first occurrence in the slice. ok is false for an empty distribution.
func PredictedClass(classes []ClassResult) (ClassResult, bool) {
	if len(classes) == 0 {
		return ClassResult{}, false
	}
	best := classes[0]
	for _, c := range classes[1:] {
		if c.Score > best.Score {
			best = c
		}
	}
	return best, true
}

// HistoryItem derives the display view-model from a stored record. The
// class name is resolved through the taxonomy table so renames there show
// up in history without a data migration; unknown ids keep the stored name.
func HistoryItem(id string, createdAt time.Time, classID, storedName string, confidence float64, imageURL string, allScores []ClassResult) AnalysisHistoryItem {
	name := storedName
	if info, ok := ClassInfoMap[classID]; ok {
		name = info.Name
	}
	return AnalysisHistoryItem{
		ID:         id,
		Date:       createdAt.Format("Jan 2, 2006"),
		Time:       createdAt.Format("15:04"),
		ClassID:    classID,
		ClassName:  name,
		Confidence: confidence,
		ImageURL:   imageURL,
		AllScores:  allScores,
	}
}

// CaseID builds the short display identifier shown on the results view.
func CaseID(at time.Time) string {
	encoded := strconv.FormatInt(at.UnixMilli(), 36)
	if len(encoded) > 6 {
		encoded = encoded[len(encoded)-6:]
	}
	return fmt.Sprintf("DRM-%s", strings.ToUpper(encoded))
}
