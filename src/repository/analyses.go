// Package repository persists completed analyses and serves the history
// and dashboard queries.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"dermalyze/src/app"
	cfg "dermalyze/src/configuration"
)

type (
	// Analysis is one row of the analyses table.
	Analysis struct {
		ID                 string            `gorm:"primaryKey" json:"id"`
		UserID             string            `gorm:"index:idx_analyses_user_created,priority:1" json:"user_id"`
		CreatedAt          time.Time         `gorm:"index:idx_analyses_user_created,priority:2,sort:desc" json:"created_at"`
		ImageURL           string            `json:"image_url"`
		PredictedClassID   string            `json:"predicted_class_id"`
		PredictedClassName string            `json:"predicted_class_name"`
		Confidence         float64           `json:"confidence"`
		AllScores          []app.ClassResult `gorm:"serializer:json" json:"all_scores"`
	}

	// ClassCount is one taxonomy bucket of the dashboard aggregate.
	ClassCount struct {
		ClassID string `json:"class_id"`
		Count   int64  `json:"count"`
	}

	// Stats is the aggregate dashboard payload.
	Stats struct {
		Total         int64        `json:"total"`
		ThisMonth     int64        `json:"this_month"`
		AvgConfidence float64      `json:"avg_confidence"`
		NeedsReview   int64        `json:"needs_review"`
		ClassCounts   []ClassCount `json:"class_counts"`
	}

	// AnalysesDB is the record store gateway consumed by the handlers.
	AnalysesDB interface {
		// SaveAnalysis is best-effort: failures are logged, never
		// surfaced, so showing results is not blocked on persistence.
		SaveAnalysis(ctx context.Context, analysis *Analysis)
		ListPage(ctx context.Context, userID string, page int) ([]Analysis, bool, error)
		GetByID(ctx context.Context, userID, id string) (*Analysis, error)
		Stats(ctx context.Context, userID string) (*Stats, error)
		DeleteForUser(ctx context.Context, userID string) error
	}

	analysesStore struct {
		db       *gorm.DB
		pageSize int
	}
)

// TableName keeps the external table name stable.
func (Analysis) TableName() string { return "analyses" }

// NewAnalysesDB opens the sqlite store and migrates the analyses table.
func NewAnalysesDB(config cfg.DBProperties) (AnalysesDB, error) {
	db, err := gorm.Open(sqlite.Open(config.Path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open analyses database: %w", err)
	}
	if err := db.AutoMigrate(&Analysis{}); err != nil {
		return nil, fmt.Errorf("migrate analyses table: %w", err)
	}
	pageSize := config.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	return &analysesStore{db: db, pageSize: pageSize}, nil
}

func (s *analysesStore) SaveAnalysis(ctx context.Context, analysis *Analysis) {
	if analysis.ID == "" {
		analysis.ID = uuid.NewString()
	}
	if analysis.CreatedAt.IsZero() {
		analysis.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(analysis).Error; err != nil {
		log.Warn().Err(err).Str("user", analysis.UserID).Msg("can not persist analysis record")
	}
}

// ListPage returns one page of the user's records newest-first. The
// second result reports whether another page exists.
func (s *analysesStore) ListPage(ctx context.Context, userID string, page int) ([]Analysis, bool, error) {
	if page < 0 {
		page = 0
	}
	records := make([]Analysis, 0, s.pageSize)
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset(page * s.pageSize).
		Limit(s.pageSize + 1).
		Find(&records).Error
	if err != nil {
		return nil, false, fmt.Errorf("list analyses: %w", err)
	}
	hasMore := len(records) > s.pageSize
	if hasMore {
		records = records[:s.pageSize]
	}
	return records, hasMore, nil
}

// GetByID fetches one record, scoped to its owner.
func (s *analysesStore) GetByID(ctx context.Context, userID, id string) (*Analysis, error) {
	record := &Analysis{}
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND id = ?", userID, id).
		First(record).Error
	if err != nil {
		return nil, fmt.Errorf("get analysis %s: %w", id, err)
	}
	return record, nil
}

func (s *analysesStore) Stats(ctx context.Context, userID string) (*Stats, error) {
	stats := &Stats{}
	db := s.db.WithContext(ctx).Model(&Analysis{}).Where("user_id = ?", userID)

	if err := db.Session(&gorm.Session{}).Count(&stats.Total).Error; err != nil {
		return nil, fmt.Errorf("count analyses: %w", err)
	}

	monthStart := time.Now().UTC()
	monthStart = time.Date(monthStart.Year(), monthStart.Month(), 1, 0, 0, 0, 0, time.UTC)
	if err := db.Session(&gorm.Session{}).
		Where("created_at >= ?", monthStart).
		Count(&stats.ThisMonth).Error; err != nil {
		return nil, fmt.Errorf("count this month: %w", err)
	}

	if stats.Total > 0 {
		if err := db.Session(&gorm.Session{}).
			Select("AVG(confidence)").
			Scan(&stats.AvgConfidence).Error; err != nil {
			return nil, fmt.Errorf("average confidence: %w", err)
		}
	}

	if err := db.Session(&gorm.Session{}).
		Where("predicted_class_id IN ?", reviewClassIDs()).
		Count(&stats.NeedsReview).Error; err != nil {
		return nil, fmt.Errorf("count needs review: %w", err)
	}

	counts := make([]ClassCount, 0, len(app.ClassIDs))
	if err := db.Session(&gorm.Session{}).
		Select("predicted_class_id AS class_id, COUNT(*) AS count").
		Group("predicted_class_id").
		Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("count per class: %w", err)
	}
	stats.ClassCounts = fillMissingClasses(counts)
	return stats, nil
}

func (s *analysesStore) DeleteForUser(ctx context.Context, userID string) error {
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&Analysis{}).Error; err != nil {
		return fmt.Errorf("delete analyses for user: %w", err)
	}
	return nil
}

// reviewClassIDs lists the taxonomy ids whose risk severity warrants
// clinical review, derived from the reference table.
func reviewClassIDs() []string {
	ids := make([]string, 0, 2)
	for _, id := range app.ClassIDs {
		severity := app.RiskSeverityOf(app.ClassInfoMap[id].RiskLevel)
		if severity == app.SeverityCritical || severity == app.SeverityHigh {
			ids = append(ids, id)
		}
	}
	return ids
}

// fillMissingClasses pads the per-class counts so every taxonomy id is
// present, zeroes included, in canonical order.
func fillMissingClasses(counts []ClassCount) []ClassCount {
	byID := make(map[string]int64, len(counts))
	for _, c := range counts {
		byID[c.ClassID] = c.Count
	}
	full := make([]ClassCount, 0, len(app.ClassIDs))
	for _, id := range app.ClassIDs {
		full = append(full, ClassCount{ClassID: id, Count: byID[id]})
	}
	return full
}
