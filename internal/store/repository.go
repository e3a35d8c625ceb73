package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Brownie44l1/plant-api/internal/chat"
	"github.com/Brownie44l1/plant-api/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotFound is returned when no report has the requested ID.
var ErrNotFound = errors.New("report not found")

// Repository reads and writes reports.
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository wraps an open, migrated database.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// NewReport builds an unsaved report for result, seeded with the opening
// assistant message.
func NewReport(result model.ClassificationResult, now time.Time) *Report {
	now = now.UTC()
	return &Report{
		ID:               uuid.New(),
		PredictedDisease: result.Disease,
		Confidence:       result.Confidence,
		ChatHistory: []chat.Turn{{
			Role:      chat.RoleAssistant,
			Content:   chat.OpeningMessage(result.Disease, result.Confidence),
			Timestamp: now,
		}},
		CreatedAt: now,
	}
}

// CreateFromResult stores a new report for result.
func (r *Repository) CreateFromResult(ctx context.Context, result model.ClassificationResult) (*Report, error) {
	report := NewReport(result, r.now())
	if err := r.db.WithContext(ctx).Create(report).Error; err != nil {
		return nil, fmt.Errorf("failed to create report: %w", err)
	}
	return report, nil
}

// List returns all reports, newest first.
func (r *Repository) List(ctx context.Context) ([]Report, error) {
	var reports []Report
	if err := r.db.WithContext(ctx).Order("created_at desc").Find(&reports).Error; err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	return reports, nil
}

// Get returns the report with id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Report, error) {
	var report Report
	err := r.db.WithContext(ctx).First(&report, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return &report, nil
}

// SaveChatHistory replaces the report's whole conversation. A nil history
// leaves the stored one untouched.
func (r *Repository) SaveChatHistory(ctx context.Context, id uuid.UUID, history []chat.Turn) (*Report, error) {
	report, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if history == nil {
		return report, nil
	}

	now := r.now().UTC()
	for i := range history {
		if history[i].Timestamp.IsZero() {
			history[i].Timestamp = now
		}
	}
	report.ChatHistory = history

	if err := r.db.WithContext(ctx).Save(report).Error; err != nil {
		return nil, fmt.Errorf("failed to save chat history: %w", err)
	}
	return report, nil
}

// Delete removes the report with id.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Delete(&Report{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete report: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
