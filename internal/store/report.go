// Package store persists diagnosis reports and their conversations.
package store

import (
	"time"

	"github.com/Brownie44l1/plant-api/internal/chat"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Report is one diagnosis. The uploaded image is never stored.
type Report struct {
	ID               uuid.UUID   `json:"id" gorm:"type:uuid;primaryKey"`
	PredictedDisease string      `json:"predictedDisease" gorm:"type:varchar(255);not null;index"`
	Confidence       float64     `json:"confidence" gorm:"not null"`
	ChatHistory      []chat.Turn `json:"chatHistory" gorm:"serializer:json"`
	CreatedAt        time.Time   `json:"createdAt" gorm:"not null;index"`
}

func (Report) TableName() string {
	return "disease_reports"
}

// BeforeCreate assigns an ID when the caller did not.
func (r *Report) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
