package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Predictor is the keyword a user texts for the antecedent event.
type Predictor struct {
	ID        string    `json:"id" gorm:"type:varchar(60);primaryKey"`
	UserID    string    `json:"user_id" gorm:"type:varchar(60);uniqueIndex;not null"`
	Name      string    `json:"name" gorm:"type:varchar(60);not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Outcome is the keyword a user texts for the resulting event.
type Outcome struct {
	ID        string    `json:"id" gorm:"type:varchar(60);primaryKey"`
	UserID    string    `json:"user_id" gorm:"type:varchar(60);uniqueIndex;not null"`
	Name      string    `json:"name" gorm:"type:varchar(60);not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Interval is the number of hours an outcome may follow a predictor.
type Interval struct {
	ID        string    `json:"id" gorm:"type:varchar(60);primaryKey"`
	UserID    string    `json:"user_id" gorm:"type:varchar(60);uniqueIndex;not null"`
	Duration  int       `json:"duration" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *Predictor) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Name = NormalizeKeyword(p.Name)
	return nil
}

func (o *Outcome) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.Name = NormalizeKeyword(o.Name)
	return nil
}

func (i *Interval) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}

// NormalizeKeyword trims and lowercases keywords and inbound text so they
// compare equal regardless of how the user typed them.
func NormalizeKeyword(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
