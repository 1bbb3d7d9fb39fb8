package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Session is one predictor -> outcome tracking cycle.
type Session struct {
	ID        string    `json:"id" gorm:"type:varchar(60);primaryKey"`
	UserID    string    `json:"user_id" gorm:"type:varchar(60);not null;index:idx_sessions_user_updated,priority:1"`
	Complete  bool      `json:"complete" gorm:"not null;default:false"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"index:idx_sessions_user_updated,priority:2,sort:desc"`

	Responses []Response `json:"responses,omitempty" gorm:"foreignKey:SessionID"`
}

func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// ExpiresAt is the instant after which an open session can no longer
// receive its outcome.
func (s *Session) ExpiresAt(intervalHours int) time.Time {
	return s.CreatedAt.Add(time.Duration(intervalHours) * time.Hour)
}

// IsExpired reports whether the session is still open past its interval.
// Complete sessions never expire.
func (s *Session) IsExpired(now time.Time, intervalHours int) bool {
	return !s.Complete && now.After(s.ExpiresAt(intervalHours))
}

// Response is one matched keyword event within a Session. Exactly one of
// PredictorID and OutcomeID is set.
type Response struct {
	ID          string    `json:"id" gorm:"type:varchar(60);primaryKey"`
	SessionID   string    `json:"session_id" gorm:"type:varchar(60);not null;index"`
	UserID      string    `json:"user_id" gorm:"type:varchar(60);not null;index"`
	PredictorID *string   `json:"predictor_id,omitempty" gorm:"type:varchar(60)"`
	OutcomeID   *string   `json:"outcome_id,omitempty" gorm:"type:varchar(60)"`
	Message     string    `json:"message" gorm:"type:text;not null"`
	MessageSID  string    `json:"message_sid,omitempty" gorm:"type:varchar(64);index"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (r *Response) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// IsPredictor reports whether the response recorded the predictor keyword.
func (r *Response) IsPredictor() bool {
	return r.PredictorID != nil
}

// IsOutcome reports whether the response recorded the outcome keyword.
func (r *Response) IsOutcome() bool {
	return r.OutcomeID != nil
}
