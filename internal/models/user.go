package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is an enrolled phone number and its tracking configuration.
type User struct {
	ID          string    `json:"id" gorm:"type:varchar(60);primaryKey"`
	Username    string    `json:"username" gorm:"type:varchar(60);not null"`
	PhoneNumber string    `json:"phone_number" gorm:"type:varchar(60);uniqueIndex;not null"` // E.164
	AccessCode  string    `json:"-" gorm:"type:varchar(60);not null"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Predictor *Predictor `json:"predictor,omitempty" gorm:"foreignKey:UserID"`
	Outcome   *Outcome   `json:"outcome,omitempty" gorm:"foreignKey:UserID"`
	Interval  *Interval  `json:"interval,omitempty" gorm:"foreignKey:UserID"`
}

// BeforeCreate assigns an ID and trims the username
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Username = strings.TrimSpace(u.Username)
	return nil
}

// PredictorKeyword returns the configured predictor keyword or "".
func (u *User) PredictorKeyword() string {
	if u.Predictor == nil {
		return ""
	}
	return u.Predictor.Name
}

// OutcomeKeyword returns the configured outcome keyword or "".
func (u *User) OutcomeKeyword() string {
	if u.Outcome == nil {
		return ""
	}
	return u.Outcome.Name
}

// IntervalHours returns the configured interval or 0.
func (u *User) IntervalHours() int {
	if u.Interval == nil {
		return 0
	}
	return u.Interval.Duration
}
