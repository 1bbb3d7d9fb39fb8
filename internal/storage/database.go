package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Ananth-NQI/rel8-backend/internal/models"
)

// DatabaseStore implements Store on top of gorm.
type DatabaseStore struct {
	db *gorm.DB
}

// NewDatabaseStore wraps an open gorm connection.
func NewDatabaseStore(db *gorm.DB) *DatabaseStore {
	return &DatabaseStore{db: db}
}

func (s *DatabaseStore) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Preload("Predictor").
		Preload("Outcome").
		Preload("Interval").
		Where("phone_number = ?", phone).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by phone: %w", err)
	}
	return &user, nil
}

func (s *DatabaseStore) CreateUser(ctx context.Context, user *models.User) error {
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(user).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// SetVariables upserts the user's predictor, outcome and interval rows.
func (s *DatabaseStore) SetVariables(ctx context.Context, userID string, vars Variables, now time.Time) error {
	return s.Transaction(ctx, func(tx Store) error {
		db := tx.(*DatabaseStore).db.WithContext(ctx)

		predictor := &models.Predictor{UserID: userID, Name: vars.Predictor, CreatedAt: now, UpdatedAt: now}
		if err := db.Clauses(upsertOnUser("name")).Create(predictor).Error; err != nil {
			return fmt.Errorf("upsert predictor: %w", err)
		}

		outcome := &models.Outcome{UserID: userID, Name: vars.Outcome, CreatedAt: now, UpdatedAt: now}
		if err := db.Clauses(upsertOnUser("name")).Create(outcome).Error; err != nil {
			return fmt.Errorf("upsert outcome: %w", err)
		}

		interval := &models.Interval{UserID: userID, Duration: vars.IntervalHours, CreatedAt: now, UpdatedAt: now}
		if err := db.Clauses(upsertOnUser("duration")).Create(interval).Error; err != nil {
			return fmt.Errorf("upsert interval: %w", err)
		}
		return nil
	})
}

func upsertOnUser(columns ...string) clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns(append(columns, "updated_at")),
	}
}

// LatestSession returns the user's most recently updated session, or nil
// when the user has none.
func (s *DatabaseStore) LatestSession(ctx context.Context, userID string) (*models.Session, error) {
	var sessions []*models.Session
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Order("created_at DESC").
		Limit(1).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("latest session: %w", err)
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return sessions[0], nil
}

func (s *DatabaseStore) CreateSession(ctx context.Context, userID string, now time.Time) (*models.Session, error) {
	session := &models.Session{UserID: userID, CreatedAt: now, UpdatedAt: now}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

func (s *DatabaseStore) CompleteSession(ctx context.Context, sessionID string, now time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ?", sessionID).
		UpdateColumns(map[string]interface{}{"complete": true, "updated_at": now})
	if result.Error != nil {
		return fmt.Errorf("complete session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("complete session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

// ListSessions returns the user's sessions newest first, each with its
// responses in the order they were received.
func (s *DatabaseStore) ListSessions(ctx context.Context, userID string) ([]*models.Session, error) {
	var sessions []*models.Session
	err := s.db.WithContext(ctx).
		Preload("Responses", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

func (s *DatabaseStore) CreateResponse(ctx context.Context, in NewResponse) (*models.Response, error) {
	resp, err := in.build()
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(resp).Error; err != nil {
		return nil, fmt.Errorf("create response: %w", err)
	}
	return resp, nil
}

func (s *DatabaseStore) ResponseExists(ctx context.Context, messageSID string) (bool, error) {
	if messageSID == "" {
		return false, nil
	}
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Response{}).
		Where("message_sid = ?", messageSID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("lookup response by message sid: %w", err)
	}
	return count > 0, nil
}

func (s *DatabaseStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&DatabaseStore{db: tx})
	})
}

func (s *DatabaseStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *DatabaseStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
