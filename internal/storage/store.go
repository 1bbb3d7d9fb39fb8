package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Ananth-NQI/rel8-backend/internal/models"
)

// ErrNotFound is returned when a record a caller asked for does not exist.
var ErrNotFound = errors.New("record not found")

// ResponseKind says which keyword a Response records.
type ResponseKind int

const (
	ResponsePredictor ResponseKind = iota + 1
	ResponseOutcome
)

func (k ResponseKind) String() string {
	switch k {
	case ResponsePredictor:
		return "predictor"
	case ResponseOutcome:
		return "outcome"
	default:
		return "unknown"
	}
}

// NewResponse is the input to CreateResponse. KeywordID is the ID of the
// user's Predictor or Outcome, depending on Kind.
type NewResponse struct {
	SessionID  string
	UserID     string
	Kind       ResponseKind
	KeywordID  string
	Message    string
	MessageSID string
	CreatedAt  time.Time
}

func (in NewResponse) build() (*models.Response, error) {
	if in.SessionID == "" || in.UserID == "" || in.KeywordID == "" {
		return nil, errors.New("response requires session, user and keyword ids")
	}
	resp := &models.Response{
		SessionID:  in.SessionID,
		UserID:     in.UserID,
		Message:    in.Message,
		MessageSID: in.MessageSID,
		CreatedAt:  in.CreatedAt,
		UpdatedAt:  in.CreatedAt,
	}
	keywordID := in.KeywordID
	switch in.Kind {
	case ResponsePredictor:
		resp.PredictorID = &keywordID
	case ResponseOutcome:
		resp.OutcomeID = &keywordID
	default:
		return nil, fmt.Errorf("unknown response kind %d", in.Kind)
	}
	return resp, nil
}

// Variables is a user's tracking configuration.
type Variables struct {
	Predictor     string
	Outcome       string
	IntervalHours int
}

// Store defines the persistence operations used by the message service and
// the admin API.
type Store interface {
	// User operations
	GetUserByPhone(ctx context.Context, phone string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	SetVariables(ctx context.Context, userID string, vars Variables, now time.Time) error

	// Session operations
	LatestSession(ctx context.Context, userID string) (*models.Session, error)
	CreateSession(ctx context.Context, userID string, now time.Time) (*models.Session, error)
	CompleteSession(ctx context.Context, sessionID string, now time.Time) error
	ListSessions(ctx context.Context, userID string) ([]*models.Session, error)

	// Response operations
	CreateResponse(ctx context.Context, in NewResponse) (*models.Response, error)
	ResponseExists(ctx context.Context, messageSID string) (bool, error)

	// Transaction runs fn against a Store whose writes are committed
	// together, or not at all when fn returns an error.
	Transaction(ctx context.Context, fn func(tx Store) error) error

	Ping(ctx context.Context) error
	Close() error
}
