package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Ananth-NQI/rel8-backend/internal/models"
	"github.com/Ananth-NQI/rel8-backend/internal/storage"
	"github.com/Ananth-NQI/rel8-backend/internal/utils"
)

var (
	ErrInvalidPhone     = errors.New("invalid phone number")
	ErrInvalidVariables = errors.New("invalid variables")
)

// InboundMessage is one SMS as delivered by the provider webhook.
type InboundMessage struct {
	From       string
	Body       string
	MessageSID string
}

// MessageServiceOptions wires a MessageService. Store and Conversations are
// required; the rest fall back to in-process defaults.
type MessageServiceOptions struct {
	Store         storage.Store
	Conversations storage.ConversationStore
	Locker        storage.Locker
	Clock         Clock
	Sender        Sender // optional, used for variable confirmations
	Logger        *zap.Logger
	SiteURL       string
	DefaultRegion string

	// AccessCodes generates enrollment access codes. Defaults to
	// utils.GenerateAccessCode.
	AccessCodes func() (string, error)
}

// MessageService handles inbound SMS: enrollment for unknown senders and
// session tracking for known users.
type MessageService struct {
	store         storage.Store
	conversations storage.ConversationStore
	locker        storage.Locker
	clock         Clock
	sender        Sender
	logger        *zap.Logger
	region        string
	interpreter   *Interpreter
	enrollment    *Enrollment
	accessCodes   func() (string, error)
}

func NewMessageService(opts MessageServiceOptions) *MessageService {
	s := &MessageService{
		store:         opts.Store,
		conversations: opts.Conversations,
		locker:        opts.Locker,
		clock:         opts.Clock,
		sender:        opts.Sender,
		logger:        opts.Logger,
		region:        opts.DefaultRegion,
		interpreter:   NewInterpreter(opts.SiteURL),
		enrollment:    NewEnrollment(opts.SiteURL),
		accessCodes:   opts.AccessCodes,
	}
	if s.locker == nil {
		s.locker = storage.NewKeyedMutex()
	}
	if s.clock == nil {
		s.clock = SystemClock{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.region == "" {
		s.region = "US"
	}
	if s.accessCodes == nil {
		s.accessCodes = utils.GenerateAccessCode
	}
	return s
}

// ProcessMessage handles one inbound message and returns the reply text,
// which is empty when the sender should get no reply. Messages from the
// same sender are processed one at a time.
func (s *MessageService) ProcessMessage(ctx context.Context, msg InboundMessage) (string, error) {
	phone, err := s.normalizePhone(msg.From)
	if err != nil {
		return "", err
	}

	unlock, err := s.locker.Lock(ctx, phone)
	if err != nil {
		return "", fmt.Errorf("lock sender %s: %w", phone, err)
	}
	defer unlock()

	user, err := s.store.GetUserByPhone(ctx, phone)
	if errors.Is(err, storage.ErrNotFound) {
		return s.enroll(ctx, phone, msg)
	}
	if err != nil {
		return "", fmt.Errorf("load user %s: %w", phone, err)
	}
	return s.track(ctx, user, msg)
}

func (s *MessageService) enroll(ctx context.Context, phone string, msg InboundMessage) (string, error) {
	state, err := s.conversations.Get(ctx, phone)
	if err != nil {
		return "", fmt.Errorf("load conversation: %w", err)
	}
	if msg.MessageSID != "" && msg.MessageSID == state.LastMessageSID {
		s.logger.Info("duplicate delivery ignored", zap.String("message_sid", msg.MessageSID))
		return "", nil
	}

	next, reply, effect := s.enrollment.Step(state, msg.Body)
	next.LastMessageSID = msg.MessageSID

	switch effect.Kind {
	case EnrollmentReset:
		// Keep only the sid so a redelivered reset is still recognized.
		if msg.MessageSID != "" {
			err = s.conversations.Save(ctx, phone, models.Conversation{LastMessageSID: msg.MessageSID})
		} else {
			err = s.conversations.Clear(ctx, phone)
		}
		if err != nil {
			return "", fmt.Errorf("reset conversation: %w", err)
		}
		s.logger.Info("enrollment reset", zap.String("phone", phone), zap.Int("counter", next.Counter))

	case EnrollmentCreateUser:
		code, err := s.accessCodes()
		if err != nil {
			return "", err
		}
		now := s.clock.Now()
		user := &models.User{
			Username:    effect.Username,
			PhoneNumber: phone,
			AccessCode:  code,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.store.CreateUser(ctx, user); err != nil {
			return "", fmt.Errorf("create user: %w", err)
		}
		// The user now exists, so later messages never reach enrollment
		// even if the stale conversation lingers until its TTL.
		if err := s.conversations.Clear(ctx, phone); err != nil {
			s.logger.Warn("failed to clear conversation after enrollment", zap.String("phone", phone), zap.Error(err))
		}
		s.logger.Info("user enrolled", zap.String("phone", phone), zap.String("user_id", user.ID))
		reply = s.enrollment.WelcomeMessage(user.Username, code)

	default:
		if err := s.conversations.Save(ctx, phone, next); err != nil {
			return "", fmt.Errorf("save conversation: %w", err)
		}
	}

	return reply, nil
}

func (s *MessageService) track(ctx context.Context, user *models.User, msg InboundMessage) (string, error) {
	if msg.MessageSID != "" {
		seen, err := s.store.ResponseExists(ctx, msg.MessageSID)
		if err != nil {
			return "", fmt.Errorf("check message %s: %w", msg.MessageSID, err)
		}
		if seen {
			s.logger.Info("duplicate delivery ignored", zap.String("message_sid", msg.MessageSID))
			return "", nil
		}
	}

	latest, err := s.store.LatestSession(ctx, user.ID)
	if err != nil {
		return "", fmt.Errorf("load latest session: %w", err)
	}

	now := s.clock.Now()
	decision := s.interpreter.Decide(Snapshot{
		User:    UserConfigFrom(user),
		Latest:  SessionSnapshotFrom(latest),
		Message: msg.Body,
		Now:     now,
	})

	if len(decision.Effects) > 0 {
		err := s.store.Transaction(ctx, func(tx storage.Store) error {
			return applyEffects(ctx, tx, user, msg, decision.Effects, now)
		})
		if err != nil {
			return "", fmt.Errorf("apply %s decision: %w", decision.Action, err)
		}
	}

	s.logger.Info("message processed",
		zap.String("user_id", user.ID),
		zap.String("body", trimBody(msg.Body)),
		zap.Stringer("action", decision.Action),
		zap.Stringer("reason", decision.Reason),
		zap.Int("effects", len(decision.Effects)),
	)
	return decision.Reply, nil
}

func applyEffects(ctx context.Context, tx storage.Store, user *models.User, msg InboundMessage, effects []Effect, now time.Time) error {
	var created *models.Session

	for _, effect := range effects {
		switch effect.Kind {
		case EffectCloseSession:
			if err := tx.CompleteSession(ctx, effect.SessionID, now); err != nil {
				return err
			}

		case EffectCreateSession:
			session, err := tx.CreateSession(ctx, user.ID, now)
			if err != nil {
				return err
			}
			created = session

		case EffectCreateResponse:
			sessionID := effect.SessionID
			if effect.InNewSession {
				if created == nil {
					return errors.New("response refers to a session that was not created")
				}
				sessionID = created.ID
			}

			var keywordID string
			switch effect.Response {
			case storage.ResponsePredictor:
				keywordID = user.Predictor.ID
			case storage.ResponseOutcome:
				keywordID = user.Outcome.ID
			}

			_, err := tx.CreateResponse(ctx, storage.NewResponse{
				SessionID:  sessionID,
				UserID:     user.ID,
				Kind:       effect.Response,
				KeywordID:  keywordID,
				Message:    strings.TrimSpace(msg.Body),
				MessageSID: msg.MessageSID,
				CreatedAt:  now,
			})
			if err != nil {
				return err
			}

		default:
			return fmt.Errorf("unknown effect kind %d", effect.Kind)
		}
	}
	return nil
}

// SetVariables validates and stores a user's tracking configuration and
// returns the updated user. When a Sender is configured the user also gets
// an SMS confirmation.
func (s *MessageService) SetVariables(ctx context.Context, phone string, vars storage.Variables) (*models.User, error) {
	phone, err := s.normalizePhone(phone)
	if err != nil {
		return nil, err
	}

	vars.Predictor = models.NormalizeKeyword(vars.Predictor)
	vars.Outcome = models.NormalizeKeyword(vars.Outcome)
	switch {
	case vars.Predictor == "" || vars.Outcome == "":
		return nil, fmt.Errorf("%w: predictor and outcome are required", ErrInvalidVariables)
	case vars.IntervalHours <= 0:
		return nil, fmt.Errorf("%w: interval must be a positive number of hours", ErrInvalidVariables)
	}

	unlock, err := s.locker.Lock(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("lock sender %s: %w", phone, err)
	}
	defer unlock()

	user, err := s.store.GetUserByPhone(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", phone, err)
	}
	if err := s.store.SetVariables(ctx, user.ID, vars, s.clock.Now()); err != nil {
		return nil, fmt.Errorf("set variables: %w", err)
	}
	user, err = s.store.GetUserByPhone(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("reload user %s: %w", phone, err)
	}

	s.logger.Info("variables updated",
		zap.String("user_id", user.ID),
		zap.String("predictor", vars.Predictor),
		zap.String("outcome", vars.Outcome),
		zap.Int("interval_hours", vars.IntervalHours),
	)

	if s.sender != nil {
		body := fmt.Sprintf("Variables added. Text %q to start and %q within %d hours to finish.",
			vars.Predictor, vars.Outcome, vars.IntervalHours)
		if err := s.sender.SendSMS(phone, body); err != nil {
			s.logger.Warn("variables confirmation not sent", zap.String("phone", phone), zap.Error(err))
		}
	}
	return user, nil
}

// SessionHistory is a session with the timing derived from its responses.
type SessionHistory struct {
	*models.Session
	PredictorAt    *time.Time `json:"predictor_at,omitempty"`
	OutcomeAt      *time.Time `json:"outcome_at,omitempty"`
	ElapsedSeconds *int64     `json:"elapsed_seconds,omitempty"`
}

// Elapsed returns the time from predictor to outcome, if both were recorded.
func (h SessionHistory) Elapsed() (time.Duration, bool) {
	if h.PredictorAt == nil || h.OutcomeAt == nil {
		return 0, false
	}
	return h.OutcomeAt.Sub(*h.PredictorAt), true
}

// History returns a user's sessions, newest first.
func (s *MessageService) History(ctx context.Context, phone string) ([]SessionHistory, error) {
	phone, err := s.normalizePhone(phone)
	if err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByPhone(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", phone, err)
	}
	sessions, err := s.store.ListSessions(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	history := make([]SessionHistory, 0, len(sessions))
	for _, session := range sessions {
		entry := SessionHistory{Session: session}
		for i := range session.Responses {
			resp := &session.Responses[i]
			at := resp.CreatedAt
			switch {
			case resp.IsPredictor() && entry.PredictorAt == nil:
				entry.PredictorAt = &at
			case resp.IsOutcome() && entry.OutcomeAt == nil:
				entry.OutcomeAt = &at
			}
		}
		if elapsed, ok := entry.Elapsed(); ok {
			secs := int64(elapsed / time.Second)
			entry.ElapsedSeconds = &secs
		}
		history = append(history, entry)
	}
	return history, nil
}

func (s *MessageService) normalizePhone(raw string) (string, error) {
	phone, err := utils.NormalizePhone(raw, s.region)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPhone, err)
	}
	return phone, nil
}

// Ping reports whether the store is reachable.
func (s *MessageService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// trimBody shortens message text for log fields.
func trimBody(body string) string {
	body = strings.TrimSpace(body)
	if utf8.RuneCountInString(body) <= 20 {
		return body
	}
	runes := []rune(body)
	return string(runes[:20]) + "..."
}
