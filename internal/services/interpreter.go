package services

import (
	"fmt"
	"time"

	"github.com/Ananth-NQI/rel8-backend/internal/models"
	"github.com/Ananth-NQI/rel8-backend/internal/storage"
)

// Action is what a Decision does with the user's sessions.
type Action int

const (
	ActionNoOp Action = iota
	ActionStartSession
	ActionRecordOutcome
	ActionReject
)

func (a Action) String() string {
	switch a {
	case ActionStartSession:
		return "start_session"
	case ActionRecordOutcome:
		return "record_outcome"
	case ActionReject:
		return "reject"
	default:
		return "noop"
	}
}

// Reason explains a rejection. Rejections are replies to the sender, not
// errors.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonConfigurationMissing
	ReasonKeywordMismatch
	ReasonSequenceViolation
	ReasonExpiryForced
)

func (r Reason) String() string {
	switch r {
	case ReasonConfigurationMissing:
		return "configuration_missing"
	case ReasonKeywordMismatch:
		return "keyword_mismatch"
	case ReasonSequenceViolation:
		return "sequence_violation"
	case ReasonExpiryForced:
		return "expiry_forced"
	default:
		return "none"
	}
}

type EffectKind int

const (
	EffectCloseSession EffectKind = iota + 1
	EffectCreateSession
	EffectCreateResponse
)

// Effect is one storage mutation requested by a Decision. Effects are
// applied in order inside a single transaction.
type Effect struct {
	Kind EffectKind

	// SessionID names the existing session to close or to attach a
	// response to. For a response with InNewSession set it is empty and the
	// session created by the preceding EffectCreateSession is used.
	SessionID    string
	InNewSession bool

	Response storage.ResponseKind
}

// Decision is the outcome of interpreting one message.
type Decision struct {
	Action  Action
	Reason  Reason
	Reply   string // empty means no reply
	Effects []Effect
}

// UserConfig is the part of a User the interpreter reads.
type UserConfig struct {
	Username         string
	PredictorKeyword string
	OutcomeKeyword   string
	IntervalHours    int
}

// Configured reports whether every variable needed to track sessions is set.
func (c UserConfig) Configured() bool {
	return c.PredictorKeyword != "" && c.OutcomeKeyword != "" && c.IntervalHours > 0
}

func UserConfigFrom(user *models.User) UserConfig {
	return UserConfig{
		Username:         user.Username,
		PredictorKeyword: models.NormalizeKeyword(user.PredictorKeyword()),
		OutcomeKeyword:   models.NormalizeKeyword(user.OutcomeKeyword()),
		IntervalHours:    user.IntervalHours(),
	}
}

// SessionSnapshot is a copy of the user's latest session.
type SessionSnapshot struct {
	ID        string
	CreatedAt time.Time
	Complete  bool
}

func SessionSnapshotFrom(session *models.Session) *SessionSnapshot {
	if session == nil {
		return nil
	}
	return &SessionSnapshot{ID: session.ID, CreatedAt: session.CreatedAt, Complete: session.Complete}
}

func (s *SessionSnapshot) expired(now time.Time, intervalHours int) bool {
	session := models.Session{CreatedAt: s.CreatedAt, Complete: s.Complete}
	return session.IsExpired(now, intervalHours)
}

// Snapshot is everything Decide looks at. Latest is nil when the user has
// never started a session.
type Snapshot struct {
	User    UserConfig
	Latest  *SessionSnapshot
	Message string
	Now     time.Time
}

const replyKeywordMismatch = "That does not match your variables. Try again."

// Interpreter turns a message from a known user into a Decision. It has no
// side effects.
type Interpreter struct {
	siteURL string
}

func NewInterpreter(siteURL string) *Interpreter {
	return &Interpreter{siteURL: siteURL}
}

func (in *Interpreter) Decide(s Snapshot) Decision {
	text := models.NormalizeKeyword(s.Message)
	cfg := s.User

	if !cfg.Configured() {
		return Decision{
			Action: ActionReject,
			Reason: ReasonConfigurationMissing,
			Reply:  fmt.Sprintf("Hi %s. You need to set up your variables first: %s", cfg.Username, in.siteURL),
		}
	}

	isPredictor := text == cfg.PredictorKeyword
	isOutcome := text == cfg.OutcomeKeyword
	if !isPredictor && !isOutcome {
		return Decision{Action: ActionReject, Reason: ReasonKeywordMismatch, Reply: replyKeywordMismatch}
	}

	latest := s.Latest
	open := latest != nil && !latest.Complete
	expired := open && latest.expired(s.Now, cfg.IntervalHours)

	// Predictor is checked first so it wins when both keywords are the same.
	if isPredictor {
		if open && !expired {
			return Decision{
				Action: ActionReject,
				Reason: ReasonSequenceViolation,
				Reply:  "we were expecting outcome: " + cfg.OutcomeKeyword,
			}
		}

		var effects []Effect
		if expired {
			effects = append(effects, Effect{Kind: EffectCloseSession, SessionID: latest.ID})
		}
		effects = append(effects,
			Effect{Kind: EffectCreateSession},
			Effect{Kind: EffectCreateResponse, InNewSession: true, Response: storage.ResponsePredictor},
		)
		return Decision{Action: ActionStartSession, Effects: effects}
	}

	expectPredictor := "we were expecting predictor: " + cfg.PredictorKeyword
	switch {
	case !open:
		return Decision{Action: ActionReject, Reason: ReasonSequenceViolation, Reply: expectPredictor}
	case expired:
		return Decision{
			Action:  ActionReject,
			Reason:  ReasonExpiryForced,
			Reply:   expectPredictor,
			Effects: []Effect{{Kind: EffectCloseSession, SessionID: latest.ID}},
		}
	default:
		return Decision{
			Action: ActionRecordOutcome,
			Effects: []Effect{
				{Kind: EffectCreateResponse, SessionID: latest.ID, Response: storage.ResponseOutcome},
				{Kind: EffectCloseSession, SessionID: latest.ID},
			},
		}
	}
}
