package services

import (
	"fmt"
	"strings"

	"github.com/Ananth-NQI/rel8-backend/internal/models"
)

// Enrollment replies
const (
	ReplyEnrollQuestion = "Would you like to enroll? [Yes, No]"
	ReplyAskName        = "What's your name?"
	ReplyDeclined       = "Sorry to hear that. Bye."
	ReplyCleared        = "Session cleared"
)

type EnrollmentEffectKind int

const (
	EnrollmentNone EnrollmentEffectKind = iota
	// EnrollmentReset drops the stored conversation.
	EnrollmentReset
	// EnrollmentCreateUser asks the caller to create a User named Username.
	EnrollmentCreateUser
)

type EnrollmentEffect struct {
	Kind     EnrollmentEffectKind
	Username string
}

// Enrollment walks an unknown sender through consent and name capture.
type Enrollment struct {
	siteURL string
}

func NewEnrollment(siteURL string) *Enrollment {
	return &Enrollment{siteURL: siteURL}
}

// Step advances the conversation by one inbound message. The reply for
// EnrollmentCreateUser is left empty: it needs the access code, which the
// caller builds with WelcomeMessage once the user exists.
func (e *Enrollment) Step(state models.Conversation, text string) (models.Conversation, string, EnrollmentEffect) {
	state.Counter++
	answer := strings.ToLower(strings.TrimSpace(text))

	if answer == "clear" {
		return models.Conversation{}, ReplyCleared, EnrollmentEffect{Kind: EnrollmentReset}
	}

	switch {
	case state.NameRequested:
		name := strings.TrimSpace(text)
		if name == "" {
			return state, ReplyAskName, EnrollmentEffect{}
		}
		return state, "", EnrollmentEffect{Kind: EnrollmentCreateUser, Username: name}

	case state.ConsentRequested:
		switch answer {
		case "yes":
			state.Consent = true
			state.NameRequested = true
			return state, ReplyAskName, EnrollmentEffect{}
		case "no":
			return models.Conversation{}, ReplyDeclined, EnrollmentEffect{Kind: EnrollmentReset}
		default:
			return state, ReplyEnrollQuestion, EnrollmentEffect{}
		}

	default:
		state.ConsentRequested = true
		return state, ReplyEnrollQuestion, EnrollmentEffect{}
	}
}

func (e *Enrollment) WelcomeMessage(name, accessCode string) string {
	return fmt.Sprintf("Welcome %s! Please go to %s/register/?access-code=%s", name, e.siteURL, accessCode)
}
