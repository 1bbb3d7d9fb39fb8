package models

// Conversation is the enrollment dialogue state for a sender that has no
// User yet. It is kept in the conversation store, keyed by phone number.
type Conversation struct {
	Counter          int  `json:"counter"`
	ConsentRequested bool `json:"consent_requested"`
	Consent          bool `json:"consent"`
	NameRequested    bool `json:"name_requested"`

	// LastMessageSID is the provider id of the last message applied, used
	// to drop webhook redeliveries.
	LastMessageSID string `json:"last_message_sid,omitempty"`
}

// IsZero reports whether nothing has been stored for the sender.
func (c Conversation) IsZero() bool {
	return c == Conversation{}
}
