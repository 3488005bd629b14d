package domain

import "time"

// Turn records one completed completion round trip for the journal.
type Turn struct {
	ConversationID int64
	Persona        PersonaTag
	UserText       string
	Outcome        OutcomeKind
	StatusCode     int
	Reply          string
	CorrelationID  string
	At             time.Time
}
