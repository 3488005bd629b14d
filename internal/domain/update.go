package domain

// UpdateKind discriminates the variants of Update.
type UpdateKind int

const (
	// UpdateUnsupported is any well-formed payload the relay does not act on.
	UpdateUnsupported UpdateKind = iota
	UpdateCommand
	UpdateCallback
	UpdateText
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateCommand:
		return "command"
	case UpdateCallback:
		return "callback"
	case UpdateText:
		return "text"
	default:
		return "unsupported"
	}
}

// Update is one decoded inbound platform update. Which fields are set
// depends on Kind:
//
//	UpdateCommand:  ConversationID, Command (without the leading slash)
//	UpdateCallback: ConversationID, CallbackID, CallbackData
//	UpdateText:     ConversationID, Text
type Update struct {
	ID             int64
	Kind           UpdateKind
	ConversationID int64

	Command      string
	CallbackID   string
	CallbackData string
	Text         string
}

// Routable reports whether the update is bound to a conversation and can be
// scheduled on its lane.
func (u Update) Routable() bool {
	return u.Kind != UpdateUnsupported && u.ConversationID != 0
}
