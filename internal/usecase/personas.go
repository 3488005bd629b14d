package usecase

import (
	"net/http"
	"strings"

	"persona-relay/internal/domain"
)

const (
	greetingText       = "Hi! Pick a topic and then ask me anything about it."
	pickFirstText      = "Please pick a topic first, then send your question again."
	emptyReplyText     = "The model returned an empty answer. Try rephrasing your question."
	authFailedText     = "The assistant is not authorized with the language model service right now. Please try again later."
	rateLimitedText    = "Too many requests right now. Wait a minute and try again."
	timeoutText        = "The model took too long to answer. Please try again."
	unreachableText    = "Could not reach the language model service. Please try again later."
	malformedReplyText = "The model sent back an answer I could not read. Please try again."
	remoteFailureText  = "The language model service returned an error. Please try again later."
)

// Catalog is the fixed, ordered set of personas a conversation can select.
type Catalog struct {
	ordered []domain.Persona
	byTag   map[domain.PersonaTag]domain.Persona
}

func NewCatalog(personas ...domain.Persona) *Catalog {
	c := &Catalog{byTag: make(map[domain.PersonaTag]domain.Persona, len(personas))}
	for _, p := range personas {
		if _, dup := c.byTag[p.Tag]; dup {
			continue
		}
		c.ordered = append(c.ordered, p)
		c.byTag[p.Tag] = p
	}
	return c
}

// DefaultCatalog returns the four built-in personas in display order.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		domain.Persona{
			Tag:   domain.PersonaExplain,
			Label: "🧠 Explain it simply",
			SystemPrompt: strings.Join([]string{
				"You explain complicated things in plain words.",
				"Use short sentences, everyday analogies and at most one example.",
				"Avoid jargon; if a term is unavoidable, define it in one line.",
			}, "\n"),
		},
		domain.Persona{
			Tag:   domain.PersonaEmotionalSupport,
			Label: "💬 Emotional support",
			SystemPrompt: strings.Join([]string{
				"You are a warm, patient listener.",
				"Acknowledge the person's feelings before offering any suggestion.",
				"Do not diagnose. If the person mentions self-harm, encourage them to contact local emergency services or a crisis line.",
			}, "\n"),
		},
		domain.Persona{
			Tag:   domain.PersonaParenting,
			Label: "👶 Parenting advice",
			SystemPrompt: strings.Join([]string{
				"You give practical, age-appropriate parenting advice.",
				"Ask for the child's age when it matters and it was not given.",
				"Prefer concrete steps the parent can try today.",
			}, "\n"),
		},
		domain.Persona{
			Tag:   domain.PersonaEthics,
			Label: "⚖️ Ethics and dilemmas",
			SystemPrompt: strings.Join([]string{
				"You help people think through moral dilemmas.",
				"Lay out the strongest considerations on each side before giving your own view.",
				"Be honest about uncertainty and do not moralize.",
			}, "\n"),
		},
	)
}

// All returns the personas in display order.
func (c *Catalog) All() []domain.Persona {
	out := make([]domain.Persona, len(c.ordered))
	copy(out, c.ordered)
	return out
}

func (c *Catalog) Lookup(tag domain.PersonaTag) (domain.Persona, bool) {
	p, ok := c.byTag[tag]
	return p, ok
}

func selectedText(p domain.Persona) string {
	return "Topic selected: " + p.Label + ". Now send me your question."
}

// ReplyFor turns a completion outcome into the text sent back to the chat.
// Failure texts never include remote error details.
func ReplyFor(o domain.CompletionOutcome) string {
	switch o.Kind {
	case domain.OutcomeSuccess:
		if strings.TrimSpace(o.Reply) == "" {
			return emptyReplyText
		}
		return o.Reply
	case domain.OutcomeRemoteError:
		switch o.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return authFailedText
		case http.StatusTooManyRequests:
			return rateLimitedText
		default:
			return remoteFailureText
		}
	case domain.OutcomeTimeout:
		return timeoutText
	case domain.OutcomeConnectionFailure:
		return unreachableText
	case domain.OutcomeMalformedResponse:
		return malformedReplyText
	default:
		return remoteFailureText
	}
}
