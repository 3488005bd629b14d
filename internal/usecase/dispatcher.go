package usecase

import (
	"context"
	"errors"
	"time"

	"persona-relay/internal/domain"
	logx "persona-relay/pkg/logger"
)

const startCommand = "start"

type PersonaStore interface {
	Get(conversationID int64) (domain.PersonaTag, bool)
	Set(conversationID int64, tag domain.PersonaTag)
}

type Completer interface {
	Complete(ctx context.Context, systemPrompt, userText string) domain.CompletionOutcome
}

type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendPersonaPicker(ctx context.Context, chatID int64, text string, personas []domain.Persona) error
	AnswerCallback(ctx context.Context, callbackID string) error
	SendTyping(ctx context.Context, chatID int64) error
}

// TurnJournal records completed turns. Failures never reach the user.
type TurnJournal interface {
	RecordTurn(ctx context.Context, turn domain.Turn) error
}

type correlationKey struct{}

// WithCorrelationID attaches the id that ties one update's log lines and
// journal entry together.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func correlationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// Dispatcher is the per-conversation state machine. A conversation without a
// stored persona is awaiting selection; a callback selects or replaces the
// persona; text is forwarded to the completer only once a persona is set.
//
// Callers must serialize Dispatch calls for the same conversation.
type Dispatcher struct {
	store     PersonaStore
	completer Completer
	messenger Messenger
	journal   TurnJournal
	personas  *Catalog
	now       func() time.Time
}

type DispatcherOption func(*Dispatcher)

// WithJournal enables best-effort recording of completion turns.
func WithJournal(j TurnJournal) DispatcherOption {
	return func(d *Dispatcher) {
		d.journal = j
	}
}

func WithCatalog(c *Catalog) DispatcherOption {
	return func(d *Dispatcher) {
		if c != nil {
			d.personas = c
		}
	}
}

func NewDispatcher(store PersonaStore, completer Completer, messenger Messenger, opts ...DispatcherOption) (*Dispatcher, error) {
	if store == nil {
		return nil, errors.New("usecase: persona store must not be nil")
	}
	if completer == nil {
		return nil, errors.New("usecase: completer must not be nil")
	}
	if messenger == nil {
		return nil, errors.New("usecase: messenger must not be nil")
	}
	d := &Dispatcher{
		store:     store,
		completer: completer,
		messenger: messenger,
		personas:  DefaultCatalog(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Dispatch handles one decoded update to completion, including every
// outbound message it causes.
func (d *Dispatcher) Dispatch(ctx context.Context, u domain.Update) error {
	if !u.Routable() {
		return newError(ErrorUnsupportedUpdate, "unroutable_update", nil)
	}
	switch u.Kind {
	case domain.UpdateCommand:
		return d.handleCommand(ctx, u)
	case domain.UpdateCallback:
		return d.handleCallback(ctx, u)
	case domain.UpdateText:
		return d.handleText(ctx, u)
	default:
		return newError(ErrorUnsupportedUpdate, "unknown_kind", nil)
	}
}

func (d *Dispatcher) handleCommand(ctx context.Context, u domain.Update) error {
	if u.Command != startCommand {
		return newError(ErrorUnsupportedUpdate, "unknown_command", nil)
	}
	if err := d.messenger.SendPersonaPicker(ctx, u.ConversationID, greetingText, d.personas.All()); err != nil {
		return newError(ErrorDelivery, "send_picker", err)
	}
	return nil
}

func (d *Dispatcher) handleCallback(ctx context.Context, u domain.Update) error {
	log := logx.FromContext(ctx)

	// The button press is acknowledged even when its data is unusable so the
	// client stops showing a spinner.
	if err := d.messenger.AnswerCallback(ctx, u.CallbackID); err != nil {
		log.Warn().Err(err).Str("callback_id", u.CallbackID).Msg("answer callback failed")
	}

	tag, err := domain.PersonaFromCallbackData(u.CallbackData)
	if err != nil {
		return newError(ErrorUnknownPersona, "parse_callback_data", err)
	}
	persona, ok := d.personas.Lookup(tag)
	if !ok {
		return newError(ErrorUnknownPersona, "persona_not_in_catalog", nil)
	}

	d.store.Set(u.ConversationID, persona.Tag)
	log.Info().Str("persona", string(persona.Tag)).Msg("persona selected")

	if err := d.messenger.SendText(ctx, u.ConversationID, selectedText(persona)); err != nil {
		return newError(ErrorDelivery, "send_confirmation", err)
	}
	return nil
}

func (d *Dispatcher) handleText(ctx context.Context, u domain.Update) error {
	log := logx.FromContext(ctx)

	tag, ok := d.store.Get(u.ConversationID)
	if !ok {
		if err := d.messenger.SendPersonaPicker(ctx, u.ConversationID, pickFirstText, d.personas.All()); err != nil {
			return newError(ErrorDelivery, "send_picker", err)
		}
		return nil
	}
	persona, ok := d.personas.Lookup(tag)
	if !ok {
		return newError(ErrorInternal, "stored_persona_not_in_catalog", nil)
	}

	if err := d.messenger.SendTyping(ctx, u.ConversationID); err != nil {
		log.Debug().Err(err).Msg("send typing failed")
	}

	started := d.now()
	outcome := d.completer.Complete(ctx, persona.SystemPrompt, u.Text)
	event := log.Info()
	if outcome.Kind != domain.OutcomeSuccess {
		event = log.Warn().Str("detail", outcome.Detail).Bool("retryable", outcome.Retryable())
	}
	event.
		Str("persona", string(persona.Tag)).
		Stringer("outcome", outcome.Kind).
		Int("status_code", outcome.StatusCode).
		Dur("latency", d.now().Sub(started)).
		Msg("completion finished")

	reply := ReplyFor(outcome)
	sendErr := d.messenger.SendText(ctx, u.ConversationID, reply)

	d.record(ctx, domain.Turn{
		ConversationID: u.ConversationID,
		Persona:        persona.Tag,
		UserText:       u.Text,
		Outcome:        outcome.Kind,
		StatusCode:     outcome.StatusCode,
		Reply:          reply,
		CorrelationID:  correlationID(ctx),
		At:             started,
	})

	if sendErr != nil {
		return newError(ErrorDelivery, "send_reply", sendErr)
	}
	return nil
}

func (d *Dispatcher) record(ctx context.Context, turn domain.Turn) {
	if d.journal == nil {
		return
	}
	if err := d.journal.RecordTurn(ctx, turn); err != nil {
		logx.FromContext(ctx).Warn().Err(err).Msg("record turn failed")
	}
}
