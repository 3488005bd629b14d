// Package handler is the synchronous HTTP boundary of the relay. Webhook
// deliveries are decoded and handed to the worker pool before the platform
// is acknowledged; processing never happens on the request goroutine.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	errx "persona-relay/internal/core/error"
	"persona-relay/internal/domain"
	"persona-relay/internal/integrations/telegram"
	"persona-relay/internal/usecase"
	"persona-relay/internal/worker"
	logx "persona-relay/pkg/logger"
)

const (
	correlationHeader = "X-Correlation-Id"
	maxUpdateBytes    = 1 << 20
)

type Dispatcher interface {
	Dispatch(ctx context.Context, u domain.Update) error
}

type Scheduler interface {
	Submit(key int64, task worker.Task) error
	InFlight() int64
}

// Deduplicator remembers accepted update ids so platform redeliveries are
// acknowledged without being processed twice.
type Deduplicator interface {
	Accept(ctx context.Context, id int64) (bool, error)
	Forget(ctx context.Context, id int64) error
}

type WebhookAdmin interface {
	RegisterWebhook(ctx context.Context, url string) error
	WebhookInfo(ctx context.Context) (telegram.WebhookInfo, error)
}

type Bridge struct {
	dispatcher Dispatcher
	scheduler  Scheduler
	admin      WebhookAdmin
	webhookURL string
	botName    string
	dedup      Deduplicator
	registered atomic.Bool
	newID      func() string
}

type Option func(*Bridge)

func WithDeduplicator(d Deduplicator) Option {
	return func(b *Bridge) {
		b.dedup = d
	}
}

// WithBotUsername lets commands addressed as "/start@name" through when name
// is this bot. Without it only bare commands are acted on.
func WithBotUsername(name string) Option {
	return func(b *Bridge) {
		b.botName = name
	}
}

func NewBridge(d Dispatcher, s Scheduler, admin WebhookAdmin, webhookURL string, opts ...Option) (*Bridge, error) {
	if d == nil {
		return nil, errors.New("handler: dispatcher must not be nil")
	}
	if s == nil {
		return nil, errors.New("handler: scheduler must not be nil")
	}
	if admin == nil {
		return nil, errors.New("handler: webhook admin must not be nil")
	}
	webhookURL = strings.TrimSpace(webhookURL)
	if webhookURL == "" {
		return nil, errors.New("handler: webhook url must not be empty")
	}
	b := &Bridge{
		dispatcher: d,
		scheduler:  s,
		admin:      admin,
		webhookURL: webhookURL,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Routes returns the relay's HTTP surface.
func (b *Bridge) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", b.handleWebhook)
	mux.HandleFunc("GET /{$}", b.handleHealth)
	mux.HandleFunc("GET /health", b.handleHealth)
	mux.HandleFunc("GET /setwebhook", b.handleSetWebhook)
	mux.HandleFunc("GET /set_webhook", b.handleSetWebhook)
	mux.HandleFunc("GET /webhookinfo", b.handleWebhookInfo)
	return mux
}

// RegisterWebhook points the platform at the configured webhook url.
// Repeating it with the same url is harmless.
func (b *Bridge) RegisterWebhook(ctx context.Context) error {
	if err := b.admin.RegisterWebhook(ctx, b.webhookURL); err != nil {
		return err
	}
	b.registered.Store(true)
	logx.Info().Str("url", b.webhookURL).Msg("webhook registered")
	return nil
}

func (b *Bridge) WebhookRegistered() bool {
	return b.registered.Load()
}

type ackResponse struct {
	OK bool `json:"ok"`
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type healthResponse struct {
	Status            string `json:"status"`
	WebhookRegistered bool   `json:"webhook_registered"`
	InFlight          int64  `json:"in_flight"`
}

type setWebhookResponse struct {
	OK  bool   `json:"ok"`
	URL string `json:"url"`
}

func (b *Bridge) handleWebhook(w http.ResponseWriter, r *http.Request) {
	corrID := strings.TrimSpace(r.Header.Get(correlationHeader))
	if corrID == "" {
		corrID = b.newID()
	}
	w.Header().Set(correlationHeader, corrID)
	log := logx.With().Str("correlation_id", corrID).Logger()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUpdateBytes))
	if err != nil {
		log.Warn().Err(err).Msg("read update body failed")
		writeError(w, errx.BadPayload(err))
		return
	}
	u, err := telegram.DecodeUpdate(body, b.botName)
	if err != nil {
		log.Warn().Err(err).Msg("malformed update")
		writeError(w, errx.BadPayload(err))
		return
	}
	log = log.With().
		Int64("update_id", u.ID).
		Int64("chat_id", u.ConversationID).
		Stringer("kind", u.Kind).
		Logger()

	if !u.Routable() {
		log.Debug().Msg("dropping unsupported update")
		writeJSON(w, http.StatusOK, ackResponse{OK: true})
		return
	}

	// Updates without an id cannot be told apart from one another, so they
	// bypass redelivery detection.
	recorded := false
	if b.dedup != nil && u.ID > 0 {
		fresh, err := b.dedup.Accept(r.Context(), u.ID)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("dedup check failed, accepting update")
		case !fresh:
			log.Info().Msg("dropping redelivered update")
			writeJSON(w, http.StatusOK, ackResponse{OK: true})
			return
		default:
			recorded = true
		}
	}

	if err := b.scheduler.Submit(u.ConversationID, b.task(u, corrID, log)); err != nil {
		if recorded {
			if ferr := b.dedup.Forget(context.WithoutCancel(r.Context()), u.ID); ferr != nil {
				log.Warn().Err(ferr).Msg("forget update id failed")
			}
		}
		log.Error().Err(err).Msg("schedule update failed")
		writeError(w, errx.Unavailable(err))
		return
	}

	log.Debug().Msg("update scheduled")
	writeJSON(w, http.StatusOK, ackResponse{OK: true})
}

// task binds one update to the executor's context, enriched with its logger
// and correlation id. The request context ends with the acknowledgement and
// must not leak into the task.
func (b *Bridge) task(u domain.Update, corrID string, log zerolog.Logger) worker.Task {
	return func(ctx context.Context) {
		ctx = log.WithContext(usecase.WithCorrelationID(ctx, corrID))
		if err := b.dispatcher.Dispatch(ctx, u); err != nil {
			logDispatchError(log, err)
		}
	}
}

func logDispatchError(log zerolog.Logger, err error) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		log.Error().Err(err).Msg("dispatch failed")
		return
	}
	switch ucErr.Code {
	case usecase.ErrorUnsupportedUpdate:
		log.Debug().Str("reason", ucErr.Reason).Msg("update ignored")
	case usecase.ErrorUnknownPersona:
		log.Warn().Err(err).Str("reason", ucErr.Reason).Msg("unknown persona selected")
	default:
		log.Error().Err(err).Str("code", string(ucErr.Code)).Str("reason", ucErr.Reason).Msg("dispatch failed")
	}
}

func (b *Bridge) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:            "ok",
		WebhookRegistered: b.WebhookRegistered(),
		InFlight:          b.scheduler.InFlight(),
	})
}

func (b *Bridge) handleSetWebhook(w http.ResponseWriter, r *http.Request) {
	if err := b.RegisterWebhook(r.Context()); err != nil {
		logx.Error().Err(err).Msg("webhook registration failed")
		writeError(w, errx.New(err, http.StatusBadGateway, "webhook registration failed"))
		return
	}
	writeJSON(w, http.StatusOK, setWebhookResponse{OK: true, URL: b.webhookURL})
}

func (b *Bridge) handleWebhookInfo(w http.ResponseWriter, r *http.Request) {
	info, err := b.admin.WebhookInfo(r.Context())
	if err != nil {
		logx.Error().Err(err).Msg("get webhook info failed")
		writeError(w, errx.New(err, http.StatusBadGateway, "webhook info unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func writeError(w http.ResponseWriter, err error) {
	status, msg := errx.Status(err)
	writeJSON(w, status, errorResponse{OK: false, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logx.Warn().Err(err).Msg("write response failed")
	}
}
