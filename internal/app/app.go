// Package app wires the relay's components together and owns their
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"persona-relay/handler"
	"persona-relay/internal/config"
	"persona-relay/internal/conversation"
	"persona-relay/internal/dedup"
	"persona-relay/internal/integrations/openai"
	"persona-relay/internal/integrations/telegram"
	"persona-relay/internal/usecase"
	"persona-relay/internal/worker"
	logx "persona-relay/pkg/logger"
)

const readHeaderTimeout = 10 * time.Second

type App struct {
	cfg        config.Config
	bridge     *handler.Bridge
	executor   *worker.Executor
	store      *conversation.Store
	completion *openai.Client
	telegram   *telegram.Client
	redis      *goredis.Client
	server     *http.Server
}

type Option func(*options)

type options struct {
	journal usecase.TurnJournal
}

// WithJournal records every completion turn to j.
func WithJournal(j usecase.TurnJournal) Option {
	return func(o *options) {
		o.journal = j
	}
}

// New builds every component from a validated cfg. Nothing listens until
// Run or Serve is called.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	completion, err := openai.NewClient(cfg.OpenRouterAPIKey,
		openai.WithBaseURL(cfg.Completion.BaseURL),
		openai.WithModel(cfg.Completion.Model),
		openai.WithTimeout(cfg.Completion.Timeout),
		openai.WithAttribution(cfg.WebhookURL, cfg.Completion.Title),
	)
	if err != nil {
		return nil, fmt.Errorf("app: completion client: %w", err)
	}
	tg, err := telegram.New(cfg.TelegramBotToken, telegram.WithAPIURL(cfg.TelegramAPIURL))
	if err != nil {
		return nil, fmt.Errorf("app: telegram client: %w", err)
	}

	a := &App{
		cfg:        cfg,
		executor:   worker.New(cfg.Worker.MaxConcurrent, cfg.Worker.Backlog),
		store:      conversation.NewStore(),
		completion: completion,
		telegram:   tg,
	}

	var dd handler.Deduplicator
	if cfg.Redis.Enabled() {
		rdb, err := cfg.Redis.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: connect redis: %w", err)
		}
		a.redis = rdb
		dd = dedup.NewRedis(rdb, cfg.DedupTTL)
		logx.Info().Msg("using redis for update deduplication")
	} else {
		dd = dedup.NewMemory(cfg.DedupTTL)
	}

	dispatcherOpts := []usecase.DispatcherOption{}
	if o.journal != nil {
		dispatcherOpts = append(dispatcherOpts, usecase.WithJournal(o.journal))
	}
	dispatcher, err := usecase.NewDispatcher(a.store, completion, tg, dispatcherOpts...)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("app: dispatcher: %w", err), a.releaseClients())
	}
	a.bridge, err = handler.NewBridge(dispatcher, a.executor, tg, cfg.WebhookURL,
		handler.WithDeduplicator(dd),
		handler.WithBotUsername(cfg.TelegramBotUsername),
	)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("app: bridge: %w", err), a.releaseClients())
	}
	a.server = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           a.bridge.Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return a, nil
}

// RegisterWebhook points the platform at the configured webhook url.
func (a *App) RegisterWebhook(ctx context.Context) error {
	return a.bridge.RegisterWebhook(ctx)
}

// Run listens on the configured port until ctx is cancelled, then shuts
// down gracefully.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen on %s: %w", a.server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve registers the webhook when configured to, accepts traffic on ln
// until ctx is cancelled, and then drains in-flight updates for at most the
// shutdown grace period.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	if a.cfg.RegisterWebhookOnStart {
		if err := a.bridge.RegisterWebhook(ctx); err != nil {
			logx.Error().Err(err).Msg("webhook registration failed; retry via GET /setwebhook")
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		logx.Info().Str("addr", ln.Addr().String()).Msg("relay listening")
		serveErr <- a.server.Serve(ln)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("app: serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Worker.ShutdownGrace)
	defer cancel()
	return errors.Join(runErr, a.Shutdown(shutdownCtx))
}

// Shutdown stops accepting requests, waits for scheduled updates until ctx
// expires, and releases outbound clients. Updates still running when ctx
// expires are abandoned.
func (a *App) Shutdown(ctx context.Context) error {
	logx.Info().
		Int64("in_flight", a.executor.InFlight()).
		Int("conversations", a.store.Len()).
		Msg("shutting down")

	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("app: http shutdown: %w", err))
	}
	if err := a.executor.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.releaseClients(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// releaseClients closes the outbound clients and the Redis connection pool.
func (a *App) releaseClients() error {
	a.completion.Close()
	a.telegram.Close()
	if a.redis == nil {
		return nil
	}
	if err := a.redis.Close(); err != nil {
		return fmt.Errorf("app: close redis: %w", err)
	}
	return nil
}
