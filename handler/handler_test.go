package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"persona-relay/internal/dedup"
	"persona-relay/internal/domain"
	"persona-relay/internal/integrations/telegram"
	"persona-relay/internal/usecase"
	"persona-relay/internal/worker"
)

const testWebhookURL = "https://relay.example/webhook"

type fakeDispatcher struct {
	mu      sync.Mutex
	updates []domain.Update
	block   chan struct{}
	err     error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, u domain.Update) error {
	if d.block != nil {
		<-d.block
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updates = append(d.updates, u)
	return d.err
}

func (d *fakeDispatcher) seen() []domain.Update {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.Update(nil), d.updates...)
}

type fakeScheduler struct {
	mu      sync.Mutex
	submits int
	err     error
}

func (s *fakeScheduler) Submit(_ int64, _ worker.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.submits++
	return nil
}

func (s *fakeScheduler) InFlight() int64 { return 7 }

type fakeAdmin struct {
	urls    []string
	err     error
	info    telegram.WebhookInfo
	infoErr error
}

func (a *fakeAdmin) RegisterWebhook(_ context.Context, url string) error {
	a.urls = append(a.urls, url)
	return a.err
}

func (a *fakeAdmin) WebhookInfo(context.Context) (telegram.WebhookInfo, error) {
	return a.info, a.infoErr
}

func textBody(updateID, chatID int64, text string) string {
	return fmt.Sprintf(`{"update_id":%d,"message":{"message_id":%d,"date":1700000000,"chat":{"id":%d,"type":"private"},"text":%q}}`,
		updateID, updateID, chatID, text)
}

func postUpdate(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func parseBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func newTestBridge(t *testing.T, d Dispatcher, s Scheduler, opts ...Option) (*Bridge, *fakeAdmin) {
	t.Helper()
	admin := &fakeAdmin{}
	b, err := NewBridge(d, s, admin, testWebhookURL, opts...)
	require.NoError(t, err)
	return b, admin
}

func shutdown(t *testing.T, e *worker.Executor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Shutdown(ctx))
}

func TestNewBridge_ValidatesDependencies(t *testing.T) {
	_, err := NewBridge(nil, &fakeScheduler{}, &fakeAdmin{}, testWebhookURL)
	require.Error(t, err)
	_, err = NewBridge(&fakeDispatcher{}, nil, &fakeAdmin{}, testWebhookURL)
	require.Error(t, err)
	_, err = NewBridge(&fakeDispatcher{}, &fakeScheduler{}, nil, testWebhookURL)
	require.Error(t, err)
	_, err = NewBridge(&fakeDispatcher{}, &fakeScheduler{}, &fakeAdmin{}, " ")
	require.Error(t, err)
}

func TestWebhook_AcknowledgesBeforeProcessingFinishes(t *testing.T) {
	exec := worker.New(4, 8)
	d := &fakeDispatcher{block: make(chan struct{})}
	b, _ := newTestBridge(t, d, exec)

	start := time.Now()
	rec := postUpdate(t, b.Routes(), textBody(1, 42, "hello"))
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, parseBody[ackResponse](t, rec).OK)
	require.Empty(t, d.seen())
	require.Equal(t, int64(1), exec.InFlight())

	close(d.block)
	shutdown(t, exec)
	require.Len(t, d.seen(), 1)
	require.Equal(t, "hello", d.seen()[0].Text)
}

func TestWebhook_PreservesPerConversationOrder(t *testing.T) {
	exec := worker.New(4, 64)
	d := &fakeDispatcher{}
	b, _ := newTestBridge(t, d, exec)
	h := b.Routes()

	for i := 1; i <= 30; i++ {
		rec := postUpdate(t, h, textBody(int64(i), 42, fmt.Sprintf("seq-%02d", i)))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	shutdown(t, exec)

	seen := d.seen()
	require.Len(t, seen, 30)
	for i, u := range seen {
		require.Equal(t, fmt.Sprintf("seq-%02d", i+1), u.Text)
	}
}

func TestWebhook_MalformedPayloadIsRejectedWithoutScheduling(t *testing.T) {
	s := &fakeScheduler{}
	b, _ := newTestBridge(t, &fakeDispatcher{}, s)

	rec := postUpdate(t, b.Routes(), `{"update_id":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	out := parseBody[errorResponse](t, rec)
	require.False(t, out.OK)
	require.Equal(t, "malformed update payload", out.Error)
	require.Zero(t, s.submits)
}

func TestWebhook_UnsupportedUpdateIsAcknowledgedAndDropped(t *testing.T) {
	s := &fakeScheduler{}
	b, _ := newTestBridge(t, &fakeDispatcher{}, s)

	rec := postUpdate(t, b.Routes(), `{"update_id":5,"edited_message":{"message_id":1,"date":1700000000,"chat":{"id":42,"type":"private"},"text":"edit"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Zero(t, s.submits)
}

func TestWebhook_CommandsForOtherBotsAreDropped(t *testing.T) {
	s := &fakeScheduler{}
	b, _ := newTestBridge(t, &fakeDispatcher{}, s, WithBotUsername("relay_bot"))
	h := b.Routes()

	require.Equal(t, http.StatusOK, postUpdate(t, h, textBody(1, -100, "/start@other_bot")).Code)
	require.Zero(t, s.submits)
	require.Equal(t, http.StatusOK, postUpdate(t, h, textBody(2, -100, "/start@relay_bot")).Code)
	require.Equal(t, 1, s.submits)
}

func TestWebhook_DuplicateDeliveryIsProcessedOnce(t *testing.T) {
	s := &fakeScheduler{}
	b, _ := newTestBridge(t, &fakeDispatcher{}, s, WithDeduplicator(dedup.NewMemory(time.Minute)))
	h := b.Routes()

	require.Equal(t, http.StatusOK, postUpdate(t, h, textBody(9, 42, "hi")).Code)
	require.Equal(t, http.StatusOK, postUpdate(t, h, textBody(9, 42, "hi")).Code)
	require.Equal(t, 1, s.submits)
}

func TestWebhook_UpdatesWithoutIDAreNeverDeduplicated(t *testing.T) {
	exec := worker.New(4, 8)
	d := &fakeDispatcher{}
	b, _ := newTestBridge(t, d, exec, WithDeduplicator(dedup.NewMemory(time.Minute)))
	h := b.Routes()

	for _, body := range []string{
		`{"message":{"message_id":1,"date":1700000000,"chat":{"id":42,"type":"private"},"text":"first"}}`,
		`{"message":{"message_id":2,"date":1700000000,"chat":{"id":43,"type":"private"},"text":"second"}}`,
	} {
		require.Equal(t, http.StatusOK, postUpdate(t, h, body).Code)
	}
	shutdown(t, exec)

	texts := map[string]bool{}
	for _, u := range d.seen() {
		texts[u.Text] = true
	}
	require.Equal(t, map[string]bool{"first": true, "second": true}, texts)
}

func TestWebhook_SchedulingFailureReturns503AndAllowsRetry(t *testing.T) {
	s := &fakeScheduler{err: worker.ErrBacklogFull}
	b, _ := newTestBridge(t, &fakeDispatcher{}, s, WithDeduplicator(dedup.NewMemory(time.Minute)))
	h := b.Routes()

	rec := postUpdate(t, h, textBody(11, 42, "hi"))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "update could not be scheduled", parseBody[errorResponse](t, rec).Error)

	s.err = nil
	rec = postUpdate(t, h, textBody(11, 42, "hi"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, s.submits)
}

func TestWebhook_ClosedExecutorReturns503(t *testing.T) {
	exec := worker.New(1, 1)
	shutdown(t, exec)
	b, _ := newTestBridge(t, &fakeDispatcher{}, exec)

	rec := postUpdate(t, b.Routes(), textBody(1, 42, "hi"))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type failingDedup struct{}

func (failingDedup) Accept(context.Context, int64) (bool, error) {
	return false, errors.New("redis down")
}

func (failingDedup) Forget(context.Context, int64) error { return nil }

func TestWebhook_DedupFailureStillSchedules(t *testing.T) {
	s := &fakeScheduler{}
	b, _ := newTestBridge(t, &fakeDispatcher{}, s, WithDeduplicator(failingDedup{}))

	require.Equal(t, http.StatusOK, postUpdate(t, b.Routes(), textBody(1, 42, "hi")).Code)
	require.Equal(t, 1, s.submits)
}

func TestWebhook_DispatchErrorsStayInsideTheTask(t *testing.T) {
	exec := worker.New(2, 8)
	d := &fakeDispatcher{err: &usecase.Error{Code: usecase.ErrorDelivery, Reason: "send_reply"}}
	b, _ := newTestBridge(t, d, exec)
	h := b.Routes()

	require.Equal(t, http.StatusOK, postUpdate(t, h, textBody(1, 42, "a")).Code)
	require.Equal(t, http.StatusOK, postUpdate(t, h, textBody(2, 42, "b")).Code)
	shutdown(t, exec)
	require.Len(t, d.seen(), 2)
}

func TestWebhook_CorrelationID(t *testing.T) {
	b, _ := newTestBridge(t, &fakeDispatcher{}, &fakeScheduler{})
	b.newID = func() string { return "generated-id" }
	h := b.Routes()

	rec := postUpdate(t, h, textBody(1, 42, "hi"))
	require.Equal(t, "generated-id", rec.Header().Get("X-Correlation-Id"))

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(textBody(2, 42, "hi")))
	req.Header.Set("x-correlation-id", "corr-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, "corr-123", rec.Header().Get("X-Correlation-Id"))
}

func TestWebhook_RejectsWrongMethod(t *testing.T) {
	b, _ := newTestBridge(t, &fakeDispatcher{}, &fakeScheduler{})
	rec := httptest.NewRecorder()
	b.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealth(t *testing.T) {
	b, _ := newTestBridge(t, &fakeDispatcher{}, &fakeScheduler{})
	h := b.Routes()

	for _, path := range []string{"/", "/health"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		out := parseBody[healthResponse](t, rec)
		require.Equal(t, "ok", out.Status)
		require.False(t, out.WebhookRegistered)
		require.Equal(t, int64(7), out.InFlight)
	}

	require.NoError(t, b.RegisterWebhook(context.Background()))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.True(t, parseBody[healthResponse](t, rec).WebhookRegistered)
}

func TestSetWebhook(t *testing.T) {
	b, admin := newTestBridge(t, &fakeDispatcher{}, &fakeScheduler{})
	h := b.Routes()

	for _, path := range []string{"/setwebhook", "/set_webhook"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		out := parseBody[setWebhookResponse](t, rec)
		require.True(t, out.OK)
		require.Equal(t, testWebhookURL, out.URL)
	}
	require.Equal(t, []string{testWebhookURL, testWebhookURL}, admin.urls)
	require.True(t, b.WebhookRegistered())
}

func TestSetWebhook_Failure(t *testing.T) {
	b, admin := newTestBridge(t, &fakeDispatcher{}, &fakeScheduler{})
	admin.err = errors.New("Unauthorized")

	rec := httptest.NewRecorder()
	b.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/setwebhook", nil))
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, "webhook registration failed", parseBody[errorResponse](t, rec).Error)
	require.False(t, b.WebhookRegistered())
}

func TestWebhookInfo(t *testing.T) {
	b, admin := newTestBridge(t, &fakeDispatcher{}, &fakeScheduler{})
	admin.info = telegram.WebhookInfo{URL: testWebhookURL, PendingUpdateCount: 2}
	h := b.Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhookinfo", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, admin.info, parseBody[telegram.WebhookInfo](t, rec))

	admin.infoErr = errors.New("timeout")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhookinfo", nil))
	require.Equal(t, http.StatusBadGateway, rec.Code)
}
