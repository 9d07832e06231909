package bot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ArcadeAgent/internal/inbox"
)

const textUpdate = `{"update_id":1,"message":{"message_id":7,"from":{"id":42,"is_bot":false,"first_name":"A"},"chat":{"id":99,"type":"private"},"date":1700000000,"text":"/play rock 0.1"}}`

func TestMessageFromUpdate(t *testing.T) {
	update := tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 42},
		Chat: &tgbotapi.Chat{ID: 99},
		Text: "hello",
	}}
	msg, ok := MessageFromUpdate(update)
	require.True(t, ok)
	assert.Equal(t, "42", msg.UserID)
	assert.Equal(t, int64(99), msg.ChatID)
	assert.NotEmpty(t, msg.ID)

	_, ok = MessageFromUpdate(tgbotapi.Update{})
	assert.False(t, ok)
	update.Message.Text = "  "
	_, ok = MessageFromUpdate(update)
	assert.False(t, ok)
}

func TestWebhookHandlerPublishes(t *testing.T) {
	queue := inbox.NewMemoryQueue(4)
	handler := NewWebhookHandler(queue, "s3cret")

	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(textUpdate))
	req.Header.Set(secretHeader, "s3cret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got := make(chan inbox.Message, 1)
	go func() {
		_ = queue.Consume(ctx, 1, func(_ context.Context, msg inbox.Message) error {
			got <- msg
			return nil
		})
	}()
	select {
	case msg := <-got:
		assert.Equal(t, "42", msg.UserID)
		assert.Equal(t, "/play rock 0.1", msg.Text)
	case <-ctx.Done():
		t.Fatalf("message was not published")
	}
}

func TestWebhookHandlerRejects(t *testing.T) {
	handler := NewWebhookHandler(inbox.NewMemoryQueue(1), "s3cret")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/telegram/webhook", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(textUpdate)))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader("{"))
	req.Header.Set(secretHeader, "s3cret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(`{"update_id":2}`))
	req.Header.Set(secretHeader, "s3cret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

type fakeSource struct {
	updates chan tgbotapi.Update
	stopped bool
}

func (f *fakeSource) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeSource) StopReceivingUpdates() { f.stopped = true }

func TestPollPublishesUntilClosed(t *testing.T) {
	source := &fakeSource{updates: make(chan tgbotapi.Update, 2)}
	source.updates <- tgbotapi.Update{Message: &tgbotapi.Message{From: &tgbotapi.User{ID: 1}, Chat: &tgbotapi.Chat{ID: 1}, Text: "hi"}}
	source.updates <- tgbotapi.Update{}
	close(source.updates)

	queue := inbox.NewMemoryQueue(4)
	require.NoError(t, Poll(context.Background(), source, queue))
	assert.True(t, source.stopped)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got := make(chan inbox.Message, 1)
	go func() {
		_ = queue.Consume(ctx, 1, func(_ context.Context, msg inbox.Message) error {
			got <- msg
			return nil
		})
	}()
	select {
	case msg := <-got:
		assert.Equal(t, "hi", msg.Text)
	case <-ctx.Done():
		t.Fatalf("polled message missing")
	}
}

type recordingAPI struct {
	sent []tgbotapi.Chattable
}

func (r *recordingAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	r.sent = append(r.sent, c)
	return tgbotapi.Message{}, nil
}

func TestTelegramSender(t *testing.T) {
	api := &recordingAPI{}
	sender := NewTelegramSender(api)
	require.NoError(t, sender.SendText(context.Background(), 5, "hello"))
	require.Len(t, api.sent, 1)
	msg, ok := api.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(5), msg.ChatID)
	assert.Equal(t, "hello", msg.Text)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, sender.SendText(ctx, 5, "late"))
	_, err := NewTelegramAPI(" ")
	assert.Error(t, err)
}
