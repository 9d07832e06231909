package bot

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ArcadeAgent/internal/inbox"
	"ArcadeAgent/pkg/logger"
)

const (
	pollTimeoutSeconds = 60
	maxUpdateBytes     = 1 << 20
	secretHeader       = "X-Telegram-Bot-Api-Secret-Token"
)

// MessageFromUpdate 从 Telegram 更新中提取文本消息。
func MessageFromUpdate(update tgbotapi.Update) (inbox.Message, bool) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return inbox.Message{}, false
	}
	if strings.TrimSpace(msg.Text) == "" {
		return inbox.Message{}, false
	}
	return inbox.NewMessage(strconv.FormatInt(msg.From.ID, 10), msg.Chat.ID, msg.Text), true
}

// UpdateSource 是长轮询所需的 Bot API 子集。
type UpdateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Poll 通过长轮询接收更新并投递到收件箱，直到 ctx 被取消。
func Poll(ctx context.Context, source UpdateSource, producer inbox.Producer) error {
	log := logger.Named("bot")
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = pollTimeoutSeconds
	updates := source.GetUpdatesChan(cfg)
	defer source.StopReceivingUpdates()

	log.Info("Telegram 长轮询已启动")
	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			msg, ok := MessageFromUpdate(update)
			if !ok {
				continue
			}
			if err := producer.Publish(ctx, msg); err != nil {
				log.Error("投递消息失败", slog.String("user_id", msg.UserID), slog.Any("error", err))
			}
		}
	}
}

// WebhookHandler 接收 Telegram webhook 推送并投递到收件箱。
type WebhookHandler struct {
	producer inbox.Producer
	secret   string
	logger   *slog.Logger
}

// NewWebhookHandler 创建 webhook 处理器。secret 非空时校验请求头中的密钥。
func NewWebhookHandler(producer inbox.Producer, secret string) *WebhookHandler {
	return &WebhookHandler{producer: producer, secret: secret, logger: logger.Named("bot")}
}

// ServeHTTP 实现 http.Handler。
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(secretHeader)), []byte(h.secret)) != 1 {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var update tgbotapi.Update
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUpdateBytes)).Decode(&update); err != nil {
		http.Error(w, "invalid update", http.StatusBadRequest)
		return
	}

	// 非文本更新直接确认，避免 Telegram 重复推送。
	msg, ok := MessageFromUpdate(update)
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}
	if err := h.producer.Publish(r.Context(), msg); err != nil {
		h.logger.Error("投递 webhook 消息失败", slog.String("user_id", msg.UserID), slog.Any("error", err))
		http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}
