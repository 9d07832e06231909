package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	xerrors "ArcadeAgent/internal/errors"
)

// Sender 向聊天投递一条文本消息。
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// MessageSender 是 tgbotapi.BotAPI 中发送消息所需的部分。
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender 通过 Bot API 发送消息。
type TelegramSender struct {
	api MessageSender
}

// NewTelegramAPI 使用令牌创建 Bot API 客户端。
func NewTelegramAPI(token string) (*tgbotapi.BotAPI, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置 Telegram 令牌")
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化 Telegram 客户端失败")
	}
	return api, nil
}

// NewTelegramSender 包装 Bot API 客户端。
func NewTelegramSender(api MessageSender) *TelegramSender {
	return &TelegramSender{api: api}
}

// SendText 实现 Sender。
func (s *TelegramSender) SendText(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return xerrors.Wrap(xerrors.CodeExecutorFailure, err, "发送 Telegram 消息失败")
	}
	return nil
}
