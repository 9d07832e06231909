package bot

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"ArcadeAgent/internal/agent"
	xerrors "ArcadeAgent/internal/errors"
	"ArcadeAgent/internal/inbox"
	"ArcadeAgent/internal/storage/wallet"
	"ArcadeAgent/internal/turn"
	"ArcadeAgent/pkg/logger"
)

const (
	// EmptyReply 替代空白回复。
	EmptyReply = "I'm sorry, operation failed."
	// FirstUseGreeting 在用户首次使用时发送，随后单独发送钱包公钥。
	FirstUseGreeting = "Looks like you are using the Game agent first time. You can fund your agent and start playing. Your unique Solana wallet is:"
)

// Responder 计算一个回合的回复。
type Responder interface {
	Respond(ctx context.Context, player agent.Player, text string) ([]string, error)
}

// Handler 在回合守卫内处理一条收件箱消息并投递回复。
type Handler struct {
	wallets   wallet.Store
	guard     *turn.Guard
	responder Responder
	sender    Sender
	logger    *slog.Logger
}

// NewHandler 创建消息处理器。
func NewHandler(wallets wallet.Store, guard *turn.Guard, responder Responder, sender Sender) *Handler {
	return &Handler{
		wallets:   wallets,
		guard:     guard,
		responder: responder,
		sender:    sender,
		logger:    logger.Named("bot"),
	}
}

// HandleMessage 实现 inbox.MessageHandler。面向用户的错误已转换为提示，
// 只有需要关注的失败才返回给调用方。
func (h *Handler) HandleMessage(ctx context.Context, msg inbox.Message) error {
	chatID := msg.ChatID
	if chatID == 0 {
		chatID, _ = strconv.ParseInt(msg.UserID, 10, 64)
	}

	// 读取或创建玩家钱包。
	record, created, err := wallet.GetOrCreate(ctx, h.wallets, msg.UserID)
	if err != nil {
		h.deliver(ctx, chatID, xerrors.UserMessageOf(err))
		return err
	}
	if created {
		h.deliver(ctx, chatID, FirstUseGreeting)
		h.deliver(ctx, chatID, record.PublicKey)
	}

	signer, err := record.Signer()
	if err != nil {
		h.deliver(ctx, chatID, xerrors.UserMessageOf(err))
		return err
	}
	player := agent.Player{UserID: record.UserID, PublicKey: record.PublicKey, Signer: signer}

	// 加锁、限时计算、释放由守卫负责。
	replies, err := h.guard.Run(ctx, record.UserID, func(ctx context.Context) ([]string, error) {
		return h.responder.Respond(ctx, player, msg.Text)
	})
	for _, reply := range replies {
		if strings.TrimSpace(reply) == "" {
			reply = EmptyReply
		}
		h.deliver(ctx, chatID, reply)
	}
	if err == nil {
		return nil
	}

	h.deliver(ctx, chatID, xerrors.UserMessageOf(err))
	if xerrors.SeverityOf(err) == xerrors.SeverityInfo {
		return nil
	}
	return err
}

func (h *Handler) deliver(ctx context.Context, chatID int64, text string) {
	if h.sender == nil || chatID == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := h.sender.SendText(ctx, chatID, text); err != nil {
		h.logger.Warn("投递回复失败", slog.Int64("chat_id", chatID), slog.Any("error", err))
	}
}
