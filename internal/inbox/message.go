package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message 是一条待处理的用户消息。
type Message struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	ChatID     int64     `json:"chat_id"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}

// NewMessage 构造消息并分配 ID。
func NewMessage(userID string, chatID int64, text string) Message {
	return Message{
		ID:         uuid.NewString(),
		UserID:     strings.TrimSpace(userID),
		ChatID:     chatID,
		Text:       text,
		ReceivedAt: time.Now().UTC(),
	}
}

func encodeMessage(msg Message) ([]byte, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("编码消息失败: %w", err)
	}
	return payload, nil
}

func decodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, fmt.Errorf("解码消息失败: %w", err)
	}
	return msg, nil
}

// Handler 处理单条消息。
type Handler func(ctx context.Context, msg Message) error

// Producer 负责向队列投递消息。
type Producer interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Consumer 负责从队列中消费消息。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
