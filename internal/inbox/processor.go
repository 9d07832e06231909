package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	xerrors "ArcadeAgent/internal/errors"
	"ArcadeAgent/internal/observability/alerting"
	"ArcadeAgent/pkg/logger"
)

// MessageHandler 定义了处理器所需的回合处理能力。
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg Message) error
}

// Processor 负责从队列消费消息并交给回合处理器。
type Processor struct {
	handler     MessageHandler
	consumer    Consumer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = l
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(handler MessageHandler, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		handler:     handler,
		consumer:    consumer,
		workerCount: 1,
		logger:      logger.Named("inbox"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动消息处理循环，直到 ctx 被取消。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil || p.handler == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置消息消费者或处理器")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.New(xerrors.CodeExecutorFailure, fmt.Sprintf("message handler panicked: %v", r))
			p.logger.Error("处理消息时发生 panic", slog.String("message_id", msg.ID), slog.Any("panic", r))
			p.emitAlert(ctx, msg, err)
		}
	}()

	if err := p.handler.HandleMessage(ctx, msg); err != nil {
		p.logger.Warn("消息处理失败",
			slog.String("message_id", msg.ID),
			slog.String("user_id", msg.UserID),
			slog.String("error_code", string(xerrors.CodeOf(err))),
			slog.Any("error", err),
		)
		if xerrors.ShouldAlert(err) {
			p.emitAlert(ctx, msg, err)
		}
		return err
	}
	p.logger.Debug("消息处理完成", slog.String("message_id", msg.ID), slog.String("user_id", msg.UserID))
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, msg Message, cause error) {
	if p.alerter == nil {
		return
	}
	event := alerting.EventFromError(cause, msg.UserID, "", "inbox")
	event.Metadata = map[string]string{"message_id": msg.ID}
	event.OccurredAt = time.Now().UTC()

	alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.alerter.Notify(alertCtx, event); err != nil {
		p.logger.Error("告警通知失败", slog.Any("error", err), slog.String("message_id", msg.ID))
	}
}
