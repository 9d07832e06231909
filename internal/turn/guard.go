package turn

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	xerrors "ArcadeAgent/internal/errors"
	"ArcadeAgent/internal/observability/metrics"
	"ArcadeAgent/pkg/logger"
)

const (
	// DefaultDeadline 是单个回合允许的最长执行时间。
	DefaultDeadline = 20 * time.Second
	// DefaultLeaseGrace 是租约在截止时间之外额外保留的时间。
	DefaultLeaseGrace     = 10 * time.Second
	defaultReleaseTimeout = 5 * time.Second
)

// ErrAlreadyInProgress 表示同一用户已有回合在执行。
var ErrAlreadyInProgress = xerrors.New(xerrors.CodeAlreadyInProgress, "")

// Computation 是一次回合的计算，返回需要投递给用户的回复。
type Computation func(ctx context.Context) ([]string, error)

// Lease 表示一次成功的加锁。
type Lease struct {
	UserID     string
	Token      string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// Guard 保证同一用户同一时刻最多只有一个回合在执行，且每个回合都有截止时间。
type Guard struct {
	locker         Locker
	deadline       time.Duration
	grace          time.Duration
	releaseTimeout time.Duration
	logger         *slog.Logger
}

// Option 定义可选配置。
type Option func(*Guard)

// WithDeadline 设置回合截止时间。
func WithDeadline(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.deadline = d
		}
	}
}

// WithLeaseGrace 设置租约宽限时间。
func WithLeaseGrace(d time.Duration) Option {
	return func(g *Guard) {
		if d >= 0 {
			g.grace = d
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGuard 创建回合守卫。
func NewGuard(locker Locker, opts ...Option) *Guard {
	g := &Guard{
		locker:         locker,
		deadline:       DefaultDeadline,
		grace:          DefaultLeaseGrace,
		releaseTimeout: defaultReleaseTimeout,
		logger:         logger.Named("turn"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Deadline 返回回合截止时间。
func (g *Guard) Deadline() time.Duration { return g.deadline }

// Acquire 为用户加锁，已被占用时返回 ErrAlreadyInProgress。
func (g *Guard) Acquire(ctx context.Context, userID string) (*Lease, error) {
	if g == nil || g.locker == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "turn guard not initialised")
	}
	if userID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "user id is required")
	}
	now := time.Now()
	ttl := g.deadline + g.grace
	lease := &Lease{UserID: userID, Token: uuid.NewString(), AcquiredAt: now, ExpiresAt: now.Add(ttl)}
	ok, err := g.locker.Acquire(ctx, userID, lease.Token, ttl)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "acquire turn lease", xerrors.WithMetadata("user_id", userID))
	}
	if !ok {
		return nil, ErrAlreadyInProgress
	}
	return lease, nil
}

// Release 释放租约。它使用与调用方取消信号解耦的上下文，回合超时或客户端断开后仍会执行。
func (g *Guard) Release(ctx context.Context, lease *Lease) error {
	if g == nil || g.locker == nil || lease == nil {
		return nil
	}
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.releaseTimeout)
	defer cancel()
	if err := g.locker.Release(releaseCtx, lease.UserID, lease.Token); err != nil {
		g.logger.Error("释放回合租约失败",
			slog.String("user_id", lease.UserID),
			slog.Time("expires_at", lease.ExpiresAt),
			slog.Any("error", err),
		)
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "release turn lease", xerrors.WithMetadata("user_id", lease.UserID))
	}
	return nil
}

type computationResult struct {
	replies []string
	err     error
}

// RunWithDeadline 在截止时间内运行计算。截止时间一到计算上下文即被取消，
// 先到达的一方胜出，迟到的结果写入带缓冲的通道后被丢弃。
func (g *Guard) RunWithDeadline(ctx context.Context, computation Computation) ([]string, error) {
	runCtx, cancel := context.WithTimeout(ctx, g.deadline)
	defer cancel()

	done := make(chan computationResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- computationResult{err: xerrors.New(xerrors.CodeExecutorFailure, fmt.Sprintf("turn panicked: %v", r))}
			}
		}()
		replies, err := computation(runCtx)
		done <- computationResult{replies: replies, err: err}
	}()

	select {
	case res := <-done:
		return res.replies, res.err
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "turn cancelled by caller")
		}
		return nil, xerrors.Wrap(xerrors.CodeTurnTimeout, runCtx.Err(), "", xerrors.WithMetadata("deadline", g.deadline.String()))
	}
}

// Run 串联加锁、带截止时间的计算与释放。释放在所有退出路径上恰好执行一次。
func (g *Guard) Run(ctx context.Context, userID string, computation Computation) (replies []string, err error) {
	start := time.Now()
	lease, err := g.Acquire(ctx, userID)
	if err != nil {
		if xerrors.HasCode(err, xerrors.CodeAlreadyInProgress) {
			metrics.ObserveTurn("busy", 0)
			logger.Audit().Info("turn rejected", slog.String("user_id", userID), slog.String("reason", "in_progress"))
		} else {
			metrics.ObserveTurn("error", time.Since(start))
		}
		return nil, err
	}
	defer func() {
		if releaseErr := g.Release(ctx, lease); releaseErr != nil && err == nil {
			g.logger.Warn("回合已完成但租约释放失败，等待租约过期", slog.String("user_id", userID))
		}
		metrics.ObserveTurn(turnResult(err), time.Since(start))
	}()

	return g.RunWithDeadline(ctx, computation)
}

func turnResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case xerrors.HasCode(err, xerrors.CodeTurnTimeout), xerrors.HasCode(err, xerrors.CodeTimeout):
		return "timeout"
	default:
		return "error"
	}
}
