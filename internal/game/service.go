package game

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	xerrors "ArcadeAgent/internal/errors"
	"ArcadeAgent/internal/observability/alerting"
	"ArcadeAgent/internal/observability/metrics"
	"ArcadeAgent/internal/web3"
	"ArcadeAgent/pkg/logger"
)

const sideEffectTimeout = 5 * time.Second

// RoundTracker 记录玩家是否处于一局游戏中。
type RoundTracker interface {
	SetInGame(ctx context.Context, userID string, inGame bool) error
}

// Service 为每一局游戏创建会话，并负责审计、指标与告警。
type Service struct {
	remote      Remote
	relay       Submitter
	profile     Profile
	rules       Rules
	claimSigner web3.Signer
	tracker     RoundTracker
	alerts      alerting.Dispatcher
	logger      *slog.Logger
}

// ServiceOption 定义可选配置。
type ServiceOption func(*Service)

// WithRules 设置下注规则。
func WithRules(rules Rules) ServiceOption {
	return func(s *Service) { s.rules = rules }
}

// WithClaimSigner 指定后端领奖签名者。
func WithClaimSigner(signer web3.Signer) ServiceOption {
	return func(s *Service) { s.claimSigner = signer }
}

// WithRoundTracker 注入 in_game 标记的存储。
func WithRoundTracker(tracker RoundTracker) ServiceOption {
	return func(s *Service) { s.tracker = tracker }
}

// WithAlerts 注入告警分发器。
func WithAlerts(d alerting.Dispatcher) ServiceOption {
	return func(s *Service) { s.alerts = d }
}

// NewService 创建游戏服务。
func NewService(remote Remote, relay Submitter, profile Profile, opts ...ServiceOption) (*Service, error) {
	if remote == nil || relay == nil {
		return nil, errors.New("游戏服务需要远端客户端与交易中继")
	}
	s := &Service{
		remote:  remote,
		relay:   relay,
		profile: profile,
		rules:   Rules{Allowed: DefaultAllowedWagers},
		logger:  logger.Named("game"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if profile.BackendClaim && s.claimSigner == nil {
		return nil, errors.New("backend 配置档需要后端领奖密钥")
	}
	return s, nil
}

// Profile 返回当前配置档。
func (s *Service) Profile() Profile { return s.profile }

// Play 校验出拳与下注后运行一局游戏。
func (s *Service) Play(ctx context.Context, userID string, player web3.Signer, rawChoice string, amount decimal.Decimal) (*Outcome, error) {
	choice, err := ParseChoice(rawChoice)
	if err != nil {
		return nil, err
	}
	wager, err := s.rules.Resolve(amount)
	if err != nil {
		return nil, err
	}
	if player == nil {
		return nil, xerrors.New(xerrors.CodeWalletNotFound, "player signer missing", xerrors.WithMetadata("user_id", userID))
	}

	var claimSigner web3.Signer
	if s.profile.BackendClaim {
		claimSigner = s.claimSigner
	}

	s.markInGame(ctx, userID, true)
	defer s.markInGame(ctx, userID, false)

	session := NewSession(s.remote, s.relay, s.profile, player, claimSigner)
	start := time.Now()
	outcome, err := session.Play(ctx, choice, wager)
	if outcome == nil {
		return nil, err
	}

	metrics.ObserveRound(s.profile.Name, string(outcome.Kind))
	attrs := []any{
		slog.String("user_id", userID),
		slog.String("round_id", outcome.RoundID),
		slog.String("profile", s.profile.Name),
		slog.String("choice", string(choice)),
		slog.String("wager", wager.String()),
		slog.String("outcome", string(outcome.Kind)),
		slog.Duration("duration", time.Since(start)),
	}
	if err != nil {
		attrs = append(attrs, slog.String("stage", session.Stage()), slog.String("error_code", string(xerrors.CodeOf(err))))
	}
	logger.Audit().Info("game round finished", attrs...)

	if err != nil && (session.Committed() || xerrors.ShouldAlert(err)) {
		s.alert(ctx, alerting.EventFromError(err, userID, outcome.RoundID, session.Stage()))
	}
	return outcome, err
}

func (s *Service) markInGame(ctx context.Context, userID string, inGame bool) {
	if s.tracker == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	if err := s.tracker.SetInGame(ctx, userID, inGame); err != nil {
		s.logger.Warn("更新 in_game 标记失败", slog.String("user_id", userID), slog.Bool("in_game", inGame), slog.Any("error", err))
	}
}

func (s *Service) alert(ctx context.Context, event alerting.Event) {
	if s.alerts == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	if err := s.alerts.Notify(ctx, event); err != nil {
		s.logger.Error("发送告警失败", slog.String("round_id", event.RoundID), slog.Any("error", err))
	}
}
