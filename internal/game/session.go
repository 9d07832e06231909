package game

import (
	"context"
	"log/slog"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	xerrors "ArcadeAgent/internal/errors"
	"ArcadeAgent/internal/observability/metrics"
	"ArcadeAgent/internal/web3"
	"ArcadeAgent/pkg/logger"
)

// Submitter 是会话使用的交易中继能力。
type Submitter interface {
	SignAndSubmit(ctx context.Context, envelope string, signer web3.Signer, mode web3.SignMode, awaitConfirmation bool) (solana.Signature, error)
}

// 阶段名称，用于日志与告警。
const (
	StageRequestMove      = "request_move"
	StageSignAndSubmit    = "sign_and_submit"
	StageAwaitOutcome     = "await_outcome"
	StageClaimTransaction = "claim_transaction"
	StageSignClaim        = "sign_claim"
	StagePostClaim        = "post_claim"
)

// Session 驱动单局游戏。一个 Session 只能 Play 一次，不可并发使用。
type Session struct {
	remote      Remote
	relay       Submitter
	profile     Profile
	player      web3.Signer
	claimSigner web3.Signer
	logger      *slog.Logger

	round     Round
	stage     string
	committed bool
	followed  map[string]struct{}
}

// NewSession 创建一局游戏。claimSigner 为空时使用玩家密钥领奖。
func NewSession(remote Remote, relay Submitter, profile Profile, player, claimSigner web3.Signer) *Session {
	if claimSigner == nil {
		claimSigner = player
	}
	return &Session{
		remote:      remote,
		relay:       relay,
		profile:     profile,
		player:      player,
		claimSigner: claimSigner,
		logger:      logger.Named("game.session"),
		followed:    make(map[string]struct{}),
	}
}

// Round 返回当前回合的快照。
func (s *Session) Round() Round { return s.round }

// Stage 返回最近进入的阶段。
func (s *Session) Stage() string { return s.stage }

// Committed 表示下注交易是否已经被网络接受。
func (s *Session) Committed() bool { return s.committed }

// Play 运行完整的状态机。返回的 Outcome 始终携带面向用户的文案，
// error 携带失败的内部原因，供日志与测试使用。
func (s *Session) Play(ctx context.Context, choice Choice, wager decimal.Decimal) (*Outcome, error) {
	if s.round.ID != "" {
		return nil, xerrors.New(xerrors.CodeConflict, "session already played")
	}
	if s.remote == nil || s.relay == nil || s.player == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "game session not initialised")
	}
	s.round = Round{ID: uuid.NewString(), Choice: choice, Wager: wager, Status: StatusInitiated}
	s.logger = s.logger.With(slog.String("round_id", s.round.ID))
	player := s.player.PublicKey().String()

	s.stage = StageRequestMove
	move, err := s.remote.RequestMove(ctx, s.profile.Endpoint, MoveRequest{Account: player, Choice: choice, Wager: wager})
	if err != nil {
		return s.fail(err)
	}
	if strings.TrimSpace(move.Transaction) == "" {
		return s.fail(xerrors.New(xerrors.CodeProtocolViolation, "move response carries no transaction"))
	}

	s.round.Status = StatusAwaitingSignature
	s.stage = StageSignAndSubmit
	sig, err := s.submit(ctx, move.Transaction, s.player, web3.SignFull, true)
	// 已广播但未确认的下注同样视为已提交。
	if sig != (solana.Signature{}) {
		s.committed = true
	}
	if err != nil {
		return s.fail(err)
	}
	next, err := s.take(move.NextLink())
	if err != nil {
		return s.fail(err)
	}

	s.round.Status = StatusAwaitingOutcome
	s.stage = StageAwaitOutcome
	result, err := s.remote.Follow(ctx, next, FollowRequest{Account: player, Signature: sig.String()})
	if err != nil {
		return s.fail(err)
	}
	if result.Title == "" {
		return s.fail(xerrors.New(xerrors.CodeProtocolViolation, "outcome response carries no title"))
	}
	// 远端只给出失败信号，非 "You lost" 开头即视为赢局。
	if strings.HasPrefix(result.Title, LossPrefix) {
		return s.finish(StatusLost, OutcomeLost, result.Title), nil
	}

	s.round.Status = StatusClaimPending
	return s.claim(ctx, result.FirstAction())
}

func (s *Session) claim(ctx context.Context, link Continuation) (*Outcome, error) {
	account := s.claimSigner.PublicKey().String()

	s.stage = StageClaimTransaction
	next, err := s.take(link)
	if err != nil {
		return s.claimFailed(err)
	}
	claim, err := s.remote.Follow(ctx, next, FollowRequest{Account: account})
	if err != nil {
		return s.claimFailed(err)
	}
	if strings.TrimSpace(claim.Transaction) == "" {
		return s.claimFailed(xerrors.New(xerrors.CodeProtocolViolation, "claim response carries no transaction"))
	}

	s.stage = StageSignClaim
	if _, err := s.submit(ctx, claim.Transaction, s.claimSigner, s.profile.ClaimMode, s.profile.AwaitClaim); err != nil {
		return s.claimFailed(err)
	}

	s.stage = StagePostClaim
	next, err = s.take(claim.NextLink())
	if err != nil {
		return s.claimFailed(err)
	}
	final, err := s.remote.Follow(ctx, next, FollowRequest{Account: account})
	if err != nil {
		return s.claimFailed(err)
	}
	return s.finish(StatusClaimed, OutcomeWon, messageClaimed+final.Title), nil
}

func (s *Session) submit(ctx context.Context, envelope string, signer web3.Signer, mode web3.SignMode, await bool) (solana.Signature, error) {
	sig, err := s.relay.SignAndSubmit(ctx, envelope, signer, mode, await)
	result := "ok"
	if err != nil {
		result = strings.ToLower(string(xerrors.CodeOf(err)))
	}
	metrics.ObserveRelay(mode.String(), result)
	return sig, err
}

// take 校验 continuation 存在且在本会话内未被使用过。以解析后的绝对地址判重，
// 同一资源换一种写法也算重复。
func (s *Session) take(link Continuation) (Continuation, error) {
	if link.IsZero() {
		return Continuation{}, xerrors.New(xerrors.CodeProtocolViolation, "missing continuation",
			xerrors.WithMetadata("stage", s.stage))
	}
	target, err := s.remote.Resolve(link)
	if err != nil {
		return Continuation{}, err
	}
	if _, seen := s.followed[target]; seen {
		return Continuation{}, xerrors.New(xerrors.CodeProtocolViolation, "continuation re-issued",
			xerrors.WithMetadata("stage", s.stage), xerrors.WithMetadata("href", link.href))
	}
	s.followed[target] = struct{}{}
	return link, nil
}

func (s *Session) fail(err error) (*Outcome, error) {
	return s.finish(StatusFailed, OutcomeFailed, MessageFailed), s.annotate(err)
}

func (s *Session) claimFailed(err error) (*Outcome, error) {
	return s.finish(StatusClaimFailed, OutcomeClaimFailed, MessageClaimFailed), s.annotate(err)
}

func (s *Session) annotate(err error) error {
	s.logger.Warn("回合失败",
		slog.String("stage", s.stage),
		slog.String("error_code", string(xerrors.CodeOf(err))),
		slog.Bool("committed", s.committed),
		slog.Any("error", err),
	)
	return err
}

func (s *Session) finish(status Status, kind OutcomeKind, message string) *Outcome {
	s.round.Status = status
	return &Outcome{Kind: kind, Message: message, RoundID: s.round.ID, Status: status}
}
