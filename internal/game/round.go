package game

import (
	"strings"

	"github.com/shopspring/decimal"

	xerrors "ArcadeAgent/internal/errors"
)

// Choice 表示玩家的出拳。
type Choice string

const (
	Rock     Choice = "rock"
	Paper    Choice = "paper"
	Scissors Choice = "scissors"
)

// ParseChoice 校验并规范化出拳。
func ParseChoice(raw string) (Choice, error) {
	switch c := Choice(strings.ToLower(strings.TrimSpace(raw))); c {
	case Rock, Paper, Scissors:
		return c, nil
	default:
		return "", xerrors.New(xerrors.CodeInvalidMove, "unsupported choice", xerrors.WithMetadata("choice", raw))
	}
}

// Status 是一局游戏的状态。
type Status string

const (
	StatusInitiated         Status = "initiated"
	StatusAwaitingSignature Status = "awaiting_signature"
	StatusAwaitingOutcome   Status = "awaiting_outcome"
	StatusLost              Status = "lost"
	StatusClaimPending      Status = "claim_pending"
	StatusClaimed           Status = "claimed"
	StatusClaimFailed       Status = "claim_failed"
	StatusFailed            Status = "failed"
)

// Terminal 判断状态是否为终态。
func (s Status) Terminal() bool {
	switch s {
	case StatusLost, StatusClaimed, StatusClaimFailed, StatusFailed:
		return true
	default:
		return false
	}
}

// Round 记录单局游戏的进度，只在会话内存活。
type Round struct {
	ID     string
	Choice Choice
	Wager  decimal.Decimal
	Status Status
}

// OutcomeKind 是回合终态对外的分类。
type OutcomeKind string

const (
	OutcomeLost        OutcomeKind = "lost"
	OutcomeWon         OutcomeKind = "won"
	OutcomeFailed      OutcomeKind = "failed"
	OutcomeClaimFailed OutcomeKind = "claim_failed"
)

// 终态对用户展示的固定文案。
const (
	LossPrefix         = "You lost"
	MessageFailed      = "failed"
	MessageClaimFailed = "Failed to claim prize."
	messageClaimed     = "Prize claimed successfully\n"
)

// Outcome 是一局游戏的最终结果，Message 原样投递给聊天渠道。
type Outcome struct {
	Kind    OutcomeKind
	Message string
	RoundID string
	Status  Status
}
