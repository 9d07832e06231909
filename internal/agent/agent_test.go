package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	xerrors "ArcadeAgent/internal/errors"
	"ArcadeAgent/internal/game"
	"ArcadeAgent/internal/llm"
	"ArcadeAgent/internal/web3"
)

type scriptedLLM struct {
	mu        sync.Mutex
	responses []*llm.Response
	err       error
	wait      time.Duration
	requests  []llm.Request
}

func (s *scriptedLLM) Chat(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.wait > 0 {
		select {
		case <-time.After(s.wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.responses) == 0 {
		return &llm.Response{Message: llm.Message{Role: llm.RoleAssistant, Content: "done"}}, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

type playCall struct {
	userID string
	choice string
	amount string
}

type stubGame struct {
	outcome *game.Outcome
	err     error
	calls   []playCall
}

func (s *stubGame) Play(ctx context.Context, userID string, _ web3.Signer, rawChoice string, amount decimal.Decimal) (*game.Outcome, error) {
	s.calls = append(s.calls, playCall{userID: userID, choice: rawChoice, amount: amount.String()})
	return s.outcome, s.err
}

func toolCall(args string) *llm.Response {
	return &llm.Response{Message: llm.Message{
		Role:      llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{{ID: "call_1", Name: ToolName, Arguments: args}},
	}}
}

var testPlayer = Player{UserID: "42", PublicKey: "PubKey111"}

func TestRespondToolCallPlaysRound(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Response{
		toolCall(`{"choice":"rock","amount":0.1}`),
		{Message: llm.Message{Role: llm.RoleAssistant, Content: "Better luck next time!"}},
	}}
	g := &stubGame{outcome: &game.Outcome{Kind: game.OutcomeLost, Message: "You lost 0.1 SOL"}}
	ag := New(model, g)

	replies, err := ag.Respond(context.Background(), testPlayer, "play rock for 0.1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(replies) != 2 {
		t.Fatalf("expected tool output and final reply, got %q", replies)
	}
	if replies[0] != ImageURL+"\nYou lost 0.1 SOL" {
		t.Fatalf("unexpected tool reply %q", replies[0])
	}
	if replies[1] != "Better luck next time!" {
		t.Fatalf("unexpected final reply %q", replies[1])
	}
	if len(g.calls) != 1 || g.calls[0].choice != "rock" || g.calls[0].amount != "0.1" || g.calls[0].userID != "42" {
		t.Fatalf("unexpected game calls %+v", g.calls)
	}

	second := model.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != llm.RoleTool || last.ToolCallID != "call_1" {
		t.Fatalf("tool result not fed back: %+v", last)
	}
	if !strings.Contains(model.requests[0].Messages[0].Content, "PubKey111") {
		t.Fatalf("system prompt should mention the wallet")
	}
	if len(model.requests[0].Tools) != 1 || model.requests[0].Tools[0].Name != ToolName {
		t.Fatalf("game tool not offered: %+v", model.requests[0].Tools)
	}
}

func TestRespondToolFailureBecomesToolOutput(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Response{toolCall(`{"choice":"lizard","amount":0.1}`)}}
	g := &stubGame{err: xerrors.New(xerrors.CodeInvalidMove, "")}
	ag := New(model, g)

	replies, err := ag.Respond(context.Background(), testPlayer, "lizard!")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if replies[0] != xerrors.UserMessageOf(g.err) {
		t.Fatalf("expected user message for invalid move, got %q", replies[0])
	}
}

func TestRespondFailedRoundStillReportsOutcome(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Response{toolCall(`{"choice":"paper","amount":0.01}`)}}
	g := &stubGame{
		outcome: &game.Outcome{Kind: game.OutcomeFailed, Message: game.MessageFailed},
		err:     xerrors.New(xerrors.CodeProtocolViolation, ""),
	}
	ag := New(model, g)

	replies, err := ag.Respond(context.Background(), testPlayer, "paper")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if replies[0] != ImageURL+"\n"+game.MessageFailed {
		t.Fatalf("unexpected reply %q", replies[0])
	}
}

func TestRespondCancelledTurnPropagates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	model := &scriptedLLM{responses: []*llm.Response{toolCall(`{"choice":"rock","amount":0.1}`)}}
	g := &stubGame{err: errors.New("rpc aborted")}
	cancel()
	ag := New(model, g)

	if _, err := ag.Respond(ctx, testPlayer, "rock"); err == nil {
		t.Fatalf("expected cancellation to surface")
	}
}

func TestRespondPlayCommandSkipsModel(t *testing.T) {
	model := &scriptedLLM{}
	g := &stubGame{outcome: &game.Outcome{Kind: game.OutcomeWon, Message: "Prize claimed successfully\nYou won"}}
	ag := New(model, g)

	replies, err := ag.Respond(context.Background(), testPlayer, "/play@arcade_bot Scissors 0.005")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(model.requests) != 0 {
		t.Fatalf("model should not be called for commands")
	}
	if len(replies) != 1 || !strings.HasSuffix(replies[0], "Prize claimed successfully\nYou won") {
		t.Fatalf("unexpected replies %q", replies)
	}
	if g.calls[0].choice != "Scissors" || g.calls[0].amount != "0.005" {
		t.Fatalf("unexpected call %+v", g.calls[0])
	}

	if _, err := ag.Respond(context.Background(), testPlayer, "/play rock"); !xerrors.HasCode(err, xerrors.CodeInvalidMove) {
		t.Fatalf("expected INVALID_MOVE, got %v", err)
	}
	if _, err := ag.Respond(context.Background(), testPlayer, "/play rock lots"); !xerrors.HasCode(err, xerrors.CodeInvalidMove) {
		t.Fatalf("expected INVALID_MOVE, got %v", err)
	}
}

func TestRespondWalletAndStart(t *testing.T) {
	ag := New(nil, nil)

	replies, err := ag.Respond(context.Background(), testPlayer, "/wallet")
	if err != nil || len(replies) != 1 || replies[0] != "PubKey111" {
		t.Fatalf("unexpected wallet reply %q, %v", replies, err)
	}
	replies, err = ag.Respond(context.Background(), testPlayer, "hello")
	if err != nil || !strings.Contains(replies[0], "PubKey111") {
		t.Fatalf("expected help text without a model, got %q, %v", replies, err)
	}
	if _, err := ag.Respond(context.Background(), testPlayer, "   "); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
}

func TestRespondLLMTimeout(t *testing.T) {
	model := &scriptedLLM{wait: 50 * time.Millisecond}
	ag := New(model, nil, WithLLMTimeout(10*time.Millisecond))

	_, err := ag.Respond(context.Background(), testPlayer, "hi")
	if !xerrors.HasCode(err, xerrors.CodeTimeout) {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline exceeded, got %v", err)
	}
}

func TestRespondKeepsHistoryPerUser(t *testing.T) {
	model := &scriptedLLM{}
	ag := New(model, nil, WithMemoryDepth(2))

	for _, text := range []string{"one", "two"} {
		if _, err := ag.Respond(context.Background(), testPlayer, text); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if _, err := ag.Respond(context.Background(), Player{UserID: "7"}, "other"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second := model.requests[1].Messages
	if len(second) != 4 || second[1].Content != "one" || second[2].Content != "done" {
		t.Fatalf("unexpected history: %+v", second)
	}
	if len(model.requests[2].Messages) != 2 {
		t.Fatalf("history leaked across users: %+v", model.requests[2].Messages)
	}
	if got := ag.history.Load(testPlayer.UserID); len(got) != 2 || got[0].Content != "two" {
		t.Fatalf("history not truncated: %+v", got)
	}

	if _, err := ag.Respond(context.Background(), testPlayer, "/reset"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ag.history.Load(testPlayer.UserID); len(got) != 0 {
		t.Fatalf("history not cleared: %+v", got)
	}
}
