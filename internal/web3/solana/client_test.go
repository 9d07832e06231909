package solana

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	xerrors "ArcadeAgent/internal/errors"
)

type fakeRPC struct {
	blockhash solanago.Hash
	sendErr   error
	sentOpts  rpc.TransactionOpts
	statuses  []*rpc.SignatureStatusesResult
	polls     atomic.Int32
}

func (f *fakeRPC) GetLatestBlockhash(context.Context, rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return &rpc.GetLatestBlockhashResult{Value: &rpc.LatestBlockhashResult{Blockhash: f.blockhash}}, nil
}

func (f *fakeRPC) SendTransactionWithOpts(_ context.Context, tx *solanago.Transaction, opts rpc.TransactionOpts) (solanago.Signature, error) {
	f.sentOpts = opts
	if f.sendErr != nil {
		return solanago.Signature{}, f.sendErr
	}
	return solanago.Signature{1, 2, 3}, nil
}

func (f *fakeRPC) GetSignatureStatuses(context.Context, bool, ...solanago.Signature) (*rpc.GetSignatureStatusesResult, error) {
	n := int(f.polls.Add(1)) - 1
	if n >= len(f.statuses) {
		n = len(f.statuses) - 1
	}
	return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{f.statuses[n]}}, nil
}

func TestSendTransactionSkipsPreflight(t *testing.T) {
	api := &fakeRPC{}
	client, err := newClient(Config{Name: "test"}, api)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if _, err := client.SendTransaction(context.Background(), &solanago.Transaction{}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !api.sentOpts.SkipPreflight {
		t.Fatalf("expected skip preflight to be set")
	}
	if api.sentOpts.PreflightCommitment != rpc.CommitmentConfirmed {
		t.Fatalf("unexpected preflight commitment %q", api.sentOpts.PreflightCommitment)
	}
}

func TestLatestBlockhash(t *testing.T) {
	want := solanago.Hash{9, 9, 9}
	client, _ := newClient(Config{}, &fakeRPC{blockhash: want})

	got, err := client.LatestBlockhash(context.Background())
	if err != nil {
		t.Fatalf("latest blockhash: %v", err)
	}
	if got != want {
		t.Fatalf("unexpected blockhash %s", got)
	}
}

func TestAwaitConfirmationPollsUntilConfirmed(t *testing.T) {
	api := &fakeRPC{statuses: []*rpc.SignatureStatusesResult{
		nil,
		{ConfirmationStatus: rpc.ConfirmationStatusProcessed},
		{ConfirmationStatus: rpc.ConfirmationStatusConfirmed},
	}}
	client, _ := newClient(Config{PollInterval: time.Millisecond}, api)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.AwaitConfirmation(ctx, solanago.Signature{1}); err != nil {
		t.Fatalf("await confirmation: %v", err)
	}
	if api.polls.Load() != 3 {
		t.Fatalf("expected 3 polls, got %d", api.polls.Load())
	}
}

func TestAwaitConfirmationOnChainError(t *testing.T) {
	api := &fakeRPC{statuses: []*rpc.SignatureStatusesResult{
		{Err: map[string]any{"InstructionError": []any{0, "Custom"}}},
	}}
	client, _ := newClient(Config{PollInterval: time.Millisecond}, api)

	err := client.AwaitConfirmation(context.Background(), solanago.Signature{1})
	if !xerrors.HasCode(err, xerrors.CodeSubmissionRejected) {
		t.Fatalf("expected submission rejected, got %v", err)
	}
}

func TestAwaitConfirmationTimeout(t *testing.T) {
	api := &fakeRPC{statuses: []*rpc.SignatureStatusesResult{
		{ConfirmationStatus: rpc.ConfirmationStatusProcessed},
	}}
	client, _ := newClient(Config{PollInterval: time.Millisecond}, api)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := client.AwaitConfirmation(ctx, solanago.Signature{1})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestFinalizedCommitmentIgnoresConfirmed(t *testing.T) {
	client, err := newClient(Config{Commitment: "finalized"}, &fakeRPC{})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.reached(rpc.ConfirmationStatusConfirmed) {
		t.Fatalf("confirmed should not satisfy finalized commitment")
	}
	if !client.reached(rpc.ConfirmationStatusFinalized) {
		t.Fatalf("finalized should satisfy finalized commitment")
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error when rpc url is missing")
	}
	if _, err := newClient(Config{Commitment: "processed"}, &fakeRPC{}); err == nil {
		t.Fatalf("expected error for unsupported commitment")
	}
}
