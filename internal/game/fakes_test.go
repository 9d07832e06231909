package game

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"

	xerrors "ArcadeAgent/internal/errors"
	"ArcadeAgent/internal/observability/alerting"
	"ArcadeAgent/internal/web3"
)

type remoteCall struct {
	kind     string
	endpoint string
	href     string
	move     MoveRequest
	follow   FollowRequest
}

type fakeRemote struct {
	move    *ActionResponse
	moveErr error
	follow  map[string]*ActionResponse
	calls   []remoteCall
}

func (f *fakeRemote) RequestMove(_ context.Context, endpoint string, req MoveRequest) (*ActionResponse, error) {
	f.calls = append(f.calls, remoteCall{kind: "move", endpoint: endpoint, move: req})
	if f.moveErr != nil {
		return nil, f.moveErr
	}
	return f.move, nil
}

func (f *fakeRemote) Resolve(next Continuation) (string, error) {
	base, _ := url.Parse(DefaultBaseURL)
	target, err := resolveContinuation(base, next)
	if err != nil {
		return "", err
	}
	return target.String(), nil
}

func (f *fakeRemote) Follow(_ context.Context, next Continuation, req FollowRequest) (*ActionResponse, error) {
	f.calls = append(f.calls, remoteCall{kind: "follow", href: next.String(), follow: req})
	resp, ok := f.follow[next.String()]
	if !ok {
		return nil, xerrors.New(xerrors.CodeProtocolViolation, "unexpected continuation "+next.String())
	}
	return resp, nil
}

type relayCall struct {
	envelope string
	signer   solana.PublicKey
	mode     web3.SignMode
	await    bool
}

type fakeRelay struct {
	calls []relayCall
	errs  map[int]error
	// broadcast 标记出错时交易已被网络接受，返回签名与错误。
	broadcast map[int]bool
}

func (f *fakeRelay) SignAndSubmit(_ context.Context, envelope string, signer web3.Signer, mode web3.SignMode, await bool) (solana.Signature, error) {
	idx := len(f.calls)
	f.calls = append(f.calls, relayCall{envelope: envelope, signer: signer.PublicKey(), mode: mode, await: await})
	sig := solana.Signature{byte(idx + 1)}
	if err := f.errs[idx]; err != nil {
		if f.broadcast[idx] {
			return sig, err
		}
		return solana.Signature{}, err
	}
	return sig, nil
}

type recordingTracker struct {
	mu    sync.Mutex
	marks []bool
}

func (r *recordingTracker) SetInGame(_ context.Context, _ string, inGame bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.marks = append(r.marks, inGame)
	return nil
}

type recordingDispatcher struct {
	events []alerting.Event
}

func (r *recordingDispatcher) Notify(_ context.Context, event alerting.Event) error {
	r.events = append(r.events, event)
	return nil
}

func decodeResponse(t *testing.T, raw string) *ActionResponse {
	t.Helper()
	var resp ActionResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("decode fixture %s: %v", raw, err)
	}
	return &resp
}

func mustKeypair(t *testing.T) *web3.KeypairSigner {
	t.Helper()
	signer, err := web3.GenerateKeypair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	return signer
}

// winningRemote 返回一个按赢局路径编排好的远端。
func winningRemote(t *testing.T) *fakeRemote {
	t.Helper()
	return &fakeRemote{
		move: decodeResponse(t, `{"transaction":"bW92ZQ==","message":"sign to play","links":{"next":{"type":"post","href":"/api/actions/outcome?id=1"}}}`),
		follow: map[string]*ActionResponse{
			"/api/actions/outcome?id=1": decodeResponse(t, `{"title":"You won!","links":{"actions":[{"label":"Claim","href":"/api/actions/claim?id=1"}]}}`),
			"/api/actions/claim?id=1":   decodeResponse(t, `{"transaction":"Y2xhaW0=","links":{"next":{"href":"/api/actions/claimed?id=1"}}}`),
			"/api/actions/claimed?id=1": decodeResponse(t, `{"title":"Congrats"}`),
		},
	}
}
