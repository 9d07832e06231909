package solana

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	xerrors "ArcadeAgent/internal/errors"
	"ArcadeAgent/internal/web3"
)

const defaultPollInterval = 500 * time.Millisecond

// Config describes how to construct a Solana JSON-RPC client.
type Config struct {
	Name         string
	RPCURL       string
	Commitment   string
	PollInterval time.Duration
}

// rpcAPI mirrors the subset of *rpc.Client used by the relay.
type rpcAPI interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solanago.Transaction, opts rpc.TransactionOpts) (solanago.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solanago.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// Client implements web3.Network on top of a Solana RPC endpoint.
type Client struct {
	name         string
	api          rpcAPI
	commitment   rpc.CommitmentType
	pollInterval time.Duration
	mu           sync.Mutex
}

// NewClient returns a client for the configured endpoint. The RPC connection
// is lazy, so no network traffic happens here.
func NewClient(cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置 Solana RPC 地址")
	}
	return newClient(cfg, rpc.New(rpcURL))
}

func newClient(cfg Config, api rpcAPI) (*Client, error) {
	commitment, err := parseCommitment(cfg.Commitment)
	if err != nil {
		return nil, err
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Client{
		name:         cfg.Name,
		api:          api,
		commitment:   commitment,
		pollInterval: interval,
	}, nil
}

func parseCommitment(raw string) (rpc.CommitmentType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "confirmed":
		return rpc.CommitmentConfirmed, nil
	case "finalized":
		return rpc.CommitmentFinalized, nil
	default:
		return "", fmt.Errorf("不支持的 commitment: %s", raw)
	}
}

// Name returns the cluster name this client was registered under.
func (c *Client) Name() string {
	return c.name
}

// LatestBlockhash fetches a fresh recent blockhash at the client commitment.
func (c *Client) LatestBlockhash(ctx context.Context) (solanago.Hash, error) {
	out, err := c.api.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return solanago.Hash{}, fmt.Errorf("获取最新 blockhash 失败: %w", err)
	}
	if out == nil || out.Value == nil {
		return solanago.Hash{}, errors.New("节点返回的 blockhash 为空")
	}
	return out.Value.Blockhash, nil
}

// SendTransaction broadcasts the transaction with preflight checks disabled.
func (c *Client) SendTransaction(ctx context.Context, tx *solanago.Transaction) (solanago.Signature, error) {
	sig, err := c.api.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       true,
		PreflightCommitment: c.commitment,
	})
	if err != nil {
		return solanago.Signature{}, fmt.Errorf("发送交易失败: %w", err)
	}
	return sig, nil
}

// AwaitConfirmation polls the signature status until the transaction reaches
// the client commitment, fails on chain, or ctx expires.
func (c *Client) AwaitConfirmation(ctx context.Context, sig solanago.Signature) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		done, err := c.checkStatus(ctx, sig)
		if done || err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) checkStatus(ctx context.Context, sig solanago.Signature) (bool, error) {
	out, err := c.api.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		// 节点暂时不可用时继续轮询，直到超时。
		return false, nil
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return false, nil
	}
	status := out.Value[0]
	if status.Err != nil {
		return true, xerrors.New(xerrors.CodeSubmissionRejected, fmt.Sprintf("交易执行失败: %v", status.Err),
			xerrors.WithMetadata("signature", sig.String()))
	}
	return c.reached(status.ConfirmationStatus), nil
}

func (c *Client) reached(status rpc.ConfirmationStatusType) bool {
	switch status {
	case rpc.ConfirmationStatusFinalized:
		return true
	case rpc.ConfirmationStatusConfirmed:
		return c.commitment != rpc.CommitmentFinalized
	default:
		return false
	}
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if closer, ok := c.api.(io.Closer); ok {
		_ = closer.Close()
	}
}

var _ web3.Network = (*Client)(nil)
