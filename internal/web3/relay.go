package web3

import (
	"context"
	"encoding/base64"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	xerrors "ArcadeAgent/internal/errors"
	"ArcadeAgent/pkg/logger"
)

const defaultConfirmTimeout = 60 * time.Second

// Relay 负责把游戏服务下发的交易信封签名、广播并按需等待确认。
// 中继不持有任何可变状态，可被多个会话并发使用。
type Relay struct {
	network        Network
	confirmTimeout time.Duration
	logger         *slog.Logger
}

// RelayOption 定义可选配置。
type RelayOption func(*Relay)

// WithConfirmTimeout 设置等待交易确认的最长时间。
func WithConfirmTimeout(timeout time.Duration) RelayOption {
	return func(r *Relay) {
		if timeout > 0 {
			r.confirmTimeout = timeout
		}
	}
}

// WithRelayLogger 指定日志输出。
func WithRelayLogger(l *slog.Logger) RelayOption {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRelay 构造交易中继。
func NewRelay(network Network, opts ...RelayOption) *Relay {
	r := &Relay{
		network:        network,
		confirmTimeout: defaultConfirmTimeout,
		logger:         logger.Named("relay"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// DecodeEnvelope 将 base64 编码的交易信封解析为交易对象。
func DecodeEnvelope(envelope string) (*solana.Transaction, error) {
	envelope = strings.TrimSpace(envelope)
	if envelope == "" {
		return nil, xerrors.New(xerrors.CodeMalformedEnvelope, "交易信封为空")
	}
	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeMalformedEnvelope, err, "交易信封不是合法的 base64")
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeMalformedEnvelope, err, "解析交易信封失败")
	}
	return tx, nil
}

// SignAndSubmit 解码信封、签名并以 skip preflight 的方式提交交易。
// 交易内容来自游戏服务，属于显式信任边界，因此跳过节点的预执行检查。
// awaitConfirmation 为 false 时交易被节点接受即返回。过期的 blockhash 不会自动重试。
func (r *Relay) SignAndSubmit(ctx context.Context, envelope string, signer Signer, mode SignMode, awaitConfirmation bool) (solana.Signature, error) {
	if r == nil || r.network == nil {
		return solana.Signature{}, xerrors.New(xerrors.CodeInitializationFailure, "交易中继未初始化")
	}
	if signer == nil {
		return solana.Signature{}, xerrors.New(xerrors.CodeInvalidArgument, "未提供签名者")
	}

	tx, err := DecodeEnvelope(envelope)
	if err != nil {
		return solana.Signature{}, err
	}

	switch mode {
	case SignFull:
		blockhash, err := r.network.LatestBlockhash(ctx)
		if err != nil {
			return solana.Signature{}, xerrors.Wrap(xerrors.CodeSubmissionRejected, err, "获取 recent blockhash 失败")
		}
		tx.Message.RecentBlockhash = blockhash
		if err := signer.Sign(tx); err != nil {
			return solana.Signature{}, xerrors.Wrap(xerrors.CodeMalformedEnvelope, err, "交易需要本地无法提供的签名")
		}
	case SignPartial:
		if err := signer.PartialSign(tx); err != nil {
			return solana.Signature{}, xerrors.Wrap(xerrors.CodeMalformedEnvelope, err, "部分签名失败")
		}
	default:
		return solana.Signature{}, xerrors.New(xerrors.CodeInvalidArgument, "未知的签名方式")
	}

	sig, err := r.network.SendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, xerrors.Wrap(xerrors.CodeSubmissionRejected, err, "广播交易失败")
	}
	r.logger.Debug("交易已提交",
		slog.String("signature", sig.String()),
		slog.String("sign_mode", mode.String()),
		slog.Bool("await", awaitConfirmation),
	)
	if !awaitConfirmation {
		return sig, nil
	}

	confirmCtx, cancel := context.WithTimeout(ctx, r.confirmTimeout)
	defer cancel()
	if err := r.network.AwaitConfirmation(confirmCtx, sig); err != nil {
		return sig, r.confirmationError(ctx, sig, err)
	}
	return sig, nil
}

func (r *Relay) confirmationError(parent context.Context, sig solana.Signature, err error) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	meta := xerrors.WithMetadata("signature", sig.String())
	if parent.Err() != nil {
		return xerrors.Wrap(xerrors.CodeTimeout, err, "等待确认时回合已被取消", meta)
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeConfirmationTimeout, err, "交易确认超时", meta)
	}
	return xerrors.Wrap(xerrors.CodeSubmissionRejected, err, "查询交易状态失败", meta)
}
