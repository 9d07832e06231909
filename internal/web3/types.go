package web3

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// SignMode 决定中继对交易信封采用的签名方式。
type SignMode int

const (
	// SignFull 刷新 recent blockhash 后由本地密钥完成全部签名。
	SignFull SignMode = iota
	// SignPartial 只追加本地签名，保留上游签名者已经写入的签名。
	SignPartial
)

// String 返回签名方式的可读名称，用于日志。
func (m SignMode) String() string {
	switch m {
	case SignFull:
		return "full"
	case SignPartial:
		return "partial"
	default:
		return "unknown"
	}
}

// Network 抽象了中继需要的链上能力，便于替换为测试桩。
type Network interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	AwaitConfirmation(ctx context.Context, sig solana.Signature) error
	Close()
}

// Signer 是对某个本地持有私钥的签名能力。
type Signer interface {
	PublicKey() solana.PublicKey
	Sign(tx *solana.Transaction) error
	PartialSign(tx *solana.Transaction) error
}
