package wallet

import (
	"context"
	"log/slog"
	"strings"
	"time"

	xerrors "ArcadeAgent/internal/errors"
	"ArcadeAgent/internal/web3"
	"ArcadeAgent/pkg/logger"
)

// Record 是一个用户的钱包记录。
type Record struct {
	UserID         string
	PublicKey      string
	PrivateKey     string
	InProgress     bool
	InGame         bool
	LeaseToken     string
	LeaseExpiresAt time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Signer 从记录中的私钥构造签名器。
func (r *Record) Signer() (*web3.KeypairSigner, error) {
	if r == nil {
		return nil, xerrors.New(xerrors.CodeWalletNotFound, "")
	}
	signer, err := web3.NewKeypairSigner(r.PrivateKey)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "stored private key is unusable",
			xerrors.WithMetadata("user_id", r.UserID))
	}
	return signer, nil
}

// Store 抽象钱包记录的持久化。
type Store interface {
	Get(ctx context.Context, userID string) (*Record, error)
	// Create 插入新记录，已存在时返回 CONFLICT。
	Create(ctx context.Context, record Record) error
	SetInGame(ctx context.Context, userID string, inGame bool) error
	Close() error
}

// ErrWalletNotFound 表示用户尚未创建钱包。
var ErrWalletNotFound = xerrors.New(xerrors.CodeWalletNotFound, "")

// ErrWalletConflict 表示钱包已被并发创建。
var ErrWalletConflict = xerrors.New(xerrors.CodeConflict, "wallet already exists")

// GetOrCreate 读取用户钱包，不存在时生成新的密钥对并落库。created 表示本次是否新建。
func GetOrCreate(ctx context.Context, store Store, userID string) (*Record, bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, false, xerrors.New(xerrors.CodeInvalidArgument, "user id is required")
	}
	record, err := store.Get(ctx, userID)
	if err == nil {
		return record, false, nil
	}
	if !xerrors.HasCode(err, xerrors.CodeWalletNotFound) {
		return nil, false, err
	}

	keypair, err := web3.GenerateKeypair()
	if err != nil {
		return nil, false, xerrors.Wrap(xerrors.CodeExecutorFailure, err, "generate wallet")
	}
	now := time.Now().UTC()
	fresh := Record{
		UserID:     userID,
		PublicKey:  keypair.PublicKey().String(),
		PrivateKey: keypair.PrivateKeyBase58(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := store.Create(ctx, fresh); err != nil {
		if xerrors.HasCode(err, xerrors.CodeConflict) {
			record, err := store.Get(ctx, userID)
			return record, false, err
		}
		return nil, false, err
	}
	logger.Audit().Info("wallet created", slog.String("user_id", userID), slog.String("public_key", fresh.PublicKey))
	return &fresh, true, nil
}
