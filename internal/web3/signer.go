package web3

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// KeypairSigner 使用内存中的 ed25519 私钥签名，密钥只在单次调用内读取。
type KeypairSigner struct {
	key solana.PrivateKey
	pub solana.PublicKey
}

// NewKeypairSigner 从 base58 编码的 64 字节私钥构造签名器。
func NewKeypairSigner(encoded string) (*KeypairSigner, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, errors.New("私钥不能为空")
	}
	key, err := solana.PrivateKeyFromBase58(encoded)
	if err != nil {
		return nil, fmt.Errorf("解析私钥失败: %w", err)
	}
	if len(key) != 64 {
		return nil, fmt.Errorf("私钥长度应为 64 字节，实际为 %d", len(key))
	}
	return &KeypairSigner{key: key, pub: key.PublicKey()}, nil
}

// GenerateKeypair 生成一个新的随机密钥对。
func GenerateKeypair() (*KeypairSigner, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("生成密钥对失败: %w", err)
	}
	return &KeypairSigner{key: key, pub: key.PublicKey()}, nil
}

// PublicKey 返回签名者公钥。
func (s *KeypairSigner) PublicKey() solana.PublicKey {
	return s.pub
}

// PrivateKeyBase58 返回 base58 编码的私钥，供钱包存储落盘。
func (s *KeypairSigner) PrivateKeyBase58() string {
	return s.key.String()
}

// Sign 对交易的全部必需签名位进行签名，缺少任何一个签名者的私钥都会失败。
func (s *KeypairSigner) Sign(tx *solana.Transaction) error {
	if tx == nil {
		return errors.New("交易为空")
	}
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.pub) {
			k := s.key
			return &k
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("签名交易失败: %w", err)
	}
	return nil
}

// PartialSign 只写入本签名者所在位置的签名，其余签名保持原样。
func (s *KeypairSigner) PartialSign(tx *solana.Transaction) error {
	if tx == nil {
		return errors.New("交易为空")
	}
	required := int(tx.Message.Header.NumRequiredSignatures)
	index := -1
	for i := 0; i < required && i < len(tx.Message.AccountKeys); i++ {
		if tx.Message.AccountKeys[i].Equals(s.pub) {
			index = i
			break
		}
	}
	if index < 0 {
		return fmt.Errorf("%s 不是该交易的签名者", s.pub)
	}

	content, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("序列化交易消息失败: %w", err)
	}
	sig, err := s.key.Sign(content)
	if err != nil {
		return fmt.Errorf("签名交易失败: %w", err)
	}

	if len(tx.Signatures) < required {
		padded := make([]solana.Signature, required)
		copy(padded, tx.Signatures)
		tx.Signatures = padded
	}
	tx.Signatures[index] = sig
	return nil
}
