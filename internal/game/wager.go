package game

import (
	"strings"

	"github.com/shopspring/decimal"

	xerrors "ArcadeAgent/internal/errors"
)

// DefaultAllowedWagers 是游戏服务接受的下注档位（SOL）。
var DefaultAllowedWagers = []decimal.Decimal{
	decimal.RequireFromString("0.1"),
	decimal.RequireFromString("0.01"),
	decimal.RequireFromString("0.005"),
}

// Rules 约束下注金额。Fixed 有效时忽略玩家输入，统一使用固定金额。
type Rules struct {
	Allowed []decimal.Decimal
	Fixed   decimal.NullDecimal
}

// NewRules 从配置中的字符串构造下注规则。
func NewRules(allowed []string, fixed string) (Rules, error) {
	rules := Rules{}
	for _, raw := range allowed {
		amount, err := ParseWager(raw)
		if err != nil {
			return Rules{}, err
		}
		rules.Allowed = append(rules.Allowed, amount)
	}
	if len(rules.Allowed) == 0 {
		rules.Allowed = append(rules.Allowed, DefaultAllowedWagers...)
	}
	if strings.TrimSpace(fixed) != "" {
		amount, err := ParseWager(fixed)
		if err != nil {
			return Rules{}, err
		}
		rules.Fixed = decimal.NewNullDecimal(amount)
	}
	return rules, nil
}

// ParseWager 解析正的十进制金额。
func ParseWager(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, xerrors.Wrap(xerrors.CodeInvalidMove, err, "invalid wager", xerrors.WithMetadata("wager", raw))
	}
	if !amount.IsPositive() {
		return decimal.Decimal{}, xerrors.New(xerrors.CodeInvalidMove, "wager must be positive", xerrors.WithMetadata("wager", raw))
	}
	return amount, nil
}

// Resolve 返回本局实际使用的下注金额。
func (r Rules) Resolve(amount decimal.Decimal) (decimal.Decimal, error) {
	if r.Fixed.Valid {
		return r.Fixed.Decimal, nil
	}
	allowed := r.Allowed
	if len(allowed) == 0 {
		allowed = DefaultAllowedWagers
	}
	for _, candidate := range allowed {
		if candidate.Equal(amount) {
			return candidate, nil
		}
	}
	return decimal.Decimal{}, xerrors.New(xerrors.CodeInvalidMove, "wager not allowed", xerrors.WithMetadata("wager", amount.String()))
}
