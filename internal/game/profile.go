package game

import (
	"fmt"
	"strings"

	"ArcadeAgent/internal/web3"
)

// Profile 参数化同一套状态机的两种部署形态。
type Profile struct {
	Name string
	// Endpoint 是 /api/actions/ 之后的路径段。
	Endpoint string
	// ClaimMode 决定领奖交易的签名方式。
	ClaimMode web3.SignMode
	// AwaitClaim 为 true 时等待领奖交易确认。
	AwaitClaim bool
	// BackendClaim 为 true 时领奖由后端密钥签名，否则沿用玩家密钥。
	BackendClaim bool
}

var (
	// BotProfile 由玩家密钥对服务端预签的领奖交易追加签名，广播后不等待确认。
	BotProfile = Profile{Name: "bot", Endpoint: "bot", ClaimMode: web3.SignPartial}
	// BackendProfile 由后端密钥完整签名领奖交易并等待确认。
	BackendProfile = Profile{Name: "backend", Endpoint: "backend", ClaimMode: web3.SignFull, AwaitClaim: true, BackendClaim: true}
)

// ProfileByName 返回指定名称的配置档。
func ProfileByName(name string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", BotProfile.Name:
		return BotProfile, nil
	case BackendProfile.Name:
		return BackendProfile, nil
	default:
		return Profile{}, fmt.Errorf("未知的游戏配置档 %q", name)
	}
}
