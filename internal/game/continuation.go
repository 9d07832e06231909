package game

import (
	"encoding/json"
	"strings"
)

// Continuation 是服务端返回的不透明后续链接。
// 它只能通过解码服务端响应得到，客户端从不拼接或解析其内容。
type Continuation struct {
	href string
}

// UnmarshalJSON 从 {"href": "..."} 形式的链接对象中读取 href。
func (c *Continuation) UnmarshalJSON(data []byte) error {
	var raw struct {
		Href string `json:"href"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.href = strings.TrimSpace(raw.Href)
	return nil
}

// IsZero 判断链接是否缺失。
func (c Continuation) IsZero() bool {
	return c.href == ""
}

// String 返回链接原文，仅用于日志。
func (c Continuation) String() string {
	return c.href
}

// Links 是服务端响应中的链接集合。
type Links struct {
	Next    *Continuation  `json:"next"`
	Actions []Continuation `json:"actions"`
}

// ActionResponse 是游戏服务每一步的响应体。
type ActionResponse struct {
	Transaction string `json:"transaction"`
	Message     string `json:"message"`
	Title       string `json:"title"`
	Links       Links  `json:"links"`
}

// NextLink 返回 links.next，缺失时返回零值。
func (r *ActionResponse) NextLink() Continuation {
	if r == nil || r.Links.Next == nil {
		return Continuation{}
	}
	return *r.Links.Next
}

// FirstAction 返回 links.actions[0]，缺失时返回零值。
func (r *ActionResponse) FirstAction() Continuation {
	if r == nil || len(r.Links.Actions) == 0 {
		return Continuation{}
	}
	return r.Links.Actions[0]
}
