package llm

import "context"

// Role 表示消息的发送方。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message 是一条对话消息。助手消息可以携带工具调用，工具消息通过 ToolCallID 关联调用。
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolCall 是模型发起的一次函数调用，Arguments 为 JSON 字符串。
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Tool 描述可供模型调用的函数，Parameters 为 JSON Schema。
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request 描述一次对话补全请求。
type Request struct {
	Messages    []Message
	Tools       []Tool
	Temperature float64
}

// Response 是模型返回的助手消息。
type Response struct {
	Message Message
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Chat(ctx context.Context, req Request) (*Response, error)
}
