package agent

import (
	"sync"

	"ArcadeAgent/internal/llm"
)

// History 按用户保存最近的对话消息。
type History struct {
	mu    sync.Mutex
	depth int
	data  map[string][]llm.Message
}

// NewHistory 创建一个每个用户最多保留 depth 条消息的历史存储。
func NewHistory(depth int) *History {
	if depth <= 0 {
		depth = defaultMemoryDepth
	}
	return &History{depth: depth, data: make(map[string][]llm.Message)}
}

// Load 返回用户历史的副本。
func (h *History) Load(userID string) []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	src := h.data[userID]
	out := make([]llm.Message, len(src))
	copy(out, src)
	return out
}

// Append 追加消息并截断到上限。
func (h *History) Append(userID string, msgs ...llm.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := append(h.data[userID], msgs...)
	if over := len(list) - h.depth; over > 0 {
		list = append([]llm.Message(nil), list[over:]...)
	}
	h.data[userID] = list
}

// Reset 清空用户历史。
func (h *History) Reset(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.data, userID)
}
