package llm

import "context"

// Role 标识消息的发送方。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 描述一条发送给大模型的对话消息。
type Message struct {
	Role    Role
	Content string
}

// Request 描述一次大模型调用的完整上下文。
type Request struct {
	Messages    []Message
	Temperature float32
	MaxTokens   int
	// JSONOnly 要求模型仅输出一个 JSON 对象（路由分类依赖该约束）。
	JSONOnly bool
}

// Response 是一次非流式调用的结果。
type Response struct {
	Content string
}

// Chunk 是流式调用中的一段增量文本。
type Chunk struct {
	Delta string
}

// Stream 按 token 粒度接收模型输出，结束时 Recv 返回 io.EOF。
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Stream(ctx context.Context, req Request) (Stream, error)
}

// Selector 按目录中的 APIModel 名解析出绑定到该模型的客户端，
// 供接口层把用户选择的 modelId 落到真实调用上。
type Selector interface {
	ForModel(apiModel string) Client
}
