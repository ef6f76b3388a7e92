package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	xerrors "defiseek/internal/errors"
)

// Input 是一次智能体调用的输入。
type Input struct {
	// Query 是用户的原始提问，智能体自行从中提取地址等参数。
	Query string
	// Chain 是路由层推断出的链标识，为空时由智能体自行取默认值。
	Chain string
	// Params 携带路由层提取出的其他参数。
	Params map[string]string
}

// Component 描述随回答一起下发的前端可视化组件。
type Component struct {
	Type  string         `json:"type"`
	Props map[string]any `json:"props,omitempty"`
}

// Output 是智能体执行成功后的结构化产出。
type Output struct {
	// Payload 是结构化数据，必须满足注册时声明的输出契约。
	Payload any `json:"payload"`
	// Summary 是供合成层引用的一句话摘要。
	Summary string `json:"summary,omitempty"`
	// Component 可选，指定前端渲染组件。
	Component *Component `json:"component,omitempty"`
}

// Agent 定义智能体的统一接口。
// 实现必须只返回带错误码的失败，不得 panic。
type Agent interface {
	// ID 返回智能体的唯一标识。
	ID() string
	// Describe 返回供路由层参考的能力描述。
	Describe() string
	// Run 执行智能体并返回结构化产出。
	Run(ctx context.Context, in Input) (*Output, error)
}

// Contract 将 JSON Schema 解析为可校验的输出契约。
func Contract(schema *jsonschema.Schema) (*jsonschema.Resolved, error) {
	if schema == nil {
		return nil, nil
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("解析输出契约失败: %w", err)
	}
	return resolved, nil
}

// validatePayload 校验产出是否满足契约。违反契约视为实现缺陷。
func validatePayload(agentID string, contract *jsonschema.Resolved, payload any) error {
	if contract == nil {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeAgentOutputInvalid, err,
			fmt.Sprintf("智能体 %s 的产出无法序列化", agentID),
			xerrors.WithMetadata("agent", agentID))
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return xerrors.Wrap(xerrors.CodeAgentOutputInvalid, err,
			fmt.Sprintf("智能体 %s 的产出无法解析", agentID),
			xerrors.WithMetadata("agent", agentID))
	}
	if err := contract.Validate(instance); err != nil {
		return xerrors.Wrap(xerrors.CodeAgentOutputInvalid, err,
			fmt.Sprintf("智能体 %s 的产出违反输出契约", agentID),
			xerrors.WithMetadata("agent", agentID))
	}
	return nil
}
