package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	xerrors "defiseek/internal/errors"
	"defiseek/pkg/logger"
)

// entry 保存智能体及其输出契约。
type entry struct {
	agent    Agent
	contract *jsonschema.Resolved
}

// Registry 管理智能体的注册与查找。
// 注册只发生在启动阶段，之后全部为只读访问。
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

// NewRegistry 创建空的智能体注册表。
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register 注册智能体。schema 可为 nil，表示不校验输出。
// 重复的 ID 视为装配错误。
func (r *Registry) Register(a Agent, schema *jsonschema.Schema) error {
	if a == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "智能体不能为空")
	}
	id := a.ID()
	if id == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "智能体 ID 不能为空")
	}

	contract, err := Contract(schema)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInitialization, err,
			fmt.Sprintf("智能体 %s 的输出契约不合法", id))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[id]; exists {
		return xerrors.New(xerrors.CodeInitialization,
			fmt.Sprintf("智能体 %s 重复注册", id))
	}
	r.entries[id] = &entry{agent: a, contract: contract}
	r.order = append(r.order, id)
	logger.L().Info("智能体注册成功", "agent", id)
	return nil
}

// Get 按 ID 返回智能体。
func (r *Registry) Get(id string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.agent, true
}

// All 按注册顺序返回所有智能体。
func (r *Registry) All() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agents := make([]Agent, 0, len(r.order))
	for _, id := range r.order {
		agents = append(agents, r.entries[id].agent)
	}
	return agents
}

// IDs 按注册顺序返回所有智能体 ID。
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// Execute 按 ID 执行智能体并校验产出契约。
// 未注册的 ID 返回 AGENT_NOT_FOUND。
func (r *Registry) Execute(ctx context.Context, id string, in Input) (*Output, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, xerrors.New(xerrors.CodeAgentNotFound,
			fmt.Sprintf("智能体 %s 未注册", id),
			xerrors.WithMetadata("agent", id))
	}

	out, err := e.agent.Run(ctx, in)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, xerrors.New(xerrors.CodeAgentOutputInvalid,
			fmt.Sprintf("智能体 %s 返回了空产出", id),
			xerrors.WithMetadata("agent", id))
	}
	if err := validatePayload(id, e.contract, out.Payload); err != nil {
		return nil, err
	}
	return out, nil
}
