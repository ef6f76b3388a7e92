// Package coordinator 负责执行路由决策：并发调度智能体并合成最终回答。
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"defiseek/internal/agent"
	xerrors "defiseek/internal/errors"
	"defiseek/internal/knowledge"
	"defiseek/internal/llm"
	"defiseek/internal/router"
	"defiseek/pkg/logger"
)

// Outcome 记录单个智能体的执行结果：成功产出或结构化失败。
type Outcome struct {
	AgentID    string
	Output     *agent.Output
	Err        error
	FinishedAt time.Time
}

// Succeeded 判断该结果是否为成功产出。
func (o *Outcome) Succeeded() bool {
	return o != nil && o.Err == nil && o.Output != nil
}

// Result 是一次协调的完整产物。
type Result struct {
	Answer      string
	Components  map[string]*agent.Component
	ExecutedIDs []string
	Outcomes    map[string]*Outcome
}

// StreamResult 与 Result 相同，但回答以流的形式给出。
type StreamResult struct {
	Answer      llm.Stream
	Components  map[string]*agent.Component
	ExecutedIDs []string
	Outcomes    map[string]*Outcome
}

// Coordinator 按路由决策并发调度智能体，再通过一次合成调用产出回答。
type Coordinator struct {
	registry  *agent.Registry
	client    llm.Client
	knowledge knowledge.Provider
}

// New 创建协调器。knowledge 可为 nil。
func New(registry *agent.Registry, client llm.Client, kp knowledge.Provider) *Coordinator {
	return &Coordinator{registry: registry, client: client, knowledge: kp}
}

// WithClient 返回一个改用指定合成客户端的协调器，共享注册表与知识库。
// 接口层用它把用户选择的模型落到合成调用上。
func (c *Coordinator) WithClient(client llm.Client) *Coordinator {
	if client == nil {
		return c
	}
	clone := *c
	clone.client = client
	return &clone
}

// Coordinate 执行决策并返回完整回答。
// 个别智能体失败不致命；只有合成调用失败才向上传播。
func (c *Coordinator) Coordinate(ctx context.Context, query string, decision *router.Decision) (*Result, error) {
	outcomes, components, executed := c.gather(ctx, query, decision)

	resp, err := c.client.Complete(ctx, llm.Request{
		Messages: c.synthesisMessages(query, outcomes, len(components) > 0),
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSynthesisFailure, err, "回答合成失败")
	}

	return &Result{
		Answer:      resp.Content,
		Components:  components,
		ExecutedIDs: executed,
		Outcomes:    outcomes,
	}, nil
}

// CoordinateStream 与 Coordinate 语义一致，但合成回答以 token 流返回。
// 合成调用必须等到所有智能体结果齐备后才发起。
func (c *Coordinator) CoordinateStream(ctx context.Context, query string, decision *router.Decision) (*StreamResult, error) {
	outcomes, components, executed := c.gather(ctx, query, decision)

	stream, err := c.client.Stream(ctx, llm.Request{
		Messages: c.synthesisMessages(query, outcomes, len(components) > 0),
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSynthesisFailure, err, "回答合成失败")
	}

	return &StreamResult{
		Answer:      stream,
		Components:  components,
		ExecutedIDs: executed,
		Outcomes:    outcomes,
	}, nil
}

// gather 并发执行决策要求的全部智能体并在汇合点收齐结果。
// 未注册的标识会以 AGENT_NOT_FOUND 结果记录，不影响其余智能体。
func (c *Coordinator) gather(ctx context.Context, query string, decision *router.Decision) (map[string]*Outcome, map[string]*agent.Component, []string) {
	required := dedupe(decision.RequiredAgents)

	outcomes := make(map[string]*Outcome, len(required))
	var mu sync.Mutex
	var wg sync.WaitGroup

	in := agent.Input{Query: query}
	for _, id := range required {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			out, err := c.registry.Execute(ctx, id, in)
			if err != nil {
				logger.L().Warn("智能体执行失败", "agent", id, "error", err)
			}
			mu.Lock()
			outcomes[id] = &Outcome{AgentID: id, Output: out, Err: err, FinishedAt: time.Now()}
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	components := make(map[string]*agent.Component)
	executed := make([]string, 0, len(required))
	for _, id := range required {
		executed = append(executed, id)
		if o := outcomes[id]; o.Succeeded() && o.Output.Component != nil {
			components[id] = o.Output.Component
		}
	}
	return outcomes, components, executed
}

const synthesisInstruction = `你是 DeFiSeek 的回答合成器。基于提供的分析结果，用自然语言回答用户的问题。规则：
1. 如果存在可视化组件，回答的第一句必须提示用户查看上方的可视化内容。
2. 绝不向用户透露内部工具名称、路由细节或原始 JSON。
3. 某项数据获取失败时如实说明暂时拿不到该数据，绝不编造数字。
4. 输出一段连贯的回答，直接解决用户的问题，并在涉及风险时给出明确建议。`

// synthesisMessages 组装合成调用的上下文：背景知识 + 逐项结果 + 原始问题。
func (c *Coordinator) synthesisMessages(query string, outcomes map[string]*Outcome, hasComponents bool) []llm.Message {
	var b strings.Builder
	if hasComponents {
		b.WriteString("本次回答附带可视化组件。\n")
	}

	if c.knowledge != nil {
		if snippets := c.knowledge.Query(query); len(snippets) > 0 {
			b.WriteString("背景知识：\n")
			for _, s := range snippets {
				fmt.Fprintf(&b, "- %s：%s\n", s.Title, s.Content)
			}
		}
	}

	ids := make([]string, 0, len(outcomes))
	for id := range outcomes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if len(ids) > 0 {
		b.WriteString("分析结果：\n")
	}
	for _, id := range ids {
		o := outcomes[id]
		if o.Succeeded() {
			payload, err := json.Marshal(o.Output.Payload)
			if err != nil {
				fmt.Fprintf(&b, "- %s：%s\n", id, o.Output.Summary)
				continue
			}
			fmt.Fprintf(&b, "- %s：%s 数据：%s\n", id, o.Output.Summary, payload)
		} else {
			fmt.Fprintf(&b, "- %s：数据获取失败（%s）\n", id, xerrors.CodeOf(o.Err))
		}
	}

	return []llm.Message{
		{Role: llm.RoleSystem, Content: synthesisInstruction},
		{Role: llm.RoleSystem, Content: b.String()},
		{Role: llm.RoleUser, Content: query},
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
