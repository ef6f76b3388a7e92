package unleash

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	xerrors "defiseek/internal/errors"
	"defiseek/pkg/logger"
)

// DefaultChainTTL 是已支持链列表的默认新鲜窗口。
const DefaultChainTTL = 5 * time.Minute

// ChainDescriptor 描述上游支持的一条区块链。
type ChainDescriptor struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// ChainCache 缓存上游支持的链列表。
// 过期后重新拉取；拉取失败时继续提供旧数据，一旦填充过就不会再变空。
type ChainCache struct {
	client *Client
	ttl    time.Duration

	mu        sync.Mutex
	chains    []ChainDescriptor
	fetchedAt time.Time
}

// NewChainCache 创建链列表缓存。ttl <= 0 时使用默认值。
func NewChainCache(client *Client, ttl time.Duration) *ChainCache {
	if ttl <= 0 {
		ttl = DefaultChainTTL
	}
	return &ChainCache{client: client, ttl: ttl}
}

// Supported 返回当前已支持的链列表。
// 缓存新鲜时直接返回；否则重新拉取，失败且存在旧数据时返回旧数据。
// 网络请求期间不持有锁，并发刷新以后写入者为准。
func (c *ChainCache) Supported(ctx context.Context) ([]ChainDescriptor, error) {
	c.mu.Lock()
	cached := c.chains
	fresh := len(cached) > 0 && time.Since(c.fetchedAt) < c.ttl
	c.mu.Unlock()

	if fresh {
		return cloneChains(cached), nil
	}

	fetched, err := c.fetch(ctx)
	if err != nil {
		if len(cached) > 0 {
			logger.L().Warn("刷新链列表失败，继续使用旧数据", "error", err)
			return cloneChains(cached), nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.chains = fetched
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	return cloneChains(fetched), nil
}

// Contains 判断指定 slug 的链是否受支持。
func (c *ChainCache) Contains(ctx context.Context, slug string) (bool, error) {
	chains, err := c.Supported(ctx)
	if err != nil {
		return false, err
	}
	for _, ch := range chains {
		if ch.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (c *ChainCache) fetch(ctx context.Context) ([]ChainDescriptor, error) {
	data, err := c.client.Get(ctx, "/blockchains", nil)
	if err != nil {
		return nil, err
	}

	chains := make([]ChainDescriptor, 0, len(data))
	for _, raw := range data {
		var ch ChainDescriptor
		if err := json.Unmarshal(raw, &ch); err != nil {
			continue
		}
		if ch.Name == "" && ch.Slug == "" {
			continue
		}
		chains = append(chains, ch)
	}
	if len(chains) == 0 {
		return nil, xerrors.New(xerrors.CodeAgentDataUnavailable, "上游链列表不可解析")
	}
	sort.Slice(chains, func(i, j int) bool { return chains[i].ID < chains[j].ID })
	return chains, nil
}

func cloneChains(chains []ChainDescriptor) []ChainDescriptor {
	out := make([]ChainDescriptor, len(chains))
	copy(out, chains)
	return out
}
