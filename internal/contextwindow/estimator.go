// Package contextwindow 估算上下文 token 用量，并在超出预算时把较早的消息压缩为一条摘要。
package contextwindow

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/dgraph-io/ristretto"

	"github.com/ClearXs/Violet/internal/message"
)

// MessageOverhead 为每条消息固定计入的 token 数（角色、分隔符等）。
const MessageOverhead = 4

// family 描述一类模型的平均每 token 字节数。
type family struct {
	name          string
	prefixes      []string
	bytesPerToken float64
}

var families = []family{
	{name: "openai", prefixes: []string{"gpt-", "o1", "o3", "o4"}, bytesPerToken: 4},
	{name: "claude", prefixes: []string{"claude"}, bytesPerToken: 3.5},
	{name: "gemini", prefixes: []string{"gemini"}, bytesPerToken: 4},
	{name: "doubao", prefixes: []string{"doubao", "ep-"}, bytesPerToken: 3},
	{name: "deepseek", prefixes: []string{"deepseek"}, bytesPerToken: 3.5},
	{name: "qwen", prefixes: []string{"qwen"}, bytesPerToken: 3},
}

var defaultFamily = family{name: "default", bytesPerToken: 4}

func lookupFamily(model string) family {
	m := strings.ToLower(model)
	for _, f := range families {
		for _, p := range f.prefixes {
			if strings.HasPrefix(m, p) {
				return f
			}
		}
	}
	return defaultFamily
}

// Estimator 按模型族估算 token 数，结果对同一输入是确定的。
// 有 ID 的消息按内容指纹缓存计数。
type Estimator struct {
	cache *ristretto.Cache
}

func NewEstimator() (*Estimator, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1 << 16,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create token cache: %w", err)
	}
	return &Estimator{cache: cache}, nil
}

// Close 释放缓存的后台 goroutine。
func (e *Estimator) Close() {
	if e != nil && e.cache != nil {
		e.cache.Close()
	}
}

// Family 返回模型所属的族名。
func (e *Estimator) Family(model string) string {
	return lookupFamily(model).name
}

func (e *Estimator) CountText(model, text string) int {
	return bytesToTokens(len(text), lookupFamily(model))
}

func (e *Estimator) CountMessage(model string, m message.Message) int {
	f := lookupFamily(model)
	rendered := m.Render()
	size := len(rendered)
	for _, c := range m.ToolCalls {
		size += len(c.Function.Name) + len(c.Function.Arguments)
	}
	key := ""
	if m.ID != "" && e != nil && e.cache != nil {
		key = cacheKey(f.name, m, rendered)
		if v, ok := e.cache.Get(key); ok {
			if n, ok := v.(int); ok {
				return n
			}
		}
	}
	n := bytesToTokens(size, f) + MessageOverhead
	if key != "" {
		e.cache.Set(key, n, 1)
	}
	return n
}

// cacheKey 由模型族、消息 ID 与内容指纹组成，同一 ID 的内容变化后不会命中旧值。
func cacheKey(familyName string, m message.Message, rendered string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(rendered))
	for _, c := range m.ToolCalls {
		_, _ = h.Write([]byte(c.Function.Name))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(c.Function.Arguments))
	}
	return fmt.Sprintf("%s:%s:%x", familyName, m.ID, h.Sum64())
}

// EstimateTokens 返回消息序列的 token 估算值。
func (e *Estimator) EstimateTokens(model string, msgs []message.Message) int {
	total := 0
	for _, m := range msgs {
		total += e.CountMessage(model, m)
	}
	return total
}

// CountTools 按工具 schema 的 JSON 表示估算 token 数。
func (e *Estimator) CountTools(model string, tools []*schema.ToolInfo) int {
	f := lookupFamily(model)
	total := 0
	for _, t := range tools {
		if t == nil {
			continue
		}
		size := len(t.Name) + len(t.Desc)
		if t.ParamsOneOf != nil {
			if js, err := t.ParamsOneOf.ToJSONSchema(); err == nil && js != nil {
				if raw, err := json.Marshal(js); err == nil {
					size += len(raw)
				}
			}
		}
		total += bytesToTokens(size, f)
	}
	return total
}

func bytesToTokens(n int, f family) int {
	if n <= 0 {
		return 0
	}
	return int(math.Ceil(float64(n) / f.bytesPerToken))
}
