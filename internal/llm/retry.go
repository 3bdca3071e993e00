package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/mudler/xlog"

	"github.com/ClearXs/Violet/internal/config"
)

// RetryingClient 在 ErrRateLimited 时按指数退避重试，其它错误直接返回。
type RetryingClient struct {
	base Client
	cfg  config.RetryConfig

	// sleep 可在测试中替换。
	sleep func(ctx context.Context, d time.Duration) error

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewRetryingClient(base Client, cfg config.RetryConfig) *RetryingClient {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &RetryingClient{
		base:  base,
		cfg:   cfg,
		sleep: sleepContext,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *RetryingClient) Complete(ctx context.Context, req Request) (*Response, error) {
	delay := c.cfg.InitialDelay
	for attempt := 0; ; attempt++ {
		resp, err := c.base.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrRateLimited) {
			return nil, err
		}
		if attempt >= c.cfg.MaxRetries {
			return nil, fmt.Errorf("%w: maximum number of retries (%d) exceeded: %v", ErrRetriesExhausted, c.cfg.MaxRetries, err)
		}

		xlog.Warn("rate limited, backing off", "attempt", attempt+1, "delay", delay)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
		delay = time.Duration(float64(delay) * c.cfg.Multiplier * (1 + c.cfg.Jitter*c.random()))
	}
}

func (c *RetryingClient) random() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rnd.Float64()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
