package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"

	"github.com/zhouzirui/chzzk-tts/internal/metrics"
)

const reconnectKey = "connect"

func newBreaker(opts Options, logger *slog.Logger) *gobreaker.CircuitBreaker {
	failures := opts.BreakerFailures
	if failures == 0 {
		failures = 1
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "chat-reconnect",
		MaxRequests: 1,
		Timeout:     opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			metrics.CircuitBreakerState.Set(breakerStateValue(to))
		},
	})
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// reconnect 替换第 failedGen 代连接。并发调用共享同一次尝试，代数已被替换的调用直接返回。
// 连接成功返回 nil，退出时返回 ctx 错误，达到次数上限返回 ErrReconnectExhausted。
func (c *Client) reconnect(ctx context.Context, failedGen uint64, tgt *target) error {
	if c.transport.generation() != failedGen {
		metrics.ReconnectAttempts.WithLabelValues("superseded").Inc()
		return nil
	}

	_, err, shared := c.group.Do(reconnectKey, func() (any, error) {
		if c.transport.generation() != failedGen {
			metrics.ReconnectAttempts.WithLabelValues("superseded").Inc()
			return nil, nil
		}
		return nil, c.retryConnect(ctx, tgt)
	})
	if shared {
		c.logger.Debug("joined in-flight reconnect")
	}
	return err
}

func (c *Client) retryConnect(ctx context.Context, tgt *target) error {
	metrics.SetConnected(false)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.ReconnectInitial
	b.MaxInterval = c.opts.ReconnectMax

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("reconnect failed, retrying",
				slog.Any("err", err),
				slog.Duration("backoff", next),
			)
		}),
	}
	if c.opts.MaxReconnectAttempts > 0 {
		opts = append(opts, backoff.WithMaxTries(c.opts.MaxReconnectAttempts))
	}
	// 未设置次数上限时只有退出才会结束重连
	opts = append(opts, backoff.WithMaxElapsedTime(time.Duration(math.MaxInt64)))

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		_, err := c.breaker.Execute(func() (any, error) {
			return nil, c.connect(ctx, tgt)
		})
		if err == nil {
			metrics.ReconnectAttempts.WithLabelValues("success").Inc()
			return struct{}{}, nil
		}
		if ctx.Err() != nil || !IsRetryableError(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		metrics.ReconnectAttempts.WithLabelValues("failure").Inc()
		return struct{}{}, err
	}, opts...)
	if err == nil {
		if attempt > 1 {
			c.logger.Info("reconnected", slog.Int("attempts", attempt))
		}
		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, ErrTransportClosed) {
		return err
	}
	metrics.ReconnectAttempts.WithLabelValues("exhausted").Inc()
	return fmt.Errorf("%w after %d attempts: %w", ErrReconnectExhausted, attempt, err)
}

// handleFailure 将循环中的失败交给 reconnect，只返回必须停止 Run 的错误
func (c *Client) handleFailure(ctx context.Context, failedGen uint64, tgt *target) error {
	err := c.reconnect(ctx, failedGen, tgt)
	if err == nil || ctx.Err() != nil || errors.Is(err, ErrTransportClosed) {
		return nil
	}
	return err
}
