package query

import (
	"context"
	"log/slog"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/x-research-team/dtx-subgraph/graphql"
)

// load выполняет операцию с повторами согласно параметрам o.
// Повторяются только ошибки транспорта и GraphQL: ошибка декодирования
// при повторе не изменится.
func load[R any](ctx context.Context, c *Cache, key Key, o Options, fetch graphql.Operation[R]) (any, error) {
	if o.Retry <= 0 {
		return fetch(ctx)
	}

	policy := newRetryPolicy[R](c, key, o)
	return failsafe.With[R](policy).
		WithContext(ctx).
		GetWithExecution(func(exec failsafe.Execution[R]) (R, error) {
			return fetch(exec.Context())
		})
}

func newRetryPolicy[R any](c *Cache, key Key, o Options) retrypolicy.RetryPolicy[R] {
	builder := retrypolicy.NewBuilder[R]().
		HandleIf(func(_ R, err error) bool {
			return err != nil && graphql.Retryable(err)
		}).
		WithMaxRetries(o.Retry).
		ReturnLastFailure().
		OnRetry(func(e failsafe.ExecutionEvent[R]) {
			c.stats.retries.Add(1)
			c.cfg.logger.Warn("повтор запроса",
				slog.String("key", key.String()),
				slog.Int("attempt", e.Attempts()),
				slog.Any("error", e.LastError()),
			)
		})

	switch {
	case o.RetryDelay > 0 && o.MaxRetryDelay > o.RetryDelay:
		builder = builder.WithBackoff(o.RetryDelay, o.MaxRetryDelay)
	case o.RetryDelay > 0:
		builder = builder.WithDelay(o.RetryDelay)
	}

	return builder.Build()
}
